// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionLine(t *testing.T) {
	line := versionLine()
	if !strings.HasPrefix(line, "rtemsg ") {
		t.Fatalf("invalid version line: %q", line)
	}
	if strings.TrimSpace(strings.TrimPrefix(line, "rtemsg ")) == "" {
		t.Fatalf("version line misses the version: %q", line)
	}
}

func TestCleanName(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{in: "out", want: "out"},
		{in: `"out dir"`, want: "out dir"},
		{in: "out/", want: "out"},
		{in: `out\`, want: "out"},
		{in: ` "c:\logs\" `, want: `c:\logs`},
		{in: "", want: ""},
	} {
		if got := cleanName(tc.in); got != tc.want {
			t.Errorf("cleanName(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseArgs(t *testing.T) {
	p, err := parseArgs([]string{
		"out/", `"fmt"`,
		"-N=12", "-c", "-back", "-purge", "-debug",
		"-stat=all", "-timestamps", "-newline",
		"-nr=06d", "-T=12.9f", "-time=ms", "-ts=-5;20",
		`-e="%F:%L %E\n"`,
		"-utf8", "-locale=C",
		"data.bin",
	})
	if err != nil {
		t.Fatalf("could not parse args: %+v", err)
	}

	if got, want := p.outDir, "out"; got != want {
		t.Errorf("got out-dir %q, want %q", got, want)
	}
	if got, want := p.fmtDir, "fmt"; got != want {
		t.Errorf("got fmt-dir %q, want %q", got, want)
	}
	if got, want := p.binFile, "data.bin"; got != want {
		t.Errorf("got bin-file %q, want %q", got, want)
	}
	if got, want := p.nbits, 12; got != want {
		t.Errorf("got nbits=%d, want=%d", got, want)
	}
	if !p.checkOnly || !p.backup || !p.purge || !p.debug {
		t.Errorf("flags not all set: %+v", p)
	}
	if !p.valueStats || !p.msgStats || !p.timestamps || !p.newline {
		t.Errorf("statistics flags not all set: %+v", p)
	}
	if got, want := p.msgNoFmt, "%06d"; got != want {
		t.Errorf("got msg-no format %q, want %q", got, want)
	}
	if got, want := p.timeFmt, "%12.9f"; got != want {
		t.Errorf("got time format %q, want %q", got, want)
	}
	if got, want := p.timeUnit, byte('m'); got != want {
		t.Errorf("got time unit %q, want %q", got, want)
	}
	if p.tsNeg != -5 || p.tsPos != 20 {
		t.Errorf("got ts limits %g;%g, want -5;20", p.tsNeg, p.tsPos)
	}
	if got, want := p.errTmpl, "%F:%L %E\n"; got != want {
		t.Errorf("got error template %q, want %q", got, want)
	}
}

func TestParseArgsErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
	}{
		{name: "empty", args: nil},
		{name: "folders-only", args: []string{"out", "fmt"}},
		{name: "missing-nbits", args: []string{"out", "fmt", "data.bin"}},
		{name: "missing-binfile", args: []string{"out", "fmt", "-N=12"}},
		{name: "binfile-twice", args: []string{"out", "fmt", "-N=12", "a.bin", "b.bin"}},
		{name: "nbits-low", args: []string{"out", "fmt", "-N=8", "a.bin"}},
		{name: "nbits-high", args: []string{"out", "fmt", "-N=17", "a.bin"}},
		{name: "nbits-garbage", args: []string{"out", "fmt", "-N=twelve", "a.bin"}},
		{name: "unknown-option", args: []string{"out", "fmt", "-N=12", "-zz", "a.bin"}},
		{name: "bad-time-unit", args: []string{"out", "fmt", "-N=12", "-time=h", "a.bin"}},
		{name: "ts-no-separator", args: []string{"out", "fmt", "-N=12", "-ts=5", "a.bin"}},
		{name: "ts-wrong-signs", args: []string{"out", "fmt", "-N=12", "-ts=5;20", "a.bin"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseArgs(tc.args); err == nil {
				t.Fatalf("args %q: expected an error", tc.args)
			}
		})
	}
}

func TestParseArgsCheckOnly(t *testing.T) {
	p, err := parseArgs([]string{"out", "fmt", "-N=12", "-c"})
	if err != nil {
		t.Fatalf("could not parse args: %+v", err)
	}
	if !p.checkOnly {
		t.Fatalf("check-only flag not set")
	}
	if p.binFile != "" {
		t.Fatalf("got bin-file %q, want none", p.binFile)
	}
}

func TestTimeUnits(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want byte
	}{
		{in: "s", want: 's'},
		{in: "m", want: 'm'},
		{in: "ms", want: 'm'},
		{in: "u", want: 'u'},
		{in: "us", want: 'u'},
	} {
		var p params
		if err := p.setTimeUnit(tc.in); err != nil {
			t.Errorf("unit %q: %+v", tc.in, err)
			continue
		}
		if got := p.timeUnit; got != tc.want {
			t.Errorf("unit %q: got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUnescape(t *testing.T) {
	if got, want := unescape(`a\nb\tc`), "a\nb\tc"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParameterFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtemsg.par")
	text := "out/\n" +
		`"fmt"` + "\n" +
		"\n" +
		"-N=12\n" +
		"-newline\n" +
		"data.bin\n"
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatalf("could not write %q: %+v", path, err)
	}

	p, err := parseArgs([]string{"@" + path})
	if err != nil {
		t.Fatalf("could not parse the parameter file: %+v", err)
	}
	if got, want := p.outDir, "out"; got != want {
		t.Errorf("got out-dir %q, want %q", got, want)
	}
	if got, want := p.fmtDir, "fmt"; got != want {
		t.Errorf("got fmt-dir %q, want %q", got, want)
	}
	if got, want := p.binFile, "data.bin"; got != want {
		t.Errorf("got bin-file %q, want %q", got, want)
	}
	if p.nbits != 12 || !p.newline {
		t.Errorf("options not applied: %+v", p)
	}
}

const testDefs = `
// FILTER(F_SYSTEM, "System messages")
// MSG0_BOOT "boot"
`

// writeTrace stores a small post-mortem trace with one BOOT message
// for 12 format-id bits and a 1 kHz timestamp counter.
func writeTrace(t *testing.T, path string) {
	t.Helper()
	const (
		cfg      = 3<<12 | 4<<16 | 6<<24
		bufWords = 8
	)
	words := []uint32{
		1,          // last index
		0xFFFFFFFF, // filter
		cfg,
		1000, // timestamp frequency
		0xFFFFFFFF,
		bufWords,
		4<<20 | 1, // BOOT at timestamp 0
	}
	var p []byte
	for _, w := range words {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], w)
		p = append(p, b[:]...)
	}
	for n := bufWords - 1; n > 0; n-- {
		p = append(p, 0xFF, 0xFF, 0xFF, 0xFF)
	}
	if err := os.WriteFile(path, p, 0644); err != nil {
		t.Fatalf("could not write %q: %+v", path, err)
	}
}

func TestRunDecode(t *testing.T) {
	outDir := t.TempDir()
	fmtDir := t.TempDir()

	fmtPath := filepath.Join(fmtDir, mainFmtFile)
	if err := os.WriteFile(fmtPath, []byte(testDefs), 0644); err != nil {
		t.Fatalf("could not write %q: %+v", fmtPath, err)
	}
	binPath := filepath.Join(outDir, "data.bin")
	writeTrace(t, binPath)

	p, err := parseArgs([]string{outDir, fmtDir, "-N=12", binPath})
	if err != nil {
		t.Fatalf("could not parse args: %+v", err)
	}
	if code := run(p); code != exitOK {
		t.Fatalf("got exit code %d, want %d", code, exitOK)
	}

	main := readOutput(t, filepath.Join(outDir, "Main.log"))
	if want := "N00001 0.000000 BOOT: boot"; !strings.Contains(main, want) {
		t.Errorf("main log misses %q:\n%s", want, main)
	}
	errs := readOutput(t, filepath.Join(outDir, "Errors.log"))
	if errs != "" {
		t.Errorf("unexpected decoding errors:\n%s", errs)
	}
	stat := readOutput(t, filepath.Join(outDir, "Stat_main.log"))
	if want := "1 messages decoded"; !strings.Contains(stat, want) {
		t.Errorf("main statistics miss %q:\n%s", want, stat)
	}
}

func TestRunCheckOnly(t *testing.T) {
	outDir := t.TempDir()
	fmtDir := t.TempDir()

	fmtPath := filepath.Join(fmtDir, mainFmtFile)
	if err := os.WriteFile(fmtPath, []byte(testDefs), 0644); err != nil {
		t.Fatalf("could not write %q: %+v", fmtPath, err)
	}

	p, err := parseArgs([]string{outDir, fmtDir, "-N=12", "-c"})
	if err != nil {
		t.Fatalf("could not parse args: %+v", err)
	}
	if code := run(p); code != exitOK {
		t.Fatalf("got exit code %d, want %d", code, exitOK)
	}

	compiled := readOutput(t, fmtPath)
	if want := "#define MSG0_BOOT 4U"; !strings.Contains(compiled, want) {
		t.Errorf("compiled header misses %q:\n%s", want, compiled)
	}
	if _, err := os.Stat(filepath.Join(outDir, "Main.log")); !os.IsNotExist(err) {
		t.Errorf("check-only run should not decode: %+v", err)
	}
}

func readOutput(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("could not read %q: %+v", path, err)
	}
	return string(b)
}
