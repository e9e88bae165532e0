// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rtedbg/rtemsg/format"
)

// compileDefs builds the decoding plans for a small format definition,
// with 12 format-id bits.
func compileDefs(t *testing.T, text string) *format.Compiler {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rte_main_fmt.h")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatalf("could not write %q: %+v", path, err)
	}

	c, err := format.NewCompiler(12,
		format.WithLogger(log.New(io.Discard, "", 0)),
		format.WithErrWriter(io.Discard),
		format.WithOutputDir(dir),
	)
	if err != nil {
		t.Fatalf("could not create compiler: %+v", err)
	}
	if err := c.CompileFile(path); err != nil {
		t.Fatalf("could not compile: %+v", err)
	}
	if c.NErrs != 0 {
		t.Fatalf("got %d parse errors, want 0", c.NErrs)
	}
	return c
}

// fmtWord packs a FMT word for a 12-bit format id. tsl is the
// normalized low timestamp, its bottom 13 bits are dropped.
func fmtWord(fid, tsl uint32) uint32 {
	return fid<<20 | tsl>>12&^1 | 1
}

// dataWord puts v on the wire as one DATA word. Bit 31 of v must be
// clear; it would travel in the low format-id bits.
func dataWord(v uint32) uint32 {
	return v << 1
}

// buildTrace serializes a post-mortem trace: the fixed header followed
// by the message words, padded with never-written words to bufWords.
func buildTrace(words []uint32, bufWords, freq uint32) []byte {
	cfg := headerCfg(1, 12, 4, 6, 0)
	p := rawHeader(uint32(len(words)), 0xFFFFFFFF, cfg, freq, bufWords)
	for _, w := range words {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], w)
		p = append(p, b[:]...)
	}
	for n := bufWords - uint32(len(words)); n > 0; n-- {
		p = append(p, 0xFF, 0xFF, 0xFF, 0xFF)
	}
	return p
}

const testDefs = `
// FILTER(F_SYSTEM, "System messages")
// MSG0_BOOT "boot %[N]N"
// MSG1_SPEED "speed=%[0:32u]u"
`

func TestDecodeRun(t *testing.T) {
	c := compileDefs(t, testDefs)

	trace := buildTrace([]uint32{
		fmtWord(4, 0),             // BOOT
		dataWord(42), fmtWord(6, 0x2000), // SPEED
	}, 8, 1000)

	var main, errw bytes.Buffer
	d, err := New(bytes.NewReader(trace), int64(len(trace)), c.Plans, c.Enums,
		WithMainLog(&main), WithErrorLog(&errw))
	if err != nil {
		t.Fatalf("could not create decoder: %+v", err)
	}

	if got, want := d.Header().FIDBits, uint32(12); got != want {
		t.Fatalf("got fid-bits=%d, want=%d", got, want)
	}
	if got, want := d.Header().Mode, ModePostMortem; got != want {
		t.Fatalf("got mode=%v, want=%v", got, want)
	}

	if err := d.Run(); err != nil {
		t.Fatalf("could not decode: %+v", err)
	}

	want := "\nN00001 0.000000 BOOT: boot N00001" +
		"\nN00002 0.002000 SPEED: speed=42" +
		"\nno errors detected"
	if got := main.String(); got != want {
		t.Fatalf("got main log:\n%q\nwant:\n%q", got, want)
	}
	if got, want := d.NMessages(), uint32(2); got != want {
		t.Fatalf("got %d messages, want %d", got, want)
	}
	if got := d.NErrors(); got != 0 {
		t.Fatalf("got %d errors, want 0:\n%s", got, errw.String())
	}
}

func TestDecodeBlankLines(t *testing.T) {
	c := compileDefs(t, testDefs)
	trace := buildTrace([]uint32{fmtWord(4, 0)}, 8, 1000)

	var main bytes.Buffer
	d, err := New(bytes.NewReader(trace), int64(len(trace)), c.Plans, c.Enums,
		WithMainLog(&main), WithErrorLog(io.Discard), WithBlankLines())
	if err != nil {
		t.Fatalf("could not create decoder: %+v", err)
	}
	if err := d.Run(); err != nil {
		t.Fatalf("could not decode: %+v", err)
	}

	want := "\n\nN00001 0.000000 BOOT: boot N00001" +
		"\nno errors detected"
	if got := main.String(); got != want {
		t.Fatalf("got main log:\n%q\nwant:\n%q", got, want)
	}
}

func TestDecodeLongTimestamp(t *testing.T) {
	c := compileDefs(t, testDefs)

	// The high 32 counter bits travel in the DATA word of a system
	// message with format id 0.
	trace := buildTrace([]uint32{
		dataWord(1), fmtWord(format.FIDLongTimestamp, 0),
		dataWord(42), fmtWord(6, 0x2000),
	}, 8, 1000)

	var main bytes.Buffer
	d, err := New(bytes.NewReader(trace), int64(len(trace)), c.Plans, c.Enums,
		WithMainLog(&main), WithErrorLog(io.Discard))
	if err != nil {
		t.Fatalf("could not create decoder: %+v", err)
	}
	if err := d.Run(); err != nil {
		t.Fatalf("could not decode: %+v", err)
	}

	// With a 1 kHz counter and shift 1 the high word is worth
	// 2^20/1000 seconds.
	want := "\nN00001 1048.576000 SYS_LONG_TIMESTAMP: high timestamp bits 0x00000001" +
		"\nN00002 1048.578000 SPEED: speed=42" +
		"\nno errors detected"
	if got := main.String(); got != want {
		t.Fatalf("got main log:\n%q\nwant:\n%q", got, want)
	}
	if got := d.NErrors(); got != 0 {
		t.Fatalf("got %d errors, want 0", got)
	}
}

func TestDecodeTimestampLog(t *testing.T) {
	c := compileDefs(t, testDefs)
	trace := buildTrace([]uint32{
		fmtWord(4, 0),
		dataWord(42), fmtWord(6, 0x2000),
	}, 8, 1000)

	var tsw bytes.Buffer
	d, err := New(bytes.NewReader(trace), int64(len(trace)), c.Plans, c.Enums,
		WithMainLog(io.Discard), WithErrorLog(io.Discard), WithTimestampLog(&tsw))
	if err != nil {
		t.Fatalf("could not create decoder: %+v", err)
	}
	if err := d.Run(); err != nil {
		t.Fatalf("could not decode: %+v", err)
	}

	want := "message;time;difference [s]\nN00002;0.002000;0.002\n"
	if got := tsw.String(); got != want {
		t.Fatalf("got timestamp log:\n%q\nwant:\n%q", got, want)
	}
}

func TestDecodeHostDateTime(t *testing.T) {
	c := compileDefs(t, testDefs)

	// A host inserted date-and-time message at the topmost format id:
	// the low 32 of the packed 43 date bits travel in the DATA word,
	// the top 11 in the timestamp bits.
	const low = 2<<27 | 3<<22 | 4<<16 | 5<<10 | 6 // 02 03:04:05.006
	const high = 1 << 4                           // year 2024, month 1
	topmost := c.Plans.Topmost()

	trace := buildTrace([]uint32{
		dataWord(low), fmtWord(topmost, high<<13),
	}, 8, 1000)

	var main bytes.Buffer
	d, err := New(bytes.NewReader(trace), int64(len(trace)), c.Plans, c.Enums,
		WithMainLog(&main), WithErrorLog(io.Discard))
	if err != nil {
		t.Fatalf("could not create decoder: %+v", err)
	}
	if err := d.Run(); err != nil {
		t.Fatalf("could not decode: %+v", err)
	}

	want := "\ndata sampled at 2024-01-02 03:04:05.006" +
		"\nno errors detected"
	if got := main.String(); got != want {
		t.Fatalf("got main log:\n%q\nwant:\n%q", got, want)
	}
	if got, want := d.NMessages(), uint32(0); got != want {
		t.Fatalf("got %d messages, want %d", got, want)
	}
}

func TestDecodeIndexedText(t *testing.T) {
	c := compileDefs(t, `
// FILTER(F_SYSTEM, "System messages")
// MSG1_STATE "state=%[0:32u]{ok|warn|err}Y"
`)

	trace := buildTrace([]uint32{
		dataWord(1), fmtWord(4, 0),
		dataWord(5), fmtWord(4, 0x2000), // out of range, clamps to the last option
	}, 8, 1000)

	var main bytes.Buffer
	d, err := New(bytes.NewReader(trace), int64(len(trace)), c.Plans, c.Enums,
		WithMainLog(&main), WithErrorLog(io.Discard))
	if err != nil {
		t.Fatalf("could not create decoder: %+v", err)
	}
	if err := d.Run(); err != nil {
		t.Fatalf("could not decode: %+v", err)
	}

	want := "\nN00001 0.000000 STATE: state=warn" +
		"\nN00002 0.002000 STATE: state=err" +
		"\nno errors detected"
	if got := main.String(); got != want {
		t.Fatalf("got main log:\n%q\nwant:\n%q", got, want)
	}
}

func TestDecodeMsgX(t *testing.T) {
	c := compileDefs(t, `
// FILTER(F_SYSTEM, "System messages")
// MSGX_LOG "msg=%s"
`)

	// "hello" plus the byte count in the top byte of the last word.
	trace := buildTrace([]uint32{
		dataWord(0x6C6C6568), dataWord(0x0500006F), fmtWord(16, 0),
	}, 8, 1000)

	var main, errw bytes.Buffer
	d, err := New(bytes.NewReader(trace), int64(len(trace)), c.Plans, c.Enums,
		WithMainLog(&main), WithErrorLog(&errw))
	if err != nil {
		t.Fatalf("could not create decoder: %+v", err)
	}
	if err := d.Run(); err != nil {
		t.Fatalf("could not decode: %+v", err)
	}

	want := "\nN00001 0.000000 LOG: msg=hello" +
		"\nno errors detected"
	if got := main.String(); got != want {
		t.Fatalf("got main log:\n%q\nwant:\n%q", got, want)
	}
	if got := d.NErrors(); got != 0 {
		t.Fatalf("got %d errors, want 0:\n%s", got, errw.String())
	}
}

func TestDecodeUndefinedID(t *testing.T) {
	c := compileDefs(t, testDefs)
	trace := buildTrace([]uint32{fmtWord(100, 0)}, 8, 1000)

	var main, errw bytes.Buffer
	d, err := New(bytes.NewReader(trace), int64(len(trace)), c.Plans, c.Enums,
		WithMainLog(&main), WithErrorLog(&errw))
	if err != nil {
		t.Fatalf("could not create decoder: %+v", err)
	}
	if err := d.Run(); err != nil {
		t.Fatalf("could not decode: %+v", err)
	}

	if got := d.NErrors(); got == 0 {
		t.Fatalf("expected decoding errors for an undefined format id")
	}
	if !strings.Contains(errw.String(), "ERR_") {
		t.Fatalf("error log misses the error code:\n%s", errw.String())
	}
	if !strings.Contains(errw.String(), "error summary:") ||
		!strings.Contains(errw.String(), "1 ERR_203") {
		t.Fatalf("error log misses the per-code summary:\n%s", errw.String())
	}
	if want := fmt.Sprintf("\n%d total errors", d.NErrors()); !strings.Contains(main.String(), want) {
		t.Fatalf("main log misses %q:\n%s", want, main.String())
	}
}

func TestNewFIDBitsMismatch(t *testing.T) {
	c := compileDefs(t, testDefs)

	cfg := headerCfg(1, 9, 4, 6, 0)
	trace := rawHeader(0, 0, cfg, 1000, 8)
	_, err := New(bytes.NewReader(trace), int64(len(trace)), c.Plans, c.Enums,
		WithMainLog(io.Discard), WithErrorLog(io.Discard))
	if err == nil {
		t.Fatalf("expected an error: format id bits mismatch")
	}
}

func TestNewTimestampLimits(t *testing.T) {
	c := compileDefs(t, testDefs)
	trace := buildTrace(nil, 8, 1000)

	if _, err := New(bytes.NewReader(trace), int64(len(trace)), c.Plans, c.Enums,
		WithMainLog(io.Discard), WithErrorLog(io.Discard),
		WithTimestampLimits(-10, 100)); err != nil {
		t.Fatalf("could not create decoder: %+v", err)
	}

	if _, err := New(bytes.NewReader(trace), int64(len(trace)), c.Plans, c.Enums,
		WithMainLog(io.Discard), WithErrorLog(io.Discard),
		WithTimestampLimits(10, 100)); err == nil {
		t.Fatalf("expected an error: positive lower limit")
	}
}
