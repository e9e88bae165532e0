// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rtemsg compiles a set of format definition files and decodes
// a binary trace recorded by an RTEdbg instrumented target.
//
// Usage:
//
//	rtemsg <output_folder> <fmt_folder> [options...] <binary_file>
//	rtemsg @<parameter_file>
//
// The parameter file carries the output folder on the first line, the
// format folder on the second and one option or the binary file name
// per following non-empty line.
package main // import "github.com/rtedbg/rtemsg/cmd/rtemsg"

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/rtedbg/rtemsg"
	"github.com/rtedbg/rtemsg/decode"
	"github.com/rtedbg/rtemsg/format"
	"github.com/rtedbg/rtemsg/internal/mmap"
)

// mainFmtFile is the entry point of the format definition tree inside
// the format folder.
const mainFmtFile = "rte_main_fmt.h"

// Exit codes. The parse and decode codes match what host side scripts
// of the instrumentation library expect.
const (
	exitOK           = 0
	exitParseErrors  = 1 // format definition errors
	exitFatalDecode  = 2 // decoding aborted
	exitDecodeErrors = 3 // decoding finished with problems
	exitBadParams    = 10
)

func main() {
	log.SetPrefix("rtemsg: ")
	log.SetFlags(0)

	if len(os.Args) == 2 && os.Args[1] == "-version" {
		fmt.Println(versionLine())
		os.Exit(exitOK)
	}

	p, err := parseArgs(os.Args[1:])
	if err != nil {
		usage()
		log.Printf("%+v", err)
		os.Exit(exitBadParams)
	}

	os.Exit(run(p))
}

// versionLine builds the text printed for the -version option.
func versionLine() string {
	v, sum := rtemsg.Version()
	if v == "" {
		v = "(devel)"
	}
	s := "rtemsg " + v
	if sum != "" {
		s += " " + sum
	}
	return s
}

func usage() {
	fmt.Printf(`Usage: rtemsg <output_folder> <fmt_folder> [options...] <binary_file>
       rtemsg @<parameter_file>
       rtemsg -version

options:
  -N=K          number of format id bits (9..16, mandatory)
  -c            check syntax and compile headers, skip decoding
  -back         keep a .bak copy of rewritten format files
  -purge        omit #define lines from generated headers
  -debug        extra diagnostics and a Format.csv dump
  -stat=KIND    statistics generation: all, msg or value
  -timestamps   write Timestamps.csv
  -newline      separate decoded messages with an empty line
  -nr=FMT       message number template (%% prefix added)
  -T=FMT        timestamp template (%% prefix added)
  -time=UNIT    time unit: s, m, ms, u or us
  -ts=NEG;POS   allowed timestamp differences in ms
  -e=FMT        error report template (%%L %%E %%F %%P %%D %%A)
  -utf8         UTF-8 codepage for console output
  -locale=NAME  locale for message printing
`)
}

// params collects the effect of the command line on one run.
type params struct {
	outDir  string
	fmtDir  string
	binFile string

	nbits int

	checkOnly bool
	backup    bool
	purge     bool
	debug     bool

	valueStats bool
	msgStats   bool

	timestamps bool
	newline    bool

	msgNoFmt string
	timeFmt  string
	timeUnit byte

	tsNeg float64
	tsPos float64

	errTmpl string
}

// cleanName strips surrounding quotes and trailing path separators
// from a folder or file name token.
func cleanName(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimRight(s, `/\`)
}

func parseArgs(args []string) (*params, error) {
	p := &params{timeUnit: 's'}

	switch {
	case len(args) == 1 && strings.HasPrefix(args[0], "@"):
		if err := p.fromParameterFile(args[0][1:]); err != nil {
			return nil, err
		}

	case len(args) >= 3:
		p.outDir = cleanName(args[0])
		p.fmtDir = cleanName(args[1])
		for _, tok := range args[2:] {
			if err := p.option(tok); err != nil {
				return nil, err
			}
		}

	default:
		return nil, xerrors.New("not enough command line parameters")
	}

	if p.outDir == "" {
		return nil, xerrors.New("missing output folder")
	}
	if p.fmtDir == "" {
		return nil, xerrors.New("missing format folder")
	}
	if p.nbits == 0 {
		return nil, xerrors.New("the -N=number_of_format_id_bits parameter is mandatory")
	}
	if p.binFile == "" && !p.checkOnly {
		return nil, xerrors.New("missing binary data file")
	}
	return p, nil
}

// fromParameterFile reads the folders and options from the file named
// after the '@' on the command line.
func (p *params) fromParameterFile(fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return xerrors.Errorf("could not open parameter file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for n := 0; sc.Scan(); {
		line := strings.TrimSpace(sc.Text())
		switch {
		case n == 0:
			p.outDir = cleanName(line)
			n++
		case n == 1:
			p.fmtDir = cleanName(line)
			n++
		case line != "":
			if err := p.option(cleanName(line)); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return xerrors.Errorf("could not read parameter file %q: %w", fname, err)
	}
	return nil
}

// option applies one command line token. A token without the leading
// dash names the binary data file.
func (p *params) option(tok string) error {
	if !strings.HasPrefix(tok, "-") {
		if p.binFile != "" {
			return xerrors.Errorf("unknown parameter or data file defined twice: %q", tok)
		}
		p.binFile = cleanName(tok)
		return nil
	}

	switch {
	case tok == "-c":
		p.checkOnly = true
	case tok == "-back":
		p.backup = true
	case tok == "-purge":
		p.purge = true
	case tok == "-debug":
		p.debug = true
	case tok == "-timestamps":
		p.timestamps = true
	case tok == "-newline":
		p.newline = true
	case tok == "-utf8":
		// Console output is UTF-8 already.
	case tok == "-stat=all":
		p.valueStats = true
		p.msgStats = true
	case tok == "-stat=msg":
		p.msgStats = true
	case tok == "-stat=value":
		p.valueStats = true
	case strings.HasPrefix(tok, "-nr="):
		p.msgNoFmt = "%" + tok[len("-nr="):]
	case strings.HasPrefix(tok, "-T="):
		p.timeFmt = "%" + tok[len("-T="):]
	case strings.HasPrefix(tok, "-time="):
		return p.setTimeUnit(tok[len("-time="):])
	case strings.HasPrefix(tok, "-ts="):
		return p.setTimestampLimits(tok[len("-ts="):])
	case strings.HasPrefix(tok, "-N="):
		n, err := strconv.Atoi(tok[len("-N="):])
		if err != nil || n < 9 || n > 16 {
			return xerrors.Errorf("bad -N value %q: must be 9..16", tok[len("-N="):])
		}
		p.nbits = n
	case strings.HasPrefix(tok, "-e="):
		tmpl := tok[len("-e="):]
		if len(tmpl) >= 2 && tmpl[0] == '"' && tmpl[len(tmpl)-1] == '"' {
			tmpl = tmpl[1 : len(tmpl)-1]
		}
		p.errTmpl = unescape(tmpl)
	case strings.HasPrefix(tok, "-locale="):
		// Message printing uses the C locale.
	default:
		return xerrors.Errorf("unknown command line option %q", tok)
	}
	return nil
}

func (p *params) setTimeUnit(unit string) error {
	switch unit {
	case "s":
		p.timeUnit = 's'
	case "m", "ms":
		p.timeUnit = 'm'
	case "u", "us":
		p.timeUnit = 'u'
	default:
		return xerrors.Errorf("bad -time unit %q: must be s, m, ms, u or us", unit)
	}
	return nil
}

func (p *params) setTimestampLimits(v string) error {
	neg, pos, ok := strings.Cut(v, ";")
	if !ok {
		return xerrors.Errorf("bad -ts value %q: must be negative;positive in ms", v)
	}
	nf, err1 := strconv.ParseFloat(neg, 64)
	pf, err2 := strconv.ParseFloat(pos, 64)
	if err1 != nil || err2 != nil || nf >= 0 || pf <= 0 {
		return xerrors.Errorf("bad -ts value %q: must be negative;positive in ms", v)
	}
	p.tsNeg = nf
	p.tsPos = pf
	return nil
}

// unescape rewrites the \n and \t sequences of an error template.
func unescape(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	return strings.ReplaceAll(s, `\t`, "\t")
}

func run(p *params) int {
	errFile, err := os.Create(filepath.Join(p.outDir, "Errors.log"))
	if err != nil {
		log.Printf("could not create the error log: %+v", err)
		return exitBadParams
	}
	defer errFile.Close()
	errw := bufio.NewWriter(errFile)
	defer errw.Flush()

	c, code := compile(p, errw)
	if code != exitOK {
		return code
	}

	if p.checkOnly {
		if err := c.Enums.Close(); err != nil {
			log.Printf("could not close the user output files: %+v", err)
			return exitParseErrors
		}
		return exitOK
	}

	code = decodeTrace(p, c, errw)

	if err := c.Enums.Close(); err != nil {
		log.Printf("could not close the user output files: %+v", err)
		if code == exitOK {
			code = exitDecodeErrors
		}
	}
	return code
}

// compile parses the format definition tree and writes the compile
// side reports.
func compile(p *params, errw io.Writer) (*format.Compiler, int) {
	opts := []format.Option{
		format.WithOutputDir(p.outDir),
		format.WithCheckOnly(p.checkOnly),
		format.WithPurge(p.purge),
		format.WithBackup(p.backup),
		format.WithErrWriter(errw),
	}
	if p.errTmpl != "" {
		opts = append(opts, format.WithErrTemplate(p.errTmpl))
	}

	c, err := format.NewCompiler(p.nbits, opts...)
	if err != nil {
		log.Printf("%+v", err)
		return nil, exitBadParams
	}

	if err := c.CompileFile(filepath.Join(p.fmtDir, mainFmtFile)); err != nil {
		log.Printf("%+v", err)
		return nil, exitParseErrors
	}
	if c.NErrs > 0 {
		log.Printf("%d errors during format definition processing", c.NErrs)
		return nil, exitParseErrors
	}

	if err := c.DumpFilterNames(p.outDir); err != nil {
		log.Printf("%+v", err)
		return nil, exitParseErrors
	}
	if p.debug {
		if err := c.WriteFormatCSV(p.outDir); err != nil {
			log.Printf("%+v", err)
			return nil, exitParseErrors
		}
	}
	return c, exitOK
}

// decodeTrace runs the binary trace through the compiled plans and
// writes the statistics reports.
func decodeTrace(p *params, c *format.Compiler, errw io.Writer) int {
	bin, err := mmap.Open(p.binFile)
	if err != nil {
		log.Printf("could not map the binary data file: %+v", err)
		return exitFatalDecode
	}
	defer bin.Close()

	mainFile, err := os.Create(filepath.Join(p.outDir, "Main.log"))
	if err != nil {
		log.Printf("could not create the main log: %+v", err)
		return exitFatalDecode
	}
	defer mainFile.Close()
	mainw := bufio.NewWriter(mainFile)
	defer mainw.Flush()

	opts := []decode.Option{
		decode.WithMainLog(mainw),
		decode.WithErrorLog(errw),
		decode.WithLogger(log.Default()),
		decode.WithTimeUnit(p.timeUnit),
	}
	if fi, err := os.Stat(p.binFile); err == nil {
		opts = append(opts, decode.WithDateString(
			fi.ModTime().Format("2006-01-02 15:04:05"),
		))
	}
	if p.msgNoFmt != "" {
		opts = append(opts, decode.WithMsgNoFormat(p.msgNoFmt))
	}
	if p.timeFmt != "" {
		opts = append(opts, decode.WithTimeFormat(p.timeFmt))
	}
	if p.tsPos != 0 {
		opts = append(opts, decode.WithTimestampLimits(p.tsNeg, p.tsPos))
	}
	if p.valueStats {
		opts = append(opts, decode.WithValueStatistics())
	}
	if p.msgStats {
		opts = append(opts, decode.WithMessageStatistics())
	}
	if p.debug {
		opts = append(opts, decode.WithDebug())
	}
	if p.newline {
		opts = append(opts, decode.WithBlankLines())
	}

	var tsFile *os.File
	if p.timestamps {
		tsFile, err = os.Create(filepath.Join(p.outDir, "Timestamps.csv"))
		if err != nil {
			log.Printf("could not create the timestamp log: %+v", err)
			return exitFatalDecode
		}
		defer tsFile.Close()
		tsw := bufio.NewWriter(tsFile)
		defer tsw.Flush()
		opts = append(opts, decode.WithTimestampLog(tsw))
	}

	d, err := decode.New(bin, int64(bin.Len()), c.Plans, c.Enums, opts...)
	if err != nil {
		log.Printf("%+v", err)
		return exitFatalDecode
	}

	runErr := d.Run()

	if err := d.WriteReports(p.outDir); err != nil {
		log.Printf("%+v", err)
	}

	if runErr != nil {
		log.Printf("%+v", runErr)
		return exitFatalDecode
	}

	log.Printf("%d messages decoded", d.NMessages())
	if n := d.NErrors(); n > 0 {
		log.Printf("%d problems detected during decoding", n)
		return exitDecodeErrors
	}
	return exitOK
}
