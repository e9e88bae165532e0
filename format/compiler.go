// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

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
)

const (
	maxLineLen      = 1024
	maxNameLen      = 64
	maxIncludeDepth = 16

	// MaxErrorsReported bounds the diagnostics emitted per run;
	// parsing is abandoned once the bound is reached.
	MaxErrorsReported = 100
)

// Compiler reads format definition files and builds the enum table
// and the table of decoding plans.
type Compiler struct {
	Enums *Table
	Plans *Alloc

	msg *log.Logger

	outDir    string    // output folder for user OUT_FILE entries
	checkOnly bool      // syntax-check and header-compile mode
	purge     bool      // omit #define lines from generated headers
	backup    bool      // keep .bak of replaced files
	errTmpl   string    // error report template
	errw      io.Writer // error report sink

	// NErrs counts the parse diagnostics reported so far.
	NErrs int

	byName map[string]*Plan

	cur       *Plan
	bitCursor uint32
	outSel    int
	mainDup   bool
	inSel     int

	msgInLine bool
	selInLine bool
	ySeq      int

	depth int
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger used for compiler messages.
func WithLogger(l *log.Logger) Option { return func(c *Compiler) { c.msg = l } }

// WithOutputDir sets the folder in which OUT_FILE entries are created.
func WithOutputDir(dir string) Option { return func(c *Compiler) { c.outDir = dir } }

// WithCheckOnly enables the syntax-check and header-compile mode.
func WithCheckOnly(v bool) Option { return func(c *Compiler) { c.checkOnly = v } }

// WithPurge omits #define lines from generated headers.
func WithPurge(v bool) Option { return func(c *Compiler) { c.purge = v } }

// WithBackup keeps a .bak copy of replaced format files.
func WithBackup(v bool) Option { return func(c *Compiler) { c.backup = v } }

// WithErrTemplate sets the error report template.
func WithErrTemplate(t string) Option { return func(c *Compiler) { c.errTmpl = t } }

// WithErrWriter sets the sink for rendered error reports.
func WithErrWriter(w io.Writer) Option { return func(c *Compiler) { c.errw = w } }

// NewCompiler returns a compiler for nbits format-id bits.
func NewCompiler(nbits int, opts ...Option) (*Compiler, error) {
	plans, err := NewAlloc(nbits)
	if err != nil {
		return nil, xerrors.Errorf("format: could not create allocator: %w", err)
	}
	c := &Compiler{
		Enums:   NewTable(),
		Plans:   plans,
		msg:     log.New(os.Stderr, "rtemsg: ", 0),
		errTmpl: DefaultErrTemplate,
		errw:    os.Stderr,
		byName:  make(map[string]*Plan),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.systemPlans()
	return c, nil
}

// systemPlans registers the decoding plans for the messages the target
// firmware and the host streaming utilities log on their own: the long
// timestamp and timestamp frequency messages below FirstUserFID and
// the streaming mark at the topmost id.
func (c *Compiler) systemPlans() {
	for _, sys := range []struct {
		fid  uint32
		name string
		text string
	}{
		{FIDLongTimestamp, "SYS_LONG_TIMESTAMP", "high timestamp bits 0x%08X"},
		{FIDTstampFreq, "SYS_TSTAMP_FREQUENCY", "timestamp frequency %d Hz"},
	} {
		c.Plans.SetSystem(&Plan{
			Name:   sys.name,
			Kind:   Msg04,
			MsgLen: 4,
			Slots: []Slot{{
				Print:    PrintUint,
				Value:    ValAuto,
				Bits:     32,
				Format:   sys.text,
				TimerFID: -1,
			}},
		}, sys.fid)
	}
	c.Plans.SetSys(&Plan{Name: "sys", Kind: Msg04, MsgLen: 4})
}

type fileState struct {
	path  string
	line  int
	isFmt bool
	work  *workFile
}

// CompileFile parses one format definition file, recursing into
// INCLUDE directives. The returned error is non-nil only for fatal
// conditions; ordinary parse diagnostics are counted in NErrs.
func (c *Compiler) CompileFile(path string) error {
	if c.depth >= maxIncludeDepth {
		return xerrors.Errorf("format: INCLUDE nesting deeper than %d at %q",
			maxIncludeDepth, path)
	}
	c.depth++
	defer func() { c.depth-- }()

	f, err := os.Open(path)
	if err != nil {
		return xerrors.Errorf("format: could not open %q: %w", path, err)
	}
	defer f.Close()

	fs := &fileState{
		path:  path,
		isFmt: strings.HasSuffix(path, ".fmt"),
	}
	if c.checkOnly {
		fs.work, err = newWorkFile(path, fs.isFmt)
		if err != nil {
			return xerrors.Errorf("format: could not create work file: %w", err)
		}
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, maxLineLen+16), maxLineLen+16)
	for sc.Scan() {
		fs.line++
		line := sc.Text()
		if fs.work != nil {
			fs.work.writeLine(line)
		}
		if len(line) >= maxLineLen-4 {
			c.report(fs, 0, ErrLineTooLong, line[:32])
			continue
		}
		c.parseLine(fs, line)
		if c.NErrs >= MaxErrorsReported {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return xerrors.Errorf("format: could not read %q: %w", path, err)
	}

	c.finishPendingMsg()

	if fs.work != nil {
		err = fs.work.finish(c.NErrs > 0, c.backup)
		if err != nil {
			return xerrors.Errorf("format: could not finalize work file for %q: %w",
				path, err)
		}
	}
	return nil
}

func (c *Compiler) parseLine(fs *fileState, raw string) {
	line := strings.TrimLeft(raw, " \t")
	switch {
	case line == "":
		return
	case strings.HasPrefix(line, "/*"):
		if len(line) <= 3 || !strings.HasSuffix(strings.TrimRight(line, " \t"), "*/") {
			c.report(fs, 0, ErrBadComment, line)
		}
		return
	case strings.HasPrefix(line, "#"):
		if fs.isFmt {
			c.report(fs, 0, ErrHashOutsideHeader, line)
		}
		return
	case !strings.HasPrefix(line, "//"):
		c.report(fs, 0, ErrBadDirective, line)
		return
	}

	ls := &lineScan{s: line[2:]}
	c.msgInLine = false
	c.selInLine = false
	for {
		ls.skipSpace()
		if ls.eof() {
			return
		}
		if !c.parseDirective(fs, ls) {
			return // error reported, abandon the line
		}
		if c.NErrs >= MaxErrorsReported {
			return
		}
	}
}

func (c *Compiler) parseDirective(fs *fileState, ls *lineScan) bool {
	switch ls.peek() {
	case '"':
		return c.parseFmtText(fs, ls)
	case '>':
		return c.parseOutSelect(fs, ls)
	case '<':
		return c.parseInSelect(fs, ls)
	}

	start := ls.pos
	tok := ls.name()
	if tok == "" {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}

	switch tok {
	case "FILTER":
		return c.parseFilter(fs, ls)
	case "MEMO":
		return c.parseMemo(fs, ls)
	case "IN_FILE":
		return c.parseInFile(fs, ls)
	case "OUT_FILE":
		return c.parseOutFile(fs, ls)
	case "INCLUDE":
		return c.parseInclude(fs, ls)
	case "FMT_ALIGN":
		return c.parseAlign(fs, ls, true)
	case "FMT_START":
		return c.parseAlign(fs, ls, false)
	}

	if strings.HasPrefix(tok, "MSG") || strings.HasPrefix(tok, "EXT_MSG") {
		return c.parseMsg(fs, ls, tok, start)
	}

	c.report(fs, start, ErrBadDirective, tok)
	return false
}

// parseMsg handles the MSG<k>, EXT_MSG<k>_<b>, MSGN and MSGX
// directives. tok is the whole directive name: it keys FindPlan and
// the generated #define, while the plan is named by the part after the
// kind prefix ("BOOT" for MSG0_BOOT).
func (c *Compiler) parseMsg(fs *fileState, ls *lineScan, tok string, col int) bool {
	if c.msgInLine {
		c.report(fs, col, ErrTwoMsgInLine, tok)
		return false
	}
	if c.selInLine {
		c.report(fs, col, ErrMsgAfterSelect, tok)
		return false
	}
	if _, dup := c.byName[tok]; dup {
		c.report(fs, col, ErrDupName, tok)
		return false
	}

	plan := &Plan{Name: tok}
	var nids uint32

	switch {
	case strings.HasPrefix(tok, "EXT_MSG"):
		rest := tok[len("EXT_MSG"):]
		var k, b int
		var ok bool
		k, rest, ok = leadDigit(rest)
		if !ok || k > 4 {
			c.report(fs, col, ErrBadExtMsgSpec, tok)
			return false
		}
		if !strings.HasPrefix(rest, "_") {
			c.report(fs, col, ErrBadExtMsgSpec, tok)
			return false
		}
		b, rest, ok = leadDigit(rest[1:])
		if !ok || b < 1 || b > 8-k {
			c.report(fs, col, ErrBadExtMsgSpec, tok)
			return false
		}
		if !nameTail(rest) {
			c.report(fs, col, ErrBadName, tok)
			return false
		}
		plan.Name = rest[1:]
		plan.Kind = MsgExt
		plan.MsgLen = uint32(4 + 4*k)
		plan.ExtMask = uint32(1)<<b - 1
		nids = uint32(1) << (k + b)

	case strings.HasPrefix(tok, "MSGX"):
		if !nameTail(tok[len("MSGX"):]) {
			c.report(fs, col, ErrBadName, tok)
			return false
		}
		plan.Name = tok[len("MSGX_"):]
		plan.Kind = MsgX
		nids = 16

	case strings.HasPrefix(tok, "MSGN"):
		rest := tok[len("MSGN"):]
		if !strings.HasPrefix(rest, "_") {
			c.report(fs, col, ErrBadName, tok)
			return false
		}
		rest = rest[1:]
		if rest != "" && rest[0] >= '0' && rest[0] <= '9' {
			j := 0
			for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
				j++
			}
			n, err := strconv.ParseUint(rest[:j], 10, 32)
			if err != nil || n == 0 || n > MaxMsgLength {
				c.report(fs, col, ErrMsgTooLong, tok)
				return false
			}
			if !nameTail(rest[j:]) {
				c.report(fs, col, ErrBadName, tok)
				return false
			}
			plan.MsgLen = uint32(n) * 4
			plan.Name = rest[j+1:]
		} else if !nameTail("_" + rest) {
			c.report(fs, col, ErrBadName, tok)
			return false
		} else {
			plan.Name = rest
		}
		plan.Kind = MsgN
		nids = 16

	default: // MSG<k>
		rest := tok[len("MSG"):]
		k, rest, ok := leadDigit(rest)
		if !ok || k > 4 {
			c.report(fs, col, ErrBadMsgNumber, tok)
			return false
		}
		if !nameTail(rest) {
			c.report(fs, col, ErrBadName, tok)
			return false
		}
		plan.Name = rest[1:]
		plan.Kind = Msg04
		plan.MsgLen = uint32(4 * k)
		nids = uint32(1) << k
	}

	c.finishPendingMsg()

	fid, err := c.Plans.Assign(plan, nids)
	if err != nil {
		c.report(fs, col, ErrNoFreeFmtIDs, tok)
		return false
	}
	c.byName[tok] = plan
	if fs.work != nil && !c.purge {
		fs.work.writeDefine(tok, fid)
	}

	c.cur = plan
	c.bitCursor = 0
	c.outSel = 0
	c.mainDup = false
	c.inSel = 0
	c.msgInLine = true
	return true
}

func (c *Compiler) parseFilter(fs *fileState, ls *lineScan) bool {
	if !ls.expect('(') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}
	name := ls.name()
	if !strings.HasPrefix(name, "F_") || len(name) < 3 {
		c.report(fs, ls.pos, ErrBadFilterName, name)
		return false
	}
	var desc string
	ls.skipSpace()
	if ls.peek() == ',' {
		ls.pos++
		ls.skipSpace()
		s, ok := ls.quoted()
		if !ok {
			c.report(fs, ls.pos, ErrMissingQuote, ls.rest())
			return false
		}
		desc, ok = processEscapes(s)
		if !ok {
			c.report(fs, ls.pos, ErrBadEscape, s)
			return false
		}
	}
	if !ls.expect(')') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}

	slot, err := c.Enums.AddFilter(name, desc)
	if err != nil {
		code := ErrTooManyFilters
		if c.Enums.used(name) {
			code = ErrDupName
		}
		c.report(fs, ls.pos, code, name)
		return false
	}
	if fs.work != nil && !c.purge {
		fs.work.writeDefine(name, uint32(slot))
	}
	return true
}

func (c *Compiler) parseMemo(fs *fileState, ls *lineScan) bool {
	if !ls.expect('(') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}
	name := ls.name()
	if !strings.HasPrefix(name, "M_") || len(name) < 3 {
		c.report(fs, ls.pos, ErrBadMemoName, name)
		return false
	}
	var init float64
	ls.skipSpace()
	if ls.peek() == ',' {
		ls.pos++
		v, ok := ls.float()
		if !ok {
			c.report(fs, ls.pos, ErrBadNumber, ls.rest())
			return false
		}
		init = v
	}
	if !ls.expect(')') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}

	idx, err := c.Enums.Intern(name, EnumMemo)
	if err != nil {
		c.report(fs, ls.pos, ErrDupName, name)
		return false
	}
	c.Enums.At(idx).Value = init
	return true
}

func (c *Compiler) parseInFile(fs *fileState, ls *lineScan) bool {
	if !ls.expect('(') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}
	name := ls.name()
	if name == "" {
		c.report(fs, ls.pos, ErrBadName, ls.rest())
		return false
	}
	ls.skipSpace()
	if !ls.expect(',') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}
	ls.skipSpace()
	path, ok := ls.quoted()
	if !ok || path == "" {
		c.report(fs, ls.pos, ErrBadFilePath, ls.rest())
		return false
	}
	if !ls.expect(')') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}
	if c.Enums.PathUsed(path) {
		c.report(fs, ls.pos, ErrFileUsedBefore, path)
		return false
	}

	idx, err := c.Enums.Intern(name, EnumInFile)
	if err != nil {
		c.report(fs, ls.pos, ErrDupName, name)
		return false
	}
	e := c.Enums.At(idx)
	e.Path = path
	if !c.checkOnly {
		blob, err := indexedTextFromFile(c.resolve(fs, path))
		if err != nil {
			c.report(fs, ls.pos, ErrBadIndexedText, path)
			return false
		}
		e.Text = blob
	}
	return true
}

func (c *Compiler) parseOutFile(fs *fileState, ls *lineScan) bool {
	if !ls.expect('(') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}
	name := ls.name()
	if name == "" {
		c.report(fs, ls.pos, ErrBadName, ls.rest())
		return false
	}
	ls.skipSpace()
	if !ls.expect(',') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}
	ls.skipSpace()
	path, ok := ls.quoted()
	if !ok || path == "" {
		c.report(fs, ls.pos, ErrBadFilePath, ls.rest())
		return false
	}
	ls.skipSpace()
	if !ls.expect(',') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}
	ls.skipSpace()
	mode, ok := ls.quoted()
	if !ok || !validFileMode(mode) {
		c.report(fs, ls.pos, ErrBadFileMode, mode)
		return false
	}
	var init string
	ls.skipSpace()
	if ls.peek() == ',' {
		ls.pos++
		ls.skipSpace()
		s, ok := ls.quoted()
		if !ok {
			c.report(fs, ls.pos, ErrMissingQuote, ls.rest())
			return false
		}
		init, ok = processEscapes(s)
		if !ok {
			c.report(fs, ls.pos, ErrBadEscape, s)
			return false
		}
	}
	if !ls.expect(')') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}
	if c.Enums.PathUsed(path) {
		c.report(fs, ls.pos, ErrFileUsedBefore, path)
		return false
	}

	idx, err := c.Enums.Intern(name, EnumOutFile)
	if err != nil {
		c.report(fs, ls.pos, ErrDupName, name)
		return false
	}
	e := c.Enums.At(idx)
	e.Path = path
	if !c.checkOnly {
		w, err := createOutFile(filepath.Join(c.outDir, path), mode)
		if err != nil {
			c.report(fs, ls.pos, ErrCannotOpenFile, path)
			return false
		}
		if init != "" {
			fmt.Fprint(w, init)
		}
		e.W = w
	}
	return true
}

func (c *Compiler) parseInclude(fs *fileState, ls *lineScan) bool {
	if !ls.expect('(') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}
	ls.skipSpace()
	path, ok := ls.quoted()
	if !ok || path == "" {
		c.report(fs, ls.pos, ErrBadFilePath, ls.rest())
		return false
	}
	if !ls.expect(')') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}

	c.finishPendingMsg()
	err := c.CompileFile(c.resolve(fs, path))
	if err != nil {
		if c.depth+1 >= maxIncludeDepth {
			c.report(fs, ls.pos, ErrIncludeTooDeep, path)
		} else {
			c.report(fs, ls.pos, ErrCannotOpenFile, path)
		}
		return false
	}
	// the included file left its own message pending state behind
	c.cur = nil
	return true
}

func (c *Compiler) parseAlign(fs *fileState, ls *lineScan, align bool) bool {
	if !ls.expect('(') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}
	v, ok := ls.uint()
	if !ok {
		c.report(fs, ls.pos, ErrBadNumber, ls.rest())
		return false
	}
	if !ls.expect(')') {
		c.report(fs, ls.pos, ErrBadDirective, ls.rest())
		return false
	}

	var err error
	if align {
		err = c.Plans.Align(uint32(v))
	} else {
		err = c.Plans.Start(uint32(v))
	}
	if err != nil {
		code := ErrBadAlignValue
		if !align {
			code = ErrBadStartValue
		}
		c.report(fs, ls.pos, code, fmt.Sprint(v))
		return false
	}
	return true
}

func (c *Compiler) parseOutSelect(fs *fileState, ls *lineScan) bool {
	ls.pos++ // '>'
	dup := false
	if ls.peek() == '>' {
		ls.pos++
		dup = true
	}
	name := ls.name()
	if name == "" {
		c.report(fs, ls.pos, ErrBadName, ls.rest())
		return false
	}
	if c.cur == nil {
		c.report(fs, ls.pos, ErrNoMsgDefined, name)
		return false
	}
	idx := c.Enums.Find(name, EnumOutFile)
	if idx < 0 {
		c.report(fs, ls.pos, ErrUnknownName, name)
		return false
	}
	c.outSel = idx
	c.mainDup = dup
	c.bitCursor = 0
	c.selInLine = true
	return true
}

func (c *Compiler) parseInSelect(fs *fileState, ls *lineScan) bool {
	ls.pos++ // '<'
	name := ls.name()
	if name == "" {
		c.report(fs, ls.pos, ErrBadName, ls.rest())
		return false
	}
	if c.cur == nil {
		c.report(fs, ls.pos, ErrNoMsgDefined, name)
		return false
	}
	idx := c.Enums.Find(name, EnumInFile)
	if idx < 0 {
		c.report(fs, ls.pos, ErrUnknownName, name)
		return false
	}
	c.inSel = idx
	c.selInLine = true
	return true
}

// finishPendingMsg gives a message that got no format string a
// single empty plain-text slot.
func (c *Compiler) finishPendingMsg() {
	if c.cur != nil && len(c.cur.Slots) == 0 {
		c.cur.Slots = append(c.cur.Slots, Slot{Print: PrintText, TimerFID: -1})
	}
	c.cur = nil
}

// FindPlan returns the plan registered under name, or nil.
func (c *Compiler) FindPlan(name string) *Plan { return c.byName[name] }

func (c *Compiler) report(fs *fileState, col, code int, ctx string) {
	c.NErrs++
	if c.NErrs > MaxErrorsReported {
		return
	}
	perr := &ParseError{File: fs.path, Line: fs.line, Col: col, Code: code, Ctx: ctx}
	fmt.Fprint(c.errw, perr.Report(c.errTmpl))
	c.msg.Printf("%s", perr.Error())
}

// resolve makes path absolute relative to the directory of the file
// being parsed.
func (c *Compiler) resolve(fs *fileState, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(fs.path), path)
}

func validFileMode(mode string) bool {
	if mode == "" {
		return false
	}
	for _, r := range mode {
		if !strings.ContainsRune("wabxt+", r) {
			return false
		}
	}
	return true
}

func createOutFile(path, mode string) (io.WriteCloser, error) {
	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case strings.ContainsRune(mode, 'a'):
		flags |= os.O_APPEND
	case strings.ContainsRune(mode, 'x'):
		flags |= os.O_EXCL
	default:
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, xerrors.Errorf("format: could not create %q: %w", path, err)
	}
	return f, nil
}

// indexedTextFromFile loads a text file into a length-prefixed blob,
// one record per line, terminated by a zero-length record.
func indexedTextFromFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("format: could not read %q: %w", path, err)
	}
	lines := strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return indexedText(lines)
}

// indexedText builds the length-prefixed blob from a list of options.
func indexedText(opts []string) ([]byte, error) {
	if len(opts) < 2 {
		return nil, xerrors.Errorf("format: indexed text needs at least 2 options (got %d)", len(opts))
	}
	var blob []byte
	for _, o := range opts {
		if len(o) < 1 || len(o) > 255 {
			return nil, xerrors.Errorf("format: indexed-text option length %d out of [1,255]", len(o))
		}
		blob = append(blob, byte(len(o)))
		blob = append(blob, o...)
	}
	return append(blob, 0), nil
}

// lineScan is a cursor over the payload of one directive line.
type lineScan struct {
	s   string
	pos int
}

func (ls *lineScan) eof() bool { return ls.pos >= len(ls.s) }

func (ls *lineScan) peek() byte {
	if ls.eof() {
		return 0
	}
	return ls.s[ls.pos]
}

func (ls *lineScan) rest() string { return ls.s[ls.pos:] }

func (ls *lineScan) skipSpace() {
	for !ls.eof() && (ls.s[ls.pos] == ' ' || ls.s[ls.pos] == '\t') {
		ls.pos++
	}
}

func (ls *lineScan) expect(c byte) bool {
	ls.skipSpace()
	if ls.peek() != c {
		return false
	}
	ls.pos++
	return true
}

// name consumes a run of alphanumerics and underscores.
func (ls *lineScan) name() string {
	ls.skipSpace()
	start := ls.pos
	for !ls.eof() && isNameChar(ls.s[ls.pos]) {
		ls.pos++
	}
	if ls.pos-start > maxNameLen {
		ls.pos = start + maxNameLen
	}
	return ls.s[start:ls.pos]
}

func (ls *lineScan) uint() (uint64, bool) {
	ls.skipSpace()
	start := ls.pos
	for !ls.eof() && ls.s[ls.pos] >= '0' && ls.s[ls.pos] <= '9' {
		ls.pos++
	}
	if ls.pos == start {
		return 0, false
	}
	v, err := strconv.ParseUint(ls.s[start:ls.pos], 10, 32)
	return v, err == nil
}

func (ls *lineScan) float() (float64, bool) {
	ls.skipSpace()
	start := ls.pos
	if !ls.eof() && (ls.s[ls.pos] == '+' || ls.s[ls.pos] == '-') {
		ls.pos++
	}
	for !ls.eof() && (ls.s[ls.pos] >= '0' && ls.s[ls.pos] <= '9' ||
		ls.s[ls.pos] == '.' || ls.s[ls.pos] == 'e' || ls.s[ls.pos] == 'E') {
		ls.pos++
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(ls.s[start:ls.pos]), 64)
	return v, err == nil
}

// quoted consumes a double-quoted string, honoring \" and \\, and
// returns its raw (unescaped) content.
func (ls *lineScan) quoted() (string, bool) {
	if ls.peek() != '"' {
		return "", false
	}
	i := ls.pos + 1
	for i < len(ls.s) {
		switch ls.s[i] {
		case '\\':
			i += 2
			continue
		case '"':
			raw := ls.s[ls.pos+1 : i]
			ls.pos = i + 1
			return raw, true
		}
		i++
	}
	return "", false
}

func isNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_'
}

// leadDigit splits one leading decimal digit off s.
func leadDigit(s string) (int, string, bool) {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return 0, s, false
	}
	return int(s[0] - '0'), s[1:], true
}

// nameTail checks the "_name" tail of a message directive.
func nameTail(s string) bool {
	if len(s) < 2 || s[0] != '_' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isNameChar(s[i]) {
			return false
		}
	}
	return true
}

// processEscapes rewrites C-style escape sequences in s.
func processEscapes(s string) (string, bool) {
	if !strings.ContainsRune(s, '\\') {
		return s, true
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", false
		}
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'a':
			b.WriteByte(7)
		case 'b':
			b.WriteByte(8)
		case 'f':
			b.WriteByte(12)
		case 'v':
			b.WriteByte(11)
		case '0':
			b.WriteByte(0)
		case '\\', '"', '\'':
			b.WriteByte(s[i])
		default:
			return "", false
		}
	}
	return b.String(), true
}
