// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decode turns the binary trace of an RTEdbg instrumented
// target back into text, using the decoding plans built by the format
// package.
package decode // import "github.com/rtedbg/rtemsg/decode"

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/xerrors"

	"github.com/rtedbg/rtemsg/format"
)

// Streaming system codes carried in the timestamp bits of host
// inserted messages.
const (
	sysHostDateTime = 0 // date and time the snapshot was taken
	sysDataOverrun  = 1 // overrun during streaming mode logging
	sysMultiLogging = 2 // start of another assembled snapshot
)

type config struct {
	main io.Writer
	errw io.Writer
	tsw  io.Writer
	msg  *log.Logger

	msgNoFmt string
	timeFmt  string
	timeUnit byte

	tsNeg float64
	tsPos float64

	valueStats bool
	msgStats   bool
	debug      bool
	blank      bool

	dateString string
}

// Option configures a Decoder.
type Option func(*config)

// WithMainLog redirects the decoded message text.
func WithMainLog(w io.Writer) Option {
	return func(cfg *config) { cfg.main = w }
}

// WithErrorLog redirects the decoding problem reports.
func WithErrorLog(w io.Writer) Option {
	return func(cfg *config) { cfg.errw = w }
}

// WithTimestampLog enables the per-message timestamp difference file.
func WithTimestampLog(w io.Writer) Option {
	return func(cfg *config) { cfg.tsw = w }
}

// WithLogger duplicates problem reports to the given logger.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) { cfg.msg = msg }
}

// WithMsgNoFormat sets the template for message numbers.
func WithMsgNoFormat(f string) Option {
	return func(cfg *config) { cfg.msgNoFmt = f }
}

// WithTimeFormat sets the template for timestamp values.
func WithTimeFormat(f string) Option {
	return func(cfg *config) { cfg.timeFmt = f }
}

// WithTimeUnit selects the timestamp unit: 's', 'm' or 'u'.
func WithTimeUnit(u byte) Option {
	return func(cfg *config) { cfg.timeUnit = u }
}

// WithValueStatistics enables the per-slot extrema and mean.
func WithValueStatistics() Option {
	return func(cfg *config) { cfg.valueStats = true }
}

// WithMessageStatistics enables the per-plan instance counters report.
func WithMessageStatistics() Option {
	return func(cfg *config) { cfg.msgStats = true }
}

// WithDebug hex dumps rejected blocks to the error log.
func WithDebug() Option {
	return func(cfg *config) { cfg.debug = true }
}

// WithTimestampLimits overrides the allowed timestamp differences
// between consecutive messages, in milliseconds. neg must be negative
// and pos positive.
func WithTimestampLimits(neg, pos float64) Option {
	return func(cfg *config) {
		cfg.tsNeg = neg
		cfg.tsPos = pos
	}
}

// WithBlankLines separates the decoded message records with an empty
// line.
func WithBlankLines() Option {
	return func(cfg *config) { cfg.blank = true }
}

// WithDateString sets the date printed for date slots until a
// date-and-time message in the trace overrides it, typically the
// modification time of the binary input file.
func WithDateString(s string) Option {
	return func(cfg *config) { cfg.dateString = s }
}

func newConfig() config {
	return config{
		main:     os.Stdout,
		errw:     os.Stderr,
		timeUnit: 's',
	}
}

// timeDefaults fills the timestamp template and unit multiplier the
// command line did not override.
func (cfg *config) timeDefaults() float64 {
	mult := 1.0
	deflt := "%8.6f"
	switch cfg.timeUnit {
	case 'm':
		mult = 1e3
		deflt = "%8.3f"
	case 'u':
		mult = 1e6
		deflt = "%8.2f"
	}
	if cfg.timeFmt == "" {
		cfg.timeFmt = deflt
	}
	if cfg.msgNoFmt == "" {
		cfg.msgNoFmt = "N%05d"
	}
	return mult
}

// Decoder decodes one binary trace file against a compiled set of
// decoding plans.
type Decoder struct {
	plans *format.Alloc
	enums *format.Table
	hdr   Header

	src     io.ReaderAt
	srcSize int64
	srcOff  int64

	// window over the trace payload, in decoding order
	words       []uint32
	index       uint32
	inSize      uint32
	fullyLoaded bool
	processed   uint64

	// current message assembly
	raw      [maxRawDataSize]uint32
	asm      []uint32
	asmB     []byte
	asmWords uint32
	asmSize  uint32 // message size in bytes, adjusted per message kind

	fid            uint32
	addData        uint32
	badPacketWords uint32
	unfinished     uint32
	decodingDone   bool

	ts     tstamp
	limits tstampLimits

	msgCnt     uint32
	restartCnt uint32
	prevTime   float64
	dateString string

	main io.Writer
	errw io.Writer
	tsw  io.Writer
	msg  *log.Logger

	msgNoFmt string
	timeFmt  string
	timeMult float64

	valueStats bool
	msgStats   bool
	debug      bool
	blank      bool

	val         value
	valueNo     int
	msgErrs     [maxMsgErrors]valueError
	msgErrCount int
	errTotal    int
	errCount    map[int]int

	errWarnInMsg    uint32
	multiLogging    uint32
	totalBadWords   uint64
	totalUnfinished uint64
}

// New builds a decoder for the trace in src. The header is read and
// validated immediately; the payload is read during Run.
func New(src io.ReaderAt, size int64, plans *format.Alloc, enums *format.Table, opts ...Option) (*Decoder, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	mult := cfg.timeDefaults()

	var hb [HeaderSize]byte
	if _, err := src.ReadAt(hb[:], 0); err != nil {
		return nil, xerrors.Errorf("decode: could not read the trace header: %w", err)
	}
	hdr, err := ParseHeader(hb[:])
	if err != nil {
		return nil, err
	}

	if nbits := uint32(plans.NBits()); hdr.FIDBits != nbits {
		return nil, xerrors.Errorf(
			"decode: trace logged with %d format id bits, format compiled for %d",
			hdr.FIDBits, nbits,
		)
	}

	asmWords := 4*hdr.MaxMsgBlocks + 8
	d := &Decoder{
		plans:   plans,
		enums:   enums,
		hdr:     hdr,
		src:     src,
		srcSize: size,

		asm:  make([]uint32, asmWords),
		asmB: make([]byte, asmWords*4),

		limits: defaultLimits(),

		main: cfg.main,
		errw: cfg.errw,
		tsw:  cfg.tsw,
		msg:  cfg.msg,

		msgNoFmt: cfg.msgNoFmt,
		timeFmt:  cfg.timeFmt,
		timeMult: mult,

		valueStats: cfg.valueStats,
		msgStats:   cfg.msgStats,
		debug:      cfg.debug,
		blank:      cfg.blank,

		dateString: cfg.dateString,
	}
	d.ts.noPrev = true

	if hdr.SingleShotActive && !hdr.SingleShotEnabled {
		d.report(ErrSingleShotActive)
	}

	freq := hdr.TstampFreq
	if freq == 0 {
		d.report(ErrTimestampFreqZero)
		freq = 1
	}
	d.ts.multiplier = hdr.Multiplier(freq)

	if cfg.tsPos != 0 || cfg.tsNeg != 0 {
		if err := d.overrideLimits(cfg.tsNeg, cfg.tsPos); err != nil {
			return nil, err
		}
	}

	if d.tsw != nil {
		unit := "s"
		switch cfg.timeUnit {
		case 'm':
			unit = "ms"
		case 'u':
			unit = "us"
		}
		fmt.Fprintf(d.tsw, "message;time;difference [%s]\n", unit)
	}
	return d, nil
}

// Header returns the parsed trace file header.
func (d *Decoder) Header() Header { return d.hdr }

// NMessages returns the number of messages decoded so far.
func (d *Decoder) NMessages() uint32 { return d.msgCnt }

// Run loads the trace payload and decodes it to the end.
func (d *Decoder) Run() error {
	if err := d.load(); err != nil {
		return err
	}

	for {
		lastErrs := d.errTotal

		switch d.assembleMessage() {
		case statusEndOfBuffer:
			d.finish()
			return nil
		case statusDataFound:
			d.processMessage()
		case statusBadBlock:
			d.reportBadBlock()
		case statusUnfinished:
			d.msgCnt++
			d.report(ErrUnfinishedBlock, d.unfinished)
		case statusTooLong:
			d.msgCnt++
			d.report(ErrMessageTooLong, d.fid)
		}

		d.totalBadWords += uint64(d.badPacketWords)
		d.totalUnfinished += uint64(d.unfinished)
		d.badPacketWords = 0
		d.unfinished = 0

		if d.msgCnt == d.errWarnInMsg && d.errTotal != lastErrs {
			fmt.Fprintf(d.main, "\n*** errors in the first message of a snapshot usually "+
				"mean the snapshot starts with a partially overwritten message ***")
		}

		d.refill()
	}
}

// finish writes the end-of-run remarks to the main log.
func (d *Decoder) finish() {
	if d.hdr.LongTimestamps && !d.ts.longFound {
		fmt.Fprintf(d.main, "\n*** long timestamps are enabled but none was found; "+
			"the high timestamp bits could not be recovered ***")
	}
	if d.ts.suspicious > 0 {
		fmt.Fprintf(d.main, "\n%d messages have a problematic timestamp (marked with #)\n",
			d.ts.suspicious)
	}
	d.writeErrorSummary()
}

// reportBadBlock accounts a run of words no plan could claim.
func (d *Decoder) reportBadBlock() {
	d.msgCnt++

	asmWords := d.asmWords
	if asmWords != 0 {
		asmWords += (asmWords + 3) / 4 // include the FMT words
	}
	d.report(ErrBadBlock, d.badPacketWords+asmWords)
	if d.debug {
		d.dumpCurrentMessage(false)
	}
}

// syncBytes refreshes the little-endian byte view of the assembled
// message. Two words past the end are included so that string and hex
// rendering can read past a short message safely.
func (d *Decoder) syncBytes() {
	n := d.asmWords + 2
	if n > uint32(len(d.asm)) {
		n = uint32(len(d.asm))
	}
	for i := uint32(0); i < n; i++ {
		binary.LittleEndian.PutUint32(d.asmB[i*4:], d.asm[i])
	}
}

// prepareMsgX recovers the byte-exact size carried in the last byte of
// a MSGX message and verifies the padding.
func (d *Decoder) prepareMsgX() bool {
	if d.asmSize == 0 {
		d.report(ErrMsgxEmpty)
		return false
	}

	size := d.asm[d.asmWords-1] >> 24 & 0xFF
	if size > d.asmSize-1 {
		d.report(ErrMsgxTooLarge, size, d.asmSize-1)
		d.dumpCurrentMessage(false)
		return false
	}
	if size < d.asmSize-4 {
		d.report(ErrMsgxTooSmall, size, d.asmSize-4)
		d.dumpCurrentMessage(false)
		return false
	}

	last := d.asm[d.asmWords-1] & 0x00FFFFFF
	if last>>((size&3)*8) != 0 {
		d.report(ErrMsgxCorrupted)
		d.dumpCurrentMessage(false)
		return false
	}

	d.asmSize = size
	for i := uint32(0); i < 4; i++ {
		d.asmB[size+i] = 0
	}
	return true
}

// prepareMessage finalizes the assembled words per message kind and
// reports whether the message content is usable.
func (d *Decoder) prepareMessage(p *format.Plan) bool {
	d.asmSize = 4 * d.asmWords
	d.asm[d.asmWords] = 0

	ok := true
	switch p.Kind {
	case format.MsgExt:
		d.asm[d.asmWords] = d.addData & p.ExtMask
		d.asm[d.asmWords+1] = 0
		d.asmSize += 4
		d.fid &^= p.ExtMask
		d.syncBytes()
	case format.MsgX:
		d.syncBytes()
		ok = d.prepareMsgX()
	default:
		d.syncBytes()
	}
	return ok
}

// prepareDateString decodes the 43-bit host date and time packed into
// a streaming system message: the low 32 bits travel in the DATA word
// and the top 11 bits in the timestamp.
func (d *Decoder) prepareDateString() {
	dt := uint64(d.asm[0]) |
		(uint64(d.ts.l>>(d.hdr.FIDBits+1))&0x7FF)<<32

	d.dateString = fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%03d",
		dt>>36&0x7F+2023,
		dt>>32&0xF+1, // the logged month is zero based
		dt>>27&0x1F,
		dt>>22&0x1F,
		dt>>16&0x3F,
		dt>>10&0x3F,
		dt&0x3FF,
	)
}

func (d *Decoder) printTypeAndDate(text string) {
	fmt.Fprintf(d.main, "\n%s", text)
	d.prepareDateString()
	fmt.Fprintf(d.main, " %s", d.dateString)
}

// streamingMessage handles the system messages a host utility inserts
// between streamed or repeatedly captured blocks. They do not count as
// decoded messages.
func (d *Decoder) streamingMessage() {
	d.msgCnt--

	code := d.ts.l >> (d.hdr.FIDBits + 1 + 11)
	switch code {
	case sysHostDateTime:
		d.printTypeAndDate("data sampled at")
	case sysDataOverrun:
		d.printTypeAndDate("data overrun detected, snapshot taken at")
		d.resetStatistics()
	case sysMultiLogging:
		d.printTypeAndDate("new logging session, snapshot taken at")
		d.multiLogging++
		d.resetStatistics()
	default:
		d.report(ErrUnknownSysCode, code)
	}
}

// systemMessage handles the long timestamp and timestamp frequency
// messages logged by the target firmware.
func (d *Decoder) systemMessage() {
	if d.asmSize != 4 {
		d.report(ErrBadSystemMessage, d.asmSize)
		return
	}

	switch d.fid &^ 1 {
	case format.FIDLongTimestamp:
		h := d.asm[0]
		if h == 0 && d.ts.h != 0 {
			// The target was restarted.
			d.resetStatistics()
		}
		if h == emptyWord {
			// Logged by a timing restart, not a counter value.
			d.resetStatistics()
			d.ts.h = 0
			d.ts.l = 0
			d.ts.f = 0
		} else {
			d.ts.h = h
		}

	case format.FIDTstampFreq:
		if d.asm[0] == 0 {
			d.report(ErrTimestampFreqZero)
		} else {
			d.ts.multiplier = d.hdr.Multiplier(d.asm[0])
		}

	default:
		d.report(IntBadSysMessage)
	}
}

// processMessage decodes and prints one assembled message.
func (d *Decoder) processMessage() {
	d.msgCnt++

	p := d.plans.At(d.fid)
	if p == nil {
		d.report(ErrNoDefinition, d.fid)
		d.dumpCurrentMessage(true)
		return
	}

	ok := d.prepareMessage(p)

	if p.MsgLen != 0 && d.asmSize != p.MsgLen {
		d.report(ErrSizeMismatch, d.asmSize, p.MsgLen)
		if p.Kind == format.MsgExt {
			d.asmWords++ // show the extended data word in the dump
		}
		d.dumpCurrentMessage(true)
		return
	}

	if d.fid < format.FirstUserFID {
		d.systemMessage()
	}

	if d.fid == d.plans.Topmost() {
		d.streamingMessage()
		return
	}

	d.prepareTimestamp()
	if ok {
		d.printMessage()
	}
}
