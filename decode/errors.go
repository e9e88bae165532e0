// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"fmt"
	"io"
	"sort"
)

// Decoding problems are numbered from 200 upward. Problems found while
// walking the raw word stream are reported immediately; problems found
// while rendering the values of one message are collected and printed
// after the message text.
const (
	ErrBadBlock = 200 + iota
	ErrUnfinishedBlock
	ErrMessageTooLong
	ErrNoDefinition
	ErrBadSystemMessage
	ErrUnknownSysCode
	ErrTimestampFreqZero
	ErrSizeMismatch
	ErrUnwantedExtData
	ErrMsgxEmpty
	ErrMsgxTooLarge
	ErrMsgxTooSmall
	ErrMsgxCorrupted
	ErrValueTooWide
	ErrValuePastEnd
	ErrAutoValueAddr
	ErrAutoValueSize
	ErrAutoValueScaled
	ErrBadFloatSize
	ErrIntTooNarrow
	ErrUintTooNarrow
	ErrSizeNotByteAligned
	ErrAddrNotByteAligned
	ErrBinaryValueType
	ErrShortRead
	ErrIndexOutOfRange
	ErrTooMuchData
	ErrNotEnoughData
	ErrFileTruncated
	ErrIndexNotZero
	ErrSingleShotActive
)

// Internal inconsistencies between the compiled format tables and the
// decoding state. They indicate a compiler defect, not bad input data.
const (
	IntBadValueKind = 290 + iota
	IntBadPrintKind
	IntBadSysMessage
	IntGetMemoKind
	IntSetMemoKind
	IntMemoRange
	IntOutFileKind
	IntOutFileRange
	IntSelectedTextKind
	IntSelectedTextNil
)

var decodeText = map[int]string{
	ErrBadBlock:           "block of %d words without a valid format definition",
	ErrUnfinishedBlock:    "%d words of unfinished or erased messages skipped",
	ErrMessageTooLong:     "message longer than the logging limit (format id %d)",
	ErrNoDefinition:       "no formatting definition for format id %d",
	ErrBadSystemMessage:   "system message has %d bytes (want 4)",
	ErrUnknownSysCode:     "unknown streaming system code %d",
	ErrTimestampFreqZero:  "timestamp frequency message with zero value",
	ErrSizeMismatch:       "message size %d does not match the %d bytes of the definition",
	ErrUnwantedExtData:    "unexpected extended data bits %#x",
	ErrMsgxEmpty:          "extended-size message contains no data",
	ErrMsgxTooLarge:       "logged size %d exceeds the %d received bytes",
	ErrMsgxTooSmall:       "logged size %d below the %d byte minimum",
	ErrMsgxCorrupted:      "extended-size message has non-zero padding",
	ErrValueTooWide:       "value size %d exceeds %d bits",
	ErrValuePastEnd:       "value ends at bit %d past the %d message bits",
	ErrAutoValueAddr:      "automatic value address %d not divisible by %d",
	ErrAutoValueSize:      "automatic value size %d (want %d bits)",
	ErrAutoValueScaled:    "automatic value cannot be scaled",
	ErrBadFloatSize:       "float size %d (want 16, 32 or 64)",
	ErrIntTooNarrow:       "signed value size %d (want at least 2 bits)",
	ErrUintTooNarrow:      "unsigned value size %d (want at least 1 bit)",
	ErrSizeNotByteAligned: "value size %d not divisible by %d",
	ErrAddrNotByteAligned: "value address %d not divisible by %d",
	ErrBinaryValueType:    "binary output needs an unsigned value",
	ErrShortRead:          "could only read %d words from the data file",
	ErrIndexOutOfRange:    "write index %d outside the circular buffer",
	ErrTooMuchData:        "data file larger than the %d word buffer of the header",
	ErrNotEnoughData:      "data file smaller than the %d word buffer of the header",
	ErrFileTruncated:      "data truncated to %d bytes",
	ErrIndexNotZero:       "streaming data with non-zero write index %d",
	ErrSingleShotActive:   "single shot was active but is not enabled in the firmware",

	IntBadValueKind:     "internal: bad value kind %d",
	IntBadPrintKind:     "internal: bad print kind %d",
	IntBadSysMessage:    "internal: undecodable system message",
	IntGetMemoKind:      "internal: memo read from a non-memo slot %d",
	IntSetMemoKind:      "internal: memo write to a non-memo slot %d",
	IntMemoRange:        "internal: memo index %d out of range",
	IntOutFileKind:      "internal: output slot %d is not a file",
	IntOutFileRange:     "internal: output file index %d out of range",
	IntSelectedTextKind: "internal: text selection from slot %d",
	IntSelectedTextNil:  "internal: empty indexed text",
}

// DecodeText returns the report text for a decoding problem code.
func DecodeText(code int) string {
	if t, ok := decodeText[code]; ok {
		return t
	}
	return "unknown decoding error"
}

// countVerbs returns the number of conversions in a report template,
// capped at the two stored operands.
func countVerbs(text string) int {
	n := 0
	for i := 0; i+1 < len(text); i++ {
		if text[i] != '%' {
			continue
		}
		if text[i+1] == '%' {
			i++
			continue
		}
		n++
	}
	if n > 2 {
		n = 2
	}
	return n
}

// maxMsgErrors bounds the number of value errors reported for a
// single message. Further errors are counted but not stored.
const maxMsgErrors = 10

type valueError struct {
	code int
	a, b uint64
	spec string // conversion specification being rendered
	no   int    // ordinal of the value within the message
}

// countErr tallies one decoding problem, total and per code.
func (d *Decoder) countErr(code int) {
	d.errTotal++
	if d.errCount == nil {
		d.errCount = make(map[int]int)
	}
	d.errCount[code]++
}

// saveValueError records a problem found while rendering one value of
// the current message.
func (d *Decoder) saveValueError(code int, a, b uint64, spec string) {
	if d.msgErrCount < maxMsgErrors {
		d.msgErrs[d.msgErrCount] = valueError{
			code: code, a: a, b: b, spec: spec, no: d.valueNo,
		}
	}
	d.msgErrCount++
	d.countErr(code)
}

// flushValueErrors prints the errors collected for the current message
// to the error log and resets the per-message state.
func (d *Decoder) flushValueErrors() {
	if d.msgErrCount == 0 {
		return
	}
	n := d.msgErrCount
	if n > maxMsgErrors {
		n = maxMsgErrors
	}
	for i := 0; i < n; i++ {
		e := &d.msgErrs[i]
		text := DecodeText(e.code)
		args := []interface{}{e.a, e.b}
		fmt.Fprintf(d.errw, "msg ")
		fmt.Fprintf(d.errw, d.msgNoFmt, d.msgCnt)
		fmt.Fprintf(d.errw, " value %d: ERR_%d ", e.no, e.code)
		fmt.Fprintf(d.errw, text, args[:countVerbs(text)]...)
		if e.spec != "" {
			fmt.Fprintf(d.errw, " => %q", e.spec)
		}
		fmt.Fprintln(d.errw)
	}
	if d.msgErrCount > maxMsgErrors {
		fmt.Fprintf(d.errw, "msg ")
		fmt.Fprintf(d.errw, d.msgNoFmt, d.msgCnt)
		fmt.Fprintf(d.errw, ": %d further errors suppressed\n", d.msgErrCount-maxMsgErrors)
	}
	fmt.Fprintf(d.main, " *** decoding errors, see the error log ***")
}

// report writes a stream-level problem to the error log and counts it.
func (d *Decoder) report(code int, args ...interface{}) {
	d.countErr(code)
	fmt.Fprintf(d.errw, "msg ")
	fmt.Fprintf(d.errw, d.msgNoFmt, d.msgCnt)
	fmt.Fprintf(d.errw, ": ERR_%d ", code)
	fmt.Fprintf(d.errw, DecodeText(code), args...)
	fmt.Fprintln(d.errw)
	if d.msg != nil {
		var b []byte
		b = append(b, fmt.Sprintf("ERR_%d ", code)...)
		b = append(b, fmt.Sprintf(DecodeText(code), args...)...)
		d.msg.Print(string(b))
	}
}

// NErrors returns the total number of decoding problems found so far.
func (d *Decoder) NErrors() int { return d.errTotal }

// writeErrorSummary prints the end-of-run error tally: the total to
// the main log and a per-code breakdown with the catalogue text to
// the error log.
func (d *Decoder) writeErrorSummary() {
	if d.errTotal == 0 {
		fmt.Fprintf(d.main, "\nno errors detected")
		return
	}
	fmt.Fprintf(d.main, "\n%d total errors", d.errTotal)

	codes := make([]int, 0, len(d.errCount))
	for code := range d.errCount {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Fprintf(d.errw, "\nerror summary:\n")
	for _, code := range codes {
		fmt.Fprintf(d.errw, "%5d ERR_%d %s\n", d.errCount[code], code, DecodeText(code))
	}
}

// hexDump writes the words of the current message to w, eight per line.
func hexDump(w io.Writer, words []uint32) {
	for i, v := range words {
		if i%8 == 0 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%4X:", i*4)
		}
		fmt.Fprintf(w, " %08X", v)
	}
	if len(words) > 0 {
		fmt.Fprintln(w)
	}
}

// dumpCurrentMessage hex dumps the assembled words of the current
// message to the error log, and to the main log when toMain is set.
func (d *Decoder) dumpCurrentMessage(toMain bool) {
	words := d.asm[:d.asmWords]
	hexDump(d.errw, words)
	if toMain {
		hexDump(d.main, words)
	}
}
