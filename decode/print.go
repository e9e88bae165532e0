// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rtedbg/rtemsg/format"
)

const undefinedText = "undefined"

// printTimestamp writes a time value in seconds through the configured
// template and unit.
func (d *Decoder) printTimestamp(w io.Writer, sec float64) {
	fmt.Fprintf(w, d.timeFmt, sec*d.timeMult)
}

// printMsgNo writes the running message number.
func (d *Decoder) printMsgNo(w io.Writer) {
	fmt.Fprintf(w, d.msgNoFmt, d.msgCnt)
}

// cString cuts a byte range at its first NUL.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// valueBytes returns the extracted value of a byte-sized slot as the
// bytes it occupied in the message.
func (d *Decoder) valueBytes(bits uint32) []byte {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], d.val.u)
	return p[:bits/8]
}

// printBinary64 writes a value as binary digits, most significant
// first, with an apostrophe between octets.
func printBinary64(w io.Writer, v uint64, size, max uint32) {
	if size == 0 {
		fmt.Fprintf(w, "?")
		return
	}
	if size > max {
		size = max
	}

	mask := uint64(1) << (size - 1)
	for i := uint32(0); i < size; i++ {
		if (size-i)%8 == 0 && i != 0 {
			fmt.Fprintf(w, "'")
		}
		if v&mask != 0 {
			fmt.Fprintf(w, "1")
		} else {
			fmt.Fprintf(w, "0")
		}
		mask >>= 1
	}
}

// hexGroups writes the bytes of p as hex numbers: single bytes, or
// 16-bit or 32-bit little-endian words.
func hexGroups(w io.Writer, p []byte, group int) {
	switch group {
	case 4:
		for i := 0; i+3 < len(p); i += 4 {
			fmt.Fprintf(w, "%08X ", binary.LittleEndian.Uint32(p[i:]))
		}
	case 2:
		for i := 0; i+1 < len(p); i += 2 {
			fmt.Fprintf(w, "%04X ", binary.LittleEndian.Uint16(p[i:]))
		}
	default:
		for i := 0; i < len(p); i++ {
			fmt.Fprintf(w, "%02X ", p[i])
		}
	}
}

// hexMessage hex dumps a message, 16 bytes per line with a byte offset
// in front of each.
func hexMessage(w io.Writer, b []byte, group int) {
	size := len(b)
	pad := make([]byte, (size+15)&^15)
	copy(pad, b)

	idx := 0
	if size > 16 {
		for size > 16 {
			fmt.Fprintf(w, "\n%3X: ", idx)
			hexGroups(w, pad[idx:idx+16], group)
			size -= 16
			idx += 16
		}
		fmt.Fprintf(w, "\n%3X: ", idx)
	}
	n := (size + group - 1) / group * group
	hexGroups(w, pad[idx:idx+n], group)
}

// outWriter resolves the output file of a slot. The main log is the
// default and the fallback for damaged slot data.
func (d *Decoder) outWriter(s *format.Slot) io.Writer {
	out := io.Writer(d.main)
	of := s.OutFile
	switch {
	case of >= format.NumFilters && of < d.enums.Len():
		e := d.enums.At(of)
		if e.Kind != format.EnumOutFile {
			d.saveValueError(IntOutFileKind, uint64(of), 0, "")
		} else if e.W != nil {
			out = e.W
		}
	case of != 0:
		d.saveValueError(IntOutFileRange, uint64(of), 0, "")
	}
	return out
}

// selectedText picks the index-th option from an indexed-text blob.
// Every option is stored with a one-byte length in front; a zero
// length terminates the list and the last option covers any larger
// index.
func (d *Decoder) selectedText(inFile int, index uint64) string {
	if inFile <= 0 || inFile >= d.enums.Len() {
		return ""
	}
	e := d.enums.At(inFile)
	if e.Kind != format.EnumText && e.Kind != format.EnumInFile {
		d.saveValueError(IntSelectedTextKind, uint64(inFile), 0, "")
		return ""
	}
	b := e.Text
	if len(b) == 0 || b[0] == 0 {
		d.saveValueError(IntSelectedTextNil, 0, 0, "")
		return undefinedText
	}

	n := int(b[0])
	for i := uint64(0); i < index; i++ {
		if 1+n >= len(b) || b[1+n] == 0 {
			break // already at the last option
		}
		b = b[1+n:]
		n = int(b[0])
	}
	if n == 0 || 1+n > len(b) {
		return undefinedText
	}
	return string(b[1 : 1+n])
}

// fidName returns the plan name for a format id.
func (d *Decoder) fidName(fid uint32) string {
	if p := d.plans.At(fid); p != nil {
		return p.Name
	}
	return "???"
}

func (d *Decoder) printPlainText(out io.Writer, s *format.Slot) {
	fmt.Fprintf(out, s.Format)
	if s.MainLog {
		fmt.Fprintf(d.main, s.Format)
	}
}

func (d *Decoder) printUintSlot(out io.Writer, s *format.Slot) {
	d.prepareValue(s, false)
	fmt.Fprintf(out, s.Format, d.val.u)
	if s.MainLog {
		fmt.Fprintf(d.main, s.Format, d.val.u)
	}
}

func (d *Decoder) printIntSlot(out io.Writer, s *format.Slot) {
	d.prepareValue(s, false)
	fmt.Fprintf(out, s.Format, d.val.i)
	if s.MainLog {
		fmt.Fprintf(d.main, s.Format, d.val.i)
	}
}

func (d *Decoder) printFloatSlot(out io.Writer, s *format.Slot) {
	d.prepareValue(s, false)
	fmt.Fprintf(out, s.Format, d.val.f)
	if s.MainLog {
		fmt.Fprintf(d.main, s.Format, d.val.f)
	}
}

func (d *Decoder) printStringSlot(out io.Writer, s *format.Slot) {
	var str string
	if s.Bits == 0 {
		str = cString(d.asmB[:d.asmSize])
	} else {
		d.prepareValue(s, true)
		str = cString(d.valueBytes(s.Bits))
	}
	fmt.Fprintf(out, s.Format, str)
	if s.MainLog {
		fmt.Fprintf(d.main, s.Format, str)
	}
}

func (d *Decoder) printSelectedSlot(out io.Writer, s *format.Slot) {
	d.prepareValue(s, false)
	text := d.selectedText(s.InFile, d.val.u)
	fmt.Fprintf(out, s.Format)
	io.WriteString(out, text)
	if s.MainLog {
		fmt.Fprintf(d.main, s.Format)
		io.WriteString(d.main, text)
	}
}

func (d *Decoder) printBinarySlot(out io.Writer, s *format.Slot) {
	d.prepareValue(s, false)
	fmt.Fprintf(out, s.Format)
	d.val.f = float64(d.val.u)

	if s.Value != format.ValUint && s.Value != format.ValAuto {
		d.saveValueError(ErrBinaryValueType, uint64(s.Value), 0, s.Format)
		return
	}
	printBinary64(out, d.val.u, s.Bits, s.Bits)
	if s.MainLog {
		fmt.Fprintf(d.main, s.Format)
		printBinary64(d.main, d.val.u, s.Bits, s.Bits)
	}
}

func (d *Decoder) printTimestampSlot(out io.Writer, s *format.Slot) {
	fmt.Fprintf(out, s.Format)
	d.printTimestamp(out, d.ts.f)
	d.val.f = d.ts.f
	if s.MainLog {
		// The time of the message is already in the main log line.
		fmt.Fprintf(d.main, s.Format)
	}
	if s.PutMemo != 0 {
		d.saveToMemo(s.PutMemo)
	}
}

func (d *Decoder) printDTimeSlot(out io.Writer, p *format.Plan, s *format.Slot) {
	var v float64
	if p.Counter > 0 {
		v = d.ts.f - p.LastTime
	}
	fmt.Fprintf(out, s.Format)
	d.printTimestamp(out, v)
	if s.MainLog {
		fmt.Fprintf(d.main, s.Format)
		d.printTimestamp(d.main, v)
	}
	d.val.f = v
	if s.PutMemo != 0 {
		d.saveToMemo(s.PutMemo)
	}
}

func (d *Decoder) printMsgNoSlot(out io.Writer, s *format.Slot) {
	fmt.Fprintf(out, s.Format)
	d.printMsgNo(out)
	if s.MainLog {
		fmt.Fprintf(d.main, s.Format)
	}
	if s.PutMemo != 0 {
		d.saveToMemo(s.PutMemo)
	}
}

func (d *Decoder) printMsgNameSlot(out io.Writer, s *format.Slot) {
	fmt.Fprintf(out, s.Format)
	io.WriteString(out, d.fidName(d.fid))
	if s.MainLog {
		fmt.Fprintf(d.main, s.Format)
	}
}

func (d *Decoder) printHexSlot(out io.Writer, s *format.Slot) {
	group := 1
	switch s.Print {
	case format.PrintHex2:
		group = 2
	case format.PrintHex4:
		group = 4
	}

	skip := (s.BitAddr + 7) / 8
	if d.asmSize < skip {
		return
	}
	b := d.asmB[skip:d.asmSize]

	fmt.Fprintf(out, s.Format)
	hexMessage(out, b, group)
	if s.MainLog {
		fmt.Fprintf(d.main, s.Format)
		hexMessage(d.main, b, group)
	}
}

func (d *Decoder) printBinToFileSlot(out io.Writer, s *format.Slot) {
	if s.Bits == 0 {
		fmt.Fprintf(out, s.Format)
		out.Write(d.asmB[:d.asmSize])
		if s.MainLog {
			fmt.Fprintf(d.main, s.Format)
			d.main.Write(d.asmB[:d.asmSize])
		}
		return
	}

	if s.Bits&7 != 0 {
		d.saveValueError(ErrSizeNotByteAligned, uint64(s.Bits), 8, s.Format)
		return
	}
	d.prepareValue(s, true)
	fmt.Fprintf(out, s.Format)
	out.Write(d.valueBytes(s.Bits))
	if s.MainLog {
		fmt.Fprintf(d.main, s.Format)
		d.main.Write(d.valueBytes(s.Bits))
	}
}

func (d *Decoder) printDateSlot(out io.Writer, s *format.Slot) {
	fmt.Fprintf(out, "%s%s", s.Format, d.dateString)
	if s.MainLog {
		fmt.Fprintf(d.main, "%s%s", s.Format, d.dateString)
	}
}

// renderSlot dispatches one value slot to its print routine.
func (d *Decoder) renderSlot(out io.Writer, p *format.Plan, s *format.Slot) {
	switch s.Print {
	case format.PrintText:
		d.printPlainText(out, s)
	case format.PrintString:
		d.printStringSlot(out, s)
	case format.PrintSelectedText:
		d.printSelectedSlot(out, s)
	case format.PrintUint:
		d.printUintSlot(out, s)
	case format.PrintInt:
		d.printIntSlot(out, s)
	case format.PrintFloat:
		d.printFloatSlot(out, s)
	case format.PrintBinary:
		d.printBinarySlot(out, s)
	case format.PrintTimestamp:
		d.printTimestampSlot(out, s)
	case format.PrintDTime:
		d.printDTimeSlot(out, p, s)
	case format.PrintMsgNo:
		d.printMsgNoSlot(out, s)
	case format.PrintMsgName:
		d.printMsgNameSlot(out, s)
	case format.PrintHex1, format.PrintHex2, format.PrintHex4:
		d.printHexSlot(out, s)
	case format.PrintBinToFile:
		d.printBinToFileSlot(out, s)
	case format.PrintDate:
		d.printDateSlot(out, s)
	default:
		d.saveValueError(IntBadPrintKind, uint64(s.Print), 0, s.Format)
	}
}

// logTimestamp appends the message time and its step from the previous
// message to the timestamps file.
func (d *Decoder) logTimestamp() {
	if d.tsw == nil {
		return
	}
	if d.restartCnt > 0 && d.msgErrCount == 0 {
		diff := (d.ts.f - d.prevTime) * d.timeMult
		d.printMsgNo(d.tsw)
		fmt.Fprintf(d.tsw, ";%8.6f;%g\n", d.ts.f*d.timeMult, diff)
	}
	d.prevTime = d.ts.f
}

// checkExtendedData rejects extended-data bits on message kinds that
// cannot carry them.
func (d *Decoder) checkExtendedData(k format.Kind) {
	if k == format.MsgN || k == format.MsgX {
		if d.addData != 0 {
			d.report(ErrUnwantedExtData, uint64(d.addData))
			d.addData = 0
		}
	}
}

// addTotalSize accounts the words one message instance occupied in the
// circular buffer, the FMT words included.
func (d *Decoder) addTotalSize(p *format.Plan) {
	total := d.asmWords / 4 * 5
	if r := d.asmWords & 3; r != 0 {
		total += r + 1
	}
	if total == 0 {
		total = 1
	}
	p.TotalWords += uint64(total)
}

// printMessage renders the assembled message through its decoding
// plan. The caller has verified the message length.
func (d *Decoder) printMessage() {
	d.valueNo = 0
	d.msgErrCount = 0

	p := d.plans.At(d.fid)
	if p == nil || len(p.Slots) == 0 {
		d.report(ErrNoDefinition, d.fid)
		return
	}

	d.checkExtendedData(p.Kind)

	fmt.Fprintf(d.main, "\n")
	if d.blank {
		fmt.Fprintf(d.main, "\n")
	}
	if d.ts.mark {
		fmt.Fprintf(d.main, "#")
		d.ts.mark = false
		d.ts.suspicious++
	}
	d.printMsgNo(d.main)
	fmt.Fprintf(d.main, " ")
	d.printTimestamp(d.main, d.ts.f)
	fmt.Fprintf(d.main, " %s: ", p.Name)

	for i := range p.Slots {
		s := &p.Slots[i]
		d.val = value{}
		out := d.outWriter(s)
		if s.Print != format.PrintText {
			d.valueNo++
		}
		d.renderSlot(out, p, s)
		d.slotStatistics(p, s)
	}

	d.flushValueErrors()
	// After the slots, so that messages with value errors are left out
	// of the timestamps file.
	d.logTimestamp()
	d.restartCnt++
	if d.msgErrCount > 0 {
		// Restart the long timestamp search after a damaged message.
		d.ts.noPrev = true
	}

	p.Counter++
	d.addTotalSize(p)
	p.LastTime = d.ts.f
}
