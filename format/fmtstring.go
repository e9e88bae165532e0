// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"fmt"
	"strconv"
	"strings"
)

// parseFmtText handles a quoted format string directive, compiling
// it into value slots appended to the pending message plan.
func (c *Compiler) parseFmtText(fs *fileState, ls *lineScan) bool {
	raw, ok := ls.quoted()
	if !ok {
		c.report(fs, ls.pos, ErrMissingQuote, ls.rest())
		return false
	}
	if c.cur == nil {
		c.report(fs, ls.pos, ErrNoMsgDefined, raw)
		return false
	}
	text, ok := processEscapes(raw)
	if !ok {
		c.report(fs, ls.pos, ErrBadEscape, raw)
		return false
	}

	ok = c.compileFmt(fs, text)

	// file selections apply to one format string only
	c.inSel = 0
	c.outSel = 0
	c.mainDup = false
	return ok
}

// compileFmt scans one format string, emitting one value slot per
// %-run plus a trailing slot for any un-capped literal.
func (c *Compiler) compileFmt(fs *fileState, text string) bool {
	plan := c.cur
	var lit strings.Builder
	appendTo := -1 // slot collecting trailing literal, -1 for none

	for i := 0; i < len(text); {
		ch := text[i]
		if ch != '%' {
			if appendTo >= 0 {
				plan.Slots[appendTo].Format += string(ch)
			} else {
				lit.WriteByte(ch)
			}
			i++
			continue
		}
		if i+1 < len(text) && text[i+1] == '%' {
			if appendTo >= 0 {
				plan.Slots[appendTo].Format += "%%"
			} else {
				lit.WriteString("%%")
			}
			i += 2
			continue
		}

		appendTo = -1
		i++
		slot, n, code, ctx := c.parseSlot(plan, text[i:])
		if code != 0 {
			c.report(fs, i, code, ctx)
			return false
		}
		i += n

		slot.Format = lit.String() + slot.Format
		lit.Reset()
		plan.Slots = append(plan.Slots, slot)
		if printfKind(slot.Print) {
			appendTo = len(plan.Slots) - 1
		}
	}

	if lit.Len() > 0 {
		plan.Slots = append(plan.Slots, Slot{
			Print:   PrintText,
			Format:  lit.String(),
			OutFile: c.outSel,
			MainLog: c.mainDup,
			TimerFID: -1,
		})
	}
	return true
}

// printfKind reports whether the print kind renders through a
// printf-style template, so trailing literal text belongs to it.
func printfKind(k PrintKind) bool {
	switch k {
	case PrintUint, PrintInt, PrintFloat, PrintString:
		return true
	}
	return false
}

// parseSlot parses one %-run (extensions, printf flags, type char)
// starting just after the '%'. It returns the slot, the number of
// input bytes consumed, and a parse error code with context on failure.
func (c *Compiler) parseSlot(plan *Plan, s string) (Slot, int, int, string) {
	slot := Slot{
		OutFile:  c.outSel,
		MainLog:  c.mainDup,
		TimerFID: -1,
	}
	var (
		haveSpec  bool // [...] seen
		haveScale bool
		haveText  bool
		haveMemo  bool
		haveStat  bool
		valueSet  bool
		bitField  bool
	)

	i := 0
ext:
	for i < len(s) {
		switch s[i] {
		case '[':
			if haveSpec {
				return slot, i, ErrDupExtension, s
			}
			haveSpec = true
			j := strings.IndexByte(s[i:], ']')
			if j < 0 {
				return slot, i, ErrBadValueSpec, s
			}
			body := s[i+1 : i+j]
			i += j + 1
			code := c.parseValueSpec(&slot, body, &bitField)
			if code != 0 {
				return slot, i, code, body
			}
			valueSet = true

		case '(':
			if haveScale {
				return slot, i, ErrDupExtension, s
			}
			haveScale = true
			j := strings.IndexByte(s[i:], ')')
			if j < 0 {
				return slot, i, ErrBadScaling, s
			}
			body := s[i+1 : i+j]
			i += j + 1
			code := parseScaling(&slot, body)
			if code != 0 {
				return slot, i, code, body
			}

		case '{':
			if haveText {
				return slot, i, ErrDupExtension, s
			}
			haveText = true
			j := strings.IndexByte(s[i:], '}')
			if j < 0 {
				return slot, i, ErrBadIndexedText, s
			}
			body := s[i+1 : i+j]
			i += j + 1
			code := c.internInlineText(plan, &slot, body)
			if code != 0 {
				return slot, i, code, body
			}

		case '<':
			if haveMemo {
				return slot, i, ErrDupExtension, s
			}
			haveMemo = true
			j := strings.IndexByte(s[i:], '>')
			if j < 0 {
				return slot, i, ErrBadMemoStore, s
			}
			name := s[i+1 : i+j]
			i += j + 1
			idx := c.Enums.Find(name, EnumMemo)
			if !strings.HasPrefix(name, "M_") || idx < 0 {
				return slot, i, ErrBadMemoStore, name
			}
			slot.PutMemo = idx

		case '|':
			if haveStat {
				return slot, i, ErrDupExtension, s
			}
			haveStat = true
			j := strings.IndexByte(s[i+1:], '|')
			if j < 0 {
				return slot, i, ErrBadStatName, s
			}
			name := s[i+1 : i+1+j]
			i += j + 2
			for k := 0; k < len(name); k++ {
				if !isNameChar(name[k]) {
					return slot, i, ErrBadStatName, name
				}
			}
			if name == "" {
				name = fmt.Sprintf("%s.%d", plan.Name, len(plan.Slots))
			}
			slot.Stats = &Stats{Name: name}

		default:
			break ext
		}
	}

	if haveScale && !bitField {
		return slot, i, ErrScalingNeedsSpec, s
	}

	// printf flags, width and precision
	start := i
	hexMode := byte(0)
	for i < len(s) && strings.IndexByte("-+# 0123456789.hl", s[i]) >= 0 {
		if s[i] == '1' || s[i] == '2' || s[i] == '4' {
			hexMode = s[i]
		}
		i++
	}
	flags := s[start:i]
	if i >= len(s) {
		return slot, i, ErrBadTypeChar, s
	}
	typ := s[i]
	i++

	code := c.finishSlot(plan, &slot, typ, flags, hexMode, valueSet, haveText)
	if code != 0 {
		return slot, i, code, s[:i]
	}

	// advance the running bit cursor past extracted bits
	if slot.Bits > 0 {
		switch slot.Value {
		case ValAuto, ValUint, ValInt, ValFloat, ValString:
			c.bitCursor = slot.BitAddr + slot.Bits
		}
	}

	if n := msgBits(plan); n > 0 && slot.Bits > 0 &&
		slot.BitAddr+slot.Bits > n {
		return slot, i, ErrSlotPastMsgEnd, s[:i]
	}
	return slot, i, 0, ""
}

// msgBits returns the known message size in bits, or 0 when the
// length is open (MSGX, MSGN without a static length).
func msgBits(p *Plan) uint32 {
	switch p.Kind {
	case MsgX:
		return 0
	case MsgN:
		if p.MsgLen == 0 {
			return 0
		}
	}
	return p.MsgLen * 8
}

// parseValueSpec interprets the [...] value specifier.
func (c *Compiler) parseValueSpec(slot *Slot, body string, bitField *bool) int {
	switch {
	case body == "N":
		slot.Value = ValMsgNo
		return 0
	case body == "t":
		slot.Value = ValTimestamp
		return 0
	case body == "T":
		slot.Value = ValDTime
		return 0
	case strings.HasPrefix(body, "t-"):
		p := c.byName[body[2:]]
		if p == nil {
			return ErrUnknownName
		}
		slot.Value = ValTimeDiff
		slot.TimerFID = int(p.FID)
		return 0
	case strings.HasPrefix(body, "M_"):
		idx := c.Enums.Find(body, EnumMemo)
		if idx < 0 {
			return ErrUnknownName
		}
		slot.Value = ValMemo
		slot.GetMemo = idx
		return 0
	}

	// bit-field form: [[+|-]addr:size<type>] or [size<type>]
	*bitField = true
	k := 0
	var sign byte
	if k < len(body) && (body[k] == '+' || body[k] == '-') {
		sign = body[k]
		k++
	}
	j := k
	for j < len(body) && body[j] >= '0' && body[j] <= '9' {
		j++
	}
	if j == k {
		return ErrBadValueSpec
	}
	num1, err := strconv.ParseUint(body[k:j], 10, 32)
	if err != nil {
		return ErrBadValueSpec
	}
	k = j

	var size uint64
	if k < len(body) && body[k] == ':' {
		k++
		j = k
		for j < len(body) && body[j] >= '0' && body[j] <= '9' {
			j++
		}
		if j == k {
			return ErrBadValueSpec
		}
		size, err = strconv.ParseUint(body[k:j], 10, 32)
		if err != nil {
			return ErrBadValueSpec
		}
		k = j

		switch sign {
		case '+':
			c.bitCursor += uint32(num1)
		case '-':
			if uint32(num1) > c.bitCursor {
				return ErrBadBitAddress
			}
			c.bitCursor -= uint32(num1)
		default:
			c.bitCursor = uint32(num1)
		}
	} else {
		if sign != 0 {
			return ErrBadValueSpec
		}
		size = num1
	}

	typ := byte('u')
	if k < len(body) {
		typ = body[k]
		k++
	}
	if k != len(body) {
		return ErrBadValueSpec
	}
	if size < 1 || size > 64 {
		return ErrBadBitSize
	}

	slot.BitAddr = c.bitCursor
	slot.Bits = uint32(size)

	switch typ {
	case 'u':
		slot.Value = ValUint
	case 'i':
		slot.Value = ValInt
	case 'f':
		if size != 16 && size != 32 && size != 64 {
			return ErrFloatBitSize
		}
		if slot.BitAddr%8 != 0 {
			return ErrUnalignedFloat
		}
		slot.Value = ValFloat
	case 's':
		if slot.BitAddr%8 != 0 || size%8 != 0 {
			return ErrUnalignedString
		}
		slot.Value = ValString
	default:
		return ErrBadValueSpec
	}
	return 0
}

// parseScaling interprets the (±offset*mult) extension.
func parseScaling(slot *Slot, body string) int {
	k := 0
	var (
		haveOff, haveMult bool
		off               float64
		mult              = 1.0
	)
	if k < len(body) && (body[k] == '+' || body[k] == '-') {
		j := k + 1
		for j < len(body) && body[j] != '*' {
			j++
		}
		v, err := strconv.ParseFloat(body[k:j], 64)
		if err != nil {
			return ErrBadScaling
		}
		off = v
		haveOff = true
		k = j
	}
	if k < len(body) && body[k] == '*' {
		v, err := strconv.ParseFloat(body[k+1:], 64)
		if err != nil {
			return ErrBadScaling
		}
		if v == 0 {
			return ErrZeroMultiplier
		}
		mult = v
		haveMult = true
		k = len(body)
	}
	if k != len(body) || (!haveOff && !haveMult) {
		return ErrBadScaling
	}
	slot.Offset = off
	slot.Mult = mult
	return 0
}

// internInlineText stores a {a|b|c} inline selection as an
// indexed-text enum entry.
func (c *Compiler) internInlineText(plan *Plan, slot *Slot, body string) int {
	opts := strings.Split(body, "|")
	blob, err := indexedText(opts)
	if err != nil {
		return ErrBadIndexedText
	}
	name := fmt.Sprintf("%s_y%d", plan.Name, c.ySeq)
	c.ySeq++
	idx, err := c.Enums.Intern(name, EnumText)
	if err != nil {
		return ErrBadIndexedText
	}
	c.Enums.At(idx).Text = blob
	slot.InFile = idx
	return 0
}

// finishSlot resolves the print kind from the type character and the
// default value kind when no specifier was given.
func (c *Compiler) finishSlot(plan *Plan, slot *Slot, typ byte, flags string, hexMode byte, valueSet, haveText bool) int {
	autoValue := func() int {
		if valueSet {
			return 0
		}
		if c.bitCursor%32 != 0 {
			return ErrUnalignedAuto
		}
		slot.Value = ValAuto
		slot.BitAddr = c.bitCursor
		slot.Bits = 32
		return 0
	}

	if haveText && typ != 'Y' {
		return ErrTextOnlyForY
	}

	switch typ {
	case 'd', 'i':
		slot.Print = PrintInt
		slot.Format = printfSpec(flags, typ)
		return autoValue()
	case 'o', 'u', 'x', 'X', 'c':
		slot.Print = PrintUint
		slot.Format = printfSpec(flags, typ)
		return autoValue()
	case 'e', 'E', 'f', 'F', 'g', 'G', 'a', 'A':
		slot.Print = PrintFloat
		slot.Format = printfSpec(flags, typ)
		return autoValue()
	case 's':
		slot.Print = PrintString
		slot.Format = printfSpec(flags, typ)
		if !valueSet {
			slot.Value = ValString
			slot.BitAddr = c.bitCursor
			slot.Bits = 0 // whole message
		}
		return 0

	case 't':
		slot.Print = PrintTimestamp
		if !valueSet {
			slot.Value = ValTimestamp
		}
		return 0
	case 'T':
		slot.Print = PrintDTime
		if !valueSet {
			slot.Value = ValDTime
		}
		return 0
	case 'N':
		slot.Print = PrintMsgNo
		if !valueSet {
			slot.Value = ValMsgNo
		}
		return 0
	case 'W':
		slot.Print = PrintBinToFile
		if !valueSet {
			slot.Value = ValUint
			slot.BitAddr = c.bitCursor
			slot.Bits = 0 // whole message
		}
		if slot.Bits%8 != 0 {
			return ErrBadBitSize
		}
		return 0
	case 'H':
		switch hexMode {
		case '2':
			slot.Print = PrintHex2
		case '4':
			slot.Print = PrintHex4
		default:
			slot.Print = PrintHex1
		}
		if !valueSet {
			slot.BitAddr = c.bitCursor
		}
		if slot.BitAddr%8 != 0 {
			return ErrUnalignedHex
		}
		slot.Value = ValUint
		slot.Bits = 0
		return 0
	case 'Y':
		slot.Print = PrintSelectedText
		if slot.InFile == 0 {
			slot.InFile = c.inSel
		}
		if slot.InFile == 0 {
			return ErrBadIndexedText
		}
		return autoValue()
	case 'B':
		slot.Print = PrintBinary
		return autoValue()
	case 'D':
		slot.Print = PrintDate
		return 0
	case 'M':
		slot.Print = PrintMsgName
		return 0
	}
	return ErrBadTypeChar
}

// printfSpec rewrites a C printf conversion into the host runtime's
// equivalent: length modifiers dropped, i/u/a/A mapped to their
// closest verbs.
func printfSpec(flags string, typ byte) string {
	var b strings.Builder
	b.WriteByte('%')
	for i := 0; i < len(flags); i++ {
		switch flags[i] {
		case 'h', 'l':
			continue
		}
		b.WriteByte(flags[i])
	}
	switch typ {
	case 'i', 'u':
		b.WriteByte('d')
	case 'a':
		b.WriteByte('x')
	case 'A':
		b.WriteByte('X')
	default:
		b.WriteByte(typ)
	}
	return b.String()
}
