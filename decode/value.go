// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"math"

	"github.com/rtedbg/rtemsg/format"
)

// value carries the current slot value in the three shapes the print
// templates can ask for. It is reset before each slot so that a failed
// preparation prints as zero.
type value struct {
	u uint64
	i int64
	f float64
}

// scale applies the (offset, multiplier) extension of a slot. A zero
// multiplier means no scaling was requested.
func (d *Decoder) scale(s *format.Slot, data float64) {
	d.val.f = data
	if s.Mult != 0 {
		d.val.f = (data + s.Offset) * s.Mult
		d.val.i = int64(d.val.f + 0.5)
		d.val.u = uint64(d.val.f + 0.5)
	}
}

// extractBits assembles a value bit by bit, least significant first.
func extractBits(size, addr uint32, msg []byte) uint64 {
	var v uint64
	for ; size > 0; size-- {
		v >>= 1
		if msg[addr>>3]&(1<<(addr&7)) != 0 {
			v |= 1 << 63
		}
		addr++
	}
	return v
}

// extractValue pulls the bit range of a slot out of the assembled
// message into d.val, both zero and sign extended. A zero size leaves
// the value untouched; the whole message is printed instead.
func (d *Decoder) extractValue(s *format.Slot) {
	size := s.Bits
	addr := s.BitAddr

	if size == 0 {
		return
	}
	if size > 64 {
		d.saveValueError(ErrValueTooWide, uint64(size), 64, s.Format)
		return
	}
	if end := size + addr; end > d.asmSize*8 {
		d.saveValueError(ErrValuePastEnd, uint64(end), uint64(d.asmSize)*8, s.Format)
		return
	}

	var v uint64
	if (size|addr)&7 == 0 {
		// Both byte aligned: collect whole bytes.
		for i, n := addr>>3, size>>3; n > 0; n-- {
			v >>= 8
			v |= uint64(d.asmB[i]) << 56
			i++
		}
	} else {
		v = extractBits(size, addr, d.asmB)
	}

	shift := 64 - s.Bits
	d.val.u = v >> shift
	d.val.i = int64(v) >> shift
}

// halfToFloat widens an IEEE 754 half precision value.
func halfToFloat(h uint16) float32 {
	mant := uint32(h) & 0x03FF
	exp := uint32(h) & 0x7C00

	switch {
	case exp == 0x7C00: // NaN or Inf
		exp = 0x3FC00
	case exp != 0: // normalized
		exp += 0x1C000 // exponent rebias, 15 to 127
		if mant == 0 && exp > 0x1C400 {
			return math.Float32frombits(
				(uint32(h)&0x8000)<<16 | exp<<13 | 0x3FF)
		}
	case mant != 0: // subnormal
		exp = 0x1C400
		for mant&0x400 == 0 {
			mant <<= 1
			exp -= 0x400
		}
		mant &= 0x3FF
	}
	return math.Float32frombits((uint32(h)&0x8000)<<16 | (exp|mant)<<13)
}

// prepareAuto handles slots without an explicit value specifier: a
// 32-bit value at an aligned cursor, reinterpreted per the print kind.
func (d *Decoder) prepareAuto(s *format.Slot) bool {
	if s.BitAddr%32 != 0 {
		d.saveValueError(ErrAutoValueAddr, uint64(s.BitAddr), 32, s.Format)
		return false
	}
	if s.Bits != 32 {
		d.saveValueError(ErrAutoValueSize, uint64(s.Bits), 32, s.Format)
		return false
	}
	if s.Mult != 0 {
		d.saveValueError(ErrAutoValueScaled, 0, 0, s.Format)
		return false
	}

	d.extractValue(s)

	switch s.Print {
	case format.PrintFloat:
		f := float64(math.Float32frombits(uint32(d.val.u)))
		d.scale(s, f)
	case format.PrintInt:
		d.scale(s, float64(d.val.i))
	case format.PrintUint, format.PrintBinary, format.PrintSelectedText:
		d.scale(s, float64(d.val.u))
	case format.PrintString:
		// The raw bytes in d.val.u are printed as they are.
	default:
		d.saveValueError(IntBadPrintKind, uint64(s.Print), 0, s.Format)
	}
	return true
}

// prepareFloat extracts a half, single or double precision value.
func (d *Decoder) prepareFloat(s *format.Slot) {
	switch s.Bits {
	case 16:
		d.extractValue(s)
		d.val.f = float64(halfToFloat(uint16(d.val.u)))
	case 32:
		d.extractValue(s)
		d.val.f = float64(math.Float32frombits(uint32(d.val.u)))
	case 64:
		d.extractValue(s)
		d.val.f = math.Float64frombits(d.val.u)
	default:
		d.saveValueError(ErrBadFloatSize, uint64(s.Bits), 0, s.Format)
		return
	}
	d.scale(s, d.val.f)
}

// prepareMemo loads a memorized value.
func (d *Decoder) prepareMemo(s *format.Slot) {
	m := s.GetMemo
	if m < format.NumFilters || m >= d.enums.Len() {
		d.saveValueError(IntMemoRange, uint64(m), 0, s.Format)
		return
	}
	e := d.enums.At(m)
	if e.Name == "" || e.Kind != format.EnumMemo {
		d.saveValueError(IntGetMemoKind, uint64(m), 0, s.Format)
		return
	}
	d.val.f = e.Value
	d.val.i = int64(d.val.f)
	d.val.u = uint64(d.val.f)
	d.scale(s, d.val.f)
}

// saveToMemo stores the current value into a memo cell.
func (d *Decoder) saveToMemo(m int) {
	if m < format.NumFilters || m >= d.enums.Len() {
		d.saveValueError(IntMemoRange, uint64(m), 0, "")
		return
	}
	e := d.enums.At(m)
	if e.Kind != format.EnumMemo {
		d.saveValueError(IntSetMemoKind, uint64(m), 0, "")
		return
	}
	e.Value = d.val.f
}

// prepareTimePeriod computes the time since the previous instance of
// the current message.
func (d *Decoder) prepareTimePeriod(s *format.Slot) {
	p := d.plans.At(d.fid)
	if p == nil {
		return
	}
	if p.Counter > 0 {
		d.scale(s, d.ts.f-p.LastTime)
	}
}

// prepareTimeDiff computes the time since the last instance of the
// message named in the slot.
func (d *Decoder) prepareTimeDiff(s *format.Slot) {
	if s.TimerFID < 0 {
		return
	}
	p := d.plans.At(uint32(s.TimerFID))
	if p == nil {
		return
	}
	if p.Counter > 0 {
		diff := d.ts.f - p.LastTime
		d.val.u = uint64(diff)
		d.val.i = int64(diff)
		d.scale(s, diff)
	}
}

// checkAlignment reports byte-alignment problems for the print kinds
// that address the message in bytes.
func (d *Decoder) checkAlignment(s *format.Slot) {
	if s.Bits&7 != 0 {
		d.saveValueError(ErrSizeNotByteAligned, uint64(s.Bits), 8, s.Format)
		return
	}
	if s.BitAddr&7 != 0 {
		d.saveValueError(ErrAddrNotByteAligned, uint64(s.BitAddr), 8, s.Format)
	}
}

// prepareValue fills d.val for one slot. When byteAligned is set the
// slot must address the message on byte boundaries.
func (d *Decoder) prepareValue(s *format.Slot, byteAligned bool) {
	if byteAligned {
		d.checkAlignment(s)
	}

	switch s.Value {
	case format.ValAuto:
		if !d.prepareAuto(s) {
			return
		}

	case format.ValInt:
		if s.Bits < 2 {
			d.saveValueError(ErrIntTooNarrow, uint64(s.Bits), 1, s.Format)
			return
		}
		d.extractValue(s)
		d.scale(s, float64(d.val.i))

	case format.ValUint:
		if s.Bits < 1 {
			d.saveValueError(ErrUintTooNarrow, uint64(s.Bits), 0, s.Format)
			return
		}
		d.extractValue(s)
		d.scale(s, float64(d.val.u))

	case format.ValFloat:
		d.prepareFloat(s)

	case format.ValString:
		// A zero length selects the whole message during printing.
		d.extractValue(s)

	case format.ValDTime:
		d.prepareTimePeriod(s)

	case format.ValTimestamp:
		d.scale(s, d.ts.f)

	case format.ValMemo:
		d.prepareMemo(s)

	case format.ValMsgNo:
		d.val.u = uint64(d.msgCnt)
		d.val.i = int64(d.msgCnt)
		d.val.f = float64(d.msgCnt)

	case format.ValTimeDiff:
		d.prepareTimeDiff(s)

	default:
		d.saveValueError(IntBadValueKind, uint64(s.Value), 0, s.Format)
		return
	}

	if s.PutMemo != 0 {
		d.saveToMemo(s.PutMemo)
	}
}
