// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"golang.org/x/xerrors"

	"github.com/rtedbg/rtemsg/format"
)

// tstampPeriod is the span of the normalized low timestamp counter.
// FMT words carry the top FIDBits-1 timestamp bits already shifted
// out, so the low part always occupies the full 32-bit range.
const tstampPeriod = 1 << 32

// tstamp tracks the reconstruction of 64-bit timestamps from the
// truncated values carried in FMT words.
type tstamp struct {
	l          uint32  // normalized low part from the current FMT word
	h          uint32  // high part, from long timestamp messages
	old        uint32  // low part of the previous accepted timestamp
	f          float64 // current message time in timestamp units
	multiplier float64 // counter ticks to seconds

	searchedTo uint32 // word index the long timestamp scan covered
	noPrev     bool   // nothing decoded since the last restart
	mark       bool   // prefix the next printed message with #
	lastInc    uint32 // message number of the last wraparound

	longFound  bool   // at least one long timestamp seen
	suspicious uint32 // messages printed with a problematic time
}

// maxPos and maxNeg bound the low-part difference between
// consecutive messages. Values outside the window mean lost data.
type tstampLimits struct {
	maxPos int64
	maxNeg int64
}

func defaultLimits() tstampLimits {
	period := float64(tstampPeriod)
	return tstampLimits{
		maxPos: int64(0.33 * period),
		maxNeg: int64(-0.33 * period),
	}
}

// overrideLimits replaces the default timestamp difference window with
// values given in milliseconds. The timer multiplier must be known, so
// this runs after the header has been parsed.
func (d *Decoder) overrideLimits(neg, pos float64) error {
	if neg >= 0 || pos <= 0 {
		return xerrors.Errorf("decode: timestamp limits must be negative;positive, got %g;%g", neg, pos)
	}
	if -neg < 0.01 || pos < 0.01 {
		return xerrors.Errorf("decode: timestamp limits below 0.01 ms: %g;%g", neg, pos)
	}

	period := tstampPeriod * d.ts.multiplier * 1e3 // in ms
	if pos > 0.33*period || -neg > 0.33*period {
		return xerrors.Errorf(
			"decode: timestamp limits above a third of the %g ms timer period: %g;%g",
			period, neg, pos,
		)
	}

	d.limits.maxPos = int64(pos / 1e3 / d.ts.multiplier)
	d.limits.maxNeg = int64(neg / 1e3 / d.ts.multiplier)
	return nil
}

// fmtIDValid reports whether data is the FMT word of a plausible
// message with dataWords DATA words, and narrows it to the format id.
func (d *Decoder) fmtIDValid(data *uint32, dataWords uint32) bool {
	if *data == emptyWord {
		return false
	}

	fid := *data >> d.hdr.FIDShift()
	*data = fid

	p := d.plans.At(fid)
	if p == nil {
		return false
	}

	length := uint32(p.MsgLen) / 4
	switch p.Kind {
	case format.MsgX:
		return true // length not known in advance
	case format.MsgN:
		if length == 0 || dataWords == 4 || dataWords&3 == length&3 {
			return true
		}
	case format.MsgExt:
		if length-1 == dataWords {
			return true
		}
	case format.Msg04:
		if length == dataWords {
			return true
		}
	}
	return false
}

// smallDifference checks the step from the previous low timestamp and
// increments hCounter when the low part wrapped around.
func (d *Decoder) smallDifference(hCounter, oldL *uint32, newL uint32) bool {
	diff := int64(newL) - int64(*oldL)

	if diff >= 0 && diff <= d.limits.maxPos {
		*oldL = newL
		return true
	}
	if diff < 0 && diff >= d.limits.maxNeg {
		// A slightly older message; keep the reference value.
		return true
	}
	if d.ts.old >= tstampPeriod/2 && diff <= -(tstampPeriod-d.limits.maxPos) {
		*hCounter++
		*oldL = newL
		return true
	}
	if d.ts.old < tstampPeriod/2 && diff >= tstampPeriod+d.limits.maxNeg {
		// Apparently from the previous period of the counter.
		return true
	}
	return false
}

// longTimestampFound scans forward for a long timestamp message and,
// when one turns up close enough in time, recovers the high part of
// the counter from it. The scan stops at the end of the buffer, at a
// streaming mark, at invalid data and at any too large time step.
func (d *Decoder) longTimestampFound() bool {
	if !d.hdr.LongTimestamps {
		return false
	}
	if d.index >= d.inSize {
		return false
	}

	data := uint32(emptyWord)
	oldL := d.ts.l
	var hCounter, dataWords uint32

	for index := d.index; index < d.inSize; {
		previous := data
		data = d.words[index]
		index++
		d.ts.searchedTo = index

		if data&1 == 0 {
			if dataWords++; dataWords > 4 {
				// No message has more than 4 DATA words per sub-packet.
				return false
			}
			continue
		}

		fid := data
		if !d.fmtIDValid(&fid, dataWords) {
			dataWords = 0
			continue // skipped during decoding as well
		}

		newL := (data &^ 1) << d.hdr.FIDBits

		if fid == d.plans.Topmost() && dataWords == 1 {
			// End of one streamed block of data.
			return false
		}

		if fid == format.FIDLongTimestamp && dataWords == 1 {
			h := previous>>1 | data<<(d.hdr.FIDBits-1)&0x80000000
			if h == emptyWord {
				// Logged by a timing restart, not a counter value.
				return false
			}
			if h < hCounter {
				return false
			}
			if !d.smallDifference(&hCounter, &oldL, newL) {
				// Transmission or logging was interrupted in between.
				return false
			}
			d.ts.h = h - hCounter
			return true
		}

		if !d.smallDifference(&hCounter, &oldL, newL) {
			return false
		}
		dataWords = 0
	}
	return false
}

// processTimestamp classifies the step from the previous message and
// updates newTimestamp when the high part of the counter is involved.
func (d *Decoder) processTimestamp(newTimestamp *uint64) {
	diff := int64(d.ts.l) - int64(d.ts.old)
	searchNext := false
	updateOld := true

	switch {
	case diff >= 0 && diff <= d.limits.maxPos:
		// A slightly newer message, no overflow.

	case diff < 0 && diff >= d.limits.maxNeg:
		updateOld = false

	case d.ts.old >= tstampPeriod/2 &&
		diff <= -(tstampPeriod-d.limits.maxPos) && !d.ts.noPrev:
		// The low part wrapped around. Require a few messages between
		// increments so that lost data cannot advance the counter.
		if d.msgCnt-d.ts.lastInc >= 4 {
			d.ts.lastInc = d.msgCnt
			d.ts.h++
		}
		*newTimestamp = uint64(d.ts.h)<<32 | uint64(d.ts.l)

	case d.ts.old < tstampPeriod/2 &&
		diff >= tstampPeriod+d.limits.maxNeg && !d.ts.noPrev:
		// A message from the previous period of the counter.
		var stamp uint32
		if d.ts.h > 0 {
			stamp = d.ts.h - 1
		}
		*newTimestamp = uint64(stamp)<<32 | uint64(d.ts.l)
		updateOld = false

	default:
		// Transmission or logging was probably interrupted.
		searchNext = true
		d.ts.mark = !d.ts.noPrev
	}

	if updateOld || d.ts.noPrev {
		d.ts.old = d.ts.l
	}

	if (searchNext && d.ts.searchedTo < d.index) || d.ts.noPrev {
		if d.longTimestampFound() {
			*newTimestamp = uint64(d.ts.h)<<32 | uint64(d.ts.l)
			d.ts.old = d.ts.l
		}
	}
}

// prepareTimestamp turns the low timestamp of the current message into
// the time value for printing.
func (d *Decoder) prepareTimestamp() {
	newTimestamp := uint64(d.ts.h)<<32 | uint64(d.ts.l)

	switch d.fid {
	case format.FIDLongTimestamp:
		d.ts.old = d.ts.l
		d.ts.longFound = true
	case d.plans.Topmost():
		// Streamed system messages carry no timestamp of their own.
	default:
		d.processTimestamp(&newTimestamp)
	}

	d.ts.noPrev = false
	d.ts.f = d.ts.multiplier * float64(newTimestamp)
}
