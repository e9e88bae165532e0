// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"github.com/rtedbg/rtemsg/format"
)

// insertMin records v in the ascending extrema table when it is small
// enough. Equal values are kept so that repeated peaks show up with
// all their message numbers.
func insertMin(tbl []format.StatValue, v float64, msgNo uint32) []format.StatValue {
	if len(tbl) >= format.MinMaxValues && v >= tbl[len(tbl)-1].Value {
		return tbl
	}

	pos := 0
	for pos < len(tbl) && tbl[pos].Value <= v {
		pos++
	}

	tbl = append(tbl, format.StatValue{})
	copy(tbl[pos+1:], tbl[pos:])
	tbl[pos] = format.StatValue{Value: v, MsgNo: msgNo}
	if len(tbl) > format.MinMaxValues {
		tbl = tbl[:format.MinMaxValues]
	}
	return tbl
}

// insertMax records v in the descending extrema table when it is large
// enough.
func insertMax(tbl []format.StatValue, v float64, msgNo uint32) []format.StatValue {
	if len(tbl) >= format.MinMaxValues && v <= tbl[len(tbl)-1].Value {
		return tbl
	}

	pos := 0
	for pos < len(tbl) && tbl[pos].Value >= v {
		pos++
	}

	tbl = append(tbl, format.StatValue{})
	copy(tbl[pos+1:], tbl[pos:])
	tbl[pos] = format.StatValue{Value: v, MsgNo: msgNo}
	if len(tbl) > format.MinMaxValues {
		tbl = tbl[:format.MinMaxValues]
	}
	return tbl
}

// statsPossible reports whether a print kind yields a number worth
// accumulating.
func statsPossible(k format.PrintKind) bool {
	switch k {
	case format.PrintUint, format.PrintBinary, format.PrintInt,
		format.PrintFloat, format.PrintTimestamp, format.PrintDTime:
		return true
	}
	return false
}

// slotStatistics accumulates the extrema and the mean of one rendered
// value. Time differences are skipped until the reference message has
// been seen at least once.
func (d *Decoder) slotStatistics(p *format.Plan, s *format.Slot) {
	if s.Stats == nil || !d.valueStats {
		return
	}

	switch s.Value {
	case format.ValDTime:
		if p.Counter == 0 {
			return
		}
	case format.ValTimeDiff:
		if s.TimerFID >= 0 {
			tp := d.plans.At(uint32(s.TimerFID))
			if tp != nil && tp.Counter == 0 {
				return
			}
		}
	}

	if !statsPossible(s.Print) {
		return
	}

	st := s.Stats
	st.Min = insertMin(st.Min, d.val.f, d.msgCnt)
	st.Max = insertMax(st.Max, d.val.f, d.msgCnt)
	st.Count++
	st.Sum += d.val.f
}

// resetStatistics folds the per-restart message counters into the run
// totals and restarts the timestamp reconstruction. Called when the
// target signals a logging restart and before the final reports.
func (d *Decoder) resetStatistics() {
	d.plans.Plans(func(p *format.Plan) {
		p.CounterTotal += p.Counter
		p.Counter = 0
	})

	d.ts.searchedTo = 0
	d.ts.noPrev = true
	d.ts.mark = false
	d.ts.old = 0
	d.restartCnt = 0

	// Errors in the first message after a restart get an explanation.
	d.errWarnInMsg = d.msgCnt + 1
}
