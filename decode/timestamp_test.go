// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"testing"
)

func TestDefaultLimits(t *testing.T) {
	l := defaultLimits()
	period := float64(tstampPeriod)
	if got, want := l.maxPos, int64(0.33*period); got != want {
		t.Errorf("got max-pos=%d, want=%d", got, want)
	}
	if got, want := l.maxNeg, int64(-0.33*period); got != want {
		t.Errorf("got max-neg=%d, want=%d", got, want)
	}
	if l.maxNeg >= 0 || l.maxPos <= 0 {
		t.Fatalf("limits have the wrong sign: %+v", l)
	}
}

func TestOverrideLimits(t *testing.T) {
	var d Decoder
	d.ts.multiplier = 1e-6 // 1 us per low counter step
	d.limits = defaultLimits()

	if err := d.overrideLimits(-10, 100); err != nil {
		t.Fatalf("could not override limits: %+v", err)
	}
	if got, want := d.limits.maxPos, int64(100000); got != want {
		t.Errorf("got max-pos=%d, want=%d", got, want)
	}
	if got, want := d.limits.maxNeg, int64(-10000); got != want {
		t.Errorf("got max-neg=%d, want=%d", got, want)
	}

	for _, tc := range []struct{ neg, pos float64 }{
		{neg: 0.5, pos: 1},    // neg not negative
		{neg: -1, pos: -1},    // pos not positive
		{neg: -0.001, pos: 5}, // below resolution
		{neg: -10, pos: 2e6},  // above a third of the timer period
	} {
		if err := d.overrideLimits(tc.neg, tc.pos); err == nil {
			t.Errorf("neg=%g pos=%g: expected an error", tc.neg, tc.pos)
		}
	}
}

func TestSmallDifference(t *testing.T) {
	for _, tc := range []struct {
		name     string
		old, new uint32
		ok       bool
		wantH    uint32
		wantOld  uint32
	}{
		{
			name: "forward", old: 1000, new: 2000,
			ok: true, wantH: 0, wantOld: 2000,
		},
		{
			name: "slightly-older", old: 2000, new: 1500,
			ok: true, wantH: 0, wantOld: 2000,
		},
		{
			name: "wraparound", old: 0xF0000000, new: 0x00000100,
			ok: true, wantH: 1, wantOld: 0x00000100,
		},
		{
			name: "previous-period", old: 0x00000100, new: 0xF8000000,
			ok: true, wantH: 0, wantOld: 0x00000100,
		},
		{
			name: "interrupted", old: 0, new: 0x80000000,
			ok: false,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var d Decoder
			d.limits = defaultLimits()
			d.ts.old = tc.old

			var h uint32
			oldL := tc.old
			ok := d.smallDifference(&h, &oldL, tc.new)
			if ok != tc.ok {
				t.Fatalf("got ok=%v, want=%v", ok, tc.ok)
			}
			if !tc.ok {
				return
			}
			if got, want := h, tc.wantH; got != want {
				t.Errorf("got h=%d, want=%d", got, want)
			}
			if got, want := oldL, tc.wantOld; got != want {
				t.Errorf("got old=%#x, want=%#x", got, want)
			}
		})
	}
}

func TestProcessTimestamp(t *testing.T) {
	for _, tc := range []struct {
		name     string
		old, low uint32
		h        uint32
		noPrev   bool
		want     uint64
		wantOld  uint32
		wantMark bool
	}{
		{
			name: "forward", old: 1000, low: 2000, h: 3,
			want: 3<<32 | 2000, wantOld: 2000,
		},
		{
			name: "slightly-older", old: 2000, low: 1500, h: 3,
			want: 3<<32 | 1500, wantOld: 2000,
		},
		{
			name: "wraparound", old: 0xF0000000, low: 0x00000100, h: 3,
			want: 4<<32 | 0x100, wantOld: 0x100,
		},
		{
			name: "previous-period", old: 0x00000100, low: 0xF8000000, h: 2,
			want: 1<<32 | 0xF8000000, wantOld: 0x100,
		},
		{
			name: "interrupted", old: 0, low: 0x80000000, h: 0,
			want: 0x80000000, wantOld: 0x80000000, wantMark: true,
		},
		{
			name: "first-message", old: 0, low: 0x80000000, noPrev: true,
			want: 0x80000000, wantOld: 0x80000000,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var d Decoder
			d.limits = defaultLimits()
			d.ts.old = tc.old
			d.ts.l = tc.low
			d.ts.h = tc.h
			d.ts.noPrev = tc.noPrev
			d.msgCnt = 10 // enough distance from the last wraparound

			stamp := uint64(d.ts.h)<<32 | uint64(d.ts.l)
			d.processTimestamp(&stamp)

			if got, want := stamp, tc.want; got != want {
				t.Errorf("got stamp=%#x, want=%#x", got, want)
			}
			if got, want := d.ts.old, tc.wantOld; got != want {
				t.Errorf("got old=%#x, want=%#x", got, want)
			}
			if got, want := d.ts.mark, tc.wantMark; got != want {
				t.Errorf("got mark=%v, want=%v", got, want)
			}
		})
	}
}
