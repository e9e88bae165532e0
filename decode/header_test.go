// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"encoding/binary"
	"math"
	"testing"
)

func rawHeader(last, filter, cfg, freq, bufSize uint32) []byte {
	p := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(p[0:], last)
	binary.LittleEndian.PutUint32(p[4:], filter)
	binary.LittleEndian.PutUint32(p[8:], cfg)
	binary.LittleEndian.PutUint32(p[12:], freq)
	binary.LittleEndian.PutUint32(p[16:], filter)
	binary.LittleEndian.PutUint32(p[20:], bufSize)
	return p
}

// headerCfg packs the cfg word from its fields the way the target
// firmware does.
func headerCfg(tstampShift, fidBits, maxBlocks, hdrWords uint32, flags uint32) uint32 {
	return flags |
		(tstampShift-1)<<8 |
		(fidBits-9)<<12 |
		(maxBlocks&0xFF)<<16 |
		hdrWords<<24
}

func TestParseHeader(t *testing.T) {
	cfg := headerCfg(4, 12, 4, 6, 1<<1)
	h, err := ParseHeader(rawHeader(100, 0xFFFFFFFF, cfg, 1000000, 4096))
	if err != nil {
		t.Fatalf("could not parse header: %+v", err)
	}

	if got, want := h.LastIndex, uint32(100); got != want {
		t.Errorf("got last-index=%d, want=%d", got, want)
	}
	if !h.FilterEnabled {
		t.Errorf("filter should be enabled")
	}
	if h.SingleShotActive || h.SingleShotEnabled || h.FilterOffEnabled || h.LongTimestamps {
		t.Errorf("unexpected flag set: %+v", h)
	}
	if got, want := h.TstampShift, uint32(4); got != want {
		t.Errorf("got shift=%d, want=%d", got, want)
	}
	if got, want := h.FIDBits, uint32(12); got != want {
		t.Errorf("got fid-bits=%d, want=%d", got, want)
	}
	if got, want := h.MaxMsgBlocks, uint32(4); got != want {
		t.Errorf("got max-blocks=%d, want=%d", got, want)
	}
	if got, want := h.HdrSizeWords, uint32(6); got != want {
		t.Errorf("got hdr-words=%d, want=%d", got, want)
	}
	if got, want := h.TstampFreq, uint32(1000000); got != want {
		t.Errorf("got freq=%d, want=%d", got, want)
	}
	if got, want := h.Mode, ModePostMortem; got != want {
		t.Errorf("got mode=%v, want=%v", got, want)
	}

	if got, want := h.FIDShift(), uint32(20); got != want {
		t.Errorf("got fid-shift=%d, want=%d", got, want)
	}
	if got, want := h.TagMask(), uint32(0xFFFFFFFE)&^uint32(0xF<<20); got != want {
		t.Errorf("got tag-mask=%#08x, want=%#08x", got, want)
	}
}

func TestParseHeaderReserved(t *testing.T) {
	for _, bad := range []uint32{1 << 5, 1 << 6, 1 << 7, 1 << 15} {
		cfg := headerCfg(1, 9, 4, 6, 0) | bad
		if _, err := ParseHeader(rawHeader(0, 0, cfg, 1000, 256)); err == nil {
			t.Errorf("cfg=%#08x: expected an error", cfg)
		}
	}
}

func TestParseHeaderShort(t *testing.T) {
	if _, err := ParseHeader(make([]byte, HeaderSize-1)); err == nil {
		t.Fatalf("expected an error: short header")
	}
}

func TestParseHeaderMaxBlocksZero(t *testing.T) {
	cfg := headerCfg(1, 9, 0, 6, 0)
	h, err := ParseHeader(rawHeader(0, 0, cfg, 1000, 256))
	if err != nil {
		t.Fatalf("could not parse header: %+v", err)
	}
	if got, want := h.MaxMsgBlocks, uint32(256); got != want {
		t.Fatalf("got max-blocks=%d, want=%d", got, want)
	}
}

func TestLoggingMode(t *testing.T) {
	for _, tc := range []struct {
		bufSize uint32
		flags   uint32
		want    Mode
	}{
		{bufSize: 4096, want: ModePostMortem},
		{bufSize: 4096, flags: 1<<0 | 1<<3, want: ModeSingleShot},
		{bufSize: 0xFFFFFFF0, want: ModeStreaming},
		{bufSize: 0xFFFFFFF4, want: ModeMultiShot},
		{bufSize: 0xFFFF1234, want: ModeUnknown},
	} {
		cfg := headerCfg(1, 9, 4, 6, tc.flags)
		h, err := ParseHeader(rawHeader(0, 0, cfg, 1000, tc.bufSize))
		if err != nil {
			t.Fatalf("bufsize=%#08x: could not parse header: %+v", tc.bufSize, err)
		}
		if got, want := h.Mode, tc.want; got != want {
			t.Errorf("bufsize=%#08x: got mode=%v, want=%v", tc.bufSize, got, want)
		}
	}
}

func TestModeString(t *testing.T) {
	for _, tc := range []struct {
		mode Mode
		want string
	}{
		{ModePostMortem, "post-mortem"},
		{ModeSingleShot, "single shot"},
		{ModeStreaming, "streaming"},
		{ModeMultiShot, "multiple snapshots"},
		{ModeUnknown, "unknown"},
	} {
		if got, want := tc.mode.String(), tc.want; got != want {
			t.Errorf("got=%q, want=%q", got, want)
		}
	}
}

func TestMultiplier(t *testing.T) {
	// shift=1, 9 fid bits: 2 / freq / 2^10.
	cfg := headerCfg(1, 9, 4, 6, 0)
	h, err := ParseHeader(rawHeader(0, 0, cfg, 1000, 256))
	if err != nil {
		t.Fatalf("could not parse header: %+v", err)
	}
	got := h.Multiplier(1000)
	want := 2.0 / 1000.0 / 1024.0
	if math.Abs(got-want) > 1e-15 {
		t.Fatalf("got mult=%v, want=%v", got, want)
	}
}
