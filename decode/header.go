// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// Mode is the data logging mode recovered from the trace file header.
type Mode uint32

const (
	ModeUnknown    Mode = 0
	ModePostMortem Mode = 1
	ModeSingleShot Mode = 2
	ModeStreaming  Mode = 0xFFFFFFF0
	ModeMultiShot  Mode = 0xFFFFFFF4
)

func (m Mode) String() string {
	switch m {
	case ModePostMortem:
		return "post-mortem"
	case ModeSingleShot:
		return "single shot"
	case ModeStreaming:
		return "streaming"
	case ModeMultiShot:
		return "multiple snapshots"
	}
	return "unknown"
}

// HeaderSize is the byte size of the fixed trace file header:
// six little-endian 32-bit words.
const HeaderSize = 24

// Header carries the raw trace file header words and the configuration
// fields unpacked from the cfg word.
type Header struct {
	LastIndex  uint32 // word index past the last FMT word written
	Filter     uint32 // enabled filters, bit 31 = filter 0
	Cfg        uint32
	TstampFreq uint32 // timestamp counter frequency [Hz]
	FilterCopy uint32
	BufSize    uint32 // circular buffer words, or a mode sentinel

	SingleShotActive  bool
	FilterEnabled     bool
	FilterOffEnabled  bool
	SingleShotEnabled bool
	LongTimestamps    bool
	TstampShift       uint32
	FIDBits           uint32
	MaxMsgBlocks      uint32 // sub-packets per message
	HdrSizeWords      uint32
	BufPow2           bool

	Mode Mode
}

// ParseHeader decodes the fixed header from the start of a trace file.
// The reserved cfg bits must be zero; anything else means the file was
// not produced by a known firmware revision.
func ParseHeader(p []byte) (Header, error) {
	if len(p) < HeaderSize {
		return Header{}, xerrors.Errorf("decode: header needs %d bytes, have %d", HeaderSize, len(p))
	}

	var h Header
	h.LastIndex = binary.LittleEndian.Uint32(p[0:])
	h.Filter = binary.LittleEndian.Uint32(p[4:])
	h.Cfg = binary.LittleEndian.Uint32(p[8:])
	h.TstampFreq = binary.LittleEndian.Uint32(p[12:])
	h.FilterCopy = binary.LittleEndian.Uint32(p[16:])
	h.BufSize = binary.LittleEndian.Uint32(p[20:])

	cfg := h.Cfg
	h.SingleShotActive = cfg&(1<<0) != 0
	h.FilterEnabled = cfg&(1<<1) != 0
	h.FilterOffEnabled = cfg&(1<<2) != 0
	h.SingleShotEnabled = cfg&(1<<3) != 0
	h.LongTimestamps = cfg&(1<<4) != 0
	if cfg&(0x7<<5) != 0 || cfg&(1<<15) != 0 {
		return Header{}, xerrors.Errorf("decode: reserved cfg bits set (cfg=%#08x)", cfg)
	}
	h.TstampShift = (cfg>>8)&0xF + 1
	h.FIDBits = (cfg>>12)&0x7 + 9
	h.MaxMsgBlocks = (cfg >> 16) & 0xFF
	if h.MaxMsgBlocks == 0 {
		h.MaxMsgBlocks = 256
	}
	h.HdrSizeWords = (cfg >> 24) & 0x7F
	h.BufPow2 = cfg&(1<<31) != 0

	h.Mode = loggingMode(&h)
	return h, nil
}

func loggingMode(h *Header) Mode {
	if h.SingleShotEnabled && h.SingleShotActive {
		return ModeSingleShot
	}
	if h.BufSize < 0xFFFF0000 {
		return ModePostMortem
	}
	switch Mode(h.BufSize) {
	case ModeStreaming, ModeMultiShot:
		return Mode(h.BufSize)
	}
	// The bogus buffer size is rejected later, when the payload is
	// loaded.
	return ModeUnknown
}

// FIDShift returns the right shift extracting the format id from a
// FMT word.
func (h *Header) FIDShift() uint32 { return 32 - h.FIDBits }

// TagMask masks the timestamp bits of a FMT word that identify the
// sub-packets of one message. Bit 0 and the lowest four format-id bits
// are excluded.
func (h *Header) TagMask() uint32 {
	return 0xFFFFFFFE &^ (0xF << (32 - h.FIDBits))
}

// Multiplier converts the normalized 64-bit timestamp counter value to
// seconds for the given counter frequency.
func (h *Header) Multiplier(freq uint32) float64 {
	return float64(uint64(1)<<h.TstampShift) /
		float64(freq) /
		float64(uint64(1)<<(1+h.FIDBits))
}
