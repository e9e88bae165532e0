// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package format compiles RTEdbg format definition files into
// per-format-id decoding plans.
package format // import "github.com/rtedbg/rtemsg/format"

// Kind classifies a message plan by its sub-packet splitting rules.
type Kind uint8

const (
	Msg04   Kind = iota // MSG0..MSG4, fixed length known at compile time
	MsgN                // MSGN, length fixed or unknown
	MsgExt              // EXT_MSG, low FID bits carry extended data
	MsgX                // MSGX, last byte of the message holds its size
)

func (k Kind) String() string {
	switch k {
	case Msg04:
		return "MSG0_4"
	case MsgN:
		return "MSGN"
	case MsgExt:
		return "EXT_MSG"
	case MsgX:
		return "MSGX"
	}
	return "???"
}

// PrintKind selects how a decoded value slot is rendered.
type PrintKind uint8

const (
	PrintText         PrintKind = iota // literal text, no value
	PrintString                        // byte range of the message
	PrintSelectedText                  // indexed-text option chosen by value
	PrintUint
	PrintInt
	PrintFloat
	PrintBinary    // bits MSB-first, apostrophe every 8
	PrintTimestamp // absolute timestamp, configured template
	PrintDTime     // timestamp difference, configured template
	PrintMsgNo     // running message counter
	PrintHex1      // hex dump, byte grouping
	PrintHex2      // hex dump, 16-bit grouping
	PrintHex4      // hex dump, 32-bit grouping
	PrintBinToFile // raw bytes written to the output file
	PrintDate      // modification date of the binary input file
	PrintMsgName   // the plan name
)

// ValueKind selects how the numeric value of a slot is obtained
// before printing.
type ValueKind uint8

const (
	ValAuto ValueKind = iota // 32 bits at an aligned cursor, reinterpreted
	ValUint
	ValInt
	ValFloat
	ValString
	ValTimestamp
	ValDTime
	ValMemo
	ValTimeDiff // timestamp minus another plan's last-seen timestamp
	ValMsgNo
)

// Slot describes one unit of value extraction and printing
// within a decoding plan.
type Slot struct {
	Print PrintKind
	Value ValueKind

	BitAddr uint32 // bit offset into the reassembled message
	Bits    uint32 // number of bits, 0 selects the whole message

	// Format is a fprintf-ready template. For the RTEdbg-specific
	// print kinds it holds only the literal text preceding the value.
	Format string

	OutFile int  // enum index of the target file, 0 selects the main log
	MainLog bool // duplicate to the main log when OutFile is set
	InFile  int  // enum index of the indexed-text source, 0 when unset

	GetMemo int // enum index of the memo to load, 0 when unset
	PutMemo int // enum index of the memo to store, 0 when unset

	TimerFID int // FID whose last-seen timestamp is subtracted, -1 when unset

	Offset float64 // applied as (raw + Offset) * Mult when Mult != 0
	Mult   float64

	Stats *Stats // non-nil when statistics were requested for this slot
}

// Plan is the fully-parsed description of how to decode messages
// bearing a particular format id.
type Plan struct {
	Name    string
	Kind    Kind
	FID     uint32 // first id of the allocated range
	NIDs    uint32 // size of the allocated range, a power of two
	MsgLen  uint32 // expected length in bytes, 0 when unknown
	ExtMask uint32 // extended-data mask for EXT_MSG plans

	Slots []Slot

	// counters updated during binary decoding
	Counter      uint64  // instances since the last statistics reset
	CounterTotal uint64  // instances over the whole run
	TotalWords   uint64  // words consumed by instances of this plan
	LastTime     float64 // timestamp of the last occurrence, in seconds
}

// Stats accumulates the extrema and the mean of a value slot
// during binary decoding.
type Stats struct {
	Name  string
	Count uint64
	Sum   float64
	Min   []StatValue // sorted ascending, at most MinMaxValues entries
	Max   []StatValue // sorted descending, at most MinMaxValues entries
}

// StatValue is one recorded extremum with its originating message number.
type StatValue struct {
	Value float64
	MsgNo uint32
}

const (
	// MinMaxValues is the number of smallest and largest values
	// kept per statistics-enabled slot.
	MinMaxValues = 10

	// MaxMsgLength is the largest static MSGN length, in words.
	MaxMsgLength = 1024

	// MaxMsgBlocks caps the number of sub-packets in one message.
	MaxMsgBlocks = 256

	// NumFilters is the number of reserved filter slots.
	NumFilters = 32
)

// System format ids. The topmost id of the configured space marks
// streaming-mode buffer boundaries.
const (
	FIDLongTimestamp = 0 // high 32 bits of the monotonic counter
	FIDTstampFreq    = 2 // counter frequency update
	FirstUserFID     = 4 // lowest id available to user messages
)
