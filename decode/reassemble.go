// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"github.com/rtedbg/rtemsg/format"
)

// maxRawDataSize bounds a run of DATA words without a FMT word.
const maxRawDataSize = 256

type asmStatus int

const (
	statusFmtOK asmStatus = iota
	statusDataFound
	statusEndOfBuffer
	statusBadBlock
	statusUnfinished
	statusTooLong
)

// messageComplete reports whether no continuation sub-packet can
// follow. Only sub-packets of 4 DATA words plus the FMT word may
// continue, and only while the definition expects more data.
func (d *Decoder) messageComplete(noWords uint32) bool {
	if noWords < 5 {
		return true
	}

	p := d.plans.At(d.fid)
	if p == nil {
		return false
	}
	length := uint32(p.MsgLen)
	if length == 0 {
		return false // zero or unknown length
	}
	if p.Kind == format.MsgExt && length >= 4 {
		// The byte carried in the FMT word is not assembled yet.
		length -= 4
	}
	return length <= d.asmWords*4
}

// packetLength returns the expected sub-packet length for fid, in
// words including the FMT word, or ^0 when no definition covers it.
// The low format-id bits may have been borrowed for DATA bit 31, so
// the lookup walks down to the range start.
func (d *Decoder) packetLength(fid uint32) uint32 {
	p := d.plans.At(fid)
	for fid&0xF != 0 {
		p = d.plans.At(fid)
		if p != nil {
			break
		}
		fid--
	}
	if p == nil {
		return ^uint32(0)
	}

	length := uint32(p.MsgLen) / 4
	switch p.Kind {
	case format.MsgExt:
		if length > 0 {
			length-- // one element travels in the FMT word
		}
	case format.MsgN:
		if length == 0 || length > 4 {
			length = 4
		}
	case format.MsgX:
		length = 4
	}
	return length + 1
}

// processPacket decodes the FMT word of one sub-packet, restores bit
// 31 of its DATA words from the low format-id bits, and appends the
// words to the assembled message.
func (d *Decoder) processPacket(noWords, data uint32) asmStatus {
	d.fid = data >> d.hdr.FIDShift()
	d.ts.l = (data &^ 1) << d.hdr.FIDBits
	addData := d.fid
	msgLen := d.packetLength(d.fid)

	if msgLen == ^uint32(0) && noWords > 5 {
		// Invalid FMT word with more than 4 DATA words. Reject the
		// DATA words and retry the FMT word as a zero-length message.
		d.badPacketWords = noWords - 1
		d.index--
		return statusBadBlock
	}

	if noWords > msgLen {
		// Skip the excess words and reprocess the plausible tail.
		d.badPacketWords = noWords - msgLen
		d.index -= msgLen
		return statusBadBlock
	}

	if p := d.plans.At(d.fid); p == nil || p.Kind != format.MsgExt {
		addData &= 0x0F
	}

	andMask := ^uint32(0)
	for n := noWords - 1; n > 0; {
		n--
		d.raw[n] = d.raw[n]>>1 | (addData&1)<<31
		addData >>= 1
		andMask <<= 1
	}
	d.addData = addData
	d.fid &= andMask

	for n := uint32(0); n < noWords-1; n++ {
		d.asm[d.asmWords] = d.raw[n]
		d.asmWords++
	}

	if msgLen == ^uint32(0) {
		return statusDataFound // even though the format id is invalid
	}
	if d.messageComplete(noWords) {
		return statusDataFound
	}
	return statusFmtOK
}

// skipUnfinished advances past a run of never-written words and
// returns its length.
func (d *Decoder) skipUnfinished() uint32 {
	var n uint32
	for d.index < d.inSize && d.words[d.index] == emptyWord {
		n++
		d.index++
	}
	return n
}

// findFmtWord collects DATA words into the raw packet until a FMT
// word (bit 0 set) turns up.
func (d *Decoder) findFmtWord(packetWords *uint32) (uint32, asmStatus) {
	for {
		if *packetWords >= maxRawDataSize || d.index >= d.inSize {
			d.badPacketWords = *packetWords
			return 0, statusBadBlock
		}

		data := d.words[d.index]
		if data == emptyWord {
			switch {
			case d.asmWords > 0:
				// Hand over what is assembled so far; a short message
				// is caught during decoding. The unfinished words are
				// reported on the next call.
				d.index -= *packetWords
				*packetWords = 0
				return 0, statusDataFound
			case *packetWords > 0:
				d.badPacketWords = *packetWords
				return 0, statusBadBlock
			default:
				d.unfinished = d.skipUnfinished()
				return 0, statusUnfinished
			}
		}

		d.index++
		d.raw[*packetWords] = data
		*packetWords++

		if data&1 != 0 {
			return data, statusFmtOK
		}
	}
}

// checkLastMessage classifies whatever remains when the buffer runs
// out mid-message.
func (d *Decoder) checkLastMessage(packetWords uint32) asmStatus {
	d.decodingDone = true
	switch {
	case d.asmWords > 0 && packetWords == 0:
		return statusDataFound // possibly incomplete
	case packetWords > 0:
		d.badPacketWords = packetWords
		return statusBadBlock
	}
	return statusEndOfBuffer
}

// isContinuation peeks ahead for a FMT word carrying the same tag as
// the sub-packet just assembled. Sub-packets of one message share the
// timestamp and format id.
func (d *Decoder) isContinuation(tag uint32) bool {
	var noWords uint32
	for idx := d.index; idx < d.inSize; idx++ {
		if noWords++; noWords > 5 {
			return false
		}
		data := d.words[idx]
		if data == emptyWord {
			return false
		}
		if data&1 != 0 {
			return data&d.hdr.TagMask() == tag
		}
	}
	return false
}

// assembleMessage collects the sub-packets of the next message into
// d.asm and returns how the attempt ended.
func (d *Decoder) assembleMessage() asmStatus {
	d.asmWords = 0
	var packetWords uint32

	for d.index < d.inSize {
		packetWords = 0
		data, rez := d.findFmtWord(&packetWords)
		if rez != statusFmtOK {
			return rez
		}

		tag := data & d.hdr.TagMask()

		if rez = d.processPacket(packetWords, data); rez != statusFmtOK {
			return rez
		}

		if !d.isContinuation(tag) {
			return statusDataFound
		}
		if d.asmWords >= 4*d.hdr.MaxMsgBlocks {
			return statusTooLong
		}
	}

	return d.checkLastMessage(packetWords)
}

// refill tops up the streaming window when no more than
// 2*MaxMsgBlocks*5*4 words (eight maximum size messages) remain
// undecoded.
func (d *Decoder) refill() {
	if d.fullyLoaded {
		return
	}
	remaining := uint64(d.inSize - d.index)
	if remaining <= 2*uint64(d.hdr.MaxMsgBlocks)*5*4 {
		d.loadBlock()
	}
}
