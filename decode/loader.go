// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

const (
	// bufferWords is the window size for streaming data: the number of
	// 32-bit words held in memory at once when the file is processed
	// in chunks.
	bufferWords = 0x20000

	// maxBufferWords caps the circular buffer size accepted from the
	// header of a damaged file.
	maxBufferWords = 0x8000000 + 5

	// emptyWord marks buffer space the firmware never wrote.
	emptyWord = 0xFFFFFFFF
)

// readWords reads up to len(dst) little-endian words at byte offset
// off and returns the number of complete words read.
func readWords(r io.ReaderAt, off int64, dst []uint32) uint32 {
	p := make([]byte, len(dst)*4)
	n, _ := r.ReadAt(p, off)
	n &^= 3
	for i := 0; i < n/4; i++ {
		dst[i] = binary.LittleEndian.Uint32(p[i*4:])
	}
	return uint32(n / 4)
}

// load reads the trace payload and arranges it into decoding order
// according to the logging mode from the header.
func (d *Decoder) load() error {
	size := d.srcSize
	if size&3 != 0 {
		d.report(ErrFileTruncated, uint64(size&^3))
		size &^= 3
	}
	size -= HeaderSize

	switch d.hdr.Mode {
	case ModePostMortem:
		switch {
		case d.hdr.LastIndex > d.hdr.BufSize:
			// Possible corruption. Decode linearly instead.
			d.report(ErrIndexOutOfRange, uint64(d.hdr.LastIndex))
			if err := d.loadSingleShot(size); err != nil {
				return err
			}
		case size < int64(d.hdr.BufSize)*4:
			// Shortened capture, for example an interrupted transfer.
			if err := d.loadSingleShot(size); err != nil {
				return err
			}
		default:
			d.loadPostMortem(size)
		}
		d.fullyLoaded = true

	case ModeSingleShot:
		if err := d.loadSingleShot(size); err != nil {
			return err
		}
		if d.inSize > d.hdr.LastIndex {
			d.inSize = d.hdr.LastIndex
		}
		d.fullyLoaded = true

	case ModeStreaming, ModeMultiShot:
		if err := d.loadStreaming(size); err != nil {
			return err
		}

	default:
		return xerrors.Errorf("decode: unknown logging mode %#x", uint32(d.hdr.Mode))
	}
	return nil
}

// checkDataSize reconciles the buffer size from the header with the
// actual payload size and reports whether it had to be adjusted.
func (d *Decoder) checkDataSize(size int64) (uint32, bool, error) {
	bufSize := d.hdr.BufSize
	if bufSize == 0 {
		return 0, false, xerrors.Errorf("decode: buffer size in the header is zero")
	}

	changed := false
	switch {
	case size > int64(bufSize)*4:
		// Decode the whole file even though the header promises less.
		d.report(ErrTooMuchData, uint64(bufSize))
		bufSize = uint32(size / 4)
		changed = true
	case size < int64(bufSize)*4:
		d.report(ErrNotEnoughData, uint64(bufSize))
		bufSize = uint32(size / 4)
		changed = true
	}

	if bufSize > maxBufferWords {
		bufSize = maxBufferWords
		changed = true
		d.report(ErrFileTruncated, uint64(maxBufferWords)*4)
	}

	if d.hdr.LastIndex >= bufSize {
		d.hdr.LastIndex = bufSize
		d.report(ErrIndexOutOfRange, uint64(bufSize))
	}
	return bufSize, changed, nil
}

// loadSingleShot reads a buffer that was written linearly once. The
// write index marks where logging stopped.
func (d *Decoder) loadSingleShot(size int64) error {
	if d.hdr.LastIndex == 0 && d.hdr.SingleShotActive {
		return xerrors.Errorf("decode: single shot active but no data was logged")
	}

	bufSize, _, err := d.checkDataSize(size)
	if err != nil {
		return err
	}

	d.words = make([]uint32, bufSize)
	n := readWords(d.src, HeaderSize, d.words)
	if n < bufSize {
		d.report(ErrShortRead, uint64(n))
	}
	d.inSize = n

	var i uint32
	for i = 0; i < d.inSize; i++ {
		if d.words[i] != emptyWord {
			break
		}
	}
	d.index = i
	return nil
}

// loadPostMortem reorders a circular buffer so that the oldest data
// comes first. The write index points past the last FMT word written;
// everything after it (modulo the buffer) was logged earlier.
func (d *Decoder) loadPostMortem(size int64) {
	bufSize, changed, err := d.checkDataSize(size)
	if err != nil {
		// The header gives a zero buffer size: there is nothing to
		// decode.
		d.inSize = 0
		return
	}
	lastIndex := d.hdr.LastIndex

	raw := make([]uint32, bufSize)
	n := readWords(d.src, HeaderSize, raw)
	if n != bufSize {
		bufSize = n
		changed = true
		if lastIndex > n {
			d.words = raw[:n]
			d.inSize = n
			return
		}
	}
	raw = raw[:bufSize]

	emptyAtStart := countEmpty(raw[:lastIndex])
	if allEmpty(raw[lastIndex:]) {
		// The circular buffer never wrapped: decode linearly.
		d.words = raw
		d.index = emptyAtStart
		d.inSize = lastIndex
		return
	}

	var skipStart uint32
	skipEnd := trailerSkip(raw)
	if changed {
		skipEnd = 0
	} else if d.hdr.BufPow2 && bufSize > 8 {
		// With a power-of-two buffer the index wraps before the
		// 4-word trailer, so the words the trailer did not consume
		// were dropped at the start instead.
		skipStart = 4 - skipEnd
	}

	oldest := raw[lastIndex : bufSize-skipEnd]
	newest := raw[skipStart:lastIndex]

	d.words = make([]uint32, 0, len(oldest)+len(newest))
	d.words = append(d.words, oldest...)
	d.words = append(d.words, newest...)
	d.index = countEmpty(oldest)
	d.inSize = uint32(len(d.words))
}

// loadStreaming prepares chunked decoding of pre-processed data from
// streaming or repeated-snapshot logging sessions.
func (d *Decoder) loadStreaming(size int64) error {
	if size < 4 {
		return xerrors.Errorf("decode: no data in the trace file")
	}
	if d.hdr.LastIndex != 0 {
		d.report(ErrIndexNotZero, uint64(d.hdr.LastIndex))
	}

	d.words = make([]uint32, bufferWords)
	d.inSize = 0
	d.index = 0
	d.srcOff = HeaderSize
	d.fullyLoaded = false
	d.loadBlock()
	return nil
}

// loadBlock moves the unprocessed tail of the window to the front and
// refills the rest from the file.
func (d *Decoder) loadBlock() {
	if d.fullyLoaded {
		return
	}

	remaining := uint32(0)
	if d.index < d.inSize {
		remaining = d.inSize - d.index
		copy(d.words, d.words[d.index:d.inSize])
		d.processed += uint64(d.index)
	} else {
		d.processed += uint64(d.inSize)
	}
	d.index = 0
	d.inSize = remaining

	space := uint32(len(d.words)) - remaining
	if space == 0 {
		return
	}
	n := readWords(d.src, d.srcOff, d.words[remaining:])
	d.srcOff += int64(n) * 4
	if n < space {
		d.fullyLoaded = true
	}
	d.inSize += n
}

// dataInBuffer skips a run of never-written words and reports whether
// any data remains to decode.
func (d *Decoder) dataInBuffer() bool {
	for d.index < d.inSize {
		if d.words[d.index] != emptyWord {
			return true
		}
		d.unfinished++
		d.index++
	}
	return false
}

func countEmpty(p []uint32) uint32 {
	var n uint32
	for _, v := range p {
		if v != emptyWord {
			break
		}
		n++
	}
	return n
}

func allEmpty(p []uint32) bool {
	for _, v := range p {
		if v != emptyWord {
			return false
		}
	}
	return true
}

// trailerSkip inspects the 4-word trailer that the firmware keeps at
// the end of the circular buffer. The last message word is the FMT
// word (bit 0 set); anything after it in the trailer is unused.
func trailerSkip(buf []uint32) uint32 {
	size := uint32(len(buf))
	if size < 5 {
		return 0
	}
	if buf[size-5] == emptyWord {
		return 4
	}
	var i uint32
	for i = size - 5; i < size; i++ {
		if buf[i]&1 != 0 {
			break
		}
	}
	return size - i - 1
}
