// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"golang.org/x/xerrors"
)

// Alloc reserves contiguous aligned ranges in a dense table of
// decoding plans. Every id of an allocated range points to the
// same plan.
type Alloc struct {
	plans   []*Plan
	nbits   int
	topmost uint32 // 2^nbits - 2, reserved for the streaming mark
	defined uint32 // first never-assigned id
	cursor  uint32 // lower bound of future allocations
}

// NewAlloc returns an allocator for nbits format-id bits,
// with nbits in [9,16].
func NewAlloc(nbits int) (*Alloc, error) {
	if nbits < 9 || nbits > 16 {
		return nil, xerrors.Errorf("format: invalid format-id bits %d (want [9,16])", nbits)
	}
	topmost := uint32(1)<<nbits - 2
	return &Alloc{
		plans:   make([]*Plan, topmost+1),
		nbits:   nbits,
		topmost: topmost,
		defined: FirstUserFID,
		cursor:  FirstUserFID,
	}, nil
}

// NBits returns the configured number of format-id bits.
func (a *Alloc) NBits() int { return a.nbits }

// Topmost returns the highest format id, reserved for system use.
func (a *Alloc) Topmost() uint32 { return a.topmost }

// Defined returns the first never-assigned format id.
func (a *Alloc) Defined() uint32 { return a.defined }

// At returns the plan registered for fid, or nil.
func (a *Alloc) At(fid uint32) *Plan {
	if fid >= uint32(len(a.plans)) {
		return nil
	}
	return a.plans[fid]
}

// SetSys registers the plan decoding system messages at the topmost id.
func (a *Alloc) SetSys(p *Plan) {
	p.FID = a.topmost
	p.NIDs = 1
	a.plans[a.topmost] = p
}

// SetSystem registers a builtin system plan at an id pair below
// FirstUserFID.
func (a *Alloc) SetSystem(p *Plan, fid uint32) {
	p.FID = fid
	p.NIDs = 2
	a.plans[fid] = p
	a.plans[fid+1] = p
}

// Assign reserves n consecutive ids (n a power of two) aligned on a
// multiple of n, registers p in each, and returns the first id.
func (a *Alloc) Assign(p *Plan, n uint32) (uint32, error) {
	if n == 0 || n&(n-1) != 0 || n >= a.topmost {
		return 0, xerrors.Errorf("format: invalid allocation size %d", n)
	}

	for a.cursor < a.topmost && a.plans[a.cursor] != nil {
		a.cursor++
	}

	fid := (a.cursor + n - 1) &^ (n - 1)
scan:
	for {
		if fid+n > a.topmost {
			return 0, xerrors.Errorf(
				"format: no free range of %d ids for %q (topmost=%d)",
				n, p.Name, a.topmost,
			)
		}
		for i := uint32(0); i < n; i++ {
			if a.plans[fid+i] != nil {
				fid += n
				continue scan
			}
		}
		break
	}

	for i := uint32(0); i < n; i++ {
		a.plans[fid+i] = p
	}
	p.FID = fid
	p.NIDs = n
	if fid+n > a.defined {
		a.defined = fid + n
	}
	return fid, nil
}

// Align rounds the allocation cursor up to the next multiple of v,
// v a power of two not larger than the topmost id.
func (a *Alloc) Align(v uint32) error {
	if v == 0 || v&(v-1) != 0 || v > a.topmost {
		return xerrors.Errorf("format: invalid alignment %d", v)
	}
	a.defined = (a.defined + v - 1) &^ (v - 1)
	a.cursor = a.defined
	return nil
}

// Start moves the allocation cursor to exactly v. It fails when v
// would move below already-assigned ids or into the reserved range.
func (a *Alloc) Start(v uint32) error {
	if v < a.defined || v >= a.topmost {
		return xerrors.Errorf("format: invalid start id %d (defined=%d, topmost=%d)",
			v, a.defined, a.topmost)
	}
	a.defined = v
	a.cursor = v
	return nil
}

// Plans calls fn once per distinct plan, in increasing first-id order.
func (a *Alloc) Plans(fn func(p *Plan)) {
	var last *Plan
	for _, p := range a.plans {
		if p == nil || p == last {
			continue
		}
		last = p
		fn(p)
	}
}
