// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"testing"
)

func TestNewAlloc(t *testing.T) {
	for _, tc := range []struct {
		nbits   int
		topmost uint32
		ok      bool
	}{
		{nbits: 9, topmost: 510, ok: true},
		{nbits: 12, topmost: 4094, ok: true},
		{nbits: 16, topmost: 65534, ok: true},
		{nbits: 8, ok: false},
		{nbits: 17, ok: false},
		{nbits: 0, ok: false},
	} {
		a, err := NewAlloc(tc.nbits)
		if (err == nil) != tc.ok {
			t.Errorf("nbits=%d: got err=%v, want ok=%v", tc.nbits, err, tc.ok)
			continue
		}
		if !tc.ok {
			continue
		}
		if got, want := a.Topmost(), tc.topmost; got != want {
			t.Errorf("nbits=%d: got topmost=%d, want=%d", tc.nbits, got, want)
		}
		if got, want := a.Defined(), uint32(FirstUserFID); got != want {
			t.Errorf("nbits=%d: got defined=%d, want=%d", tc.nbits, got, want)
		}
	}
}

func TestAllocAssign(t *testing.T) {
	a, err := NewAlloc(9)
	if err != nil {
		t.Fatalf("could not create allocator: %+v", err)
	}

	p1 := &Plan{Name: "MSG0_A"}
	fid, err := a.Assign(p1, 1)
	if err != nil {
		t.Fatalf("could not assign: %+v", err)
	}
	if got, want := fid, uint32(FirstUserFID); got != want {
		t.Fatalf("got fid=%d, want=%d", got, want)
	}

	// A 4-id range must start on a multiple of 4, past id 4.
	p2 := &Plan{Name: "MSGN_B"}
	fid, err = a.Assign(p2, 4)
	if err != nil {
		t.Fatalf("could not assign: %+v", err)
	}
	if fid%4 != 0 {
		t.Fatalf("got fid=%d, want a multiple of 4", fid)
	}
	for i := uint32(0); i < 4; i++ {
		if got, want := a.At(fid+i), p2; got != want {
			t.Fatalf("id %d: got plan=%v, want=%v", fid+i, got, want)
		}
	}

	// The hole left by the alignment is filled by a following
	// single-id allocation.
	p3 := &Plan{Name: "MSG0_C"}
	fid3, err := a.Assign(p3, 1)
	if err != nil {
		t.Fatalf("could not assign: %+v", err)
	}
	if fid3 >= fid {
		t.Fatalf("got fid=%d, want one below %d", fid3, fid)
	}

	if got, want := a.Defined(), fid+4; got != want {
		t.Fatalf("got defined=%d, want=%d", got, want)
	}
}

func TestAllocAssignInvalid(t *testing.T) {
	a, err := NewAlloc(9)
	if err != nil {
		t.Fatalf("could not create allocator: %+v", err)
	}
	for _, n := range []uint32{0, 3, 6, 510, 1024} {
		if _, err := a.Assign(&Plan{Name: "MSGN_X"}, n); err == nil {
			t.Errorf("n=%d: expected an error", n)
		}
	}
}

func TestAllocExhausted(t *testing.T) {
	a, err := NewAlloc(9)
	if err != nil {
		t.Fatalf("could not create allocator: %+v", err)
	}

	// Two aligned 128-id ranges fit below topmost=510, a third
	// would straddle the reserved top of the table.
	for _, name := range []string{"MSGN_A", "MSGN_B"} {
		if _, err := a.Assign(&Plan{Name: name}, 128); err != nil {
			t.Fatalf("could not assign %q: %+v", name, err)
		}
	}
	if _, err := a.Assign(&Plan{Name: "MSGN_C"}, 128); err == nil {
		t.Fatalf("expected an allocation failure")
	}
}

func TestAllocAlignStart(t *testing.T) {
	a, err := NewAlloc(9)
	if err != nil {
		t.Fatalf("could not create allocator: %+v", err)
	}
	if _, err := a.Assign(&Plan{Name: "MSG0_A"}, 1); err != nil {
		t.Fatalf("could not assign: %+v", err)
	}

	if err := a.Align(16); err != nil {
		t.Fatalf("could not align: %+v", err)
	}
	fid, err := a.Assign(&Plan{Name: "MSG0_B"}, 1)
	if err != nil {
		t.Fatalf("could not assign: %+v", err)
	}
	if got, want := fid, uint32(16); got != want {
		t.Fatalf("got fid=%d, want=%d", got, want)
	}

	if err := a.Start(10); err == nil {
		t.Fatalf("expected an error: start below defined ids")
	}
	if err := a.Start(40); err != nil {
		t.Fatalf("could not move the cursor: %+v", err)
	}
	fid, err = a.Assign(&Plan{Name: "MSG0_C"}, 1)
	if err != nil {
		t.Fatalf("could not assign: %+v", err)
	}
	if got, want := fid, uint32(40); got != want {
		t.Fatalf("got fid=%d, want=%d", got, want)
	}
}

func TestAllocPlans(t *testing.T) {
	a, err := NewAlloc(9)
	if err != nil {
		t.Fatalf("could not create allocator: %+v", err)
	}

	for _, alloc := range []struct {
		name string
		n    uint32
	}{
		{"MSG0_A", 1},
		{"MSGN_B", 8},
		{"MSG0_C", 1}, // fills the hole below MSGN_B
	} {
		if _, err := a.Assign(&Plan{Name: alloc.name}, alloc.n); err != nil {
			t.Fatalf("could not assign %q: %+v", alloc.name, err)
		}
	}
	a.SetSys(&Plan{Name: "system"})
	want := []string{"MSG0_A", "MSG0_C", "MSGN_B", "system"}

	var got []string
	a.Plans(func(p *Plan) { got = append(got, p.Name) })

	if len(got) != len(want) {
		t.Fatalf("got %d plans, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("plan %d: got=%q, want=%q", i, got[i], want[i])
		}
	}
}
