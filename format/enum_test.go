// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"fmt"
	"testing"
)

func TestTableFilters(t *testing.T) {
	tbl := NewTable()
	if got, want := tbl.Len(), NumFilters; got != want {
		t.Fatalf("got len=%d, want=%d", got, want)
	}

	i, err := tbl.AddFilter("F_SYSTEM", "System messages")
	if err != nil {
		t.Fatalf("could not add filter: %+v", err)
	}
	if i != 0 {
		t.Fatalf("got slot=%d, want=0", i)
	}
	if _, err := tbl.AddFilter("F_SYSTEM", "again"); err == nil {
		t.Fatalf("expected an error: duplicate filter name")
	}

	for n := 1; n < NumFilters; n++ {
		if _, err := tbl.AddFilter(fmt.Sprintf("F_%02d", n), ""); err != nil {
			t.Fatalf("filter %d: %+v", n, err)
		}
	}
	if _, err := tbl.AddFilter("F_OVERFLOW", ""); err == nil {
		t.Fatalf("expected an error: all filter slots in use")
	}
	if got, want := tbl.NumFilterSlots(), NumFilters; got != want {
		t.Fatalf("got %d slots, want=%d", got, want)
	}
}

func TestTableIntern(t *testing.T) {
	tbl := NewTable()

	i, err := tbl.Intern("speed", EnumMemo)
	if err != nil {
		t.Fatalf("could not intern: %+v", err)
	}
	if got, want := i, NumFilters; got != want {
		t.Fatalf("got index=%d, want=%d", got, want)
	}

	if _, err := tbl.Intern("speed", EnumOutFile); err == nil {
		t.Fatalf("expected an error: name in use")
	}

	if got, want := tbl.Find("speed", EnumMemo), i; got != want {
		t.Fatalf("got index=%d, want=%d", got, want)
	}
	if got, want := tbl.Find("speed", EnumOutFile), -1; got != want {
		t.Fatalf("got index=%d, want=%d", got, want)
	}
	if got, want := tbl.Find("altitude", EnumMemo), -1; got != want {
		t.Fatalf("got index=%d, want=%d", got, want)
	}
}

func TestTableMemo(t *testing.T) {
	tbl := NewTable()
	i, err := tbl.Intern("counter", EnumMemo)
	if err != nil {
		t.Fatalf("could not intern: %+v", err)
	}

	v, err := tbl.Memo(i)
	if err != nil {
		t.Fatalf("could not read memo: %+v", err)
	}
	if v != 0 {
		t.Fatalf("got value=%v, want=0", v)
	}

	if err := tbl.SetMemo(i, 42.5); err != nil {
		t.Fatalf("could not set memo: %+v", err)
	}
	v, err = tbl.Memo(i)
	if err != nil {
		t.Fatalf("could not read memo: %+v", err)
	}
	if got, want := v, 42.5; got != want {
		t.Fatalf("got value=%v, want=%v", got, want)
	}

	if _, err := tbl.Memo(0); err == nil {
		t.Fatalf("expected an error: filter slot is not a memo")
	}
	if err := tbl.SetMemo(tbl.Len(), 1); err == nil {
		t.Fatalf("expected an error: index out of range")
	}

	j, err := tbl.Intern("log", EnumOutFile)
	if err != nil {
		t.Fatalf("could not intern: %+v", err)
	}
	if _, err := tbl.Memo(j); err == nil {
		t.Fatalf("expected an error: entry is not a memo")
	}
}

func TestTablePathUsed(t *testing.T) {
	tbl := NewTable()
	i, err := tbl.Intern("log", EnumOutFile)
	if err != nil {
		t.Fatalf("could not intern: %+v", err)
	}
	tbl.At(i).Path = "out/log.txt"

	if !tbl.PathUsed("out/log.txt") {
		t.Fatalf("path should be in use")
	}
	if tbl.PathUsed("out/other.txt") {
		t.Fatalf("path should be free")
	}
}
