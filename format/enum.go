// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"io"

	"golang.org/x/xerrors"
)

// EnumKind classifies an entry of the enum table.
type EnumKind uint8

const (
	EnumNone   EnumKind = iota
	EnumFilter          // reserved slots [0,32)
	EnumMemo            // named scalar cell
	EnumInFile          // indexed-text blob loaded from a file
	EnumOutFile         // user-declared output file
	EnumText            // inline indexed-text list
)

// Entry is one interned name with its kind-specific payload.
type Entry struct {
	Name string
	Kind EnumKind

	Desc  string  // filter description
	Path  string  // file path (EnumInFile, EnumOutFile)
	Text  []byte  // indexed-text blob (EnumInFile, EnumText)
	Value float64 // memo cell, updated during decoding

	W io.WriteCloser // open handle (EnumOutFile), nil in check-only mode
}

// MaxEnums bounds the total number of enum-table entries.
const MaxEnums = 4096

// Table interns the names of filters, memos, input files, output
// files and inline text lists. Filter indices are [0,NumFilters);
// all other kinds are appended after them. An entry once assigned
// never relocates.
type Table struct {
	entries []Entry
	nfilt   int
}

// NewTable returns an enum table with the filter slots reserved.
func NewTable() *Table {
	return &Table{entries: make([]Entry, NumFilters, 256)}
}

// Len returns the number of entries, the reserved filter slots included.
func (t *Table) Len() int { return len(t.entries) }

// At returns a pointer to the i-th entry.
func (t *Table) At(i int) *Entry { return &t.entries[i] }

// NumFilterSlots returns the number of filter slots in use.
func (t *Table) NumFilterSlots() int { return t.nfilt }

// used reports whether name is already interned, whatever the kind.
func (t *Table) used(name string) bool {
	for i := range t.entries {
		if t.entries[i].Name == name {
			return true
		}
	}
	return false
}

// AddFilter registers a filter into the next free slot.
func (t *Table) AddFilter(name, desc string) (int, error) {
	if t.nfilt >= NumFilters {
		return -1, xerrors.Errorf("format: all %d filter slots are in use", NumFilters)
	}
	if t.used(name) {
		return -1, xerrors.Errorf("format: name %q already defined", name)
	}
	i := t.nfilt
	t.entries[i] = Entry{Name: name, Kind: EnumFilter, Desc: desc}
	t.nfilt++
	return i, nil
}

// Intern appends a new entry of the given kind and returns its index.
// It fails when the name is already in use or the table is full.
func (t *Table) Intern(name string, kind EnumKind) (int, error) {
	if t.used(name) {
		return -1, xerrors.Errorf("format: name %q already defined", name)
	}
	if len(t.entries) >= MaxEnums {
		return -1, xerrors.Errorf("format: enum table full (%d entries)", MaxEnums)
	}
	t.entries = append(t.entries, Entry{Name: name, Kind: kind})
	return len(t.entries) - 1, nil
}

// Find returns the index of the entry with the given name and kind,
// or -1 when absent. Filter slots are not searched.
func (t *Table) Find(name string, kind EnumKind) int {
	for i := NumFilters; i < len(t.entries); i++ {
		e := &t.entries[i]
		if e.Kind == kind && e.Name == name {
			return i
		}
	}
	return -1
}

// PathUsed reports whether an input or output file entry already
// refers to path.
func (t *Table) PathUsed(path string) bool {
	for i := NumFilters; i < len(t.entries); i++ {
		e := &t.entries[i]
		if (e.Kind == EnumInFile || e.Kind == EnumOutFile) && e.Path == path {
			return true
		}
	}
	return false
}

// Memo returns the value of the memo entry at index i.
func (t *Table) Memo(i int) (float64, error) {
	if i < NumFilters || i >= len(t.entries) {
		return 0, xerrors.Errorf("format: memo index %d out of range", i)
	}
	if t.entries[i].Kind != EnumMemo {
		return 0, xerrors.Errorf("format: entry %q is not a memo", t.entries[i].Name)
	}
	return t.entries[i].Value, nil
}

// SetMemo stores v into the memo entry at index i.
func (t *Table) SetMemo(i int, v float64) error {
	if i < NumFilters || i >= len(t.entries) {
		return xerrors.Errorf("format: memo index %d out of range", i)
	}
	if t.entries[i].Kind != EnumMemo {
		return xerrors.Errorf("format: entry %q is not a memo", t.entries[i].Name)
	}
	t.entries[i].Value = v
	return nil
}

// Close closes every open output-file handle.
func (t *Table) Close() error {
	var err error
	for i := range t.entries {
		e := &t.entries[i]
		if e.W == nil {
			continue
		}
		if e2 := e.W.Close(); e2 != nil && err == nil {
			err = xerrors.Errorf("format: could not close %q: %w", e.Path, e2)
		}
		e.W = nil
	}
	return err
}
