// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/xerrors"
)

// workFile collects the regenerated content of one format file in
// check-and-compile mode. For .fmt sources the result becomes
// path.h with an include guard; other sources are replaced in place.
type workFile struct {
	src   string
	path  string // src + ".work"
	isFmt bool
	f     *os.File
	w     *bufio.Writer
	guard string
}

func newWorkFile(src string, isFmt bool) (*workFile, error) {
	path := src + ".work"
	f, err := os.Create(path)
	if err != nil {
		return nil, xerrors.Errorf("format: could not create %q: %w", path, err)
	}
	wf := &workFile{
		src:   src,
		path:  path,
		isFmt: isFmt,
		f:     f,
		w:     bufio.NewWriter(f),
	}
	if isFmt {
		wf.guard = headGuard(src)
		fmt.Fprintf(wf.w, "#ifndef %s\n#define %s\n", wf.guard, wf.guard)
		fmt.Fprintf(wf.w, "// Automatically generated file. Do not edit.\n")
	}
	return wf, nil
}

func (wf *workFile) writeLine(line string) {
	wf.w.WriteString(line)
	wf.w.WriteByte('\n')
}

func (wf *workFile) writeDefine(name string, v uint32) {
	fmt.Fprintf(wf.w, "#define %s %dU\n", name, v)
}

// finish closes the work file and replaces the target when the new
// content differs. With errors pending the work file is discarded.
func (wf *workFile) finish(errs, backup bool) error {
	if wf.isFmt {
		fmt.Fprintf(wf.w, "#endif // %s\n", wf.guard)
	}
	if err := wf.w.Flush(); err != nil {
		wf.f.Close()
		os.Remove(wf.path)
		return xerrors.Errorf("format: could not flush %q: %w", wf.path, err)
	}
	if err := wf.f.Close(); err != nil {
		os.Remove(wf.path)
		return xerrors.Errorf("format: could not close %q: %w", wf.path, err)
	}

	if errs {
		os.Remove(wf.path)
		return nil
	}

	dst := wf.src
	if wf.isFmt {
		dst = wf.src + ".h"
	}

	same, err := filesEqual(wf.path, dst)
	if err != nil {
		os.Remove(wf.path)
		return err
	}
	if same {
		os.Remove(wf.path)
		return nil
	}

	if _, err := os.Stat(dst); err == nil {
		if backup {
			if err := os.Rename(dst, dst+".bak"); err != nil {
				return xerrors.Errorf("format: could not back up %q: %w", dst, err)
			}
		} else if err := os.Remove(dst); err != nil {
			return xerrors.Errorf("format: could not remove %q: %w", dst, err)
		}
	}
	if err := os.Rename(wf.path, dst); err != nil {
		return xerrors.Errorf("format: could not rename %q to %q: %w", wf.path, dst, err)
	}
	return nil
}

// headGuard derives the include-guard macro from the file path:
// "RTE_" plus the uppercased base name, bytes of 0x80 and above mapped
// to a letter and other non-alphanumerics to underscores.
func headGuard(path string) string {
	base := baseName(path)
	var b strings.Builder
	b.WriteString("RTE_")
	for i := 0; i < len(base); i++ {
		c := base[i]
		switch {
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - 'a' + 'A')
		case c >= 'A' && c <= 'Z' || c >= '0' && c <= '9':
			b.WriteByte(c)
		case c >= 0x80:
			b.WriteByte('A' + (c>>4^c)&0x0f)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// filesEqual reports whether the two files carry identical bytes.
// A missing b counts as different.
func filesEqual(a, b string) (bool, error) {
	pa, err := os.ReadFile(a)
	if err != nil {
		return false, xerrors.Errorf("format: could not read %q: %w", a, err)
	}
	pb, err := os.ReadFile(b)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, xerrors.Errorf("format: could not read %q: %w", b, err)
	}
	return bytes.Equal(pa, pb), nil
}
