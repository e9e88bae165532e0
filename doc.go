// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rtemsg holds code to decode binary trace buffers produced by
// the RTEdbg embedded logging library into human-readable records,
// driven by format definition files.
package rtemsg // import "github.com/rtedbg/rtemsg"

import (
	"runtime/debug"
)

const root = "github.com/rtedbg/rtemsg"

// Version returns the module version and checksum recorded in the
// build information of the running binary. Both are empty in binaries
// built without module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if r := m.Replace; r != nil {
			switch {
			case r.Path != "" && r.Version != "":
				return r.Path + " " + r.Version, r.Sum
			case r.Version != "":
				return r.Version, r.Sum
			case r.Path != "":
				return r.Path, r.Sum
			}
			return m.Version + "*", ""
		}
		return m.Version, m.Sum
	}
	return "", ""
}
