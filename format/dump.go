// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"fmt"
	"os"
	"path/filepath"

	"go-hep.org/x/hep/csvutil"
	"golang.org/x/xerrors"
)

// DumpFilterNames writes Filter_names.txt into dir: one line per
// filter slot, the description when given, the name otherwise.
func (c *Compiler) DumpFilterNames(dir string) error {
	f, err := os.Create(filepath.Join(dir, "Filter_names.txt"))
	if err != nil {
		return xerrors.Errorf("format: could not create filter dump: %w", err)
	}
	defer f.Close()

	for i := 0; i < NumFilters; i++ {
		e := c.Enums.At(i)
		switch {
		case e.Desc != "":
			fmt.Fprintln(f, e.Desc)
		default:
			fmt.Fprintln(f, e.Name)
		}
	}
	return f.Close()
}

// WriteFormatCSV dumps every decoding plan and its value slots to
// Format.csv in dir, tab separated.
func (c *Compiler) WriteFormatCSV(dir string) error {
	fname := filepath.Join(dir, "Format.csv")
	tbl, err := csvutil.Create(fname)
	if err != nil {
		return xerrors.Errorf("format: could not create %q: %w", fname, err)
	}
	defer tbl.Close()
	tbl.Writer.Comma = '\t'

	err = tbl.WriteHeader("FMT\tName\tType\tLength\tString\tData type\tFmt type\tAddr\tSize\tGet memo\tPut memo\tIn file\tOut file\tOffset\tMult\tTimer\tStatistics\n")
	if err != nil {
		return xerrors.Errorf("format: could not write header: %w", err)
	}

	var werr error
	c.Plans.Plans(func(p *Plan) {
		if werr != nil {
			return
		}
		for i := range p.Slots {
			s := &p.Slots[i]
			stat := ""
			if s.Stats != nil {
				stat = s.Stats.Name
			}
			werr = tbl.WriteRow(
				p.FID, p.Name, p.Kind.String(), p.MsgLen,
				s.Format,
				valueName(s.Value), printName(s.Print),
				s.BitAddr, s.Bits,
				c.enumName(s.GetMemo), c.enumName(s.PutMemo),
				c.enumName(s.InFile), c.enumName(s.OutFile),
				s.Offset, s.Mult, s.TimerFID, stat,
			)
		}
	})
	if werr != nil {
		return xerrors.Errorf("format: could not write row: %w", werr)
	}
	return tbl.Close()
}

func (c *Compiler) enumName(i int) string {
	if i <= 0 || i >= c.Enums.Len() {
		return ""
	}
	return c.Enums.At(i).Name
}

func valueName(v ValueKind) string {
	switch v {
	case ValAuto:
		return "AUTO"
	case ValUint:
		return "UINT64"
	case ValInt:
		return "INT64"
	case ValFloat:
		return "DOUBLE"
	case ValString:
		return "STRING"
	case ValTimestamp:
		return "TIMESTAMP"
	case ValDTime:
		return "dTIMESTAMP"
	case ValMemo:
		return "MEMO"
	case ValTimeDiff:
		return "TIME_DIFF"
	case ValMsgNo:
		return "MESSAGE_NO"
	}
	return "???"
}

func printName(p PrintKind) string {
	switch p {
	case PrintText:
		return "PLAIN_TEXT"
	case PrintString:
		return "STRING"
	case PrintSelectedText:
		return "SELECTED_TEXT"
	case PrintUint:
		return "UINT64"
	case PrintInt:
		return "INT64"
	case PrintFloat:
		return "DOUBLE"
	case PrintBinary:
		return "BINARY"
	case PrintTimestamp:
		return "TIMESTAMP"
	case PrintDTime:
		return "dTIMESTAMP"
	case PrintMsgNo:
		return "MSG_NO"
	case PrintHex1:
		return "HEX1"
	case PrintHex2:
		return "HEX2"
	case PrintHex4:
		return "HEX4"
	case PrintBinToFile:
		return "BIN_TO_FILE"
	case PrintDate:
		return "DATE"
	case PrintMsgName:
		return "MSG_NAME"
	}
	return "???"
}
