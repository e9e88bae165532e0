// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"fmt"
	"strings"
)

// Parse error codes. The 100..199 band is reserved for format-file
// parsing diagnostics.
const (
	ErrBadDirective = 100 + iota
	ErrBadName
	ErrDupName
	ErrTooManyNames
	ErrBadNumber
	ErrBadMsgNumber
	ErrBadExtMsgSpec
	ErrMsgTooLong
	ErrNoMsgDefined
	ErrTwoMsgInLine
	ErrMsgAfterSelect
	ErrNoFreeFmtIDs
	ErrBadAlignValue
	ErrBadStartValue
	ErrTooManyFilters
	ErrBadFilterName
	ErrBadMemoName
	ErrUnknownName
	ErrFileUsedBefore
	ErrBadFilePath
	ErrBadFileMode
	ErrCannotOpenFile
	ErrBadIndexedText
	ErrIncludeTooDeep
	ErrLineTooLong
	ErrBadComment
	ErrHashOutsideHeader
	ErrMissingQuote
	ErrBadEscape
	ErrBadValueSpec
	ErrBadBitAddress
	ErrBadBitSize
	ErrFloatBitSize
	ErrUnalignedFloat
	ErrUnalignedString
	ErrUnalignedAuto
	ErrUnalignedHex
	ErrBadScaling
	ErrScalingNeedsSpec
	ErrZeroMultiplier
	ErrBadMemoStore
	ErrBadStatName
	ErrBadTypeChar
	ErrDupExtension
	ErrTextOnlyForY
	ErrTrailingTextRTE
	ErrSlotPastMsgEnd
	ErrWorkFileWrite
)

var parseText = map[int]string{
	ErrBadDirective:      "unknown directive or stray text",
	ErrBadName:           "invalid name (alphanumerics and '_' only)",
	ErrDupName:           "name already defined",
	ErrTooManyNames:      "too many names defined",
	ErrBadNumber:         "invalid unsigned number",
	ErrBadMsgNumber:      "message number must be in [0,4]",
	ErrBadExtMsgSpec:     "invalid EXT_MSG data/bits specification",
	ErrMsgTooLong:        "message length out of range",
	ErrNoMsgDefined:      "format string or selection without a message definition",
	ErrTwoMsgInLine:      "only one message definition per line",
	ErrMsgAfterSelect:    "message definition must precede file selections",
	ErrNoFreeFmtIDs:      "no free format ids for this allocation",
	ErrBadAlignValue:     "FMT_ALIGN value must be a power of two within range",
	ErrBadStartValue:     "FMT_START value below already-assigned ids",
	ErrTooManyFilters:    "all filter slots are in use",
	ErrBadFilterName:     "filter name must start with \"F_\"",
	ErrBadMemoName:       "memo name must start with \"M_\"",
	ErrUnknownName:       "name not defined",
	ErrFileUsedBefore:    "file path already used",
	ErrBadFilePath:       "invalid or empty file path",
	ErrBadFileMode:       "invalid output file mode",
	ErrCannotOpenFile:    "cannot open file",
	ErrBadIndexedText:    "indexed text needs at least two options of 1..255 bytes",
	ErrIncludeTooDeep:    "INCLUDE nesting too deep",
	ErrLineTooLong:       "input line too long",
	ErrBadComment:        "block comment does not close on the same line",
	ErrHashOutsideHeader: "'#' lines are only allowed in generated headers",
	ErrMissingQuote:      "missing closing quote",
	ErrBadEscape:         "invalid escape sequence",
	ErrBadValueSpec:      "invalid value specifier",
	ErrBadBitAddress:     "bit address out of range",
	ErrBadBitSize:        "bit size must be in [1,64]",
	ErrFloatBitSize:      "float size must be 16, 32 or 64 bits",
	ErrUnalignedFloat:    "float bit address must be byte aligned",
	ErrUnalignedString:   "string bit address must be byte aligned",
	ErrUnalignedAuto:     "value without specifier needs a 32-bit aligned cursor",
	ErrUnalignedHex:      "hex dump bit address must be byte aligned",
	ErrBadScaling:        "invalid scaling specification",
	ErrScalingNeedsSpec:  "scaling requires a value specifier",
	ErrZeroMultiplier:    "scaling multiplier must not be zero",
	ErrBadMemoStore:      "invalid memo store specification",
	ErrBadStatName:       "invalid statistics name",
	ErrBadTypeChar:       "invalid format type character",
	ErrDupExtension:      "extension given twice for one value",
	ErrTextOnlyForY:      "inline text selection is only valid with %Y",
	ErrTrailingTextRTE:   "text after this format type must start a new string",
	ErrSlotPastMsgEnd:    "value extends past the end of the message",
	ErrWorkFileWrite:     "cannot write work file",
}

// ParseText returns the catalogue text for a parse error code.
func ParseText(code int) string {
	if t, ok := parseText[code]; ok {
		return t
	}
	return "unknown parse error"
}

// ParseError describes one diagnostic raised while parsing a
// format definition file.
type ParseError struct {
	File string
	Line int
	Col  int
	Code int
	Ctx  string // snippet of the offending input
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: ERR_%03d %s => %q",
		e.File, e.Line, e.Col, e.Code, ParseText(e.Code), e.Ctx)
}

// Report renders the error following tmpl, substituting
// %L line, %E code, %F file name, %P full path, %D description
// and %A context snippet. Non-printable context bytes become spaces.
func (e *ParseError) Report(tmpl string) string {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '%' || i+1 == len(tmpl) {
			b.WriteByte(c)
			continue
		}
		i++
		switch tmpl[i] {
		case 'L':
			fmt.Fprintf(&b, "%d", e.Line)
		case 'E':
			fmt.Fprintf(&b, "%03d", e.Code)
		case 'P':
			b.WriteString(e.File)
		case 'F':
			b.WriteString(baseName(e.File))
		case 'D':
			b.WriteString(ParseText(e.Code))
		case 'A':
			b.WriteString(printableCtx(e.Ctx))
		default:
			b.WriteByte('%')
			b.WriteByte(tmpl[i])
		}
	}
	return b.String()
}

// DefaultErrTemplate is the error report template used when the
// user does not override it.
const DefaultErrTemplate = "%F:%L: error: ERR_%E %D => \"%A\"\n"

const maxCtxLen = 64

func printableCtx(s string) string {
	if len(s) > maxCtxLen {
		s = s[:maxCtxLen]
	}
	buf := []byte(s)
	for i, c := range buf {
		if c < ' ' || c > '~' {
			buf[i] = ' '
		}
	}
	return string(buf)
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}
