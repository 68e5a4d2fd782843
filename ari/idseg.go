// Package ari implements the AMM Resource Identifier value model: a
// self-describing tagged-union value together with object-path
// references, as used throughout the DTNMA agent toolkit.
/*
 * Copyright (c) 2024-2025, JHUAPL DTNMA Contributors. All rights reserved.
 */
package ari

import (
	"strconv"

	"github.com/OneOfOne/xxhash"
)

// IDSegForm selects which member of an IDSegment is significant.
type IDSegForm uint8

const (
	// IDEmpty is the default, unset identifier segment.
	IDEmpty IDSegForm = iota
	// IDInt selects Int, an int64-range enumeration.
	IDInt
	// IDText selects Text, a name.
	IDText
)

// IDSegment is one identifier component of an ObjectPath: either empty, an
// integer enumeration, or a text name. See spec §3 "Object Path".
type IDSegment struct {
	Form IDSegForm
	Int  int64
	Text string
}

// NilSeg is the empty identifier segment.
func NilSeg() IDSegment { return IDSegment{Form: IDEmpty} }

// IntSeg builds an integer-enumeration identifier segment.
func IntSeg(v int64) IDSegment { return IDSegment{Form: IDInt, Int: v} }

// TextSeg builds a text-name identifier segment.
func TextSeg(v string) IDSegment { return IDSegment{Form: IDText, Text: v} }

// IsEmpty reports whether the segment carries no identity.
func (s IDSegment) IsEmpty() bool { return s.Form == IDEmpty }

// Equal reports structural equality, case-sensitive on the Text form.
// Case-insensitive comparison is the object store's concern (namespaces
// index names case-insensitively), not the value's.
func (s IDSegment) Equal(o IDSegment) bool {
	if s.Form != o.Form {
		return false
	}
	switch s.Form {
	case IDInt:
		return s.Int == o.Int
	case IDText:
		return s.Text == o.Text
	default:
		return true
	}
}

// Cmp orders segments first by form, then by value.
func (s IDSegment) Cmp(o IDSegment) int {
	if s.Form != o.Form {
		if s.Form < o.Form {
			return -1
		}
		return 1
	}
	switch s.Form {
	case IDInt:
		switch {
		case s.Int < o.Int:
			return -1
		case s.Int > o.Int:
			return 1
		default:
			return 0
		}
	case IDText:
		switch {
		case s.Text < o.Text:
			return -1
		case s.Text > o.Text:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

func (s IDSegment) hash(h *xxhash.XXHash64) {
	_ = h.WriteByte(byte(s.Form))
	switch s.Form {
	case IDInt:
		var b [8]byte
		putInt64(b[:], s.Int)
		_, _ = h.Write(b[:])
	case IDText:
		_, _ = h.WriteString(s.Text)
	}
}

// String renders the segment the way the text codec would for error
// messages and debugging; it is not the canonical percent-encoded form.
func (s IDSegment) String() string {
	switch s.Form {
	case IDInt:
		return strconv.FormatInt(s.Int, 10)
	case IDText:
		return s.Text
	default:
		return ""
	}
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}
