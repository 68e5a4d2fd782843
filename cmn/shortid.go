/*
 * Copyright (c) 2024-2025, JHUAPL DTNMA Contributors. All rights reserved.
 */
package cmn

import (
	"strings"
	"sync/atomic"

	"github.com/teris-io/shortid"
)

// uuidABC is the same custom alphabet the teacher's cmn/shortid.go uses:
// shortid's default alphabet includes '-' and '_', which are awkward as
// a leading or trailing character in a generated id; this ordering
// still gives shortid its required 64 distinct runes.
const uuidABC = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

var sid *shortid.Shortid

// InitShortID seeds the process-wide shortid generator, the same
// one-time call the teacher makes at node startup.
func InitShortID(seed uint64) {
	abc, err := shortid.NewWithAlphabet(uuidABC)
	if err != nil {
		panic("cmn: invalid shortid alphabet: " + err.Error())
	}
	abc.Seed(seed)
	sid = abc
}

// GenUUID mints a short, URL-safe identifier for execution-sequence and
// report-set nonces (spec.md §4.6 "each execution sequence is assigned
// a process id", §4.8 "report sets carry a nonce"). The leading
// character is forced alphabetic and a trailing separator is replaced
// with '0', matching the teacher's own fixups for ids that get embedded
// in paths and headers.
func GenUUID() string {
	if sid == nil {
		InitShortID(1)
	}
	s, err := sid.Generate()
	if err != nil {
		panic("cmn: shortid generation failed: " + err.Error())
	}
	if len(s) > 0 && !isAlpha(s[0]) {
		s = "a" + s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == '-' || s[len(s)-1] == '_') {
		s = s[:len(s)-1] + "0"
	}
	return s
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsValidUUID reports whether s could have come from GenUUID: non-empty
// and drawn entirely from the custom alphabet above.
func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !strings.ContainsRune(uuidABC, r)
	}) == -1
}

var tieCounter uint64

// GenTie returns a short monotonic tiebreaker string, used the way the
// teacher's cmn.GenTie disambiguates two ids minted within the same
// clock tick — here, two execution sequences started in the same RPN
// evaluation pass (spec.md §4.7 "ties are broken in process-id order").
func GenTie() string {
	n := atomic.AddUint64(&tieCounter, 1)
	var b [11]byte
	i := len(b)
	for {
		i--
		b[i] = uuidABC[n%64]
		n /= 64
		if n == 0 {
			break
		}
	}
	return string(b[i:])
}
