package aritext

import (
	"strconv"
	"strings"
)

// isIdentChar reports whether c may appear unescaped inside an identifier
// segment (alnum plus a small punctuation set), per the grammar's
// identifier rules exercised by the reference test suite (`_`, `.`, `-`).
func isIdentChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '.' || c == '-':
		return true
	default:
		return false
	}
}

// isIdentStart reports whether c may begin an identifier segment (digits
// may not lead, matching the reference identity-char rule).
func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

// isIdentity reports whether s can be written bare (without quoting or
// percent-encoding) as an identifier segment.
func isIdentity(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}

// percentEncode escapes every byte of s not in the unreserved set or the
// extra "safe" set, per spec §4.2's "percent-encoding applies to
// identifier and string segments per the URI rules".
func percentEncode(s string, safe string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isIdentChar(c) || strings.IndexByte(safe, c) >= 0 {
			b.WriteByte(c)
		} else {
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0xf])
		}
	}
	return b.String()
}

// percentDecode reverses percentEncode, failing on a malformed escape.
func percentDecode(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", errAt(i, "truncated percent-encoding")
		}
		v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return "", errAt(i, "invalid percent-encoding %q", s[i:i+3])
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}
