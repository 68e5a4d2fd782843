package aritext

import (
	"strconv"
	"strings"
	"time"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// parseUntypedLiteral parses a literal with no declared ari_type: the
// bare keywords true/false/null, a quoted or bare text string, or a
// number whose primitive kind is inferred from its own syntax.
func (p *parser) parseUntypedLiteral() (ari.Value, error) {
	switch {
	case p.consumeKeyword("true"):
		return ari.Bool(true), nil
	case p.consumeKeyword("false"):
		return ari.Bool(false), nil
	case p.consumeKeyword("null"):
		return ari.Null(), nil
	case p.consumeKeyword("undefined"):
		return ari.Undefined(), nil
	case p.peek() == '\'':
		s, err := p.parseQuotedText()
		if err != nil {
			return ari.Value{}, err
		}
		return ari.Text(s), nil
	case p.peek() == 'h' && p.pos+1 < len(p.s) && p.s[p.pos+1] == '\'':
		b, err := p.parseHexBytes()
		if err != nil {
			return ari.Value{}, err
		}
		return ari.Bytes(b), nil
	default:
		identStart := isIdentStart(p.peek())
		save := p.pos
		v, err := p.parseNumber()
		if err == nil || !identStart {
			return v, err
		}
		p.pos = save
		s, err := p.parseBareIdent()
		if err != nil {
			return ari.Value{}, err
		}
		return ari.Text(s), nil
	}
}

func (p *parser) consumeKeyword(kw string) bool {
	if strings.HasPrefix(p.s[p.pos:], kw) {
		end := p.pos + len(kw)
		if end == len(p.s) || !isIdentChar(p.s[end]) {
			p.pos = end
			return true
		}
	}
	return false
}

// parseQuotedText parses a single-quoted string with backslash escapes.
func (p *parser) parseQuotedText() (string, error) {
	start := p.pos
	if err := p.expect('\''); err != nil {
		return "", err
	}
	var b strings.Builder
	for {
		if p.eof() {
			return "", errAt(start, "unterminated quoted string")
		}
		c := p.s[p.pos]
		switch c {
		case '\'':
			p.pos++
			return b.String(), nil
		case '\\':
			p.pos++
			if p.eof() {
				return "", errAt(p.pos, "truncated escape in quoted string")
			}
			b.WriteByte(p.s[p.pos])
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
}

// parseHexBytes parses h'hex digits' byte-string literals.
func (p *parser) parseHexBytes() ([]byte, error) {
	start := p.pos
	p.pos++ // 'h'
	if err := p.expect('\''); err != nil {
		return nil, err
	}
	hstart := p.pos
	for !p.eof() && p.s[p.pos] != '\'' {
		p.pos++
	}
	if p.eof() {
		return nil, errAt(start, "unterminated byte-string literal")
	}
	hex := p.s[hstart:p.pos]
	p.pos++ // closing quote
	if len(hex)%2 != 0 {
		return nil, errAt(hstart, "odd-length hex byte-string")
	}
	out := make([]byte, len(hex)/2)
	for i := range out {
		v, err := strconv.ParseUint(hex[2*i:2*i+2], 16, 8)
		if err != nil {
			return nil, errAt(hstart+2*i, "invalid hex digit")
		}
		out[i] = byte(v)
	}
	return out, nil
}

// parseNumber parses an untyped numeric literal, choosing int64, uint64
// or float64 by its own lexical form: a decimal point or exponent (or
// nan/infinity) makes it a float, a leading '-' makes it a signed int,
// otherwise it is an unsigned int.
func (p *parser) parseNumber() (ari.Value, error) {
	start := p.pos
	if p.consumeKeyword("nan") {
		return ari.Float(nanValue()), nil
	}
	if p.consumeKeyword("infinity") || p.consumeKeyword("inf") {
		return ari.Float(infValue(1)), nil
	}
	if p.consumeKeyword("-infinity") || p.consumeKeyword("-inf") {
		return ari.Float(infValue(-1)), nil
	}
	neg := false
	if p.peek() == '-' || p.peek() == '+' {
		neg = p.peek() == '-'
		p.pos++
	}
	digitsStart := p.pos
	isFloat := false
	for !p.eof() {
		c := p.peek()
		switch {
		case c >= '0' && c <= '9':
			p.pos++
		case c == '.' || c == 'e' || c == 'E':
			isFloat = true
			p.pos++
		case (c == '+' || c == '-') && isFloat:
			p.pos++
		default:
			goto done
		}
	}
done:
	if p.pos == digitsStart {
		return ari.Value{}, errAt(start, "expected a number")
	}
	raw := p.s[start:p.pos]
	if isFloat {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ari.Value{}, errAt(start, "invalid float literal %q", raw)
		}
		return ari.Float(f), nil
	}
	if neg {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ari.Value{}, errAt(start, "invalid integer literal %q", raw)
		}
		return ari.Int(n), nil
	}
	u, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return ari.Value{}, errAt(start, "invalid integer literal %q", raw)
	}
	return ari.Uint(u), nil
}

// parseLiteralBody parses the literal payload of a typed literal whose
// declared type has already been consumed from the "/TYPE/" prefix.
func (p *parser) parseLiteralBody(typ ari.ARIType) (ari.Value, error) {
	switch typ {
	case ari.TypeNull:
		if !p.consumeKeyword("null") {
			return ari.Value{}, errAt(p.pos, "expected null literal")
		}
		return ari.Null().WithType(typ), nil
	case ari.TypeBool:
		if p.consumeKeyword("true") {
			return ari.Bool(true).WithType(typ), nil
		}
		if p.consumeKeyword("false") {
			return ari.Bool(false).WithType(typ), nil
		}
		return ari.Value{}, errAt(p.pos, "expected bool literal")
	case ari.TypeByte, ari.TypeInt, ari.TypeVast:
		v, err := p.parseNumber()
		if err != nil {
			return ari.Value{}, err
		}
		n, ok := v.Int64()
		if !ok {
			if u, ok2 := v.Uint64(); ok2 {
				n = int64(u)
			} else {
				return ari.Value{}, errAt(p.pos, "%s requires an integer literal", typ)
			}
		}
		return ari.Int(n).WithType(typ), nil
	case ari.TypeUint, ari.TypeUvast:
		v, err := p.parseNumber()
		if err != nil {
			return ari.Value{}, err
		}
		u, ok := v.Uint64()
		if !ok {
			return ari.Value{}, errAt(p.pos, "%s requires an unsigned integer literal", typ)
		}
		return ari.Uint(u).WithType(typ), nil
	case ari.TypeReal32, ari.TypeReal64:
		v, err := p.parseNumber()
		if err != nil {
			return ari.Value{}, err
		}
		f, ok := v.Float64()
		if !ok {
			if n, ok2 := v.Int64(); ok2 {
				f = float64(n)
			} else if u, ok2 := v.Uint64(); ok2 {
				f = float64(u)
			}
		}
		return ari.Float(f).WithType(typ), nil
	case ari.TypeTextstr, ari.TypeLabel:
		s, err := p.parseTextLiteral()
		if err != nil {
			return ari.Value{}, err
		}
		return ari.Text(s).WithType(typ), nil
	case ari.TypeBytestr, ari.TypeCBOR:
		b, err := p.parseHexBytes()
		if err != nil {
			return ari.Value{}, err
		}
		return ari.Bytes(b).WithType(typ), nil
	case ari.TypeARITYPE:
		name, err := p.parseBareIdent()
		if err != nil {
			return ari.Value{}, err
		}
		want, ok := ari.ParseARIType(name)
		if !ok {
			return ari.Value{}, errAt(p.pos, "unknown ari_type name %q", name)
		}
		return ari.Int(int64(want)).WithType(typ), nil
	case ari.TypeTP:
		t, err := p.parseTimeLiteral()
		if err != nil {
			return ari.Value{}, err
		}
		return ari.TP(ari.TPAbs(t)), nil
	case ari.TypeTD:
		d, err := p.parseDurationLiteral()
		if err != nil {
			return ari.Value{}, err
		}
		return ari.TD(ari.TDRel(d)), nil
	case ari.TypeAC:
		return p.parseACBody()
	case ari.TypeAM:
		return p.parseAMBody()
	case ari.TypeTBL:
		return p.parseTBLBody()
	case ari.TypeEXECSET:
		return p.parseEXECSETBody()
	case ari.TypeRPTSET:
		return p.parseRPTSETBody()
	default:
		return ari.Value{}, errAt(p.pos, "%s cannot appear as a typed literal", typ)
	}
}

func (p *parser) parseTextLiteral() (string, error) {
	if p.peek() == '\'' {
		return p.parseQuotedText()
	}
	return p.parseBareIdent()
}

// parseTimeLiteral parses an RFC 3339-ish absolute timestamp, or a bare
// integer count of seconds since the DTN epoch.
func (p *parser) parseTimeLiteral() (time.Time, error) {
	start := p.pos
	for !p.eof() && (isIdentChar(p.peek()) || p.peek() == ':' || p.peek() == '+') {
		p.pos++
	}
	raw := p.s[start:p.pos]
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return dtnEpochTime().Add(secToDuration(n)), nil
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errAt(start, "invalid TP literal %q", raw)
}

// parseDurationLiteral parses a bare signed count of seconds (optionally
// fractional) as a relative time delta.
func (p *parser) parseDurationLiteral() (time.Duration, error) {
	v, err := p.parseNumber()
	if err != nil {
		return 0, err
	}
	if f, ok := v.Float64(); ok {
		return time.Duration(f * float64(time.Second)), nil
	}
	if n, ok := v.Int64(); ok {
		return time.Duration(n) * time.Second, nil
	}
	if u, ok := v.Uint64(); ok {
		return time.Duration(u) * time.Second, nil
	}
	return 0, errAt(p.pos, "invalid TD literal")
}
