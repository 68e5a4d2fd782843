package aritext

import (
	"strconv"
	"strings"
	"time"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// Decode parses a complete text-form ARI, e.g. "ari://65535/10/CTRL/2".
// The decoder is total over the grammar it accepts: a malformed input
// always yields a *DecodeError with a byte offset, never a panic.
func Decode(s string) (ari.Value, error) {
	if !strings.HasPrefix(s, "ari:") {
		return ari.Value{}, errAt(0, "missing 'ari:' prefix")
	}
	p := &parser{s: s, pos: 4}
	v, err := p.parseValue()
	if err != nil {
		return ari.Value{}, err
	}
	if p.pos != len(p.s) {
		return ari.Value{}, errAt(p.pos, "trailing input after value")
	}
	return v, nil
}

type parser struct {
	s   string
	pos int
}

func (p *parser) eof() bool { return p.pos >= len(p.s) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) expect(c byte) error {
	if p.peek() != c {
		return errAt(p.pos, "expected %q", string(c))
	}
	p.pos++
	return nil
}

// parseValue parses one ARI value: a reference, a typed literal, or an
// untyped literal, per spec §4.2.
func (p *parser) parseValue() (ari.Value, error) {
	if strings.HasPrefix(p.s[p.pos:], "//") {
		p.pos += 2
		return p.parseReference()
	}
	if p.peek() == '/' {
		p.pos++
		name, err := p.parseBareIdent()
		if err != nil {
			return ari.Value{}, err
		}
		typ, ok := ari.ParseARIType(name)
		if !ok {
			return ari.Value{}, errAt(p.pos, "unknown ARI type %q", name)
		}
		if err := p.expect('/'); err != nil {
			return ari.Value{}, err
		}
		return p.parseLiteralBody(typ)
	}
	// Bare container shorthand: TYPENAME(...) with no leading slash, or a
	// plain untyped literal.
	if save := p.pos; isIdentStart(p.peek()) {
		name, _ := p.parseBareIdent()
		if typ, ok := ari.ParseARIType(name); ok && p.peek() == '/' {
			p.pos++
			return p.parseLiteralBody(typ)
		}
		if typ, ok := ari.ParseARIType(name); ok && p.peek() == '(' {
			return p.parseLiteralBody(typ)
		}
		p.pos = save
	}
	return p.parseUntypedLiteral()
}

func (p *parser) parseBareIdent() (string, error) {
	start := p.pos
	if p.eof() || !isIdentStart(p.peek()) {
		return "", errAt(p.pos, "expected identifier")
	}
	p.pos++
	for !p.eof() && isIdentChar(p.peek()) {
		p.pos++
	}
	return p.s[start:p.pos], nil
}

// parseIDSegment parses one object-path identifier segment: empty, an
// integer, or a (possibly percent-encoded) text name.
func (p *parser) parseIDSegment(stop string) (ari.IDSegment, error) {
	start := p.pos
	for !p.eof() && strings.IndexByte(stop, p.peek()) < 0 {
		p.pos++
	}
	raw := p.s[start:p.pos]
	if raw == "" {
		return ari.NilSeg(), nil
	}
	decoded, err := percentDecode(raw)
	if err != nil {
		return ari.IDSegment{}, err
	}
	if n, err := strconv.ParseInt(decoded, 10, 64); err == nil {
		return ari.IntSeg(n), nil
	}
	return ari.TextSeg(decoded), nil
}

func (p *parser) parseReference() (ari.Value, error) {
	org, err := p.parseIDSegment("/")
	if err != nil {
		return ari.Value{}, err
	}
	if err := p.expect('/'); err != nil {
		return ari.Value{}, err
	}
	model, err := p.parseIDSegment("/@")
	if err != nil {
		return ari.Value{}, err
	}
	path := ari.ObjectPath{Org: org, Model: model}
	if p.peek() == '@' {
		p.pos++
		rev, err := p.parseDate()
		if err != nil {
			return ari.Value{}, err
		}
		path.HasRevision = true
		path.Revision = rev
	}
	if err := p.expect('/'); err != nil {
		return ari.Value{}, err
	}
	typeName, err := p.parseBareIdent()
	if err != nil {
		return ari.Value{}, err
	}
	typ, ok := ari.ParseARIType(typeName)
	if !ok || !typ.IsObjType() {
		return ari.Value{}, errAt(p.pos, "unknown object type %q", typeName)
	}
	path.ObjType = typ
	if err := p.expect('/'); err != nil {
		return ari.Value{}, err
	}
	obj, err := p.parseIDSegment("(/")
	if err != nil {
		return ari.Value{}, err
	}
	path.ObjID = obj

	if p.peek() != '(' {
		return ari.Ref(path), nil
	}
	params, err := p.parseParams()
	if err != nil {
		return ari.Value{}, err
	}
	return ari.RefWithParams(path, params), nil
}

func (p *parser) parseDate() (ari.Date, error) {
	start := p.pos
	for !p.eof() && (isIdentChar(p.peek())) {
		p.pos++
	}
	raw := p.s[start:p.pos]
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return ari.Date{}, errAt(start, "invalid revision date %q", raw)
	}
	return ari.Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}, nil
}

// parseParams parses "(...)" as either a positional list or a
// name/index keyed map, per spec §3 "Actual-Parameter Set".
func (p *parser) parseParams() (ari.GivenParams, error) {
	if err := p.expect('('); err != nil {
		return ari.GivenParams{}, err
	}
	start := p.pos
	body, end, err := p.captureBalanced(start, ')')
	if err != nil {
		return ari.GivenParams{}, err
	}
	p.pos = end + 1
	if strings.TrimSpace(body) == "" {
		return ari.GivenParams{State: ari.ParamsNone}, nil
	}
	parts := splitTopLevel(body)
	isMap := false
	for _, part := range parts {
		if k := topLevelEquals(part); k >= 0 {
			isMap = true
			break
		}
	}
	if !isMap {
		list := make([]ari.Value, 0, len(parts))
		for _, part := range parts {
			sub := &parser{s: part, pos: 0}
			v, err := sub.parseValue()
			if err != nil {
				return ari.GivenParams{}, err
			}
			list = append(list, v)
		}
		return ari.GivenParams{State: ari.ParamsList, List: list}, nil
	}
	entries := make([]ari.ParamEntry, 0, len(parts))
	for _, part := range parts {
		eq := topLevelEquals(part)
		if eq < 0 {
			return ari.GivenParams{}, errAt(p.pos, "mixed positional/named parameters")
		}
		keyStr := strings.TrimSpace(part[:eq])
		valStr := part[eq+1:]
		sub := &parser{s: valStr, pos: 0}
		v, err := sub.parseValue()
		if err != nil {
			return ari.GivenParams{}, err
		}
		var key ari.ParamKey
		if n, err := strconv.ParseInt(keyStr, 10, 64); err == nil {
			key = ari.ParamKey{ByIndex: true, Index: n}
		} else {
			key = ari.ParamKey{Name: strings.ToLower(keyStr)}
		}
		entries = append(entries, ari.ParamEntry{Key: key, Value: v})
	}
	return ari.GivenParams{State: ari.ParamsMap, Map: entries}, nil
}

// captureBalanced returns the substring from start up to (not including)
// the matching close for an already-consumed open bracket, honoring
// nested parens and single-quoted strings.
func (p *parser) captureBalanced(start int, close byte) (string, int, error) {
	depth := 0
	i := start
	inQuote := false
	for i < len(p.s) {
		c := p.s[i]
		switch {
		case inQuote:
			if c == '\\' {
				i++
			} else if c == '\'' {
				inQuote = false
			}
		case c == '\'':
			inQuote = true
		case c == '(':
			depth++
		case c == ')':
			if depth == 0 && close == ')' {
				return p.s[start:i], i, nil
			}
			depth--
		}
		i++
	}
	return "", 0, errAt(start, "unbalanced parentheses")
}

func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	inQuote := false
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote:
			if c == '\\' {
				i++
			} else if c == '\'' {
				inQuote = false
			}
		case c == '\'':
			inQuote = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, s[last:i])
			last = i + 1
		}
	}
	parts = append(parts, s[last:])
	return parts
}

// topLevelEquals returns the index of a top-level '=' (outside nested
// parens/quotes), or -1 if there is none.
func topLevelEquals(s string) int {
	depth := 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote:
			if c == '\\' {
				i++
			} else if c == '\'' {
				inQuote = false
			}
		case c == '\'':
			inQuote = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '=' && depth == 0:
			return i
		}
	}
	return -1
}
