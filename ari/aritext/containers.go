package aritext

import (
	"strconv"
	"strings"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// parseACBody parses "(item,item,...)" into an AC container.
func (p *parser) parseACBody() (ari.Value, error) {
	items, err := p.parseParenList()
	if err != nil {
		return ari.Value{}, err
	}
	return ari.SetContainer(ari.NewAC(items)), nil
}

// parseAMBody parses "(k=v,k=v,...)" into an AM container.
func (p *parser) parseAMBody() (ari.Value, error) {
	if err := p.expect('('); err != nil {
		return ari.Value{}, err
	}
	start := p.pos
	body, end, err := p.captureBalanced(start, ')')
	if err != nil {
		return ari.Value{}, err
	}
	p.pos = end + 1

	am := ari.NewAM()
	if strings.TrimSpace(body) == "" {
		return ari.SetContainer(am), nil
	}
	for _, part := range splitTopLevel(body) {
		eq := topLevelEquals(part)
		if eq < 0 {
			return ari.Value{}, errAt(start, "AM entry %q missing '='", part)
		}
		keySub := &parser{s: part[:eq], pos: 0}
		key, err := keySub.parseValue()
		if err != nil {
			return ari.Value{}, err
		}
		normKey, ok := ari.NormalizeKey(key)
		if !ok {
			return ari.Value{}, errAt(start, "AM key %q cannot be normalised", part[:eq])
		}
		valSub := &parser{s: part[eq+1:], pos: 0}
		val, err := valSub.parseValue()
		if err != nil {
			return ari.Value{}, err
		}
		am.Set(normKey, val)
	}
	return ari.SetContainer(am), nil
}

// parseTBLBody parses "/c=N;((row),(row),...)" into a TBL container. Each
// row is itself a parenthesised comma list of exactly N values.
func (p *parser) parseTBLBody() (ari.Value, error) {
	if err := p.expect('/'); err != nil {
		return ari.Value{}, err
	}
	cols, err := p.parseAttr("c")
	if err != nil {
		return ari.Value{}, err
	}
	n, err := strconv.Atoi(cols)
	if err != nil {
		return ari.Value{}, errAt(p.pos, "invalid TBL column count %q", cols)
	}
	tbl := ari.NewTBL(n)
	if err := p.expect('('); err != nil {
		return ari.Value{}, err
	}
	start := p.pos
	body, end, err := p.captureBalanced(start, ')')
	if err != nil {
		return ari.Value{}, err
	}
	p.pos = end + 1
	body = strings.TrimSpace(body)
	if body == "" {
		return ari.SetContainer(tbl), nil
	}
	for _, rowText := range splitTopLevel(body) {
		rowText = strings.TrimSpace(rowText)
		rp := &parser{s: rowText, pos: 0}
		row, err := rp.parseParenList()
		if err != nil {
			return ari.Value{}, err
		}
		if err := tbl.MoveRow(row); err != nil {
			return ari.Value{}, errAt(start, "%v", err)
		}
	}
	return ari.SetContainer(tbl), nil
}

// parseEXECSETBody parses "/n=<nonce>;(target,target,...)".
func (p *parser) parseEXECSETBody() (ari.Value, error) {
	if err := p.expect('/'); err != nil {
		return ari.Value{}, err
	}
	nonceText, err := p.parseAttr("n")
	if err != nil {
		return ari.Value{}, err
	}
	nonce, err := parseSub(nonceText)
	if err != nil {
		return ari.Value{}, err
	}
	targets, err := p.parseParenList()
	if err != nil {
		return ari.Value{}, err
	}
	return ari.SetContainer(&ari.EXECSET{Nonce: nonce, Targets: targets}), nil
}

// parseRPTSETBody parses "/n=<nonce>;r=<reftime>;(report,report,...)"
// where each report is "(reltime,source,item,item,...)": a TD, the source
// reference, then the report items inline, matching spec §3's REPORT
// fields.
func (p *parser) parseRPTSETBody() (ari.Value, error) {
	if err := p.expect('/'); err != nil {
		return ari.Value{}, err
	}
	nonceText, err := p.parseAttr("n")
	if err != nil {
		return ari.Value{}, err
	}
	nonce, err := parseSub(nonceText)
	if err != nil {
		return ari.Value{}, err
	}
	refText, err := p.parseAttrValue("r")
	if err != nil {
		return ari.Value{}, err
	}
	refSub := &parser{s: refText, pos: 0}
	refTime, err := refSub.parseTimeLiteral()
	if err != nil {
		return ari.Value{}, err
	}
	if err := p.expect('('); err != nil {
		return ari.Value{}, err
	}
	start := p.pos
	body, end, err := p.captureBalanced(start, ')')
	if err != nil {
		return ari.Value{}, err
	}
	p.pos = end + 1

	rs := &ari.RPTSET{Nonce: nonce, RefTime: ari.TPAbs(refTime)}
	for _, repText := range splitTopLevel(body) {
		repText = strings.TrimSpace(repText)
		if repText == "" {
			continue
		}
		rp := &parser{s: repText, pos: 0}
		fields, err := rp.parseParenList()
		if err != nil {
			return ari.Value{}, err
		}
		if len(fields) < 2 {
			return ari.Value{}, errAt(start, "REPORT requires at least reltime and source")
		}
		relDur, ok := fields[0].TimeValue()
		if !ok {
			return ari.Value{}, errAt(start, "REPORT relative-time field must be TD")
		}
		rs.Reports = append(rs.Reports, &ari.REPORT{
			RelTime: relDur,
			Source:  fields[1],
			Items:   fields[2:],
		})
	}
	return ari.SetContainer(rs), nil
}

// parseParenList parses a parenthesised, comma-separated list of values.
func (p *parser) parseParenList() ([]ari.Value, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	start := p.pos
	body, end, err := p.captureBalanced(start, ')')
	if err != nil {
		return nil, err
	}
	p.pos = end + 1
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	parts := splitTopLevel(body)
	out := make([]ari.Value, 0, len(parts))
	for _, part := range parts {
		v, err := parseSub(part)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// parseAttr parses "name=value;" starting at the current position,
// returning value's raw text.
func (p *parser) parseAttr(name string) (string, error) {
	return p.parseAttrValue(name)
}

func (p *parser) parseAttrValue(name string) (string, error) {
	if !strings.HasPrefix(p.s[p.pos:], name+"=") {
		return "", errAt(p.pos, "expected %q attribute", name)
	}
	p.pos += len(name) + 1
	start := p.pos
	for !p.eof() && p.s[p.pos] != ';' {
		p.pos++
	}
	if p.eof() {
		return "", errAt(start, "unterminated %q attribute", name)
	}
	raw := p.s[start:p.pos]
	p.pos++ // ';'
	return raw, nil
}

func parseSub(s string) (ari.Value, error) {
	sp := &parser{s: strings.TrimSpace(s), pos: 0}
	return sp.parseValue()
}
