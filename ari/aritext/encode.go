package aritext

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// Encode renders v in canonical text form, the inverse of Decode. Every
// value produced by Encode round-trips through Decode to an Equal value
// (spec §8's text-codec round-trip law).
func Encode(v ari.Value) (string, error) {
	var b strings.Builder
	b.WriteString("ari:")
	if err := encodeValue(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func encodeValue(b *strings.Builder, v ari.Value) error {
	if v.IsRef() {
		return encodeReference(b, v)
	}
	typ, hasType := v.AriType()
	if hasType {
		b.WriteByte('/')
		b.WriteString(typ.String())
		b.WriteByte('/')
	}
	return encodeLiteralBody(b, v, typ, hasType)
}

func encodeReference(b *strings.Builder, v ari.Value) error {
	p := v.Path()
	b.WriteString("//")
	b.WriteString(encodeIDSegment(p.Org))
	b.WriteByte('/')
	b.WriteString(encodeIDSegment(p.Model))
	if p.HasRevision {
		b.WriteByte('@')
		b.WriteString(p.Revision.String())
	}
	b.WriteByte('/')
	b.WriteString(p.ObjType.String())
	b.WriteByte('/')
	b.WriteString(encodeIDSegment(p.ObjID))

	params := v.Params()
	switch params.State {
	case ari.ParamsNone:
		return nil
	case ari.ParamsList:
		b.WriteByte('(')
		for i, item := range params.List {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encodeValue(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(')')
	case ari.ParamsMap:
		b.WriteByte('(')
		for i, e := range params.Map {
			if i > 0 {
				b.WriteByte(',')
			}
			if e.Key.ByIndex {
				fmt.Fprintf(b, "%d=", e.Key.Index)
			} else {
				b.WriteString(e.Key.Name)
				b.WriteByte('=')
			}
			if err := encodeValue(b, e.Value); err != nil {
				return err
			}
		}
		b.WriteByte(')')
	}
	return nil
}

func encodeIDSegment(s ari.IDSegment) string {
	if s.Form == ari.IDText {
		return percentEncode(s.Text, "")
	}
	return s.String()
}

func encodeLiteralBody(b *strings.Builder, v ari.Value, typ ari.ARIType, hasType bool) error {
	switch v.Prim() {
	case ari.PrimUndefined:
		b.WriteString("undefined")
	case ari.PrimNull:
		b.WriteString("null")
	case ari.PrimBool:
		bv, _ := v.Bool()
		b.WriteString(strconv.FormatBool(bv))
	case ari.PrimUint64:
		u, _ := v.Uint64()
		b.WriteString(strconv.FormatUint(u, 10))
	case ari.PrimInt64:
		n, _ := v.Int64()
		if hasType && typ == ari.TypeARITYPE {
			b.WriteString(ari.ARIType(n).String())
		} else {
			b.WriteString(strconv.FormatInt(n, 10))
		}
	case ari.PrimFloat64:
		f, _ := v.Float64()
		b.WriteString(encodeFloat(f))
	case ari.PrimTextString:
		s, _ := v.TextString()
		b.WriteString(encodeText(s))
	case ari.PrimByteString:
		bs, _ := v.ByteString()
		b.WriteString(encodeHexBytes(bs))
	case ari.PrimTimespec:
		ts, _ := v.TimeValue()
		if ts.Relative {
			b.WriteString(encodeFloat(ts.AsDuration().Seconds()))
		} else {
			b.WriteString(ts.AsTime().UTC().Format(time.RFC3339Nano))
		}
	case ari.PrimContainer:
		return encodeContainer(b, v)
	}
	return nil
}

func encodeFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "infinity"
	case math.IsInf(f, -1):
		return "-infinity"
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

func encodeText(s string) string {
	switch s {
	case "true", "false", "null", "undefined", "nan", "inf", "infinity":
	default:
		if isIdentity(s) {
			return s
		}
	}
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('\'')
	return b.String()
}

func encodeHexBytes(bs []byte) string {
	const hexDigits = "0123456789abcdef"
	var b strings.Builder
	b.WriteString("h'")
	for _, c := range bs {
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0xf])
	}
	b.WriteByte('\'')
	return b.String()
}

func encodeContainer(b *strings.Builder, v ari.Value) error {
	if ac, ok := v.AC(); ok {
		b.WriteByte('(')
		for i, item := range ac.Items {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encodeValue(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(')')
		return nil
	}
	if am, ok := v.AM(); ok {
		b.WriteByte('(')
		for i, pair := range am.Pairs {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encodeValue(b, pair.Key); err != nil {
				return err
			}
			b.WriteByte('=')
			if err := encodeValue(b, pair.Value); err != nil {
				return err
			}
		}
		b.WriteByte(')')
		return nil
	}
	if tbl, ok := v.TBL(); ok {
		fmt.Fprintf(b, "/c=%d;(", tbl.Columns)
		for i, row := range tbl.Rows {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('(')
			for j, cell := range row {
				if j > 0 {
					b.WriteByte(',')
				}
				if err := encodeValue(b, cell); err != nil {
					return err
				}
			}
			b.WriteByte(')')
		}
		b.WriteByte(')')
		return nil
	}
	if es, ok := v.EXECSET(); ok {
		b.WriteString("/n=")
		if err := encodeValue(b, es.Nonce); err != nil {
			return err
		}
		b.WriteString(";(")
		for i, t := range es.Targets {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encodeValue(b, t); err != nil {
				return err
			}
		}
		b.WriteByte(')')
		return nil
	}
	if rs, ok := v.RPTSET(); ok {
		b.WriteString("/n=")
		if err := encodeValue(b, rs.Nonce); err != nil {
			return err
		}
		b.WriteString(";r=")
		b.WriteString(rs.RefTime.AsTime().UTC().Format(time.RFC3339Nano))
		b.WriteString(";(")
		for i, rep := range rs.Reports {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('(')
			if err := encodeValue(b, ari.TD(rep.RelTime)); err != nil {
				return err
			}
			b.WriteByte(',')
			if err := encodeValue(b, rep.Source); err != nil {
				return err
			}
			for _, item := range rep.Items {
				b.WriteByte(',')
				if err := encodeValue(b, item); err != nil {
					return err
				}
			}
			b.WriteByte(')')
		}
		b.WriteByte(')')
		return nil
	}
	return fmt.Errorf("aritext: unsupported container kind")
}
