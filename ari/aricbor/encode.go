package aricbor

import (
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// Encode renders v as a single CBOR-encoded ARI, the inverse of Decode.
func Encode(v ari.Value) ([]byte, error) {
	w := &writer{}
	if err := encodeValue(w, v); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func encodeValue(w *writer, v ari.Value) error {
	if v.IsRef() {
		return encodeObjectRef(w, v)
	}
	typ, hasType := v.AriType()
	if !hasType {
		return encodeUntypedLiteral(w, v)
	}
	w.writeArrayHdr(2)
	w.writeUint(uint64(typ))
	return encodeTypedPayload(w, v, typ)
}

func encodeUntypedLiteral(w *writer, v ari.Value) error {
	switch v.Prim() {
	case ari.PrimUndefined:
		w.writeUndefined()
	case ari.PrimNull:
		w.writeNull()
	case ari.PrimBool:
		b, _ := v.Bool()
		w.writeBool(b)
	case ari.PrimUint64:
		u, _ := v.Uint64()
		w.writeUint(u)
	case ari.PrimInt64:
		n, _ := v.Int64()
		w.writeInt(n)
	case ari.PrimFloat64:
		f, _ := v.Float64()
		w.writeFloat64(f)
	case ari.PrimTextString:
		s, _ := v.TextString()
		w.writeText(s)
	case ari.PrimByteString:
		b, _ := v.ByteString()
		w.writeBytes(b)
	default:
		return errAt(len(w.buf), "value has no untyped CBOR encoding")
	}
	return nil
}

func encodeTypedPayload(w *writer, v ari.Value, typ ari.ARIType) error {
	switch typ {
	case ari.TypeNull:
		w.writeNull()
	case ari.TypeBool:
		b, _ := v.Bool()
		w.writeBool(b)
	case ari.TypeByte, ari.TypeInt, ari.TypeVast:
		n, _ := v.Int64()
		w.writeInt(n)
	case ari.TypeUint, ari.TypeUvast:
		u, _ := v.Uint64()
		w.writeUint(u)
	case ari.TypeReal32, ari.TypeReal64:
		f, _ := v.Float64()
		w.writeFloat64(f)
	case ari.TypeTextstr, ari.TypeLabel:
		s, _ := v.TextString()
		w.writeText(s)
	case ari.TypeBytestr, ari.TypeCBOR:
		b, _ := v.ByteString()
		w.writeBytes(b)
	case ari.TypeARITYPE:
		n, _ := v.Int64()
		w.writeUint(uint64(n))
	case ari.TypeTP:
		ts, _ := v.TimeValue()
		encodeTimespec(w, ts)
	case ari.TypeTD:
		ts, _ := v.TimeValue()
		encodeTimespec(w, ts)
	case ari.TypeAC:
		ac, _ := v.AC()
		w.writeArrayHdr(len(ac.Items))
		for _, item := range ac.Items {
			if err := encodeValue(w, item); err != nil {
				return err
			}
		}
	case ari.TypeAM:
		am, _ := v.AM()
		w.writeMapHdr(len(am.Pairs))
		for _, pair := range am.Pairs {
			if err := encodeValue(w, pair.Key); err != nil {
				return err
			}
			if err := encodeValue(w, pair.Value); err != nil {
				return err
			}
		}
	case ari.TypeTBL:
		tbl, _ := v.TBL()
		w.writeArrayHdr(2)
		w.writeUint(uint64(tbl.Columns))
		w.writeArrayHdr(len(tbl.Rows))
		for _, row := range tbl.Rows {
			w.writeArrayHdr(len(row))
			for _, cell := range row {
				if err := encodeValue(w, cell); err != nil {
					return err
				}
			}
		}
	case ari.TypeEXECSET:
		es, _ := v.EXECSET()
		w.writeArrayHdr(2)
		if err := encodeValue(w, es.Nonce); err != nil {
			return err
		}
		w.writeArrayHdr(len(es.Targets))
		for _, t := range es.Targets {
			if err := encodeValue(w, t); err != nil {
				return err
			}
		}
	case ari.TypeRPTSET:
		rs, _ := v.RPTSET()
		w.writeArrayHdr(3)
		if err := encodeValue(w, rs.Nonce); err != nil {
			return err
		}
		encodeTimespec(w, rs.RefTime)
		w.writeArrayHdr(len(rs.Reports))
		for _, rep := range rs.Reports {
			w.writeArrayHdr(3)
			encodeTimespec(w, rep.RelTime)
			if err := encodeValue(w, rep.Source); err != nil {
				return err
			}
			w.writeArrayHdr(len(rep.Items))
			for _, item := range rep.Items {
				if err := encodeValue(w, item); err != nil {
					return err
				}
			}
		}
	default:
		return errAt(len(w.buf), "%s cannot be encoded as a typed-literal payload", typ)
	}
	return nil
}

// encodeTimespec writes the tag(4) decimal-fraction [exponent, mantissa]
// form spec.md §4.2 uses for TP/TD, at a fixed nanosecond scale.
func encodeTimespec(w *writer, ts ari.Timespec) {
	w.writeTagHdr(tagDecimalFraction)
	w.writeArrayHdr(2)
	w.writeInt(-9)
	mantissa := ts.Sec*1_000_000_000 + int64(ts.Nsec)
	w.writeInt(mantissa)
}

func encodeIDSegment(w *writer, s ari.IDSegment) {
	switch s.Form {
	case ari.IDInt:
		w.writeInt(s.Int)
	case ari.IDText:
		w.writeText(s.Text)
	default:
		w.writeNull()
	}
}

func encodeRevisionDate(w *writer, d ari.Date) {
	w.writeTagHdr(revisionTag)
	w.writeArrayHdr(3)
	w.writeUint(uint64(d.Year))
	w.writeUint(uint64(d.Month))
	w.writeUint(uint64(d.Day))
}

func encodeObjectRef(w *writer, v ari.Value) error {
	p := v.Path()
	params := v.Params()
	length := 4
	if p.HasRevision {
		length++
	}
	if params.State != ari.ParamsNone {
		length++
	}
	w.writeArrayHdr(length)
	encodeIDSegment(w, p.Org)
	encodeIDSegment(w, p.Model)
	if p.HasRevision {
		encodeRevisionDate(w, p.Revision)
	}
	w.writeUint(uint64(p.ObjType))
	encodeIDSegment(w, p.ObjID)
	if params.State == ari.ParamsNone {
		return nil
	}
	return encodeParams(w, params)
}

func encodeParams(w *writer, params ari.GivenParams) error {
	switch params.State {
	case ari.ParamsList:
		w.writeArrayHdr(len(params.List))
		for _, v := range params.List {
			if err := encodeValue(w, v); err != nil {
				return err
			}
		}
	case ari.ParamsMap:
		w.writeMapHdr(len(params.Map))
		for _, e := range params.Map {
			if e.Key.ByIndex {
				w.writeUint(uint64(e.Key.Index))
			} else {
				w.writeText(e.Key.Name)
			}
			if err := encodeValue(w, e.Value); err != nil {
				return err
			}
		}
	}
	return nil
}
