package aricbor

import (
	"bytes"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

const revisionTag = 3988

// Decode parses a single CBOR-encoded ARI, per draft-ietf-dtn-ari and
// spec.md §4.2. The full input must be consumed by exactly one value.
func Decode(b []byte) (ari.Value, error) {
	r := &reader{b: b}
	v, err := decodeValue(r)
	if err != nil {
		return ari.Value{}, err
	}
	if !r.eof() {
		return ari.Value{}, errAt(r.pos, "trailing bytes after CBOR value")
	}
	return v, nil
}

func decodeValue(r *reader) (ari.Value, error) {
	major, err := r.peekMajor()
	if err != nil {
		return ari.Value{}, err
	}
	switch major {
	case majUint:
		_, arg, err := r.readHead()
		if err != nil {
			return ari.Value{}, err
		}
		return ari.Uint(arg), nil
	case majNegInt:
		_, arg, err := r.readHead()
		if err != nil {
			return ari.Value{}, err
		}
		return ari.Int(negIntValue(arg)), nil
	case majBytes:
		b, err := readLenPrefixed(r, majBytes)
		if err != nil {
			return ari.Value{}, err
		}
		return ari.Bytes(append([]byte(nil), b...)), nil
	case majText:
		b, err := readLenPrefixed(r, majText)
		if err != nil {
			return ari.Value{}, err
		}
		return ari.Text(string(b)), nil
	case majArray:
		return decodeTopArray(r)
	case majMap:
		return ari.Value{}, errAt(r.pos, "unexpected bare map outside a typed AM payload")
	case majTag:
		return decodeTaggedPassthrough(r)
	case majOther:
		return decodeSimpleOrFloat(r)
	default:
		return ari.Value{}, errAt(r.pos, "unsupported major type %d", major)
	}
}

func negIntValue(arg uint64) int64 { return -1 - int64(arg) }

func readLenPrefixed(r *reader, wantMajor byte) ([]byte, error) {
	major, n, err := r.readHead()
	if err != nil {
		return nil, err
	}
	if major != wantMajor {
		return nil, errAt(r.pos, "major type mismatch")
	}
	return r.readRawBytes(n)
}

// decodeTopArray resolves the two top-level uses of a CBOR array: a
// 2-element [type, value] typed literal, or a 4/5/6-element object
// reference, per spec.md §4.2.
func decodeTopArray(r *reader) (ari.Value, error) {
	start := r.pos
	_, n, err := r.readHead()
	if err != nil {
		return ari.Value{}, err
	}
	switch n {
	case 2:
		typeArg, err := readSmallUint(r)
		if err != nil {
			return ari.Value{}, err
		}
		return decodeTypedPayload(r, ari.ARIType(typeArg))
	case 4, 5, 6:
		return decodeObjectRef(r, int(n))
	default:
		return ari.Value{}, errAt(start, "array of length %d is not a valid ARI", n)
	}
}

func readSmallUint(r *reader) (int64, error) {
	major, arg, err := r.readHead()
	if err != nil {
		return 0, err
	}
	if major != majUint {
		return 0, errAt(r.pos, "expected an unsigned integer type code")
	}
	return int64(arg), nil
}

func decodeSimpleOrFloat(r *reader) (ari.Value, error) {
	start := r.pos
	if r.eof() {
		return ari.Value{}, errAt(start, "unexpected end of input")
	}
	info := r.b[start] & 0x1f
	_, arg, err := r.readHead()
	if err != nil {
		return ari.Value{}, err
	}
	switch info {
	case simpleFalse:
		return ari.Bool(false), nil
	case simpleTrue:
		return ari.Bool(true), nil
	case simpleNull:
		return ari.Null(), nil
	case simpleUndefined:
		return ari.Undefined(), nil
	case addlSingleFloat:
		return ari.Float(float64(math.Float32frombits(uint32(arg)))), nil
	case addlDoubleFloat:
		return ari.Float(math.Float64frombits(arg)), nil
	default:
		return ari.Value{}, errAt(start, "unsupported simple/float value %d", info)
	}
}

// decodeTaggedPassthrough handles CBOR tags with no ARI-specific
// meaning: the whole tagged item is preserved as a generic-CBOR literal
// (spec.md §4.2 decoder invariant ii), re-encoded through
// github.com/fxamacker/cbor/v2 so no hand-written tag table is needed
// for content this codec does not otherwise interpret.
func decodeTaggedPassthrough(r *reader) (ari.Value, error) {
	start := r.pos
	raw, err := captureOneItem(r.b, start)
	if err != nil {
		return ari.Value{}, err
	}
	var generic any
	if err := cbor.Unmarshal(raw, &generic); err != nil {
		return ari.Value{}, errAt(start, "unrecognised CBOR tag: %v", err)
	}
	reencoded, err := cbor.Marshal(generic)
	if err != nil {
		return ari.Value{}, errAt(start, "re-encoding generic CBOR: %v", err)
	}
	r.pos = start + len(raw)
	return ari.Bytes(reencoded).WithType(ari.TypeCBOR), nil
}

// captureOneItem returns the raw bytes of exactly one CBOR data item
// starting at off, by decoding it with the generic library (used only
// to find the item's length; the bytes themselves are untouched).
func captureOneItem(b []byte, off int) ([]byte, error) {
	dec := cbor.NewDecoder(bytes.NewReader(b[off:]))
	var raw cbor.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, errAt(off, "malformed CBOR tag: %v", err)
	}
	return raw, nil
}

func decodeTypedPayload(r *reader, typ ari.ARIType) (ari.Value, error) {
	switch typ {
	case ari.TypeNull:
		v, err := decodeValue(r)
		if err != nil {
			return ari.Value{}, err
		}
		if !v.IsNull() {
			return ari.Value{}, errAt(r.pos, "NULL payload must be null")
		}
		return v.WithType(typ), nil
	case ari.TypeBool:
		v, err := decodeValue(r)
		if err != nil {
			return ari.Value{}, err
		}
		if _, ok := v.Bool(); !ok {
			return ari.Value{}, errAt(r.pos, "BOOL payload must be a boolean")
		}
		return v.WithType(typ), nil
	case ari.TypeByte, ari.TypeInt, ari.TypeVast:
		return decodeSignedPayload(r, typ)
	case ari.TypeUint, ari.TypeUvast:
		return decodeUnsignedPayload(r, typ)
	case ari.TypeReal32, ari.TypeReal64:
		v, err := decodeValue(r)
		if err != nil {
			return ari.Value{}, err
		}
		f, ok := v.Float64()
		if !ok {
			return ari.Value{}, errAt(r.pos, "%s payload must be a float", typ)
		}
		return ari.Float(f).WithType(typ), nil
	case ari.TypeTextstr, ari.TypeLabel:
		b, err := readLenPrefixed(r, majText)
		if err != nil {
			return ari.Value{}, err
		}
		return ari.Text(string(b)).WithType(typ), nil
	case ari.TypeBytestr, ari.TypeCBOR:
		b, err := readLenPrefixed(r, majBytes)
		if err != nil {
			return ari.Value{}, err
		}
		return ari.Bytes(append([]byte(nil), b...)).WithType(typ), nil
	case ari.TypeARITYPE:
		n, err := readSmallUint(r)
		if err != nil {
			return ari.Value{}, err
		}
		return ari.Int(n).WithType(typ), nil
	case ari.TypeTP:
		ts, err := decodeTimespec(r, false)
		if err != nil {
			return ari.Value{}, err
		}
		return ari.TP(ts), nil
	case ari.TypeTD:
		ts, err := decodeTimespec(r, true)
		if err != nil {
			return ari.Value{}, err
		}
		return ari.TD(ts), nil
	case ari.TypeAC:
		return decodeAC(r)
	case ari.TypeAM:
		return decodeAM(r)
	case ari.TypeTBL:
		return decodeTBL(r)
	case ari.TypeEXECSET:
		return decodeEXECSET(r)
	case ari.TypeRPTSET:
		return decodeRPTSET(r)
	default:
		return ari.Value{}, errAt(r.pos, "%s cannot appear as a typed-literal payload", typ)
	}
}

func decodeSignedPayload(r *reader, typ ari.ARIType) (ari.Value, error) {
	v, err := decodeValue(r)
	if err != nil {
		return ari.Value{}, err
	}
	if n, ok := v.Int64(); ok {
		return ari.Int(n).WithType(typ), nil
	}
	if u, ok := v.Uint64(); ok {
		if u > math.MaxInt64 {
			return ari.Value{}, errAt(r.pos, "%s payload overflows int64", typ)
		}
		return ari.Int(int64(u)).WithType(typ), nil
	}
	return ari.Value{}, errAt(r.pos, "%s payload must be an integer", typ)
}

func decodeUnsignedPayload(r *reader, typ ari.ARIType) (ari.Value, error) {
	v, err := decodeValue(r)
	if err != nil {
		return ari.Value{}, err
	}
	u, ok := v.Uint64()
	if !ok {
		return ari.Value{}, errAt(r.pos, "%s payload must be a non-negative integer", typ)
	}
	return ari.Uint(u).WithType(typ), nil
}

// decodeTimespec reads the tag(4) decimal-fraction [exponent, mantissa]
// encoding spec.md §4.2 prescribes for TP/TD payloads.
func decodeTimespec(r *reader, relative bool) (ari.Timespec, error) {
	start := r.pos
	major, tag, err := r.readHead()
	if err != nil {
		return ari.Timespec{}, err
	}
	if major != majTag || tag != tagDecimalFraction {
		return ari.Timespec{}, errAt(start, "expected tag(4) decimal-fraction")
	}
	_, n, err := r.readHead()
	if err != nil || n != 2 {
		return ari.Timespec{}, errAt(start, "decimal-fraction payload must be a 2-element array")
	}
	exp, err := decodeValue(r)
	if err != nil {
		return ari.Timespec{}, err
	}
	mant, err := decodeValue(r)
	if err != nil {
		return ari.Timespec{}, err
	}
	expN, _ := exp.Int64()
	var mantissa int64
	if n64, ok := mant.Int64(); ok {
		mantissa = n64
	} else if u64, ok := mant.Uint64(); ok {
		mantissa = int64(u64)
	}
	scale := math.Pow10(int(expN))
	totalSec := float64(mantissa) * scale
	sec := int64(math.Trunc(totalSec))
	nsec := int32(math.Round((totalSec - float64(sec)) * 1e9))
	return ari.Timespec{Relative: relative, Sec: sec, Nsec: nsec}, nil
}

func decodeAC(r *reader) (ari.Value, error) {
	_, n, err := r.readHead()
	if err != nil {
		return ari.Value{}, err
	}
	items := make([]ari.Value, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := decodeValue(r)
		if err != nil {
			return ari.Value{}, err
		}
		items = append(items, v)
	}
	return ari.SetContainer(ari.NewAC(items)), nil
}

func decodeAM(r *reader) (ari.Value, error) {
	major, n, err := r.readHead()
	if err != nil {
		return ari.Value{}, err
	}
	if major != majMap {
		return ari.Value{}, errAt(r.pos, "AM payload must be a CBOR map")
	}
	am := ari.NewAM()
	for i := uint64(0); i < n; i++ {
		k, err := decodeValue(r)
		if err != nil {
			return ari.Value{}, err
		}
		normKey, ok := ari.NormalizeKey(k)
		if !ok {
			return ari.Value{}, errAt(r.pos, "AM key cannot be normalised")
		}
		v, err := decodeValue(r)
		if err != nil {
			return ari.Value{}, err
		}
		am.Set(normKey, v)
	}
	return ari.SetContainer(am), nil
}

func decodeTBL(r *reader) (ari.Value, error) {
	start := r.pos
	_, n, err := r.readHead()
	if err != nil || n != 2 {
		return ari.Value{}, errAt(start, "TBL payload must be a 2-element array")
	}
	cols, err := readSmallUint(r)
	if err != nil {
		return ari.Value{}, err
	}
	_, rowCount, err := r.readHead()
	if err != nil {
		return ari.Value{}, err
	}
	tbl := ari.NewTBL(int(cols))
	for i := uint64(0); i < rowCount; i++ {
		_, rowLen, err := r.readHead()
		if err != nil {
			return ari.Value{}, err
		}
		row := make([]ari.Value, 0, rowLen)
		for j := uint64(0); j < rowLen; j++ {
			v, err := decodeValue(r)
			if err != nil {
				return ari.Value{}, err
			}
			row = append(row, v)
		}
		if err := tbl.MoveRow(row); err != nil {
			return ari.Value{}, errAt(start, "%v", err)
		}
	}
	return ari.SetContainer(tbl), nil
}

func decodeEXECSET(r *reader) (ari.Value, error) {
	start := r.pos
	_, n, err := r.readHead()
	if err != nil || n != 2 {
		return ari.Value{}, errAt(start, "EXECSET payload must be a 2-element array")
	}
	nonce, err := decodeValue(r)
	if err != nil {
		return ari.Value{}, err
	}
	_, tn, err := r.readHead()
	if err != nil {
		return ari.Value{}, err
	}
	targets := make([]ari.Value, 0, tn)
	for i := uint64(0); i < tn; i++ {
		v, err := decodeValue(r)
		if err != nil {
			return ari.Value{}, err
		}
		if v.IsUndefined() {
			return ari.Value{}, errAt(r.pos, "EXECSET target must not be undefined")
		}
		targets = append(targets, v)
	}
	return ari.SetContainer(&ari.EXECSET{Nonce: nonce, Targets: targets}), nil
}

func decodeRPTSET(r *reader) (ari.Value, error) {
	start := r.pos
	_, n, err := r.readHead()
	if err != nil || n != 3 {
		return ari.Value{}, errAt(start, "RPTSET payload must be a 3-element array")
	}
	nonce, err := decodeValue(r)
	if err != nil {
		return ari.Value{}, err
	}
	refTime, err := decodeTimespec(r, false)
	if err != nil {
		return ari.Value{}, err
	}
	_, rn, err := r.readHead()
	if err != nil {
		return ari.Value{}, err
	}
	rs := &ari.RPTSET{Nonce: nonce, RefTime: refTime}
	for i := uint64(0); i < rn; i++ {
		rep, err := decodeReport(r)
		if err != nil {
			return ari.Value{}, err
		}
		rs.Reports = append(rs.Reports, rep)
	}
	return ari.SetContainer(rs), nil
}

func decodeReport(r *reader) (*ari.REPORT, error) {
	start := r.pos
	_, n, err := r.readHead()
	if err != nil || n != 3 {
		return nil, errAt(start, "REPORT payload must be a 3-element array")
	}
	relTime, err := decodeTimespec(r, true)
	if err != nil {
		return nil, err
	}
	source, err := decodeValue(r)
	if err != nil {
		return nil, err
	}
	_, in, err := r.readHead()
	if err != nil {
		return nil, err
	}
	items := make([]ari.Value, 0, in)
	for i := uint64(0); i < in; i++ {
		v, err := decodeValue(r)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return &ari.REPORT{RelTime: relTime, Source: source, Items: items}, nil
}

func decodeIDSegment(r *reader) (ari.IDSegment, error) {
	major, err := r.peekMajor()
	if err != nil {
		return ari.IDSegment{}, err
	}
	switch major {
	case majUint:
		_, arg, err := r.readHead()
		if err != nil {
			return ari.IDSegment{}, err
		}
		return ari.IntSeg(int64(arg)), nil
	case majNegInt:
		_, arg, err := r.readHead()
		if err != nil {
			return ari.IDSegment{}, err
		}
		return ari.IntSeg(negIntValue(arg)), nil
	case majText:
		b, err := readLenPrefixed(r, majText)
		if err != nil {
			return ari.IDSegment{}, err
		}
		return ari.TextSeg(string(b)), nil
	case majOther:
		_, info, err := r.readHead()
		if err != nil || info != simpleNull {
			return ari.IDSegment{}, errAt(r.pos, "expected null for an empty id segment")
		}
		return ari.NilSeg(), nil
	default:
		return ari.IDSegment{}, errAt(r.pos, "invalid id segment encoding")
	}
}

func decodeRevisionDate(r *reader) (ari.Date, error) {
	start := r.pos
	major, tag, err := r.readHead()
	if err != nil || major != majTag || tag != revisionTag {
		return ari.Date{}, errAt(start, "expected tag(%d) revision date", revisionTag)
	}
	_, n, err := r.readHead()
	if err != nil || n != 3 {
		return ari.Date{}, errAt(start, "revision date payload must be a 3-element array")
	}
	y, err := readSmallUint(r)
	if err != nil {
		return ari.Date{}, err
	}
	m, err := readSmallUint(r)
	if err != nil {
		return ari.Date{}, err
	}
	d, err := readSmallUint(r)
	if err != nil {
		return ari.Date{}, err
	}
	return ari.Date{Year: int(y), Month: int(m), Day: int(d)}, nil
}

func peekIsRevisionTag(r *reader) bool {
	save := r.pos
	defer func() { r.pos = save }()
	major, tag, err := r.readHead()
	return err == nil && major == majTag && tag == revisionTag
}

func decodeObjectRef(r *reader, length int) (ari.Value, error) {
	org, err := decodeIDSegment(r)
	if err != nil {
		return ari.Value{}, err
	}
	model, err := decodeIDSegment(r)
	if err != nil {
		return ari.Value{}, err
	}
	path := ari.ObjectPath{Org: org, Model: model}
	hasRevision := (length == 5 || length == 6) && peekIsRevisionTag(r)
	if hasRevision {
		rev, err := decodeRevisionDate(r)
		if err != nil {
			return ari.Value{}, err
		}
		path.HasRevision = true
		path.Revision = rev
	}
	typeArg, err := readSmallUint(r)
	if err != nil {
		return ari.Value{}, err
	}
	path.ObjType = ari.ARIType(typeArg)
	obj, err := decodeIDSegment(r)
	if err != nil {
		return ari.Value{}, err
	}
	path.ObjID = obj

	hasParams := length == 6 || (length == 5 && !hasRevision)
	if !hasParams {
		return ari.Ref(path), nil
	}
	params, err := decodeParams(r)
	if err != nil {
		return ari.Value{}, err
	}
	return ari.RefWithParams(path, params), nil
}

func decodeParams(r *reader) (ari.GivenParams, error) {
	major, err := r.peekMajor()
	if err != nil {
		return ari.GivenParams{}, err
	}
	switch major {
	case majArray:
		_, n, err := r.readHead()
		if err != nil {
			return ari.GivenParams{}, err
		}
		list := make([]ari.Value, 0, n)
		for i := uint64(0); i < n; i++ {
			v, err := decodeValue(r)
			if err != nil {
				return ari.GivenParams{}, err
			}
			list = append(list, v)
		}
		return ari.GivenParams{State: ari.ParamsList, List: list}, nil
	case majMap:
		_, n, err := r.readHead()
		if err != nil {
			return ari.GivenParams{}, err
		}
		entries := make([]ari.ParamEntry, 0, n)
		for i := uint64(0); i < n; i++ {
			keyMajor, err := r.peekMajor()
			if err != nil {
				return ari.GivenParams{}, err
			}
			var key ari.ParamKey
			switch keyMajor {
			case majUint:
				_, arg, err := r.readHead()
				if err != nil {
					return ari.GivenParams{}, err
				}
				key = ari.ParamKey{ByIndex: true, Index: int64(arg)}
			case majText:
				b, err := readLenPrefixed(r, majText)
				if err != nil {
					return ari.GivenParams{}, err
				}
				key = ari.ParamKey{Name: string(b)}
			default:
				return ari.GivenParams{}, errAt(r.pos, "unsupported parameter key encoding")
			}
			v, err := decodeValue(r)
			if err != nil {
				return ari.GivenParams{}, err
			}
			entries = append(entries, ari.ParamEntry{Key: key, Value: v})
		}
		return ari.GivenParams{State: ari.ParamsMap, Map: entries}, nil
	default:
		return ari.GivenParams{}, errAt(r.pos, "parameter payload must be an array or map")
	}
}
