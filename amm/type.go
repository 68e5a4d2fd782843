// Package amm implements the AMM type system, object store, parameter
// binding, and post-load reference resolution described in spec §4.3 and
// §4.4: the layer above the bare ARI value model that gives objects
// their declared shape and namespace identity.
/*
 * Copyright (c) 2024-2025, JHUAPL DTNMA Contributors. All rights reserved.
 */
package amm

import (
	"math"

	"github.com/pkg/errors"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// Match is the three-valued result of a type or constraint check (spec
// §4.3 "match returns POSITIVE, NEGATIVE, or ERROR").
type Match int

const (
	Positive Match = iota
	Negative
	ErrorMatch
)

// Kind distinguishes the eight type shapes of spec §4.3.
type Kind uint8

const (
	KindBuiltin Kind = iota
	KindUse
	KindUList
	KindDList
	KindUMap
	KindTblt
	KindUnion
	KindSeq
)

// Type is implemented by every member of the AMM type system. Dynamic
// dispatch on built-in types is a static record of function pointers
// (spec §9 "Dynamic dispatch on built-in types"); the semantic-type
// kinds below are structs holding sub-types by owning pointer.
type Type interface {
	Kind() Kind
	Match(v ari.Value) Match
	Convert(in ari.Value) (ari.Value, error)
}

// builtinOps is the static match/convert record for one ARIType,
// matching spec §9's "static record of function pointers" guidance
// rather than a type switch scattered across call sites.
type builtinOps struct {
	typ     ari.ARIType
	matchFn func(v ari.Value) Match
	convFn  func(in ari.Value) (ari.Value, error)
}

// BuiltinType wraps one of the primitive ARITYPE codes.
type BuiltinType struct {
	ops *builtinOps
}

func (b *BuiltinType) Kind() Kind { return KindBuiltin }

// ARIType returns the wrapped primitive type code.
func (b *BuiltinType) ARIType() ari.ARIType { return b.ops.typ }

func (b *BuiltinType) Match(v ari.Value) Match { return b.ops.matchFn(v) }

func (b *BuiltinType) Convert(in ari.Value) (ari.Value, error) { return b.ops.convFn(in) }

var builtinRegistry = map[ari.ARIType]*builtinOps{}

func registerBuiltin(t ari.ARIType, match func(ari.Value) Match, conv func(ari.Value) (ari.Value, error)) {
	builtinRegistry[t] = &builtinOps{typ: t, matchFn: match, convFn: conv}
}

// Builtin looks up the static Type record for an ARIType, building the
// wrapper lazily. ok is false for ARITypes with no built-in type (object
// kinds such as CTRL, which are never value types).
func Builtin(t ari.ARIType) (*BuiltinType, bool) {
	ops, ok := builtinRegistry[t]
	if !ok {
		return nil, false
	}
	return &BuiltinType{ops: ops}, true
}

// UseType is a named reference to a TYPEDEF or another built-in type,
// resolved by the binding pass (spec §4.4 "resolves every unresolved
// type-reference"). Before binding, Resolved is nil: Match reports
// ErrorMatch and Convert returns an error, since the referent is not yet
// known.
type UseType struct {
	Ref      ari.ObjectPath
	Resolved Type
}

func (u *UseType) Kind() Kind { return KindUse }

func (u *UseType) Match(v ari.Value) Match {
	if u.Resolved == nil {
		return ErrorMatch
	}
	return u.Resolved.Match(v)
}

func (u *UseType) Convert(in ari.Value) (ari.Value, error) {
	if u.Resolved == nil {
		return ari.Value{}, errors.Errorf("amm: use-type %s not yet bound", u.Ref)
	}
	return u.Resolved.Convert(in)
}

// UListType is a homogeneous list: an AC whose every item matches Elem.
type UListType struct {
	Elem Type
}

func (t *UListType) Kind() Kind { return KindUList }

func (t *UListType) Match(v ari.Value) Match {
	ac, ok := v.AC()
	if !ok {
		return Negative
	}
	for _, item := range ac.Items {
		if t.Elem.Match(item) != Positive {
			return Negative
		}
	}
	return Positive
}

func (t *UListType) Convert(in ari.Value) (ari.Value, error) {
	ac, ok := in.AC()
	if !ok {
		return ari.Value{}, errors.New("amm: ulist convert requires an AC")
	}
	out := make([]ari.Value, len(ac.Items))
	for i, item := range ac.Items {
		cv, err := t.Elem.Convert(item)
		if err != nil {
			return ari.Value{}, err
		}
		out[i] = cv
	}
	return ari.SetContainer(ari.NewAC(out)), nil
}

// DListType is a heterogeneous fixed-length tuple: an AC whose i-th item
// matches Elems[i].
type DListType struct {
	Elems []Type
}

func (t *DListType) Kind() Kind { return KindDList }

func (t *DListType) Match(v ari.Value) Match {
	ac, ok := v.AC()
	if !ok || len(ac.Items) != len(t.Elems) {
		return Negative
	}
	for i, item := range ac.Items {
		if t.Elems[i].Match(item) != Positive {
			return Negative
		}
	}
	return Positive
}

func (t *DListType) Convert(in ari.Value) (ari.Value, error) {
	ac, ok := in.AC()
	if !ok || len(ac.Items) != len(t.Elems) {
		return ari.Value{}, errors.New("amm: dlist convert requires a matching-length AC")
	}
	out := make([]ari.Value, len(ac.Items))
	for i, item := range ac.Items {
		cv, err := t.Elems[i].Convert(item)
		if err != nil {
			return ari.Value{}, err
		}
		out[i] = cv
	}
	return ari.SetContainer(ari.NewAC(out)), nil
}

// UMapType is a homogeneous-key-value map: an AM whose every key matches
// KeyType and every value matches ValType.
type UMapType struct {
	KeyType Type
	ValType Type
}

func (t *UMapType) Kind() Kind { return KindUMap }

func (t *UMapType) Match(v ari.Value) Match {
	am, ok := v.AM()
	if !ok {
		return Negative
	}
	for _, p := range am.Pairs {
		if t.KeyType.Match(p.Key) != Positive || t.ValType.Match(p.Value) != Positive {
			return Negative
		}
	}
	return Positive
}

func (t *UMapType) Convert(in ari.Value) (ari.Value, error) {
	am, ok := in.AM()
	if !ok {
		return ari.Value{}, errors.New("amm: umap convert requires an AM")
	}
	out := ari.NewAM()
	for _, p := range am.Pairs {
		k, err := t.KeyType.Convert(p.Key)
		if err != nil {
			return ari.Value{}, err
		}
		val, err := t.ValType.Convert(p.Value)
		if err != nil {
			return ari.Value{}, err
		}
		out.Set(k, val)
	}
	return ari.SetContainer(out), nil
}

// TbltType is a table with typed columns: a TBL whose row length matches
// len(Columns) and whose j-th cell in every row matches Columns[j].
type TbltType struct {
	Columns []Type
}

func (t *TbltType) Kind() Kind { return KindTblt }

func (t *TbltType) Match(v ari.Value) Match {
	tbl, ok := v.TBL()
	if !ok || tbl.Columns != len(t.Columns) {
		return Negative
	}
	for _, row := range tbl.Rows {
		for j, cell := range row {
			if t.Columns[j].Match(cell) != Positive {
				return Negative
			}
		}
	}
	return Positive
}

func (t *TbltType) Convert(in ari.Value) (ari.Value, error) {
	tbl, ok := in.TBL()
	if !ok || tbl.Columns != len(t.Columns) {
		return ari.Value{}, errors.New("amm: tblt convert requires a matching-width TBL")
	}
	out := ari.NewTBL(tbl.Columns)
	for _, row := range tbl.Rows {
		nr := make([]ari.Value, len(row))
		for j, cell := range row {
			cv, err := t.Columns[j].Convert(cell)
			if err != nil {
				return ari.Value{}, err
			}
			nr[j] = cv
		}
		if err := out.MoveRow(nr); err != nil {
			return ari.Value{}, err
		}
	}
	return ari.SetContainer(out), nil
}

// UnionType is an ordered choice of alternative types; Match/Convert try
// each alternative in declaration order and use the first positive one.
type UnionType struct {
	Alts []Type
}

func (t *UnionType) Kind() Kind { return KindUnion }

func (t *UnionType) Match(v ari.Value) Match {
	for _, alt := range t.Alts {
		if alt.Match(v) == Positive {
			return Positive
		}
	}
	return Negative
}

func (t *UnionType) Convert(in ari.Value) (ari.Value, error) {
	for _, alt := range t.Alts {
		if alt.Match(in) == Positive {
			return in, nil
		}
	}
	for _, alt := range t.Alts {
		if cv, err := alt.Convert(in); err == nil {
			return cv, nil
		}
	}
	return ari.Value{}, errors.New("amm: value matches no union alternative")
}

// SeqType is a homogeneous variable-length tail: it matches an AC whose
// every item matches Elem. PopulateParams gives a SeqType formal no
// special treatment; it takes one actual like any other formal, and
// surplus positional actuals are an error.
type SeqType struct {
	Elem Type
}

func (t *SeqType) Kind() Kind { return KindSeq }

func (t *SeqType) Match(v ari.Value) Match {
	ac, ok := v.AC()
	if !ok {
		return Negative
	}
	for _, item := range ac.Items {
		if t.Elem.Match(item) != Positive {
			return Negative
		}
	}
	return Positive
}

func (t *SeqType) Convert(in ari.Value) (ari.Value, error) {
	return (&UListType{Elem: t.Elem}).Convert(in)
}

func init() {
	registerBuiltin(ari.TypeNull, matchPrim(ari.PrimNull), convIdentity)
	registerBuiltin(ari.TypeBool, matchPrim(ari.PrimBool), convBool)
	registerBuiltin(ari.TypeByte, matchPrim(ari.PrimInt64), convInt)
	registerBuiltin(ari.TypeInt, matchPrim(ari.PrimInt64), convInt)
	registerBuiltin(ari.TypeVast, matchPrim(ari.PrimInt64), convInt)
	registerBuiltin(ari.TypeUint, matchPrim(ari.PrimUint64), convUint)
	registerBuiltin(ari.TypeUvast, matchPrim(ari.PrimUint64), convUint)
	registerBuiltin(ari.TypeReal32, matchPrim(ari.PrimFloat64), convReal)
	registerBuiltin(ari.TypeReal64, matchPrim(ari.PrimFloat64), convReal)
	registerBuiltin(ari.TypeTextstr, matchPrim(ari.PrimTextString), convIdentity)
	registerBuiltin(ari.TypeLabel, matchPrim(ari.PrimTextString), convIdentity)
	registerBuiltin(ari.TypeBytestr, matchPrim(ari.PrimByteString), convIdentity)
	registerBuiltin(ari.TypeCBOR, matchPrim(ari.PrimByteString), convIdentity)
	registerBuiltin(ari.TypeTP, matchPrim(ari.PrimTimespec), convTime(false))
	registerBuiltin(ari.TypeTD, matchPrim(ari.PrimTimespec), convTime(true))
	registerBuiltin(ari.TypeAC, matchContainer(ari.TypeAC), convIdentity)
	registerBuiltin(ari.TypeAM, matchContainer(ari.TypeAM), convIdentity)
	registerBuiltin(ari.TypeTBL, matchContainer(ari.TypeTBL), convIdentity)
	registerBuiltin(ari.TypeEXECSET, matchContainer(ari.TypeEXECSET), convIdentity)
	registerBuiltin(ari.TypeRPTSET, matchContainer(ari.TypeRPTSET), convIdentity)
}

func matchPrim(p ari.PrimKind) func(ari.Value) Match {
	return func(v ari.Value) Match {
		if v.IsRef() {
			return Negative
		}
		if v.Prim() == ari.PrimUndefined {
			return Positive // spec §4.3 "undefined propagates"
		}
		if v.Prim() == p {
			return Positive
		}
		return Negative
	}
}

func matchContainer(t ari.ARIType) func(ari.Value) Match {
	return func(v ari.Value) Match {
		if v.IsRef() {
			return Negative
		}
		if v.Prim() == ari.PrimUndefined {
			return Positive
		}
		if typ, ok := v.AriType(); ok && typ == t {
			return Positive
		}
		return Negative
	}
}

func convIdentity(in ari.Value) (ari.Value, error) { return in, nil }

// convBool implements "any -> bool as truthiness" (spec §4.3).
func convBool(in ari.Value) (ari.Value, error) {
	if in.IsUndefined() {
		return in, nil
	}
	switch in.Prim() {
	case ari.PrimBool:
		return in, nil
	case ari.PrimNull:
		return ari.Bool(false), nil
	case ari.PrimUint64:
		u, _ := in.Uint64()
		return ari.Bool(u != 0), nil
	case ari.PrimInt64:
		n, _ := in.Int64()
		return ari.Bool(n != 0), nil
	case ari.PrimFloat64:
		f, _ := in.Float64()
		return ari.Bool(f != 0), nil
	case ari.PrimTextString:
		s, _ := in.TextString()
		return ari.Bool(s != ""), nil
	case ari.PrimByteString:
		b, _ := in.ByteString()
		return ari.Bool(len(b) != 0), nil
	default:
		return ari.Value{}, errors.Errorf("amm: %s has no boolean conversion", in.Prim())
	}
}

// convInt implements "integer<->real within range" for the signed
// integer family.
func convInt(in ari.Value) (ari.Value, error) {
	if in.IsUndefined() {
		return in, nil
	}
	switch in.Prim() {
	case ari.PrimInt64:
		return in, nil
	case ari.PrimUint64:
		u, _ := in.Uint64()
		if u > 1<<63-1 {
			return ari.Value{}, errors.New("amm: uint64 overflows int64 on conversion")
		}
		return ari.Int(int64(u)), nil
	case ari.PrimFloat64:
		f, _ := in.Float64()
		if isNaNOrInf(f) {
			return ari.Value{}, errors.New("amm: NaN/Infinity cannot convert to integer")
		}
		return ari.Int(int64(f)), nil
	case ari.PrimTimespec:
		ts, _ := in.TimeValue()
		if ts.Sec > math.MaxInt64/1_000_000_000 || ts.Sec < math.MinInt64/1_000_000_000 {
			return ari.Value{}, errors.New("amm: timespec overflows int64 nanoseconds on conversion")
		}
		return ari.Int(ts.Sec*1_000_000_000 + int64(ts.Nsec)), nil
	default:
		return ari.Value{}, errors.Errorf("amm: %s has no integer conversion", in.Prim())
	}
}

func convUint(in ari.Value) (ari.Value, error) {
	if in.IsUndefined() {
		return in, nil
	}
	switch in.Prim() {
	case ari.PrimUint64:
		return in, nil
	case ari.PrimInt64:
		n, _ := in.Int64()
		if n < 0 {
			return ari.Value{}, errors.New("amm: negative value cannot convert to unsigned integer")
		}
		return ari.Uint(uint64(n)), nil
	case ari.PrimFloat64:
		f, _ := in.Float64()
		if isNaNOrInf(f) || f < 0 {
			return ari.Value{}, errors.New("amm: NaN/Infinity/negative cannot convert to unsigned integer")
		}
		return ari.Uint(uint64(f)), nil
	default:
		return ari.Value{}, errors.Errorf("amm: %s has no unsigned conversion", in.Prim())
	}
}

func convReal(in ari.Value) (ari.Value, error) {
	if in.IsUndefined() {
		return in, nil
	}
	switch in.Prim() {
	case ari.PrimFloat64:
		return in, nil
	case ari.PrimInt64:
		n, _ := in.Int64()
		return ari.Float(float64(n)), nil
	case ari.PrimUint64:
		u, _ := in.Uint64()
		return ari.Float(float64(u)), nil
	default:
		return ari.Value{}, errors.Errorf("amm: %s has no real conversion", in.Prim())
	}
}

// convTime implements "TP/TD <-> numeric per decimal-fraction encoding
// within int64 range" (spec §4.3): the numeric form is nanoseconds.
// convTime(false) is the TP converter and convTime(true) the TD one;
// the timespec-to-integer direction is handled by convInt.
func convTime(relative bool) func(ari.Value) (ari.Value, error) {
	return func(in ari.Value) (ari.Value, error) {
		if in.IsUndefined() {
			return in, nil
		}
		if in.Prim() == ari.PrimTimespec {
			return in, nil
		}
		nanos, err := convInt(in)
		if err != nil {
			return ari.Value{}, errors.Wrap(err, "amm: time conversion")
		}
		n, _ := nanos.Int64()
		ts := ari.Timespec{Sec: n / 1_000_000_000, Nsec: int32(n % 1_000_000_000)}
		if relative {
			ts.Relative = true
			return ari.TD(ts), nil
		}
		return ari.TP(ts), nil
	}
}

func isNaNOrInf(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
