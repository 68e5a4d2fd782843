package ari

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Value is the ARI tagged union (spec §3): either a literal (optional
// declared type, primitive kind, primitive value) or an object reference
// (object path plus optional given parameters). The zero Value is the
// undefined literal.
type Value struct {
	isRef bool

	hasType bool
	typ     ARIType
	prim    PrimKind

	b     bool
	u     uint64
	i64   int64
	f64   float64
	text  string
	bytes []byte
	ts    Timespec
	cont  Container

	path   ObjectPath
	params GivenParams
}

// Undefined is the zero value, matching spec §3's "undefined" primitive.
func Undefined() Value { return Value{} }

// Null builds the null literal.
func Null() Value { return Value{prim: PrimNull} }

// Bool builds a boolean literal.
func Bool(b bool) Value { return Value{prim: PrimBool, b: b} }

// Uint builds an untyped uint64 literal (implicit kind per CBOR decode
// rules; callers needing a declared ari_type should use TypedUint).
func Uint(v uint64) Value { return Value{prim: PrimUint64, u: v} }

// Int builds an untyped int64 literal.
func Int(v int64) Value { return Value{prim: PrimInt64, i64: v} }

// Float builds an untyped float64 literal.
func Float(v float64) Value { return Value{prim: PrimFloat64, f64: v} }

// Text builds a text-string literal.
func Text(s string) Value { return Value{prim: PrimTextString, text: s} }

// Bytes builds a byte-string literal.
func Bytes(b []byte) Value { return Value{prim: PrimByteString, bytes: b} }

// TP builds an absolute-time literal with declared type TP.
func TP(t Timespec) Value { return Value{hasType: true, typ: TypeTP, prim: PrimTimespec, ts: t} }

// TD builds a relative-time literal with declared type TD.
func TD(t Timespec) Value { return Value{hasType: true, typ: TypeTD, prim: PrimTimespec, ts: t} }

// WithType returns a copy of v carrying an explicit declared ari_type.
// It is the caller's responsibility to keep the primitive kind consistent
// with the declared type, per spec §3's invariant.
func (v Value) WithType(t ARIType) Value {
	v.hasType = true
	v.typ = t
	return v
}

// SetContainer wraps a Container as a literal Value of the container's
// own kind.
func SetContainer(c Container) Value {
	return Value{hasType: true, typ: c.containerKind(), prim: PrimContainer, cont: c}
}

// Ref builds an object-reference ARI with no given parameters.
func Ref(path ObjectPath) Value {
	return Value{isRef: true, path: path, params: GivenParams{State: ParamsNone}}
}

// RefWithParams builds an object-reference ARI carrying given parameters.
func RefWithParams(path ObjectPath, params GivenParams) Value {
	return Value{isRef: true, path: path, params: params}
}

// IsRef reports whether v is an object reference rather than a literal.
func (v Value) IsRef() bool { return v.isRef }

// IsUndefined reports whether v is the undefined literal.
func (v Value) IsUndefined() bool { return !v.isRef && v.prim == PrimUndefined }

// IsNull reports whether v is the null literal.
func (v Value) IsNull() bool { return !v.isRef && v.prim == PrimNull }

// Prim returns the primitive kind of a literal value (PrimUndefined for
// references).
func (v Value) Prim() PrimKind {
	if v.isRef {
		return PrimUndefined
	}
	return v.prim
}

// AriType returns the declared type and whether one is present.
func (v Value) AriType() (ARIType, bool) { return v.typ, v.hasType }

// Path returns the object path of a reference value; callers must check
// IsRef first.
func (v Value) Path() ObjectPath { return v.path }

// Params returns the given parameters of a reference value.
func (v Value) Params() GivenParams { return v.params }

// Bool returns the boolean payload; ok is false if the kind mismatches.
func (v Value) Bool() (bool, bool) { return v.b, !v.isRef && v.prim == PrimBool }

// Uint64 returns the unsigned-integer payload.
func (v Value) Uint64() (uint64, bool) { return v.u, !v.isRef && v.prim == PrimUint64 }

// Int64 returns the signed-integer payload.
func (v Value) Int64() (int64, bool) { return v.i64, !v.isRef && v.prim == PrimInt64 }

// Float64 returns the floating-point payload.
func (v Value) Float64() (float64, bool) { return v.f64, !v.isRef && v.prim == PrimFloat64 }

// TextString returns the text-string payload.
func (v Value) TextString() (string, bool) { return v.text, !v.isRef && v.prim == PrimTextString }

// ByteString returns the byte-string payload.
func (v Value) ByteString() ([]byte, bool) { return v.bytes, !v.isRef && v.prim == PrimByteString }

// TimeValue returns the timespec payload (valid for both TP and TD).
func (v Value) TimeValue() (Timespec, bool) { return v.ts, !v.isRef && v.prim == PrimTimespec }

// Container returns the boxed container payload.
func (v Value) Container() (Container, bool) { return v.cont, !v.isRef && v.prim == PrimContainer }

// AC returns the container as *AC, or nil/false if it is not one.
func (v Value) AC() (*AC, bool) {
	c, ok := v.cont.(*AC)
	return c, ok && v.prim == PrimContainer
}

// AM returns the container as *AM, or nil/false if it is not one.
func (v Value) AM() (*AM, bool) {
	c, ok := v.cont.(*AM)
	return c, ok && v.prim == PrimContainer
}

// TBL returns the container as *TBL, or nil/false if it is not one.
func (v Value) TBL() (*TBL, bool) {
	c, ok := v.cont.(*TBL)
	return c, ok && v.prim == PrimContainer
}

// EXECSET returns the container as *EXECSET, or nil/false if it is not one.
func (v Value) EXECSET() (*EXECSET, bool) {
	c, ok := v.cont.(*EXECSET)
	return c, ok && v.prim == PrimContainer
}

// RPTSET returns the container as *RPTSET, or nil/false if it is not one.
func (v Value) RPTSET() (*RPTSET, bool) {
	c, ok := v.cont.(*RPTSET)
	return c, ok && v.prim == PrimContainer
}

// asUint64 attempts a truthy/numeric coercion to uint64, used by AM key
// normalisation (spec §4.1).
func (v Value) asUint64() (uint64, bool) {
	switch v.prim {
	case PrimUint64:
		return v.u, true
	case PrimInt64:
		if v.i64 < 0 {
			return 0, false
		}
		return uint64(v.i64), true
	case PrimFloat64:
		if math.IsNaN(v.f64) || math.IsInf(v.f64, 0) || v.f64 < 0 {
			return 0, false
		}
		return uint64(v.f64), true
	default:
		return 0, false
	}
}

// Copy returns a value with no shared mutable state with v, per the
// ownership contract in spec §3: "copy is deep".
func (v Value) Copy() Value {
	out := v
	if v.prim == PrimByteString {
		out.bytes = append([]byte(nil), v.bytes...)
	}
	if v.prim == PrimContainer && v.cont != nil {
		out.cont = v.cont.copyContainer()
	}
	if v.isRef {
		out.params = v.params.Copy()
	}
	return out
}

// Move returns v's payload, leaving v as the undefined literal; the
// caller takes ownership of any heap data without copying it.
func (v *Value) Move() Value {
	out := *v
	*v = Undefined()
	return out
}

// Equal implements the structural equality of spec §4.1: undefined and
// null compare equal only to themselves, and literals of different
// declared ari_type are always distinct even with equal numeric payload.
func (v Value) Equal(o Value) bool {
	if v.isRef != o.isRef {
		return false
	}
	if v.isRef {
		return v.path.Equal(o.path) && v.params.Equal(o.params)
	}
	if v.hasType != o.hasType || (v.hasType && v.typ != o.typ) {
		return false
	}
	if v.prim != o.prim {
		return false
	}
	switch v.prim {
	case PrimUndefined, PrimNull:
		return true
	case PrimBool:
		return v.b == o.b
	case PrimUint64:
		return v.u == o.u
	case PrimInt64:
		return v.i64 == o.i64
	case PrimFloat64:
		if math.IsNaN(v.f64) && math.IsNaN(o.f64) {
			return true
		}
		return v.f64 == o.f64
	case PrimTextString:
		return v.text == o.text
	case PrimByteString:
		return string(v.bytes) == string(o.bytes)
	case PrimTimespec:
		return v.ts.Equal(o.ts)
	case PrimContainer:
		if (v.cont == nil) != (o.cont == nil) {
			return false
		}
		if v.cont == nil {
			return true
		}
		return v.cont.equalContainer(o.cont)
	default:
		return false
	}
}

// Cmp provides a total, deterministic order over values, used for AM key
// sorting and canonical TBL/AC comparisons. Kind and kind-tag differences
// order before payload differences.
func (v Value) Cmp(o Value) int {
	if v.isRef != o.isRef {
		if !v.isRef {
			return -1
		}
		return 1
	}
	if v.isRef {
		return v.path.Cmp(o.path)
	}
	if v.prim != o.prim {
		return cmpInt(int(v.prim), int(o.prim))
	}
	if v.hasType != o.hasType {
		return cmpBool(v.hasType, o.hasType)
	}
	if v.hasType && v.typ != o.typ {
		return cmpInt(int(v.typ), int(o.typ))
	}
	switch v.prim {
	case PrimUndefined, PrimNull:
		return 0
	case PrimBool:
		return cmpBool(v.b, o.b)
	case PrimUint64:
		return cmpUint(v.u, o.u)
	case PrimInt64:
		return cmpInt64(v.i64, o.i64)
	case PrimFloat64:
		switch {
		case v.f64 < o.f64:
			return -1
		case v.f64 > o.f64:
			return 1
		default:
			return 0
		}
	case PrimTextString:
		switch {
		case v.text < o.text:
			return -1
		case v.text > o.text:
			return 1
		default:
			return 0
		}
	case PrimByteString:
		a, b := string(v.bytes), string(o.bytes)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	case PrimTimespec:
		return v.ts.Cmp(o.ts)
	case PrimContainer:
		if v.cont == nil || o.cont == nil {
			return cmpInt(boolToInt(v.cont != nil), boolToInt(o.cont != nil))
		}
		return v.cont.cmpContainer(o.cont)
	default:
		return 0
	}
}

func cmpBool(a, b bool) int { return cmpInt(boolToInt(a), boolToInt(b)) }
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func errWrongRowSize(want, got int) error {
	return errors.Errorf("tbl: row has %d values, want %d columns", got, want)
}

// String renders a value for diagnostics only; it is not the canonical
// text-codec form (see package ari/aritext for that).
func (v Value) String() string {
	if v.isRef {
		return "ari:" + v.path.String()
	}
	switch v.prim {
	case PrimUndefined:
		return "undefined"
	case PrimNull:
		return "null"
	case PrimBool:
		return fmt.Sprintf("%t", v.b)
	case PrimUint64:
		return fmt.Sprintf("%d", v.u)
	case PrimInt64:
		return fmt.Sprintf("%d", v.i64)
	case PrimFloat64:
		return fmt.Sprintf("%g", v.f64)
	case PrimTextString:
		return v.text
	case PrimByteString:
		return fmt.Sprintf("%x", v.bytes)
	case PrimTimespec:
		return fmt.Sprintf("%s(%d.%09d)", v.typ, v.ts.Sec, v.ts.Nsec)
	case PrimContainer:
		return fmt.Sprintf("%s(...)", v.typ)
	default:
		return "?"
	}
}
