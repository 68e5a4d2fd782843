package ari

// PrimKind identifies which primitive field of a literal Value is
// significant, independent of any declared AMM type. See spec §3.
type PrimKind uint8

const (
	PrimUndefined PrimKind = iota
	PrimNull
	PrimBool
	PrimUint64
	PrimInt64
	PrimFloat64
	PrimTextString
	PrimByteString
	PrimTimespec
	PrimContainer
)

func (k PrimKind) String() string {
	switch k {
	case PrimUndefined:
		return "undefined"
	case PrimNull:
		return "null"
	case PrimBool:
		return "bool"
	case PrimUint64:
		return "uint64"
	case PrimInt64:
		return "int64"
	case PrimFloat64:
		return "float64"
	case PrimTextString:
		return "textstr"
	case PrimByteString:
		return "bytestr"
	case PrimTimespec:
		return "timespec"
	case PrimContainer:
		return "container"
	default:
		return "unknown"
	}
}

// ARIType is the AMM type tag, ARITYPE, carried by a typed literal or
// implied by an object reference's object-type segment. Both spaces
// share one numbering, exactly as the reference implementation's single
// `ari_type_t` enum does.
//
// The numeric values below are fixed by two hard constraints: the
// worked CBOR example in spec §8 ("decode CBOR 8201F5 => /BOOL/true")
// pins ARITYPE_BOOL at 1, and the codec section (§4.2) pins TP=12,
// TD=13, LABEL=14, CBOR=15, AC=17, AM=18, TBL=19, EXECSET=20, RPTSET=21.
// The remaining primitive and object-kind codes fill the open slots in
// the same monotonic order the reference implementation declares them.
type ARIType int8

const (
	TypeNone ARIType = -1 // no declared ari_type (plain untyped literal)

	TypeNull    ARIType = 0
	TypeBool    ARIType = 1
	TypeByte    ARIType = 2
	TypeInt     ARIType = 3
	TypeUint    ARIType = 4
	TypeVast    ARIType = 5
	TypeUvast   ARIType = 6
	TypeReal32  ARIType = 7
	TypeReal64  ARIType = 8
	TypeTextstr ARIType = 9
	TypeBytestr ARIType = 10

	TypeTP      ARIType = 12
	TypeTD      ARIType = 13
	TypeLabel   ARIType = 14
	TypeCBOR    ARIType = 15
	TypeARITYPE ARIType = 16
	TypeAC      ARIType = 17
	TypeAM      ARIType = 18
	TypeTBL     ARIType = 19
	TypeEXECSET ARIType = 20
	TypeRPTSET  ARIType = 21

	// Object-kind segment values, sharing the ARIType numbering space.
	TypeIDENT   ARIType = 22
	TypeTYPEDEF ARIType = 23
	TypeCONST   ARIType = 24
	TypeVAR     ARIType = 25
	TypeEDD     ARIType = 26
	TypeCTRL    ARIType = 27
	TypeOPER    ARIType = 28
	TypeSBR     ARIType = 29
	TypeTBR     ARIType = 30
	TypeOBJECT  ARIType = 31
)

var ariTypeNames = map[ARIType]string{
	TypeNull: "NULL", TypeBool: "BOOL", TypeByte: "BYTE", TypeInt: "INT",
	TypeUint: "UINT", TypeVast: "VAST", TypeUvast: "UVAST", TypeReal32: "REAL32",
	TypeReal64: "REAL64", TypeTextstr: "TEXTSTR", TypeBytestr: "BYTESTR",
	TypeTP: "TP", TypeTD: "TD", TypeLabel: "LABEL", TypeCBOR: "CBOR",
	TypeARITYPE: "ARITYPE", TypeAC: "AC", TypeAM: "AM", TypeTBL: "TBL",
	TypeEXECSET: "EXECSET", TypeRPTSET: "RPTSET",
	TypeIDENT: "IDENT", TypeTYPEDEF: "TYPEDEF", TypeCONST: "CONST",
	TypeVAR: "VAR", TypeEDD: "EDD", TypeCTRL: "CTRL", TypeOPER: "OPER",
	TypeSBR: "SBR", TypeTBR: "TBR", TypeOBJECT: "OBJECT",
}

var ariTypeByName = func() map[string]ARIType {
	m := make(map[string]ARIType, len(ariTypeNames))
	for k, v := range ariTypeNames {
		m[v] = k
	}
	return m
}()

// String returns the canonical upper-case type name used in text ARIs.
func (t ARIType) String() string {
	if t == TypeNone {
		return ""
	}
	if s, ok := ariTypeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseARIType looks up a type name as it appears in text-form ARIs
// (case-insensitive, as the grammar's identifier rules require).
func ParseARIType(name string) (ARIType, bool) {
	t, ok := ariTypeByName[upperASCII(name)]
	return t, ok
}

// ObjType names the object-path type segment (spec §3). It is an alias
// of ARIType and shares its numeric space, so the type itself does not
// exclude primitive/container kinds; IsObjType reports whether a value
// is one of the object kinds.
type ObjType = ARIType

// IsObjType reports whether t is one of the nine well-known object kinds.
func (t ARIType) IsObjType() bool {
	switch t {
	case TypeIDENT, TypeTYPEDEF, TypeCONST, TypeVAR, TypeEDD, TypeCTRL, TypeOPER, TypeSBR, TypeTBR:
		return true
	default:
		return false
	}
}

func upperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
