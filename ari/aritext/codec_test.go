package aritext

import (
	"testing"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

func roundTrip(t *testing.T, in string) ari.Value {
	t.Helper()
	v, err := Decode(in)
	if err != nil {
		t.Fatalf("Decode(%q): %v", in, err)
	}
	out, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode after decoding %q: %v", in, err)
	}
	v2, err := Decode(out)
	if err != nil {
		t.Fatalf("re-Decode(%q): %v", out, err)
	}
	if !v.Equal(v2) {
		t.Fatalf("round trip not value-equal: %q -> %q -> %q", in, out, out)
	}
	return v
}

func TestDecodeBoolLiteral(t *testing.T) {
	v := roundTrip(t, "ari:/BOOL/true")
	b, ok := v.Bool()
	if !ok || !b {
		t.Fatalf("expected BOOL/true, got %#v", v)
	}
}

func TestDecodeUntypedNumbers(t *testing.T) {
	v := roundTrip(t, "ari:42")
	if n, ok := v.Uint64(); !ok || n != 42 {
		t.Fatalf("expected untyped uint 42, got %#v", v)
	}
	v = roundTrip(t, "ari:-7")
	if n, ok := v.Int64(); !ok || n != -7 {
		t.Fatalf("expected untyped int -7, got %#v", v)
	}
	v = roundTrip(t, "ari:3.5")
	if f, ok := v.Float64(); !ok || f != 3.5 {
		t.Fatalf("expected untyped float 3.5, got %#v", v)
	}
}

func TestDecodeReference(t *testing.T) {
	v := roundTrip(t, "ari://65535/10/CTRL/2")
	if !v.IsRef() {
		t.Fatalf("expected a reference")
	}
	p := v.Path()
	if p.ObjType != ari.TypeCTRL {
		t.Fatalf("expected CTRL object type, got %v", p.ObjType)
	}
}

func TestDecodeReferenceWithParams(t *testing.T) {
	v := roundTrip(t, "ari://example/adm/CTRL/reset(1,2)")
	params := v.Params()
	if params.State != ari.ParamsList || len(params.List) != 2 {
		t.Fatalf("expected 2 positional params, got %#v", params)
	}
}

func TestDecodeAC(t *testing.T) {
	v := roundTrip(t, "ari:/AC/(1,2,3)")
	ac, ok := v.AC()
	if !ok || len(ac.Items) != 3 {
		t.Fatalf("expected AC with 3 items, got %#v", v)
	}
}

func TestDecodeAM(t *testing.T) {
	v := roundTrip(t, "ari:/AM/(a=1,b=2)")
	am, ok := v.AM()
	if !ok || len(am.Pairs) != 2 {
		t.Fatalf("expected AM with 2 pairs, got %#v", v)
	}
	got, ok := am.Get(ari.Text("a"))
	if !ok {
		t.Fatalf("expected key 'a' present")
	}
	if n, _ := got.Uint64(); n != 1 {
		t.Fatalf("expected a=1, got %#v", got)
	}
}

func TestDecodeTBL(t *testing.T) {
	v := roundTrip(t, "ari:/TBL//c=2;((1,2),(3,4))")
	tbl, ok := v.TBL()
	if !ok || tbl.Columns != 2 || len(tbl.Rows) != 2 {
		t.Fatalf("expected 2x2 TBL, got %#v", v)
	}
}

func TestDecodeEXECSET(t *testing.T) {
	v := roundTrip(t, "ari:/EXECSET//n=1;(//example/adm/CTRL/reset)")
	es, ok := v.EXECSET()
	if !ok || len(es.Targets) != 1 {
		t.Fatalf("expected EXECSET with 1 target, got %#v", v)
	}
}

func TestDecodeTextLiteralQuoting(t *testing.T) {
	v := roundTrip(t, "ari:'hello world'")
	s, ok := v.TextString()
	if !ok || s != "hello world" {
		t.Fatalf("expected text 'hello world', got %#v", v)
	}
}

func TestDecodeErrorReportsOffset(t *testing.T) {
	_, err := Decode("ari:/BOOL/maybe")
	if err == nil {
		t.Fatalf("expected decode error")
	}
	var de *DecodeError
	if !asDecodeError(err, &de) {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
}

func asDecodeError(err error, out **DecodeError) bool {
	de, ok := err.(*DecodeError)
	if ok {
		*out = de
	}
	return ok
}
