package aricbor

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

func TestBoolWorkedExample(t *testing.T) {
	want, err := hex.DecodeString("8201F5")
	if err != nil {
		t.Fatal(err)
	}
	v, err := Decode(want)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b, ok := v.Bool()
	typ, hasType := v.AriType()
	if !ok || !b || !hasType || typ != ari.TypeBool {
		t.Fatalf("expected typed BOOL/true, got %#v", v)
	}
	got, err := Encode(ari.Bool(true).WithType(ari.TypeBool))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode mismatch: got %x want %x", got, want)
	}
}

func cborRoundTrip(t *testing.T, v ari.Value) ari.Value {
	t.Helper()
	b, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode(%x): %v", b, err)
	}
	if !v.Equal(got) {
		t.Fatalf("round trip not value-equal: %#v -> %x -> %#v", v, b, got)
	}
	return got
}

func TestRoundTripUntypedPrimitives(t *testing.T) {
	cborRoundTrip(t, ari.Uint(42))
	cborRoundTrip(t, ari.Int(-7))
	cborRoundTrip(t, ari.Float(3.5))
	cborRoundTrip(t, ari.Text("hello"))
	cborRoundTrip(t, ari.Bytes([]byte{1, 2, 3}))
	cborRoundTrip(t, ari.Null())
	cborRoundTrip(t, ari.Undefined())
}

func TestRoundTripReference(t *testing.T) {
	path := ari.ObjectPath{
		Org:     ari.IntSeg(65535),
		Model:   ari.IntSeg(10),
		ObjType: ari.TypeCTRL,
		ObjID:   ari.IntSeg(2),
	}
	cborRoundTrip(t, ari.Ref(path))
}

func TestRoundTripReferenceWithRevisionAndParams(t *testing.T) {
	path := ari.ObjectPath{
		Org:         ari.TextSeg("example"),
		Model:       ari.TextSeg("adm"),
		HasRevision: true,
		Revision:    ari.Date{Year: 2025, Month: 6, Day: 1},
		ObjType:     ari.TypeCTRL,
		ObjID:       ari.TextSeg("reset"),
	}
	params := ari.GivenParams{State: ari.ParamsList, List: []ari.Value{ari.Uint(1), ari.Uint(2)}}
	cborRoundTrip(t, ari.RefWithParams(path, params))
}

func TestRoundTripContainers(t *testing.T) {
	ac := ari.SetContainer(ari.NewAC([]ari.Value{ari.Uint(1), ari.Text("x"), ari.Bool(true)}))
	cborRoundTrip(t, ac)

	am := ari.NewAM()
	am.Set(ari.Text("a"), ari.Uint(1))
	am.Set(ari.Uint(2), ari.Text("b"))
	cborRoundTrip(t, ari.SetContainer(am))

	tbl := ari.NewTBL(2)
	_ = tbl.MoveRow([]ari.Value{ari.Uint(1), ari.Uint(2)})
	_ = tbl.MoveRow([]ari.Value{ari.Uint(3), ari.Uint(4)})
	cborRoundTrip(t, ari.SetContainer(tbl))

	es := &ari.EXECSET{Nonce: ari.Uint(1), Targets: []ari.Value{ari.Ref(ari.ObjectPath{
		Org: ari.TextSeg("example"), Model: ari.TextSeg("adm"), ObjType: ari.TypeCTRL, ObjID: ari.TextSeg("reset"),
	})}}
	cborRoundTrip(t, ari.SetContainer(es))
}

func TestRoundTripTimespec(t *testing.T) {
	cborRoundTrip(t, ari.TP(ari.Timespec{Sec: 1000, Nsec: 500_000_000}))
	cborRoundTrip(t, ari.TD(ari.Timespec{Relative: true, Sec: -5, Nsec: 0}))
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	b, err := Encode(ari.Uint(1))
	if err != nil {
		t.Fatal(err)
	}
	b = append(b, 0x00)
	if _, err := Decode(b); err == nil {
		t.Fatalf("expected trailing-bytes error")
	}
}

func TestDecodeUnsignedOverflowRejected(t *testing.T) {
	w := &writer{}
	w.writeArrayHdr(2)
	w.writeUint(uint64(ari.TypeUint))
	w.writeInt(-1)
	if _, err := Decode(w.buf); err == nil {
		t.Fatalf("expected error decoding negative value into UINT")
	}
}
