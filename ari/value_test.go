package ari

import "testing"

func TestEqualDistinguishesTypedLiterals(t *testing.T) {
	a := Int(100)
	b := Int(100).WithType(TypeInt)
	c := Int(100).WithType(TypeVast)
	if a.Equal(b) {
		t.Fatalf("untyped and typed 100 must differ")
	}
	if b.Equal(c) {
		t.Fatalf("INT 100 and VAST 100 must differ")
	}
	if !b.Equal(Int(100).WithType(TypeInt)) {
		t.Fatalf("identical typed literals must be equal")
	}
}

func TestUndefinedAndNullOnlyEqualSelf(t *testing.T) {
	if !Undefined().Equal(Undefined()) {
		t.Fatalf("undefined must equal undefined")
	}
	if Undefined().Equal(Null()) {
		t.Fatalf("undefined must not equal null")
	}
	if !Null().Equal(Null()) {
		t.Fatalf("null must equal null")
	}
}

func TestEqualImpliesHashEqual(t *testing.T) {
	ac1 := SetContainer(NewAC([]Value{Int(1), Text("x"), Bool(true)}))
	ac2 := SetContainer(NewAC([]Value{Int(1), Text("x"), Bool(true)}))
	if !ac1.Equal(ac2) {
		t.Fatalf("expected equal ACs")
	}
	if ac1.Hash() != ac2.Hash() {
		t.Fatalf("equal values must hash equal")
	}
}

func TestCopyIsDeep(t *testing.T) {
	inner := NewAC([]Value{Text("a")})
	v := SetContainer(inner)
	cp := v.Copy()
	innerCopy, _ := cp.AC()
	innerCopy.Items[0] = Text("b")
	orig, _ := v.AC()
	if orig.Items[0].Equal(Text("b")) {
		t.Fatalf("copy must not share storage with original")
	}
}

func TestMoveLeavesSourceUndefined(t *testing.T) {
	v := Text("hello")
	moved := v.Move()
	if !v.IsUndefined() {
		t.Fatalf("source must be undefined after move")
	}
	if s, _ := moved.TextString(); s != "hello" {
		t.Fatalf("moved value should carry original payload, got %q", s)
	}
}

func TestAMKeyNormalization(t *testing.T) {
	k, ok := NormalizeKey(Text("Hello"))
	if !ok {
		t.Fatalf("text key normalisation should not fail")
	}
	if s, _ := k.TextString(); s != "hello" {
		t.Fatalf("want lower-cased key, got %q", s)
	}
	if _, ok := NormalizeKey(k); !ok {
		t.Fatalf("normalizing twice should still succeed")
	}
	if _, ok := NormalizeKey(Int(-1)); ok {
		t.Fatalf("negative int key must fail normalisation")
	}
}

func TestTBLMoveRowRejectsWrongWidth(t *testing.T) {
	tbl := NewTBL(2)
	if err := tbl.MoveRow([]Value{Int(1), Int(2)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tbl.MoveRow([]Value{Int(1)}); err == nil {
		t.Fatalf("expected error for wrong row width")
	}
}

func TestVisitCountsNodes(t *testing.T) {
	v := SetContainer(NewAC([]Value{Int(1), SetContainer(NewAC([]Value{Int(2), Int(3)}))}))
	count := 0
	Visit(&v, func(node *Value, parent *Value, isMapKey bool, _ any) {
		count++
	}, nil)
	if count != 5 { // outer AC + Int(1) + inner AC + Int(2) + Int(3)
		t.Fatalf("expected 5 visited nodes, got %d", count)
	}
}

func TestTranslateDefaultsToDeepCopy(t *testing.T) {
	v := SetContainer(NewAC([]Value{Int(1), Int(2)}))
	out := Translate(v, func(node *Value, parent *Value, isMapKey bool, _ any) (Value, bool) {
		return Value{}, false
	}, nil)
	if !out.Equal(v) {
		t.Fatalf("default translate should reproduce an equal tree")
	}
}

func TestTranslateSubstitutes(t *testing.T) {
	v := SetContainer(NewAC([]Value{Int(1), Int(2)}))
	out := Translate(v, func(node *Value, parent *Value, isMapKey bool, _ any) (Value, bool) {
		if n, ok := node.Int64(); ok && n == 2 {
			return Int(20), true
		}
		return Value{}, false
	}, nil)
	ac, _ := out.AC()
	if n, _ := ac.Items[1].Int64(); n != 20 {
		t.Fatalf("expected substituted value 20, got %d", n)
	}
}
