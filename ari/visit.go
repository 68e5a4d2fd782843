package ari

// VisitFunc is called for each node of a value tree. parent is nil at the
// root; isMapKey is true when node is the key half of an AM pair. userData
// is threaded through unchanged, letting callers accumulate state without
// a closure over mutable outer variables.
type VisitFunc func(node *Value, parent *Value, isMapKey bool, userData any)

type visitState struct {
	fn       VisitFunc
	userData any
}

func (s *visitState) walk(node *Value, parent *Value, isMapKey bool) {
	s.fn(node, parent, isMapKey, s.userData)
	if !node.isRef && node.prim == PrimContainer && node.cont != nil {
		node.cont.visitChildren(s, node)
	}
}

// Visit walks v and every descendant, depth-first, pre-order (spec
// §4.1 "visitor").
func Visit(v *Value, fn VisitFunc, userData any) {
	s := &visitState{fn: fn, userData: userData}
	s.walk(v, nil, false)
}

// TranslateFunc produces a replacement for node; returning (Value{}, false)
// requests the default deep-copy behaviour for that node, whose children
// are then each passed to the function in turn. A replacement that is
// returned is used as is: its children are not visited.
type TranslateFunc func(node *Value, parent *Value, isMapKey bool, userData any) (Value, bool)

// Translate builds a new value tree from v, calling fn at each node. When
// fn declines (ok=false) the node is deep-copied unchanged, matching spec
// §4.1: "a translator is a visitor that produces a new tree... absent
// callbacks default to deep copy."
func Translate(v Value, fn TranslateFunc, userData any) Value {
	if repl, ok := fn(&v, nil, false, userData); ok {
		return repl
	}
	return translateChildren(v, fn, userData)
}

func translateChildren(v Value, fn TranslateFunc, userData any) Value {
	if v.isRef || v.prim != PrimContainer || v.cont == nil {
		return v.Copy()
	}
	switch c := v.cont.(type) {
	case *AC:
		items := make([]Value, len(c.Items))
		for i := range c.Items {
			items[i] = translateOne(c.Items[i], fn, userData, false)
		}
		return SetContainer(&AC{Items: items})
	case *AM:
		pairs := make([]AMPair, len(c.Pairs))
		for i := range c.Pairs {
			pairs[i] = AMPair{
				Key:   translateOne(c.Pairs[i].Key, fn, userData, true),
				Value: translateOne(c.Pairs[i].Value, fn, userData, false),
			}
		}
		return SetContainer(&AM{Pairs: pairs})
	case *TBL:
		rows := make([][]Value, len(c.Rows))
		for i, row := range c.Rows {
			nr := make([]Value, len(row))
			for j := range row {
				nr[j] = translateOne(row[j], fn, userData, false)
			}
			rows[i] = nr
		}
		return SetContainer(&TBL{Columns: c.Columns, Rows: rows})
	case *EXECSET:
		targets := make([]Value, len(c.Targets))
		for i := range c.Targets {
			targets[i] = translateOne(c.Targets[i], fn, userData, false)
		}
		return SetContainer(&EXECSET{Nonce: translateOne(c.Nonce, fn, userData, false), Targets: targets})
	default:
		return v.Copy()
	}
}

func translateOne(v Value, fn TranslateFunc, userData any, isMapKey bool) Value {
	if repl, ok := fn(&v, nil, isMapKey, userData); ok {
		return repl
	}
	return translateChildren(v, fn, userData)
}
