package refda

import (
	"github.com/pkg/errors"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// expandedItem is one EXPR item after the expansion phase: either a
// resolved value or a retained OPER reference with its actuals.
type expandedItem struct {
	isOper  bool
	value   ari.Value
	oper    *amm.OperObj
	actuals amm.ActualParams
}

// Evaluate runs the two-phase RPN reduction of spec §4.7 over expr, an
// AC whose items are either value-producing references/literals or
// OPER references.
func Evaluate(store *amm.Store, expr ari.Value) (ari.Value, error) {
	ac, ok := expr.AC()
	if !ok {
		return ari.Value{}, errors.New("refda: EXPR must be an AC")
	}

	expanded := make([]expandedItem, len(ac.Items))
	for i, item := range ac.Items {
		ei, err := expandExprItem(store, item)
		if err != nil {
			return ari.Value{}, errors.Wrapf(err, "refda: expanding EXPR item %d", i)
		}
		expanded[i] = ei
	}
	return reduce(expanded)
}

func expandExprItem(store *amm.Store, item ari.Value) (expandedItem, error) {
	if !item.IsRef() {
		return expandedItem{value: item}, nil
	}
	if item.Path().ObjType == ari.TypeOPER {
		res, code := store.Dereference(item)
		if code != amm.DerefOK {
			return expandedItem{}, errors.Wrap(code, "refda: dereferencing OPER")
		}
		oper, ok := res.Object.(*amm.OperObj)
		if !ok {
			return expandedItem{}, errors.New("refda: OPER reference did not resolve to an OPER object")
		}
		return expandedItem{isOper: true, oper: oper, actuals: res.Actuals}, nil
	}
	res, code := store.Dereference(item)
	if code != amm.DerefOK {
		return expandedItem{}, errors.Wrap(code, "refda: dereferencing EXPR value item")
	}
	if !IsProducing(res.Object) {
		return expandedItem{}, errors.Errorf("refda: %s is neither value-producing nor an OPER", item.Path())
	}
	v, err := Produce(res.Object, res.Actuals, item.Path())
	if err != nil {
		return expandedItem{}, err
	}
	return expandedItem{value: v}, nil
}

// reduce walks the expanded item list left-to-right over a value stack
// (spec §4.7 "Reduction"): values push; an OPER pops its declared
// operand count in reverse order (right-most operand at top), calls
// Evaluate, and pushes the result. Success requires exactly one value
// remaining at the end.
func reduce(items []expandedItem) (ari.Value, error) {
	var stack []ari.Value
	for i, it := range items {
		if !it.isOper {
			stack = append(stack, it.value)
			continue
		}
		n := len(it.oper.OperandTypes)
		if len(stack) < n {
			return ari.Value{}, errors.Errorf("refda: OPER at item %d needs %d operands, stack has %d", i, n, len(stack))
		}
		operands := make([]ari.Value, n)
		for j := 0; j < n; j++ {
			operands[n-1-j] = stack[len(stack)-1-j]
		}
		stack = stack[:len(stack)-n]
		for j, operandType := range it.oper.OperandTypes {
			if operandType.Match(operands[j]) != amm.Positive {
				return ari.Value{}, errors.Errorf("refda: OPER at item %d operand %d type mismatch", i, j)
			}
		}
		result, err := it.oper.Evaluate(operands)
		if err != nil {
			return ari.Value{}, errors.Wrapf(err, "refda: OPER at item %d evaluation failed", i)
		}
		if it.oper.ResultType != nil && it.oper.ResultType.Match(result) != amm.Positive {
			return ari.Value{}, errors.Errorf("refda: OPER at item %d produced a value not matching its result type", i)
		}
		stack = append(stack, result)
	}
	if len(stack) != 1 {
		return ari.Value{}, errors.Errorf("refda: EXPR reduction left %d values on the stack, want 1", len(stack))
	}
	return stack[0], nil
}
