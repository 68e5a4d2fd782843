package refda

import (
	"github.com/pkg/errors"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// Produce implements spec §4.5's three value-production paths:
// CONST copies its stored value, VAR copies its current value
// (undefined if never assigned), and EDD invokes its Produce callback.
// Every path ends with a type-match gate against the declared type,
// except CONST, which needs none because registration-time conversion
// already guarantees conformance.
func Produce(obj amm.Object, actuals amm.ActualParams, self ari.ObjectPath) (ari.Value, error) {
	switch o := obj.(type) {
	case *amm.ConstObj:
		return o.Value.Copy(), nil
	case *amm.VarObj:
		v := o.Value.Copy()
		if o.DeclType != nil && o.DeclType.Match(v) != amm.Positive {
			return ari.Value{}, errors.Errorf("refda: VAR %s value does not match its declared type", self)
		}
		return v, nil
	case *amm.EddObj:
		if o.Produce == nil {
			return ari.Value{}, errors.Errorf("refda: EDD %s has no production callback", self)
		}
		v, err := o.Produce(&amm.ProduceContext{Actuals: actuals, Self: self})
		if err != nil {
			return ari.Value{}, errors.Wrapf(err, "refda: EDD %s production failed", self)
		}
		if o.DeclType != nil && o.DeclType.Match(v) != amm.Positive {
			return ari.Value{}, errors.Errorf("refda: EDD %s produced a value not matching its declared type", self)
		}
		return v, nil
	default:
		return ari.Value{}, errors.Errorf("refda: %s is not a value-producing object", self)
	}
}

// IsProducing reports whether obj is a CONST, VAR, or EDD — the object
// kinds spec §4.7 allows as EXPR value items (as opposed to OPER
// references).
func IsProducing(obj amm.Object) bool {
	switch obj.(type) {
	case *amm.ConstObj, *amm.VarObj, *amm.EddObj:
		return true
	default:
		return false
	}
}
