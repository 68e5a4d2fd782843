package adm

import (
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// ammBaseNamespace is ietf/amm-base: the root IDENT every other
// built-in IDENT derives from, plus a handful of generally useful
// TYPEDEFs the other namespaces reference by //ietf/amm-base/TYPEDEF/...
func ammBaseNamespace() *amm.Namespace {
	ns := amm.NewNamespace(orgIETF, ari.TextSeg("amm-base"))

	objIdent := ns.Container(ari.TypeIDENT)
	objIdent.Register(amm.NewIdentObj(ari.TextSeg("object"), nil, nil))

	typedef := ns.Container(ari.TypeTYPEDEF)
	typedef.Register(amm.NewTypedefObj(ari.TextSeg("non-negative-int"),
		&amm.ConstrainedType{
			Base:        mustBuiltin(ari.TypeInt),
			Constraints: []amm.Constraint{&amm.IntRangeConstraint{Ranges: []amm.IntRange{{Lo: 0, Hi: 1<<63 - 1}}}},
		}))
	typedef.Register(amm.NewTypedefObj(ari.TextSeg("identifier"),
		&amm.ConstrainedType{
			Base:        mustBuiltin(ari.TypeTextstr),
			Constraints: []amm.Constraint{&amm.LengthRangeConstraint{Min: 1, Max: 255}},
		}))

	return ns
}
