package adm

import (
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// ammSemtypeNamespace is ietf/amm-semtype: descriptors for the type
// system itself, so a manager can introspect what kind of TYPEDEF an
// object declares (spec §4.3 "Semantic type" kinds).
func ammSemtypeNamespace() *amm.Namespace {
	ns := amm.NewNamespace(orgIETF, ari.TextSeg("amm-semtype"))

	ident := ns.Container(ari.TypeIDENT)
	semtype := amm.NewIdentObj(ari.TextSeg("semtype"), nil,
		[]ari.ObjectPath{{Org: orgIETF, Model: ari.TextSeg("amm-base"), ObjType: ari.TypeIDENT, ObjID: ari.TextSeg("object")}})
	ident.Register(semtype)

	typedef := ns.Container(ari.TypeTYPEDEF)
	typedef.Register(amm.NewTypedefObj(ari.TextSeg("aritype-name"),
		&amm.ConstrainedType{
			Base:        mustBuiltin(ari.TypeTextstr),
			Constraints: []amm.Constraint{&amm.LengthRangeConstraint{Min: 1, Max: -1}},
		}))

	// semtypeKindCount mirrors the number of amm.Kind variants (builtin,
	// use, ulist, dlist, umap, tblt, union, seq).
	const semtypeKindCount = 8

	edd := ns.Container(ari.TypeEDD)
	edd.Register(amm.NewEddObj(ari.TextSeg("semtype-kind-count"), nil, mustBuiltin(ari.TypeUint),
		func(ctx *amm.ProduceContext) (ari.Value, error) {
			return ari.Uint(semtypeKindCount), nil
		}))

	return ns
}
