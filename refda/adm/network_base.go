package adm

import (
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// networkBaseNamespace is ietf/network-base: identity and addressing
// descriptors shared by transport- and network-facing ADMs.
func networkBaseNamespace() *amm.Namespace {
	ns := amm.NewNamespace(orgIETF, ari.TextSeg("network-base"))

	ident := ns.Container(ari.TypeIDENT)
	endpoint := amm.NewIdentObj(ari.TextSeg("endpoint"), nil,
		[]ari.ObjectPath{{Org: orgIETF, Model: ari.TextSeg("amm-base"), ObjType: ari.TypeIDENT, ObjID: ari.TextSeg("object")}})
	ident.Register(endpoint)
	ident.Register(amm.NewIdentObj(ari.TextSeg("eid-endpoint"), nil,
		[]ari.ObjectPath{{Org: orgIETF, Model: ari.TextSeg("network-base"), ObjType: ari.TypeIDENT, ObjID: ari.TextSeg("endpoint")}}))

	typedef := ns.Container(ari.TypeTYPEDEF)
	typedef.Register(amm.NewTypedefObj(ari.TextSeg("eid"),
		&amm.ConstrainedType{
			Base:        mustBuiltin(ari.TypeTextstr),
			Constraints: []amm.Constraint{&amm.LengthRangeConstraint{Min: 1, Max: 1024}},
		}))

	return ns
}
