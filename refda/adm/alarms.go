package adm

import (
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// alarmsNamespace is ietf/alarms: a minimal active-alarm count surface,
// an EDD-typed counter plus an IDENT marking what an alarm condition
// derives from so a deployment's own ODM alarms can be related to it.
func alarmsNamespace() *amm.Namespace {
	ns := amm.NewNamespace(orgIETF, ari.TextSeg("alarms"))

	ident := ns.Container(ari.TypeIDENT)
	ident.Register(amm.NewIdentObj(ari.TextSeg("alarm-condition"), nil,
		[]ari.ObjectPath{{Org: orgIETF, Model: ari.TextSeg("amm-base"), ObjType: ari.TypeIDENT, ObjID: ari.TextSeg("object")}}))

	edd := ns.Container(ari.TypeEDD)
	edd.Register(amm.NewEddObj(ari.TextSeg("active-count"), nil, mustBuiltin(ari.TypeUint),
		func(ctx *amm.ProduceContext) (ari.Value, error) {
			return ari.Uint(0), nil
		}))

	return ns
}
