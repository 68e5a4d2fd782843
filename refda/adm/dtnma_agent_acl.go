package adm

import (
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// dtnmaAgentACLNamespace is ietf/dtnma-agent-acl: descriptors for the
// agent's own access-control surface, exposed for introspection. The
// ACL an Agent actually enforces is built and wired separately (see
// refda.ACL and its caller); these objects describe that surface's
// shape rather than holding the live ACL state itself.
func dtnmaAgentACLNamespace() *amm.Namespace {
	ns := amm.NewNamespace(orgIETF, ari.TextSeg("dtnma-agent-acl"))

	typedef := ns.Container(ari.TypeTYPEDEF)
	typedef.Register(amm.NewTypedefObj(ari.TextSeg("perm-mask"),
		&amm.ConstrainedType{
			Base:        mustBuiltin(ari.TypeUint),
			Constraints: []amm.Constraint{&amm.IntRangeConstraint{Ranges: []amm.IntRange{{Lo: 0, Hi: 0xFF}}}},
		}))

	ident := ns.Container(ari.TypeIDENT)
	ident.Register(amm.NewIdentObj(ari.TextSeg("group"), nil,
		[]ari.ObjectPath{{Org: orgIETF, Model: ari.TextSeg("amm-base"), ObjType: ari.TypeIDENT, ObjID: ari.TextSeg("object")}}))

	edd := ns.Container(ari.TypeEDD)
	edd.Register(amm.NewEddObj(ari.TextSeg("default-perm-mask"), nil, mustBuiltin(ari.TypeUint),
		func(ctx *amm.ProduceContext) (ari.Value, error) {
			return ari.Uint(0), nil
		}))

	return ns
}
