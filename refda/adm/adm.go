// Package adm holds the built-in Agent-Defined Models the core ships
// with at startup: ietf/amm-base, ietf/amm-semtype, ietf/network-base,
// ietf/dtnma-agent, ietf/dtnma-agent-acl, and ietf/alarms. Each
// namespace's org/model and per-object identifiers are fixed text
// names, the stable enumeration the rest of the system treats as part
// of its external contract.
package adm

import (
	"time"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

var orgIETF = ari.TextSeg("ietf")

func mustBuiltin(t ari.ARIType) *amm.BuiltinType {
	b, ok := amm.Builtin(t)
	if !ok {
		panic("adm: no builtin type registered for ari type " + t.String())
	}
	return b
}

// RegisterAll loads every built-in namespace into store. Call
// (*amm.Store).Bind afterward to resolve cross-namespace type and
// IDENT references.
func RegisterAll(store *amm.Store) {
	store.RegisterNamespace(ammBaseNamespace())
	store.RegisterNamespace(ammSemtypeNamespace())
	store.RegisterNamespace(networkBaseNamespace())
	store.RegisterNamespace(dtnmaAgentNamespace())
	store.RegisterNamespace(dtnmaAgentACLNamespace())
	store.RegisterNamespace(alarmsNamespace())
}

// SBRs returns every state-based rule registered by the built-in
// namespaces, keyed by object path, ready for (*refda.RuleEngine).RunSBRPoll.
func SBRs(store *amm.Store) map[ari.ObjectPath]*amm.SbrObj { return store.SBRs() }

// TBRs returns every time-based rule registered by the built-in
// namespaces, keyed by object path, ready for (*refda.RuleEngine).ScheduleTBR.
func TBRs(store *amm.Store) map[ari.ObjectPath]*amm.TbrObj { return store.TBRs() }

var agentStartTime = time.Now()
