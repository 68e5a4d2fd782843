package refda

import "github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"

// RunCtx is the Runtime Context of spec §3: an agent back-pointer, the
// manager identity an EXECSET arrived under, its nonce, and the cached
// ACL match. One RunCtx is created per inbound EXECSET and shared by
// every execution sequence it spawns; a rule firing creates an
// anonymous RunCtx with no manager identity (spec §4.9 "an anonymous
// runtime context").
type RunCtx struct {
	Agent    *Agent
	Manager  ari.Value // peer-identity ARI; undefined for anonymous (rule-fired) contexts
	Nonce    ari.Value
	aclCache ACLCache
}

// NewRunCtx builds a RunCtx for an inbound EXECSET from manager.
func NewRunCtx(agent *Agent, manager ari.Value, nonce ari.Value) *RunCtx {
	return &RunCtx{Agent: agent, Manager: manager, Nonce: nonce}
}

// NewAnonymousRunCtx builds the RunCtx a fired TBR/SBR action runs
// under (spec §4.9).
func NewAnonymousRunCtx(agent *Agent) *RunCtx {
	return &RunCtx{Agent: agent, Manager: ari.Undefined()}
}

// Groups returns the cached set of ACL group-ids matching this
// context's manager identity, refreshing if the ACL generation has
// advanced (spec §4.10).
func (r *RunCtx) Groups() []string {
	if r.Manager.IsUndefined() {
		return nil
	}
	return r.aclCache.Refresh(r.Agent.ACL, r.Manager)
}

// Allow checks whether this context's manager may exercise perm on
// path.
func (r *RunCtx) Allow(path ari.ObjectPath, perm Permission) bool {
	if r.Manager.IsUndefined() {
		return true // anonymous/internal contexts (rule firings) are not subject to peer ACL
	}
	return r.Agent.ACL.Allow(r.Groups(), path, perm)
}
