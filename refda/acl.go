// Package refda implements the reference Agent runtime described in
// spec §4.5-§4.10: dereference, value production, CTRL execution,
// RPN evaluation, reporting, TBR/SBR rules, and ACL enforcement, all
// built on top of the object store and type system in package amm.
/*
 * Copyright (c) 2024-2025, JHUAPL DTNMA Contributors. All rights reserved.
 */
package refda

import (
	"sync"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// Permission is a bitmask of grantable actions, the same cheap-
// intersection-test style as the teacher's apc.AccessAttrs (spec §4.10
// plays the role of authn's cluster/bucket access bits, generalised to
// this module's object-kind permission set).
type Permission uint32

const (
	PermGet Permission = 1 << iota
	PermSet
	PermExecute
	PermReport
	PermAll = PermGet | PermSet | PermExecute | PermReport
)

// Group has a set of endpoint patterns (spec §3 "A group has a set of
// endpoint patterns"); each pattern is itself an IDENT reference whose
// regex/CIDR parameter is checked against the manager-identity ARI.
type Group struct {
	ID       string
	Patterns []EndpointPattern
}

// EndpointPattern matches a peer-identity ARI the way authn's
// Cluster/Bucket entries match a token's claims, generalised from a
// single bearer-token scope to an arbitrary IDENT-typed matcher (a
// regex over a URI or EID, or a CIDR check, depending on the pattern's
// own IDENT base — see refda/adm for the built-in pattern kinds).
type EndpointPattern struct {
	Match func(peer ari.Value) bool
}

func (p EndpointPattern) matches(peer ari.Value) bool {
	if p.Match == nil {
		return false
	}
	return p.Match(peer)
}

// Access couples a set of group-ids with an object pattern and a
// permission set (spec §3 "An access couples a set of group-ids with a
// pattern over objects and a set of permissions"), the refda analogue
// of authn.Cluster/authn.Bucket.
type Access struct {
	GroupIDs    map[string]struct{}
	ObjectMatch func(path ari.ObjectPath) bool
	Perms       Permission
}

// ACL is the groups/accesses/endpoint-pattern permission table of spec
// §3/§4.10, modelled on authn.Config's group→access multi-index but
// keyed on group-id rather than a bearer token's cluster/bucket claims.
type ACL struct {
	mu         sync.RWMutex
	generation uint64
	Groups     map[string]*Group
	Accesses   []*Access
	byGroup    map[string][]*Access
	Default    Permission
}

// NewACL builds an empty, deny-by-default ACL (spec §4.10 "Deny by
// default").
func NewACL() *ACL {
	return &ACL{Groups: map[string]*Group{}, byGroup: map[string][]*Access{}}
}

// AddGroup registers a group and bumps the generation counter so
// cached runtime-context matches are invalidated (spec §4.10 "if the
// generation has advanced by next check the cache is recomputed").
func (a *ACL) AddGroup(g *Group) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Groups[g.ID] = g
	a.generation++
}

// AddAccess registers an access rule, indexing it under every group-id
// it names.
func (a *ACL) AddAccess(acc *Access) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Accesses = append(a.Accesses, acc)
	for gid := range acc.GroupIDs {
		a.byGroup[gid] = append(a.byGroup[gid], acc)
	}
	a.generation++
}

// Generation returns the current ACL generation counter.
func (a *ACL) Generation() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.generation
}

// MatchingGroups returns the ids of every group whose endpoint-pattern
// list matches peer (spec §4.10 "matched against every group's
// endpoint-pattern list").
func (a *ACL) MatchingGroups(peer ari.Value) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []string
	for id, g := range a.Groups {
		for _, p := range g.Patterns {
			if p.matches(peer) {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// Allow checks whether any access keyed by one of groupIDs grants perm
// on path (spec §4.10 "Permission check"). Deny by default.
func (a *ACL) Allow(groupIDs []string, path ari.ObjectPath, perm Permission) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, gid := range groupIDs {
		for _, acc := range a.byGroup[gid] {
			if acc.Perms&perm == 0 {
				continue
			}
			if acc.ObjectMatch == nil || acc.ObjectMatch(path) {
				return true
			}
		}
	}
	return false
}

// ACLCache is the per-runtime-context cached group match (spec §3
// "Runtime Context" — "cached ACL generation, cached matching-group
// set"). Refresh recomputes the cache only when the ACL generation has
// advanced since it was last filled.
type ACLCache struct {
	generation uint64
	groups     []string
}

// Refresh recomputes the cache against peer if acl's generation has
// advanced, and returns the (possibly cached) matching group-ids.
func (c *ACLCache) Refresh(acl *ACL, peer ari.Value) []string {
	gen := acl.Generation()
	if gen != c.generation || c.groups == nil {
		c.groups = acl.MatchingGroups(peer)
		c.generation = gen
	}
	return c.groups
}
