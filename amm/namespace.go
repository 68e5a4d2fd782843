package amm

import (
	"strings"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

func lowerASCII(s string) string { return strings.ToLower(s) }

// ObjectContainer is a per-object-type container inside a Namespace: a
// list plus by-name (case-insensitive) and by-enum secondary indexes
// (spec §3 "Namespace (Model)", §4.4). Mutation is serialised by the
// owning Store's single mutex, mirroring the teacher's cluster.Smap,
// whose NodeMap indexes are likewise only ever mutated under the
// Sowner's lock.
type ObjectContainer struct {
	objType ari.ARIType
	list    []Object
	byName  map[string]int
	byEnum  map[int64]int
}

func newObjectContainer(t ari.ARIType) *ObjectContainer {
	return &ObjectContainer{objType: t, byName: map[string]int{}, byEnum: map[int64]int{}}
}

// Register inserts o, rejecting a duplicate name or enum within this
// container (spec §4.4 "Registration rejects duplicate names or enums
// ... and returns nothing in that case").
func (c *ObjectContainer) Register(o Object) bool {
	id := o.ObjID()
	switch id.Form {
	case ari.IDText:
		key := lowerASCII(id.Text)
		if _, dup := c.byName[key]; dup {
			return false
		}
		idx := len(c.list)
		c.list = append(c.list, o)
		c.byName[key] = idx
	case ari.IDInt:
		if _, dup := c.byEnum[id.Int]; dup {
			return false
		}
		idx := len(c.list)
		c.list = append(c.list, o)
		c.byEnum[id.Int] = idx
	default:
		return false
	}
	return true
}

// Lookup resolves an id segment to its registered object.
func (c *ObjectContainer) Lookup(id ari.IDSegment) (Object, bool) {
	switch id.Form {
	case ari.IDText:
		idx, ok := c.byName[lowerASCII(id.Text)]
		if !ok {
			return nil, false
		}
		return c.list[idx], true
	case ari.IDInt:
		idx, ok := c.byEnum[id.Int]
		if !ok {
			return nil, false
		}
		return c.list[idx], true
	default:
		return nil, false
	}
}

// All returns every registered object, in registration order.
func (c *ObjectContainer) All() []Object { return c.list }

// Namespace is an (org, model, revision) triple indexing one typed
// object container per object-type (spec §3 "Namespace (Model)").
type Namespace struct {
	Org         ari.IDSegment
	Model       ari.IDSegment
	HasRevision bool
	Revision    ari.Date
	Features    map[string]struct{}
	IsODM       bool

	containers map[ari.ARIType]*ObjectContainer
}

// NewNamespace builds an empty namespace. A model-id text segment
// starting with "!" or a negative enum marks it Operator-Defined
// (spec §3): ODMs are created at runtime rather than loaded at startup.
func NewNamespace(org, model ari.IDSegment) *Namespace {
	odm := false
	switch model.Form {
	case ari.IDText:
		odm = strings.HasPrefix(model.Text, "!")
	case ari.IDInt:
		odm = model.Int < 0
	}
	return &Namespace{
		Org: org, Model: model, IsODM: odm,
		Features:   map[string]struct{}{},
		containers: map[ari.ARIType]*ObjectContainer{},
	}
}

// Container returns (creating if absent) the object container for t.
func (n *Namespace) Container(t ari.ARIType) *ObjectContainer {
	c, ok := n.containers[t]
	if !ok {
		c = newObjectContainer(t)
		n.containers[t] = c
	}
	return c
}

// AddFeature marks f as a feature this namespace supports.
func (n *Namespace) AddFeature(f string) { n.Features[lowerASCII(f)] = struct{}{} }

// HasFeature reports whether f was declared supported.
func (n *Namespace) HasFeature(f string) bool {
	_, ok := n.Features[lowerASCII(f)]
	return ok
}

// AllObjects iterates every object across every object-type container,
// used by the binding pass (spec §4.4).
func (n *Namespace) AllObjects() []Object {
	var out []Object
	for _, c := range n.containers {
		out = append(out, c.All()...)
	}
	return out
}
