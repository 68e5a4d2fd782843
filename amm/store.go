package amm

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// DerefCode distinguishes the dereference outcomes of spec §4.4/§7.
// Codes 2-7 are the small-integer status family the spec calls out by
// number; 1 (DerefOK) is the success case, so callers treat any code
// other than DerefOK as failure without a separate bool.
type DerefCode int

const (
	DerefOK                DerefCode = 1
	DerefErrNotReference    DerefCode = 2
	DerefErrMissingObjType  DerefCode = 3
	DerefErrUnknownOrg      DerefCode = 4
	DerefErrUnknownModel    DerefCode = 5
	DerefErrUnknownObject   DerefCode = 6
	DerefErrParameter       DerefCode = 7
)

func (c DerefCode) Error() string {
	switch c {
	case DerefOK:
		return "ok"
	case DerefErrNotReference:
		return "amm: value is not an object reference"
	case DerefErrMissingObjType:
		return "amm: object path has no well-known object-type"
	case DerefErrUnknownOrg:
		return "amm: unknown organisation"
	case DerefErrUnknownModel:
		return "amm: unknown model"
	case DerefErrUnknownObject:
		return "amm: unknown object"
	case DerefErrParameter:
		return "amm: actual-parameter population failed"
	default:
		return "amm: unknown dereference error"
	}
}

// DerefResult is the successful outcome of Store.Dereference: the
// resolved object, its owning namespace, and the normalised actual
// parameters (spec §4.4).
type DerefResult struct {
	Object    Object
	Namespace *Namespace
	Actuals   ActualParams
}

type orgEntry struct {
	id           ari.IDSegment
	byModelName  map[string][]*Namespace
	byModelEnum  map[int64][]*Namespace
}

// Store is the mutex-guarded object store of spec §3/§4.4: a list of
// namespaces indexed by org and by (org, model) with support for
// multiple coexisting revisions per model. Modelled on the teacher's
// cluster.Smap/Sowner pattern: a single owned, versioned directory
// behind one lock, with case-insensitive secondary name indexes and
// parallel by-enum indexes.
type Store struct {
	mu         sync.Mutex
	orgsByName map[string]*orgEntry
	orgsByEnum map[int64]*orgEntry
}

// NewStore builds an empty object store.
func NewStore() *Store {
	return &Store{orgsByName: map[string]*orgEntry{}, orgsByEnum: map[int64]*orgEntry{}}
}

func (s *Store) org(id ari.IDSegment, create bool) *orgEntry {
	switch id.Form {
	case ari.IDText:
		key := lowerASCII(id.Text)
		o, ok := s.orgsByName[key]
		if !ok && create {
			o = &orgEntry{id: id, byModelName: map[string][]*Namespace{}, byModelEnum: map[int64][]*Namespace{}}
			s.orgsByName[key] = o
		}
		return o
	case ari.IDInt:
		o, ok := s.orgsByEnum[id.Int]
		if !ok && create {
			o = &orgEntry{id: id, byModelName: map[string][]*Namespace{}, byModelEnum: map[int64][]*Namespace{}}
			s.orgsByEnum[id.Int] = o
		}
		return o
	default:
		return nil
	}
}

// RegisterNamespace adds ns under its org, appending to the revision
// list for (org, model) rather than replacing (spec §9 "the store
// allows multiple entries per (org, model) by revision"). It rejects
// an exact (org, model, revision) duplicate.
func (s *Store) RegisterNamespace(ns *Namespace) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.org(ns.Org, true)
	switch ns.Model.Form {
	case ari.IDText:
		key := lowerASCII(ns.Model.Text)
		for _, existing := range o.byModelName[key] {
			if existing.HasRevision == ns.HasRevision && existing.Revision.Equal(ns.Revision) {
				return false
			}
		}
		o.byModelName[key] = append(o.byModelName[key], ns)
	case ari.IDInt:
		for _, existing := range o.byModelEnum[ns.Model.Int] {
			if existing.HasRevision == ns.HasRevision && existing.Revision.Equal(ns.Revision) {
				return false
			}
		}
		o.byModelEnum[ns.Model.Int] = append(o.byModelEnum[ns.Model.Int], ns)
	default:
		return false
	}
	return true
}

// revisions returns every namespace registered for (org, model),
// newest revision last.
func (s *Store) revisions(org, model ari.IDSegment) []*Namespace {
	o := s.org(org, false)
	if o == nil {
		return nil
	}
	var list []*Namespace
	switch model.Form {
	case ari.IDText:
		list = o.byModelName[lowerASCII(model.Text)]
	case ari.IDInt:
		list = o.byModelEnum[model.Int]
	}
	return list
}

// Namespace looks up a single (org, model) pair, preferring the newest
// revision when more than one is registered and none was explicitly
// requested — the frozen reading of spec §9(ii) "binding prefers the
// newest". An explicit revision on path selects that exact one.
func (s *Store) Namespace(path ari.ObjectPath) (*Namespace, DerefCode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.org(path.Org, false) == nil {
		return nil, DerefErrUnknownOrg
	}
	revs := s.revisions(path.Org, path.Model)
	if len(revs) == 0 {
		return nil, DerefErrUnknownModel
	}
	if !path.HasRevision {
		return revs[len(revs)-1], DerefOK
	}
	for _, ns := range revs {
		if ns.HasRevision && ns.Revision.Equal(path.Revision) {
			return ns, DerefOK
		}
	}
	return nil, DerefErrUnknownModel
}

// Dereference resolves an object-reference ARI to its descriptor and
// normalised actual parameters (spec §4.4).
func (s *Store) Dereference(v ari.Value) (*DerefResult, DerefCode) {
	if !v.IsRef() {
		return nil, DerefErrNotReference
	}
	path := v.Path()
	if !path.ObjType.IsObjType() {
		return nil, DerefErrMissingObjType
	}
	ns, code := s.Namespace(path)
	if code != DerefOK {
		return nil, code
	}

	s.mu.Lock()
	obj, ok := ns.Container(path.ObjType).Lookup(path.ObjID)
	s.mu.Unlock()
	if !ok {
		return nil, DerefErrUnknownObject
	}

	actuals, err := PopulateParams(obj.FormalParams(), v.Params())
	if err != nil {
		return nil, DerefErrParameter
	}
	return &DerefResult{Object: obj, Namespace: ns, Actuals: actuals}, DerefOK
}

// Bind runs the post-load resolution pass of spec §4.4: resolving every
// unresolved UseType reference against its TYPEDEF, resolving every
// IDENT's base references, and rejecting inheritance cycles. The
// derived-closure lookup IdentityBaseConstraint needs is not built here;
// DerivedClosure builds it when called.
func (s *Store) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idents := map[ari.ObjectPath]*IdentObj{}
	var allObjects []Object
	walkStore(s, func(ns *Namespace, objPath ari.ObjectPath, o Object) {
		allObjects = append(allObjects, o)
		if id, ok := o.(*IdentObj); ok {
			idents[objPath] = id
		}
	})

	if err := resolveIdentBases(idents); err != nil {
		return err
	}
	for _, o := range allObjects {
		resolveObjectTypes(o, s)
	}
	return nil
}

// walkStore visits every (namespace, path, object) triple in the
// store. path.Org/Model/ObjType/ObjID are populated, and the revision
// is carried over from the namespace when it declares one.
func walkStore(s *Store, fn func(ns *Namespace, path ari.ObjectPath, o Object)) {
	visitOrg := func(o *orgEntry) {
		seen := map[*Namespace]bool{}
		visit := func(list []*Namespace) {
			for _, ns := range list {
				if seen[ns] {
					continue
				}
				seen[ns] = true
				for _, obj := range ns.AllObjects() {
					path := ari.ObjectPath{Org: ns.Org, Model: ns.Model, HasRevision: ns.HasRevision, Revision: ns.Revision, ObjType: obj.ObjType(), ObjID: obj.ObjID()}
					fn(ns, path, obj)
				}
			}
		}
		for _, list := range o.byModelName {
			visit(list)
		}
		for _, list := range o.byModelEnum {
			visit(list)
		}
	}
	for _, o := range s.orgsByName {
		visitOrg(o)
	}
	for _, o := range s.orgsByEnum {
		visitOrg(o)
	}
}

// resolveIdentBases resolves IDENT.BaseRefs into Bases pointers,
// appends the corresponding reverse (derived) edge, and rejects
// inheritance cycles via DFS colouring (spec §4.4, §9 "Reverse edges
// in the IDENT graph").
func resolveIdentBases(idents map[ari.ObjectPath]*IdentObj) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[*IdentObj]int{}

	var visit func(id *IdentObj) error
	visit = func(id *IdentObj) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return errors.New("amm: IDENT inheritance cycle detected")
		}
		color[id] = gray
		for _, ref := range id.BaseRefs {
			base, ok := idents[ref]
			if !ok {
				return errors.Errorf("amm: IDENT base %s not found", ref)
			}
			if err := visit(base); err != nil {
				return err
			}
			id.Bases = append(id.Bases, base)
			base.Derived = append(base.Derived, id)
		}
		color[id] = black
		return nil
	}
	for _, id := range idents {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// resolveObjectTypes resolves every UseType reachable from o's formal
// parameters and type-bearing fields.
func resolveObjectTypes(o Object, s *Store) {
	for i := range o.FormalParams() {
		resolveType(o.FormalParams()[i].Type, s)
	}
	switch t := o.(type) {
	case *TypedefObj:
		resolveType(t.TypeSpec, s)
	case *VarObj:
		resolveType(t.DeclType, s)
	case *EddObj:
		resolveType(t.DeclType, s)
	case *CtrlObj:
		if t.ResultType != nil {
			resolveType(t.ResultType, s)
		}
	case *OperObj:
		for _, ot := range t.OperandTypes {
			resolveType(ot, s)
		}
		if t.ResultType != nil {
			resolveType(t.ResultType, s)
		}
	}
}

func resolveType(t Type, s *Store) {
	switch tt := t.(type) {
	case *UseType:
		if tt.Resolved != nil {
			return
		}
		ns, code := s.Namespace(tt.Ref)
		if code != DerefOK {
			return
		}
		obj, ok := ns.Container(ari.TypeTYPEDEF).Lookup(tt.Ref.ObjID)
		if !ok {
			return
		}
		if td, ok := obj.(*TypedefObj); ok {
			tt.Resolved = td.TypeSpec
		}
	case *UListType:
		resolveType(tt.Elem, s)
	case *SeqType:
		resolveType(tt.Elem, s)
	case *DListType:
		for _, e := range tt.Elems {
			resolveType(e, s)
		}
	case *UMapType:
		resolveType(tt.KeyType, s)
		resolveType(tt.ValType, s)
	case *TbltType:
		for _, c := range tt.Columns {
			resolveType(c, s)
		}
	case *UnionType:
		for _, a := range tt.Alts {
			resolveType(a, s)
		}
	case *ConstrainedType:
		resolveType(tt.Base, s)
	}
}

// TBRs collects every registered TbrObj across the whole store, keyed by
// its object path, for the rule worker to schedule at startup.
func (s *Store) TBRs() map[ari.ObjectPath]*TbrObj {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[ari.ObjectPath]*TbrObj{}
	walkStore(s, func(ns *Namespace, path ari.ObjectPath, o Object) {
		if tbr, ok := o.(*TbrObj); ok {
			out[path] = tbr
		}
	})
	return out
}

// SBRs collects every registered SbrObj across the whole store, keyed by
// its object path, for the rule worker's poll loop.
func (s *Store) SBRs() map[ari.ObjectPath]*SbrObj {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[ari.ObjectPath]*SbrObj{}
	walkStore(s, func(ns *Namespace, path ari.ObjectPath, o Object) {
		if sbr, ok := o.(*SbrObj); ok {
			out[path] = sbr
		}
	})
	return out
}

// DerivedClosure builds the Qualifies function an IdentityBaseConstraint
// needs: the set of object paths whose IDENT transitively derives from
// base (including base itself).
func (s *Store) DerivedClosure(base *IdentObj) func(ari.ObjectPath) bool {
	qualifying := map[*IdentObj]bool{base: true}
	var mark func(*IdentObj)
	mark = func(id *IdentObj) {
		for _, d := range id.Derived {
			if qualifying[d] {
				continue
			}
			qualifying[d] = true
			mark(d)
		}
	}
	mark(base)

	paths := map[ari.ObjectPath]bool{}
	walkStore(s, func(ns *Namespace, path ari.ObjectPath, o Object) {
		if id, ok := o.(*IdentObj); ok && qualifying[id] {
			paths[path] = true
		}
	})
	return func(p ari.ObjectPath) bool { return paths[p] }
}
