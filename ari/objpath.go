package ari

import "fmt"

// Date is an ISO-8601 basic (YYYY-MM-DD) model-revision date.
type Date struct {
	Year  int
	Month int
	Day   int
}

// Equal compares two dates structurally.
func (d Date) Equal(o Date) bool { return d == o }

// Cmp orders dates chronologically.
func (d Date) Cmp(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(d.Month, o.Month)
	default:
		return cmpInt(d.Day, o.Day)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (d Date) String() string { return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day) }

// ObjectPath is the five-segment identity of an AMM object: organisation,
// model (namespace), optional model-revision-date, object-type, and
// object-id. See spec §3 "Object Path".
type ObjectPath struct {
	Org         IDSegment
	Model       IDSegment
	HasRevision bool
	Revision    Date
	ObjType     ARIType
	ObjID       IDSegment
}

// Equal compares object paths structurally. A path with a revision never
// equals one without; when both declare one, the revisions must match.
func (p ObjectPath) Equal(o ObjectPath) bool {
	if !p.Org.Equal(o.Org) || !p.Model.Equal(o.Model) || p.ObjType != o.ObjType || !p.ObjID.Equal(o.ObjID) {
		return false
	}
	if p.HasRevision != o.HasRevision {
		return false
	}
	return !p.HasRevision || p.Revision.Equal(o.Revision)
}

// Cmp provides a total order over object paths for use as AM keys and in
// deterministic test output.
func (p ObjectPath) Cmp(o ObjectPath) int {
	if c := p.Org.Cmp(o.Org); c != 0 {
		return c
	}
	if c := p.Model.Cmp(o.Model); c != 0 {
		return c
	}
	if p.HasRevision != o.HasRevision {
		if !p.HasRevision {
			return -1
		}
		return 1
	}
	if p.HasRevision {
		if c := p.Revision.Cmp(o.Revision); c != 0 {
			return c
		}
	}
	if p.ObjType != o.ObjType {
		return cmpInt(int(p.ObjType), int(o.ObjType))
	}
	return p.ObjID.Cmp(o.ObjID)
}

func (p ObjectPath) String() string {
	rev := ""
	if p.HasRevision {
		rev = "@" + p.Revision.String()
	}
	return fmt.Sprintf("//%s/%s%s/%s/%s", p.Org, p.Model, rev, p.ObjType, p.ObjID)
}

// ParamState selects which member of GivenParams is significant.
type ParamState uint8

const (
	ParamsNone ParamState = iota
	ParamsList
	ParamsMap
)

// ParamKey is a single key in a by-name/by-index parameter map: either an
// integer index or a (case-folded) name, never both.
type ParamKey struct {
	ByIndex bool
	Index   int64
	Name    string
}

// ParamEntry is one key/value pair of a map-form parameter set.
type ParamEntry struct {
	Key   ParamKey
	Value Value
}

// GivenParams holds the as-written parameters of an object reference,
// prior to normalisation against the target's formal parameter list.
// See spec §3 "Actual-Parameter Set" and §4.3 "Formal-parameter
// population".
type GivenParams struct {
	State ParamState
	List  []Value
	Map   []ParamEntry
}

// Copy deep-copies a GivenParams value.
func (g GivenParams) Copy() GivenParams {
	switch g.State {
	case ParamsList:
		out := make([]Value, len(g.List))
		for i, v := range g.List {
			out[i] = v.Copy()
		}
		return GivenParams{State: ParamsList, List: out}
	case ParamsMap:
		out := make([]ParamEntry, len(g.Map))
		for i, e := range g.Map {
			out[i] = ParamEntry{Key: e.Key, Value: e.Value.Copy()}
		}
		return GivenParams{State: ParamsMap, Map: out}
	default:
		return GivenParams{State: ParamsNone}
	}
}

// Equal compares given-parameter sets structurally.
func (g GivenParams) Equal(o GivenParams) bool {
	if g.State != o.State {
		return false
	}
	switch g.State {
	case ParamsList:
		if len(g.List) != len(o.List) {
			return false
		}
		for i := range g.List {
			if !g.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case ParamsMap:
		if len(g.Map) != len(o.Map) {
			return false
		}
		for i := range g.Map {
			if g.Map[i].Key != o.Map[i].Key || !g.Map[i].Value.Equal(o.Map[i].Value) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
