package amm

import (
	"github.com/dlclark/regexp2"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// Constraint is an additional check layered on top of a type's own
// Match (spec §4.3 "Constraints are evaluated in addition to the
// underlying type match").
type Constraint interface {
	Check(v ari.Value) Match
}

// ConstrainedType pairs a base Type with zero or more Constraints; Match
// is the base match AND-ed with every constraint, Convert simply
// delegates (constraints do not change the converted value, only
// whether it is accepted).
type ConstrainedType struct {
	Base        Type
	Constraints []Constraint
}

func (c *ConstrainedType) Kind() Kind { return c.Base.Kind() }

func (c *ConstrainedType) Match(v ari.Value) Match {
	m := c.Base.Match(v)
	if m != Positive {
		return m
	}
	for _, cst := range c.Constraints {
		switch cst.Check(v) {
		case Positive:
		case Negative:
			return Negative
		default:
			return ErrorMatch
		}
	}
	return Positive
}

func (c *ConstrainedType) Convert(in ari.Value) (ari.Value, error) { return c.Base.Convert(in) }

// LengthRangeConstraint bounds the length of a text string, byte
// string, or container (spec §4.3 "length range").
type LengthRangeConstraint struct {
	Min, Max int // Max < 0 means unbounded
}

func (c LengthRangeConstraint) Check(v ari.Value) Match {
	n, ok := valueLength(v)
	if !ok {
		return ErrorMatch
	}
	if n < c.Min || (c.Max >= 0 && n > c.Max) {
		return Negative
	}
	return Positive
}

func valueLength(v ari.Value) (int, bool) {
	switch v.Prim() {
	case ari.PrimTextString:
		s, _ := v.TextString()
		return len(s), true
	case ari.PrimByteString:
		b, _ := v.ByteString()
		return len(b), true
	case ari.PrimContainer:
		if ac, ok := v.AC(); ok {
			return len(ac.Items), true
		}
		if am, ok := v.AM(); ok {
			return len(am.Pairs), true
		}
		if tbl, ok := v.TBL(); ok {
			return len(tbl.Rows), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// IntRange is one inclusive interval of an integer-range constraint.
type IntRange struct {
	Lo, Hi int64
}

// IntRangeConstraint is an inclusive interval set (spec §4.3 "integer
// range").
type IntRangeConstraint struct {
	Ranges []IntRange
}

func (c IntRangeConstraint) Check(v ari.Value) Match {
	var n int64
	switch v.Prim() {
	case ari.PrimInt64:
		n, _ = v.Int64()
	case ari.PrimUint64:
		u, _ := v.Uint64()
		if u > 1<<63-1 {
			return Negative
		}
		n = int64(u)
	default:
		return ErrorMatch
	}
	for _, r := range c.Ranges {
		if n >= r.Lo && n <= r.Hi {
			return Positive
		}
	}
	return Negative
}

// TextRegexConstraint is a PCRE-style text-pattern constraint (spec
// §4.3 "text regex", §9 "Regex availability"). Effective is false when
// the pattern failed to compile or none was supplied; an ineffective
// constraint is a pass-through rather than a silent mismatch, per spec
// §9's explicit guidance.
type TextRegexConstraint struct {
	Pattern   string
	Effective bool
	re        *regexp2.Regexp
}

// NewTextRegexConstraint compiles pattern with github.com/dlclark/regexp2,
// which supports the backreference/lookaround constructs a PCRE-style
// constraint is expected to accept (stdlib regexp does not). A compile
// failure yields an ineffective constraint rather than an error, so that
// model load can still proceed per spec §9.
func NewTextRegexConstraint(pattern string) TextRegexConstraint {
	re, err := regexp2.Compile(pattern, regexp2.RE2)
	if err != nil {
		return TextRegexConstraint{Pattern: pattern, Effective: false}
	}
	return TextRegexConstraint{Pattern: pattern, Effective: true, re: re}
}

func (c TextRegexConstraint) Check(v ari.Value) Match {
	if !c.Effective {
		return Positive
	}
	s, ok := v.TextString()
	if !ok {
		return ErrorMatch
	}
	matched, err := c.re.MatchString(s)
	if err != nil {
		return ErrorMatch
	}
	if matched {
		return Positive
	}
	return Negative
}

// IdentityBaseConstraint requires a value of type IDENT whose base
// chain includes Base (spec §4.3 "identity-base"). Resolution of the
// base chain needs the object store, so the constraint is checked
// against a pre-expanded set of qualifying object paths computed once
// by Store.DerivedClosure rather than walking pointers on every check.
type IdentityBaseConstraint struct {
	Base      ari.ObjectPath
	Qualifies func(path ari.ObjectPath) bool
}

func (c IdentityBaseConstraint) Check(v ari.Value) Match {
	if !v.IsRef() {
		return Negative
	}
	if v.Path().ObjType != ari.TypeIDENT {
		return Negative
	}
	if c.Qualifies == nil {
		return ErrorMatch
	}
	if c.Qualifies(v.Path()) {
		return Positive
	}
	return Negative
}
