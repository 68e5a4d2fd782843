package amm

import (
	"github.com/pkg/errors"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// Status is an object's lifecycle state (spec §3 "Object Descriptor").
type Status int

const (
	StatusCurrent Status = iota
	StatusDeprecated
	StatusObsolete
)

// FormalParam is one entry of an object's formal-parameter list (spec
// §3 "Formal Parameter"): index, name, declared type, and an optional
// default (Undefined when there is none).
type FormalParam struct {
	Index   int
	Name    string
	Type    Type
	Default ari.Value
}

// ActualParams is the normalised result of binding given parameters
// against a formal-parameter list (spec §3 "Actual-Parameter Set").
type ActualParams struct {
	Values       []ari.Value
	ByName       map[string]int
	AnyUndefined bool
}

// Object is implemented by every object-type descriptor variant (spec
// §3 "Object Descriptor").
type Object interface {
	ObjID() ari.IDSegment
	ObjType() ari.ARIType
	FormalParams() []FormalParam
	GetStatus() Status
	SetStatus(Status)
}

// base is embedded by every concrete descriptor type to supply the
// common Object fields.
type base struct {
	id      ari.IDSegment
	objType ari.ARIType
	formals []FormalParam
	status  Status
}

func (b *base) ObjID() ari.IDSegment        { return b.id }
func (b *base) ObjType() ari.ARIType        { return b.objType }
func (b *base) FormalParams() []FormalParam { return b.formals }
func (b *base) GetStatus() Status           { return b.status }
func (b *base) SetStatus(s Status)          { b.status = s }

// IdentObj is the IDENT object-type variant: a named identity with
// inheritance (spec §3, §4.4, §9 "Reverse edges in the IDENT graph").
// BaseRefs are as-loaded, unresolved paths; Bases is populated by the
// binding pass with non-owning pointers, and Derived is the reverse
// edge list the binding pass appends to on each base it resolves.
type IdentObj struct {
	base
	BaseRefs []ari.ObjectPath
	Bases    []*IdentObj
	Derived  []*IdentObj
}

func NewIdentObj(id ari.IDSegment, formals []FormalParam, baseRefs []ari.ObjectPath) *IdentObj {
	return &IdentObj{base: base{id: id, objType: ari.TypeIDENT, formals: formals}, BaseRefs: baseRefs}
}

// TypedefObj is the TYPEDEF object-type variant: a named type (spec
// §3, §4.4).
type TypedefObj struct {
	base
	TypeSpec Type
}

func NewTypedefObj(id ari.IDSegment, spec Type) *TypedefObj {
	return &TypedefObj{base: base{id: id, objType: ari.TypeTYPEDEF}, TypeSpec: spec}
}

// ConstObj is the CONST object-type variant: an immutable stored value
// (spec §4.5).
type ConstObj struct {
	base
	Value ari.Value
}

func NewConstObj(id ari.IDSegment, formals []FormalParam, value ari.Value) *ConstObj {
	return &ConstObj{base: base{id: id, objType: ari.TypeCONST, formals: formals}, Value: value}
}

// VarObj is the VAR object-type variant: a mutable stored value,
// undefined until first assigned (spec §4.5). Mutation is guarded by
// the store's single mutex (spec §5 "One mutex protects the object
// store and all its contained descriptors' mutable fields"), so VarObj
// itself carries no lock of its own.
type VarObj struct {
	base
	DeclType Type
	Value    ari.Value
}

func NewVarObj(id ari.IDSegment, formals []FormalParam, declType Type) *VarObj {
	return &VarObj{base: base{id: id, objType: ari.TypeVAR, formals: formals}, DeclType: declType, Value: ari.Undefined()}
}

// ProduceContext exposes the actual parameters an EDD's Produce
// callback runs with, plus the namespace-qualified object path it was
// invoked through (for reporting REPORT.Source).
type ProduceContext struct {
	Actuals ActualParams
	Self    ari.ObjectPath
}

// EddObj is the EDD object-type variant: an externally-sampled datum
// (spec §4.5).
type EddObj struct {
	base
	DeclType Type
	Produce  func(ctx *ProduceContext) (ari.Value, error)
}

func NewEddObj(id ari.IDSegment, formals []FormalParam, declType Type, produce func(*ProduceContext) (ari.Value, error)) *EddObj {
	return &EddObj{base: base{id: id, objType: ari.TypeEDD, formals: formals}, DeclType: declType, Produce: produce}
}

// CtrlObj is the CTRL object-type variant: a callable control (spec
// §4.6). ResultType is nil for a void-typed control.
type CtrlObj struct {
	base
	ResultType Type
	Execute    func(ctx ExecContext) (ari.Value, error)
}

// Resume is an item's resume primitive (spec §4.6 step 3/4): calling it
// with a result and/or error completes the item and advances its
// sequence, from whatever external event the Execute callback arranged
// to call it.
type Resume func(result ari.Value, err error)

// ExecContext is the interface a CTRL's Execute callback receives; it
// is defined here (rather than in refda) so amm has no import cycle on
// refda, and implemented by refda's execution engine.
type ExecContext interface {
	Actuals() ActualParams
	// Wait marks the item WAITING and returns its resume primitive, for
	// the callback to invoke from whatever external event it arranges
	// (spec §4.6 step 3, the "external event" case).
	Wait() Resume
	// ScheduleAfter marks the item WAITING and arranges fire to run
	// from the timeline after delay elapses (spec §4.6 step 3, the
	// "timeline entry (relative delay...)" case).
	ScheduleAfter(delay ari.Timespec, fire func() (ari.Value, error))
}

func NewCtrlObj(id ari.IDSegment, formals []FormalParam, resultType Type, execute func(ExecContext) (ari.Value, error)) *CtrlObj {
	return &CtrlObj{base: base{id: id, objType: ari.TypeCTRL, formals: formals}, ResultType: resultType, Execute: execute}
}

// OperObj is the OPER object-type variant: an RPN evaluator (spec
// §4.7). OperandTypes is declared left to right in push order:
// OperandTypes[0] types the deepest of the operands popped from the
// reduction stack, and the last entry types the top of the stack.
type OperObj struct {
	base
	OperandTypes []Type
	ResultType   Type
	Evaluate     func(operands []ari.Value) (ari.Value, error)
}

func NewOperObj(id ari.IDSegment, operandTypes []Type, resultType Type, evaluate func([]ari.Value) (ari.Value, error)) *OperObj {
	return &OperObj{base: base{id: id, objType: ari.TypeOPER}, OperandTypes: operandTypes, ResultType: resultType, Evaluate: evaluate}
}

// TbrObj is the TBR object-type variant: a time-based rule (spec
// §4.9). ExecCount is mutated only when the rule fires, from the
// timeline worker that runs the scheduled fire.
type TbrObj struct {
	base
	ActionMAC ari.ObjectPath
	StartTime ari.Value // TP (absolute) or TD (relative)
	Period    ari.Timespec
	MaxCount  int
	Enabled   bool
	ExecCount int
}

func NewTbrObj(id ari.IDSegment, actionMAC ari.ObjectPath, start ari.Value, period ari.Timespec, maxCount int) *TbrObj {
	return &TbrObj{base: base{id: id, objType: ari.TypeTBR}, ActionMAC: actionMAC, StartTime: start, Period: period, MaxCount: maxCount, Enabled: true}
}

// SbrObj is the SBR object-type variant: a state-based rule (spec
// §4.9).
type SbrObj struct {
	base
	ActionMAC   ari.ObjectPath
	Condition   ari.Value // EXPR, an AC
	MinInterval ari.Timespec
	MaxCount    int
	Enabled     bool
	ExecCount   int
	LastEval    ari.Timespec
}

func NewSbrObj(id ari.IDSegment, actionMAC ari.ObjectPath, condition ari.Value, minInterval ari.Timespec, maxCount int) *SbrObj {
	return &SbrObj{base: base{id: id, objType: ari.TypeSBR}, ActionMAC: actionMAC, Condition: condition, MinInterval: minInterval, MaxCount: maxCount, Enabled: true}
}

// PopulateParams is the type-driven formal-parameter population of
// spec §3/§4.3: each given parameter is converted to the formal's type;
// a missing parameter with a defined default copies the default;
// otherwise the actual is left undefined and AnyUndefined is raised.
// It is an error for a given-parameter set to mix by-name and by-index
// forms for overlapping positions, or to supply an unknown name, or
// more positional parameters than formals declare.
func PopulateParams(formals []FormalParam, given ari.GivenParams) (ActualParams, error) {
	out := ActualParams{Values: make([]ari.Value, len(formals)), ByName: make(map[string]int, len(formals))}
	for i, f := range formals {
		out.ByName[lowerASCII(f.Name)] = i
	}
	filled := make([]bool, len(formals))

	switch given.State {
	case ParamsNoneState:
		// nothing given; every formal falls through to its default below.
	case ParamsListState:
		if len(given.List) > len(formals) {
			return ActualParams{}, errors.Errorf("amm: %d positional parameters given, %d formals declared", len(given.List), len(formals))
		}
		for i, v := range given.List {
			cv, err := formals[i].Type.Convert(v)
			if err != nil {
				return ActualParams{}, errors.Wrapf(err, "amm: parameter %q", formals[i].Name)
			}
			out.Values[i] = cv
			filled[i] = true
		}
	case ParamsMapState:
		for _, e := range given.Map {
			idx, ok := resolveParamKey(formals, out.ByName, e.Key)
			if !ok {
				return ActualParams{}, errors.Errorf("amm: unknown parameter key %v", e.Key)
			}
			if filled[idx] {
				return ActualParams{}, errors.Errorf("amm: parameter %q given more than once", formals[idx].Name)
			}
			cv, err := formals[idx].Type.Convert(e.Value)
			if err != nil {
				return ActualParams{}, errors.Wrapf(err, "amm: parameter %q", formals[idx].Name)
			}
			out.Values[idx] = cv
			filled[idx] = true
		}
	}

	for i, f := range formals {
		if filled[i] {
			continue
		}
		if !f.Default.IsUndefined() {
			out.Values[i] = f.Default.Copy()
			continue
		}
		out.Values[i] = ari.Undefined()
		out.AnyUndefined = true
	}
	return out, nil
}

// ParamsNoneState etc. mirror ari.ParamState's values so callers of
// PopulateParams do not need to import ari solely for that enum.
const (
	ParamsNoneState = ari.ParamsNone
	ParamsListState = ari.ParamsList
	ParamsMapState  = ari.ParamsMap
)

func resolveParamKey(formals []FormalParam, byName map[string]int, key ari.ParamKey) (int, bool) {
	if key.ByIndex {
		if key.Index < 0 || int(key.Index) >= len(formals) {
			return 0, false
		}
		return int(key.Index), true
	}
	idx, ok := byName[lowerASCII(key.Name)]
	return idx, ok
}
