package refda

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/cmn"
)

// Stage is an execution item's atomic execution-stage (spec §3
// "atomic execution-stage in {PENDING, RUNNING, WAITING, COMPLETE}").
type Stage int32

const (
	StagePending Stage = iota
	StageRunning
	StageWaiting
	StageComplete
)

// ExecItem is one item of an execution sequence (spec §3 "Execution
// Sequence" / "execution item").
type ExecItem struct {
	Seq      *ExecSeq
	OrigRef  ari.Value
	Deref    *amm.DerefResult
	stage    int32 // Stage, accessed atomically per spec §5's "well-defined atomics"
	Result   ari.Value
	Failed   bool
	waitEvt  *timelineEvent
}

func (it *ExecItem) Stage() Stage        { return Stage(atomic.LoadInt32(&it.stage)) }
func (it *ExecItem) setStage(s Stage)    { atomic.StoreInt32(&it.stage, int32(s)) }

// ExecSeq is an execution sequence (spec §3): a process-id, the
// runtime context it runs under, its ordered remaining items, and an
// optional completion status.
type ExecSeq struct {
	ProcessID string
	RunCtx    *RunCtx
	Items     []*ExecItem
	Failed    bool // spec §4.6 step 5 "the sequence's optional completion-status is flagged FAILED"

	mu      sync.Mutex
	cursor  int
	done    chan struct{}
	aborted bool
}

func (s *ExecSeq) abort() {
	s.mu.Lock()
	s.aborted = true
	s.Failed = true
	s.mu.Unlock()
	close(s.done)
}

// Done returns a channel closed once the sequence has completed or
// been aborted.
func (s *ExecSeq) Done() <-chan struct{} { return s.done }

// maxMACDepth bounds MAC expansion recursion (spec §4.6 "A depth limit
// bounds recursion"), taken from the process config so an operator can
// tune it without a rebuild.
func maxMACDepth() int {
	if d := cmn.GCO.Get().Exec.MaxMacDepth; d > 0 {
		return d
	}
	return 16
}

// ExpandTargets flattens a target ARI into an ordered list of CTRL
// references (spec §4.6 "Target expansion"): a direct CTRL reference
// passes through; a literal MAC (AC of targets) or a CONST/VAR whose
// current value is a MAC expands recursively; anything else is an
// error.
func ExpandTargets(store *amm.Store, target ari.Value) ([]ari.Value, error) {
	return expandTargets(store, target, 0)
}

func expandTargets(store *amm.Store, target ari.Value, depth int) ([]ari.Value, error) {
	if depth > maxMACDepth() {
		return nil, errors.New("refda: MAC expansion exceeded its depth limit")
	}
	if ac, ok := target.AC(); ok {
		var out []ari.Value
		for _, item := range ac.Items {
			expanded, err := expandTargets(store, item, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, expanded...)
		}
		return out, nil
	}
	if !target.IsRef() {
		return nil, errors.New("refda: execution target is neither a CTRL reference nor a MAC")
	}
	if target.Path().ObjType == ari.TypeCTRL {
		return []ari.Value{target}, nil
	}
	res, code := store.Dereference(target)
	if code != amm.DerefOK {
		return nil, errors.Wrapf(code, "refda: expanding target %s", target.Path())
	}
	switch o := res.Object.(type) {
	case *amm.ConstObj:
		return expandTargets(store, o.Value, depth+1)
	case *amm.VarObj:
		return expandTargets(store, o.Value, depth+1)
	default:
		return nil, errors.Errorf("refda: %s cannot be used as an execution target", target.Path())
	}
}

// NewExecSeq dereferences every (already-flattened) target and builds
// an execution sequence ready to submit to an Engine.
func NewExecSeq(store *amm.Store, rc *RunCtx, refs []ari.Value) (*ExecSeq, error) {
	items := make([]*ExecItem, len(refs))
	for i, ref := range refs {
		res, code := store.Dereference(ref)
		if code != amm.DerefOK {
			return nil, errors.Wrapf(code, "refda: dereferencing execution item %d", i)
		}
		if !rc.Allow(ref.Path(), PermExecute) {
			return nil, errors.Errorf("refda: execution of %s denied by ACL", ref.Path())
		}
		items[i] = &ExecItem{OrigRef: ref, Deref: res}
	}
	seq := &ExecSeq{ProcessID: cmn.GenUUID(), RunCtx: rc, Items: items, done: make(chan struct{})}
	for _, it := range items {
		it.Seq = seq
	}
	return seq, nil
}

// Engine runs execution sequences one item at a time per sequence
// (spec §4.6), dispatching sequences in FIFO-by-process-id arrival
// order across sequences (spec §5).
type Engine struct {
	Store    *amm.Store
	Registry *ExecRegistry
	Timeline *Timeline

	mu     sync.Mutex
	ready  []*ExecSeq
	notify chan struct{}
}

// NewEngine builds an execution engine over store, registering
// sequences in registry and scheduling WAITING resumes on timeline.
func NewEngine(store *amm.Store, registry *ExecRegistry, timeline *Timeline) *Engine {
	return &Engine{Store: store, Registry: registry, Timeline: timeline, notify: make(chan struct{}, 1)}
}

// Submit registers seq and enqueues it for execution (spec §4.6 "A
// sequence is created with a unique process-id and queued on the
// execution worker").
func (e *Engine) Submit(seq *ExecSeq) {
	e.Registry.Register(seq)
	e.mu.Lock()
	e.ready = append(e.ready, seq)
	e.mu.Unlock()
	e.nudge()
}

func (e *Engine) nudge() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// RunOne pops the oldest ready sequence (if any) and drives it forward
// one step: runs its current item, and re-enqueues the sequence if
// more items remain and the current one did not suspend. It returns
// false if there was nothing ready to run.
func (e *Engine) RunOne() bool {
	e.mu.Lock()
	if len(e.ready) == 0 {
		e.mu.Unlock()
		return false
	}
	seq := e.ready[0]
	e.ready = e.ready[1:]
	e.mu.Unlock()

	e.stepSequence(seq)
	return true
}

// stepSequence runs items of seq strictly in order (spec §5 "Within a
// single execution sequence, items execute strictly in order") until
// one suspends (WAITING) or the sequence completes.
func (e *Engine) stepSequence(seq *ExecSeq) {
	for {
		seq.mu.Lock()
		if seq.aborted || seq.cursor >= len(seq.Items) {
			done := seq.cursor >= len(seq.Items)
			seq.mu.Unlock()
			if done {
				e.Registry.Unregister(seq.ProcessID)
				close(seq.done)
			}
			return
		}
		it := seq.Items[seq.cursor]
		seq.mu.Unlock()

		if !e.runItem(it) {
			return // item went WAITING; stepSequence resumes it from resumeItem
		}

		seq.mu.Lock()
		seq.cursor++
		seq.mu.Unlock()
	}
}

// runItem executes one item's CTRL callback inline (spec §4.6 step 1).
// It returns true if the item reached COMPLETE synchronously, false if
// it was marked WAITING (a later resumeItem call will continue the
// sequence).
func (e *Engine) runItem(it *ExecItem) bool {
	it.setStage(StageRunning)
	ctrl, ok := it.Deref.Object.(*amm.CtrlObj)
	if !ok {
		it.Failed = true
		it.Result = ari.Undefined()
		it.setStage(StageComplete)
		return true
	}

	waited := false
	ctx := &execContext{
		actuals: it.Deref.Actuals,
		onWait: func() amm.Resume {
			waited = true
			it.setStage(StageWaiting)
			return func(result ari.Value, err error) {
				e.completeAndAdvance(it, result, err, ctrl.ResultType)
			}
		},
		onScheduleAfter: func(delay ari.Timespec, fire func() (ari.Value, error)) {
			waited = true
			it.setStage(StageWaiting)
			it.waitEvt = e.Timeline.Schedule(delay.AsTime(), func() {
				result, err := fire()
				e.completeAndAdvance(it, result, err, ctrl.ResultType)
			})
		},
	}
	result, err := ctrl.Execute(ctx)
	if waited {
		return false
	}
	e.completeItem(it, result, err, ctrl.ResultType)
	return true
}

// completeAndAdvance completes a previously-WAITING item and continues
// stepping its sequence (spec §4.6 step 4).
func (e *Engine) completeAndAdvance(it *ExecItem, result ari.Value, err error, resultType amm.Type) {
	e.completeItem(it, result, err, resultType)
	it.Seq.mu.Lock()
	it.Seq.cursor++
	it.Seq.mu.Unlock()
	e.stepSequence(it.Seq)
}

func (e *Engine) completeItem(it *ExecItem, result ari.Value, err error, resultType amm.Type) {
	if err != nil {
		it.Failed = true
		it.Result = ari.Undefined()
		it.Seq.Failed = true
	} else {
		if resultType == nil {
			result = ari.Null()
		}
		if resultType != nil && resultType.Match(result) != amm.Positive {
			it.Failed = true
			it.Result = ari.Undefined()
			it.Seq.Failed = true
		} else {
			it.Result = result
		}
	}
	it.setStage(StageComplete)
}

type execContext struct {
	actuals         amm.ActualParams
	onWait          func() amm.Resume
	onScheduleAfter func(delay ari.Timespec, fire func() (ari.Value, error))
}

func (c *execContext) Actuals() amm.ActualParams { return c.actuals }
func (c *execContext) Wait() amm.Resume          { return c.onWait() }
func (c *execContext) ScheduleAfter(delay ari.Timespec, fire func() (ari.Value, error)) {
	c.onScheduleAfter(delay, fire)
}
