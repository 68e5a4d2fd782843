package refda

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari/aricbor"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/cmn/log"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/transport"
)

// Agent ties together the object store, ACL, execution engine,
// timeline, and reporting pipeline into the single runtime spec §5
// describes: ingress decodes an inbound EXECSET into an execution
// sequence, the execution worker steps sequences to completion, the
// rule worker fires TBR/SBR actions on its own schedule, and the
// egress worker encodes finished RPTSETs back out over Transport.
type Agent struct {
	Store    *amm.Store
	ACL      *ACL
	Registry *ExecRegistry
	Timeline *Timeline
	Engine   *Engine
	Reports  *ReportEngine
	Rules    *RuleEngine

	Transport transport.Transport

	egress chan *ari.RPTSET
}

// NewAgent wires a fresh runtime over store and acl. reg may be nil to
// skip Prometheus registration (e.g. in tests).
func NewAgent(store *amm.Store, acl *ACL, t transport.Transport, reg prometheus.Registerer) *Agent {
	egress := make(chan *ari.RPTSET, 64)
	a := &Agent{
		Store:     store,
		ACL:       acl,
		Registry:  NewExecRegistry(),
		Timeline:  NewTimeline(),
		Transport: t,
		egress:    egress,
	}
	a.Engine = NewEngine(store, a.Registry, a.Timeline)
	a.Reports = NewReportEngine(store, reg, egress)
	a.Rules = NewRuleEngine(a, time.Second)
	return a
}

// Run starts the timeline, execution-drain, ingress, and egress
// workers and blocks until ctx is cancelled (spec §5's four worker
// roles: ingress, execution, egress, rule). Rule scheduling for
// already-registered TBR/SBR objects is the caller's responsibility
// (via (*RuleEngine).ScheduleTBR and the rules map passed to
// RunSBRPoll) since only the caller knows which namespaces to arm.
func (a *Agent) Run(ctx context.Context, sbrs map[ari.ObjectPath]*amm.SbrObj) {
	go a.Timeline.Run(ctx)
	go a.runExecutionWorker(ctx)
	go a.Rules.RunSBRPoll(ctx, sbrs)
	go a.runEgressWorker(ctx)
	a.runIngressWorker(ctx)
}

// runExecutionWorker drains the engine's ready queue, the single
// execution worker of spec §5 (sequences are internally ordered, but
// only one sequence is actually stepped at a time here — simplest
// reading of "well-defined atomics" that still gives the FIFO ordering
// the invariant requires; a future revision could run N of these
// concurrently since stepSequence already holds its own per-sequence
// state).
func (a *Agent) runExecutionWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !a.Engine.RunOne() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

// runIngressWorker receives inbound frames, decodes them as an
// EXECSET, and submits the resulting execution sequence (spec §6
// "Ingress decodes a frame into an EXECSET").
func (a *Agent) runIngressWorker(ctx context.Context) {
	for {
		f, err := a.Transport.Recv(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Errorf("refda: ingress receive failed: %v", err)
			continue
		}
		a.handleInbound(f)
	}
}

func (a *Agent) handleInbound(f transport.Frame) {
	v, err := aricbor.Decode(f.Payload)
	if err != nil {
		log.Errorf("refda: ingress decode failed from %s: %v", f.Peer, err)
		return
	}
	set, ok := v.EXECSET()
	if !ok {
		log.Debugf("refda: ingress frame from %s carried a non-EXECSET value, dropping", f.Peer)
		return
	}
	a.submitExecSet(ari.Text(f.Peer), set)
}

func (a *Agent) submitExecSet(peer ari.Value, set *ari.EXECSET) {
	refs, err := a.expandAllTargets(set.Targets)
	if err != nil {
		log.Errorf("refda: expanding EXECSET %s targets: %v", set.Nonce, err)
		return
	}
	rc := NewRunCtx(a, peer, set.Nonce)
	seq, err := NewExecSeq(a.Store, rc, refs)
	if err != nil {
		log.Errorf("refda: building execution sequence for EXECSET %s: %v", set.Nonce, err)
		return
	}
	a.Engine.Submit(seq)
}

func (a *Agent) expandAllTargets(targets []ari.Value) ([]ari.Value, error) {
	var out []ari.Value
	for _, t := range targets {
		expanded, err := ExpandTargets(a.Store, t)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// runEgressWorker encodes finished RPTSETs and ships them out over
// Transport (spec §6 "Egress encodes an RPTSET back to the manager
// that issued its EXECSET").
func (a *Agent) runEgressWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case set := <-a.egress:
			a.sendRPTSET(ctx, set)
		}
	}
}

func (a *Agent) sendRPTSET(ctx context.Context, set *ari.RPTSET) {
	v := ari.SetContainer(set)
	payload, err := aricbor.Encode(v)
	if err != nil {
		log.Errorf("refda: encoding RPTSET %s: %v", set.Nonce, err)
		return
	}
	peer, _ := set.Nonce.TextString() // best-effort; reference transport keys peers by nonce-carried text
	if err := a.Transport.Send(ctx, transport.Frame{Peer: peer, Payload: payload}); err != nil {
		log.Errorf("refda: sending RPTSET %s: %v", set.Nonce, err)
	}
}
