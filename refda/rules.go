package refda

import (
	"context"
	"time"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/cmn/log"
)

// RuleEngine drives TBR/SBR firing (spec §4.9). TBRs are scheduled
// directly on the timeline, one pending event per rule at a time; SBRs
// are polled by a rule worker at a fixed cadence; a rule's condition is
// evaluated no more often than once per minimum interval (measured from
// its last evaluation), and the rule fires when the condition is true.
type RuleEngine struct {
	Agent *Agent

	pollInterval time.Duration
}

// NewRuleEngine builds a rule engine over agent, polling SBR conditions
// every pollInterval (a non-positive value defaults to one second).
func NewRuleEngine(agent *Agent, pollInterval time.Duration) *RuleEngine {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &RuleEngine{Agent: agent, pollInterval: pollInterval}
}

// ScheduleTBR arranges tbr to fire on the timeline at its next due
// time. A zero/absent StartTime means the rule is always active and
// fires immediately (the frozen reading of spec §9's open question on
// TBR start-time semantics).
func (r *RuleEngine) ScheduleTBR(path ari.ObjectPath, tbr *amm.TbrObj) {
	if !tbr.Enabled {
		return
	}
	r.Agent.Timeline.Schedule(r.nextTBRFire(tbr), func() { r.fireTBR(path, tbr) })
}

func (r *RuleEngine) nextTBRFire(tbr *amm.TbrObj) time.Time {
	start, ok := tbr.StartTime.TimeValue()
	if !ok || (!start.Relative && start.Sec == 0 && start.Nsec == 0) {
		return time.Now()
	}
	if start.Relative {
		return time.Now().Add(start.AsDuration())
	}
	at := start.AsTime()
	if tbr.ExecCount > 0 {
		at = at.Add(time.Duration(tbr.ExecCount) * tbr.Period.AsDuration())
	}
	return at
}

func (r *RuleEngine) fireTBR(path ari.ObjectPath, tbr *amm.TbrObj) {
	if !tbr.Enabled || (tbr.MaxCount > 0 && tbr.ExecCount >= tbr.MaxCount) {
		return
	}
	tbr.ExecCount++
	r.fireAction(path, tbr.ActionMAC)
	if tbr.MaxCount <= 0 || tbr.ExecCount < tbr.MaxCount {
		r.Agent.Timeline.Schedule(time.Now().Add(tbr.Period.AsDuration()), func() { r.fireTBR(path, tbr) })
	}
}

// EvalSBR evaluates one SBR's condition and, if due, fires its action.
// It is exposed directly (rather than only via the poll loop) so an
// event-driven caller — e.g. a VAR assignment — can re-check a rule
// without waiting for the next poll tick.
func (r *RuleEngine) EvalSBR(path ari.ObjectPath, sbr *amm.SbrObj) {
	if !sbr.Enabled || (sbr.MaxCount > 0 && sbr.ExecCount >= sbr.MaxCount) {
		return
	}
	now := time.Now()
	if sbr.LastEval.Sec != 0 || sbr.LastEval.Nsec != 0 {
		if now.Sub(sbr.LastEval.AsTime()) < sbr.MinInterval.AsDuration() {
			return
		}
	}
	result, err := Evaluate(r.Agent.Store, sbr.Condition)
	sbr.LastEval = ari.TPAbs(now)
	if err != nil {
		log.Debugf("refda: SBR %s condition evaluation failed: %v", path, err)
		return
	}
	if fired, ok := result.Bool(); !ok || !fired {
		return
	}
	sbr.ExecCount++
	r.fireAction(path, sbr.ActionMAC)
}

func (r *RuleEngine) fireAction(path ari.ObjectPath, mac ari.ObjectPath) {
	refs, err := ExpandTargets(r.Agent.Store, ari.Ref(mac))
	if err != nil {
		log.Debugf("refda: rule %s action MAC %s failed to expand: %v", path, mac, err)
		return
	}
	rc := NewAnonymousRunCtx(r.Agent)
	seq, err := NewExecSeq(r.Agent.Store, rc, refs)
	if err != nil {
		log.Debugf("refda: rule %s failed to build its execution sequence: %v", path, err)
		return
	}
	r.Agent.Engine.Submit(seq)
}

// RunSBRPoll periodically re-evaluates every rule in rules until ctx is
// cancelled (spec §4.9, §5 "rule worker").
func (r *RuleEngine) RunSBRPoll(ctx context.Context, rules map[ari.ObjectPath]*amm.SbrObj) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for path, sbr := range rules {
				r.EvalSBR(path, sbr)
			}
		}
	}
}
