package refda

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
)

// reportStats is the counter-per-kind tracker instrumenting report
// production, grounded on the teacher's stats.ProxyCoreStats
// doAdd/counter pattern but registered with Prometheus instead of
// StatsD (this module has no StatsD precedent elsewhere in the pack,
// and prometheus/client_golang is already a teacher dependency).
type reportStats struct {
	produced prometheus.Counter
	dropped  prometheus.Counter
	failed   prometheus.Counter
}

func newReportStats(reg prometheus.Registerer) *reportStats {
	s := &reportStats{
		produced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dtnma_agent_reports_produced_total",
			Help: "Total number of REPORT items successfully produced.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dtnma_agent_reports_dropped_total",
			Help: "Total number of RPTSETs dropped (egress queue full or agent stopping).",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dtnma_agent_report_production_failures_total",
			Help: "Total number of RPTT items that failed to produce a value.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.produced, s.dropped, s.failed)
	}
	return s
}

// ReportEngine turns RPTT templates into REPORTs aggregated into
// RPTSETs keyed by nonce, and enqueues them for egress (spec §4.8).
type ReportEngine struct {
	Store *amm.Store
	stats *reportStats

	mu      sync.Mutex
	pending map[string]*ari.RPTSET // nonce text -> in-progress set
	egress  chan *ari.RPTSET
}

// NewReportEngine builds a reporting engine over store, delivering
// finished RPTSETs onto egress.
func NewReportEngine(store *amm.Store, reg prometheus.Registerer, egress chan *ari.RPTSET) *ReportEngine {
	return &ReportEngine{Store: store, stats: newReportStats(reg), pending: map[string]*ari.RPTSET{}, egress: egress}
}

// ProduceReport runs one RPTT against source (spec §4.8): each item is
// either produced directly (a value-producing reference) or evaluated
// as an EXPR, and the results are assembled into a REPORT tagged with
// the current time and the source path.
func (e *ReportEngine) ProduceReport(rptt ari.Value, source ari.ObjectPath) (*ari.REPORT, error) {
	ac, ok := rptt.AC()
	if !ok {
		e.stats.failed.Inc()
		return nil, errReportTemplateShape
	}
	items := make([]ari.Value, len(ac.Items))
	for i, item := range ac.Items {
		v, err := e.produceReportItem(item)
		if err != nil {
			e.stats.failed.Inc()
			items[i] = ari.Undefined() // spec §7 "production failures surface as undefined values inside outgoing reports"
			continue
		}
		items[i] = v
	}
	e.stats.produced.Inc()
	return &ari.REPORT{RelTime: ari.TPAbs(time.Now()), Source: ari.Ref(source), Items: items}, nil
}

func (e *ReportEngine) produceReportItem(item ari.Value) (ari.Value, error) {
	if item.IsRef() && item.Path().ObjType != ari.TypeOPER {
		res, code := e.Store.Dereference(item)
		if code == amm.DerefOK && IsProducing(res.Object) {
			return Produce(res.Object, res.Actuals, item.Path())
		}
	}
	return Evaluate(e.Store, item)
}

// Aggregate attaches report to the RPTSET keyed by nonce, creating one
// if this is the first report for that nonce (spec §4.8 "attached to
// a new or existing RPTSET keyed by nonce").
func (e *ReportEngine) Aggregate(nonce ari.Value, report *ari.REPORT) {
	key := nonce.String()
	e.mu.Lock()
	set, ok := e.pending[key]
	if !ok {
		set = &ari.RPTSET{Nonce: nonce, RefTime: ari.TPAbs(time.Now())}
		e.pending[key] = set
	}
	set.Reports = append(set.Reports, report)
	e.mu.Unlock()
}

// Flush removes and enqueues the RPTSET for nonce — the point at which
// spec §4.8's "enqueued for egress" actually happens. Called once the
// aggregation policy (every RPTT item of an EXECSET has reported, or a
// rule's single-shot report) decides the set is complete.
func (e *ReportEngine) Flush(nonce ari.Value) {
	key := nonce.String()
	e.mu.Lock()
	set, ok := e.pending[key]
	if ok {
		delete(e.pending, key)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case e.egress <- set:
	default:
		e.stats.dropped.Inc()
	}
}

type reportErr string

func (e reportErr) Error() string { return string(e) }

const errReportTemplateShape reportErr = "refda: RPTT must be an AC of report items"
