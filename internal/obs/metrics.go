package obs

import (
	"net/http"
	"sync/atomic"
	"time"

	internalerrors "spotledger/internal/errors"
	"spotledger/internal/schema"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spotledger"

// Metrics collects cycle, ledger and replay counters on a private registry.
// A nil *Metrics discards every observation.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	events        *prometheus.CounterVec
	ledgerEntries *prometheus.CounterVec
	violations    *prometheus.CounterVec
	verdicts      *prometheus.CounterVec
	cycleSeconds  *prometheus.HistogramVec

	cycleLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Account-hour cycles by mode and result",
		}, []string{"mode", "result"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected signals and orders by reason",
		}, []string{"reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_events_total",
			Help:      "Risk events by kind",
		}, []string{"kind"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Cash ledger entries by mode and side",
		}, []string{"mode", "side"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Fatal unit-of-work failures by kind",
		}, []string{"kind"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_verdicts_total",
			Help:      "Replay verdicts by result",
		}, []string{"result"}),
		cycleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one account-hour from head load to commit",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"mode"}),
	}
	m.registry.MustRegister(m.cycles, m.rejections, m.events, m.ledgerEntries, m.violations, m.verdicts, m.cycleSeconds)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records a committed cycle.
func (m *Metrics) ObserveCycle(rec *schema.CycleRecord, d time.Duration) {
	if m == nil || rec == nil {
		return
	}
	mode := rec.Run.Mode.String()
	m.cycles.WithLabelValues(mode, "committed").Inc()
	m.cycleSeconds.WithLabelValues(mode).Observe(d.Seconds())
	m.cycleLatency.Observe(d)
	for _, e := range rec.Events {
		m.events.WithLabelValues(e.Kind.String()).Inc()
		if e.Kind == schema.RiskEventRejection {
			m.rejections.WithLabelValues(e.Reason.String()).Inc()
		}
	}
	for _, e := range rec.Ledger {
		m.ledgerEntries.WithLabelValues(mode, e.Kind.String()).Inc()
	}
}

// ObserveFailure records a cycle that was discarded.
func (m *Metrics) ObserveFailure(mode schema.RunMode, err error) {
	if m == nil || err == nil {
		return
	}
	m.cycles.WithLabelValues(mode.String(), "failed").Inc()
	for _, v := range internalerrors.Violations(err) {
		m.violations.WithLabelValues(violationKind(v)).Inc()
	}
}

// ObserveVerdict records a replay verdict.
func (m *Metrics) ObserveVerdict(pass bool) {
	if m == nil {
		return
	}
	result := "fail"
	if pass {
		result = "pass"
	}
	m.verdicts.WithLabelValues(result).Inc()
}

// CycleLatency returns the aggregated cycle latency.
func (m *Metrics) CycleLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{}
	}
	return m.cycleLatency.Snapshot()
}

func violationKind(v *internalerrors.Violation) string {
	if v.Kind == nil {
		return "unknown"
	}
	return v.Kind.Error()
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		low := atomic.LoadUint64(&l.min)
		if low != 0 && nanos >= low {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, low, nanos) {
			break
		}
	}

	for {
		high := atomic.LoadUint64(&l.max)
		if nanos <= high {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, high, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
