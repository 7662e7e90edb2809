package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danschultzer/idempotency-plug/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	outcomes      *prometheus.CounterVec
	trackLatency  *prometheus.HistogramVec
	terminations  prometheus.Counter
	inFlight      prometheus.Gauge
	pruneRemoved  prometheus.Counter
	pruneLatency  prometheus.Histogram
	pruneFailures prometheus.Counter
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "idemplug" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "idemplug"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "tracker",
			Name:      "outcomes_total",
			Help:      "Total Track/Complete outcomes by kind.",
		}, []string{"kind"})

		p.trackLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "tracker",
			Name:      "operation_seconds",
			Help:      "Latency of Track/Complete operations in seconds by outcome kind.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}, []string{"kind"})

		p.terminations = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "tracker",
			Name:      "abnormal_terminations_total",
			Help:      "Total in-flight entries halted because their owner terminated.",
		})

		p.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "tracker",
			Name:      "in_flight",
			Help:      "Entries currently monitored by this tracker instance.",
		})

		p.pruneRemoved = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "pruner",
			Name:      "removed_total",
			Help:      "Total expired entries removed by prune sweeps.",
		})

		p.pruneLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "pruner",
			Name:      "sweep_seconds",
			Help:      "Latency of prune sweeps in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		})

		p.pruneFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "pruner",
			Name:      "failures_total",
			Help:      "Total prune sweeps that failed.",
		})

		p.outcomes = register(p.reg, p.outcomes)
		p.trackLatency = register(p.reg, p.trackLatency)
		p.terminations = register(p.reg, p.terminations)
		p.inFlight = register(p.reg, p.inFlight)
		p.pruneRemoved = register(p.reg, p.pruneRemoved)
		p.pruneLatency = register(p.reg, p.pruneLatency)
		p.pruneFailures = register(p.reg, p.pruneFailures)
	})
}

// register registers c, adopting the already-registered collector when
// another instance on the same registry got there first so both record into
// the live metric.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return are.ExistingCollector.(C)
	}

	panic(err)
}

// RecordTrackOutcome records a Track/Complete outcome and its duration.
func (p *PrometheusCollector) RecordTrackOutcome(kind types.OutcomeKind, duration float64) {
	p.ensureRegistered()
	p.outcomes.WithLabelValues(kind.String()).Inc()
	p.trackLatency.WithLabelValues(kind.String()).Observe(duration)
}

// RecordAbnormalTermination increments the halted-entry counter.
func (p *PrometheusCollector) RecordAbnormalTermination() {
	p.ensureRegistered()
	p.terminations.Inc()
}

// SetInFlight sets the in-flight entry gauge.
func (p *PrometheusCollector) SetInFlight(n int) {
	p.ensureRegistered()
	p.inFlight.Set(float64(n))
}

// RecordPruneRun records a prune sweep result.
func (p *PrometheusCollector) RecordPruneRun(removed int, duration float64, success bool) {
	p.ensureRegistered()
	if success {
		p.pruneRemoved.Add(float64(removed))
		p.pruneLatency.Observe(duration)
	} else {
		p.pruneFailures.Inc()
	}
}
