package idemplug

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/danschultzer/idempotency-plug/internal/metrics"
	"github.com/danschultzer/idempotency-plug/types"
)

// NewPrometheusMetrics creates a Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Registerer to register collectors with; nil uses the default
//     registerer
//   - namespace: Metric name prefix, or "" for the default
//
// Returns:
//   - types.MetricsCollector: Collector to pass via WithMetrics
//
// Example:
//
//	collector := idemplug.NewPrometheusMetrics(nil, "myapp")
//	tracker, err := idemplug.NewTracker(&cfg, store, idemplug.WithMetrics(collector))
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) types.MetricsCollector {
	return metrics.NewPrometheus(reg, namespace)
}
