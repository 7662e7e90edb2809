package metrics

import "github.com/danschultzer/idempotency-plug/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external metrics
// collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordTrackOutcome discards the outcome metric.
func (n *NopMetrics) RecordTrackOutcome(_ /* kind */ types.OutcomeKind, _ /* duration */ float64) {
	// No-op
}

// RecordAbnormalTermination discards the termination counter.
func (n *NopMetrics) RecordAbnormalTermination() {
	// No-op
}

// SetInFlight discards the in-flight gauge.
func (n *NopMetrics) SetInFlight(_ /* n */ int) {
	// No-op
}

// RecordPruneRun discards the prune sweep metric.
func (n *NopMetrics) RecordPruneRun(_ /* removed */ int, _ /* duration */ float64, _ /* success */ bool) {
	// No-op
}
