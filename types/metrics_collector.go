package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods may be called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces so callers can
// implement only the slices they care about and embed a nop for the rest.
type MetricsCollector interface {
	TrackerMetrics
	PrunerMetrics
}

// TrackerMetrics defines metrics for tracker-level operations.
type TrackerMetrics interface {
	// RecordTrackOutcome records a Track or Complete call's outcome and
	// duration in seconds.
	RecordTrackOutcome(kind OutcomeKind, duration float64)

	// RecordAbnormalTermination records an in-flight entry converted to
	// Halted because its owner terminated before completing.
	RecordAbnormalTermination()

	// SetInFlight sets the number of entries currently monitored by this
	// tracker instance (gauge).
	SetInFlight(n int)
}

// PrunerMetrics defines metrics for prune sweeps.
type PrunerMetrics interface {
	// RecordPruneRun records a prune sweep: entries removed, duration in
	// seconds, and whether the sweep succeeded.
	RecordPruneRun(removed int, duration float64, success bool)
}
