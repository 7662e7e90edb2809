package idemplug

import "github.com/danschultzer/idempotency-plug/types"

// Option configures a Tracker with optional dependencies.
type Option func(*trackerOptions)

// trackerOptions holds optional Tracker configuration.
type trackerOptions struct {
	hooks   *types.Hooks
	metrics types.MetricsCollector
	logger  types.Logger
}

// WithHooks sets observability event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewTracker
//
// Example:
//
//	hooks := &idemplug.Hooks{
//	    OnCacheHit: func(ctx context.Context, meta idemplug.EventMeta) error {
//	        return recordHit(meta)
//	    },
//	}
//	tracker, err := idemplug.NewTracker(&cfg, store, idemplug.WithHooks(hooks))
func WithHooks(hooks *types.Hooks) Option {
	return func(o *trackerOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewTracker
//
// Example:
//
//	collector := metrics.NewPrometheus(nil, "myapp")
//	tracker, err := idemplug.NewTracker(&cfg, store, idemplug.WithMetrics(collector))
func WithMetrics(metrics types.MetricsCollector) Option {
	return func(o *trackerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (slog adapters via NewSlogLogger)
//
// Returns:
//   - Option: Functional option for NewTracker
//
// Example:
//
//	logger := idemplug.NewSlogLogger(nil)
//	tracker, err := idemplug.NewTracker(&cfg, store, idemplug.WithLogger(logger))
func WithLogger(logger types.Logger) Option {
	return func(o *trackerOptions) {
		o.logger = logger
	}
}
