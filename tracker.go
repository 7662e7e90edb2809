package idemplug

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danschultzer/idempotency-plug/internal/hooks"
	"github.com/danschultzer/idempotency-plug/internal/logging"
	"github.com/danschultzer/idempotency-plug/internal/metrics"
	"github.com/danschultzer/idempotency-plug/internal/monitor"
	"github.com/danschultzer/idempotency-plug/internal/pruner"
	"github.com/danschultzer/idempotency-plug/types"
)

// Tracker is the single serialized authority for idempotent-request
// tracking.
//
// It guarantees that a logically identical operation, identified by a
// caller-supplied key, is executed at most once: concurrent or repeated
// attempts with the same key and fingerprint observe a single outcome, and
// attempts reusing the key with a different fingerprint are rejected.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Track, Complete and the internal crash path are processed one at a
//     time, in receipt order, which makes the look-up-then-insert sequence
//     for a first-seen key atomic with respect to other callers
//
// Lifecycle:
//   - Create with NewTracker()
//   - Call Start() to set up the store and begin pruning
//   - Call Stop() for graceful shutdown; still in-flight entries owned by
//     this instance are converted to their halted state
//
// For deployments sharing a relational store across processes, the store's
// own atomic insert-if-absent is the second line of defense: an
// already-exists conflict on insert is absorbed and reported as the entry
// found in flight elsewhere.
type Tracker struct {
	cfg     Config
	store   types.Store
	hooks   *types.Hooks
	metrics types.MetricsCollector
	logger  types.Logger

	monitor *monitor.Monitor
	pruner  *pruner.Pruner

	// mu serializes all Track/Complete/halt decisions. Store round-trips
	// happen under it; a slow store blocks the stream, which is the accepted
	// trade for correctness simplicity.
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

// NewTracker creates a new Tracker instance with the provided configuration
// and store.
//
// Returns a concrete *Tracker struct following the "accept interfaces,
// return structs" principle. Consumers can define their own interfaces for
// testing if needed.
//
// Parameters:
//   - cfg: Runtime configuration; zero fields are filled with defaults
//   - store: Persistence backend (memstore, pgstore, natsstore, or custom)
//   - opts: Optional configuration (hooks, metrics, logger)
//
// Returns:
//   - *Tracker: Initialized tracker instance
//   - error: Validation error if configuration is invalid
//
// Example:
//
//	cfg := idemplug.DefaultConfig()
//	tracker, err := idemplug.NewTracker(&cfg, memstore.New())
func NewTracker(cfg *Config, store types.Store, opts ...Option) (*Tracker, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if store == nil {
		return nil, ErrStoreRequired
	}

	// Fill in missing configuration values with defaults
	SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Apply options
	options := &trackerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Provide safe defaults for optional dependencies to avoid nil checks everywhere
	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	hooksInstance := options.hooks
	if hooksInstance == nil {
		nopHooks := hooks.NewNop()
		hooksInstance = &nopHooks
	}

	t := &Tracker{
		cfg:     *cfg,
		store:   store,
		hooks:   hooksInstance,
		metrics: metricsCollector,
		logger:  loggerInstance,
	}

	t.monitor = monitor.New(loggerInstance, t.handleAbnormalTermination)
	t.pruner = pruner.New(store, cfg.PruneInterval, cfg.OperationTimeout, loggerInstance, metricsCollector)
	t.pruner.SetOnPruned(t.notifyPruned)

	return t, nil
}

// Start initializes the tracker.
//
// Runs the store's Setup and starts the background pruner (unless
// DisableAutoPrune is set).
//
// Parameters:
//   - ctx: Context bounding setup I/O
//
// Returns:
//   - error: Setup error, or ErrAlreadyStarted
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.ctx != nil {
		t.mu.Unlock()

		return ErrAlreadyStarted
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()

	setupCtx, cancel := context.WithTimeout(ctx, t.cfg.OperationTimeout)
	defer cancel()

	if err := t.store.Setup(setupCtx); err != nil {
		return fmt.Errorf("failed to set up store: %w", err)
	}

	if !t.cfg.DisableAutoPrune {
		if err := t.pruner.Start(t.ctx); err != nil {
			return fmt.Errorf("failed to start pruner: %w", err)
		}
	}

	t.logger.Info("tracker started",
		"instance_id", t.cfg.InstanceID,
		"store", t.store.Name(),
		"ttl", t.cfg.TTL,
		"prune_interval", t.cfg.PruneInterval,
	)

	return nil
}

// Stop gracefully shuts down the tracker.
//
// The pruner stops, liveness monitoring ends, and entries still in flight
// under this instance are converted to their halted state so callers on
// other instances are not left waiting forever.
//
// Safe to call once; subsequent calls return ErrNotStarted.
//
// Parameters:
//   - ctx: Context bounding shutdown I/O
//
// Returns:
//   - error: First shutdown error encountered, if any
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.ctx == nil || t.stopped {
		t.mu.Unlock()

		return ErrNotStarted
	}
	t.stopped = true
	t.mu.Unlock()

	var shutdownErr error

	if !t.cfg.DisableAutoPrune {
		if err := t.pruner.Stop(); err != nil && !errors.Is(err, pruner.ErrNotStarted) {
			t.logger.Error("failed to stop pruner", "error", err)
			shutdownErr = fmt.Errorf("pruner stop failed: %w", err)
		}
	}

	// Close the monitor without firing crash callbacks, then settle the
	// still-pending entries ourselves with a shutdown reason.
	pending := t.monitor.Close()

	t.mu.Lock()
	for _, p := range pending {
		opCtx, cancel := context.WithTimeout(ctx, t.cfg.OperationTimeout)

		// A pending watch means no Complete ran for the key, but the state is
		// re-checked anyway so a terminal entry is never overwritten.
		entry, found, err := t.store.Lookup(opCtx, p.Key)
		if err == nil && (!found || entry.State != types.StateProcessing) {
			cancel()
			continue
		}
		if err == nil {
			err = t.store.Update(opCtx, p.Key, types.Transition{
				State:     types.StateHalted,
				Reason:    "tracker shut down before completion",
				ExpiresAt: t.deadline(),
			})
		}
		cancel()

		if err != nil && !errors.Is(err, types.ErrEntryNotFound) {
			t.logger.Error("failed to halt in-flight entry during shutdown",
				"owner", p.Owner,
				"error", err,
			)
			if shutdownErr == nil {
				shutdownErr = fmt.Errorf("halt on shutdown failed: %w", err)
			}
		}
	}
	t.mu.Unlock()

	t.metrics.SetInFlight(0)
	t.cancel()

	t.logger.Info("tracker stopped", "instance_id", t.cfg.InstanceID, "halted_in_flight", len(pending))

	return shutdownErr
}

// Track records a tracking attempt for key with the given request
// fingerprint and returns the observed outcome.
//
// For a first-seen key the caller becomes the executor: a Processing entry
// is created, the caller's ctx is monitored for liveness, and the caller
// must later call Complete. If ctx ends before Complete, the entry is
// converted to its halted state.
//
// For a key already tracked, the outcome reports the entry's state
// (in-flight, cached response, halted) — or a mismatch if the fingerprint
// differs from the one recorded at creation, regardless of state.
//
// Parameters:
//   - ctx: The caller's execution context; doubles as the liveness handle
//   - key: Opaque digest identifying the idempotent operation instance
//   - fingerprint: Opaque digest of the operation's input payload
//
// Returns:
//   - Outcome: One of Init, InFlight, Mismatch, CachedHalted, CachedDone,
//     StoreFailure
func (t *Tracker) Track(ctx context.Context, key, fingerprint []byte) types.Outcome {
	start := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx == nil || t.stopped {
		return t.finish(start, types.Outcome{Kind: types.OutcomeStoreFailure, Err: ErrNotStarted})
	}

	opCtx, cancel := context.WithTimeout(ctx, t.cfg.OperationTimeout)
	defer cancel()

	entry, found, err := t.store.Lookup(opCtx, key)
	if err != nil {
		return t.finish(start, t.storeFailure("lookup", err))
	}

	if !found {
		outcome, ok := t.insertNew(opCtx, ctx, key, fingerprint)
		if ok {
			return t.finish(start, outcome)
		}

		// Insert raced with another writer; re-read and report what they
		// created instead.
		entry, found, err = t.store.Lookup(opCtx, key)
		if err != nil {
			return t.finish(start, t.storeFailure("lookup after insert conflict", err))
		}
		if !found {
			return t.finish(start, t.storeFailure("insert", fmt.Errorf("entry vanished after insert conflict: %w", types.ErrAlreadyExists)))
		}
	}

	outcome := t.outcomeForEntry(entry, fingerprint)

	// A rejected fingerprint reuse is not a cache hit; only an entry observed
	// under its own fingerprint counts.
	if outcome.Kind != types.OutcomeMismatch {
		t.fireHook(t.hooks.OnCacheHit, "cache hit", types.EventMeta{
			Key:         append([]byte(nil), key...),
			Fingerprint: append([]byte(nil), fingerprint...),
			Store:       t.store.Name(),
			ExpiresAt:   entry.ExpiresAt,
		})
	}

	return t.finish(start, outcome)
}

// Complete stores the response for key and stops liveness monitoring.
//
// Terminal states are final: completing an entry already converted to its
// halted state reports CachedHalted instead of overwriting it, and
// completing an already-done entry is an idempotent no-op.
//
// Parameters:
//   - ctx: Context bounding store I/O
//   - key: The key returned to the caller by the Init outcome
//   - resp: The opaque response payload to cache
//
// Returns:
//   - Outcome: Completed on success, NotFound if the entry was never tracked
//     or already pruned, CachedHalted if the entry was halted first,
//     StoreFailure on store I/O errors
func (t *Tracker) Complete(ctx context.Context, key []byte, resp types.Response) types.Outcome {
	start := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx == nil || t.stopped {
		return t.finish(start, types.Outcome{Kind: types.OutcomeStoreFailure, Err: ErrNotStarted})
	}

	// Stop monitoring before touching the store so a caller crash after this
	// point can no longer race the completion into a halt.
	t.monitor.Cancel(key)
	t.metrics.SetInFlight(t.monitor.Active())

	opCtx, cancel := context.WithTimeout(ctx, t.cfg.OperationTimeout)
	defer cancel()

	// A monitor goroutine that committed to the crash path before Cancel may
	// still be queued behind t.mu, and vice versa. Re-reading the state under
	// the mutex makes the first terminal transition win.
	entry, found, err := t.store.Lookup(opCtx, key)
	if err != nil {
		return t.finish(start, t.storeFailure("lookup", err))
	}
	if !found {
		return t.finish(start, types.Outcome{Kind: types.OutcomeNotFound})
	}

	switch entry.State {
	case types.StateDone:
		return t.finish(start, types.Outcome{Kind: types.OutcomeCompleted, ExpiresAt: entry.ExpiresAt})
	case types.StateHalted:
		return t.finish(start, types.Outcome{
			Kind:      types.OutcomeCachedHalted,
			Reason:    entry.Reason,
			ExpiresAt: entry.ExpiresAt,
		})
	case types.StateProcessing:
	}

	expiresAt := t.deadline()
	err = t.store.Update(opCtx, key, types.Transition{
		State:     types.StateDone,
		Response:  resp,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		if errors.Is(err, types.ErrEntryNotFound) {
			return t.finish(start, types.Outcome{Kind: types.OutcomeNotFound})
		}

		return t.finish(start, t.storeFailure("update", err))
	}

	return t.finish(start, types.Outcome{Kind: types.OutcomeCompleted, ExpiresAt: expiresAt})
}

// InFlight returns the number of entries currently monitored by this
// tracker instance.
func (t *Tracker) InFlight() int {
	return t.monitor.Active()
}

// insertNew creates a fresh Processing entry and begins monitoring the
// caller. Reports ok=false when the insert lost a create race.
func (t *Tracker) insertNew(opCtx, callerCtx context.Context, key, fingerprint []byte) (types.Outcome, bool) {
	owner := fmt.Sprintf("%s/%s", t.cfg.InstanceID, uuid.NewString()[:8])
	expiresAt := t.deadline()

	err := t.store.Insert(opCtx, key, types.Entry{
		State:       types.StateProcessing,
		Owner:       owner,
		Fingerprint: fingerprint,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		if errors.Is(err, types.ErrAlreadyExists) {
			t.logger.Debug("insert lost create race, re-reading", "owner", owner)

			return types.Outcome{}, false
		}

		return t.storeFailure("insert", err), true
	}

	if err := t.monitor.Watch(callerCtx, key, owner); err != nil {
		// Only fails when the tracker is shutting down; the entry will be
		// settled by Stop's own halt pass or by pruning.
		t.logger.Warn("liveness watch rejected", "owner", owner, "error", err)
	}
	t.metrics.SetInFlight(t.monitor.Active())

	t.fireHook(t.hooks.OnCacheMiss, "cache miss", types.EventMeta{
		Key:         append([]byte(nil), key...),
		Fingerprint: append([]byte(nil), fingerprint...),
		Store:       t.store.Name(),
		ExpiresAt:   expiresAt,
	})

	return types.Outcome{
		Kind:      types.OutcomeInit,
		Key:       append([]byte(nil), key...),
		ExpiresAt: expiresAt,
	}, true
}

// outcomeForEntry maps a stored entry to the outcome observed by a repeat
// caller.
func (t *Tracker) outcomeForEntry(entry types.Entry, fingerprint []byte) types.Outcome {
	// A differing fingerprint is a permanent mismatch regardless of state,
	// even while the original request is still processing.
	if !bytes.Equal(entry.Fingerprint, fingerprint) {
		return types.Outcome{
			Kind:              types.OutcomeMismatch,
			StoredFingerprint: entry.Fingerprint,
			ExpiresAt:         entry.ExpiresAt,
		}
	}

	switch entry.State {
	case types.StateProcessing:
		return types.Outcome{
			Kind:      types.OutcomeInFlight,
			Owner:     entry.Owner,
			ExpiresAt: entry.ExpiresAt,
		}
	case types.StateHalted:
		return types.Outcome{
			Kind:      types.OutcomeCachedHalted,
			Reason:    entry.Reason,
			ExpiresAt: entry.ExpiresAt,
		}
	case types.StateDone:
		return types.Outcome{
			Kind:      types.OutcomeCachedDone,
			Response:  entry.Response,
			ExpiresAt: entry.ExpiresAt,
		}
	default:
		return t.storeFailure("lookup", fmt.Errorf("unknown entry state %v", entry.State))
	}
}

// handleAbnormalTermination converts an in-flight entry to its halted state
// after its owner terminated without completing. Invoked by the monitor
// exactly once per monitored key.
func (t *Tracker) handleAbnormalTermination(key []byte, owner, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.SetInFlight(t.monitor.Active())

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.OperationTimeout)
	defer cancel()

	// The caller may have completed between the monitor committing to the
	// crash path and this goroutine acquiring t.mu. Terminal states are
	// final: only an entry still processing converts to halted.
	entry, found, err := t.store.Lookup(ctx, key)
	if err != nil {
		t.logger.Error("failed to read entry after owner termination",
			"owner", owner,
			"reason", reason,
			"error", err,
		)

		return
	}
	if !found || entry.State != types.StateProcessing {
		return
	}

	err = t.store.Update(ctx, key, types.Transition{
		State:     types.StateHalted,
		Reason:    reason,
		ExpiresAt: t.deadline(),
	})
	if err != nil {
		if errors.Is(err, types.ErrEntryNotFound) {
			// Entry pruned since the read; nothing happens.
			return
		}
		t.logger.Error("failed to halt entry after owner termination",
			"owner", owner,
			"reason", reason,
			"error", err,
		)

		return
	}

	t.metrics.RecordAbnormalTermination()
	t.logger.Info("in-flight entry halted",
		"owner", owner,
		"reason", reason,
	)
}

// notifyPruned forwards prune results to the OnPruned hook.
func (t *Tracker) notifyPruned(removed int) {
	if t.hooks.OnPruned == nil {
		return
	}

	go func() {
		if err := t.hooks.OnPruned(t.ctx, removed); err != nil {
			t.logger.Error("prune hook error", "removed", removed, "error", err)
		}
	}()
}

// fireHook runs a hook in the background to avoid blocking the decision
// stream.
func (t *Tracker) fireHook(hook func(context.Context, types.EventMeta) error, name string, meta types.EventMeta) {
	if hook == nil {
		return
	}

	go func() {
		if err := hook(t.ctx, meta); err != nil {
			t.logger.Error("hook error", "hook", name, "error", err)
		}
	}()
}

// storeFailure wraps a store error into the StoreFailure outcome.
func (t *Tracker) storeFailure(op string, err error) types.Outcome {
	t.logger.Error("store operation failed", "op", op, "store", t.store.Name(), "error", err)

	return types.Outcome{
		Kind: types.OutcomeStoreFailure,
		Err:  fmt.Errorf("%s failed: %w", op, err),
	}
}

// finish records outcome metrics and returns the outcome.
func (t *Tracker) finish(start time.Time, outcome types.Outcome) types.Outcome {
	t.metrics.RecordTrackOutcome(outcome.Kind, time.Since(start).Seconds())

	return outcome
}

// deadline computes the next expiry timestamp.
//
// Truncated to millisecond precision so the value round-trips identically
// through every backend (Postgres timestamptz keeps microseconds), keeping
// the expiry-equality guarantee between Init and later outcomes intact.
func (t *Tracker) deadline() time.Time {
	return time.Now().Add(t.cfg.TTL).UTC().Truncate(time.Millisecond)
}
