// Package pruner provides the periodic sweep that evicts expired entries
// from the store.
//
// The pruner is independently scheduled and has no coupling to individual
// keys or to the liveness monitor: an entry removed by pruning simply ceases
// to exist, freeing its key for reuse by a fresh Track call.
package pruner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danschultzer/idempotency-plug/types"
)

// Common errors for pruner operations.
var (
	ErrNotStarted     = errors.New("pruner not started")
	ErrAlreadyStarted = errors.New("pruner already started")
)

// Pruner periodically asks the store to delete all entries past their
// expiry.
//
// Sweeps run outside the tracker's serialized decision stream, so the store
// implementation must be safe for concurrent use.
type Pruner struct {
	store    types.Store
	interval time.Duration
	timeout  time.Duration
	logger   types.Logger
	metrics  types.MetricsCollector
	onPruned func(removed int)

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	ticker  *time.Ticker
}

// New creates a new pruner.
//
// Parameters:
//   - store: Store to sweep
//   - interval: Time between sweeps
//   - timeout: Per-sweep store operation timeout
//   - logger: Structured logger
//   - metrics: Metrics collector for sweep results
//
// Returns:
//   - *Pruner: New pruner instance
func New(store types.Store, interval, timeout time.Duration, logger types.Logger, metrics types.MetricsCollector) *Pruner {
	return &Pruner{
		store:    store,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetOnPruned sets a callback invoked after each sweep that removed at least
// one entry.
//
// Optional. Must be called before Start().
func (p *Pruner) SetOnPruned(fn func(removed int)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onPruned = fn
}

// Start begins sweeping in the background.
//
// The first sweep happens after one full interval; a fresh tracker has
// nothing to evict.
//
// Returns:
//   - error: ErrAlreadyStarted if already running
func (p *Pruner) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}

	p.started = true
	p.ticker = time.NewTicker(p.interval)

	go p.sweepLoop()

	return nil
}

// Stop stops the pruner.
//
// Blocks until the sweep goroutine exits. A sweep already in progress runs
// to completion.
//
// Returns:
//   - error: ErrNotStarted if not running
func (p *Pruner) Stop() error {
	p.mu.Lock()

	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}

	p.ticker.Stop()
	close(p.stopCh)
	p.started = false

	p.mu.Unlock()

	<-p.doneCh

	return nil
}

// sweepLoop is the background goroutine that runs sweeps.
func (p *Pruner) sweepLoop() {
	defer close(p.doneCh)

	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ticker.C:
			p.sweep()
		}
	}
}

// sweep runs a single prune pass against the store.
func (p *Pruner) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	removed, err := p.store.Prune(ctx, time.Now())
	elapsed := time.Since(start).Seconds()

	if err != nil {
		p.metrics.RecordPruneRun(0, elapsed, false)
		p.logger.Error("prune sweep failed", "store", p.store.Name(), "error", err)

		return
	}

	p.metrics.RecordPruneRun(removed, elapsed, true)

	if removed > 0 {
		p.logger.Info("pruned expired entries", "store", p.store.Name(), "removed", removed)

		p.mu.Lock()
		fn := p.onPruned
		p.mu.Unlock()
		if fn != nil {
			fn(removed)
		}
	}
}
