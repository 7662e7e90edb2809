package monitor

import (
	"context"
	"errors"
	"sync"

	"github.com/danschultzer/idempotency-plug/types"
)

// Common errors for monitor operations.
var (
	ErrClosed = errors.New("monitor closed")
)

// TerminationFunc is invoked exactly once when a monitored caller terminates
// before completing. The reason is an opaque diagnostic captured from the
// caller's context.
type TerminationFunc func(key []byte, owner, reason string)

// Pending describes an association still active when the monitor closes.
type Pending struct {
	Key   []byte
	Owner string
}

// Monitor tracks which in-flight key is owned by which caller context and
// detects abnormal termination of that caller.
//
// A key is monitored by at most one active association at a time; a second
// Watch for the same key is ignored, since the original association owns the
// crash path.
type Monitor struct {
	logger      types.Logger
	onTerminate TerminationFunc

	mu      sync.Mutex
	watches map[string]*watch
	closed  bool
	wg      sync.WaitGroup
}

type watch struct {
	key    []byte
	owner  string
	cancel chan struct{}
}

// New creates a new liveness monitor.
//
// Parameters:
//   - logger: Structured logger for watch lifecycle events
//   - onTerminate: Callback fired when a monitored caller terminates
//
// Returns:
//   - *Monitor: Initialized monitor instance
func New(logger types.Logger, onTerminate TerminationFunc) *Monitor {
	return &Monitor{
		logger:      logger,
		onTerminate: onTerminate,
		watches:     make(map[string]*watch),
	}
}

// Watch begins monitoring the caller that owns key.
//
// The association fires the termination callback if ctx ends before Cancel
// is called for the same key. If the key is already monitored the call is a
// no-op: the original association owns the crash path.
//
// Parameters:
//   - ctx: The caller's execution context; its end signals termination
//   - key: Tracked key the caller owns
//   - owner: Diagnostic label for the caller
//
// Returns:
//   - error: ErrClosed if the monitor is shut down
func (m *Monitor) Watch(ctx context.Context, key []byte, owner string) error {
	k := string(key)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, exists := m.watches[k]; exists {
		m.mu.Unlock()
		m.logger.Debug("watch already active for key, ignoring", "owner", owner)

		return nil
	}

	w := &watch{
		key:    append([]byte(nil), key...),
		owner:  owner,
		cancel: make(chan struct{}),
	}
	m.watches[k] = w
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, k, w)

	return nil
}

// Cancel removes the association for key without firing the crash path.
//
// Called on normal completion.
//
// Returns:
//   - bool: true if an active association was removed
func (m *Monitor) Cancel(key []byte) bool {
	m.mu.Lock()
	w, ok := m.watches[string(key)]
	if ok {
		delete(m.watches, string(key))
		close(w.cancel)
	}
	m.mu.Unlock()

	return ok
}

// Active returns the number of active associations.
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.watches)
}

// Close shuts the monitor down and returns the associations that were still
// active so the caller can settle their entries.
//
// No callback fires for the returned associations. Blocks until all watch
// goroutines exit. Subsequent Watch calls return ErrClosed.
func (m *Monitor) Close() []Pending {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	pending := make([]Pending, 0, len(m.watches))
	for k, w := range m.watches {
		pending = append(pending, Pending{Key: w.key, Owner: w.owner})
		close(w.cancel)
		delete(m.watches, k)
	}
	m.mu.Unlock()

	m.wg.Wait()

	return pending
}

// run waits for either caller termination or cancellation.
func (m *Monitor) run(ctx context.Context, k string, w *watch) {
	defer m.wg.Done()

	select {
	case <-w.cancel:
		return
	case <-ctx.Done():
	}

	// Remove the association before firing so Cancel/Close racing with the
	// termination resolves to exactly one of the two paths.
	m.mu.Lock()
	cur, ok := m.watches[k]
	if !ok || cur != w {
		m.mu.Unlock()
		return
	}
	delete(m.watches, k)
	m.mu.Unlock()

	reason := "execution context ended"
	if cause := context.Cause(ctx); cause != nil {
		reason = cause.Error()
	}

	m.logger.Debug("monitored caller terminated", "owner", w.owner, "reason", reason)
	m.onTerminate(w.key, w.owner, reason)
}
