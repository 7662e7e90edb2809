package idemplug

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danschultzer/idempotency-plug/store/memstore"
	"github.com/danschultzer/idempotency-plug/types"
)

func newTestTracker(t *testing.T, opts ...Option) (*Tracker, *memstore.Store) {
	t.Helper()

	store := memstore.New()
	cfg := TestConfig()

	tracker, err := NewTracker(&cfg, store, opts...)
	require.NoError(t, err)
	require.NoError(t, tracker.Start(context.Background()))

	t.Cleanup(func() {
		_ = tracker.Stop(context.Background())
	})

	return tracker, store
}

func TestNewTrackerValidation(t *testing.T) {
	t.Parallel()

	cfg := TestConfig()

	_, err := NewTracker(nil, memstore.New())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewTracker(&cfg, nil)
	assert.ErrorIs(t, err, ErrStoreRequired)

	bad := TestConfig()
	bad.TTL = -time.Second
	_, err = NewTracker(&bad, memstore.New())
	assert.Error(t, err)
}

func TestTrackBeforeStart(t *testing.T) {
	t.Parallel()

	cfg := TestConfig()
	tracker, err := NewTracker(&cfg, memstore.New())
	require.NoError(t, err)

	outcome := tracker.Track(context.Background(), []byte("k"), []byte("f"))
	require.Equal(t, types.OutcomeStoreFailure, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrNotStarted)

	outcome = tracker.Complete(context.Background(), []byte("k"), types.Response{})
	require.Equal(t, types.OutcomeStoreFailure, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrNotStarted)
}

func TestStartTwice(t *testing.T) {
	t.Parallel()

	tracker, _ := newTestTracker(t)
	assert.ErrorIs(t, tracker.Start(context.Background()), ErrAlreadyStarted)
}

func TestTrackInitOnFreshKey(t *testing.T) {
	t.Parallel()

	tracker, _ := newTestTracker(t)

	outcome := tracker.Track(context.Background(), []byte("order-1"), []byte("fp-1"))
	require.Equal(t, types.OutcomeInit, outcome.Kind)
	assert.Equal(t, []byte("order-1"), outcome.Key)
	assert.False(t, outcome.ExpiresAt.IsZero())
	assert.Equal(t, 1, tracker.InFlight())
}

func TestTrackInFlightSharesExpiry(t *testing.T) {
	t.Parallel()

	tracker, _ := newTestTracker(t)

	first := tracker.Track(context.Background(), []byte("order-2"), []byte("fp"))
	require.Equal(t, types.OutcomeInit, first.Kind)

	second := tracker.Track(context.Background(), []byte("order-2"), []byte("fp"))
	require.Equal(t, types.OutcomeInFlight, second.Kind)
	assert.NotEmpty(t, second.Owner)

	// The repeat caller observes the exact deadline set at creation.
	assert.True(t, first.ExpiresAt.Equal(second.ExpiresAt))
}

func TestCompleteAndReplay(t *testing.T) {
	t.Parallel()

	tracker, _ := newTestTracker(t)
	key := []byte("order-3")
	fp := []byte("fp")
	resp := types.Response{Status: 201, Body: []byte(`{"id":3}`)}

	require.Equal(t, types.OutcomeInit, tracker.Track(context.Background(), key, fp).Kind)

	done := tracker.Complete(context.Background(), key, resp)
	require.Equal(t, types.OutcomeCompleted, done.Kind)
	assert.Equal(t, 0, tracker.InFlight())

	replay := tracker.Track(context.Background(), key, fp)
	require.Equal(t, types.OutcomeCachedDone, replay.Kind)
	assert.Equal(t, resp.Status, replay.Response.Status)
	assert.Equal(t, resp.Body, replay.Response.Body)
}

func TestCompleteRefreshesExpiry(t *testing.T) {
	t.Parallel()

	tracker, _ := newTestTracker(t)
	key := []byte("order-4")

	first := tracker.Track(context.Background(), key, []byte("fp"))
	require.Equal(t, types.OutcomeInit, first.Kind)

	time.Sleep(5 * time.Millisecond)

	done := tracker.Complete(context.Background(), key, types.Response{Status: 200})
	require.Equal(t, types.OutcomeCompleted, done.Kind)
	assert.True(t, done.ExpiresAt.After(first.ExpiresAt))
}

func TestCompleteUnknownKey(t *testing.T) {
	t.Parallel()

	tracker, _ := newTestTracker(t)

	outcome := tracker.Complete(context.Background(), []byte("never-tracked"), types.Response{})
	assert.Equal(t, types.OutcomeNotFound, outcome.Kind)
}

func TestMismatchInEveryState(t *testing.T) {
	t.Parallel()

	tracker, _ := newTestTracker(t)
	other := []byte("different-fp")

	// Processing
	ctx, cancel := context.WithCancel(context.Background())
	require.Equal(t, types.OutcomeInit, tracker.Track(ctx, []byte("m-proc"), []byte("fp")).Kind)
	mismatch := tracker.Track(context.Background(), []byte("m-proc"), other)
	require.Equal(t, types.OutcomeMismatch, mismatch.Kind)
	assert.Equal(t, []byte("fp"), mismatch.StoredFingerprint)

	// Done
	require.Equal(t, types.OutcomeInit, tracker.Track(context.Background(), []byte("m-done"), []byte("fp")).Kind)
	require.Equal(t, types.OutcomeCompleted, tracker.Complete(context.Background(), []byte("m-done"), types.Response{}).Kind)
	assert.Equal(t, types.OutcomeMismatch, tracker.Track(context.Background(), []byte("m-done"), other).Kind)

	// Halted
	cancel()
	require.Eventually(t, func() bool {
		return tracker.Track(context.Background(), []byte("m-proc"), []byte("fp")).Kind == types.OutcomeCachedHalted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, types.OutcomeMismatch, tracker.Track(context.Background(), []byte("m-proc"), other).Kind)
}

func TestContextEndHaltsEntry(t *testing.T) {
	t.Parallel()

	tracker, _ := newTestTracker(t)
	key := []byte("crash-1")

	ctx, cancel := context.WithCancel(context.Background())
	require.Equal(t, types.OutcomeInit, tracker.Track(ctx, key, []byte("fp")).Kind)

	cancel()

	require.Eventually(t, func() bool {
		outcome := tracker.Track(context.Background(), key, []byte("fp"))

		return outcome.Kind == types.OutcomeCachedHalted
	}, 2*time.Second, 10*time.Millisecond)

	outcome := tracker.Track(context.Background(), key, []byte("fp"))
	require.Equal(t, types.OutcomeCachedHalted, outcome.Kind)
	assert.NotEmpty(t, outcome.Reason)
	assert.Equal(t, 0, tracker.InFlight())
}

func TestCompleteBeatsContextEnd(t *testing.T) {
	t.Parallel()

	tracker, _ := newTestTracker(t)
	key := []byte("finish-line")

	ctx, cancel := context.WithCancel(context.Background())
	require.Equal(t, types.OutcomeInit, tracker.Track(ctx, key, []byte("fp")).Kind)
	require.Equal(t, types.OutcomeCompleted, tracker.Complete(context.Background(), key, types.Response{Status: 200}).Kind)

	// Canceling after completion must not convert the entry to halted.
	cancel()
	time.Sleep(50 * time.Millisecond)

	outcome := tracker.Track(context.Background(), key, []byte("fp"))
	assert.Equal(t, types.OutcomeCachedDone, outcome.Kind)
}

func TestPruneAllowsFreshInit(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	cfg := TestConfig()
	cfg.TTL = 20 * time.Millisecond
	cfg.DisableAutoPrune = true

	tracker, err := NewTracker(&cfg, store)
	require.NoError(t, err)
	require.NoError(t, tracker.Start(context.Background()))
	t.Cleanup(func() { _ = tracker.Stop(context.Background()) })

	key := []byte("short-lived")
	require.Equal(t, types.OutcomeInit, tracker.Track(context.Background(), key, []byte("fp")).Kind)
	require.Equal(t, types.OutcomeCompleted, tracker.Complete(context.Background(), key, types.Response{}).Kind)

	time.Sleep(30 * time.Millisecond)

	removed, err := store.Prune(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// A pruned key behaves like a fresh one.
	outcome := tracker.Track(context.Background(), key, []byte("another-fp"))
	assert.Equal(t, types.OutcomeInit, outcome.Kind)
}

func TestConcurrentTrackExactlyOneInit(t *testing.T) {
	t.Parallel()

	tracker, _ := newTestTracker(t)
	key := []byte("contended")
	fp := []byte("fp")

	const callers = 16

	var wg sync.WaitGroup
	outcomes := make([]types.Outcome, callers)

	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = tracker.Track(context.Background(), key, fp)
		}()
	}
	wg.Wait()

	inits := 0
	for _, o := range outcomes {
		switch o.Kind {
		case types.OutcomeInit:
			inits++
		case types.OutcomeInFlight:
		default:
			t.Fatalf("unexpected outcome %v (err=%v)", o.Kind, o.Err)
		}
	}
	assert.Equal(t, 1, inits)
}

func TestStopHaltsInFlightEntries(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	cfg := TestConfig()
	tracker, err := NewTracker(&cfg, store)
	require.NoError(t, err)
	require.NoError(t, tracker.Start(context.Background()))

	key := []byte("abandoned")
	require.Equal(t, types.OutcomeInit, tracker.Track(context.Background(), key, []byte("fp")).Kind)

	require.NoError(t, tracker.Stop(context.Background()))

	entry, found, err := store.Lookup(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StateHalted, entry.State)
	assert.Equal(t, "tracker shut down before completion", entry.Reason)

	assert.ErrorIs(t, tracker.Stop(context.Background()), ErrNotStarted)
}

func TestScenarioRetryAfterCrash(t *testing.T) {
	t.Parallel()

	tracker, _ := newTestTracker(t)
	key := []byte("payment-77")
	fp := []byte("fp")

	// First attempt starts and crashes.
	ctx, cancel := context.WithCancel(context.Background())
	require.Equal(t, types.OutcomeInit, tracker.Track(ctx, key, fp).Kind)
	cancel()

	require.Eventually(t, func() bool {
		return tracker.Track(context.Background(), key, fp).Kind == types.OutcomeCachedHalted
	}, 2*time.Second, 10*time.Millisecond)

	// The halted entry stays terminal; a retry with the same key never
	// re-executes until the entry expires.
	for range 3 {
		assert.Equal(t, types.OutcomeCachedHalted, tracker.Track(context.Background(), key, fp).Kind)
	}
}

func TestDelayedHaltDoesNotOverwriteCompletion(t *testing.T) {
	t.Parallel()

	tracker, store := newTestTracker(t)
	key := []byte("late-halt")
	resp := types.Response{Status: 200, Body: []byte("done")}

	require.Equal(t, types.OutcomeInit, tracker.Track(context.Background(), key, []byte("fp")).Kind)
	require.Equal(t, types.OutcomeCompleted, tracker.Complete(context.Background(), key, resp).Kind)

	// A monitor goroutine can commit to the crash path before Complete's
	// Cancel and only acquire the tracker mutex afterwards. The late halt
	// must not overwrite the done entry.
	tracker.handleAbnormalTermination(key, "instance/dead", "execution context ended")

	outcome := tracker.Track(context.Background(), key, []byte("fp"))
	require.Equal(t, types.OutcomeCachedDone, outcome.Kind)
	assert.Equal(t, resp.Body, outcome.Response.Body)

	entry, found, err := store.Lookup(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StateDone, entry.State)
}

func TestCompleteDoesNotResurrectHaltedEntry(t *testing.T) {
	t.Parallel()

	tracker, store := newTestTracker(t)
	key := []byte("halted-first")

	ctx, cancel := context.WithCancel(context.Background())
	require.Equal(t, types.OutcomeInit, tracker.Track(ctx, key, []byte("fp")).Kind)
	cancel()

	require.Eventually(t, func() bool {
		return tracker.Track(context.Background(), key, []byte("fp")).Kind == types.OutcomeCachedHalted
	}, 2*time.Second, 10*time.Millisecond)

	// The halt won; a straggling Complete must not flip the entry to done.
	outcome := tracker.Complete(context.Background(), key, types.Response{Status: 200})
	require.Equal(t, types.OutcomeCachedHalted, outcome.Kind)
	assert.NotEmpty(t, outcome.Reason)

	assert.Equal(t, types.OutcomeCachedHalted, tracker.Track(context.Background(), key, []byte("fp")).Kind)

	entry, found, err := store.Lookup(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StateHalted, entry.State)
}

func TestCompleteTwiceKeepsFirstResponse(t *testing.T) {
	t.Parallel()

	tracker, _ := newTestTracker(t)
	key := []byte("double-complete")

	require.Equal(t, types.OutcomeInit, tracker.Track(context.Background(), key, []byte("fp")).Kind)

	first := tracker.Complete(context.Background(), key, types.Response{Status: 201, Body: []byte("first")})
	require.Equal(t, types.OutcomeCompleted, first.Kind)

	second := tracker.Complete(context.Background(), key, types.Response{Status: 500, Body: []byte("second")})
	require.Equal(t, types.OutcomeCompleted, second.Kind)
	assert.True(t, first.ExpiresAt.Equal(second.ExpiresAt))

	replay := tracker.Track(context.Background(), key, []byte("fp"))
	require.Equal(t, types.OutcomeCachedDone, replay.Kind)
	assert.Equal(t, []byte("first"), replay.Response.Body)
}

// conflictStore simulates another process winning the create race: Lookup
// misses until an insert conflict surfaces the other writer's entry.
type conflictStore struct {
	entry    types.Entry
	vanish   bool
	lookedUp int
	inserted int
}

func (s *conflictStore) Setup(context.Context) error { return nil }

func (s *conflictStore) Lookup(context.Context, []byte) (types.Entry, bool, error) {
	s.lookedUp++
	if s.lookedUp == 1 || s.vanish {
		return types.Entry{}, false, nil
	}

	return s.entry, true, nil
}

func (s *conflictStore) Insert(context.Context, []byte, types.Entry) error {
	s.inserted++

	return types.ErrAlreadyExists
}

func (s *conflictStore) Update(context.Context, []byte, types.Transition) error { return nil }

func (s *conflictStore) Prune(context.Context, time.Time) (int, error) { return 0, nil }

func (s *conflictStore) Name() string { return "conflict" }

func TestInsertConflictReportsOtherWriter(t *testing.T) {
	t.Parallel()

	expiresAt := time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond)
	store := &conflictStore{entry: types.Entry{
		State:       types.StateProcessing,
		Owner:       "other-instance/1234",
		Fingerprint: []byte("fp"),
		ExpiresAt:   expiresAt,
	}}

	cfg := TestConfig()
	cfg.DisableAutoPrune = true
	tracker, err := NewTracker(&cfg, store)
	require.NoError(t, err)
	require.NoError(t, tracker.Start(context.Background()))
	t.Cleanup(func() { _ = tracker.Stop(context.Background()) })

	outcome := tracker.Track(context.Background(), []byte("k"), []byte("fp"))
	require.Equal(t, types.OutcomeInFlight, outcome.Kind)
	assert.Equal(t, "other-instance/1234", outcome.Owner)
	assert.True(t, expiresAt.Equal(outcome.ExpiresAt))
	assert.Equal(t, 1, store.inserted)
}

func TestInsertConflictEntryVanished(t *testing.T) {
	t.Parallel()

	store := &conflictStore{vanish: true}

	cfg := TestConfig()
	cfg.DisableAutoPrune = true
	tracker, err := NewTracker(&cfg, store)
	require.NoError(t, err)
	require.NoError(t, tracker.Start(context.Background()))
	t.Cleanup(func() { _ = tracker.Stop(context.Background()) })

	// Conflict followed by a miss (the other writer's entry was pruned in
	// between) is surfaced, not retried.
	outcome := tracker.Track(context.Background(), []byte("k"), []byte("fp"))
	require.Equal(t, types.OutcomeStoreFailure, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, types.ErrAlreadyExists)
}

type failingStore struct {
	lookupErr error
	insertErr error
	updateErr error
}

func (s *failingStore) Setup(context.Context) error { return nil }

func (s *failingStore) Lookup(context.Context, []byte) (types.Entry, bool, error) {
	return types.Entry{}, false, s.lookupErr
}

func (s *failingStore) Insert(context.Context, []byte, types.Entry) error { return s.insertErr }

func (s *failingStore) Update(context.Context, []byte, types.Transition) error { return s.updateErr }

func (s *failingStore) Prune(context.Context, time.Time) (int, error) { return 0, nil }

func (s *failingStore) Name() string { return "failing" }

func TestStoreFailureSurfacesError(t *testing.T) {
	t.Parallel()

	ioErr := errors.New("connection reset")
	store := &failingStore{lookupErr: ioErr, updateErr: ioErr}
	cfg := TestConfig()
	cfg.DisableAutoPrune = true

	tracker, err := NewTracker(&cfg, store)
	require.NoError(t, err)
	require.NoError(t, tracker.Start(context.Background()))
	t.Cleanup(func() { _ = tracker.Stop(context.Background()) })

	outcome := tracker.Track(context.Background(), []byte("k"), []byte("f"))
	require.Equal(t, types.OutcomeStoreFailure, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ioErr)

	outcome = tracker.Complete(context.Background(), []byte("k"), types.Response{})
	require.Equal(t, types.OutcomeStoreFailure, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ioErr)
}

func TestHooksFire(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var hits, misses int

	hooks := types.Hooks{
		OnCacheMiss: func(_ context.Context, meta types.EventMeta) error {
			mu.Lock()
			defer mu.Unlock()
			misses++
			assert.Equal(t, "memory", meta.Store)

			return nil
		},
		OnCacheHit: func(_ context.Context, _ types.EventMeta) error {
			mu.Lock()
			defer mu.Unlock()
			hits++

			return nil
		},
	}

	tracker, _ := newTestTracker(t, WithHooks(&hooks))

	key := []byte("hooked")
	require.Equal(t, types.OutcomeInit, tracker.Track(context.Background(), key, []byte("fp")).Kind)
	require.Equal(t, types.OutcomeInFlight, tracker.Track(context.Background(), key, []byte("fp")).Kind)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return misses == 1 && hits == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMismatchIsNotACacheHit(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var hits int

	hooks := types.Hooks{
		OnCacheHit: func(_ context.Context, _ types.EventMeta) error {
			mu.Lock()
			defer mu.Unlock()
			hits++

			return nil
		},
	}

	tracker, _ := newTestTracker(t, WithHooks(&hooks))
	key := []byte("mismatched")

	require.Equal(t, types.OutcomeInit, tracker.Track(context.Background(), key, []byte("fp")).Kind)
	require.Equal(t, types.OutcomeMismatch, tracker.Track(context.Background(), key, []byte("other")).Kind)
	require.Equal(t, types.OutcomeInFlight, tracker.Track(context.Background(), key, []byte("fp")).Kind)

	// Only the matching repeat counts as a hit.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return hits == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits)
}
