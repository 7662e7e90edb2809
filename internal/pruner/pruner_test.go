package pruner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danschultzer/idempotency-plug/internal/logging"
	"github.com/danschultzer/idempotency-plug/internal/metrics"
	"github.com/danschultzer/idempotency-plug/types"
)

// countingStore implements types.Store, counting Prune calls.
type countingStore struct {
	pruneCalls atomic.Int64
	pruneCount int
	pruneErr   error
}

func (s *countingStore) Setup(_ context.Context) error { return nil }

func (s *countingStore) Lookup(_ context.Context, _ []byte) (types.Entry, bool, error) {
	return types.Entry{}, false, nil
}

func (s *countingStore) Insert(_ context.Context, _ []byte, _ types.Entry) error { return nil }

func (s *countingStore) Update(_ context.Context, _ []byte, _ types.Transition) error { return nil }

func (s *countingStore) Prune(_ context.Context, _ time.Time) (int, error) {
	s.pruneCalls.Add(1)
	return s.pruneCount, s.pruneErr
}

func (s *countingStore) Name() string { return "counting" }

func TestPruner_SweepsPeriodically(t *testing.T) {
	store := &countingStore{pruneCount: 2}
	p := New(store, 20*time.Millisecond, time.Second, logging.NewNop(), metrics.NewNop())

	var notified atomic.Int64
	p.SetOnPruned(func(removed int) {
		if removed == 2 {
			notified.Add(1)
		}
	})

	require.NoError(t, p.Start(context.Background()))

	require.Eventually(t, func() bool {
		return store.pruneCalls.Load() >= 2 && notified.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Stop())
}

func TestPruner_LifecycleErrors(t *testing.T) {
	store := &countingStore{}
	p := New(store, time.Hour, time.Second, logging.NewNop(), metrics.NewNop())

	assert.ErrorIs(t, p.Stop(), ErrNotStarted)

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, p.Stop())
	assert.ErrorIs(t, p.Stop(), ErrNotStarted)
}

func TestPruner_ContinuesAfterStoreError(t *testing.T) {
	store := &countingStore{pruneErr: assert.AnError}
	p := New(store, 20*time.Millisecond, time.Second, logging.NewNop(), metrics.NewNop())

	var notified atomic.Int64
	p.SetOnPruned(func(int) { notified.Add(1) })

	require.NoError(t, p.Start(context.Background()))

	require.Eventually(t, func() bool {
		return store.pruneCalls.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	// Failed sweeps never invoke the callback.
	assert.Equal(t, int64(0), notified.Load())

	require.NoError(t, p.Stop())
}
