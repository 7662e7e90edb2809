package testing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danschultzer/idempotency-plug/types"
)

// StoreFactory creates a fresh, empty store for one conformance subtest.
// Setup has not been called on the returned store.
type StoreFactory func(t *testing.T) types.Store

// RunStoreConformance runs the behavioral contract every Store
// implementation must satisfy against stores produced by factory.
//
// The suite covers the five store operations plus the cross-cutting
// guarantees the tracker relies on: atomic insert-if-absent, fingerprint
// immutability across updates, millisecond-precision expiry round-trips,
// lookups that never evict, and prunes that only remove expired entries.
//
// Parameters:
//   - t: Testing context
//   - factory: Produces a fresh store per subtest
//
// Example:
//
//	func TestMemStoreConformance(t *testing.T) {
//	    plugtest.RunStoreConformance(t, func(t *testing.T) types.Store {
//	        return memstore.New()
//	    })
//	}
func RunStoreConformance(t *testing.T, factory StoreFactory) {
	t.Helper()

	setup := func(t *testing.T) types.Store {
		t.Helper()

		store := factory(t)
		require.NoError(t, store.Setup(context.Background()))

		return store
	}

	expiry := func(d time.Duration) time.Time {
		return time.Now().Add(d).UTC().Truncate(time.Millisecond)
	}

	t.Run("setup is idempotent", func(t *testing.T) {
		store := setup(t)
		assert.NoError(t, store.Setup(context.Background()))
	})

	t.Run("name is non-empty", func(t *testing.T) {
		store := setup(t)
		assert.NotEmpty(t, store.Name())
	})

	t.Run("lookup missing key", func(t *testing.T) {
		store := setup(t)

		_, found, err := store.Lookup(context.Background(), []byte("missing"))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("insert and lookup round-trip", func(t *testing.T) {
		store := setup(t)

		expiresAt := expiry(time.Minute)
		entry := types.Entry{
			State:       types.StateProcessing,
			Owner:       "worker-1/abc",
			Fingerprint: []byte{0x01, 0x02, 0xff},
			ExpiresAt:   expiresAt,
		}
		require.NoError(t, store.Insert(context.Background(), []byte("k1"), entry))

		got, found, err := store.Lookup(context.Background(), []byte("k1"))
		require.NoError(t, err)
		require.True(t, found)

		assert.Equal(t, types.StateProcessing, got.State)
		assert.Equal(t, "worker-1/abc", got.Owner)
		assert.Equal(t, []byte{0x01, 0x02, 0xff}, got.Fingerprint)
		assert.True(t, expiresAt.Equal(got.ExpiresAt), "expiry must round-trip exactly: want %v got %v", expiresAt, got.ExpiresAt)
	})

	t.Run("insert duplicate key", func(t *testing.T) {
		store := setup(t)

		entry := types.Entry{State: types.StateProcessing, Fingerprint: []byte("fp"), ExpiresAt: expiry(time.Minute)}
		require.NoError(t, store.Insert(context.Background(), []byte("dup"), entry))

		err := store.Insert(context.Background(), []byte("dup"), entry)
		assert.ErrorIs(t, err, types.ErrAlreadyExists)

		// The original entry is untouched.
		got, found, lookupErr := store.Lookup(context.Background(), []byte("dup"))
		require.NoError(t, lookupErr)
		require.True(t, found)
		assert.Equal(t, types.StateProcessing, got.State)
	})

	t.Run("binary-safe keys", func(t *testing.T) {
		store := setup(t)

		keyA := []byte{0x00, 0x01, 0xfe}
		keyB := []byte{0x00, 0x01, 0xff}

		require.NoError(t, store.Insert(context.Background(), keyA, types.Entry{
			State: types.StateProcessing, Fingerprint: []byte("a"), ExpiresAt: expiry(time.Minute),
		}))
		require.NoError(t, store.Insert(context.Background(), keyB, types.Entry{
			State: types.StateProcessing, Fingerprint: []byte("b"), ExpiresAt: expiry(time.Minute),
		}))

		gotA, found, err := store.Lookup(context.Background(), keyA)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte("a"), gotA.Fingerprint)

		gotB, found, err := store.Lookup(context.Background(), keyB)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte("b"), gotB.Fingerprint)
	})

	t.Run("update to done", func(t *testing.T) {
		store := setup(t)

		require.NoError(t, store.Insert(context.Background(), []byte("d1"), types.Entry{
			State:       types.StateProcessing,
			Owner:       "worker-1/abc",
			Fingerprint: []byte("fp"),
			ExpiresAt:   expiry(time.Minute),
		}))

		resp := types.Response{Status: 201, Header: map[string][]string{"Content-Type": {"application/json"}}, Body: []byte(`{"ok":true}`)}
		newExpiry := expiry(2 * time.Minute)
		require.NoError(t, store.Update(context.Background(), []byte("d1"), types.Transition{
			State:     types.StateDone,
			Response:  resp,
			ExpiresAt: newExpiry,
		}))

		got, found, err := store.Lookup(context.Background(), []byte("d1"))
		require.NoError(t, err)
		require.True(t, found)

		assert.Equal(t, types.StateDone, got.State)
		assert.Empty(t, got.Owner, "owner is cleared on terminal transition")
		assert.Equal(t, []byte("fp"), got.Fingerprint, "fingerprint is immutable")
		assert.Equal(t, resp.Status, got.Response.Status)
		assert.Equal(t, resp.Body, got.Response.Body)
		assert.Equal(t, []string{"application/json"}, got.Response.Header["Content-Type"])
		assert.True(t, newExpiry.Equal(got.ExpiresAt))
	})

	t.Run("update to halted", func(t *testing.T) {
		store := setup(t)

		require.NoError(t, store.Insert(context.Background(), []byte("h1"), types.Entry{
			State:       types.StateProcessing,
			Owner:       "worker-1/abc",
			Fingerprint: []byte("fp"),
			ExpiresAt:   expiry(time.Minute),
		}))

		require.NoError(t, store.Update(context.Background(), []byte("h1"), types.Transition{
			State:     types.StateHalted,
			Reason:    "owner terminated",
			ExpiresAt: expiry(time.Minute),
		}))

		got, found, err := store.Lookup(context.Background(), []byte("h1"))
		require.NoError(t, err)
		require.True(t, found)

		assert.Equal(t, types.StateHalted, got.State)
		assert.Equal(t, "owner terminated", got.Reason)
		assert.Equal(t, []byte("fp"), got.Fingerprint)
	})

	t.Run("update missing key", func(t *testing.T) {
		store := setup(t)

		err := store.Update(context.Background(), []byte("missing"), types.Transition{
			State:     types.StateHalted,
			ExpiresAt: expiry(time.Minute),
		})
		assert.ErrorIs(t, err, types.ErrEntryNotFound)
	})

	t.Run("lookup does not evict expired entries", func(t *testing.T) {
		store := setup(t)

		require.NoError(t, store.Insert(context.Background(), []byte("old"), types.Entry{
			State:       types.StateDone,
			Fingerprint: []byte("fp"),
			ExpiresAt:   expiry(-time.Minute),
		}))

		// Eviction belongs to Prune alone.
		_, found, err := store.Lookup(context.Background(), []byte("old"))
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("prune removes only expired entries", func(t *testing.T) {
		store := setup(t)

		require.NoError(t, store.Insert(context.Background(), []byte("expired-1"), types.Entry{
			State: types.StateDone, Fingerprint: []byte("fp"), ExpiresAt: expiry(-2 * time.Minute),
		}))
		require.NoError(t, store.Insert(context.Background(), []byte("expired-2"), types.Entry{
			State: types.StateHalted, Fingerprint: []byte("fp"), ExpiresAt: expiry(-time.Minute),
		}))
		require.NoError(t, store.Insert(context.Background(), []byte("live"), types.Entry{
			State: types.StateProcessing, Fingerprint: []byte("fp"), ExpiresAt: expiry(time.Hour),
		}))

		removed, err := store.Prune(context.Background(), time.Now())
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		_, found, err := store.Lookup(context.Background(), []byte("expired-1"))
		require.NoError(t, err)
		assert.False(t, found)

		_, found, err = store.Lookup(context.Background(), []byte("live"))
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("prune on empty store", func(t *testing.T) {
		store := setup(t)

		removed, err := store.Prune(context.Background(), time.Now())
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("insert after prune", func(t *testing.T) {
		store := setup(t)

		require.NoError(t, store.Insert(context.Background(), []byte("cycle"), types.Entry{
			State: types.StateDone, Fingerprint: []byte("fp-1"), ExpiresAt: expiry(-time.Minute),
		}))

		removed, err := store.Prune(context.Background(), time.Now())
		require.NoError(t, err)
		require.Equal(t, 1, removed)

		// The key is fully reusable after eviction.
		require.NoError(t, store.Insert(context.Background(), []byte("cycle"), types.Entry{
			State: types.StateProcessing, Fingerprint: []byte("fp-2"), ExpiresAt: expiry(time.Minute),
		}))

		got, found, err := store.Lookup(context.Background(), []byte("cycle"))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte("fp-2"), got.Fingerprint)
	})
}
