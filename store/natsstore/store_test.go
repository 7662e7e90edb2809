package natsstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugtest "github.com/danschultzer/idempotency-plug/testing"
	"github.com/danschultzer/idempotency-plug/types"
)

func TestNATSStoreConformance(t *testing.T) {
	_, nc := plugtest.StartEmbeddedNATS(t)

	// Each subtest gets its own bucket on the shared embedded server.
	var seq atomic.Int32
	plugtest.RunStoreConformance(t, func(t *testing.T) types.Store {
		return New(nc, fmt.Sprintf("conformance-%d", seq.Add(1)))
	})
}

func TestDefaultBucketName(t *testing.T) {
	_, nc := plugtest.StartEmbeddedNATS(t)

	store := New(nc, "")
	assert.Equal(t, "idempotency-entries", store.Bucket())
	require.NoError(t, store.Setup(context.Background()))
}

func TestOperationsBeforeSetup(t *testing.T) {
	_, nc := plugtest.StartEmbeddedNATS(t)

	store := New(nc, "unset")

	_, _, err := store.Lookup(context.Background(), []byte("k"))
	assert.Error(t, err)

	err = store.Insert(context.Background(), []byte("k"), types.Entry{})
	assert.Error(t, err)
}

func TestEntrySurvivesReconnectToBucket(t *testing.T) {
	_, nc := plugtest.StartEmbeddedNATS(t)

	first := New(nc, "shared-bucket")
	require.NoError(t, first.Setup(context.Background()))

	expiresAt := time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond)
	require.NoError(t, first.Insert(context.Background(), []byte("k"), types.Entry{
		State:       types.StateProcessing,
		Owner:       "instance-a/1234",
		Fingerprint: []byte("fp"),
		ExpiresAt:   expiresAt,
	}))

	// A second store instance over the same bucket sees the entry, the way a
	// restarted process would.
	second := New(nc, "shared-bucket")
	require.NoError(t, second.Setup(context.Background()))

	got, found, err := second.Lookup(context.Background(), []byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "instance-a/1234", got.Owner)
	assert.Equal(t, []byte("fp"), got.Fingerprint)
	assert.True(t, expiresAt.Equal(got.ExpiresAt))
}

func TestCrossInstanceInsertConflict(t *testing.T) {
	_, nc := plugtest.StartEmbeddedNATS(t)

	a := New(nc, "conflict-bucket")
	require.NoError(t, a.Setup(context.Background()))
	b := New(nc, "conflict-bucket")
	require.NoError(t, b.Setup(context.Background()))

	entry := types.Entry{
		State:       types.StateProcessing,
		Fingerprint: []byte("fp"),
		ExpiresAt:   time.Now().Add(time.Minute),
	}

	require.NoError(t, a.Insert(context.Background(), []byte("k"), entry))
	assert.ErrorIs(t, b.Insert(context.Background(), []byte("k"), entry), types.ErrAlreadyExists)
}
