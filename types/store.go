package types

import (
	"context"
	"time"
)

// Store is the pluggable persistence contract consumed by the tracker and
// the pruner.
//
// Implementations must be safe for concurrent use: the pruner sweeps
// concurrently with the tracker's serialized decision stream.
//
// Insert must be an atomic create-if-absent. This is the one property a
// shared backend (e.g. Postgres) must enforce independently of the tracker's
// own serialization, because multiple tracker instances across processes may
// share one store. A unique-key constraint is the usual mechanism.
//
// Any I/O error from the backing medium is returned as-is; stores never
// retry internally.
type Store interface {
	// Setup prepares the backing table or bucket. It fails if the store is
	// misconfigured or the schema is absent.
	Setup(ctx context.Context) error

	// Lookup returns the entry for key, reporting whether it exists.
	Lookup(ctx context.Context, key []byte) (Entry, bool, error)

	// Insert creates a new entry for key. It returns ErrAlreadyExists if the
	// key is already present.
	Insert(ctx context.Context, key []byte, entry Entry) error

	// Update applies a terminal-state transition to an existing entry,
	// leaving the fingerprint untouched. It returns ErrEntryNotFound if the
	// key is absent.
	Update(ctx context.Context, key []byte, tr Transition) error

	// Prune deletes all entries whose expiry has passed, returning how many
	// were removed.
	Prune(ctx context.Context, now time.Time) (int, error)

	// Name returns a short backend label used in logs, metrics and hook
	// metadata (e.g. "memory", "postgres", "nats").
	Name() string
}
