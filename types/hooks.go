package types

import (
	"context"
	"time"
)

// EventMeta carries the metadata delivered to observability hooks.
type EventMeta struct {
	// Key is the tracked key the event concerns.
	Key []byte

	// Fingerprint is the request fingerprint presented by the caller.
	Fingerprint []byte

	// Store is the backend label (Store.Name).
	Store string

	// ExpiresAt is the entry's eviction deadline at the time of the event.
	ExpiresAt time.Time
}

// Hooks defines callbacks for tracker observability events.
//
// All hooks are optional and called asynchronously in background goroutines
// to avoid blocking the tracker's serialized decision stream. Hooks receive
// the tracker's lifecycle context, which is cancelled during shutdown.
//
// Hook errors are logged but never fail tracker operations. Implementations
// should complete quickly, respect context cancellation, and tolerate being
// invoked concurrently.
type Hooks struct {
	// OnCacheHit is called when Track finds an existing entry for the key
	// under its stored fingerprint (in-flight, done, or halted). Fingerprint
	// mismatches do not count as hits.
	OnCacheHit func(ctx context.Context, meta EventMeta) error

	// OnCacheMiss is called when Track sees a key for the first time and
	// creates a fresh entry.
	OnCacheMiss func(ctx context.Context, meta EventMeta) error

	// OnPruned is called after each prune sweep that removed at least one
	// entry.
	OnPruned func(ctx context.Context, removed int) error
}
