// Package memstore provides an in-process store backend.
//
// Entries live in a concurrent map, so the backend is fast and needs no
// external service, but is not durable and cannot be shared across
// processes. Use store/pgstore for multi-process deployments.
package memstore

import (
	"context"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/danschultzer/idempotency-plug/types"
)

// Store is an in-process implementation of types.Store.
//
// Safe for concurrent use: the tracker's decision stream and the pruner's
// sweeps may touch the map at the same time. Insert-if-absent atomicity comes
// from the map's LoadOrStore; updates and expiry-checked deletes use Compute.
type Store struct {
	entries *xsync.Map[string, types.Entry]
}

var _ types.Store = (*Store)(nil)

// New creates a new in-process store.
//
// Returns:
//   - *Store: Initialized store, ready for use without Setup
//
// Example:
//
//	store := memstore.New()
//	tracker, err := idemplug.NewTracker(&cfg, store)
func New() *Store {
	return &Store{
		entries: xsync.NewMap[string, types.Entry](),
	}
}

// Setup is a no-op; the map needs no preparation.
func (s *Store) Setup(_ context.Context) error {
	return nil
}

// Lookup returns the entry for key, reporting whether it exists.
func (s *Store) Lookup(_ context.Context, key []byte) (types.Entry, bool, error) {
	e, ok := s.entries.Load(string(key))
	if !ok {
		return types.Entry{}, false, nil
	}

	return cloneEntry(e), true, nil
}

// Insert creates a new entry for key, or returns types.ErrAlreadyExists.
func (s *Store) Insert(_ context.Context, key []byte, entry types.Entry) error {
	_, loaded := s.entries.LoadOrStore(string(key), cloneEntry(entry))
	if loaded {
		return types.ErrAlreadyExists
	}

	return nil
}

// Update applies a terminal-state transition to an existing entry.
func (s *Store) Update(_ context.Context, key []byte, tr types.Transition) error {
	var found bool
	s.entries.Compute(string(key), func(old types.Entry, loaded bool) (types.Entry, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		found = true

		// The fingerprint is immutable; only state and expiry change.
		old.State = tr.State
		old.Owner = ""
		old.Reason = tr.Reason
		old.Response = cloneResponse(tr.Response)
		old.ExpiresAt = tr.ExpiresAt

		return old, xsync.UpdateOp
	})

	if !found {
		return types.ErrEntryNotFound
	}

	return nil
}

// Prune deletes all entries whose expiry has passed.
func (s *Store) Prune(_ context.Context, now time.Time) (int, error) {
	var expired []string
	s.entries.Range(func(k string, e types.Entry) bool {
		if e.ExpiresAt.Before(now) {
			expired = append(expired, k)
		}

		return true
	})

	removed := 0
	for _, k := range expired {
		// Re-check under the map's per-key lock: a terminal transition may
		// have refreshed the expiry since the scan.
		s.entries.Compute(k, func(old types.Entry, loaded bool) (types.Entry, xsync.ComputeOp) {
			if !loaded || !old.ExpiresAt.Before(now) {
				return old, xsync.CancelOp
			}
			removed++

			return old, xsync.DeleteOp
		})
	}

	return removed, nil
}

// Name returns the backend label.
func (s *Store) Name() string {
	return "memory"
}

// Len returns the number of stored entries. Intended for tests and
// diagnostics.
func (s *Store) Len() int {
	return s.entries.Size()
}

// cloneEntry deep-copies an entry so callers never alias stored slices.
func cloneEntry(e types.Entry) types.Entry {
	e.Fingerprint = append([]byte(nil), e.Fingerprint...)
	e.Response = cloneResponse(e.Response)

	return e
}

func cloneResponse(r types.Response) types.Response {
	r.Body = append([]byte(nil), r.Body...)
	if r.Header != nil {
		h := make(http.Header, len(r.Header))
		for k, vs := range r.Header {
			h[k] = append([]string(nil), vs...)
		}
		r.Header = h
	}

	return r
}
