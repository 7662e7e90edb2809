// Package natsstore provides a NATS JetStream KeyValue store backend.
//
// This is a drop-in alternative backend for deployments that already run
// NATS: kv.Create gives the atomic create-if-absent the Store contract
// requires, so multiple tracker instances can safely share one bucket.
//
// The bucket is created without a TTL. Per-entry expiry is refreshed on the
// terminal transition, which a bucket-level TTL cannot express, so eviction
// is owned by the pruner like every other backend.
package natsstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/danschultzer/idempotency-plug/internal/kvutil"
	"github.com/danschultzer/idempotency-plug/types"
)

// DefaultBucket is the bucket name used when none is configured.
const DefaultBucket = "idempotency-entries"

// Store is a NATS JetStream KV implementation of types.Store.
type Store struct {
	conn   *nats.Conn
	bucket string
	kv     jetstream.KeyValue
}

var _ types.Store = (*Store)(nil)

// wireEntry is the JSON representation stored in the bucket.
type wireEntry struct {
	State       types.EntryState `json:"state"`
	Fingerprint []byte           `json:"fingerprint"`
	Owner       string           `json:"owner,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Response    *types.Response  `json:"response,omitempty"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// New creates a new NATS KV store.
//
// Parameters:
//   - conn: NATS connection; ownership stays with the caller
//   - bucket: Bucket name, or "" for DefaultBucket
//
// Returns:
//   - *Store: Initialized store; call Setup before use
//
// Example:
//
//	nc, _ := nats.Connect(nats.DefaultURL)
//	store := natsstore.New(nc, "")
//	tracker, err := idemplug.NewTracker(&cfg, store)
func New(conn *nats.Conn, bucket string) *Store {
	if bucket == "" {
		bucket = DefaultBucket
	}

	return &Store{conn: conn, bucket: bucket}
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// Setup creates or opens the backing bucket.
func (s *Store) Setup(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("nil NATS connection")
	}

	js, err := jetstream.New(s.conn)
	if err != nil {
		return fmt.Errorf("failed to create jetstream context: %w", err)
	}

	kv, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:  s.bucket,
		History: 1, // Keep only latest value
	}, 5)
	if err != nil {
		return fmt.Errorf("failed to ensure KV bucket: %w", err)
	}

	s.kv = kv

	return nil
}

// Lookup returns the entry for key, reporting whether it exists.
func (s *Store) Lookup(ctx context.Context, key []byte) (types.Entry, bool, error) {
	if s.kv == nil {
		return types.Entry{}, false, errors.New("store not set up")
	}

	kvEntry, err := s.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return types.Entry{}, false, nil
		}

		return types.Entry{}, false, fmt.Errorf("failed to look up entry: %w", err)
	}

	e, err := decodeEntry(kvEntry.Value())
	if err != nil {
		return types.Entry{}, false, err
	}

	return e, true, nil
}

// Insert creates a new entry for key.
//
// kv.Create is atomic create-if-absent at the JetStream level, so the
// already-exists condition is reliable across processes sharing the bucket.
func (s *Store) Insert(ctx context.Context, key []byte, entry types.Entry) error {
	if s.kv == nil {
		return errors.New("store not set up")
	}

	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	if _, err := s.kv.Create(ctx, encodeKey(key), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return types.ErrAlreadyExists
		}

		return fmt.Errorf("failed to insert entry: %w", err)
	}

	return nil
}

// Update applies a terminal-state transition to an existing entry.
//
// The stored fingerprint is carried over unchanged; the revision check keeps
// a concurrent prune of the same key from resurrecting it.
func (s *Store) Update(ctx context.Context, key []byte, tr types.Transition) error {
	if s.kv == nil {
		return errors.New("store not set up")
	}

	k := encodeKey(key)
	kvEntry, err := s.kv.Get(ctx, k)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return types.ErrEntryNotFound
		}

		return fmt.Errorf("failed to read entry for update: %w", err)
	}

	e, err := decodeEntry(kvEntry.Value())
	if err != nil {
		return err
	}

	e.State = tr.State
	e.Owner = ""
	e.Reason = tr.Reason
	e.Response = tr.Response
	e.ExpiresAt = tr.ExpiresAt

	data, err := encodeEntry(e)
	if err != nil {
		return err
	}

	if _, err := s.kv.Update(ctx, k, data, kvEntry.Revision()); err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}

	return nil
}

// Prune deletes all entries whose expiry has passed.
//
// JetStream KV has no secondary index, so the sweep lists keys and reads
// each entry. Deletes are revision-guarded so an entry refreshed between the
// read and the delete survives.
func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	if s.kv == nil {
		return 0, errors.New("store not set up")
	}

	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if isNoKeysFound(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	removed := 0
	for k := range lister.Keys() {
		kvEntry, err := s.kv.Get(ctx, k)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}

			return removed, fmt.Errorf("failed to read entry during prune: %w", err)
		}

		e, err := decodeEntry(kvEntry.Value())
		if err != nil {
			return removed, err
		}
		if !e.ExpiresAt.Before(now) {
			continue
		}

		err = s.kv.Delete(ctx, k, jetstream.LastRevision(kvEntry.Revision()))
		if err != nil {
			// Revision moved on: the entry was refreshed concurrently.
			continue
		}
		removed++
	}

	return removed, nil
}

// Name returns the backend label.
func (s *Store) Name() string {
	return "nats"
}

// encodeKey hex-encodes the opaque binary key into the character set
// JetStream KV accepts.
func encodeKey(key []byte) string {
	return hex.EncodeToString(key)
}

func encodeEntry(e types.Entry) ([]byte, error) {
	w := wireEntry{
		State:       e.State,
		Fingerprint: e.Fingerprint,
		Owner:       e.Owner,
		Reason:      e.Reason,
		ExpiresAt:   e.ExpiresAt,
	}
	if e.State == types.StateDone {
		resp := e.Response
		w.Response = &resp
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry: %w", err)
	}

	return data, nil
}

func decodeEntry(data []byte) (types.Entry, error) {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return types.Entry{}, fmt.Errorf("failed to decode entry: %w", err)
	}

	e := types.Entry{
		State:       w.State,
		Fingerprint: w.Fingerprint,
		Owner:       w.Owner,
		Reason:      w.Reason,
		ExpiresAt:   w.ExpiresAt,
	}
	if w.Response != nil {
		e.Response = *w.Response
	}

	return e, nil
}

// isNoKeysFound matches the "no keys found" condition, which may arrive
// wrapped.
func isNoKeysFound(err error) bool {
	return errors.Is(err, jetstream.ErrNoKeysFound)
}
