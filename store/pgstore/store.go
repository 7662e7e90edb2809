// Package pgstore provides a Postgres store backend.
//
// Entries live in a relational table, so they are durable and safe to share
// between tracker instances across processes. The table's primary-key
// constraint enforces atomic insert-if-absent independently of any single
// tracker's serialization, which is what makes cross-process sharing sound.
//
// Schema migration tooling is out of scope; Setup only verifies the table
// exists. Schema returns the DDL for operators to feed their migration tool
// of choice.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danschultzer/idempotency-plug/types"
)

// DefaultTable is the table name used when none is configured.
const DefaultTable = "idempotency_entries"

// tableNamePattern restricts table names to plain (optionally
// schema-qualified) identifiers, since the name is interpolated into SQL.
var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

// Store is a Postgres implementation of types.Store.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

var _ types.Store = (*Store)(nil)

// New creates a new Postgres store.
//
// Parameters:
//   - pool: Connection pool; ownership stays with the caller
//   - table: Table name, or "" for DefaultTable
//
// Returns:
//   - *Store: Initialized store; call Setup before use
//
// Example:
//
//	pool, _ := pgxpool.New(ctx, os.Getenv("DATABASE_URL"))
//	store := pgstore.New(pool, "")
//	tracker, err := idemplug.NewTracker(&cfg, store)
func New(pool *pgxpool.Pool, table string) *Store {
	if table == "" {
		table = DefaultTable
	}

	return &Store{pool: pool, table: table}
}

// Schema returns the DDL for the store's table.
//
// Run it through your migration tooling before calling Setup.
func (s *Store) Schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    key         BYTEA PRIMARY KEY,
    state       SMALLINT NOT NULL,
    fingerprint BYTEA NOT NULL,
    owner       TEXT NOT NULL DEFAULT '',
    reason      TEXT NOT NULL DEFAULT '',
    response    JSONB,
    expires_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %s_expires_at_idx ON %s (expires_at);`,
		s.table, indexBase(s.table), s.table)
}

// Setup verifies the pool is usable and the table exists.
//
// Returns an error if the table name is malformed or the schema has not been
// migrated yet.
func (s *Store) Setup(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	if !tableNamePattern.MatchString(s.table) {
		return fmt.Errorf("invalid table name %q", s.table)
	}

	var reg *uint32
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass($1)::oid`, s.table).Scan(&reg); err != nil {
		return fmt.Errorf("failed to check table %s: %w", s.table, err)
	}
	if reg == nil {
		return fmt.Errorf("table %s does not exist; run the schema migration first", s.table)
	}

	return nil
}

// Lookup returns the entry for key, reporting whether it exists.
func (s *Store) Lookup(ctx context.Context, key []byte) (types.Entry, bool, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT state, fingerprint, owner, reason, response, expires_at
		FROM %s
		WHERE key = $1
	`, s.table), key)

	var (
		e        types.Entry
		state    int16
		respJSON []byte
	)
	if err := row.Scan(&state, &e.Fingerprint, &e.Owner, &e.Reason, &respJSON, &e.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Entry{}, false, nil
		}

		return types.Entry{}, false, fmt.Errorf("failed to look up entry: %w", err)
	}

	e.State = types.EntryState(state)
	e.ExpiresAt = e.ExpiresAt.UTC()
	if len(respJSON) > 0 {
		if err := json.Unmarshal(respJSON, &e.Response); err != nil {
			return types.Entry{}, false, fmt.Errorf("failed to decode cached response: %w", err)
		}
	}

	return e, true, nil
}

// Insert creates a new entry for key.
//
// The primary-key constraint makes this an atomic create-if-absent even when
// multiple processes share the table; a unique violation maps to
// types.ErrAlreadyExists.
func (s *Store) Insert(ctx context.Context, key []byte, entry types.Entry) error {
	respJSON, err := marshalResponse(entry.Response, entry.State)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, state, fingerprint, owner, reason, response, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.table),
		key,
		int16(entry.State),
		entry.Fingerprint,
		entry.Owner,
		entry.Reason,
		respJSON,
		entry.ExpiresAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return types.ErrAlreadyExists
		}

		return fmt.Errorf("failed to insert entry: %w", err)
	}

	return nil
}

// Update applies a terminal-state transition to an existing entry.
//
// The fingerprint column is deliberately not in the SET list.
func (s *Store) Update(ctx context.Context, key []byte, tr types.Transition) error {
	respJSON, err := marshalResponse(tr.Response, tr.State)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET state = $2, owner = '', reason = $3, response = $4, expires_at = $5
		WHERE key = $1
	`, s.table),
		key,
		int16(tr.State),
		tr.Reason,
		respJSON,
		tr.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrEntryNotFound
	}

	return nil
}

// Prune deletes all entries whose expiry has passed.
func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE expires_at < $1
	`, s.table), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune entries: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// Name returns the backend label.
func (s *Store) Name() string {
	return "postgres"
}

// marshalResponse encodes the cached response as JSONB, or NULL while the
// entry has no response yet.
func marshalResponse(r types.Response, state types.EntryState) ([]byte, error) {
	if state != types.StateDone {
		return nil, nil
	}

	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}

	return data, nil
}

// indexBase flattens a possibly schema-qualified table name into an
// identifier usable as an index-name prefix.
func indexBase(table string) string {
	base := make([]byte, 0, len(table))
	for i := 0; i < len(table); i++ {
		if table[i] == '.' {
			base = append(base, '_')
			continue
		}
		base = append(base, table[i])
	}

	return string(base)
}
