package types

import "errors"

// Sentinel errors for store implementations.
//
// Backends map their native conditions onto these sentinels so the tracker
// can distinguish expected coordination conditions from genuine I/O failures
// using errors.Is. Wrap with fmt.Errorf("...: %w", err) to add context.
var (
	// ErrAlreadyExists is returned by Insert when the key is already present.
	// Expected under multi-process store sharing: the tracker absorbs it and
	// re-reads the entry instead of surfacing an error.
	ErrAlreadyExists = errors.New("entry already exists")

	// ErrEntryNotFound is returned by Update when the key is absent
	// (never tracked, or already pruned).
	ErrEntryNotFound = errors.New("entry not found")
)
