package types

import "time"

// OutcomeKind identifies the variant of an Outcome.
type OutcomeKind int

const (
	// OutcomeInit indicates a first-seen key; the caller is now the executor
	// and must later call Complete (or be deemed crashed).
	OutcomeInit OutcomeKind = iota

	// OutcomeInFlight indicates the key is already being processed elsewhere.
	OutcomeInFlight

	// OutcomeMismatch indicates the key was reused with a different request
	// fingerprint, regardless of the entry's state.
	OutcomeMismatch

	// OutcomeCachedHalted indicates the original owner terminated abnormally.
	OutcomeCachedHalted

	// OutcomeCachedDone indicates the request already completed; the cached
	// response should be replayed.
	OutcomeCachedDone

	// OutcomeCompleted indicates Complete stored the response successfully.
	OutcomeCompleted

	// OutcomeNotFound indicates Complete was called on an untracked or
	// already pruned key.
	OutcomeNotFound

	// OutcomeStoreFailure indicates the backing store reported an I/O error.
	// The error is surfaced verbatim and never retried internally.
	OutcomeStoreFailure
)

// String returns the string representation of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeInit:
		return "Init"
	case OutcomeInFlight:
		return "InFlight"
	case OutcomeMismatch:
		return "Mismatch"
	case OutcomeCachedHalted:
		return "CachedHalted"
	case OutcomeCachedDone:
		return "CachedDone"
	case OutcomeCompleted:
		return "Completed"
	case OutcomeNotFound:
		return "NotFound"
	case OutcomeStoreFailure:
		return "StoreFailure"
	default:
		return "Unknown"
	}
}

// Outcome is the closed result variant returned by Track and Complete.
//
// Kind selects the variant; the remaining fields are populated per variant:
//
//	Init         → Key, ExpiresAt
//	InFlight     → Owner, ExpiresAt
//	Mismatch     → StoredFingerprint, ExpiresAt
//	CachedHalted → Reason, ExpiresAt
//	CachedDone   → Response, ExpiresAt
//	Completed    → ExpiresAt
//	NotFound     → (no fields)
//	StoreFailure → Err
type Outcome struct {
	// Kind selects the variant.
	Kind OutcomeKind

	// Key is the tracked key (Init).
	Key []byte

	// Owner labels the caller currently processing (InFlight).
	Owner string

	// StoredFingerprint is the fingerprint recorded at creation (Mismatch).
	StoredFingerprint []byte

	// Reason is the recorded abnormal-termination reason (CachedHalted).
	Reason string

	// Response is the cached payload (CachedDone).
	Response Response

	// ExpiresAt is the entry's current eviction deadline.
	ExpiresAt time.Time

	// Err is the underlying store error (StoreFailure).
	Err error
}
