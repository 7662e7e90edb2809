package types

import (
	"net/http"
	"time"
)

// EntryState represents the lifecycle state of a tracked entry.
//
// States follow a fixed progression:
//
//	StateProcessing → StateDone
//	StateProcessing → StateHalted
//
// Both StateDone and StateHalted are terminal. An entry is never resurrected
// to StateProcessing; once pruned, a fresh Track on the same key creates a
// brand-new entry.
type EntryState int

const (
	// StateProcessing indicates the original request is still in flight.
	StateProcessing EntryState = iota

	// StateDone indicates the request completed and its response is cached.
	StateDone

	// StateHalted indicates the owner terminated abnormally before completing.
	StateHalted
)

// String returns the string representation of the state.
func (s EntryState) String() string {
	switch s {
	case StateProcessing:
		return "Processing"
	case StateDone:
		return "Done"
	case StateHalted:
		return "Halted"
	default:
		return "Unknown"
	}
}

// Response is the opaque payload cached for a completed entry.
//
// The tracker never interprets it; the HTTP adapter replays it verbatim for
// duplicate requests.
type Response struct {
	// Status is the response status code.
	Status int `json:"status"`

	// Header holds the response headers to replay.
	Header http.Header `json:"header,omitempty"`

	// Body is the raw response body.
	Body []byte `json:"body,omitempty"`
}

// Entry is the per-key record of tracked state.
//
// The fingerprint is set once at creation and never changes for the life of
// the entry; a later operation carrying a different fingerprint is a
// mismatch, never a mutation.
type Entry struct {
	// State is the entry's lifecycle state. Exactly one of Owner, Reason and
	// Response is meaningful depending on the state.
	State EntryState

	// Owner labels the caller currently processing the request. Only
	// meaningful while State is StateProcessing, and used for diagnostics
	// only — never for ownership transfer.
	Owner string

	// Reason records why the entry was halted. Only meaningful once State is
	// StateHalted. Captured opaquely and stored verbatim.
	Reason string

	// Response is the cached payload. Only meaningful once State is StateDone.
	Response Response

	// Fingerprint is the digest of the request payload, immutable for the
	// life of the entry.
	Fingerprint []byte

	// ExpiresAt is the eviction deadline. Set at creation, refreshed exactly
	// once on the transition to a terminal state, never decreased.
	ExpiresAt time.Time
}

// Transition carries a terminal-state update applied to an existing entry.
//
// It deliberately omits the fingerprint: the Store contract forbids mutating
// it after creation.
type Transition struct {
	// State is the target state, StateDone or StateHalted.
	State EntryState

	// Reason is stored when State is StateHalted.
	Reason string

	// Response is stored when State is StateDone.
	Response Response

	// ExpiresAt is the refreshed eviction deadline.
	ExpiresAt time.Time
}
