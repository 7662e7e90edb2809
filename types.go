package idemplug

import "github.com/danschultzer/idempotency-plug/types"

// Re-export types from the types package.
//
// This file provides a stable, convenient public API for the library's core
// types and interfaces. It uses type aliases to re-export definitions from
// the `types` subpackage, which contains the actual implementations.
//
// This pattern lets internal packages depend on `types` without depending on
// the root package, while users still get `idemplug.Outcome`,
// `idemplug.Store`, etc.
type (
	Entry      = types.Entry
	EntryState = types.EntryState
	Transition = types.Transition
	Response   = types.Response
	Outcome    = types.Outcome
	EventMeta  = types.EventMeta
)

// Re-export interfaces from the types package for convenience.
type (
	Store            = types.Store
	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
	Hooks            = types.Hooks
)

// Re-export entry-state constants from the types package.
const (
	StateProcessing = types.StateProcessing
	StateDone       = types.StateDone
	StateHalted     = types.StateHalted
)

// OutcomeKind is re-exported for switch statements over Track results.
type OutcomeKind = types.OutcomeKind

// Re-export outcome-kind constants from the types package.
const (
	OutcomeInit         = types.OutcomeInit
	OutcomeInFlight     = types.OutcomeInFlight
	OutcomeMismatch     = types.OutcomeMismatch
	OutcomeCachedHalted = types.OutcomeCachedHalted
	OutcomeCachedDone   = types.OutcomeCachedDone
	OutcomeCompleted    = types.OutcomeCompleted
	OutcomeNotFound     = types.OutcomeNotFound
	OutcomeStoreFailure = types.OutcomeStoreFailure
)
