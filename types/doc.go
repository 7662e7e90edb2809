// Package types contains the core types and interfaces shared across the
// idempotency-plug library.
//
// Keeping these definitions in a leaf package allows internal components
// (monitor, pruner, store backends) to depend on them without importing the
// root idemplug package, avoiding import cycles. The root package re-exports
// the commonly used names as type aliases for convenience.
package types
