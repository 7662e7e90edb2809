package idemplug

import "errors"

// Sentinel errors returned by the Tracker.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStoreRequired is returned when the store is nil.
	ErrStoreRequired = errors.New("store is required")

	// ErrAlreadyStarted is returned when Start is called on an already running tracker.
	ErrAlreadyStarted = errors.New("tracker already started")

	// ErrNotStarted is returned when operations require a started tracker.
	ErrNotStarted = errors.New("tracker not started")
)
