// Package testing provides test utilities for the idempotency-plug library.
//
// This package offers helpers for setting up test environments: an embedded
// NATS server for natsstore integration tests, a testing.T-backed logger,
// and a store conformance suite every Store implementation should pass. It
// follows Go's convention of providing testing utilities in a dedicated
// package (similar to net/http/httptest).
//
// Example usage:
//
//	import (
//	    "testing"
//	    plugtest "github.com/danschultzer/idempotency-plug/testing"
//	)
//
//	func TestMyStore(t *testing.T) {
//	    plugtest.RunStoreConformance(t, func(t *testing.T) types.Store {
//	        return mystore.New()
//	    })
//	}
package testing
