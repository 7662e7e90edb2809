// Package monitor provides liveness monitoring for in-flight tracked keys.
//
// Each first-seen key is associated with the context of the caller that
// created its Processing entry. If that context ends before the caller
// completes the request (client disconnect, handler panic unwinding the
// request, process shutdown), the monitor invokes the termination callback
// exactly once so the tracker can convert the entry to its Halted state.
// A normal completion cancels the association without firing.
//
// # Exactly-Once Delivery
//
// The watch goroutine only fires after removing its own association under
// the monitor mutex. Cancel and Close remove associations the same way, so
// a race between caller termination and completion resolves to exactly one
// of "callback fired" or "association silently removed", never both.
//
// # Association Lifecycle
//
//	Watch(ctx, key, owner)  → one active association per key
//	Cancel(key)             → removed, callback never fires
//	ctx ends                → callback fires once, association removed
//	Close()                 → all associations removed, remaining ones returned
package monitor
