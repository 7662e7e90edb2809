package hooks

import (
	"context"

	"github.com/danschultzer/idempotency-plug/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnCacheHit:  h.OnCacheHit,
		OnCacheMiss: h.OnCacheMiss,
		OnPruned:    h.OnPruned,
	}
}

// OnCacheHit is a no-op implementation.
func (h *NopHooks) OnCacheHit(_ context.Context, _ types.EventMeta) error {
	return nil
}

// OnCacheMiss is a no-op implementation.
func (h *NopHooks) OnCacheMiss(_ context.Context, _ types.EventMeta) error {
	return nil
}

// OnPruned is a no-op implementation.
func (h *NopHooks) OnPruned(_ context.Context, _ int) error {
	return nil
}
