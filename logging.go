package idemplug

import (
	"log/slog"

	"github.com/danschultzer/idempotency-plug/internal/logging"
	"github.com/danschultzer/idempotency-plug/types"
)

// NewSlogLogger adapts a *slog.Logger to the Logger interface. Passing nil
// uses slog.Default().
func NewSlogLogger(logger *slog.Logger) types.Logger {
	if logger == nil {
		return logging.NewSlogDefault()
	}

	return logging.NewSlog(logger)
}

// NewNopLogger returns a logger that discards everything. This is the
// default when no WithLogger option is given.
func NewNopLogger() types.Logger {
	return logging.NewNop()
}
