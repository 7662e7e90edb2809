package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := NewSlog(slog.New(handler))

	logger.Debug("debug message", "k", "v")
	logger.Info("info message", "k", "v")
	logger.Warn("warn message", "k", "v")
	logger.Error("error message", "k", "v")

	out := buf.String()
	assert.Contains(t, out, "debug message")
	assert.Contains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
	assert.Contains(t, out, "k=v")
}

func TestNewSlogDefault(t *testing.T) {
	logger := NewSlogDefault()
	require.NotNil(t, logger)

	// Must not panic with an empty key-value list.
	assert.NotPanics(t, func() {
		logger.Info("message without fields")
	})
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()

	assert.NotPanics(t, func() {
		logger.Debug("msg")
		logger.Info("msg", "k", "v")
		logger.Warn("msg")
		logger.Error("msg", "err", assert.AnError)
	})
}
