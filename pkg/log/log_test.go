package log

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
}

func TestSetup(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	Setup("debug")
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))

	Setup("unknown")
	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelInfo))
}

func TestNew_Format(t *testing.T) {
	var buf bytes.Buffer

	New(&buf, "warn", "json").Warn("journey published", "journey_id", "morning")
	assert.Contains(t, buf.String(), `"journey_id":"morning"`)

	buf.Reset()
	New(&buf, "warn").Info("dropped")
	assert.Empty(t, buf.String())

	New(&buf, "WARN", "text").Warn("kept", "run_id", "r-1")
	assert.Contains(t, buf.String(), "run_id=r-1")
}
