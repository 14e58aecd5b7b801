package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
)

func TestLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, Config{Level: "info", Format: "json"})
	logger.WithComponent(Component("ledger")).Info("conflict recorded", slog.String("type", "post"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "conflict recorded", line["msg"])
	assert.Equal(t, "ledger", line["component"])
	assert.Equal(t, "post", line["type"])

	buf.Reset()
	text := NewLoggerWithWriter(&buf, Config{Level: "debug", Format: "text"})
	text.Debug("replay pass", slog.Int("due", 2))
	assert.Contains(t, buf.String(), "replay pass")
	assert.Contains(t, buf.String(), "due=2")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, Config{Level: "warn", Format: "text"})
	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestLogErrorRendersSyncError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, Config{Level: "debug", Format: "json"})

	syncErr := errors.NewNotFoundError(errors.OpLoad, fmt.Errorf("conflict c1")).WithMetadata("conflict_id", "c1")
	logger.LogError(context.Background(), fmt.Errorf("wrapped: %w", syncErr), "resolution failed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	group, ok := line["sync_error"].(map[string]any)
	require.True(t, ok, "sync_error group missing: %s", buf.String())
	assert.Equal(t, "NOT_FOUND", group["code"])
	assert.Equal(t, false, group["retryable"])
	assert.Contains(t, line, "caller")
}

func TestLogOperationReturnsError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, Config{Level: "debug", Format: "text"})

	err := logger.LogOperation(context.Background(), Operation("replay"), Component("syncqueue"), func() error {
		return fmt.Errorf("remote offline")
	})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "operation failed")

	buf.Reset()
	require.NoError(t, logger.LogOperation(context.Background(), Operation("replay"), Component("syncqueue"), func() error { return nil }))
	assert.Contains(t, buf.String(), "operation completed")
}

func TestContextIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, Config{Level: "info", Format: "text"})

	ctx := ContextWithConflictID(context.Background(), "c42")
	ctx = ContextWithRequestID(ctx, "req-1")
	logger.WithContext(ctx).Info("resolving")

	out := buf.String()
	assert.True(t, strings.Contains(out, "conflict_id=c42"), out)
	assert.True(t, strings.Contains(out, "request_id=req-1"), out)
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_ADD_SOURCE", "")

	cfg := GetConfigFromEnv(DefaultConfig)
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.True(t, cfg.AddSource)
}

func TestDiscard(t *testing.T) {
	l := OrDiscard(nil)
	require.NotNil(t, l)
	l.Error("nobody hears this")
}
