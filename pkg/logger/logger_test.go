package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/hydration-bot/pkg/config"
)

func TestLogger_JSONLevelAndMasking(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, config.LoggerConfig{Level: "info", Format: "json"}, config.SentryConfig{})

	l.Debug("hidden")
	l.Info("connected", slog.String("token", "123:abc"), slog.String("user", "bob"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &record))
	assert.Equal(t, "connected", record["msg"])
	assert.Equal(t, "***", record["token"])
	assert.Equal(t, "bob", record["user"])
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, config.LoggerConfig{Level: "error", Format: "text"}, config.SentryConfig{})

	l.Info("before")
	assert.Empty(t, buf.String())

	l.SetLevel("debug")
	l.Debug("after")
	assert.Contains(t, buf.String(), "after")
}

func TestMaskingHandler_WithAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewMaskingHandler(slog.NewJSONHandler(&buf, nil)))

	log.With(slog.String("password", "hunter2")).Info("x", slog.Group("db", slog.String("dsn", "postgres://u:p@h/db")))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "***", record["password"])
	assert.Equal(t, map[string]any{"dsn": "***"}, record["db"])
}

func TestCorrelationID(t *testing.T) {
	assert.Empty(t, CorrelationIDFromContext(context.Background()))

	ctx := WithCorrelationID(context.Background(), "abc")
	assert.Equal(t, "abc", CorrelationIDFromContext(ctx))

	generated := WithCorrelationID(context.Background(), "")
	assert.NotEmpty(t, CorrelationIDFromContext(generated))
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in       string
		expected slog.Level
	}{
		{in: "debug", expected: slog.LevelDebug},
		{in: "INFO", expected: slog.LevelInfo},
		{in: "warning", expected: slog.LevelWarn},
		{in: "error", expected: slog.LevelError},
		{in: "nonsense", expected: slog.LevelInfo},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, ParseLevel(tc.in), tc.in)
	}
}

func TestLogger_SentryFanoutKeepsStdout(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, config.LoggerConfig{Level: "info", Format: "text"}, config.SentryConfig{Enabled: true})

	l.Info("started")
	l.Error("failed", slog.String("secret", "s3"))

	assert.Contains(t, buf.String(), "started")
	assert.Contains(t, buf.String(), "failed")
	assert.NotContains(t, buf.String(), "s3")
}
