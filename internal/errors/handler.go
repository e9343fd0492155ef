package errors

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Proton-105/hydration-bot/pkg/logger"
	"github.com/Proton-105/hydration-bot/pkg/metrics"
)

// Handler reports errors that are not returned to a caller: per-user delivery failures,
// rejected commands and handler errors. High and critical errors are logged at error
// level, which is the level the logger forwards to Sentry; everything else is a warning.
type Handler struct {
	log *slog.Logger
}

// NewHandler builds a Handler logging through log.
func NewHandler(log *slog.Logger) *Handler {
	return &Handler{log: log}
}

// As extracts the AppError wrapped by err.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return nil, false
}

// Handle logs err, records it in metrics and forwards severe errors to Sentry.
// It reports whether the error is retryable.
func (h *Handler) Handle(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	code, severity, retryable := "unknown", SeverityHigh, false
	msg := "unknown error"
	if appErr, ok := As(err); ok {
		code, severity, retryable = appErr.Code, appErr.Severity, appErr.Retryable
		msg = "application error"
	}

	attrs := []slog.Attr{
		slog.String("code", code),
		slog.Any("error", err),
		slog.String("severity", string(severity)),
		slog.Bool("retryable", retryable),
	}
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}

	h.logger().LogAttrs(ctx, logLevel(severity), msg, attrs...)
	metrics.RecordError(code, string(severity))

	return retryable
}

func (h *Handler) logger() *slog.Logger {
	if h == nil || h.log == nil {
		return slog.Default()
	}
	return h.log
}

func logLevel(severity Severity) slog.Level {
	switch severity {
	case SeverityHigh, SeverityCritical:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
