// Package logger builds the application's structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Proton-105/hydration-bot/pkg/config"
)

// Logger bundles the slog logger with the handles needed to reconfigure and close it.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	file  *lumberjack.Logger
}

// New creates a logger writing to stdout and, when configured, to a rotating file.
// Error records are also forwarded to Sentry when sentryCfg is enabled; the caller
// is responsible for sentry.Init.
func New(cfg config.LoggerConfig, sentryCfg config.SentryConfig) *Logger {
	return newLogger(os.Stdout, cfg, sentryCfg)
}

func newLogger(stdout io.Writer, cfg config.LoggerConfig, sentryCfg config.SentryConfig) *Logger {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))

	l := &Logger{level: level}

	var out io.Writer = stdout
	if cfg.File.Enabled && cfg.File.Path != "" {
		l.file = &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		out = io.MultiWriter(stdout, l.file)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	if sentryCfg.Enabled {
		handler = slogmulti.Fanout(handler, SentryHandler(nil))
	}

	l.Logger = slog.New(NewMaskingHandler(handler))
	return l
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level string) {
	if l == nil || l.level == nil {
		return
	}
	l.level.Set(ParseLevel(level))
}

// Close releases the rotating file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps debug, info, warn and error to slog levels; anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SentryHandler forwards error records to Sentry through hub, or the current hub when nil.
func SentryHandler(hub *sentry.Hub) slog.Handler {
	return slogsentry.Option{Level: slog.LevelError, Hub: hub, AddSource: true}.NewSentryHandler()
}
