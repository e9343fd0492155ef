package bot

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/hydration-bot/internal/bot/handlers"
	apperrors "github.com/Proton-105/hydration-bot/internal/errors"
	"github.com/Proton-105/hydration-bot/pkg/logger"
)

// RecoveryMiddleware turns handler panics into reported errors. Users never see them.
func RecoveryMiddleware(log *slog.Logger, errHandler *apperrors.Handler) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered in handler", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
					errHandler.Handle(handlers.ContextFrom(c), fmt.Errorf("panic recovered: %v", r))
					err = nil
				}
			}()

			return next(c)
		}
	}
}

// ErrorHandlingMiddleware reports handler failures and swallows them; command failures
// produce no reply.
func ErrorHandlingMiddleware(errHandler *apperrors.Handler) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			if err := next(c); err != nil {
				errHandler.Handle(handlers.ContextFrom(c), err)
			}
			return nil
		}
	}
}

// LoggingMiddleware logs each routed command with its correlation id.
func LoggingMiddleware(log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			start := time.Now()
			inv, _ := handlers.InvocationFrom(c)
			attrs := []any{
				slog.Int64("user_id", inv.User.Int64()),
				slog.String("command", inv.Command.String()),
				slog.String("arg", inv.Arg),
				slog.String("correlation_id", logger.CorrelationIDFromContext(handlers.ContextFrom(c))),
			}

			log.Info("handling command", attrs...)
			err := next(c)
			log.Info("handled command", append(attrs,
				slog.Duration("duration", time.Since(start)),
				slog.Any("error", err),
			)...)

			return err
		}
	}
}
