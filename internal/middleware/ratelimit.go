package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/hydration-bot/internal/bot/handlers"
	"github.com/Proton-105/hydration-bot/internal/domain"
	apperrors "github.com/Proton-105/hydration-bot/internal/errors"
	"github.com/Proton-105/hydration-bot/internal/ratelimit"
)

// RateLimitedText is sent instead of running a throttled command.
const RateLimitedText = "Rate limit exceeded. Try again later."

// RateLimitMiddleware enforces per-user command rate limits.
type RateLimitMiddleware struct {
	limiter    ratelimit.Limiter
	rules      *ratelimit.Rules
	errHandler *apperrors.Handler
	log        *slog.Logger
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, errHandler *apperrors.Handler, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter:    limiter,
		rules:      rules,
		errHandler: errHandler,
		log:        log,
	}
}

// Handle returns a router middleware that enforces per-user rate limits.
func (m *RateLimitMiddleware) Handle(next handlers.Handler) handlers.Handler {
	return func(c telebot.Context) error {
		if m == nil || m.limiter == nil || m.rules == nil {
			return next(c)
		}

		sender := c.Sender()
		if sender == nil {
			return next(c)
		}

		user := domain.UserID(sender.ID)
		if m.rules.IsWhitelisted(user) {
			return next(c)
		}

		ctx := handlers.ContextFrom(c)
		limit, window := m.rules.PerUserLimit()
		result, err := m.limiter.Check(ctx, fmt.Sprintf("user:%d", sender.ID), limit, window)
		switch {
		case err == nil:
			return next(c)
		case errors.Is(err, ratelimit.ErrLimitExceeded):
			retryAfter := 0
			if result != nil {
				retryAfter = int(math.Ceil(time.Until(result.ResetAt).Seconds()))
			}
			m.errHandler.Handle(ctx, apperrors.NewRateLimitError(retryAfter))
			return c.Send(RateLimitedText)
		default:
			m.log.Warn("rate limiter error", slog.Int64("user_id", sender.ID), slog.Any("error", err))
			return next(c)
		}
	}
}
