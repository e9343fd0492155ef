package middleware

import (
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/hydration-bot/internal/bot/handlers"
	"github.com/Proton-105/hydration-bot/pkg/metrics"
)

// Metrics measures execution time and status for command handlers, reporting them to Prometheus.
func Metrics(next handlers.Handler) handlers.Handler {
	if next == nil {
		return nil
	}

	return func(c telebot.Context) error {
		start := time.Now()
		err := next(c)

		status := "ok"
		if err != nil {
			status = "error"
		}

		metrics.RecordCommand(commandName(c), status, time.Since(start))

		return err
	}
}

func commandName(c telebot.Context) string {
	if inv, ok := handlers.InvocationFrom(c); ok {
		return inv.Command.String()
	}
	return "unknown"
}
