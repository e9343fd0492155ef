package bot

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/hydration-bot/internal/bot/handlers"
	"github.com/Proton-105/hydration-bot/internal/events"
)

// newCommandHandler forwards a routed command to the event handler and sends its reply.
func newCommandHandler(h *events.Handler) handlers.Handler {
	return func(c telebot.Context) error {
		inv, ok := handlers.InvocationFrom(c)
		if !ok {
			return nil
		}

		reply, ok := h.OnCommand(handlers.ContextFrom(c), inv)
		if !ok {
			return nil
		}

		return c.Send(reply)
	}
}
