package handlers

import (
	"context"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/hydration-bot/internal/events"
)

// Handler processes a routed update.
type Handler func(c telebot.Context) error

// Middleware wraps handlers with additional behavior.
type Middleware func(Handler) Handler

const (
	invocationKey = "invocation"
	contextKey    = "request_context"
)

// SetInvocation stores the parsed command on the update context.
func SetInvocation(c telebot.Context, inv events.Invocation) {
	c.Set(invocationKey, inv)
}

// InvocationFrom returns the command parsed by the router.
func InvocationFrom(c telebot.Context) (events.Invocation, bool) {
	if c == nil {
		return events.Invocation{}, false
	}
	inv, ok := c.Get(invocationKey).(events.Invocation)
	return inv, ok
}

// SetContext attaches a request-scoped context (correlation id) to the update.
func SetContext(c telebot.Context, ctx context.Context) {
	c.Set(contextKey, ctx)
}

// ContextFrom returns the request context, or context.Background when none was attached.
func ContextFrom(c telebot.Context) context.Context {
	if c != nil {
		if ctx, ok := c.Get(contextKey).(context.Context); ok && ctx != nil {
			return ctx
		}
	}
	return context.Background()
}
