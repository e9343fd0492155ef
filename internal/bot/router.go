package bot

import (
	"log/slog"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/hydration-bot/internal/bot/handlers"
	"github.com/Proton-105/hydration-bot/internal/domain"
	"github.com/Proton-105/hydration-bot/internal/events"
)

// Router parses prefixed text messages and dispatches known commands through the middleware chain.
type Router struct {
	mu          sync.RWMutex
	prefix      string
	commands    map[events.Command]handlers.Handler
	middlewares []handlers.Middleware
	log         *slog.Logger
}

// NewRouter builds a Router for commands starting with prefix.
func NewRouter(prefix string, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		prefix:   prefix,
		commands: make(map[events.Command]handlers.Handler),
		log:      log,
	}
}

// RegisterCommand registers a handler for a command.
func (r *Router) RegisterCommand(cmd events.Command, h handlers.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd] = h
}

// Use appends a middleware to the chain. The first middleware added runs outermost.
func (r *Router) Use(mw handlers.Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, mw)
}

// Route handles a text update. Text that is not a known command is ignored.
func (r *Router) Route(c telebot.Context) error {
	if c == nil || c.Sender() == nil {
		return nil
	}

	inv, ok := events.ParseInvocation(c.Text(), r.prefix, domain.UserID(c.Sender().ID))
	if !ok {
		return nil
	}

	handler := r.getCommandHandler(inv.Command)
	if handler == nil {
		r.log.Debug("no handler registered for command", slog.String("command", inv.Command.String()))
		return nil
	}

	handlers.SetInvocation(c, inv)
	return r.applyMiddlewares(handler)(c)
}

func (r *Router) getCommandHandler(cmd events.Command) handlers.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands[cmd]
}

// applyMiddlewares wraps the handler with all registered middlewares.
func (r *Router) applyMiddlewares(h handlers.Handler) handlers.Handler {
	r.mu.RLock()
	middlewares := append([]handlers.Middleware(nil), r.middlewares...)
	r.mu.RUnlock()

	wrapped := h
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}

	return wrapped
}
