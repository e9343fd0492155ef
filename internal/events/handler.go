// Package events turns gateway events and commands into registry and lifecycle actions.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/hydration-bot/internal/domain"
	apperrors "github.com/Proton-105/hydration-bot/internal/errors"
	"github.com/Proton-105/hydration-bot/internal/journal"
	"github.com/Proton-105/hydration-bot/pkg/logger"
	"github.com/Proton-105/hydration-bot/pkg/metrics"
)

// ShuttingDownText acknowledges an accepted quit command.
const ShuttingDownText = "Shutting down!"

// PresenceTracker records join and leave events.
type PresenceTracker interface {
	MarkPresent(user domain.UserID)
	MarkAbsent(user domain.UserID)
}

// Reminders manages reminder opt-ins.
type Reminders interface {
	OptIn(user domain.UserID, now time.Time) string
	OptOut(user domain.UserID) string
}

// Shutdowner requests process shutdown.
type Shutdowner interface {
	RequestShutdown() bool
}

// Deps groups the collaborators of a Handler.
type Deps struct {
	Presence  PresenceTracker
	Reminders Reminders
	Shutdown  Shutdowner
	Owners    []domain.UserID
	Prefix    string
	Journal   journal.Recorder
	// JournalTimeout bounds each journal write; zero means journal.DefaultWriteTimeout.
	JournalTimeout time.Duration
	ErrHandler     *apperrors.Handler
	Now            func() time.Time
}

// Handler reacts to gateway events.
type Handler struct {
	presence   PresenceTracker
	reminders  Reminders
	shutdown   Shutdowner
	owners     map[domain.UserID]struct{}
	prefix     string
	journal    journal.Recorder
	errHandler *apperrors.Handler
	now        func() time.Time
	log        *slog.Logger
}

// NewHandler builds a Handler from deps.
func NewHandler(deps Deps, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		presence:   deps.Presence,
		reminders:  deps.Reminders,
		shutdown:   deps.Shutdown,
		owners:     make(map[domain.UserID]struct{}, len(deps.Owners)),
		prefix:     deps.Prefix,
		journal:    journal.Bounded(deps.Journal, deps.JournalTimeout),
		errHandler: deps.ErrHandler,
		now:        deps.Now,
		log:        log,
	}
	for _, owner := range deps.Owners {
		h.owners[owner] = struct{}{}
	}
	if h.now == nil {
		h.now = time.Now
	}

	return h
}

// Prefix returns the command prefix.
func (h *Handler) Prefix() string {
	return h.prefix
}

// UsageText is the reply to a drate command with an unknown argument.
func (h *Handler) UsageText() string {
	return fmt.Sprintf("Unknown argument. Usage: `%sdrate [on|off]`", h.prefix)
}

// IsOwner reports whether user may run owner-only commands.
func (h *Handler) IsOwner(user domain.UserID) bool {
	_, ok := h.owners[user]
	return ok
}

func (h *Handler) OnConnected(name string) {
	h.log.Info("connected", slog.String("name", name))
}

func (h *Handler) OnResumed() {
	h.log.Info("resumed")
}

// OnPresenceChanged marks the user present when joined is true and absent otherwise.
func (h *Handler) OnPresenceChanged(user domain.UserID, joined bool) {
	if joined {
		h.presence.MarkPresent(user)
		h.log.Info("user joined", slog.Int64("user_id", user.Int64()))
	} else {
		h.presence.MarkAbsent(user)
		h.log.Info("user left", slog.Int64("user_id", user.Int64()))
	}
	metrics.RecordPresenceEvent(joined)
}

// OnCommand executes inv and returns the reply to send, if any. Owner-only commands from
// anyone else are reported and produce no reply.
func (h *Handler) OnCommand(ctx context.Context, inv Invocation) (string, bool) {
	if inv.Command.OwnerOnly() && !h.IsOwner(inv.User) {
		h.errHandler.Handle(ctx, apperrors.NewAuthorizationError(inv.User, inv.Command.String()))
		return "", false
	}

	switch inv.Command {
	case CommandDrate:
		return h.drate(ctx, inv), true
	case CommandQuit:
		return h.quit(ctx, inv), true
	default:
		return "", false
	}
}

func (h *Handler) drate(ctx context.Context, inv Invocation) string {
	switch inv.Arg {
	case "", "on":
		now := h.now()
		reply := h.reminders.OptIn(inv.User, now)
		h.record(ctx, journal.Event{User: inv.User, Kind: journal.KindOptIn, OccurredAt: now})
		return reply
	case "off":
		reply := h.reminders.OptOut(inv.User)
		h.record(ctx, journal.Event{User: inv.User, Kind: journal.KindOptOut, OccurredAt: h.now()})
		return reply
	default:
		return h.UsageText()
	}
}

func (h *Handler) quit(ctx context.Context, inv Invocation) string {
	h.log.Info("quit requested by owner",
		slog.Int64("user_id", inv.User.Int64()),
		slog.String("correlation_id", logger.CorrelationIDFromContext(ctx)),
	)
	h.shutdown.RequestShutdown()

	return ShuttingDownText
}

func (h *Handler) record(ctx context.Context, event journal.Event) {
	if err := h.journal.Record(ctx, event); err != nil {
		h.log.Warn("failed to journal command",
			slog.Int64("user_id", event.User.Int64()),
			slog.String("kind", string(event.Kind)),
			slog.Any("error", err),
		)
	}
}
