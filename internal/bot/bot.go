// Package bot adapts Telegram (telebot.v3) to the event handler: it turns updates into
// presence and command events and delivers reminders over private chats.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/hydration-bot/internal/bot/handlers"
	"github.com/Proton-105/hydration-bot/internal/domain"
	apperrors "github.com/Proton-105/hydration-bot/internal/errors"
	"github.com/Proton-105/hydration-bot/internal/events"
	"github.com/Proton-105/hydration-bot/internal/idempotency"
	"github.com/Proton-105/hydration-bot/internal/middleware"
	"github.com/Proton-105/hydration-bot/pkg/config"
	"github.com/Proton-105/hydration-bot/pkg/logger"
)

const (
	PresenceMembership = "membership"
	PresenceChatMember = "chat_member"
)

// ErrDegraded is reported by HealthCheck while the update stream is failing.
var ErrDegraded = errors.New("telegram connection degraded")

// Deps groups the collaborators of a Bot.
type Deps struct {
	Events         *events.Handler
	ErrHandler     *apperrors.Handler
	RateLimit      *middleware.RateLimitMiddleware
	Idempotency    idempotency.Manager
	IdempotencyTTL time.Duration
}

// Bot wraps telebot.Bot with the routing and lifecycle the event handler needs.
type Bot struct {
	telebot    *telebot.Bot
	cfg        config.BotConfig
	log        *slog.Logger
	events     *events.Handler
	errHandler *apperrors.Handler
	router     *Router
	messenger  *Messenger

	degraded atomic.Bool

	mu        sync.Mutex
	accepting bool
	started   bool
	stopped   bool
	drainers  []func()
	inflight  sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// New connects to Telegram and builds a bot configured according to cfg.
func New(cfg config.BotConfig, log *slog.Logger, deps Deps) (*Bot, error) {
	poller := &telebot.LongPoller{Timeout: cfg.PollTimeout}
	if cfg.PresenceSource == PresenceChatMember {
		poller.AllowedUpdates = []string{"message", "chat_member"}
	}

	return newBot(telebot.Settings{
		URL:    cfg.APIURL,
		Token:  cfg.Token,
		Poller: poller,
		// Long polls hold the request for PollTimeout, so every call gets that much on top.
		Client: &http.Client{Timeout: cfg.PollTimeout + cfg.RequestTimeout},
	}, cfg, log, deps)
}

func newBot(settings telebot.Settings, cfg config.BotConfig, log *slog.Logger, deps Deps) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Events == nil {
		return nil, errors.New("bot requires an event handler")
	}

	b := &Bot{
		cfg:        cfg,
		log:        log.With(slog.String("component", "telegram")),
		events:     deps.Events,
		errHandler: deps.ErrHandler,
		accepting:  true,
		done:       make(chan struct{}),
	}

	settings.OnError = b.onError
	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}
	b.telebot = tb
	b.messenger = NewMessenger(tb)

	b.router = NewRouter(deps.Events.Prefix(), b.log)
	b.router.Use(RecoveryMiddleware(b.log, b.errHandler))
	b.router.Use(ErrorHandlingMiddleware(b.errHandler))
	b.router.Use(LoggingMiddleware(b.log))
	b.router.Use(middleware.Metrics)
	if deps.RateLimit != nil {
		b.router.Use(deps.RateLimit.Handle)
	}
	b.router.Use(middleware.Idempotency(deps.Idempotency, deps.IdempotencyTTL, b.log))

	commandHandler := newCommandHandler(deps.Events)
	b.router.RegisterCommand(events.CommandDrate, commandHandler)
	b.router.RegisterCommand(events.CommandQuit, commandHandler)

	b.registerTelebotHandlers()

	return b, nil
}

func (b *Bot) registerTelebotHandlers() {
	b.telebot.Use(b.gate)

	b.telebot.Handle(telebot.OnText, b.router.Route)

	switch b.cfg.PresenceSource {
	case PresenceChatMember:
		b.telebot.Handle(telebot.OnChatMember, b.onChatMember)
	default:
		b.telebot.Handle(telebot.OnUserJoined, b.onUserJoined)
		b.telebot.Handle(telebot.OnUserLeft, b.onUserLeft)
	}
}

// Messenger returns the reminder delivery channel backed by this bot.
func (b *Bot) Messenger() *Messenger {
	return b.messenger
}

// OnDrain registers fn to run after event intake stopped and before the connection closes.
func (b *Bot) OnDrain(fn func()) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainers = append(b.drainers, fn)
}

// Start reports the connection and polls updates until StopAll is called.
func (b *Bot) Start() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	defer b.closeDone()

	name := ""
	if b.telebot.Me != nil {
		name = b.telebot.Me.Username
	}
	b.events.OnConnected(name)

	b.telebot.Start()
}

// StopAll stops accepting updates, waits for in-flight handlers and drain hooks, then
// disconnects. Safe to call more than once.
func (b *Bot) StopAll() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.accepting = false
	started := b.started
	drainers := append([]func(){}, b.drainers...)
	b.mu.Unlock()

	b.log.Info("telegram intake stopped, draining")
	b.inflight.Wait()
	for _, drain := range drainers {
		drain()
	}

	if started {
		b.telebot.Stop()
	} else {
		b.closeDone()
	}
	b.log.Info("telegram bot stopped")
}

// Wait blocks until polling has ended.
func (b *Bot) Wait() {
	<-b.done
}

// HealthCheck fails while the update stream reports errors.
func (b *Bot) HealthCheck(context.Context) error {
	if b.telebot == nil || b.telebot.Me == nil {
		return errors.New("telegram bot is not initialized")
	}
	if b.degraded.Load() {
		return ErrDegraded
	}
	return nil
}

func (b *Bot) closeDone() {
	b.closeOnce.Do(func() { close(b.done) })
}

// gate admits updates while the bot is accepting them, tracks them for draining, reports
// recovery after connection errors and attaches a correlation id.
func (b *Bot) gate(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		b.mu.Lock()
		if !b.accepting {
			b.mu.Unlock()
			return nil
		}
		b.inflight.Add(1)
		b.mu.Unlock()
		defer b.inflight.Done()

		if b.degraded.CompareAndSwap(true, false) {
			b.events.OnResumed()
		}

		handlers.SetContext(c, logger.WithCorrelationID(context.Background(), ""))
		return next(c)
	}
}

func (b *Bot) onError(err error, c telebot.Context) {
	if c == nil {
		if !b.degraded.Swap(true) {
			b.log.Warn("telegram update stream failing", slog.Any("error", err))
		}
		return
	}

	b.errHandler.Handle(handlers.ContextFrom(c), err)
}

func (b *Bot) onUserJoined(c telebot.Context) error {
	msg := c.Message()
	if msg == nil {
		return nil
	}

	if len(msg.UsersJoined) > 0 {
		for i := range msg.UsersJoined {
			b.presenceChanged(&msg.UsersJoined[i], true)
		}
		return nil
	}

	b.presenceChanged(msg.UserJoined, true)
	return nil
}

func (b *Bot) onUserLeft(c telebot.Context) error {
	if msg := c.Message(); msg != nil {
		b.presenceChanged(msg.UserLeft, false)
	}
	return nil
}

func (b *Bot) onChatMember(c telebot.Context) error {
	upd := c.ChatMember()
	if upd == nil || upd.NewChatMember == nil {
		return nil
	}

	b.presenceChanged(upd.NewChatMember.User, isPresentMember(upd.NewChatMember))
	return nil
}

func (b *Bot) presenceChanged(user *telebot.User, joined bool) {
	if user == nil {
		return
	}
	if b.cfg.SkipBots && user.IsBot {
		return
	}
	if b.telebot.Me != nil && user.ID == b.telebot.Me.ID {
		return
	}

	b.events.OnPresenceChanged(domain.UserID(user.ID), joined)
}

func isPresentMember(m *telebot.ChatMember) bool {
	switch m.Role {
	case telebot.Creator, telebot.Administrator, telebot.Member:
		return true
	case telebot.Restricted:
		return m.Member
	default:
		return false
	}
}
