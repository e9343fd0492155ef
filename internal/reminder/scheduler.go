package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Proton-105/hydration-bot/internal/domain"
	apperrors "github.com/Proton-105/hydration-bot/internal/errors"
	"github.com/Proton-105/hydration-bot/internal/journal"
	"github.com/Proton-105/hydration-bot/pkg/logger"
	"github.com/Proton-105/hydration-bot/pkg/metrics"
)

const (
	DefaultTick            = time.Second
	DefaultThreshold       = 30 * time.Minute
	DefaultDeliveryTimeout = 10 * time.Second
	DefaultConcurrency     = 4
)

var (
	// ErrAlreadyStarted is returned by Start when the scheduler has left the idle state.
	ErrAlreadyStarted = errors.New("reminder scheduler already started")
	// ErrGatewayUnavailable marks messenger errors caused by the gateway itself rather than
	// the recipient. Only these count against the delivery circuit breaker.
	ErrGatewayUnavailable = errors.New("chat gateway unavailable")
)

// Channel is a private conversation with a single user.
type Channel interface {
	Send(ctx context.Context, text string, readAloud bool) error
}

// Messenger opens private channels on the chat gateway.
type Messenger interface {
	OpenPrivateChannel(ctx context.Context, user domain.UserID) (Channel, error)
}

// ShutdownSignal is the process-wide stop flag observed at the top of every tick.
type ShutdownSignal interface {
	Stopped() bool
	Done() <-chan struct{}
}

// PresenceChecker answers whether a user is currently present.
type PresenceChecker interface {
	IsPresent(user domain.UserID) bool
}

// Payload is the fixed reminder sent to every due user.
type Payload struct {
	Text      string
	ReadAloud bool
}

// SchedulerConfig tunes the sweep loop.
type SchedulerConfig struct {
	Tick            time.Duration
	Threshold       time.Duration
	Payload         Payload
	DeliveryTimeout time.Duration
	Concurrency     int
	Retry           apperrors.RetryPolicy
	// JournalTimeout bounds each journal write made after a delivery.
	JournalTimeout time.Duration
	// OnlyPresent restricts reminders to users the presence checker reports as present.
	OnlyPresent bool
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.JournalTimeout <= 0 {
		c.JournalTimeout = journal.DefaultWriteTimeout
	}
	return c
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithJournal records delivery outcomes, each write bounded by JournalTimeout.
func WithJournal(recorder journal.Recorder) Option {
	return func(s *Scheduler) {
		if recorder != nil {
			s.journal = journal.Bounded(recorder, s.cfg.JournalTimeout)
		}
	}
}

// WithPresence sets the checker consulted when OnlyPresent is enabled.
func WithPresence(presence PresenceChecker) Option {
	return func(s *Scheduler) { s.presence = presence }
}

// WithErrorHandler reports delivery failures through h.
func WithErrorHandler(h *apperrors.Handler) Option {
	return func(s *Scheduler) { s.errHandler = h }
}

// NewDeliveryBreaker returns a breaker that trips only on gateway-wide failures, so
// recipients who blocked the bot cannot cut off everyone else.
func NewDeliveryBreaker() *apperrors.CircuitBreaker {
	return apperrors.NewCircuitBreakerWithSettings(apperrors.BreakerSettings{
		IsFailure: IsGatewayFailure,
	})
}

// IsGatewayFailure reports whether err was caused by the gateway being unavailable.
func IsGatewayFailure(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler periodically sweeps the reminder registry and delivers reminders to due users.
type Scheduler struct {
	registry  *Registry
	messenger Messenger
	signal    ShutdownSignal
	cfg       SchedulerConfig
	log       *slog.Logger

	presence   PresenceChecker
	journal    journal.Recorder
	errHandler *apperrors.Handler
	breaker    *apperrors.CircuitBreaker
	now        func() time.Time

	threshold atomic.Int64
	ticks     atomic.Uint64

	mu    sync.Mutex
	state State
	done  chan struct{}
}

// NewScheduler returns an idle scheduler. Call Start to launch the loop.
func NewScheduler(registry *Registry, messenger Messenger, signal ShutdownSignal, cfg SchedulerConfig, log *slog.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = slog.Default()
	}

	cfg = cfg.withDefaults()
	s := &Scheduler{
		registry:  registry,
		messenger: messenger,
		signal:    signal,
		cfg:       cfg,
		log:       log.With(slog.String("component", "reminder_scheduler")),
		journal:   journal.Noop{},
		breaker:   NewDeliveryBreaker(),
		now:       time.Now,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
	s.threshold.Store(int64(cfg.Threshold))

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start moves the scheduler to running and launches the sweep loop.
func (s *Scheduler) Start() error {
	if err := s.transition(StateRunning); err != nil {
		if errors.Is(err, errInvalidTransition) {
			return ErrAlreadyStarted
		}
		return err
	}

	s.log.Info("reminder scheduler started",
		slog.Duration("tick", s.cfg.Tick),
		slog.Duration("threshold", s.Threshold()),
		slog.Bool("only_present", s.cfg.OnlyPresent),
	)

	go s.run()
	return nil
}

// Wait blocks until the loop has exited. It returns immediately for a scheduler that was never started.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	idle := s.state == StateIdle
	s.mu.Unlock()
	if idle {
		return
	}
	<-s.done
}

// Done is closed once the scheduler reaches StateStopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle phase.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ticks returns the number of completed sweeps.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}

// Threshold returns the current reminder threshold.
func (s *Scheduler) Threshold() time.Duration {
	return time.Duration(s.threshold.Load())
}

// SetThreshold changes the threshold used by subsequent sweeps. Non-positive values are ignored.
func (s *Scheduler) SetThreshold(threshold time.Duration) {
	if threshold <= 0 {
		return
	}
	if old := time.Duration(s.threshold.Swap(int64(threshold))); old != threshold {
		s.log.Info("reminder threshold changed", slog.Duration("from", old), slog.Duration("to", threshold))
	}
}

var errInvalidTransition = errors.New("invalid scheduler state transition")

func (s *Scheduler) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !IsTransitionAllowed(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", errInvalidTransition, s.state, to)
	}
	s.state = to
	return nil
}

func (s *Scheduler) run() {
	defer s.finish()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		if s.signal.Stopped() {
			_ = s.transition(StateStopping)
			return
		}

		s.tick()

		select {
		case <-s.signal.Done():
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) finish() {
	if err := s.transition(StateStopped); err != nil {
		s.log.Error("unexpected scheduler state on exit", slog.Any("error", err))
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
	}
	close(s.done)
	s.log.Info("reminder scheduler stopped", slog.Uint64("ticks", s.Ticks()))
}

func (s *Scheduler) tick() {
	start := time.Now()
	ctx := logger.WithCorrelationID(context.Background(), "")

	var eligible func(domain.UserID) bool
	if s.cfg.OnlyPresent && s.presence != nil {
		eligible = s.presence.IsPresent
	}

	due := s.registry.SweepWhere(s.now(), s.Threshold(), eligible)
	if len(due) > 0 {
		s.log.Debug("reminder sweep selected users",
			slog.Int("count", len(due)),
			slog.String("correlation_id", logger.CorrelationIDFromContext(ctx)),
		)

		p := pool.New().WithMaxGoroutines(s.cfg.Concurrency)
		for _, user := range due {
			user := user
			p.Go(func() {
				s.deliver(ctx, user)
			})
		}
		p.Wait()
	}

	s.ticks.Add(1)
	metrics.RecordSweep(time.Since(start))
}

func (s *Scheduler) deliver(ctx context.Context, user domain.UserID) {
	err := apperrors.WithRetry(ctx, s.cfg.Retry, func() error {
		return s.breaker.Call(func() error {
			return s.attempt(ctx, user)
		})
	})

	result := classifyDelivery(err)
	metrics.RecordDelivery(result)

	event := journal.Event{User: user, Kind: journal.KindDelivered, Detail: result, OccurredAt: s.now()}
	if err != nil {
		event.Kind = journal.KindDeliveryFailed
		if apperrors.IsRejection(err) {
			s.log.Warn("reminder delivery rejected by circuit breaker",
				slog.Int64("user_id", user.Int64()),
				slog.String("correlation_id", logger.CorrelationIDFromContext(ctx)),
			)
		} else {
			s.errHandler.Handle(ctx, err)
		}
	}

	if jerr := s.journal.Record(ctx, event); jerr != nil {
		s.log.Warn("failed to journal reminder delivery", slog.Int64("user_id", user.Int64()), slog.Any("error", jerr))
	}
}

func (s *Scheduler) attempt(ctx context.Context, user domain.UserID) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	defer cancel()

	channel, err := s.messenger.OpenPrivateChannel(ctx, user)
	if err != nil {
		return apperrors.NewDeliveryError(apperrors.StageChannelOpen, user, err)
	}

	if err := channel.Send(ctx, s.cfg.Payload.Text, s.cfg.Payload.ReadAloud); err != nil {
		return apperrors.NewDeliveryError(apperrors.StageSend, user, err)
	}

	return nil
}

func classifyDelivery(err error) string {
	switch {
	case err == nil:
		return metrics.DeliveryDelivered
	case apperrors.IsRejection(err):
		return metrics.DeliveryRejected
	case apperrors.HasCode(err, apperrors.CodeChannelOpen):
		return metrics.DeliveryChannelFail
	default:
		return metrics.DeliverySendFail
	}
}
