package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Hook is a named teardown step run after the core has drained.
type Hook struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Shutdown runs infrastructure teardown hooks concurrently.
type Shutdown struct {
	mu    sync.Mutex
	hooks []Hook
	log   *slog.Logger
}

// NewShutdown constructs an empty hook runner.
func NewShutdown(log *slog.Logger) *Shutdown {
	if log == nil {
		log = slog.Default()
	}

	return &Shutdown{log: log}
}

// Register adds a named hook. Nil functions are ignored.
func (s *Shutdown) Register(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.hooks = append(s.hooks, Hook{Name: name, Fn: fn})
}

// Execute runs every registered hook and waits for all of them. Hook failures are joined
// into the returned error; one failing hook does not cancel the others.
func (s *Shutdown) Execute(ctx context.Context) error {
	s.mu.Lock()
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.Unlock()

	start := time.Now()
	s.log.Info("shutdown sequence started", slog.Int("hook_count", len(hooks)))

	p := pool.New().WithErrors()
	for _, hook := range hooks {
		h := hook
		p.Go(func() error {
			hookStart := time.Now()
			if err := h.Fn(ctx); err != nil {
				s.log.Error("shutdown hook failed", slog.String("hook", h.Name), slog.Any("error", err))
				return fmt.Errorf("%s: %w", h.Name, err)
			}

			s.log.Info("shutdown hook completed",
				slog.String("hook", h.Name),
				slog.Duration("elapsed", time.Since(hookStart)),
			)
			return nil
		})
	}

	err := p.Wait()
	s.log.Info("shutdown sequence finished", slog.Duration("elapsed", time.Since(start)))

	return err
}
