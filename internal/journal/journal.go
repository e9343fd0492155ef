// Package journal keeps an append-only audit trail of reminder activity.
// The trail is write-only: registries are never rebuilt from it.
package journal

import (
	"context"
	"time"

	"github.com/Proton-105/hydration-bot/internal/domain"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindOptIn          Kind = "opt_in"
	KindOptOut         Kind = "opt_out"
	KindDelivered      Kind = "delivered"
	KindDeliveryFailed Kind = "delivery_failed"
)

// Event is one journal entry.
type Event struct {
	User       domain.UserID
	Kind       Kind
	Detail     string
	OccurredAt time.Time
}

// Recorder appends events to the journal.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Record(context.Context, Event) error { return nil }

// DefaultWriteTimeout bounds a journal write when no timeout is configured.
const DefaultWriteTimeout = 3 * time.Second

type bounded struct {
	next    Recorder
	timeout time.Duration
}

// Bounded gives every Record call on next its own deadline, so a stalled database cannot
// hold up a sweep or a command. A nil next yields Noop.
func Bounded(next Recorder, timeout time.Duration) Recorder {
	if next == nil {
		return Noop{}
	}
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &bounded{next: next, timeout: timeout}
}

func (b *bounded) Record(ctx context.Context, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Record(ctx, event)
}
