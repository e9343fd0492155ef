// Package idempotency makes sure a redelivered chat update is handled at most once.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

var ErrRequestInProgress = errors.New("request with this key is already in progress")

const (
	defaultLockTTL      = time.Minute
	defaultPollInterval = 100 * time.Millisecond
)

type Operation func(ctx context.Context) (any, error)

type Result struct {
	Response    json.RawMessage
	FromCache   bool
	CompletedAt time.Time
}

type Manager interface {
	Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error)
}

type manager struct {
	store        Store
	log          *slog.Logger
	lockTTL      time.Duration
	pollInterval time.Duration
}

func NewManager(store Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		store:        store,
		log:          log,
		lockTTL:      defaultLockTTL,
		pollInterval: defaultPollInterval,
	}
}

// Execute runs fn once per key. A concurrent call for a key being processed returns
// ErrRequestInProgress; a call for a completed key returns the stored response.
// Failed operations release the lock so the update can be retried.
func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	for {
		locked, err := m.store.Lock(ctx, key, m.lockTTL)
		if err != nil {
			return nil, err
		}
		if locked {
			return m.run(ctx, key, ttl, fn)
		}

		record, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		switch {
		case record == nil:
			// Lock holder has not written a record yet.
			return nil, ErrRequestInProgress
		case record.Status == StatusCompleted:
			return &Result{Response: record.Response, FromCache: true, CompletedAt: record.CompletedAt}, nil
		case record.Status == StatusProcessing:
			return nil, ErrRequestInProgress
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

func (m *manager) run(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	defer func() {
		if err := m.store.ReleaseLock(ctx, key); err != nil {
			m.log.Warn("failed to release idempotency lock", slog.String("key", key), slog.Any("error", err))
		}
	}()

	response, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}

	record := &Record{Status: StatusCompleted, Response: encoded, CompletedAt: time.Now()}
	if err := m.store.Set(ctx, key, record, ttl); err != nil {
		return nil, err
	}

	return &Result{Response: encoded, CompletedAt: record.CompletedAt}, nil
}
