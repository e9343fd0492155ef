package reminder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Proton-105/hydration-bot/internal/domain"
	apperrors "github.com/Proton-105/hydration-bot/internal/errors"
	"github.com/Proton-105/hydration-bot/internal/journal"
)

type fakeSignal struct {
	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{done: make(chan struct{})}
}

func (s *fakeSignal) Stopped() bool         { return s.stopped.Load() }
func (s *fakeSignal) Done() <-chan struct{} { return s.done }

func (s *fakeSignal) stop() {
	s.once.Do(func() {
		s.stopped.Store(true)
		close(s.done)
	})
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []domain.UserID
	attempts map[domain.UserID]int
	failOpen map[domain.UserID]bool
	failSend map[domain.UserID]bool
	// gatewayDown fails every channel open as a gateway outage.
	gatewayDown bool
	block       bool
	readLast    bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		attempts: make(map[domain.UserID]int),
		failOpen: make(map[domain.UserID]bool),
		failSend: make(map[domain.UserID]bool),
	}
}

func (m *fakeMessenger) OpenPrivateChannel(_ context.Context, user domain.UserID) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[user]++
	if m.gatewayDown {
		return nil, fmt.Errorf("resolve private chat: %w", ErrGatewayUnavailable)
	}
	if m.failOpen[user] {
		return nil, errors.New("cannot open channel")
	}
	return &fakeChannel{m: m, user: user}, nil
}

func (m *fakeMessenger) sentTo() []domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.UserID(nil), m.sent...)
}

func (m *fakeMessenger) sentCount(user domain.UserID) int {
	return lo.Count(m.sentTo(), user)
}

func (m *fakeMessenger) setGatewayDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gatewayDown = down
}

func (m *fakeMessenger) attemptsFor(user domain.UserID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[user]
}

type fakeChannel struct {
	m    *fakeMessenger
	user domain.UserID
}

func (c *fakeChannel) Send(ctx context.Context, _ string, readAloud bool) error {
	c.m.mu.Lock()
	block, fail := c.m.block, c.m.failSend[c.user]
	c.m.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errors.New("send failed")
	}

	c.m.mu.Lock()
	c.m.sent = append(c.m.sent, c.user)
	c.m.readLast = readAloud
	c.m.mu.Unlock()
	return nil
}

type fakePresence struct {
	mu      sync.Mutex
	present map[domain.UserID]bool
}

func (p *fakePresence) IsPresent(user domain.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present[user]
}

func (p *fakePresence) set(user domain.UserID, present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.present[user] = present
}

type recordingJournal struct {
	mu     sync.Mutex
	events []journal.Event
}

func (j *recordingJournal) Record(_ context.Context, event journal.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, event)
	return nil
}

func (j *recordingJournal) kinds() map[domain.UserID]journal.Kind {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[domain.UserID]journal.Kind, len(j.events))
	for _, e := range j.events {
		out[e.User] = e.Kind
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() SchedulerConfig {
	return SchedulerConfig{
		Tick:            5 * time.Millisecond,
		Threshold:       testThreshold,
		Payload:         Payload{Text: "Time to drink some water!", ReadAloud: true},
		DeliveryTimeout: time.Second,
		Concurrency:     2,
		Retry:           apperrors.RetryPolicy{MaxRetries: 0},
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// advancingClock moves forward by step on every call, so every subscriber is due on every sweep.
func advancingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func stopAndWait(t *testing.T, signal *fakeSignal, s *Scheduler) {
	t.Helper()
	signal.stop()
	s.Wait()
	assert.Equal(t, StateStopped, s.State())
}

func TestIsTransitionAllowed(t *testing.T) {
	testCases := []struct {
		name     string
		from     State
		to       State
		expected bool
	}{
		{name: "idle to running", from: StateIdle, to: StateRunning, expected: true},
		{name: "running to stopping", from: StateRunning, to: StateStopping, expected: true},
		{name: "stopping to stopped", from: StateStopping, to: StateStopped, expected: true},
		{name: "running to idle invalid", from: StateRunning, to: StateIdle, expected: false},
		{name: "stopped to running invalid", from: StateStopped, to: StateRunning, expected: false},
		{name: "idle to stopped invalid", from: StateIdle, to: StateStopped, expected: false},
		{name: "unknown state invalid", from: State("unknown"), to: StateRunning, expected: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsTransitionAllowed(tc.from, tc.to))
		})
	}
}

func TestScheduler_DeliversDueUsersOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	t0 := time.Now()
	registry := NewRegistry()
	registry.OptIn(1, t0)
	registry.OptIn(2, t0.Add(testThreshold))

	messenger := newFakeMessenger()
	signal := newFakeSignal()
	rec := &recordingJournal{}
	s := NewScheduler(registry, messenger, signal, testConfig(), testLogger(),
		WithClock(fixedClock(at(t0, 1801))),
		WithJournal(rec),
	)
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Ticks() >= 3 }, time.Second, time.Millisecond)
	stopAndWait(t, signal, s)

	assert.Equal(t, []domain.UserID{1}, messenger.sentTo())
	assert.True(t, messenger.readLast)
	assert.Equal(t, map[domain.UserID]journal.Kind{1: journal.KindDelivered}, rec.kinds())
}

func TestScheduler_FailureDoesNotAbortSweep(t *testing.T) {
	defer goleak.VerifyNone(t)

	t0 := time.Now()
	registry := NewRegistry()
	for _, u := range []domain.UserID{1, 2, 3} {
		registry.OptIn(u, t0)
	}

	messenger := newFakeMessenger()
	messenger.failSend[2] = true
	messenger.failOpen[3] = true
	signal := newFakeSignal()
	rec := &recordingJournal{}

	s := NewScheduler(registry, messenger, signal, testConfig(), testLogger(),
		WithClock(fixedClock(at(t0, 1801))),
		WithJournal(rec),
	)
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Ticks() >= 2 }, time.Second, time.Millisecond)

	assert.Equal(t, StateRunning, s.State())
	stopAndWait(t, signal, s)

	assert.Equal(t, []domain.UserID{1}, messenger.sentTo())
	assert.Equal(t, 1, messenger.attemptsFor(2))
	assert.Equal(t, 1, messenger.attemptsFor(3))
	assert.Equal(t, map[domain.UserID]journal.Kind{
		1: journal.KindDelivered,
		2: journal.KindDeliveryFailed,
		3: journal.KindDeliveryFailed,
	}, rec.kinds())
}

func TestScheduler_RecipientFailuresDoNotTripBreaker(t *testing.T) {
	defer goleak.VerifyNone(t)

	t0 := time.Now()
	registry := NewRegistry()
	messenger := newFakeMessenger()
	for u := domain.UserID(1); u <= 20; u++ {
		registry.OptIn(u, t0)
		messenger.failSend[u] = true
	}
	registry.OptIn(100, t0)
	signal := newFakeSignal()

	cfg := testConfig()
	cfg.Concurrency = 1
	s := NewScheduler(registry, messenger, signal, cfg, testLogger(),
		WithClock(advancingClock(t0, 31*time.Minute)),
	)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Ticks() >= 5 }, 2*time.Second, time.Millisecond)
	stopAndWait(t, signal, s)

	assert.Equal(t, apperrors.StateClosed, s.breaker.State())
	assert.Equal(t, int(s.Ticks()), messenger.sentCount(100))
	assert.Equal(t, int(s.Ticks()), messenger.attemptsFor(1))
}

func TestScheduler_GatewayOutageTripsBreaker(t *testing.T) {
	defer goleak.VerifyNone(t)

	t0 := time.Now()
	registry := NewRegistry()
	for u := domain.UserID(1); u <= 12; u++ {
		registry.OptIn(u, t0)
	}
	messenger := newFakeMessenger()
	messenger.setGatewayDown(true)
	signal := newFakeSignal()

	cfg := testConfig()
	cfg.Concurrency = 1
	s := NewScheduler(registry, messenger, signal, cfg, testLogger(),
		WithClock(advancingClock(t0, 31*time.Minute)),
	)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Ticks() >= 2 }, 2*time.Second, time.Millisecond)
	stopAndWait(t, signal, s)

	assert.Equal(t, apperrors.StateOpen, s.breaker.State())
	assert.Equal(t, 10, lo.Sum(lo.Map(lo.Range(12), func(i int, _ int) int {
		return messenger.attemptsFor(domain.UserID(i + 1))
	})))
}

func TestScheduler_RetriesTransientFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	t0 := time.Now()
	registry := NewRegistry()
	registry.OptIn(1, t0)

	messenger := newFakeMessenger()
	messenger.failOpen[1] = true
	signal := newFakeSignal()

	cfg := testConfig()
	cfg.Retry = apperrors.RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	s := NewScheduler(registry, messenger, signal, cfg, testLogger(), WithClock(fixedClock(at(t0, 1801))))

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Ticks() >= 1 }, time.Second, time.Millisecond)
	stopAndWait(t, signal, s)

	assert.Equal(t, 3, messenger.attemptsFor(1))
}

func TestScheduler_SlowDeliveryIsBounded(t *testing.T) {
	defer goleak.VerifyNone(t)

	t0 := time.Now()
	registry := NewRegistry()
	registry.OptIn(1, t0)
	registry.OptIn(2, t0)

	messenger := newFakeMessenger()
	messenger.block = true
	signal := newFakeSignal()

	cfg := testConfig()
	cfg.DeliveryTimeout = 20 * time.Millisecond
	s := NewScheduler(registry, messenger, signal, cfg, testLogger(), WithClock(fixedClock(at(t0, 1801))))

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Ticks() >= 2 }, 2*time.Second, time.Millisecond)
	stopAndWait(t, signal, s)

	assert.Equal(t, 1, messenger.attemptsFor(1))
	assert.Equal(t, 1, messenger.attemptsFor(2))
}

type stalledJournal struct{}

func (stalledJournal) Record(ctx context.Context, _ journal.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestScheduler_StalledJournalDoesNotBlockShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	t0 := time.Now()
	registry := NewRegistry()
	registry.OptIn(1, t0)

	messenger := newFakeMessenger()
	signal := newFakeSignal()

	cfg := testConfig()
	cfg.JournalTimeout = 20 * time.Millisecond
	s := NewScheduler(registry, messenger, signal, cfg, testLogger(),
		WithClock(fixedClock(at(t0, 1801))),
		WithJournal(stalledJournal{}),
	)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return len(messenger.sentTo()) == 1 }, time.Second, time.Millisecond)

	signal.stop()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler stuck on journal write")
	}
	assert.Equal(t, StateStopped, s.State())
}

func TestScheduler_NoTickAfterShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	registry := NewRegistry()
	registry.OptIn(1, time.Now().Add(-time.Hour))

	messenger := newFakeMessenger()
	signal := newFakeSignal()
	signal.stop()

	s := NewScheduler(registry, messenger, signal, testConfig(), testLogger())
	require.NoError(t, s.Start())
	s.Wait()

	assert.Equal(t, StateStopped, s.State())
	assert.Zero(t, s.Ticks())
	assert.Empty(t, messenger.sentTo())
}

func TestScheduler_ShutdownWakesSleepingLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	signal := newFakeSignal()
	cfg := testConfig()
	cfg.Tick = time.Hour

	s := NewScheduler(NewRegistry(), newFakeMessenger(), signal, cfg, testLogger())
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Ticks() == 1 }, time.Second, time.Millisecond)

	signal.stop()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after shutdown")
	}
	assert.Equal(t, uint64(1), s.Ticks())
}

func TestScheduler_StartTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	signal := newFakeSignal()
	s := NewScheduler(NewRegistry(), newFakeMessenger(), signal, testConfig(), testLogger())

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)
	stopAndWait(t, signal, s)
}

func TestScheduler_WaitOnIdleReturns(t *testing.T) {
	s := NewScheduler(NewRegistry(), newFakeMessenger(), newFakeSignal(), testConfig(), testLogger())
	s.Wait()
	assert.Equal(t, StateIdle, s.State())
}

func TestScheduler_OnlyPresent(t *testing.T) {
	defer goleak.VerifyNone(t)

	t0 := time.Now()
	registry := NewRegistry()
	registry.OptIn(1, t0)

	presence := &fakePresence{present: map[domain.UserID]bool{}}
	messenger := newFakeMessenger()
	signal := newFakeSignal()

	cfg := testConfig()
	cfg.OnlyPresent = true
	s := NewScheduler(registry, messenger, signal, cfg, testLogger(),
		WithClock(fixedClock(at(t0, 1801))),
		WithPresence(presence),
	)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Ticks() >= 2 }, time.Second, time.Millisecond)
	assert.Empty(t, messenger.sentTo())

	presence.set(1, true)
	require.Eventually(t, func() bool { return len(messenger.sentTo()) == 1 }, time.Second, time.Millisecond)
	stopAndWait(t, signal, s)
}

func TestScheduler_SetThreshold(t *testing.T) {
	s := NewScheduler(NewRegistry(), newFakeMessenger(), newFakeSignal(), testConfig(), testLogger())

	s.SetThreshold(time.Minute)
	assert.Equal(t, time.Minute, s.Threshold())

	s.SetThreshold(0)
	assert.Equal(t, time.Minute, s.Threshold())
}

func TestScheduler_Defaults(t *testing.T) {
	s := NewScheduler(NewRegistry(), newFakeMessenger(), newFakeSignal(), SchedulerConfig{}, nil)

	assert.Equal(t, DefaultThreshold, s.Threshold())
	assert.Equal(t, DefaultTick, s.cfg.Tick)
	assert.Equal(t, DefaultConcurrency, s.cfg.Concurrency)
	assert.Equal(t, DefaultDeliveryTimeout, s.cfg.DeliveryTimeout)
	assert.Equal(t, journal.DefaultWriteTimeout, s.cfg.JournalTimeout)
}
