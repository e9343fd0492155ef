package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeGateway struct {
	calls   atomic.Int32
	release chan struct{}
}

func (g *fakeGateway) StopAll() {
	g.calls.Add(1)
	if g.release != nil {
		<-g.release
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCoordinator_RequestShutdownOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewCoordinator(testLogger())
	gw := &fakeGateway{}
	c.BindGateway(gw)

	assert.False(t, c.Stopped())
	assert.True(t, c.RequestShutdown())
	assert.True(t, c.Stopped())
	assert.False(t, c.RequestShutdown())

	c.Wait()
	assert.Equal(t, int32(1), gw.calls.Load())

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel must be closed after shutdown")
	}
}

func TestCoordinator_ConcurrentRequests(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewCoordinator(testLogger())
	gw := &fakeGateway{}
	c.BindGateway(gw)

	var flipped atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.RequestShutdown() {
				flipped.Add(1)
			}
		}()
	}
	wg.Wait()
	c.Wait()

	assert.Equal(t, int32(1), flipped.Load())
	assert.Equal(t, int32(1), gw.calls.Load())
}

func TestCoordinator_RequestDoesNotBlockOnGateway(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewCoordinator(testLogger())
	gw := &fakeGateway{release: make(chan struct{})}
	c.BindGateway(gw)

	returned := make(chan struct{})
	go func() {
		c.RequestShutdown()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("RequestShutdown blocked on the gateway")
	}

	waited := make(chan struct{})
	go func() {
		c.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned before the gateway stopped")
	case <-time.After(20 * time.Millisecond):
	}

	close(gw.release)
	<-waited
}

func TestCoordinator_BindAfterShutdownStopsGateway(t *testing.T) {
	c := NewCoordinator(testLogger())
	c.RequestShutdown()

	gw := &fakeGateway{}
	c.BindGateway(gw)

	assert.Equal(t, int32(1), gw.calls.Load())
}

func TestCoordinator_WithoutGateway(t *testing.T) {
	c := NewCoordinator(nil)
	require.True(t, c.RequestShutdown())
	c.Wait()
}

func TestShutdown_ExecuteRunsAllHooks(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewShutdown(testLogger())
	var ran atomic.Int32
	errRedis := errors.New("redis close failed")

	s.Register("metrics", func(context.Context) error { ran.Add(1); return nil })
	s.Register("redis", func(context.Context) error { ran.Add(1); return errRedis })
	s.Register("postgres", func(context.Context) error { ran.Add(1); return nil })
	s.Register("nil", nil)

	err := s.Execute(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errRedis)
	assert.Contains(t, err.Error(), "redis")
	assert.Equal(t, int32(3), ran.Load())
}

func TestShutdown_ExecutePassesContext(t *testing.T) {
	s := NewShutdown(testLogger())
	s.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, s.Execute(ctx), context.DeadlineExceeded)
}

func TestShutdown_ExecuteEmpty(t *testing.T) {
	assert.NoError(t, NewShutdown(nil).Execute(context.Background()))
}
