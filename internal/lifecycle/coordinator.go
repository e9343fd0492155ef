// Package lifecycle coordinates process shutdown: the core stop flag shared by the gateway
// and the reminder scheduler, and the infrastructure teardown hooks that run afterwards.
package lifecycle

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Gateway is the chat connection stopped on shutdown.
type Gateway interface {
	// StopAll stops receiving events and disconnects. It may block until in-flight work ends.
	StopAll()
}

// Coordinator holds the process-wide shutdown flag. The flag moves from running to stopped
// exactly once and never reverts.
type Coordinator struct {
	log *slog.Logger

	stopped atomic.Bool
	done    chan struct{}

	mu      sync.Mutex
	gateway Gateway
	wg      sync.WaitGroup
}

// NewCoordinator returns a coordinator in the running state.
func NewCoordinator(log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}

	return &Coordinator{
		log:  log,
		done: make(chan struct{}),
	}
}

// BindGateway registers the gateway stopped by RequestShutdown. If shutdown was already
// requested the gateway is stopped before BindGateway returns.
func (c *Coordinator) BindGateway(g Gateway) {
	c.mu.Lock()
	if !c.stopped.Load() {
		c.gateway = g
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if g != nil {
		g.StopAll()
	}
}

// RequestShutdown flips the flag to stopped, wakes everything waiting on Done and stops the
// bound gateway in the background, so it is safe to call from a gateway event handler.
// It reports whether this call performed the transition.
func (c *Coordinator) RequestShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped.CompareAndSwap(false, true) {
		return false
	}

	c.log.Info("shutdown requested")

	if g := c.gateway; g != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			g.StopAll()
			c.log.Info("gateway stopped")
		}()
	}
	close(c.done)

	return true
}

// Stopped reports whether shutdown has been requested.
func (c *Coordinator) Stopped() bool {
	return c.stopped.Load()
}

// Done is closed when shutdown is requested.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until shutdown has been requested and the gateway has stopped.
func (c *Coordinator) Wait() {
	<-c.done
	c.wg.Wait()
}
