// Package shutdown owns the single exit path of the worker process.
// Lifecycle stops and fatal-error handlers all funnel into the same
// coordinator; a guard ensures the hooks run exactly once.
package shutdown

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

type Coordinator struct {
	logger *zap.Logger
	grace  time.Duration

	mu    sync.Mutex
	hooks []hook
	once  sync.Once
	done  chan struct{}
}

func NewCoordinator(logger *zap.Logger, grace time.Duration) *Coordinator {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Coordinator{
		logger: logger,
		grace:  grace,
		done:   make(chan struct{}),
	}
}

// Register adds a hook to run on shutdown. Hooks run in reverse
// registration order, like deferred calls.
func (c *Coordinator) Register(name string, fn func(context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook{name: name, fn: fn})
}

// Shutdown runs all registered hooks within the grace period. Safe to
// call from multiple goroutines; only the first call does any work.
func (c *Coordinator) Shutdown(reason string) {
	c.once.Do(func() {
		defer close(c.done)

		c.logger.Info("shutdown_started", zap.String("reason", reason), zap.Duration("grace", c.grace))

		ctx, cancel := context.WithTimeout(context.Background(), c.grace)
		defer cancel()

		c.mu.Lock()
		hooks := make([]hook, len(c.hooks))
		copy(hooks, c.hooks)
		c.mu.Unlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			if err := h.fn(ctx); err != nil {
				c.logger.Error("shutdown_hook_failed", zap.String("hook", h.name), zap.Error(err))
			}
		}

		c.logger.Info("shutdown_complete", zap.String("reason", reason))
	})
}

// Done is closed once shutdown has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}
