package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notifier receives the one-time completion notification.
type Notifier interface {
	NotifyCompletion(ctx context.Context, stats Stats) error
}

// Coordinator watches the engine for quiescence and fires the completion
// notification exactly once, then triggers shutdown. Quiescence is re-checked
// under the engine's own lock inside Stats, so concurrent state changes
// cannot slip a false positive past the check; the sync.Once guarantees the
// notification never fires twice even if multiple triggers race.
type Coordinator struct {
	engine   *Engine
	notifier Notifier
	shutdown func() // invoked once after notification
	logger   *slog.Logger

	once    sync.Once
	trigger chan struct{}
}

// NewCoordinator wires a coordinator to the engine's change hook. shutdown is
// called once after the completion notification has been attempted.
func NewCoordinator(engine *Engine, notifier Notifier, shutdown func()) *Coordinator {
	c := &Coordinator{
		engine:   engine,
		notifier: notifier,
		shutdown: shutdown,
		logger:   slog.With("component", "completion"),
		trigger:  make(chan struct{}, 1),
	}
	engine.OnChange(c.poke)
	return c
}

// poke is the engine's change hook. Non-blocking: a pending trigger already
// covers this change.
func (c *Coordinator) poke() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is canceled or quiescence is detected. A slow periodic
// re-check backstops the change hook in case the final transition was a
// monitor reclamation that raced with shutdown of the HTTP surface.
func (c *Coordinator) Run(ctx context.Context) {
	// A zero-batch job is quiescent before the first trigger ever fires.
	if c.check(ctx) {
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
		case <-ticker.C:
		}

		if c.check(ctx) {
			return
		}
	}
}

// check re-evaluates quiescence and completes the job if it holds.
func (c *Coordinator) check(ctx context.Context) bool {
	stats := c.engine.Stats()
	if !stats.Quiescent {
		return false
	}

	c.once.Do(func() {
		c.logger.Info("All work complete",
			"completed", stats.Completed, "abandoned", stats.Abandoned)
		if c.notifier != nil {
			if err := c.notifier.NotifyCompletion(ctx, stats); err != nil {
				c.logger.Error("Completion notification failed", "error", err)
			}
		}
		if c.shutdown != nil {
			c.shutdown()
		}
	})
	return true
}
