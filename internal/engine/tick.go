// Package engine runs the client's tick loop. One goroutine owns the
// transport, the state store and the layout; everything else reaches them
// through Do, which runs a closure on that goroutine between ticks.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/talgya/shadowscale/internal/metrics"
)

// DefaultInterval is the tick cadence used when none is configured.
const DefaultInterval = 100 * time.Millisecond

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("engine stopped")

// Engine drives the client forward at a fixed cadence.
type Engine struct {
	Interval time.Duration // Tick interval (default 100ms)

	// OnTick runs every tick with the tick counter and wall time.
	OnTick func(tick uint64, now time.Time)

	tick    uint64
	queries chan func()
	done    chan struct{}
}

// NewEngine creates an engine ticking every interval.
func NewEngine(interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{
		Interval: interval,
		queries:  make(chan func()),
		done:     make(chan struct{}),
	}
}

// Tick returns the number of ticks run so far. Call it from the loop
// goroutine or through Do.
func (e *Engine) Tick() uint64 {
	return e.tick
}

// Run ticks until ctx is done. It must be called at most once.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	slog.Info("engine started", "interval", e.Interval)

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine stopped", "tick", e.tick)
			return
		case now := <-ticker.C:
			e.step(now)
		case fn := <-e.queries:
			fn()
		}
	}
}

// Step runs one tick immediately on the caller's goroutine. It is meant
// for tests and tools that drive the loop by hand.
func (e *Engine) Step(now time.Time) {
	e.step(now)
}

func (e *Engine) step(now time.Time) {
	start := time.Now()
	e.tick++
	if e.OnTick != nil {
		e.OnTick(e.tick, now)
	}
	metrics.ObserveSince(metrics.TickDuration, start)
}

// Do runs fn on the loop goroutine and waits for it to return.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case e.queries <- wrapped:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}
