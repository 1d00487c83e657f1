// Package schedule provides fixed-delay periodic execution for background
// maintenance tasks such as the audit drain and the presence sweep. A Runner
// owns a single goroutine with an explicit Start/Stop lifecycle; the next
// tick is scheduled only after the previous run returns, so runs never
// overlap themselves.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of periodic work. The context is cancelled when the runner
// stops; tasks should return promptly once that happens.
type Task func(ctx context.Context)

// Runner executes a Task on a fixed delay.
type Runner struct {
	name     string
	interval time.Duration
	task     Task

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// NewRunner returns a runner that invokes task every interval once started.
func NewRunner(name string, interval time.Duration, task Task) *Runner {
	return &Runner{name: name, interval: interval, task: task}
}

// Start launches the background goroutine. Calling Start on a running
// Runner is a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	r.cancel = cancel
	r.group = g
	r.started = true

	g.Go(func() error {
		timer := time.NewTimer(r.interval)
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				r.run(gctx)
				// Fixed delay: re-arm only after the task returns.
				timer.Reset(r.interval)
			case <-gctx.Done():
				return nil
			}
		}
	})
	slog.Debug("schedule: runner started", "name", r.name, "interval", r.interval)
}

// Stop cancels the task context and waits for the goroutine to exit.
// Calling Stop on a stopped Runner is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.cancel()
	_ = r.group.Wait()
	r.started = false
	slog.Debug("schedule: runner stopped", "name", r.name)
}

// Running reports whether the runner has been started and not yet stopped.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *Runner) run(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("schedule: task panicked", "name", r.name, "panic", rec)
		}
	}()
	r.task(ctx)
}
