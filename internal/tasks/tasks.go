// Package tasks implements the shared task model and bounded worker pool
// the mirror controller schedules package uploads, channel-index publishes,
// and cache downloads onto.
//
// Grounded on the teacher's slog-based logging convention (client.go,
// image.go) and on golang.org/x/sync/errgroup (already an indirect
// dependency via testcontainers) for the bounded worker pool, rather than a
// hand-rolled channel/WaitGroup pool.
package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/condamirror/condamirror/internal/ratelimit"
)

// Result is one item of a task's output; Runner flattens every task's
// []Result into a single sequence.
type Result any

// Task is one unit of scheduled work.
type Task interface {
	Run(ctx context.Context, rc *RunContext) ([]Result, error)
}

// RunContext is the process-wide state every task consults before doing
// networked work: the rate limiter guarding the registry's ~4 req/s budget,
// and the throughput counters PackageUploadTask reports against. Shared
// across workers; every field is safe for concurrent use.
type RunContext struct {
	Limiter *ratelimit.Limiter
	Logger  *slog.Logger

	// OnTaskDone, if set, is invoked after every task that completes
	// successfully (a failed task is not reported) with the running completed
	// count and the run's total task count, so a caller can drive a
	// determinate progress indicator. Never called concurrently with itself.
	OnTaskDone func(completed, total int)

	mu           sync.Mutex
	packagesDone int
	taskDone     int
	counterStart time.Time
}

// NewRunContext creates a RunContext with a fresh limiter and counters.
func NewRunContext(logger *slog.Logger) *RunContext {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RunContext{
		Limiter:      ratelimit.New(),
		Logger:       logger,
		counterStart: time.Time{},
	}
}

// Wait blocks until the shared rate-limit floor has elapsed since the last
// call across all tasks.
func (rc *RunContext) Wait() {
	rc.Limiter.Wait()
}

// noteTaskDone reports one task's completion to OnTaskDone, if set.
func (rc *RunContext) noteTaskDone(total int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.taskDone++

	if rc.OnTaskDone != nil {
		rc.OnTaskDone(rc.taskDone, total)
	}
}

// RecordPackageDone increments the shared package counter, logging
// throughput every 10 packages and resetting the window every 50 — matching
// the acquire order fixed by the spec (rate limiter before counters).
func (rc *RunContext) RecordPackageDone() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.counterStart.IsZero() {
		rc.counterStart = time.Now()
	}
	rc.packagesDone++

	if rc.packagesDone%10 == 0 {
		elapsed := time.Since(rc.counterStart)
		var perSecond float64
		if elapsed > 0 {
			perSecond = float64(rc.packagesDone) / elapsed.Seconds()
		}
		rc.Logger.Info("upload throughput", "packagesDone", rc.packagesDone, "perSecond", perSecond)
	}
	if rc.packagesDone%50 == 0 {
		rc.packagesDone = 0
		rc.counterStart = time.Now()
	}
}

// Runner is a bounded worker pool. The zero value is not usable; use New.
type Runner struct {
	concurrency int
	logger      *slog.Logger
}

// DefaultConcurrency is the worker-pool size used when none is given.
const DefaultConcurrency = 4

// serialPad is the minimum wall-clock duration run_serial gives every task,
// for a predictable demo/debug pace.
const serialPad = 3 * time.Second

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency overrides the worker-pool size.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger used for task-level diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// New creates a Runner with DefaultConcurrency workers unless overridden.
func New(opts ...Option) *Runner {
	r := &Runner{
		concurrency: DefaultConcurrency,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every task with up to the Runner's configured concurrency.
// On the first task error, the shared context is cancelled: in-flight tasks
// are allowed to finish, and any task not yet started is skipped rather than
// dispatched. Results are collected in completion order, then flattened; the
// aggregated (first) error is returned alongside whatever completed.
func (r *Runner) Run(ctx context.Context, rc *RunContext, taskList []Task) ([]Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	var mu sync.Mutex
	var results []Result
	total := len(taskList)

	for _, t := range taskList {
		t := t
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out, err := t.Run(gctx, rc)
			if err != nil {
				r.logger.Error("task failed", "error", err)
				return err
			}
			mu.Lock()
			results = append(results, out...)
			mu.Unlock()
			rc.noteTaskDone(total)
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

// RunSerial executes tasks one at a time, in order, padding any task that
// finishes in under serialPad up to that floor. Intended for debugging runs
// where a human is watching output scroll by.
func (r *Runner) RunSerial(ctx context.Context, rc *RunContext, taskList []Task) ([]Result, error) {
	var results []Result
	total := len(taskList)
	for _, t := range taskList {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		start := time.Now()
		out, err := t.Run(ctx, rc)
		if err != nil {
			return results, err
		}
		results = append(results, out...)
		rc.noteTaskDone(total)

		if elapsed := time.Since(start); elapsed < serialPad {
			select {
			case <-time.After(serialPad - elapsed):
			case <-ctx.Done():
				return results, ctx.Err()
			}
		}
	}
	return results, nil
}
