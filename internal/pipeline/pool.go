package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"geobatch-backend/internal/geocode"
)

// ExecFunc performs one geocoding task. The pool owns concurrency and
// ordering; the function only has to be safe for concurrent use.
type ExecFunc func(ctx context.Context, task geocode.Task) geocode.Outcome

// Pool runs geocoding tasks with a fixed concurrency ceiling while
// preserving input order on its output channel.
type Pool struct {
	workers     int64
	taskTimeout time.Duration
	grace       time.Duration
	logger      *zap.Logger
}

// NewPool creates a pool with the given worker ceiling. taskTimeout bounds a
// single task; grace is how long in-flight tasks may run after the parent
// context is cancelled.
func NewPool(workers int, taskTimeout, grace time.Duration, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		workers:     int64(workers),
		taskTimeout: taskTimeout,
		grace:       grace,
		logger:      logger,
	}
}

// Run consumes tasks until the channel closes and returns a channel of
// outcomes in the same order the tasks arrived, regardless of which worker
// finished first. When ctx is cancelled, dispatch stops, in-flight tasks get
// the grace period to finish, and the output closes right after the last
// finalized outcome; tasks that never ran produce nothing.
func (p *Pool) Run(ctx context.Context, tasks <-chan geocode.Task, exec ExecFunc) <-chan geocode.Outcome {
	outcomes := make(chan geocode.Outcome)
	futures := make(chan chan geocode.Outcome, p.workers*2)
	done := make(chan struct{})

	// Workers keep running on execCtx for the grace period after ctx is
	// cancelled, instead of being killed mid-call.
	execCtx, execCancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-done:
			execCancel()
			return
		case <-ctx.Done():
		}
		select {
		case <-done:
		case <-time.After(p.grace):
			p.logger.Warn("grace period elapsed, aborting in-flight geocoding tasks")
		}
		execCancel()
	}()

	sem := semaphore.NewWeighted(p.workers)

	go func() {
		defer close(futures)
		for task := range tasks {
			if err := sem.Acquire(ctx, 1); err != nil {
				// Cancelled. Drain so the producer can finish;
				// undispatched tasks are never finalized and the
				// stream closes early.
				for range tasks {
				}
				return
			}

			fut := make(chan geocode.Outcome, 1)
			futures <- fut
			go func(task geocode.Task) {
				defer sem.Release(1)
				fut <- p.execute(execCtx, task, exec)
			}(task)
		}
	}()

	// Reading each future in submission order is what preserves ordering:
	// a fast task parks in its buffered future until its turn comes.
	go func() {
		defer close(done)
		defer close(outcomes)
		for fut := range futures {
			outcomes <- <-fut
		}
	}()

	return outcomes
}

func (p *Pool) execute(ctx context.Context, task geocode.Task, exec ExecFunc) geocode.Outcome {
	// Rows with nothing to geocode never reach the backend.
	if task.Empty {
		return geocode.Outcome{Seq: task.Seq, Status: geocode.StatusNotFound}
	}
	if task.Invalid != "" {
		return geocode.Outcome{Seq: task.Seq, Status: geocode.StatusError, ErrorDetail: task.Invalid}
	}

	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}
	return exec(ctx, task)
}
