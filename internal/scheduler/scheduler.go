// Package scheduler runs tasks on a bounded worker pool and reports their
// outcomes in completion order.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/bias-runner/internal/metrics"
	"github.com/sells-group/bias-runner/internal/model"
)

// DefaultWorkers is the pool size when Options.Workers is unset.
const DefaultWorkers = 50

// Options configures a run.
type Options struct {
	// Workers bounds the number of tasks in flight.
	Workers int
	// TaskWait is the longest a task may take from dispatch, not counting
	// RetryBudget. Zero disables.
	TaskWait time.Duration
	// RetryBudget extends each deadline by the longest a task can spend
	// sleeping between its own attempts.
	RetryBudget time.Duration
}

// deadline is the full wait allowed for one task, or zero when disabled.
func (o Options) deadline() time.Duration {
	if o.TaskWait <= 0 {
		return 0
	}
	return o.TaskWait + o.RetryBudget
}

// ExecFunc executes one task. It must return promptly once ctx is done: a
// worker slot is held until it returns, even after a missed deadline.
type ExecFunc func(ctx context.Context, task model.Task) model.Result

// Outcome is what the pool reports for one dispatched task. When TimedOut
// is set the task missed its deadline and Result is empty.
type Outcome struct {
	Identity model.Identity
	Result   model.Result
	TimedOut bool
}

// Run dispatches tasks and returns a channel of outcomes in completion
// order. Duplicate identities are dropped before dispatch so no identity is
// ever in flight twice. When ctx is cancelled no further task is
// dispatched, in-flight tasks are abandoned without an outcome, and the
// channel is closed.
func Run(ctx context.Context, tasks []model.Task, opts Options, exec ExecFunc) <-chan Outcome {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	out := make(chan Outcome, opts.Workers)

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(opts.Workers)

		seen := make(map[string]struct{}, len(tasks))
		dropped := 0
		for _, task := range tasks {
			key := task.Identity.Key()
			if _, dup := seen[key]; dup {
				dropped++
				continue
			}
			seen[key] = struct{}{}

			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				metrics.WorkerStarted()
				defer metrics.WorkerDone()

				o, ok := runOne(ctx, task, opts.deadline(), exec)
				if !ok {
					return nil
				}
				select {
				case out <- o:
				case <-ctx.Done():
				}
				return nil
			})
		}
		if dropped > 0 {
			zap.L().Warn("scheduler: dropped duplicate tasks", zap.Int("dropped", dropped))
		}
		_ = g.Wait()
	}()

	return out
}

// runOne executes task under its deadline. It reports false when the run
// was interrupted and the task is abandoned. It does not return before exec
// does.
func runOne(ctx context.Context, task model.Task, wait time.Duration, exec ExecFunc) (Outcome, bool) {
	tctx, cancel := ctx, context.CancelFunc(func() {})
	if wait > 0 {
		tctx, cancel = context.WithTimeout(ctx, wait)
	}
	defer cancel()

	done := make(chan model.Result, 1)
	go func() {
		done <- exec(tctx, task)
	}()

	o := Outcome{Identity: task.Identity}
	select {
	case res := <-done:
		if ctx.Err() != nil {
			return o, false
		}
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			o.TimedOut = true
			return o, true
		}
		o.Result = res
		return o, true
	case <-tctx.Done():
		<-done
		if ctx.Err() != nil {
			return o, false
		}
		zap.L().Warn("scheduler: task exceeded its deadline",
			zap.Int("row_index", task.Identity.RowIndex),
			zap.String("model", task.Identity.Model),
			zap.Duration("wait", wait),
		)
		o.TimedOut = true
		return o, true
	}
}
