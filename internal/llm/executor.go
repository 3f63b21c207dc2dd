// Package llm drives prompts through a completion provider, applying the
// retry classifier, per-call timeouts, and adaptive request-rate limiting.
package llm

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bias-runner/internal/metrics"
	"github.com/sells-group/bias-runner/internal/model"
	"github.com/sells-group/bias-runner/internal/resilience"
)

// Extractor parses structured fields out of a successful response. It
// returns nil when the response cannot be parsed.
type Extractor func(response string) model.Fields

// StatusInterrupted is returned when the caller's context ends before the
// task reaches a terminal answer. Such results are never persisted.
var StatusInterrupted = model.ErrorStatus("interrupted")

// Options configures an Executor.
type Options struct {
	Stage  string
	Policy resilience.Policy

	// CallTimeout bounds a single API call. Default: 30s.
	CallTimeout time.Duration

	// MaxPreCallJitter spreads call starts by a random 0..MaxPreCallJitter
	// pause. Default: 50ms. Negative disables.
	MaxPreCallJitter time.Duration

	Limiter *AdaptiveLimiter
	Extract Extractor

	// OnRetry is called before each backoff sleep. Default: resilience.RetryLogger.
	OnRetry func(attempt int, d resilience.Decision, err error)
}

// Executor turns a Task into a terminal Result.
type Executor struct {
	provider Provider
	opts     Options
}

// NewExecutor creates an Executor for the given provider.
func NewExecutor(provider Provider, opts Options) *Executor {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.MaxPreCallJitter == 0 {
		opts.MaxPreCallJitter = 50 * time.Millisecond
	}
	if opts.OnRetry == nil {
		opts.OnRetry = resilience.RetryLogger(opts.Stage)
	}
	return &Executor{provider: provider, opts: opts}
}

// RetryBudget is the longest Execute can spend pausing on its own schedule:
// the pre-call jitter plus every backoff sleep the policy allows.
func (e *Executor) RetryBudget() time.Duration {
	return max(e.opts.MaxPreCallJitter, 0) + e.opts.Policy.RetryBudget()
}

// Execute runs the attempt loop for one task. The returned Result always
// carries a status: success, error_<code>, error_<reason>,
// max_retries_exceeded, or StatusInterrupted when ctx ends first.
func (e *Executor) Execute(ctx context.Context, task model.Task) model.Result {
	res := model.Result{
		Identity: task.Identity,
		Metadata: task.Metadata.Clone(),
	}
	log := zap.L().With(
		zap.String("stage", e.opts.Stage),
		zap.Int("row_index", task.Identity.RowIndex),
		zap.String("model", task.Identity.Model),
	)

	if e.opts.MaxPreCallJitter > 0 {
		if err := sleep(ctx, rand.N(e.opts.MaxPreCallJitter)); err != nil {
			res.Status = StatusInterrupted
			return res
		}
	}

	policy := e.opts.Policy
	maxAttempts := policy.Attempts()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := e.opts.Limiter.Wait(ctx); err != nil {
			res.Status = StatusInterrupted
			return res
		}

		res.Attempts++
		text, err := e.call(ctx, task)
		if ctx.Err() != nil {
			res.Status = StatusInterrupted
			return res
		}
		d := policy.Classify(resilience.OutcomeFromError(err), attempt)

		switch d.Kind {
		case resilience.KindSuccess:
			e.opts.Limiter.OnSuccess()
			res.Status = model.StatusSuccess
			res.Response = text
			if e.opts.Extract != nil {
				res.Fields = e.opts.Extract(text)
			}
			return res

		case resilience.KindFail:
			log.Debug("api call failed", zap.String("reason", d.Reason), zap.Error(err))
			res.Status = model.ErrorStatus(d.Reason)
			return res
		}

		if d.Class == resilience.ClassRateLimited {
			e.opts.Limiter.OnRateLimit()
		}
		metrics.RecordRetry(task.Identity.Model, string(d.Class))

		// No pause after the final attempt.
		if attempt == maxAttempts-1 {
			break
		}
		e.opts.OnRetry(attempt+1, d, err)
		if err := sleep(ctx, d.Delay); err != nil {
			res.Status = StatusInterrupted
			return res
		}
		res.Backoff += d.Delay
	}

	log.Warn("api call exhausted retries", zap.Int("attempts", res.Attempts))
	res.Status = model.StatusMaxRetriesExceeded
	return res
}

func (e *Executor) call(ctx context.Context, task model.Task) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	text, err := e.provider.Complete(callCtx, task.Identity.Model, task.Payload)
	metrics.RecordAttempt(task.Identity.Model, time.Since(start))
	return text, err
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Completion returns a function that runs one prompt against modelName
// through the retry loop and yields the response text.
func (e *Executor) Completion(modelName string) func(ctx context.Context, rowIndex int, prompt string) (string, error) {
	return func(ctx context.Context, rowIndex int, prompt string) (string, error) {
		res := e.Execute(ctx, model.Task{
			Identity: model.Identity{RowIndex: rowIndex, Model: modelName},
			Payload:  prompt,
		})
		if res.Status == StatusInterrupted && ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !res.OK() {
			return "", eris.Errorf("llm: completion failed with status %s", res.Status)
		}
		return res.Response, nil
	}
}
