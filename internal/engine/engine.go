// Package engine drives one stage from input records to a complete results
// file. Runs are resumable: tasks already present in the results file are
// skipped, so an interrupted run picks up where it stopped.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bias-runner/internal/bias"
	"github.com/sells-group/bias-runner/internal/checkpoint"
	"github.com/sells-group/bias-runner/internal/dedup"
	"github.com/sells-group/bias-runner/internal/llm"
	"github.com/sells-group/bias-runner/internal/metrics"
	"github.com/sells-group/bias-runner/internal/model"
	"github.com/sells-group/bias-runner/internal/scheduler"
	"github.com/sells-group/bias-runner/internal/sink"
	"github.com/sells-group/bias-runner/internal/source"
)

// DefaultProgressEvery is the number of completions between progress logs.
const DefaultProgressEvery = 10

// Executor runs one task to a terminal result.
type Executor interface {
	Execute(ctx context.Context, task model.Task) model.Result
}

// Options configures an Engine.
type Options struct {
	DataDir string
	// InputCharset names the charset of CSV input. Empty means UTF-8.
	InputCharset string
	OutputDir    string
	Models       []string
	BatchSize    int
	Scheduler    scheduler.Options
	// Checkpoint configures the precompute cache of stages that need one.
	Checkpoint checkpoint.Options
	// ProgressEvery logs progress after this many completions. Default: 10.
	ProgressEvery int
}

// Engine runs stages against one executor.
type Engine struct {
	exec  Executor
	store checkpoint.Store
	opts  Options
}

// New creates an Engine. store backs the precompute cache and may be nil
// when no stage that precomputes will be run.
func New(exec Executor, store checkpoint.Store, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = sink.DefaultBatchSize
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	return &Engine{exec: exec, store: store, opts: opts}
}

// PromptsPath returns the prompt table path of a stage.
func PromptsPath(dir, stage string) string {
	return filepath.Join(dir, stage+"_prompts.csv")
}

// ResultsPath returns the results file path of a stage.
func ResultsPath(dir, stage string) string {
	return filepath.Join(dir, stage+"_results.csv")
}

// Run executes every task of stage that has no persisted result yet.
// Per-task failures are recorded in the results file and the summary; an
// error is returned only when the run cannot be set up or its results
// cannot be persisted. Cancelling ctx stops dispatch, flushes what has
// completed, and returns a summary with Interrupted set.
func (e *Engine) Run(ctx context.Context, stage bias.Stage) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: uuid.New().String(), Stage: stage.Name()}
	log := zap.L().With(zap.String("stage", stage.Name()), zap.String("run_id", sum.RunID))
	log.Info("engine: starting run", zap.Strings("models", e.opts.Models))

	if len(e.opts.Models) == 0 {
		return nil, eris.New("engine: no models configured")
	}

	table := source.PromptTable{
		Path:    PromptsPath(e.opts.OutputDir, stage.Name()),
		Columns: stage.PromptColumns(),
	}
	rows, built, err := table.LoadOrBuild(ctx, func(ctx context.Context) ([]model.PromptRow, error) {
		return e.build(ctx, stage)
	})
	if err != nil {
		if ctx.Err() != nil {
			sum.Interrupted = true
			log.Warn("engine: interrupted while building prompts", zap.Error(err))
			return sum, nil
		}
		return nil, eris.Wrap(err, "engine: prompt table")
	}
	log.Info("engine: prompt table ready",
		zap.Int("rows", len(rows)),
		zap.Bool("built", built),
		zap.String("path", table.Path),
	)

	var tasks []model.Task
	for _, row := range rows {
		tasks = append(tasks, row.TasksFor(e.opts.Models)...)
	}
	sum.Total = len(tasks)

	resultsPath := ResultsPath(e.opts.OutputDir, stage.Name())
	// The writer cuts any torn tail before the dedup scan sees it.
	writer, err := sink.NewWriter(resultsPath, sink.Schema{
		Fields:   stage.Fields(),
		Metadata: stage.ResultColumns(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "engine: open results")
	}
	if ok, herr := writer.HeaderMatches(); herr != nil {
		log.Warn("engine: could not read results header", zap.Error(herr))
	} else if !ok {
		log.Warn("engine: results header differs from stage columns", zap.String("path", resultsPath))
	}
	done := dedup.Load(ctx, resultsPath)
	pending := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if done.Contains(t.Identity) {
			continue
		}
		pending = append(pending, t)
	}
	sum.Skipped = sum.Total - len(pending)
	metrics.RecordSkipped(stage.Name(), sum.Skipped)
	log.Info("engine: tasks planned",
		zap.Int("total", sum.Total),
		zap.Int("skipped", sum.Skipped),
		zap.Int("pending", len(pending)),
	)
	if len(pending) == 0 {
		log.Info("engine: all tasks already completed")
		sum.Elapsed = time.Since(start)
		return sum, nil
	}

	batcher := sink.NewBatcher(writer, e.opts.BatchSize)

	completed := 0
	for o := range scheduler.Run(ctx, pending, e.opts.Scheduler, e.exec.Execute) {
		completed++
		e.record(sum, batcher, o, log)
		if completed%e.opts.ProgressEvery == 0 || completed == len(pending) {
			log.Info("engine: progress",
				zap.String("progress", fmt.Sprintf("%d/%d", completed, len(pending))),
				zap.Int("success", sum.Success),
				zap.Int("failed", sum.Failed()),
			)
		}
	}

	sum.Interrupted = ctx.Err() != nil
	if err := batcher.Close(); err != nil {
		return sum, eris.Wrap(err, "engine: flush results")
	}
	sum.Written = batcher.Written()
	sum.Elapsed = time.Since(start)

	fields := append(sum.fields(), zap.Duration("elapsed", sum.Elapsed))
	if sum.Interrupted {
		log.Warn("engine: run interrupted, rerun to resume", fields...)
	} else {
		log.Info("engine: run complete", fields...)
	}
	return sum, nil
}

// build loads the input records, runs the stage's precompute if it has
// one, and renders the prompt rows.
func (e *Engine) build(ctx context.Context, stage bias.Stage) ([]model.PromptRow, error) {
	records, err := source.LoadDir(ctx, e.opts.DataDir, source.WithCharset(e.opts.InputCharset))
	if err != nil {
		return nil, err
	}

	var derived map[string]string
	if p, ok := stage.(bias.Precomputer); ok {
		if e.store == nil {
			return nil, eris.Errorf("engine: stage %s needs a checkpoint store", stage.Name())
		}
		cache := checkpoint.New(e.store, e.opts.Checkpoint)
		derived, err = cache.Fill(ctx, p.PrecomputeKeys(records), p.Derive(records))
		if err != nil {
			return nil, eris.Wrap(err, "engine: precompute")
		}
	}
	return stage.Build(records, derived)
}

// record accounts for one outcome and queues its result for persistence.
func (e *Engine) record(sum *Summary, batcher *sink.Batcher, o scheduler.Outcome, log *zap.Logger) {
	if o.TimedOut {
		sum.TimedOut++
		metrics.RecordResult(sum.Stage, "timed_out")
		log.Warn("engine: task timed out", zap.Int("row_index", o.Identity.RowIndex), zap.String("model", o.Identity.Model))
		return
	}
	res := o.Result
	if res.Status == llm.StatusInterrupted {
		return
	}

	class := model.ClassifyStatus(res.Status)
	switch class {
	case model.ClassSuccess:
		sum.Success++
		if res.Fields == nil {
			sum.Unparsed++
		}
	case model.ClassRejected:
		sum.Rejected++
	case model.ClassExhausted:
		sum.Exhausted++
	default:
		sum.Errored++
	}
	metrics.RecordResult(sum.Stage, string(class))

	if err := batcher.Add(res); err != nil {
		log.Error("engine: flush failed, results kept for retry",
			zap.Int("pending", batcher.Pending()),
			zap.Error(err),
		)
	}
}
