package main

import (
	"context"
	"math"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/bias-runner/internal/bias"
	"github.com/sells-group/bias-runner/internal/checkpoint"
	"github.com/sells-group/bias-runner/internal/config"
	"github.com/sells-group/bias-runner/internal/engine"
	"github.com/sells-group/bias-runner/internal/llm"
	"github.com/sells-group/bias-runner/internal/resilience"
	"github.com/sells-group/bias-runner/pkg/anthropic"
	"github.com/sells-group/bias-runner/pkg/openrouter"
)

// runnerEnv holds the initialized provider, executors, stage, and
// checkpoint store needed by the run command.
type runnerEnv struct {
	Stage    bias.Stage
	Executor *llm.Executor
	Store    checkpoint.Store // nil unless the stage precomputes
	Engine   *engine.Engine
}

// Close releases resources held by the runner environment.
func (re *runnerEnv) Close() {
	if re.Store != nil {
		_ = re.Store.Close()
	}
}

// initRunner validates the config and wires the named stage to a provider.
// Callers should defer env.Close().
func initRunner(ctx context.Context, stageName string) (*runnerEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := newProvider()
	if err != nil {
		return nil, err
	}

	limiter := llm.NewAdaptiveLimiter(rate.Limit(cfg.API.RequestsPerSec), burst(cfg.API.RequestsPerSec))
	policy := resilience.FromConfig(cfg.Retry.MaxAttempts, cfg.Retry.TimeUnit, cfg.Retry.RateLimitCeiling)

	// Cleaning calls share the limiter so both stay under the provider's quota.
	cleaner := llm.NewExecutor(provider, llm.Options{
		Stage:       stageName + "_cleaning",
		Policy:      policy,
		CallTimeout: cfg.CallTimeout(),
		Limiter:     limiter,
	})

	stage, err := newStage(ctx, stageName, cleaner)
	if err != nil {
		return nil, err
	}

	exec := llm.NewExecutor(provider, llm.Options{
		Stage:       stage.Name(),
		Policy:      policy,
		CallTimeout: cfg.CallTimeout(),
		Limiter:     limiter,
		Extract:     stage.Extract,
	})

	env := &runnerEnv{Stage: stage, Executor: exec}
	if _, ok := stage.(bias.Precomputer); ok {
		env.Store, err = newCheckpointStore(ctx, stage.Name())
		if err != nil {
			return nil, err
		}
	}

	env.Engine = engine.New(exec, env.Store, engine.Options{
		DataDir:      cfg.Run.DataDir,
		InputCharset: cfg.Run.InputCharset,
		OutputDir:    cfg.Run.OutputDir,
		Models:       cfg.Run.Models,
		BatchSize:    cfg.Run.BatchSize,
		Scheduler:    schedulerOptions(exec),
		Checkpoint: checkpoint.Options{
			Interval: cfg.Checkpoint.Interval,
			Workers:  cfg.Checkpoint.Workers,
		},
	})
	return env, nil
}

// newProvider builds the completion provider selected by api.provider.
func newProvider() (llm.Provider, error) {
	params := llm.Params{Temperature: cfg.API.Temperature, MaxTokens: cfg.API.MaxTokens}

	switch cfg.API.Provider {
	case "openrouter":
		client := openrouter.NewClient(cfg.API.Key,
			openrouter.WithBaseURL(cfg.API.BaseURL),
			openrouter.WithSite(cfg.API.SiteURL, cfg.API.SiteName),
		)
		return llm.NewOpenRouter(client, params), nil
	case "anthropic":
		var opts []anthropic.Option
		if cfg.API.BaseURL != "" && cfg.API.BaseURL != config.DefaultOpenRouterURL {
			opts = append(opts, anthropic.WithBaseURL(cfg.API.BaseURL))
		}
		return llm.NewAnthropic(anthropic.NewClient(cfg.API.Key, opts...), params), nil
	default:
		return nil, eris.Errorf("unsupported provider: %s", cfg.API.Provider)
	}
}

// newStage constructs the named stage with its runtime inputs.
func newStage(ctx context.Context, name string, cleaner *llm.Executor) (bias.Stage, error) {
	switch name {
	case "rate":
		return bias.Rate{}, nil
	case "age":
		return bias.Age{Ages: bias.DefaultAges, Clean: cleaner.Completion(cfg.Cleaning.Model)}, nil
	case "gender":
		names, err := bias.LoadNames(ctx, cfg.Gender.NamesFile)
		if err != nil {
			// A persisted prompt table does not need the names again.
			if _, statErr := os.Stat(engine.PromptsPath(cfg.Run.OutputDir, name)); statErr == nil {
				zap.L().Warn("names table unavailable, using persisted prompts", zap.Error(err))
				return bias.Gender{}, nil
			}
			return nil, eris.Wrap(err, "load names table")
		}
		return bias.Gender{Names: names}, nil
	case "location":
		return bias.Location{Origins: bias.DefaultOrigins, Countries: bias.DefaultCountries}, nil
	default:
		return nil, eris.Wrapf(bias.ErrUnknownStage, "stage %q", name)
	}
}

// stageRegistry lists every stage for display. Runtime inputs are not loaded.
func stageRegistry() *bias.Registry {
	return bias.NewRegistry(
		bias.Rate{},
		bias.Age{Ages: bias.DefaultAges},
		bias.Gender{},
		bias.Location{Origins: bias.DefaultOrigins, Countries: bias.DefaultCountries},
	)
}

// newCheckpointStore opens the store for a stage's precompute cache.
func newCheckpointStore(ctx context.Context, stage string) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Driver {
	case "file":
		path := cfg.Checkpoint.Path
		if path == "" {
			path = filepath.Join(cfg.Run.OutputDir, stage+"_checkpoint.json")
		}
		return checkpoint.NewFileStore(path), nil
	case "sqlite":
		dsn := cfg.Checkpoint.Path
		if dsn == "" {
			dsn = filepath.Join(cfg.Run.OutputDir, "checkpoints.db")
		}
		st, err := checkpoint.NewSQLiteStore(ctx, dsn, stage)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported checkpoint driver: %s", cfg.Checkpoint.Driver)
	}
}

// burst allows one second's worth of requests at once.
func burst(rps float64) int {
	return max(1, int(math.Ceil(rps)))
}
