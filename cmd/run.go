package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/bias-runner/internal/engine"
	"github.com/sells-group/bias-runner/internal/llm"
	"github.com/sells-group/bias-runner/internal/metrics"
	"github.com/sells-group/bias-runner/internal/scheduler"
)

// errIncomplete is returned when a run ends with tasks left to retry.
var errIncomplete = eris.New("run incomplete, rerun to resume")

var runStage string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every pending task of a stage",
	Long:  "Builds (or reloads) the stage's prompt table, skips tasks already in its results file, and runs the rest. Interrupting stops dispatch and keeps completed results; rerun to resume. Exits non-zero unless every task reached a recorded outcome.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initRunner(ctx, runStage)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Metrics.Addr != "" {
			shutdown := serveMetrics(cfg.Metrics.Addr)
			defer shutdown()
		}

		summary, err := env.Engine.Run(ctx, env.Stage)
		if err != nil {
			return eris.Wrap(err, "run stage")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return eris.Wrap(err, "write summary")
		}
		return incomplete(summary)
	},
}

// incomplete reports whether a run left tasks without a recorded outcome.
func incomplete(s *engine.Summary) error {
	if s.Interrupted || s.TimedOut > 0 {
		return eris.Wrapf(errIncomplete, "interrupted=%t timed_out=%d", s.Interrupted, s.TimedOut)
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runStage, "stage", "", "stage to run (see `stages`)")
	_ = runCmd.MarkFlagRequired("stage")
	rootCmd.AddCommand(runCmd)
}

// schedulerOptions sizes the pool. Each task's deadline leaves room for
// the executor's full retry schedule.
func schedulerOptions(exec *llm.Executor) scheduler.Options {
	return scheduler.Options{
		Workers:     cfg.Run.Workers,
		TaskWait:    cfg.TaskWait(),
		RetryBudget: exec.RetryBudget(),
	}
}

// metricsRouter serves Prometheus metrics and a health check.
func metricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return r
}

// serveMetrics exposes the metrics router on addr until the returned
// function is called.
func serveMetrics(addr string) func() {
	srv := &http.Server{Addr: addr, Handler: metricsRouter(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		zap.L().Info("metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
