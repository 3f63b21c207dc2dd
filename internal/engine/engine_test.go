package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bias-runner/internal/bias"
	"github.com/sells-group/bias-runner/internal/checkpoint"
	"github.com/sells-group/bias-runner/internal/llm"
	"github.com/sells-group/bias-runner/internal/resilience"
	"github.com/sells-group/bias-runner/internal/scheduler"
	"github.com/sells-group/bias-runner/internal/source"
)

const profilesCSV = `title,description,locality,country,hourlyRate
Go developer,Builds backend services,Austin,United States,85
Data analyst,Cleans spreadsheets,Manila,Philippines,20
Designer,nan,,Canada,40
`

const okResponse = `{"recommended_hourly_rate_usd": 50, "reasoning": "market rate"}`

type providerFunc func(ctx context.Context, model, prompt string) (string, error)

func (f providerFunc) Complete(ctx context.Context, model, prompt string) (string, error) {
	return f(ctx, model, prompt)
}

func writeData(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profiles.csv"), []byte(profilesCSV), 0o644))
	return dir
}

func testExecutor(p llm.Provider, stage bias.Stage) *llm.Executor {
	return llm.NewExecutor(p, llm.Options{
		Stage:            stage.Name(),
		Policy:           resilience.Policy{MaxAttempts: 3, TimeUnit: time.Millisecond},
		CallTimeout:      time.Second,
		MaxPreCallJitter: -1,
		Extract:          stage.Extract,
		OnRetry:          func(int, resilience.Decision, error) {},
	})
}

func testOptions(dataDir, outDir string, workers int) Options {
	return Options{
		DataDir:   dataDir,
		OutputDir: outDir,
		Models:    []string{"model-a", "model-b"},
		BatchSize: 2,
		Scheduler: scheduler.Options{Workers: workers},
	}
}

func readResults(t *testing.T, path string) ([]string, []map[string]string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	header, rows, err := source.ReadCSV(context.Background(), f)
	require.NoError(t, err)
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]string, len(header))
		for i, h := range header {
			m[h] = row[i]
		}
		out = append(out, m)
	}
	return header, out
}

func TestRun_RateLimitedModelRecovers(t *testing.T) {
	var bCalls atomic.Int32
	p := providerFunc(func(_ context.Context, m, _ string) (string, error) {
		if m == "model-b" && bCalls.Add(1) <= 2 {
			return "", resilience.NewStatusError(errors.New("too many requests"), 429)
		}
		return okResponse, nil
	})

	stage := bias.Rate{}
	out := t.TempDir()
	eng := New(testExecutor(p, stage), nil, testOptions(writeData(t), out, 1))

	sum, err := eng.Run(context.Background(), stage)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Total)
	assert.Equal(t, 0, sum.Skipped)
	assert.Equal(t, 6, sum.Success)
	assert.Equal(t, 0, sum.Failed())
	assert.Equal(t, 6, sum.Written)
	assert.False(t, sum.Interrupted)
	assert.NotEmpty(t, sum.RunID)

	header, rows := readResults(t, ResultsPath(out, "rate"))
	assert.Equal(t, []string{
		"row_index", "model", "response", "recommended_rate", "reasoning",
		"status", "attempts", "backoff_ms", "hourly_rate", "source_file",
	}, header)
	require.Len(t, rows, 6)

	seen := make(map[string]bool)
	var retried map[string]string
	for _, r := range rows {
		key := r["row_index"] + "|" + r["model"]
		assert.False(t, seen[key], "duplicate row %s", key)
		seen[key] = true
		assert.Equal(t, "success", r["status"])
		assert.Equal(t, "50", r["recommended_rate"])
		assert.Equal(t, "profiles.csv", r["source_file"])
		if r["attempts"] == "3" {
			retried = r
		}
	}
	require.NotNil(t, retried, "one task should have needed three attempts")
	assert.Equal(t, "model-b", retried["model"])
	backoff, err := strconv.Atoi(retried["backoff_ms"])
	require.NoError(t, err)
	assert.GreaterOrEqual(t, backoff, 90)

	_, err = os.Stat(PromptsPath(out, "rate"))
	assert.NoError(t, err, "prompt table persisted")
}

func TestRun_RateLimitedModelRecoversWithinTaskWait(t *testing.T) {
	var bCalls atomic.Int32
	p := providerFunc(func(_ context.Context, m, _ string) (string, error) {
		if m == "model-b" && bCalls.Add(1) <= 2 {
			return "", resilience.NewStatusError(errors.New("too many requests"), 429)
		}
		return okResponse, nil
	})

	stage := bias.Rate{}
	out := t.TempDir()
	exec := testExecutor(p, stage)
	opts := testOptions(writeData(t), out, 1)
	// 60 units, shorter than the 30+60 units two 429s sleep.
	opts.Scheduler.TaskWait = 60 * time.Millisecond
	opts.Scheduler.RetryBudget = exec.RetryBudget()

	sum, err := New(exec, nil, opts).Run(context.Background(), stage)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Success)
	assert.Zero(t, sum.TimedOut)
	assert.Equal(t, 6, sum.Written)

	_, rows := readResults(t, ResultsPath(out, "rate"))
	assert.Len(t, rows, 6)
}

func TestRun_ResumeIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	p := providerFunc(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return okResponse, nil
	})

	stage := bias.Rate{}
	data, out := writeData(t), t.TempDir()
	eng := New(testExecutor(p, stage), nil, testOptions(data, out, 4))

	first, err := eng.Run(context.Background(), stage)
	require.NoError(t, err)
	assert.Equal(t, 6, first.Success)
	assert.Equal(t, int32(6), calls.Load())

	second, err := eng.Run(context.Background(), stage)
	require.NoError(t, err)
	assert.Equal(t, 6, second.Total)
	assert.Equal(t, 6, second.Skipped)
	assert.Equal(t, 0, second.Completed())
	assert.Equal(t, int32(6), calls.Load(), "no task re-executed")

	_, rows := readResults(t, ResultsPath(out, "rate"))
	assert.Len(t, rows, 6)
}

func TestRun_ResumesAfterTornTail(t *testing.T) {
	p := providerFunc(func(context.Context, string, string) (string, error) {
		return okResponse, nil
	})
	stage := bias.Rate{}
	data, out := writeData(t), t.TempDir()
	eng := New(testExecutor(p, stage), nil, testOptions(data, out, 2))

	_, err := eng.Run(context.Background(), stage)
	require.NoError(t, err)

	// Simulate a crash mid-write of the last row.
	path := ResultsPath(out, "rate")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b[:len(b)-10], 0o644))

	sum, err := eng.Run(context.Background(), stage)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Skipped)
	assert.Equal(t, 1, sum.Success)

	_, rows := readResults(t, path)
	assert.Len(t, rows, 6)
}

func TestRun_FailuresArePersisted(t *testing.T) {
	p := providerFunc(func(_ context.Context, m, prompt string) (string, error) {
		switch {
		case m == "model-a" && strings.Contains(prompt, "Designer"):
			return "", resilience.NewStatusError(errors.New("bad request"), 400)
		case m == "model-b" && strings.Contains(prompt, "Designer"):
			return "", resilience.NewStatusError(errors.New("unavailable"), 503)
		case strings.Contains(prompt, "Data analyst"):
			return "no json here", nil
		}
		return okResponse, nil
	})

	stage := bias.Rate{}
	out := t.TempDir()
	eng := New(testExecutor(p, stage), nil, testOptions(writeData(t), out, 3))

	sum, err := eng.Run(context.Background(), stage)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Success)
	assert.Equal(t, 2, sum.Unparsed)
	assert.Equal(t, 1, sum.Rejected)
	assert.Equal(t, 1, sum.Exhausted)
	assert.Equal(t, 6, sum.Written)

	_, rows := readResults(t, ResultsPath(out, "rate"))
	statuses := make(map[string]int)
	for _, r := range rows {
		statuses[r["status"]]++
	}
	assert.Equal(t, map[string]int{"success": 4, "error_400": 1, "max_retries_exceeded": 1}, statuses)
}

func TestRun_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	served := 0
	p := providerFunc(func(ctx context.Context, _, _ string) (string, error) {
		mu.Lock()
		served++
		n := served
		mu.Unlock()
		if n <= 2 {
			return okResponse, nil
		}
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})

	stage := bias.Rate{}
	data, out := writeData(t), t.TempDir()
	eng := New(testExecutor(p, stage), nil, testOptions(data, out, 1))

	sum, err := eng.Run(ctx, stage)
	require.NoError(t, err)
	assert.True(t, sum.Interrupted)
	assert.Equal(t, 2, sum.Success)

	_, rows := readResults(t, ResultsPath(out, "rate"))
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "success", r["status"], "interrupted tasks are not persisted")
	}

	ok := providerFunc(func(context.Context, string, string) (string, error) { return okResponse, nil })
	resumed, err := New(testExecutor(ok, stage), nil, testOptions(data, out, 1)).Run(context.Background(), stage)
	require.NoError(t, err)
	assert.Equal(t, 2, resumed.Skipped)
	assert.Equal(t, 4, resumed.Success)
}

func TestRun_TaskWaitTimesOut(t *testing.T) {
	p := providerFunc(func(ctx context.Context, m, _ string) (string, error) {
		if m == "model-b" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return okResponse, nil
	})

	stage := bias.Rate{}
	out := t.TempDir()
	opts := testOptions(writeData(t), out, 6)
	opts.Scheduler.TaskWait = 20 * time.Millisecond
	eng := New(testExecutor(p, stage), nil, opts)

	sum, err := eng.Run(context.Background(), stage)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Success)
	assert.Equal(t, 3, sum.TimedOut)

	_, rows := readResults(t, ResultsPath(out, "rate"))
	assert.Len(t, rows, 3, "timed out tasks are not persisted")
}

func TestRun_PrecomputeUsesCheckpoint(t *testing.T) {
	var cleanCalls atomic.Int32
	stage := bias.Age{
		Ages: []int{30},
		Clean: func(_ context.Context, _ int, prompt string) (string, error) {
			cleanCalls.Add(1)
			return "cleaned profile", nil
		},
	}
	p := providerFunc(func(context.Context, string, string) (string, error) { return okResponse, nil })

	data, out := writeData(t), t.TempDir()
	store := checkpoint.NewFileStore(filepath.Join(out, "age_checkpoint.json"))
	eng := New(testExecutor(p, stage), store, testOptions(data, out, 4))

	sum, err := eng.Run(context.Background(), stage)
	require.NoError(t, err)
	// Three records, one age, three variants, two models.
	assert.Equal(t, 18, sum.Total)
	assert.Equal(t, 18, sum.Success)
	// The record with a missing description is never sent for cleaning.
	assert.Equal(t, int32(2), cleanCalls.Load())

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, loaded, 3)

	_, rows := readResults(t, ResultsPath(out, "age"))
	require.Len(t, rows, 18)
	assert.Equal(t, "30", rows[0]["age"])
}

func TestRun_PrecomputeNeedsStore(t *testing.T) {
	stage := bias.Age{Clean: func(context.Context, int, string) (string, error) { return "", nil }}
	p := providerFunc(func(context.Context, string, string) (string, error) { return okResponse, nil })
	eng := New(testExecutor(p, stage), nil, testOptions(writeData(t), t.TempDir(), 1))

	_, err := eng.Run(context.Background(), stage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint store")
}

func TestRun_NoInput(t *testing.T) {
	p := providerFunc(func(context.Context, string, string) (string, error) { return okResponse, nil })
	stage := bias.Rate{}
	eng := New(testExecutor(p, stage), nil, testOptions(t.TempDir(), t.TempDir(), 1))

	_, err := eng.Run(context.Background(), stage)
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrNoInput)
}

func TestRun_NoModels(t *testing.T) {
	stage := bias.Rate{}
	opts := testOptions(t.TempDir(), t.TempDir(), 1)
	opts.Models = nil
	_, err := New(testExecutor(nil, stage), nil, opts).Run(context.Background(), stage)
	require.Error(t, err)
}

func TestSummary_Counts(t *testing.T) {
	s := &Summary{Success: 3, Rejected: 1, Errored: 2, Exhausted: 1, TimedOut: 1}
	assert.Equal(t, 5, s.Failed())
	assert.Equal(t, 8, s.Completed())
}

func TestPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "age_prompts.csv"), PromptsPath("out", "age"))
	assert.Equal(t, filepath.Join("out", "age_results.csv"), ResultsPath("out", "age"))
}
