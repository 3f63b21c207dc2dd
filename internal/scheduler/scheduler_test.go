package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bias-runner/internal/model"
)

func makeTasks(n int, models ...string) []model.Task {
	var tasks []model.Task
	for i := range n {
		row := model.PromptRow{RowIndex: i, Prompt: "p"}
		tasks = append(tasks, row.TasksFor(models)...)
	}
	return tasks
}

func okExec(_ context.Context, task model.Task) model.Result {
	return model.Result{Identity: task.Identity, Status: model.StatusSuccess}
}

func collect(ch <-chan Outcome) []Outcome {
	var out []Outcome
	for o := range ch {
		out = append(out, o)
	}
	return out
}

func TestRun_AllTasksComplete(t *testing.T) {
	tasks := makeTasks(10, "a", "b")
	outcomes := collect(Run(context.Background(), tasks, Options{Workers: 4}, okExec))

	require.Len(t, outcomes, 20)
	seen := map[string]bool{}
	for _, o := range outcomes {
		assert.False(t, o.TimedOut)
		assert.True(t, o.Result.OK())
		assert.Equal(t, o.Identity, o.Result.Identity)
		seen[o.Identity.Key()] = true
	}
	assert.Len(t, seen, 20)
}

func TestRun_ConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	exec := func(ctx context.Context, task model.Task) model.Result {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return okExec(ctx, task)
	}

	outcomes := collect(Run(context.Background(), makeTasks(30, "a"), Options{Workers: 3}, exec))
	assert.Len(t, outcomes, 30)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(1))
}

func TestRun_DuplicateIdentitiesDropped(t *testing.T) {
	tasks := append(makeTasks(3, "a"), makeTasks(3, "a")...)

	var mu sync.Mutex
	calls := map[string]int{}
	exec := func(ctx context.Context, task model.Task) model.Result {
		mu.Lock()
		calls[task.Identity.Key()]++
		mu.Unlock()
		return okExec(ctx, task)
	}

	outcomes := collect(Run(context.Background(), tasks, Options{Workers: 6}, exec))
	assert.Len(t, outcomes, 3)
	for k, n := range calls {
		assert.Equal(t, 1, n, k)
	}
}

func TestRun_CompletionOrder(t *testing.T) {
	tasks := makeTasks(2, "a")
	exec := func(ctx context.Context, task model.Task) model.Result {
		if task.Identity.RowIndex == 0 {
			time.Sleep(30 * time.Millisecond)
		}
		return okExec(ctx, task)
	}

	outcomes := collect(Run(context.Background(), tasks, Options{Workers: 2}, exec))
	require.Len(t, outcomes, 2)
	assert.Equal(t, 1, outcomes[0].Identity.RowIndex)
	assert.Equal(t, 0, outcomes[1].Identity.RowIndex)
}

func TestRun_TaskWait(t *testing.T) {
	exec := func(ctx context.Context, task model.Task) model.Result {
		<-ctx.Done()
		return model.Result{Identity: task.Identity, Status: "error_interrupted"}
	}

	start := time.Now()
	outcomes := collect(Run(context.Background(), makeTasks(1, "a"), Options{Workers: 1, TaskWait: 20 * time.Millisecond}, exec))
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].TimedOut)
	assert.Empty(t, outcomes[0].Result.Status)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRun_MissedDeadlineHoldsSlot(t *testing.T) {
	var inFlight, peak atomic.Int32
	exec := func(_ context.Context, task model.Task) model.Result {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(60 * time.Millisecond)
		return okExec(context.Background(), task)
	}

	outcomes := collect(Run(context.Background(), makeTasks(3, "a"), Options{Workers: 1, TaskWait: 10 * time.Millisecond}, exec))
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.True(t, o.TimedOut)
	}
	assert.Equal(t, int32(1), peak.Load())
}

func TestRun_RetryBudgetExtendsDeadline(t *testing.T) {
	exec := func(ctx context.Context, task model.Task) model.Result {
		select {
		case <-time.After(40 * time.Millisecond):
			return okExec(ctx, task)
		case <-ctx.Done():
			return model.Result{Identity: task.Identity, Status: "error_interrupted"}
		}
	}

	opts := Options{Workers: 1, TaskWait: 20 * time.Millisecond, RetryBudget: 200 * time.Millisecond}
	outcomes := collect(Run(context.Background(), makeTasks(1, "a"), opts, exec))
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].TimedOut)
	assert.True(t, outcomes[0].Result.OK())

	assert.Zero(t, Options{RetryBudget: time.Second}.deadline(), "no TaskWait disables the deadline")
}

func TestRun_Interrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Int32
	exec := func(ctx context.Context, task model.Task) model.Result {
		if started.Add(1) == 3 {
			cancel()
		}
		<-ctx.Done()
		return model.Result{Identity: task.Identity, Status: "error_interrupted"}
	}

	done := make(chan []Outcome)
	go func() { done <- collect(Run(ctx, makeTasks(100, "a"), Options{Workers: 3}, exec)) }()

	select {
	case outcomes := <-done:
		assert.Empty(t, outcomes, "interrupted tasks are abandoned")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after interrupt")
	}
	assert.LessOrEqual(t, started.Load(), int32(6))
}

func TestRun_Empty(t *testing.T) {
	assert.Empty(t, collect(Run(context.Background(), nil, Options{}, okExec)))
}
