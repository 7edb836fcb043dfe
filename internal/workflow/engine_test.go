package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner scripts per-step outcomes and records invocations.
type fakeRunner struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]int // fail the first N attempts of a step
	block map[string]bool
	undo  map[string][]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		calls: make(map[string]int),
		fail:  make(map[string]int),
		block: make(map[string]bool),
		undo:  make(map[string][]string),
	}
}

func (r *fakeRunner) RunStep(ctx context.Context, step Step) (*StepOutput, error) {
	r.mu.Lock()
	r.calls[step.ID]++
	attempt := r.calls[step.ID]
	failUntil := r.fail[step.ID]
	blocked := r.block[step.ID]
	undo := r.undo[step.ID]
	r.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if attempt <= failUntil {
		return nil, fmt.Errorf("step %s attempt %d failed", step.ID, attempt)
	}
	return &StepOutput{Content: "done " + step.ID, UndoEntryIDs: undo}, nil
}

func (r *fakeRunner) callCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func diamondDef() *Definition {
	return &Definition{
		Name: "wf", Version: "1.0.0", Description: "t",
		Steps: []Step{
			{ID: "a", Agent: "general", Description: "A"},
			{ID: "b", Agent: "general", Description: "B", DependsOn: []string{"a"}},
			{ID: "c", Agent: "general", Description: "C", DependsOn: []string{"a"}, ParallelWith: []string{"b"}},
		},
	}
}

func TestExecuteHappyPath(t *testing.T) {
	runner := newFakeRunner()
	engine := NewEngine(runner, WithRetryDelay(time.Millisecond))

	state, err := engine.Execute(context.Background(), diamondDef(), ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.True(t, state.Success())

	completed, failed, skipped := state.Counters()
	assert.Equal(t, 3, completed)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 0, skipped)

	// Dependents start only after their dependency ended.
	a := state.StepResults["a"]
	for _, id := range []string{"b", "c"} {
		r := state.StepResults[id]
		assert.False(t, r.Start.Before(a.End), "%s started before a ended", id)
	}
}

func TestExecuteFailureAndResume(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir())
	require.NoError(t, err)

	runner := newFakeRunner()
	runner.fail["b"] = 1
	engine := NewEngine(runner, WithRetryDelay(time.Millisecond), WithCheckpoints(store))

	state, err := engine.Execute(context.Background(), diamondDef(), ExecuteOptions{WorkflowID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	_, failed, _ := state.Counters()
	assert.Equal(t, 1, failed)
	assert.True(t, store.Exists("run-1"), "failed run keeps its checkpoint")

	resumed, err := engine.Execute(context.Background(), diamondDef(), ExecuteOptions{
		WorkflowID: "run-1", Resume: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Equal(t, 1, runner.callCount("a"), "successful steps are not re-run on resume")
	assert.Equal(t, 2, runner.callCount("b"))
	assert.False(t, store.Exists("run-1"), "clean completion deletes the checkpoint")
}

func TestExecuteMaxRetriesZeroRunsOnce(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["a"] = 5
	def := &Definition{
		Name: "wf", Version: "1", Description: "t",
		Steps: []Step{{ID: "a", Agent: "general", Description: "A", MaxRetries: 0}},
	}
	engine := NewEngine(runner, WithRetryDelay(time.Millisecond))

	state, err := engine.Execute(context.Background(), def, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, 1, runner.callCount("a"))
}

func TestExecuteRetriesRespawn(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["a"] = 2
	def := &Definition{
		Name: "wf", Version: "1", Description: "t",
		Steps: []Step{{ID: "a", Agent: "general", Description: "A", MaxRetries: 3}},
	}
	engine := NewEngine(runner, WithRetryDelay(time.Millisecond))

	state, err := engine.Execute(context.Background(), def, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, 3, runner.callCount("a"))
	assert.Equal(t, 3, state.StepResults["a"].Attempts)
}

func TestExecuteStepTimeout(t *testing.T) {
	runner := newFakeRunner()
	runner.block["a"] = true
	def := &Definition{
		Name: "wf", Version: "1", Description: "t",
		Steps: []Step{{ID: "a", Agent: "general", Description: "A", TimeoutSec: 1}},
	}
	engine := NewEngine(runner, WithRetryDelay(time.Millisecond))

	start := time.Now()
	state, err := engine.Execute(context.Background(), def, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Contains(t, state.StepResults["a"].Error, "context deadline exceeded")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteConditionSkipCascades(t *testing.T) {
	runner := newFakeRunner()
	def := &Definition{
		Name: "wf", Version: "1", Description: "t",
		Steps: []Step{
			{ID: "a", Agent: "general", Description: "A"},
			{ID: "b", Agent: "general", Description: "B", DependsOn: []string{"a"}, Condition: "NOT a.success"},
			{ID: "c", Agent: "general", Description: "C", DependsOn: []string{"b"}, Condition: "b.success"},
		},
	}
	engine := NewEngine(runner, WithRetryDelay(time.Millisecond))

	state, err := engine.Execute(context.Background(), def, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.True(t, state.StepResults["b"].Skipped, "false condition skips the step")
	assert.True(t, state.StepResults["c"].Skipped, "skip cascades to dependents")
	assert.Equal(t, 1, runner.callCount("a"))
	assert.Equal(t, 0, runner.callCount("b"))
	assert.Equal(t, 0, runner.callCount("c"))
}

func TestExecuteDependencyFailureSkipsDependents(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["a"] = 10
	def := &Definition{
		Name: "wf", Version: "1", Description: "t",
		Steps: []Step{
			{ID: "a", Agent: "general", Description: "A"},
			{ID: "b", Agent: "general", Description: "B", DependsOn: []string{"a"}},
		},
	}
	engine := NewEngine(runner, WithRetryDelay(time.Millisecond))

	state, err := engine.Execute(context.Background(), def, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.True(t, state.StepResults["b"].Skipped)
	assert.Contains(t, state.StepResults["b"].Error, `dependency "a"`)
}

func TestExecuteCancellation(t *testing.T) {
	runner := newFakeRunner()
	runner.block["a"] = true
	engine := NewEngine(runner, WithRetryDelay(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	state, err := engine.Execute(ctx, diamondDef(), ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, state.Status)
	// Unstarted batch members never ran.
	assert.Equal(t, 0, runner.callCount("b"))
	assert.Equal(t, 0, runner.callCount("c"))
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir())
	require.NoError(t, err)
	engine := NewEngine(newFakeRunner(), WithCheckpoints(store))

	_, err = engine.Execute(context.Background(), diamondDef(), ExecuteOptions{
		WorkflowID: "missing", Resume: true,
	})
	assert.True(t, errors.Is(err, ErrNoCheckpoint))
}

func TestSchedulerRegisterAndFire(t *testing.T) {
	runner := newFakeRunner()
	engine := NewEngine(runner, WithRetryDelay(time.Millisecond))
	s := NewScheduler(engine)

	require.Error(t, s.Register("bad", "not a cron", diamondDef()))
	require.NoError(t, s.Register("every-minute", "* * * * *", diamondDef()))
	require.Len(t, s.Entries(), 1)

	s.fireDue(context.Background())
	assert.Eventually(t, func() bool {
		return runner.callCount("a") >= 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Unregister("every-minute")
	assert.Empty(t, s.Entries())
}
