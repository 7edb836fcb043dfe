package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StepOutput is what a step's agent produced.
type StepOutput struct {
	Content      string
	UndoEntryIDs []string
}

// Runner executes one step's task. The production implementation spawns an
// agent through the agent manager; tests substitute a fake.
type Runner interface {
	RunStep(ctx context.Context, step Step) (*StepOutput, error)
}

// Engine schedules workflow steps batch by batch and checkpoints state after
// every step transition.
type Engine struct {
	runner      Runner
	checkpoints *CheckpointStore
	retryDelay  time.Duration
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithCheckpoints enables checkpoint persistence.
func WithCheckpoints(store *CheckpointStore) EngineOption {
	return func(e *Engine) { e.checkpoints = store }
}

// WithRetryDelay sets the fixed delay between step retries.
func WithRetryDelay(d time.Duration) EngineOption {
	return func(e *Engine) { e.retryDelay = d }
}

func NewEngine(runner Runner, opts ...EngineOption) *Engine {
	e := &Engine{
		runner:     runner,
		retryDelay: 2 * time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExecuteOptions controls one workflow run.
type ExecuteOptions struct {
	// WorkflowID keys the checkpoint; generated when empty.
	WorkflowID string
	// Resume loads the checkpoint for WorkflowID, keeps successful step
	// results, and re-runs everything else.
	Resume bool
}

// Execute runs a workflow to completion. The returned state is always
// non-nil once the definition compiles; step failures are recorded in it
// rather than returned as an error.
func (e *Engine) Execute(ctx context.Context, def *Definition, opts ExecuteOptions) (*State, error) {
	graph, err := Compile(def)
	if err != nil {
		return nil, err
	}

	state, err := e.prepareState(def, opts)
	if err != nil {
		return nil, err
	}

	state.Status = StatusRunning
	if state.StartedAt.IsZero() {
		state.StartedAt = time.Now().UTC()
	}
	e.checkpoint(state, nil)

	slog.Info("workflow.started", "workflow", def.Name, "id", state.ID, "resume", opts.Resume)

	var mu sync.Mutex
	cancelled := false

	for _, batch := range graph.Batches() {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		var wg sync.WaitGroup
		for _, stepID := range batch {
			mu.Lock()
			prior, done := state.StepResults[stepID]
			mu.Unlock()
			if done && prior.Success {
				continue // resumed: reuse the earlier result
			}
			if ctx.Err() != nil {
				cancelled = true
				break
			}

			step, _ := def.Step(stepID)
			wg.Add(1)
			go func(step Step) {
				defer wg.Done()
				result := e.runStep(ctx, step, state, &mu)
				mu.Lock()
				state.StepResults[step.ID] = result
				state.CurrentStep = step.ID
				mu.Unlock()
				e.checkpoint(state, &mu)
			}(step)
		}
		wg.Wait()
		if cancelled {
			break
		}
	}

	state.EndedAt = time.Now().UTC()
	_, failed, _ := state.Counters()
	switch {
	case cancelled || ctx.Err() != nil:
		state.Status = StatusCancelled
	case failed > 0:
		state.Status = StatusFailed
	default:
		state.Status = StatusCompleted
	}

	if state.Status == StatusCompleted {
		if e.checkpoints != nil {
			if err := e.checkpoints.Delete(state.ID); err != nil {
				slog.Warn("workflow.checkpoint_delete_failed", "id", state.ID, "error", err)
			}
		}
	} else {
		e.checkpoint(state, nil)
	}

	completed, failedN, skipped := state.Counters()
	slog.Info("workflow.finished",
		"workflow", def.Name, "id", state.ID, "status", state.Status,
		"completed", completed, "failed", failedN, "skipped", skipped)
	return state, nil
}

func (e *Engine) prepareState(def *Definition, opts ExecuteOptions) (*State, error) {
	if opts.Resume {
		if e.checkpoints == nil {
			return nil, fmt.Errorf("workflow: resume requested without a checkpoint store")
		}
		state, err := e.checkpoints.Load(opts.WorkflowID)
		if err != nil {
			return nil, err
		}
		// Keep successful results; everything else re-runs.
		for id, r := range state.StepResults {
			if !r.Success {
				delete(state.StepResults, id)
			}
		}
		state.Definition = def
		state.EndedAt = time.Time{}
		return state, nil
	}

	id := opts.WorkflowID
	if id == "" {
		id = uuid.NewString()
	}
	return &State{
		ID:          id,
		Definition:  def,
		Status:      StatusPending,
		StepResults: make(map[string]*StepResult),
	}, nil
}

// runStep handles condition evaluation, dependency gating, retries, and the
// step timeout for one step.
func (e *Engine) runStep(ctx context.Context, step Step, state *State, mu *sync.Mutex) *StepResult {
	mu.Lock()
	snapshot := make(map[string]*StepResult, len(state.StepResults))
	for id, r := range state.StepResults {
		snapshot[id] = r
	}
	mu.Unlock()

	now := time.Now().UTC()
	result := &StepResult{StepID: step.ID, Agent: step.Agent, Start: now, End: now}

	for _, dep := range step.DependsOn {
		if r, ok := snapshot[dep]; !ok || !r.Success {
			result.Skipped = true
			result.Error = fmt.Sprintf("dependency %q did not succeed", dep)
			slog.Debug("workflow.step_skipped", "step", step.ID, "dependency", dep)
			return result
		}
	}

	if step.Condition != "" {
		ok, err := EvalCondition(step.Condition, snapshot)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		if !ok {
			result.Skipped = true
			slog.Debug("workflow.step_skipped", "step", step.ID, "condition", step.Condition)
			return result
		}
	}

	attempts := 1 + step.MaxRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		result.Attempts = attempt

		output, err := e.attemptStep(ctx, step)
		if err == nil {
			result.Success = true
			result.Output = output.Content
			result.UndoEntryIDs = output.UndoEntryIDs
			break
		}
		lastErr = err
		slog.Warn("workflow.step_attempt_failed",
			"step", step.ID, "attempt", attempt, "of", attempts, "error", err)

		if attempt < attempts {
			select {
			case <-time.After(e.retryDelay):
			case <-ctx.Done():
			}
		}
	}

	if !result.Success && lastErr != nil {
		result.Error = lastErr.Error()
	}
	result.End = time.Now().UTC()
	result.Duration = result.End.Sub(result.Start)
	return result
}

// attemptStep runs one attempt with the step's wall-clock timeout. Each
// attempt gets a fresh agent.
func (e *Engine) attemptStep(ctx context.Context, step Step) (*StepOutput, error) {
	if step.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSec)*time.Second)
		defer cancel()
	}
	out, err := e.runner.RunStep(ctx, step)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("step %q: runner returned no output", step.ID)
	}
	return out, nil
}

// checkpoint persists state if a store is configured. mu may be nil when the
// caller holds no concurrent writers.
func (e *Engine) checkpoint(state *State, mu *sync.Mutex) {
	if e.checkpoints == nil {
		return
	}
	var snap State
	if mu != nil {
		mu.Lock()
	}
	snap = *state
	snap.StepResults = make(map[string]*StepResult, len(state.StepResults))
	for id, r := range state.StepResults {
		cp := *r
		snap.StepResults[id] = &cp
	}
	if mu != nil {
		mu.Unlock()
	}
	if err := e.checkpoints.Save(&snap); err != nil {
		slog.Warn("workflow.checkpoint_failed", "id", state.ID, "error", err)
	}
}
