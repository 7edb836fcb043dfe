package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Run tracks one spawned agent task.
type Run struct {
	ID        string
	State     State
	StartedAt time.Time
	EndedAt   time.Time

	cancel context.CancelFunc
	done   chan struct{}
	result *RunResult
	err    error
}

// Manager spawns agent runs with bounded concurrency. Spawns past the bound
// queue until a slot frees.
type Manager struct {
	mu      sync.Mutex
	runs    map[string]*Run
	maxConc int
	slots   chan struct{}
}

var (
	defaultManager *Manager
	managerOnce    sync.Once
)

// Default returns the process-singleton Manager.
func Default() *Manager {
	managerOnce.Do(func() {
		defaultManager = NewManager(4)
	})
	return defaultManager
}

func NewManager(maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Manager{
		runs:    make(map[string]*Run),
		maxConc: maxConcurrent,
		slots:   make(chan struct{}, maxConcurrent),
	}
}

// Spawn starts req on loop in the background and returns the run id
// immediately. The run waits in pending state until a concurrency slot frees.
func (m *Manager) Spawn(ctx context.Context, loop *Loop, req RunRequest) string {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:     req.RunID,
		State:  StatePending,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	go func() {
		defer close(run.done)
		defer cancel()

		select {
		case m.slots <- struct{}{}:
			defer func() { <-m.slots }()
		case <-runCtx.Done():
			m.finish(run, nil, runCtx.Err())
			return
		}

		m.mu.Lock()
		run.State = StateRunning
		run.StartedAt = time.Now()
		m.mu.Unlock()

		result, err := loop.Run(runCtx, req)
		m.finish(run, result, err)
	}()

	return run.ID
}

func (m *Manager) finish(run *Run, result *RunResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.result = result
	run.err = err
	run.EndedAt = time.Now()
	switch {
	case err == nil:
		run.State = StateCompleted
	case result != nil && result.State == StateCancelled:
		run.State = StateCancelled
	default:
		run.State = StateFailed
	}
}

// Wait blocks until the run finishes or ctx is cancelled.
func (m *Manager) Wait(ctx context.Context, runID string) (*RunResult, error) {
	m.mu.Lock()
	run, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown run %q", runID)
	}

	select {
	case <-run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return run.result, run.err
}

// Cancel aborts a run. Cancelling a finished run is a no-op.
func (m *Manager) Cancel(runID string) error {
	m.mu.Lock()
	run, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown run %q", runID)
	}
	run.cancel()
	return nil
}

// RunInfo is a snapshot of one run's state.
type RunInfo struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
}

// List returns snapshots of all known runs.
func (m *Manager) List() []RunInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunInfo, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, RunInfo{
			ID: run.ID, State: run.State,
			StartedAt: run.StartedAt, EndedAt: run.EndedAt,
		})
	}
	return out
}

// Reset cancels everything and clears tracking. Test-only.
func (m *Manager) Reset() {
	m.mu.Lock()
	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.runs = make(map[string]*Run)
	m.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
}
