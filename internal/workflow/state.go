package workflow

import "time"

// Status is the lifecycle state of a workflow run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StepResult records one step's outcome, including wall-clock timing and the
// undo entries its tool calls committed.
type StepResult struct {
	StepID   string        `json:"step_id"`
	Agent    string        `json:"agent"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"`
	Attempts int           `json:"attempts,omitempty"`

	UndoEntryIDs []string `json:"undo_entry_ids,omitempty"`
}

// State is the persisted run state of one workflow execution.
type State struct {
	ID          string                 `json:"id"`
	Definition  *Definition            `json:"definition"`
	Status      Status                 `json:"status"`
	CurrentStep string                 `json:"current_step,omitempty"`
	StepResults map[string]*StepResult `json:"step_results"`
	StartedAt   time.Time              `json:"started_at"`
	EndedAt     time.Time              `json:"ended_at,omitempty"`
}

// Counters summarizes step outcomes.
func (s *State) Counters() (completed, failed, skipped int) {
	for _, r := range s.StepResults {
		switch {
		case r.Skipped:
			skipped++
		case r.Success:
			completed++
		default:
			failed++
		}
	}
	return
}

// Success reports whether every step either succeeded or was skipped by its
// condition.
func (s *State) Success() bool {
	if s.Status != StatusCompleted {
		return false
	}
	_, failed, _ := s.Counters()
	return failed == 0
}
