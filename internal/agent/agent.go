// Package agent runs the think-act-observe loop: LLM calls, tool execution,
// and budget enforcement for one task at a time.
package agent

import (
	"github.com/forgeworks/forge/internal/providers"
)

// State is the lifecycle state of an agent run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Event is emitted during agent execution for UI rendering.
type Event struct {
	Type    string      `json:"type"` // "run.started", "run.completed", "run.failed", "chunk", "tool.call", "tool.result"
	RunID   string      `json:"runId"`
	Payload interface{} `json:"payload,omitempty"`
}

// RunRequest is the input for processing a task through the agent.
type RunRequest struct {
	SessionID    string
	Task         string
	SystemPrompt string
	Stream       bool
	RunID        string
	// DryRun short-circuits mutating tools to a synthetic success instead of
	// executing them.
	DryRun bool
}

// RunResult is the output of a completed agent run.
type RunResult struct {
	Content    string           `json:"content"`
	RunID      string           `json:"runId"`
	State      State            `json:"state"`
	Iterations int              `json:"iterations"`
	Usage      *providers.Usage `json:"usage,omitempty"`
	// UndoEntryIDs lists, in commit order, the undo entries produced by this
	// run's tool calls. Workflow rollback replays them newest-first.
	UndoEntryIDs []string `json:"undoEntryIds,omitempty"`
}
