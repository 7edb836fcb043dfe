package workflow

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/forgeworks/forge/internal/undo"
)

const defaultMaxArchived = 20

// Rollback reverses the file mutations a workflow's steps made, by replaying
// the undo entries each step recorded. Entries are always replayed
// newest-first so overlapping edits unwind in reverse order.
type Rollback struct {
	mu       sync.Mutex
	history  *undo.History
	archived []*State
	maxKeep  int
}

func NewRollback(history *undo.History) *Rollback {
	return &Rollback{history: history, maxKeep: defaultMaxArchived}
}

// Archive retains a finished workflow state for later rollback. The archive
// is bounded; the oldest state is dropped past the cap.
func (r *Rollback) Archive(state *State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived = append(r.archived, state)
	if len(r.archived) > r.maxKeep {
		r.archived = r.archived[1:]
	}
}

// Archived returns retained states, oldest first.
func (r *Rollback) Archived() []*State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*State, len(r.archived))
	copy(out, r.archived)
	return out
}

// RollbackStep undoes a single step's mutations.
func (r *Rollback) RollbackStep(state *State, stepID string) error {
	result, ok := state.StepResults[stepID]
	if !ok {
		return fmt.Errorf("workflow %s: no result for step %q", state.ID, stepID)
	}
	return r.replay(state.ID, []*StepResult{result})
}

// RollbackTo undoes every step that ran after the given step, leaving the
// step itself and everything before it intact.
func (r *Rollback) RollbackTo(state *State, stepID string) error {
	pivot, ok := state.StepResults[stepID]
	if !ok {
		return fmt.Errorf("workflow %s: no result for step %q", state.ID, stepID)
	}

	var after []*StepResult
	for _, result := range state.StepResults {
		if result.StepID != stepID && result.Start.After(pivot.End) {
			after = append(after, result)
		}
	}
	return r.replay(state.ID, after)
}

// RollbackAll undoes the whole workflow.
func (r *Rollback) RollbackAll(state *State) error {
	results := make([]*StepResult, 0, len(state.StepResults))
	for _, result := range state.StepResults {
		results = append(results, result)
	}
	return r.replay(state.ID, results)
}

// replay collects the undo entry ids of the given steps and restores them
// newest-first. Commit order within the session history is what "newest"
// means; the id list per step is already in commit order.
func (r *Rollback) replay(workflowID string, results []*StepResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Order steps by start time so the flattened id list is in commit order
	// before reversal.
	sorted := make([]*StepResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var ids []string
	for _, result := range sorted {
		ids = append(ids, result.UndoEntryIDs...)
	}

	undone := 0
	for i := len(ids) - 1; i >= 0; i-- {
		entryID, err := uuid.Parse(ids[i])
		if err != nil {
			slog.Warn("workflow.rollback_bad_entry_id", "workflow", workflowID, "id", ids[i])
			continue
		}
		if err := r.history.UndoByID(entryID); err != nil {
			return fmt.Errorf("workflow %s: rollback: %w", workflowID, err)
		}
		undone++
	}

	slog.Info("workflow.rolled_back", "workflow", workflowID, "entries", undone)
	return nil
}
