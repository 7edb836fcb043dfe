package store

import (
	"database/sql"
	"time"

	"github.com/forgeworks/forge/internal/workflow"
)

// WorkflowRun is one recorded workflow execution.
type WorkflowRun struct {
	ID             string
	Name           string
	Status         string
	StepsCompleted int
	StepsFailed    int
	StartedAt      time.Time
	EndedAt        time.Time
}

// RecordWorkflowRun upserts the run row for a finished (or checkpointed)
// workflow state.
func (d *DB) RecordWorkflowRun(state *workflow.State) error {
	completed, failed, _ := state.Counters()
	_, err := d.db.Exec(`
		INSERT INTO workflow_runs (id, name, status, steps_completed, steps_failed, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			steps_completed = excluded.steps_completed,
			steps_failed = excluded.steps_failed,
			ended_at = excluded.ended_at`,
		state.ID, state.Definition.Name, string(state.Status),
		completed, failed, state.StartedAt, nullableTime(state.EndedAt))
	return err
}

// ListWorkflowRuns returns the newest runs. limit <= 0 means 50.
func (d *DB) ListWorkflowRuns(limit int) ([]WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(`
		SELECT id, name, status, steps_completed, steps_failed, started_at, ended_at
		FROM workflow_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkflowRun
	for rows.Next() {
		var run WorkflowRun
		var started, ended sql.NullTime
		if err := rows.Scan(&run.ID, &run.Name, &run.Status,
			&run.StepsCompleted, &run.StepsFailed, &started, &ended); err != nil {
			return nil, err
		}
		run.StartedAt = started.Time
		run.EndedAt = ended.Time
		out = append(out, run)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
