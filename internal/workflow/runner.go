package workflow

import (
	"context"
	"fmt"

	"github.com/forgeworks/forge/internal/agent"
)

// AgentRunner executes steps by spawning fresh agent runs through the agent
// manager. Each attempt is a new loop and a new session.
type AgentRunner struct {
	Manager *agent.Manager
	// NewLoop builds a loop for the step's agent type.
	NewLoop func(agentType string) (*agent.Loop, error)
	// NewSession returns a session id for a step run. Optional.
	NewSession func(title string) string
}

func (r *AgentRunner) RunStep(ctx context.Context, step Step) (*StepOutput, error) {
	loop, err := r.NewLoop(step.Agent)
	if err != nil {
		return nil, fmt.Errorf("step %q: agent %q: %w", step.ID, step.Agent, err)
	}

	var sessionID string
	if r.NewSession != nil {
		sessionID = r.NewSession("workflow step " + step.ID)
	}

	runID := r.Manager.Spawn(ctx, loop, agent.RunRequest{
		SessionID: sessionID,
		Task:      step.Task(),
	})
	res, err := r.Manager.Wait(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &StepOutput{
		Content:      res.Content,
		UndoEntryIDs: res.UndoEntryIDs,
	}, nil
}
