package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/forge/internal/hooks"
	"github.com/forgeworks/forge/internal/permissions"
	"github.com/forgeworks/forge/internal/undo"
)

// fakeTool is a configurable test tool.
type fakeTool struct {
	name     string
	category Category
	execute  func(ctx context.Context, args map[string]interface{}) *Result
	mutated  []string
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "test tool" }
func (f *fakeTool) Category() Category  { return f.category }
func (f *fakeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"value": map[string]interface{}{"type": "string"},
		},
		"required": []string{"value"},
	}
}
func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return f.execute(ctx, args)
}
func (f *fakeTool) MutatedPaths(map[string]interface{}) []string { return f.mutated }

type fixedConfirmer struct{ answer Answer }

func (c fixedConfirmer) Confirm(context.Context, string, string, map[string]interface{}) (Answer, error) {
	return c.answer, nil
}

func newTestRuntime(t Tool, answer Answer) *Runtime {
	reg := NewRegistry()
	reg.Register(t)
	return &Runtime{
		Registry: reg,
		Permissions: permissions.NewEngine(permissions.Options{
			DenyThreshold: 100, DenyWindow: time.Minute, DenyBackoff: time.Minute,
		}),
		Undo:      undo.NewStore(0, 0),
		Confirmer: fixedConfirmer{answer: answer},
	}
}

func okTool(name string) *fakeTool {
	return &fakeTool{
		name:     name,
		category: CategoryReadOnly,
		execute: func(context.Context, map[string]interface{}) *Result {
			return NewResult("ok")
		},
	}
}

func TestRuntimeUnknownTool(t *testing.T) {
	rt := newTestRuntime(okTool("Known"), AnswerYes)
	res := rt.Execute(context.Background(), Invocation{SessionID: "s", Tool: "Missing"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "unknown tool")
}

func TestRuntimeSchemaValidation(t *testing.T) {
	rt := newTestRuntime(okTool("Echo"), AnswerYes)

	res := rt.Execute(context.Background(), Invocation{
		SessionID: "s", Tool: "Echo", Args: map[string]interface{}{},
	})
	assert.True(t, res.IsError, "missing required arg rejected")

	res = rt.Execute(context.Background(), Invocation{
		SessionID: "s", Tool: "Echo", Args: map[string]interface{}{"value": 42},
	})
	assert.True(t, res.IsError, "wrong type rejected")

	res = rt.Execute(context.Background(), Invocation{
		SessionID: "s", Tool: "Echo", Args: map[string]interface{}{"value": "hi"},
	})
	assert.False(t, res.IsError)
	assert.Equal(t, "ok", res.ForLLM)
}

func TestRuntimePermissionDeny(t *testing.T) {
	rt := newTestRuntime(okTool("Echo"), AnswerYes)
	require.NoError(t, rt.Permissions.Global().Add(&permissions.Rule{
		Pattern: "tool:Echo", Permission: permissions.Deny, Enabled: true,
	}))

	res := rt.Execute(context.Background(), Invocation{
		SessionID: "s", Tool: "Echo", Args: map[string]interface{}{"value": "x"},
	})
	assert.True(t, res.IsError)
	assert.True(t, errors.Is(res.Err, ErrPermissionDenied))
}

func TestRuntimeAskDeclined(t *testing.T) {
	rt := newTestRuntime(okTool("Echo"), AnswerNo)
	res := rt.Execute(context.Background(), Invocation{
		SessionID: "s", Tool: "Echo", Args: map[string]interface{}{"value": "x"},
	})
	assert.True(t, res.IsError)
	assert.True(t, errors.Is(res.Err, ErrPermissionDenied))
}

func TestRuntimeAlwaysAllowPersistsForSession(t *testing.T) {
	calls := 0
	tool := okTool("Echo")
	rt := newTestRuntime(tool, AnswerAlwaysAllow)
	rt.Confirmer = &countingConfirmer{answer: AnswerAlwaysAllow, calls: &calls}

	args := map[string]interface{}{"value": "x"}
	res := rt.Execute(context.Background(), Invocation{SessionID: "s", Tool: "Echo", Args: args})
	assert.False(t, res.IsError)
	res = rt.Execute(context.Background(), Invocation{SessionID: "s", Tool: "Echo", Args: args})
	assert.False(t, res.IsError)
	assert.Equal(t, 1, calls, "second call allowed without prompting")
}

type countingConfirmer struct {
	answer Answer
	calls  *int
}

func (c *countingConfirmer) Confirm(context.Context, string, string, map[string]interface{}) (Answer, error) {
	*c.calls++
	return c.answer, nil
}

func TestRuntimePanicRecovery(t *testing.T) {
	tool := &fakeTool{
		name:     "Boom",
		category: CategoryReadOnly,
		execute: func(context.Context, map[string]interface{}) *Result {
			panic("kaboom")
		},
	}
	rt := newTestRuntime(tool, AnswerYes)
	res := rt.Execute(context.Background(), Invocation{
		SessionID: "s", Tool: "Boom", Args: map[string]interface{}{"value": "x"},
	})
	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "panicked")
}

func TestRuntimeUndoCommitOnSuccess(t *testing.T) {
	dir := t.TempDir()
	target := dir + "/file.txt"
	require.NoError(t, writeTestFile(target, "before"))

	tool := &fakeTool{
		name:     "Mutate",
		category: CategoryMutating,
		mutated:  []string{target},
		execute: func(context.Context, map[string]interface{}) *Result {
			_ = writeTestFile(target, "after")
			return NewResult("mutated")
		},
	}
	rt := newTestRuntime(tool, AnswerYes)
	res := rt.Execute(context.Background(), Invocation{
		SessionID: "s", Tool: "Mutate", Args: map[string]interface{}{"value": "x"},
	})
	require.False(t, res.IsError)
	require.Contains(t, res.Metadata, "undo_entry_id")

	history := rt.Undo.ForSession("s")
	undoDepth, _ := history.Len()
	assert.Equal(t, 1, undoDepth)

	_, err := history.Undo()
	require.NoError(t, err)
	assert.Equal(t, "before", readTestFile(t, target))
}

func TestRuntimeUndoDiscardOnFailure(t *testing.T) {
	dir := t.TempDir()
	target := dir + "/file.txt"
	require.NoError(t, writeTestFile(target, "before"))

	tool := &fakeTool{
		name:     "Fail",
		category: CategoryMutating,
		mutated:  []string{target},
		execute: func(context.Context, map[string]interface{}) *Result {
			return ErrorResult("boom")
		},
	}
	rt := newTestRuntime(tool, AnswerYes)
	res := rt.Execute(context.Background(), Invocation{
		SessionID: "s", Tool: "Fail", Args: map[string]interface{}{"value": "x"},
	})
	assert.True(t, res.IsError)

	undoDepth, _ := rt.Undo.ForSession("s").Len()
	assert.Equal(t, 0, undoDepth, "failed execution leaves no undo entry")
}

func TestRuntimeDryRunShortCircuitsMutatingTool(t *testing.T) {
	dir := t.TempDir()
	target := dir + "/file.txt"
	require.NoError(t, writeTestFile(target, "before"))

	executed := false
	tool := &fakeTool{
		name:     "Mutate",
		category: CategoryMutating,
		mutated:  []string{target},
		execute: func(context.Context, map[string]interface{}) *Result {
			executed = true
			return NewResult("mutated")
		},
	}
	// The confirmer would refuse; dry run must answer before the gate.
	rt := newTestRuntime(tool, AnswerNo)

	res := rt.Execute(context.Background(), Invocation{
		SessionID: "s", Tool: "Mutate",
		Args: map[string]interface{}{"value": "x"}, DryRun: true,
	})
	require.False(t, res.IsError, res.ForLLM)
	assert.Contains(t, res.ForLLM, "[dry run]")
	assert.Equal(t, true, res.Metadata["dry_run"])
	assert.False(t, executed)
	assert.Equal(t, "before", readTestFile(t, target))

	undoDepth, _ := rt.Undo.ForSession("s").Len()
	assert.Equal(t, 0, undoDepth, "dry run commits no undo entry")
}

func TestRuntimeDryRunExecutesReadOnlyTool(t *testing.T) {
	rt := newTestRuntime(okTool("Echo"), AnswerYes)
	res := rt.Execute(context.Background(), Invocation{
		SessionID: "s", Tool: "Echo",
		Args: map[string]interface{}{"value": "x"}, DryRun: true,
	})
	require.False(t, res.IsError)
	assert.Equal(t, "ok", res.ForLLM)
}

type describingTool struct{ *fakeTool }

func (d *describingTool) DryRun(ctx context.Context, args map[string]interface{}) (string, error) {
	return "would frobnicate " + args["value"].(string), nil
}

func TestRuntimeDryRunUsesToolDescription(t *testing.T) {
	tool := &describingTool{fakeTool: &fakeTool{
		name:     "Frob",
		category: CategoryMutating,
		execute: func(context.Context, map[string]interface{}) *Result {
			return NewResult("done")
		},
	}}
	reg := NewRegistry()
	reg.Register(tool)
	rt := &Runtime{Registry: reg}

	res := rt.Execute(context.Background(), Invocation{
		SessionID: "s", Tool: "Frob",
		Args: map[string]interface{}{"value": "widget"}, DryRun: true,
	})
	require.False(t, res.IsError)
	assert.Equal(t, "[dry run] would frobnicate widget", res.ForLLM)
}

func TestRuntimePreHookBlocks(t *testing.T) {
	tool := okTool("Echo")
	rt := newTestRuntime(tool, AnswerYes)
	rt.Hooks = hooks.NewRunner([]*hooks.Hook{
		{Name: "veto", Pattern: "tool:Echo:pre", Command: "exit 2", Enabled: true},
	}, 0, t.TempDir())

	res := rt.Execute(context.Background(), Invocation{
		SessionID: "s", Tool: "Echo", Args: map[string]interface{}{"value": "x"},
	})
	assert.True(t, res.IsError)
	assert.True(t, errors.Is(res.Err, hooks.ErrHookBlocked))
}

func TestRuntimeNilResultGuard(t *testing.T) {
	tool := &fakeTool{
		name:     "Nil",
		category: CategoryReadOnly,
		execute: func(context.Context, map[string]interface{}) *Result {
			return nil
		},
	}
	rt := newTestRuntime(tool, AnswerYes)
	res := rt.Execute(context.Background(), Invocation{
		SessionID: "s", Tool: "Nil", Args: map[string]interface{}{"value": "x"},
	})
	assert.True(t, res.IsError)
}
