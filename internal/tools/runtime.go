package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/forgeworks/forge/internal/hooks"
	"github.com/forgeworks/forge/internal/permissions"
	"github.com/forgeworks/forge/internal/undo"
)

// Answer is the user's response to an ASK confirmation.
type Answer int

const (
	AnswerNo Answer = iota
	AnswerYes
	AnswerAlwaysAllow
	AnswerAlwaysDeny
)

// Confirmer prompts the user for ASK-level permission decisions. In
// non-interactive contexts the NoConfirmer denies everything.
type Confirmer interface {
	Confirm(ctx context.Context, tool, description string, args map[string]interface{}) (Answer, error)
}

// NoConfirmer refuses every ASK prompt. Used when no terminal is attached.
type NoConfirmer struct{}

func (NoConfirmer) Confirm(context.Context, string, string, map[string]interface{}) (Answer, error) {
	return AnswerNo, nil
}

// ErrPermissionDenied is returned when a tool call is refused by rules,
// the user, or the denial backoff.
var ErrPermissionDenied = errors.New("permission denied")

// Runtime wraps every tool call with schema validation, pre hooks,
// permission gating, undo capture, panic recovery, and post hooks.
type Runtime struct {
	Registry    *Registry
	Permissions *permissions.Engine
	Hooks       *hooks.Runner
	Undo        *undo.Store
	Confirmer   Confirmer
}

// Invocation is one tool call about to run.
type Invocation struct {
	SessionID string
	Tool      string
	Args      map[string]interface{}
	// DryRun short-circuits mutating tools to a synthetic success after
	// validation; read-only tools still execute.
	DryRun bool
}

// Execute runs the full pipeline for one invocation. The returned Result is
// never nil; pipeline refusals come back as error results so the agent loop
// can report them to the model.
func (rt *Runtime) Execute(ctx context.Context, inv Invocation) *Result {
	started := time.Now()

	tool, err := rt.Registry.Get(inv.Tool)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	if err := ValidateArgs(tool, inv.Args); err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	if inv.DryRun {
		if res := rt.dryRun(ctx, tool, inv); res != nil {
			return res
		}
	}

	if rt.Hooks != nil {
		if _, err := rt.Hooks.Run(ctx, hooks.Payload{
			Event:     hooks.EventPreTool,
			Tool:      inv.Tool,
			Args:      inv.Args,
			SessionID: inv.SessionID,
		}); err != nil {
			return ErrorResult(err.Error()).WithError(err)
		}
	}

	if res := rt.gate(ctx, tool, inv); res != nil {
		return res
	}

	history := rt.captureUndo(tool, inv)

	result := rt.executeSafely(ctx, tool, inv)

	if history != nil {
		if result.IsError {
			history.DiscardPending()
		} else if entry := history.Commit(inv.Tool, summarize(tool, inv.Args), ""); entry != nil {
			result.WithMeta("undo_entry_id", entry.ID.String())
		}
	}

	if rt.Hooks != nil {
		toolErr := ""
		if result.IsError {
			toolErr = result.ForLLM
		}
		if _, err := rt.Hooks.Run(ctx, hooks.Payload{
			Event:      hooks.EventPostTool,
			Tool:       inv.Tool,
			Args:       inv.Args,
			SessionID:  inv.SessionID,
			ToolOutput: result.ForLLM,
			ToolError:  toolErr,
		}); err != nil {
			slog.Warn("tools.post_hook_failed", "tool", inv.Tool, "error", err)
		}
	}

	slog.Debug("tools.executed",
		"tool", inv.Tool,
		"session", inv.SessionID,
		"is_error", result.IsError,
		"duration_ms", time.Since(started).Milliseconds())
	return result
}

// dryRun answers for tools that would change state without running them,
// hooks, permission prompts, or undo capture. Read-only tools return nil and
// execute normally.
func (rt *Runtime) dryRun(ctx context.Context, tool Tool, inv Invocation) *Result {
	if categoryOf(tool) == CategoryReadOnly {
		return nil
	}
	if dr, ok := tool.(DryRunner); ok {
		desc, err := dr.DryRun(ctx, inv.Args)
		if err != nil {
			return ErrorResult(fmt.Sprintf("dry run failed: %v", err)).WithError(err)
		}
		return NewResult("[dry run] " + desc).WithMeta("dry_run", true)
	}
	return NewResult("[dry run] would execute " + summarize(tool, inv.Args)).
		WithMeta("dry_run", true)
}

// gate evaluates permission rules and, for ASK, prompts the confirmer.
// Returns a non-nil error result when the call is refused.
func (rt *Runtime) gate(ctx context.Context, tool Tool, inv Invocation) *Result {
	if rt.Permissions == nil {
		return nil
	}
	decision := rt.Permissions.Evaluate(permissions.Request{
		SessionID: inv.SessionID,
		Tool:      inv.Tool,
		Category:  string(categoryOf(tool)),
		Args:      inv.Args,
	})

	switch decision.Level {
	case permissions.Allow:
		return nil
	case permissions.Deny:
		err := fmt.Errorf("%w: %s", ErrPermissionDenied, decision.Reason)
		return ErrorResult(err.Error()).WithError(err)
	}

	confirmer := rt.Confirmer
	if confirmer == nil {
		confirmer = NoConfirmer{}
	}
	answer, err := confirmer.Confirm(ctx, inv.Tool, summarize(tool, inv.Args), inv.Args)
	if err != nil {
		return ErrorResult(fmt.Sprintf("confirmation failed: %v", err)).WithError(err)
	}

	switch answer {
	case AnswerYes:
		return nil
	case AnswerAlwaysAllow:
		if err := rt.Permissions.AllowAlways(inv.SessionID, inv.Tool); err != nil {
			slog.Warn("tools.allow_always_failed", "tool", inv.Tool, "error", err)
		}
		return nil
	case AnswerAlwaysDeny:
		if err := rt.Permissions.DenyAlways(inv.SessionID, inv.Tool); err != nil {
			slog.Warn("tools.deny_always_failed", "tool", inv.Tool, "error", err)
		}
	}
	err = fmt.Errorf("%w: declined by user", ErrPermissionDenied)
	return ErrorResult(err.Error()).WithError(err)
}

// captureUndo snapshots every path the tool declares it will mutate.
func (rt *Runtime) captureUndo(tool Tool, inv Invocation) *undo.History {
	if rt.Undo == nil {
		return nil
	}
	mp, ok := tool.(MutatedPather)
	if !ok {
		return nil
	}
	paths := mp.MutatedPaths(inv.Args)
	if len(paths) == 0 {
		return nil
	}

	history := rt.Undo.ForSession(inv.SessionID)
	for _, p := range paths {
		if _, err := history.CaptureBefore(p); err != nil {
			slog.Warn("tools.undo_capture_failed", "tool", inv.Tool, "path", p, "error", err)
		}
	}
	return history
}

// executeSafely runs the tool, converting panics into error results.
func (rt *Runtime) executeSafely(ctx context.Context, tool Tool, inv Invocation) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tools.panic",
				"tool", inv.Tool, "panic", r, "stack", string(debug.Stack()))
			result = ErrorResult(fmt.Sprintf("tool %s panicked: %v", inv.Tool, r))
		}
	}()
	result = tool.Execute(ctx, inv.Args)
	if result == nil {
		result = ErrorResult(fmt.Sprintf("tool %s returned no result", inv.Tool))
	}
	return result
}

// summarize produces a short human description of the invocation for
// prompts and undo entries.
func summarize(tool Tool, args map[string]interface{}) string {
	for _, key := range []string{"command", "file_path", "path", "url", "pattern"} {
		if v, ok := args[key].(string); ok && v != "" {
			if len(v) > 120 {
				v = v[:120] + "..."
			}
			return fmt.Sprintf("%s %s", tool.Name(), v)
		}
	}
	return tool.Name()
}
