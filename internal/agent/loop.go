package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgeworks/forge/internal/providers"
	"github.com/forgeworks/forge/internal/sessions"
	"github.com/forgeworks/forge/internal/tools"
)

// Budget errors fail the run rather than silently truncating it.
var (
	ErrMaxIterations = errors.New("agent: iteration budget exhausted")
	ErrMaxTokens     = errors.New("agent: token budget exhausted")
)

// Loop is the agent execution loop for one agent instance.
type Loop struct {
	id            string
	provider      providers.Provider
	model         string
	maxIterations int
	maxTokens     int64 // 0 = unlimited

	runtime  *tools.Runtime
	sessions *sessions.Manager

	onEvent func(Event)
}

// LoopConfig configures a new Loop.
type LoopConfig struct {
	ID            string
	Provider      providers.Provider
	Model         string
	MaxIterations int
	MaxTokens     int64
	Runtime       *tools.Runtime
	Sessions      *sessions.Manager
	OnEvent       func(Event)
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 20
	}
	if cfg.Model == "" && cfg.Provider != nil {
		cfg.Model = cfg.Provider.DefaultModel()
	}
	return &Loop{
		id:            cfg.ID,
		provider:      cfg.Provider,
		model:         cfg.Model,
		maxIterations: cfg.MaxIterations,
		maxTokens:     cfg.MaxTokens,
		runtime:       cfg.Runtime,
		sessions:      cfg.Sessions,
		onEvent:       cfg.OnEvent,
	}
}

func (l *Loop) emit(ev Event) {
	if l.onEvent != nil {
		l.onEvent(ev)
	}
}

// Run processes a task to completion. It blocks until the model stops
// requesting tools, a budget trips, or the context is cancelled.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	l.emit(Event{Type: "run.started", RunID: req.RunID})

	result, err := l.runLoop(ctx, req)
	if err != nil {
		state := StateFailed
		if errors.Is(err, context.Canceled) {
			state = StateCancelled
		}
		l.emit(Event{Type: "run.failed", RunID: req.RunID,
			Payload: map[string]string{"error": err.Error()}})
		if result == nil {
			result = &RunResult{RunID: req.RunID}
		}
		result.State = state
		return result, err
	}

	result.State = StateCompleted
	l.emit(Event{Type: "run.completed", RunID: req.RunID})
	return result, nil
}

func (l *Loop) runLoop(ctx context.Context, req RunRequest) (*RunResult, error) {
	messages := l.buildMessages(req)

	// Buffer new messages; flush to the session only after the run completes
	// so concurrent runs never see each other's in-progress state.
	pending := []providers.Message{{Role: "user", Content: req.Task}}

	result := &RunResult{RunID: req.RunID}
	var totalUsage providers.Usage

	for result.Iterations < l.maxIterations {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Iterations++

		resp, err := l.chat(ctx, req, messages)
		if err != nil {
			return result, fmt.Errorf("LLM call failed (iteration %d): %w", result.Iterations, err)
		}

		if resp.Usage != nil {
			totalUsage.PromptTokens += resp.Usage.PromptTokens
			totalUsage.CompletionTokens += resp.Usage.CompletionTokens
			totalUsage.TotalTokens += resp.Usage.TotalTokens
		}
		if l.maxTokens > 0 && int64(totalUsage.TotalTokens) > l.maxTokens {
			result.Usage = &totalUsage
			return result, fmt.Errorf("%w: %d > %d", ErrMaxTokens, totalUsage.TotalTokens, l.maxTokens)
		}

		if len(resp.ToolCalls) == 0 {
			result.Content = resp.Content
			result.Usage = &totalUsage
			l.flush(req, append(pending, providers.Message{Role: "assistant", Content: resp.Content}), totalUsage)
			return result, nil
		}

		assistantMsg := providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		messages = append(messages, assistantMsg)
		pending = append(pending, assistantMsg)

		toolMsgs := l.executeToolCalls(ctx, req, resp.ToolCalls, result)
		messages = append(messages, toolMsgs...)
		pending = append(pending, toolMsgs...)
	}

	result.Usage = &totalUsage
	l.flush(req, pending, totalUsage)
	return result, fmt.Errorf("%w: %d iterations", ErrMaxIterations, l.maxIterations)
}

func (l *Loop) buildMessages(req RunRequest) []providers.Message {
	var messages []providers.Message
	if req.SystemPrompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: req.SystemPrompt})
	}
	if l.sessions != nil {
		messages = append(messages, l.sessions.History(req.SessionID)...)
	}
	messages = append(messages, providers.Message{Role: "user", Content: req.Task})
	return messages
}

// chat performs one LLM call, streaming when requested. Streamed deltas are
// merged through a collector so both paths return a complete response.
func (l *Loop) chat(ctx context.Context, req RunRequest, messages []providers.Message) (*providers.ChatResponse, error) {
	chatReq := providers.ChatRequest{
		Messages: messages,
		Tools:    l.runtime.Registry.Definitions(),
		Model:    l.model,
	}

	if !req.Stream {
		return l.provider.Chat(ctx, chatReq)
	}

	return l.provider.ChatStream(ctx, chatReq, func(chunk providers.StreamChunk) {
		if chunk.Content != "" {
			l.emit(Event{Type: "chunk", RunID: req.RunID,
				Payload: map[string]string{"content": chunk.Content}})
		}
	})
}

// executeToolCalls runs the turn's tool calls one at a time, in the order
// the model emitted them. Sequential execution keeps permission prompts,
// hooks, and undo commits deterministic.
func (l *Loop) executeToolCalls(ctx context.Context, req RunRequest, calls []providers.ToolCall, result *RunResult) []providers.Message {
	msgs := make([]providers.Message, 0, len(calls))
	for _, tc := range calls {
		l.emit(Event{Type: "tool.call", RunID: req.RunID,
			Payload: map[string]interface{}{"name": tc.Name, "id": tc.ID}})

		res := l.executeOne(ctx, req, tc)

		if res.IsError {
			// Truncated for the log line only; the model receives the full text.
			errMsg := res.ForLLM
			if len(errMsg) > 200 {
				errMsg = errMsg[:200] + "..."
			}
			slog.Warn("agent.tool_error", "agent", l.id, "tool", tc.Name, "error", errMsg)
		}
		if l.sessions != nil {
			path, _ := tc.Arguments["file_path"].(string)
			l.sessions.TrackOperation(req.SessionID, tc.Name, path)
		}
		if entryID, ok := res.Metadata["undo_entry_id"].(string); ok {
			result.UndoEntryIDs = append(result.UndoEntryIDs, entryID)
			if l.sessions != nil {
				l.sessions.RecordUndoEntry(req.SessionID, entryID)
			}
		}

		l.emit(Event{Type: "tool.result", RunID: req.RunID,
			Payload: map[string]interface{}{
				"name": tc.Name, "id": tc.ID, "is_error": res.IsError,
			}})

		msgs = append(msgs, providers.Message{
			Role:       "tool",
			Content:    res.ForLLM,
			ToolCallID: tc.ID,
		})
	}
	return msgs
}

func (l *Loop) executeOne(ctx context.Context, req RunRequest, tc providers.ToolCall) *tools.Result {
	argsJSON, _ := json.Marshal(tc.Arguments)
	slog.Info("agent.tool_call", "agent", l.id, "tool", tc.Name, "args_len", len(argsJSON))

	started := time.Now()
	res := l.runtime.Execute(ctx, tools.Invocation{
		SessionID: req.SessionID,
		Tool:      tc.Name,
		Args:      tc.Arguments,
		DryRun:    req.DryRun,
	})
	slog.Debug("agent.tool_done",
		"tool", tc.Name, "is_error", res.IsError,
		"duration_ms", time.Since(started).Milliseconds())
	return res
}

// flush writes buffered messages and counters to the session store.
func (l *Loop) flush(req RunRequest, pending []providers.Message, usage providers.Usage) {
	if l.sessions == nil {
		return
	}
	for _, msg := range pending {
		l.sessions.AddMessage(req.SessionID, msg)
	}
	l.sessions.TrackTurn(req.SessionID)
	l.sessions.UpdateMetadata(req.SessionID, l.model, l.provider.Name())
	l.sessions.AccumulateTokens(req.SessionID, int64(usage.PromptTokens), int64(usage.CompletionTokens))
	if err := l.sessions.Save(req.SessionID); err != nil {
		slog.Warn("agent.session_save_failed", "session", req.SessionID, "error", err)
	}
}
