// Package hooks runs user-configured shell commands around tool execution.
// Any pre hook failure (nonzero exit, timeout, or spawn error) blocks the
// tool call.
package hooks

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event identifies a lifecycle point hooks can attach to.
type Event string

const (
	EventPreTool    Event = "pre"
	EventPostTool   Event = "post"
	EventSessionEnd Event = "session_end"
)

// ErrHookBlocked is returned when a pre hook vetoes the tool call.
var ErrHookBlocked = errors.New("blocked by hook")

// BlockedError carries the blocking hook's identity and message.
type BlockedError struct {
	Hook    string
	Message string
}

func (e *BlockedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("hook %q blocked execution: %s", e.Hook, e.Message)
	}
	return fmt.Sprintf("hook %q blocked execution", e.Hook)
}

func (e *BlockedError) Unwrap() error { return ErrHookBlocked }

// Hook is one configured shell command bound to an event pattern.
type Hook struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"` // e.g. "tool:Bash:pre", "tool:*:post"
	Command string `json:"command"`
	// Env adds variables to the hook subprocess, after the event-provided
	// ones. Deny-listed names are dropped.
	Env map[string]string `json:"env,omitempty"`
	// Cwd overrides the runner's working directory for this hook.
	Cwd string `json:"cwd,omitempty"`
	// TimeoutSec overrides the default per-hook timeout when > 0.
	TimeoutSec    int  `json:"timeout_sec,omitempty"`
	StopOnFailure bool `json:"stop_on_failure,omitempty"`
	Enabled       bool `json:"enabled"`
}

// matches reports whether the hook's pattern covers tool+event. Pattern
// segments are tool:<name-or-*>:<event>; a bare event name matches any tool.
func (h *Hook) matches(tool string, event Event) bool {
	parts := strings.Split(h.Pattern, ":")
	switch len(parts) {
	case 1:
		return parts[0] == string(event)
	case 3:
		if parts[0] != "tool" {
			return false
		}
		if parts[2] != string(event) {
			return false
		}
		return parts[1] == "*" || parts[1] == tool
	default:
		return false
	}
}

// Result is the outcome of one hook invocation.
type Result struct {
	Hook     string        `json:"hook"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Blocked  bool          `json:"blocked,omitempty"`
	Err      error         `json:"-"`
}

// Message returns the hook's reason text, preferring stderr.
func (r Result) Message() string {
	if msg := strings.TrimSpace(r.Stderr); msg != "" {
		return msg
	}
	return strings.TrimSpace(r.Stdout)
}
