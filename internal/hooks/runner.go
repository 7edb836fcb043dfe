package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds each hook subprocess.
	DefaultTimeout = 10 * time.Second
	// maxHookOutput caps each captured output stream.
	maxHookOutput = 64 << 10
)

// envDenyList names variables never forwarded to hook subprocesses, whether
// inherited from the process or supplied by hook configuration. They allow
// library or startup-script injection into the child and everything it
// spawns. Any DYLD_* variable is denied as well.
var envDenyList = []string{
	"LD_PRELOAD",
	"LD_LIBRARY_PATH",
	"LD_AUDIT",
	"PYTHONPATH",
	"PYTHONSTARTUP",
	"PYTHONHOME",
	"NODE_OPTIONS",
	"BASH_ENV",
	"SSL_CERT_FILE",
	"GIT_EXEC_PATH",
	"IFS",
	"CDPATH",
}

// Payload is the JSON document written to each hook's stdin.
type Payload struct {
	Event     Event                  `json:"event"`
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	// Env carries event-specific variables into the hook subprocess,
	// before the hook's own Env. Deny-listed names are dropped.
	Env map[string]string `json:"-"`
	// ToolOutput is set for post hooks.
	ToolOutput string `json:"tool_output,omitempty"`
	ToolError  string `json:"tool_error,omitempty"`
}

// Runner executes hooks matching an event, in configuration order.
type Runner struct {
	hooks   []*Hook
	timeout time.Duration
	workDir string
}

func NewRunner(hooks []*Hook, timeout time.Duration, workDir string) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{hooks: hooks, timeout: timeout, workDir: workDir}
}

// Run executes every enabled hook matching (tool, event). Any pre hook
// failure returns a *BlockedError immediately. Post and session hooks record
// failures and, unless the hook sets StopOnFailure, continue the chain.
func (r *Runner) Run(ctx context.Context, p Payload) ([]Result, error) {
	var results []Result
	for _, h := range r.hooks {
		if !h.Enabled || !h.matches(p.Tool, p.Event) {
			continue
		}
		res := r.runOne(ctx, h, p)
		results = append(results, res)

		if res.Blocked {
			return results, &BlockedError{Hook: h.Name, Message: res.Message()}
		}
		if res.Err != nil {
			slog.Warn("hooks.failed",
				"hook", h.Name, "tool", p.Tool, "event", string(p.Event),
				"exit_code", res.ExitCode, "timed_out", res.TimedOut, "error", res.Err)
			if h.StopOnFailure {
				return results, res.Err
			}
			continue
		}
		slog.Debug("hooks.completed",
			"hook", h.Name, "tool", p.Tool, "event", string(p.Event),
			"duration_ms", res.Duration.Milliseconds())
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, h *Hook, p Payload) Result {
	timeout := r.timeout
	if h.TimeoutSec > 0 {
		timeout = time.Duration(h.TimeoutSec) * time.Second
	}
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdin, err := json.Marshal(p)
	if err != nil {
		return Result{Hook: h.Name, ExitCode: -1, Err: err, Blocked: p.Event == EventPreTool}
	}

	cmd := exec.CommandContext(hookCtx, "sh", "-c", h.Command)
	cmd.Dir = r.workDir
	if h.Cwd != "" {
		cmd.Dir = h.Cwd
	}
	cmd.Stdin = bytes.NewReader(stdin)

	env := filteredEnv()
	env = append(env,
		"FORGE_HOOK_EVENT="+string(p.Event),
		"FORGE_HOOK_TOOL="+p.Tool,
		"FORGE_SESSION_ID="+p.SessionID,
	)
	for k, v := range p.Env {
		if !deniedEnv(k) {
			env = append(env, k+"="+v)
		}
	}
	for k, v := range h.Env {
		if !deniedEnv(k) {
			env = append(env, k+"="+v)
		}
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err = cmd.Run()

	res := Result{
		Hook:     h.Name,
		Stdout:   capOutput(stdout.Bytes()),
		Stderr:   capOutput(stderr.Bytes()),
		Duration: time.Since(started),
		TimedOut: errors.Is(hookCtx.Err(), context.DeadlineExceeded),
	}
	if err == nil {
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
	}
	res.Err = err
	res.Blocked = p.Event == EventPreTool
	return res
}

func capOutput(b []byte) string {
	if len(b) > maxHookOutput {
		b = b[:maxHookOutput]
	}
	return string(b)
}

// deniedEnv reports whether the variable name may never reach a hook.
func deniedEnv(name string) bool {
	if strings.HasPrefix(name, "DYLD_") {
		return true
	}
	for _, d := range envDenyList {
		if name == d {
			return true
		}
	}
	return false
}

// filteredEnv returns the process environment minus the deny-listed
// injection variables.
func filteredEnv() []string {
	env := os.Environ()
	out := env[:0:0]
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if !deniedEnv(name) {
			out = append(out, kv)
		}
	}
	return out
}
