package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/forgeworks/forge/internal/shell"
)

const (
	bashDefaultTimeoutMS = 120_000
	bashMaxTimeoutMS     = 600_000
	bashMaxOutputChars   = 30_000
)

// dangerousPatterns are rejected outright, before permission evaluation.
// A bare "/" target counts when followed by whitespace, a command separator,
// a pipe, or end of string.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)[a-zA-Z]*\s+/(\s|;|&|\||$)`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;`),
	regexp.MustCompile(`\bdd\s+[^|;]*of=/dev/(sd|hd|nvme|vd)`),
	regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\s+/dev/`),
	regexp.MustCompile(`>\s*/dev/(sd|hd|nvme|vd)`),
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]*R[a-zA-Z]*\s+)?777\s+/(\s|;|&|\||$)`),
	regexp.MustCompile(`\bmv\s+/\s`),
	regexp.MustCompile(`\bchown\s+-[a-zA-Z]*R[a-zA-Z]*\s+\S+\s+/(\s|;|&|\||$)`),
	regexp.MustCompile(`\b(curl|wget)\b[^|;]*\|\s*(ba|z|da)?sh\b`),
}

// mutatingCommands maps command names to the argument positions that name
// files they modify, used for best-effort undo capture.
var mutatingCommands = map[string]bool{
	"mv": true, "cp": true, "rm": true, "tee": true,
	"sed": true, "truncate": true, "touch": true,
}

// BashTool runs shell commands in the workspace, foreground or background.
type BashTool struct {
	workspace string
	manager   *shell.Manager

	defaultTimeoutMS int
	maxTimeoutMS     int
}

func NewBashTool(workspace string, manager *shell.Manager, defaultTimeoutMS, maxTimeoutMS int) *BashTool {
	if defaultTimeoutMS <= 0 {
		defaultTimeoutMS = bashDefaultTimeoutMS
	}
	if maxTimeoutMS <= 0 {
		maxTimeoutMS = bashMaxTimeoutMS
	}
	return &BashTool{
		workspace:        workspace,
		manager:          manager,
		defaultTimeoutMS: defaultTimeoutMS,
		maxTimeoutMS:     maxTimeoutMS,
	}
}

func (t *BashTool) Name() string { return "Bash" }

func (t *BashTool) Description() string {
	return "Execute a shell command in the workspace. Set run_in_background for long-lived processes and poll with BashOutput."
}

func (t *BashTool) Category() Category { return CategoryProcess }

func (t *BashTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute",
			},
			"timeout": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in milliseconds (default 120000, max 600000)",
				"minimum":     1.0,
			},
			"run_in_background": map[string]interface{}{
				"type":        "boolean",
				"description": "Run detached and return a shell id immediately",
			},
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Short human-readable description of what the command does",
			},
		},
		"required": []string{"command"},
	}
}

// MutatedPaths makes a best-effort guess at files the command mutates so the
// runtime can snapshot them. Pipelines and subshells are not analyzed.
// Background commands are never snapshotted: their writes land after the
// call returns, so there is no completed operation to pair an entry with.
func (t *BashTool) MutatedPaths(args map[string]interface{}) []string {
	if bg, _ := args["run_in_background"].(bool); bg {
		return nil
	}
	command, _ := args["command"].(string)
	fields := strings.Fields(command)
	if len(fields) < 2 || !mutatingCommands[filepath.Base(fields[0])] {
		return nil
	}
	var paths []string
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "-") || strings.ContainsAny(f, "|&;<>*?$`") {
			continue
		}
		p := f
		if !filepath.IsAbs(p) {
			p = filepath.Join(t.workspace, p)
		}
		paths = append(paths, filepath.Clean(p))
	}
	return paths
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}

	for _, re := range dangerousPatterns {
		if re.MatchString(command) {
			return ErrorResult("command rejected: matches a destructive pattern")
		}
	}

	timeoutMS := t.defaultTimeoutMS
	if v, ok := args["timeout"].(float64); ok && v >= 1 {
		timeoutMS = int(v)
	}
	if timeoutMS > t.maxTimeoutMS {
		timeoutMS = t.maxTimeoutMS
	}

	if bg, _ := args["run_in_background"].(bool); bg {
		return t.executeBackground(command)
	}
	return t.executeForeground(ctx, command, time.Duration(timeoutMS)*time.Millisecond)
}

func (t *BashTool) executeBackground(command string) *Result {
	sh, err := t.manager.Create(command, t.workspace, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to start command: %v", err))
	}
	return AsyncResult(fmt.Sprintf("Command running in background with id %s. Use BashOutput to read its output.", sh.ID)).
		WithMeta("shell_id", sh.ID)
}

func (t *BashTool) executeForeground(ctx context.Context, command string, timeout time.Duration) *Result {
	sh, err := t.manager.Create(command, t.workspace, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to start command: %v", err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sh.Done():
	case <-timer.C:
		_ = sh.KillTimeout()
		out := sh.AllOutput()
		return ErrorResult(fmt.Sprintf("command timed out after %s\n%s",
			timeout, formatOutput(out))).WithMeta("shell_id", sh.ID)
	case <-ctx.Done():
		_ = sh.Kill()
		return ErrorResult(fmt.Sprintf("command cancelled: %v", ctx.Err())).
			WithMeta("shell_id", sh.ID)
	}

	out := sh.AllOutput()
	text := formatOutput(out)

	exitCode := 0
	if out.ExitCode != nil {
		exitCode = *out.ExitCode
	}
	if exitCode != 0 {
		return ErrorResult(fmt.Sprintf("command exited with code %d\n%s", exitCode, text)).
			WithMeta("exit_code", exitCode).
			WithMeta("shell_id", sh.ID)
	}
	if text == "" {
		text = "(no output)"
	}
	return SilentResult(text).
		WithMeta("exit_code", exitCode).
		WithMeta("shell_id", sh.ID)
}

// formatOutput merges stdout/stderr and applies the character cap, keeping
// the tail since recent output matters most.
func formatOutput(out shell.Output) string {
	var b strings.Builder
	b.WriteString(out.Stdout)
	if out.Stderr != "" {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(out.Stderr)
	}
	text := b.String()
	if out.StdoutTruncated || out.StderrTruncated {
		text = "[earlier output dropped]\n" + text
	}
	if len(text) > bashMaxOutputChars {
		text = "[output truncated]\n..." + text[len(text)-bashMaxOutputChars:]
	}
	return text
}
