package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeworks/forge/internal/shell"
)

// BashOutputTool returns new output from a background shell since the
// previous read.
type BashOutputTool struct {
	manager *shell.Manager
}

func NewBashOutputTool(manager *shell.Manager) *BashOutputTool {
	return &BashOutputTool{manager: manager}
}

func (t *BashOutputTool) Name() string { return "BashOutput" }

func (t *BashOutputTool) Description() string {
	return "Read output produced by a background shell since the last read."
}

func (t *BashOutputTool) Category() Category { return CategoryReadOnly }

func (t *BashOutputTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"shell_id": map[string]interface{}{
				"type":        "string",
				"description": "Id returned by Bash with run_in_background",
			},
		},
		"required": []string{"shell_id"},
	}
}

func (t *BashOutputTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id, _ := args["shell_id"].(string)
	sh, ok := t.manager.Get(id)
	if !ok {
		return ErrorResult(fmt.Sprintf("no shell with id %q", id))
	}

	out := sh.NewOutput()
	var b strings.Builder
	fmt.Fprintf(&b, "status: %s", out.Status)
	if out.ExitCode != nil {
		fmt.Fprintf(&b, " (exit code %d)", *out.ExitCode)
	}
	b.WriteByte('\n')
	if out.StdoutTruncated || out.StderrTruncated {
		b.WriteString("[earlier output dropped]\n")
	}
	if out.Stdout != "" {
		b.WriteString(out.Stdout)
	}
	if out.Stderr != "" {
		if out.Stdout != "" {
			b.WriteByte('\n')
		}
		b.WriteString("stderr:\n")
		b.WriteString(out.Stderr)
	}
	if out.Stdout == "" && out.Stderr == "" {
		b.WriteString("(no new output)")
	}
	return SilentResult(b.String()).WithMeta("running", out.Running)
}

// KillShellTool terminates a background shell.
type KillShellTool struct {
	manager *shell.Manager
}

func NewKillShellTool(manager *shell.Manager) *KillShellTool {
	return &KillShellTool{manager: manager}
}

func (t *KillShellTool) Name() string { return "KillShell" }

func (t *KillShellTool) Description() string {
	return "Terminate a background shell started by Bash."
}

func (t *KillShellTool) Category() Category { return CategoryProcess }

func (t *KillShellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"shell_id": map[string]interface{}{
				"type":        "string",
				"description": "Id of the background shell to kill",
			},
		},
		"required": []string{"shell_id"},
	}
}

func (t *KillShellTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id, _ := args["shell_id"].(string)
	sh, ok := t.manager.Get(id)
	if !ok {
		return ErrorResult(fmt.Sprintf("no shell with id %q", id))
	}
	if !sh.Running() {
		return NewResult(fmt.Sprintf("Shell %s already finished with status %s", id, sh.Status()))
	}
	if err := sh.Kill(); err != nil {
		return ErrorResult(fmt.Sprintf("failed to kill shell: %v", err))
	}
	return NewResult(fmt.Sprintf("Shell %s killed", id))
}
