package hooks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookMatching(t *testing.T) {
	cases := []struct {
		pattern string
		tool    string
		event   Event
		want    bool
	}{
		{"tool:Bash:pre", "Bash", EventPreTool, true},
		{"tool:Bash:pre", "Bash", EventPostTool, false},
		{"tool:Bash:pre", "Read", EventPreTool, false},
		{"tool:*:post", "Write", EventPostTool, true},
		{"pre", "Anything", EventPreTool, true},
		{"session_end", "", EventSessionEnd, true},
		{"bad:pattern", "Bash", EventPreTool, false},
	}
	for _, tc := range cases {
		h := &Hook{Pattern: tc.pattern}
		assert.Equal(t, tc.want, h.matches(tc.tool, tc.event),
			"pattern=%s tool=%s event=%s", tc.pattern, tc.tool, tc.event)
	}
}

func TestRunnerExecutesMatchingHooks(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	r := NewRunner([]*Hook{
		{Name: "touch", Pattern: "tool:Bash:pre", Command: "touch " + marker, Enabled: true},
		{Name: "skip", Pattern: "tool:Read:pre", Command: "touch " + marker + ".skip", Enabled: true},
	}, 0, dir)

	results, err := r.Run(context.Background(), Payload{Event: EventPreTool, Tool: "Bash"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "touch", results[0].Hook)

	_, err = os.Stat(marker)
	assert.NoError(t, err)
	_, err = os.Stat(marker + ".skip")
	assert.True(t, os.IsNotExist(err))
}

func TestPreHookBlocks(t *testing.T) {
	r := NewRunner([]*Hook{
		{Name: "veto", Pattern: "tool:*:pre", Command: "echo not allowed; exit 2", Enabled: true},
		{Name: "after", Pattern: "tool:*:pre", Command: "true", Enabled: true},
	}, 0, t.TempDir())

	results, err := r.Run(context.Background(), Payload{Event: EventPreTool, Tool: "Write"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHookBlocked))

	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, "veto", blocked.Hook)
	assert.Contains(t, blocked.Message, "not allowed")

	// The chain stops at the blocking hook.
	assert.Len(t, results, 1)
}

func TestPostHookExitTwoIsNotBlocking(t *testing.T) {
	r := NewRunner([]*Hook{
		{Name: "noisy", Pattern: "tool:*:post", Command: "exit 2", Enabled: true},
		{Name: "next", Pattern: "tool:*:post", Command: "true", Enabled: true},
	}, 0, t.TempDir())

	results, err := r.Run(context.Background(), Payload{Event: EventPostTool, Tool: "Write"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].ExitCode)
	assert.False(t, results[0].Blocked)
}

func TestStopOnFailure(t *testing.T) {
	r := NewRunner([]*Hook{
		{Name: "fail", Pattern: "tool:*:post", Command: "exit 1", StopOnFailure: true, Enabled: true},
		{Name: "never", Pattern: "tool:*:post", Command: "true", Enabled: true},
	}, 0, t.TempDir())

	results, err := r.Run(context.Background(), Payload{Event: EventPostTool, Tool: "Bash"})
	require.Error(t, err)
	assert.Len(t, results, 1)
}

func TestPreHookAnyFailureBlocks(t *testing.T) {
	r := NewRunner([]*Hook{
		{Name: "lint", Pattern: "tool:*:pre", Command: "echo style violation >&2; exit 1", Enabled: true},
	}, 0, t.TempDir())

	_, err := r.Run(context.Background(), Payload{Event: EventPreTool, Tool: "Write"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHookBlocked), "nonzero exit blocks, not just code 2")

	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Contains(t, blocked.Message, "style violation")
}

func TestPreHookTimeoutBlocks(t *testing.T) {
	r := NewRunner([]*Hook{
		{Name: "slow", Pattern: "tool:*:pre", Command: "sleep 5", TimeoutSec: 1, Enabled: true},
	}, 0, t.TempDir())

	start := time.Now()
	results, err := r.Run(context.Background(), Payload{Event: EventPreTool, Tool: "Bash"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHookBlocked))
	require.Len(t, results, 1)
	assert.True(t, results[0].TimedOut)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestPostHookTimeoutDoesNotAbortChain(t *testing.T) {
	r := NewRunner([]*Hook{
		{Name: "slow", Pattern: "tool:*:post", Command: "sleep 5", TimeoutSec: 1, Enabled: true},
		{Name: "next", Pattern: "tool:*:post", Command: "true", Enabled: true},
	}, 0, t.TempDir())

	results, err := r.Run(context.Background(), Payload{Event: EventPostTool, Tool: "Bash"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].TimedOut)
	assert.Error(t, results[0].Err)
	assert.False(t, results[1].TimedOut)
}

func TestHookReceivesPayloadAndEnv(t *testing.T) {
	r := NewRunner([]*Hook{
		{Name: "echo", Pattern: "tool:*:pre", Command: `cat; echo "event=$FORGE_HOOK_EVENT tool=$FORGE_HOOK_TOOL"`, Enabled: true},
	}, 0, t.TempDir())

	results, err := r.Run(context.Background(), Payload{
		Event: EventPreTool, Tool: "Bash",
		Args: map[string]interface{}{"command": "ls"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Stdout, `"tool":"Bash"`)
	assert.Contains(t, results[0].Stdout, "event=pre tool=Bash")
	assert.Greater(t, results[0].Duration, time.Duration(0))
}

func TestHookSeparatesStdoutStderr(t *testing.T) {
	r := NewRunner([]*Hook{
		{Name: "both", Pattern: "tool:*:post", Command: "echo out; echo err >&2", Enabled: true},
	}, 0, t.TempDir())

	results, err := r.Run(context.Background(), Payload{Event: EventPostTool, Tool: "Bash"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "out\n", results[0].Stdout)
	assert.Equal(t, "err\n", results[0].Stderr)
	assert.Equal(t, 0, results[0].ExitCode)
}

func TestHookEnvAndCwdOverrides(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	r := NewRunner([]*Hook{
		{
			Name:    "where",
			Pattern: "tool:*:pre",
			Command: `pwd; echo "shared=$SHARED extra=$HOOK_EXTRA"; echo "preload=$LD_PRELOAD"`,
			Env:     map[string]string{"HOOK_EXTRA": "1", "SHARED": "hook", "LD_PRELOAD": "/tmp/evil.so"},
			Cwd:     sub,
			Enabled: true,
		},
	}, 0, dir)

	results, err := r.Run(context.Background(), Payload{
		Event: EventPreTool, Tool: "Bash",
		Env: map[string]string{"SHARED": "event"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	out := results[0].Stdout
	assert.Contains(t, out, sub, "hook cwd overrides the runner workdir")
	assert.Contains(t, out, "extra=1")
	assert.Contains(t, out, "shared=hook", "hook env is applied after event env")
	assert.NotContains(t, out, "/tmp/evil.so", "deny list applies to hook-provided env")
}

func TestEnvDenyListFiltered(t *testing.T) {
	t.Setenv("LD_PRELOAD", "/tmp/evil.so")
	t.Setenv("PYTHONPATH", "/tmp/injected")
	t.Setenv("BASH_ENV", "/tmp/startup")
	t.Setenv("DYLD_FRAMEWORK_PATH", "/tmp/frameworks")
	t.Setenv("FORGE_TEST_KEEP", "yes")

	env := filteredEnv()
	joined := strings.Join(env, "\n")
	assert.NotContains(t, joined, "LD_PRELOAD=")
	assert.NotContains(t, joined, "PYTHONPATH=")
	assert.NotContains(t, joined, "BASH_ENV=")
	assert.NotContains(t, joined, "DYLD_FRAMEWORK_PATH=")
	assert.Contains(t, joined, "FORGE_TEST_KEEP=yes")

	for _, name := range []string{"SSL_CERT_FILE", "GIT_EXEC_PATH", "IFS", "CDPATH", "PYTHONHOME", "NODE_OPTIONS"} {
		assert.True(t, deniedEnv(name), name)
	}
	assert.False(t, deniedEnv("PATH"))
	assert.False(t, deniedEnv("HOME"))
}

func TestDisabledHookSkipped(t *testing.T) {
	r := NewRunner([]*Hook{
		{Name: "off", Pattern: "tool:*:pre", Command: "exit 2", Enabled: false},
	}, 0, t.TempDir())
	results, err := r.Run(context.Background(), Payload{Event: EventPreTool, Tool: "Bash"})
	require.NoError(t, err)
	assert.Empty(t, results)
}
