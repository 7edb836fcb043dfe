package shell

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndComplete(t *testing.T) {
	m := NewManager()
	defer m.Reset()

	sh, err := m.Create("echo hello", "", nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sh.ID, "shell_"))
	require.Len(t, sh.ID, len("shell_")+8)

	<-sh.Done()
	out := sh.AllOutput()
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, StatusCompleted, out.Status)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 0, *out.ExitCode)
	assert.False(t, out.Running)
}

func TestCreateRequiresCommand(t *testing.T) {
	m := NewManager()
	_, err := m.Create("", "", nil)
	require.Error(t, err)
}

func TestNewOutputAdvancesOffset(t *testing.T) {
	m := NewManager()
	defer m.Reset()

	sh, err := m.Create("echo one; echo two", "", nil)
	require.NoError(t, err)
	<-sh.Done()

	first := sh.NewOutput()
	assert.Contains(t, first.Stdout, "one")
	assert.Contains(t, first.Stdout, "two")

	second := sh.NewOutput()
	assert.Empty(t, second.Stdout)

	// AllOutput does not consume.
	assert.Contains(t, sh.AllOutput().Stdout, "one")
}

func TestEnvAndCwdPropagate(t *testing.T) {
	m := NewManager()
	defer m.Reset()

	dir := t.TempDir()
	sh, err := m.Create("echo $FORGE_TEST_VAR; pwd", dir, map[string]string{"FORGE_TEST_VAR": "val42"})
	require.NoError(t, err)
	<-sh.Done()

	out := sh.AllOutput().Stdout
	assert.Contains(t, out, "val42")
	assert.Contains(t, out, dir)
}

func TestNonZeroExitIsFailed(t *testing.T) {
	m := NewManager()
	defer m.Reset()

	sh, err := m.Create("exit 3", "", nil)
	require.NoError(t, err)
	<-sh.Done()

	assert.Equal(t, StatusFailed, sh.Status())
	require.NotNil(t, sh.ExitCode())
	assert.Equal(t, 3, *sh.ExitCode())
}

func TestKillMarksKilled(t *testing.T) {
	m := NewManager()
	defer m.Reset()

	sh, err := m.Create("sleep 30", "", nil)
	require.NoError(t, err)
	require.True(t, sh.Running())

	require.NoError(t, sh.Kill())
	assert.Equal(t, StatusKilled, sh.Status())
	assert.False(t, sh.Running())

	// Idempotent on a finished shell.
	require.NoError(t, sh.Kill())
}

func TestStreamCapEvictsFront(t *testing.T) {
	var s stream
	s.append(strings.Repeat("a", MaxStreamBytes-1))
	require.False(t, s.truncated)

	s.append(strings.Repeat("b", 2))
	assert.True(t, s.truncated)
	assert.LessOrEqual(t, s.totalBytes, MaxStreamBytes)

	// Retained suffix is contiguous: it ends with the newest chunk.
	assert.True(t, strings.HasSuffix(s.all(), "bb"))
}

func TestStreamNewSinceAfterEviction(t *testing.T) {
	var s stream
	s.append("early")
	_ = s.newSince()

	// Force eviction of everything read so far.
	s.append(strings.Repeat("x", MaxStreamBytes))
	got := s.newSince()
	assert.NotEmpty(t, got)
	assert.True(t, strings.HasSuffix(got, "x"))
	assert.Empty(t, s.newSince())
}

func TestListRunningAndCleanup(t *testing.T) {
	m := NewManager()
	defer m.Reset()

	fast, err := m.Create("true", "", nil)
	require.NoError(t, err)
	slow, err := m.Create("sleep 30", "", nil)
	require.NoError(t, err)
	<-fast.Done()

	running := m.ListRunning()
	require.Len(t, running, 1)
	assert.Equal(t, slow.ID, running[0].ID)
	assert.Len(t, m.List(), 2)

	removed := m.CleanupCompleted(0)
	assert.Equal(t, 1, removed)
	_, ok := m.Get(fast.ID)
	assert.False(t, ok)
	_, ok = m.Get(slow.ID)
	assert.True(t, ok)
}

func TestKillAllStopsEverything(t *testing.T) {
	m := NewManager()
	defer m.Reset()

	for i := 0; i < 3; i++ {
		_, err := m.Create("sleep 30", "", nil)
		require.NoError(t, err)
	}
	require.Len(t, m.ListRunning(), 3)

	m.KillAll()
	require.Eventually(t, func() bool {
		return len(m.ListRunning()) == 0
	}, 5*time.Second, 20*time.Millisecond)
}
