package shell

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Manager is the process-wide registry of background shells.
type Manager struct {
	mu     sync.Mutex
	shells map[string]*Shell
}

var (
	defaultManager *Manager
	managerOnce    sync.Once
)

// Default returns the process-singleton Manager.
func Default() *Manager {
	managerOnce.Do(func() {
		defaultManager = NewManager()
	})
	return defaultManager
}

func NewManager() *Manager {
	return &Manager{shells: make(map[string]*Shell)}
}

// genID produces a shell_<hex8> identifier.
func genID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("shell_%08x", time.Now().UnixNano()&0xffffffff)
	}
	return "shell_" + hex.EncodeToString(b)
}

// Create spawns a background shell running command under sh -c.
func (m *Manager) Create(command, cwd string, env map[string]string) (*Shell, error) {
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.Command("sh", "-c", command)
	if cwd != "" {
		cmd.Dir = cwd
	}
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	sh := &Shell{
		ID:      genID(),
		Command: command,
		Cwd:     cwd,
		cmd:     cmd,
		status:  StatusPending,
		done:    make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start shell: %w", err)
	}

	sh.mu.Lock()
	sh.status = StatusRunning
	sh.StartedAt = time.Now().UTC()
	sh.mu.Unlock()

	sh.wg.Add(2)
	go sh.drainPipe(stdout, &sh.stdout)
	go sh.drainPipe(stderr, &sh.stderr)

	go m.wait(sh)

	m.mu.Lock()
	m.shells[sh.ID] = sh
	m.mu.Unlock()

	slog.Debug("shell.created", "id", sh.ID, "pid", cmd.Process.Pid, "cwd", cwd)
	return sh, nil
}

// wait blocks until the process exits, then finalizes status and exit code.
func (m *Manager) wait(sh *Shell) {
	sh.wg.Wait() // pipes closed first so no output is lost
	err := sh.cmd.Wait()

	sh.mu.Lock()
	sh.CompletedAt = time.Now().UTC()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	sh.exitCode = &code
	switch {
	case sh.status == StatusTimeout:
		// preserved
	case code == 0:
		sh.status = StatusCompleted
	case code == -1 && err != nil:
		sh.status = StatusFailed
	default:
		sh.status = StatusFailed
	}
	sh.mu.Unlock()
	close(sh.done)

	slog.Debug("shell.finished", "id", sh.ID, "exit_code", code, "status", sh.Status())
}

// Get returns a shell by id.
func (m *Manager) Get(id string) (*Shell, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shells[id]
	return sh, ok
}

// List returns all tracked shells.
func (m *Manager) List() []*Shell {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Shell, 0, len(m.shells))
	for _, sh := range m.shells {
		out = append(out, sh)
	}
	return out
}

// ListRunning returns shells that have not finished.
func (m *Manager) ListRunning() []*Shell {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Shell
	for _, sh := range m.shells {
		if sh.Running() {
			out = append(out, sh)
		}
	}
	return out
}

// CleanupCompleted drops finished shells older than maxAge. Returns the
// number removed.
func (m *Manager) CleanupCompleted(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for id, sh := range m.shells {
		if sh.Running() {
			continue
		}
		sh.mu.Lock()
		old := !sh.CompletedAt.IsZero() && sh.CompletedAt.Before(cutoff)
		sh.mu.Unlock()
		if old {
			delete(m.shells, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("shell.cleanup", "removed", removed)
	}
	return removed
}

// KillAll terminates every running shell.
func (m *Manager) KillAll() {
	for _, sh := range m.ListRunning() {
		if err := sh.Kill(); err != nil {
			slog.Warn("shell.kill_failed", "id", sh.ID, "error", err)
		}
	}
}

// Reset kills all running shells and clears the registry. Test-only.
func (m *Manager) Reset() {
	m.KillAll()
	m.mu.Lock()
	m.shells = make(map[string]*Shell)
	m.mu.Unlock()
}
