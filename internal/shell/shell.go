// Package shell manages long-lived background OS processes with bounded
// output buffering.
package shell

import (
	"io"
	"os/exec"
	"sync"
	"time"
)

// Status is the lifecycle state of a shell.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
	StatusTimeout   Status = "timeout"
)

// MaxStreamBytes caps the retained output per stream. When a stream grows
// past the cap, the oldest chunks are evicted and the truncated flag is set;
// the retained suffix stays contiguous.
const MaxStreamBytes = 10 << 20

// stream is an append-only chunk deque with O(1) append and front eviction.
type stream struct {
	chunks     []string
	totalBytes int
	// evicted counts bytes dropped from the front; readOffset is measured
	// against the logical stream (evicted + retained).
	evicted    int
	readOffset int
	truncated  bool
}

func (s *stream) append(chunk string) {
	if chunk == "" {
		return
	}
	s.chunks = append(s.chunks, chunk)
	s.totalBytes += len(chunk)

	for s.totalBytes > MaxStreamBytes && len(s.chunks) > 0 {
		head := s.chunks[0]
		s.chunks = s.chunks[1:]
		s.totalBytes -= len(head)
		s.evicted += len(head)
		s.truncated = true
	}
}

// all returns everything currently retained.
func (s *stream) all() string {
	var b []byte
	for _, c := range s.chunks {
		b = append(b, c...)
	}
	return string(b)
}

// newSince returns the suffix past the read offset and advances the offset.
func (s *stream) newSince() string {
	retained := s.all()
	start := s.readOffset - s.evicted
	if start < 0 {
		// Unread output was evicted; the reader gets the retained suffix.
		start = 0
	}
	if start >= len(retained) {
		s.readOffset = s.evicted + len(retained)
		return ""
	}
	out := retained[start:]
	s.readOffset = s.evicted + len(retained)
	return out
}

// Shell is one background process with buffered stdout/stderr.
type Shell struct {
	ID          string
	Command     string
	Cwd         string
	StartedAt   time.Time
	CompletedAt time.Time

	mu       sync.Mutex
	status   Status
	exitCode *int
	cmd      *exec.Cmd
	stdout   stream
	stderr   stream
	done     chan struct{}
	wg       sync.WaitGroup
}

// Output is a drained view of a shell's streams.
type Output struct {
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	Status          Status
	ExitCode        *int
	Running         bool
}

// Status returns the current lifecycle state.
func (s *Shell) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ExitCode returns the exit code, or nil while running.
func (s *Shell) ExitCode() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Running reports whether the process has not yet finished.
func (s *Shell) Running() bool {
	st := s.Status()
	return st == StatusPending || st == StatusRunning
}

// Done returns a channel closed when the process exits.
func (s *Shell) Done() <-chan struct{} { return s.done }

// NewOutput returns output produced since the previous NewOutput call and
// advances the per-stream read offsets.
func (s *Shell) NewOutput() Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Output{
		Stdout:          s.stdout.newSince(),
		Stderr:          s.stderr.newSince(),
		StdoutTruncated: s.stdout.truncated,
		StderrTruncated: s.stderr.truncated,
		Status:          s.status,
		ExitCode:        s.exitCode,
		Running:         s.status == StatusPending || s.status == StatusRunning,
	}
}

// AllOutput returns everything currently retained without advancing offsets.
func (s *Shell) AllOutput() Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Output{
		Stdout:          s.stdout.all(),
		Stderr:          s.stderr.all(),
		StdoutTruncated: s.stdout.truncated,
		StderrTruncated: s.stderr.truncated,
		Status:          s.status,
		ExitCode:        s.exitCode,
		Running:         s.status == StatusPending || s.status == StatusRunning,
	}
}

// RetainedBytes returns the current buffered byte counts (stdout, stderr).
func (s *Shell) RetainedBytes() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdout.totalBytes, s.stderr.totalBytes
}

// Kill terminates the process with SIGKILL and records completion.
func (s *Shell) Kill() error {
	s.mu.Lock()
	if s.status != StatusPending && s.status != StatusRunning {
		s.mu.Unlock()
		return nil
	}
	cmd := s.cmd
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}

	// The wait goroutine observes the kill and finalizes status; make sure
	// the killed marker wins over the generic failure classification.
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusFailed {
		s.status = StatusKilled
	}
	return nil
}

// KillTimeout terminates the process and records the timeout status instead
// of killed. Used when an outer deadline expires.
func (s *Shell) KillTimeout() error {
	s.mu.Lock()
	if s.status != StatusPending && s.status != StatusRunning {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusTimeout
	cmd := s.cmd
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-s.done
	return nil
}

// drainPipe reads a pipe into the given stream until EOF or read error.
func (s *Shell) drainPipe(r io.Reader, target *stream) {
	defer s.wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			s.mu.Lock()
			target.append(chunk)
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}
