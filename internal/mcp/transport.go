package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Transport moves newline-delimited JSON-RPC messages to and from a server.
type Transport interface {
	// Send writes one message.
	Send(ctx context.Context, data []byte) error
	// Receive blocks until the next message arrives.
	Receive() ([]byte, error)
	Close() error
}

// stdioTransport speaks to a subprocess over its stdin/stdout.
type stdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader

	writeMu sync.Mutex
	closed  sync.Once
}

// NewStdioTransport launches command and wires its pipes. Stderr passes
// through for server-side diagnostics.
func NewStdioTransport(command string, args []string, env map[string]string) (Transport, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start mcp server: %w", err)
	}

	return &stdioTransport{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReaderSize(stdout, 1<<20),
	}, nil
}

func (t *stdioTransport) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

func (t *stdioTransport) Receive() ([]byte, error) {
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (t *stdioTransport) Close() error {
	var err error
	t.closed.Do(func() {
		_ = t.stdin.Close()
		if t.cmd.Process != nil {
			done := make(chan struct{})
			go func() {
				_ = t.cmd.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(3 * time.Second):
				err = t.cmd.Process.Kill()
			}
		}
	})
	return err
}

// httpTransport POSTs each message and queues responses for Receive. It
// serves servers exposing a plain JSON-RPC HTTP endpoint.
type httpTransport struct {
	url     string
	headers map[string]string
	client  *http.Client

	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
}

func NewHTTPTransport(url string, headers map[string]string, timeout time.Duration) Transport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpTransport{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
		inbox:   make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (t *httpTransport) Send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("mcp: http %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	// Notifications get 202 with no body.
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	select {
	case t.inbox <- body:
		return nil
	case <-t.closed:
		return ErrConnectionClosed
	}
}

func (t *httpTransport) Receive() ([]byte, error) {
	select {
	case msg := <-t.inbox:
		return msg, nil
	case <-t.closed:
		return nil, ErrConnectionClosed
	}
}

func (t *httpTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}
