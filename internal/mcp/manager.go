package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forgeworks/forge/internal/tools"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)

// ServerStatus reports the connection status of an MCP server.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

// serverState tracks a single MCP server connection.
type serverState struct {
	name      string
	cfg       *ServerConfig
	connected atomic.Bool
	toolNames []string
	cancel    context.CancelFunc

	mu             sync.Mutex
	client         *Client
	reconnAttempts int
	lastErr        string
}

func (ss *serverState) currentClient() *Client {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if !ss.connected.Load() {
		return nil
	}
	return ss.client
}

// Manager orchestrates MCP server connections, registers their tools into
// the registry, and reconnects dropped servers with exponential backoff.
type Manager struct {
	mu       sync.RWMutex
	servers  map[string]*serverState
	registry *tools.Registry
	configs  map[string]*ServerConfig

	clientName    string
	clientVersion string
}

func NewManager(registry *tools.Registry, configs map[string]*ServerConfig, clientName, clientVersion string) *Manager {
	return &Manager{
		servers:       make(map[string]*serverState),
		registry:      registry,
		configs:       configs,
		clientName:    clientName,
		clientVersion: clientVersion,
	}
}

// Start connects to all configured servers. Non-fatal: servers that fail to
// connect are logged and skipped.
func (m *Manager) Start(ctx context.Context) error {
	var errs []string
	for name, cfg := range m.configs {
		if !cfg.IsEnabled() {
			slog.Info("mcp.server.disabled", "server", name)
			continue
		}
		if err := m.connectServer(ctx, name, cfg); err != nil {
			slog.Warn("mcp.server.connect_failed", "server", name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("some MCP servers failed to connect: %s", strings.Join(errs, "; "))
	}
	return nil
}

// connectServer dials, handshakes, discovers tools, registers bridges, and
// starts the health loop.
func (m *Manager) connectServer(ctx context.Context, name string, cfg *ServerConfig) error {
	client, err := dial(cfg)
	if err != nil {
		return err
	}
	if err := client.Initialize(ctx, m.clientName, m.clientVersion); err != nil {
		_ = client.Close()
		return err
	}
	// Servers without the tools capability still connect; they may expose
	// resources or prompts instead.
	infos, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	ss := &serverState{name: name, cfg: cfg, client: client}
	ss.connected.Store(true)

	for _, info := range infos {
		bridge := newBridgeTool(name, cfg.ToolPrefix, info, ss.currentClient)
		m.registry.Register(bridge)
		ss.toolNames = append(ss.toolNames, bridge.Name())
	}

	healthCtx, cancel := context.WithCancel(context.Background())
	ss.cancel = cancel

	m.mu.Lock()
	m.servers[name] = ss
	m.mu.Unlock()

	go m.healthLoop(healthCtx, ss)

	slog.Info("mcp.server.connected",
		"server", name, "transport", cfg.Transport, "tools", len(ss.toolNames))
	return nil
}

func dial(cfg *ServerConfig) (*Client, error) {
	timeout := DefaultRequestTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	switch cfg.Transport {
	case "stdio":
		transport, err := NewStdioTransport(cfg.Command, cfg.Args, cfg.Env)
		if err != nil {
			return nil, err
		}
		return NewClient(transport, timeout), nil
	case "http":
		return NewClient(NewHTTPTransport(cfg.URL, cfg.Headers, timeout), timeout), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// healthLoop pings the server and reconnects with exponential backoff when
// the connection drops.
func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		client := ss.currentClient()
		if client != nil {
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := client.Ping(pingCtx)
			cancel()
			if err == nil {
				ss.mu.Lock()
				ss.reconnAttempts = 0
				ss.lastErr = ""
				ss.mu.Unlock()
				continue
			}
			slog.Warn("mcp.server.ping_failed", "server", ss.name, "error", err)
			ss.connected.Store(false)
			_ = client.Close()
		}

		if !m.reconnect(ctx, ss) {
			return
		}
	}
}

// reconnect retries the connection, backing off exponentially. Returns false
// when the attempt budget is exhausted.
func (m *Manager) reconnect(ctx context.Context, ss *serverState) bool {
	ss.mu.Lock()
	ss.reconnAttempts++
	attempts := ss.reconnAttempts
	ss.mu.Unlock()

	if attempts > maxReconnectAttempts {
		slog.Error("mcp.server.gave_up", "server", ss.name, "attempts", attempts-1)
		return false
	}

	backoff := initialBackoff << (attempts - 1)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(backoff):
	}

	client, err := dial(ss.cfg)
	if err == nil {
		err = client.Initialize(ctx, m.clientName, m.clientVersion)
	}
	if err != nil {
		ss.mu.Lock()
		ss.lastErr = err.Error()
		ss.mu.Unlock()
		slog.Warn("mcp.server.reconnect_failed", "server", ss.name, "attempt", attempts, "error", err)
		return true
	}

	ss.mu.Lock()
	ss.client = client
	ss.reconnAttempts = 0
	ss.lastErr = ""
	ss.mu.Unlock()
	ss.connected.Store(true)
	slog.Info("mcp.server.reconnected", "server", ss.name, "attempt", attempts)
	return true
}

// Stop shuts down all connections and unregisters their tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if client := ss.currentClient(); client != nil {
			if err := client.Close(); err != nil {
				slog.Debug("mcp.server.close_error", "server", name, "error", err)
			}
		}
		for _, toolName := range ss.toolNames {
			m.registry.Unregister(toolName)
		}
	}
	m.servers = make(map[string]*serverState)
}

// ServerStatus returns the status of all configured servers.
func (m *Manager) ServerStatus() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		lastErr := ss.lastErr
		ss.mu.Unlock()
		statuses = append(statuses, ServerStatus{
			Name:      ss.name,
			Transport: ss.cfg.Transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.toolNames),
			Error:     lastErr,
		})
	}
	return statuses
}

// clientFor resolves a server name to its live client.
func (m *Manager) clientFor(server string) (*Client, error) {
	m.mu.RLock()
	ss, ok := m.servers[server]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown MCP server %q", server)
	}
	client := ss.currentClient()
	if client == nil {
		return nil, fmt.Errorf("MCP server %q is not connected", server)
	}
	return client, nil
}

// ListResources lists the resources exposed by one server.
func (m *Manager) ListResources(ctx context.Context, server string) ([]ResourceInfo, error) {
	client, err := m.clientFor(server)
	if err != nil {
		return nil, err
	}
	return client.ListResources(ctx)
}

// ListResourceTemplates lists the resource templates exposed by one server.
func (m *Manager) ListResourceTemplates(ctx context.Context, server string) ([]ResourceTemplate, error) {
	client, err := m.clientFor(server)
	if err != nil {
		return nil, err
	}
	return client.ListResourceTemplates(ctx)
}

// ReadResource reads a resource from one server by URI.
func (m *Manager) ReadResource(ctx context.Context, server, uri string) ([]ResourceContents, error) {
	client, err := m.clientFor(server)
	if err != nil {
		return nil, err
	}
	return client.ReadResource(ctx, uri)
}

// ListPrompts lists the prompts exposed by one server.
func (m *Manager) ListPrompts(ctx context.Context, server string) ([]PromptInfo, error) {
	client, err := m.clientFor(server)
	if err != nil {
		return nil, err
	}
	return client.ListPrompts(ctx)
}

// GetPrompt renders a prompt from one server.
func (m *Manager) GetPrompt(ctx context.Context, server, name string, args map[string]string) (*PromptResult, error) {
	client, err := m.clientFor(server)
	if err != nil {
		return nil, err
	}
	return client.GetPrompt(ctx, name, args)
}

// ToolNames returns all registered MCP tool names.
func (m *Manager) ToolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, ss := range m.servers {
		names = append(names, ss.toolNames...)
	}
	return names
}
