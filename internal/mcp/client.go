package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRequestTimeout bounds each outstanding request.
const DefaultRequestTimeout = 30 * time.Second

// Client is a JSON-RPC 2.0 client over a Transport. Request ids are
// monotonic; replies are correlated to waiters by id. When the transport
// drops, every in-flight request fails with ErrConnectionClosed.
type Client struct {
	transport Transport
	timeout   time.Duration

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *response
	closed  bool

	serverInfo   implementation
	capabilities serverCapabilities

	recvDone chan struct{}
}

func NewClient(transport Transport, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	c := &Client{
		transport: transport,
		timeout:   timeout,
		pending:   make(map[int64]chan *response),
		recvDone:  make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// receiveLoop dispatches replies to waiters until the transport drops, then
// fails everything still pending.
func (c *Client) receiveLoop() {
	defer close(c.recvDone)
	for {
		data, err := c.transport.Receive()
		if err != nil {
			c.failAll()
			return
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("mcp.client.bad_message", "error", err)
			continue
		}
		if resp.ID == nil {
			// Server notification; logged and dropped.
			slog.Debug("mcp.client.notification", "method", resp.Method)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		if ok {
			delete(c.pending, *resp.ID)
		}
		c.mu.Unlock()

		if !ok {
			slog.Debug("mcp.client.orphan_reply", "id", *resp.ID)
			continue
		}
		ch <- &resp
	}
}

func (c *Client) failAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// call sends one request and waits for its correlated reply.
func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	id := c.nextID.Add(1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	ch := make(chan *response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	data, err := json.Marshal(request{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		cleanup()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.transport.Send(ctx, data); err != nil {
		cleanup()
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrConnectionClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && resp.Result != nil {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	case <-ctx.Done():
		cleanup()
		return fmt.Errorf("mcp: %s timed out after %s: %w", method, c.timeout, ctx.Err())
	}
}

// notify sends a notification (no id, no reply).
func (c *Client) notify(ctx context.Context, method string, params interface{}) error {
	data, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, data)
}

// Initialize performs the protocol handshake and records the server's
// capabilities. Must be called before any other request.
func (c *Client) Initialize(ctx context.Context, clientName, clientVersion string) error {
	var result initializeResult
	err := c.call(ctx, "initialize", initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      implementation{Name: clientName, Version: clientVersion},
	}, &result)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if result.ProtocolVersion != ProtocolVersion {
		slog.Warn("mcp.client.protocol_mismatch",
			"ours", ProtocolVersion, "server", result.ProtocolVersion)
	}
	c.serverInfo = result.ServerInfo
	c.capabilities = result.Capabilities

	return c.notify(ctx, "notifications/initialized", struct{}{})
}

// SupportsTools reports whether the server advertised the tools capability.
func (c *Client) SupportsTools() bool { return c.capabilities.Tools != nil }

// SupportsResources reports whether the server advertised the resources
// capability.
func (c *Client) SupportsResources() bool { return c.capabilities.Resources != nil }

// SupportsPrompts reports whether the server advertised the prompts
// capability.
func (c *Client) SupportsPrompts() bool { return c.capabilities.Prompts != nil }

// ServerName returns the server's self-reported name after Initialize.
func (c *Client) ServerName() string { return c.serverInfo.Name }

// ListTools fetches the full tool catalog, following pagination cursors.
// Servers without the tools capability yield an empty list without a
// round trip.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if !c.SupportsTools() {
		return nil, nil
	}

	var all []ToolInfo
	cursor := ""
	for {
		var result listToolsResult
		if err := c.call(ctx, "tools/list", cursorParams(cursor), &result); err != nil {
			return nil, err
		}
		all = append(all, result.Tools...)
		if result.NextCursor == "" {
			return all, nil
		}
		cursor = result.NextCursor
	}
}

func cursorParams(cursor string) map[string]interface{} {
	params := map[string]interface{}{}
	if cursor != "" {
		params["cursor"] = cursor
	}
	return params
}

// ListResources fetches the resource catalog, following pagination cursors.
// Servers without the resources capability yield an empty list without a
// round trip.
func (c *Client) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	if !c.SupportsResources() {
		return nil, nil
	}

	var all []ResourceInfo
	cursor := ""
	for {
		var result listResourcesResult
		if err := c.call(ctx, "resources/list", cursorParams(cursor), &result); err != nil {
			return nil, err
		}
		all = append(all, result.Resources...)
		if result.NextCursor == "" {
			return all, nil
		}
		cursor = result.NextCursor
	}
}

// ListResourceTemplates fetches the parameterized resource templates.
// Servers without the resources capability yield an empty list without a
// round trip.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) {
	if !c.SupportsResources() {
		return nil, nil
	}

	var all []ResourceTemplate
	cursor := ""
	for {
		var result listResourceTemplatesResult
		if err := c.call(ctx, "resources/templates/list", cursorParams(cursor), &result); err != nil {
			return nil, err
		}
		all = append(all, result.ResourceTemplates...)
		if result.NextCursor == "" {
			return all, nil
		}
		cursor = result.NextCursor
	}
}

// ReadResource fetches a resource's contents by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]ResourceContents, error) {
	if !c.SupportsResources() {
		return nil, fmt.Errorf("mcp: server %s does not support resources", c.serverInfo.Name)
	}
	var result readResourceResult
	if err := c.call(ctx, "resources/read", readResourceParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return result.Contents, nil
}

// ListPrompts fetches the prompt catalog, following pagination cursors.
// Servers without the prompts capability yield an empty list without a
// round trip.
func (c *Client) ListPrompts(ctx context.Context) ([]PromptInfo, error) {
	if !c.SupportsPrompts() {
		return nil, nil
	}

	var all []PromptInfo
	cursor := ""
	for {
		var result listPromptsResult
		if err := c.call(ctx, "prompts/list", cursorParams(cursor), &result); err != nil {
			return nil, err
		}
		all = append(all, result.Prompts...)
		if result.NextCursor == "" {
			return all, nil
		}
		cursor = result.NextCursor
	}
}

// GetPrompt renders a named prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*PromptResult, error) {
	if !c.SupportsPrompts() {
		return nil, fmt.Errorf("mcp: server %s does not support prompts", c.serverInfo.Name)
	}
	var result PromptResult
	if err := c.call(ctx, "prompts/get", getPromptParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CallTool invokes a named tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*CallResult, error) {
	var result CallResult
	if err := c.call(ctx, "tools/call", callToolParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", struct{}{}, nil)
}

// Close shuts the transport and waits for the receive loop to drain.
func (c *Client) Close() error {
	err := c.transport.Close()
	select {
	case <-c.recvDone:
	case <-time.After(2 * time.Second):
	}
	return err
}
