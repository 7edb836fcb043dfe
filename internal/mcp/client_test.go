package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeTransport is an in-memory Transport backed by a scripted server.
type pipeTransport struct {
	mu      sync.Mutex
	inbox   chan []byte
	closed  chan struct{}
	once    sync.Once
	handler func(req request) *response // nil reply = no response sent
}

func newPipeTransport(handler func(req request) *response) *pipeTransport {
	return &pipeTransport{
		inbox:   make(chan []byte, 16),
		closed:  make(chan struct{}),
		handler: handler,
	}
}

func (p *pipeTransport) Send(ctx context.Context, data []byte) error {
	select {
	case <-p.closed:
		return ErrConnectionClosed
	default:
	}
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	if req.ID == nil {
		return nil // notification
	}
	resp := p.handler(req)
	if resp == nil {
		return nil
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	select {
	case p.inbox <- out:
	case <-p.closed:
	}
	return nil
}

func (p *pipeTransport) Receive() ([]byte, error) {
	select {
	case msg := <-p.inbox:
		return msg, nil
	case <-p.closed:
		return nil, ErrConnectionClosed
	}
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func resultResponse(id *int64, v interface{}) *response {
	raw, _ := json.Marshal(v)
	return &response{JSONRPC: "2.0", ID: id, Result: raw}
}

func scriptedServer(tools []ToolInfo) func(req request) *response {
	return func(req request) *response {
		switch req.Method {
		case "initialize":
			return resultResponse(req.ID, initializeResult{
				ProtocolVersion: ProtocolVersion,
				Capabilities:    serverCapabilities{Tools: &struct{}{}},
				ServerInfo:      implementation{Name: "scripted", Version: "1.0"},
			})
		case "tools/list":
			return resultResponse(req.ID, listToolsResult{Tools: tools})
		case "ping":
			return resultResponse(req.ID, struct{}{})
		default:
			return &response{JSONRPC: "2.0", ID: req.ID,
				Error: &rpcError{Code: -32601, Message: "method not found"}}
		}
	}
}

func TestClientHandshakeAndListTools(t *testing.T) {
	infos := []ToolInfo{
		{Name: "echo", Description: "echoes", InputSchema: map[string]interface{}{"type": "object"}},
	}
	client := NewClient(newPipeTransport(scriptedServer(infos)), time.Second)
	defer client.Close()

	require.NoError(t, client.Initialize(context.Background(), "forge", "test"))
	assert.True(t, client.SupportsTools())
	assert.Equal(t, "scripted", client.ServerName())

	listed, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "echo", listed[0].Name)
}

func TestClientListToolsPagination(t *testing.T) {
	page := 0
	handler := func(req request) *response {
		switch req.Method {
		case "initialize":
			return scriptedServer(nil)(req)
		case "tools/list":
			page++
			if page == 1 {
				return resultResponse(req.ID, listToolsResult{
					Tools: []ToolInfo{{Name: "a"}}, NextCursor: "next",
				})
			}
			return resultResponse(req.ID, listToolsResult{Tools: []ToolInfo{{Name: "b"}}})
		}
		return nil
	}
	client := NewClient(newPipeTransport(handler), time.Second)
	defer client.Close()
	require.NoError(t, client.Initialize(context.Background(), "forge", "test"))

	listed, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "a", listed[0].Name)
	assert.Equal(t, "b", listed[1].Name)
}

func TestClientCallToolAndErrors(t *testing.T) {
	handler := func(req request) *response {
		switch req.Method {
		case "initialize":
			return scriptedServer(nil)(req)
		case "tools/call":
			var params callToolParams
			raw, _ := json.Marshal(req.Params)
			_ = json.Unmarshal(raw, &params)
			if params.Name == "bad" {
				return resultResponse(req.ID, CallResult{
					IsError: true,
					Content: []ContentBlock{{Type: "text", Text: "tool failed"}},
				})
			}
			return resultResponse(req.ID, CallResult{
				Content: []ContentBlock{{Type: "text", Text: "hello " + params.Name}},
			})
		}
		return nil
	}
	client := NewClient(newPipeTransport(handler), time.Second)
	defer client.Close()
	require.NoError(t, client.Initialize(context.Background(), "forge", "test"))

	res, err := client.CallTool(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello echo", res.Content[0].Text)

	res, err = client.CallTool(context.Background(), "bad", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestClientResourcesAndPrompts(t *testing.T) {
	handler := func(req request) *response {
		switch req.Method {
		case "initialize":
			return resultResponse(req.ID, initializeResult{
				ProtocolVersion: ProtocolVersion,
				Capabilities: serverCapabilities{
					Resources: &struct{}{},
					Prompts:   &struct{}{},
				},
				ServerInfo: implementation{Name: "scripted", Version: "1.0"},
			})
		case "resources/list":
			return resultResponse(req.ID, listResourcesResult{Resources: []ResourceInfo{
				{URI: "file:///notes.md", Name: "notes", MimeType: "text/markdown"},
			}})
		case "resources/templates/list":
			return resultResponse(req.ID, listResourceTemplatesResult{ResourceTemplates: []ResourceTemplate{
				{URITemplate: "file:///{path}", Name: "files"},
			}})
		case "resources/read":
			var params readResourceParams
			raw, _ := json.Marshal(req.Params)
			_ = json.Unmarshal(raw, &params)
			return resultResponse(req.ID, readResourceResult{Contents: []ResourceContents{
				{URI: params.URI, MimeType: "text/markdown", Text: "# Notes"},
			}})
		case "prompts/list":
			return resultResponse(req.ID, listPromptsResult{Prompts: []PromptInfo{
				{Name: "review", Description: "code review", Arguments: []PromptArgument{
					{Name: "file", Required: true},
				}},
			}})
		case "prompts/get":
			var params getPromptParams
			raw, _ := json.Marshal(req.Params)
			_ = json.Unmarshal(raw, &params)
			return resultResponse(req.ID, PromptResult{
				Description: "rendered " + params.Name,
				Messages: []PromptMessage{
					{Role: "user", Content: ContentBlock{Type: "text", Text: "review " + params.Arguments["file"]}},
				},
			})
		}
		return nil
	}
	client := NewClient(newPipeTransport(handler), time.Second)
	defer client.Close()
	require.NoError(t, client.Initialize(context.Background(), "forge", "test"))
	assert.False(t, client.SupportsTools())
	assert.True(t, client.SupportsResources())
	assert.True(t, client.SupportsPrompts())

	resources, err := client.ListResources(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "file:///notes.md", resources[0].URI)

	templates, err := client.ListResourceTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "file:///{path}", templates[0].URITemplate)

	contents, err := client.ReadResource(context.Background(), "file:///notes.md")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "# Notes", contents[0].Text)

	prompts, err := client.ListPrompts(context.Background())
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, "review", prompts[0].Name)

	prompt, err := client.GetPrompt(context.Background(), "review", map[string]string{"file": "main.go"})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)
	assert.Equal(t, "review main.go", prompt.Messages[0].Content.Text)
}

func TestClientAbsentCapabilityShortCircuits(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	handler := func(req request) *response {
		if req.Method == "initialize" {
			return resultResponse(req.ID, initializeResult{
				ProtocolVersion: ProtocolVersion,
				ServerInfo:      implementation{Name: "bare", Version: "1.0"},
			})
		}
		mu.Lock()
		calls++
		mu.Unlock()
		return &response{JSONRPC: "2.0", ID: req.ID,
			Error: &rpcError{Code: -32601, Message: "method not found"}}
	}
	client := NewClient(newPipeTransport(handler), time.Second)
	defer client.Close()
	require.NoError(t, client.Initialize(context.Background(), "forge", "test"))

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tools)

	resources, err := client.ListResources(context.Background())
	require.NoError(t, err)
	assert.Empty(t, resources)

	templates, err := client.ListResourceTemplates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, templates)

	prompts, err := client.ListPrompts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, prompts)

	_, err = client.ReadResource(context.Background(), "file:///x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support resources")

	_, err = client.GetPrompt(context.Background(), "review", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support prompts")

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls, "absent capabilities never reach the server")
}

func TestClientRequestIDsAreMonotonic(t *testing.T) {
	var mu sync.Mutex
	var ids []int64
	handler := func(req request) *response {
		mu.Lock()
		ids = append(ids, *req.ID)
		mu.Unlock()
		return resultResponse(req.ID, struct{}{})
	}
	client := NewClient(newPipeTransport(handler), time.Second)
	defer client.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, client.Ping(context.Background()))
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 5)
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}
}

func TestClientTimeout(t *testing.T) {
	// Handler never replies.
	handler := func(req request) *response { return nil }
	client := NewClient(newPipeTransport(handler), 100*time.Millisecond)
	defer client.Close()

	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClientConnectionClosedFailsPending(t *testing.T) {
	transport := newPipeTransport(func(req request) *response { return nil })
	client := NewClient(transport, 5*time.Second)

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Ping(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, transport.Close())

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrConnectionClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("pending request did not fail on close")
	}

	// New requests after close fail immediately.
	err := client.Ping(context.Background())
	assert.True(t, errors.Is(err, ErrConnectionClosed))
}

func TestClientRPCErrorSurfaced(t *testing.T) {
	handler := func(req request) *response {
		return &response{JSONRPC: "2.0", ID: req.ID,
			Error: &rpcError{Code: -32000, Message: "server exploded"}}
	}
	client := NewClient(newPipeTransport(handler), time.Second)
	defer client.Close()

	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server exploded")
}

func TestBridgeToolFlattensContent(t *testing.T) {
	handler := func(req request) *response {
		switch req.Method {
		case "initialize":
			return scriptedServer(nil)(req)
		case "tools/call":
			return resultResponse(req.ID, CallResult{Content: []ContentBlock{
				{Type: "text", Text: "line one"},
				{Type: "image", Mime: "image/png", Data: "aGVsbG8="},
			}})
		}
		return nil
	}
	client := NewClient(newPipeTransport(handler), time.Second)
	defer client.Close()
	require.NoError(t, client.Initialize(context.Background(), "forge", "test"))

	bridge := newBridgeTool("srv", "", ToolInfo{Name: "draw"}, func() *Client { return client })
	assert.Equal(t, "mcp__srv__draw", bridge.Name())

	res := bridge.Execute(context.Background(), nil)
	require.False(t, res.IsError, res.ForLLM)
	assert.Contains(t, res.ForLLM, "line one")
	assert.Contains(t, res.ForLLM, "[image image/png")
}

func TestBridgeToolDisconnected(t *testing.T) {
	bridge := newBridgeTool("srv", "ext_", ToolInfo{Name: "x"}, func() *Client { return nil })
	assert.Equal(t, "ext_x", bridge.Name())
	res := bridge.Execute(context.Background(), nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "not connected")
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("MCP_TEST_TOKEN", "sekret")
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp.yaml")
	doc := `
servers:
  files:
    transport: stdio
    command: mcp-files
    args: ["--root", "${MCP_TEST_TOKEN}"]
  remote:
    transport: http
    url: https://example.com/rpc
    headers:
      Authorization: "Bearer ${MCP_TEST_TOKEN}"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfgs, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, "sekret", cfgs["files"].Args[1])
	assert.Equal(t, "Bearer sekret", cfgs["remote"].Headers["Authorization"])
}

func TestLoadConfigValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers:\n  bad:\n    transport: stdio\n"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires command")

	// Missing file is an empty config.
	cfgs, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfgs)
}
