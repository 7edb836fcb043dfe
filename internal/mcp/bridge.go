package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgeworks/forge/internal/tools"
)

// BridgeTool exposes a remote MCP tool through the local tool registry.
type BridgeTool struct {
	server       string
	originalName string
	registered   string
	description  string
	schema       map[string]interface{}
	client       func() *Client // indirection so reconnects swap the client
}

func newBridgeTool(server, prefix string, info ToolInfo, client func() *Client) *BridgeTool {
	registered := info.Name
	if prefix != "" {
		registered = prefix + info.Name
	} else {
		registered = "mcp__" + server + "__" + info.Name
	}
	schema := info.InputSchema
	if schema == nil {
		schema = map[string]interface{}{"type": "object"}
	}
	return &BridgeTool{
		server:       server,
		originalName: info.Name,
		registered:   registered,
		description:  info.Description,
		schema:       schema,
		client:       client,
	}
}

func (b *BridgeTool) Name() string { return b.registered }

func (b *BridgeTool) Description() string {
	if b.description != "" {
		return b.description
	}
	return fmt.Sprintf("Tool %s provided by MCP server %s", b.originalName, b.server)
}

func (b *BridgeTool) Parameters() map[string]interface{} { return b.schema }

// OriginalName returns the server-side tool name, before prefixing.
func (b *BridgeTool) OriginalName() string { return b.originalName }

// Server returns the owning server's configured name.
func (b *BridgeTool) Server() string { return b.server }

func (b *BridgeTool) Category() tools.Category { return tools.CategoryNetwork }

func (b *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	client := b.client()
	if client == nil {
		return tools.ErrorResult(fmt.Sprintf("mcp server %s is not connected", b.server))
	}

	result, err := client.CallTool(ctx, b.originalName, args)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("mcp call failed: %v", err)).WithError(err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return tools.ErrorResult(text)
	}
	return tools.SilentResult(text)
}

// flattenContent joins text blocks and summarizes non-text ones.
func flattenContent(blocks []ContentBlock) string {
	var parts []string
	for _, blk := range blocks {
		switch blk.Type {
		case "text":
			parts = append(parts, blk.Text)
		case "image":
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes base64]", blk.Mime, len(blk.Data)))
		default:
			raw, _ := json.Marshal(blk)
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}
