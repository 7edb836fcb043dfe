package providers

import (
	"encoding/json"
	"sort"
	"strings"
)

// StreamCollector assembles a complete assistant message from stream chunks.
// Tool-call fragments arrive as deltas keyed by index: the first delta for an
// index supplies id, type, function name, and the start of the argument JSON;
// later deltas append argument fragments. A set finish_reason commits the turn.
type StreamCollector struct {
	content      strings.Builder
	toolCalls    map[int]*toolCallAccumulator
	model        string
	finishReason string
	usage        *Usage
	chunks       int
}

type toolCallAccumulator struct {
	id      string
	name    string
	rawArgs strings.Builder
}

func NewStreamCollector() *StreamCollector {
	return &StreamCollector{toolCalls: make(map[int]*toolCallAccumulator)}
}

// Add merges one chunk into the collector.
func (c *StreamCollector) Add(chunk StreamChunk) {
	c.chunks++

	if chunk.Content != "" {
		c.content.WriteString(chunk.Content)
	}
	if chunk.Model != "" {
		c.model = chunk.Model
	}
	if chunk.FinishReason != "" {
		c.finishReason = chunk.FinishReason
	}
	if chunk.Usage != nil {
		c.usage = chunk.Usage
	}

	for _, tc := range chunk.ToolCalls {
		acc, ok := c.toolCalls[tc.Index]
		if !ok {
			acc = &toolCallAccumulator{}
			c.toolCalls[tc.Index] = acc
		}
		if tc.ID != "" {
			acc.id = tc.ID
		}
		if tc.Name != "" {
			acc.name = strings.TrimSpace(tc.Name)
		}
		acc.rawArgs.WriteString(tc.Arguments)
	}
}

// ChunkCount returns how many chunks have been merged.
func (c *StreamCollector) ChunkCount() int { return c.chunks }

// Complete reports whether a finish_reason has been observed.
func (c *StreamCollector) Complete() bool { return c.finishReason != "" }

// Content returns the text accumulated so far.
func (c *StreamCollector) Content() string { return c.content.String() }

// Response produces the assembled ChatResponse. Tool calls are emitted in
// index order; unparseable argument JSON yields an empty argument map.
func (c *StreamCollector) Response() *ChatResponse {
	resp := &ChatResponse{
		Content:      c.content.String(),
		FinishReason: c.finishReason,
		Model:        c.model,
		Usage:        c.usage,
	}
	if resp.FinishReason == "" {
		resp.FinishReason = "stop"
	}

	indexes := make([]int, 0, len(c.toolCalls))
	for i := range c.toolCalls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	for _, i := range indexes {
		acc := c.toolCalls[i]
		args := make(map[string]interface{})
		_ = json.Unmarshal([]byte(acc.rawArgs.String()), &args)
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        acc.id,
			Name:      acc.name,
			Arguments: args,
		})
	}

	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = "tool_calls"
	}

	return resp
}

// Message returns the assembled assistant message. ToolCalls is non-empty
// iff the model requested tools.
func (c *StreamCollector) Message() Message {
	resp := c.Response()
	return Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}
}
