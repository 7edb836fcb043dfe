package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// OpenAIProvider implements Provider for OpenAI-compatible chat-completions
// APIs routed through OpenRouter-style endpoints (OpenAI, OpenRouter, Groq,
// DeepSeek, vLLM, etc.).
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	appName      string // X-Title routing header
	appURL       string // HTTP-Referer routing header
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
	limiter      *rate.Limiter // nil = unlimited
	usage        *UsageTracker

	closeOnce sync.Once
	closed    bool
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithRoutingHeaders sets the OpenRouter app attribution headers.
func WithRoutingHeaders(appName, appURL string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.appName = appName
		p.appURL = appURL
	}
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg RetryConfig) OpenAIOption {
	return func(p *OpenAIProvider) { p.retryConfig = cfg }
}

// WithRateLimit caps outbound requests per minute. rpm <= 0 disables the cap.
func WithRateLimit(rpm int) OpenAIOption {
	return func(p *OpenAIProvider) {
		if rpm > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
		}
	}
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string, opts ...OpenAIOption) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	p := &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      apiBase,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
		usage:        NewUsageTracker(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// Usage returns the provider's cumulative usage tracker.
func (p *OpenAIProvider) Usage() *UsageTracker { return p.usage }

// Close releases the underlying HTTP transport. The provider must not be
// used after Close; in-flight requests are allowed to finish.
func (p *OpenAIProvider) Close() {
	p.closeOnce.Do(func() {
		p.closed = true
		p.client.CloseIdleConnections()
	})
}

func (p *OpenAIProvider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := p.buildRequestBody(p.resolveModel(req.Model), req, false)

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var oaiResp openAIResponse
		if err := json.NewDecoder(respBody).Decode(&oaiResp); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
		}

		resp := p.parseResponse(&oaiResp)
		p.usage.Record(resp.Usage)
		return resp, nil
	})
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	body := p.buildRequestBody(p.resolveModel(req.Model), req, true)

	// Retry only the connection phase; once streaming starts, no retry.
	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	collector := NewStreamCollector()
	parseErrors := 0

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			parseErrors++
			continue
		}

		sc := chunk.toStreamChunk()
		collector.Add(sc)
		if onChunk != nil {
			onChunk(sc)
		}
	}
	if err := scanner.Err(); err != nil {
		if collector.ChunkCount() == 0 {
			return nil, fmt.Errorf("%s: read stream: %w", p.name, err)
		}
		parseErrors++
	}

	if parseErrors > 0 {
		slog.Warn("provider.stream_parse_errors",
			"provider", p.name,
			"count", parseErrors,
			"note", "response may be incomplete",
		)
		if collector.ChunkCount() == 0 {
			return nil, fmt.Errorf("%s: no valid stream chunks received", p.name)
		}
	}

	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}

	resp := collector.Response()
	p.usage.Record(resp.Usage)
	return resp, nil
}

func (p *OpenAIProvider) buildRequestBody(model string, req ChatRequest, stream bool) map[string]interface{} {
	// Convert messages to the OpenAI wire format: tool_calls need the
	// type+function wrapper with arguments as a JSON string.
	msgs := make([]map[string]interface{}, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := map[string]interface{}{"role": m.Role}

		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Content
		}

		if len(m.ToolCalls) > 0 {
			toolCalls := make([]map[string]interface{}, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				toolCalls[i] = map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      tc.Name,
						"arguments": string(argsJSON),
					},
				}
			}
			msg["tool_calls"] = toolCalls
		}

		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}

		msgs = append(msgs, msg)
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": msgs,
		"stream":   stream,
	}

	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
		body["tool_choice"] = "auto"
	}

	if stream {
		body["stream_options"] = map[string]interface{}{"include_usage": true}
	}

	if v, ok := req.Options[OptMaxTokens]; ok {
		body["max_tokens"] = v
	}
	if v, ok := req.Options[OptTemperature]; ok {
		body["temperature"] = v
	}

	return body
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if p.appURL != "" {
		httpReq.Header.Set("HTTP-Referer", p.appURL)
	}
	if p.appName != "" {
		httpReq.Header.Set("X-Title", p.appName)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s: %w", p.name, ErrTimeout)
		}
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", p.name, string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return resp.Body, nil
}

func (p *OpenAIProvider) parseResponse(resp *openAIResponse) *ChatResponse {
	result := &ChatResponse{FinishReason: "stop", Model: resp.Model}

	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		result.Content = msg.Content
		result.FinishReason = resp.Choices[0].FinishReason

		for _, tc := range msg.ToolCalls {
			args := make(map[string]interface{})
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      strings.TrimSpace(tc.Function.Name),
				Arguments: args,
			})
		}

		if len(result.ToolCalls) > 0 {
			result.FinishReason = "tool_calls"
		}
	}

	if resp.Usage != nil {
		result.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return result
}
