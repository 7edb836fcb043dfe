package providers

import "sync"

// UsageTracker accumulates token usage across requests. Safe for concurrent use.
type UsageTracker struct {
	mu               sync.Mutex
	promptTokens     int
	completionTokens int
	totalTokens      int
	requests         int
}

func NewUsageTracker() *UsageTracker {
	return &UsageTracker{}
}

// Record adds one response's usage. A nil usage still counts the request.
func (t *UsageTracker) Record(u *Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests++
	if u == nil {
		return
	}
	t.promptTokens += u.PromptTokens
	t.completionTokens += u.CompletionTokens
	t.totalTokens += u.TotalTokens
}

// Totals returns the accumulated usage and request count.
func (t *UsageTracker) Totals() (Usage, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Usage{
		PromptTokens:     t.promptTokens,
		CompletionTokens: t.completionTokens,
		TotalTokens:      t.totalTokens,
	}, t.requests
}

// Reset clears all counters.
func (t *UsageTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.promptTokens, t.completionTokens, t.totalTokens, t.requests = 0, 0, 0, 0
}
