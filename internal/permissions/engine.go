package permissions

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Decision is the outcome of evaluating one tool invocation.
type Decision struct {
	Level       Level
	Rule        *Rule  // nil when the default applied
	Layer       Layer  // meaningful only when Rule != nil
	Reason      string
	RateLimited bool
}

// Request describes the invocation under evaluation.
type Request struct {
	SessionID string
	Tool      string
	Category  string
	Args      map[string]interface{}
}

// AuditSink receives every decision for durable logging. Implementations
// must not block the caller for long.
type AuditSink interface {
	RecordDecision(sessionID, tool, pattern string, level Level, rateLimited bool)
}

// Engine evaluates layered rule sets: session overrides project overrides
// global. With no matching rule the configured default level applies.
type Engine struct {
	global  *RuleSet
	project *RuleSet

	mu       sync.Mutex
	sessions map[string]*RuleSet // per-session overrides (AllowAlways/DenyAlways)

	limiter  *denyLimiter
	audit    AuditSink
	defLevel Level
}

// Options configures engine construction.
type Options struct {
	DenyThreshold int
	DenyWindow    time.Duration
	DenyBackoff   time.Duration
	Audit         AuditSink
	DefaultLevel  Level // default ASK
}

func NewEngine(opts Options) *Engine {
	if opts.DenyThreshold <= 0 {
		opts.DenyThreshold = 10
	}
	if opts.DenyWindow <= 0 {
		opts.DenyWindow = 60 * time.Second
	}
	if opts.DenyBackoff <= 0 {
		opts.DenyBackoff = 300 * time.Second
	}
	if opts.DefaultLevel == "" {
		opts.DefaultLevel = Ask
	}
	return &Engine{
		global:   NewRuleSet(LayerGlobal),
		project:  NewRuleSet(LayerProject),
		sessions: make(map[string]*RuleSet),
		limiter:  newDenyLimiter(opts.DenyThreshold, opts.DenyWindow, opts.DenyBackoff),
		audit:    opts.Audit,
		defLevel: opts.DefaultLevel,
	}
}

// Global returns the global-layer rule set.
func (e *Engine) Global() *RuleSet { return e.global }

// Project returns the project-layer rule set.
func (e *Engine) Project() *RuleSet { return e.project }

// sessionSet returns the per-session override layer, creating it on demand.
func (e *Engine) sessionSet(sessionID string) *RuleSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.sessions[sessionID]
	if !ok {
		rs = NewRuleSet(LayerSession)
		e.sessions[sessionID] = rs
	}
	return rs
}

// Evaluate returns the decision for a tool invocation. While the process-wide
// denial backoff is engaged every request gets DENY without rule evaluation.
func (e *Engine) Evaluate(req Request) Decision {
	if blocked, remaining := e.limiter.Blocked(); blocked {
		d := Decision{
			Level:       Deny,
			Reason:      fmt.Sprintf("denial backoff active for %s", remaining.Round(time.Second)),
			RateLimited: true,
		}
		e.record(req, d)
		return d
	}

	layers := []struct {
		set   *RuleSet
		layer Layer
	}{
		{e.sessionSet(req.SessionID), LayerSession},
		{e.project, LayerProject},
		{e.global, LayerGlobal},
	}

	var d Decision
	matched := false
	for _, l := range layers {
		if r := l.set.match(req.Tool, req.Category, req.Args); r != nil {
			d = Decision{
				Level:  r.Permission,
				Rule:   r,
				Layer:  l.layer,
				Reason: fmt.Sprintf("%s rule %q", l.layer, r.Pattern),
			}
			matched = true
			break
		}
	}
	if !matched {
		d = Decision{Level: e.defLevel, Reason: "no matching rule"}
	}

	if d.Level == Deny {
		if e.limiter.RecordDenial() {
			slog.Warn("permissions.backoff_engaged",
				"session", req.SessionID, "tool", req.Tool)
		}
	}
	e.record(req, d)
	return d
}

// AllowAlways records a session-scoped ALLOW rule for the exact tool, so the
// prompt is not repeated within this session.
func (e *Engine) AllowAlways(sessionID, tool string) error {
	return e.sessionSet(sessionID).Add(&Rule{
		Pattern:    "tool:" + tool,
		Permission: Allow,
		Priority:   100,
		Enabled:    true,
	})
}

// DenyAlways records a session-scoped DENY rule for the exact tool.
func (e *Engine) DenyAlways(sessionID, tool string) error {
	return e.sessionSet(sessionID).Add(&Rule{
		Pattern:    "tool:" + tool,
		Permission: Deny,
		Priority:   100,
		Enabled:    true,
	})
}

// ResetSession drops a session's overrides. The denial backoff is process
// wide and survives session resets.
func (e *Engine) ResetSession(sessionID string) {
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()
}

func (e *Engine) record(req Request, d Decision) {
	pattern := ""
	if d.Rule != nil {
		pattern = d.Rule.Pattern
	}
	slog.Debug("permissions.decision",
		"session", req.SessionID,
		"tool", req.Tool,
		"level", string(d.Level),
		"rule", pattern,
		"rate_limited", d.RateLimited)
	if e.audit != nil {
		e.audit.RecordDecision(req.SessionID, req.Tool, pattern, d.Level, d.RateLimited)
	}
}
