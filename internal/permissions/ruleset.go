package permissions

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Layer identifies where a rule set came from. Session overrides project,
// project overrides global.
type Layer int

const (
	LayerGlobal Layer = iota
	LayerProject
	LayerSession
)

func (l Layer) String() string {
	switch l {
	case LayerSession:
		return "session"
	case LayerProject:
		return "project"
	default:
		return "global"
	}
}

// RuleSet is one layer's ordered collection of rules.
type RuleSet struct {
	mu    sync.RWMutex
	layer Layer
	rules []*Rule
}

func NewRuleSet(layer Layer) *RuleSet {
	return &RuleSet{layer: layer}
}

// Add validates and appends a rule.
func (rs *RuleSet) Add(r *Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("rule %q: %w", r.Pattern, err)
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = append(rs.rules, r)
	return nil
}

// Replace swaps the whole rule list atomically. Invalid rules reject the
// entire batch so a bad reload never leaves a half-applied layer.
func (rs *RuleSet) Replace(rules []*Rule) error {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", r.Pattern, err)
		}
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = rules
	return nil
}

// match returns the winning rule of this layer for the invocation, or nil.
// Highest priority wins; ties break on specificity, then restrictiveness
// (DENY over ASK over ALLOW).
func (rs *RuleSet) match(tool, category string, args map[string]interface{}) *Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var winner *Rule
	var winnerScore int
	for _, r := range rs.rules {
		if !r.Enabled || !r.Matches(tool, category, args) {
			continue
		}
		score := r.Specificity()
		switch {
		case winner == nil, r.Priority > winner.Priority:
			winner, winnerScore = r, score
		case r.Priority == winner.Priority && score > winnerScore:
			winner, winnerScore = r, score
		case r.Priority == winner.Priority && score == winnerScore &&
			r.Permission.restrictiveness() > winner.Permission.restrictiveness():
			winner = r
		}
	}
	return winner
}

// Rules returns a copy in evaluation order (priority, then specificity),
// for display.
func (rs *RuleSet) Rules() []*Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]*Rule, len(rs.rules))
	copy(out, rs.rules)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Specificity() > out[j].Specificity()
	})
	return out
}

// ruleFile is the on-disk JSON document shape.
type ruleFile struct {
	Rules []*Rule `json:"rules"`
}

// LoadFile replaces the rule set from a JSON rules file. A missing file
// clears the layer.
func (rs *RuleSet) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return rs.Replace(nil)
	}
	if err != nil {
		return fmt.Errorf("read rules %s: %w", path, err)
	}
	var doc ruleFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse rules %s: %w", path, err)
	}
	return rs.Replace(doc.Rules)
}

// SaveFile writes the rule set as a JSON rules file.
func (rs *RuleSet) SaveFile(path string) error {
	rs.mu.RLock()
	doc := ruleFile{Rules: rs.rules}
	rs.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
