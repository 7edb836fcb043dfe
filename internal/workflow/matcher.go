package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// SuggestionThreshold is the minimum confidence for a workflow suggestion.
const SuggestionThreshold = 0.7

// Trigger ties a workflow name to the text patterns that suggest it.
type Trigger struct {
	Workflow string
	Patterns []string // regex, any match counts
	Keywords []string // plain substrings, each adds a boost
}

// Match is a scored trigger hit.
type Match struct {
	Workflow   string
	Confidence float64
}

// Matcher scores free-text messages against registered triggers. It is
// advisory only; execution never depends on it.
type Matcher struct {
	triggers []compiledTrigger
}

type compiledTrigger struct {
	workflow string
	patterns []*regexp.Regexp
	keywords []string
}

func NewMatcher() *Matcher {
	return &Matcher{}
}

// Register compiles and adds a trigger.
func (m *Matcher) Register(t Trigger) error {
	ct := compiledTrigger{workflow: t.Workflow, keywords: t.Keywords}
	for _, p := range t.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return fmt.Errorf("workflow matcher: trigger %q: %w", t.Workflow, err)
		}
		ct.patterns = append(ct.patterns, re)
	}
	m.triggers = append(m.triggers, ct)
	return nil
}

// Match scores the message against every trigger and returns the best hit
// when it clears the suggestion threshold.
func (m *Matcher) Match(message string) (*Match, bool) {
	lower := strings.ToLower(message)

	var matches []Match
	for _, t := range m.triggers {
		score := t.score(message, lower)
		if score >= SuggestionThreshold {
			matches = append(matches, Match{Workflow: t.workflow, Confidence: score})
		}
	}
	if len(matches) == 0 {
		return nil, false
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Confidence > matches[j].Confidence })
	best := matches[0]
	return &best, true
}

// score: a regex hit establishes the base confidence; keyword hits boost it.
// Keywords alone never reach the threshold.
func (t compiledTrigger) score(message, lower string) float64 {
	score := 0.0
	for _, re := range t.patterns {
		if re.MatchString(message) {
			score = 0.7
			break
		}
	}

	hits := 0
	for _, kw := range t.keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits++
		}
	}
	if hits > 0 {
		if score == 0 {
			score = 0.3
		}
		score += 0.1 * float64(hits)
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
