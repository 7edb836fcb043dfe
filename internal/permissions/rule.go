// Package permissions evaluates layered rule sets against tool invocations,
// producing ALLOW/ASK/DENY decisions with rate-limited denial backoff.
package permissions

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// Level is a permission decision.
type Level string

const (
	Allow Level = "ALLOW"
	Ask   Level = "ASK"
	Deny  Level = "DENY"
)

// restrictiveness orders levels for tie-breaking: DENY > ASK > ALLOW.
func (l Level) restrictiveness() int {
	switch l {
	case Deny:
		return 3
	case Ask:
		return 2
	default:
		return 1
	}
}

// Rule matches tool invocations by pattern and assigns a permission level.
type Rule struct {
	Pattern     string `json:"pattern"`
	Permission  Level  `json:"permission"`
	Priority    int    `json:"priority"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`

	clauses []clause // parsed lazily
}

type clauseKind int

const (
	clauseTool clauseKind = iota
	clauseArg
	clauseCategory
)

type clause struct {
	kind    clauseKind
	argName string
	pattern string
}

// parseClauses splits the pattern grammar: comma-joined conjuncts of
// tool:<glob-or-regex>, arg:<name>:<glob-or-regex>, category:<tag>.
func parseClauses(pattern string) ([]clause, error) {
	var out []clause
	for _, part := range strings.Split(pattern, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch {
		case strings.HasPrefix(part, "tool:"):
			out = append(out, clause{kind: clauseTool, pattern: part[len("tool:"):]})
		case strings.HasPrefix(part, "arg:"):
			rest := part[len("arg:"):]
			idx := strings.Index(rest, ":")
			if idx <= 0 {
				return nil, fmt.Errorf("invalid arg clause %q", part)
			}
			out = append(out, clause{kind: clauseArg, argName: rest[:idx], pattern: rest[idx+1:]})
		case strings.HasPrefix(part, "category:"):
			out = append(out, clause{kind: clauseCategory, pattern: part[len("category:"):]})
		default:
			return nil, fmt.Errorf("unknown clause %q", part)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty pattern")
	}
	return out, nil
}

// Validate parses the pattern and checks every clause compiles.
func (r *Rule) Validate() error {
	clauses, err := parseClauses(r.Pattern)
	if err != nil {
		return err
	}
	for _, c := range clauses {
		if isLiteral(c.pattern) || isGlob(c.pattern) {
			if err := checkPatternShape(c.pattern); err != nil {
				return err
			}
			continue
		}
		if _, err := matcherFor(c.pattern); err != nil {
			return err
		}
	}
	r.clauses = clauses
	return nil
}

func (r *Rule) parsed() []clause {
	if r.clauses == nil {
		clauses, err := parseClauses(r.Pattern)
		if err != nil {
			return nil
		}
		r.clauses = clauses
	}
	return r.clauses
}

// Matches reports whether every clause of the rule matches the invocation.
func (r *Rule) Matches(tool, category string, args map[string]interface{}) bool {
	clauses := r.parsed()
	if clauses == nil {
		return false
	}
	for _, c := range clauses {
		switch c.kind {
		case clauseTool:
			if !matchValue(c.pattern, tool) {
				return false
			}
		case clauseCategory:
			if !matchValue(c.pattern, category) {
				return false
			}
		case clauseArg:
			v, ok := args[c.argName]
			if !ok {
				return false
			}
			if !matchValue(c.pattern, normalizeArg(fmt.Sprintf("%v", v))) {
				return false
			}
		}
	}
	return true
}

// Specificity scores the rule: +10 base per conjunct; tool exact +20, tool
// glob +5; arg constraint +30 plus exact +20 else +5; category +5.
func (r *Rule) Specificity() int {
	score := 0
	for _, c := range r.parsed() {
		score += 10
		switch c.kind {
		case clauseTool:
			if isLiteral(c.pattern) {
				score += 20
			} else {
				score += 5
			}
		case clauseArg:
			score += 30
			if isLiteral(c.pattern) {
				score += 20
			} else {
				score += 5
			}
		case clauseCategory:
			score += 5
		}
	}
	return score
}

// normalizeArg canonicalizes path-like values so /etc/../etc/passwd matches
// the pattern /etc/passwd. Non-path values pass through unchanged.
func normalizeArg(v string) string {
	if strings.HasPrefix(v, "/") || strings.HasPrefix(v, "./") || strings.HasPrefix(v, "../") {
		return filepath.Clean(v)
	}
	return v
}

var globMeta = "*?["

// regexMeta marks patterns that need regex compilation rather than fnmatch.
var regexMeta = regexp.MustCompile(`[\\^$+(){}|]|\.\*|\[\[`)

// isLiteral reports whether the pattern contains no glob or regex metacharacters.
func isLiteral(pattern string) bool {
	return !strings.ContainsAny(pattern, globMeta) && !regexMeta.MatchString(pattern)
}

// isGlob reports whether the pattern is a plain glob (no regex metacharacters).
func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, globMeta) && !regexMeta.MatchString(pattern)
}

// matchValue matches a value against a literal, glob, or regex pattern.
func matchValue(pattern, value string) bool {
	if isLiteral(pattern) {
		return pattern == value
	}
	if isGlob(pattern) {
		// fnmatch semantics; * crosses path separators here by design, so
		// patterns like *rm -rf* work on full command strings.
		if ok, err := path.Match(pattern, value); err == nil && ok {
			return true
		}
		return globContains(pattern, value)
	}
	re, err := matcherFor(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// globContains handles the common *substr* form that path.Match cannot
// express across separators.
func globContains(pattern, value string) bool {
	parts := strings.Split(pattern, "*")
	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(value[pos:], part)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}
	if last := parts[len(parts)-1]; last != "" && !strings.HasSuffix(value, last) {
		return false
	}
	return true
}
