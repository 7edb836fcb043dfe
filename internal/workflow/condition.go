package workflow

import (
	"fmt"
	"strings"
	"unicode"
)

// Condition grammar, deliberately small:
//
//	expr    := or
//	or      := and ("OR" and)*
//	and     := not ("AND" not)*
//	not     := "NOT" not | primary
//	primary := "(" expr ")" | "true" | "false" | <stepId> "." "success"
//
// A reference to a step with no recorded result evaluates false, which is
// what makes skip cascades work: dependents of a skipped step see false.
func EvalCondition(expr string, results map[string]*StepResult) (bool, error) {
	tokens, err := tokenizeCondition(expr)
	if err != nil {
		return false, err
	}
	p := &condParser{tokens: tokens, results: results}
	v, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.tokens) {
		return false, fmt.Errorf("condition %q: unexpected token %q", expr, p.tokens[p.pos])
	}
	return v, nil
}

func tokenizeCondition(expr string) ([]string, error) {
	var tokens []string
	runes := []rune(expr)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')':
			tokens = append(tokens, string(r))
			i++
		case r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r):
			j := i
			for j < len(runes) && (runes[j] == '_' || runes[j] == '.' || runes[j] == '-' ||
				unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		default:
			return nil, fmt.Errorf("condition: unexpected character %q", r)
		}
	}
	return tokens, nil
}

type condParser struct {
	tokens  []string
	pos     int
	results map[string]*StepResult
}

func (p *condParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *condParser) parseOr() (bool, error) {
	v, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(p.peek(), "OR") {
		p.pos++
		rhs, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		v = v || rhs
	}
	return v, nil
}

func (p *condParser) parseAnd() (bool, error) {
	v, err := p.parseNot()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(p.peek(), "AND") {
		p.pos++
		rhs, err := p.parseNot()
		if err != nil {
			return false, err
		}
		v = v && rhs
	}
	return v, nil
}

func (p *condParser) parseNot() (bool, error) {
	if strings.EqualFold(p.peek(), "NOT") {
		p.pos++
		v, err := p.parseNot()
		return !v, err
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (bool, error) {
	tok := p.peek()
	switch {
	case tok == "":
		return false, fmt.Errorf("condition: unexpected end of expression")
	case tok == "(":
		p.pos++
		v, err := p.parseOr()
		if err != nil {
			return false, err
		}
		if p.peek() != ")" {
			return false, fmt.Errorf("condition: missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case strings.EqualFold(tok, "true"):
		p.pos++
		return true, nil
	case strings.EqualFold(tok, "false"):
		p.pos++
		return false, nil
	case strings.HasSuffix(tok, ".success"):
		p.pos++
		stepID := strings.TrimSuffix(tok, ".success")
		res, ok := p.results[stepID]
		return ok && res.Success, nil
	default:
		return false, fmt.Errorf("condition: unknown token %q (expected <stepId>.success, true, or false)", tok)
	}
}
