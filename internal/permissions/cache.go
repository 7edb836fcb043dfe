package permissions

import (
	"container/list"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const (
	maxPatternLen   = 500
	regexCacheSize  = 256
	maxDotStarCount = 2
)

// checkPatternShape rejects patterns whose regex form risks catastrophic
// backtracking. Best-effort shape checks, not a full analysis.
func checkPatternShape(pattern string) error {
	if len(pattern) > maxPatternLen {
		return fmt.Errorf("pattern exceeds %d characters", maxPatternLen)
	}
	if strings.Count(pattern, ".*") > maxDotStarCount {
		return fmt.Errorf("pattern has too many .* wildcards")
	}
	if nestedQuantifier.MatchString(pattern) {
		return fmt.Errorf("pattern nests quantifiers")
	}
	return nil
}

// nestedQuantifier spots (x+)+ / (x*)* style constructs.
var nestedQuantifier = regexp.MustCompile(`\([^)]*[+*]\)[+*]`)

type regexCache struct {
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = most recent
}

type cacheEntry struct {
	pattern string
	re      *regexp.Regexp
	err     error
}

var compiled = &regexCache{
	items: make(map[string]*list.Element),
	order: list.New(),
}

// matcherFor compiles (or fetches from cache) the regex for a pattern.
// Literals and plain globs compile too; callers short-circuit those first.
func matcherFor(pattern string) (*regexp.Regexp, error) {
	return compiled.get(pattern)
}

func (c *regexCache) get(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[pattern]; ok {
		c.order.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		return entry.re, entry.err
	}

	entry := &cacheEntry{pattern: pattern}
	if err := checkPatternShape(pattern); err != nil {
		entry.err = err
	} else {
		re, err := regexp.Compile(toRegex(pattern))
		entry.re, entry.err = re, err
	}

	el := c.order.PushFront(entry)
	c.items[pattern] = el
	if c.order.Len() > regexCacheSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).pattern)
	}
	return entry.re, entry.err
}

// toRegex anchors the pattern and translates bare glob stars that slipped
// into a regex-flavored pattern.
func toRegex(pattern string) string {
	if strings.HasPrefix(pattern, "^") || strings.HasSuffix(pattern, "$") {
		return pattern
	}
	return "^(?:" + pattern + ")$"
}
