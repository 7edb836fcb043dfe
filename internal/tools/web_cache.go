package tools

import (
	"container/list"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultCacheTTL        = 15 * time.Minute
	defaultCacheMaxEntries = 64
)

// webCache is a small TTL+LRU cache for fetched pages.
type webCache struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	entries map[string]*list.Element
	order   *list.List // front = most recent
}

type webCacheEntry struct {
	key     string
	value   string
	expires time.Time
}

func newWebCache(max int, ttl time.Duration) *webCache {
	return &webCache{
		max:     max,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *webCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return "", false
	}
	entry := el.Value.(*webCacheEntry)
	if time.Now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return "", false
	}
	c.order.MoveToFront(el)
	return entry.value, true
}

func (c *webCache) set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*webCacheEntry)
		entry.value = value
		entry.expires = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&webCacheEntry{key: key, value: value, expires: time.Now().Add(c.ttl)})
	c.entries[key] = el
	if c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*webCacheEntry).key)
	}
}

// truncateStr cuts s to max characters with an ellipsis marker.
func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// wrapExternalContent frames untrusted content so the model treats it as
// reference data rather than instructions.
func wrapExternalContent(content, source string, trusted bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<external_content source=%q>\n", source)
	b.WriteString(content)
	b.WriteString("\n</external_content>")
	return b.String()
}
