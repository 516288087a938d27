// Package dedup suppresses repeated capture text within a session
package dedup

import (
	"strings"
	"sync"
)

// DefaultCapacity bounds the recent-text window.
const DefaultCapacity = 50

// Cache is a bounded ordered set of recently admitted text. At capacity
// the oldest admitted item is evicted, regardless of how often it has
// been seen since admission.
type Cache struct {
	mu       sync.RWMutex
	order    []string // admission order, oldest first
	seen     map[string]struct{}
	capacity int
}

// New creates a cache. Non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		order:    make([]string, 0, capacity),
		seen:     make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

// Normalize maps text to its dedup key: whitespace trimmed, case folded.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Check admits text whose normalized form has not been seen recently.
// Repeats and text that is empty after trimming are rejected.
func (c *Cache) Check(text string) bool {
	key := Normalize(text)
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.seen[key]; dup {
		return false
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
	c.order = append(c.order, key)
	c.seen[key] = struct{}{}
	return true
}

// Contains reports whether text is currently tracked, without admitting it.
func (c *Cache) Contains(text string) bool {
	key := Normalize(text)
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.seen[key]
	return ok
}

// Len returns the number of tracked items.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Reset discards all tracked text.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = c.order[:0]
	c.seen = make(map[string]struct{}, c.capacity)
}

// Entries returns a copy of tracked keys in admission order (for testing).
func (c *Cache) Entries() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]string, len(c.order))
	copy(result, c.order)
	return result
}
