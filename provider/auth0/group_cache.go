package auth0

import (
	"slices"
	"sync"
	"time"
)

// GroupCache caches the group paths of an identity.
type GroupCache interface {
	Get(id string) ([]string, bool)
	Set(id string, groups []string)
	Invalidate(id string)
}

type groupEntry struct {
	groups    []string
	expiresAt time.Time
}

// TTLGroupCache is a mutex guarded GroupCache whose entries expire after a
// fixed TTL.
type TTLGroupCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]groupEntry
}

// NewTTLGroupCache returns a cache whose entries live for ttl. A nil clock
// uses time.Now.
func NewTTLGroupCache(ttl time.Duration, now func() time.Time) *TTLGroupCache {
	if now == nil {
		now = time.Now
	}
	return &TTLGroupCache{
		ttl:     ttl,
		now:     now,
		entries: map[string]groupEntry{},
	}
}

func (c *TTLGroupCache) Get(id string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}

	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, id)
		return nil, false
	}

	return slices.Clone(entry.groups), true
}

func (c *TTLGroupCache) Set(id string, groups []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[id] = groupEntry{
		groups:    slices.Clone(groups),
		expiresAt: c.now().Add(c.ttl),
	}
}

func (c *TTLGroupCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

type noopGroupCache struct{}

func (noopGroupCache) Get(string) ([]string, bool) { return nil, false }
func (noopGroupCache) Set(string, []string)        {}
func (noopGroupCache) Invalidate(string)           {}
