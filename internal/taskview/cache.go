package taskview

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultTTL is how long a cached read stays fresh
const DefaultTTL = 3 * time.Minute

// Entry is a cached value and the time it was written
type Entry[T any] struct {
	Value     T
	CreatedAt time.Time
}

// Cache is a TTL cache with lazy eviction. A stale entry is reported as
// absent by Get but stays stored until it is overwritten, invalidated or pruned.
type Cache[T any] struct {
	items *cache.Cache
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
}

// NewCache creates a cache. A zero ttl uses DefaultTTL and a nil clock uses time.Now.
func NewCache[T any](ttl time.Duration, now func() time.Time) *Cache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache[T]{
		// freshness is computed from Entry.CreatedAt, go-cache never expires items itself
		items: cache.New(cache.NoExpiration, 0),
		ttl:   ttl,
		now:   now,
	}
}

// TTL returns the freshness window
func (c *Cache[T]) TTL() time.Duration {
	return c.ttl
}

// Get returns the entry for key only while it is fresh
func (c *Cache[T]) Get(key string) (Entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.lookup(key)
	if !ok || !c.fresh(entry) {
		return Entry[T]{}, false
	}
	return entry, true
}

// Set stores value under key with the current time
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Set(key, Entry[T]{Value: value, CreatedAt: c.now()}, cache.NoExpiration)
}

// Invalidate removes key
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Delete(key)
}

// InvalidatePrefix removes every key starting with prefix and returns them
func (c *Cache[T]) InvalidatePrefix(prefix string) []string {
	return c.InvalidateMatching(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

// InvalidateMatching removes every key for which match returns true and returns them
func (c *Cache[T]) InvalidateMatching(match func(key string) bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for key := range c.items.Items() {
		if match(key) {
			c.items.Delete(key)
			removed = append(removed, key)
		}
	}
	return removed
}

// Clear removes every entry
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Flush()
}

// IsStale reports true when key is missing or older than the TTL
func (c *Cache[T]) IsStale(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.lookup(key)
	return !ok || !c.fresh(entry)
}

// Prune deletes stale entries and returns how many were removed
func (c *Cache[T]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, item := range c.items.Items() {
		entry, ok := item.Object.(Entry[T])
		if !ok || !c.fresh(entry) {
			c.items.Delete(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, fresh or not
func (c *Cache[T]) Len() int {
	return c.items.ItemCount()
}

// Keys returns the stored keys in sorted order
func (c *Cache[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, c.items.ItemCount())
	for key := range c.items.Items() {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (c *Cache[T]) lookup(key string) (Entry[T], bool) {
	value, found := c.items.Get(key)
	if !found {
		return Entry[T]{}, false
	}
	entry, ok := value.(Entry[T])
	return entry, ok
}

func (c *Cache[T]) fresh(entry Entry[T]) bool {
	return c.now().Sub(entry.CreatedAt) < c.ttl
}
