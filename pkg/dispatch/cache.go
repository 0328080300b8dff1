package dispatch

import (
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize bounds the dispatch cache when no size is configured.
const DefaultCacheSize = 4096

// Target is a memoized dispatch decision.
type Target struct {
	Label string
	Value any

	// owner pins the service instance so its address cannot be reused by
	// another allocation while the entry lives.
	owner      any
	generation uint64
}

type cacheKey struct {
	id        Identity
	operation string
	extend    bool
}

func (k cacheKey) String() string {
	s := k.id.String() + "#" + k.operation
	if k.extend {
		s += "+parents"
	}
	return s
}

// Cache memoizes dispatch targets per (instance, operation, parent search).
// Entries are
// tagged with the registry generation they were resolved against; entries
// from an older generation are never returned.
type Cache struct {
	mu         sync.RWMutex
	entries    *lru.Cache
	enabled    bool
	generation uint64
}

// NewCache creates an enabled cache holding at most size entries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries, enabled: true}, nil
}

// Lookup returns the target stored for id, operation and extend if it was
// resolved at or after generation current.
func (c *Cache) Lookup(id Identity, operation string, extend bool, current uint64) (Target, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.enabled {
		return Target{}, false
	}
	v, ok := c.entries.Get(cacheKey{id: id, operation: operation, extend: extend})
	if !ok {
		return Target{}, false
	}
	t := v.(Target)
	if t.generation < current || t.generation < c.generation {
		return Target{}, false
	}
	return t, true
}

// Store records target for id, operation and extend. Targets resolved
// against a generation older than the last Reset are dropped.
func (c *Cache) Store(id Identity, operation string, extend bool, owner any, target Target, generation uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.enabled || generation < c.generation {
		return
	}
	target.owner = owner
	target.generation = generation
	c.entries.Add(cacheKey{id: id, operation: operation, extend: extend}, target)
}

// Reset empties the cache and rejects later stores older than generation.
func (c *Cache) Reset(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation > c.generation {
		c.generation = generation
	}
	c.entries.Purge()
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// SetEnabled switches the cache on or off. Both transitions leave it empty.
func (c *Cache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	c.entries.Purge()
}

// Enabled reports whether lookups and stores are served.
func (c *Cache) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Keys returns "<identity>#<operation>" for every entry, sorted. Entries
// resolved with parent contracts carry a "+parents" suffix.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, c.entries.Len())
	for _, k := range c.entries.Keys() {
		keys = append(keys, k.(cacheKey).String())
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}
