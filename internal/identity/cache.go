// internal/identity/cache.go
package identity

import (
	"sync"
	"sync/atomic"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
)

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// Cache holds captured states by id. Entries live until Clear is called.
type Cache struct {
	mu     sync.RWMutex
	states map[string]*schemas.AppState
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{states: make(map[string]*schemas.AppState)}
}

// Get returns the cached state for id and records a hit or miss.
func (c *Cache) Get(id string) (*schemas.AppState, bool) {
	c.mu.RLock()
	st, ok := c.states[id]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return st, ok
}

// Put stores st unless a state with the same id is already cached, and returns
// whichever state the cache holds afterwards.
func (c *Cache) Put(st *schemas.AppState) *schemas.AppState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.states[st.ID]; ok {
		return existing
	}
	c.states[st.ID] = st
	return st
}

// Clear drops every entry and resets the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.states = make(map[string]*schemas.AppState)
	c.mu.Unlock()
	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats reports hits, misses and the current number of entries.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.states)
	c.mu.RUnlock()
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: size}
}
