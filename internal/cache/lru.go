package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// entry is a single cached response with TTL bookkeeping, adapted from
// the teacher's CacheEntry (src/cache.go), narrowed from caching raw
// HTTP response bytes to caching generated text.
type entry struct {
	key       string
	text      string
	expiresAt time.Time
}

func (e *entry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// LRU is a thread-safe, capacity-bounded, TTL-aware cache used as the
// in-process fallback tier when no Redis address is configured. The
// eviction shape (hash map + doubly linked list) is adapted verbatim
// from the teacher's LRUCache in src/cache.go.
type LRU struct {
	capacity int

	mu           sync.Mutex
	entries      map[string]*list.Element
	evictionList *list.List

	hits   int64
	misses int64
}

// NewLRU creates an in-process cache holding at most capacity entries.
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LRU{
		capacity:     capacity,
		entries:      make(map[string]*list.Element),
		evictionList: list.New(),
	}
}

// Get returns the cached text for key, if present and unexpired.
func (c *LRU) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}

	e := el.Value.(*entry)
	if e.expired() {
		c.removeLocked(el)
		c.misses++
		return "", false
	}

	c.evictionList.MoveToFront(el)
	c.hits++
	return e.text, true
}

// Put inserts or refreshes the cached text for key with the given TTL.
func (c *LRU) Put(_ context.Context, key string, text string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.text = text
		e.expiresAt = time.Now().Add(ttl)
		c.evictionList.MoveToFront(el)
		return nil
	}

	if c.evictionList.Len() >= c.capacity {
		c.evictOldestLocked()
	}

	e := &entry{key: key, text: text, expiresAt: time.Now().Add(ttl)}
	el := c.evictionList.PushFront(e)
	c.entries[key] = el
	return nil
}

// Close is a no-op for the in-process cache; it exists to satisfy Store.
func (c *LRU) Close() error { return nil }

// Size reports the current number of entries held, including expired
// entries that have not yet been removed by a Get or an eviction.
func (c *LRU) Size(_ context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictionList.Len()
}

// Stats reports the current size and this cache's own hit/miss
// counters. The router's cache metrics are kept separately and do not
// read these counters.
func (c *LRU) Stats() (size int, hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictionList.Len(), c.hits, c.misses
}

func (c *LRU) evictOldestLocked() {
	el := c.evictionList.Back()
	if el != nil {
		c.removeLocked(el)
	}
}

func (c *LRU) removeLocked(el *list.Element) {
	c.evictionList.Remove(el)
	e := el.Value.(*entry)
	delete(c.entries, e.key)
}
