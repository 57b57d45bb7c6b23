package store

import (
	"sync"
	"time"
)

type localEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

// localCache is the in-process fallback behind the remote store. Entries
// expire lazily on read; there is no cross-process coordination because the
// fallback only needs eventual consistency with the shared store.
type localCache struct {
	mu    sync.RWMutex
	items map[string]localEntry
}

func newLocalCache() *localCache {
	return &localCache{items: make(map[string]localEntry)}
}

func (c *localCache) get(key string, now time.Time) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.data, true
}

func (c *localCache) set(key string, data []byte, ttl time.Duration, now time.Time) {
	entry := localEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = entry
	c.mu.Unlock()
}

func (c *localCache) delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}
