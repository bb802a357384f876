package cache

import (
	"sync"
	"time"
)

type bytesEntry struct {
	b   []byte
	exp time.Time
}

// TTLCache is the in-process BytesCache used when redis is off. The key set
// is tiny (one entry per cached endpoint), so expired entries are reaped
// lazily on read instead of by a sweeper.
type TTLCache struct {
	mu sync.RWMutex
	m  map[string]bytesEntry
}

var _ BytesCache = (*TTLCache)(nil)

func NewTTLCache() *TTLCache {
	return &TTLCache{m: make(map[string]bytesEntry)}
}

func (c *TTLCache) GetBytes(key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.b, true, nil
}

func (c *TTLCache) SetBytes(key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.m[key] = bytesEntry{b: value, exp: exp}
	c.mu.Unlock()
	return nil
}
