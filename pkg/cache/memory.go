package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryEntry struct {
	data     []byte
	expireAt time.Time
	touched  time.Time
}

func (e *memoryEntry) expired(now time.Time) bool { return now.After(e.expireAt) }

// MemoryCache implements Service in process. Values are stored as JSON
// bytes, never as live pointers, so readers cannot mutate each other's
// entries. When full it evicts the least recently touched key.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	maxSize int

	janitor *time.Ticker
	done    chan struct{}
}

var _ Service = (*MemoryCache)(nil)

// defaultMemoryTTL bounds entries written with ttl <= 0 so the janitor can
// always reclaim them.
const defaultMemoryTTL = time.Hour

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		entries: make(map[string]*memoryEntry),
		maxSize: cfg.MaxSize,
		janitor: time.NewTicker(cfg.CleanupInterval),
		done:    make(chan struct{}),
	}
	go mc.sweep()
	return mc
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	e, ok := mc.entries[key]
	if !ok || e.expired(time.Now()) {
		if ok {
			delete(mc.entries, key)
		}
		return ErrCacheMiss
	}
	e.touched = time.Now()

	if sp, ok := dest.(*string); ok {
		*sp = string(e.data)
		return nil
	}
	return json.Unmarshal(e.data, dest)
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		if data, err = json.Marshal(value); err != nil {
			return err
		}
	}
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, exists := mc.entries[key]; !exists && len(mc.entries) >= mc.maxSize {
		mc.evictOldest()
	}
	now := time.Now()
	mc.entries[key] = &memoryEntry{data: data, expireAt: now.Add(ttl), touched: now}
	return nil
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		delete(mc.entries, k)
	}
	return nil
}

// Len reports live entries, expired ones included until the next sweep.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.entries)
}

// Close stops the janitor goroutine.
func (mc *MemoryCache) Close() error {
	mc.janitor.Stop()
	select {
	case <-mc.done:
	default:
		close(mc.done)
	}
	return nil
}

func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range mc.entries {
		if first || e.touched.Before(oldest) {
			oldestKey, oldest = k, e.touched
			first = false
		}
	}
	if oldestKey != "" {
		delete(mc.entries, oldestKey)
	}
}

func (mc *MemoryCache) sweep() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.janitor.C:
			now := time.Now()
			mc.mu.Lock()
			for k, e := range mc.entries {
				if e.expired(now) {
					delete(mc.entries, k)
				}
			}
			mc.mu.Unlock()
		}
	}
}
