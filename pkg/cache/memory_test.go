package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type cachedThing struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	in := cachedThing{Name: "yes-token", Price: 0.42}
	if err := mc.Set(ctx, "k", &in, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var out cachedThing
	if err := mc.Get(ctx, "k", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}

	// stored values are snapshots, not aliases
	in.Price = 0.99
	var again cachedThing
	if err := mc.Get(ctx, "k", &again); err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.Price != 0.42 {
		t.Fatalf("cached value must not alias the caller's object, got %v", again.Price)
	}
}

func TestMemoryCacheStringFastPath(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "s", "plain", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var s string
	if err := mc.Get(ctx, "s", &s); err != nil || s != "plain" {
		t.Fatalf("got (%q, %v)", s, err)
	}
}

func TestMemoryCacheMissAndExpiry(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(10 * time.Millisecond))
	defer mc.Close()
	ctx := context.Background()

	var s string
	if err := mc.Get(ctx, "absent", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("want ErrCacheMiss, got %v", err)
	}

	if err := mc.Set(ctx, "short", "v", time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := mc.Get(ctx, "short", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expired entry must miss, got %v", err)
	}
}

func TestMemoryCacheEvictsOldestAtCap(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "a", "1", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := mc.Set(ctx, "b", "2", time.Minute); err != nil {
		t.Fatal(err)
	}
	// touch "a" so "b" becomes the eviction candidate
	var s string
	if err := mc.Get(ctx, "a", &s); err != nil {
		t.Fatal(err)
	}
	if err := mc.Set(ctx, "c", "3", time.Minute); err != nil {
		t.Fatal(err)
	}

	if mc.Len() != 2 {
		t.Fatalf("cap 2 exceeded: %d entries", mc.Len())
	}
	if err := mc.Get(ctx, "b", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("least recently touched key must be evicted, got %v", err)
	}
	if err := mc.Get(ctx, "a", &s); err != nil {
		t.Fatalf("touched key must survive, got %v", err)
	}
}

func TestMemoryCacheOverwriteDoesNotEvict(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "a", "1", time.Minute)
	_ = mc.Set(ctx, "b", "2", time.Minute)
	_ = mc.Set(ctx, "a", "updated", time.Minute)

	if mc.Len() != 2 {
		t.Fatalf("overwrite must not evict, got %d entries", mc.Len())
	}
	var s string
	if err := mc.Get(ctx, "b", &s); err != nil {
		t.Fatalf("sibling key lost on overwrite: %v", err)
	}
}
