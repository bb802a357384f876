// Package ratelimit bounds outbound data-source calls with per-endpoint
// token buckets.
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Rule is the quota for one endpoint key.
type Rule struct {
	RPS   float64
	Burst int
}

func (r Rule) normalized() Rule {
	if r.RPS <= 0 {
		r.RPS = 5
	}
	if r.Burst <= 0 {
		r.Burst = int(r.RPS)
		if r.Burst < 1 {
			r.Burst = 1
		}
	}
	return r
}

// Usage is a point-in-time quota snapshot for one key, reported on the
// status endpoint.
type Usage struct {
	Key     string  `json:"key"`
	RPS     float64 `json:"rps"`
	Burst   int     `json:"burst"`
	Tokens  float64 `json:"tokens"`
	Allowed int64   `json:"allowed"`
	Blocked int64   `json:"blocked"`
	Waited  int64   `json:"waited"`
}

type bucket struct {
	lim     *rate.Limiter
	rule    Rule
	allowed atomic.Int64
	blocked atomic.Int64
	waited  atomic.Int64
}

// Limiter hands out per-key token buckets. Keys without an explicit rule
// share the default quota.
type Limiter struct {
	def   Rule
	rules map[string]Rule

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New builds a limiter with a default quota and optional per-key overrides.
func New(def Rule, rules map[string]Rule) *Limiter {
	l := &Limiter{
		def:     def.normalized(),
		rules:   make(map[string]Rule, len(rules)),
		buckets: make(map[string]*bucket),
	}
	for key, r := range rules {
		l.rules[key] = r.normalized()
	}
	return l
}

// Allow consumes one token for key if available without blocking.
func (l *Limiter) Allow(key string) bool {
	b := l.bucket(key)
	if b.lim.Allow() {
		b.allowed.Add(1)
		return true
	}
	b.blocked.Add(1)
	return false
}

// Wait blocks until one token for key is available or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	b := l.bucket(key)
	if err := b.lim.Wait(ctx); err != nil {
		b.blocked.Add(1)
		return err
	}
	b.allowed.Add(1)
	b.waited.Add(1)
	return nil
}

// Usage snapshots every bucket seen so far, ordered by key.
func (l *Limiter) Usage() []Usage {
	l.mu.Lock()
	out := make([]Usage, 0, len(l.buckets))
	for key, b := range l.buckets {
		out = append(out, Usage{
			Key:     key,
			RPS:     b.rule.RPS,
			Burst:   b.rule.Burst,
			Tokens:  b.lim.Tokens(),
			Allowed: b.allowed.Load(),
			Blocked: b.blocked.Load(),
			Waited:  b.waited.Load(),
		})
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (l *Limiter) bucket(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		r, found := l.rules[key]
		if !found {
			r = l.def
		}
		b = &bucket{lim: rate.NewLimiter(rate.Limit(r.RPS), r.Burst), rule: r}
		l.buckets[key] = b
	}
	return b
}
