package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PolyPaper/internal/domain/models"
	domrepo "PolyPaper/internal/domain/repository"
	"PolyPaper/pkg/cache"
)

// RedisConfig implements repository.ConfigStore on the shared cache
// service. Values have no TTL; flags like the trading halt must survive
// until explicitly cleared.
type RedisConfig struct {
	cache  cache.Service
	prefix string
}

var _ domrepo.ConfigStore = (*RedisConfig)(nil)

func NewRedisConfig(c cache.Service) *RedisConfig {
	return &RedisConfig{cache: c, prefix: "config:"}
}

// Get returns "" for keys that were never set.
func (r *RedisConfig) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.cache.Get(ctx, r.prefix+key, &value)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("config get %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisConfig) Set(ctx context.Context, key, value string) error {
	if err := r.cache.Set(ctx, r.prefix+key, value, 0); err != nil {
		return fmt.Errorf("config set %s: %w", key, err)
	}
	return nil
}

func (r *RedisConfig) Delete(ctx context.Context, key string) error {
	if err := r.cache.Delete(ctx, r.prefix+key); err != nil {
		return fmt.Errorf("config delete %s: %w", key, err)
	}
	return nil
}

// MarketCache keeps market descriptors warm between refresh cycles so the
// trade cycle does not hit the data source for every token lookup.
type MarketCache struct {
	cache cache.Service
	ttl   time.Duration
}

func NewMarketCache(c cache.Service, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MarketCache{cache: c, ttl: ttl}
}

func (m *MarketCache) Get(ctx context.Context, marketID string) (*models.Market, bool) {
	var mk models.Market
	if err := m.cache.Get(ctx, "market:"+marketID, &mk); err != nil {
		return nil, false
	}
	return &mk, true
}

func (m *MarketCache) Set(ctx context.Context, mk *models.Market) error {
	if mk == nil || mk.ID == "" {
		return nil
	}
	return m.cache.Set(ctx, "market:"+mk.ID, mk, m.ttl)
}
