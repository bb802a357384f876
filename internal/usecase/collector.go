package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"PolyPaper/internal/domain/models"
	domrepo "PolyPaper/internal/domain/repository"
	"PolyPaper/internal/repository"
	"PolyPaper/internal/service/gamma"
	"PolyPaper/pkg/logger"
)

// CollectorConfig tunes market tracking and bar collection.
type CollectorConfig struct {
	MarketIDs     []string             // static set, ignored with Discover
	Discover      bool                 // pull the top markets from the source
	DiscoverLimit int                  // default 20
	Timeframe     domrepo.Timeframe    // bar width written to the store
	Lookback      int                  // bars backfilled on first collection, default 120
	TradeFetch    int                  // trades merged per token for volume, default 200
}

// MarketCollector tracks the tradable market set and collects price bars into
// the bar store. Collection failures mark the cycle stale for the affected
// token and never abort the run.
type MarketCollector struct {
	cfg     CollectorConfig
	src     domrepo.DataSource
	bars    domrepo.BarStore
	cache   *repository.MarketCache
	metrics domrepo.Metrics
	log     *logger.Logger

	mu       sync.RWMutex
	markets  map[string]*models.Market
	lastBars map[string]time.Time // newest stored bucket per token
}

// NewMarketCollector builds a collector. cache may be nil when redis is off.
func NewMarketCollector(cfg CollectorConfig, src domrepo.DataSource, bars domrepo.BarStore, cache *repository.MarketCache, metrics domrepo.Metrics, log *logger.Logger) *MarketCollector {
	if cfg.DiscoverLimit <= 0 {
		cfg.DiscoverLimit = 20
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 120
	}
	if cfg.TradeFetch <= 0 {
		cfg.TradeFetch = 200
	}
	if !domrepo.IsValidTimeframe(cfg.Timeframe) {
		cfg.Timeframe = domrepo.DefaultTimeframe()
	}
	return &MarketCollector{
		cfg:      cfg,
		src:      src,
		bars:     bars,
		cache:    cache,
		metrics:  metrics,
		log:      log,
		markets:  make(map[string]*models.Market),
		lastBars: make(map[string]time.Time),
	}
}

// RefreshMarkets rebuilds the tracked market set. Markets that fail to fetch
// keep their previous descriptor so one flaky refresh cannot empty the set.
func (c *MarketCollector) RefreshMarkets(ctx context.Context) error {
	fresh := make(map[string]*models.Market)

	if c.cfg.Discover {
		markets, err := c.src.Markets(ctx, c.cfg.DiscoverLimit)
		if err != nil {
			c.metrics.RecordError("market_refresh")
			c.metrics.RecordStaleData(gamma.EndpointMarkets)
			return err
		}
		for _, mk := range markets {
			if mk.Resolved {
				continue
			}
			fresh[mk.ID] = mk
			c.cacheMarket(ctx, mk)
		}
	} else {
		for _, id := range c.cfg.MarketIDs {
			mk, err := c.fetchMarket(ctx, id)
			if err != nil {
				c.metrics.RecordError("market_refresh")
				c.metrics.RecordStaleData(gamma.EndpointMarkets)
				c.log.Warn("market refresh failed",
					logger.String("market_id", id),
					logger.Error(err))
				if prev := c.tracked(id); prev != nil {
					fresh[id] = prev
				}
				continue
			}
			fresh[id] = mk
		}
	}

	c.mu.Lock()
	dropped := 0
	for id := range c.markets {
		if _, ok := fresh[id]; !ok {
			dropped++
		}
	}
	c.markets = fresh
	c.mu.Unlock()

	c.log.Info("market set refreshed",
		logger.Int("tracked", len(fresh)),
		logger.Int("dropped", dropped))
	return nil
}

func (c *MarketCollector) fetchMarket(ctx context.Context, id string) (*models.Market, error) {
	if c.cache != nil {
		if mk, ok := c.cache.Get(ctx, id); ok {
			return mk, nil
		}
	}
	mk, err := c.src.Market(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cacheMarket(ctx, mk)
	return mk, nil
}

func (c *MarketCollector) cacheMarket(ctx context.Context, mk *models.Market) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, mk); err != nil {
		c.log.Debug("market cache write failed",
			logger.String("market_id", mk.ID),
			logger.Error(err))
	}
}

func (c *MarketCollector) tracked(id string) *models.Market {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.markets[id]
}

// Tracked returns the current market set sorted by id.
func (c *MarketCollector) Tracked() []*models.Market {
	c.mu.RLock()
	out := make([]*models.Market, 0, len(c.markets))
	for _, mk := range c.markets {
		cp := *mk
		out = append(out, &cp)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Market returns the tracked descriptor for id, nil when untracked.
func (c *MarketCollector) Market(id string) *models.Market {
	mk := c.tracked(id)
	if mk == nil {
		return nil
	}
	cp := *mk
	return &cp
}

// TokenIDs returns every tradable token across tracked markets, sorted.
func (c *MarketCollector) TokenIDs() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, mk := range c.Tracked() {
		for _, tok := range mk.TradableTokens() {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// Collect pulls price history for every tradable token of every tracked,
// unresolved market, merges observed trade volume into the bars and stores
// the batch. The newest bucket is re-requested next run so the still-open
// bar gets refreshed in place.
func (c *MarketCollector) Collect(ctx context.Context) error {
	start := time.Now()
	markets := c.Tracked()

	width := c.cfg.Timeframe.Duration()
	now := time.Now().UTC()
	collected, failed := 0, 0
	for _, mk := range markets {
		if mk.Resolved {
			continue
		}
		for _, tok := range mk.TradableTokens() {
			if err := c.collectToken(ctx, tok, now, width); err != nil {
				failed++
				c.metrics.RecordError("collect")
				c.metrics.RecordStaleData(gamma.EndpointHistory)
				c.log.Warn("bar collection failed",
					logger.String("market_id", mk.ID),
					logger.String("token_id", tok),
					logger.Error(err))
				continue
			}
			collected++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	c.metrics.RecordLatency("collect_cycle", time.Since(start).Seconds())
	c.log.Debug("collection cycle done",
		logger.Int("tokens", collected),
		logger.Int("failed", failed),
		logger.Duration("took", time.Since(start)))
	return nil
}

func (c *MarketCollector) collectToken(ctx context.Context, tokenID string, now time.Time, width time.Duration) error {
	c.mu.RLock()
	from := c.lastBars[tokenID]
	c.mu.RUnlock()
	if from.IsZero() {
		from = now.Add(-time.Duration(c.cfg.Lookback) * width)
	}

	bars, err := c.src.Bars(ctx, tokenID, from, now)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return nil
	}

	if trades, err := c.src.RecentTrades(ctx, tokenID, c.cfg.TradeFetch); err != nil {
		c.log.Debug("trade fetch for volume merge failed",
			logger.String("token_id", tokenID),
			logger.Error(err))
	} else {
		mergeTradeVolume(bars, trades, width)
	}

	if err := c.bars.StoreBatch(ctx, bars); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastBars[tokenID] = bars[len(bars)-1].Bucket
	c.mu.Unlock()
	return nil
}

// mergeTradeVolume sums trade sizes into the bars whose bucket they fall in.
// The history endpoint carries prices only; volume comes from trades.
func mergeTradeVolume(bars []models.PriceBar, trades []models.Trade, width time.Duration) {
	if len(bars) == 0 || len(trades) == 0 {
		return
	}
	byBucket := make(map[int64]float64)
	for _, t := range trades {
		byBucket[t.Timestamp.UTC().Truncate(width).Unix()] += t.Size
	}
	for i := range bars {
		if v, ok := byBucket[bars[i].Bucket.Unix()]; ok {
			bars[i].Volume = v
		}
	}
}

// Healthy probes the data source for the health endpoint.
func (c *MarketCollector) Healthy(ctx context.Context) error {
	return c.src.Health(ctx)
}
