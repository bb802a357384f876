// Package gamma is the prediction-market data source client. The REST side
// serves market descriptors, price history, trades, order books and
// tracked-wallet activity; stream.go tails live trades over WebSocket.
package gamma

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"PolyPaper/internal/domain/models"
	"PolyPaper/internal/domain/repository"
	"PolyPaper/internal/service/ratelimit"
	phttp "PolyPaper/pkg/http"
	"PolyPaper/pkg/logger"
	"PolyPaper/pkg/util"
)

// Rate-limit keys, one per REST endpoint.
const (
	EndpointMarkets  = "gamma/markets"
	EndpointHistory  = "gamma/history"
	EndpointTrades   = "gamma/trades"
	EndpointBook     = "gamma/book"
	EndpointActivity = "gamma/activity"
)

const retryBackoff = 500 * time.Millisecond

// Config holds the REST client settings.
type Config struct {
	BaseURL       string
	APIKey        string
	RetryAttempts int
	Timeframe     repository.Timeframe
}

// Client implements repository.DataSource against the venue's REST API.
type Client struct {
	cfg     Config
	http    *phttp.Client
	limiter *ratelimit.Limiter
	log     *logger.Logger
}

var _ repository.DataSource = (*Client)(nil)

// NewClient creates a REST data source client.
func NewClient(cfg Config, httpClient *phttp.Client, limiter *ratelimit.Limiter, log *logger.Logger) *Client {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if !repository.IsValidTimeframe(cfg.Timeframe) {
		cfg.Timeframe = repository.DefaultTimeframe()
	}
	return &Client{cfg: cfg, http: httpClient, limiter: limiter, log: log}
}

type tokenDTO struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

type marketDTO struct {
	ID        string     `json:"id"`
	Question  string     `json:"question"`
	Slug      string     `json:"slug"`
	EndDate   string     `json:"end_date"` // RFC3339 or unix seconds; venues vary
	Closed    bool       `json:"closed"`
	Outcome   string     `json:"outcome"`
	Volume24h float64    `json:"volume_24h"`
	Liquidity float64    `json:"liquidity"`
	Tokens    []tokenDTO `json:"tokens"`
}

func (d *marketDTO) toModel() *models.Market {
	m := &models.Market{
		ID:        d.ID,
		Question:  d.Question,
		Slug:      d.Slug,
		EndDate:   util.ParseTimeDefault(d.EndDate, time.Time{}),
		Resolved:  d.Closed,
		Outcome:   strings.ToLower(d.Outcome),
		Volume24h: d.Volume24h,
		Liquidity: d.Liquidity,
	}
	for _, t := range d.Tokens {
		switch strings.ToLower(t.Outcome) {
		case "yes":
			m.YesTokenID = t.TokenID
		case "no":
			m.NoTokenID = t.TokenID
		}
	}
	return m
}

// Markets lists active, unresolved markets ordered by 24h volume.
func (c *Client) Markets(ctx context.Context, limit int) ([]*models.Market, error) {
	if limit <= 0 {
		limit = 50
	}
	var dtos []marketDTO
	query := map[string][]string{
		"limit":  {strconv.Itoa(limit)},
		"active": {"true"},
		"closed": {"false"},
		"order":  {"volume_24h"},
	}
	if err := c.get(ctx, EndpointMarkets, "/markets", query, &dtos); err != nil {
		return nil, err
	}

	out := make([]*models.Market, 0, len(dtos))
	for i := range dtos {
		m := dtos[i].toModel()
		if m.YesTokenID == "" {
			c.log.Debug("gamma: market without yes token skipped", logger.String("market_id", m.ID))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Market fetches one market descriptor by id.
func (c *Client) Market(ctx context.Context, id string) (*models.Market, error) {
	if id == "" {
		return nil, fmt.Errorf("gamma: empty market id")
	}
	var dto marketDTO
	if err := c.get(ctx, EndpointMarkets, "/markets/"+id, nil, &dto); err != nil {
		return nil, err
	}
	return dto.toModel(), nil
}

type pricePoint struct {
	T int64   `json:"t"` // unix seconds
	P float64 `json:"p"`
}

type historyDTO struct {
	History []pricePoint `json:"history"`
}

// Bars fetches the price history for one token and buckets it into OHLC
// bars at the configured timeframe. The history feed carries no per-point
// volume; the collector merges trade volume in afterwards.
func (c *Client) Bars(ctx context.Context, tokenID string, from, to time.Time) ([]models.PriceBar, error) {
	if tokenID == "" {
		return nil, fmt.Errorf("gamma: empty token id")
	}
	width := c.cfg.Timeframe.Duration()
	fidelity := int(width.Minutes())
	if fidelity < 1 {
		fidelity = 1
	}
	var dto historyDTO
	query := map[string][]string{
		"market":   {tokenID},
		"startTs":  {strconv.FormatInt(from.Unix(), 10)},
		"endTs":    {strconv.FormatInt(to.Unix(), 10)},
		"fidelity": {strconv.Itoa(fidelity)},
	}
	if err := c.get(ctx, EndpointHistory, "/prices-history", query, &dto); err != nil {
		return nil, err
	}
	return aggregateBars(tokenID, dto.History, width), nil
}

type tradeDTO struct {
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Market    string `json:"market"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// RecentTrades fetches the latest trades for one token, oldest first.
// Malformed rows are skipped, not fatal.
func (c *Client) RecentTrades(ctx context.Context, tokenID string, limit int) ([]models.Trade, error) {
	if tokenID == "" {
		return nil, fmt.Errorf("gamma: empty token id")
	}
	if limit <= 0 {
		limit = 100
	}
	var dtos []tradeDTO
	query := map[string][]string{
		"market": {tokenID},
		"limit":  {strconv.Itoa(limit)},
	}
	if err := c.get(ctx, EndpointTrades, "/trades", query, &dtos); err != nil {
		return nil, err
	}

	out := make([]models.Trade, 0, len(dtos))
	skipped := 0
	for _, d := range dtos {
		price, errP := strconv.ParseFloat(d.Price, 64)
		size, errS := strconv.ParseFloat(d.Size, 64)
		if errP != nil || errS != nil || price <= 0 || size <= 0 {
			skipped++
			continue
		}
		out = append(out, models.Trade{
			TokenID:   tokenID,
			MarketID:  d.Market,
			Timestamp: time.Unix(d.Timestamp, 0).UTC(),
			Price:     price,
			Size:      size,
			Side:      strings.ToLower(d.Side),
		})
	}
	if skipped > 0 {
		c.log.Warn("gamma: malformed trades skipped",
			logger.String("token_id", tokenID),
			logger.Int("skipped", skipped))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

type levelDTO struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookDTO struct {
	Timestamp int64      `json:"timestamp"` // ms
	Bids      []levelDTO `json:"bids"`
	Asks      []levelDTO `json:"asks"`
}

// OrderBook fetches a book snapshot; both sides come back best first.
func (c *Client) OrderBook(ctx context.Context, tokenID string) (*models.OrderBookSnapshot, error) {
	if tokenID == "" {
		return nil, fmt.Errorf("gamma: empty token id")
	}
	var dto bookDTO
	query := map[string][]string{"token_id": {tokenID}}
	if err := c.get(ctx, EndpointBook, "/book", query, &dto); err != nil {
		return nil, err
	}

	snap := &models.OrderBookSnapshot{
		TokenID:   tokenID,
		Timestamp: time.UnixMilli(dto.Timestamp).UTC(),
		Bids:      parseLevels(dto.Bids),
		Asks:      parseLevels(dto.Asks),
	}
	if dto.Timestamp == 0 {
		snap.Timestamp = time.Now().UTC()
	}
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })
	return snap, nil
}

type activityDTO struct {
	Wallet    string  `json:"proxy_wallet"`
	Market    string  `json:"market"`
	TokenID   string  `json:"asset"`
	Side      string  `json:"side"`
	Size      float64 `json:"size"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix seconds
}

// WalletActivity lists tracked-wallet trades on a market since the given
// time, oldest first.
func (c *Client) WalletActivity(ctx context.Context, marketID string, since time.Time) ([]models.WalletActivity, error) {
	if marketID == "" {
		return nil, fmt.Errorf("gamma: empty market id")
	}
	var dtos []activityDTO
	query := map[string][]string{
		"market":   {marketID},
		"since_ts": {strconv.FormatInt(since.Unix(), 10)},
	}
	if err := c.get(ctx, EndpointActivity, "/activity", query, &dtos); err != nil {
		return nil, err
	}

	out := make([]models.WalletActivity, 0, len(dtos))
	for _, d := range dtos {
		if d.Price <= 0 || d.Size <= 0 {
			continue
		}
		out = append(out, models.WalletActivity{
			Wallet:    d.Wallet,
			MarketID:  marketID,
			TokenID:   d.TokenID,
			Side:      strings.ToLower(d.Side),
			Size:      d.Size,
			Price:     d.Price,
			Timestamp: time.Unix(d.Timestamp, 0).UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Health probes the markets endpoint with the smallest possible request.
func (c *Client) Health(ctx context.Context) error {
	var dtos []marketDTO
	query := map[string][]string{"limit": {"1"}}
	return c.get(ctx, EndpointMarkets, "/markets", query, &dtos)
}

// get performs one rate-limited GET with bounded retries.
func (c *Client) get(ctx context.Context, endpoint, path string, query map[string][]string, dest interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			backoff := retryBackoff * time.Duration(1<<uint(attempt-2))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx, endpoint); err != nil {
			return fmt.Errorf("%s: rate wait: %w", endpoint, err)
		}

		err := c.http.SendAndParse(ctx, &phttp.RequestOptions{
			Method:      phttp.MethodGet,
			URL:         c.cfg.BaseURL + path,
			Headers:     c.headers(),
			QueryParams: query,
		}, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		c.log.Warn("gamma: request failed",
			logger.String("endpoint", endpoint),
			logger.Int("attempt", attempt),
			logger.Error(err))
	}
	return fmt.Errorf("%s after %d attempts: %w", endpoint, c.cfg.RetryAttempts, lastErr)
}

func (c *Client) headers() map[string]string {
	if c.cfg.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

func parseLevels(in []levelDTO) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(in))
	for _, l := range in {
		price, errP := strconv.ParseFloat(l.Price, 64)
		size, errS := strconv.ParseFloat(l.Size, 64)
		if errP != nil || errS != nil || price <= 0 || size <= 0 {
			continue
		}
		out = append(out, models.PriceLevel{Price: price, Size: size})
	}
	return out
}

// aggregateBars buckets raw price points into fixed-width OHLC bars.
// Points are sorted first, so out-of-order feeds still produce monotonic
// buckets.
func aggregateBars(tokenID string, points []pricePoint, width time.Duration) []models.PriceBar {
	if width <= 0 {
		width = time.Minute
	}
	sort.Slice(points, func(i, j int) bool { return points[i].T < points[j].T })

	var bars []models.PriceBar
	var cur *models.PriceBar
	for _, pt := range points {
		if pt.P <= 0 {
			continue
		}
		bucket := time.Unix(pt.T, 0).UTC().Truncate(width)
		if cur == nil || !cur.Bucket.Equal(bucket) {
			if cur != nil {
				bars = append(bars, *cur)
			}
			cur = &models.PriceBar{
				Bucket:  bucket,
				TokenID: tokenID,
				Open:    pt.P,
				High:    pt.P,
				Low:     pt.P,
				Close:   pt.P,
			}
			continue
		}
		if pt.P > cur.High {
			cur.High = pt.P
		}
		if pt.P < cur.Low {
			cur.Low = pt.P
		}
		cur.Close = pt.P
	}
	if cur != nil {
		bars = append(bars, *cur)
	}
	return bars
}
