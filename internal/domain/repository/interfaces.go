package repository

import (
	"context"
	"time"

	"PolyPaper/internal/domain/models"
)

// MarketStream is a live trade feed from the data source.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, tokenIDs []string) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// DataSource is the pull side of the market data API. Implementations must
// return series with monotonic timestamps; gaps are tolerated.
type DataSource interface {
	Markets(ctx context.Context, limit int) ([]*models.Market, error)
	Market(ctx context.Context, id string) (*models.Market, error)
	Bars(ctx context.Context, tokenID string, from, to time.Time) ([]models.PriceBar, error)
	RecentTrades(ctx context.Context, tokenID string, limit int) ([]models.Trade, error)
	OrderBook(ctx context.Context, tokenID string) (*models.OrderBookSnapshot, error)
	WalletActivity(ctx context.Context, marketID string, since time.Time) ([]models.WalletActivity, error)
	Health(ctx context.Context) error
}

// BarStore persists bucketed price bars and serves lookback windows.
type BarStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	StoreBatch(ctx context.Context, bars []models.PriceBar) error
	Latest(ctx context.Context, tokenID string, n int, tf Timeframe) ([]models.PriceBar, error)
	Range(ctx context.Context, tokenID string, from, to time.Time, tf Timeframe) ([]models.PriceBar, error)
	Health(ctx context.Context) error
	Close() error
}

// PredictionStore appends every emitted signal output for later analysis.
// Rows are never updated.
type PredictionStore interface {
	Init(ctx context.Context) error
	StoreSignal(ctx context.Context, s *models.SignalOutput) error
	StoreCombined(ctx context.Context, c *models.CombinedSignalOutput) error
	Close() error
}

// LedgerStore is the transactional boundary around fills, positions and the
// account row. ApplyFill commits the fill record, the position row and the
// account row as one unit or not at all. Account returns nil, not an error,
// when no account row exists yet.
type LedgerStore interface {
	Init(ctx context.Context) error
	ApplyFill(ctx context.Context, fill *models.Fill, pos *models.Position, acct *models.Account) error
	SavePosition(ctx context.Context, pos *models.Position) error
	OpenPositions(ctx context.Context) ([]*models.Position, error)
	Positions(ctx context.Context, status string, limit int) ([]*models.Position, error)
	Fills(ctx context.Context, limit int) ([]*models.Fill, error)
	Account(ctx context.Context) (*models.Account, error)
	SaveAccount(ctx context.Context, a *models.Account) error
	Reset(ctx context.Context, capital float64) error
	Close() error
}

// ConfigStore is a small KV table for runtime flags, at minimum the
// trading-halt flag. Get returns an empty string, not an error, for keys
// that were never set.
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Well-known ConfigStore keys.
const (
	KeyTradingHalted = "trading_halted"
	KeyHaltReason    = "halt_reason"
)

// EventPublisher pushes fills and combined signals onto the event bus for
// external consumers.
type EventPublisher interface {
	PublishFill(ctx context.Context, f *models.Fill) error
	PublishSignal(ctx context.Context, c *models.CombinedSignalOutput) error
	Close() error
}

// Metrics records pipeline observability counters and gauges.
type Metrics interface {
	RecordSignal(signal string, direction string)
	RecordDecision(outcome string)
	RecordFill(side string, fee float64)
	RecordCapital(capital, available float64)
	RecordRegime(regime string, probability float64)
	RecordBreakerState(state string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordStaleData(endpoint string)
}
