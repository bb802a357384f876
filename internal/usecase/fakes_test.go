package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"PolyPaper/internal/domain/models"
	domrepo "PolyPaper/internal/domain/repository"
	"PolyPaper/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lgr, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return lgr
}

type barsCall struct {
	tokenID string
	from    time.Time
	to      time.Time
}

// fakeSource is a scripted DataSource. The trade cycle fetches book, trades
// and wallets concurrently, so every accessor takes the mutex.
type fakeSource struct {
	mu sync.Mutex

	markets []*models.Market
	bars    map[string][]models.PriceBar
	trades  map[string][]models.Trade
	books   map[string]*models.OrderBookSnapshot
	wallets map[string][]models.WalletActivity

	marketsErr error
	marketErr  error
	barsErr    error
	tradesErr  error
	bookErr    error
	healthErr  error

	barsCalls []barsCall
}

var _ domrepo.DataSource = (*fakeSource)(nil)

func (f *fakeSource) Markets(ctx context.Context, limit int) ([]*models.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marketsErr != nil {
		return nil, f.marketsErr
	}
	if limit > 0 && limit < len(f.markets) {
		return f.markets[:limit], nil
	}
	return f.markets, nil
}

func (f *fakeSource) Market(ctx context.Context, id string) (*models.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marketErr != nil {
		return nil, f.marketErr
	}
	for _, mk := range f.markets {
		if mk.ID == id {
			cp := *mk
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("market %s not found", id)
}

func (f *fakeSource) Bars(ctx context.Context, tokenID string, from, to time.Time) ([]models.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.barsCalls = append(f.barsCalls, barsCall{tokenID: tokenID, from: from, to: to})
	if f.barsErr != nil {
		return nil, f.barsErr
	}
	return f.bars[tokenID], nil
}

func (f *fakeSource) RecentTrades(ctx context.Context, tokenID string, limit int) ([]models.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tradesErr != nil {
		return nil, f.tradesErr
	}
	return f.trades[tokenID], nil
}

func (f *fakeSource) OrderBook(ctx context.Context, tokenID string) (*models.OrderBookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	if b, ok := f.books[tokenID]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("no book for %s", tokenID)
}

func (f *fakeSource) WalletActivity(ctx context.Context, marketID string, since time.Time) ([]models.WalletActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wallets[marketID], nil
}

func (f *fakeSource) Health(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeSource) setBarsErr(err error) {
	f.mu.Lock()
	f.barsErr = err
	f.mu.Unlock()
}

func (f *fakeSource) setMarketErr(err error) {
	f.mu.Lock()
	f.marketErr = err
	f.mu.Unlock()
}

func (f *fakeSource) lastBarsCall() (barsCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.barsCalls) == 0 {
		return barsCall{}, false
	}
	return f.barsCalls[len(f.barsCalls)-1], true
}

// cycleMetrics counts recorder calls by label.
type cycleMetrics struct {
	mu        sync.Mutex
	decisions map[string]int
	errors    map[string]int
	stale     map[string]int
	signals   int
	fills     int
	regimes   int
}

var _ domrepo.Metrics = (*cycleMetrics)(nil)

func newCycleMetrics() *cycleMetrics {
	return &cycleMetrics{
		decisions: make(map[string]int),
		errors:    make(map[string]int),
		stale:     make(map[string]int),
	}
}

func (m *cycleMetrics) RecordSignal(signal, direction string) {
	m.mu.Lock()
	m.signals++
	m.mu.Unlock()
}

func (m *cycleMetrics) RecordDecision(outcome string) {
	m.mu.Lock()
	m.decisions[outcome]++
	m.mu.Unlock()
}

func (m *cycleMetrics) RecordFill(side string, fee float64) {
	m.mu.Lock()
	m.fills++
	m.mu.Unlock()
}

func (m *cycleMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *cycleMetrics) RecordStaleData(endpoint string) {
	m.mu.Lock()
	m.stale[endpoint]++
	m.mu.Unlock()
}

func (m *cycleMetrics) RecordCapital(capital, available float64)        {}
func (m *cycleMetrics) RecordRegime(regime string, probability float64) {}
func (m *cycleMetrics) RecordBreakerState(state string)                 {}
func (m *cycleMetrics) RecordLatency(op string, seconds float64)        {}

func (m *cycleMetrics) decision(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decisions[outcome]
}

func (m *cycleMetrics) errCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func (m *cycleMetrics) staleCount(endpoint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale[endpoint]
}
