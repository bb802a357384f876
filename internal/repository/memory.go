package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"PolyPaper/internal/domain/models"
	domrepo "PolyPaper/internal/domain/repository"
)

// In-memory store implementations. They back tests and the dependency
// fallbacks when ClickHouse/Redis/Kafka are disabled, so a bare binary
// still runs end to end.

// MemoryBarStore keeps bars per token for one write timeframe, deduped by
// bucket. Reads for other timeframes come back empty, matching a database
// whose other tables were never written.
type MemoryBarStore struct {
	writeTF domrepo.Timeframe
	mu      sync.RWMutex
	bars    map[string]map[int64]models.PriceBar
}

var _ domrepo.BarStore = (*MemoryBarStore)(nil)

func NewMemoryBarStore(writeTF domrepo.Timeframe) *MemoryBarStore {
	if !domrepo.IsValidTimeframe(writeTF) {
		writeTF = domrepo.DefaultTimeframe()
	}
	return &MemoryBarStore{writeTF: writeTF, bars: make(map[string]map[int64]models.PriceBar)}
}

func (m *MemoryBarStore) Init(ctx context.Context) error { return nil }

func (m *MemoryBarStore) StoreBatch(ctx context.Context, bars []models.PriceBar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bars {
		if b.TokenID == "" || b.Bucket.IsZero() {
			continue
		}
		byBucket, ok := m.bars[b.TokenID]
		if !ok {
			byBucket = make(map[int64]models.PriceBar)
			m.bars[b.TokenID] = byBucket
		}
		byBucket[b.Bucket.Unix()] = b
	}
	return nil
}

func (m *MemoryBarStore) sorted(tokenID string) []models.PriceBar {
	byBucket := m.bars[tokenID]
	out := make([]models.PriceBar, 0, len(byBucket))
	for _, b := range byBucket {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out
}

func (m *MemoryBarStore) Latest(ctx context.Context, tokenID string, n int, tf domrepo.Timeframe) ([]models.PriceBar, error) {
	if tf != m.writeTF {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sorted(tokenID)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (m *MemoryBarStore) Range(ctx context.Context, tokenID string, from, to time.Time, tf domrepo.Timeframe) ([]models.PriceBar, error) {
	if tf != m.writeTF {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PriceBar
	for _, b := range m.sorted(tokenID) {
		if b.Bucket.Before(from) || b.Bucket.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *MemoryBarStore) Health(ctx context.Context) error { return nil }
func (m *MemoryBarStore) Close() error                     { return nil }

// MemoryPredictionStore appends outputs to slices.
type MemoryPredictionStore struct {
	mu       sync.Mutex
	Signals  []models.SignalOutput
	Combined []models.CombinedSignalOutput
}

var _ domrepo.PredictionStore = (*MemoryPredictionStore)(nil)

func NewMemoryPredictionStore() *MemoryPredictionStore { return &MemoryPredictionStore{} }

func (m *MemoryPredictionStore) Init(ctx context.Context) error { return nil }

func (m *MemoryPredictionStore) StoreSignal(ctx context.Context, s *models.SignalOutput) error {
	if s == nil {
		return nil
	}
	m.mu.Lock()
	m.Signals = append(m.Signals, *s)
	m.mu.Unlock()
	return nil
}

func (m *MemoryPredictionStore) StoreCombined(ctx context.Context, c *models.CombinedSignalOutput) error {
	if c == nil {
		return nil
	}
	m.mu.Lock()
	m.Combined = append(m.Combined, *c)
	m.mu.Unlock()
	return nil
}

func (m *MemoryPredictionStore) Close() error { return nil }

// MemoryLedger implements LedgerStore with copy-on-write semantics so
// callers never alias stored rows.
type MemoryLedger struct {
	mu        sync.Mutex
	fills     []models.Fill
	positions map[int64]models.Position
	acct      *models.Account
	nextFill  int64
	nextPos   int64
}

var _ domrepo.LedgerStore = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{positions: make(map[int64]models.Position)}
}

func (m *MemoryLedger) Init(ctx context.Context) error { return nil }

func (m *MemoryLedger) ApplyFill(ctx context.Context, fill *models.Fill, pos *models.Position, acct *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fill.ID == 0 {
		m.nextFill++
		fill.ID = m.nextFill
	}
	if pos.ID == 0 {
		m.nextPos++
		pos.ID = m.nextPos
	}
	m.fills = append(m.fills, *fill)
	m.positions[pos.ID] = *pos
	cp := *acct
	m.acct = &cp
	return nil
}

func (m *MemoryLedger) SavePosition(ctx context.Context, pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos.ID == 0 {
		m.nextPos++
		pos.ID = m.nextPos
	}
	m.positions[pos.ID] = *pos
	return nil
}

func (m *MemoryLedger) OpenPositions(ctx context.Context) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Position
	for _, p := range m.positions {
		if p.ClosedAt != nil {
			continue
		}
		cp := p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (m *MemoryLedger) Positions(ctx context.Context, status string, limit int) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Position
	for _, p := range m.positions {
		switch status {
		case "open":
			if p.ClosedAt != nil {
				continue
			}
		case "closed":
			if p.ClosedAt == nil {
				continue
			}
		}
		cp := p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryLedger) Fills(ctx context.Context, limit int) ([]*models.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Fill, 0, len(m.fills))
	for i := len(m.fills) - 1; i >= 0; i-- {
		cp := m.fills[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryLedger) Account(ctx context.Context) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acct == nil {
		return nil, nil
	}
	cp := *m.acct
	return &cp, nil
}

func (m *MemoryLedger) SaveAccount(ctx context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.acct = &cp
	return nil
}

func (m *MemoryLedger) Reset(ctx context.Context, capital float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = nil
	m.positions = make(map[int64]models.Position)
	m.acct = &models.Account{
		Capital:    capital,
		Available:  capital,
		PeakEquity: capital,
		UpdatedAt:  time.Now().UTC(),
	}
	return nil
}

func (m *MemoryLedger) Close() error { return nil }

// MemoryConfig is a map-backed ConfigStore.
type MemoryConfig struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ domrepo.ConfigStore = (*MemoryConfig)(nil)

func NewMemoryConfig() *MemoryConfig {
	return &MemoryConfig{data: make(map[string]string)}
}

func (m *MemoryConfig) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[key], nil
}

func (m *MemoryConfig) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryConfig) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// NoopEvents drops events when kafka is disabled.
type NoopEvents struct{}

var _ domrepo.EventPublisher = (*NoopEvents)(nil)

func (NoopEvents) PublishFill(ctx context.Context, f *models.Fill) error { return nil }
func (NoopEvents) PublishSignal(ctx context.Context, c *models.CombinedSignalOutput) error {
	return nil
}
func (NoopEvents) Close() error { return nil }
