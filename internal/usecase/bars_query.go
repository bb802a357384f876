package usecase

import (
	"context"
	"fmt"
	"time"

	"PolyPaper/internal/domain/models"
	domrepo "PolyPaper/internal/domain/repository"
	"PolyPaper/pkg/util"
)

// BarsQuery serves stored bar history to the read API.
type BarsQuery struct {
	store domrepo.BarStore
}

func NewBarsQuery(store domrepo.BarStore) *BarsQuery {
	return &BarsQuery{store: store}
}

// Health reports whether the backing store is reachable.
func (q *BarsQuery) Health(ctx context.Context) error {
	return q.store.Health(ctx)
}

type GetBarsParams struct {
	TokenID   string
	From      time.Time
	To        time.Time
	Timeframe domrepo.Timeframe
	Limit     int
}

type GetBarsResult struct {
	TokenID   string
	Timeframe string
	From      time.Time
	To        time.Time
	Count     int
	Bars      []models.PriceBar
}

func (q *BarsQuery) GetBars(ctx context.Context, p GetBarsParams) (*GetBarsResult, error) {
	if p.TokenID == "" {
		return nil, fmt.Errorf("token_id required")
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	if !domrepo.IsValidTimeframe(p.Timeframe) {
		p.Timeframe = domrepo.DefaultTimeframe()
	}
	if p.Limit <= 0 {
		p.Limit = 1000
	}
	if p.Limit > 10000 {
		p.Limit = 10000
	}
	// Bars are keyed by bucket start; align so the bucket containing From
	// is not clipped off the bottom of the range.
	p.From, p.To = util.AlignRange(p.From, p.To, p.Timeframe.Duration())

	bars, err := q.store.Range(ctx, p.TokenID, p.From, p.To, p.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("get bars: %w", err)
	}
	if len(bars) > p.Limit {
		bars = bars[len(bars)-p.Limit:]
	}

	return &GetBarsResult{
		TokenID:   p.TokenID,
		Timeframe: string(p.Timeframe),
		From:      p.From,
		To:        p.To,
		Count:     len(bars),
		Bars:      bars,
	}, nil
}
