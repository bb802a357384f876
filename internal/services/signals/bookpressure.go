package signals

import (
	"context"
	"fmt"
	"time"

	"PolyPaper/internal/domain/models"
)

// BookPressure reads resting-depth imbalance off the order book snapshot:
// more size bid than offered over the top levels leans long. Confidence
// fades as the spread widens, since a wide book carries little information.
type BookPressure struct {
	base
}

func NewBookPressure(ttl time.Duration) *BookPressure {
	return &BookPressure{base: newBase("bookpressure", ttl, map[string]float64{
		"levels":     5,
		"max_spread": 0.10,
		"stale_min":  5,
	})}
}

// RequiredLookback is zero; the signal consumes only the book snapshot.
func (b *BookPressure) RequiredLookback() int { return 0 }

func (b *BookPressure) Ready(sc *models.SignalContext) bool {
	return sc.Book != nil && len(sc.Book.Bids) > 0 && len(sc.Book.Asks) > 0
}

func (b *BookPressure) Compute(_ context.Context, sc *models.SignalContext) (*models.SignalOutput, error) {
	if !b.Ready(sc) {
		return nil, nil
	}
	book := sc.Book

	staleAfter := time.Duration(b.param("stale_min")) * time.Minute
	if staleAfter > 0 && sc.Now.Sub(book.Timestamp) > staleAfter {
		return nil, nil
	}

	levels := int(b.param("levels"))
	if levels < 1 {
		return nil, fmt.Errorf("bookpressure: levels %d out of range", levels)
	}

	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()
	spread := ask.Price - bid.Price
	if spread < 0 {
		return nil, fmt.Errorf("bookpressure: crossed book for token %s (bid %.4f ask %.4f)", sc.TokenID, bid.Price, ask.Price)
	}

	bidDepth := models.Depth(book.Bids, levels)
	askDepth := models.Depth(book.Asks, levels)
	total := bidDepth + askDepth
	if total <= 0 {
		return nil, nil
	}

	pressure := (bidDepth - askDepth) / total
	maxSpread := b.param("max_spread")
	confidence := 0.0
	if maxSpread > 0 {
		confidence = clamp(1-spread/maxSpread, 0, 1)
	}
	return b.output(sc, pressure, confidence, map[string]float64{
		"bid_depth": bidDepth,
		"ask_depth": askDepth,
		"spread":    spread,
		"mid":       book.MidPrice(),
	}), nil
}
