package signals

import (
	"context"
	"fmt"
	"time"

	"PolyPaper/internal/domain/models"
)

// OrderFlow measures taker buy/sell volume imbalance over the recent trade
// tape. Imbalance is (buy − sell) / (buy + sell), so persistent one-sided
// aggression saturates toward ±1.
type OrderFlow struct {
	base
}

func NewOrderFlow(ttl time.Duration) *OrderFlow {
	return &OrderFlow{base: newBase("orderflow", ttl, map[string]float64{
		"min_trades": 10,
		"window_min": 30,
	})}
}

// RequiredLookback is in trades, not bars; bar history is not consulted.
func (o *OrderFlow) RequiredLookback() int {
	return int(o.param("min_trades"))
}

func (o *OrderFlow) Ready(sc *models.SignalContext) bool {
	return len(sc.RecentTrades) >= o.RequiredLookback()
}

func (o *OrderFlow) Compute(_ context.Context, sc *models.SignalContext) (*models.SignalOutput, error) {
	minTrades := int(o.param("min_trades"))
	if minTrades < 1 {
		return nil, fmt.Errorf("orderflow: min_trades %d out of range", minTrades)
	}
	window := time.Duration(o.param("window_min")) * time.Minute
	cutoff := sc.Now.Add(-window)

	var buyVol, sellVol float64
	counted := 0
	for _, tr := range sc.RecentTrades {
		if tr.TokenID != sc.TokenID || tr.Timestamp.Before(cutoff) {
			continue
		}
		switch tr.Side {
		case "buy":
			buyVol += tr.Size
		case "sell":
			sellVol += tr.Size
		default:
			continue
		}
		counted++
	}
	if counted < minTrades {
		return nil, nil
	}

	total := buyVol + sellVol
	if total <= 0 {
		return nil, nil
	}

	imbalance := (buyVol - sellVol) / total
	confidence := clamp(float64(counted)/float64(2*minTrades), 0, 1)
	return o.output(sc, imbalance, confidence, map[string]float64{
		"buy_volume":  buyVol,
		"sell_volume": sellVol,
		"trades":      float64(counted),
	}), nil
}
