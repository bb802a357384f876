package replay

import (
	"math"

	"PolyPaper/internal/domain/models"
)

// StateDim is the fixed length of experience state vectors.
const StateDim = 20

// StateVector flattens one decision point into a fixed-length feature
// vector: book shape, current position, recent returns, flow imbalance,
// volatility, time to resolution, regime one-hot and inventory risk. All
// features are squashed or normalized so a linear value estimate stays
// stable. Missing inputs contribute zeros.
func StateVector(sc *models.SignalContext, pos *models.Position, regime models.RegimeState) []float64 {
	v := make([]float64, 0, StateDim)

	// book features: best sizes (log-scaled), spread, mid
	var bidSize, askSize, spread, mid float64
	if sc.Book != nil {
		if bid, ok := sc.Book.BestBid(); ok {
			bidSize = math.Log1p(bid.Size)
		}
		if ask, ok := sc.Book.BestAsk(); ok {
			askSize = math.Log1p(ask.Size)
		}
		if bid, okB := sc.Book.BestBid(); okB {
			if ask, okA := sc.Book.BestAsk(); okA {
				spread = ask.Price - bid.Price
			}
		}
		mid = sc.Book.MidPrice()
	} else {
		mid = sc.LastPrice()
	}
	v = append(v, bidSize, askSize, spread, mid)

	// position: side, size (log-scaled), unrealized P&L
	var side, size, unrealized float64
	if pos != nil && pos.IsOpen() {
		if pos.Side == models.SideLong {
			side = 1
		} else {
			side = -1
		}
		size = math.Log1p(pos.Size)
		unrealized = math.Tanh(pos.Unrealized)
	}
	v = append(v, side, size, unrealized)

	// last five log returns, oldest first, zero-padded on short history
	returns := sc.Returns()
	pad := 5 - len(returns)
	for i := 0; i < pad; i++ {
		v = append(v, 0)
	}
	start := len(returns) - 5
	if start < 0 {
		start = 0
	}
	for _, r := range returns[start:] {
		v = append(v, math.Tanh(r*50))
	}

	// taker flow imbalance over the recent tape
	var buyVol, sellVol float64
	for _, tr := range sc.RecentTrades {
		if tr.TokenID != sc.TokenID {
			continue
		}
		switch tr.Side {
		case "buy":
			buyVol += tr.Size
		case "sell":
			sellVol += tr.Size
		}
	}
	var imbalance float64
	if total := buyVol + sellVol; total > 0 {
		imbalance = (buyVol - sellVol) / total
	}
	v = append(v, imbalance)

	// realized volatility over the last ten returns
	var vol float64
	if len(returns) >= 2 {
		window := len(returns)
		if window > 10 {
			window = 10
		}
		tail := returns[len(returns)-window:]
		m := 0.0
		for _, r := range tail {
			m += r
		}
		m /= float64(len(tail))
		var sum2 float64
		for _, r := range tail {
			d := r - m
			sum2 += d * d
		}
		vol = math.Sqrt(sum2 / float64(len(tail)-1))
	}
	v = append(v, math.Tanh(vol*50))

	// time to resolution in days, capped at 30 and scaled to [0,1]
	var tta float64
	if sc.Market != nil {
		days := sc.Market.TimeToResolution(sc.Now).Hours() / 24
		if days > 30 {
			days = 30
		}
		tta = days / 30
	}
	v = append(v, tta)

	// regime one-hot
	for _, name := range models.RegimeNames {
		if name == regime.Regime {
			v = append(v, 1)
		} else {
			v = append(v, 0)
		}
	}

	// inventory risk: open cost basis squashed
	var inventory float64
	if pos != nil && pos.IsOpen() {
		inventory = math.Tanh(pos.CostBasis() / 1000)
	}
	v = append(v, inventory)

	return v
}
