// Package features derives numeric inputs for the regime detector and the
// experience replay state vectors from a signal context snapshot.
package features

import (
	"math"

	"PolyPaper/internal/domain/models"
)

// StateDim is the fixed length of every state vector. The replay adapter's
// linear value estimate sizes itself from the first recorded experience, so
// all vectors must agree.
const StateDim = 14

const (
	volWindow      = 20
	momentumWindow = 10
	meanRetWindow  = 5
	depthLevels    = 5
)

// RealizedVolatility is the sample standard deviation of the last window log
// returns, per bar. Returns 0 below the window.
func RealizedVolatility(logReturns []float64, window int) float64 {
	if window < 2 || len(logReturns) < window {
		return 0
	}
	tail := logReturns[len(logReturns)-window:]
	var sum float64
	for _, r := range tail {
		sum += r
	}
	mean := sum / float64(len(tail))
	var sum2 float64
	for _, r := range tail {
		d := r - mean
		sum2 += d * d
	}
	variance := sum2 / float64(len(tail)-1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// FlowImbalance is (buy volume - sell volume) / total volume over the given
// trades, in [-1, 1]. Returns 0 with no volume.
func FlowImbalance(trades []models.Trade) float64 {
	var buy, sell float64
	for _, t := range trades {
		switch t.Side {
		case "buy":
			buy += t.Size
		case "sell":
			sell += t.Size
		}
	}
	total := buy + sell
	if total <= 0 {
		return 0
	}
	return (buy - sell) / total
}

// BookImbalance is (bid depth - ask depth) / total depth over the top levels,
// in [-1, 1]. Returns 0 with no book or an empty book.
func BookImbalance(book *models.OrderBookSnapshot) float64 {
	if book == nil {
		return 0
	}
	bid := models.Depth(book.Bids, depthLevels)
	ask := models.Depth(book.Asks, depthLevels)
	total := bid + ask
	if total <= 0 {
		return 0
	}
	return (bid - ask) / total
}

// Spread is the top-of-book ask minus bid, or 0 when either side is empty.
func Spread(book *models.OrderBookSnapshot) float64 {
	if book == nil {
		return 0
	}
	bid, okB := book.BestBid()
	ask, okA := book.BestAsk()
	if !okB || !okA {
		return 0
	}
	return ask.Price - bid.Price
}

// Observation folds one context snapshot into a regime detector input.
// ok is false when the snapshot has too few bars to compute a return.
func Observation(sc *models.SignalContext) (models.MarketObservation, bool) {
	rets := sc.Returns()
	if len(rets) < 2 {
		return models.MarketObservation{}, false
	}

	relVolume := 1.0
	if n := len(sc.Bars); n > 0 {
		var total float64
		for _, b := range sc.Bars {
			total += b.Volume
		}
		if avg := total / float64(n); avg > 0 {
			relVolume = sc.Bars[n-1].Volume / avg
		}
	}

	momentum := 0.0
	start := len(rets) - momentumWindow
	if start < 0 {
		start = 0
	}
	for _, r := range rets[start:] {
		momentum += r
	}

	return models.MarketObservation{
		Timestamp:  sc.Now,
		Return:     rets[len(rets)-1],
		Volatility: RealizedVolatility(rets, min(volWindow, len(rets))),
		RelVolume:  relVolume,
		Momentum:   momentum,
	}, true
}

// StateVector packs a context snapshot, the position it concerns (nil when
// flat), the account and the regime posterior into a fixed-length vector:
// book spread and depth imbalance, position side and unrealized fraction,
// recent returns and volatility, order-flow imbalance, scaled time to
// resolution, the regime one-hot and inventory risk.
func StateVector(sc *models.SignalContext, pos *models.Position, acct models.Account, regime models.RegimeState) []float64 {
	v := make([]float64, 0, StateDim)

	v = append(v, Spread(sc.Book), BookImbalance(sc.Book))

	side, uPnL := 0.0, 0.0
	if pos != nil {
		if pos.Side == models.SideLong {
			side = 1
		} else {
			side = -1
		}
		if basis := pos.CostBasis(); basis > 0 {
			uPnL = pos.Unrealized / basis
		}
	}
	v = append(v, side, uPnL)

	rets := sc.Returns()
	lastRet, meanRet := 0.0, 0.0
	if n := len(rets); n > 0 {
		lastRet = rets[n-1]
		start := n - meanRetWindow
		if start < 0 {
			start = 0
		}
		var sum float64
		for _, r := range rets[start:] {
			sum += r
		}
		meanRet = sum / float64(n-start)
	}
	v = append(v, lastRet, meanRet, RealizedVolatility(rets, min(volWindow, len(rets))))

	v = append(v, FlowImbalance(sc.RecentTrades))

	ttr := 0.0
	if sc.Market != nil {
		ttr = sc.Market.TimeToResolution(sc.Now).Hours() / (24 * 7)
		if ttr > 1 {
			ttr = 1
		}
	}
	v = append(v, ttr)

	for _, name := range models.RegimeNames {
		if name == regime.Regime {
			v = append(v, 1)
		} else {
			v = append(v, 0)
		}
	}

	inventory := 0.0
	if pos != nil && acct.Capital > 0 {
		inventory = pos.CostBasis() / acct.Capital
	}
	v = append(v, inventory)

	return v
}
