package models

import (
	"math"
	"time"
)

// Direction is the side of a trading opinion.
type Direction string

const (
	DirectionLong    Direction = "long"
	DirectionShort   Direction = "short"
	DirectionNeutral Direction = "neutral"
)

// SignalContext is the immutable market snapshot handed to every signal in a
// cycle. Bars are ordered oldest to newest. Book, wallet activity and related
// markets are optional and may be nil/empty on thin markets.
type SignalContext struct {
	Now          time.Time
	Market       *Market
	TokenID      string
	Bars         []PriceBar
	RecentTrades []Trade
	Book         *OrderBookSnapshot
	Wallets      []WalletActivity
	Related      []*Market
}

// LastPrice returns the newest bar close, or 0 when no bars are present.
func (sc *SignalContext) LastPrice() float64 {
	if len(sc.Bars) == 0 {
		return 0
	}
	return sc.Bars[len(sc.Bars)-1].Close
}

// Returns computes log returns over consecutive bar closes, oldest first.
// Bars with non-positive closes are skipped.
func (sc *SignalContext) Returns() []float64 {
	if len(sc.Bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(sc.Bars)-1)
	for i := 1; i < len(sc.Bars); i++ {
		prev, cur := sc.Bars[i-1].Close, sc.Bars[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// SignalOutput is one detector's opinion for a token. Created once per signal
// per cycle; it expires by time and is never mutated.
type SignalOutput struct {
	Signal     string
	MarketID   string
	TokenID    string
	Direction  Direction
	Strength   float64 // [-1, 1]
	Confidence float64 // [0, 1]
	Timestamp  time.Time
	TTL        time.Duration
	Features   map[string]float64
	Metadata   map[string]string
}

// Expired reports whether the output is stale at now.
func (s *SignalOutput) Expired(now time.Time) bool {
	return now.After(s.Timestamp.Add(s.TTL))
}

// CombinedSignalOutput is the weighted aggregation of several signal outputs
// with the weight vector that produced it.
type CombinedSignalOutput struct {
	SignalOutput
	Components []SignalOutput
	Weights    map[string]float64
}
