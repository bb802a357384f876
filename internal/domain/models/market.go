package models

import "time"

// Market describes one tradable prediction market and its outcome tokens.
type Market struct {
	ID         string
	Question   string
	Slug       string
	YesTokenID string
	NoTokenID  string // empty when the venue lists no NO outcome token
	EndDate    time.Time
	Resolved   bool
	Outcome    string // "", "yes", "no"
	Volume24h  float64
	Liquidity  float64
}

// HasNoToken reports whether the market lists a tradable NO outcome token.
func (m *Market) HasNoToken() bool { return m.NoTokenID != "" }

// TradableTokens returns the outcome token ids available for trading.
func (m *Market) TradableTokens() []string {
	if m.HasNoToken() {
		return []string{m.YesTokenID, m.NoTokenID}
	}
	return []string{m.YesTokenID}
}

// TimeToResolution returns the remaining lifetime of the market, zero if past.
func (m *Market) TimeToResolution(now time.Time) time.Duration {
	if m.EndDate.IsZero() || !m.EndDate.After(now) {
		return 0
	}
	return m.EndDate.Sub(now)
}

// PriceBar is a bucketed OHLCV record for one outcome token.
type PriceBar struct {
	Bucket  time.Time
	TokenID string
	Open    float64
	High    float64
	Low     float64
	Close   float64
	Volume  float64
}

// Trade is a single executed trade observed from the data source.
type Trade struct {
	TokenID   string
	MarketID  string
	Timestamp time.Time
	Price     float64
	Size      float64
	Side      string // taker side, "buy" or "sell"
}

// PriceLevel is one resting price/size entry on a book side.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot is a point-in-time view of the book for one token.
// Bids and asks are ordered best first.
type OrderBookSnapshot struct {
	TokenID   string
	Timestamp time.Time
	Bids      []PriceLevel
	Asks      []PriceLevel
}

// BestBid returns the top bid level, ok=false on an empty side.
func (b *OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, ok=false on an empty side.
func (b *OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// MidPrice returns the bid/ask midpoint, or the one-sided top, or 0.
func (b *OrderBookSnapshot) MidPrice() float64 {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	switch {
	case okB && okA:
		return (bid.Price + ask.Price) / 2
	case okB:
		return bid.Price
	case okA:
		return ask.Price
	default:
		return 0
	}
}

// Depth sums resting size over the top n levels of one side.
func Depth(levels []PriceLevel, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	var total float64
	for i := 0; i < n; i++ {
		total += levels[i].Size
	}
	return total
}

// WalletActivity is one tracked-wallet trade on a market.
type WalletActivity struct {
	Wallet    string
	MarketID  string
	TokenID   string
	Side      string // "buy" or "sell"
	Size      float64
	Price     float64
	Timestamp time.Time
}
