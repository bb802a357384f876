package models

import "time"

// Side of a position or fill.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Trade decision outcomes recorded by the risk gate and the engine. Every
// rejected decision maps to exactly one of these so nothing fails silently.
const (
	OutcomeExecuted            = "executed"
	OutcomeHalted              = "halted"
	OutcomeNeutral             = "neutral"
	OutcomeLowConfidence       = "low_confidence"
	OutcomeLowStrength         = "low_strength"
	OutcomeMaxSize             = "max_size"
	OutcomeMaxPositions        = "max_positions"
	OutcomeMaxExposure         = "max_exposure"
	OutcomeInsufficientCapital = "insufficient_capital"
	OutcomeNoShortToken        = "no_short_token"
	OutcomePositionOpen        = "position_open"
)

// Order is a proposed simulated execution. It is produced by the trade cycle
// and must pass the risk gate before reaching the engine.
type Order struct {
	MarketID  string
	TokenID   string
	Side      Side
	Size      float64
	Price     float64
	Signal    string
	Reduce    bool // close or reduce an existing position
	Timestamp time.Time
}

// Notional is size times price.
func (o *Order) Notional() float64 { return o.Size * o.Price }

// Fill is the immutable record of one simulated execution. Rows are append
// only; corrections are written as new offsetting fills, never updates.
type Fill struct {
	ID            int64
	MarketID      string
	TokenID       string
	Side          Side
	RequestedSize float64
	Size          float64
	Price         float64
	Fee           float64
	Signal        string
	Realized      float64 // P&L released by this fill, 0 on opens
	Timestamp     time.Time
}

// Position is the per-(market, token) ledger entry. At most one open position
// exists per (market, token) pair; it is created on the first fill and closed
// when size reaches zero.
type Position struct {
	ID         int64
	MarketID   string
	TokenID    string
	Side       Side
	Size       float64
	AvgEntry   float64
	MarkPrice  float64
	Realized   float64 // fixed once closed
	Unrealized float64 // recomputed on every mark refresh
	Signal     string
	OpenedAt   time.Time
	ClosedAt   *time.Time // nil while open
}

// IsOpen reports whether the position is still on the books.
func (p *Position) IsOpen() bool { return p.ClosedAt == nil }

// CostBasis is size times average entry price.
func (p *Position) CostBasis() float64 { return p.Size * p.AvgEntry }

// MarkToMarket recomputes unrealized P&L against price without touching
// realized totals.
func (p *Position) MarkToMarket(price float64) {
	p.MarkPrice = price
	diff := price - p.AvgEntry
	if p.Side == SideShort {
		diff = -diff
	}
	p.Unrealized = diff * p.Size
}

// Account is the single capital ledger row. Invariant, enforced on every
// mutation: Capital == Available + sum of open position cost bases.
type Account struct {
	Capital     float64
	Available   float64
	RealizedPnL float64
	FeesPaid    float64
	Wins        int
	Losses      int
	PeakEquity  float64
	MaxDrawdown float64 // fraction of peak equity, [0,1]
	UpdatedAt   time.Time
}

// Equity is capital plus the given unrealized total.
func (a *Account) Equity(unrealized float64) float64 {
	return a.Capital + unrealized
}
