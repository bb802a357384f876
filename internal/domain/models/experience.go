package models

import "time"

// Actions recorded in an Experience.
const (
	ActionHold  = 0
	ActionLong  = 1
	ActionShort = 2
)

// Experience is one (state, action, reward, next state, done) tuple recorded
// for weight learning. State vectors pack book features, position and
// unrealized P&L, recent returns, order-flow imbalance, volatility, time to
// resolution, the regime one-hot and inventory risk.
type Experience struct {
	State     []float64
	Action    int
	Reward    float64
	NextState []float64
	Done      bool
	Signal    string // originating signal, used for weight attribution
	MarketID  string
	Timestamp time.Time
}
