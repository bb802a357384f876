package risk

import (
	"sync"
	"time"

	"PolyPaper/pkg/logger"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"    // trading allowed
	StateOpen     State = "open"      // trading halted
	StateHalfOpen State = "half_open" // probing after cooldown, reduced size
)

// Trip reasons recorded on transitions to open.
const (
	TripConsecutiveLosses = "consecutive_losses"
	TripDrawdown          = "drawdown"
	TripProbeLoss         = "probe_loss"
	TripManual            = "manual"
)

// BreakerConfig bounds when the breaker trips and how it recovers.
type BreakerConfig struct {
	ConsecutiveLosses int           // losses in a row that trip the breaker
	DrawdownPct       float64       // drawdown from peak equity that trips it, fraction
	Cooldown          time.Duration // open to half-open delay
	ProbeTrades       int           // consecutive probe wins required to close
	ProbeSizeFactor   float64       // order size scale while half-open
	Window            int           // recent outcomes kept for status reporting
}

func (c *BreakerConfig) setDefaults() {
	if c.ConsecutiveLosses <= 0 {
		c.ConsecutiveLosses = 5
	}
	if c.DrawdownPct <= 0 {
		c.DrawdownPct = 0.10
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Minute
	}
	if c.ProbeTrades <= 0 {
		c.ProbeTrades = 3
	}
	if c.ProbeSizeFactor <= 0 || c.ProbeSizeFactor > 1 {
		c.ProbeSizeFactor = 0.5
	}
	if c.Window <= 0 {
		c.Window = 20
	}
}

// Status is a point-in-time snapshot of the breaker for operators.
type Status struct {
	State             State         `json:"state"`
	SizeMultiplier    float64       `json:"size_multiplier"`
	LossStreak        int           `json:"loss_streak"`
	ProbeWins         int           `json:"probe_wins"`
	TripReason        string        `json:"trip_reason,omitempty"`
	TrippedAt         *time.Time    `json:"tripped_at,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	Trips             int64         `json:"trips"`
	WindowWins        int           `json:"window_wins"`
	WindowLosses      int           `json:"window_losses"`
}

// Breaker is the global trading kill switch. Closed lets orders through,
// open blocks everything, half-open lets reduced-size probes through after
// the cooldown. N consecutive losses or a drawdown past the threshold trip
// it open; K consecutive probe wins close it again; one probe loss reopens
// it and restarts the cooldown.
type Breaker struct {
	log *logger.Logger
	cfg BreakerConfig

	mu             sync.RWMutex
	state          State
	stateEnteredAt time.Time
	trippedAt      time.Time
	tripReason     string
	lossStreak     int
	probeWins      int
	recent         []bool // rolling outcome window, true on win
	trips          int64

	now func() time.Time
}

// NewBreaker returns a closed breaker. Zero config fields fall back to
// defaults.
func NewBreaker(cfg BreakerConfig, log *logger.Logger) *Breaker {
	cfg.setDefaults()
	return &Breaker{
		log:            log,
		cfg:            cfg,
		state:          StateClosed,
		stateEnteredAt: time.Now(),
		now:            time.Now,
	}
}

// Allow reports whether an order may proceed. The second value names the
// block reason when the first is false. Calling Allow on an open breaker
// whose cooldown has elapsed moves it to half-open.
func (b *Breaker) Allow() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.materializeLocked()
	if b.state == StateOpen {
		return false, b.tripReason
	}
	return true, ""
}

// RecordResult feeds one completed trade outcome and the account's current
// drawdown from peak equity into the state machine.
func (b *Breaker) RecordResult(win bool, drawdown float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.materializeLocked()

	b.recent = append(b.recent, win)
	if len(b.recent) > b.cfg.Window {
		b.recent = b.recent[len(b.recent)-b.cfg.Window:]
	}

	switch b.state {
	case StateClosed:
		if win {
			b.lossStreak = 0
		} else {
			b.lossStreak++
		}
		switch {
		case b.lossStreak >= b.cfg.ConsecutiveLosses:
			b.tripLocked(TripConsecutiveLosses)
		case drawdown >= b.cfg.DrawdownPct:
			b.tripLocked(TripDrawdown)
		}

	case StateHalfOpen:
		if !win {
			b.tripLocked(TripProbeLoss)
			return
		}
		b.probeWins++
		if b.probeWins >= b.cfg.ProbeTrades {
			b.lossStreak = 0
			b.tripReason = ""
			b.setStateLocked(StateClosed, "probe_recovery")
		}

	case StateOpen:
		// Results from trades already in flight when the breaker tripped
		// land here. Keep the streak current so it is accurate once the
		// breaker closes again.
		if win {
			b.lossStreak = 0
		} else {
			b.lossStreak++
		}
	}
}

// Trip forces the breaker open. Backs the manual halt admin operation.
func (b *Breaker) Trip(reason string) {
	if reason == "" {
		reason = TripManual
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripLocked(reason)
}

// Reset forces the breaker closed and clears all streak state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lossStreak = 0
	b.probeWins = 0
	b.tripReason = ""
	b.trippedAt = time.Time{}
	b.setStateLocked(StateClosed, "manual_reset")
}

// State returns the effective state, accounting for an elapsed cooldown
// that has not been materialized by Allow yet.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.effectiveStateLocked()
}

// SizeMultiplier scales order notional for the current state: 1 closed,
// the probe factor half-open, 0 open.
func (b *Breaker) SizeMultiplier() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch b.effectiveStateLocked() {
	case StateClosed:
		return 1.0
	case StateHalfOpen:
		return b.cfg.ProbeSizeFactor
	default:
		return 0
	}
}

// Status snapshots the breaker for the status endpoint.
func (b *Breaker) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Status{
		State:      b.effectiveStateLocked(),
		LossStreak: b.lossStreak,
		ProbeWins:  b.probeWins,
		TripReason: b.tripReason,
		Trips:      b.trips,
	}
	switch st.State {
	case StateClosed:
		st.SizeMultiplier = 1.0
	case StateHalfOpen:
		st.SizeMultiplier = b.cfg.ProbeSizeFactor
	}
	if !b.trippedAt.IsZero() {
		t := b.trippedAt
		st.TrippedAt = &t
	}
	if st.State == StateOpen {
		if remaining := b.trippedAt.Add(b.cfg.Cooldown).Sub(b.now()); remaining > 0 {
			st.CooldownRemaining = remaining
		}
	}
	for _, win := range b.recent {
		if win {
			st.WindowWins++
		} else {
			st.WindowLosses++
		}
	}
	return st
}

// effectiveStateLocked derives the state a caller should act on without
// mutating anything. Requires at least a read lock.
func (b *Breaker) effectiveStateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.trippedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// materializeLocked commits the open to half-open transition once the
// cooldown has elapsed. Requires the write lock.
func (b *Breaker) materializeLocked() {
	if b.state == StateOpen && b.now().Sub(b.trippedAt) >= b.cfg.Cooldown {
		b.setStateLocked(StateHalfOpen, "cooldown_elapsed")
	}
}

func (b *Breaker) tripLocked(reason string) {
	b.trips++
	b.tripReason = reason
	b.trippedAt = b.now()
	b.setStateLocked(StateOpen, reason)
}

func (b *Breaker) setStateLocked(next State, reason string) {
	if next == b.state {
		return
	}
	prev := b.state
	b.state = next
	b.stateEnteredAt = b.now()
	if next == StateHalfOpen {
		b.probeWins = 0
	}

	fields := []logger.Field{
		logger.String("from", string(prev)),
		logger.String("to", string(next)),
		logger.String("reason", reason),
		logger.Int("loss_streak", b.lossStreak),
	}
	if next == StateOpen {
		b.log.Error("circuit breaker tripped", fields...)
	} else {
		b.log.Info("circuit breaker state change", fields...)
	}
}
