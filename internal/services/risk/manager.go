package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"PolyPaper/internal/domain/models"
	"PolyPaper/internal/domain/repository"
	"PolyPaper/internal/domain/service"
	"PolyPaper/pkg/logger"
)

const persistTimeout = 5 * time.Second

// LedgerView is the slice of executor state the gate validates against.
type LedgerView interface {
	OpenPositions() []*models.Position
	Account() models.Account
}

// Limits bound order admission independent of the breaker.
type Limits struct {
	MaxPositionSize  float64 // notional cap per order before multipliers
	MaxOpenPositions int
	MaxExposure      float64 // open cost basis as a fraction of capital
}

// Manager implements service.RiskGate. Gates run in a fixed order: manual
// halt, breaker, signal thresholds for the current regime, position size,
// concurrent positions, portfolio exposure, available capital. Reduce
// orders skip everything past the breaker since they shrink exposure. The
// capital check here is advisory; the engine re-checks with fees under its
// own lock.
type Manager struct {
	log     *logger.Logger
	limits  Limits
	breaker *Breaker
	regime  service.RegimeDetector
	ledger  LedgerView
	store   repository.ConfigStore

	mu         sync.RWMutex
	halted     bool
	haltReason string
}

var _ service.RiskGate = (*Manager)(nil)

// NewManager wires the gate. The breaker is injected so the status handler
// and tests can reach it directly.
func NewManager(limits Limits, breaker *Breaker, regime service.RegimeDetector, ledger LedgerView, store repository.ConfigStore, log *logger.Logger) *Manager {
	return &Manager{
		log:     log,
		limits:  limits,
		breaker: breaker,
		regime:  regime,
		ledger:  ledger,
		store:   store,
	}
}

// Evaluate validates a proposed order. Rejections come back as an outcome
// string with ok false, never as an error.
func (m *Manager) Evaluate(ctx context.Context, order *models.Order, combined *models.CombinedSignalOutput) (string, bool) {
	outcome, ok := m.evaluate(order, combined)
	if !ok {
		m.log.Debug("order rejected",
			logger.String("outcome", outcome),
			logger.String("market_id", orderMarket(order)),
			logger.String("token_id", orderToken(order)),
		)
	}
	return outcome, ok
}

func (m *Manager) evaluate(order *models.Order, combined *models.CombinedSignalOutput) (string, bool) {
	if order == nil || order.Size <= 0 || order.Price <= 0 {
		m.log.Warn("malformed order reached risk gate")
		return models.OutcomeNeutral, false
	}

	if halted, reason := m.Halted(); halted {
		m.log.Debug("trading halted", logger.String("reason", reason))
		return models.OutcomeHalted, false
	}
	if ok, reason := m.breaker.Allow(); !ok {
		m.log.Debug("breaker open", logger.String("reason", reason))
		return models.OutcomeHalted, false
	}

	if order.Reduce {
		return "", true
	}

	if combined == nil || combined.Direction == models.DirectionNeutral {
		return models.OutcomeNeutral, false
	}

	params := m.regime.Parameters()
	if combined.Confidence < params.MinConfidence {
		return models.OutcomeLowConfidence, false
	}
	if math.Abs(combined.Strength) < params.MinStrength {
		return models.OutcomeLowStrength, false
	}

	if maxSize := m.limits.MaxPositionSize * m.SizeMultiplier(); maxSize > 0 && order.Notional() > maxSize+1e-9 {
		return models.OutcomeMaxSize, false
	}

	open := m.ledger.OpenPositions()
	if m.limits.MaxOpenPositions > 0 && len(open) >= m.limits.MaxOpenPositions && !hasPosition(open, order.MarketID, order.TokenID) {
		return models.OutcomeMaxPositions, false
	}

	acct := m.ledger.Account()
	if m.limits.MaxExposure > 0 && acct.Capital > 0 {
		exposure := order.Notional()
		for _, p := range open {
			exposure += p.CostBasis()
		}
		if exposure > m.limits.MaxExposure*acct.Capital+1e-9 {
			return models.OutcomeMaxExposure, false
		}
	}

	if order.Notional() > acct.Available+1e-9 {
		return models.OutcomeInsufficientCapital, false
	}

	return "", true
}

// SizeMultiplier combines the current regime's sizing policy with the
// breaker's state factor.
func (m *Manager) SizeMultiplier() float64 {
	return m.regime.Parameters().SizeMultiplier * m.breaker.SizeMultiplier()
}

// RecordOutcome feeds a completed trade into the breaker and keeps the
// persisted halt flag in sync with breaker trips and recoveries.
func (m *Manager) RecordOutcome(win bool, realized float64) {
	acct := m.ledger.Account()
	drawdown := 0.0
	if acct.PeakEquity > 0 {
		drawdown = (acct.PeakEquity - acct.Capital) / acct.PeakEquity
		if drawdown < 0 {
			drawdown = 0
		}
	}

	prev := m.breaker.State()
	m.breaker.RecordResult(win, drawdown)
	next := m.breaker.State()

	m.log.Debug("trade outcome recorded",
		logger.Bool("win", win),
		logger.Float64("realized", realized),
		logger.Float64("drawdown", drawdown),
		logger.String("breaker", string(next)),
	)

	if prev == next {
		return
	}
	switch next {
	case StateOpen:
		m.persistHalt("breaker:" + m.breaker.Status().TripReason)
	case StateClosed:
		m.clearPersistedHalt()
	}
}

// BreakerState returns the breaker state as a string for status reporting.
func (m *Manager) BreakerState() string {
	return string(m.breaker.State())
}

// BreakerStatus exposes the full breaker snapshot to the status handler.
func (m *Manager) BreakerStatus() Status {
	return m.breaker.Status()
}

// Halted reports the manual halt flag and its reason.
func (m *Manager) Halted() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted, m.haltReason
}

// Halt stops all trading until ClearHalt. The flag is persisted so the halt
// survives restarts.
func (m *Manager) Halt(ctx context.Context, reason string) error {
	if reason == "" {
		reason = TripManual
	}
	if err := m.store.Set(ctx, repository.KeyTradingHalted, "true"); err != nil {
		return fmt.Errorf("persist halt flag: %w", err)
	}
	if err := m.store.Set(ctx, repository.KeyHaltReason, reason); err != nil {
		m.log.Error("persist halt reason", logger.Error(err))
	}

	m.mu.Lock()
	m.halted = true
	m.haltReason = reason
	m.mu.Unlock()

	m.log.Warn("trading halted", logger.String("reason", reason))
	return nil
}

// ClearHalt resumes trading: the manual flag is dropped and the breaker is
// reset to closed.
func (m *Manager) ClearHalt(ctx context.Context) error {
	if err := m.store.Delete(ctx, repository.KeyTradingHalted); err != nil {
		return fmt.Errorf("clear halt flag: %w", err)
	}
	if err := m.store.Delete(ctx, repository.KeyHaltReason); err != nil {
		m.log.Error("clear halt reason", logger.Error(err))
	}

	m.mu.Lock()
	m.halted = false
	m.haltReason = ""
	m.mu.Unlock()

	m.breaker.Reset()
	m.log.Info("trading halt cleared")
	return nil
}

// Restore loads a persisted halt flag at startup. A restored halt is
// treated as manual and requires an explicit ClearHalt.
func (m *Manager) Restore(ctx context.Context) error {
	v, err := m.store.Get(ctx, repository.KeyTradingHalted)
	if err != nil {
		return fmt.Errorf("load halt flag: %w", err)
	}
	if v != "true" {
		return nil
	}

	reason, err := m.store.Get(ctx, repository.KeyHaltReason)
	if err != nil {
		m.log.Error("load halt reason", logger.Error(err))
		reason = ""
	}

	m.mu.Lock()
	m.halted = true
	m.haltReason = reason
	m.mu.Unlock()

	m.log.Warn("trading halt restored", logger.String("reason", reason))
	return nil
}

func (m *Manager) persistHalt(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.Set(ctx, repository.KeyTradingHalted, "true"); err != nil {
		m.log.Error("persist breaker halt", logger.Error(err))
		return
	}
	if err := m.store.Set(ctx, repository.KeyHaltReason, reason); err != nil {
		m.log.Error("persist breaker halt reason", logger.Error(err))
	}
}

func (m *Manager) clearPersistedHalt() {
	m.mu.RLock()
	manual := m.halted
	m.mu.RUnlock()
	if manual {
		// Breaker recovery never clears an operator's halt.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.Delete(ctx, repository.KeyTradingHalted); err != nil {
		m.log.Error("clear breaker halt", logger.Error(err))
		return
	}
	if err := m.store.Delete(ctx, repository.KeyHaltReason); err != nil {
		m.log.Error("clear breaker halt reason", logger.Error(err))
	}
}

func hasPosition(open []*models.Position, marketID, tokenID string) bool {
	for _, p := range open {
		if p.MarketID == marketID && p.TokenID == tokenID {
			return true
		}
	}
	return false
}

func orderMarket(o *models.Order) string {
	if o == nil {
		return ""
	}
	return o.MarketID
}

func orderToken(o *models.Order) string {
	if o == nil {
		return ""
	}
	return o.TokenID
}
