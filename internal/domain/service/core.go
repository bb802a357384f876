package service

import (
	"context"

	"PolyPaper/internal/domain/models"
)

// RegimeDetector consumes market observations and publishes the current
// regime state. It has a single writer; State and Parameters are safe for
// concurrent readers and may lag the newest observation by one cycle.
type RegimeDetector interface {
	Observe(obs models.MarketObservation) models.RegimeState
	State() models.RegimeState
	Parameters() models.RegimeParameters
	ParametersFor(regime string) models.RegimeParameters
	Reestimate() error
}

// RiskGate validates proposed orders before they reach the executor. A
// rejected order yields a non-empty outcome string, never an error.
type RiskGate interface {
	Evaluate(ctx context.Context, order *models.Order, combined *models.CombinedSignalOutput) (outcome string, ok bool)
	SizeMultiplier() float64
	RecordOutcome(win bool, realized float64)
	BreakerState() string
	Halt(ctx context.Context, reason string) error
	ClearHalt(ctx context.Context) error
}

// Executor applies validated orders to the paper ledger.
type Executor interface {
	Execute(ctx context.Context, order *models.Order) (*models.Fill, error)
	MarkPrice(ctx context.Context, tokenID string, price float64) error
	OpenPositions() []*models.Position
	Account() models.Account
	Reconcile() error
	Reset(ctx context.Context, capital float64) error
}
