package models

import (
	"fmt"
	"math"
	"time"
)

// Regime labels for the hidden Markov model states.
const (
	RegimeBull     = "bull"
	RegimeBear     = "bear"
	RegimeVolatile = "volatile"
	RegimeQuiet    = "quiet"
)

// RegimeNames lists all regimes in model order.
var RegimeNames = []string{RegimeBull, RegimeBear, RegimeVolatile, RegimeQuiet}

// MarketObservation is one input step for the regime detector.
type MarketObservation struct {
	Timestamp  time.Time
	Return     float64
	Volatility float64
	RelVolume  float64 // volume relative to rolling average
	Momentum   float64 // optional, 0 when unavailable
}

// RegimePoint is a past (regime, probability) pair kept in bounded history.
type RegimePoint struct {
	Timestamp   time.Time
	Regime      string
	Probability float64
}

// RegimeState is the detector's published view of the current market regime.
// Probs is the posterior over all regimes in RegimeNames order and sums to 1.
type RegimeState struct {
	Timestamp    time.Time
	Regime       string
	Probability  float64
	Probs        []float64
	BarsInRegime int
	History      []RegimePoint
}

// TransitionMatrix holds regime-to-regime transition probabilities. Row i is
// the distribution over next regimes given regime i.
type TransitionMatrix [][]float64

// Validate checks the matrix is square with rows summing to 1.
func (m TransitionMatrix) Validate(n int) error {
	if len(m) != n {
		return fmt.Errorf("transition matrix has %d rows, want %d", len(m), n)
	}
	for i, row := range m {
		if len(row) != n {
			return fmt.Errorf("transition row %d has %d columns, want %d", i, len(row), n)
		}
		var sum float64
		for _, p := range row {
			if p < 0 {
				return fmt.Errorf("transition row %d has negative probability", i)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-6 {
			return fmt.Errorf("transition row %d sums to %v, want 1", i, sum)
		}
	}
	return nil
}

// EmissionParams are one regime's Gaussian parameters over observations.
type EmissionParams struct {
	ReturnMean float64
	ReturnStd  float64
	VolMean    float64
	VolStd     float64
}

// RegimeParameters is the per-regime trading policy consumed by the combiner
// and the risk manager.
type RegimeParameters struct {
	Regime           string
	SizeMultiplier   float64
	MinConfidence    float64
	MinStrength      float64
	PreferredSignals []string
	AvoidedSignals   []string
	StopLossMult     float64
	TakeProfitMult   float64
}
