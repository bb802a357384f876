package signals

import (
	"context"
	"sync"
	"time"

	"PolyPaper/internal/domain/models"
)

// Signal is one independent detector producing a directional opinion from a
// shared market snapshot. Compute returns (nil, nil) on expected data gaps
// (insufficient lookback, missing book); errors are reserved for malformed
// or degenerate inputs.
type Signal interface {
	Name() string
	Compute(ctx context.Context, sc *models.SignalContext) (*models.SignalOutput, error)
	RequiredLookback() int
	Ready(sc *models.SignalContext) bool
	Parameters() map[string]float64
	SetParameters(params map[string]float64)
}

// base carries the identity, output TTL and tunable parameters shared by all
// detectors. Parameter reads/writes may race with Compute, so the map is
// guarded.
type base struct {
	name string
	ttl  time.Duration

	mu     sync.RWMutex
	params map[string]float64
}

func newBase(name string, ttl time.Duration, params map[string]float64) base {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	cp := make(map[string]float64, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return base{name: name, ttl: ttl, params: cp}
}

func (b *base) Name() string { return b.name }

// Parameters returns a copy of the current parameter set.
func (b *base) Parameters() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cp := make(map[string]float64, len(b.params))
	for k, v := range b.params {
		cp[k] = v
	}
	return cp
}

// SetParameters overrides only the provided keys; unknown keys are ignored.
func (b *base) SetParameters(params map[string]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range params {
		if _, ok := b.params[k]; ok {
			b.params[k] = v
		}
	}
}

func (b *base) param(key string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.params[key]
}

// output assembles a SignalOutput for the context's token, deriving the
// direction from the sign of strength and clamping both scores to their
// declared ranges.
func (b *base) output(sc *models.SignalContext, strength, confidence float64, features map[string]float64) *models.SignalOutput {
	strength = clamp(strength, -1, 1)
	confidence = clamp(confidence, 0, 1)

	dir := models.DirectionNeutral
	switch {
	case strength > 0:
		dir = models.DirectionLong
	case strength < 0:
		dir = models.DirectionShort
	}

	var marketID string
	if sc.Market != nil {
		marketID = sc.Market.ID
	}
	return &models.SignalOutput{
		Signal:     b.name,
		MarketID:   marketID,
		TokenID:    sc.TokenID,
		Direction:  dir,
		Strength:   strength,
		Confidence: confidence,
		Timestamp:  sc.Now,
		TTL:        b.ttl,
		Features:   features,
	}
}
