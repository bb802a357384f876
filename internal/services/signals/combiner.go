package signals

import (
	"math"
	"sync"
	"time"

	"PolyPaper/internal/domain/models"
	"PolyPaper/pkg/logger"
)

const (
	defaultNeutralBand    = 0.15
	defaultPreferredBoost = 1.5
)

// Combiner folds per-detector outputs into one confidence-weighted opinion.
// Effective weight per detector is base seed × adaptive (learned) weight ×
// regime preference multiplier. The adaptive set has a single writer (the
// weight adapter); readers take a snapshot under the lock.
type Combiner struct {
	log            *logger.Logger
	neutralBand    float64
	preferredBoost float64

	mu       sync.RWMutex
	adaptive map[string]float64
}

func NewCombiner(neutralBand float64, log *logger.Logger) *Combiner {
	if neutralBand <= 0 || neutralBand >= 1 {
		neutralBand = defaultNeutralBand
	}
	return &Combiner{
		log:            log,
		neutralBand:    neutralBand,
		preferredBoost: defaultPreferredBoost,
		adaptive:       make(map[string]float64),
	}
}

// SetAdaptiveWeights replaces the learned weight snapshot.
func (c *Combiner) SetAdaptiveWeights(weights map[string]float64) {
	cp := make(map[string]float64, len(weights))
	for k, v := range weights {
		cp[k] = v
	}
	c.mu.Lock()
	c.adaptive = cp
	c.mu.Unlock()
}

// AdaptiveWeights returns a copy of the learned weight snapshot.
func (c *Combiner) AdaptiveWeights() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make(map[string]float64, len(c.adaptive))
	for k, v := range c.adaptive {
		cp[k] = v
	}
	return cp
}

func (c *Combiner) adaptiveWeight(name string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if w, ok := c.adaptive[name]; ok {
		return w
	}
	return 1
}

// regimeMultiplier boosts regime-preferred detectors and zeroes avoided ones.
func (c *Combiner) regimeMultiplier(params *models.RegimeParameters, name string) float64 {
	if params == nil {
		return 1
	}
	for _, avoided := range params.AvoidedSignals {
		if avoided == name {
			return 0
		}
	}
	for _, preferred := range params.PreferredSignals {
		if preferred == name {
			return c.preferredBoost
		}
	}
	return 1
}

// Combine aggregates all unexpired outputs into a single opinion, or nil when
// nothing contributes or every effective weight is zero. A nil result is the
// expected "no opinion" outcome, not an error.
func (c *Combiner) Combine(now time.Time, outputs []models.SignalOutput, base map[string]float64, params *models.RegimeParameters) *models.CombinedSignalOutput {
	if len(outputs) == 0 {
		return nil
	}

	var (
		sumWSC, sumWC, sumW float64
		components          []models.SignalOutput
		weights             = make(map[string]float64)
		minTTL              time.Duration
		marketID, tokenID   string
	)
	for _, out := range outputs {
		if out.Expired(now) {
			continue
		}
		bw, ok := base[out.Signal]
		if !ok {
			bw = 1
		}
		w := bw * c.adaptiveWeight(out.Signal) * c.regimeMultiplier(params, out.Signal)
		if w <= 0 || out.Confidence <= 0 {
			continue
		}

		// canonical signed strength: direction carries the sign
		s := math.Abs(out.Strength)
		switch out.Direction {
		case models.DirectionShort:
			s = -s
		case models.DirectionNeutral:
			s = 0
		}

		sumWSC += w * s * out.Confidence
		sumWC += w * out.Confidence
		sumW += w
		components = append(components, out)
		weights[out.Signal] = w
		if minTTL == 0 || (out.TTL > 0 && out.TTL < minTTL) {
			minTTL = out.TTL
		}
		if marketID == "" {
			marketID = out.MarketID
		}
		if tokenID == "" {
			tokenID = out.TokenID
		}
	}
	if len(components) == 0 || sumWC <= 0 || sumW <= 0 {
		c.log.Debug("combiner: no opinion",
			logger.String("token_id", tokenID),
			logger.Int("outputs", len(outputs)))
		return nil
	}

	strength := clamp(sumWSC/sumWC, -1, 1)
	confidence := clamp(sumWC/sumW, 0, 1)

	dir := models.DirectionNeutral
	switch {
	case strength > c.neutralBand:
		dir = models.DirectionLong
	case strength < -c.neutralBand:
		dir = models.DirectionShort
	}

	return &models.CombinedSignalOutput{
		SignalOutput: models.SignalOutput{
			Signal:     "combined",
			MarketID:   marketID,
			TokenID:    tokenID,
			Direction:  dir,
			Strength:   strength,
			Confidence: confidence,
			Timestamp:  now,
			TTL:        minTTL,
		},
		Components: components,
		Weights:    weights,
	}
}
