package signals

import (
	"context"
	"fmt"
	"math"
	"time"

	"PolyPaper/internal/domain/models"
)

// Momentum scores the cumulative log return over a lookback window against
// realized volatility, so a steady drift in a quiet market outranks the same
// drift in a noisy one.
type Momentum struct {
	base
}

func NewMomentum(ttl time.Duration) *Momentum {
	return &Momentum{base: newBase("momentum", ttl, map[string]float64{
		"lookback":   20,
		"vol_window": 10,
	})}
}

func (m *Momentum) RequiredLookback() int {
	lb := int(m.param("lookback"))
	vw := int(m.param("vol_window"))
	if vw > lb {
		lb = vw
	}
	return lb + 1
}

func (m *Momentum) Ready(sc *models.SignalContext) bool {
	return len(sc.Bars) >= m.RequiredLookback()
}

func (m *Momentum) Compute(_ context.Context, sc *models.SignalContext) (*models.SignalOutput, error) {
	lookback := int(m.param("lookback"))
	volWindow := int(m.param("vol_window"))
	if lookback < 2 || volWindow < 2 {
		return nil, fmt.Errorf("momentum: lookback %d vol_window %d out of range", lookback, volWindow)
	}

	returns := sc.Returns()
	need := lookback
	if volWindow > need {
		need = volWindow
	}
	if len(returns) < need {
		return nil, nil
	}

	cum := 0.0
	for _, r := range returns[len(returns)-lookback:] {
		cum += r
	}
	vol := realizedVol(returns, volWindow)
	if vol == 0 {
		// flat window, nothing to rank
		return nil, nil
	}

	tstat := cum / (vol * math.Sqrt(float64(lookback)))
	if math.IsNaN(tstat) {
		return nil, fmt.Errorf("momentum: degenerate inputs for token %s", sc.TokenID)
	}

	strength := squash(tstat / 2)
	confidence := clamp(math.Abs(tstat)/3, 0, 1)
	return m.output(sc, strength, confidence, map[string]float64{
		"cum_return": cum,
		"volatility": vol,
		"t_stat":     tstat,
	}), nil
}
