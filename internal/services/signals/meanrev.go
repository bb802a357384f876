package signals

import (
	"context"
	"fmt"
	"math"
	"time"

	"PolyPaper/internal/domain/models"
)

// MeanReversion fades deviations from the rolling mean close: the further the
// last price sits above its window mean, the stronger the short opinion, and
// vice versa.
type MeanReversion struct {
	base
}

func NewMeanReversion(ttl time.Duration) *MeanReversion {
	return &MeanReversion{base: newBase("meanrev", ttl, map[string]float64{
		"window": 30,
	})}
}

func (m *MeanReversion) RequiredLookback() int {
	return int(m.param("window"))
}

func (m *MeanReversion) Ready(sc *models.SignalContext) bool {
	return len(sc.Bars) >= m.RequiredLookback()
}

func (m *MeanReversion) Compute(_ context.Context, sc *models.SignalContext) (*models.SignalOutput, error) {
	window := int(m.param("window"))
	if window < 3 {
		return nil, fmt.Errorf("meanrev: window %d out of range", window)
	}
	if len(sc.Bars) < window {
		return nil, nil
	}

	closes := make([]float64, 0, window)
	for _, b := range sc.Bars[len(sc.Bars)-window:] {
		if b.Close <= 0 {
			continue
		}
		closes = append(closes, b.Close)
	}
	if len(closes) < window/2 {
		return nil, nil
	}

	avg := mean(closes)
	sd := sampleStd(closes, avg)
	if sd == 0 {
		return nil, nil
	}

	z := (closes[len(closes)-1] - avg) / sd
	if math.IsNaN(z) {
		return nil, fmt.Errorf("meanrev: degenerate inputs for token %s", sc.TokenID)
	}

	strength := -squash(z / 2)
	confidence := clamp(math.Abs(z)/3, 0, 1)
	return m.output(sc, strength, confidence, map[string]float64{
		"mean":    avg,
		"std":     sd,
		"z_score": z,
	}), nil
}
