package signals

import (
	"context"
	"fmt"
	"time"

	"PolyPaper/internal/domain/models"
)

// Whale follows tracked-wallet flow: net signed notional from watched wallets
// over a recent window, scaled by how one-sided it is. Flow below the
// notional floor is treated as noise and produces no opinion.
type Whale struct {
	base
}

func NewWhale(ttl time.Duration) *Whale {
	return &Whale{base: newBase("whale", ttl, map[string]float64{
		"window_hr":     6,
		"min_notional":  500,
		"full_notional": 2000,
	})}
}

// RequiredLookback is zero; the signal consumes only wallet activity.
func (w *Whale) RequiredLookback() int { return 0 }

func (w *Whale) Ready(sc *models.SignalContext) bool {
	return len(sc.Wallets) > 0
}

func (w *Whale) Compute(_ context.Context, sc *models.SignalContext) (*models.SignalOutput, error) {
	minNotional := w.param("min_notional")
	if minNotional <= 0 {
		return nil, fmt.Errorf("whale: min_notional %.2f out of range", minNotional)
	}
	window := time.Duration(w.param("window_hr")) * time.Hour
	cutoff := sc.Now.Add(-window)

	var net, gross float64
	wallets := make(map[string]struct{})
	for _, act := range sc.Wallets {
		if act.TokenID != sc.TokenID || act.Timestamp.Before(cutoff) {
			continue
		}
		notional := act.Size * act.Price
		if notional <= 0 {
			continue
		}
		switch act.Side {
		case "buy":
			net += notional
		case "sell":
			net -= notional
		default:
			continue
		}
		gross += notional
		wallets[act.Wallet] = struct{}{}
	}
	if gross < minNotional {
		return nil, nil
	}

	strength := net / gross
	fullNotional := w.param("full_notional")
	if fullNotional < minNotional {
		fullNotional = minNotional
	}
	confidence := clamp(gross/fullNotional, 0, 1) * clamp(float64(len(wallets))/3, 0, 1)
	return w.output(sc, strength, confidence, map[string]float64{
		"net_notional":   net,
		"gross_notional": gross,
		"wallets":        float64(len(wallets)),
	}), nil
}
