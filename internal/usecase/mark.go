package usecase

import (
	"context"

	domrepo "PolyPaper/internal/domain/repository"
	domsvc "PolyPaper/internal/domain/service"
	"PolyPaper/pkg/logger"
)

// Marker refreshes unrealized P&L for open positions between trade cycles
// and verifies the ledger still reconciles.
type Marker struct {
	exec    domsvc.Executor
	bars    domrepo.BarStore
	window  *TradeWindow
	tf      domrepo.Timeframe
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewMarker(exec domsvc.Executor, bars domrepo.BarStore, window *TradeWindow, tf domrepo.Timeframe, metrics domrepo.Metrics, log *logger.Logger) *Marker {
	if !domrepo.IsValidTimeframe(tf) {
		tf = domrepo.DefaultTimeframe()
	}
	return &Marker{
		exec:    exec,
		bars:    bars,
		window:  window,
		tf:      tf,
		metrics: metrics,
		log:     log,
	}
}

// Run marks every token with an open position at its freshest known price.
func (m *Marker) Run(ctx context.Context) error {
	seen := make(map[string]struct{})
	for _, pos := range m.exec.OpenPositions() {
		if _, done := seen[pos.TokenID]; done {
			continue
		}
		seen[pos.TokenID] = struct{}{}

		price := m.window.LastPrice(pos.TokenID)
		if price <= 0 {
			if bars, err := m.bars.Latest(ctx, pos.TokenID, 1, m.tf); err == nil && len(bars) > 0 {
				price = bars[len(bars)-1].Close
			}
		}
		if price <= 0 || price > 1 {
			continue
		}

		if err := m.exec.MarkPrice(ctx, pos.TokenID, price); err != nil {
			m.metrics.RecordError("mark")
			m.log.Warn("mark refresh failed",
				logger.String("token_id", pos.TokenID),
				logger.Error(err))
		}
	}

	acct := m.exec.Account()
	m.metrics.RecordCapital(acct.Capital, acct.Available)

	if err := m.exec.Reconcile(); err != nil {
		m.metrics.RecordError("ledger_reconcile")
		m.log.Error("ledger reconciliation failed", logger.Error(err))
		return err
	}
	return ctx.Err()
}
