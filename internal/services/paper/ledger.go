package paper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"PolyPaper/internal/domain/models"
	"PolyPaper/pkg/logger"
)

// Account returns a copy of the current account row.
func (e *Engine) Account() models.Account {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.acct
}

// OpenPositions returns copies of all open positions ordered by open time.
func (e *Engine) OpenPositions() []*models.Position {
	e.mu.RLock()
	out := make([]*models.Position, 0, len(e.positions))
	for _, p := range e.positions {
		cp := *p
		out = append(out, &cp)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return positionKey(out[i].MarketID, out[i].TokenID) < positionKey(out[j].MarketID, out[j].TokenID)
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// MarkPrice refreshes unrealized P&L for every open position on the token.
// Realized totals and the account row are never touched here. Persistence
// of the refreshed rows is best effort; the last store error is returned
// after all positions were marked.
func (e *Engine) MarkPrice(ctx context.Context, tokenID string, price float64) error {
	if price <= 0 || price > 1 || math.IsNaN(price) {
		return fmt.Errorf("%w: mark price %v", ErrInvalidOrder, price)
	}

	e.mu.Lock()
	marked := make([]models.Position, 0, 1)
	for _, p := range e.positions {
		if p.TokenID != tokenID {
			continue
		}
		p.MarkToMarket(price)
		marked = append(marked, *p)
	}
	e.mu.Unlock()

	var lastErr error
	for i := range marked {
		if err := e.store.SavePosition(ctx, &marked[i]); err != nil {
			e.log.Error("persist mark",
				logger.String("market_id", marked[i].MarketID),
				logger.String("token_id", tokenID),
				logger.Error(err),
			)
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("persist marks: %w", lastErr)
	}
	return nil
}

// Reconcile checks the ledger invariants: every open position has positive
// size and a sane entry price, nothing closed lingers in the open set, and
// capital equals available plus the summed open cost basis. Violations
// come back as one error listing all of them.
func (e *Engine) Reconcile() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []string
	basis := 0.0
	for key, p := range e.positions {
		if !p.IsOpen() {
			violations = append(violations, fmt.Sprintf("position %s closed but still tracked open", key))
		}
		if p.Size <= 0 {
			violations = append(violations, fmt.Sprintf("position %s open with size %v", key, p.Size))
		}
		if p.AvgEntry <= 0 || p.AvgEntry > 1 {
			violations = append(violations, fmt.Sprintf("position %s entry price %v outside (0, 1]", key, p.AvgEntry))
		}
		basis += p.CostBasis()
	}

	if e.acct.Available < -1e-6 {
		violations = append(violations, fmt.Sprintf("available capital negative: %v", e.acct.Available))
	}
	if diff := e.acct.Capital - (e.acct.Available + basis); math.Abs(diff) > 1e-6 {
		violations = append(violations, fmt.Sprintf(
			"capital %.6f != available %.6f + open basis %.6f (diff %.6f)",
			e.acct.Capital, e.acct.Available, basis, diff))
	}

	if len(violations) > 0 {
		return fmt.Errorf("ledger reconciliation: %s", strings.Join(violations, "; "))
	}
	return nil
}

// Reset wipes the ledger and starts a fresh account at the given capital.
// Backs the admin reset operation.
func (e *Engine) Reset(ctx context.Context, capital float64) error {
	if capital <= 0 {
		return fmt.Errorf("%w: reset capital %v", ErrInvalidOrder, capital)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Reset(ctx, capital); err != nil {
		return fmt.Errorf("reset ledger store: %w", err)
	}

	e.positions = make(map[string]*models.Position)
	e.acct = models.Account{
		Capital:    capital,
		Available:  capital,
		PeakEquity: capital,
		UpdatedAt:  e.clock(),
	}

	e.log.Warn("paper account reset", logger.Float64("capital", capital))
	return nil
}
