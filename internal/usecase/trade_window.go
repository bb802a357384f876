package usecase

import (
	"sync"

	"PolyPaper/internal/domain/models"
)

const defaultWindowCap = 256

// TradeWindow keeps a bounded per-token window of live trades delivered by
// the market stream. The trade cycle reads it instead of hitting the REST
// trades endpoint when the stream is healthy.
type TradeWindow struct {
	cap int

	mu     sync.RWMutex
	trades map[string][]models.Trade
}

// NewTradeWindow creates a window keeping at most capPerToken trades per
// token. Non-positive caps fall back to the default.
func NewTradeWindow(capPerToken int) *TradeWindow {
	if capPerToken <= 0 {
		capPerToken = defaultWindowCap
	}
	return &TradeWindow{
		cap:    capPerToken,
		trades: make(map[string][]models.Trade),
	}
}

// Add appends one trade, evicting the oldest past capacity.
func (w *TradeWindow) Add(t *models.Trade) {
	if t == nil || t.TokenID == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	held := append(w.trades[t.TokenID], *t)
	if len(held) > w.cap {
		held = held[len(held)-w.cap:]
	}
	w.trades[t.TokenID] = held
}

// Recent returns up to n newest trades for the token, oldest first. Nil when
// the window holds nothing for the token.
func (w *TradeWindow) Recent(tokenID string, n int) []models.Trade {
	w.mu.RLock()
	defer w.mu.RUnlock()

	held := w.trades[tokenID]
	if len(held) == 0 || n <= 0 {
		return nil
	}
	if n > len(held) {
		n = len(held)
	}
	out := make([]models.Trade, n)
	copy(out, held[len(held)-n:])
	return out
}

// LastPrice returns the newest trade price for the token, 0 when unseen.
func (w *TradeWindow) LastPrice(tokenID string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	held := w.trades[tokenID]
	if len(held) == 0 {
		return 0
	}
	return held[len(held)-1].Price
}

// Size reports how many trades are held for the token.
func (w *TradeWindow) Size(tokenID string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.trades[tokenID])
}
