package usecase

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"PolyPaper/internal/domain/models"
)

func windowTrade(tok string, price float64, at time.Time) *models.Trade {
	return &models.Trade{
		TokenID:   tok,
		MarketID:  "mkt-1",
		Timestamp: at,
		Price:     price,
		Size:      10,
		Side:      "buy",
	}
}

func TestTradeWindowEvictsOldest(t *testing.T) {
	w := NewTradeWindow(3)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		w.Add(windowTrade("tok-1", 0.50+float64(i)*0.01, base.Add(time.Duration(i)*time.Second)))
	}

	if got := w.Size("tok-1"); got != 3 {
		t.Fatalf("Size = %d, want 3", got)
	}
	recent := w.Recent("tok-1", 10)
	if len(recent) != 3 {
		t.Fatalf("Recent len = %d, want 3", len(recent))
	}
	// oldest two evicted, survivors in oldest-first order
	wantPrices := []float64{0.52, 0.53, 0.54}
	for i, tr := range recent {
		if tr.Price != wantPrices[i] {
			t.Errorf("recent[%d].Price = %v, want %v", i, tr.Price, wantPrices[i])
		}
	}
}

func TestTradeWindowRecent(t *testing.T) {
	w := NewTradeWindow(16)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		w.Add(windowTrade("tok-1", 0.40+float64(i)*0.01, base.Add(time.Duration(i)*time.Second)))
	}

	if got := w.Recent("unknown", 5); got != nil {
		t.Errorf("Recent(unknown) = %v, want nil", got)
	}
	if got := w.Recent("tok-1", 0); got != nil {
		t.Errorf("Recent(n=0) = %v, want nil", got)
	}

	got := w.Recent("tok-1", 2)
	if len(got) != 2 {
		t.Fatalf("Recent len = %d, want 2", len(got))
	}
	if got[0].Price != 0.42 || got[1].Price != 0.43 {
		t.Errorf("Recent = [%v %v], want newest two oldest-first [0.42 0.43]", got[0].Price, got[1].Price)
	}

	// returned slice is a copy, mutating it must not leak into the window
	got[1].Price = 0.99
	if p := w.LastPrice("tok-1"); p != 0.43 {
		t.Errorf("LastPrice after mutating copy = %v, want 0.43", p)
	}
}

func TestTradeWindowLastPrice(t *testing.T) {
	w := NewTradeWindow(8)
	if p := w.LastPrice("tok-1"); p != 0 {
		t.Fatalf("LastPrice empty = %v, want 0", p)
	}
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	w.Add(windowTrade("tok-1", 0.51, base))
	w.Add(windowTrade("tok-1", 0.56, base.Add(time.Second)))
	if p := w.LastPrice("tok-1"); p != 0.56 {
		t.Errorf("LastPrice = %v, want 0.56", p)
	}
}

func TestTradeWindowIgnoresInvalid(t *testing.T) {
	w := NewTradeWindow(8)
	w.Add(nil)
	w.Add(&models.Trade{TokenID: "", Price: 0.5, Size: 1})
	if got := w.Size(""); got != 0 {
		t.Errorf("Size after invalid adds = %d, want 0", got)
	}
}

func TestTradeWindowConcurrentAdds(t *testing.T) {
	w := NewTradeWindow(16)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			tok := fmt.Sprintf("tok-%d", g)
			for i := 0; i < 32; i++ {
				w.Add(windowTrade(tok, 0.5, base.Add(time.Duration(i)*time.Millisecond)))
			}
		}(g)
	}
	wg.Wait()

	for g := 0; g < 4; g++ {
		tok := fmt.Sprintf("tok-%d", g)
		if got := w.Size(tok); got != 16 {
			t.Errorf("Size(%s) = %d, want 16", tok, got)
		}
	}
}
