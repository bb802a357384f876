package features

import (
	"math"
	"testing"
	"time"

	"PolyPaper/internal/domain/models"
)

func barsFromCloses(start time.Time, closes ...float64) []models.PriceBar {
	out := make([]models.PriceBar, len(closes))
	for i, c := range closes {
		out[i] = models.PriceBar{
			Bucket:  start.Add(time.Duration(i) * time.Minute),
			TokenID: "tok",
			Open:    c,
			High:    c,
			Low:     c,
			Close:   c,
			Volume:  10,
		}
	}
	return out
}

func TestFlowImbalance(t *testing.T) {
	cases := []struct {
		name   string
		trades []models.Trade
		want   float64
	}{
		{"empty", nil, 0},
		{"all_buys", []models.Trade{{Side: "buy", Size: 5}}, 1},
		{"all_sells", []models.Trade{{Side: "sell", Size: 5}}, -1},
		{"balanced", []models.Trade{{Side: "buy", Size: 5}, {Side: "sell", Size: 5}}, 0},
		{"skewed", []models.Trade{{Side: "buy", Size: 30}, {Side: "sell", Size: 10}}, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FlowImbalance(tc.trades); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("FlowImbalance = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBookImbalanceAndSpread(t *testing.T) {
	book := &models.OrderBookSnapshot{
		TokenID: "tok",
		Bids:    []models.PriceLevel{{Price: 0.48, Size: 30}},
		Asks:    []models.PriceLevel{{Price: 0.52, Size: 10}},
	}
	if got := BookImbalance(book); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("BookImbalance = %v, want 0.5", got)
	}
	if got := Spread(book); math.Abs(got-0.04) > 1e-9 {
		t.Errorf("Spread = %v, want 0.04", got)
	}
	if got := BookImbalance(nil); got != 0 {
		t.Errorf("nil book imbalance = %v, want 0", got)
	}
	if got := Spread(&models.OrderBookSnapshot{Bids: book.Bids}); got != 0 {
		t.Errorf("one-sided spread = %v, want 0", got)
	}
}

func TestObservationRequiresTwoReturns(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	sc := &models.SignalContext{Now: now, Bars: barsFromCloses(now, 0.5, 0.51)}
	if _, ok := Observation(sc); ok {
		t.Error("one return should not produce an observation")
	}

	sc.Bars = barsFromCloses(now, 0.50, 0.51, 0.52)
	obs, ok := Observation(sc)
	if !ok {
		t.Fatal("expected observation")
	}
	wantRet := math.Log(0.52 / 0.51)
	if math.Abs(obs.Return-wantRet) > 1e-9 {
		t.Errorf("Return = %v, want %v", obs.Return, wantRet)
	}
	if !obs.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", obs.Timestamp, now)
	}
	if obs.RelVolume != 1 {
		t.Errorf("RelVolume on uniform volume = %v, want 1", obs.RelVolume)
	}
}

func TestStateVectorDimAndOneHot(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	sc := &models.SignalContext{
		Now:     now,
		Market:  &models.Market{ID: "mkt", YesTokenID: "tok", EndDate: now.Add(48 * time.Hour)},
		TokenID: "tok",
		Bars:    barsFromCloses(now, 0.50, 0.51, 0.52, 0.53),
	}
	pos := &models.Position{
		MarketID: "mkt", TokenID: "tok", Side: models.SideShort,
		Size: 100, AvgEntry: 0.5, Unrealized: -2,
	}
	acct := models.Account{Capital: 1000}
	state := models.RegimeState{Regime: models.RegimeVolatile}

	v := StateVector(sc, pos, acct, state)
	if len(v) != StateDim {
		t.Fatalf("len = %d, want %d", len(v), StateDim)
	}

	// one-hot block sits after the 9 scalar features
	hot := v[9 : 9+len(models.RegimeNames)]
	var ones int
	for i, x := range hot {
		if x == 1 {
			ones++
			if models.RegimeNames[i] != models.RegimeVolatile {
				t.Errorf("one-hot set at %s", models.RegimeNames[i])
			}
		}
	}
	if ones != 1 {
		t.Errorf("one-hot count = %d, want 1", ones)
	}

	if v[2] != -1 {
		t.Errorf("short side feature = %v, want -1", v[2])
	}
	wantUPnL := -2.0 / 50.0
	if math.Abs(v[3]-wantUPnL) > 1e-9 {
		t.Errorf("unrealized fraction = %v, want %v", v[3], wantUPnL)
	}
	wantInv := 50.0 / 1000.0
	if math.Abs(v[13]-wantInv) > 1e-9 {
		t.Errorf("inventory = %v, want %v", v[13], wantInv)
	}

	flat := StateVector(sc, nil, acct, state)
	if len(flat) != StateDim {
		t.Fatalf("flat len = %d, want %d", len(flat), StateDim)
	}
	if flat[2] != 0 || flat[3] != 0 || flat[13] != 0 {
		t.Errorf("flat position features = %v, %v, %v, want zeros", flat[2], flat[3], flat[13])
	}
}

func TestRealizedVolatilityWindow(t *testing.T) {
	if got := RealizedVolatility([]float64{0.01}, 2); got != 0 {
		t.Errorf("below window = %v, want 0", got)
	}
	got := RealizedVolatility([]float64{0.01, -0.01, 0.01, -0.01}, 4)
	if got <= 0 {
		t.Errorf("alternating returns vol = %v, want > 0", got)
	}
}
