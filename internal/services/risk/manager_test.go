package risk

import (
	"context"
	"testing"
	"time"

	"PolyPaper/internal/domain/models"
	"PolyPaper/internal/domain/repository"
)

type fakeRegime struct {
	params models.RegimeParameters
}

func (f *fakeRegime) Observe(models.MarketObservation) models.RegimeState {
	return models.RegimeState{}
}

func (f *fakeRegime) State() models.RegimeState { return models.RegimeState{} }
func (f *fakeRegime) Parameters() models.RegimeParameters { return f.params }
func (f *fakeRegime) ParametersFor(string) models.RegimeParameters { return f.params }
func (f *fakeRegime) Reestimate() error { return nil }

type fakeLedger struct {
	open []*models.Position
	acct models.Account
}

func (f *fakeLedger) OpenPositions() []*models.Position { return f.open }
func (f *fakeLedger) Account() models.Account           { return f.acct }

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string]string{}} }

func (f *fakeStore) Get(_ context.Context, key string) (string, error) { return f.data[key], nil }

func (f *fakeStore) Set(_ context.Context, key, value string) error {
	f.data[key] = value
	return nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func testLimits() Limits {
	return Limits{MaxPositionSize: 100, MaxOpenPositions: 2, MaxExposure: 0.5}
}

func healthyLedger() *fakeLedger {
	return &fakeLedger{
		acct: models.Account{Capital: 1000, Available: 1000, PeakEquity: 1000},
	}
}

func newTestManager(t *testing.T, ledger *fakeLedger) (*Manager, *fakeStore) {
	t.Helper()
	log := testLogger(t)
	breaker := NewBreaker(testBreakerConfig(), log)
	breaker.now = func() time.Time { return testNow }
	regime := &fakeRegime{params: models.RegimeParameters{
		Regime:         models.RegimeBull,
		SizeMultiplier: 1.0,
		MinConfidence:  0.4,
		MinStrength:    0.3,
	}}
	store := newFakeStore()
	return NewManager(testLimits(), breaker, regime, ledger, store, log), store
}

func testOrder(notional float64) *models.Order {
	return &models.Order{
		MarketID:  "mkt-1",
		TokenID:   "tok-yes",
		Side:      models.SideLong,
		Size:      notional / 0.5,
		Price:     0.5,
		Signal:    "combined",
		Timestamp: testNow,
	}
}

func testCombined(strength, confidence float64) *models.CombinedSignalOutput {
	dir := models.DirectionLong
	if strength < 0 {
		dir = models.DirectionShort
	}
	return &models.CombinedSignalOutput{
		SignalOutput: models.SignalOutput{
			Signal:     "combined",
			MarketID:   "mkt-1",
			TokenID:    "tok-yes",
			Direction:  dir,
			Strength:   strength,
			Confidence: confidence,
			Timestamp:  testNow,
			TTL:        5 * time.Minute,
		},
	}
}

func openPosition(marketID, tokenID string, costBasis float64) *models.Position {
	return &models.Position{
		MarketID: marketID,
		TokenID:  tokenID,
		Side:     models.SideLong,
		Size:     costBasis / 0.5,
		AvgEntry: 0.5,
		OpenedAt: testNow,
	}
}

func TestEvaluateGateOrder(t *testing.T) {
	testCases := []struct {
		name        string
		order       *models.Order
		combined    *models.CombinedSignalOutput
		ledger      *fakeLedger
		wantOutcome string
		wantOK      bool
	}{
		{
			name:     "passes_all_gates",
			order:    testOrder(50),
			combined: testCombined(0.6, 0.8),
			ledger:   healthyLedger(),
			wantOK:   true,
		},
		{
			name:        "nil_combined_is_neutral",
			order:       testOrder(50),
			combined:    nil,
			ledger:      healthyLedger(),
			wantOutcome: models.OutcomeNeutral,
		},
		{
			name:        "malformed_order",
			order:       &models.Order{MarketID: "mkt-1", TokenID: "tok-yes", Price: 0.5},
			combined:    testCombined(0.6, 0.8),
			ledger:      healthyLedger(),
			wantOutcome: models.OutcomeNeutral,
		},
		{
			name:        "below_regime_confidence",
			order:       testOrder(50),
			combined:    testCombined(0.6, 0.2),
			ledger:      healthyLedger(),
			wantOutcome: models.OutcomeLowConfidence,
		},
		{
			name:        "below_regime_strength",
			order:       testOrder(50),
			combined:    testCombined(-0.1, 0.8),
			ledger:      healthyLedger(),
			wantOutcome: models.OutcomeLowStrength,
		},
		{
			name:        "over_size_cap",
			order:       testOrder(150),
			combined:    testCombined(0.6, 0.8),
			ledger:      healthyLedger(),
			wantOutcome: models.OutcomeMaxSize,
		},
		{
			name:     "too_many_positions",
			order:    testOrder(50),
			combined: testCombined(0.6, 0.8),
			ledger: &fakeLedger{
				open: []*models.Position{
					openPosition("mkt-2", "tok-a", 50),
					openPosition("mkt-3", "tok-b", 50),
				},
				acct: models.Account{Capital: 1000, Available: 900, PeakEquity: 1000},
			},
			wantOutcome: models.OutcomeMaxPositions,
		},
		{
			name:     "add_to_existing_position_allowed",
			order:    testOrder(50),
			combined: testCombined(0.6, 0.8),
			ledger: &fakeLedger{
				open: []*models.Position{
					openPosition("mkt-1", "tok-yes", 50),
					openPosition("mkt-3", "tok-b", 50),
				},
				acct: models.Account{Capital: 1000, Available: 900, PeakEquity: 1000},
			},
			wantOK: true,
		},
		{
			// Cap is 0.5 * 300 = 150; 100 held plus 80 proposed exceeds it.
			name:     "over_exposure_cap",
			order:    testOrder(80),
			combined: testCombined(0.6, 0.8),
			ledger: &fakeLedger{
				open: []*models.Position{
					openPosition("mkt-2", "tok-a", 100),
				},
				acct: models.Account{Capital: 300, Available: 200, PeakEquity: 1000},
			},
			wantOutcome: models.OutcomeMaxExposure,
		},
		{
			name:     "insufficient_available_capital",
			order:    testOrder(50),
			combined: testCombined(0.6, 0.8),
			ledger: &fakeLedger{
				acct: models.Account{Capital: 1000, Available: 10, PeakEquity: 1000},
			},
			wantOutcome: models.OutcomeInsufficientCapital,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestManager(t, tc.ledger)
			outcome, ok := m.Evaluate(context.Background(), tc.order, tc.combined)
			if ok != tc.wantOK {
				t.Fatalf("Evaluate ok = %v, want %v (outcome %q)", ok, tc.wantOK, outcome)
			}
			if !tc.wantOK && outcome != tc.wantOutcome {
				t.Errorf("outcome = %q, want %q", outcome, tc.wantOutcome)
			}
		})
	}
}

func TestEvaluateManualHaltBlocksEverything(t *testing.T) {
	m, store := newTestManager(t, healthyLedger())
	ctx := context.Background()

	if err := m.Halt(ctx, "maintenance"); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if store.data[repository.KeyTradingHalted] != "true" {
		t.Error("halt flag not persisted")
	}

	outcome, ok := m.Evaluate(ctx, testOrder(50), testCombined(0.6, 0.8))
	if ok || outcome != models.OutcomeHalted {
		t.Errorf("Evaluate during halt = (%q, %v), want (%q, false)", outcome, ok, models.OutcomeHalted)
	}

	reduce := testOrder(50)
	reduce.Reduce = true
	outcome, ok = m.Evaluate(ctx, reduce, nil)
	if ok || outcome != models.OutcomeHalted {
		t.Errorf("reduce order during halt = (%q, %v), want (%q, false)", outcome, ok, models.OutcomeHalted)
	}
}

func TestEvaluateBreakerOpenShortCircuits(t *testing.T) {
	m, _ := newTestManager(t, healthyLedger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.RecordOutcome(false, -5)
	}
	if got := m.BreakerState(); got != string(StateOpen) {
		t.Fatalf("breaker state = %s, want %s", got, StateOpen)
	}

	outcome, ok := m.Evaluate(ctx, testOrder(50), testCombined(0.6, 0.8))
	if ok || outcome != models.OutcomeHalted {
		t.Errorf("Evaluate with open breaker = (%q, %v), want (%q, false)", outcome, ok, models.OutcomeHalted)
	}
}

func TestEvaluateReduceBypassesSignalGates(t *testing.T) {
	m, _ := newTestManager(t, healthyLedger())

	reduce := testOrder(50)
	reduce.Reduce = true

	// Exits carry no combined signal and must still pass.
	outcome, ok := m.Evaluate(context.Background(), reduce, nil)
	if !ok {
		t.Fatalf("reduce order rejected with outcome %q", outcome)
	}
}

func TestRecordOutcomeSyncsPersistedHalt(t *testing.T) {
	m, store := newTestManager(t, healthyLedger())

	clock := testNow
	m.breaker.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		m.RecordOutcome(false, -5)
	}
	if store.data[repository.KeyTradingHalted] != "true" {
		t.Fatal("breaker trip did not persist the halt flag")
	}
	if got := store.data[repository.KeyHaltReason]; got != "breaker:"+TripConsecutiveLosses {
		t.Errorf("halt reason = %q, want breaker:%s", got, TripConsecutiveLosses)
	}

	// Recovery through probes clears the flag again.
	clock = clock.Add(time.Hour)
	m.RecordOutcome(true, 4)
	m.RecordOutcome(true, 4)

	if got := m.BreakerState(); got != string(StateClosed) {
		t.Fatalf("breaker state after probes = %s, want %s", got, StateClosed)
	}
	if _, found := store.data[repository.KeyTradingHalted]; found {
		t.Error("halt flag not cleared after breaker recovery")
	}
}

func TestRecordOutcomeTripsOnAccountDrawdown(t *testing.T) {
	ledger := &fakeLedger{
		// 15% under water against the peak.
		acct: models.Account{Capital: 850, Available: 850, RealizedPnL: -150, PeakEquity: 1000},
	}

	m, _ := newTestManager(t, ledger)
	m.RecordOutcome(false, -20)

	if got := m.BreakerState(); got != string(StateOpen) {
		t.Fatalf("breaker state = %s, want %s", got, StateOpen)
	}
	if got := m.BreakerStatus().TripReason; got != TripDrawdown {
		t.Errorf("trip reason = %q, want %q", got, TripDrawdown)
	}
}

func TestRestoreLoadsPersistedHalt(t *testing.T) {
	m, store := newTestManager(t, healthyLedger())
	ctx := context.Background()

	if err := m.Halt(ctx, "maintenance"); err != nil {
		t.Fatalf("Halt: %v", err)
	}

	// A fresh manager over the same store simulates a restart.
	log := testLogger(t)
	fresh := NewManager(testLimits(), NewBreaker(testBreakerConfig(), log), &fakeRegime{params: models.RegimeParameters{SizeMultiplier: 1}}, healthyLedger(), store, log)
	if err := fresh.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	halted, reason := fresh.Halted()
	if !halted || reason != "maintenance" {
		t.Errorf("Halted() = (%v, %q), want (true, maintenance)", halted, reason)
	}
}

func TestClearHaltResetsBreaker(t *testing.T) {
	m, store := newTestManager(t, healthyLedger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.RecordOutcome(false, -5)
	}
	if err := m.Halt(ctx, "maintenance"); err != nil {
		t.Fatalf("Halt: %v", err)
	}

	if err := m.ClearHalt(ctx); err != nil {
		t.Fatalf("ClearHalt: %v", err)
	}

	if halted, _ := m.Halted(); halted {
		t.Error("manual flag still set after ClearHalt")
	}
	if got := m.BreakerState(); got != string(StateClosed) {
		t.Errorf("breaker state = %s, want %s", got, StateClosed)
	}
	if _, found := store.data[repository.KeyTradingHalted]; found {
		t.Error("halt flag still persisted after ClearHalt")
	}

	outcome, ok := m.Evaluate(ctx, testOrder(50), testCombined(0.6, 0.8))
	if !ok {
		t.Errorf("Evaluate after ClearHalt rejected with %q", outcome)
	}
}

func TestSizeMultiplierCombinesRegimeAndBreaker(t *testing.T) {
	m, _ := newTestManager(t, healthyLedger())

	clock := testNow
	m.breaker.now = func() time.Time { return clock }

	if got := m.SizeMultiplier(); got != 1.0 {
		t.Fatalf("SizeMultiplier() = %v, want 1", got)
	}

	m.breaker.Trip(TripManual)
	if got := m.SizeMultiplier(); got != 0 {
		t.Fatalf("SizeMultiplier() with open breaker = %v, want 0", got)
	}

	clock = clock.Add(time.Hour)
	if got := m.SizeMultiplier(); got != 0.5 {
		t.Fatalf("SizeMultiplier() while half-open = %v, want 0.5", got)
	}

	m.regime.(*fakeRegime).params.SizeMultiplier = 0.5
	if got := m.SizeMultiplier(); got != 0.25 {
		t.Errorf("SizeMultiplier() = %v, want 0.25", got)
	}
}
