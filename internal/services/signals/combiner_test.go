package signals

import (
	"math"
	"testing"
	"time"

	"PolyPaper/internal/domain/models"
)

func combinerOutput(name string, dir models.Direction, strength, confidence float64) models.SignalOutput {
	return models.SignalOutput{
		Signal:     name,
		MarketID:   "mkt-1",
		TokenID:    "tok-yes",
		Direction:  dir,
		Strength:   strength,
		Confidence: confidence,
		Timestamp:  testNow,
		TTL:        5 * time.Minute,
	}
}

func TestCombineWeightedStrength(t *testing.T) {
	c := NewCombiner(0.15, testLogger(t))
	outputs := []models.SignalOutput{
		combinerOutput("momentum", models.DirectionLong, 0.8, 0.9),
		combinerOutput("meanrev", models.DirectionShort, -0.4, 0.5),
	}
	base := map[string]float64{"momentum": 1.0, "meanrev": 2.0}

	got := c.Combine(testNow, outputs, base, nil)
	if got == nil {
		t.Fatal("expected combined output")
	}

	// strength = (1*0.8*0.9 + 2*(-0.4)*0.5) / (1*0.9 + 2*0.5)
	wantStrength := (0.8*0.9 - 2*0.4*0.5) / 1.9
	if math.Abs(got.Strength-wantStrength) > 1e-9 {
		t.Errorf("strength: want %f, got %f", wantStrength, got.Strength)
	}
	// confidence = (1*0.9 + 2*0.5) / 3
	wantConfidence := 1.9 / 3.0
	if math.Abs(got.Confidence-wantConfidence) > 1e-9 {
		t.Errorf("confidence: want %f, got %f", wantConfidence, got.Confidence)
	}
	if len(got.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(got.Components))
	}
	if got.Weights["meanrev"] != 2.0 {
		t.Errorf("weight vector must carry effective weights, got %v", got.Weights)
	}
}

func TestCombineNilWhenNoOutputs(t *testing.T) {
	c := NewCombiner(0.15, testLogger(t))
	if got := c.Combine(testNow, nil, nil, nil); got != nil {
		t.Errorf("expected nil on empty outputs, got %+v", got)
	}
}

func TestCombineNilWhenAllWeightsZero(t *testing.T) {
	c := NewCombiner(0.15, testLogger(t))
	outputs := []models.SignalOutput{
		combinerOutput("momentum", models.DirectionLong, 0.8, 0.9),
	}
	params := &models.RegimeParameters{AvoidedSignals: []string{"momentum"}}

	if got := c.Combine(testNow, outputs, map[string]float64{"momentum": 1}, params); got != nil {
		t.Errorf("expected nil when regime zeroes every weight, got %+v", got)
	}
}

func TestCombineSkipsExpired(t *testing.T) {
	c := NewCombiner(0.15, testLogger(t))
	expired := combinerOutput("momentum", models.DirectionLong, 0.9, 0.9)
	expired.Timestamp = testNow.Add(-time.Hour)
	expired.TTL = time.Minute

	fresh := combinerOutput("orderflow", models.DirectionShort, -0.6, 0.8)

	got := c.Combine(testNow, []models.SignalOutput{expired, fresh}, nil, nil)
	if got == nil {
		t.Fatal("expected combined output from the fresh component")
	}
	if len(got.Components) != 1 || got.Components[0].Signal != "orderflow" {
		t.Errorf("expired output must not contribute: %+v", got.Components)
	}
	if got.Direction != models.DirectionShort {
		t.Errorf("expected short, got %s", got.Direction)
	}
}

func TestCombineNeutralBand(t *testing.T) {
	c := NewCombiner(0.15, testLogger(t))
	outputs := []models.SignalOutput{
		combinerOutput("momentum", models.DirectionLong, 0.1, 1.0),
	}
	got := c.Combine(testNow, outputs, nil, nil)
	if got == nil {
		t.Fatal("expected combined output")
	}
	if got.Direction != models.DirectionNeutral {
		t.Errorf("strength inside band must be neutral, got %s", got.Direction)
	}
}

func TestCombineRegimePreferenceBoost(t *testing.T) {
	c := NewCombiner(0.15, testLogger(t))
	outputs := []models.SignalOutput{
		combinerOutput("momentum", models.DirectionLong, 0.8, 0.5),
		combinerOutput("meanrev", models.DirectionShort, -0.8, 0.5),
	}
	params := &models.RegimeParameters{PreferredSignals: []string{"momentum"}}

	got := c.Combine(testNow, outputs, nil, params)
	if got == nil {
		t.Fatal("expected combined output")
	}
	// boosted momentum outweighs the equal-and-opposite meanrev
	if got.Strength <= 0 {
		t.Errorf("preferred signal must dominate, strength %f", got.Strength)
	}
	if got.Weights["momentum"] <= got.Weights["meanrev"] {
		t.Errorf("preferred weight must exceed baseline: %v", got.Weights)
	}
}

func TestCombineAdaptiveWeights(t *testing.T) {
	c := NewCombiner(0.15, testLogger(t))
	c.SetAdaptiveWeights(map[string]float64{"meanrev": 0.1})

	outputs := []models.SignalOutput{
		combinerOutput("momentum", models.DirectionLong, 0.6, 0.5),
		combinerOutput("meanrev", models.DirectionShort, -0.6, 0.5),
	}
	got := c.Combine(testNow, outputs, nil, nil)
	if got == nil {
		t.Fatal("expected combined output")
	}
	if got.Direction != models.DirectionLong {
		t.Errorf("down-weighted meanrev must lose, got %s", got.Direction)
	}
}

func TestCombineBoundsRespected(t *testing.T) {
	c := NewCombiner(0.15, testLogger(t))
	outputs := []models.SignalOutput{
		combinerOutput("a", models.DirectionLong, 1.0, 1.0),
		combinerOutput("b", models.DirectionLong, 1.0, 1.0),
		combinerOutput("c", models.DirectionLong, 1.0, 1.0),
	}
	got := c.Combine(testNow, outputs, nil, nil)
	if got == nil {
		t.Fatal("expected combined output")
	}
	if got.Strength < -1 || got.Strength > 1 {
		t.Errorf("strength out of range: %f", got.Strength)
	}
	if got.Confidence < 0 || got.Confidence > 1 {
		t.Errorf("confidence out of range: %f", got.Confidence)
	}
	if got.Direction != models.DirectionLong {
		t.Errorf("expected long, got %s", got.Direction)
	}
}

func TestCombineZeroConfidenceComponentDropped(t *testing.T) {
	c := NewCombiner(0.15, testLogger(t))
	outputs := []models.SignalOutput{
		combinerOutput("momentum", models.DirectionLong, 0.9, 0.0),
	}
	if got := c.Combine(testNow, outputs, nil, nil); got != nil {
		t.Errorf("zero-confidence component must not produce an opinion, got %+v", got)
	}
}
