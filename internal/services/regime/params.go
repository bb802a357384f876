package regime

import "PolyPaper/internal/domain/models"

// defaultParameters is the per-regime trading policy applied when config
// provides no override. Trending regimes lean on flow-following detectors,
// choppy ones on reversion, and sizing shrinks as conditions get hostile.
func defaultParameters() map[string]models.RegimeParameters {
	return map[string]models.RegimeParameters{
		models.RegimeBull: {
			Regime:           models.RegimeBull,
			SizeMultiplier:   1.2,
			MinConfidence:    0.40,
			MinStrength:      0.30,
			PreferredSignals: []string{"momentum", "orderflow"},
			AvoidedSignals:   []string{"meanrev"},
			StopLossMult:     1.0,
			TakeProfitMult:   1.5,
		},
		models.RegimeBear: {
			Regime:           models.RegimeBear,
			SizeMultiplier:   0.8,
			MinConfidence:    0.50,
			MinStrength:      0.35,
			PreferredSignals: []string{"momentum", "whale"},
			AvoidedSignals:   []string{"meanrev"},
			StopLossMult:     0.8,
			TakeProfitMult:   1.2,
		},
		models.RegimeVolatile: {
			Regime:           models.RegimeVolatile,
			SizeMultiplier:   0.5,
			MinConfidence:    0.60,
			MinStrength:      0.50,
			PreferredSignals: []string{"meanrev", "bookpressure"},
			AvoidedSignals:   []string{"momentum"},
			StopLossMult:     0.6,
			TakeProfitMult:   1.0,
		},
		models.RegimeQuiet: {
			Regime:           models.RegimeQuiet,
			SizeMultiplier:   1.0,
			MinConfidence:    0.45,
			MinStrength:      0.30,
			PreferredSignals: []string{"whale", "bookpressure"},
			AvoidedSignals:   nil,
			StopLossMult:     1.0,
			TakeProfitMult:   1.2,
		},
	}
}

// defaultTransition is a sticky prior: regimes persist, trending states flip
// through volatile more often than directly into each other.
func defaultTransition() models.TransitionMatrix {
	return models.TransitionMatrix{
		{0.85, 0.03, 0.07, 0.05}, // bull
		{0.03, 0.85, 0.07, 0.05}, // bear
		{0.10, 0.10, 0.70, 0.10}, // volatile
		{0.06, 0.06, 0.08, 0.80}, // quiet
	}
}

// defaultEmissions are per-bar Gaussian parameters for minute bars on 0..1
// priced outcome tokens.
func defaultEmissions() []models.EmissionParams {
	return []models.EmissionParams{
		{ReturnMean: 0.002, ReturnStd: 0.008, VolMean: 0.006, VolStd: 0.004},   // bull
		{ReturnMean: -0.002, ReturnStd: 0.008, VolMean: 0.006, VolStd: 0.004},  // bear
		{ReturnMean: 0, ReturnStd: 0.020, VolMean: 0.018, VolStd: 0.010},       // volatile
		{ReturnMean: 0, ReturnStd: 0.003, VolMean: 0.002, VolStd: 0.0015},      // quiet
	}
}
