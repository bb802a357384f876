package regime

import (
	"fmt"
	"math"
	"sync"
	"time"

	"PolyPaper/internal/domain/models"
	"PolyPaper/pkg/logger"
)

const (
	probFloor = 1e-10
	minStd    = 1e-4
)

// Config tunes the detector. Zero values fall back to defaults.
type Config struct {
	HistoryWindow  int // bounded RegimePoint history, default 500
	ObservationCap int // observations retained for re-estimation, default 2000
	ReestimateMin  int // observations required before re-estimation, default 200

	Transition models.TransitionMatrix
	Emissions  []models.EmissionParams
	Parameters map[string]models.RegimeParameters
}

// Detector runs one forward-algorithm step per observation over four
// Gaussian-emission regimes. Observe is the single writer; State and
// Parameters serve concurrent readers a copy, so consumers naturally see the
// previous cycle's regime while the current one is being computed.
type Detector struct {
	log *logger.Logger

	historyWindow int
	obsCap        int
	reestimateMin int

	mu           sync.RWMutex
	transition   models.TransitionMatrix
	emissions    []models.EmissionParams
	params       map[string]models.RegimeParameters
	probs        []float64
	current      int
	barsIn       int
	history      []models.RegimePoint
	observations []models.MarketObservation
	assignments  []int
	updatedAt    time.Time
}

func NewDetector(cfg Config, log *logger.Logger) (*Detector, error) {
	n := len(models.RegimeNames)

	transition := cfg.Transition
	if transition == nil {
		transition = defaultTransition()
	}
	if err := transition.Validate(n); err != nil {
		return nil, fmt.Errorf("regime: %w", err)
	}

	emissions := cfg.Emissions
	if emissions == nil {
		emissions = defaultEmissions()
	}
	if len(emissions) != n {
		return nil, fmt.Errorf("regime: %d emission sets, want %d", len(emissions), n)
	}

	params := defaultParameters()
	for name, p := range cfg.Parameters {
		params[name] = p
	}

	historyWindow := cfg.HistoryWindow
	if historyWindow <= 0 {
		historyWindow = 500
	}
	obsCap := cfg.ObservationCap
	if obsCap <= 0 {
		obsCap = 2000
	}
	reestimateMin := cfg.ReestimateMin
	if reestimateMin <= 0 {
		reestimateMin = 200
	}

	// uniform prior, quiet as the nominal starting regime
	probs := make([]float64, n)
	for i := range probs {
		probs[i] = 1 / float64(n)
	}
	return &Detector{
		log:           log,
		historyWindow: historyWindow,
		obsCap:        obsCap,
		reestimateMin: reestimateMin,
		transition:    transition,
		emissions:     emissions,
		params:        params,
		probs:         probs,
		current:       indexOf(models.RegimeQuiet),
		barsIn:        0,
	}, nil
}

func indexOf(regime string) int {
	for i, name := range models.RegimeNames {
		if name == regime {
			return i
		}
	}
	return 0
}

// gaussian is the normal density at x; non-positive sigma is floored rather
// than rejected so a degenerate re-estimate cannot poison inference.
func gaussian(x, mean, std float64) float64 {
	if std < minStd {
		std = minStd
	}
	z := (x - mean) / std
	return math.Exp(-0.5*z*z) / (std * math.Sqrt(2*math.Pi))
}

// Observe folds one observation into the posterior:
// predicted = probs · T, posterior ∝ predicted ⊙ likelihood, floored away
// from zero and renormalized. Returns the newly published state.
func (d *Detector) Observe(obs models.MarketObservation) models.RegimeState {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.probs)
	posterior := make([]float64, n)
	var sum float64
	for j := 0; j < n; j++ {
		var predicted float64
		for i := 0; i < n; i++ {
			predicted += d.probs[i] * d.transition[i][j]
		}
		like := gaussian(obs.Return, d.emissions[j].ReturnMean, d.emissions[j].ReturnStd) *
			gaussian(obs.Volatility, d.emissions[j].VolMean, d.emissions[j].VolStd)
		p := predicted * like
		if p < probFloor || math.IsNaN(p) {
			p = probFloor
		}
		posterior[j] = p
		sum += p
	}
	for j := range posterior {
		posterior[j] /= sum
	}
	d.probs = posterior

	best := 0
	for j := 1; j < n; j++ {
		if posterior[j] > posterior[best] {
			best = j
		}
	}
	if best == d.current && d.barsIn > 0 {
		d.barsIn++
	} else {
		if d.barsIn > 0 {
			d.log.Info("regime change",
				logger.String("from", models.RegimeNames[d.current]),
				logger.String("to", models.RegimeNames[best]),
				logger.Float64("probability", posterior[best]))
		}
		d.current = best
		d.barsIn = 1
	}
	d.updatedAt = obs.Timestamp

	d.history = append(d.history, models.RegimePoint{
		Timestamp:   obs.Timestamp,
		Regime:      models.RegimeNames[best],
		Probability: posterior[best],
	})
	if len(d.history) > d.historyWindow {
		d.history = d.history[len(d.history)-d.historyWindow:]
	}

	d.observations = append(d.observations, obs)
	d.assignments = append(d.assignments, best)
	if len(d.observations) > d.obsCap {
		d.observations = d.observations[len(d.observations)-d.obsCap:]
		d.assignments = d.assignments[len(d.assignments)-d.obsCap:]
	}

	return d.stateLocked()
}

// State returns a copy of the latest published regime state.
func (d *Detector) State() models.RegimeState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stateLocked()
}

func (d *Detector) stateLocked() models.RegimeState {
	probs := make([]float64, len(d.probs))
	copy(probs, d.probs)
	history := make([]models.RegimePoint, len(d.history))
	copy(history, d.history)
	return models.RegimeState{
		Timestamp:    d.updatedAt,
		Regime:       models.RegimeNames[d.current],
		Probability:  d.probs[d.current],
		Probs:        probs,
		BarsInRegime: d.barsIn,
		History:      history,
	}
}

// Parameters returns the trading policy for the current regime.
func (d *Detector) Parameters() models.RegimeParameters {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.params[models.RegimeNames[d.current]]
}

// ParametersFor returns the policy for a named regime, falling back to the
// quiet policy for unknown names.
func (d *Detector) ParametersFor(regime string) models.RegimeParameters {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.params[regime]; ok {
		return p
	}
	return d.params[models.RegimeQuiet]
}

// Transition returns a copy of the current transition matrix.
func (d *Detector) Transition() models.TransitionMatrix {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(models.TransitionMatrix, len(d.transition))
	for i, row := range d.transition {
		out[i] = make([]float64, len(row))
		copy(out[i], row)
	}
	return out
}

// Emissions returns a copy of the current emission parameters.
func (d *Detector) Emissions() []models.EmissionParams {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.EmissionParams, len(d.emissions))
	copy(out, d.emissions)
	return out
}

// Reestimate refits emissions by sample moments over the retained window,
// grouped by each observation's assigned regime, and recounts transitions
// with add-one smoothing. Regimes with too few assigned observations keep
// their previous emissions. A no-op below the observation minimum.
func (d *Detector) Reestimate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.observations) < d.reestimateMin {
		d.log.Debug("regime re-estimate skipped",
			logger.Int("observations", len(d.observations)),
			logger.Int("required", d.reestimateMin))
		return nil
	}

	n := len(models.RegimeNames)
	const minPerRegime = 10

	grouped := make([][]models.MarketObservation, n)
	for i, obs := range d.observations {
		r := d.assignments[i]
		grouped[r] = append(grouped[r], obs)
	}

	emissions := make([]models.EmissionParams, n)
	copy(emissions, d.emissions)
	refit := 0
	for r := 0; r < n; r++ {
		if len(grouped[r]) < minPerRegime {
			continue
		}
		returns := make([]float64, len(grouped[r]))
		vols := make([]float64, len(grouped[r]))
		for i, obs := range grouped[r] {
			returns[i] = obs.Return
			vols[i] = obs.Volatility
		}
		emissions[r] = models.EmissionParams{
			ReturnMean: meanOf(returns),
			ReturnStd:  math.Max(stdOf(returns), minStd),
			VolMean:    meanOf(vols),
			VolStd:     math.Max(stdOf(vols), minStd),
		}
		refit++
	}

	counts := make([][]float64, n)
	for i := range counts {
		counts[i] = make([]float64, n)
		for j := range counts[i] {
			counts[i][j] = 1 // add-one smoothing keeps rows normalizable
		}
	}
	for i := 1; i < len(d.assignments); i++ {
		counts[d.assignments[i-1]][d.assignments[i]]++
	}
	transition := make(models.TransitionMatrix, n)
	for i := range counts {
		var rowSum float64
		for _, c := range counts[i] {
			rowSum += c
		}
		transition[i] = make([]float64, n)
		for j := range counts[i] {
			transition[i][j] = counts[i][j] / rowSum
		}
	}
	if err := transition.Validate(n); err != nil {
		return fmt.Errorf("regime: re-estimated %w", err)
	}

	d.emissions = emissions
	d.transition = transition
	d.log.Info("regime parameters re-estimated",
		logger.Int("observations", len(d.observations)),
		logger.Int("regimes_refit", refit))
	return nil
}

func meanOf(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdOf(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := meanOf(xs)
	sum2 := 0.0
	for _, x := range xs {
		d := x - m
		sum2 += d * d
	}
	return math.Sqrt(sum2 / float64(len(xs)-1))
}
