package replay

import (
	"sync"

	"PolyPaper/internal/domain/models"
	"PolyPaper/pkg/logger"
)

const (
	minAdaptiveWeight = 0.1
	maxAdaptiveWeight = 3.0
)

// AdapterConfig tunes the learning step. Zero values fall back to defaults.
type AdapterConfig struct {
	BatchSize    int     // default 32
	LearningRate float64 // default 0.05
	Gamma        float64 // TD discount, default 0.9
}

// Adapter turns realized trade outcomes into per-signal weight adjustments.
// It owns a linear value estimate over state vectors; sampled TD errors feed
// back into buffer priorities, and signed rewards nudge the weight of the
// signal that originated each trade. The adapter is the single writer of the
// weight snapshot; the combiner reads copies.
type Adapter struct {
	log    *logger.Logger
	buffer *Buffer

	batchSize    int
	learningRate float64
	gamma        float64

	mu      sync.RWMutex
	weights map[string]float64
	theta   []float64
	steps   int64
}

func NewAdapter(buffer *Buffer, cfg AdapterConfig, log *logger.Logger) *Adapter {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	learningRate := cfg.LearningRate
	if learningRate <= 0 {
		learningRate = 0.05
	}
	gamma := cfg.Gamma
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.9
	}
	return &Adapter{
		log:          log,
		buffer:       buffer,
		batchSize:    batchSize,
		learningRate: learningRate,
		gamma:        gamma,
		weights:      make(map[string]float64),
	}
}

// Record stores one finished experience for later learning.
func (a *Adapter) Record(exp models.Experience) {
	a.buffer.Add(exp)
}

// Weights returns a copy of the current per-signal adaptive weights.
func (a *Adapter) Weights() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cp := make(map[string]float64, len(a.weights))
	for k, v := range a.weights {
		cp[k] = v
	}
	return cp
}

// Steps reports completed learning steps.
func (a *Adapter) Steps() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.steps
}

// Learn runs one sampled learning step. With too few stored experiences it is
// a no-op; that is the expected cold-start condition, not an error.
func (a *Adapter) Learn() error {
	if !a.buffer.CanSample(a.batchSize) {
		return nil
	}
	batch, indices, isWeights, err := a.buffer.Sample(a.batchSize)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tdErrors := make([]float64, len(batch))
	for i, exp := range batch {
		if len(a.theta) == 0 {
			a.theta = make([]float64, len(exp.State))
		}
		if len(exp.State) != len(a.theta) || (!exp.Done && len(exp.NextState) != len(a.theta)) {
			a.log.Warn("experience state dimension mismatch",
				logger.Int("want", len(a.theta)),
				logger.Int("got", len(exp.State)),
				logger.String("signal", exp.Signal))
			tdErrors[i] = 0
			continue
		}

		value := dot(a.theta, exp.State)
		target := exp.Reward
		if !exp.Done {
			target += a.gamma * dot(a.theta, exp.NextState)
		}
		td := target - value
		tdErrors[i] = td

		step := a.learningRate * isWeights[i] * td
		for j, x := range exp.State {
			a.theta[j] += step * x
		}

		if exp.Signal != "" {
			w, ok := a.weights[exp.Signal]
			if !ok {
				w = 1
			}
			w += a.learningRate * isWeights[i] * exp.Reward
			if w < minAdaptiveWeight {
				w = minAdaptiveWeight
			}
			if w > maxAdaptiveWeight {
				w = maxAdaptiveWeight
			}
			a.weights[exp.Signal] = w
		}
	}
	a.steps++

	if err := a.buffer.UpdatePriorities(indices, tdErrors); err != nil {
		return err
	}
	return nil
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
