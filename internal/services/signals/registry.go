package signals

import (
	"context"
	"fmt"
	"sync"

	"PolyPaper/internal/domain/models"
	"PolyPaper/pkg/logger"
)

type entry struct {
	signal  Signal
	enabled bool
	weight  float64
}

// Registry holds the ordered set of registered detectors with their enable
// flags and base weight seeds. Registration order is compute order.
type Registry struct {
	log *logger.Logger

	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Register adds a detector with its base weight seed. Duplicate names are
// rejected so one detector cannot shadow another. A non-positive weight seed
// defaults to 1.
func (r *Registry) Register(s Signal, baseWeight float64) error {
	if s == nil || s.Name() == "" {
		return fmt.Errorf("registry: nil or unnamed signal")
	}
	if baseWeight <= 0 {
		baseWeight = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[s.Name()]; ok {
		return fmt.Errorf("registry: signal %q already registered", s.Name())
	}
	r.entries[s.Name()] = &entry{signal: s, enabled: true, weight: baseWeight}
	r.order = append(r.order, s.Name())
	return nil
}

// SetEnabled flips a detector's enable flag; unknown names report false.
func (r *Registry) SetEnabled(name string, on bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	e.enabled = on
	return true
}

// Get returns the registered detector by name.
func (r *Registry) Get(name string) (Signal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.signal, true
}

// Names returns detector names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// BaseWeights returns a snapshot of per-signal weight seeds.
func (r *Registry) BaseWeights() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.weight
	}
	return out
}

// ComputeAll runs every enabled, ready detector against one shared context.
// Unready detectors are skipped, compute errors are logged and skipped, and
// nil outputs (expected data gaps) are dropped. The cycle never fails as a
// whole.
func (r *Registry) ComputeAll(ctx context.Context, sc *models.SignalContext) []models.SignalOutput {
	r.mu.RLock()
	ordered := make([]*entry, 0, len(r.order))
	for _, name := range r.order {
		ordered = append(ordered, r.entries[name])
	}
	r.mu.RUnlock()

	outputs := make([]models.SignalOutput, 0, len(ordered))
	for _, e := range ordered {
		if !e.enabled {
			continue
		}
		s := e.signal
		if !s.Ready(sc) {
			continue
		}
		out, err := s.Compute(ctx, sc)
		if err != nil {
			r.log.Warn("signal compute failed",
				logger.String("signal", s.Name()),
				logger.String("token_id", sc.TokenID),
				logger.Error(err))
			continue
		}
		if out == nil {
			continue
		}
		outputs = append(outputs, *out)
	}
	return outputs
}
