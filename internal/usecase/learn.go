package usecase

import (
	"context"

	domrepo "PolyPaper/internal/domain/repository"
	domsvc "PolyPaper/internal/domain/service"
	"PolyPaper/internal/services/replay"
	"PolyPaper/internal/services/signals"
	"PolyPaper/pkg/logger"
)

// LearnCycle owns the two model-update jobs: the replay learning step that
// refreshes adaptive signal weights, and the regime re-estimation step. Both
// are no-ops until enough data accumulates.
type LearnCycle struct {
	adapter  *replay.Adapter
	combiner *signals.Combiner
	regime   domsvc.RegimeDetector
	metrics  domrepo.Metrics
	log      *logger.Logger
}

func NewLearnCycle(adapter *replay.Adapter, combiner *signals.Combiner, regime domsvc.RegimeDetector, metrics domrepo.Metrics, log *logger.Logger) *LearnCycle {
	return &LearnCycle{
		adapter:  adapter,
		combiner: combiner,
		regime:   regime,
		metrics:  metrics,
		log:      log,
	}
}

// RunLearn performs one sampled learning step and publishes the refreshed
// weight snapshot to the combiner.
func (l *LearnCycle) RunLearn(ctx context.Context) error {
	if err := l.adapter.Learn(); err != nil {
		l.metrics.RecordError("learn")
		return err
	}
	weights := l.adapter.Weights()
	l.combiner.SetAdaptiveWeights(weights)

	if len(weights) > 0 {
		fields := make([]logger.Field, 0, len(weights)+1)
		fields = append(fields, logger.Int64("steps", l.adapter.Steps()))
		for name, w := range weights {
			fields = append(fields, logger.Float64(name, w))
		}
		l.log.Debug("adaptive weights updated", fields...)
	}
	return ctx.Err()
}

// RunReestimate refits the regime model from the retained observation window.
func (l *LearnCycle) RunReestimate(ctx context.Context) error {
	if err := l.regime.Reestimate(); err != nil {
		l.metrics.RecordError("reestimate")
		return err
	}
	return ctx.Err()
}
