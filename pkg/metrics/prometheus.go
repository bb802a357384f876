package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signalsTotal   *prometheus.CounterVec
	decisionsTotal *prometheus.CounterVec
	fillsTotal     *prometheus.CounterVec
	feesPaid       prometheus.Counter
	errorsTotal    *prometheus.CounterVec
	staleData      *prometheus.CounterVec
	capital        prometheus.Gauge
	available      prometheus.Gauge
	regimeProb     *prometheus.GaugeVec
	breakerState   *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polypaper_signals_total",
				Help: "Total signal outputs emitted, by signal and direction",
			},
			[]string{"signal", "direction"},
		),
		decisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polypaper_trade_decisions_total",
				Help: "Total trade decisions, by outcome",
			},
			[]string{"outcome"},
		),
		fillsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polypaper_fills_total",
				Help: "Total simulated fills applied to the ledger, by side",
			},
			[]string{"side"},
		),
		feesPaid: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "polypaper_fees_paid_total",
				Help: "Cumulative simulated fees paid",
			},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polypaper_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		staleData: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polypaper_stale_data_total",
				Help: "Cycles that ran on stale data after exhausted retries",
			},
			[]string{"endpoint"},
		),
		capital: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "polypaper_account_capital",
				Help: "Current account capital",
			},
		),
		available: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "polypaper_account_available",
				Help: "Uninvested account capital",
			},
		),
		regimeProb: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "polypaper_regime_probability",
				Help: "Posterior probability per market regime",
			},
			[]string{"regime"},
		),
		breakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "polypaper_breaker_state",
				Help: "Circuit breaker state flag (1 for the active state)",
			},
			[]string{"state"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polypaper_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordSignal records one emitted signal output.
func (r *Recorder) RecordSignal(signal string, direction string) {
	r.signalsTotal.WithLabelValues(signal, direction).Inc()
}

// RecordDecision records a trade decision outcome (executed or a rejection).
func (r *Recorder) RecordDecision(outcome string) {
	r.decisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordFill records one applied fill and its fee.
func (r *Recorder) RecordFill(side string, fee float64) {
	r.fillsTotal.WithLabelValues(side).Inc()
	r.feesPaid.Add(fee)
}

// RecordCapital records the account capital gauges.
func (r *Recorder) RecordCapital(capital, available float64) {
	r.capital.Set(capital)
	r.available.Set(available)
}

// RecordRegime records the posterior probability of the active regime.
func (r *Recorder) RecordRegime(regime string, probability float64) {
	r.regimeProb.WithLabelValues(regime).Set(probability)
}

// RecordBreakerState flags the active breaker state and clears the others.
func (r *Recorder) RecordBreakerState(state string) {
	for _, s := range []string{"closed", "open", "half_open"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		r.breakerState.WithLabelValues(s).Set(v)
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordStaleData marks a cycle that proceeded on stale data for an endpoint.
func (r *Recorder) RecordStaleData(endpoint string) {
	r.staleData.WithLabelValues(endpoint).Inc()
}
