// Package metrics holds the engine's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics for the signal engine.
type Registry struct {
	SignalsCreated   *prometheus.CounterVec
	OutcomeChecks    *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	EvaluateDuration *prometheus.HistogramVec
	DegradedCoverage prometheus.Counter
	PendingSignals   prometheus.Gauge
}

// NewRegistry creates and registers the engine metrics with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		SignalsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalengine_signals_created_total",
				Help: "Total signals created by direction and tier",
			},
			[]string{"direction", "tier"},
		),
		OutcomeChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalengine_outcome_checks_total",
				Help: "Total outcome checks by terminal result",
			},
			[]string{"result"},
		),
		ProviderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalengine_provider_errors_total",
				Help: "Total external provider failures by provider",
			},
			[]string{"provider"},
		),
		EvaluateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalengine_evaluate_duration_seconds",
				Help:    "Duration of full signal evaluations in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"result"},
		),
		DegradedCoverage: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signalengine_degraded_coverage_total",
				Help: "Total evaluations that ran with missing factor sources",
			},
		),
		PendingSignals: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalengine_pending_signals",
				Help: "Pending signals seen by the last tracker sweep",
			},
		),
	}

	reg.MustRegister(
		r.SignalsCreated,
		r.OutcomeChecks,
		r.ProviderErrors,
		r.EvaluateDuration,
		r.DegradedCoverage,
		r.PendingSignals,
	)
	return r
}

// ObserveEvaluate records one evaluation's duration and outcome label.
func (r *Registry) ObserveEvaluate(start time.Time, result string) {
	r.EvaluateDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}
