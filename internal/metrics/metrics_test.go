package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_RegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.SignalsCreated.WithLabelValues("LONG", "strong").Inc()
	r.OutcomeChecks.WithLabelValues("WIN").Add(3)
	r.ProviderErrors.WithLabelValues("kraken").Inc()
	r.DegradedCoverage.Inc()
	r.PendingSignals.Set(7)
	r.ObserveEvaluate(time.Now().Add(-100*time.Millisecond), "created")

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]*dto.MetricFamily{}
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	for _, name := range []string{
		"signalengine_signals_created_total",
		"signalengine_outcome_checks_total",
		"signalengine_provider_errors_total",
		"signalengine_evaluate_duration_seconds",
		"signalengine_degraded_coverage_total",
		"signalengine_pending_signals",
	} {
		require.Contains(t, byName, name)
	}

	assert.Equal(t, dto.MetricType_HISTOGRAM, byName["signalengine_evaluate_duration_seconds"].GetType())
	assert.Equal(t, dto.MetricType_GAUGE, byName["signalengine_pending_signals"].GetType())

	assert.Equal(t, 3.0, testutil.ToFloat64(r.OutcomeChecks.WithLabelValues("WIN")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.PendingSignals))
}

func TestObserveEvaluate_LabelsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObserveEvaluate(time.Now(), "created")
	r.ObserveEvaluate(time.Now(), "duplicate")
	r.ObserveEvaluate(time.Now(), "duplicate")

	count := testutil.CollectAndCount(r.EvaluateDuration)
	assert.Equal(t, 2, count, "one series per result label")
}
