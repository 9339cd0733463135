package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gheezy/signalengine/internal/config"
)

func ensembleCfg() config.EnsembleConfig {
	return config.EnsembleConfig{
		RulesWeight: 0.7,
		MLWeight:    0.3,
		CancelBelow: 40,
		LowBelow:    60,
		NormalBelow: 80,
	}
}

func TestBlender_RulesConfidence(t *testing.T) {
	b := NewBlender(ensembleCfg(), 120)

	assert.InDelta(t, 50, b.RulesConfidence(60), 1e-9)
	assert.InDelta(t, 50, b.RulesConfidence(-60), 1e-9)
	assert.InDelta(t, 100, b.RulesConfidence(120), 1e-9)
	assert.Zero(t, b.RulesConfidence(0))
}

func TestBlender_MLUnavailableFallsBackExactly(t *testing.T) {
	b := NewBlender(ensembleCfg(), 120)

	res := b.Blend(60, 0, false)
	assert.False(t, res.MLAvailable)
	// The fallback is the rules confidence verbatim, not re-weighted.
	assert.Equal(t, res.RulesConfidence, res.Final)
	assert.InDelta(t, 50, res.Final, 1e-9)
	assert.Equal(t, TierLow, res.Tier)
}

func TestBlender_WeightedBlend(t *testing.T) {
	b := NewBlender(ensembleCfg(), 120)

	res := b.Blend(120, 0.5, true)
	assert.True(t, res.MLAvailable)
	assert.InDelta(t, 100, res.RulesConfidence, 1e-9)
	assert.InDelta(t, 50, res.MLConfidence, 1e-9)
	assert.InDelta(t, 0.7*100+0.3*50, res.Final, 1e-9)
	assert.Equal(t, TierStrong, res.Tier)
}

func TestBlender_MLConfidenceClampedToUnit(t *testing.T) {
	b := NewBlender(ensembleCfg(), 120)

	res := b.Blend(0, 1.7, true)
	assert.InDelta(t, 100, res.MLConfidence, 1e-9)
	assert.InDelta(t, 30, res.Final, 1e-9)

	res = b.Blend(0, -0.4, true)
	assert.Zero(t, res.MLConfidence)
	assert.Zero(t, res.Final)
}

func TestBlender_TierCutoffsResolveToLower(t *testing.T) {
	b := NewBlender(ensembleCfg(), 120)

	tests := []struct {
		name     string
		adjusted float64
		ml       float64
		mlOK     bool
		wantTier string
	}{
		{name: "exactly_cancel_cutoff", adjusted: 48, wantTier: TierWait},
		{name: "just_above_cancel", adjusted: 48.2, wantTier: TierLow},
		{name: "exactly_low_cutoff", adjusted: 72, wantTier: TierLow},
		{name: "exactly_normal_cutoff", adjusted: 96, ml: 0.8, mlOK: true, wantTier: TierNormal},
		{name: "above_normal_cutoff", adjusted: 120, ml: 0.9, mlOK: true, wantTier: TierStrong},
		{name: "zero_score_waits", adjusted: 0, wantTier: TierWait},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := b.Blend(tt.adjusted, tt.ml, tt.mlOK)
			assert.Equal(t, tt.wantTier, res.Tier)
		})
	}
}
