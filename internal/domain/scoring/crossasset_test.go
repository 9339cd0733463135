package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gheezy/signalengine/internal/config"
)

type staticRef struct {
	score float64
	ok    bool
	err   error
}

func (s staticRef) Score(ctx context.Context, symbol string) (float64, bool, error) {
	return s.score, s.ok, s.err
}

func crossCfg() config.CrossAssetConfig {
	return config.CrossAssetConfig{
		Reference:   "BTC",
		MinCoverage: 0.5,
		Dependents:  map[string]float64{"ETH": 0.8, "SOL": 0.6},
	}
}

func TestCrossAsset_BlendsDependent(t *testing.T) {
	adj := NewCrossAssetAdjuster(crossCfg(), staticRef{score: 50, ok: true})

	res := adj.Adjust(context.Background(), "ETH", 30, 1.0)
	assert.True(t, res.Applied)
	assert.InDelta(t, 30+50*0.8, res.Adjusted, 1e-9)
	assert.Contains(t, res.Note, "coefficient")
}

func TestCrossAsset_NegativeReferenceDragsDown(t *testing.T) {
	adj := NewCrossAssetAdjuster(crossCfg(), staticRef{score: -80, ok: true})

	res := adj.Adjust(context.Background(), "SOL", 10, 0.9)
	assert.True(t, res.Applied)
	assert.InDelta(t, 10-80*0.6, res.Adjusted, 1e-9)
}

func TestCrossAsset_NonDependentUntouched(t *testing.T) {
	adj := NewCrossAssetAdjuster(crossCfg(), staticRef{score: 90, ok: true})

	for _, symbol := range []string{"DOGE", "BTC"} {
		res := adj.Adjust(context.Background(), symbol, 42, 1.0)
		assert.False(t, res.Applied, symbol)
		assert.Equal(t, 42.0, res.Adjusted, symbol)
		assert.Empty(t, res.Note, symbol)
	}
}

func TestCrossAsset_LowCoverageSkips(t *testing.T) {
	// Even an extreme reference score must not leak into a thin evaluation.
	adj := NewCrossAssetAdjuster(crossCfg(), staticRef{score: 100, ok: true})

	res := adj.Adjust(context.Background(), "ETH", 20, 0.3)
	assert.False(t, res.Applied)
	assert.Equal(t, 20.0, res.Adjusted)
	assert.Contains(t, res.Note, "skipped")
}

func TestCrossAsset_MissingReferenceSkips(t *testing.T) {
	adj := NewCrossAssetAdjuster(crossCfg(), staticRef{ok: false})

	res := adj.Adjust(context.Background(), "ETH", 20, 1.0)
	assert.False(t, res.Applied)
	assert.Equal(t, 20.0, res.Adjusted)
	assert.Contains(t, res.Note, "skipped")
}

func TestCrossAsset_ReferenceErrorSkips(t *testing.T) {
	adj := NewCrossAssetAdjuster(crossCfg(), staticRef{err: errors.New("redis down")})

	res := adj.Adjust(context.Background(), "ETH", 20, 1.0)
	assert.False(t, res.Applied)
	assert.Equal(t, 20.0, res.Adjusted)
}
