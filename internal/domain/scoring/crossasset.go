package scoring

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gheezy/signalengine/internal/config"
)

// ReferenceScores is the read-only service the adjuster pulls the
// reference asset's latest score from. Its refresh cadence belongs to the
// collaborator behind it, not to this package.
type ReferenceScores interface {
	Score(ctx context.Context, symbol string) (float64, bool, error)
}

// CrossAssetResult records whether blending happened and why.
type CrossAssetResult struct {
	Adjusted float64
	Applied  bool
	Note     string
}

// CrossAssetAdjuster leaks a reference asset's score into declared
// dependent assets by a configured coefficient. It is a no-op for
// non-dependent assets and for evaluations whose factor coverage is below
// the minimum; a skip is always recorded, never silent.
type CrossAssetAdjuster struct {
	cfg config.CrossAssetConfig
	ref ReferenceScores
}

func NewCrossAssetAdjuster(cfg config.CrossAssetConfig, ref ReferenceScores) *CrossAssetAdjuster {
	return &CrossAssetAdjuster{cfg: cfg, ref: ref}
}

// Adjust blends the dependent score with the reference score. The caller
// applies the final clamp afterwards.
func (c *CrossAssetAdjuster) Adjust(ctx context.Context, symbol string, score float64, coverage float64) CrossAssetResult {
	coeff, dependent := c.cfg.Dependents[symbol]
	if !dependent || symbol == c.cfg.Reference {
		return CrossAssetResult{Adjusted: score}
	}

	if coverage < c.cfg.MinCoverage {
		note := fmt.Sprintf("coverage %.0f%% below %.0f%% minimum, cross-asset blend skipped",
			coverage*100, c.cfg.MinCoverage*100)
		log.Info().Str("symbol", symbol).Float64("coverage", coverage).Msg("cross-asset blend skipped")
		return CrossAssetResult{Adjusted: score, Note: note}
	}

	refScore, ok, err := c.ref.Score(ctx, c.cfg.Reference)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Str("reference", c.cfg.Reference).
			Msg("reference score lookup failed")
		return CrossAssetResult{Adjusted: score, Note: "reference score unavailable, blend skipped"}
	}
	if !ok {
		return CrossAssetResult{Adjusted: score, Note: "no recent reference score, blend skipped"}
	}

	adjusted := score + refScore*coeff
	return CrossAssetResult{
		Adjusted: adjusted,
		Applied:  true,
		Note: fmt.Sprintf("blended %s score %.1f at coefficient %.2f",
			c.cfg.Reference, refScore, coeff),
	}
}
