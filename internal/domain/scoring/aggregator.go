// Package scoring turns a set of bounded factor scores into one adjusted
// directional score. The pipeline runs in fixed order: weighted phase
// aggregation, conflict resolution, cross-asset adjustment, then a hard
// final clamp, with the running total recorded after every stage.
package scoring

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/gheezy/signalengine/internal/config"
	"github.com/gheezy/signalengine/internal/domain"
)

// FinalBound is the hard ceiling applied after all adjustment stages.
const FinalBound = 100.0

// AggregateResult is the weighted raw total plus coverage accounting.
type AggregateResult struct {
	Symbol   string
	RawTotal float64
	// Populated / Expected track factor coverage; missing factors
	// contribute zero, they do not fail the evaluation.
	Populated int
	Expected  int
	Missing   []string
	Scores    map[string]domain.FactorScore
}

// Coverage is the fraction of expected factor sources that produced a score.
func (r AggregateResult) Coverage() float64 {
	if r.Expected == 0 {
		return 0
	}
	return float64(r.Populated) / float64(r.Expected)
}

// Aggregator combines factor scores into one raw total. Each phase's
// weighted score on [-10,+10] is rescaled to +/-MaxContribution; phase
// totals are summed and clamped to +/-MaxMagnitude. The final clamp to
// +/-100 is deliberately NOT applied here: conflict overrides and
// cross-asset blending must see the unsaturated intermediate value.
type Aggregator struct {
	cfg config.ScoringConfig
}

func NewAggregator(cfg config.ScoringConfig) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Aggregate computes the raw weighted total from the scores present.
// Factor values are re-clamped to the factor bound at this boundary.
func (a *Aggregator) Aggregate(symbol string, scores map[string]domain.FactorScore) AggregateResult {
	res := AggregateResult{
		Symbol:   symbol,
		Expected: a.cfg.ExpectedFactors(),
		Scores:   make(map[string]domain.FactorScore, len(scores)),
	}

	var total float64
	for _, phase := range a.cfg.Phases {
		var phaseScore float64
		for name, weight := range phase.Factors {
			fs, ok := scores[name]
			if !ok {
				res.Missing = append(res.Missing, name)
				continue
			}
			fs.Weight = weight
			fs.Value = domain.ClampValue(fs.Value)
			res.Scores[name] = fs
			res.Populated++
			phaseScore += weight * fs.Value
		}
		// phaseScore is on [-10,+10]; rescale to the phase budget.
		total += phaseScore / domain.FactorBound * phase.MaxContribution
	}

	res.RawTotal = clamp(total, a.cfg.MaxMagnitude)

	if len(res.Missing) > 0 {
		log.Warn().
			Str("symbol", symbol).
			Strs("missing", res.Missing).
			Int("populated", res.Populated).
			Int("expected", res.Expected).
			Msg("degraded factor coverage")
	}
	return res
}

// FinalClamp applies the hard +/-100 bound after all adjustment stages.
func FinalClamp(score float64) float64 {
	return clamp(score, FinalBound)
}

func clamp(v, bound float64) float64 {
	return math.Max(-bound, math.Min(bound, v))
}
