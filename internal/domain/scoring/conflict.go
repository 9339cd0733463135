package scoring

import (
	"fmt"
	"math"

	"github.com/gheezy/signalengine/internal/config"
	"github.com/gheezy/signalengine/internal/domain"
)

// Rule is one entry in the priority-ordered conflict chain. The first rule
// whose Applies returns true fully determines the adjusted score; later
// rules do not run.
type Rule interface {
	Name() string
	Applies(in ConflictInput) bool
	Apply(in ConflictInput) (adjusted float64, note string)
}

// ConflictInput is what the resolver arbitrates over: the raw total and
// the individual factor scores it came from.
type ConflictInput struct {
	Raw    float64
	Scores map[string]domain.FactorScore
}

// ConflictResult reports which rule fired, if any.
type ConflictResult struct {
	Adjusted float64
	Rule     string
	Note     string
}

// Resolver walks the rule chain with early exit. It only arbitrates
// between already-computed directional disagreement; absent factors never
// trigger a rule.
type Resolver struct {
	rules []Rule
}

// NewResolver builds the standard chain: extreme-indicator override first,
// then strong-signal-count dampening.
func NewResolver(cfg config.ConflictConfig) *Resolver {
	return &Resolver{rules: []Rule{
		extremeOverride{cfg: cfg.Extreme},
		countMismatch{cfg: cfg.CountMismatch},
	}}
}

// Resolve returns the adjusted score. With no matching rule the raw value
// passes through unchanged.
func (r *Resolver) Resolve(in ConflictInput) ConflictResult {
	for _, rule := range r.rules {
		if rule.Applies(in) {
			adjusted, note := rule.Apply(in)
			return ConflictResult{Adjusted: adjusted, Rule: rule.Name(), Note: note}
		}
	}
	return ConflictResult{Adjusted: in.Raw}
}

// extremeOverride fires when the designated oscillator sits in unambiguous
// extreme territory and the raw total points the other way. The override
// flips the score toward the extreme's implied direction:
// oversold contradicting a negative total yields a strictly positive
// score, overbought contradicting a positive total a strictly negative one.
type extremeOverride struct {
	cfg config.ExtremeRule
}

func (e extremeOverride) Name() string { return "extreme_override" }

func (e extremeOverride) Applies(in ConflictInput) bool {
	fs, ok := in.Scores[e.cfg.Factor]
	if !ok || !fs.HasIndicator {
		return false
	}
	oversold := fs.Indicator < e.cfg.LowThreshold && in.Raw < 0
	overbought := fs.Indicator > e.cfg.HighThreshold && in.Raw > 0
	return oversold || overbought
}

func (e extremeOverride) Apply(in ConflictInput) (float64, string) {
	fs := in.Scores[e.cfg.Factor]
	magnitude := math.Abs(in.Raw)*e.cfg.OverrideFactor + e.cfg.OverrideBoost

	if fs.Indicator < e.cfg.LowThreshold {
		return magnitude, fmt.Sprintf(
			"%s oversold at %.1f contradicts bearish total %.1f, flipped long",
			e.cfg.Factor, fs.Indicator, in.Raw)
	}
	return -magnitude, fmt.Sprintf(
		"%s overbought at %.1f contradicts bullish total %.1f, flipped short",
		e.cfg.Factor, fs.Indicator, in.Raw)
}

// countMismatch dampens the total when factor-level verdicts disagree with
// it in bulk: if bullish-classified factors outnumber bearish ones by the
// margin (or vice versa) while the weighted sum points the other way, the
// sum is scaled down rather than trusted outright.
type countMismatch struct {
	cfg config.CountMismatchRule
}

func (c countMismatch) Name() string { return "count_mismatch" }

func (c countMismatch) counts(in ConflictInput) (bullish, bearish int) {
	for _, fs := range in.Scores {
		switch {
		case fs.Value >= c.cfg.BullishThreshold:
			bullish++
		case fs.Value <= c.cfg.BearishThreshold:
			bearish++
		}
	}
	return bullish, bearish
}

func (c countMismatch) Applies(in ConflictInput) bool {
	bullish, bearish := c.counts(in)
	if bullish-bearish >= c.cfg.Margin && in.Raw < 0 {
		return true
	}
	if bearish-bullish >= c.cfg.Margin && in.Raw > 0 {
		return true
	}
	return false
}

func (c countMismatch) Apply(in ConflictInput) (float64, string) {
	bullish, bearish := c.counts(in)
	return in.Raw * c.cfg.DampenFactor, fmt.Sprintf(
		"%d bullish vs %d bearish factors disagree with total %.1f, dampened x%.2f",
		bullish, bearish, in.Raw, c.cfg.DampenFactor)
}
