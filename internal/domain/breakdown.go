package domain

import "math"

// FactorBound is the magnitude every factor value is clamped to before it
// enters aggregation.
const FactorBound = 10.0

// FactorScore is one bounded directional opinion about an asset, produced
// fresh per evaluation by a factor source.
type FactorScore struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`

	// Indicator carries the source's native oscillator reading (e.g. RSI
	// on 0..100) when it has one; the conflict resolver keys its extreme
	// rule off this, not off the bounded Value.
	Indicator    float64 `json:"indicator,omitempty"`
	HasIndicator bool    `json:"has_indicator,omitempty"`
}

// ClampValue bounds a raw factor reading to [-FactorBound, +FactorBound].
// Out-of-range inputs are never propagated unclamped.
func ClampValue(v float64) float64 {
	return math.Max(-FactorBound, math.Min(FactorBound, v))
}

// Stage names for the score breakdown, in pipeline order.
const (
	StagePreConflict    = "pre_conflict"
	StagePostConflict   = "post_conflict"
	StagePostCrossAsset = "post_cross_asset"
	StagePostEnsemble   = "post_ensemble"
)

// BreakdownStage records the running total after one pipeline stage,
// with an optional note explaining any adjustment.
type BreakdownStage struct {
	Name  string  `json:"name"`
	Total float64 `json:"total"`
	Note  string  `json:"note,omitempty"`
}

// ScoreBreakdown is the audit trail of a decision: the factor scores that
// went in and the running total after each stage. Stages are only ever
// appended, never rewritten.
type ScoreBreakdown struct {
	Factors []FactorScore    `json:"factors"`
	Stages  []BreakdownStage `json:"stages"`
}

// Append returns a copy of the breakdown extended with a new stage. The
// receiver is left untouched so earlier snapshots stay valid.
func (b ScoreBreakdown) Append(stage string, total float64, note string) ScoreBreakdown {
	stages := make([]BreakdownStage, len(b.Stages), len(b.Stages)+1)
	copy(stages, b.Stages)
	stages = append(stages, BreakdownStage{Name: stage, Total: total, Note: note})
	return ScoreBreakdown{Factors: b.Factors, Stages: stages}
}

// StageTotal returns the recorded total for a named stage.
func (b ScoreBreakdown) StageTotal(stage string) (float64, bool) {
	for _, s := range b.Stages {
		if s.Name == stage {
			return s.Total, true
		}
	}
	return 0, false
}
