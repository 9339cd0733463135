package scoring

import (
	"math"

	"github.com/gheezy/signalengine/internal/config"
)

// Recommendation tiers, most conservative first. A confidence landing
// exactly on a cutoff resolves to the lower tier.
const (
	TierWait   = "wait"
	TierLow    = "low_confidence"
	TierNormal = "normal"
	TierStrong = "strong"
)

// EnsembleResult is the blended confidence with attribution.
type EnsembleResult struct {
	RulesConfidence float64
	MLConfidence    float64
	MLAvailable     bool
	Final           float64
	Tier            string
}

// Blender combines the rules-based confidence with an external model's
// confidence using fixed weights. When the model has no output the rules
// confidence passes through untouched; degraded, not an error.
type Blender struct {
	cfg          config.EnsembleConfig
	maxMagnitude float64
}

func NewBlender(cfg config.EnsembleConfig, maxMagnitude float64) *Blender {
	return &Blender{cfg: cfg, maxMagnitude: maxMagnitude}
}

// RulesConfidence maps an adjusted score to [0,100] monotonically in its
// magnitude.
func (b *Blender) RulesConfidence(adjusted float64) float64 {
	return math.Min(math.Abs(adjusted)/b.maxMagnitude*100, 100)
}

// Blend computes the final confidence. mlConfidence is the model's output
// on [0,1]; mlAvailable false means the model adapter had nothing to say.
func (b *Blender) Blend(adjusted float64, mlConfidence float64, mlAvailable bool) EnsembleResult {
	rules := b.RulesConfidence(adjusted)

	res := EnsembleResult{RulesConfidence: rules, MLAvailable: mlAvailable}
	if !mlAvailable {
		res.Final = rules
	} else {
		ml := math.Max(0, math.Min(1, mlConfidence)) * 100
		res.MLConfidence = ml
		res.Final = b.cfg.RulesWeight*rules + b.cfg.MLWeight*ml
	}
	res.Final = math.Min(res.Final, 100)
	res.Tier = b.tier(res.Final)
	return res
}

func (b *Blender) tier(final float64) string {
	switch {
	case final <= b.cfg.CancelBelow:
		return TierWait
	case final <= b.cfg.LowBelow:
		return TierLow
	case final <= b.cfg.NormalBelow:
		return TierNormal
	default:
		return TierStrong
	}
}
