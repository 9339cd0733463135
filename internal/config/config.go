// Package config loads and validates the engine configuration. Every
// tunable lives here: scoring phase weights, conflict thresholds,
// cross-asset coefficients, ensemble weights, tier cutoffs, target and
// stop distances, the maturity window and provider limits.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Scoring    ScoringConfig    `yaml:"scoring"`
	Conflict   ConflictConfig   `yaml:"conflict"`
	CrossAsset CrossAssetConfig `yaml:"cross_asset"`
	Ensemble   EnsembleConfig   `yaml:"ensemble"`
	Targets    TargetsConfig    `yaml:"targets"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Engine     EngineConfig     `yaml:"engine"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Server     ServerConfig     `yaml:"server"`
}

// Phase groups factor sources whose weights sum to 1. The phase's weighted
// score on [-10,+10] is rescaled to +/-MaxContribution before phases are
// summed, so the sum of phase maxima bounds the raw total.
type Phase struct {
	Name            string             `yaml:"name"`
	MaxContribution float64            `yaml:"max_contribution"`
	Factors         map[string]float64 `yaml:"factors"`
}

type ScoringConfig struct {
	// MaxMagnitude is the intermediate ceiling the raw total is clamped
	// to. It must exceed the sum of phase maxima so conflict overrides
	// and cross-asset blending are not truncated before the hard final
	// clamp to +/-100.
	MaxMagnitude float64 `yaml:"max_magnitude"`
	// SidewaysBand is the adjusted-score magnitude below which the
	// recommendation is SIDEWAYS rather than directional.
	SidewaysBand float64 `yaml:"sideways_band"`
	Phases       []Phase `yaml:"phases"`
}

type ExtremeRule struct {
	Factor         string  `yaml:"factor"`
	LowThreshold   float64 `yaml:"low_threshold"`
	HighThreshold  float64 `yaml:"high_threshold"`
	OverrideFactor float64 `yaml:"override_factor"`
	OverrideBoost  float64 `yaml:"override_boost"`
}

type CountMismatchRule struct {
	BullishThreshold float64 `yaml:"bullish_threshold"`
	BearishThreshold float64 `yaml:"bearish_threshold"`
	Margin           int     `yaml:"margin"`
	DampenFactor     float64 `yaml:"dampen_factor"`
}

type ConflictConfig struct {
	Extreme       ExtremeRule       `yaml:"extreme"`
	CountMismatch CountMismatchRule `yaml:"count_mismatch"`
}

type CrossAssetConfig struct {
	Reference string `yaml:"reference"`
	// MinCoverage is the fraction of registered factor sources that must
	// have produced a score before any reference blending happens.
	MinCoverage float64 `yaml:"min_coverage"`
	// Dependents maps dependent symbols to correlation coefficients in
	// [0,1]; configuration, never derived from the scores themselves.
	Dependents map[string]float64 `yaml:"dependents"`
}

type EnsembleConfig struct {
	RulesWeight float64 `yaml:"rules_weight"`
	MLWeight    float64 `yaml:"ml_weight"`
	// Tier cutoffs; a confidence equal to a cutoff resolves to the lower
	// tier.
	CancelBelow float64 `yaml:"cancel_below"`
	LowBelow    float64 `yaml:"low_below"`
	NormalBelow float64 `yaml:"normal_below"`
}

type TargetsConfig struct {
	Target1Pct      float64 `yaml:"target1_pct"`
	Target2Pct      float64 `yaml:"target2_pct"`
	StopPct         float64 `yaml:"stop_pct"`
	SidewaysBandPct float64 `yaml:"sideways_band_pct"`
}

type TrackerConfig struct {
	MaturityWindow time.Duration `yaml:"maturity_window"`
	Concurrency    int           `yaml:"concurrency"`
	AllowDegraded  bool          `yaml:"allow_degraded"`
	SweepSchedule  string        `yaml:"sweep_schedule"`
}

type EngineConfig struct {
	FetchConcurrency int           `yaml:"fetch_concurrency"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
}

type ProvidersConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	RateBurst    int           `yaml:"rate_burst"`
	// KrakenURL overrides the exchange REST base URL; empty means the
	// public endpoint.
	KrakenURL string `yaml:"kraken_url"`
	// FactorFeedURL is the feature service serving factor scores and
	// model inference. Empty disables the ML leg and all feed-backed
	// factor sources.
	FactorFeedURL string `yaml:"factor_feed_url"`
}

type DatabaseConfig struct {
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	ScoreTTL time.Duration `yaml:"score_ttl"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration, matching the documented
// steady-state tuning.
func Default() Config {
	return Config{
		Scoring: ScoringConfig{
			MaxMagnitude: 120,
			SidewaysBand: 10,
			Phases: []Phase{
				{Name: "technical", MaxContribution: 40, Factors: map[string]float64{
					"trend": 0.35, "momentum": 0.40, "volatility": 0.25,
				}},
				{Name: "flow", MaxContribution: 30, Factors: map[string]float64{
					"order_flow": 0.50, "whale_flow": 0.30, "onchain": 0.20,
				}},
				{Name: "derivatives", MaxContribution: 20, Factors: map[string]float64{
					"funding": 0.60, "open_interest": 0.40,
				}},
				{Name: "sentiment", MaxContribution: 10, Factors: map[string]float64{
					"social": 1.0,
				}},
			},
		},
		Conflict: ConflictConfig{
			Extreme: ExtremeRule{
				Factor:         "momentum",
				LowThreshold:   30,
				HighThreshold:  70,
				OverrideFactor: 0.5,
				OverrideBoost:  15,
			},
			CountMismatch: CountMismatchRule{
				BullishThreshold: 3,
				BearishThreshold: -3,
				Margin:           3,
				DampenFactor:     0.5,
			},
		},
		CrossAsset: CrossAssetConfig{
			Reference:   "BTC",
			MinCoverage: 0.5,
			Dependents: map[string]float64{
				"ETH": 0.8,
				"SOL": 0.6,
				"XRP": 0.3,
			},
		},
		Ensemble: EnsembleConfig{
			RulesWeight: 0.7,
			MLWeight:    0.3,
			CancelBelow: 40,
			LowBelow:    60,
			NormalBelow: 80,
		},
		Targets: TargetsConfig{
			Target1Pct:      1.5,
			Target2Pct:      2.0,
			StopPct:         0.6,
			SidewaysBandPct: 1.0,
		},
		Tracker: TrackerConfig{
			MaturityWindow: 4 * time.Hour,
			Concurrency:    5,
			AllowDegraded:  false,
			SweepSchedule:  "*/15 * * * *",
		},
		Engine: EngineConfig{
			FetchConcurrency: 5,
			FetchTimeout:     10 * time.Second,
		},
		Providers: ProvidersConfig{
			Timeout:       10 * time.Second,
			RateLimitRPS:  4,
			RateBurst:     8,
			FactorFeedURL: "http://localhost:9090",
		},
		Database: DatabaseConfig{
			DSN:     "postgres://localhost:5432/signalengine?sslmode=disable",
			Timeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			ScoreTTL: 30 * time.Minute,
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks structural invariants the engine depends on.
func (c Config) Validate() error {
	var phaseSum float64
	for _, phase := range c.Scoring.Phases {
		if phase.MaxContribution <= 0 {
			return fmt.Errorf("phase %s: max_contribution must be positive", phase.Name)
		}
		var weightSum float64
		for name, w := range phase.Factors {
			if w < 0 || w > 1 {
				return fmt.Errorf("phase %s: factor %s weight %.3f outside [0,1]", phase.Name, name, w)
			}
			weightSum += w
		}
		if math.Abs(weightSum-1.0) > 0.001 {
			return fmt.Errorf("phase %s: factor weights sum to %.3f, want 1.0", phase.Name, weightSum)
		}
		phaseSum += phase.MaxContribution
	}
	if c.Scoring.MaxMagnitude <= phaseSum {
		return fmt.Errorf("max_magnitude %.1f must exceed sum of phase maxima %.1f",
			c.Scoring.MaxMagnitude, phaseSum)
	}

	e := c.Conflict.Extreme
	if e.OverrideFactor <= 0 || e.OverrideFactor >= 1 {
		return fmt.Errorf("override_factor %.3f outside (0,1)", e.OverrideFactor)
	}
	if e.OverrideBoost <= 0 {
		return fmt.Errorf("override_boost %.3f must be positive", e.OverrideBoost)
	}
	cm := c.Conflict.CountMismatch
	if cm.DampenFactor <= 0 || cm.DampenFactor >= 1 {
		return fmt.Errorf("dampen_factor %.3f outside (0,1)", cm.DampenFactor)
	}
	if cm.Margin < 1 {
		return fmt.Errorf("count mismatch margin %d must be >= 1", cm.Margin)
	}

	if c.CrossAsset.MinCoverage < 0 || c.CrossAsset.MinCoverage > 1 {
		return fmt.Errorf("min_coverage %.3f outside [0,1]", c.CrossAsset.MinCoverage)
	}
	for sym, coeff := range c.CrossAsset.Dependents {
		if coeff < 0 || coeff > 1 {
			return fmt.Errorf("correlation coefficient for %s is %.3f, outside [0,1]", sym, coeff)
		}
	}

	if math.Abs(c.Ensemble.RulesWeight+c.Ensemble.MLWeight-1.0) > 0.001 {
		return fmt.Errorf("ensemble weights sum to %.3f, want 1.0",
			c.Ensemble.RulesWeight+c.Ensemble.MLWeight)
	}
	if !(c.Ensemble.CancelBelow < c.Ensemble.LowBelow && c.Ensemble.LowBelow < c.Ensemble.NormalBelow) {
		return fmt.Errorf("tier cutoffs must be strictly increasing: %.1f %.1f %.1f",
			c.Ensemble.CancelBelow, c.Ensemble.LowBelow, c.Ensemble.NormalBelow)
	}

	if c.Targets.StopPct <= 0 || c.Targets.Target1Pct <= 0 || c.Targets.Target2Pct < c.Targets.Target1Pct {
		return fmt.Errorf("target/stop percentages not monotonic: t1 %.2f t2 %.2f stop %.2f",
			c.Targets.Target1Pct, c.Targets.Target2Pct, c.Targets.StopPct)
	}

	if c.Tracker.MaturityWindow <= 0 {
		return fmt.Errorf("maturity_window must be positive")
	}
	if c.Tracker.Concurrency < 1 || c.Engine.FetchConcurrency < 1 {
		return fmt.Errorf("concurrency limits must be >= 1")
	}
	return nil
}

// ExpectedFactors counts every factor named across all phases.
func (c ScoringConfig) ExpectedFactors() int {
	n := 0
	for _, phase := range c.Phases {
		n += len(phase.Factors)
	}
	return n
}
