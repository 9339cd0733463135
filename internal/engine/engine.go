// Package engine wires factor evaluation, conflict resolution, cross-asset
// adjustment and ensemble blending into one Evaluate call, and persists
// the resulting signal.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gheezy/signalengine/internal/config"
	"github.com/gheezy/signalengine/internal/domain"
	"github.com/gheezy/signalengine/internal/domain/factors"
	"github.com/gheezy/signalengine/internal/domain/scoring"
	"github.com/gheezy/signalengine/internal/metrics"
	"github.com/gheezy/signalengine/internal/persistence"
	"github.com/gheezy/signalengine/internal/providers"
)

// RefPublisher receives each evaluation's final score so later evaluations
// of dependent assets can blend against it.
type RefPublisher interface {
	Publish(ctx context.Context, symbol string, score float64) error
}

// Notifier is told about every signal the engine persists. Used by the
// websocket stream; a nil notifier is fine.
type Notifier interface {
	SignalCreated(sig domain.Signal)
}

// Engine runs the scoring pipeline for one (subject, asset) pair per call.
// Pipelines for different pairs share nothing mutable beyond configuration,
// so callers may run them fully in parallel.
type Engine struct {
	cfg config.Config

	registry   *factors.Registry
	aggregator *scoring.Aggregator
	resolver   *scoring.Resolver
	crossAsset *scoring.CrossAssetAdjuster
	blender    *scoring.Blender

	store    persistence.SignalStore
	price    providers.CurrentPrice
	model    providers.Model
	refCache RefPublisher
	notifier Notifier
	metrics  *metrics.Registry

	now func() time.Time
}

// Options carries the engine's collaborators.
type Options struct {
	Registry *factors.Registry
	Store    persistence.SignalStore
	Price    providers.CurrentPrice
	Model    providers.Model
	RefRead  scoring.ReferenceScores
	RefWrite RefPublisher
	Notifier Notifier
	Metrics  *metrics.Registry
	Now      func() time.Time
}

func New(cfg config.Config, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:        cfg,
		registry:   opts.Registry,
		aggregator: scoring.NewAggregator(cfg.Scoring),
		resolver:   scoring.NewResolver(cfg.Conflict),
		crossAsset: scoring.NewCrossAssetAdjuster(cfg.CrossAsset, opts.RefRead),
		blender:    scoring.NewBlender(cfg.Ensemble, cfg.Scoring.MaxMagnitude),
		store:      opts.Store,
		price:      opts.Price,
		model:      opts.Model,
		refCache:   opts.RefWrite,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		now:        now,
	}
}

// Evaluate runs the full pipeline and persists the decision. Missing factor
// sources degrade coverage, they never abort; only the spot-price lookup
// (needed for entry levels) and persistence can fail the call. No side
// effects happen before the final persist succeeds.
func (e *Engine) Evaluate(ctx context.Context, subjectID int64, symbol string) (*domain.Signal, error) {
	start := e.now()

	scores := e.fetchFactors(ctx, symbol)

	entryPrice, err := e.price.Price(ctx, symbol)
	if err != nil {
		e.metrics.ProviderErrors.WithLabelValues("current_price").Inc()
		e.metrics.ObserveEvaluate(start, "error")
		return nil, fmt.Errorf("spot price for %s unavailable: %w", symbol, err)
	}

	agg := e.aggregator.Aggregate(symbol, scores)
	if len(agg.Missing) > 0 {
		e.metrics.DegradedCoverage.Inc()
	}

	breakdown := domain.ScoreBreakdown{Factors: factorList(agg.Scores)}
	breakdown = breakdown.Append(domain.StagePreConflict, agg.RawTotal, coverageNote(agg))

	resolved := e.resolver.Resolve(scoring.ConflictInput{Raw: agg.RawTotal, Scores: agg.Scores})
	breakdown = breakdown.Append(domain.StagePostConflict, resolved.Adjusted, resolved.Note)
	if resolved.Rule != "" {
		log.Info().Str("symbol", symbol).Str("rule", resolved.Rule).
			Float64("raw", agg.RawTotal).Float64("adjusted", resolved.Adjusted).
			Msg("conflict rule fired")
	}

	blendRes := e.crossAsset.Adjust(ctx, symbol, resolved.Adjusted, agg.Coverage())
	final := scoring.FinalClamp(blendRes.Adjusted)
	breakdown = breakdown.Append(domain.StagePostCrossAsset, final, blendRes.Note)

	mlConfidence, mlAvailable := e.predict(ctx, symbol, agg)
	ensemble := e.blender.Blend(final, mlConfidence, mlAvailable)
	breakdown = breakdown.Append(domain.StagePostEnsemble, ensemble.Final, "tier "+ensemble.Tier)

	direction := e.direction(final)
	sig := &domain.Signal{
		ID:         uuid.New(),
		SubjectID:  subjectID,
		Symbol:     symbol,
		CreatedAt:  start.UTC(),
		Direction:  direction,
		Confidence: ensemble.Final,
		Tier:       ensemble.Tier,
		Breakdown:  breakdown,
		Result:     domain.ResultPending,
	}
	e.setLevels(sig, entryPrice)

	if err := e.store.Create(ctx, sig, e.cfg.Tracker.MaturityWindow); err != nil {
		e.metrics.ObserveEvaluate(start, "error")
		return nil, fmt.Errorf("failed to persist signal: %w", err)
	}

	if e.refCache != nil {
		if err := e.refCache.Publish(ctx, symbol, final); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("reference score publish failed")
		}
	}
	if e.notifier != nil {
		e.notifier.SignalCreated(*sig)
	}

	e.metrics.SignalsCreated.WithLabelValues(string(direction), ensemble.Tier).Inc()
	e.metrics.ObserveEvaluate(start, "ok")

	log.Info().
		Str("symbol", symbol).
		Int64("subject", subjectID).
		Str("direction", string(direction)).
		Float64("score", final).
		Float64("confidence", ensemble.Final).
		Str("tier", ensemble.Tier).
		Msg("signal created")

	return sig, nil
}

// fetchFactors evaluates every registered source concurrently, bounded by
// the configured fetch concurrency, with a per-source timeout. A slow or
// failing source contributes nothing; the rest proceed.
func (e *Engine) fetchFactors(ctx context.Context, symbol string) map[string]domain.FactorScore {
	names := e.registry.Names()
	scores := make(map[string]domain.FactorScore, len(names))

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.Engine.FetchConcurrency)

	for _, name := range names {
		src, ok := e.registry.Get(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, src factors.Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.Engine.FetchTimeout)
			defer cancel()

			fs, err := src.Evaluate(fetchCtx, symbol)
			if err != nil {
				e.metrics.ProviderErrors.WithLabelValues(name).Inc()
				log.Warn().Err(err).Str("factor", name).Str("symbol", symbol).
					Msg("factor source unavailable")
				return
			}
			fs.Name = name
			fs.Value = domain.ClampValue(fs.Value)

			mu.Lock()
			scores[name] = fs
			mu.Unlock()
		}(name, src)
	}
	wg.Wait()
	return scores
}

// predict asks the model adapter for its confidence. Any failure degrades
// to rules-only blending.
func (e *Engine) predict(ctx context.Context, symbol string, agg scoring.AggregateResult) (float64, bool) {
	if e.model == nil {
		return 0, false
	}
	features := make(map[string]float64, len(agg.Scores)+2)
	for name, fs := range agg.Scores {
		features[name] = fs.Value
	}
	features["raw_total"] = agg.RawTotal
	features["coverage"] = agg.Coverage()

	confidence, err := e.model.Predict(ctx, symbol, features)
	if err != nil {
		e.metrics.ProviderErrors.WithLabelValues("model_inference").Inc()
		log.Warn().Err(err).Str("symbol", symbol).Msg("model inference unavailable, rules only")
		return 0, false
	}
	return confidence, true
}

func (e *Engine) direction(score float64) domain.Direction {
	switch {
	case score > e.cfg.Scoring.SidewaysBand:
		return domain.DirectionLong
	case score < -e.cfg.Scoring.SidewaysBand:
		return domain.DirectionShort
	default:
		return domain.DirectionSideways
	}
}

// setLevels derives entry, targets and stop from the spot price and the
// configured distances.
func (e *Engine) setLevels(sig *domain.Signal, entry float64) {
	t := e.cfg.Targets
	sig.EntryPrice = entry

	switch sig.Direction {
	case domain.DirectionLong:
		sig.Target1 = entry * (1 + t.Target1Pct/100)
		sig.Target2 = entry * (1 + t.Target2Pct/100)
		sig.StopLoss = entry * (1 - t.StopPct/100)
	case domain.DirectionShort:
		sig.Target1 = entry * (1 - t.Target1Pct/100)
		sig.Target2 = entry * (1 - t.Target2Pct/100)
		sig.StopLoss = entry * (1 + t.StopPct/100)
	case domain.DirectionSideways:
		sig.Target1 = entry * (1 + t.SidewaysBandPct/100)
		sig.Target2 = sig.Target1
		sig.StopLoss = entry * (1 - t.SidewaysBandPct/100)
	}
}

func factorList(scores map[string]domain.FactorScore) []domain.FactorScore {
	list := make([]domain.FactorScore, 0, len(scores))
	for _, fs := range scores {
		list = append(list, fs)
	}
	return list
}

func coverageNote(agg scoring.AggregateResult) string {
	if len(agg.Missing) == 0 {
		return ""
	}
	return fmt.Sprintf("degraded coverage: %d of %d sources", agg.Populated, agg.Expected)
}
