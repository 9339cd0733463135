// Package tracker grades matured signals against the price extremes
// observed over their validity window and writes each outcome exactly
// once.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gheezy/signalengine/internal/config"
	"github.com/gheezy/signalengine/internal/domain"
	"github.com/gheezy/signalengine/internal/metrics"
	"github.com/gheezy/signalengine/internal/persistence"
	"github.com/gheezy/signalengine/internal/providers"
)

// Summary aggregates one batch check.
type Summary struct {
	Checked      int `json:"checked"`
	Wins         int `json:"wins"`
	Losses       int `json:"losses"`
	StillPending int `json:"still_pending"`
}

// Tracker evaluates pending signals. Historical fetches run concurrently
// under a bounded limit; the terminal write per signal is a conditional
// update, so concurrent sweeps cannot double-write.
type Tracker struct {
	cfg     config.TrackerConfig
	store   persistence.SignalStore
	history providers.HistoricalPrices
	current providers.CurrentPrice
	metrics *metrics.Registry
	now     func() time.Time
}

func New(cfg config.TrackerConfig, store persistence.SignalStore, history providers.HistoricalPrices, current providers.CurrentPrice, m *metrics.Registry) *Tracker {
	return &Tracker{
		cfg:     cfg,
		store:   store,
		history: history,
		current: current,
		metrics: m,
		now:     time.Now,
	}
}

// SetClock overrides the tracker's clock; tests only.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// CheckPending grades every mature pending signal for a subject,
// optionally filtered by symbol. Provider failures leave signals pending;
// the summary always comes back, never a partial crash.
func (t *Tracker) CheckPending(ctx context.Context, subjectID int64, symbol string) (Summary, error) {
	pending, err := t.store.ListPending(ctx, subjectID, symbol)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list pending signals: %w", err)
	}
	t.metrics.PendingSignals.Set(float64(len(pending)))

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		summary Summary
	)
	sem := make(chan struct{}, t.cfg.Concurrency)
	now := t.now()

	for i := range pending {
		sig := pending[i]

		if !sig.Mature(now, t.cfg.MaturityWindow) {
			summary.StillPending++
			continue
		}

		wg.Add(1)
		go func(sig domain.Signal) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result := t.evaluate(ctx, sig)

			mu.Lock()
			defer mu.Unlock()
			switch result {
			case domain.ResultWin:
				summary.Checked++
				summary.Wins++
			case domain.ResultLoss:
				summary.Checked++
				summary.Losses++
			default:
				summary.StillPending++
			}
		}(sig)
	}
	wg.Wait()

	log.Info().
		Int64("subject", subjectID).
		Str("symbol", symbol).
		Int("checked", summary.Checked).
		Int("wins", summary.Wins).
		Int("losses", summary.Losses).
		Int("still_pending", summary.StillPending).
		Msg("outcome sweep complete")

	return summary, nil
}

// evaluate grades one mature signal and writes its outcome. Returns the
// terminal result, or ResultPending when no result could be decided.
func (t *Tracker) evaluate(ctx context.Context, sig domain.Signal) domain.Result {
	from := sig.CreatedAt
	to := sig.CreatedAt.Add(t.cfg.MaturityWindow)

	rng, err := t.history.RangeExtremes(ctx, sig.Symbol, from, to)
	if err != nil || rng.Min <= 0 || rng.Max <= 0 {
		t.metrics.ProviderErrors.WithLabelValues("price_history").Inc()
		if t.cfg.AllowDegraded {
			log.Warn().Err(err).Str("symbol", sig.Symbol).Str("id", sig.ID.String()).
				Msg("historical extremes unavailable, trying degraded spot check")
			return t.evaluateDegraded(ctx, sig)
		}
		log.Warn().Err(err).Str("symbol", sig.Symbol).Str("id", sig.ID.String()).
			Msg("historical extremes unavailable, signal left pending")
		return domain.ResultPending
	}

	result, exit := Decide(sig, rng)
	return t.writeOutcome(ctx, sig, result, exit, false)
}

// evaluateDegraded is the explicitly weaker fallback: a single spot-price
// comparison, flagged on the record, used only when history is down and
// the operator opted in. A price between the levels decides nothing.
func (t *Tracker) evaluateDegraded(ctx context.Context, sig domain.Signal) domain.Result {
	price, err := t.current.Price(ctx, sig.Symbol)
	if err != nil || price <= 0 {
		t.metrics.ProviderErrors.WithLabelValues("current_price").Inc()
		return domain.ResultPending
	}

	result := DecideSpot(sig, price)
	if result == domain.ResultPending {
		return domain.ResultPending
	}
	log.Warn().Str("symbol", sig.Symbol).Str("id", sig.ID.String()).
		Str("result", string(result)).
		Msg("outcome decided from degraded single-price check")
	return t.writeOutcome(ctx, sig, result, price, true)
}

func (t *Tracker) writeOutcome(ctx context.Context, sig domain.Signal, result domain.Result, exit float64, degraded bool) domain.Result {
	err := t.store.ResolveOutcome(ctx, sig.ID.String(), persistence.Outcome{
		Result:    result,
		ExitPrice: exit,
		CheckedAt: t.now().UTC(),
		Degraded:  degraded,
	})
	if errors.Is(err, persistence.ErrAlreadyResolved) {
		// A concurrent evaluator won the race; report what it wrote.
		log.Info().Str("id", sig.ID.String()).Msg("outcome already resolved elsewhere")
		if resolved, getErr := t.store.Get(ctx, sig.ID.String()); getErr == nil {
			return resolved.Result
		}
		return domain.ResultPending
	}
	if err != nil {
		log.Error().Err(err).Str("id", sig.ID.String()).Msg("outcome write failed")
		return domain.ResultPending
	}

	t.metrics.OutcomeChecks.WithLabelValues(string(result)).Inc()
	log.Info().
		Str("symbol", sig.Symbol).
		Str("id", sig.ID.String()).
		Str("result", string(result)).
		Float64("exit", exit).
		Bool("degraded", degraded).
		Msg("signal resolved")
	return result
}

// Decide applies the outcome table to the window extremes. The stop is
// always checked before the target: a touched stop during the window
// voids any later target touch, since the position would have exited.
func Decide(sig domain.Signal, rng providers.PriceRange) (domain.Result, float64) {
	switch sig.Direction {
	case domain.DirectionLong:
		if rng.Min <= sig.StopLoss {
			return domain.ResultLoss, sig.StopLoss
		}
		if rng.Max >= sig.Target1 {
			return domain.ResultWin, sig.Target1
		}
		return domain.ResultLoss, rng.Min

	case domain.DirectionShort:
		if rng.Max >= sig.StopLoss {
			return domain.ResultLoss, sig.StopLoss
		}
		if rng.Min <= sig.Target1 {
			return domain.ResultWin, sig.Target1
		}
		return domain.ResultLoss, rng.Max

	default: // SIDEWAYS: the band is stored as stop (lower) and target1 (upper)
		if rng.Min >= sig.StopLoss && rng.Max <= sig.Target1 {
			return domain.ResultWin, sig.EntryPrice
		}
		if rng.Max > sig.Target1 {
			return domain.ResultLoss, rng.Max
		}
		return domain.ResultLoss, rng.Min
	}
}

// DecideSpot is the degraded single-price table. A spot between the
// levels decides nothing and the signal stays pending.
func DecideSpot(sig domain.Signal, price float64) domain.Result {
	switch sig.Direction {
	case domain.DirectionLong:
		if price <= sig.StopLoss {
			return domain.ResultLoss
		}
		if price >= sig.Target1 {
			return domain.ResultWin
		}
	case domain.DirectionShort:
		if price >= sig.StopLoss {
			return domain.ResultLoss
		}
		if price <= sig.Target1 {
			return domain.ResultWin
		}
	default:
		if price >= sig.StopLoss && price <= sig.Target1 {
			return domain.ResultWin
		}
		return domain.ResultLoss
	}
	return domain.ResultPending
}
