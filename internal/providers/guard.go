package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/gheezy/signalengine/internal/config"
	"github.com/gheezy/signalengine/internal/net/ratelimit"
)

// Guard wraps an external provider call with a per-provider rate limit, a
// circuit breaker and a hard timeout. Failures surface as ErrUnavailable
// so callers can degrade instead of abort; no call blocks indefinitely.
type Guard struct {
	name    string
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewGuard builds a guard for one named provider.
func NewGuard(name string, cfg config.ProvidersConfig) *Guard {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("provider breaker state change")
		},
	}
	return &Guard{
		name:    name,
		limiter: ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateBurst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: cfg.Timeout,
	}
}

// Do executes fn under the guard's limiter, breaker and timeout.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if err := g.limiter.Wait(ctx, g.name); err != nil {
		return nil, fmt.Errorf("%s rate limit wait: %w", g.name, ErrUnavailable)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return fn(callCtx)
	})
	if err != nil {
		log.Warn().Err(err).Str("provider", g.name).Msg("provider call failed")
		return nil, fmt.Errorf("%s: %v: %w", g.name, err, ErrUnavailable)
	}
	return result, nil
}

// GuardedHistory wraps a HistoricalPrices provider with a Guard.
type GuardedHistory struct {
	inner HistoricalPrices
	guard *Guard
}

func NewGuardedHistory(inner HistoricalPrices, cfg config.ProvidersConfig) *GuardedHistory {
	return &GuardedHistory{inner: inner, guard: NewGuard("price_history", cfg)}
}

func (g *GuardedHistory) RangeExtremes(ctx context.Context, symbol string, from, to time.Time) (PriceRange, error) {
	result, err := g.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return g.inner.RangeExtremes(ctx, symbol, from, to)
	})
	if err != nil {
		return PriceRange{}, err
	}
	return result.(PriceRange), nil
}

// GuardedModel wraps a Model adapter with a Guard.
type GuardedModel struct {
	inner Model
	guard *Guard
}

func NewGuardedModel(inner Model, cfg config.ProvidersConfig) *GuardedModel {
	return &GuardedModel{inner: inner, guard: NewGuard("model_inference", cfg)}
}

func (g *GuardedModel) Predict(ctx context.Context, symbol string, features map[string]float64) (float64, error) {
	result, err := g.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return g.inner.Predict(ctx, symbol, features)
	})
	if err != nil {
		return 0, err
	}
	return result.(float64), nil
}

// GuardedPrice wraps a CurrentPrice provider with a Guard.
type GuardedPrice struct {
	inner CurrentPrice
	guard *Guard
}

func NewGuardedPrice(inner CurrentPrice, cfg config.ProvidersConfig) *GuardedPrice {
	return &GuardedPrice{inner: inner, guard: NewGuard("current_price", cfg)}
}

func (g *GuardedPrice) Price(ctx context.Context, symbol string) (float64, error) {
	result, err := g.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return g.inner.Price(ctx, symbol)
	})
	if err != nil {
		return 0, err
	}
	return result.(float64), nil
}
