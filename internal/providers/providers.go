// Package providers defines the contracts for the external collaborators
// the engine consumes: factor data arrives via the factors registry, and
// this package covers price history and model inference.
package providers

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a provider that could not answer: failed, timed
// out, or has no data. Callers absorb it as missing input, never as a
// pipeline abort.
var ErrUnavailable = errors.New("provider unavailable")

// PriceRange holds the price extremes observed over a window.
type PriceRange struct {
	Min float64 `json:"min_price"`
	Max float64 `json:"max_price"`
}

// HistoricalPrices answers range-extreme queries against price history.
type HistoricalPrices interface {
	RangeExtremes(ctx context.Context, symbol string, from, to time.Time) (PriceRange, error)
}

// CurrentPrice answers spot price queries. The engine derives entry levels
// from it; the tracker uses it for the degraded single-price check.
type CurrentPrice interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// Model is the statistical model's inference contract. Predict returns a
// confidence on [0,1] or ErrUnavailable when the model has no opinion.
type Model interface {
	Predict(ctx context.Context, symbol string, features map[string]float64) (float64, error)
}
