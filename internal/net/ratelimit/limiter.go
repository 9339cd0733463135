// Package ratelimit provides per-provider request throttling using a token
// bucket per named provider.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per provider name so a chatty
// provider cannot starve the others.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a limiter with the given per-provider RPS and burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) get(provider string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[provider]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists := l.limiters[provider]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[provider] = limiter
	return limiter
}

// Allow reports whether a request for the provider may proceed now.
func (l *Limiter) Allow(provider string) bool {
	return l.get(provider).Allow()
}

// Wait blocks until a request for the provider is allowed or the context
// is cancelled.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	return l.get(provider).Wait(ctx)
}

// SetRPS updates the request rate for all existing buckets.
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps = rps
	for _, limiter := range l.limiters {
		limiter.SetLimit(rate.Limit(rps))
	}
}
