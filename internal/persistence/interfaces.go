package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gheezy/signalengine/internal/domain"
)

// ErrDuplicateSignal is returned when a create collides with an existing
// signal for the same identity tuple, or with an unresolved signal still
// inside the maturity window for the same subject and asset. The caller
// sees the conflict; nothing is merged or overwritten.
var ErrDuplicateSignal = errors.New("duplicate signal")

// ErrAlreadyResolved is returned when an outcome write finds the signal no
// longer PENDING. It signals a race that resolved correctly elsewhere, so
// callers treat it as a no-op, not a failure.
var ErrAlreadyResolved = errors.New("signal already resolved")

// TimeRange bounds historical queries.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Validate rejects empty or inverted ranges.
func (tr TimeRange) Validate() error {
	if tr.From.IsZero() || tr.To.IsZero() {
		return errors.New("time range bounds must be set")
	}
	if !tr.From.Before(tr.To) {
		return errors.New("time range start must precede end")
	}
	return nil
}

// Outcome is the terminal state an outcome check writes exactly once.
type Outcome struct {
	Result    domain.Result
	ExitPrice float64
	CheckedAt time.Time
	// Degraded marks results decided from a single current-price check
	// rather than the historical window extremes.
	Degraded bool
}

// Validate ensures the outcome is a well-formed terminal state; stores
// call this before touching a row.
func (o Outcome) Validate() error {
	if o.Result != domain.ResultWin && o.Result != domain.ResultLoss {
		return fmt.Errorf("outcome result must be terminal, got %q", o.Result)
	}
	if o.ExitPrice <= 0 {
		return errors.New("outcome exit price must be positive")
	}
	if o.CheckedAt.IsZero() {
		return errors.New("outcome checked time must be set")
	}
	return nil
}

// Stats aggregates a subject's signal history.
type Stats struct {
	Total   int64   `json:"total"`
	Wins    int64   `json:"wins"`
	Losses  int64   `json:"losses"`
	Pending int64   `json:"pending"`
	WinRate float64 `json:"win_rate"`
	// CumulativePnL sums realized percentage moves across resolved
	// signals.
	CumulativePnL float64 `json:"cumulative_pnl"`
}

// SignalStore persists trading decisions. Result, exit price and checked
// time are the only fields ever updated after insert.
type SignalStore interface {
	// Create persists a new signal. It fails with ErrDuplicateSignal if
	// the identity tuple exists or an unresolved signal for the same
	// subject+symbol is still inside the supplied maturity window.
	Create(ctx context.Context, sig *domain.Signal, maturityWindow time.Duration) error

	// ListPending returns PENDING signals for a subject, oldest first,
	// optionally filtered by symbol (empty string means all).
	ListPending(ctx context.Context, subjectID int64, symbol string) ([]domain.Signal, error)

	// ResolveOutcome performs the atomic PENDING -> WIN/LOSS transition:
	// a conditional update that only touches rows still PENDING. A lost
	// race returns ErrAlreadyResolved.
	ResolveOutcome(ctx context.Context, id string, out Outcome) error

	// Get fetches one signal by ID.
	Get(ctx context.Context, id string) (*domain.Signal, error)

	// Stats aggregates outcome counts and PnL for a subject, optionally
	// filtered by symbol.
	Stats(ctx context.Context, subjectID int64, symbol string) (Stats, error)

	// PendingSubjects lists the distinct subjects that still have PENDING
	// signals. Scheduled sweeps iterate this set.
	PendingSubjects(ctx context.Context) ([]int64, error)
}
