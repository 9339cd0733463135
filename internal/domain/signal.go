package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction is the directional call a signal makes.
type Direction string

const (
	DirectionLong     Direction = "LONG"
	DirectionShort    Direction = "SHORT"
	DirectionSideways Direction = "SIDEWAYS"
)

// Result tracks the verified outcome of a signal. A signal starts PENDING
// and transitions at most once to WIN or LOSS; the transition is never
// reversed.
type Result string

const (
	ResultPending Result = "PENDING"
	ResultWin     Result = "WIN"
	ResultLoss    Result = "LOSS"
)

// Signal is the persisted trading decision. Identity is the
// (SubjectID, Symbol, CreatedAt) tuple; the store enforces uniqueness on it.
// Result, ExitPrice, CheckedAt and Degraded are the only fields mutated
// after insert, and only by the outcome tracker.
type Signal struct {
	ID        uuid.UUID `db:"id"`
	SubjectID int64     `db:"subject_id"`
	Symbol    string    `db:"symbol"`
	CreatedAt time.Time `db:"created_at"`

	Direction  Direction `db:"direction"`
	EntryPrice float64   `db:"entry_price"`
	Target1    float64   `db:"target1_price"`
	Target2    float64   `db:"target2_price"`
	StopLoss   float64   `db:"stop_loss_price"`
	Confidence float64   `db:"confidence"`
	Tier       string    `db:"tier"`

	Breakdown ScoreBreakdown `db:"-"`

	Result    Result     `db:"result"`
	ExitPrice *float64   `db:"exit_price"`
	CheckedAt *time.Time `db:"checked_at"`
	// Degraded marks outcomes decided from a single current-price
	// comparison instead of the historical window extremes.
	Degraded bool `db:"degraded"`
}

// Validate rejects malformed price levels. Target/stop ordering against the
// entry is a hard error for directional signals; sideways signals carry a
// symmetric band around the entry instead.
func (s *Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal missing symbol")
	}
	for name, p := range map[string]float64{
		"entry_price":     s.EntryPrice,
		"target1_price":   s.Target1,
		"target2_price":   s.Target2,
		"stop_loss_price": s.StopLoss,
	} {
		if p <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, p)
		}
	}

	switch s.Direction {
	case DirectionLong:
		if !(s.StopLoss < s.EntryPrice && s.EntryPrice < s.Target1 && s.Target1 <= s.Target2) {
			return fmt.Errorf("long levels not monotonic: stop %.8f entry %.8f t1 %.8f t2 %.8f",
				s.StopLoss, s.EntryPrice, s.Target1, s.Target2)
		}
	case DirectionShort:
		if !(s.Target2 <= s.Target1 && s.Target1 < s.EntryPrice && s.EntryPrice < s.StopLoss) {
			return fmt.Errorf("short levels not monotonic: t2 %.8f t1 %.8f entry %.8f stop %.8f",
				s.Target2, s.Target1, s.EntryPrice, s.StopLoss)
		}
	case DirectionSideways:
		// band levels, no ordering constraint beyond positivity
	default:
		return fmt.Errorf("unknown direction %q", s.Direction)
	}

	if s.Confidence < 0 || s.Confidence > 100 {
		return fmt.Errorf("confidence %.2f outside [0,100]", s.Confidence)
	}
	return nil
}

// Age returns how long ago the signal was created.
func (s *Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Mature reports whether the signal is old enough to be evaluated against
// its maturity window.
func (s *Signal) Mature(now time.Time, window time.Duration) bool {
	return s.Age(now) >= window
}

// PnLPercent computes the realized percentage for a resolved signal.
// Sideways outcomes book a fixed +/-0.5% since no price target was traded.
func (s *Signal) PnLPercent() float64 {
	if s.Result == ResultPending || s.ExitPrice == nil {
		return 0
	}
	switch s.Direction {
	case DirectionLong:
		return (*s.ExitPrice - s.EntryPrice) / s.EntryPrice * 100
	case DirectionShort:
		return (s.EntryPrice - *s.ExitPrice) / s.EntryPrice * 100
	case DirectionSideways:
		if s.Result == ResultWin {
			return 0.5
		}
		return -0.5
	}
	return 0
}
