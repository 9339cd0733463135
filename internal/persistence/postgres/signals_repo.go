package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/gheezy/signalengine/internal/domain"
	"github.com/gheezy/signalengine/internal/persistence"
)

const uniqueViolation = "23505"

// signalsRepo implements SignalStore for PostgreSQL
type signalsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSignalsRepo creates a new PostgreSQL signal repository
func NewSignalsRepo(db *sqlx.DB, timeout time.Duration) persistence.SignalStore {
	return &signalsRepo{
		db:      db,
		timeout: timeout,
	}
}

// Create inserts a new signal after checking that no unresolved signal for
// the same subject+symbol is still inside the maturity window. The check
// and insert run in one transaction; the partial unique index on pending
// rows backstops concurrent creators whose checks both saw nothing.
func (r *signalsRepo) Create(ctx context.Context, sig *domain.Signal, maturityWindow time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := sig.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}

	breakdownJSON, err := json.Marshal(sig.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdown: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Postgres rejects FOR UPDATE on aggregates, so lock the candidate
	// rows themselves and count what came back.
	rows, err := tx.QueryxContext(ctx, `
		SELECT id
		FROM signals
		WHERE subject_id = $1 AND symbol = $2 AND result = 'PENDING' AND created_at > $3
		FOR UPDATE`,
		sig.SubjectID, sig.Symbol, sig.CreatedAt.Add(-maturityWindow))
	if err != nil {
		return fmt.Errorf("failed to check for unresolved signal: %w", err)
	}
	var existing int
	for rows.Next() {
		existing++
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to check for unresolved signal: %w", err)
	}
	rows.Close()
	if existing > 0 {
		return fmt.Errorf("unresolved signal exists for subject %d symbol %s: %w",
			sig.SubjectID, sig.Symbol, persistence.ErrDuplicateSignal)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO signals (
			id, subject_id, symbol, created_at, direction,
			entry_price, target1_price, target2_price, stop_loss_price,
			confidence, tier, breakdown, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'PENDING')`,
		sig.ID, sig.SubjectID, sig.Symbol, sig.CreatedAt, sig.Direction,
		sig.EntryPrice, sig.Target1, sig.Target2, sig.StopLoss,
		sig.Confidence, sig.Tier, breakdownJSON)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return fmt.Errorf("concurrent duplicate for subject %d symbol %s: %w",
				sig.SubjectID, sig.Symbol, persistence.ErrDuplicateSignal)
		}
		return fmt.Errorf("failed to insert signal: %w", err)
	}

	sig.Result = domain.ResultPending
	return tx.Commit()
}

// ListPending retrieves unresolved signals for a subject, oldest first
// since those are most likely mature.
func (r *signalsRepo) ListPending(ctx context.Context, subjectID int64, symbol string) ([]domain.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, subject_id, symbol, created_at, direction,
		       entry_price, target1_price, target2_price, stop_loss_price,
		       confidence, tier, breakdown, result, exit_price, checked_at, degraded
		FROM signals
		WHERE subject_id = $1 AND result = 'PENDING'`
	args := []interface{}{subjectID}

	if symbol != "" {
		query += ` AND symbol = $2`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending signals: %w", err)
	}
	defer rows.Close()

	return r.scanSignals(rows)
}

// ResolveOutcome performs the atomic PENDING -> terminal transition. The
// conditional WHERE ensures at most one concurrent evaluator wins; losers
// get ErrAlreadyResolved and must treat it as a no-op.
func (r *signalsRepo) ResolveOutcome(ctx context.Context, id string, out persistence.Outcome) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := out.Validate(); err != nil {
		return fmt.Errorf("invalid outcome: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE signals
		SET result = $2, exit_price = $3, checked_at = $4, degraded = $5
		WHERE id = $1 AND result = 'PENDING'`,
		id, out.Result, out.ExitPrice, out.CheckedAt, out.Degraded)
	if err != nil {
		return fmt.Errorf("failed to resolve outcome: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowxContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM signals WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check signal existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("signal %s not found", id)
		}
		return persistence.ErrAlreadyResolved
	}
	return nil
}

// Get fetches one signal by ID.
func (r *signalsRepo) Get(ctx context.Context, id string) (*domain.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, subject_id, symbol, created_at, direction,
		       entry_price, target1_price, target2_price, stop_loss_price,
		       confidence, tier, breakdown, result, exit_price, checked_at, degraded
		FROM signals
		WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal: %w", err)
	}
	defer rows.Close()

	sigs, err := r.scanSignals(rows)
	if err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, sql.ErrNoRows
	}
	return &sigs[0], nil
}

// Stats aggregates outcome counts and realized PnL for a subject.
func (r *signalsRepo) Stats(ctx context.Context, subjectID int64, symbol string) (persistence.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stats persistence.Stats

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE result = 'WIN'),
			COUNT(*) FILTER (WHERE result = 'LOSS'),
			COUNT(*) FILTER (WHERE result = 'PENDING')
		FROM signals
		WHERE subject_id = $1`
	args := []interface{}{subjectID}
	if symbol != "" {
		query += ` AND symbol = $2`
		args = append(args, symbol)
	}

	err := r.db.QueryRowxContext(ctx, query, args...).
		Scan(&stats.Total, &stats.Wins, &stats.Losses, &stats.Pending)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate signal counts: %w", err)
	}

	if resolved := stats.Wins + stats.Losses; resolved > 0 {
		stats.WinRate = float64(stats.Wins) / float64(resolved) * 100
	}

	pnlQuery := `
		SELECT direction, entry_price, exit_price, result
		FROM signals
		WHERE subject_id = $1 AND result IN ('WIN', 'LOSS') AND exit_price IS NOT NULL`
	if symbol != "" {
		pnlQuery += ` AND symbol = $2`
	}

	rows, err := r.db.QueryxContext(ctx, pnlQuery, args...)
	if err != nil {
		return stats, fmt.Errorf("failed to query resolved signals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sig domain.Signal
		var exit float64
		if err := rows.Scan(&sig.Direction, &sig.EntryPrice, &exit, &sig.Result); err != nil {
			return stats, fmt.Errorf("failed to scan resolved signal: %w", err)
		}
		sig.ExitPrice = &exit
		stats.CumulativePnL += sig.PnLPercent()
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("error iterating resolved signals: %w", err)
	}

	return stats, nil
}

// PendingSubjects lists distinct subjects that still hold PENDING signals.
func (r *signalsRepo) PendingSubjects(ctx context.Context) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var subjects []int64
	err := r.db.SelectContext(ctx, &subjects, `
		SELECT DISTINCT subject_id
		FROM signals
		WHERE result = 'PENDING'
		ORDER BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending subjects: %w", err)
	}
	return subjects, nil
}

// Helper methods

func (r *signalsRepo) scanSignals(rows *sqlx.Rows) ([]domain.Signal, error) {
	var signals []domain.Signal

	for rows.Next() {
		var sig domain.Signal
		var breakdownJSON []byte
		var exitPrice sql.NullFloat64
		var checkedAt sql.NullTime

		err := rows.Scan(
			&sig.ID, &sig.SubjectID, &sig.Symbol, &sig.CreatedAt, &sig.Direction,
			&sig.EntryPrice, &sig.Target1, &sig.Target2, &sig.StopLoss,
			&sig.Confidence, &sig.Tier, &breakdownJSON,
			&sig.Result, &exitPrice, &checkedAt, &sig.Degraded)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}

		if len(breakdownJSON) > 0 {
			if err := json.Unmarshal(breakdownJSON, &sig.Breakdown); err != nil {
				return nil, fmt.Errorf("failed to unmarshal breakdown: %w", err)
			}
		}
		if exitPrice.Valid {
			sig.ExitPrice = &exitPrice.Float64
		}
		if checkedAt.Valid {
			sig.CheckedAt = &checkedAt.Time
		}

		signals = append(signals, sig)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return signals, nil
}
