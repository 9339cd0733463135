package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id              UUID PRIMARY KEY,
	subject_id      BIGINT NOT NULL,
	symbol          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	direction       TEXT NOT NULL,
	entry_price     DOUBLE PRECISION NOT NULL,
	target1_price   DOUBLE PRECISION NOT NULL,
	target2_price   DOUBLE PRECISION NOT NULL,
	stop_loss_price DOUBLE PRECISION NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	tier            TEXT NOT NULL,
	breakdown       JSONB,
	result          TEXT NOT NULL DEFAULT 'PENDING',
	exit_price      DOUBLE PRECISION,
	checked_at      TIMESTAMPTZ,
	degraded        BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (subject_id, symbol, created_at)
);

-- At most one unresolved signal per subject+symbol; concurrent creators
-- that both pass the in-transaction check collide here instead.
CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_pending
	ON signals (subject_id, symbol)
	WHERE result = 'PENDING';
`

// EnsureSchema creates the signals table and indexes if missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Connect opens and pings a postgres connection.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}
