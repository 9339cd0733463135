package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two concurrent creators with different created_at values both pass the
// in-transaction check, so the pending index must be UNIQUE on
// (subject_id, symbol) to make one of them collide.
func TestSchema_PendingIndexIsUniquePerSubjectSymbol(t *testing.T) {
	idx := strings.Index(schema, "CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_pending")
	require.GreaterOrEqual(t, idx, 0, "pending index must be unique")

	stmt := schema[idx:]
	stmt = stmt[:strings.Index(stmt, ";")]
	assert.Contains(t, stmt, "(subject_id, symbol)")
	assert.Contains(t, stmt, "WHERE result = 'PENDING'")
}
