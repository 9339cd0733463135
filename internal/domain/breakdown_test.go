package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreBreakdown_AppendCopies(t *testing.T) {
	base := ScoreBreakdown{}.Append(StagePreConflict, 70, "")

	withConflict := base.Append(StagePostConflict, 35, "dampened")
	withOther := base.Append(StagePostConflict, -40, "flipped")

	// The shared prefix must not be aliased between the two extensions.
	assert.Len(t, base.Stages, 1)
	total, ok := withConflict.StageTotal(StagePostConflict)
	assert.True(t, ok)
	assert.Equal(t, 35.0, total)

	total, ok = withOther.StageTotal(StagePostConflict)
	assert.True(t, ok)
	assert.Equal(t, -40.0, total)
}

func TestScoreBreakdown_StageTotal(t *testing.T) {
	b := ScoreBreakdown{}.
		Append(StagePreConflict, 70, "").
		Append(StagePostConflict, 70, "").
		Append(StagePostCrossAsset, 100, "blended").
		Append(StagePostEnsemble, 83.3, "tier strong")

	total, ok := b.StageTotal(StagePostCrossAsset)
	assert.True(t, ok)
	assert.Equal(t, 100.0, total)

	_, ok = b.StageTotal("no_such_stage")
	assert.False(t, ok)
}
