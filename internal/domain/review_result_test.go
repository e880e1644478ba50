package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestReviewResult_Validate(t *testing.T) {
	t.Parallel()

	targetID := uuid.New()
	item := ChecklistSnapshot{ID: uuid.New(), Content: "Has a signature page"}

	success := NewSuccessResult(targetID, item, "A", "Signed on page 4")
	assert.NoError(t, success.Validate())
	assert.False(t, success.IsFailed())
	assert.Equal(t, item, success.Snapshot())

	failure := NewErrorResult(targetID, item, "model timeout")
	assert.NoError(t, failure.Validate())
	assert.True(t, failure.IsFailed())

	both := NewErrorResult(targetID, item, "model timeout")
	label := "A"
	both.Evaluation = &label
	assert.ErrorIs(t, both.Validate(), ErrValidation)

	neither := NewSuccessResult(targetID, item, "A", "ok")
	neither.Evaluation = nil
	neither.Comment = nil
	assert.ErrorIs(t, neither.Validate(), ErrValidation)
}

func TestNewErrorResult_DefaultMessage(t *testing.T) {
	t.Parallel()

	r := NewErrorResult(uuid.New(), ChecklistSnapshot{ID: uuid.New(), Content: "x"}, "")
	if assert.NotNil(t, r.ErrorMessage) {
		assert.Equal(t, "review failed", *r.ErrorMessage)
	}
}

func TestSnapshotAll(t *testing.T) {
	t.Parallel()

	spaceID := uuid.New()
	a, err := NewChecklistItem(spaceID, "first")
	assert.NoError(t, err)
	b, err := NewChecklistItem(spaceID, "second")
	assert.NoError(t, err)

	snaps := SnapshotAll([]*ChecklistItem{a, b})
	assert.Equal(t, []ChecklistSnapshot{{ID: a.ID, Content: "first"}, {ID: b.ID, Content: "second"}}, snaps)

	_, err = NewChecklistItem(spaceID, "")
	assert.ErrorIs(t, err, ErrValidation)
}
