package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTarget(t *testing.T, status ReviewStatus) *ReviewTarget {
	t.Helper()
	target, err := NewReviewTarget(uuid.New(), "contract bundle", ReviewTypeSmall, ReviewSettings{})
	require.NoError(t, err)
	target.Status = status
	return target
}

func TestNewReviewTarget(t *testing.T) {
	t.Parallel()

	t.Run("valid target starts pending", func(t *testing.T) {
		t.Parallel()
		target, err := NewReviewTarget(uuid.New(), "spec.pdf", ReviewTypeLarge, ReviewSettings{})
		require.NoError(t, err)
		assert.Equal(t, ReviewStatusPending, target.Status)
		assert.NotEqual(t, uuid.Nil, target.ID)
		assert.False(t, target.CreatedAt.IsZero())
	})

	t.Run("empty name", func(t *testing.T) {
		t.Parallel()
		_, err := NewReviewTarget(uuid.New(), "  ", ReviewTypeSmall, ReviewSettings{})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown review type", func(t *testing.T) {
		t.Parallel()
		_, err := NewReviewTarget(uuid.New(), "doc", ReviewType("medium"), ReviewSettings{})
		assert.Equal(t, CodeInvalidReviewType, CodeOf(err))
	})
}

func TestReviewTarget_Transitions(t *testing.T) {
	t.Parallel()

	type step func(*ReviewTarget) error

	toQueued := func(rt *ReviewTarget) error { return rt.ToQueued() }
	toReviewing := func(rt *ReviewTarget) error { return rt.StartReviewing() }
	toCompleted := func(rt *ReviewTarget) error { return rt.Complete() }
	toError := func(rt *ReviewTarget) error { return rt.Fail() }

	tests := []struct {
		name    string
		from    ReviewStatus
		do      step
		want    ReviewStatus
		allowed bool
	}{
		{"pending to queued", ReviewStatusPending, toQueued, ReviewStatusQueued, true},
		{"pending to reviewing", ReviewStatusPending, toReviewing, ReviewStatusReviewing, true},
		{"pending to error", ReviewStatusPending, toError, ReviewStatusError, true},
		{"pending to completed", ReviewStatusPending, toCompleted, ReviewStatusPending, false},
		{"queued to reviewing", ReviewStatusQueued, toReviewing, ReviewStatusReviewing, true},
		{"queued to error", ReviewStatusQueued, toError, ReviewStatusError, true},
		{"queued to queued", ReviewStatusQueued, toQueued, ReviewStatusQueued, false},
		{"queued to completed", ReviewStatusQueued, toCompleted, ReviewStatusQueued, false},
		{"reviewing to completed", ReviewStatusReviewing, toCompleted, ReviewStatusCompleted, true},
		{"reviewing to error", ReviewStatusReviewing, toError, ReviewStatusError, true},
		{"reviewing to queued", ReviewStatusReviewing, toQueued, ReviewStatusReviewing, false},
		{"completed to queued", ReviewStatusCompleted, toQueued, ReviewStatusQueued, true},
		{"completed to reviewing", ReviewStatusCompleted, toReviewing, ReviewStatusCompleted, false},
		{"completed to error", ReviewStatusCompleted, toError, ReviewStatusCompleted, false},
		{"error to queued", ReviewStatusError, toQueued, ReviewStatusQueued, true},
		{"error to completed", ReviewStatusError, toCompleted, ReviewStatusError, false},
		{"error to reviewing", ReviewStatusError, toReviewing, ReviewStatusError, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			target := newTestTarget(t, tc.from)

			err := tc.do(target)
			if tc.allowed {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				assert.Equal(t, CodeInvalidTransition, CodeOf(err))
			}
			assert.Equal(t, tc.want, target.Status)
		})
	}
}

func TestReviewTarget_PrepareForRetry(t *testing.T) {
	t.Parallel()

	for _, status := range []ReviewStatus{ReviewStatusCompleted, ReviewStatusError} {
		target := newTestTarget(t, status)
		assert.True(t, target.CanRetry())
		require.NoError(t, target.PrepareForRetry())
		assert.Equal(t, ReviewStatusQueued, target.Status)
	}

	for _, status := range []ReviewStatus{ReviewStatusPending, ReviewStatusQueued, ReviewStatusReviewing} {
		target := newTestTarget(t, status)
		assert.False(t, target.CanRetry())
		err := target.PrepareForRetry()
		assert.ErrorIs(t, err, ErrRetryNotAllowed)
		assert.Equal(t, CodeRetryNotAllowed, CodeOf(err))
		assert.Equal(t, status, target.Status)
	}
}

func TestReviewSettings_Criteria(t *testing.T) {
	t.Parallel()

	var settings ReviewSettings
	assert.True(t, settings.IsAllowedEvaluation("A"))
	assert.False(t, settings.IsAllowedEvaluation("PASS"))

	settings.EvaluationCriteria = []EvaluationCriterion{{Label: "PASS"}, {Label: "FAIL"}}
	assert.True(t, settings.IsAllowedEvaluation("PASS"))
	assert.False(t, settings.IsAllowedEvaluation("A"))
}

func TestParseReviewType(t *testing.T) {
	t.Parallel()

	rt, err := ParseReviewType(" Large ")
	require.NoError(t, err)
	assert.Equal(t, ReviewTypeLarge, rt)

	_, err = ParseReviewType("huge")
	assert.ErrorIs(t, err, ErrValidation)
}
