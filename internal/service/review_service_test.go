package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReviewService_Validation(t *testing.T) {
	h := newHarness(t)
	_, err := NewReviewService(nil, h.store, h.queue, h.workers, nil)
	assert.Error(t, err)
	_, err = NewReviewService(h.store, h.store, nil, h.workers, nil)
	assert.Error(t, err)
	_, err = NewReviewService(h.store, h.store, h.queue, nil, nil)
	assert.Error(t, err)
}

func TestReviewService_StartReview(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	spaceID := uuid.New()
	items := h.addChecklist(t, spaceID, "Has a title", "Names both parties")
	target := h.newTarget(t, spaceID)
	large := domain.ReviewTypeLarge

	sub, err := h.reviews.StartReview(ctx, StartReviewRequest{
		ReviewTargetID: target.ID,
		UserID:         uuid.New(),
		APIKey:         testAPIKey,
		ReviewType:     &large,
		Files:          []task.Upload{textUpload()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sub.QueueLength)

	assert.Equal(t, domain.ReviewStatusQueued, h.status(t, target.ID))
	assert.Equal(t, []string{testHash}, h.workers.started())

	queued, err := h.tasks.Get(ctx, sub.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.TaskTypeLargeReview, queued.Type)
	assert.Equal(t, testHash, queued.APIKeyHash)
	require.Len(t, queued.Files, 1)
	p := queued.Payload.(*task.ReviewPayload)
	assert.Equal(t, items, p.ChecklistItems)
	assert.False(t, p.IsRetry)
}

func TestReviewService_StartReviewRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		prepare  func(t *testing.T, h *harness) StartReviewRequest
		wantCode domain.Code
	}{
		{
			name: "unknown target",
			prepare: func(t *testing.T, h *harness) StartReviewRequest {
				return StartReviewRequest{ReviewTargetID: uuid.New(), APIKey: testAPIKey, Files: []task.Upload{textUpload()}}
			},
			wantCode: domain.CodeReviewTargetNotFound,
		},
		{
			name: "no files",
			prepare: func(t *testing.T, h *harness) StartReviewRequest {
				target := h.newTarget(t, uuid.New())
				return StartReviewRequest{ReviewTargetID: target.ID, APIKey: testAPIKey}
			},
			wantCode: domain.CodeFilesEmpty,
		},
		{
			name: "empty checklist",
			prepare: func(t *testing.T, h *harness) StartReviewRequest {
				target := h.newTarget(t, uuid.New())
				return StartReviewRequest{ReviewTargetID: target.ID, APIKey: testAPIKey, Files: []task.Upload{textUpload()}}
			},
			wantCode: domain.CodeChecklistEmpty,
		},
		{
			name: "no credential",
			prepare: func(t *testing.T, h *harness) StartReviewRequest {
				target := h.newTarget(t, uuid.New())
				return StartReviewRequest{ReviewTargetID: target.ID, Files: []task.Upload{textUpload()}}
			},
			wantCode: domain.CodeAIConfigMissing,
		},
		{
			name: "target already finished",
			prepare: func(t *testing.T, h *harness) StartReviewRequest {
				items := []domain.ChecklistSnapshot{{ID: uuid.New(), Content: "x"}}
				target, _ := h.finishedTarget(t, items, nil, true)
				return StartReviewRequest{
					ReviewTargetID: target.ID,
					APIKey:         testAPIKey,
					ChecklistItems: items,
					Files:          []task.Upload{textUpload()},
				}
			},
			wantCode: domain.CodeInvalidTransition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.reviews.StartReview(ctx, tt.prepare(t, h))
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.CodeOf(err))
			assert.Zero(t, h.tasks.Len(), "nothing may be enqueued")
			assert.Empty(t, h.workers.started())
		})
	}
}

func TestReviewService_StartReviewEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.tasks.SaveFn = func(context.Context, *task.AITask) error { return errors.New("disk full") }
	target := h.newTarget(t, uuid.New())

	_, err := h.reviews.StartReview(ctx, StartReviewRequest{
		ReviewTargetID: target.ID,
		APIKey:         testAPIKey,
		ChecklistItems: []domain.ChecklistSnapshot{{ID: uuid.New(), Content: "x"}},
		Files:          []task.Upload{textUpload()},
	})

	var se *ServiceError
	require.ErrorAs(t, err, &se)
	var ee *task.EnqueueError
	assert.ErrorAs(t, err, &ee)
	assert.Equal(t, domain.ReviewStatusError, h.status(t, target.ID))
	assert.Empty(t, h.workers.started())
}

func TestReviewService_GenerateChecklist(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	spaceID := uuid.New()

	sub, err := h.reviews.GenerateChecklist(ctx, GenerateChecklistRequest{
		ReviewSpaceID: spaceID,
		APIKey:        testAPIKey,
		Instructions:  "focus on payment terms",
		Files:         []task.Upload{textUpload()},
	})
	require.NoError(t, err)

	queued, err := h.tasks.Get(ctx, sub.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.TaskTypeChecklistGeneration, queued.Type)
	assert.Nil(t, queued.ReviewTargetID)
	assert.Equal(t, spaceID, queued.Payload.(*task.ChecklistGenerationPayload).ReviewSpaceID)
	assert.Equal(t, []string{testHash}, h.workers.started())

	_, err = h.reviews.GenerateChecklist(ctx, GenerateChecklistRequest{ReviewSpaceID: spaceID, APIKey: testAPIKey})
	assert.Equal(t, domain.CodeFilesEmpty, domain.CodeOf(err))
}
