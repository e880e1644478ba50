package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/review"
	"github.com/phrazzld/docreview-api/internal/store"
	"github.com/phrazzld/docreview-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBlobs struct{}

func (failingBlobs) RemoveAll(context.Context, string) error { return errors.New("permission denied") }

func startQueued(t *testing.T, h *harness, spaceID uuid.UUID) (*domain.ReviewTarget, uuid.UUID) {
	t.Helper()
	target := h.newTarget(t, spaceID)
	sub, err := h.reviews.StartReview(context.Background(), StartReviewRequest{
		ReviewTargetID: target.ID,
		APIKey:         testAPIKey,
		ChecklistItems: []domain.ChecklistSnapshot{{ID: uuid.New(), Content: "Has a title"}},
		Files:          []task.Upload{textUpload()},
	})
	require.NoError(t, err)
	return target, sub.TaskID
}

func TestCleanupService_DeleteReviewTarget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	target, taskID := startQueued(t, h, uuid.New())

	cachePath := review.CacheDir(target.ID) + "/c1"
	require.NoError(t, h.blobs.Write(ctx, cachePath, []byte("cached")))

	// Pretend a worker is executing the task.
	running, release := h.cancels.Register(ctx, taskID)
	defer release()

	res, err := h.cleanup.DeleteReviewTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.False(t, res.HasFailures())
	assert.NoError(t, res.Err())
	assert.Equal(t, 1, res.TargetsCleaned)
	assert.Equal(t, 1, res.TasksCancelled)
	assert.Equal(t, 1, res.TasksRemoved)

	assert.ErrorIs(t, running.Err(), context.Canceled)
	assert.Zero(t, h.tasks.Len())
	exists, err := h.blobs.Exists(ctx, taskID.String())
	require.NoError(t, err)
	assert.False(t, exists, "task files removed")
	exists, err = h.blobs.Exists(ctx, cachePath)
	require.NoError(t, err)
	assert.False(t, exists, "caches removed")

	_, err = h.store.GetReviewTarget(ctx, target.ID)
	assert.ErrorIs(t, err, store.ErrReviewTargetNotFound)
}

func TestCleanupService_SwallowsTeardownFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cleanup, err := NewCleanupService(h.store, h.store, h.queue, h.cancels, failingBlobs{}, review.CacheDir, logger.Discard())
	require.NoError(t, err)
	target := h.newTarget(t, uuid.New())

	res, err := cleanup.DeleteReviewTarget(ctx, target.ID)

	require.NoError(t, err)
	require.True(t, res.HasFailures())
	assert.Equal(t, "remove_cache", res.Failures[0].Step)
	assert.Equal(t, target.ID, res.Failures[0].ReviewTargetID)
	assert.ErrorContains(t, res.Err(), "permission denied")
	_, err = h.store.GetReviewTarget(ctx, target.ID)
	assert.ErrorIs(t, err, store.ErrReviewTargetNotFound)
}

func TestCleanupService_DeleteProject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	projectID := uuid.New()
	spaceA, spaceB := uuid.New(), uuid.New()
	h.store.AddSpace(projectID, spaceA)
	h.store.AddSpace(projectID, spaceB)

	targetA, _ := startQueued(t, h, spaceA)
	targetB, _ := startQueued(t, h, spaceB)
	idle := h.newTarget(t, spaceB)
	other, _ := startQueued(t, h, uuid.New())

	res, err := h.cleanup.DeleteProject(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TargetsCleaned)
	assert.Equal(t, 2, res.TasksRemoved)
	assert.Zero(t, res.TasksCancelled)

	for _, id := range []uuid.UUID{targetA.ID, targetB.ID, idle.ID} {
		_, err := h.store.GetReviewTarget(ctx, id)
		assert.ErrorIs(t, err, store.ErrReviewTargetNotFound)
	}
	assert.Equal(t, domain.ReviewStatusQueued, h.status(t, other.ID))
	assert.Equal(t, 1, h.tasks.Len())
}

func TestCleanupService_DeleteReviewSpace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	spaceID := uuid.New()
	h.store.AddSpace(uuid.New(), spaceID)
	target, _ := startQueued(t, h, spaceID)

	res, err := h.cleanup.DeleteReviewSpace(ctx, spaceID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TasksRemoved)

	_, err = h.store.GetReviewTarget(ctx, target.ID)
	assert.ErrorIs(t, err, store.ErrReviewTargetNotFound)
	assert.Zero(t, h.tasks.Len())
}
