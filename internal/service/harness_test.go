package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/credential"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/platform/blob"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/review"
	"github.com/phrazzld/docreview-api/internal/store/memory"
	"github.com/phrazzld/docreview-api/internal/task"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-key"

var testHash = credential.Hash(testAPIKey)

type recordingWorkers struct {
	mu     sync.Mutex
	hashes []string
}

func (w *recordingWorkers) StartWorkersForAPIKeyHash(hash string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hashes = append(w.hashes, hash)
	return nil
}

func (w *recordingWorkers) started() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.hashes...)
}

type harness struct {
	store   *memory.Store
	tasks   *task.MemoryTaskStore
	blobs   *blob.Store
	queue   *task.QueueService
	workers *recordingWorkers
	cancels *task.CancellationRegistry

	reviews *ReviewService
	retries *RetryPlanner
	cleanup *CleanupService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   memory.New(),
		tasks:   task.NewMemoryTaskStore(),
		blobs:   blob.NewMemStore(),
		workers: &recordingWorkers{},
		cancels: task.NewCancellationRegistry(),
	}
	var err error
	h.queue, err = task.NewQueueService(h.tasks, h.blobs, 0, logger.Discard())
	require.NoError(t, err)
	h.reviews, err = NewReviewService(h.store, h.store, h.queue, h.workers, logger.Discard())
	require.NoError(t, err)
	h.retries, err = NewRetryPlanner(h.store, h.store, h.queue, h.workers, logger.Discard())
	require.NoError(t, err)
	h.cleanup, err = NewCleanupService(h.store, h.store, h.queue, h.cancels, h.blobs, review.CacheDir, logger.Discard())
	require.NoError(t, err)
	return h
}

func (h *harness) newTarget(t *testing.T, spaceID uuid.UUID) *domain.ReviewTarget {
	t.Helper()
	target, err := domain.NewReviewTarget(spaceID, "contract", domain.ReviewTypeSmall, domain.ReviewSettings{})
	require.NoError(t, err)
	require.NoError(t, h.store.CreateReviewTarget(context.Background(), target))
	return target
}

func (h *harness) addChecklist(t *testing.T, spaceID uuid.UUID, contents ...string) []domain.ChecklistSnapshot {
	t.Helper()
	items := make([]*domain.ChecklistItem, 0, len(contents))
	for i, c := range contents {
		it, err := domain.NewChecklistItem(spaceID, c)
		require.NoError(t, err)
		it.CreatedAt = it.CreatedAt.Add(time.Duration(i) * time.Millisecond)
		items = append(items, it)
	}
	require.NoError(t, h.store.CreateMultiple(context.Background(), items))
	return domain.SnapshotAll(items)
}

// finishedTarget stores a completed target with one result per item. Items
// listed in failed get error results. A document cache is recorded unless
// withCache is false.
func (h *harness) finishedTarget(t *testing.T, items []domain.ChecklistSnapshot, failed map[int]bool, withCache bool) (*domain.ReviewTarget, []*domain.ReviewResult) {
	t.Helper()
	ctx := context.Background()
	target := h.newTarget(t, uuid.New())
	require.NoError(t, target.ToQueued())
	require.NoError(t, target.StartReviewing())
	require.NoError(t, target.Complete())

	results := make([]*domain.ReviewResult, 0, len(items))
	for i, it := range items {
		if failed[i] {
			results = append(results, domain.NewErrorResult(target.ID, it, "model timeout"))
		} else {
			results = append(results, domain.NewSuccessResult(target.ID, it, "A", "fine"))
		}
	}
	require.NoError(t, h.store.ReplaceResults(ctx, target, nil, results))

	if withCache {
		c := &domain.ReviewDocumentCache{
			ID:             uuid.New(),
			ReviewTargetID: target.ID,
			FileName:       "contract.txt",
			ProcessMode:    domain.ProcessModeText,
			CreatedAt:      time.Now().UTC(),
		}
		c.CachePath = review.CacheDir(target.ID) + "/" + c.ID.String()
		require.NoError(t, h.blobs.Write(ctx, c.CachePath, []byte("Cached contract text.\n")))
		require.NoError(t, h.store.SaveDocumentCaches(ctx, []*domain.ReviewDocumentCache{c}))
	}
	return target, results
}

func (h *harness) status(t *testing.T, id uuid.UUID) domain.ReviewStatus {
	t.Helper()
	target, err := h.store.GetReviewTarget(context.Background(), id)
	require.NoError(t, err)
	return target.Status
}

func textUpload() task.Upload {
	return task.Upload{FileName: "contract.txt", ProcessMode: domain.ProcessModeText, Data: []byte("Service agreement.\n")}
}
