package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/task"
)

// Enqueuer submits tasks. task.QueueService implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req task.EnqueueRequest) (*task.EnqueueResult, error)
}

// WorkerStarter makes sure a worker loop serves a credential hash.
// task.WorkerManager implements it.
type WorkerStarter interface {
	StartWorkersForAPIKeyHash(hash string) error
}

// TaskRemover finds and removes the task bound to a review target.
// task.QueueService implements it.
type TaskRemover interface {
	FindTaskByReviewTarget(ctx context.Context, targetID uuid.UUID) (*task.AITask, error)
	RemoveTask(ctx context.Context, taskID uuid.UUID) error
}

// Canceller requests cooperative cancellation of an executing task.
// task.CancellationRegistry implements it.
type Canceller interface {
	Cancel(taskID uuid.UUID) bool
}

// BlobRemover deletes blob directories.
type BlobRemover interface {
	RemoveAll(ctx context.Context, path string) error
}

var (
	_ Enqueuer      = (*task.QueueService)(nil)
	_ WorkerStarter = (*task.WorkerManager)(nil)
	_ TaskRemover   = (*task.QueueService)(nil)
	_ Canceller     = (*task.CancellationRegistry)(nil)
)
