package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/store"
	"github.com/phrazzld/docreview-api/internal/task"
)

// DefaultStrandedAfter is how long a queued target may go without a bound
// task before the sweeper fails it.
const DefaultStrandedAfter = 10 * time.Minute

// TaskFinder looks up the live task bound to a review target.
// task.QueueService implements it.
type TaskFinder interface {
	FindTaskByReviewTarget(ctx context.Context, targetID uuid.UUID) (*task.AITask, error)
}

var _ TaskFinder = (*task.QueueService)(nil)

// StrandedSweeper moves queued targets whose task never reached the queue to
// error. A target is persisted queued before its task is enqueued, so a crash
// between the two writes leaves a target that neither a worker nor the retry
// planner would pick up.
type StrandedSweeper struct {
	reviews store.ReviewStore
	tasks   TaskFinder
	after   time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewStrandedSweeper creates a StrandedSweeper. after defaults to
// DefaultStrandedAfter when not positive.
func NewStrandedSweeper(
	reviews store.ReviewStore,
	tasks TaskFinder,
	after time.Duration,
	logger *slog.Logger,
) (*StrandedSweeper, error) {
	if reviews == nil || tasks == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "sweeper dependencies cannot be nil"}
	}
	if after <= 0 {
		after = DefaultStrandedAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StrandedSweeper{
		reviews: reviews,
		tasks:   tasks,
		after:   after,
		now:     time.Now,
		logger:  logger.With("component", "stranded_sweeper"),
	}, nil
}

// Sweep fails every stranded target and returns how many it moved.
func (s *StrandedSweeper) Sweep(ctx context.Context) (int, error) {
	const op = "sweep_stranded"

	candidates, err := s.reviews.FindReviewTargetsByStatus(ctx, domain.ReviewStatusQueued, s.now().Add(-s.after))
	if err != nil {
		return 0, NewServiceError(op, "failed to list queued targets", err)
	}

	swept := 0
	for _, c := range candidates {
		bound, err := s.tasks.FindTaskByReviewTarget(ctx, c.ID)
		if err != nil {
			return swept, NewServiceError(op, "failed to look up bound task", err)
		}
		if bound != nil {
			continue
		}
		// The task may have finished since the listing; its outcome wins.
		target, err := s.reviews.GetReviewTarget(ctx, c.ID)
		if err != nil {
			s.logger.Warn("stranded target vanished", "review_target_id", c.ID, "error", err)
			continue
		}
		if target.Status != domain.ReviewStatusQueued || !target.UpdatedAt.Equal(c.UpdatedAt) {
			continue
		}
		if err := target.Fail(); err != nil {
			return swept, err
		}
		if err := s.reviews.UpdateReviewTarget(ctx, target); err != nil {
			return swept, NewServiceError(op, "failed to mark stranded target as error", err)
		}
		s.logger.Warn("failed stranded review target",
			"review_target_id", target.ID,
			"queued_since", c.UpdatedAt)
		swept++
	}
	return swept, nil
}

// Run adapts Sweep to a scheduled job.
func (s *StrandedSweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}
