package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/store"
	"github.com/phrazzld/docreview-api/internal/task"
)

// StartReviewRequest asks for a fresh review of a pending target.
type StartReviewRequest struct {
	ReviewTargetID uuid.UUID
	UserID         uuid.UUID
	// APIKey is the raw model credential. Only its hash is persisted.
	APIKey string
	// ChecklistItems defaults to the live checklist of the target's space.
	ChecklistItems []domain.ChecklistSnapshot
	// ReviewType and ReviewSettings override the target's values when set.
	ReviewType     *domain.ReviewType
	ReviewSettings *domain.ReviewSettings
	Files          []task.Upload
	Priority       *int
}

// GenerateChecklistRequest asks the model to derive checklist items for a space.
type GenerateChecklistRequest struct {
	ReviewSpaceID uuid.UUID
	UserID        uuid.UUID
	APIKey        string
	Instructions  string
	Files         []task.Upload
	Priority      *int
}

// Submission reports the task created for a request.
type Submission struct {
	TaskID      uuid.UUID
	QueueLength int
}

// ReviewService queues reviews and checklist generation.
type ReviewService struct {
	reviews    store.ReviewStore
	checklists store.ChecklistStore
	queue      Enqueuer
	workers    WorkerStarter
	logger     *slog.Logger
}

// NewReviewService creates a ReviewService.
// It returns an error if any of the required dependencies are nil.
func NewReviewService(
	reviews store.ReviewStore,
	checklists store.ChecklistStore,
	queue Enqueuer,
	workers WorkerStarter,
	logger *slog.Logger,
) (*ReviewService, error) {
	if reviews == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "reviews cannot be nil"}
	}
	if checklists == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "checklists cannot be nil"}
	}
	if queue == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "queue cannot be nil"}
	}
	if workers == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "workers cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewService{
		reviews:    reviews,
		checklists: checklists,
		queue:      queue,
		workers:    workers,
		logger:     logger.With("component", "review_service"),
	}, nil
}

// StartReview queues a fresh review of a pending target and wakes the
// worker loop for its credential.
func (s *ReviewService) StartReview(ctx context.Context, req StartReviewRequest) (*Submission, error) {
	const op = "start_review"

	target, err := loadTarget(ctx, s.reviews, req.ReviewTargetID)
	if err != nil {
		return nil, NewServiceError(op, "failed to load review target", err)
	}
	// completed and error targets re-enter the queue through the retry planner only
	if target.Status != domain.ReviewStatusPending {
		return nil, domain.NewError(domain.CodeInvalidTransition,
			fmt.Sprintf("review target %s is %s, not pending", target.ID, target.Status), domain.ErrInvalidTransition)
	}
	if req.APIKey == "" {
		return nil, errAIConfigMissing()
	}
	if len(req.Files) == 0 {
		return nil, domain.NewError(domain.CodeFilesEmpty, "review requires at least one file", domain.ErrFilesEmpty)
	}

	items := req.ChecklistItems
	if len(items) == 0 {
		live, err := s.checklists.FindBySpace(ctx, target.ReviewSpaceID)
		if err != nil {
			return nil, NewServiceError(op, "failed to load checklist", err)
		}
		items = domain.SnapshotAll(live)
	}
	if len(items) == 0 {
		return nil, domain.NewError(domain.CodeChecklistEmpty, "review requires at least one checklist item", domain.ErrChecklistEmpty)
	}

	if req.ReviewType != nil {
		target.ReviewType = *req.ReviewType
	}
	if req.ReviewSettings != nil {
		target.ReviewSettings = *req.ReviewSettings
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}

	payload := &task.ReviewPayload{
		ReviewTargetID: target.ID,
		ReviewSpaceID:  target.ReviewSpaceID,
		UserID:         req.UserID,
		ChecklistItems: items,
		ReviewSettings: target.ReviewSettings,
		ReviewType:     target.ReviewType,
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if err := target.ToQueued(); err != nil {
		return nil, err
	}

	return enqueueForTarget(ctx, op, s.reviews, s.queue, s.workers, s.logger, target, task.EnqueueRequest{
		Type:     task.TaskTypeForReview(target.ReviewType),
		APIKey:   req.APIKey,
		Payload:  payload,
		Priority: req.Priority,
		Files:    req.Files,
	})
}

// GenerateChecklist queues a checklist generation task for a review space.
func (s *ReviewService) GenerateChecklist(ctx context.Context, req GenerateChecklistRequest) (*Submission, error) {
	const op = "generate_checklist"
	if req.APIKey == "" {
		return nil, errAIConfigMissing()
	}
	if len(req.Files) == 0 {
		return nil, domain.NewError(domain.CodeFilesEmpty, "checklist generation requires at least one file", domain.ErrFilesEmpty)
	}
	res, err := s.queue.Enqueue(ctx, task.EnqueueRequest{
		Type:   task.TaskTypeChecklistGeneration,
		APIKey: req.APIKey,
		Payload: &task.ChecklistGenerationPayload{
			ReviewSpaceID: req.ReviewSpaceID,
			UserID:        req.UserID,
			Instructions:  req.Instructions,
		},
		Priority: req.Priority,
		Files:    req.Files,
	})
	if err != nil {
		return nil, NewServiceError(op, "failed to enqueue task", err)
	}
	wakeWorkers(s.workers, s.logger, res.APIKeyHash)
	return &Submission{TaskID: res.TaskID, QueueLength: res.QueueLength}, nil
}

// enqueueForTarget persists the queued target before enqueueing, so a worker
// never sees the task ahead of the status change. A failed enqueue moves the
// target to error.
func enqueueForTarget(
	ctx context.Context,
	op string,
	reviews store.ReviewStore,
	queue Enqueuer,
	workers WorkerStarter,
	logger *slog.Logger,
	target *domain.ReviewTarget,
	req task.EnqueueRequest,
) (*Submission, error) {
	if err := reviews.UpdateReviewTarget(ctx, target); err != nil {
		return nil, NewServiceError(op, "failed to queue review target", err)
	}

	res, err := queue.Enqueue(ctx, req)
	if err != nil {
		logger.Error("failed to enqueue review task",
			"error", err,
			"review_target_id", target.ID)
		if ferr := target.Fail(); ferr == nil {
			if uerr := reviews.UpdateReviewTarget(ctx, target); uerr != nil {
				logger.Error("failed to mark review target as error",
					"error", uerr,
					"review_target_id", target.ID)
			}
		}
		return nil, NewServiceError(op, "failed to enqueue task", err)
	}

	logger.Info("review task queued",
		"task_id", res.TaskID,
		"review_target_id", target.ID,
		"api_key_hash", res.APIKeyHash,
		"queue_length", res.QueueLength)
	wakeWorkers(workers, logger, res.APIKeyHash)
	return &Submission{TaskID: res.TaskID, QueueLength: res.QueueLength}, nil
}

// wakeWorkers starts the loop for hash. The task is durable, so a failure
// here is logged and recovered by the periodic reconcile.
func wakeWorkers(workers WorkerStarter, logger *slog.Logger, hash string) {
	if err := workers.StartWorkersForAPIKeyHash(hash); err != nil {
		logger.Warn("failed to start worker loop",
			"error", err,
			"api_key_hash", hash)
	}
}

func loadTarget(ctx context.Context, reviews store.ReviewStore, id uuid.UUID) (*domain.ReviewTarget, error) {
	target, err := reviews.GetReviewTarget(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrReviewTargetNotFound) {
			return nil, domain.NewError(domain.CodeReviewTargetNotFound,
				fmt.Sprintf("review target %s not found", id), domain.ErrReviewTargetNotFound)
		}
		return nil, err
	}
	return target, nil
}

func errAIConfigMissing() error {
	return domain.NewError(domain.CodeAIConfigMissing, "no model credential supplied", domain.ErrAIConfigMissing)
}
