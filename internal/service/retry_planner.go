package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/store"
	"github.com/phrazzld/docreview-api/internal/task"
)

// RetryRequest asks to re-run part or all of a finished review.
type RetryRequest struct {
	ReviewTargetID uuid.UUID
	UserID         uuid.UUID
	APIKey         string
	Scope          task.RetryScope
	// ReviewType and ReviewSettings override the target's values when set.
	ReviewType     *domain.ReviewType
	ReviewSettings *domain.ReviewSettings
	// UseLatestChecklist re-reads the space checklist for scope "all"
	// instead of reusing the snapshots stored in the previous results.
	UseLatestChecklist bool
	Priority           *int
}

// RetryPlan is the outcome of a successful retry request.
type RetryPlan struct {
	Status     domain.ReviewStatus
	RetryItems int
	TaskID     uuid.UUID
}

// RetryPlanner turns a retry request into a queued retry task. Retries
// always reuse the cached document content of the first run.
type RetryPlanner struct {
	reviews    store.ReviewStore
	checklists store.ChecklistStore
	queue      Enqueuer
	workers    WorkerStarter
	logger     *slog.Logger
}

// NewRetryPlanner creates a RetryPlanner.
func NewRetryPlanner(
	reviews store.ReviewStore,
	checklists store.ChecklistStore,
	queue Enqueuer,
	workers WorkerStarter,
	logger *slog.Logger,
) (*RetryPlanner, error) {
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
	return &RetryPlanner{
		reviews:    reviews,
		checklists: checklists,
		queue:      queue,
		workers:    workers,
		logger:     logger.With("component", "retry_planner"),
	}, nil
}

// Plan validates the retry, selects the checklist items in scope, queues the
// retry task and moves the target to queued.
func (p *RetryPlanner) Plan(ctx context.Context, req RetryRequest) (*RetryPlan, error) {
	const op = "plan_retry"

	if !req.Scope.IsValid() {
		return nil, domain.NewError(domain.CodeInvalidRetryScope, "retry scope must be failed or all", domain.ErrValidation)
	}
	if req.APIKey == "" {
		return nil, errAIConfigMissing()
	}

	target, err := loadTarget(ctx, p.reviews, req.ReviewTargetID)
	if err != nil {
		return nil, NewServiceError(op, "failed to load review target", err)
	}
	if !target.CanRetry() {
		// Returns the RETRY_NOT_ALLOWED error.
		return nil, target.PrepareForRetry()
	}

	caches, err := p.reviews.FindDocumentCaches(ctx, target.ID)
	if err != nil {
		return nil, NewServiceError(op, "failed to load document caches", err)
	}
	if len(caches) == 0 {
		return nil, domain.NewError(domain.CodeRetryNoCache, "review target has no document cache to retry from", domain.ErrRetryNoCache)
	}

	results, err := p.reviews.FindResults(ctx, target.ID)
	if err != nil {
		return nil, NewServiceError(op, "failed to load review results", err)
	}
	items, supersede, err := p.scope(ctx, target, results, req)
	if err != nil {
		return nil, err
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
		ReviewTargetID:     target.ID,
		ReviewSpaceID:      target.ReviewSpaceID,
		UserID:             req.UserID,
		ChecklistItems:     items,
		ReviewSettings:     target.ReviewSettings,
		ReviewType:         target.ReviewType,
		IsRetry:            true,
		RetryScope:         req.Scope,
		ResultsToDeleteIDs: supersede,
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if err := target.PrepareForRetry(); err != nil {
		return nil, err
	}

	sub, err := enqueueForTarget(ctx, op, p.reviews, p.queue, p.workers, p.logger, target, task.EnqueueRequest{
		Type:     task.TaskTypeForReview(target.ReviewType),
		APIKey:   req.APIKey,
		Payload:  payload,
		Priority: req.Priority,
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("retry planned",
		"review_target_id", target.ID,
		"scope", req.Scope,
		"retry_items", len(items),
		"results_to_delete", len(supersede))
	return &RetryPlan{Status: target.Status, RetryItems: len(items), TaskID: sub.TaskID}, nil
}

// scope returns the checklist items to re-review and the results they
// supersede.
func (p *RetryPlanner) scope(
	ctx context.Context,
	target *domain.ReviewTarget,
	results []*domain.ReviewResult,
	req RetryRequest,
) ([]domain.ChecklistSnapshot, []uuid.UUID, error) {
	var (
		items     []domain.ChecklistSnapshot
		supersede []uuid.UUID
	)
	switch req.Scope {
	case task.RetryScopeFailed:
		for _, r := range results {
			if r.IsFailed() {
				items = append(items, r.Snapshot())
				supersede = append(supersede, r.ID)
			}
		}
		if len(items) == 0 {
			return nil, nil, domain.NewError(domain.CodeChecklistEmpty, "no failed checklist items to retry", domain.ErrChecklistEmpty)
		}

	case task.RetryScopeAll:
		for _, r := range results {
			supersede = append(supersede, r.ID)
		}
		if req.UseLatestChecklist {
			live, err := p.checklists.FindBySpace(ctx, target.ReviewSpaceID)
			if err != nil {
				return nil, nil, NewServiceError("plan_retry", "failed to load checklist", err)
			}
			items = domain.SnapshotAll(live)
		} else {
			seen := make(map[uuid.UUID]bool, len(results))
			for _, r := range results {
				if !seen[r.CheckListItemID] {
					seen[r.CheckListItemID] = true
					items = append(items, r.Snapshot())
				}
			}
		}
		if len(items) == 0 {
			return nil, nil, domain.NewError(domain.CodeChecklistEmpty, "no checklist items to retry", domain.ErrChecklistEmpty)
		}
	}
	return items, supersede, nil
}
