package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
)

// ReviewStore defines the interface for review data persistence: targets,
// their results, document caches and individual-document traces.
// Version: 1.0
type ReviewStore interface {
	// CreateReviewTarget saves a new review target.
	CreateReviewTarget(ctx context.Context, target *domain.ReviewTarget) error

	// GetReviewTarget retrieves a review target by ID.
	// Returns ErrReviewTargetNotFound if it does not exist.
	GetReviewTarget(ctx context.Context, id uuid.UUID) (*domain.ReviewTarget, error)

	// UpdateReviewTarget saves status, type and settings of an existing target.
	// Returns ErrReviewTargetNotFound if it does not exist.
	UpdateReviewTarget(ctx context.Context, target *domain.ReviewTarget) error

	// FindReviewTargetsBySpace lists the targets of a review space.
	FindReviewTargetsBySpace(ctx context.Context, reviewSpaceID uuid.UUID) ([]*domain.ReviewTarget, error)

	// FindReviewTargetsByStatus lists targets in status whose last update is
	// before updatedBefore, oldest first.
	FindReviewTargetsByStatus(
		ctx context.Context,
		status domain.ReviewStatus,
		updatedBefore time.Time,
	) ([]*domain.ReviewTarget, error)

	// DeleteReviewTarget removes a target together with its results, caches and traces.
	DeleteReviewTarget(ctx context.Context, id uuid.UUID) error

	// FindResults lists the current results of a target ordered by creation.
	FindResults(ctx context.Context, reviewTargetID uuid.UUID) ([]*domain.ReviewResult, error)

	// ReplaceResults atomically deletes the superseded results, inserts the new
	// ones and persists the target's status. Readers never observe a checklist
	// item with zero results because of a crash between delete and insert.
	ReplaceResults(
		ctx context.Context,
		target *domain.ReviewTarget,
		deleteIDs []uuid.UUID,
		results []*domain.ReviewResult,
	) error

	// SaveDocumentCaches persists document cache rows.
	SaveDocumentCaches(ctx context.Context, caches []*domain.ReviewDocumentCache) error

	// FindDocumentCaches lists the document caches of a target.
	FindDocumentCaches(ctx context.Context, reviewTargetID uuid.UUID) ([]*domain.ReviewDocumentCache, error)

	// SaveIndividualResults persists per-document findings of a large review.
	SaveIndividualResults(ctx context.Context, results []*domain.IndividualResult) error

	// FindIndividualResults lists the per-document findings of a target.
	FindIndividualResults(ctx context.Context, reviewTargetID uuid.UUID) ([]*domain.IndividualResult, error)
}

// ChecklistStore defines persistence for the live checklist of a review space.
type ChecklistStore interface {
	// FindBySpace lists checklist items of a review space in creation order.
	FindBySpace(ctx context.Context, reviewSpaceID uuid.UUID) ([]*domain.ChecklistItem, error)

	// CreateMultiple saves several checklist items at once.
	CreateMultiple(ctx context.Context, items []*domain.ChecklistItem) error
}

// SpaceStore exposes the project and review-space metadata needed for
// cascading deletes.
type SpaceStore interface {
	// FindSpaceIDsByProject lists the review spaces belonging to a project.
	FindSpaceIDsByProject(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error)

	// DeleteReviewSpace removes a review space and everything it owns.
	DeleteReviewSpace(ctx context.Context, reviewSpaceID uuid.UUID) error

	// DeleteProject removes a project and everything it owns.
	DeleteProject(ctx context.Context, projectID uuid.UUID) error
}
