package task

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
)

var validate = validator.New()

// Payload is the task-type specific data of an AITask. Each task type has
// exactly one payload shape; payloads are decoded once when a row is loaded.
type Payload interface {
	TaskType() TaskType
	Validate() error
}

// RetryScope selects which checklist items a retry re-runs.
type RetryScope string

// Retry scopes
const (
	RetryScopeFailed RetryScope = "failed"
	RetryScopeAll    RetryScope = "all"
)

// IsValid reports whether s is a known retry scope.
func (s RetryScope) IsValid() bool {
	return s == RetryScopeFailed || s == RetryScopeAll
}

// ReviewPayload drives the review execution engine for both small and large
// reviews. Checklist items are snapshots, never live references.
type ReviewPayload struct {
	ReviewTargetID     uuid.UUID                  `json:"review_target_id" validate:"required"`
	ReviewSpaceID      uuid.UUID                  `json:"review_space_id" validate:"required"`
	UserID             uuid.UUID                  `json:"user_id"`
	ChecklistItems     []domain.ChecklistSnapshot `json:"checklist_items" validate:"dive"`
	ReviewSettings     domain.ReviewSettings      `json:"review_settings"`
	ReviewType         domain.ReviewType          `json:"review_type" validate:"required,oneof=small large"`
	IsRetry            bool                       `json:"is_retry"`
	RetryScope         RetryScope                 `json:"retry_scope,omitempty" validate:"omitempty,oneof=failed all"`
	ResultsToDeleteIDs []uuid.UUID                `json:"results_to_delete_ids,omitempty"`
}

// TaskType implements Payload.
func (p *ReviewPayload) TaskType() TaskType {
	return TaskTypeForReview(p.ReviewType)
}

// Validate implements Payload. An empty checklist is rejected with
// CHECKLIST_EMPTY before anything is persisted.
func (p *ReviewPayload) Validate() error {
	if len(p.ChecklistItems) == 0 {
		return domain.NewError(domain.CodeChecklistEmpty, "review requires at least one checklist item", domain.ErrChecklistEmpty)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.IsRetry && !p.RetryScope.IsValid() {
		return domain.NewError(domain.CodeInvalidRetryScope, "retry requires a retry scope", domain.ErrValidation)
	}
	return nil
}

// ChecklistGenerationPayload asks the model to derive checklist items for a
// review space from the attached documents.
type ChecklistGenerationPayload struct {
	ReviewSpaceID uuid.UUID `json:"review_space_id" validate:"required"`
	UserID        uuid.UUID `json:"user_id"`
	Instructions  string    `json:"instructions,omitempty" validate:"max=4000"`
}

// TaskType implements Payload.
func (p *ChecklistGenerationPayload) TaskType() TaskType {
	return TaskTypeChecklistGeneration
}

// Validate implements Payload.
func (p *ChecklistGenerationPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// EncodePayload serializes a payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	return json.Marshal(p)
}

// DecodePayload turns a stored payload into the shape selected by taskType.
func DecodePayload(taskType TaskType, raw []byte) (Payload, error) {
	var p Payload
	switch taskType {
	case TaskTypeSmallReview, TaskTypeLargeReview:
		p = &ReviewPayload{}
	case TaskTypeChecklistGeneration:
		p = &ChecklistGenerationPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}
