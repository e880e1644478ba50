package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReviewStatus represents the lifecycle state of a review target.
type ReviewStatus string

// Possible review target status values
const (
	ReviewStatusPending   ReviewStatus = "pending"
	ReviewStatusQueued    ReviewStatus = "queued"
	ReviewStatusReviewing ReviewStatus = "reviewing"
	ReviewStatusCompleted ReviewStatus = "completed"
	ReviewStatusError     ReviewStatus = "error"
)

// allowedTransitions lists every legal move of the status machine.
// Anything not listed here is rejected.
var allowedTransitions = map[ReviewStatus][]ReviewStatus{
	ReviewStatusPending:   {ReviewStatusQueued, ReviewStatusReviewing, ReviewStatusError},
	ReviewStatusQueued:    {ReviewStatusReviewing, ReviewStatusError},
	ReviewStatusReviewing: {ReviewStatusCompleted, ReviewStatusError},
	ReviewStatusCompleted: {ReviewStatusQueued},
	ReviewStatusError:     {ReviewStatusQueued},
}

// IsValid reports whether s is a known status.
func (s ReviewStatus) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransitionTo reports whether the status machine allows moving from s to next.
func (s ReviewStatus) CanTransitionTo(next ReviewStatus) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ReviewType selects the review strategy.
type ReviewType string

// Review strategies
const (
	// ReviewTypeSmall evaluates all checklist items against the whole document set in one pass.
	ReviewTypeSmall ReviewType = "small"
	// ReviewTypeLarge reviews each document (or chunk) individually and consolidates.
	ReviewTypeLarge ReviewType = "large"
)

// IsValid reports whether t is a known review type.
func (t ReviewType) IsValid() bool {
	return t == ReviewTypeSmall || t == ReviewTypeLarge
}

// ParseReviewType converts a string into a ReviewType.
func ParseReviewType(s string) (ReviewType, error) {
	t := ReviewType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", NewError(CodeInvalidReviewType, fmt.Sprintf("unknown review type %q", s), ErrValidation)
	}
	return t, nil
}

// EvaluationCriterion is one allowed evaluation label and what it means.
type EvaluationCriterion struct {
	Label       string `json:"label" validate:"required"`
	Description string `json:"description"`
}

// DefaultEvaluationCriteria is used when a review does not configure its own labels.
func DefaultEvaluationCriteria() []EvaluationCriterion {
	return []EvaluationCriterion{
		{Label: "A", Description: "fully satisfies the checklist item"},
		{Label: "B", Description: "partially satisfies the checklist item"},
		{Label: "C", Description: "does not satisfy the checklist item"},
		{Label: "-", Description: "not applicable to the documents"},
	}
}

// ReviewSettings are the user-tunable knobs of a review run.
type ReviewSettings struct {
	AdditionalInstructions string                `json:"additional_instructions,omitempty"`
	ConcurrentReviewItems  int                   `json:"concurrent_review_items,omitempty" validate:"gte=0"`
	CommentFormat          string                `json:"comment_format,omitempty"`
	EvaluationCriteria     []EvaluationCriterion `json:"evaluation_criteria,omitempty" validate:"dive"`
}

// Criteria returns the configured evaluation criteria, or the defaults.
func (s ReviewSettings) Criteria() []EvaluationCriterion {
	if len(s.EvaluationCriteria) == 0 {
		return DefaultEvaluationCriteria()
	}
	return s.EvaluationCriteria
}

// IsAllowedEvaluation reports whether label is one of the configured criteria labels.
func (s ReviewSettings) IsAllowedEvaluation(label string) bool {
	for _, c := range s.Criteria() {
		if c.Label == label {
			return true
		}
	}
	return false
}

// ReviewTarget is the document set undergoing one checklist-based review run.
// Status changes go through the transition methods only; they enforce the
// status machine and cannot be bypassed by callers.
type ReviewTarget struct {
	ID             uuid.UUID      `json:"id"`
	ReviewSpaceID  uuid.UUID      `json:"review_space_id"`
	Name           string         `json:"name"`
	Status         ReviewStatus   `json:"status"`
	ReviewType     ReviewType     `json:"review_type"`
	ReviewSettings ReviewSettings `json:"review_settings"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewReviewTarget creates a pending review target.
func NewReviewTarget(
	reviewSpaceID uuid.UUID,
	name string,
	reviewType ReviewType,
	settings ReviewSettings,
) (*ReviewTarget, error) {
	now := time.Now().UTC()
	target := &ReviewTarget{
		ID:             uuid.New(),
		ReviewSpaceID:  reviewSpaceID,
		Name:           name,
		Status:         ReviewStatusPending,
		ReviewType:     reviewType,
		ReviewSettings: settings,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := target.Validate(); err != nil {
		return nil, err
	}
	return target, nil
}

// Validate checks if the ReviewTarget has valid data.
func (t *ReviewTarget) Validate() error {
	if t.ID == uuid.Nil {
		return NewValidationError("review target id", "cannot be empty", nil)
	}
	if t.ReviewSpaceID == uuid.Nil {
		return NewValidationError("review space id", "cannot be empty", nil)
	}
	if strings.TrimSpace(t.Name) == "" {
		return NewValidationError("review target name", "cannot be empty", nil)
	}
	if !t.Status.IsValid() {
		return NewValidationError("review target status", fmt.Sprintf("%q is unknown", t.Status), nil)
	}
	if !t.ReviewType.IsValid() {
		return NewError(CodeInvalidReviewType, fmt.Sprintf("unknown review type %q", t.ReviewType), ErrValidation)
	}
	return nil
}

// ToQueued moves a pending target into the queue, or re-queues a finished
// target for retry.
func (t *ReviewTarget) ToQueued() error {
	return t.transition(ReviewStatusQueued)
}

// StartReviewing marks the target as being reviewed. Legal from queued (the
// worker picked the task up) and from pending (direct synchronous execution).
func (t *ReviewTarget) StartReviewing() error {
	return t.transition(ReviewStatusReviewing)
}

// Complete marks a reviewing target as completed.
func (t *ReviewTarget) Complete() error {
	return t.transition(ReviewStatusCompleted)
}

// Fail marks the target as failed. Legal from pending, queued and reviewing.
func (t *ReviewTarget) Fail() error {
	return t.transition(ReviewStatusError)
}

// CanRetry reports whether the target is finished and may be re-queued.
func (t *ReviewTarget) CanRetry() bool {
	return t.Status == ReviewStatusCompleted || t.Status == ReviewStatusError
}

// PrepareForRetry re-queues a finished target. It returns a RETRY_NOT_ALLOWED
// error rather than an invalid-transition error so callers can tell the two apart.
func (t *ReviewTarget) PrepareForRetry() error {
	if !t.CanRetry() {
		return NewError(
			CodeRetryNotAllowed,
			fmt.Sprintf("review target %s is %s", t.ID, t.Status),
			ErrRetryNotAllowed,
		)
	}
	return t.ToQueued()
}

func (t *ReviewTarget) transition(next ReviewStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return NewError(
			CodeInvalidTransition,
			fmt.Sprintf("cannot move review target %s from %s to %s", t.ID, t.Status, next),
			ErrInvalidTransition,
		)
	}
	t.Status = next
	t.UpdatedAt = time.Now().UTC()
	return nil
}
