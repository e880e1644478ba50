package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReviewResult is the outcome for one checklist item in one review run.
// A result is either a success (Evaluation and Comment set) or a failure
// (ErrorMessage set), never both and never neither.
type ReviewResult struct {
	ID                   uuid.UUID `json:"id"`
	ReviewTargetID       uuid.UUID `json:"review_target_id"`
	CheckListItemID      uuid.UUID `json:"check_list_item_id"`
	CheckListItemContent string    `json:"check_list_item_content"`
	Evaluation           *string   `json:"evaluation,omitempty"`
	Comment              *string   `json:"comment,omitempty"`
	ErrorMessage         *string   `json:"error_message,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NewSuccessResult creates a successful result for a checklist item snapshot.
func NewSuccessResult(targetID uuid.UUID, item ChecklistSnapshot, evaluation, comment string) *ReviewResult {
	r := newResult(targetID, item)
	r.Evaluation = &evaluation
	r.Comment = &comment
	return r
}

// NewErrorResult creates a failed result for a checklist item snapshot.
func NewErrorResult(targetID uuid.UUID, item ChecklistSnapshot, message string) *ReviewResult {
	if message == "" {
		message = "review failed"
	}
	r := newResult(targetID, item)
	r.ErrorMessage = &message
	return r
}

func newResult(targetID uuid.UUID, item ChecklistSnapshot) *ReviewResult {
	now := time.Now().UTC()
	return &ReviewResult{
		ID:                   uuid.New(),
		ReviewTargetID:       targetID,
		CheckListItemID:      item.ID,
		CheckListItemContent: item.Content,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// IsFailed reports whether the result carries an error message.
func (r *ReviewResult) IsFailed() bool {
	return r.ErrorMessage != nil
}

// Snapshot returns the checklist snapshot this result was produced for.
func (r *ReviewResult) Snapshot() ChecklistSnapshot {
	return ChecklistSnapshot{ID: r.CheckListItemID, Content: r.CheckListItemContent}
}

// Validate enforces the success/failure exclusivity of a result.
func (r *ReviewResult) Validate() error {
	if r.ReviewTargetID == uuid.Nil {
		return NewValidationError("review target id", "cannot be empty", nil)
	}
	if r.CheckListItemID == uuid.Nil {
		return NewValidationError("checklist item id", "cannot be empty", nil)
	}
	success := r.Evaluation != nil && r.Comment != nil
	partial := r.Evaluation != nil || r.Comment != nil
	switch {
	case r.ErrorMessage != nil && partial:
		return NewValidationError("review result", "cannot carry both an error and an evaluation", nil)
	case r.ErrorMessage == nil && !success:
		return NewValidationError("review result", "must carry either an error or an evaluation and comment", nil)
	}
	return nil
}

// IndividualResult is the per-document finding of a large review, kept as an
// audit trace and as input to consolidation. It never carries an evaluation.
type IndividualResult struct {
	ID              uuid.UUID `json:"id"`
	ReviewTargetID  uuid.UUID `json:"review_target_id"`
	CheckListItemID uuid.UUID `json:"check_list_item_id"`
	DocumentName    string    `json:"document_name"`
	Comment         string    `json:"comment,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsFailed reports whether the individual review for this document failed.
func (r *IndividualResult) IsFailed() bool {
	return r.ErrorMessage != ""
}
