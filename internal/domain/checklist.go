package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChecklistItem is a live checklist row belonging to a review space.
type ChecklistItem struct {
	ID            uuid.UUID `json:"id"`
	ReviewSpaceID uuid.UUID `json:"review_space_id"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewChecklistItem creates a checklist item for a review space.
func NewChecklistItem(reviewSpaceID uuid.UUID, content string) (*ChecklistItem, error) {
	if reviewSpaceID == uuid.Nil {
		return nil, NewValidationError("review space id", "cannot be empty", nil)
	}
	if strings.TrimSpace(content) == "" {
		return nil, NewValidationError("checklist item content", "cannot be empty", nil)
	}
	now := time.Now().UTC()
	return &ChecklistItem{
		ID:            uuid.New(),
		ReviewSpaceID: reviewSpaceID,
		Content:       content,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Snapshot returns the by-value copy that travels inside payloads and results.
func (c *ChecklistItem) Snapshot() ChecklistSnapshot {
	return ChecklistSnapshot{ID: c.ID, Content: c.Content}
}

// ChecklistSnapshot is a checklist item captured by value at submission time.
// Results and task payloads hold snapshots, never live references, so that
// later checklist edits cannot rewrite the history of a review.
type ChecklistSnapshot struct {
	ID      uuid.UUID `json:"id" validate:"required"`
	Content string    `json:"content" validate:"required"`
}

// SnapshotAll converts live checklist items into snapshots, preserving order.
func SnapshotAll(items []*ChecklistItem) []ChecklistSnapshot {
	out := make([]ChecklistSnapshot, 0, len(items))
	for _, item := range items {
		out = append(out, item.Snapshot())
	}
	return out
}
