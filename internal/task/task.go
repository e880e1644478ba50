package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
)

// TaskStatus represents the current state of a queued task.
// Rows only exist for live work, so there are no terminal statuses.
type TaskStatus string

// Possible task status values
const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
)

// TaskType identifies the payload shape and the executor of a task.
type TaskType string

// Task type constants
const (
	TaskTypeSmallReview         TaskType = "small_review"
	TaskTypeLargeReview         TaskType = "large_review"
	TaskTypeChecklistGeneration TaskType = "checklist_generation"
)

// IsValid reports whether t is a known task type.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeSmallReview, TaskTypeLargeReview, TaskTypeChecklistGeneration:
		return true
	}
	return false
}

// TaskTypeForReview maps a review strategy onto its task type.
func TaskTypeForReview(rt domain.ReviewType) TaskType {
	if rt == domain.ReviewTypeLarge {
		return TaskTypeLargeReview
	}
	return TaskTypeSmallReview
}

// Common task errors
var (
	// ErrTaskNotProcessing is returned when completing or failing a task that
	// was never dequeued.
	ErrTaskNotProcessing = errors.New("task is not processing")

	// ErrUnknownTaskType is returned when decoding a payload of an unknown type.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrInvalidPayload is returned when a payload fails validation.
	ErrInvalidPayload = errors.New("invalid task payload")
)

// FileRecord references an uploaded document persisted for a task. Text mode
// files live at <taskId>/<fileId>; image mode files are stored as
// ConvertedImageCount page images at <taskId>/<fileId>/<index>.
type FileRecord struct {
	ID                  string             `json:"id"`
	TaskID              uuid.UUID          `json:"task_id"`
	FileName            string             `json:"file_name"`
	FileSize            int64              `json:"file_size"`
	MimeType            string             `json:"mime_type"`
	ProcessMode         domain.ProcessMode `json:"process_mode"`
	FilePath            string             `json:"file_path"`
	ConvertedImageCount int                `json:"converted_image_count"`
	CreatedAt           time.Time          `json:"created_at"`
}

// ImagePath returns the blob path of the index-th converted image.
func (f FileRecord) ImagePath(index int) string {
	return fmt.Sprintf("%s/%d", f.FilePath, index)
}

// AITask is one unit of queued work bound to an external credential.
type AITask struct {
	ID             uuid.UUID
	Type           TaskType
	Status         TaskStatus
	APIKeyHash     string
	Priority       int
	Payload        Payload
	ReviewTargetID *uuid.UUID
	Files          []FileRecord
	ErrorMessage   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// NewAITask creates a queued task. The review target id is derived from the
// payload so that cleanup can find the task bound to a target.
func NewAITask(taskType TaskType, apiKeyHash string, priority int, payload Payload) (*AITask, error) {
	if !taskType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}
	if apiKeyHash == "" {
		return nil, domain.NewValidationError("api key hash", "cannot be empty", nil)
	}
	if payload == nil || payload.TaskType() != taskType {
		return nil, fmt.Errorf("%w: payload does not match task type %q", ErrInvalidPayload, taskType)
	}
	now := time.Now().UTC()
	t := &AITask{
		ID:         uuid.New(),
		Type:       taskType,
		Status:     TaskStatusQueued,
		APIKeyHash: apiKeyHash,
		Priority:   priority,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if rp, ok := payload.(*ReviewPayload); ok {
		id := rp.ReviewTargetID
		t.ReviewTargetID = &id
	}
	return t, nil
}

// MarkProcessing flips a queued task to processing.
func (t *AITask) MarkProcessing(now time.Time) error {
	if t.Status != TaskStatusQueued {
		return fmt.Errorf("cannot start task %s in status %q", t.ID, t.Status)
	}
	t.Status = TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	return nil
}

// TaskStore is the durable queue. Implementations must make DequeueNext
// atomic: a queued row is handed to at most one caller.
type TaskStore interface {
	// Save inserts the task row together with its file records.
	Save(ctx context.Context, t *AITask) error

	// DequeueNext flips the highest priority, oldest queued task for the hash
	// to processing and returns it. It returns nil, nil when nothing is queued.
	// Ties on priority and createdAt are broken by id.
	DequeueNext(ctx context.Context, apiKeyHash string) (*AITask, error)

	// Get loads a task by id, returning store.ErrTaskNotFound if missing.
	Get(ctx context.Context, id uuid.UUID) (*AITask, error)

	// Delete removes a task and its file records.
	Delete(ctx context.Context, id uuid.UUID) error

	// CountQueued returns the number of queued tasks for the hash.
	CountQueued(ctx context.Context, apiKeyHash string) (int, error)

	// DistinctQueuedHashes lists every hash with at least one queued task.
	DistinctQueuedHashes(ctx context.Context) ([]string, error)

	// FindProcessing lists every task in processing status.
	FindProcessing(ctx context.Context) ([]*AITask, error)

	// ResetToQueued moves a processing task back to queued.
	ResetToQueued(ctx context.Context, id uuid.UUID) error

	// FindByReviewTargetID returns the live task bound to a review target,
	// or nil, nil if there is none.
	FindByReviewTargetID(ctx context.Context, targetID uuid.UUID) (*AITask, error)
}
