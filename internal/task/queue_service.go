package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/phrazzld/docreview-api/internal/credential"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/platform/metrics"
	"github.com/phrazzld/docreview-api/internal/store"
)

// FileStore persists task uploads. Paths are slash separated and relative.
type FileStore interface {
	Write(ctx context.Context, path string, data []byte) error
	RemoveAll(ctx context.Context, path string) error
}

// EnqueueError wraps an infrastructure failure during enqueue. Files already
// written before the failure are not rolled back.
type EnqueueError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e *EnqueueError) Error() string {
	return fmt.Sprintf("enqueue task: %s: %v", e.Step, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EnqueueError) Unwrap() error {
	return e.Err
}

// Upload is a document submitted with a task. Text mode uploads carry the
// original bytes in Data; image mode uploads carry converted page images.
type Upload struct {
	FileName    string
	ProcessMode domain.ProcessMode
	Data        []byte
	Images      [][]byte
}

// EnqueueRequest describes a task to add to the queue.
type EnqueueRequest struct {
	Type     TaskType
	APIKey   string
	Payload  Payload
	Priority *int
	Files    []Upload
}

// EnqueueResult reports where the task landed.
type EnqueueResult struct {
	TaskID      uuid.UUID
	APIKeyHash  string
	QueueLength int
}

// QueueService enqueues, dequeues and retires tasks against a TaskStore.
type QueueService struct {
	store           TaskStore
	files           FileStore
	defaultPriority int
	logger          *slog.Logger
	now             func() time.Time
}

// NewQueueService creates a QueueService.
func NewQueueService(store TaskStore, files FileStore, defaultPriority int, logger *slog.Logger) (*QueueService, error) {
	if store == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	if files == nil {
		return nil, fmt.Errorf("file store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueService{
		store:           store,
		files:           files,
		defaultPriority: defaultPriority,
		logger:          logger.With(slog.String("component", "task_queue")),
		now:             func() time.Time { return time.Now().UTC() },
	}, nil
}

// Enqueue validates the payload, persists uploads, saves the task row and
// returns the queue length for the credential hash after the insert.
// Validation failures are returned as domain errors before anything is written.
func (s *QueueService) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	if req.APIKey == "" {
		return nil, domain.NewError(domain.CodeAIConfigMissing, "no api key provided", domain.ErrAIConfigMissing)
	}
	if req.Payload == nil {
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	if err := req.Payload.Validate(); err != nil {
		return nil, err
	}

	priority := s.defaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	t, err := NewAITask(req.Type, credential.Hash(req.APIKey), priority, req.Payload)
	if err != nil {
		return nil, err
	}
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("task_id", t.ID.String()),
		slog.String("task_type", string(t.Type)),
		slog.String("api_key_hash", t.APIKeyHash),
	)

	for _, up := range req.Files {
		rec, err := s.persistUpload(ctx, t.ID, up)
		if err != nil {
			log.Error("failed to persist upload", slog.String("file_name", up.FileName), slog.Any("error", err))
			return nil, &EnqueueError{Step: "persist file", Err: err}
		}
		t.Files = append(t.Files, rec)
	}

	if err := s.store.Save(ctx, t); err != nil {
		log.Error("failed to save task", slog.Any("error", err))
		return nil, &EnqueueError{Step: "save task", Err: err}
	}

	length, err := s.store.CountQueued(ctx, t.APIKeyHash)
	if err != nil {
		return nil, &EnqueueError{Step: "count queue", Err: err}
	}

	metrics.TaskEnqueued(string(t.Type))
	log.Info("task enqueued",
		slog.Int("priority", t.Priority),
		slog.Int("file_count", len(t.Files)),
		slog.Int("queue_length", length))

	return &EnqueueResult{TaskID: t.ID, APIKeyHash: t.APIKeyHash, QueueLength: length}, nil
}

func (s *QueueService) persistUpload(ctx context.Context, taskID uuid.UUID, up Upload) (FileRecord, error) {
	if !up.ProcessMode.IsValid() {
		return FileRecord{}, fmt.Errorf("unknown process mode %q for %s", up.ProcessMode, up.FileName)
	}
	rec := FileRecord{
		ID:          ulid.Make().String(),
		TaskID:      taskID,
		FileName:    up.FileName,
		ProcessMode: up.ProcessMode,
		CreatedAt:   s.now(),
	}
	rec.FilePath = taskID.String() + "/" + rec.ID

	switch up.ProcessMode {
	case domain.ProcessModeImage:
		if len(up.Images) == 0 {
			return FileRecord{}, fmt.Errorf("image upload %s has no converted images", up.FileName)
		}
		rec.MimeType = mimetype.Detect(up.Images[0]).String()
		for i, img := range up.Images {
			if err := s.files.Write(ctx, rec.ImagePath(i), img); err != nil {
				return FileRecord{}, err
			}
			rec.FileSize += int64(len(img))
		}
		rec.ConvertedImageCount = len(up.Images)
	default:
		rec.MimeType = mimetype.Detect(up.Data).String()
		rec.FileSize = int64(len(up.Data))
		if err := s.files.Write(ctx, rec.FilePath, up.Data); err != nil {
			return FileRecord{}, err
		}
	}
	return rec, nil
}

// Dequeue atomically claims the next task for a credential hash.
// It returns nil, nil when the hash has no queued work.
func (s *QueueService) Dequeue(ctx context.Context, apiKeyHash string) (*AITask, error) {
	t, err := s.store.DequeueNext(ctx, apiKeyHash)
	if err != nil {
		return nil, fmt.Errorf("dequeue for %s: %w", apiKeyHash, err)
	}
	return t, nil
}

// CompleteTask retires a processing task after successful execution.
func (s *QueueService) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	return s.retire(ctx, taskID, "completed", "")
}

// FailTask retires a processing task after failed execution.
func (s *QueueService) FailTask(ctx context.Context, taskID uuid.UUID, errorMessage string) error {
	return s.retire(ctx, taskID, "failed", errorMessage)
}

// retire deletes a processing task and its files. The queue keeps no history,
// so the outcome only reaches logs and metrics. A missing task has already
// been cleaned up and is not an error.
func (s *QueueService) retire(ctx context.Context, taskID uuid.UUID, outcome, errorMessage string) error {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("task_id", taskID.String()))

	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			log.Warn("task already removed", slog.String("outcome", outcome))
			return nil
		}
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if t.Status != TaskStatusProcessing {
		return fmt.Errorf("%w: task %s is %q", ErrTaskNotProcessing, taskID, t.Status)
	}

	if err := s.removeFiles(ctx, t); err != nil {
		log.Warn("failed to delete task files", slog.Any("error", err))
	}
	if err := s.store.Delete(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil
		}
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}

	metrics.TaskFinished(string(t.Type), outcome)
	if outcome == "failed" {
		log.Error("task failed", slog.String("task_type", string(t.Type)), slog.String("error_message", errorMessage))
	} else {
		log.Info("task completed", slog.String("task_type", string(t.Type)))
	}
	return nil
}

// RemoveTask deletes a task regardless of status, together with its files.
// Used by cascading deletes; a missing task is a no-op.
func (s *QueueService) RemoveTask(ctx context.Context, taskID uuid.UUID) error {
	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil
		}
		return err
	}
	fileErr := s.removeFiles(ctx, t)
	if err := s.store.Delete(ctx, taskID); err != nil && !errors.Is(err, store.ErrTaskNotFound) {
		return errors.Join(fileErr, err)
	}
	return fileErr
}

func (s *QueueService) removeFiles(ctx context.Context, t *AITask) error {
	if len(t.Files) == 0 {
		return nil
	}
	return s.files.RemoveAll(ctx, t.ID.String())
}

// GetQueueLength returns the number of queued tasks for a credential hash.
func (s *QueueService) GetQueueLength(ctx context.Context, apiKeyHash string) (int, error) {
	return s.store.CountQueued(ctx, apiKeyHash)
}

// FindDistinctAPIKeyHashesInQueue lists the hashes that have queued work.
func (s *QueueService) FindDistinctAPIKeyHashesInQueue(ctx context.Context) ([]string, error) {
	return s.store.DistinctQueuedHashes(ctx)
}

// FindProcessingTasks lists tasks currently in processing status.
func (s *QueueService) FindProcessingTasks(ctx context.Context) ([]*AITask, error) {
	return s.store.FindProcessing(ctx)
}

// FindTaskByReviewTarget returns the live task bound to a review target, if any.
func (s *QueueService) FindTaskByReviewTarget(ctx context.Context, targetID uuid.UUID) (*AITask, error) {
	return s.store.FindByReviewTargetID(ctx, targetID)
}

// RequeueProcessing resets a processing task to queued, used by crash recovery.
func (s *QueueService) RequeueProcessing(ctx context.Context, taskID uuid.UUID) error {
	return s.store.ResetToQueued(ctx, taskID)
}
