package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/store"
	"github.com/phrazzld/docreview-api/internal/task"
)

const taskColumns = `id, task_type, status, api_key_hash, priority, payload,
	review_target_id, error_message, created_at, updated_at, started_at, completed_at`

// TaskStore implements task.TaskStore on PostgreSQL.
type TaskStore struct {
	db     store.DBTX
	logger *slog.Logger
	now    func() time.Time
}

// Ensure TaskStore implements task.TaskStore interface
var _ task.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore.
func NewTaskStore(db store.DBTX, logger *slog.Logger) *TaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Save implements task.TaskStore. The task row and its file rows are written
// in one transaction.
func (s *TaskStore) Save(ctx context.Context, t *task.AITask) error {
	payload, err := task.EncodePayload(t.Payload)
	if err != nil {
		return err
	}
	err = store.InTx(ctx, s.db, func(tx store.DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ai_tasks (`+taskColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			t.ID, t.Type, t.Status, t.APIKeyHash, t.Priority, payload,
			t.ReviewTargetID, t.ErrorMessage, t.CreatedAt, t.UpdatedAt, t.StartedAt, t.CompletedAt,
		)
		if err != nil {
			return MapError(err)
		}
		for _, f := range t.Files {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO ai_task_files (id, task_id, file_name, file_size, mime_type,
					process_mode, file_path, converted_image_count, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				f.ID, t.ID, f.FileName, f.FileSize, f.MimeType,
				f.ProcessMode, f.FilePath, f.ConvertedImageCount, f.CreatedAt,
			)
			if err != nil {
				return MapError(err)
			}
		}
		return nil
	})
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to save task",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

// DequeueNext implements task.TaskStore. FOR UPDATE SKIP LOCKED makes the
// select-and-flip atomic across connections.
func (s *TaskStore) DequeueNext(ctx context.Context, apiKeyHash string) (*task.AITask, error) {
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		UPDATE ai_tasks
		SET status = 'processing', started_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM ai_tasks
			WHERE api_key_hash = $1 AND status = 'queued'
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		apiKeyHash, now,
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, MapError(err)
	}
	if err := s.loadFiles(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get implements task.TaskStore.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*task.AITask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM ai_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	if err := s.loadFiles(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Delete implements task.TaskStore. File rows cascade.
func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ai_tasks WHERE id = $1`, id)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(res, store.ErrTaskNotFound)
}

// CountQueued implements task.TaskStore.
func (s *TaskStore) CountQueued(ctx context.Context, apiKeyHash string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ai_tasks WHERE api_key_hash = $1 AND status = 'queued'`,
		apiKeyHash,
	).Scan(&n)
	if err != nil {
		return 0, MapError(err)
	}
	return n, nil
}

// DistinctQueuedHashes implements task.TaskStore.
func (s *TaskStore) DistinctQueuedHashes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT api_key_hash FROM ai_tasks WHERE status = 'queued' ORDER BY api_key_hash`)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, MapError(err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// FindProcessing implements task.TaskStore.
func (s *TaskStore) FindProcessing(ctx context.Context) ([]*task.AITask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM ai_tasks WHERE status = 'processing' ORDER BY started_at, id`)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*task.AITask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	for _, t := range tasks {
		if err := s.loadFiles(ctx, t); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// ResetToQueued implements task.TaskStore.
func (s *TaskStore) ResetToQueued(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ai_tasks SET status = 'queued', started_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'processing'`,
		id, s.now(),
	)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(res, store.ErrTaskNotFound)
}

// FindByReviewTargetID implements task.TaskStore.
func (s *TaskStore) FindByReviewTargetID(ctx context.Context, targetID uuid.UUID) (*task.AITask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM ai_tasks
		WHERE review_target_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, targetID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, MapError(err)
	}
	if err := s.loadFiles(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TaskStore) loadFiles(ctx context.Context, t *task.AITask) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_name, file_size, mime_type, process_mode, file_path,
			converted_image_count, created_at
		FROM ai_task_files WHERE task_id = $1 ORDER BY created_at, id`, t.ID)
	if err != nil {
		return MapError(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		f := task.FileRecord{TaskID: t.ID}
		if err := rows.Scan(&f.ID, &f.FileName, &f.FileSize, &f.MimeType, &f.ProcessMode,
			&f.FilePath, &f.ConvertedImageCount, &f.CreatedAt); err != nil {
			return MapError(err)
		}
		t.Files = append(t.Files, f)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row and decodes its payload by task type.
func scanTask(row scanner) (*task.AITask, error) {
	var (
		t        task.AITask
		payload  []byte
		targetID uuid.NullUUID
		errMsg   sql.NullString
		started  sql.NullTime
		finished sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.Type, &t.Status, &t.APIKeyHash, &t.Priority, &payload,
		&targetID, &errMsg, &t.CreatedAt, &t.UpdatedAt, &started, &finished); err != nil {
		return nil, err
	}
	p, err := task.DecodePayload(t.Type, payload)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", t.ID, err)
	}
	t.Payload = p
	if targetID.Valid {
		id := targetID.UUID
		t.ReviewTargetID = &id
	}
	if errMsg.Valid {
		t.ErrorMessage = &errMsg.String
	}
	if started.Valid {
		t.StartedAt = &started.Time
	}
	if finished.Valid {
		t.CompletedAt = &finished.Time
	}
	return &t, nil
}
