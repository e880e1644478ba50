package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/store"
)

const targetColumns = `id, review_space_id, name, status, review_type, review_settings, created_at, updated_at`

// ReviewStore implements store.ReviewStore on PostgreSQL.
type ReviewStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.ReviewStore = (*ReviewStore)(nil)

// NewReviewStore creates a ReviewStore.
func NewReviewStore(db store.DBTX, logger *slog.Logger) *ReviewStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewStore{db: db, logger: logger.With(slog.String("component", "review_store"))}
}

// CreateReviewTarget implements store.ReviewStore.
func (s *ReviewStore) CreateReviewTarget(ctx context.Context, target *domain.ReviewTarget) error {
	settings, err := json.Marshal(target.ReviewSettings)
	if err != nil {
		return fmt.Errorf("encode review settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO review_targets (`+targetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		target.ID, target.ReviewSpaceID, target.Name, target.Status, target.ReviewType,
		settings, target.CreatedAt, target.UpdatedAt,
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create review target",
			slog.String("review_target_id", target.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// GetReviewTarget implements store.ReviewStore.
func (s *ReviewStore) GetReviewTarget(ctx context.Context, id uuid.UUID) (*domain.ReviewTarget, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM review_targets WHERE id = $1`, id)
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrReviewTargetNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return t, nil
}

// UpdateReviewTarget implements store.ReviewStore.
func (s *ReviewStore) UpdateReviewTarget(ctx context.Context, target *domain.ReviewTarget) error {
	return updateTarget(ctx, s.db, target)
}

func updateTarget(ctx context.Context, db store.DBTX, target *domain.ReviewTarget) error {
	settings, err := json.Marshal(target.ReviewSettings)
	if err != nil {
		return fmt.Errorf("encode review settings: %w", err)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE review_targets
		SET status = $2, review_type = $3, review_settings = $4, updated_at = $5
		WHERE id = $1`,
		target.ID, target.Status, target.ReviewType, settings, target.UpdatedAt,
	)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(res, store.ErrReviewTargetNotFound)
}

// FindReviewTargetsBySpace implements store.ReviewStore.
func (s *ReviewStore) FindReviewTargetsBySpace(
	ctx context.Context,
	reviewSpaceID uuid.UUID,
) ([]*domain.ReviewTarget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+targetColumns+` FROM review_targets
		WHERE review_space_id = $1 ORDER BY created_at, id`, reviewSpaceID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ReviewTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FindReviewTargetsByStatus implements store.ReviewStore.
func (s *ReviewStore) FindReviewTargetsByStatus(
	ctx context.Context,
	status domain.ReviewStatus,
	updatedBefore time.Time,
) ([]*domain.ReviewTarget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+targetColumns+` FROM review_targets
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at, id`, status, updatedBefore)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ReviewTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteReviewTarget implements store.ReviewStore. Results, caches and
// traces are removed by ON DELETE CASCADE.
func (s *ReviewStore) DeleteReviewTarget(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM review_targets WHERE id = $1`, id)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(res, store.ErrReviewTargetNotFound)
}

// FindResults implements store.ReviewStore.
func (s *ReviewStore) FindResults(ctx context.Context, reviewTargetID uuid.UUID) ([]*domain.ReviewResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_target_id, check_list_item_id, check_list_item_content,
			evaluation, comment, error_message, created_at, updated_at
		FROM review_results
		WHERE review_target_id = $1
		ORDER BY created_at, id`, reviewTargetID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ReviewResult
	for rows.Next() {
		var (
			r                  domain.ReviewResult
			eval, comment, msg sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ReviewTargetID, &r.CheckListItemID, &r.CheckListItemContent,
			&eval, &comment, &msg, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, MapError(err)
		}
		r.Evaluation = nullable(eval)
		r.Comment = nullable(comment)
		r.ErrorMessage = nullable(msg)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ReplaceResults implements store.ReviewStore. Delete, insert and the target
// status update share one transaction.
func (s *ReviewStore) ReplaceResults(
	ctx context.Context,
	target *domain.ReviewTarget,
	deleteIDs []uuid.UUID,
	results []*domain.ReviewResult,
) error {
	for _, r := range results {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	err := store.InTx(ctx, s.db, func(tx store.DBTX) error {
		if len(deleteIDs) > 0 {
			ids := make([]string, len(deleteIDs))
			for i, id := range deleteIDs {
				ids[i] = id.String()
			}
			_, err := tx.ExecContext(ctx, `
				DELETE FROM review_results
				WHERE review_target_id = $1 AND id = ANY($2::uuid[])`,
				target.ID, ids,
			)
			if err != nil {
				return MapError(err)
			}
		}
		for _, r := range results {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO review_results (id, review_target_id, check_list_item_id,
					check_list_item_content, evaluation, comment, error_message, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				r.ID, r.ReviewTargetID, r.CheckListItemID, r.CheckListItemContent,
				r.Evaluation, r.Comment, r.ErrorMessage, r.CreatedAt, r.UpdatedAt,
			)
			if err != nil {
				return MapError(err)
			}
		}
		return updateTarget(ctx, tx, target)
	})
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to replace review results",
			slog.String("review_target_id", target.ID.String()),
			slog.Int("deleted", len(deleteIDs)),
			slog.Int("inserted", len(results)),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

// SaveDocumentCaches implements store.ReviewStore.
func (s *ReviewStore) SaveDocumentCaches(ctx context.Context, caches []*domain.ReviewDocumentCache) error {
	return store.InTx(ctx, s.db, func(tx store.DBTX) error {
		for _, c := range caches {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO review_document_caches (id, review_target_id, file_name,
					process_mode, cache_path, image_count, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.ID, c.ReviewTargetID, c.FileName, c.ProcessMode, c.CachePath, c.ImageCount, c.CreatedAt,
			)
			if err != nil {
				return MapError(err)
			}
		}
		return nil
	})
}

// FindDocumentCaches implements store.ReviewStore.
func (s *ReviewStore) FindDocumentCaches(
	ctx context.Context,
	reviewTargetID uuid.UUID,
) ([]*domain.ReviewDocumentCache, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_target_id, file_name, process_mode, cache_path, image_count, created_at
		FROM review_document_caches
		WHERE review_target_id = $1
		ORDER BY created_at, file_name`, reviewTargetID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ReviewDocumentCache
	for rows.Next() {
		var c domain.ReviewDocumentCache
		if err := rows.Scan(&c.ID, &c.ReviewTargetID, &c.FileName, &c.ProcessMode,
			&c.CachePath, &c.ImageCount, &c.CreatedAt); err != nil {
			return nil, MapError(err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// SaveIndividualResults implements store.ReviewStore.
func (s *ReviewStore) SaveIndividualResults(ctx context.Context, results []*domain.IndividualResult) error {
	return store.InTx(ctx, s.db, func(tx store.DBTX) error {
		for _, r := range results {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO review_individual_results (id, review_target_id, check_list_item_id,
					document_name, comment, error_message, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				r.ID, r.ReviewTargetID, r.CheckListItemID, r.DocumentName, r.Comment, r.ErrorMessage, r.CreatedAt,
			)
			if err != nil {
				return MapError(err)
			}
		}
		return nil
	})
}

// FindIndividualResults implements store.ReviewStore.
func (s *ReviewStore) FindIndividualResults(
	ctx context.Context,
	reviewTargetID uuid.UUID,
) ([]*domain.IndividualResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_target_id, check_list_item_id, document_name, comment, error_message, created_at
		FROM review_individual_results
		WHERE review_target_id = $1
		ORDER BY document_name, check_list_item_id`, reviewTargetID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.IndividualResult
	for rows.Next() {
		var r domain.IndividualResult
		if err := rows.Scan(&r.ID, &r.ReviewTargetID, &r.CheckListItemID, &r.DocumentName,
			&r.Comment, &r.ErrorMessage, &r.CreatedAt); err != nil {
			return nil, MapError(err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func scanTarget(row scanner) (*domain.ReviewTarget, error) {
	var (
		t        domain.ReviewTarget
		settings []byte
	)
	if err := row.Scan(&t.ID, &t.ReviewSpaceID, &t.Name, &t.Status, &t.ReviewType,
		&settings, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.ReviewSettings); err != nil {
			return nil, fmt.Errorf("decode review settings of %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
