package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/store"
)

// ChecklistStore implements store.ChecklistStore on PostgreSQL.
type ChecklistStore struct {
	db store.DBTX
}

var _ store.ChecklistStore = (*ChecklistStore)(nil)

// NewChecklistStore creates a ChecklistStore.
func NewChecklistStore(db store.DBTX) *ChecklistStore {
	if db == nil {
		panic("db cannot be nil")
	}
	return &ChecklistStore{db: db}
}

// FindBySpace implements store.ChecklistStore.
func (s *ChecklistStore) FindBySpace(ctx context.Context, reviewSpaceID uuid.UUID) ([]*domain.ChecklistItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_space_id, content, created_at, updated_at
		FROM checklist_items
		WHERE review_space_id = $1
		ORDER BY created_at, id`, reviewSpaceID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ChecklistItem
	for rows.Next() {
		var c domain.ChecklistItem
		if err := rows.Scan(&c.ID, &c.ReviewSpaceID, &c.Content, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, MapError(err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CreateMultiple implements store.ChecklistStore.
func (s *ChecklistStore) CreateMultiple(ctx context.Context, items []*domain.ChecklistItem) error {
	return store.InTx(ctx, s.db, func(tx store.DBTX) error {
		for _, c := range items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO checklist_items (id, review_space_id, content, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5)`,
				c.ID, c.ReviewSpaceID, c.Content, c.CreatedAt, c.UpdatedAt,
			)
			if err != nil {
				return MapError(err)
			}
		}
		return nil
	})
}

// SpaceStore implements store.SpaceStore on PostgreSQL. Projects and spaces
// are only created here for bootstrapping; their CRUD lives elsewhere.
type SpaceStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.SpaceStore = (*SpaceStore)(nil)

// NewSpaceStore creates a SpaceStore.
func NewSpaceStore(db store.DBTX, logger *slog.Logger) *SpaceStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SpaceStore{db: db, logger: logger.With(slog.String("component", "space_store"))}
}

// EnsureSpace creates the project and review space rows if they are missing.
func (s *SpaceStore) EnsureSpace(ctx context.Context, projectID, reviewSpaceID uuid.UUID) error {
	now := time.Now().UTC()
	return store.InTx(ctx, s.db, func(tx store.DBTX) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, created_at) VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING`, projectID, now); err != nil {
			return MapError(err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO review_spaces (id, project_id, created_at) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`, reviewSpaceID, projectID, now); err != nil {
			return MapError(err)
		}
		return nil
	})
}

// FindSpaceIDsByProject implements store.SpaceStore.
func (s *SpaceStore) FindSpaceIDsByProject(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM review_spaces WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, MapError(err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteReviewSpace implements store.SpaceStore. Deleting a missing space is
// not an error.
func (s *SpaceStore) DeleteReviewSpace(ctx context.Context, reviewSpaceID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM review_spaces WHERE id = $1`, reviewSpaceID); err != nil {
		return MapError(err)
	}
	return nil
}

// DeleteProject implements store.SpaceStore.
func (s *SpaceStore) DeleteProject(ctx context.Context, projectID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, projectID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete project",
			slog.String("project_id", projectID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}
