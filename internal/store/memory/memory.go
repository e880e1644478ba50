// Package memory provides in-process implementations of the store ports,
// used by tests and by local runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/store"
)

// Store implements store.ReviewStore, store.ChecklistStore and store.SpaceStore.
// Entities are copied on the way in and out.
type Store struct {
	mu          sync.Mutex
	targets     map[uuid.UUID]domain.ReviewTarget
	results     map[uuid.UUID]domain.ReviewResult
	caches      map[uuid.UUID]domain.ReviewDocumentCache
	individuals map[uuid.UUID]domain.IndividualResult
	checklist   map[uuid.UUID]domain.ChecklistItem
	spaces      map[uuid.UUID]uuid.UUID // space -> project

	// ReplaceResultsFn, when set, replaces the default ReplaceResults.
	ReplaceResultsFn func(ctx context.Context, target *domain.ReviewTarget, deleteIDs []uuid.UUID, results []*domain.ReviewResult) error
}

var (
	_ store.ReviewStore    = (*Store)(nil)
	_ store.ChecklistStore = (*Store)(nil)
	_ store.SpaceStore     = (*Store)(nil)
)

// New creates an empty Store.
func New() *Store {
	return &Store{
		targets:     make(map[uuid.UUID]domain.ReviewTarget),
		results:     make(map[uuid.UUID]domain.ReviewResult),
		caches:      make(map[uuid.UUID]domain.ReviewDocumentCache),
		individuals: make(map[uuid.UUID]domain.IndividualResult),
		checklist:   make(map[uuid.UUID]domain.ChecklistItem),
		spaces:      make(map[uuid.UUID]uuid.UUID),
	}
}

// AddSpace registers a review space under a project.
func (s *Store) AddSpace(projectID, spaceID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spaces[spaceID] = projectID
}

// CreateReviewTarget implements store.ReviewStore.
func (s *Store) CreateReviewTarget(_ context.Context, target *domain.ReviewTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[target.ID]; ok {
		return store.ErrDuplicate
	}
	s.targets[target.ID] = *target
	return nil
}

// GetReviewTarget implements store.ReviewStore.
func (s *Store) GetReviewTarget(_ context.Context, id uuid.UUID) (*domain.ReviewTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return nil, store.ErrReviewTargetNotFound
	}
	return &t, nil
}

// UpdateReviewTarget implements store.ReviewStore.
func (s *Store) UpdateReviewTarget(_ context.Context, target *domain.ReviewTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[target.ID]; !ok {
		return store.ErrReviewTargetNotFound
	}
	s.targets[target.ID] = *target
	return nil
}

// FindReviewTargetsBySpace implements store.ReviewStore.
func (s *Store) FindReviewTargetsBySpace(_ context.Context, spaceID uuid.UUID) ([]*domain.ReviewTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ReviewTarget
	for _, t := range s.targets {
		if t.ReviewSpaceID == spaceID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// FindReviewTargetsByStatus implements store.ReviewStore.
func (s *Store) FindReviewTargetsByStatus(
	_ context.Context,
	status domain.ReviewStatus,
	updatedBefore time.Time,
) ([]*domain.ReviewTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ReviewTarget
	for _, t := range s.targets {
		if t.Status == status && t.UpdatedAt.Before(updatedBefore) {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// DeleteReviewTarget implements store.ReviewStore.
func (s *Store) DeleteReviewTarget(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[id]; !ok {
		return store.ErrReviewTargetNotFound
	}
	s.deleteTargetLocked(id)
	return nil
}

func (s *Store) deleteTargetLocked(id uuid.UUID) {
	delete(s.targets, id)
	for rid, r := range s.results {
		if r.ReviewTargetID == id {
			delete(s.results, rid)
		}
	}
	for cid, c := range s.caches {
		if c.ReviewTargetID == id {
			delete(s.caches, cid)
		}
	}
	for iid, r := range s.individuals {
		if r.ReviewTargetID == id {
			delete(s.individuals, iid)
		}
	}
}

// FindResults implements store.ReviewStore.
func (s *Store) FindResults(_ context.Context, targetID uuid.UUID) ([]*domain.ReviewResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ReviewResult
	for _, r := range s.results {
		if r.ReviewTargetID == targetID {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// ReplaceResults implements store.ReviewStore. The whole replacement happens
// under one lock, so readers never see a partial state.
func (s *Store) ReplaceResults(
	ctx context.Context,
	target *domain.ReviewTarget,
	deleteIDs []uuid.UUID,
	results []*domain.ReviewResult,
) error {
	if s.ReplaceResultsFn != nil {
		return s.ReplaceResultsFn(ctx, target, deleteIDs, results)
	}
	for _, r := range results {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[target.ID]; !ok {
		return store.ErrReviewTargetNotFound
	}
	for _, id := range deleteIDs {
		if r, ok := s.results[id]; ok && r.ReviewTargetID == target.ID {
			delete(s.results, id)
		}
	}
	for _, r := range results {
		s.results[r.ID] = *r
	}
	s.targets[target.ID] = *target
	return nil
}

// SaveDocumentCaches implements store.ReviewStore.
func (s *Store) SaveDocumentCaches(_ context.Context, caches []*domain.ReviewDocumentCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range caches {
		s.caches[c.ID] = *c
	}
	return nil
}

// FindDocumentCaches implements store.ReviewStore.
func (s *Store) FindDocumentCaches(_ context.Context, targetID uuid.UUID) ([]*domain.ReviewDocumentCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ReviewDocumentCache
	for _, c := range s.caches {
		if c.ReviewTargetID == targetID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].FileName < out[j].FileName
	})
	return out, nil
}

// SaveIndividualResults implements store.ReviewStore.
func (s *Store) SaveIndividualResults(_ context.Context, results []*domain.IndividualResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		s.individuals[r.ID] = *r
	}
	return nil
}

// FindIndividualResults implements store.ReviewStore.
func (s *Store) FindIndividualResults(_ context.Context, targetID uuid.UUID) ([]*domain.IndividualResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.IndividualResult
	for _, r := range s.individuals {
		if r.ReviewTargetID == targetID {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentName != out[j].DocumentName {
			return out[i].DocumentName < out[j].DocumentName
		}
		return out[i].CheckListItemID.String() < out[j].CheckListItemID.String()
	})
	return out, nil
}

// FindBySpace implements store.ChecklistStore.
func (s *Store) FindBySpace(_ context.Context, spaceID uuid.UUID) ([]*domain.ChecklistItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ChecklistItem
	for _, c := range s.checklist {
		if c.ReviewSpaceID == spaceID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// CreateMultiple implements store.ChecklistStore.
func (s *Store) CreateMultiple(_ context.Context, items []*domain.ChecklistItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.checklist[it.ID] = *it
	}
	return nil
}

// FindSpaceIDsByProject implements store.SpaceStore.
func (s *Store) FindSpaceIDsByProject(_ context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for space, project := range s.spaces {
		if project == projectID {
			out = append(out, space)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// DeleteReviewSpace implements store.SpaceStore.
func (s *Store) DeleteReviewSpace(_ context.Context, spaceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteSpaceLocked(spaceID)
	return nil
}

func (s *Store) deleteSpaceLocked(spaceID uuid.UUID) {
	for id, t := range s.targets {
		if t.ReviewSpaceID == spaceID {
			s.deleteTargetLocked(id)
		}
	}
	for id, c := range s.checklist {
		if c.ReviewSpaceID == spaceID {
			delete(s.checklist, id)
		}
	}
	delete(s.spaces, spaceID)
}

// DeleteProject implements store.SpaceStore.
func (s *Store) DeleteProject(_ context.Context, projectID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for space, project := range s.spaces {
		if project == projectID {
			s.deleteSpaceLocked(space)
		}
	}
	return nil
}
