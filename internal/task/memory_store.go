package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/store"
)

// MemoryTaskStore is an in-process TaskStore for tests and local runs.
// Function fields override the default behaviour of individual methods.
type MemoryTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*AITask

	SaveFn        func(ctx context.Context, t *AITask) error
	DequeueNextFn func(ctx context.Context, apiKeyHash string) (*AITask, error)
}

var _ TaskStore = (*MemoryTaskStore)(nil)

// NewMemoryTaskStore creates an empty MemoryTaskStore.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[uuid.UUID]*AITask)}
}

func clone(t *AITask) *AITask {
	c := *t
	c.Files = append([]FileRecord(nil), t.Files...)
	return &c
}

// Save implements TaskStore.
func (s *MemoryTaskStore) Save(ctx context.Context, t *AITask) error {
	if s.SaveFn != nil {
		return s.SaveFn(ctx, t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return store.ErrDuplicate
	}
	s.tasks[t.ID] = clone(t)
	return nil
}

// DequeueNext implements TaskStore.
func (s *MemoryTaskStore) DequeueNext(ctx context.Context, apiKeyHash string) (*AITask, error) {
	if s.DequeueNextFn != nil {
		return s.DequeueNextFn(ctx, apiKeyHash)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*AITask
	for _, t := range s.tasks {
		if t.APIKeyHash == apiKeyHash && t.Status == TaskStatusQueued {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	SortForDequeue(candidates)

	next := candidates[0]
	if err := next.MarkProcessing(time.Now().UTC()); err != nil {
		return nil, err
	}
	return clone(next), nil
}

// SortForDequeue orders tasks by priority descending, then createdAt, then id.
func SortForDequeue(tasks []*AITask) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

// Get implements TaskStore.
func (s *MemoryTaskStore) Get(_ context.Context, id uuid.UUID) (*AITask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return clone(t), nil
}

// Delete implements TaskStore.
func (s *MemoryTaskStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return store.ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

// CountQueued implements TaskStore.
func (s *MemoryTaskStore) CountQueued(_ context.Context, apiKeyHash string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.APIKeyHash == apiKeyHash && t.Status == TaskStatusQueued {
			n++
		}
	}
	return n, nil
}

// DistinctQueuedHashes implements TaskStore.
func (s *MemoryTaskStore) DistinctQueuedHashes(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, t := range s.tasks {
		if t.Status != TaskStatusQueued {
			continue
		}
		if _, ok := seen[t.APIKeyHash]; !ok {
			seen[t.APIKeyHash] = struct{}{}
			out = append(out, t.APIKeyHash)
		}
	}
	sort.Strings(out)
	return out, nil
}

// FindProcessing implements TaskStore.
func (s *MemoryTaskStore) FindProcessing(_ context.Context) ([]*AITask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AITask
	for _, t := range s.tasks {
		if t.Status == TaskStatusProcessing {
			out = append(out, clone(t))
		}
	}
	SortForDequeue(out)
	return out, nil
}

// ResetToQueued implements TaskStore.
func (s *MemoryTaskStore) ResetToQueued(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.Status = TaskStatusQueued
	t.StartedAt = nil
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// FindByReviewTargetID implements TaskStore.
func (s *MemoryTaskStore) FindByReviewTargetID(_ context.Context, targetID uuid.UUID) (*AITask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ReviewTargetID != nil && *t.ReviewTargetID == targetID {
			return clone(t), nil
		}
	}
	return nil, nil
}

// Len returns the number of stored tasks.
func (s *MemoryTaskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// All returns copies of every stored task in dequeue order.
func (s *MemoryTaskStore) All() []*AITask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*AITask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, clone(t))
	}
	SortForDequeue(out)
	return out
}
