package task

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// CancellationRegistry tracks the cancel function of every in-flight task
// execution so deletions can stop work cooperatively.
type CancellationRegistry struct {
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewCancellationRegistry creates an empty registry.
func NewCancellationRegistry() *CancellationRegistry {
	return &CancellationRegistry{cancels: make(map[uuid.UUID]context.CancelFunc)}
}

// Register derives a cancellable context for taskID. The returned release
// function must be called when the execution ends.
func (r *CancellationRegistry) Register(ctx context.Context, taskID uuid.UUID) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels[taskID] = cancel
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		delete(r.cancels, taskID)
		r.mu.Unlock()
		cancel()
	}
}

// Cancel stops the execution of taskID. It reports false when nothing is
// registered, which callers treat as already finished.
func (r *CancellationRegistry) Cancel(taskID uuid.UUID) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[taskID]
	delete(r.cancels, taskID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// IsRegistered reports whether taskID has an execution in flight.
func (r *CancellationRegistry) IsRegistered(taskID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[taskID]
	return ok
}
