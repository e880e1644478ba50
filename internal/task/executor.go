package task

import (
	"context"
	"fmt"
)

// Executor runs the work described by a dequeued task. A returned error marks
// the task failed; per-item failures are recorded by the executor itself and
// do not surface here.
type Executor interface {
	Execute(ctx context.Context, t *AITask) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t *AITask) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, t *AITask) error {
	return f(ctx, t)
}

// Dispatcher routes tasks to the executor registered for their type.
type Dispatcher struct {
	executors map[TaskType]Executor
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{executors: make(map[TaskType]Executor)}
}

// Register binds an executor to one or more task types.
func (d *Dispatcher) Register(e Executor, types ...TaskType) {
	for _, t := range types {
		d.executors[t] = e
	}
}

// Execute implements Executor.
func (d *Dispatcher) Execute(ctx context.Context, t *AITask) error {
	e, ok := d.executors[t.Type]
	if !ok {
		return fmt.Errorf("%w: no executor for %q", ErrUnknownTaskType, t.Type)
	}
	return e.Execute(ctx, t)
}
