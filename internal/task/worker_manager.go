package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/platform/metrics"
	"github.com/phrazzld/docreview-api/internal/redact"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrManagerStopped is returned when starting loops on a stopped manager.
var ErrManagerStopped = errors.New("worker manager is stopped")

// Lease is a Locker lease held by this process. Lost is closed when the
// lease expires or is taken over before Release is called.
type Lease interface {
	Lost() <-chan struct{}
	Release()
}

// Locker grants a named lease across processes. Release must be called once
// when ok is true.
type Locker interface {
	TryLock(ctx context.Context, key string) (lease Lease, ok bool, err error)
}

// WorkerManagerConfig holds configuration for the worker manager.
type WorkerManagerConfig struct {
	// ReconcileInterval is how often queued hashes are rediscovered.
	// If zero, defaults to one minute.
	ReconcileInterval time.Duration

	// ErrorBackoff is the pause after a failed dequeue.
	// If zero, defaults to two seconds.
	ErrorBackoff time.Duration
}

// DefaultWorkerManagerConfig returns a WorkerManagerConfig with reasonable defaults.
func DefaultWorkerManagerConfig() WorkerManagerConfig {
	return WorkerManagerConfig{
		ReconcileInterval: time.Minute,
		ErrorBackoff:      2 * time.Second,
	}
}

// loopState tracks one running loop. pending is set by a start request that
// arrives while the loop runs, so an idle loop about to exit rechecks the
// queue instead of losing the wake-up.
type loopState struct {
	pending bool
}

// WorkerManager runs exactly one processing loop per apiKeyHash. It is
// constructed once per process and passed by reference.
type WorkerManager struct {
	queue    *QueueService
	executor Executor
	cancels  *CancellationRegistry
	locker   Locker
	config   WorkerManagerConfig
	logger   *slog.Logger

	mu      sync.Mutex
	loops   map[string]*loopState
	stopped bool
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cron   *cron.Cron
}

// NewWorkerManager creates a WorkerManager. locker may be nil, in which case
// loops are only exclusive within this process.
func NewWorkerManager(
	queue *QueueService,
	executor Executor,
	cancels *CancellationRegistry,
	locker Locker,
	config WorkerManagerConfig,
	log *slog.Logger,
) (*WorkerManager, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue service cannot be nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if cancels == nil {
		cancels = NewCancellationRegistry()
	}
	if log == nil {
		log = slog.Default()
	}
	if config.ReconcileInterval <= 0 {
		config.ReconcileInterval = time.Minute
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerManager{
		queue:    queue,
		executor: executor,
		cancels:  cancels,
		locker:   locker,
		config:   config,
		logger:   log.With(slog.String("component", "worker_manager")),
		loops:    make(map[string]*loopState),
		ctx:      ctx,
		cancel:   cancel,
		cron:     cron.New(),
	}, nil
}

// Start starts a loop for every hash with queued or interrupted work and
// schedules periodic reconciliation. Interrupted tasks are requeued by the
// loop that owns their hash, never by Start itself.
func (m *WorkerManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrManagerStopped
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if err := m.Reconcile(ctx); err != nil {
		return fmt.Errorf("failed to discover queued work: %w", err)
	}

	spec := fmt.Sprintf("@every %s", m.config.ReconcileInterval)
	if err := m.AddJob(spec, "queue reconcile", m.Reconcile); err != nil {
		return err
	}
	m.cron.Start()
	m.logger.Info("worker manager started",
		slog.Duration("reconcile_interval", m.config.ReconcileInterval))
	return nil
}

// AddJob runs fn on the manager's scheduler until Stop.
func (m *WorkerManager) AddJob(spec, name string, fn func(context.Context) error) error {
	if _, err := m.cron.AddFunc(spec, func() {
		if err := fn(m.ctx); err != nil {
			m.logger.Error("scheduled job failed",
				slog.String("job", name),
				slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Reconcile starts a loop for every hash that has queued work or tasks left
// processing. A loop that wins the hash requeues its interrupted tasks; a
// loop that finds the lease held elsewhere exits without touching them.
func (m *WorkerManager) Reconcile(ctx context.Context) error {
	hashes, err := m.queue.FindDistinctAPIKeyHashesInQueue(ctx)
	if err != nil {
		return err
	}
	processing, err := m.queue.FindProcessingTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range processing {
		hashes = append(hashes, t.APIKeyHash)
	}
	seen := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		if err := m.StartWorkersForAPIKeyHash(h); err != nil && !errors.Is(err, ErrManagerStopped) {
			return err
		}
	}
	return nil
}

// requeueInterrupted resets processing tasks of hash to queued. It runs only
// while this loop owns the hash, so every such task belongs to a loop that
// no longer exists.
func (m *WorkerManager) requeueInterrupted(ctx context.Context, hash string, log *slog.Logger) error {
	processing, err := m.queue.FindProcessingTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range processing {
		if t.APIKeyHash != hash {
			continue
		}
		if err := m.queue.RequeueProcessing(ctx, t.ID); err != nil {
			log.Error("failed to requeue interrupted task",
				slog.String("task_id", t.ID.String()),
				slog.Any("error", err))
			continue
		}
		log.Info("requeued interrupted task", slog.String("task_id", t.ID.String()))
	}
	return nil
}

// StartWorkersForAPIKeyHash ensures a loop is running for hash. Calling it
// while a loop runs is a no-op apart from waking that loop.
func (m *WorkerManager) StartWorkersForAPIKeyHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("api key hash cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrManagerStopped
	}
	if state, ok := m.loops[hash]; ok {
		state.pending = true
		return nil
	}
	state := &loopState{}
	m.loops[hash] = state
	m.wg.Add(1)
	go m.run(hash, state)
	return nil
}

// IsRunning reports whether a loop is active for hash.
func (m *WorkerManager) IsRunning(hash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[hash]
	return ok
}

// Running lists the hashes with an active loop in sorted order.
func (m *WorkerManager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.loops))
	for h := range m.loops {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Stop cancels every loop and waits for in-flight tasks to return.
// Tasks interrupted here stay processing and are recovered on next start.
func (m *WorkerManager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	<-m.cron.Stop().Done()
	m.cancel()
	m.wg.Wait()
	m.logger.Info("worker manager stopped")
}

func (m *WorkerManager) run(hash string, state *loopState) {
	defer m.wg.Done()
	log := m.logger.With(slog.String("api_key_hash", hash))

	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	if m.locker != nil {
		lease, ok, err := m.locker.TryLock(ctx, hash)
		if err != nil || !ok {
			if err != nil {
				log.Error("failed to acquire worker lease", slog.Any("error", err))
			} else {
				log.Debug("worker lease held elsewhere")
			}
			m.exit(hash)
			return
		}
		defer lease.Release()
		go func() {
			select {
			case <-lease.Lost():
				log.Error("worker lease lost, stopping loop")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	if err := m.requeueInterrupted(ctx, hash, log); err != nil {
		log.Error("failed to list interrupted tasks", slog.Any("error", err))
	}

	metrics.WorkerLoopStarted()
	defer metrics.WorkerLoopStopped()
	log.Info("worker loop started")

	for {
		if ctx.Err() != nil {
			m.exit(hash)
			return
		}

		m.mu.Lock()
		state.pending = false
		m.mu.Unlock()

		t, err := m.queue.Dequeue(ctx, hash)
		if err != nil {
			if ctx.Err() != nil {
				m.exit(hash)
				return
			}
			log.Error("dequeue failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
			case <-time.After(m.config.ErrorBackoff):
			}
			continue
		}

		if t == nil {
			m.mu.Lock()
			if state.pending && !m.stopped {
				m.mu.Unlock()
				continue
			}
			delete(m.loops, hash)
			m.mu.Unlock()
			log.Info("worker loop idle, exiting")
			return
		}

		m.process(ctx, t)
	}
}

func (m *WorkerManager) exit(hash string) {
	m.mu.Lock()
	delete(m.loops, hash)
	m.mu.Unlock()
}

// process executes one task and retires it. Execution errors and panics mark
// the task failed. Shutdown or a lost lease cancels loopCtx and leaves the
// task processing for whichever loop owns the hash next.
func (m *WorkerManager) process(loopCtx context.Context, t *AITask) {
	log := m.logger.With(
		slog.String("task_id", t.ID.String()),
		slog.String("task_type", string(t.Type)),
		slog.String("api_key_hash", t.APIKeyHash),
	)
	if t.ReviewTargetID != nil {
		log = log.With(slog.String("review_target_id", t.ReviewTargetID.String()))
	}

	ctx, span := otel.Tracer("docreview/task").Start(loopCtx, "task.execute",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("task.id", t.ID.String()),
			attribute.String("task.type", string(t.Type)),
		))
	defer span.End()

	ctx = logger.WithLogger(ctx, log)
	ctx, release := m.cancels.Register(ctx, t.ID)
	defer release()

	start := time.Now()
	err := m.safeExecute(ctx, t)

	if loopCtx.Err() != nil {
		log.Warn("task interrupted", slog.Any("error", err))
		return
	}

	// The task context may already be cancelled by a deletion.
	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ferr := m.queue.FailTask(finishCtx, t.ID, redact.Error(err)); ferr != nil {
			log.Error("failed to mark task failed", slog.Any("error", ferr))
		}
		return
	}
	if cerr := m.queue.CompleteTask(finishCtx, t.ID); cerr != nil {
		log.Error("failed to mark task completed", slog.Any("error", cerr))
		return
	}
	log.Debug("task processed", slog.Duration("duration", time.Since(start)))
}

func (m *WorkerManager) safeExecute(ctx context.Context, t *AITask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return m.executor.Execute(ctx, t)
}
