package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/phrazzld/docreview-api/internal/config"
	"github.com/phrazzld/docreview-api/internal/credential"
	"github.com/phrazzld/docreview-api/internal/platform/blob"
	"github.com/phrazzld/docreview-api/internal/platform/extract"
	"github.com/phrazzld/docreview-api/internal/platform/gemini"
	"github.com/phrazzld/docreview-api/internal/platform/metrics"
	"github.com/phrazzld/docreview-api/internal/platform/postgres"
	"github.com/phrazzld/docreview-api/internal/platform/redislock"
	"github.com/phrazzld/docreview-api/internal/platform/tokenizer"
	"github.com/phrazzld/docreview-api/internal/platform/tracing"
	"github.com/phrazzld/docreview-api/internal/review"
	"github.com/phrazzld/docreview-api/internal/service"
	"github.com/phrazzld/docreview-api/internal/task"
)

// tokenEncoding is the tiktoken encoding used to size document chunks.
const tokenEncoding = "cl100k_base"

// application holds the shared dependencies and releases them on shutdown.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	db      *sql.DB
	redis   *redis.Client
	tracing *tracing.Provider
	keyring *credential.Keyring

	queue   *task.QueueService
	workers *task.WorkerManager

	// Entry points for the review surface.
	reviews  *service.ReviewService
	retries  *service.RetryPlanner
	cleanups *service.CleanupService
	stranded *service.StrandedSweeper
}

// newApplication connects to infrastructure and wires the queue, engine and
// services together. Nothing is started until run.
func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger) (app *application, err error) {
	app = &application{config: cfg, logger: log}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	metrics.MustRegister()

	app.tracing, err = tracing.Init(ctx, tracing.Config{
		Enabled:  cfg.Tracing.Enabled,
		Exporter: cfg.Tracing.Exporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	app.db, err = postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	app.db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, app.db, "up", log); err != nil {
			return nil, err
		}
	}

	var locker task.Locker
	if cfg.Redis.URL != "" {
		app.redis, err = redislock.Open(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		locker = redislock.New(app.redis, cfg.Redis.KeyspacePrefix, cfg.Redis.LockTTL, log)
		log.Info("redis worker lease enabled")
	}

	blobs, err := blob.NewStore(cfg.Storage.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	reviewStore := postgres.NewReviewStore(app.db, log)
	checklistStore := postgres.NewChecklistStore(app.db)
	spaceStore := postgres.NewSpaceStore(app.db, log)

	app.queue, err = task.NewQueueService(postgres.NewTaskStore(app.db, log), blobs, cfg.Queue.DefaultPriority, log)
	if err != nil {
		return nil, err
	}

	app.keyring = credential.NewKeyring(cfg.LLM.APIKeys...)
	models := review.ReviewerSource(gemini.NewFactory(app.keyring, cfg.LLM, log), log)
	extractor := extract.New(blobs)

	engine, err := review.NewEngine(reviewStore, blobs, extractor, models,
		tokenizer.New(tokenEncoding, log),
		review.Config{
			FanOut:           cfg.Queue.LargeFanOut,
			ChunkTokenLimit:  cfg.Queue.ChunkTokenLimit,
			MaxImagesPerCall: cfg.Queue.MaxImagesPerCall,
		}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create review engine: %w", err)
	}
	generator, err := review.NewChecklistGenerator(checklistStore, extractor, models, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create checklist generator: %w", err)
	}

	dispatcher := task.NewDispatcher()
	dispatcher.Register(engine, task.TaskTypeSmallReview, task.TaskTypeLargeReview)
	dispatcher.Register(generator, task.TaskTypeChecklistGeneration)

	cancels := task.NewCancellationRegistry()
	app.workers, err = task.NewWorkerManager(app.queue, dispatcher, cancels, locker,
		task.WorkerManagerConfig{ReconcileInterval: cfg.Queue.ReconcileInterval}, log)
	if err != nil {
		return nil, err
	}

	if app.reviews, err = service.NewReviewService(reviewStore, checklistStore, app.queue, app.workers, log); err != nil {
		return nil, err
	}
	if app.retries, err = service.NewRetryPlanner(reviewStore, checklistStore, app.queue, app.workers, log); err != nil {
		return nil, err
	}
	app.cleanups, err = service.NewCleanupService(reviewStore, spaceStore, app.queue, cancels, blobs, review.CacheDir, log)
	if err != nil {
		return nil, err
	}
	if app.stranded, err = service.NewStrandedSweeper(reviewStore, app.queue, cfg.Queue.StrandedAfter, log); err != nil {
		return nil, err
	}
	return app, nil
}

// run starts the worker loops and serves the operations endpoint until ctx
// is cancelled.
func (app *application) run(ctx context.Context) error {
	if err := app.workers.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	spec := fmt.Sprintf("@every %s", app.config.Queue.ReconcileInterval)
	if err := app.workers.AddJob(spec, "stranded target sweep", app.stranded.Run); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           newOpsRouter(app.queue, app.workers, app.keyring, app.db, app.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("starting operations server", slog.Int("port", app.config.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		app.logger.Info("shutting down")
	case serveErr = <-errCh:
		app.logger.Error("operations server failed", slog.Any("error", serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server shutdown failed", slog.Any("error", err))
	}
	app.workers.Stop()
	return serveErr
}

// cleanup releases infrastructure connections. It is safe on a partially
// constructed application.
func (app *application) cleanup() {
	if app.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.tracing.Shutdown(ctx); err != nil {
			app.logger.Error("failed to flush traces", slog.Any("error", err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("failed to close redis client", slog.Any("error", err))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database connection", slog.Any("error", err))
		}
	}
}
