package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/generation"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/platform/metrics"
	"github.com/phrazzld/docreview-api/internal/platform/tokenizer"
	"github.com/phrazzld/docreview-api/internal/redact"
	"github.com/phrazzld/docreview-api/internal/store"
	"github.com/phrazzld/docreview-api/internal/task"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("docreview/review")

// Config tunes the execution engine.
type Config struct {
	// FanOut bounds concurrent model calls within one task.
	FanOut int
	// ChunkTokenLimit is the largest text unit sent in one large-review call.
	ChunkTokenLimit int
	// MaxImagesPerCall is the largest page image group sent in one call.
	MaxImagesPerCall int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{FanOut: 4, ChunkTokenLimit: 60000, MaxImagesPerCall: 20}
}

// Engine runs review tasks. It implements task.Executor for the review task types.
type Engine struct {
	reviews   store.ReviewStore
	blobs     BlobStore
	extractor Extractor
	models    ModelSource
	chunker   chunker
	config    Config
	logger    *slog.Logger
}

var _ task.Executor = (*Engine)(nil)

// NewEngine creates an Engine.
func NewEngine(
	reviews store.ReviewStore,
	blobs BlobStore,
	extractor Extractor,
	models ModelSource,
	counter tokenizer.Counter,
	config Config,
	log *slog.Logger,
) (*Engine, error) {
	if reviews == nil {
		return nil, fmt.Errorf("review store cannot be nil")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store cannot be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if models == nil {
		return nil, fmt.Errorf("model source cannot be nil")
	}
	if counter == nil {
		counter = tokenizer.Runes{}
	}
	if config.FanOut <= 0 {
		config.FanOut = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		reviews:   reviews,
		blobs:     blobs,
		extractor: extractor,
		models:    models,
		chunker: chunker{
			counter:          counter,
			tokenLimit:       config.ChunkTokenLimit,
			maxImagesPerCall: config.MaxImagesPerCall,
		},
		config: config,
		logger: log.With(slog.String("component", "review_engine")),
	}, nil
}

// Execute implements task.Executor. Per-item failures become error results
// and do not fail the task. A systemic failure (no model credential, content
// acquisition) writes error results for every item, moves the target to
// error and is returned so the task is marked failed.
func (e *Engine) Execute(ctx context.Context, t *task.AITask) error {
	p, ok := t.Payload.(*task.ReviewPayload)
	if !ok {
		return fmt.Errorf("%w: %s task carries %T", task.ErrInvalidPayload, t.Type, t.Payload)
	}
	log := logger.FromContextOrDefault(ctx, e.logger).With(
		slog.String("review_target_id", p.ReviewTargetID.String()),
		slog.String("review_type", string(p.ReviewType)),
		slog.Bool("is_retry", p.IsRetry),
	)
	ctx = logger.WithLogger(ctx, log)

	target, err := e.reviews.GetReviewTarget(ctx, p.ReviewTargetID)
	if err != nil {
		if errors.Is(err, store.ErrReviewTargetNotFound) {
			return domain.NewError(domain.CodeReviewTargetNotFound, "review target no longer exists", err)
		}
		return fmt.Errorf("load review target: %w", err)
	}
	if target.Status != domain.ReviewStatusReviewing {
		if err := target.StartReviewing(); err != nil {
			return err
		}
		if err := e.reviews.UpdateReviewTarget(ctx, target); err != nil {
			return fmt.Errorf("mark target reviewing: %w", err)
		}
	} else {
		log.Info("resuming review interrupted while reviewing")
	}

	model, err := e.models.ForAPIKeyHash(ctx, t.APIKeyHash)
	if err != nil {
		return e.abort(ctx, target, p, err)
	}

	docs, err := e.acquireContent(ctx, target, p, t.Files)
	if err != nil {
		return e.abort(ctx, target, p, err)
	}

	var results []*domain.ReviewResult
	switch p.ReviewType {
	case domain.ReviewTypeLarge:
		results = e.runLarge(ctx, model, target, p, docs)
	default:
		results = e.runSmall(ctx, model, target, p, docs)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("review cancelled: %w", err)
	}
	return e.finish(ctx, target, p, results, false)
}

// abort records a systemic failure: every item in scope gets an error result.
func (e *Engine) abort(ctx context.Context, target *domain.ReviewTarget, p *task.ReviewPayload, cause error) error {
	logger.FromContextOrDefault(ctx, e.logger).Error("review aborted", slog.Any("error", cause))
	if ctx.Err() != nil {
		return fmt.Errorf("review cancelled: %w", cause)
	}
	results := errorResults(target.ID, p.ChecklistItems, cause.Error())
	if err := e.finish(ctx, target, p, results, true); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// finish writes results and the target status in one step. The target is
// completed when at least one successful result exists for it after the
// write, otherwise it moves to error. A systemic failure always moves it to
// error.
func (e *Engine) finish(
	ctx context.Context,
	target *domain.ReviewTarget,
	p *task.ReviewPayload,
	results []*domain.ReviewResult,
	systemic bool,
) error {
	existing, err := e.reviews.FindResults(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("load existing results: %w", err)
	}
	superseded := make(map[uuid.UUID]bool, len(p.ResultsToDeleteIDs))
	for _, id := range p.ResultsToDeleteIDs {
		superseded[id] = true
	}

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.IsFailed() {
			failed++
		} else {
			succeeded++
		}
	}
	anySuccess := succeeded > 0
	for _, r := range existing {
		if !superseded[r.ID] && !r.IsFailed() {
			anySuccess = true
		}
	}

	if anySuccess && !systemic {
		err = target.Complete()
	} else {
		err = target.Fail()
	}
	if err != nil {
		return err
	}

	if err := e.reviews.ReplaceResults(ctx, target, p.ResultsToDeleteIDs, results); err != nil {
		return fmt.Errorf("write review results: %w", err)
	}
	metrics.ReviewResultsWritten(succeeded, failed)
	logger.FromContextOrDefault(ctx, e.logger).Info("review finished",
		slog.String("status", string(target.Status)),
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
		slog.Int("superseded", len(p.ResultsToDeleteIDs)))
	return nil
}

// verdictResults converts model verdicts into one result per item.
func verdictResults(
	targetID uuid.UUID,
	items []domain.ChecklistSnapshot,
	verdicts map[uuid.UUID]generation.Verdict,
	settings domain.ReviewSettings,
) []*domain.ReviewResult {
	out := make([]*domain.ReviewResult, 0, len(items))
	for _, it := range items {
		v, ok := verdicts[it.ID]
		switch {
		case !ok:
			out = append(out, domain.NewErrorResult(targetID, it, "no result returned for checklist item"))
		case !settings.IsAllowedEvaluation(v.Evaluation):
			out = append(out, domain.NewErrorResult(targetID, it, fmt.Sprintf("invalid evaluation label %q", v.Evaluation)))
		default:
			out = append(out, domain.NewSuccessResult(targetID, it, v.Evaluation, v.Comment))
		}
	}
	return out
}

func errorResults(targetID uuid.UUID, items []domain.ChecklistSnapshot, message string) []*domain.ReviewResult {
	out := make([]*domain.ReviewResult, 0, len(items))
	for _, it := range items {
		out = append(out, domain.NewErrorResult(targetID, it, redact.String(message)))
	}
	return out
}

func spanAttrs(target *domain.ReviewTarget) attribute.KeyValue {
	return attribute.String("review_target.id", target.ID.String())
}
