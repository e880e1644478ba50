package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/generation"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/task"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// runSmall reviews every document at once, one model call per category.
func (e *Engine) runSmall(
	ctx context.Context,
	model ReviewModel,
	target *domain.ReviewTarget,
	p *task.ReviewPayload,
	docs []generation.Document,
) []*domain.ReviewResult {
	ctx, span := tracer.Start(ctx, "review.small")
	defer span.End()
	span.SetAttributes(spanAttrs(target), attribute.Int("documents", len(docs)))

	groups := e.partition(ctx, model, p.ChecklistItems, p.ReviewSettings.ConcurrentReviewItems)
	out := make([][]*domain.ReviewResult, len(groups))

	var g errgroup.Group
	g.SetLimit(e.config.FanOut)
	for i, items := range groups {
		g.Go(func() error {
			out[i] = e.reviewCategory(ctx, model, target, p.ReviewSettings, items, docs)
			return nil
		})
	}
	_ = g.Wait()
	return flatten(out)
}

func (e *Engine) reviewCategory(
	ctx context.Context,
	model ReviewModel,
	target *domain.ReviewTarget,
	settings domain.ReviewSettings,
	items []domain.ChecklistSnapshot,
	docs []generation.Document,
) []*domain.ReviewResult {
	if err := ctx.Err(); err != nil {
		return errorResults(target.ID, items, "review cancelled")
	}
	ctx, span := tracer.Start(ctx, "review.category")
	defer span.End()
	span.SetAttributes(attribute.Int("items", len(items)))

	verdicts, err := model.ReviewChecklist(ctx, items, docs, settings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.FromContextOrDefault(ctx, e.logger).Warn("category review failed",
			slog.Int("item_count", len(items)),
			slog.Any("error", err))
		return errorResults(target.ID, items, fmt.Sprintf("review failed: %v", err))
	}
	return verdictResults(target.ID, items, verdicts, settings)
}

func flatten[T any](groups [][]T) []T {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	out := make([]T, 0, n)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
