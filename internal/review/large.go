package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/generation"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/redact"
	"github.com/phrazzld/docreview-api/internal/task"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// unitFindings holds the outcome of one category reviewed against one unit.
type unitFindings struct {
	unit     string
	findings map[uuid.UUID]generation.Finding
	err      error
}

// runLarge reviews each document unit separately, persists the per-unit
// traces and then consolidates the findings into one verdict per item.
// Consolidation starts only after every unit call has finished.
func (e *Engine) runLarge(
	ctx context.Context,
	model ReviewModel,
	target *domain.ReviewTarget,
	p *task.ReviewPayload,
	docs []generation.Document,
) []*domain.ReviewResult {
	ctx, span := tracer.Start(ctx, "review.large")
	defer span.End()

	units := e.chunker.split(docs)
	groups := e.partition(ctx, model, p.ChecklistItems, p.ReviewSettings.ConcurrentReviewItems)
	span.SetAttributes(spanAttrs(target),
		attribute.Int("documents", len(docs)),
		attribute.Int("units", len(units)),
		attribute.Int("categories", len(groups)))

	// scatter
	scattered := make([][]unitFindings, len(groups))
	for i := range scattered {
		scattered[i] = make([]unitFindings, len(units))
	}
	var g errgroup.Group
	g.SetLimit(e.config.FanOut)
	for gi, items := range groups {
		for ui, unit := range units {
			g.Go(func() error {
				scattered[gi][ui] = e.reviewUnit(ctx, model, items, unit, p.ReviewSettings)
				return nil
			})
		}
	}
	_ = g.Wait()

	e.saveTraces(ctx, target.ID, groups, scattered)

	// gather
	out := make([][]*domain.ReviewResult, len(groups))
	var cg errgroup.Group
	cg.SetLimit(e.config.FanOut)
	for gi, items := range groups {
		cg.Go(func() error {
			out[gi] = e.consolidate(ctx, model, target, p.ReviewSettings, items, scattered[gi])
			return nil
		})
	}
	_ = cg.Wait()
	return flatten(out)
}

func (e *Engine) reviewUnit(
	ctx context.Context,
	model ReviewModel,
	items []domain.ChecklistSnapshot,
	unit generation.Document,
	settings domain.ReviewSettings,
) unitFindings {
	res := unitFindings{unit: unit.Name}
	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}
	ctx, span := tracer.Start(ctx, "review.document")
	defer span.End()
	span.SetAttributes(attribute.String("document", unit.Name), attribute.Int("items", len(items)))

	res.findings, res.err = model.ReviewDocument(ctx, items, unit, settings)
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		logger.FromContextOrDefault(ctx, e.logger).Warn("document review failed",
			slog.String("document", unit.Name),
			slog.Any("error", res.err))
	}
	return res
}

// saveTraces records one individual result per item and unit. Traces are an
// audit record; failing to store them does not fail the review.
func (e *Engine) saveTraces(
	ctx context.Context,
	targetID uuid.UUID,
	groups [][]domain.ChecklistSnapshot,
	scattered [][]unitFindings,
) {
	now := time.Now().UTC()
	var traces []*domain.IndividualResult
	for gi, items := range groups {
		for _, uf := range scattered[gi] {
			for _, it := range items {
				tr := &domain.IndividualResult{
					ID:              uuid.New(),
					ReviewTargetID:  targetID,
					CheckListItemID: it.ID,
					DocumentName:    uf.unit,
					CreatedAt:       now,
				}
				if msg := unitError(uf, it); msg != "" {
					tr.ErrorMessage = msg
				} else {
					tr.Comment = uf.findings[it.ID].Comment
				}
				traces = append(traces, tr)
			}
		}
	}
	if len(traces) == 0 {
		return
	}
	if err := e.reviews.SaveIndividualResults(ctx, traces); err != nil {
		logger.FromContextOrDefault(ctx, e.logger).Error("failed to save individual results",
			slog.Int("count", len(traces)),
			slog.Any("error", err))
	}
}

// unitError describes why a unit produced no finding for an item, or "".
func unitError(uf unitFindings, item domain.ChecklistSnapshot) string {
	if uf.err != nil {
		return fmt.Sprintf("review of %s failed: %s", uf.unit, redact.Error(uf.err))
	}
	if _, ok := uf.findings[item.ID]; !ok {
		return fmt.Sprintf("no finding returned for %s", uf.unit)
	}
	return ""
}

// consolidate merges the unit findings of one category. Units that failed
// for an item are passed along as unavailable notes; an item with no finding
// from any unit gets an error result instead of a verdict.
func (e *Engine) consolidate(
	ctx context.Context,
	model ReviewModel,
	target *domain.ReviewTarget,
	settings domain.ReviewSettings,
	items []domain.ChecklistSnapshot,
	units []unitFindings,
) []*domain.ReviewResult {
	var (
		results   []*domain.ReviewResult
		evidenced []domain.ChecklistSnapshot
		findings  []generation.ItemFindings
	)
	for _, it := range items {
		f := generation.ItemFindings{Item: it}
		var firstErr string
		found := 0
		for _, uf := range units {
			note := generation.DocumentNote{DocumentName: uf.unit}
			if msg := unitError(uf, it); msg != "" {
				if firstErr == "" {
					firstErr = msg
				}
				note.Unavailable = msg
			} else {
				note.Comment = uf.findings[it.ID].Comment
				found++
			}
			f.Notes = append(f.Notes, note)
		}
		if found == 0 {
			results = append(results, domain.NewErrorResult(target.ID, it, firstErr))
			continue
		}
		evidenced = append(evidenced, it)
		findings = append(findings, f)
	}
	if len(evidenced) == 0 {
		return results
	}
	if err := ctx.Err(); err != nil {
		return append(results, errorResults(target.ID, evidenced, "review cancelled")...)
	}

	ctx, span := tracer.Start(ctx, "review.consolidate")
	defer span.End()
	span.SetAttributes(attribute.Int("items", len(evidenced)))

	verdicts, err := model.Consolidate(ctx, findings, settings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.FromContextOrDefault(ctx, e.logger).Warn("consolidation failed",
			slog.Int("item_count", len(evidenced)),
			slog.Any("error", err))
		return append(results, errorResults(target.ID, evidenced, fmt.Sprintf("consolidation failed: %v", err))...)
	}
	return append(results, verdictResults(target.ID, evidenced, verdicts, settings)...)
}
