package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/generation"
	"github.com/phrazzld/docreview-api/internal/platform/extract"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/store"
	"github.com/phrazzld/docreview-api/internal/task"
)

// ChecklistGenerator derives checklist items for a review space from the
// documents attached to a checklist_generation task.
type ChecklistGenerator struct {
	checklists store.ChecklistStore
	extractor  Extractor
	models     ModelSource
	logger     *slog.Logger
}

var _ task.Executor = (*ChecklistGenerator)(nil)

// NewChecklistGenerator creates a ChecklistGenerator.
func NewChecklistGenerator(
	checklists store.ChecklistStore,
	extractor Extractor,
	models ModelSource,
	log *slog.Logger,
) (*ChecklistGenerator, error) {
	if checklists == nil {
		return nil, fmt.Errorf("checklist store cannot be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if models == nil {
		return nil, fmt.Errorf("model source cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &ChecklistGenerator{
		checklists: checklists,
		extractor:  extractor,
		models:     models,
		logger:     log.With(slog.String("component", "checklist_generator")),
	}, nil
}

// Execute implements task.Executor.
func (g *ChecklistGenerator) Execute(ctx context.Context, t *task.AITask) error {
	p, ok := t.Payload.(*task.ChecklistGenerationPayload)
	if !ok {
		return fmt.Errorf("%w: %s task carries %T", task.ErrInvalidPayload, t.Type, t.Payload)
	}
	if len(t.Files) == 0 {
		return domain.NewError(domain.CodeFilesEmpty, "checklist generation task has no files", domain.ErrFilesEmpty)
	}

	model, err := g.models.ForAPIKeyHash(ctx, t.APIKeyHash)
	if err != nil {
		return err
	}

	docs := make([]generation.Document, 0, len(t.Files))
	for _, f := range t.Files {
		doc, err := g.extractor.Extract(ctx, extract.Source{
			Name:        f.FileName,
			ProcessMode: f.ProcessMode,
			Path:        f.FilePath,
			ImageCount:  f.ConvertedImageCount,
		})
		if err != nil {
			return fmt.Errorf("extract documents: %w", err)
		}
		docs = append(docs, doc)
	}

	contents, err := model.GenerateChecklist(ctx, docs, p.Instructions)
	if err != nil {
		return fmt.Errorf("generate checklist: %w", err)
	}

	items := make([]*domain.ChecklistItem, 0, len(contents))
	for _, c := range contents {
		item, err := domain.NewChecklistItem(p.ReviewSpaceID, c)
		if err != nil {
			return err
		}
		items = append(items, item)
	}
	if err := g.checklists.CreateMultiple(ctx, items); err != nil {
		return fmt.Errorf("save checklist items: %w", err)
	}

	logger.FromContextOrDefault(ctx, g.logger).Info("checklist generated",
		slog.String("review_space_id", p.ReviewSpaceID.String()),
		slog.Int("item_count", len(items)))
	return nil
}
