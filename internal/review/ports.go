package review

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/generation"
	"github.com/phrazzld/docreview-api/internal/platform/extract"
)

// ReviewModel is the language model as seen by the engine.
// generation.Reviewer implements it.
type ReviewModel interface {
	ReviewChecklist(ctx context.Context, items []domain.ChecklistSnapshot, docs []generation.Document, settings domain.ReviewSettings) (map[uuid.UUID]generation.Verdict, error)
	ReviewDocument(ctx context.Context, items []domain.ChecklistSnapshot, doc generation.Document, settings domain.ReviewSettings) (map[uuid.UUID]generation.Finding, error)
	Consolidate(ctx context.Context, findings []generation.ItemFindings, settings domain.ReviewSettings) (map[uuid.UUID]generation.Verdict, error)
	Categorize(ctx context.Context, items []domain.ChecklistSnapshot, maxCategories int) ([]generation.Category, error)
	GenerateChecklist(ctx context.Context, docs []generation.Document, instructions string) ([]string, error)
}

var _ ReviewModel = (*generation.Reviewer)(nil)

// ModelSource resolves the model bound to a credential hash.
type ModelSource interface {
	ForAPIKeyHash(ctx context.Context, hash string) (ReviewModel, error)
}

// ModelSourceFunc adapts a function to ModelSource.
type ModelSourceFunc func(ctx context.Context, hash string) (ReviewModel, error)

// ForAPIKeyHash implements ModelSource.
func (f ModelSourceFunc) ForAPIKeyHash(ctx context.Context, hash string) (ReviewModel, error) {
	return f(ctx, hash)
}

// EvaluatorSource resolves a raw evaluator per credential hash.
type EvaluatorSource interface {
	ForAPIKeyHash(ctx context.Context, hash string) (generation.Evaluator, error)
}

// ReviewerSource wraps the evaluator of each hash in a generation.Reviewer.
func ReviewerSource(evaluators EvaluatorSource, log *slog.Logger) ModelSource {
	return ModelSourceFunc(func(ctx context.Context, hash string) (ReviewModel, error) {
		ev, err := evaluators.ForAPIKeyHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		return generation.NewReviewer(ev, log), nil
	})
}

// BlobStore holds task uploads and document caches.
type BlobStore interface {
	extract.Reader
	Write(ctx context.Context, path string, data []byte) error
	RemoveAll(ctx context.Context, path string) error
}

// Extractor turns a stored upload into a document.
type Extractor interface {
	Extract(ctx context.Context, src extract.Source) (generation.Document, error)
}
