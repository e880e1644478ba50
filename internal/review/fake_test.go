package review

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/generation"
	"github.com/phrazzld/docreview-api/internal/platform/blob"
	"github.com/phrazzld/docreview-api/internal/platform/extract"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/platform/tokenizer"
	"github.com/phrazzld/docreview-api/internal/store/memory"
	"github.com/phrazzld/docreview-api/internal/task"
	"github.com/stretchr/testify/require"
)

var errModel = errors.New("model unavailable")

// fakeModel answers every call successfully unless a function field
// overrides the behaviour. Calls are counted per operation.
type fakeModel struct {
	mu    sync.Mutex
	calls map[string]int
	order []string

	ReviewChecklistFn   func(items []domain.ChecklistSnapshot, docs []generation.Document) (map[uuid.UUID]generation.Verdict, error)
	ReviewDocumentFn    func(items []domain.ChecklistSnapshot, doc generation.Document) (map[uuid.UUID]generation.Finding, error)
	ConsolidateFn       func(findings []generation.ItemFindings) (map[uuid.UUID]generation.Verdict, error)
	CategorizeFn        func(items []domain.ChecklistSnapshot, maxCategories int) ([]generation.Category, error)
	GenerateChecklistFn func(docs []generation.Document, instructions string) ([]string, error)
}

func newFakeModel() *fakeModel {
	return &fakeModel{calls: make(map[string]int)}
}

func (m *fakeModel) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	m.order = append(m.order, op)
}

func (m *fakeModel) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *fakeModel) sequence() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

func (m *fakeModel) ReviewChecklist(_ context.Context, items []domain.ChecklistSnapshot, docs []generation.Document, _ domain.ReviewSettings) (map[uuid.UUID]generation.Verdict, error) {
	m.record("review_checklist")
	if m.ReviewChecklistFn != nil {
		return m.ReviewChecklistFn(items, docs)
	}
	return verdictsFor(items, "A"), nil
}

func (m *fakeModel) ReviewDocument(_ context.Context, items []domain.ChecklistSnapshot, doc generation.Document, _ domain.ReviewSettings) (map[uuid.UUID]generation.Finding, error) {
	m.record("review_document")
	if m.ReviewDocumentFn != nil {
		return m.ReviewDocumentFn(items, doc)
	}
	out := make(map[uuid.UUID]generation.Finding, len(items))
	for _, it := range items {
		out[it.ID] = generation.Finding{ChecklistID: it.ID, Comment: doc.Name + " looks fine"}
	}
	return out, nil
}

func (m *fakeModel) Consolidate(_ context.Context, findings []generation.ItemFindings, _ domain.ReviewSettings) (map[uuid.UUID]generation.Verdict, error) {
	m.record("consolidate")
	if m.ConsolidateFn != nil {
		return m.ConsolidateFn(findings)
	}
	items := make([]domain.ChecklistSnapshot, 0, len(findings))
	for _, f := range findings {
		items = append(items, f.Item)
	}
	return verdictsFor(items, "B"), nil
}

func (m *fakeModel) Categorize(_ context.Context, items []domain.ChecklistSnapshot, maxCategories int) ([]generation.Category, error) {
	m.record("categorize")
	if m.CategorizeFn != nil {
		return m.CategorizeFn(items, maxCategories)
	}
	return nil, errModel
}

func (m *fakeModel) GenerateChecklist(_ context.Context, docs []generation.Document, instructions string) ([]string, error) {
	m.record("generate_checklist")
	if m.GenerateChecklistFn != nil {
		return m.GenerateChecklistFn(docs, instructions)
	}
	return []string{"Document has a title"}, nil
}

func verdictsFor(items []domain.ChecklistSnapshot, evaluation string) map[uuid.UUID]generation.Verdict {
	out := make(map[uuid.UUID]generation.Verdict, len(items))
	for _, it := range items {
		out[it.ID] = generation.Verdict{ChecklistID: it.ID, Evaluation: evaluation, Comment: "ok"}
	}
	return out
}

func snapshots(n int) []domain.ChecklistSnapshot {
	out := make([]domain.ChecklistSnapshot, n)
	for i := range out {
		out[i] = domain.ChecklistSnapshot{ID: uuid.New(), Content: "item " + string(rune('A'+i))}
	}
	return out
}

type fixture struct {
	store  *memory.Store
	blobs  *blob.Store
	model  *fakeModel
	engine *Engine
	target *domain.ReviewTarget
}

func newFixture(t *testing.T, reviewType domain.ReviewType) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		blobs: blob.NewMemStore(),
		model: newFakeModel(),
	}
	target, err := domain.NewReviewTarget(uuid.New(), "contract", reviewType, domain.ReviewSettings{})
	require.NoError(t, err)
	require.NoError(t, target.ToQueued())
	require.NoError(t, f.store.CreateReviewTarget(context.Background(), target))
	f.target = target

	models := ModelSourceFunc(func(context.Context, string) (ReviewModel, error) {
		return f.model, nil
	})
	cfg := DefaultConfig()
	cfg.ChunkTokenLimit = 1000
	f.engine, err = NewEngine(f.store, f.blobs, extract.New(f.blobs), models,
		tokenizer.Runes{}, cfg, logger.Discard())
	require.NoError(t, err)
	return f
}

// addTextFile stores a text upload and returns its file record.
func (f *fixture) addTextFile(t *testing.T, taskID uuid.UUID, name, text string) task.FileRecord {
	t.Helper()
	rec := task.FileRecord{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		FileName:    name,
		ProcessMode: domain.ProcessModeText,
	}
	rec.FilePath = taskID.String() + "/" + rec.ID
	require.NoError(t, f.blobs.Write(context.Background(), rec.FilePath, []byte(text)))
	return rec
}

// reviewTask builds a processing review task for the fixture's target.
func (f *fixture) reviewTask(t *testing.T, items []domain.ChecklistSnapshot, fileTexts ...string) *task.AITask {
	t.Helper()
	p := &task.ReviewPayload{
		ReviewTargetID: f.target.ID,
		ReviewSpaceID:  f.target.ReviewSpaceID,
		UserID:         uuid.New(),
		ChecklistItems: items,
		ReviewType:     f.target.ReviewType,
	}
	tk, err := task.NewAITask(task.TaskTypeForReview(f.target.ReviewType), "hash", 0, p)
	require.NoError(t, err)
	for i, text := range fileTexts {
		tk.Files = append(tk.Files, f.addTextFile(t, tk.ID, "doc"+string(rune('1'+i))+".txt", text))
	}
	return tk
}

func (f *fixture) results(t *testing.T) []*domain.ReviewResult {
	t.Helper()
	rs, err := f.store.FindResults(context.Background(), f.target.ID)
	require.NoError(t, err)
	return rs
}

func (f *fixture) status(t *testing.T) domain.ReviewStatus {
	t.Helper()
	tg, err := f.store.GetReviewTarget(context.Background(), f.target.ID)
	require.NoError(t, err)
	return tg.Status
}
