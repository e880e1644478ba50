package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/platform/metrics"
)

// Verdict is the evaluated outcome for one checklist item.
type Verdict struct {
	ChecklistID uuid.UUID `json:"checklist_id"`
	Evaluation  string    `json:"evaluation"`
	Comment     string    `json:"comment"`
}

// Finding is the unevaluated observation about one checklist item in one document.
type Finding struct {
	ChecklistID uuid.UUID `json:"checklist_id"`
	Comment     string    `json:"comment"`
}

// DocumentNote is one document's finding, as input to consolidation.
type DocumentNote struct {
	DocumentName string
	Comment      string
	// Unavailable is set instead of Comment when the document produced no
	// finding for the item.
	Unavailable string
}

// ItemFindings collects every document note about one checklist item.
type ItemFindings struct {
	Item  domain.ChecklistSnapshot
	Notes []DocumentNote
}

// Category is a group of checklist items reviewed together. Ids are kept as
// returned by the model and may be unknown or malformed.
type Category struct {
	Name         string   `json:"name"`
	ChecklistIDs []string `json:"checklist_ids"`
}

// rawResult is a verdict or finding as decoded from model output.
type rawResult struct {
	ChecklistID string `json:"checklist_id"`
	Evaluation  string `json:"evaluation"`
	Comment     string `json:"comment"`
}

// Reviewer issues review prompts through an Evaluator and validates the
// results. Results for checklist ids that were not asked about are dropped.
type Reviewer struct {
	ev     Evaluator
	logger *slog.Logger
}

// NewReviewer creates a Reviewer over ev.
func NewReviewer(ev Evaluator, log *slog.Logger) *Reviewer {
	if log == nil {
		log = slog.Default()
	}
	return &Reviewer{ev: ev, logger: log.With(slog.String("component", "reviewer"))}
}

func (r *Reviewer) call(ctx context.Context, op, prompt string, parts []Part, v *schemaValidator, out any) error {
	start := time.Now()
	raw, err := r.ev.Evaluate(ctx, prompt, parts)
	if err == nil {
		err = v.decode(raw, out)
	}
	metrics.ObserveLLMCall(op, time.Since(start), err)
	if err != nil {
		logger.FromContextOrDefault(ctx, r.logger).Warn("model call failed",
			slog.String("operation", op),
			slog.Any("error", err))
		return err
	}
	return nil
}

// ReviewChecklist evaluates items against the full document context.
func (r *Reviewer) ReviewChecklist(
	ctx context.Context,
	items []domain.ChecklistSnapshot,
	docs []Document,
	settings domain.ReviewSettings,
) (map[uuid.UUID]Verdict, error) {
	prompt, err := renderPrompt("review", promptData{Items: items, Criteria: settings.Criteria(), Settings: settings})
	if err != nil {
		return nil, err
	}
	var out struct {
		Results []rawResult `json:"results"`
	}
	if err := r.call(ctx, "review", prompt, Parts(docs), verdictValidator, &out); err != nil {
		return nil, err
	}
	return indexVerdicts(items, out.Results), nil
}

// ReviewDocument records per-item findings for a single document or chunk.
func (r *Reviewer) ReviewDocument(
	ctx context.Context,
	items []domain.ChecklistSnapshot,
	doc Document,
	settings domain.ReviewSettings,
) (map[uuid.UUID]Finding, error) {
	prompt, err := renderPrompt("document", promptData{Items: items, Settings: settings, DocumentName: doc.Name})
	if err != nil {
		return nil, err
	}
	var out struct {
		Results []rawResult `json:"results"`
	}
	if err := r.call(ctx, "review_document", prompt, Parts([]Document{doc}), findingValidator, &out); err != nil {
		return nil, err
	}
	found := make(map[uuid.UUID]Finding, len(out.Results))
	for id, res := range indexResults(items, out.Results) {
		found[id] = Finding{ChecklistID: id, Comment: res.Comment}
	}
	return found, nil
}

// Consolidate turns per-document findings into one verdict per item.
func (r *Reviewer) Consolidate(
	ctx context.Context,
	findings []ItemFindings,
	settings domain.ReviewSettings,
) (map[uuid.UUID]Verdict, error) {
	items := make([]domain.ChecklistSnapshot, 0, len(findings))
	for _, f := range findings {
		items = append(items, f.Item)
	}
	prompt, err := renderPrompt("consolidate", promptData{
		Findings: findings,
		Criteria: settings.Criteria(),
		Settings: settings,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Results []rawResult `json:"results"`
	}
	if err := r.call(ctx, "consolidate", prompt, nil, verdictValidator, &out); err != nil {
		return nil, err
	}
	return indexVerdicts(items, out.Results), nil
}

// Categorize groups items into at most maxCategories categories. The raw
// grouping is returned as is; callers repair it.
func (r *Reviewer) Categorize(
	ctx context.Context,
	items []domain.ChecklistSnapshot,
	maxCategories int,
) ([]Category, error) {
	prompt, err := renderPrompt("categorize", promptData{Items: items, MaxCategories: maxCategories})
	if err != nil {
		return nil, err
	}
	var out struct {
		Categories []Category `json:"categories"`
	}
	if err := r.call(ctx, "categorize", prompt, nil, categoryValidator, &out); err != nil {
		return nil, err
	}
	return out.Categories, nil
}

// GenerateChecklist derives checklist item texts from documents.
func (r *Reviewer) GenerateChecklist(ctx context.Context, docs []Document, instructions string) ([]string, error) {
	prompt, err := renderPrompt("checklist", promptData{Instructions: instructions})
	if err != nil {
		return nil, err
	}
	var out struct {
		Items []string `json:"items"`
	}
	if err := r.call(ctx, "generate_checklist", prompt, Parts(docs), checklistValidator, &out); err != nil {
		return nil, err
	}
	items := make([]string, 0, len(out.Items))
	seen := make(map[string]struct{}, len(out.Items))
	for _, s := range out.Items {
		s = strings.TrimSpace(s)
		if _, dup := seen[s]; s == "" || dup {
			continue
		}
		seen[s] = struct{}{}
		items = append(items, s)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no checklist items generated", ErrInvalidResponse)
	}
	return items, nil
}

func idSet(items []domain.ChecklistSnapshot) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(items))
	for _, it := range items {
		set[it.ID] = struct{}{}
	}
	return set
}

// indexResults keys results by checklist id, dropping ids that are malformed
// or were not asked about. The first result for an id wins.
func indexResults(items []domain.ChecklistSnapshot, results []rawResult) map[uuid.UUID]rawResult {
	allowed := idSet(items)
	out := make(map[uuid.UUID]rawResult, len(results))
	for _, res := range results {
		id, err := uuid.Parse(strings.TrimSpace(res.ChecklistID))
		if err != nil {
			continue
		}
		if _, ok := allowed[id]; !ok {
			continue
		}
		if _, dup := out[id]; !dup {
			out[id] = res
		}
	}
	return out
}

func indexVerdicts(items []domain.ChecklistSnapshot, results []rawResult) map[uuid.UUID]Verdict {
	out := make(map[uuid.UUID]Verdict, len(results))
	for id, res := range indexResults(items, results) {
		out[id] = Verdict{ChecklistID: id, Evaluation: strings.TrimSpace(res.Evaluation), Comment: res.Comment}
	}
	return out
}

// StaticJSON returns an Evaluator that always answers with v encoded as JSON.
// It is intended for tests and local runs without model credentials.
func StaticJSON(v any) Evaluator {
	return EvaluatorFunc(func(context.Context, string, []Part) (json.RawMessage, error) {
		return json.Marshal(v)
	})
}
