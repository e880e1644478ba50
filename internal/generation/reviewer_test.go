package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEvaluator struct {
	prompts []string
	parts   [][]Part
	reply   string
	err     error
}

func (e *recordingEvaluator) Evaluate(_ context.Context, prompt string, parts []Part) (json.RawMessage, error) {
	e.prompts = append(e.prompts, prompt)
	e.parts = append(e.parts, parts)
	if e.err != nil {
		return nil, e.err
	}
	return json.RawMessage(e.reply), nil
}

func snapshots(n int) []domain.ChecklistSnapshot {
	out := make([]domain.ChecklistSnapshot, n)
	for i := range out {
		out[i] = domain.ChecklistSnapshot{ID: uuid.New(), Content: fmt.Sprintf("item %d", i)}
	}
	return out
}

func TestReviewer_ReviewChecklist(t *testing.T) {
	items := snapshots(2)
	stranger := uuid.New()
	ev := &recordingEvaluator{reply: fmt.Sprintf(`{"results":[
		{"checklist_id":"%s","evaluation":" A ","comment":"fine"},
		{"checklist_id":"%s","evaluation":"B","comment":"not asked"},
		{"checklist_id":"not-a-uuid","evaluation":"C","comment":"junk"}
	]}`, items[0].ID, stranger)}

	r := NewReviewer(ev, logger.Discard())
	settings := domain.ReviewSettings{AdditionalInstructions: "be strict", CommentFormat: "bullet points"}
	docs := []Document{
		{Name: "a.txt", Text: "alpha"},
		{Name: "scan.pdf", Images: []Image{{MIMEType: "image/png", Data: []byte{1}}}},
	}

	got, err := r.ReviewChecklist(context.Background(), items, docs, settings)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[items[0].ID].Evaluation)
	assert.Equal(t, "fine", got[items[0].ID].Comment)

	require.Len(t, ev.prompts, 1)
	prompt := ev.prompts[0]
	assert.Contains(t, prompt, items[0].ID.String())
	assert.Contains(t, prompt, "item 1")
	assert.Contains(t, prompt, "be strict")
	assert.Contains(t, prompt, "bullet points")
	assert.Contains(t, prompt, "- A:")

	parts := ev.parts[0]
	require.Len(t, parts, 3)
	assert.Contains(t, parts[0].Text, "alpha")
	assert.Equal(t, "Document: scan.pdf", parts[1].Text)
	assert.Equal(t, "image/png", parts[2].MIMEType)
}

func TestReviewer_ReviewDocumentAndConsolidate(t *testing.T) {
	items := snapshots(1)
	ev := &recordingEvaluator{reply: fmt.Sprintf(`{"results":[{"checklist_id":"%s","comment":"mentions it"}]}`, items[0].ID)}
	r := NewReviewer(ev, nil)

	found, err := r.ReviewDocument(context.Background(), items, Document{Name: "doc (part 1/2)", Text: "x"}, domain.ReviewSettings{})
	require.NoError(t, err)
	assert.Equal(t, "mentions it", found[items[0].ID].Comment)
	assert.Contains(t, ev.prompts[0], "doc (part 1/2)")

	ev.reply = fmt.Sprintf(`{"results":[{"checklist_id":"%s","evaluation":"B","comment":"overall"}]}`, items[0].ID)
	verdicts, err := r.Consolidate(context.Background(), []ItemFindings{{
		Item: items[0],
		Notes: []DocumentNote{
			{DocumentName: "a", Comment: "yes"},
			{DocumentName: "b", Comment: "no"},
			{DocumentName: "c", Unavailable: "review of c failed: timeout"},
		},
	}}, domain.ReviewSettings{})
	require.NoError(t, err)
	assert.Equal(t, "B", verdicts[items[0].ID].Evaluation)
	assert.Contains(t, ev.prompts[1], "a: yes")
	assert.Contains(t, ev.prompts[1], "b: no")
	assert.Contains(t, ev.prompts[1], "c: (no finding available: review of c failed: timeout)")
	assert.Empty(t, ev.parts[1])
}

func TestReviewer_Errors(t *testing.T) {
	items := snapshots(1)

	t.Run("evaluator failure", func(t *testing.T) {
		cause := errors.New("quota exceeded")
		r := NewReviewer(&recordingEvaluator{err: cause}, nil)
		_, err := r.ReviewChecklist(context.Background(), items, nil, domain.ReviewSettings{})
		assert.ErrorIs(t, err, cause)
	})

	t.Run("schema violation", func(t *testing.T) {
		r := NewReviewer(&recordingEvaluator{reply: `{"results":"nope"}`}, nil)
		_, err := r.ReviewChecklist(context.Background(), items, nil, domain.ReviewSettings{})
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})
}

func TestReviewer_Categorize(t *testing.T) {
	items := snapshots(2)
	ev := &recordingEvaluator{reply: fmt.Sprintf(`{"categories":[{"name":"x","checklist_ids":["%s","bogus"]}]}`, items[0].ID)}
	r := NewReviewer(ev, nil)

	cats, err := r.Categorize(context.Background(), items, 3)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, []string{items[0].ID.String(), "bogus"}, cats[0].ChecklistIDs)
	assert.Contains(t, ev.prompts[0], "at most 3 categories")
}

func TestReviewer_GenerateChecklist(t *testing.T) {
	r := NewReviewer(StaticJSON(map[string][]string{"items": {"Has a title", " Has a title ", "Is signed"}}), nil)
	items, err := r.GenerateChecklist(context.Background(), []Document{{Name: "a", Text: "b"}}, "focus on legal")
	require.NoError(t, err)
	assert.Equal(t, []string{"Has a title", "Is signed"}, items)

	r = NewReviewer(StaticJSON(map[string][]string{"items": {"  "}}), nil)
	_, err = r.GenerateChecklist(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
