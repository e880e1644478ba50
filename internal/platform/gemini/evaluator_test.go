package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/docreview-api/internal/config"
	"github.com/phrazzld/docreview-api/internal/credential"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/generation"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	calls     int
	responses []*genai.GenerateContentResponse
	errs      []error
	lastParts []*genai.Part
	lastCfg   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(
	_ context.Context,
	_ string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	i := f.calls
	f.calls++
	f.lastParts = contents[0].Parts
	f.lastCfg = cfg
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var resp *genai.GenerateContentResponse
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return resp, err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: text}}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func testEvaluator(models contentGenerator) *Evaluator {
	e := newEvaluator(models, config.LLMConfig{ModelName: "test-model", MaxRetries: 2, RetryDelaySeconds: 1}, logger.Discard())
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestEvaluate_Success(t *testing.T) {
	models := &fakeModels{responses: []*genai.GenerateContentResponse{textResponse("```json\n{\"ok\":true}\n```")}}
	e := testEvaluator(models)

	raw, err := e.Evaluate(context.Background(), "prompt", []generation.Part{
		generation.TextPart("doc"),
		generation.DataPart("image/png", []byte{1, 2}),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	require.Len(t, models.lastParts, 3)
	assert.Equal(t, "prompt", models.lastParts[0].Text)
	assert.Equal(t, "doc", models.lastParts[1].Text)
	assert.Equal(t, "image/png", models.lastParts[2].InlineData.MIMEType)
	assert.Equal(t, "application/json", models.lastCfg.ResponseMIMEType)
}

func TestEvaluate_RetriesTransientErrors(t *testing.T) {
	models := &fakeModels{
		errs:      []error{errors.New("503"), errors.New("503")},
		responses: []*genai.GenerateContentResponse{nil, nil, textResponse(`{"a":1}`)},
	}
	e := testEvaluator(models)

	raw, err := e.Evaluate(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))
	assert.Equal(t, 3, models.calls)
}

func TestEvaluate_GivesUpAfterMaxRetries(t *testing.T) {
	boom := errors.New("unavailable")
	models := &fakeModels{errs: []error{boom, boom, boom, boom}}
	e := testEvaluator(models)

	_, err := e.Evaluate(context.Background(), "prompt", nil)
	assert.ErrorIs(t, err, generation.ErrTransientFailure)
	assert.Equal(t, 3, models.calls)
}

func TestEvaluate_PermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		want error
	}{
		{"nil response", nil, generation.ErrInvalidResponse},
		{"no candidates", &genai.GenerateContentResponse{}, generation.ErrInvalidResponse},
		{"not json", textResponse("I cannot help with that"), generation.ErrInvalidResponse},
		{"safety", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}, generation.ErrContentBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models := &fakeModels{responses: []*genai.GenerateContentResponse{tt.resp}}
			_, err := testEvaluator(models).Evaluate(context.Background(), "prompt", nil)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, models.calls)
		})
	}
}

func TestEvaluate_EmptyPrompt(t *testing.T) {
	_, err := testEvaluator(&fakeModels{}).Evaluate(context.Background(), "  ", nil)
	assert.ErrorIs(t, err, generation.ErrGenerationFailed)
}

func TestEvaluate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	models := &fakeModels{errs: []error{context.Canceled}}
	_, err := testEvaluator(models).Evaluate(ctx, "prompt", nil)
	assert.ErrorIs(t, err, generation.ErrTransientFailure)
	assert.Equal(t, 1, models.calls)
}

func TestNewEvaluator_Validation(t *testing.T) {
	_, err := NewEvaluator(context.Background(), "", config.LLMConfig{ModelName: "m"}, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	_, err = NewEvaluator(context.Background(), "key", config.LLMConfig{}, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestFactory(t *testing.T) {
	keyring := credential.NewKeyring("known")
	f := NewFactory(keyring, config.LLMConfig{ModelName: "m"}, logger.Discard())
	built := 0
	f.newEval = func(context.Context, string) (generation.Evaluator, error) {
		built++
		return generation.StaticJSON(map[string]any{}), nil
	}

	ev1, err := f.ForAPIKeyHash(context.Background(), credential.Hash("known"))
	require.NoError(t, err)
	ev2, err := f.ForAPIKeyHash(context.Background(), credential.Hash("known"))
	require.NoError(t, err)
	assert.NotNil(t, ev1)
	assert.NotNil(t, ev2)
	assert.Equal(t, 1, built)

	_, err = f.ForAPIKeyHash(context.Background(), credential.Hash("unknown"))
	assert.Equal(t, domain.CodeAIConfigMissing, domain.CodeOf(err))
	assert.ErrorIs(t, err, domain.ErrAIConfigMissing)
}
