package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/phrazzld/docreview-api/internal/config"
	"github.com/phrazzld/docreview-api/internal/generation"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"google.golang.org/genai"
)

// contentGenerator is the subset of genai.Models used by the evaluator.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Evaluator implements generation.Evaluator on the Gemini API.
type Evaluator struct {
	models contentGenerator
	config config.LLMConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

var _ generation.Evaluator = (*Evaluator)(nil)

// NewEvaluator creates an Evaluator with its own genai client for apiKey.
func NewEvaluator(ctx context.Context, apiKey string, cfg config.LLMConfig, log *slog.Logger) (*Evaluator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}
	return newEvaluator(client.Models, cfg, log), nil
}

func newEvaluator(models contentGenerator, cfg config.LLMConfig, log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{
		models: models,
		config: cfg,
		logger: log.With(slog.String("component", "gemini_evaluator")),
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Evaluate sends prompt and parts to the model and returns the JSON it replies
// with. Transient failures are retried with exponential backoff and jitter;
// blocked or malformed responses are returned immediately.
func (e *Evaluator) Evaluate(ctx context.Context, prompt string, parts []generation.Part) (json.RawMessage, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt cannot be empty", generation.ErrGenerationFailed)
	}
	log := logger.FromContextOrDefault(ctx, e.logger)

	contents := []*genai.Content{{Role: string(genai.RoleUser), Parts: toGenAIParts(prompt, parts)}}
	genConfig := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	maxRetries := e.config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 3
	}
	baseDelaySeconds := e.config.RetryDelaySeconds
	if baseDelaySeconds < 1 {
		baseDelaySeconds = 2
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 0; ; attempt++ {
		callCtx, cancel := e.callContext(ctx)
		resp, err := e.models.GenerateContent(callCtx, e.config.ModelName, contents, genConfig)
		cancel()

		var raw json.RawMessage
		if err == nil {
			raw, err = extract(resp)
			if err == nil {
				return raw, nil
			}
		} else {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", generation.ErrTransientFailure, ctx.Err())
			}
			err = fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		}

		log.Warn("Gemini API call failed", slog.Int("attempt", attempt+1), slog.Any("error", err))

		if errors.Is(err, generation.ErrContentBlocked) || errors.Is(err, generation.ErrInvalidResponse) {
			return nil, err
		}
		if attempt >= maxRetries {
			return nil, fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				generation.ErrTransientFailure, maxRetries, err)
		}

		// delay = baseDelay * (2^attempt) * (0.5 + rand(0, 0.5))
		backoff := float64(baseDelaySeconds) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + rng.Float64()*0.5) * float64(time.Second))
		if err := e.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		}
	}
}

func (e *Evaluator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, e.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func toGenAIParts(prompt string, parts []generation.Part) []*genai.Part {
	out := make([]*genai.Part, 0, len(parts)+1)
	out = append(out, &genai.Part{Text: prompt})
	for _, p := range parts {
		if len(p.Data) > 0 {
			out = append(out, &genai.Part{InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Data}})
			continue
		}
		if p.Text != "" {
			out = append(out, &genai.Part{Text: p.Text})
		}
	}
	return out
}

// extract pulls the JSON text out of the first candidate.
func extract(resp *genai.GenerateContentResponse) (json.RawMessage, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: prompt blocked: %s", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}
	if cand.Content == nil {
		return nil, fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	text := generation.ExtractJSON(sb.String())
	if text == "" {
		return nil, fmt.Errorf("%w: response is not JSON", generation.ErrInvalidResponse)
	}
	return json.RawMessage(text), nil
}
