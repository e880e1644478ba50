package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/docreview-api/internal/config"
	"github.com/phrazzld/docreview-api/internal/credential"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/generation"
)

// Factory resolves one Evaluator per apiKeyHash from a keyring and caches it.
type Factory struct {
	keyring *credential.Keyring
	config  config.LLMConfig
	logger  *slog.Logger
	newEval func(ctx context.Context, apiKey string) (generation.Evaluator, error)

	mu    sync.Mutex
	cache map[string]generation.Evaluator
}

// NewFactory creates a Factory.
func NewFactory(keyring *credential.Keyring, cfg config.LLMConfig, log *slog.Logger) *Factory {
	f := &Factory{
		keyring: keyring,
		config:  cfg,
		logger:  log,
		cache:   make(map[string]generation.Evaluator),
	}
	f.newEval = func(ctx context.Context, apiKey string) (generation.Evaluator, error) {
		return NewEvaluator(ctx, apiKey, f.config, f.logger)
	}
	return f
}

// ForAPIKeyHash returns the evaluator for hash. An unknown hash yields an
// AI_CONFIG_MISSING domain error.
func (f *Factory) ForAPIKeyHash(ctx context.Context, hash string) (generation.Evaluator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev, ok := f.cache[hash]; ok {
		return ev, nil
	}
	apiKey, err := f.keyring.Lookup(hash)
	if err != nil {
		if errors.Is(err, credential.ErrUnknownHash) {
			return nil, domain.NewError(domain.CodeAIConfigMissing,
				fmt.Sprintf("no language model credential configured for %s", hash), domain.ErrAIConfigMissing)
		}
		return nil, err
	}
	ev, err := f.newEval(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	f.cache[hash] = ev
	return ev, nil
}
