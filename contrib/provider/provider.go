// Package provider builds the configured language-model client.
package provider

import (
	"context"
	"fmt"

	"github.com/sweetpotato0/crag/config"
	"github.com/sweetpotato0/crag/contrib/provider/claude"
	"github.com/sweetpotato0/crag/contrib/provider/cohere"
	"github.com/sweetpotato0/crag/contrib/provider/gemini"
	"github.com/sweetpotato0/crag/contrib/provider/groq"
	"github.com/sweetpotato0/crag/contrib/provider/openai"
	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/llm"
)

// New returns the llm.Client selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.New(&openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   int64(cfg.MaxTokens),
			Temperature: cfg.Temperature,
		}), nil
	case config.ProviderClaude:
		return claude.New(&claude.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   int64(cfg.MaxTokens),
			Temperature: cfg.Temperature,
		}), nil
	case config.ProviderGemini:
		return gemini.New(ctx, &gemini.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: float32(cfg.Temperature),
		})
	case config.ProviderGroq:
		return groq.New(&groq.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}), nil
	case config.ProviderCohere:
		return cohere.New(&cohere.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}), nil
	default:
		return nil, errorskg.Wrap(errorskg.KindConfiguration, "provider", fmt.Errorf("unknown llm provider %q", cfg.Provider))
	}
}
