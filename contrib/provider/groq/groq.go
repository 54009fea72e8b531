// Package groq serves llm.Client from Groq's OpenAI-compatible endpoint.
package groq

import (
	"github.com/sweetpotato0/crag/contrib/provider/openai"
	"github.com/sweetpotato0/crag/llm"
)

// DefaultBaseURL is Groq's OpenAI-compatible API root.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// Config holds Groq provider configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// DefaultConfig returns default Groq configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "llama-3.3-70b-versatile",
		MaxTokens:   2048,
		Temperature: 0.1,
	}
}

// New creates a Groq client. Groq speaks the chat completions protocol,
// including JSON mode, so the OpenAI adapter does the work.
func New(config *Config) llm.Client {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = DefaultConfig("").Model
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return openai.New(&openai.Config{
		APIKey:      config.APIKey,
		BaseURL:     baseURL,
		Model:       config.Model,
		MaxTokens:   int64(config.MaxTokens),
		Temperature: config.Temperature,
	})
}
