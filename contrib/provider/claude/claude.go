package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/message"
)

const jsonInstruction = "Respond with a single JSON object and nothing else."

// Config holds Claude provider configuration
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns default Claude configuration
func DefaultConfig(apiKey, baseURL string) *Config {
	return &Config{
		APIKey:      apiKey,
		BaseURL:     baseURL,
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   2000,
		Temperature: 0.1,
	}
}

// Provider implements llm.Client with the Messages API.
type Provider struct {
	config *Config
	client anthropic.Client
}

var _ llm.Client = (*Provider)(nil)

// New creates a new Claude provider using official SDK
func New(config *Config) *Provider {
	if config.Model == "" {
		config.Model = "claude-sonnet-4-5-20250929"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2000
	}

	// retries are owned by pkg/retry
	options := []option.RequestOption{option.WithAPIKey(config.APIKey), option.WithMaxRetries(0)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// Complete implements llm.Client. JSON mode is requested through the system
// prompt since the Messages API has no response format switch.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (string, error) {
	if req == nil || len(req.Messages) == 0 {
		return "", errorskg.New(errorskg.KindValidation, "claude", "request has no messages")
	}

	system, turns := message.Split(req.Messages)
	if req.JSON {
		system = strings.TrimSpace(system + "\n" + jsonInstruction)
	}

	conversation := make([]anthropic.MessageParam, 0, len(turns))
	for _, msg := range turns {
		switch msg.Role {
		case message.RoleUser:
			conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			conversation = append(conversation, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := p.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		Messages:  conversation,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	temperature := p.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	params.Temperature = param.NewOpt(temperature)

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", errorskg.FromStatus("claude", apiErr.StatusCode, err)
		}
		if kind := errorskg.Classify(err); kind != errorskg.KindUnknown {
			return "", errorskg.Wrap(kind, "claude", err)
		}
		return "", errorskg.Wrap(errorskg.KindLLM, "claude", fmt.Errorf("create message: %w", err))
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errorskg.New(errorskg.KindLLM, "claude", "no text content returned")
	}
	return b.String(), nil
}
