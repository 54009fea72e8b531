package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/llm"
)

// DefaultBaseURL is the Cohere API root.
const DefaultBaseURL = "https://api.cohere.com"

// Config holds Cohere provider configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// DefaultConfig returns default Cohere configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "command-r-plus",
		MaxTokens:   2048,
		Temperature: 0.1,
	}
}

var _ llm.Client = (*Provider)(nil)

// Provider implements llm.Client with the Cohere v2 chat API.
type Provider struct {
	config *Config
	client *http.Client
}

// New creates a new Cohere provider
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = DefaultConfig("").Model
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	return &Provider{
		config: config,
		client: &http.Client{},
	}
}

type cohereMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type cohereRequest struct {
	Model          string          `json:"model"`
	Messages       []cohereMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type cohereResponse struct {
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// Complete implements llm.Client.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (string, error) {
	if p.config.APIKey == "" {
		return "", errorskg.New(errorskg.KindConfiguration, "cohere", "api key not configured")
	}
	if req == nil || len(req.Messages) == 0 {
		return "", errorskg.New(errorskg.KindValidation, "cohere", "request has no messages")
	}

	payload := cohereRequest{
		Model:       p.config.Model,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	}
	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, cohereMessage{Role: string(msg.Role), Content: msg.Content})
	}
	if req.Temperature != nil {
		payload.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = req.MaxTokens
	}
	if req.JSON {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	url := strings.TrimRight(p.config.BaseURL, "/") + "/v2/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return "", errorskg.Wrap(errorskg.Classify(err), "cohere", fmt.Errorf("failed to send request: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", errorskg.Wrap(errorskg.KindNetwork, "cohere", fmt.Errorf("failed to read response: %w", err))
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", errorskg.FromStatus("cohere", httpResp.StatusCode,
			fmt.Errorf("cohere API error (status %d): %s", httpResp.StatusCode, respBody))
	}

	var resp cohereResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", errorskg.Wrap(errorskg.KindParsing, "cohere", fmt.Errorf("failed to unmarshal response: %w", err))
	}
	var sb strings.Builder
	for _, c := range resp.Message.Content {
		if c.Type == "" || c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errorskg.New(errorskg.KindLLM, "cohere", "empty response")
	}
	return sb.String(), nil
}
