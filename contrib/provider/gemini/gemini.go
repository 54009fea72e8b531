package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/message"
)

// Config holds Gemini provider configuration
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "gemini-1.5-pro",
		MaxTokens:   2000,
		Temperature: 0.1,
	}
}

// Provider implements llm.Client for Google Gemini.
type Provider struct {
	config *Config
	client *genai.Client
}

var _ llm.Client = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil || config.APIKey == "" {
		return nil, errorskg.New(errorskg.KindConfiguration, "gemini", "API key not configured")
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-pro"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, errorskg.Wrap(errorskg.KindConfiguration, "gemini", fmt.Errorf("create client: %w", err))
	}
	return &Provider{config: config, client: client}, nil
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Complete implements llm.Client.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (string, error) {
	if req == nil || len(req.Messages) == 0 {
		return "", errorskg.New(errorskg.KindValidation, "gemini", "request has no messages")
	}

	model := p.client.GenerativeModel(p.config.Model)
	system, turns := message.Split(req.Messages)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	temperature := p.config.Temperature
	if req.Temperature != nil {
		temperature = float32(*req.Temperature)
	}
	model.SetTemperature(temperature)

	maxTokens := p.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		model.SetMaxOutputTokens(int32(maxTokens))
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	parts := make([]genai.Part, 0, len(turns))
	for _, msg := range turns {
		parts = append(parts, genai.Text(msg.Content))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
			return "", errorskg.Wrap(kindForCode(st.Code()), "gemini", err)
		}
		if kind := errorskg.Classify(err); kind != errorskg.KindUnknown {
			return "", errorskg.Wrap(kind, "gemini", err)
		}
		return "", errorskg.Wrap(errorskg.KindLLM, "gemini", fmt.Errorf("generate content: %w", err))
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	if b.Len() == 0 {
		return "", errorskg.New(errorskg.KindLLM, "gemini", "no candidates returned")
	}
	return b.String(), nil
}

func kindForCode(c codes.Code) errorskg.Kind {
	switch c {
	case codes.ResourceExhausted:
		return errorskg.KindRateLimit
	case codes.DeadlineExceeded:
		return errorskg.KindTimeout
	case codes.Unauthenticated, codes.PermissionDenied:
		return errorskg.KindConfiguration
	case codes.InvalidArgument:
		return errorskg.KindValidation
	case codes.Unavailable:
		return errorskg.KindNetwork
	default:
		return errorskg.KindLLM
	}
}
