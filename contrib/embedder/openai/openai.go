// Package openai embeds documents and queries with the OpenAI embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/vector"
)

// maxBatch bounds the inputs sent in one request.
const maxBatch = 256

// Embedder implements vector.Embedder.
type Embedder struct {
	client    openaisdk.Client
	model     openaisdk.EmbeddingModel
	dimension int
}

var _ vector.Embedder = (*Embedder)(nil)

// New creates an embedder. A positive dimension is requested from the API,
// which the text-embedding-3 models honour by shortening their vectors.
func New(apiKey, baseURL, model string, dimension int) *Embedder {
	// retries are owned by pkg/retry
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = string(openaisdk.EmbeddingModelTextEmbedding3Small)
	}
	return &Embedder{
		client:    openaisdk.NewClient(opts...),
		model:     openaisdk.EmbeddingModel(model),
		dimension: dimension,
	}
}

func (e *Embedder) Dimension() int { return e.dimension }

// Embed returns the vector of one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per text, in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		vecs, err := e.request(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]string, len(texts))
	for i, t := range texts {
		// the API rejects empty strings
		if inputs[i] = strings.TrimSpace(t); inputs[i] == "" {
			inputs[i] = " "
		}
	}

	params := openaisdk.EmbeddingNewParams{
		Model: e.model,
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
	}
	if e.dimension > 0 && strings.HasPrefix(string(e.model), "text-embedding-3") {
		params.Dimensions = param.NewOpt(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openaisdk.Error
		if errors.As(err, &apiErr) {
			return nil, errorskg.FromStatus("openai.embed", apiErr.StatusCode, err)
		}
		return nil, errorskg.Wrap(errorskg.KindVectorStore, "openai.embed", fmt.Errorf("create embeddings: %w", err))
	}
	if len(resp.Data) != len(inputs) {
		return nil, errorskg.New(errorskg.KindVectorStore, "openai.embed",
			fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(resp.Data)))
	}

	out := make([][]float32, len(inputs))
	for _, emb := range resp.Data {
		if emb.Index < 0 || int(emb.Index) >= len(out) {
			return nil, errorskg.New(errorskg.KindVectorStore, "openai.embed", fmt.Sprintf("embedding index %d out of range", emb.Index))
		}
		out[emb.Index] = fit(emb.Embedding, e.dimension)
	}
	return out, nil
}

// fit narrows to float32 and pads or cuts to width.
func fit(input []float64, width int) []float32 {
	if width <= 0 {
		width = len(input)
	}
	vec := make([]float32, width)
	for i := 0; i < len(input) && i < width; i++ {
		vec[i] = float32(input[i])
	}
	return vec
}
