// Package vector defines the document-index collaborator: similarity search
// over an externally maintained corpus, plus the embedder it is built on.
package vector

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/sweetpotato0/crag/rag/document"
)

// Query is one similarity search request.
type Query struct {
	Text string
	K    int
	// Domains optionally restricts results to documents tagged with one of
	// these domains. Backends that cannot filter ignore it.
	Domains []string
}

// Index is the search side of a document index. Implementations return at
// most K documents ordered by descending EmbeddingScore in [0,1]. An empty
// slice with a nil error means nothing matched.
type Index interface {
	Search(ctx context.Context, q Query) ([]document.Document, error)
}

// Writer loads documents into an index. Ingestion proper lives outside this
// module; Writer exists for seeding development indexes.
type Writer interface {
	Add(ctx context.Context, docs []document.Document) error
}

// Embedder defines the interface for creating embeddings from text
type Embedder interface {
	// Embed converts text to a vector embedding
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to embeddings
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension return number of embedding dimensions
	Dimension() int
}

// CosineSimilarity calculates the cosine similarity between two vectors
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ScoreFromCosine maps a cosine similarity in [-1,1] onto [0,1].
func ScoreFromCosine(sim float64) float64 {
	switch {
	case sim <= 0:
		return 0
	case sim >= 1:
		return 1
	default:
		return sim
	}
}

// Normalize scales the vector to unit length (L2 norm).
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// HashEmbedder is a deterministic bag-of-words embedder using feature
// hashing. It needs no network access and backs development indexes and tests.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hashing embedder with dim buckets.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

// Dimension implements Embedder.
func (h *HashEmbedder) Dimension() int { return h.dim }

// Embed implements Embedder.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, tok := range Tokens(text) {
		f := fnv.New32a()
		f.Write([]byte(tok))
		vec[f.Sum32()%uint32(h.dim)]++
	}
	return Normalize(vec), nil
}

// EmbedBatch implements Embedder.
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Tokens lowercases text and splits it into letter/digit runs.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
