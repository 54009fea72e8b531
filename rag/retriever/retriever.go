// Package retriever wraps the document index: similarity search with
// bounded retries, optional domain hints and a short-lived result cache.
package retriever

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/retry"
	"github.com/sweetpotato0/crag/rag/document"
	"github.com/sweetpotato0/crag/vector"
)

// Config controls retrieval behaviour.
type Config struct {
	TopK     int
	CacheTTL time.Duration // zero disables caching
	Policy   retry.Policy
}

// Option customizes retriever config.
type Option func(*Config)

// WithTopK sets the number of candidates fetched from the index.
func WithTopK(k int) Option {
	return func(cfg *Config) {
		if k > 0 {
			cfg.TopK = k
		}
	}
}

// WithCacheTTL enables the result cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *Config) { cfg.CacheTTL = ttl }
}

// WithRetryPolicy overrides the retry policy around index calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(cfg *Config) { cfg.Policy = p }
}

// Retriever searches the document index.
type Retriever struct {
	index  vector.Index
	cfg    Config
	cache  *gocache.Cache
	logger *slog.Logger
}

// New creates a retriever over index.
func New(index vector.Index, opts ...Option) *Retriever {
	cfg := Config{
		TopK:   10,
		Policy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	r := &Retriever{
		index:  index,
		cfg:    cfg,
		logger: logging.WithComponent("retriever"),
	}
	if cfg.CacheTTL > 0 {
		r.cache = gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return r
}

// TopK returns the configured candidate count.
func (r *Retriever) TopK() int { return r.cfg.TopK }

// Search returns up to K candidates for query. An empty slice with a nil
// error is a valid "nothing matched" outcome; index failures come back as
// vector_store_error. Domain hints narrow the search first and are dropped
// when the narrowed search finds nothing.
func (r *Retriever) Search(ctx context.Context, query string, hints []string) ([]document.Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errorskg.New(errorskg.KindValidation, "retriever.Search", "query cannot be empty")
	}
	domains := usableHints(hints)
	key := cacheKey(query, domains)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return document.CloneAll(v.([]document.Document)), nil
		}
	}

	docs, err := r.search(ctx, vector.Query{Text: query, K: r.cfg.TopK, Domains: domains})
	if err == nil && len(docs) == 0 && len(domains) > 0 {
		docs, err = r.search(ctx, vector.Query{Text: query, K: r.cfg.TopK})
	}
	if err != nil {
		return nil, errorskg.Wrap(errorskg.KindVectorStore, "retriever.Search", err)
	}

	docs = clampScores(docs, r.cfg.TopK)
	r.logger.Debug("retrieved documents", "query", logging.Trim(query, 80), "count", len(docs))
	if r.cache != nil {
		r.cache.SetDefault(key, document.CloneAll(docs))
	}
	return docs, nil
}

func (r *Retriever) search(ctx context.Context, q vector.Query) ([]document.Document, error) {
	return retry.Do(ctx, r.cfg.Policy, func(ctx context.Context) ([]document.Document, error) {
		return r.index.Search(ctx, q)
	}, func(err error, next time.Duration) {
		r.logger.Warn("index search failed, retrying", "error", err, "backoff", next)
	})
}

// usableHints drops "general", which matches everything.
func usableHints(hints []string) []string {
	var out []string
	for _, h := range hints {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" || h == "general" || slices.Contains(out, h) {
			continue
		}
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

func cacheKey(query string, domains []string) string {
	return strings.ToLower(query) + "\x00" + strings.Join(domains, ",")
}

func clampScores(docs []document.Document, k int) []document.Document {
	if docs == nil {
		docs = []document.Document{}
	}
	if k > 0 && len(docs) > k {
		docs = docs[:k]
	}
	for i := range docs {
		if s := docs[i].EmbeddingScore; s != nil {
			v := min(max(*s, 0), 1)
			docs[i].EmbeddingScore = &v
		}
	}
	return docs
}
