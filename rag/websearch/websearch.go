// Package websearch is the fallback used when internal retrieval is
// exhausted: it searches the public web, scores every hit and keeps the
// trustworthy, relevant ones.
package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/retry"
	"github.com/sweetpotato0/crag/rag/document"
	"github.com/sweetpotato0/crag/rag/preprocess"
	"github.com/sweetpotato0/crag/runner"
)

// Result is one hit returned by a web search provider.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Provider is a web search backend.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Outcome is what the fallback found. A failed search is an outcome with no
// documents and Err set; it is never returned as an error.
type Outcome struct {
	Query      string
	Docs       []document.Document
	Confidence float64
	Err        error
}

// Found reports whether any usable web evidence was found.
func (o *Outcome) Found() bool { return o != nil && len(o.Docs) > 0 }

// Agent runs the web fallback.
type Agent struct {
	provider     Provider
	llm          llm.Client
	policy       retry.Policy
	maxResults   int
	minScore     float64
	concurrency  int
	contentLimit int
	logger       *slog.Logger
}

// Option customises an Agent.
type Option func(*Agent)

// WithMaxResults caps provider results.
func WithMaxResults(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxResults = n
		}
	}
}

// WithMinScore sets the score below which results are discarded.
func WithMinScore(v float64) Option {
	return func(a *Agent) { a.minScore = v }
}

// WithConcurrency bounds parallel result evaluation.
func WithConcurrency(n int) Option {
	return func(a *Agent) { a.concurrency = n }
}

// WithContentLimit caps the runes kept per result.
func WithContentLimit(n int) Option {
	return func(a *Agent) { a.contentLimit = n }
}

// WithRetryPolicy overrides the retry policy of provider and model calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(a *Agent) { a.policy = p }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an agent. provider may be nil when web search is disabled;
// every search then reports a web_search_error outcome.
func New(provider Provider, client llm.Client, opts ...Option) *Agent {
	a := &Agent{
		provider:     provider,
		llm:          client,
		policy:       retry.DefaultPolicy(),
		maxResults:   5,
		minScore:     0.3,
		concurrency:  4,
		contentLimit: 2000,
		logger:       logging.WithComponent("websearch"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Search runs the fallback for query. Provider failures degrade into an
// empty outcome.
func (a *Agent) Search(ctx context.Context, query string, domains []string) *Outcome {
	if a.provider == nil {
		return &Outcome{Query: query, Err: errorskg.New(errorskg.KindWebSearch, "websearch.Search", "web search is not configured")}
	}

	optimized := a.optimize(ctx, query, domains)
	results, err := retry.Do(ctx, a.policy, func(ctx context.Context) ([]Result, error) {
		return a.provider.Search(ctx, optimized, a.maxResults)
	}, func(err error, next time.Duration) {
		a.logger.Warn("web search failed, retrying", "error", err, "backoff", next)
	})
	if err != nil {
		a.logger.Error("web search unavailable", "query", logging.Trim(optimized, 80), "error", err)
		return &Outcome{Query: optimized, Err: errorskg.Wrap(errorskg.KindWebSearch, "websearch.Search", err)}
	}

	scored := runner.Parallel(ctx, a.concurrency, results, func(ctx context.Context, r Result) (scoredResult, error) {
		return a.evaluate(ctx, query, r), nil
	})

	var kept []scoredResult
	for _, s := range scored {
		if s.Err != nil {
			continue
		}
		if s.Value.include && s.Value.score >= a.minScore {
			kept = append(kept, s.Value)
		}
	}
	slices.SortStableFunc(kept, func(x, y scoredResult) int {
		switch {
		case x.score > y.score:
			return -1
		case x.score < y.score:
			return 1
		default:
			return 0
		}
	})

	out := &Outcome{Query: optimized}
	var sum float64
	for _, s := range kept {
		out.Docs = append(out.Docs, s.doc)
		sum += s.score
	}
	if len(kept) > 0 {
		out.Confidence = llm.Clamp01(sum / float64(len(kept)))
	}
	a.logger.Info("web search finished", "results", len(results), "kept", len(kept), "confidence", out.Confidence)
	return out
}

type optimizedQuery struct {
	Query string `json:"optimized_query"`
	Focus string `json:"search_focus"`
}

func (a *Agent) optimize(ctx context.Context, query string, domains []string) string {
	if a.llm == nil {
		return query
	}
	user := fmt.Sprintf(optimizePrompt, query, strings.Join(domains, ", "))
	out, err := llm.Structured[optimizedQuery](ctx, a.llm, a.policy, llm.NewRequest(systemPrompt, user))
	if err != nil || strings.TrimSpace(out.Query) == "" {
		return query
	}
	return strings.TrimSpace(out.Query)
}

type evaluation struct {
	Relevance     *float64 `json:"content_relevance"`
	Reliability   *float64 `json:"source_reliability"`
	ShouldInclude *bool    `json:"should_include"`
	Excerpt       string   `json:"useful_excerpt"`
}

type scoredResult struct {
	doc     document.Document
	score   float64
	include bool
}

// evaluate scores one hit as 0.7·relevance + 0.3·reliability, where the
// reliability blends the model's opinion with the domain heuristic. Without
// a usable model judgement both parts default to 0.5.
func (a *Agent) evaluate(ctx context.Context, query string, r Result) scoredResult {
	content := document.Truncate(preprocess.WebContent(r.Content), a.contentLimit)
	relevance, reliability, include := 0.5, 0.5, true

	if a.llm != nil {
		user := fmt.Sprintf(evaluatePrompt, query, r.Title, r.URL, content)
		ev, err := llm.Structured[evaluation](ctx, a.llm, a.policy, llm.NewRequest(systemPrompt, user))
		switch {
		case err != nil:
			a.logger.Warn("web result evaluation failed, using defaults", "url", r.URL, "error", err)
		default:
			if ev.Relevance != nil {
				relevance = llm.Clamp01(*ev.Relevance)
			}
			if ev.Reliability != nil {
				reliability = llm.Clamp01(*ev.Reliability)
			}
			if ev.ShouldInclude != nil {
				include = *ev.ShouldInclude
			}
		}
	}
	reliability = (reliability + SourceReliability(r.URL)) / 2
	score := llm.Clamp01(0.7*relevance + 0.3*reliability)

	return scoredResult{
		doc: document.Document{
			Content: content,
			Metadata: document.Metadata{
				Source: r.URL,
				URL:    r.URL,
				Title:  r.Title,
				Domain: hostOf(r.URL),
			},
			RelevanceScore: document.Score(score),
		},
		score:   score,
		include: include && strings.TrimSpace(content) != "",
	}
}

var trustedHosts = []string{
	"docs.python.org", "developer.mozilla.org", "docs.microsoft.com", "learn.microsoft.com",
	"cloud.google.com", "aws.amazon.com", "kubernetes.io", "docker.com",
	"github.com", "stackoverflow.com", "go.dev", "medium.com",
}

// SourceReliability estimates how trustworthy a URL's host is: well-known
// vendor and community hosts 0.9, documentation or wiki hosts 0.8, else 0.6.
func SourceReliability(rawURL string) float64 {
	host := hostOf(rawURL)
	for _, t := range trustedHosts {
		if host == t || strings.HasSuffix(host, "."+t) {
			return 0.9
		}
	}
	lower := strings.ToLower(rawURL)
	for _, p := range []string{"docs.", "documentation", "wiki"} {
		if strings.Contains(lower, p) {
			return 0.8
		}
	}
	return 0.6
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

const systemPrompt = `You help an internal documentation assistant use public web search.
Return a single JSON object and nothing else.`

const optimizePrompt = `Turn this internal documentation question into a public web search query.
Remove company-internal names, expand abbreviations, add technology keywords, stay under 100 characters.

## Question
%s

## Detected domains
%s

Return JSON: {"optimized_query": "...", "search_focus": "documentation|tutorial|troubleshooting|general"}`

const evaluatePrompt = `Evaluate whether this web result helps answer the question.

## Question
%s

## Result
Title: %s
URL: %s
Content:
%s

Return JSON: {"content_relevance": 0.0-1.0, "source_reliability": 0.0-1.0,
"useful_excerpt": "...", "should_include": true|false}`
