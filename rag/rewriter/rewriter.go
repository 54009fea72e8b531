// Package rewriter reformulates a query whose retrieval was insufficient.
package rewriter

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/retry"
	"github.com/sweetpotato0/crag/rag/state"
)

// Rewrite is one reformulation.
type Rewrite struct {
	Query    string
	Strategy state.RewriteStrategy
	Changes  string
	// Fallback is true when the model output was unusable and the query
	// was rewritten deterministically.
	Fallback bool
}

// Rewriter produces alternative queries.
type Rewriter struct {
	llm    llm.Client
	policy retry.Policy
	logger *slog.Logger
}

// Option customises a Rewriter.
type Option func(*Rewriter)

// WithRetryPolicy overrides the retry policy of the model call.
func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Rewriter) { r.policy = p }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Rewriter) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a rewriter; client may be nil to always rewrite deterministically.
func New(client llm.Client, opts ...Option) *Rewriter {
	r := &Rewriter{
		llm:    client,
		policy: retry.DefaultPolicy(),
		logger: logging.WithComponent("rewriter"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SelectStrategy picks the strategy for a retry round. Early rounds prefer
// widening the vocabulary, later ones change the scope; strategies already
// used for this query are skipped while unused ones remain.
func SelectStrategy(retryCount int, used []state.RewriteStrategy) state.RewriteStrategy {
	var preferred []state.RewriteStrategy
	switch {
	case retryCount <= 0:
		preferred = []state.RewriteStrategy{state.StrategySynonymExpansion, state.StrategyContextAddition}
	case retryCount == 1:
		preferred = []state.RewriteStrategy{state.StrategyGeneralization}
	default:
		preferred = []state.RewriteStrategy{state.StrategySpecification}
	}
	for _, s := range preferred {
		if !slices.Contains(used, s) {
			return s
		}
	}
	for _, s := range state.Strategies {
		if !slices.Contains(used, s) {
			return s
		}
	}
	return state.StrategyGeneralization
}

type rawRewrite struct {
	Strategy       string `json:"strategy"`
	RewrittenQuery string `json:"rewritten_query"`
	ChangesMade    string `json:"changes_made"`
}

// Rewrite reformulates query. The result never matches (after whitespace
// and case normalisation) the query itself or any entry of history.
func (r *Rewriter) Rewrite(ctx context.Context, query string, history []string, used []state.RewriteStrategy, retryCount int) *Rewrite {
	strategy := SelectStrategy(retryCount, used)
	seen := make(map[string]struct{}, len(history)+1)
	seen[normalize(query)] = struct{}{}
	for _, h := range history {
		seen[normalize(h)] = struct{}{}
	}

	if r.llm != nil {
		user := fmt.Sprintf(userPrompt, query, strategy, previous(history))
		raw, err := llm.Structured[rawRewrite](ctx, r.llm, r.policy, llm.NewRequest(systemPrompt, user))
		switch {
		case err != nil:
			r.logger.Warn("rewrite model call failed", "strategy", strategy, "error", err)
		default:
			candidate := strings.TrimSpace(raw.RewrittenQuery)
			if _, dup := seen[normalize(candidate)]; candidate != "" && !dup {
				return &Rewrite{Query: candidate, Strategy: strategy, Changes: raw.ChangesMade}
			}
			r.logger.Info("rewrite repeated history, rewriting deterministically", "strategy", strategy)
		}
	}

	return &Rewrite{Query: unique(Deterministic(query, strategy), seen), Strategy: strategy, Fallback: true}
}

var suffixes = map[state.RewriteStrategy]string{
	state.StrategySynonymExpansion: "관련 용어 및 동의어",
	state.StrategyContextAddition:  "사용 방법 및 설정 예시",
	state.StrategyGeneralization:   "개요",
	state.StrategySpecification:    "구체적인 단계별 절차",
}

// Deterministic rewrites query with a fixed per-strategy template.
func Deterministic(query string, strategy state.RewriteStrategy) string {
	query = strings.TrimSpace(query)
	if strategy == state.StrategyGeneralization {
		// drop a trailing parenthetical or question and keep the topic
		if i := strings.LastIndex(query, " ("); i > 0 {
			query = query[:i]
		}
		query = strings.TrimRight(query, "?？ ")
	}
	return query + " " + suffixes[strategy]
}

func unique(candidate string, seen map[string]struct{}) string {
	out := candidate
	for i := 2; ; i++ {
		if _, dup := seen[normalize(out)]; !dup {
			return out
		}
		out = fmt.Sprintf("%s %d", candidate, i)
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func previous(history []string) string {
	if len(history) == 0 {
		return "(none)"
	}
	return "- " + strings.Join(history, "\n- ")
}

const systemPrompt = `You rewrite search queries for an internal documentation index.
Return a single JSON object and nothing else.`

const userPrompt = `The query below did not retrieve relevant enough documents.

## Query
%s

## Strategy
%s
- synonym_expansion: add synonyms and related terms
- context_addition: add keywords that make the intent explicit
- generalization: broaden a query that is too specific
- specification: narrow a query that is too broad

## Previous attempts (do not repeat)
%s

Keep the intent and the language of the original query.
Return JSON: {"strategy": "...", "rewritten_query": "...", "changes_made": "..."}`
