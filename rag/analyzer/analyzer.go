// Package analyzer classifies an incoming question before retrieval.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/retry"
	"github.com/sweetpotato0/crag/rag/state"
)

// Domains is the closed set of domains the analyzer may report.
var Domains = []string{
	"development", "operations", "security", "infrastructure", "api",
	"database", "frontend", "backend", "devops", "general",
}

// Analysis is the analyzer's verdict on one query.
type Analysis struct {
	RefinedQuery      string              `json:"refined_query"`
	Complexity        state.Complexity    `json:"complexity"`
	ClarityConfidence float64             `json:"clarity_confidence"`
	IsAmbiguous       bool                `json:"is_ambiguous"`
	AmbiguityType     state.AmbiguityType `json:"ambiguity_type"`
	DetectedDomains   []string            `json:"detected_domains"`
}

type rawAnalysis struct {
	RefinedQuery      string   `json:"refined_query"`
	Complexity        string   `json:"complexity"`
	ClarityConfidence *float64 `json:"clarity_confidence"`
	IsAmbiguous       bool     `json:"is_ambiguous"`
	AmbiguityType     string   `json:"ambiguity_type"`
	DetectedDomains   []string `json:"detected_domains"`
}

// Analyzer wraps one model call per query.
type Analyzer struct {
	llm    llm.Client
	policy retry.Policy
	logger *slog.Logger
}

// Option customises an Analyzer.
type Option func(*Analyzer)

// WithRetryPolicy overrides the retry policy of the model call.
func WithRetryPolicy(p retry.Policy) Option {
	return func(a *Analyzer) { a.policy = p }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an analyzer backed by client.
func New(client llm.Client, opts ...Option) *Analyzer {
	a := &Analyzer{
		llm:    client,
		policy: retry.DefaultPolicy(),
		logger: logging.WithComponent("analyzer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze classifies query. Empty input fails with a validation error. When
// the model is unavailable the structural heuristics below stand in and the
// model error is returned alongside the usable analysis.
func (a *Analyzer) Analyze(ctx context.Context, query string) (*Analysis, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errorskg.New(errorskg.KindValidation, "analyzer.Analyze", "query cannot be empty")
	}

	raw, err := llm.Structured[rawAnalysis](ctx, a.llm, a.policy, llm.NewRequest(systemPrompt, fmt.Sprintf(userPrompt, query)))
	if err != nil {
		a.logger.Warn("analysis fell back to heuristics", "query", logging.Trim(query, 80), "error", err)
		return Heuristic(query), err
	}
	return normalize(query, raw), nil
}

func normalize(query string, raw *rawAnalysis) *Analysis {
	out := &Analysis{
		RefinedQuery:  strings.TrimSpace(raw.RefinedQuery),
		Complexity:    state.ParseComplexity(raw.Complexity),
		IsAmbiguous:   raw.IsAmbiguous,
		AmbiguityType: state.ParseAmbiguityType(raw.AmbiguityType),
	}
	if out.RefinedQuery == "" {
		out.RefinedQuery = query
	}
	if raw.ClarityConfidence != nil {
		out.ClarityConfidence = llm.Clamp01(*raw.ClarityConfidence)
	} else {
		out.ClarityConfidence = Heuristic(query).ClarityConfidence
	}
	if out.IsAmbiguous && out.AmbiguityType == state.AmbiguityNone {
		out.AmbiguityType = state.AmbiguityMultipleInterpretation
	}
	if !out.IsAmbiguous {
		out.AmbiguityType = state.AmbiguityNone
	}
	out.DetectedDomains = filterDomains(raw.DetectedDomains)
	return out
}

func filterDomains(in []string) []string {
	var out []string
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		if slices.Contains(Domains, d) && !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		out = []string{"general"}
	}
	return out
}

var (
	vagueTerms = []string{"그거", "그것", "저것", "저거", "이거", "이것", "거기"}
	// multi-part and comparative markers
	complexMarkers = []string{
		"비교", "차이", "장단점", " vs", "versus", "그리고", "또한", "각각",
		"compare", "difference between",
	}
	questionMark = regexp.MustCompile(`[?？]`)
)

// Heuristic analyzes query without a model: vague demonstratives flag
// ambiguity and multi-part or comparative structure flags complexity.
func Heuristic(query string) *Analysis {
	lower := strings.ToLower(query)
	out := &Analysis{
		RefinedQuery:      query,
		Complexity:        state.ComplexitySimple,
		ClarityConfidence: 0.85,
		AmbiguityType:     state.AmbiguityNone,
		DetectedDomains:   []string{"general"},
	}

	for _, m := range complexMarkers {
		if strings.Contains(lower, m) {
			out.Complexity = state.ComplexityComplex
			break
		}
	}
	if len(questionMark.FindAllString(query, -1)) > 1 {
		out.Complexity = state.ComplexityComplex
	}

	for _, v := range vagueTerms {
		if strings.Contains(query, v) {
			out.IsAmbiguous = true
			out.AmbiguityType = state.AmbiguityVagueTerm
			out.ClarityConfidence = 0.4
			return out
		}
	}
	if len([]rune(strings.TrimSpace(query))) < 6 {
		out.IsAmbiguous = true
		out.AmbiguityType = state.AmbiguityMissingContext
		out.ClarityConfidence = 0.5
	}
	return out
}
