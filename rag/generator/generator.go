// Package generator writes the final cited answer from retrieved evidence.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/retry"
	"github.com/sweetpotato0/crag/rag/document"
	"github.com/sweetpotato0/crag/rag/state"
	"github.com/sweetpotato0/crag/rag/tokenizer"
)

// Input is the evidence available for one answer.
type Input struct {
	Query          string
	Internal       []document.Document
	Web            []document.Document
	SubQueries     []state.SubQuery
	SynthesisGuide string
}

// Answer is the generator output. Sources only ever name documents that
// were part of the prompt.
type Answer struct {
	Response          string   `json:"response"`
	Sources           []string `json:"sources"`
	HasSufficientInfo bool     `json:"has_sufficient_info"`
}

type rawAnswer struct {
	Response          string   `json:"response"`
	Sources           []string `json:"sources"`
	HasSufficientInfo *bool    `json:"has_sufficient_info"`
}

// Generator writes cited answers from the collected evidence.
type Generator struct {
	llm           llm.Client
	tok           tokenizer.Tokenizer
	contextTokens int
	policy        retry.Policy
	logger        *slog.Logger
}

// Option customises a Generator.
type Option func(*Generator)

// WithTokenizer sets the tokenizer used to budget the document context.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(g *Generator) {
		if t != nil {
			g.tok = t
		}
	}
}

// WithContextTokens caps the tokens spent on document context.
func WithContextTokens(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.contextTokens = n
		}
	}
}

// WithRetryPolicy overrides the retry policy of the model call.
func WithRetryPolicy(p retry.Policy) Option {
	return func(g *Generator) { g.policy = p }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a generator backed by client.
func New(client llm.Client, opts ...Option) *Generator {
	g := &Generator{
		llm:           client,
		tok:           tokenizer.NewSimpleTokenizer(),
		contextTokens: 8000,
		policy:        retry.DefaultPolicy(),
		logger:        logging.WithComponent("generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate answers in.Query from the supplied evidence. Without evidence it
// answers CannotAnswer and makes no model call. A failed model call yields
// Unavailable together with the error; the returned Answer is never nil.
func (g *Generator) Generate(ctx context.Context, in Input) (*Answer, error) {
	if len(in.Internal) == 0 && len(in.Web) == 0 {
		return &Answer{Response: CannotAnswer, Sources: []string{}}, nil
	}

	budget := tokenizer.NewBudget(g.tok, g.contextTokens)
	internal, usedInternal := g.format(budget, in.Internal, 1)
	web, usedWeb := g.format(budget, in.Web, len(usedInternal)+1)
	evidence := slices.Concat(usedInternal, usedWeb)

	webSection := ""
	if len(usedWeb) > 0 {
		webSection = "\n## 웹 검색 결과\n" + web
	}
	if len(usedInternal) == 0 {
		internal = noDocuments
	}
	user := fmt.Sprintf(userPrompt, in.Query, plan(in.SubQueries, in.SynthesisGuide), internal, webSection)

	raw, err := llm.Structured[rawAnswer](ctx, g.llm, g.policy, llm.NewRequest(systemPrompt, user))
	if err != nil {
		g.logger.Error("answer generation failed", "query", logging.Trim(in.Query, 80), "error", err)
		return &Answer{Response: Unavailable, Sources: document.Sources(evidence)}, err
	}

	ans := &Answer{
		Response:          strings.TrimSpace(raw.Response),
		Sources:           citedSources(raw.Sources, evidence),
		HasSufficientInfo: raw.HasSufficientInfo == nil || *raw.HasSufficientInfo,
	}
	if ans.Response == "" {
		ans.Response = CannotAnswer
		ans.HasSufficientInfo = false
	}
	g.logger.Debug("answer generated", "evidence", len(evidence), "sources", len(ans.Sources), "sufficient", ans.HasSufficientInfo)
	return ans, nil
}

// format renders docs as numbered blocks starting at first until the budget
// runs out, returning the documents that made it into the prompt.
func (g *Generator) format(budget *tokenizer.Budget, docs []document.Document, first int) (string, []document.Document) {
	var (
		parts []string
		used  []document.Document
	)
	for _, d := range docs {
		header := fmt.Sprintf("[문서 %d] 출처: %s", first+len(used), d.Label())
		if g.tok.CountTokens(header) >= budget.Remaining() {
			break
		}
		budget.Take(header)
		content, ok := budget.Take(d.Content)
		if !ok {
			break
		}
		parts = append(parts, header+"\n"+content)
		used = append(used, d)
	}
	return strings.Join(parts, "\n\n---\n\n"), used
}

func plan(subs []state.SubQuery, guide string) string {
	if len(subs) < 2 {
		return ""
	}
	var b strings.Builder
	for _, s := range subs {
		fmt.Fprintf(&b, "- %s: %s\n", s.ID, s.Question)
	}
	if guide == "" {
		guide = "Answer each sub-question, then combine them into one answer."
	}
	return fmt.Sprintf(planSection, b.String(), guide)
}

// citedSources keeps the model's citations that refer to evidence, mapped to
// the evidence source. When none survive, every evidence source is cited.
func citedSources(cited []string, evidence []document.Document) []string {
	known := document.Sources(evidence)
	seen := make(map[string]struct{})
	out := make([]string, 0, len(cited))
	for _, c := range cited {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		for _, src := range known {
			if c == src || strings.HasSuffix(src, c) || strings.Contains(c, src) {
				if _, ok := seen[src]; !ok {
					seen[src] = struct{}{}
					out = append(out, src)
				}
				break
			}
		}
	}
	if len(out) == 0 {
		return known
	}
	return out
}
