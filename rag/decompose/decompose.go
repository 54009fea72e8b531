// Package decompose splits a complex question into sub-questions that can
// be retrieved independently.
package decompose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/retry"
	"github.com/sweetpotato0/crag/rag/state"
)

// Plan is the decomposition of one question.
type Plan struct {
	OriginalIntent string           `json:"original_intent"`
	SubQueries     []state.SubQuery `json:"sub_questions"`
	SynthesisGuide string           `json:"synthesis_guide"`
}

// Decomposer asks the model for sub-questions.
type Decomposer struct {
	llm    llm.Client
	policy retry.Policy
	max    int
	logger *slog.Logger
}

// Option customises a Decomposer.
type Option func(*Decomposer)

// WithMaxSubQueries caps the number of sub-questions.
func WithMaxSubQueries(n int) Option {
	return func(d *Decomposer) {
		if n > 0 {
			d.max = n
		}
	}
}

// WithRetryPolicy overrides the retry policy of the model call.
func WithRetryPolicy(p retry.Policy) Option {
	return func(d *Decomposer) { d.policy = p }
}

// New creates a decomposer.
func New(client llm.Client, opts ...Option) *Decomposer {
	d := &Decomposer{
		llm:    client,
		policy: retry.DefaultPolicy(),
		max:    4,
		logger: logging.WithComponent("decompose"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decompose splits query. It never returns an empty plan: when the model
// output is unusable the query itself is the only sub-question.
func (d *Decomposer) Decompose(ctx context.Context, query string, domains []string) *Plan {
	fallback := &Plan{
		OriginalIntent: query,
		SubQueries:     []state.SubQuery{{ID: "q1", Question: query}},
	}
	if d.llm == nil {
		return fallback
	}

	user := fmt.Sprintf(userPrompt, query, strings.Join(domains, ", "))
	plan, err := llm.Structured[Plan](ctx, d.llm, d.policy, llm.NewRequest(systemPrompt, user))
	if err != nil {
		d.logger.Warn("decomposition failed, using the whole query", "error", err)
		return fallback
	}

	var subs []state.SubQuery
	seen := make(map[string]struct{})
	for _, sq := range plan.SubQueries {
		sq.Question = strings.TrimSpace(sq.Question)
		key := strings.ToLower(sq.Question)
		if sq.Question == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if sq.ID == "" {
			sq.ID = fmt.Sprintf("q%d", len(subs)+1)
		}
		subs = append(subs, sq)
		if len(subs) == d.max {
			break
		}
	}
	if len(subs) == 0 {
		return fallback
	}
	plan.SubQueries = subs
	if strings.TrimSpace(plan.OriginalIntent) == "" {
		plan.OriginalIntent = query
	}
	return plan
}

const systemPrompt = `You decompose complex questions for document retrieval.
Return a single JSON object and nothing else.`

const userPrompt = `Split the question into 2-4 simpler sub-questions that can each be searched on their own
and together cover the whole question. Order prerequisites first.

## Question
%s

## Detected domains
%s

Return JSON:
{"original_intent": "...",
 "sub_questions": [{"id": "q1", "question": "...", "target_domain": "...", "dependencies": []}],
 "synthesis_guide": "how to combine the answers"}`
