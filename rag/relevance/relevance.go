// Package relevance scores retrieved documents against a query in two
// stages: an embedding-score pre-filter, then a model judgement for the
// survivors.
package relevance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/retry"
	"github.com/sweetpotato0/crag/rag/document"
	"github.com/sweetpotato0/crag/rag/state"
	"github.com/sweetpotato0/crag/runner"
)

// Thresholds are the corpus-size dependent knobs of scoring and sufficiency.
type Thresholds struct {
	Embedding       float64 // pre-filter; below it a document scores 0 without a model call
	EmbeddingWeight float64 // share of the embedding score in the combined score; never used for levels
	High            float64
	Medium          float64
	Relevance       float64 // avg_relevance that alone is sufficient
	Secondary       float64 // avg_relevance sufficient when a medium document exists
	MinHighDocs     int
}

// DefaultThresholds returns the defaults tuned for a small corpus.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Embedding:       0.3,
		EmbeddingWeight: 0.4,
		High:            0.6,
		Medium:          0.3,
		Relevance:       0.5,
		Secondary:       0.3,
		MinHighDocs:     1,
	}
}

// Judgement is the per-document evaluation.
type Judgement struct {
	Score       float64              `json:"relevance_score"`
	Combined    float64              `json:"combined_score"`
	Level       state.RelevanceLevel `json:"relevance_level"`
	Reason      string               `json:"reason"`
	UsefulParts []string             `json:"useful_parts"`
	// Judged is false when the score came from the embedding alone.
	Judged bool `json:"-"`
}

// Result aggregates the evaluation of one retrieval round.
type Result struct {
	Docs        []document.Document
	Scores      []float64
	Judgements  []Judgement
	Avg         float64
	HighCount   int
	MediumCount int
	// ModelErrors counts documents whose model call failed and fell back
	// to the embedding score.
	ModelErrors int
}

// Sufficient applies the sufficiency predicate.
func (t Thresholds) Sufficient(high, medium, docs int, avg float64) bool {
	if high >= t.MinHighDocs {
		return true
	}
	if avg >= t.Relevance {
		return true
	}
	return medium >= 1 && docs >= 1 && avg >= t.Secondary
}

// Evaluator runs the two-stage scoring.
type Evaluator struct {
	llm          llm.Client
	policy       retry.Policy
	thresholds   Thresholds
	concurrency  int
	contentLimit int
	logger       *slog.Logger
}

// Option customises an Evaluator.
type Option func(*Evaluator)

// WithThresholds overrides the scoring thresholds.
func WithThresholds(t Thresholds) Option {
	return func(e *Evaluator) { e.thresholds = t }
}

// WithConcurrency bounds parallel model calls.
func WithConcurrency(n int) Option {
	return func(e *Evaluator) { e.concurrency = n }
}

// WithContentLimit caps the runes of document content sent to the model.
func WithContentLimit(n int) Option {
	return func(e *Evaluator) { e.contentLimit = n }
}

// WithRetryPolicy overrides the retry policy of the model calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Evaluator) { e.policy = p }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an evaluator backed by client.
func New(client llm.Client, opts ...Option) *Evaluator {
	e := &Evaluator{
		llm:          client,
		policy:       retry.DefaultPolicy(),
		thresholds:   DefaultThresholds(),
		concurrency:  4,
		contentLimit: 2000,
		logger:       logging.WithComponent("relevance"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the evaluator's thresholds.
func (e *Evaluator) Thresholds() Thresholds { return e.thresholds }

// Evaluate scores docs against query. It never fails: a document whose
// model call fails keeps its embedding score.
func (e *Evaluator) Evaluate(ctx context.Context, query string, docs []document.Document) *Result {
	res := &Result{
		Docs:       document.CloneAll(docs),
		Scores:     make([]float64, len(docs)),
		Judgements: make([]Judgement, len(docs)),
	}
	if len(docs) == 0 {
		return res
	}

	judged := runner.Parallel(ctx, e.concurrency, res.Docs, func(ctx context.Context, d document.Document) (Judgement, error) {
		return e.judge(ctx, query, d)
	})

	var sum float64
	for i, out := range judged {
		j := out.Value
		if out.Err != nil {
			res.ModelErrors++
			e.logger.Warn("relevance judgement failed, using embedding score",
				"source", res.Docs[i].Metadata.Source, "error", out.Err)
			emb := document.Value(res.Docs[i].EmbeddingScore)
			j = Judgement{Score: emb, Combined: emb, Reason: "model unavailable"}
		}
		j.Score = llm.Clamp01(j.Score)
		j.Combined = llm.Clamp01(j.Combined)
		j.Level = state.LevelFor(j.Score, e.thresholds.High, e.thresholds.Medium)

		res.Judgements[i] = j
		res.Scores[i] = j.Score
		res.Docs[i].RelevanceScore = document.Score(j.Score)
		res.Docs[i].CombinedScore = document.Score(j.Combined)
		sum += j.Score
		switch j.Level {
		case state.RelevanceHigh:
			res.HighCount++
		case state.RelevanceMedium:
			res.MediumCount++
		}
	}
	res.Avg = llm.Clamp01(sum / float64(len(docs)))
	return res
}

// Sufficient applies the evaluator's sufficiency predicate to res.
func (e *Evaluator) Sufficient(res *Result) bool {
	return e.thresholds.Sufficient(res.HighCount, res.MediumCount, len(res.Docs), res.Avg)
}

type rawJudgement struct {
	Score       float64  `json:"relevance_score"`
	Reason      string   `json:"reason"`
	UsefulParts []string `json:"useful_parts"`
}

func (e *Evaluator) judge(ctx context.Context, query string, d document.Document) (Judgement, error) {
	emb := d.EmbeddingScore
	if emb != nil && *emb < e.thresholds.Embedding {
		return Judgement{Score: 0, Reason: "below embedding pre-filter"}, nil
	}

	user := fmt.Sprintf(userPrompt, query, d.Label(), document.Truncate(d.Content, e.contentLimit))
	raw, err := llm.Structured[rawJudgement](ctx, e.llm, e.policy, llm.NewRequest(systemPrompt, user))
	if err != nil {
		return Judgement{}, err
	}

	score := llm.Clamp01(raw.Score)
	parts := raw.UsefulParts
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return Judgement{
		Score:       score,
		Combined:    e.thresholds.combine(score, emb),
		Reason:      raw.Reason,
		UsefulParts: parts,
		Judged:      true,
	}, nil
}

// combine blends the model score with the embedding score for ranking.
// Levels and sufficiency only ever see the model score.
func (t Thresholds) combine(score float64, emb *float64) float64 {
	if emb == nil {
		return score
	}
	return t.EmbeddingWeight*llm.Clamp01(*emb) + (1-t.EmbeddingWeight)*score
}

const systemPrompt = `You judge whether a document helps answer a question.
Return a single JSON object and nothing else.`

const userPrompt = `## Question
%s

## Document
Source: %s
Content:
%s

## Scoring
relevance_score from 0.0 to 1.0:
- 0.8-1.0 answers the main aspects of the question
- 0.6-0.8 partially answers it
- 0.4-0.6 tangentially related
- 0.0-0.4 only shares keywords, or unrelated

Return JSON: {"relevance_score": float, "reason": "one or two sentences", "useful_parts": ["at most 3 snippets copied from the document"]}`
