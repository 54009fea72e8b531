// Package quality scores a generated answer and decides whether it ships
// with a disclaimer.
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/retry"
)

// Confidence weights.
const (
	CompletenessWeight = 0.4
	AccuracyWeight     = 0.4
	ClarityWeight      = 0.2
)

// Disclaimer texts attached to answers that need one.
const (
	LowConfidenceDisclaimer = "⚠️ 이 답변은 검색된 정보가 충분하지 않아 정확성이 보장되지 않습니다. 중요한 결정에는 추가 확인을 권장합니다."
	WebDisclaimer           = "ℹ️ 내부 문서에서 관련 정보를 찾지 못하여 웹 검색 결과를 포함합니다."
)

// Input is what the evaluator sees of a finished answer.
type Input struct {
	Query        string
	Response     string
	Sources      []string
	UsedWeb      bool
	AvgRelevance float64
}

// Evaluation is the quality verdict. Confidence is always recomputed from
// the three component scores.
type Evaluation struct {
	Completeness    float64 `json:"completeness"`
	Accuracy        float64 `json:"accuracy"`
	Clarity         float64 `json:"clarity"`
	Confidence      float64 `json:"confidence"`
	NeedsDisclaimer bool    `json:"needs_disclaimer"`
	Heuristic       bool    `json:"-"`
}

// Disclaimer returns the text to show with the answer, or "".
func (e *Evaluation) Disclaimer(usedWeb bool) string {
	return DisclaimerText(e.NeedsDisclaimer, usedWeb)
}

// DisclaimerText picks the disclaimer for an answer; web evidence takes
// precedence over low confidence.
func DisclaimerText(needed, usedWeb bool) string {
	switch {
	case !needed:
		return ""
	case usedWeb:
		return WebDisclaimer
	default:
		return LowConfidenceDisclaimer
	}
}

type scores struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Clarity      float64 `json:"clarity"`
}

// Evaluator scores generated answers.
type Evaluator struct {
	llm       llm.Client
	threshold float64
	policy    retry.Policy
	logger    *slog.Logger
}

// Option customises an Evaluator.
type Option func(*Evaluator)

// WithThreshold sets the confidence below which a disclaimer is attached.
func WithThreshold(v float64) Option {
	return func(e *Evaluator) { e.threshold = v }
}

// WithRetryPolicy overrides the retry policy of the model call.
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
		llm:       client,
		threshold: 0.8,
		policy:    retry.DefaultPolicy(),
		logger:    logging.WithComponent("quality"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores in. An empty response scores zero without a model call; a
// failed model call falls back to Quick and returns the error alongside.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*Evaluation, error) {
	if strings.TrimSpace(in.Response) == "" {
		return &Evaluation{NeedsDisclaimer: true}, nil
	}
	if e.llm == nil {
		return e.Quick(in), nil
	}

	sources := "No sources provided"
	if len(in.Sources) > 0 {
		sources = "- " + strings.Join(in.Sources, "\n- ")
	}
	user := fmt.Sprintf(userPrompt, in.Query, in.Response, sources)
	s, err := llm.Structured[scores](ctx, e.llm, e.policy, llm.NewRequest(systemPrompt, user))
	if err != nil {
		e.logger.Warn("quality evaluation failed, using heuristic", "error", err)
		return e.Quick(in), err
	}
	return e.finish(s.Completeness, s.Accuracy, s.Clarity, in.UsedWeb, false), nil
}

// Quick estimates quality from response length, source count and retrieval
// relevance without a model call.
func (e *Evaluator) Quick(in Input) *Evaluation {
	completeness, accuracy, clarity := 0.5, 0.5, 0.5

	switch n := len([]rune(in.Response)); {
	case n > 500:
		completeness += 0.2
		clarity += 0.1
	case n > 200:
		completeness += 0.1
	case n < 50:
		completeness -= 0.2
		clarity -= 0.1
	}
	switch {
	case len(in.Sources) >= 2:
		accuracy += 0.2
	case len(in.Sources) == 1:
		accuracy += 0.1
	}
	switch {
	case in.AvgRelevance >= 0.8:
		accuracy += 0.2
		completeness += 0.1
	case in.AvgRelevance >= 0.6:
		accuracy += 0.1
	}
	return e.finish(completeness, accuracy, clarity, in.UsedWeb, true)
}

func (e *Evaluator) finish(completeness, accuracy, clarity float64, usedWeb, heuristic bool) *Evaluation {
	ev := &Evaluation{
		Completeness: llm.Clamp01(completeness),
		Accuracy:     llm.Clamp01(accuracy),
		Clarity:      llm.Clamp01(clarity),
		Heuristic:    heuristic,
	}
	ev.Confidence = Confidence(ev.Completeness, ev.Accuracy, ev.Clarity)
	ev.NeedsDisclaimer = ev.Confidence < e.threshold || usedWeb
	return ev
}

// Confidence is the weighted combination of the component scores.
func Confidence(completeness, accuracy, clarity float64) float64 {
	return llm.Clamp01(CompletenessWeight*completeness + AccuracyWeight*accuracy + ClarityWeight*clarity)
}
