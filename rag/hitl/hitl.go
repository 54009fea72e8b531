// Package hitl decides when to pause a run for a clarifying question and
// folds the user's answer back into the query.
package hitl

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/retry"
	"github.com/sweetpotato0/crag/rag/state"
)

const (
	MinOptions = 2
	MaxOptions = 5
	// maxOptionRunes keeps options short enough for a button.
	maxOptionRunes = 50
)

// Clarification is a question with mutually exclusive candidate
// interpretations. Free text is always accepted in addition to the options.
type Clarification struct {
	Question         string   `json:"clarification_question"`
	Options          []string `json:"options"`
	AllowCustomInput bool     `json:"allow_custom_input"`
}

// Controller owns the clarification policy.
type Controller struct {
	llm              llm.Client
	policy           retry.Policy
	clarityThreshold float64
	maxInteractions  int
	logger           *slog.Logger
}

// Option customises a Controller.
type Option func(*Controller)

// WithClarityThreshold sets the clarity score below which a question is asked.
func WithClarityThreshold(v float64) Option {
	return func(c *Controller) { c.clarityThreshold = v }
}

// WithMaxInteractions caps clarification rounds per query.
func WithMaxInteractions(n int) Option {
	return func(c *Controller) { c.maxInteractions = n }
}

// WithRetryPolicy overrides the retry policy of the model call.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a controller; client may be nil, in which case default
// questions are always used.
func New(client llm.Client, opts ...Option) *Controller {
	c := &Controller{
		llm:              client,
		policy:           retry.DefaultPolicy(),
		clarityThreshold: 0.8,
		maxInteractions:  2,
		logger:           logging.WithComponent("hitl"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxInteractions returns the configured cap.
func (c *Controller) MaxInteractions() int { return c.maxInteractions }

// ShouldClarify reports whether the run should pause for the user. Once the
// interaction cap is reached it is false regardless of ambiguity.
func (c *Controller) ShouldClarify(r *state.Record) bool {
	if r == nil || r.ClarificationDisabled {
		return false
	}
	if r.InteractionCount >= c.maxInteractions {
		return false
	}
	return r.IsAmbiguous || r.ClarityConfidence < c.clarityThreshold
}

type rawClarification struct {
	Question string   `json:"clarification_question"`
	Options  []string `json:"options"`
}

// Generate builds the clarification for r. It never fails: unusable model
// output is replaced or padded with the defaults for the ambiguity type.
func (c *Controller) Generate(ctx context.Context, r *state.Record) *Clarification {
	fallback := Default(r.AmbiguityType)
	if c.llm == nil {
		return fallback
	}

	user := fmt.Sprintf(userPrompt,
		r.ActiveQuery(), r.AmbiguityType, r.ClarityConfidence, domainsOrNone(r.DetectedDomains))
	raw, err := llm.Structured[rawClarification](ctx, c.llm, c.policy, llm.NewRequest(systemPrompt, user))
	if err != nil {
		c.logger.Warn("clarification generation failed, using defaults",
			"session_id", r.SessionID, "ambiguity_type", r.AmbiguityType, "error", err)
		return fallback
	}

	out := &Clarification{
		Question:         strings.TrimSpace(raw.Question),
		Options:          cleanOptions(raw.Options),
		AllowCustomInput: true,
	}
	if out.Question == "" {
		out.Question = fallback.Question
	}
	for _, opt := range fallback.Options {
		if len(out.Options) >= MinOptions {
			break
		}
		if !containsFold(out.Options, opt) {
			out.Options = append(out.Options, opt)
		}
	}
	return out
}

func cleanOptions(in []string) []string {
	var out []string
	for _, o := range in {
		o = strings.TrimSpace(o)
		if o == "" || containsFold(out, o) {
			continue
		}
		if runes := []rune(o); len(runes) > maxOptionRunes {
			o = string(runes[:maxOptionRunes])
		}
		out = append(out, o)
		if len(out) == MaxOptions {
			break
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func domainsOrNone(d []string) string {
	if len(d) == 0 {
		return "없음"
	}
	return strings.Join(d, ", ")
}

// Resolve turns a user response into the selection it stands for: an
// option number ("1"), an option's text, or the free text itself.
func Resolve(options []string, response string) string {
	response = strings.TrimSpace(response)
	if response == "" {
		return ""
	}
	if n, err := strconv.Atoi(strings.TrimSuffix(response, ".")); err == nil && n >= 1 && n <= len(options) {
		return options[n-1]
	}
	for _, o := range options {
		if strings.EqualFold(o, response) {
			return o
		}
	}
	return response
}

// Refine folds the user's response into the original query as
// "<original> (<selection>)". An empty response leaves the query unchanged.
func Refine(original string, options []string, response string) string {
	original = strings.TrimSpace(original)
	sel := Resolve(options, response)
	if sel == "" {
		return original
	}
	return fmt.Sprintf("%s (%s)", original, sel)
}
