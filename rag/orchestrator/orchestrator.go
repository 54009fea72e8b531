// Package orchestrator drives one question through the corrective RAG
// workflow: analysis, optional clarification, decomposition, retrieval, the
// rewrite loop, web fallback, generation and quality evaluation.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sweetpotato0/crag/config"
	"github.com/sweetpotato0/crag/contrib/session/inmemory"
	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/graph"
	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/telemetry"
	"github.com/sweetpotato0/crag/rag/analyzer"
	"github.com/sweetpotato0/crag/rag/corrective"
	"github.com/sweetpotato0/crag/rag/decompose"
	"github.com/sweetpotato0/crag/rag/generator"
	"github.com/sweetpotato0/crag/rag/hitl"
	"github.com/sweetpotato0/crag/rag/quality"
	"github.com/sweetpotato0/crag/rag/relevance"
	"github.com/sweetpotato0/crag/rag/retriever"
	"github.com/sweetpotato0/crag/rag/rewriter"
	"github.com/sweetpotato0/crag/rag/state"
	"github.com/sweetpotato0/crag/rag/tokenizer"
	"github.com/sweetpotato0/crag/rag/websearch"
	"github.com/sweetpotato0/crag/session"
	"github.com/sweetpotato0/crag/vector"
)

// Deps are the external collaborators of the engine.
type Deps struct {
	LLM   llm.Client
	Index vector.Index
	// Web is optional; without it the web fallback always comes back empty.
	Web websearch.Provider
	// Sessions defaults to an in-process store.
	Sessions session.Store
}

// Request is one question.
type Request struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// ClarifyRequest answers a pending clarification question.
type ClarifyRequest struct {
	SessionID    string `json:"session_id"`
	UserResponse string `json:"user_response"`
}

// Orchestrator owns the workflow graph and its components. It is safe for
// concurrent use; runs on the same session are serialised by the session lock.
type Orchestrator struct {
	cfg        config.Engine
	analyzer   *analyzer.Analyzer
	hitl       *hitl.Controller
	decomposer *decompose.Decomposer
	retriever  *retriever.Retriever
	relevance  *relevance.Evaluator
	corrective *corrective.Controller
	rewriter   *rewriter.Rewriter
	web        *websearch.Agent
	generator  *generator.Generator
	quality    *quality.Evaluator
	sessions   *session.Manager
	graph      *graph.Graph[*state.Record]
	observer   func(node string, r *state.Record)
	now        func() time.Time
	logger     *slog.Logger
}

type options struct {
	logger     *slog.Logger
	tokenizer  tokenizer.Tokenizer
	now        func() time.Time
	webResults int
	sessionTTL time.Duration
	lockWait   time.Duration
	observer   func(node string, r *state.Record)
}

// Option customises an Orchestrator.
type Option func(*options)

// WithLogger overrides the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTokenizer sets the tokenizer used to budget the generation context.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(o *options) { o.tokenizer = t }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithWebResults sets how many results are requested from the web provider.
func WithWebResults(n int) Option {
	return func(o *options) { o.webResults = n }
}

// WithSessionTTL sets how long a parked clarification survives.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *options) { o.sessionTTL = ttl }
}

// WithLockWait bounds how long a request waits for a busy session.
func WithLockWait(d time.Duration) Option {
	return func(o *options) { o.lockWait = d }
}

// WithObserver registers fn to see the record after every executed step.
func WithObserver(fn func(node string, r *state.Record)) Option {
	return func(o *options) { o.observer = fn }
}

// New wires the components from cfg. The language model and the index are
// required.
func New(cfg config.Engine, deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.LLM == nil {
		return nil, errorskg.New(errorskg.KindConfiguration, "orchestrator.New", "language model client is required")
	}
	if deps.Index == nil {
		return nil, errorskg.New(errorskg.KindConfiguration, "orchestrator.New", "document index is required")
	}

	o := options{
		logger:     logging.WithComponent("orchestrator"),
		now:        time.Now,
		webResults: 5,
	}
	for _, opt := range opts {
		opt(&o)
	}

	store := deps.Sessions
	if store == nil {
		store = inmemory.NewInMemoryStore()
	}
	var sessOpts []session.Option
	if o.sessionTTL > 0 {
		sessOpts = append(sessOpts, session.WithTTL(o.sessionTTL))
	}
	if o.lockWait > 0 {
		sessOpts = append(sessOpts, session.WithLockWait(o.lockWait))
	}

	policy := cfg.RetryPolicy()
	th := relevance.Thresholds{
		Embedding:       cfg.EmbeddingThreshold,
		EmbeddingWeight: cfg.EmbeddingWeight,
		High:            cfg.HighCutoff,
		Medium:          cfg.MediumCutoff,
		Relevance:       cfg.RelevanceThreshold,
		Secondary:       cfg.SecondaryThreshold,
		MinHighDocs:     cfg.MinHighDocs,
	}

	orc := &Orchestrator{
		cfg:      cfg,
		analyzer: analyzer.New(deps.LLM, analyzer.WithRetryPolicy(policy)),
		hitl: hitl.New(deps.LLM,
			hitl.WithClarityThreshold(cfg.ClarityThreshold),
			hitl.WithMaxInteractions(cfg.MaxHITL),
			hitl.WithRetryPolicy(policy)),
		decomposer: decompose.New(deps.LLM,
			decompose.WithMaxSubQueries(cfg.MaxSubQueries),
			decompose.WithRetryPolicy(policy)),
		retriever: retriever.New(deps.Index,
			retriever.WithTopK(cfg.TopK),
			retriever.WithCacheTTL(cfg.CacheTTL),
			retriever.WithRetryPolicy(policy)),
		relevance: relevance.New(deps.LLM,
			relevance.WithThresholds(th),
			relevance.WithConcurrency(cfg.Fanout),
			relevance.WithContentLimit(cfg.ContentLimit),
			relevance.WithRetryPolicy(policy)),
		corrective: corrective.New(th, cfg.MaxRetries),
		rewriter:   rewriter.New(deps.LLM, rewriter.WithRetryPolicy(policy)),
		web: websearch.New(deps.Web, deps.LLM,
			websearch.WithMaxResults(o.webResults),
			websearch.WithMinScore(cfg.WebMinScore),
			websearch.WithConcurrency(cfg.Fanout),
			websearch.WithContentLimit(cfg.ContentLimit),
			websearch.WithRetryPolicy(policy)),
		generator: generator.New(deps.LLM,
			generator.WithTokenizer(o.tokenizer),
			generator.WithContextTokens(cfg.ContextTokens),
			generator.WithRetryPolicy(policy)),
		quality: quality.New(deps.LLM,
			quality.WithThreshold(cfg.DisclaimerThreshold),
			quality.WithRetryPolicy(policy)),
		sessions: session.NewManager(store, sessOpts...),
		observer: o.observer,
		now:      o.now,
		logger:   o.logger,
	}
	orc.graph = orc.build()
	return orc, nil
}

// Config returns the engine configuration the orchestrator was built with.
func (o *Orchestrator) Config() config.Engine { return o.cfg }

// Ask runs a fresh question. A clarification question comes back as a
// response with ClarificationNeeded set; the run is parked under the session
// id until Clarify is called.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*Response, error) {
	return o.ask(ctx, req, false)
}

// AskSimple runs a question with clarification disabled.
func (o *Orchestrator) AskSimple(ctx context.Context, req Request) (*Response, error) {
	return o.ask(ctx, req, true)
}

func (o *Orchestrator) ask(ctx context.Context, req Request, simple bool) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, errorskg.New(errorskg.KindValidation, "orchestrator.Ask", "query cannot be empty")
	}
	id := session.Normalize(req.SessionID)

	release, err := o.sessions.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	rec := state.New(query, id, o.now())
	rec.ClarificationDisabled = simple
	parked, ok, err := o.sessions.Load(ctx, id)
	switch {
	case err != nil:
		o.logger.Warn("could not load parked session, starting fresh", "session_id", id, "error", err)
	case ok:
		// clarification rounds are budgeted per session, not per question
		rec.InteractionCount = parked.InteractionCount
	}
	return o.run(ctx, nodeAnalyze, rec)
}

// Clarify resumes a parked run with the user's answer to its question.
func (o *Orchestrator) Clarify(ctx context.Context, req ClarifyRequest) (*Response, error) {
	id := strings.TrimSpace(req.SessionID)
	answer := strings.TrimSpace(req.UserResponse)
	if id == "" {
		return nil, errorskg.New(errorskg.KindValidation, "orchestrator.Clarify", "session_id cannot be empty")
	}
	if answer == "" {
		return nil, errorskg.New(errorskg.KindValidation, "orchestrator.Clarify", "user_response cannot be empty")
	}

	release, err := o.sessions.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, ok, err := o.sessions.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok || !rec.ClarificationNeeded {
		return nil, errorskg.Wrap(errorskg.KindValidation, "orchestrator.Clarify",
			fmt.Errorf("no pending clarification for session %s: %w", id, errorskg.ErrNotFound))
	}
	rec = rec.Clone()
	rec.UserResponse = answer
	return o.run(ctx, nodeProcessClarification, rec)
}

// Session returns the parked state of a session awaiting clarification.
func (o *Orchestrator) Session(ctx context.Context, id string) (*SessionInfo, error) {
	id = strings.TrimSpace(id)
	rec, ok, err := o.sessions.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errorskg.Wrap(errorskg.KindValidation, "orchestrator.Session",
			fmt.Errorf("session %s: %w", id, errorskg.ErrNotFound))
	}
	return &SessionInfo{
		SessionID:             rec.SessionID,
		Query:                 rec.Query,
		ClarificationQuestion: rec.ClarificationQuestion,
		ClarificationOptions:  rec.ClarificationOptions,
		InteractionCount:      rec.InteractionCount,
		CurrentState:          rec.CurrentState,
	}, nil
}

func (o *Orchestrator) run(ctx context.Context, from string, rec *state.Record) (*Response, error) {
	started := o.now()
	ctx, span := telemetry.Start(ctx, "crag.run",
		telemetry.KeySessionID.String(rec.SessionID),
		telemetry.KeyStep.String(from))

	var calls atomic.Int64
	out, err := o.graph.ExecuteFrom(llm.WithCallCounter(ctx, &calls), from, rec)
	out.TotalModelCalls += int(calls.Load())

	if _, ok := graph.AsInterrupt(err); ok {
		// the caller may already be gone; the question must still be parked
		if perr := o.sessions.Park(context.WithoutCancel(ctx), out); perr != nil {
			telemetry.End(span, perr)
			return nil, perr
		}
		telemetry.End(span, nil)
		o.logger.Info("run parked for clarification",
			"session_id", out.SessionID, "interaction_count", out.InteractionCount)
		return o.respond(out, o.now().Sub(started)), nil
	}
	if err != nil {
		telemetry.End(span, err)
		if cerr := ctx.Err(); cerr != nil {
			o.logger.Info("run canceled", "session_id", rec.SessionID, "step", out.CurrentState)
			return nil, cerr
		}
		o.logger.Error("run failed", "session_id", rec.SessionID, "step", out.CurrentState, "error", err)
		return nil, err
	}

	if ferr := o.sessions.Finish(context.WithoutCancel(ctx), out.SessionID); ferr != nil {
		o.logger.Warn("could not clear finished session", "session_id", out.SessionID, "error", ferr)
	}
	telemetry.End(span, nil)
	o.logger.Info("run finished",
		"session_id", out.SessionID,
		"retrieval_source", out.RetrievalSource,
		"retry_count", out.RetryCount,
		"confidence", out.ResponseConfidence,
		"model_calls", out.TotalModelCalls)
	return o.respond(out, o.now().Sub(started)), nil
}
