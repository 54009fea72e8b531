package orchestrator

import (
	"context"
	"fmt"
	"slices"

	"github.com/sweetpotato0/crag/graph"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/telemetry"
	"github.com/sweetpotato0/crag/rag/document"
	"github.com/sweetpotato0/crag/rag/generator"
	"github.com/sweetpotato0/crag/rag/hitl"
	"github.com/sweetpotato0/crag/rag/quality"
	"github.com/sweetpotato0/crag/rag/state"
	"github.com/sweetpotato0/crag/runner"
)

const (
	nodeAnalyze              = string(state.StepAnalyze)
	nodeClarify              = string(state.StepClarify)
	nodeProcessClarification = string(state.StepProcessClarification)
	nodeDecompose            = string(state.StepDecompose)
	nodeRetrieve             = string(state.StepRetrieve)
	nodeEvaluateRelevance    = string(state.StepEvaluateRelevance)
	nodeRewrite              = string(state.StepRewrite)
	nodeWebSearch            = string(state.StepWebSearch)
	nodeGenerate             = string(state.StepGenerateResponse)
	nodeEvaluateQuality      = string(state.StepEvaluateQuality)
	nodeEnd                  = string(state.StepEnd)

	nodeRoute  = "route"
	nodeDecide = "decide"
)

func (o *Orchestrator) build() *graph.Graph[*state.Record] {
	// retrieve runs once per rewrite round plus the first attempt
	visits := max(10, o.cfg.MaxRetries+2)

	return graph.NewBuilder[*state.Record]().
		AddNode(nodeAnalyze, graph.NodeTypeStart, o.step(state.StepAnalyze, o.analyze)).
		AddConditionNode(nodeRoute, o.route, map[string]string{
			nodeClarify:   nodeClarify,
			nodeDecompose: nodeDecompose,
			nodeRetrieve:  nodeRetrieve,
		}).
		AddNode(nodeClarify, graph.NodeTypeCustom, o.step(state.StepClarify, o.clarify)).
		AddNode(nodeProcessClarification, graph.NodeTypeCustom, o.step(state.StepProcessClarification, o.processClarification)).
		AddNode(nodeDecompose, graph.NodeTypeCustom, o.step(state.StepDecompose, o.decompose)).
		AddNode(nodeRetrieve, graph.NodeTypeCustom, o.step(state.StepRetrieve, o.retrieve)).
		AddNode(nodeEvaluateRelevance, graph.NodeTypeCustom, o.step(state.StepEvaluateRelevance, o.evaluateRelevance)).
		AddConditionNode(nodeDecide, o.decide, map[string]string{
			string(state.DecisionProceed):   nodeGenerate,
			string(state.DecisionRewrite):   nodeRewrite,
			string(state.DecisionWebSearch): nodeWebSearch,
		}).
		AddNode(nodeRewrite, graph.NodeTypeCustom, o.step(state.StepRewrite, o.rewrite)).
		AddNode(nodeWebSearch, graph.NodeTypeCustom, o.step(state.StepWebSearch, o.webSearch)).
		AddNode(nodeGenerate, graph.NodeTypeCustom, o.step(state.StepGenerateResponse, o.generate)).
		AddNode(nodeEvaluateQuality, graph.NodeTypeCustom, o.step(state.StepEvaluateQuality, o.evaluateQuality)).
		AddNode(nodeEnd, graph.NodeTypeEnd, o.step(state.StepEnd, o.finish)).
		AddEdge(nodeAnalyze, nodeRoute).
		AddEdge(nodeClarify, nodeEnd).
		AddEdge(nodeProcessClarification, nodeAnalyze).
		AddEdge(nodeDecompose, nodeRetrieve).
		AddEdge(nodeRetrieve, nodeEvaluateRelevance).
		AddEdge(nodeEvaluateRelevance, nodeDecide).
		AddEdge(nodeRewrite, nodeRetrieve).
		AddEdge(nodeWebSearch, nodeGenerate).
		AddEdge(nodeGenerate, nodeEvaluateQuality).
		AddEdge(nodeEvaluateQuality, nodeEnd).
		SetStart(nodeAnalyze).
		SetEnd(nodeEnd).
		SetMaxVisits(visits).
		Observe(o.observe).
		Build()
}

// stepFunc updates the record it is handed; step gives it a private clone.
type stepFunc func(ctx context.Context, r *state.Record) error

func (o *Orchestrator) step(s state.Step, fn stepFunc) graph.NodeFunc[*state.Record] {
	return func(ctx context.Context, in *state.Record) (*state.Record, error) {
		ctx, span := telemetry.Start(ctx, "crag."+string(s), telemetry.KeySessionID.String(in.SessionID), telemetry.KeyStep.String(string(s)))
		next := in.Clone()
		next.Enter(s)
		report(ctx, s)

		err := fn(ctx, next)
		if _, ok := graph.AsInterrupt(err); ok {
			telemetry.End(span, nil)
		} else {
			telemetry.End(span, err)
		}
		return next, err
	}
}

func (o *Orchestrator) observe(_ context.Context, node string, r *state.Record) {
	if err := r.Check(o.cfg.MaxRetries, o.cfg.MaxHITL); err != nil {
		o.logger.Error("state invariant violated", "node", node, "session_id", r.SessionID, "error", err)
	}
	if o.observer != nil {
		o.observer(node, r)
	}
}

func (o *Orchestrator) analyze(ctx context.Context, r *state.Record) error {
	a, err := o.analyzer.Analyze(ctx, r.ActiveQuery())
	if err != nil {
		r.LogError(state.StepAnalyze, err)
		if a == nil {
			return err
		}
	}
	if a.RefinedQuery != "" {
		r.RefinedQuery = a.RefinedQuery
	}
	r.Complexity = a.Complexity
	r.ClarityConfidence = a.ClarityConfidence
	r.IsAmbiguous = a.IsAmbiguous
	r.AmbiguityType = a.AmbiguityType
	r.DetectedDomains = slices.Clone(a.DetectedDomains)
	return nil
}

func (o *Orchestrator) route(_ context.Context, r *state.Record) (string, error) {
	switch {
	case o.hitl.ShouldClarify(r):
		return nodeClarify, nil
	case r.Complexity == state.ComplexityComplex:
		return nodeDecompose, nil
	default:
		return nodeRetrieve, nil
	}
}

func (o *Orchestrator) clarify(ctx context.Context, r *state.Record) error {
	c := o.hitl.Generate(ctx, r)
	r.ClarificationNeeded = true
	r.ClarificationQuestion = c.Question
	r.ClarificationOptions = slices.Clone(c.Options)
	return graph.Interrupted(nodeClarify, "awaiting clarification")
}

func (o *Orchestrator) processClarification(_ context.Context, r *state.Record) error {
	r.RefinedQuery = hitl.Refine(r.ActiveQuery(), r.ClarificationOptions, r.UserResponse)
	r.InteractionCount++
	r.ClarificationNeeded = false
	r.ClarificationQuestion = ""
	r.ClarificationOptions = nil
	r.UserResponse = ""
	o.logger.Debug("clarification applied",
		"session_id", r.SessionID, "refined_query", logging.Trim(r.RefinedQuery, 80))
	return nil
}

func (o *Orchestrator) decompose(ctx context.Context, r *state.Record) error {
	plan := o.decomposer.Decompose(ctx, r.ActiveQuery(), r.DetectedDomains)
	r.SubQueries = plan.SubQueries
	r.SynthesisGuide = plan.SynthesisGuide
	return nil
}

type search struct {
	query string
	hints []string
}

// searches lists the retrievals of this attempt: one per sub-question on the
// first attempt of a decomposed query, else the active query alone.
func searches(r *state.Record) []search {
	if len(r.RewrittenQueries) == 0 && len(r.SubQueries) > 1 {
		out := make([]search, 0, len(r.SubQueries))
		for _, sq := range r.SubQueries {
			hints := r.DetectedDomains
			if sq.TargetDomain != "" {
				hints = []string{sq.TargetDomain}
			}
			out = append(out, search{query: sq.Question, hints: slices.Clone(hints)})
		}
		return out
	}
	return []search{{query: r.ActiveQuery(), hints: slices.Clone(r.DetectedDomains)}}
}

func (o *Orchestrator) retrieve(ctx context.Context, r *state.Record) error {
	r.RetrievalAttempts++

	results := runner.Parallel(ctx, o.cfg.Fanout, searches(r), func(ctx context.Context, s search) ([]document.Document, error) {
		return o.retriever.Search(ctx, s.query, s.hints)
	})
	var (
		groups [][]document.Document
		failed int
	)
	for _, res := range results {
		if res.Err != nil {
			failed++
			r.LogError(state.StepRetrieve, res.Err)
			continue
		}
		groups = append(groups, res.Value)
	}

	docs := document.Merge(groups...)
	slices.SortStableFunc(docs, func(a, b document.Document) int {
		x, y := document.Value(a.EmbeddingScore), document.Value(b.EmbeddingScore)
		switch {
		case x > y:
			return -1
		case x < y:
			return 1
		default:
			return 0
		}
	})
	if k := o.cfg.TopK; k > 0 && len(docs) > k {
		docs = docs[:k]
	}

	r.RetrievedDocs = docs
	r.RetrievalUnavailable = failed > 0 && len(groups) == 0
	r.RelevanceScores = nil
	r.AvgRelevance = 0
	r.HighRelevanceCount = 0
	r.MediumRelevanceCount = 0
	o.logger.Debug("retrieval finished",
		"session_id", r.SessionID, "attempt", r.RetrievalAttempts, "docs", len(docs), "failed", failed)
	return nil
}

func (o *Orchestrator) evaluateRelevance(ctx context.Context, r *state.Record) error {
	res := o.relevance.Evaluate(ctx, userQuery(r), r.RetrievedDocs)
	r.RetrievedDocs = res.Docs
	r.RelevanceScores = res.Scores
	r.AvgRelevance = res.Avg
	r.HighRelevanceCount = res.HighCount
	r.MediumRelevanceCount = res.MediumCount
	if res.ModelErrors > 0 {
		r.LogError(state.StepEvaluateRelevance,
			fmt.Errorf("%d judgements fell back to embedding scores", res.ModelErrors))
	}
	return nil
}

func (o *Orchestrator) decide(_ context.Context, r *state.Record) (string, error) {
	d := o.corrective.Decide(r)
	o.logger.Info("corrective decision",
		"session_id", r.SessionID,
		"decision", d,
		"avg_relevance", r.AvgRelevance,
		"high", r.HighRelevanceCount,
		"retry_count", r.RetryCount)
	return string(d), nil
}

func (o *Orchestrator) rewrite(ctx context.Context, r *state.Record) error {
	*r = *o.corrective.Advance(r)

	history := []string{r.Query}
	if r.RefinedQuery != "" {
		history = append(history, r.RefinedQuery)
	}
	history = append(history, r.RewrittenQueries...)

	rw := o.rewriter.Rewrite(ctx, userQuery(r), history, r.UsedStrategies, r.RetryCount-1)
	r.RewrittenQueries = append(r.RewrittenQueries, rw.Query)
	r.UsedStrategies = append(r.UsedStrategies, rw.Strategy)
	o.logger.Info("query rewritten",
		"session_id", r.SessionID, "strategy", rw.Strategy, "fallback", rw.Fallback,
		"query", logging.Trim(rw.Query, 80))
	return nil
}

func (o *Orchestrator) webSearch(ctx context.Context, r *state.Record) error {
	r.WebSearchTriggered = true
	r.NeedsDisclaimer = true

	out := o.web.Search(ctx, userQuery(r), r.DetectedDomains)
	r.WebResults = out.Docs
	r.WebConfidence = out.Confidence
	if out.Err != nil {
		r.LogError(state.StepWebSearch, out.Err)
	}
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, r *state.Record) error {
	internal := relevantDocs(r.RetrievedDocs, o.cfg.MediumCutoff)
	ans, err := o.generator.Generate(ctx, generator.Input{
		Query:          userQuery(r),
		Internal:       internal,
		Web:            r.WebResults,
		SubQueries:     r.SubQueries,
		SynthesisGuide: r.SynthesisGuide,
	})
	if err != nil {
		r.LogError(state.StepGenerateResponse, err)
	}
	r.GeneratedResponse = ans.Response
	r.Sources = ans.Sources
	r.HasSufficientInfo = ans.HasSufficientInfo
	r.RetrievalSource = sourceOf(len(internal) > 0, len(r.WebResults) > 0)
	if r.RetrievalSource.UsesWeb() {
		r.NeedsDisclaimer = true
	}
	return nil
}

func (o *Orchestrator) evaluateQuality(ctx context.Context, r *state.Record) error {
	ev, err := o.quality.Evaluate(ctx, quality.Input{
		Query:        userQuery(r),
		Response:     r.GeneratedResponse,
		Sources:      r.Sources,
		UsedWeb:      r.RetrievalSource.UsesWeb(),
		AvgRelevance: r.AvgRelevance,
	})
	if err != nil {
		r.LogError(state.StepEvaluateQuality, err)
	}
	r.ResponseConfidence = ev.Confidence
	r.NeedsDisclaimer = r.NeedsDisclaimer || ev.NeedsDisclaimer
	return nil
}

func (o *Orchestrator) finish(_ context.Context, r *state.Record) error {
	r.EndTime = o.now()
	return nil
}

// userQuery is the question as the user means it, before any rewrite.
func userQuery(r *state.Record) string {
	if r.RefinedQuery != "" {
		return r.RefinedQuery
	}
	return r.Query
}

// relevantDocs keeps internal documents judged at least medium relevance.
func relevantDocs(docs []document.Document, cutoff float64) []document.Document {
	var out []document.Document
	for _, d := range docs {
		if d.RelevanceScore != nil && *d.RelevanceScore >= cutoff {
			out = append(out, d)
		}
	}
	return out
}

func sourceOf(internal, web bool) state.RetrievalSource {
	switch {
	case web && internal:
		return state.SourceHybrid
	case web:
		return state.SourceWeb
	default:
		return state.SourceVector
	}
}
