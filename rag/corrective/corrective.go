// Package corrective decides what happens after a retrieval round has been
// scored: answer, rewrite the query and retry, or fall back to the web.
package corrective

import (
	"github.com/sweetpotato0/crag/rag/relevance"
	"github.com/sweetpotato0/crag/rag/state"
)

// Controller holds the loop bound and the sufficiency thresholds.
type Controller struct {
	thresholds relevance.Thresholds
	maxRetries int
}

// New creates a controller. maxRetries bounds rewrite rounds, so a run makes
// at most maxRetries+1 retrieval attempts.
func New(th relevance.Thresholds, maxRetries int) *Controller {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Controller{thresholds: th, maxRetries: maxRetries}
}

// MaxRetries returns the rewrite bound.
func (c *Controller) MaxRetries() int { return c.maxRetries }

// Sufficient applies the sufficiency predicate to the record's aggregates.
func (c *Controller) Sufficient(r *state.Record) bool {
	return c.thresholds.Sufficient(r.HighRelevanceCount, r.MediumRelevanceCount, len(r.RetrievedDocs), r.AvgRelevance)
}

// Decide routes a scored record. When the index itself is unavailable,
// rewriting cannot help and the web fallback is taken at once.
func (c *Controller) Decide(r *state.Record) state.Decision {
	switch {
	case c.Sufficient(r):
		return state.DecisionProceed
	case r.RetrievalUnavailable:
		return state.DecisionWebSearch
	case r.RetryCount < c.maxRetries:
		return state.DecisionRewrite
	default:
		return state.DecisionWebSearch
	}
}

// Advance records a REWRITE decision: retry_count is incremented
// unconditionally before the next retrieval attempt.
func (c *Controller) Advance(r *state.Record) *state.Record {
	next := r.Clone()
	next.RetryCount++
	next.CorrectionTriggered = true
	return next
}
