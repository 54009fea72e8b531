package orchestrator

import (
	"slices"
	"time"

	"github.com/sweetpotato0/crag/rag/quality"
	"github.com/sweetpotato0/crag/rag/state"
)

// Response is the caller-facing result of a run, either an answer or a
// clarification question.
type Response struct {
	Response          string                `json:"response"`
	Sources           []string              `json:"sources"`
	Confidence        float64               `json:"confidence"`
	NeedsDisclaimer   bool                  `json:"needs_disclaimer"`
	Disclaimer        string                `json:"disclaimer,omitempty"`
	RetrievalSource   state.RetrievalSource `json:"retrieval_source"`
	SessionID         string                `json:"session_id"`
	ProcessingTimeMS  int64                 `json:"processing_time_ms"`
	HasSufficientInfo bool                  `json:"has_sufficient_info"`

	ClarificationNeeded   bool     `json:"clarification_needed"`
	ClarificationQuestion string   `json:"clarification_question,omitempty"`
	ClarificationOptions  []string `json:"clarification_options,omitempty"`
	AllowCustomInput      bool     `json:"allow_custom_input,omitempty"`

	Debug *DebugInfo `json:"debug,omitempty"`

	// Record is the final state of the run.
	Record *state.Record `json:"-"`
}

// DebugInfo exposes the run's trace when engine.debug is set.
type DebugInfo struct {
	Steps              []state.Step `json:"steps"`
	RetryCount         int          `json:"retry_count"`
	InteractionCount   int          `json:"interaction_count"`
	RewrittenQueries   []string     `json:"rewritten_queries"`
	RelevanceScores    []float64    `json:"relevance_scores"`
	AvgRelevance       float64      `json:"avg_relevance"`
	WebSearchTriggered bool         `json:"web_search_triggered"`
	TotalModelCalls    int          `json:"total_model_calls"`
	ErrorLog           []string     `json:"error_log"`
}

// SessionInfo is the parked state of a session awaiting clarification.
type SessionInfo struct {
	SessionID             string     `json:"session_id"`
	Query                 string     `json:"query"`
	ClarificationQuestion string     `json:"clarification_question"`
	ClarificationOptions  []string   `json:"clarification_options"`
	InteractionCount      int        `json:"interaction_count"`
	CurrentState          state.Step `json:"current_state"`
}

func (o *Orchestrator) respond(r *state.Record, elapsed time.Duration) *Response {
	resp := &Response{
		SessionID:        r.SessionID,
		ProcessingTimeMS: elapsed.Milliseconds(),
		RetrievalSource:  r.RetrievalSource,
		Sources:          []string{},
		Record:           r,
	}
	if r.ClarificationNeeded {
		resp.Response = r.ClarificationQuestion
		resp.ClarificationNeeded = true
		resp.ClarificationQuestion = r.ClarificationQuestion
		resp.ClarificationOptions = slices.Clone(r.ClarificationOptions)
		resp.AllowCustomInput = true
	} else {
		resp.Response = r.GeneratedResponse
		if r.Sources != nil {
			resp.Sources = slices.Clone(r.Sources)
		}
		resp.Confidence = r.ResponseConfidence
		resp.NeedsDisclaimer = r.NeedsDisclaimer
		resp.Disclaimer = quality.DisclaimerText(r.NeedsDisclaimer, r.RetrievalSource.UsesWeb())
		resp.HasSufficientInfo = r.HasSufficientInfo
	}
	if o.cfg.Debug {
		resp.Debug = &DebugInfo{
			Steps:              slices.Clone(r.Steps),
			RetryCount:         r.RetryCount,
			InteractionCount:   r.InteractionCount,
			RewrittenQueries:   slices.Clone(r.RewrittenQueries),
			RelevanceScores:    slices.Clone(r.RelevanceScores),
			AvgRelevance:       r.AvgRelevance,
			WebSearchTriggered: r.WebSearchTriggered,
			TotalModelCalls:    r.TotalModelCalls,
			ErrorLog:           slices.Clone(r.ErrorLog),
		}
	}
	return resp
}
