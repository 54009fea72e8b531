package state

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sweetpotato0/crag/rag/document"
)

// SubQuery is one independently retrievable part of a complex question.
type SubQuery struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	TargetDomain string   `json:"target_domain,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Record is the state threaded through one top-level query. Steps never
// mutate a record they received; they return a Clone with their updates.
type Record struct {
	// identity
	Query       string `json:"query"`
	SessionID   string `json:"session_id"`
	SearchScope string `json:"search_scope,omitempty"`

	// analysis
	RefinedQuery      string        `json:"refined_query,omitempty"`
	Complexity        Complexity    `json:"complexity"`
	ClarityConfidence float64       `json:"clarity_confidence"`
	IsAmbiguous       bool          `json:"is_ambiguous"`
	AmbiguityType     AmbiguityType `json:"ambiguity_type"`
	DetectedDomains   []string      `json:"detected_domains,omitempty"`
	SubQueries        []SubQuery    `json:"sub_queries,omitempty"`
	SynthesisGuide    string        `json:"synthesis_guide,omitempty"`

	// clarification
	ClarificationNeeded   bool     `json:"clarification_needed"`
	ClarificationQuestion string   `json:"clarification_question,omitempty"`
	ClarificationOptions  []string `json:"clarification_options,omitempty"`
	InteractionCount      int      `json:"interaction_count"`
	ClarificationDisabled bool     `json:"clarification_disabled,omitempty"`
	// UserResponse is the pending answer to the clarification question; it
	// is consumed by process_clarification.
	UserResponse string `json:"user_response,omitempty"`

	// retrieval
	RetrievedDocs        []document.Document `json:"retrieved_docs,omitempty"`
	RelevanceScores      []float64           `json:"relevance_scores,omitempty"`
	AvgRelevance         float64             `json:"avg_relevance"`
	HighRelevanceCount   int                 `json:"high_relevance_count"`
	MediumRelevanceCount int                 `json:"medium_relevance_count"`
	RetrievalSource      RetrievalSource     `json:"retrieval_source"`
	RetrievalUnavailable bool                `json:"retrieval_unavailable,omitempty"`
	RetrievalAttempts    int                 `json:"retrieval_attempts"`

	// correction
	RetryCount          int               `json:"retry_count"`
	RewrittenQueries    []string          `json:"rewritten_queries,omitempty"`
	UsedStrategies      []RewriteStrategy `json:"used_strategies,omitempty"`
	CorrectionTriggered bool              `json:"correction_triggered"`

	// web fallback
	WebSearchTriggered bool                `json:"web_search_triggered"`
	WebResults         []document.Document `json:"web_results,omitempty"`
	WebConfidence      float64             `json:"web_confidence"`

	// output
	GeneratedResponse  string   `json:"generated_response,omitempty"`
	HasSufficientInfo  bool     `json:"has_sufficient_info"`
	ResponseConfidence float64  `json:"response_confidence"`
	Sources            []string `json:"sources,omitempty"`
	NeedsDisclaimer    bool     `json:"needs_disclaimer"`

	// bookkeeping
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time,omitempty"`
	TotalModelCalls int       `json:"total_model_calls"`
	ErrorLog        []string  `json:"error_log,omitempty"`
	CurrentState    Step      `json:"current_state"`
	Steps           []Step    `json:"steps,omitempty"`
}

// New creates the record for a freshly received query.
func New(query, sessionID string, now time.Time) *Record {
	return &Record{
		Query:           query,
		SessionID:       sessionID,
		Complexity:      ComplexitySimple,
		AmbiguityType:   AmbiguityNone,
		RetrievalSource: SourceVector,
		StartTime:       now,
		CurrentState:    StepAnalyze,
	}
}

// Clone returns a deep copy that can be updated without affecting r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.DetectedDomains = slices.Clone(r.DetectedDomains)
	out.ClarificationOptions = slices.Clone(r.ClarificationOptions)
	out.RetrievedDocs = document.CloneAll(r.RetrievedDocs)
	out.RelevanceScores = slices.Clone(r.RelevanceScores)
	out.RewrittenQueries = slices.Clone(r.RewrittenQueries)
	out.UsedStrategies = slices.Clone(r.UsedStrategies)
	out.WebResults = document.CloneAll(r.WebResults)
	out.Sources = slices.Clone(r.Sources)
	out.ErrorLog = slices.Clone(r.ErrorLog)
	out.Steps = slices.Clone(r.Steps)
	if r.SubQueries != nil {
		out.SubQueries = make([]SubQuery, len(r.SubQueries))
		for i, sq := range r.SubQueries {
			sq.Dependencies = slices.Clone(sq.Dependencies)
			out.SubQueries[i] = sq
		}
	}
	return &out
}

// ActiveQuery is the query retrieval should use right now: the latest
// rewrite, else the refined query, else the original.
func (r *Record) ActiveQuery() string {
	if n := len(r.RewrittenQueries); n > 0 {
		return r.RewrittenQueries[n-1]
	}
	if q := strings.TrimSpace(r.RefinedQuery); q != "" {
		return q
	}
	return r.Query
}

// LogError appends a "<step>: <message>" entry to the error log.
func (r *Record) LogError(step Step, err error) {
	if err == nil {
		return
	}
	r.ErrorLog = append(r.ErrorLog, fmt.Sprintf("%s: %v", step, err))
}

// Enter marks step as the current state.
func (r *Record) Enter(step Step) {
	r.CurrentState = step
	r.Steps = append(r.Steps, step)
}

// Check verifies the record's invariants against the configured caps.
func (r *Record) Check(maxRetries, maxHITL int) error {
	if r.RetryCount < 0 || r.RetryCount > maxRetries {
		return fmt.Errorf("retry_count %d outside [0,%d]", r.RetryCount, maxRetries)
	}
	if r.InteractionCount < 0 || r.InteractionCount > maxHITL {
		return fmt.Errorf("interaction_count %d outside [0,%d]", r.InteractionCount, maxHITL)
	}
	scores := map[string]float64{
		"clarity_confidence":  r.ClarityConfidence,
		"avg_relevance":       r.AvgRelevance,
		"web_confidence":      r.WebConfidence,
		"response_confidence": r.ResponseConfidence,
	}
	for name, v := range scores {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s %.3f outside [0,1]", name, v)
		}
	}
	for i, v := range r.RelevanceScores {
		if v < 0 || v > 1 {
			return fmt.Errorf("relevance_scores[%d] %.3f outside [0,1]", i, v)
		}
	}
	for _, group := range [][]document.Document{r.RetrievedDocs, r.WebResults} {
		for _, d := range group {
			for _, s := range []*float64{d.EmbeddingScore, d.RelevanceScore, d.CombinedScore} {
				if s != nil && (*s < 0 || *s > 1) {
					return fmt.Errorf("document score %.3f outside [0,1]", *s)
				}
			}
		}
	}
	if r.RetrievalSource == SourceWeb && !r.NeedsDisclaimer {
		return fmt.Errorf("web-sourced answer without disclaimer")
	}
	if n := len(r.ClarificationOptions); r.ClarificationNeeded && (n < 2 || n > 5) {
		return fmt.Errorf("clarification has %d options, want 2..5", n)
	}
	return nil
}
