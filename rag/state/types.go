package state

import (
	"fmt"
	"strings"
)

// Complexity classifies how much structure a question carries.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// ParseComplexity maps model output to a Complexity, defaulting to simple.
func ParseComplexity(s string) Complexity {
	if Complexity(normalize(s)) == ComplexityComplex {
		return ComplexityComplex
	}
	return ComplexitySimple
}

// AmbiguityType names why a question could not be answered as asked.
type AmbiguityType string

const (
	AmbiguityNone                   AmbiguityType = "none"
	AmbiguityVagueTerm              AmbiguityType = "vague_term"
	AmbiguityMissingContext         AmbiguityType = "missing_context"
	AmbiguityMultipleInterpretation AmbiguityType = "multiple_interpretation"
)

// ParseAmbiguityType maps model output onto the closed set; unknown values become none.
func ParseAmbiguityType(s string) AmbiguityType {
	switch t := AmbiguityType(normalize(s)); t {
	case AmbiguityVagueTerm, AmbiguityMissingContext, AmbiguityMultipleInterpretation:
		return t
	default:
		return AmbiguityNone
	}
}

// RelevanceLevel buckets a continuous relevance score.
type RelevanceLevel string

const (
	RelevanceHigh   RelevanceLevel = "high"
	RelevanceMedium RelevanceLevel = "medium"
	RelevanceLow    RelevanceLevel = "low"
)

// LevelFor buckets score using the given cutoffs.
func LevelFor(score, high, medium float64) RelevanceLevel {
	switch {
	case score >= high:
		return RelevanceHigh
	case score >= medium:
		return RelevanceMedium
	default:
		return RelevanceLow
	}
}

// RewriteStrategy is the technique used to reformulate a failed query.
type RewriteStrategy string

const (
	StrategySynonymExpansion RewriteStrategy = "synonym_expansion"
	StrategyContextAddition  RewriteStrategy = "context_addition"
	StrategyGeneralization   RewriteStrategy = "generalization"
	StrategySpecification    RewriteStrategy = "specification"
)

// Strategies lists every rewrite strategy in preference order.
var Strategies = []RewriteStrategy{
	StrategySynonymExpansion,
	StrategyContextAddition,
	StrategyGeneralization,
	StrategySpecification,
}

// ParseRewriteStrategy validates a strategy name.
func ParseRewriteStrategy(s string) (RewriteStrategy, error) {
	for _, st := range Strategies {
		if string(st) == normalize(s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown rewrite strategy %q", s)
}

// RetrievalSource records where the answer's evidence came from.
type RetrievalSource string

const (
	SourceVector RetrievalSource = "vector"
	SourceWeb    RetrievalSource = "web"
	SourceHybrid RetrievalSource = "hybrid"
)

// UsesWeb reports whether web results contributed evidence.
func (s RetrievalSource) UsesWeb() bool {
	return s == SourceWeb || s == SourceHybrid
}

// Step names a workflow state.
type Step string

const (
	StepAnalyze              Step = "analyze"
	StepClarify              Step = "clarify"
	StepProcessClarification Step = "process_clarification"
	StepDecompose            Step = "decompose"
	StepRetrieve             Step = "retrieve"
	StepEvaluateRelevance    Step = "evaluate_relevance"
	StepRewrite              Step = "rewrite"
	StepWebSearch            Step = "web_search"
	StepGenerateResponse     Step = "generate_response"
	StepEvaluateQuality      Step = "evaluate_quality"
	StepEnd                  Step = "end"
)

var stepMessages = map[Step]string{
	StepAnalyze:              "질문을 분석하고 있습니다...",
	StepClarify:              "질문을 명확히 하기 위한 확인이 필요합니다.",
	StepProcessClarification: "추가 정보를 반영하고 있습니다...",
	StepDecompose:            "복합 질문을 나누고 있습니다...",
	StepRetrieve:             "관련 문서를 검색하고 있습니다...",
	StepEvaluateRelevance:    "검색 결과를 평가하고 있습니다...",
	StepRewrite:              "검색어를 개선하고 있습니다...",
	StepWebSearch:            "웹에서 정보를 찾고 있습니다...",
	StepGenerateResponse:     "답변을 생성하고 있습니다...",
	StepEvaluateQuality:      "답변 품질을 확인하고 있습니다...",
	StepEnd:                  "완료되었습니다.",
}

// Message returns the user-facing progress text for the step.
func (s Step) Message() string {
	if m, ok := stepMessages[s]; ok {
		return m
	}
	return string(s)
}

// Decision is the corrective loop's routing verdict.
type Decision string

const (
	DecisionProceed   Decision = "PROCEED"
	DecisionRewrite   Decision = "REWRITE"
	DecisionWebSearch Decision = "WEB_SEARCH"
)

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
