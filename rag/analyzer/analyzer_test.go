package analyzer

import (
	"context"
	"errors"
	"testing"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/retry"
	"github.com/sweetpotato0/crag/rag/state"
)

func reply(s string) llm.Client {
	return llm.ClientFunc(func(context.Context, *llm.Request) (string, error) { return s, nil })
}

func newTest(c llm.Client) *Analyzer {
	return New(c, WithRetryPolicy(retry.Policy{MaxAttempts: 1}), WithLogger(logging.Discard()))
}

func TestAnalyzeEmptyQuery(t *testing.T) {
	_, err := newTest(reply("{}")).Analyze(context.Background(), "   ")
	if errorskg.KindOf(err) != errorskg.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAnalyzeNormalizesModelOutput(t *testing.T) {
	a := newTest(reply("```json\n" + `{"refined_query":"","complexity":"COMPLEX","clarity_confidence":1.4,
		"is_ambiguous":true,"ambiguity_type":"weird","detected_domains":["DevOps","cooking","devops"]}` + "\n```"))

	got, err := a.Analyze(context.Background(), "배포와 롤백 차이")
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if got.RefinedQuery != "배포와 롤백 차이" {
		t.Errorf("empty refined query should fall back to input, got %q", got.RefinedQuery)
	}
	if got.Complexity != state.ComplexityComplex {
		t.Errorf("expected complex, got %s", got.Complexity)
	}
	if got.ClarityConfidence != 1 {
		t.Errorf("expected clamped clarity 1, got %v", got.ClarityConfidence)
	}
	if got.AmbiguityType != state.AmbiguityMultipleInterpretation {
		t.Errorf("ambiguous with unknown type should default to multiple_interpretation, got %s", got.AmbiguityType)
	}
	if len(got.DetectedDomains) != 1 || got.DetectedDomains[0] != "devops" {
		t.Errorf("unexpected domains %v", got.DetectedDomains)
	}
}

func TestAnalyzeClearsTypeWhenNotAmbiguous(t *testing.T) {
	a := newTest(reply(`{"refined_query":"Docker 컨테이너 실행","complexity":"simple","clarity_confidence":0.95,"is_ambiguous":false,"ambiguity_type":"vague_term","detected_domains":[]}`))
	got, err := a.Analyze(context.Background(), "Docker 컨테이너 실행 방법")
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if got.AmbiguityType != state.AmbiguityNone || got.DetectedDomains[0] != "general" {
		t.Fatalf("unexpected analysis %+v", got)
	}
}

func TestAnalyzeFallsBackToHeuristics(t *testing.T) {
	failing := llm.ClientFunc(func(context.Context, *llm.Request) (string, error) {
		return "", errorskg.Wrap(errorskg.KindLLM, "test", errors.New("down"))
	})
	got, err := newTest(failing).Analyze(context.Background(), "그거 어떻게 설정해요?")
	if err == nil {
		t.Fatalf("expected model error to be reported")
	}
	if got == nil || !got.IsAmbiguous || got.AmbiguityType != state.AmbiguityVagueTerm {
		t.Fatalf("expected heuristic vague-term analysis, got %+v", got)
	}
}

func TestHeuristicComplexity(t *testing.T) {
	tests := []struct {
		query string
		want  state.Complexity
	}{
		{"Docker 컨테이너 실행 방법", state.ComplexitySimple},
		{"Kubernetes와 Docker Swarm의 차이는?", state.ComplexityComplex},
		{"배포는 어떻게 하나요? 롤백은요?", state.ComplexityComplex},
	}
	for _, tt := range tests {
		if got := Heuristic(tt.query).Complexity; got != tt.want {
			t.Errorf("Heuristic(%q) = %s, want %s", tt.query, got, tt.want)
		}
	}
}
