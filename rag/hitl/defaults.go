package hitl

import (
	"slices"

	"github.com/sweetpotato0/crag/rag/state"
)

var defaultQuestions = map[state.AmbiguityType]string{
	state.AmbiguityMultipleInterpretation: "질문을 어떤 측면에서 답변해 드릴까요?",
	state.AmbiguityMissingContext:         "추가 정보가 필요합니다. 어떤 상황인가요?",
	state.AmbiguityVagueTerm:              "좀 더 구체적으로 알려주시겠어요?",
}

var defaultOptions = map[state.AmbiguityType][]string{
	state.AmbiguityMultipleInterpretation: {"개념 설명이 필요해요", "사용 방법을 알고 싶어요", "문제 해결이 필요해요"},
	state.AmbiguityMissingContext:         {"설정 관련", "개발 관련", "배포 관련"},
	state.AmbiguityVagueTerm:              {"기본 개념", "고급 기능", "실제 예시"},
}

// Default returns the canned clarification for an ambiguity type.
func Default(t state.AmbiguityType) *Clarification {
	q, ok := defaultQuestions[t]
	if !ok {
		q = "질문을 좀 더 구체적으로 알려주시겠어요?"
	}
	opts, ok := defaultOptions[t]
	if !ok {
		opts = []string{"자세한 설명", "간단한 요약", "예시 코드"}
	}
	return &Clarification{Question: q, Options: slices.Clone(opts), AllowCustomInput: true}
}

const systemPrompt = `You write clarification questions for a Korean technical documentation assistant.
Return a single JSON object and nothing else.`

const userPrompt = `The user's question is ambiguous. Ask ONE clarifying question.

## Question
%s

## Ambiguity
- type: %s
- clarity_confidence: %.2f
- detected_domains: %s

## Rules
1. Write the question naturally, in Korean.
2. Give 2-5 mutually exclusive options covering the likely interpretations.
3. Keep every option under 50 characters.
4. Do not add an "other" option; free text is always allowed.

## Output
{"clarification_question": "...", "options": ["...", "..."]}`
