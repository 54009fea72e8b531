package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweetpotato0/crag/config"
	"github.com/sweetpotato0/crag/contrib/session/inmemory"
	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/rag/document"
	"github.com/sweetpotato0/crag/rag/generator"
	"github.com/sweetpotato0/crag/rag/quality"
	"github.com/sweetpotato0/crag/rag/state"
	"github.com/sweetpotato0/crag/rag/websearch"
	"github.com/sweetpotato0/crag/vector"
)

// model routes each request on the first line of its system prompt.
type model struct {
	mu    sync.Mutex
	calls map[string]int

	ambiguous func(query string) bool
	complex   func(query string) bool
	// relevance by document content; missing entries score 0.9
	scores   map[string]float64
	rewrites []string
	quality  float64
	onCall   func(role string)
}

func newModel() *model {
	return &model{
		calls:     map[string]int{},
		ambiguous: func(string) bool { return false },
		complex:   func(string) bool { return false },
		scores:    map[string]float64{},
		quality:   0.9,
	}
}

func (m *model) count(role string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[role]
}

func between(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	s = s[i+len(start):]
	if j := strings.Index(s, end); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func (m *model) Complete(_ context.Context, req *llm.Request) (string, error) {
	system, user := req.Messages[0].Content, req.Messages[1].Content

	var role string
	switch {
	case strings.HasPrefix(system, "You analyze questions"):
		role = "analyze"
	case strings.HasPrefix(system, "You decompose"):
		role = "decompose"
	case strings.HasPrefix(system, "You are a helpful assistant"):
		role = "generate"
	case strings.HasPrefix(system, "You write clarification questions"):
		role = "clarify"
	case strings.HasPrefix(system, "You are an expert at evaluating"):
		role = "quality"
	case strings.HasPrefix(system, "You judge whether a document"):
		role = "relevance"
	case strings.HasPrefix(system, "You rewrite search queries"):
		role = "rewrite"
	case strings.Contains(user, "public web search query"):
		role = "web_optimize"
	case strings.Contains(user, "Evaluate whether this web result helps"):
		role = "web_evaluate"
	default:
		return "", fmt.Errorf("unexpected prompt: %.60s", system)
	}

	m.mu.Lock()
	m.calls[role]++
	n := m.calls[role]
	onCall := m.onCall
	m.mu.Unlock()
	if onCall != nil {
		onCall(role)
	}

	switch role {
	case "analyze":
		q := between(user, "## Query\n", "\n\n## Fields")
		ambiguous := m.ambiguous(q)
		out := map[string]any{
			"refined_query":      q,
			"complexity":         "simple",
			"clarity_confidence": 0.95,
			"is_ambiguous":       ambiguous,
			"ambiguity_type":     "none",
			"detected_domains":   []string{"devops"},
		}
		if ambiguous {
			out["clarity_confidence"] = 0.3
			out["ambiguity_type"] = "vague_term"
		}
		if m.complex(q) {
			out["complexity"] = "complex"
		}
		return mustJSON(out), nil
	case "clarify":
		return mustJSON(map[string]any{
			"clarification_question": "어떤 설정을 말씀하시는 건가요?",
			"options":                []string{"Docker 설정", "Kubernetes 설정", "Nginx 설정"},
		}), nil
	case "decompose":
		return mustJSON(map[string]any{
			"original_intent": "compare",
			"sub_questions": []map[string]any{
				{"id": "q1", "question": "Docker 특징"},
				{"id": "q2", "question": "Kubernetes 특징"},
			},
			"synthesis_guide": "compare both",
		}), nil
	case "relevance":
		content := between(user, "Content:\n", "\n\n## Scoring")
		score, ok := m.scores[content]
		if !ok {
			score = 0.9
		}
		return mustJSON(map[string]any{"relevance_score": score, "reason": "stub"}), nil
	case "rewrite":
		q := fmt.Sprintf("rewritten query %d", n)
		if n <= len(m.rewrites) {
			q = m.rewrites[n-1]
		}
		return mustJSON(map[string]any{"rewritten_query": q, "changes_made": "stub"}), nil
	case "web_optimize":
		return `{"optimized_query": "kubernetes deployment guide", "search_focus": "documentation"}`, nil
	case "web_evaluate":
		return `{"content_relevance": 0.9, "source_reliability": 0.9, "should_include": true}`, nil
	case "generate":
		return mustJSON(map[string]any{
			"response":            "답변입니다 [1]",
			"sources":             []string{"docs/docker.md"},
			"has_sufficient_info": true,
		}), nil
	default: // quality
		return mustJSON(map[string]any{"completeness": m.quality, "accuracy": m.quality, "clarity": m.quality}), nil
	}
}

// index serves documents by query.
type index struct {
	mu      sync.Mutex
	queries []string
	docs    func(query string) ([]document.Document, error)
}

func (x *index) Search(_ context.Context, q vector.Query) ([]document.Document, error) {
	x.mu.Lock()
	x.queries = append(x.queries, q.Text)
	x.mu.Unlock()
	return x.docs(q.Text)
}

func doc(source, content string) document.Document {
	return document.Document{
		Content:        content,
		Metadata:       document.Metadata{Source: source},
		EmbeddingScore: document.Score(0.9),
	}
}

type webProvider struct {
	queries []string
}

func (w *webProvider) Search(_ context.Context, query string, _ int) ([]websearch.Result, error) {
	w.queries = append(w.queries, query)
	return []websearch.Result{{
		Title:   "Deployments",
		URL:     "https://kubernetes.io/docs/concepts/workloads/controllers/deployment/",
		Content: "A Deployment provides declarative updates for Pods.",
		Score:   0.9,
	}}, nil
}

func testEngine() config.Engine {
	cfg := config.DefaultEngine()
	cfg.RelevanceThreshold = 0.7
	cfg.SecondaryThreshold = 0.5
	cfg.HighCutoff = 0.8
	cfg.MediumCutoff = 0.3
	cfg.MinHighDocs = 2
	cfg.MaxRetries = 2
	cfg.MaxHITL = 2
	cfg.RetryAttempts = 1
	cfg.RetryBase = time.Millisecond
	cfg.CacheTTL = 0
	return cfg
}

type harness struct {
	orc      *Orchestrator
	model    *model
	index    *index
	web      *webProvider
	sessions *inmemory.InMemoryStore

	mu         sync.Mutex
	violations []string
}

func newHarness(t *testing.T, cfg config.Engine, m *model, idx *index) *harness {
	t.Helper()
	h := &harness{model: m, index: idx, web: &webProvider{}, sessions: inmemory.NewInMemoryStore()}
	orc, err := New(cfg, Deps{LLM: m, Index: idx, Web: h.web, Sessions: h.sessions},
		WithLogger(logging.Discard()),
		WithObserver(func(node string, r *state.Record) {
			if err := r.Check(cfg.MaxRetries, cfg.MaxHITL); err != nil {
				h.mu.Lock()
				h.violations = append(h.violations, node+": "+err.Error())
				h.mu.Unlock()
			}
		}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orc = orc
	return h
}

func (h *harness) checkInvariants(t *testing.T) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.violations) > 0 {
		t.Fatalf("invariant violations: %v", h.violations)
	}
}

func staticIndex(docs ...document.Document) *index {
	return &index{docs: func(string) ([]document.Document, error) { return document.CloneAll(docs), nil }}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(testEngine(), Deps{Index: staticIndex()})
	if errorskg.KindOf(err) != errorskg.KindConfiguration {
		t.Fatalf("missing model must be a configuration error, got %v", err)
	}
	_, err = New(testEngine(), Deps{LLM: newModel()})
	if errorskg.KindOf(err) != errorskg.KindConfiguration {
		t.Fatalf("missing index must be a configuration error, got %v", err)
	}
}

func TestHappyPathAnswersFromIndex(t *testing.T) {
	h := newHarness(t, testEngine(), newModel(), staticIndex(
		doc("docs/docker.md", "docker run -d nginx"),
		doc("docs/docker-compose.md", "docker compose up"),
	))

	resp, err := h.orc.Ask(context.Background(), Request{Query: "Docker 컨테이너 실행 방법"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.RetrievalSource != state.SourceVector {
		t.Fatalf("retrieval_source = %s, want vector", resp.RetrievalSource)
	}
	if resp.NeedsDisclaimer || resp.Disclaimer != "" {
		t.Fatalf("confident internal answer must not carry a disclaimer: %+v", resp)
	}
	if resp.Confidence < 0.8 {
		t.Fatalf("confidence = %v, want >= 0.8", resp.Confidence)
	}
	if resp.ClarificationNeeded {
		t.Fatal("clear question must not ask for clarification")
	}
	if !slices.Equal(resp.Sources, []string{"docs/docker.md"}) {
		t.Fatalf("sources = %v", resp.Sources)
	}
	if resp.SessionID == "" {
		t.Fatal("a session id must be assigned")
	}
	rec := resp.Record
	if rec.AvgRelevance != 0.9 || rec.HighRelevanceCount != 2 || rec.RetryCount != 0 {
		t.Fatalf("unexpected aggregates: avg=%v high=%d retries=%d", rec.AvgRelevance, rec.HighRelevanceCount, rec.RetryCount)
	}
	if rec.CurrentState != state.StepEnd || rec.EndTime.IsZero() {
		t.Fatalf("run must end at %s with an end time, got %s", state.StepEnd, rec.CurrentState)
	}
	if h.sessions.Count() != 0 {
		t.Fatal("a finished run must not leave a parked session")
	}
	h.checkInvariants(t)
}

func TestClarificationRoundTrip(t *testing.T) {
	m := newModel()
	m.ambiguous = func(q string) bool { return !strings.Contains(q, "(") }
	h := newHarness(t, testEngine(), m, staticIndex(
		doc("docs/docker.md", "docker daemon.json"),
		doc("docs/docker-compose.md", "compose settings"),
	))
	ctx := context.Background()

	resp, err := h.orc.Ask(ctx, Request{Query: "그거 어떻게 설정해요?", SessionID: "s-1"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.ClarificationNeeded || !resp.AllowCustomInput {
		t.Fatalf("expected a clarification request, got %+v", resp)
	}
	if n := len(resp.ClarificationOptions); n < 2 || n > 5 {
		t.Fatalf("got %d options, want 2..5", n)
	}
	if resp.Response != resp.ClarificationQuestion {
		t.Fatal("the question doubles as the response text")
	}
	if h.index.queries != nil {
		t.Fatal("no retrieval may happen before the user answers")
	}

	info, err := h.orc.Session(ctx, "s-1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if info.CurrentState != state.StepClarify || info.ClarificationQuestion == "" || info.InteractionCount != 0 {
		t.Fatalf("unexpected parked state %+v", info)
	}

	resp, err = h.orc.Clarify(ctx, ClarifyRequest{SessionID: "s-1", UserResponse: "1"})
	if err != nil {
		t.Fatalf("Clarify: %v", err)
	}
	if resp.ClarificationNeeded {
		t.Fatal("an answered clarification must proceed")
	}
	rec := resp.Record
	if rec.InteractionCount != 1 {
		t.Fatalf("interaction_count = %d, want 1", rec.InteractionCount)
	}
	if rec.RefinedQuery != "그거 어떻게 설정해요? (Docker 설정)" {
		t.Fatalf("refined query = %q", rec.RefinedQuery)
	}
	if !slices.Contains(rec.Steps, state.StepRetrieve) {
		t.Fatalf("flow must reach retrieval, steps %v", rec.Steps)
	}
	if len(h.index.queries) == 0 || !strings.Contains(h.index.queries[0], "Docker 설정") {
		t.Fatalf("retrieval must use the refined query, got %v", h.index.queries)
	}

	if _, err := h.orc.Session(ctx, "s-1"); !errors.Is(err, errorskg.ErrNotFound) {
		t.Fatalf("finished session must be gone, got %v", err)
	}
	h.checkInvariants(t)
}

func TestCorrectiveLoopRecoversAfterRewrite(t *testing.T) {
	m := newModel()
	m.scores["weak match"] = 0.4
	m.scores["deployment guide"] = 0.85
	m.rewrites = []string{"Kubernetes 배포 설정 가이드"}
	idx := &index{docs: func(q string) ([]document.Document, error) {
		if q == "Kubernetes 배포 설정 가이드" {
			return []document.Document{doc("docs/k8s.md", "deployment guide")}, nil
		}
		return []document.Document{doc("docs/misc.md", "weak match")}, nil
	}}
	h := newHarness(t, testEngine(), m, idx)

	resp, err := h.orc.Ask(context.Background(), Request{Query: "쿠버네티스 배포"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	rec := resp.Record
	if rec.RetryCount != 1 || !rec.CorrectionTriggered {
		t.Fatalf("retry_count = %d, want 1", rec.RetryCount)
	}
	if !slices.Equal(rec.RewrittenQueries, []string{"Kubernetes 배포 설정 가이드"}) {
		t.Fatalf("rewritten queries = %v", rec.RewrittenQueries)
	}
	if rec.AvgRelevance != 0.85 {
		t.Fatalf("second round avg_relevance = %v", rec.AvgRelevance)
	}
	if rec.WebSearchTriggered || resp.RetrievalSource != state.SourceVector {
		t.Fatalf("recovered loop must answer from the index, got %s", resp.RetrievalSource)
	}
	if rec.RetrievalAttempts != 2 {
		t.Fatalf("retrieval attempts = %d, want 2", rec.RetrievalAttempts)
	}
	h.checkInvariants(t)
}

func TestWebFallbackAfterRetriesExhausted(t *testing.T) {
	m := newModel()
	m.scores["weak match"] = 0.4
	h := newHarness(t, testEngine(), m, staticIndex(doc("docs/misc.md", "weak match")))

	resp, err := h.orc.Ask(context.Background(), Request{Query: "쿠버네티스 배포 전략"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	rec := resp.Record
	if rec.RetryCount != 2 || rec.RetrievalAttempts != 3 {
		t.Fatalf("retry_count = %d attempts = %d, want 2 and 3", rec.RetryCount, rec.RetrievalAttempts)
	}
	if !rec.WebSearchTriggered || !resp.NeedsDisclaimer {
		t.Fatalf("web fallback must be triggered with a disclaimer: %+v", resp)
	}
	if resp.Disclaimer != quality.WebDisclaimer {
		t.Fatalf("disclaimer = %q", resp.Disclaimer)
	}
	if !resp.RetrievalSource.UsesWeb() {
		t.Fatalf("retrieval_source = %s, want web evidence", resp.RetrievalSource)
	}
	if !slices.Equal(h.web.queries, []string{"kubernetes deployment guide"}) {
		t.Fatalf("web provider saw %v", h.web.queries)
	}
	if len(rec.RewrittenQueries) != 2 || rec.RewrittenQueries[0] == rec.RewrittenQueries[1] {
		t.Fatalf("rewrites must be distinct, got %v", rec.RewrittenQueries)
	}
	h.checkInvariants(t)
}

func TestClarificationCapIsHonoured(t *testing.T) {
	m := newModel()
	m.ambiguous = func(string) bool { return true }
	h := newHarness(t, testEngine(), m, staticIndex(
		doc("docs/a.md", "a"), doc("docs/b.md", "b"),
	))
	ctx := context.Background()

	resp, err := h.orc.Ask(ctx, Request{Query: "그거 설정", SessionID: "s-cap"})
	if err != nil || !resp.ClarificationNeeded {
		t.Fatalf("first turn must clarify: %+v %v", resp, err)
	}
	resp, err = h.orc.Clarify(ctx, ClarifyRequest{SessionID: "s-cap", UserResponse: "1"})
	if err != nil || !resp.ClarificationNeeded {
		t.Fatalf("second turn must clarify: %+v %v", resp, err)
	}
	if resp.Record.InteractionCount != 1 {
		t.Fatalf("interaction_count = %d, want 1", resp.Record.InteractionCount)
	}
	resp, err = h.orc.Clarify(ctx, ClarifyRequest{SessionID: "s-cap", UserResponse: "직접 입력한 설명"})
	if err != nil {
		t.Fatalf("Clarify: %v", err)
	}
	if resp.ClarificationNeeded {
		t.Fatal("the third ambiguous turn must not clarify again")
	}
	if resp.Record.InteractionCount != 2 {
		t.Fatalf("interaction_count = %d, want 2", resp.Record.InteractionCount)
	}
	if !strings.Contains(resp.Record.RefinedQuery, "직접 입력한 설명") {
		t.Fatalf("free text must be folded into the query, got %q", resp.Record.RefinedQuery)
	}
	if m.count("clarify") != 2 {
		t.Fatalf("clarification questions generated = %d, want 2", m.count("clarify"))
	}
	h.checkInvariants(t)
}

func TestNewQuestionInheritsInteractionCount(t *testing.T) {
	m := newModel()
	m.ambiguous = func(string) bool { return true }
	h := newHarness(t, testEngine(), m, staticIndex(doc("docs/a.md", "a"), doc("docs/b.md", "b")))
	ctx := context.Background()

	if _, err := h.orc.Ask(ctx, Request{Query: "그거", SessionID: "s-inherit"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if _, err := h.orc.Clarify(ctx, ClarifyRequest{SessionID: "s-inherit", UserResponse: "2"}); err != nil {
		t.Fatalf("Clarify: %v", err)
	}
	resp, err := h.orc.Ask(ctx, Request{Query: "저것도", SessionID: "s-inherit"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.ClarificationNeeded || resp.Record.InteractionCount != 1 {
		t.Fatalf("new question must keep the session's interaction count, got %d", resp.Record.InteractionCount)
	}
	if resp.Record.Query != "저것도" {
		t.Fatalf("new question must replace the parked one, got %q", resp.Record.Query)
	}
}

func TestAskSimpleNeverClarifies(t *testing.T) {
	m := newModel()
	m.ambiguous = func(string) bool { return true }
	h := newHarness(t, testEngine(), m, staticIndex(doc("docs/a.md", "a"), doc("docs/b.md", "b")))

	resp, err := h.orc.AskSimple(context.Background(), Request{Query: "그거 어떻게 해요?"})
	if err != nil {
		t.Fatalf("AskSimple: %v", err)
	}
	if resp.ClarificationNeeded || m.count("clarify") != 0 {
		t.Fatal("simple chat must not ask for clarification")
	}
	if resp.Response == "" {
		t.Fatal("expected an answer")
	}
}

func TestComplexQuestionRetrievesSubQuestionsConcurrently(t *testing.T) {
	m := newModel()
	m.complex = func(q string) bool { return strings.Contains(q, "차이") }
	idx := &index{docs: func(q string) ([]document.Document, error) {
		switch q {
		case "Docker 특징":
			return []document.Document{doc("docs/docker.md", "docker features")}, nil
		case "Kubernetes 특징":
			return []document.Document{doc("docs/k8s.md", "kubernetes features")}, nil
		}
		return nil, nil
	}}
	h := newHarness(t, testEngine(), m, idx)

	resp, err := h.orc.Ask(context.Background(), Request{Query: "Docker와 Kubernetes 차이"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	rec := resp.Record
	if len(rec.SubQueries) != 2 || rec.SynthesisGuide != "compare both" {
		t.Fatalf("unexpected plan %+v", rec.SubQueries)
	}
	got := slices.Clone(idx.queries)
	slices.Sort(got)
	if !slices.Equal(got, []string{"Docker 특징", "Kubernetes 특징"}) {
		t.Fatalf("index queries = %v", idx.queries)
	}
	if len(rec.RetrievedDocs) != 2 {
		t.Fatalf("merged %d docs, want 2", len(rec.RetrievedDocs))
	}
	if !slices.Contains(rec.Steps, state.StepDecompose) {
		t.Fatalf("steps %v", rec.Steps)
	}
}

func TestIndexOutageGoesStraightToWeb(t *testing.T) {
	idx := &index{docs: func(string) ([]document.Document, error) {
		return nil, errors.New("connection refused")
	}}
	m := newModel()
	h := newHarness(t, testEngine(), m, idx)

	resp, err := h.orc.Ask(context.Background(), Request{Query: "Redis 클러스터 설정"})
	if err != nil {
		t.Fatalf("an index outage must not fail the run: %v", err)
	}
	rec := resp.Record
	if !rec.RetrievalUnavailable || rec.RetryCount != 0 || rec.RetrievalAttempts != 1 {
		t.Fatalf("expected one failed attempt and no rewrites, got %+v", rec)
	}
	if m.count("rewrite") != 0 {
		t.Fatal("rewriting cannot help an unavailable index")
	}
	if resp.RetrievalSource != state.SourceWeb || !resp.NeedsDisclaimer {
		t.Fatalf("expected a web answer with disclaimer, got %s", resp.RetrievalSource)
	}
	if len(rec.ErrorLog) == 0 || !strings.HasPrefix(rec.ErrorLog[0], string(state.StepRetrieve)) {
		t.Fatalf("the outage must be logged, got %v", rec.ErrorLog)
	}
	h.checkInvariants(t)
}

func TestNothingFoundAnywhereCannotAnswer(t *testing.T) {
	idx := &index{docs: func(string) ([]document.Document, error) { return nil, errors.New("down") }}
	m := newModel()
	orc, err := New(testEngine(), Deps{LLM: m, Index: idx}, WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := orc.Ask(context.Background(), Request{Query: "Redis 클러스터 설정"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Response != generator.CannotAnswer || resp.HasSufficientInfo {
		t.Fatalf("expected the cannot-answer response, got %+v", resp)
	}
	if !resp.NeedsDisclaimer || !resp.Record.WebSearchTriggered {
		t.Fatal("a failed web fallback still needs a disclaimer")
	}
	if m.count("generate") != 0 {
		t.Fatal("no model call without evidence")
	}
}

func TestRetrievalSourceIsStable(t *testing.T) {
	m := newModel()
	m.scores["weak match"] = 0.4
	h := newHarness(t, testEngine(), m, staticIndex(doc("docs/misc.md", "weak match")))
	ctx := context.Background()

	first, err := h.orc.Ask(ctx, Request{Query: "배포 전략"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	second, err := h.orc.Ask(ctx, Request{Query: "배포 전략"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if first.RetrievalSource != second.RetrievalSource {
		t.Fatalf("retrieval source changed between runs: %s vs %s", first.RetrievalSource, second.RetrievalSource)
	}
}

func TestClarifyValidation(t *testing.T) {
	h := newHarness(t, testEngine(), newModel(), staticIndex())
	ctx := context.Background()

	_, err := h.orc.Clarify(ctx, ClarifyRequest{SessionID: "unknown", UserResponse: "1"})
	if errorskg.KindOf(err) != errorskg.KindValidation || !errors.Is(err, errorskg.ErrNotFound) {
		t.Fatalf("unknown session: got %v", err)
	}
	_, err = h.orc.Clarify(ctx, ClarifyRequest{SessionID: "s", UserResponse: "  "})
	if errorskg.KindOf(err) != errorskg.KindValidation {
		t.Fatalf("empty response: got %v", err)
	}
	_, err = h.orc.Ask(ctx, Request{Query: " "})
	if errorskg.KindOf(err) != errorskg.KindValidation {
		t.Fatalf("empty query: got %v", err)
	}
}

func TestCanceledRunIsNotParked(t *testing.T) {
	m := newModel()
	m.ambiguous = func(string) bool { return true }
	h := newHarness(t, testEngine(), m, staticIndex())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.onCall = func(role string) {
		if role == "analyze" {
			cancel()
		}
	}

	_, err := h.orc.Ask(ctx, Request{Query: "그거 설정", SessionID: "s-cancel"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if h.sessions.Count() != 0 {
		t.Fatal("a canceled run must not leave a record behind")
	}
}

func TestProgressAndDebug(t *testing.T) {
	cfg := testEngine()
	cfg.Debug = true
	h := newHarness(t, cfg, newModel(), staticIndex(doc("docs/a.md", "a"), doc("docs/b.md", "b")))

	var steps []state.Step
	ctx := WithProgress(context.Background(), func(step state.Step, message string) {
		if message == "" {
			t.Errorf("step %s has no message", step)
		}
		steps = append(steps, step)
	})
	resp, err := h.orc.Ask(ctx, Request{Query: "Docker 네트워크 설정"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	want := []state.Step{
		state.StepAnalyze, state.StepRetrieve, state.StepEvaluateRelevance,
		state.StepGenerateResponse, state.StepEvaluateQuality, state.StepEnd,
	}
	if !slices.Equal(steps, want) {
		t.Fatalf("progress steps = %v, want %v", steps, want)
	}
	if resp.Debug == nil {
		t.Fatal("debug info expected")
	}
	if !slices.Equal(resp.Debug.Steps, want) {
		t.Fatalf("debug steps = %v", resp.Debug.Steps)
	}
	// analyze, two relevance judgements, generate, quality
	if resp.Debug.TotalModelCalls != 5 {
		t.Fatalf("total_model_calls = %d, want 5", resp.Debug.TotalModelCalls)
	}
}
