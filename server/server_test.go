package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweetpotato0/crag/config"
	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/feedback"
	"github.com/sweetpotato0/crag/feedback/store"
	"github.com/sweetpotato0/crag/middleware"
	"github.com/sweetpotato0/crag/middleware/errorhandler"
	"github.com/sweetpotato0/crag/middleware/limiter"
	"github.com/sweetpotato0/crag/rag/orchestrator"
	"github.com/sweetpotato0/crag/rag/state"
)

// engine answers everything except vague questions, which it parks under
// the session until clarified.
type engine struct {
	mu      sync.Mutex
	parked  map[string]string
	simple  int
	entered chan struct{}
	blockCh chan struct{}
}

func newEngine() *engine { return &engine{parked: map[string]string{}} }

func (e *engine) Ask(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	if e.blockCh != nil {
		e.entered <- struct{}{}
		select {
		case <-e.blockCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if strings.HasPrefix(req.Query, "그거") {
		e.mu.Lock()
		e.parked[req.SessionID] = req.Query
		e.mu.Unlock()
		return &orchestrator.Response{
			SessionID:             req.SessionID,
			Response:              "어떤 것을 말씀하시는 건가요?",
			ClarificationNeeded:   true,
			ClarificationQuestion: "어떤 것을 말씀하시는 건가요?",
			ClarificationOptions:  []string{"Docker", "Kubernetes"},
			AllowCustomInput:      true,
		}, nil
	}
	return answer(req.SessionID, req.Query), nil
}

func (e *engine) AskSimple(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	e.mu.Lock()
	e.simple++
	e.mu.Unlock()
	return answer(req.SessionID, req.Query), nil
}

func (e *engine) Clarify(ctx context.Context, req orchestrator.ClarifyRequest) (*orchestrator.Response, error) {
	e.mu.Lock()
	q, ok := e.parked[req.SessionID]
	delete(e.parked, req.SessionID)
	e.mu.Unlock()
	if !ok {
		return nil, errorskg.Wrap(errorskg.KindValidation, "clarify",
			fmt.Errorf("no pending clarification for session %s: %w", req.SessionID, errorskg.ErrNotFound))
	}
	return answer(req.SessionID, q+" ("+req.UserResponse+")"), nil
}

func (e *engine) Session(ctx context.Context, id string) (*orchestrator.SessionInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.parked[id]
	if !ok {
		return nil, errorskg.Wrap(errorskg.KindValidation, "session", errorskg.ErrNotFound)
	}
	return &orchestrator.SessionInfo{SessionID: id, Query: q, CurrentState: state.StepClarify}, nil
}

func answer(sessionID, query string) *orchestrator.Response {
	return &orchestrator.Response{
		SessionID:         sessionID,
		Response:          "answer to " + query,
		Sources:           []string{"docker.md"},
		Confidence:        0.9,
		RetrievalSource:   state.SourceVector,
		HasSufficientInfo: true,
	}
}

func newTestServer(t *testing.T, e *engine, opts ...Option) (*Server, *store.InMemoryStore) {
	t.Helper()
	fb := store.NewInMemoryStore()
	cfg := config.Default()
	opts = append([]Option{WithChain(DefaultChain(cfg.Engine))}, opts...)
	return New(cfg.Server, e, feedback.NewService(fb), opts...), fb
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, newEngine())
	w := get(s.Handler(), "/healthz")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestChat(t *testing.T) {
	s, _ := newTestServer(t, newEngine())

	w := post(t, s.Handler(), "/chat", chatRequest{Query: "Docker 컨테이너 실행 방법"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp orchestrator.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID == "" {
		t.Error("a session id should be assigned")
	}
	if resp.RetrievalSource != state.SourceVector || resp.Response == "" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestChatRejectsEmptyQuery(t *testing.T) {
	s, _ := newTestServer(t, newEngine())

	for _, body := range []string{`{"query":"   "}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", body, w.Code)
		}
		var f errorhandler.Failure
		if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
			t.Fatal(err)
		}
		if f.ErrorType != errorskg.KindValidation || f.Recoverable || f.Message == "" {
			t.Errorf("%s: failure = %+v", body, f)
		}
	}
}

func TestChatSimple(t *testing.T) {
	e := newEngine()
	s, _ := newTestServer(t, e)
	w := post(t, s.Handler(), "/chat/simple", chatRequest{Query: "그거 어떻게 설정해요?", SessionID: "s-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if e.simple != 1 {
		t.Errorf("simple calls = %d", e.simple)
	}
}

func TestClarificationRoundTrip(t *testing.T) {
	s, _ := newTestServer(t, newEngine())
	h := s.Handler()

	w := post(t, h, "/chat", chatRequest{Query: "그거 어떻게 설정해요?", SessionID: "s-1"})
	var first orchestrator.Response
	_ = json.NewDecoder(w.Body).Decode(&first)
	if !first.ClarificationNeeded || len(first.ClarificationOptions) < 2 {
		t.Fatalf("expected clarification, got %+v", first)
	}

	if w := get(h, "/chat/sessions/s-1"); w.Code != http.StatusOK {
		t.Fatalf("session status = %d", w.Code)
	}

	w = post(t, h, "/chat/clarify", clarifyRequest{SessionID: "s-1", UserResponse: "1"})
	if w.Code != http.StatusOK {
		t.Fatalf("clarify status = %d: %s", w.Code, w.Body.String())
	}

	if w := get(h, "/chat/sessions/s-1"); w.Code != http.StatusNotFound {
		t.Errorf("resolved session status = %d", w.Code)
	}
	if w := post(t, h, "/chat/clarify", clarifyRequest{SessionID: "s-1", UserResponse: "1"}); w.Code != http.StatusNotFound {
		t.Errorf("second clarify status = %d", w.Code)
	}
	if w := post(t, h, "/chat/clarify", clarifyRequest{UserResponse: "1"}); w.Code != http.StatusBadRequest {
		t.Errorf("clarify without session status = %d", w.Code)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	e := newEngine()
	e.entered = make(chan struct{}, 1)
	e.blockCh = make(chan struct{})
	s, _ := newTestServer(t, e, WithChain(middleware.NewChain(
		errorhandler.NewErrorHandler(nil),
		limiter.NewRateLimiter(1),
	)))
	h := s.Handler()

	done := make(chan int)
	go func() {
		done <- post(t, h, "/chat", chatRequest{Query: "first", SessionID: "a"}).Code
	}()
	<-e.entered

	if code := post(t, h, "/chat", chatRequest{Query: "second", SessionID: "b"}).Code; code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d", code)
	}
	close(e.blockCh)
	if first := <-done; first != http.StatusOK {
		t.Errorf("first request status = %d", first)
	}
}

func TestFeedback(t *testing.T) {
	s, fb := newTestServer(t, newEngine())
	h := s.Handler()

	w := post(t, h, "/api/feedback/submit", feedback.Entry{SessionID: "s-1", Query: "q", Response: "a", Rating: 4, Helpful: true})
	if w.Code != http.StatusOK {
		t.Fatalf("submit status = %d: %s", w.Code, w.Body.String())
	}
	if w := post(t, h, "/api/feedback/submit", feedback.Entry{Rating: 9}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid rating status = %d", w.Code)
	}
	if fb.Count() != 1 {
		t.Errorf("stored = %d", fb.Count())
	}

	w = get(h, "/api/feedback/stats")
	var stats feedback.Stats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 || stats.AverageRating != 4 || stats.HelpfulRatio != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocketClarification(t *testing.T) {
	s, _ := newTestServer(t, newEngine())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv, "/ws/chat/ws-1")
	if err := conn.WriteJSON(wsRequest{Type: msgQuestion, Query: "그거 어떻게 설정해요?"}); err != nil {
		t.Fatal(err)
	}
	msg := readType(t, conn)
	if msg["type"] != msgClarificationRequest || msg["session_id"] != "ws-1" || msg["allow_custom_input"] != true {
		t.Fatalf("unexpected message: %v", msg)
	}

	if err := conn.WriteJSON(wsRequest{Type: msgClarification, UserResponse: "Docker"}); err != nil {
		t.Fatal(err)
	}
	msg = readType(t, conn)
	if msg["type"] != msgResponse || msg["retrieval_source"] != "vector" {
		t.Fatalf("unexpected message: %v", msg)
	}
	if !strings.Contains(msg["response"].(string), "(Docker)") {
		t.Errorf("response = %v", msg["response"])
	}
}

func TestWebSocketErrors(t *testing.T) {
	s, _ := newTestServer(t, newEngine())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv, "/ws/chat")
	for _, req := range []wsRequest{
		{Type: "shout", Query: "hello"},
		{Type: msgQuestion, Query: "  "},
	} {
		if err := conn.WriteJSON(req); err != nil {
			t.Fatal(err)
		}
		msg := readType(t, conn)
		if msg["type"] != msgError || msg["error_type"] != string(errorskg.KindValidation) || msg["recoverable"] != false {
			t.Errorf("%+v: unexpected message %v", req, msg)
		}
	}

	// the connection survives errors
	if err := conn.WriteJSON(wsRequest{Type: msgQuestion, Query: "Docker 설치"}); err != nil {
		t.Fatal(err)
	}
	if msg := readType(t, conn); msg["type"] != msgResponse {
		t.Errorf("unexpected message: %v", msg)
	}
}
