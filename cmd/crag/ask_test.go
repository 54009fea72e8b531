package main

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/sweetpotato0/crag/middleware"
	"github.com/sweetpotato0/crag/rag/orchestrator"
	"github.com/sweetpotato0/crag/rag/state"
)

type engine struct {
	clarified string
}

func (e *engine) Ask(_ context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	return &orchestrator.Response{
		SessionID:             "s-1",
		ClarificationNeeded:   true,
		ClarificationQuestion: "어떤 도구인가요?",
		ClarificationOptions:  []string{"Docker", "Kubernetes"},
	}, nil
}

func (e *engine) AskSimple(_ context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	return &orchestrator.Response{SessionID: "s-1", Response: "simple " + req.Query}, nil
}

func (e *engine) Clarify(_ context.Context, req orchestrator.ClarifyRequest) (*orchestrator.Response, error) {
	e.clarified = req.UserResponse
	return &orchestrator.Response{
		SessionID:       req.SessionID,
		Response:        "docker run",
		Sources:         []string{"docker.md"},
		RetrievalSource: state.SourceVector,
		Confidence:      0.9,
	}, nil
}

func TestTerminalAnswersClarification(t *testing.T) {
	e := &engine{}
	var out bytes.Buffer
	term := &terminal{
		chain:  middleware.NewChain(),
		engine: e,
		in:     bufio.NewReader(strings.NewReader("1\n")),
		out:    &out,
	}
	resp, err := term.converse(context.Background(), middleware.OpAsk, "그거 어떻게 해요?", "")
	if err != nil {
		t.Fatalf("converse: %v", err)
	}
	if e.clarified != "1" || resp.Response != "docker run" {
		t.Errorf("clarified=%q resp=%+v", e.clarified, resp)
	}
	if !strings.Contains(out.String(), "1. Docker") {
		t.Errorf("options not printed:\n%s", out.String())
	}

	var printed bytes.Buffer
	printAnswer(&printed, resp)
	if !strings.Contains(printed.String(), "docker.md") || !strings.Contains(printed.String(), "session s-1") {
		t.Errorf("answer output:\n%s", printed.String())
	}
}

func TestTerminalFailsWithoutInput(t *testing.T) {
	term := &terminal{
		chain:  middleware.NewChain(),
		engine: &engine{},
		in:     bufio.NewReader(strings.NewReader("")),
		out:    &bytes.Buffer{},
	}
	if _, err := term.converse(context.Background(), middleware.OpAsk, "q", ""); err == nil {
		t.Fatal("expected an error when no clarification can be read")
	}
}

func TestTerminalSimple(t *testing.T) {
	term := &terminal{chain: middleware.NewChain(), engine: &engine{}, out: &bytes.Buffer{}}
	resp, err := term.converse(context.Background(), middleware.OpAskSimple, "q", "")
	if err != nil || resp.Response != "simple q" {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}
}
