package quality

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/sweetpotato0/crag/llm"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/retry"
)

func reply(s string, err error) llm.Client {
	return llm.ClientFunc(func(context.Context, *llm.Request) (string, error) { return s, err })
}

func newTest(c llm.Client) *Evaluator {
	return New(c, WithRetryPolicy(retry.Policy{MaxAttempts: 1}), WithLogger(logging.Discard()))
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEvaluateRecomputesConfidence(t *testing.T) {
	c := reply(`{"completeness":0.9,"accuracy":1.0,"clarity":0.8,"confidence":0.1}`, nil)
	ev, err := newTest(c).Evaluate(context.Background(), Input{Query: "q", Response: "answer", Sources: []string{"a.md"}})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !near(ev.Confidence, 0.4*0.9+0.4*1.0+0.2*0.8) {
		t.Fatalf("unexpected confidence %v", ev.Confidence)
	}
	if ev.NeedsDisclaimer || ev.Disclaimer(false) != "" {
		t.Fatalf("high confidence internal answer needs no disclaimer")
	}
}

func TestWebAnswerAlwaysNeedsDisclaimer(t *testing.T) {
	c := reply(`{"completeness":1,"accuracy":1,"clarity":1}`, nil)
	ev, _ := newTest(c).Evaluate(context.Background(), Input{Response: "answer", UsedWeb: true})
	if ev.Confidence != 1 || !ev.NeedsDisclaimer {
		t.Fatalf("web answers must carry a disclaimer regardless of confidence: %+v", ev)
	}
	if ev.Disclaimer(true) != WebDisclaimer {
		t.Fatalf("expected web disclaimer text")
	}
}

func TestLowConfidenceNeedsDisclaimer(t *testing.T) {
	c := reply(`{"completeness":0.5,"accuracy":0.9,"clarity":0.9}`, nil)
	ev, _ := newTest(c).Evaluate(context.Background(), Input{Response: "answer"})
	if !ev.NeedsDisclaimer || ev.Disclaimer(false) != LowConfidenceDisclaimer {
		t.Fatalf("confidence %.2f below 0.8 must carry the low-confidence disclaimer", ev.Confidence)
	}
}

func TestEmptyResponseScoresZero(t *testing.T) {
	called := false
	c := llm.ClientFunc(func(context.Context, *llm.Request) (string, error) {
		called = true
		return "", nil
	})
	ev, err := newTest(c).Evaluate(context.Background(), Input{Response: "   "})
	if err != nil || called {
		t.Fatalf("empty response must not call the model (err=%v)", err)
	}
	if ev.Confidence != 0 || !ev.NeedsDisclaimer {
		t.Fatalf("unexpected evaluation %+v", ev)
	}
}

func TestModelFailureFallsBackToHeuristic(t *testing.T) {
	in := Input{
		Response:     strings.Repeat("가", 600),
		Sources:      []string{"a.md", "b.md"},
		AvgRelevance: 0.9,
	}
	ev, err := newTest(reply("", errors.New("down"))).Evaluate(context.Background(), in)
	if err == nil || !ev.Heuristic {
		t.Fatalf("expected heuristic evaluation with error, got %+v err=%v", ev, err)
	}
	// completeness 0.8, accuracy 0.9, clarity 0.6
	if !near(ev.Confidence, 0.4*0.8+0.4*0.9+0.2*0.6) {
		t.Fatalf("unexpected heuristic confidence %v", ev.Confidence)
	}
}

func TestQuickShortAnswer(t *testing.T) {
	ev := newTest(nil).Quick(Input{Response: "짧음"})
	if !near(ev.Completeness, 0.3) || !near(ev.Clarity, 0.4) || !near(ev.Accuracy, 0.5) {
		t.Fatalf("unexpected scores %+v", ev)
	}
	if !ev.NeedsDisclaimer {
		t.Fatalf("weak heuristic answer needs a disclaimer")
	}
}
