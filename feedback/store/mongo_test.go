package store

import (
	"context"
	"os"
	"testing"

	"github.com/sweetpotato0/crag/config"
	"github.com/sweetpotato0/crag/feedback"
)

// Requires a running MongoDB; set MONGODB_URI to run.
func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set, skipping MongoDB store tests")
	}
	ctx := context.Background()

	s, err := NewMongoStore(ctx, config.MongoConfig{URI: uri, Database: "crag_test", Collection: "feedback_test"})
	if err != nil {
		t.Skipf("Failed to connect to MongoDB: %v", err)
	}
	defer s.Close(ctx)
	if _, err := s.collection.DeleteMany(ctx, map[string]any{}); err != nil {
		t.Fatalf("clear: %v", err)
	}

	svc := feedback.NewService(s)
	for _, r := range []int{5, 3} {
		if _, err := svc.Submit(ctx, feedback.Entry{Rating: r, Helpful: r > 3}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 || stats.AverageRating != 4 || stats.HelpfulRatio != 0.5 {
		t.Fatalf("stats = %+v", stats)
	}
}
