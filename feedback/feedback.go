// Package feedback records user ratings of answers.
package feedback

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/pkg/logging"
)

// Rating bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// Entry is one piece of feedback on an answer.
type Entry struct {
	ID        string    `json:"id" bson:"_id"`
	SessionID string    `json:"session_id" bson:"session_id"`
	Query     string    `json:"query" bson:"query"`
	Response  string    `json:"response" bson:"response"`
	Rating    int       `json:"rating" bson:"rating"`
	Helpful   bool      `json:"helpful" bson:"helpful"`
	Comment   string    `json:"comment,omitempty" bson:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Stats summarises all feedback.
type Stats struct {
	Total         int     `json:"total"`
	AverageRating float64 `json:"average_rating"`
	HelpfulRatio  float64 `json:"helpful_ratio"`
}

// Store persists feedback entries.
type Store interface {
	Add(ctx context.Context, e *Entry) error
	Stats(ctx context.Context) (Stats, error)
}

// Service validates and stores feedback.
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a feedback service over store.
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		now:    time.Now,
		logger: logging.WithComponent("feedback"),
	}
}

// Submit validates e, assigns its id and timestamp and stores it.
func (s *Service) Submit(ctx context.Context, e Entry) (*Entry, error) {
	if e.Rating < MinRating || e.Rating > MaxRating {
		return nil, errorskg.New(errorskg.KindValidation, "feedback.Submit", "rating must be between 1 and 5")
	}
	e.SessionID = strings.TrimSpace(e.SessionID)
	e.Comment = strings.TrimSpace(e.Comment)
	e.ID = uuid.NewString()
	e.CreatedAt = s.now().UTC()

	if err := s.store.Add(ctx, &e); err != nil {
		s.logger.Error("store feedback failed", "session_id", e.SessionID, "error", err)
		return nil, err
	}
	s.logger.Info("feedback received", "session_id", e.SessionID, "rating", e.Rating, "helpful", e.Helpful)
	return &e, nil
}

// Stats returns the summary over all stored feedback.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// Summarize computes Stats from raw totals.
func Summarize(total int, ratingSum float64, helpful int) Stats {
	if total == 0 {
		return Stats{}
	}
	return Stats{
		Total:         total,
		AverageRating: ratingSum / float64(total),
		HelpfulRatio:  float64(helpful) / float64(total),
	}
}
