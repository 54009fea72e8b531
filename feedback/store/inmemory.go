package store

import (
	"context"
	"sync"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/feedback"
)

// InMemoryStore keeps feedback in process memory.
type InMemoryStore struct {
	entries []feedback.Entry
	mu      sync.RWMutex
}

var _ feedback.Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Add appends e.
func (s *InMemoryStore) Add(_ context.Context, e *feedback.Entry) error {
	if e == nil {
		return errorskg.New(errorskg.KindValidation, "feedback.Add", "entry cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

// Stats summarises the stored entries.
func (s *InMemoryStore) Stats(_ context.Context) (feedback.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum float64
	var helpful int
	for _, e := range s.entries {
		sum += float64(e.Rating)
		if e.Helpful {
			helpful++
		}
	}
	return feedback.Summarize(len(s.entries), sum, helpful), nil
}

// Count returns the number of stored entries.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
