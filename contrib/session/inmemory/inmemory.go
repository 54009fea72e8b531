// Package inmemory is a process-local session.Store for single-replica
// deployments and tests.
package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/rag/state"
	"github.com/sweetpotato0/crag/session"
)

var _ session.Store = (*InMemoryStore)(nil)

// InMemoryStore keeps serialized records in an expiring cache. Storing the
// JSON encoding rather than the pointer keeps callers from sharing state.
type InMemoryStore struct {
	records *gocache.Cache

	mu    sync.Mutex
	locks map[string]*lockEntry
}

// lockEntry is dropped once nobody holds or waits for it.
type lockEntry struct {
	ch   chan struct{}
	refs int
}

// NewInMemoryStore creates a new in-memory session store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: gocache.New(gocache.NoExpiration, 10*time.Minute),
		locks:   make(map[string]*lockEntry),
	}
}

// Get loads a record from the store
func (s *InMemoryStore) Get(_ context.Context, id string) (*state.Record, error) {
	raw, ok := s.records.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, errorskg.ErrNotFound)
	}
	var rec state.Record
	if err := json.Unmarshal(raw.([]byte), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	return &rec, nil
}

// Put saves a record with ttl
func (s *InMemoryStore) Put(_ context.Context, rec *state.Record, ttl time.Duration) error {
	if rec == nil || rec.SessionID == "" {
		return fmt.Errorf("session record cannot be nil")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.records.Set(rec.SessionID, raw, ttl)
	return nil
}

// Delete removes a record from the store
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.records.Delete(id)
	return nil
}

// Lock waits for the per-session lock or ctx cancellation.
func (s *InMemoryStore) Lock(ctx context.Context, id string) (func(), error) {
	s.mu.Lock()
	e, ok := s.locks[id]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		s.locks[id] = e
	}
	e.refs++
	s.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		s.unref(id, e)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			s.unref(id, e)
		})
	}, nil
}

func (s *InMemoryStore) unref(id string, e *lockEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 && s.locks[id] == e {
		delete(s.locks, id)
	}
}

// Count returns the number of live records
func (s *InMemoryStore) Count() int {
	return s.records.ItemCount()
}
