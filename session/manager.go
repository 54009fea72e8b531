package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/rag/state"
)

// Manager applies TTL and lock-wait policy on top of a Store.
type Manager struct {
	store    Store
	ttl      time.Duration
	lockWait time.Duration
	logger   *slog.Logger
}

// Option is a function that configures a Manager.
type Option func(*Manager)

// WithTTL sets how long a parked record survives without an answer.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithLockWait bounds how long Acquire waits for a busy session.
func WithLockWait(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lockWait = d
		}
	}
}

// WithLogger overrides the logger used by the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		ttl:      time.Hour,
		lockWait: 5 * time.Second,
		logger:   logging.WithComponent("session_manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// Normalize returns id trimmed, or a fresh id when it is blank.
func Normalize(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return NewID()
}

// Acquire takes the per-session lock, waiting at most the configured lock
// wait. A session that stays busy yields a rate_limit error wrapping
// errors.ErrLocked.
func (m *Manager) Acquire(ctx context.Context, id string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, m.lockWait)
	defer cancel()

	release, err := m.store.Lock(lctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("session busy", "id", id, "error", err)
		return nil, errorskg.Wrap(errorskg.KindRateLimit, "session.Acquire", fmt.Errorf("session %s: %w", id, errorskg.ErrLocked))
	}
	return release, nil
}

// Load returns the parked record for id. ok is false when none exists.
func (m *Manager) Load(ctx context.Context, id string) (rec *state.Record, ok bool, err error) {
	rec, err = m.store.Get(ctx, id)
	switch {
	case errors.Is(err, errorskg.ErrNotFound):
		return nil, false, nil
	case err != nil:
		m.logger.Error("load session failed", "id", id, "error", err)
		return nil, false, err
	}
	return rec, true, nil
}

// Park persists rec under its session id until it is resumed or expires.
func (m *Manager) Park(ctx context.Context, rec *state.Record) error {
	if rec == nil || rec.SessionID == "" {
		return errorskg.New(errorskg.KindValidation, "session.Park", "record without session id")
	}
	if err := m.store.Put(ctx, rec, m.ttl); err != nil {
		m.logger.Error("park session failed", "id", rec.SessionID, "error", err)
		return err
	}
	m.logger.Debug("session parked", "id", rec.SessionID, "ttl", m.ttl)
	return nil
}

// Finish drops the parked record of a completed run.
func (m *Manager) Finish(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, errorskg.ErrNotFound) {
		m.logger.Error("finish session failed", "id", id, "error", err)
		return err
	}
	return nil
}
