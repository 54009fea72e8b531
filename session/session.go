// Package session parks state records between the request that asked a
// clarifying question and the request that answers it.
package session

import (
	"context"
	"time"

	"github.com/sweetpotato0/crag/rag/state"
)

// Store persists whole state records keyed by session id. Records are
// written as a single value so a reader never observes a partial write.
//
// Get returns an error wrapping errors.ErrNotFound for unknown or expired
// sessions. Lock blocks until the per-session lock is held or ctx is done;
// the returned function releases it.
type Store interface {
	Get(ctx context.Context, id string) (*state.Record, error)
	Put(ctx context.Context, rec *state.Record, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Lock(ctx context.Context, id string) (func(), error)
}
