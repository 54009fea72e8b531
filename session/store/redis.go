// Package store holds networked session.Store implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/rag/state"
	"github.com/sweetpotato0/crag/session"
)

var _ session.Store = (*RedisStore)(nil)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript resets the lock expiry while it still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisStore implements session storage using Redis.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	lockTTL time.Duration
	poll    time.Duration
	logger  *slog.Logger
}

// RedisConfig holds Redis configuration for sessions.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// LockTTL bounds how long a crashed holder can keep a session locked.
	// A live holder renews it every LockTTL/3.
	LockTTL time.Duration
}

// NewRedisStore creates a new Redis-based session store.
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = &RedisConfig{Addr: "localhost:6379"}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisStoreWithClient(client, config.Prefix, config.LockTTL)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, lockTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "crag:session:"
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		lockTTL: lockTTL,
		poll:    50 * time.Millisecond,
		logger:  logging.WithComponent("session.redis"),
	}
}

// Get loads a session record from Redis.
func (s *RedisStore) Get(ctx context.Context, id string) (*state.Record, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %s: %w", id, errorskg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var rec state.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	return &rec, nil
}

// Put stores rec as one JSON value with ttl.
func (s *RedisStore) Put(ctx context.Context, rec *state.Record, ttl time.Duration) error {
	if rec == nil || rec.SessionID == "" {
		return fmt.Errorf("session record cannot be nil")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(rec.SessionID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes a session record from Redis.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Lock takes the session lock with SET NX, polling until ctx is done.
// The lock is renewed in the background until released.
func (s *RedisStore) Lock(ctx context.Context, id string) (func(), error) {
	key := s.lockKey(id)
	token := uuid.NewString()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to lock session: %w", err)
		}
		if ok {
			return s.hold(context.WithoutCancel(ctx), id, key, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// hold renews the lock until the returned release function runs.
func (s *RedisStore) hold(ctx context.Context, id, key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			n, err := extendScript.Run(ctx, s.client, []string{key}, token, s.lockTTL.Milliseconds()).Int()
			switch {
			case err != nil:
				s.logger.Warn("failed to renew session lock", "session_id", id, "error", err)
			case n == 0:
				s.logger.Warn("session lock lost", "session_id", id)
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, s.client, []string{key}, token).Err(); err != nil {
				s.logger.Warn("failed to release session lock", "session_id", id, "error", err)
			}
		})
	}
}

// Ping checks if Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) sessionKey(id string) string {
	return s.prefix + id
}

func (s *RedisStore) lockKey(id string) string {
	return s.prefix + "lock:" + id
}
