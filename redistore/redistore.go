// Package redistore provides a Redis-backed TokenStore for headless
// agents (report runners, sync workers) that share one PGDesk session
// across processes. The dashboard itself uses the in-process stores; this
// backend exists so a fleet of workers refreshing the same account do not
// each hold a diverging token.
package redistore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	session "github.com/pgdesk/session-go"
)

const defaultPrefix = "pgdesk:session:"

// opTimeout bounds every Redis round-trip issued by the accessors, which
// have no context of their own.
const opTimeout = 2 * time.Second

// Store is a TokenStore persisted in Redis under three keys sharing a
// common prefix: <prefix>access, <prefix>refresh, <prefix>user.
type Store struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

// compile-time check
var _ session.TokenStore = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the key prefix. Default: "pgdesk:session:".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Redis-backed token store from a URL
// (e.g. redis://:pass@host:6379/0) and pings the server to fail fast.
func New(ctx context.Context, redisURL string, opts ...Option) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redistore: parse url: %w", err)
	}

	s := &Store{
		rdb:    redis.NewClient(opt),
		prefix: defaultPrefix,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		_ = s.rdb.Close()
		return nil, fmt.Errorf("redistore: ping: %w", err)
	}
	return s, nil
}

func (s *Store) keyAccess() string  { return s.prefix + "access" }
func (s *Store) keyRefresh() string { return s.prefix + "refresh" }
func (s *Store) keyUser() string    { return s.prefix + "user" }

// Save writes all three entries in one transaction so readers never
// observe a partially written session.
func (s *Store) Save(creds session.Credentials, user *session.User) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rawUser, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("redistore: encode user: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyAccess(), creds.AccessToken, 0)
	pipe.Set(ctx, s.keyRefresh(), creds.RefreshToken, 0)
	pipe.Set(ctx, s.keyUser(), rawUser, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redistore: save: %w", err)
	}
	return nil
}

// SetAccessToken replaces only the access token. Writing into a store with
// no refresh token is refused, so a refresh landing after logout cannot
// resurrect the session.
func (s *Store) SetAccessToken(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	n, err := s.rdb.Exists(ctx, s.keyRefresh()).Result()
	if err != nil {
		return fmt.Errorf("redistore: set access token: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("redistore: no active session")
	}
	if err := s.rdb.Set(ctx, s.keyAccess(), token, 0).Err(); err != nil {
		return fmt.Errorf("redistore: set access token: %w", err)
	}
	return nil
}

// get returns the value at key, or "" on absence or error. Errors are
// logged: the TokenStore read contract has no error channel.
func (s *Store) get(key string) string {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	val, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("redis read failed", "key", key, "error", err)
		}
		return ""
	}
	return val
}

// AccessToken returns the stored access token, or "" if absent.
func (s *Store) AccessToken() string { return s.get(s.keyAccess()) }

// RefreshToken returns the stored refresh token, or "" if absent.
func (s *Store) RefreshToken() string { return s.get(s.keyRefresh()) }

// User returns the stored user snapshot, or nil if absent.
func (s *Store) User() *session.User {
	raw := s.get(s.keyUser())
	if raw == "" {
		return nil
	}
	var user session.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.logger.Warn("stored user is unreadable", "error", err)
		return nil
	}
	return &user
}

// Clear removes all three entries. Idempotent.
func (s *Store) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.rdb.Del(ctx, s.keyAccess(), s.keyRefresh(), s.keyUser()).Err(); err != nil {
		return fmt.Errorf("redistore: clear: %w", err)
	}
	return nil
}

// Valid reports whether the stored access token is usable, clearing the
// store when it is not.
func (s *Store) Valid() bool {
	if session.TokenExpired(s.AccessToken(), time.Now()) {
		if err := s.Clear(); err != nil {
			s.logger.Warn("clear session failed", "error", err)
		}
		return false
	}
	return true
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
