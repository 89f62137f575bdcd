// Package cache persists the authenticated session between runs.
//
// A session is stored as three independent entries (token, serialized
// user, absolute expiry in epoch milliseconds), each with a TTL ending at
// the session expiry. Reads fail closed: a missing, corrupt or expired
// entry clears all three and reports ErrNoSession.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pollbooth/internal/clock"
	"github.com/wolfeidau/pollbooth/internal/models"
)

// Entry keys.
const (
	TokenKey     = "auth_token"
	UserKey      = "auth_user"
	ExpiresAtKey = "auth_expires_at"
)

// Sentinel errors
var (
	// ErrNotFound is returned by a Backend when a key is absent or expired.
	ErrNotFound = errors.New("cache entry not found")

	// ErrNoSession is returned by Read when there is no usable session.
	ErrNoSession = errors.New("no cached session")

	// ErrExpired is returned by Write when asked to store an expired session.
	ErrExpired = errors.New("session already expired")
)

// Backend is a key/value store with a per-key absolute expiry.
type Backend interface {
	// Set stores value under key until expiresAt.
	Set(ctx context.Context, key, value string, expiresAt time.Time) error

	// Get returns the value for key, or ErrNotFound if it is absent or
	// has expired.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// SessionCache reads and writes the session entries on a Backend.
type SessionCache struct {
	backend   Backend
	clock     clock.Clock
	namespace string
}

// Option configures a SessionCache.
type Option func(*SessionCache)

// WithClock overrides the clock used for expiry checks.
func WithClock(c clock.Clock) Option {
	return func(s *SessionCache) { s.clock = c }
}

// WithNamespace prefixes every key, allowing several profiles to share a
// backend.
func WithNamespace(ns string) Option {
	return func(s *SessionCache) { s.namespace = ns }
}

// New creates a SessionCache on backend.
func New(backend Backend, opts ...Option) *SessionCache {
	s := &SessionCache{backend: backend, clock: clock.Real()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write stores token, user and expiresAt together. If any entry fails to
// write, the others are removed so a partial session is never left behind.
func (s *SessionCache) Write(ctx context.Context, token string, user *models.User, expiresAt time.Time) error {
	if !expiresAt.After(s.clock.Now()) {
		return ErrExpired
	}
	if token == "" || !user.Valid() {
		return fmt.Errorf("refusing to cache incomplete session")
	}

	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	entries := []struct{ key, value string }{
		{TokenKey, token},
		{UserKey, string(userJSON)},
		{ExpiresAtKey, strconv.FormatInt(expiresAt.UnixMilli(), 10)},
	}

	for _, e := range entries {
		if err := s.backend.Set(ctx, s.key(e.key), e.value, expiresAt); err != nil {
			if clearErr := s.Clear(ctx); clearErr != nil {
				log.Warn().Err(clearErr).Msg("failed to clear cache after partial write")
			}
			return fmt.Errorf("failed to write %s: %w", e.key, err)
		}
	}

	log.Debug().Time("expiresAt", expiresAt).Msg("session cached")

	return nil
}

// Read returns the cached session. Any missing entry, decode failure or
// expired timestamp clears the cache and returns an error wrapping
// ErrNoSession.
func (s *SessionCache) Read(ctx context.Context) (*models.Session, error) {
	token, err := s.backend.Get(ctx, s.key(TokenKey))
	if err != nil {
		return nil, s.failClosed(ctx, "token", err)
	}

	userJSON, err := s.backend.Get(ctx, s.key(UserKey))
	if err != nil {
		return nil, s.failClosed(ctx, "user", err)
	}

	expiresAtRaw, err := s.backend.Get(ctx, s.key(ExpiresAtKey))
	if err != nil {
		return nil, s.failClosed(ctx, "expiry", err)
	}

	var user models.User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil, s.failClosed(ctx, "user", err)
	}

	millis, err := strconv.ParseInt(expiresAtRaw, 10, 64)
	if err != nil {
		return nil, s.failClosed(ctx, "expiry", err)
	}

	sess := &models.Session{
		Token:     token,
		User:      &user,
		ExpiresAt: time.UnixMilli(millis),
	}

	if !sess.Valid(s.clock.Now()) {
		return nil, s.failClosed(ctx, "session", errors.New("expired or incomplete"))
	}

	return sess, nil
}

// Clear removes all three entries. It attempts every delete even if an
// earlier one fails.
func (s *SessionCache) Clear(ctx context.Context) error {
	var errs []error
	for _, key := range []string{TokenKey, UserKey, ExpiresAtKey} {
		if err := s.backend.Delete(ctx, s.key(key)); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the backend.
func (s *SessionCache) Close() error {
	return s.backend.Close()
}

func (s *SessionCache) failClosed(ctx context.Context, entry string, cause error) error {
	if !errors.Is(cause, ErrNotFound) {
		log.Debug().Err(cause).Str("entry", entry).Msg("discarding unusable cached session")
	}
	if err := s.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to clear session cache")
	}
	return fmt.Errorf("%w: %s: %v", ErrNoSession, entry, cause)
}

func (s *SessionCache) key(name string) string {
	if s.namespace == "" {
		return name
	}
	return s.namespace + "." + name
}
