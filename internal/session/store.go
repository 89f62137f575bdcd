// Package session holds the in-memory authenticated session.
//
// The Store is the only writer of session state. Every transition that
// should survive a restart writes through to the persistent cache before
// it returns, and every transition that ends a session disarms the
// auto-logout timer.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/wolfeidau/pollbooth/internal/cache"
	"github.com/wolfeidau/pollbooth/internal/clock"
	"github.com/wolfeidau/pollbooth/internal/expiry"
	"github.com/wolfeidau/pollbooth/internal/models"
	"github.com/wolfeidau/pollbooth/internal/telemetry"
)

// DefaultEarlyMargin is subtracted from the token expiry when arming the
// auto-logout timer.
const DefaultEarlyMargin = 30 * time.Second

var (
	// ErrNotAuthenticated is returned when an operation needs a session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSessionExpired is recorded when a credential arrives already
	// inside the early margin.
	ErrSessionExpired = errors.New("session expired")
)

// State is a snapshot of the session.
type State struct {
	User            *models.User
	Token           string
	ExpiresAt       time.Time
	IsAuthenticated bool
	IsLoading       bool
	Err             error
	AuthInitialized bool
}

// Session returns the state as a models.Session, or nil when signed out.
func (s State) Session() *models.Session {
	if !s.IsAuthenticated {
		return nil
	}
	return &models.Session{Token: s.Token, User: s.User, ExpiresAt: s.ExpiresAt}
}

// Store owns the session state machine.
type Store struct {
	sessions  *cache.SessionCache
	scheduler *expiry.Scheduler
	clock     clock.Clock
	margin    time.Duration
	metrics   *telemetry.Metrics

	// opMu serializes transitions including their side effects. mu guards
	// the state itself so readers never wait on cache I/O.
	opMu  sync.Mutex
	mu    sync.RWMutex
	state State

	subMu       sync.Mutex
	subscribers map[int]func(State)
	nextSub     int
}

// Option configures a Store.
type Option func(*Store)

// WithScheduler replaces the process-wide scheduler.
func WithScheduler(sch *expiry.Scheduler) Option {
	return func(s *Store) { s.scheduler = sch }
}

// WithClock overrides the clock used for expiry arithmetic.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithEarlyMargin overrides DefaultEarlyMargin.
func WithEarlyMargin(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.margin = d
		}
	}
}

// NewStore creates a Store backed by sessions and installs its expiry
// handler on the scheduler. Creating a new Store replaces the handler, so
// a timer armed by a previous Store logs out the current one.
func NewStore(sessions *cache.SessionCache, opts ...Option) *Store {
	s := &Store{
		sessions:    sessions,
		clock:       clock.Real(),
		margin:      DefaultEarlyMargin,
		metrics:     telemetry.GetMetrics(),
		subscribers: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scheduler == nil {
		s.scheduler = expiry.Default()
	}

	s.scheduler.SetHandler(s.expire)

	return s
}

// State returns a snapshot of the current state. IsAuthenticated is
// recomputed against the clock so a snapshot never reports a session past
// its expiry.
func (s *Store) State() State {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()

	if st.IsAuthenticated && !s.clock.Now().Before(st.ExpiresAt) {
		st.IsAuthenticated = false
	}
	return st
}

// IsAuthenticated reports whether a live session is held.
func (s *Store) IsAuthenticated() bool {
	return s.State().IsAuthenticated
}

// Subscribe registers fn to receive the state after every transition. The
// returned function removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

// LoginStart marks a login attempt as in flight.
func (s *Store) LoginStart() {
	s.transition(func() {
		s.update(func(st *State) {
			st.IsLoading = true
			st.Err = nil
		})
	})
}

// LoginSuccess adopts cred, writes it through to the cache and arms the
// auto-logout timer. A credential already inside the early margin is
// treated as an immediate logout and recorded as ErrSessionExpired.
func (s *Store) LoginSuccess(ctx context.Context, cred Credential) {
	s.transition(func() {
		if cred.Token == "" || !cred.User.Valid() {
			s.clearSession(ctx, "")
			s.update(func(st *State) { st.Err = ErrMalformedToken })
			s.metrics.RecordLogin(ctx, false)
			return
		}

		if !s.setAutoLogoutTimer(cred.ExpiresAt) {
			log.Warn().Time("expiresAt", cred.ExpiresAt).Msg("credential expires within the early margin")
			s.clearSession(ctx, telemetry.LogoutExpired)
			s.update(func(st *State) { st.Err = ErrSessionExpired })
			s.metrics.RecordLogin(ctx, false)
			return
		}

		user := *cred.User
		s.update(func(st *State) {
			st.User = &user
			st.Token = cred.Token
			st.ExpiresAt = cred.ExpiresAt
			st.IsAuthenticated = true
			st.IsLoading = false
			st.Err = nil
		})

		if err := s.sessions.Write(ctx, cred.Token, &user, cred.ExpiresAt); err != nil {
			log.Warn().Err(err).Msg("failed to persist session, it will not survive a restart")
		}

		s.metrics.RecordLogin(ctx, true)

		log.Info().
			Str("user", user.ID).
			Str("token", Fingerprint(cred.Token)).
			Time("expiresAt", cred.ExpiresAt).
			Msg("logged in")
	})
}

// LoginFailure records err and discards any session, in memory or cached.
func (s *Store) LoginFailure(ctx context.Context, err error) {
	s.transition(func() {
		s.clearSession(ctx, "")
		s.update(func(st *State) { st.Err = err })
		s.metrics.RecordLogin(ctx, false)

		log.Debug().Err(err).Msg("login failed")
	})
}

// Logout ends the session. It is safe to call repeatedly.
func (s *Store) Logout(ctx context.Context) {
	s.logout(ctx, telemetry.LogoutExplicit)
}

// LoginCancel abandons a login attempt in flight. A session already held
// is left as it is.
func (s *Store) LoginCancel() {
	s.transition(func() {
		s.update(func(st *State) {
			st.IsLoading = false
			st.Err = nil
		})
	})
}

// Unauthorized ends the session after the server rejected token. A
// rejection of a token other than the one held is a late response for an
// earlier session and is ignored.
func (s *Store) Unauthorized(ctx context.Context, token string) {
	s.transition(func() {
		s.mu.RLock()
		held := s.state.Token
		s.mu.RUnlock()

		if held != "" && held != token {
			log.Debug().Str("token", Fingerprint(token)).Msg("ignoring 401 for a replaced token")
			return
		}
		s.clearSession(ctx, telemetry.LogoutUnauthorized)
	})
}

// Restore adopts the cached session if one is present and still outside
// the early margin, and clears the cache otherwise. A live session already
// held in memory wins over the cache. AuthInitialized is set on every
// path.
func (s *Store) Restore(ctx context.Context) State {
	s.transition(func() {
		defer s.update(func(st *State) { st.AuthInitialized = true })

		if st := s.State(); st.IsAuthenticated {
			s.keepHeld(ctx, st)
			return
		}

		sess, err := s.sessions.Read(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("no session to restore")
			s.clearSession(ctx, "")
			s.metrics.RecordRestore(ctx, false)
			return
		}

		if err := checkUser(sess.Token, sess.User); err != nil {
			log.Warn().Err(err).Msg("discarding cached session")
			s.clearSession(ctx, "")
			s.metrics.RecordRestore(ctx, false)
			return
		}

		if !s.setAutoLogoutTimer(sess.ExpiresAt) {
			log.Debug().Time("expiresAt", sess.ExpiresAt).Msg("cached session within early margin")
			s.clearSession(ctx, "")
			s.metrics.RecordRestore(ctx, false)
			return
		}

		s.update(func(st *State) {
			st.User = sess.User
			st.Token = sess.Token
			st.ExpiresAt = sess.ExpiresAt
			st.IsAuthenticated = true
			st.IsLoading = false
			st.Err = nil
		})
		s.metrics.RecordRestore(ctx, true)

		log.Debug().Str("user", sess.User.ID).Time("expiresAt", sess.ExpiresAt).Msg("session restored")
	})

	return s.State()
}

// EditUser replaces the user held by the session and writes it through to
// the cache. The user must keep the id the token was issued for.
func (s *Store) EditUser(ctx context.Context, user *models.User) error {
	var err error
	s.transition(func() {
		st := s.State()
		switch {
		case !st.IsAuthenticated:
			err = ErrNotAuthenticated
			return
		case user == nil || user.ID != st.User.ID:
			err = ErrUserMismatch
			return
		}

		u := *user
		s.update(func(st *State) { st.User = &u })

		if werr := s.sessions.Write(ctx, st.Token, &u, st.ExpiresAt); werr != nil {
			log.Warn().Err(werr).Msg("failed to persist edited user")
		}
	})
	return err
}

// Token implements oauth2.TokenSource. When no session is held in memory
// it falls back to the cache without adopting it.
func (s *Store) Token() (*oauth2.Token, error) {
	if st := s.State(); st.IsAuthenticated {
		return bearer(st.Token, st.ExpiresAt), nil
	}

	sess, err := s.sessions.Read(context.Background())
	if err != nil {
		return nil, ErrNotAuthenticated
	}
	return bearer(sess.Token, sess.ExpiresAt), nil
}

// setAutoLogoutTimer arms the scheduler to fire the early margin before
// expiresAt. It returns false, with the scheduler disarmed, when that
// moment has already passed.
func (s *Store) setAutoLogoutTimer(expiresAt time.Time) bool {
	delay := expiresAt.Sub(s.clock.Now()) - s.margin
	if delay <= 0 {
		s.scheduler.Disarm()
		return false
	}
	s.scheduler.Arm(delay, nil)
	return true
}

func (s *Store) expire() {
	s.transition(func() {
		// a timer armed after this one fired belongs to a newer session
		if s.scheduler.Armed() {
			log.Debug().Msg("ignoring auto-logout for a replaced session")
			return
		}

		log.Info().Msg("session expired, logging out")
		s.clearSession(context.Background(), telemetry.LogoutExpired)
	})
}

// keepHeld re-arms the timer for the session held in memory and writes it
// back to the cache when the cache has lost it, e.g. after a failed write.
func (s *Store) keepHeld(ctx context.Context, st State) {
	if !s.setAutoLogoutTimer(st.ExpiresAt) {
		log.Debug().Time("expiresAt", st.ExpiresAt).Msg("held session within early margin")
		s.clearSession(ctx, telemetry.LogoutExpired)
		return
	}

	if _, err := s.sessions.Read(ctx); err == nil {
		return
	}
	if err := s.sessions.Write(ctx, st.Token, st.User, st.ExpiresAt); err != nil {
		log.Warn().Err(err).Msg("failed to persist session, it will not survive a restart")
		return
	}
	log.Debug().Msg("session written back to cache")
}

func (s *Store) logout(ctx context.Context, reason string) {
	s.transition(func() {
		s.clearSession(ctx, reason)
	})
}

// clearSession nulls the session fields, clears the cache and disarms the
// timer. A non-empty reason is recorded as a logout when a session was
// actually held.
func (s *Store) clearSession(ctx context.Context, reason string) {
	s.mu.RLock()
	wasAuthenticated := s.state.Token != ""
	s.mu.RUnlock()

	s.scheduler.Disarm()

	s.update(func(st *State) {
		st.User = nil
		st.Token = ""
		st.ExpiresAt = time.Time{}
		st.IsAuthenticated = false
		st.IsLoading = false
		st.Err = nil
	})

	if err := s.sessions.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to clear session cache")
	}

	if wasAuthenticated && reason != "" {
		s.metrics.RecordLogout(ctx, reason)
		log.Info().Str("reason", reason).Msg("logged out")
	}
}

func (s *Store) update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// transition runs fn under the operation lock and then notifies
// subscribers outside it, so a subscriber may call back into the Store.
func (s *Store) transition(fn func()) {
	s.opMu.Lock()
	fn()
	s.opMu.Unlock()

	st := s.State()

	s.subMu.Lock()
	subs := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

func checkUser(token string, user *models.User) error {
	claims, err := DecodeToken(token)
	if err != nil {
		return err
	}
	if id := claims.User().ID; id != "" && id != user.ID {
		return ErrUserMismatch
	}
	return nil
}

func bearer(token string, expiresAt time.Time) *oauth2.Token {
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer", Expiry: expiresAt}
}
