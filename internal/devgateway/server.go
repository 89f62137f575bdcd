// Package devgateway is an in-memory stand-in for the voting backend. It
// serves the auth endpoints and a minimal polls API so the client can be
// exercised end to end without the real service.
package devgateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/pollbooth/internal/auth"
	"github.com/wolfeidau/pollbooth/internal/clock"
	"github.com/wolfeidau/pollbooth/internal/gateway"
	apihttp "github.com/wolfeidau/pollbooth/internal/http"
	"github.com/wolfeidau/pollbooth/internal/logger"
)

// DevOTPPath returns the outstanding code for an email when dev mode is on.
const DevOTPPath = "/dev/otp"

// Config controls gateway behaviour.
type Config struct {
	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration
	// OTPWindow is how long a sent code stays valid.
	OTPWindow time.Duration
	// OTPSendEvery and OTPSendBurst rate limit send-otp per email.
	OTPSendEvery time.Duration
	OTPSendBurst int
	// LoginEvery and LoginBurst rate limit check-credentials per client IP.
	LoginEvery time.Duration
	LoginBurst int
	// MaxCodeFailures discards a code after this many wrong guesses.
	MaxCodeFailures int
	// DevOTP exposes GET /dev/otp.
	DevOTP bool
	// AllowedOrigins for CORS; empty disables cross-origin access.
	AllowedOrigins []string
	// TrustProxy takes the client IP from X-Forwarded-For or X-Real-IP.
	TrustProxy bool
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		TokenTTL:        time.Hour,
		OTPWindow:       300 * time.Second,
		OTPSendEvery:    30 * time.Second,
		OTPSendBurst:    3,
		LoginEvery:      time.Second,
		LoginBurst:      10,
		MaxCodeFailures: 5,
	}
}

// Server is the development gateway.
type Server struct {
	router   chi.Router
	cfg      Config
	logger   zerolog.Logger
	clock    clock.Clock
	fixture  *Fixture
	signer   *auth.Signer
	verifier *auth.Verifier

	codes        *codeStore
	sendLimiter  *apihttp.KeyedLimiter
	loginLimiter *apihttp.KeyedLimiter

	mu    sync.Mutex
	polls []*pollRecord
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithClock sets the clock used for code expiry and poll schedules.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// New creates a Server with all routes registered.
func New(cfg Config, fixture *Fixture, signer *auth.Signer, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		cfg:          cfg,
		logger:       log.With().Str("component", "devgateway").Logger(),
		clock:        clock.Real(),
		fixture:      fixture,
		signer:       signer,
		verifier:     auth.NewVerifier(signer.PublicKey()),
		sendLimiter:  apihttp.NewKeyedLimiter(cfg.OTPSendEvery, cfg.OTPSendBurst),
		loginLimiter: apihttp.NewKeyedLimiter(cfg.LoginEvery, cfg.LoginBurst),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.codes = newCodeStore(s.clock.Now, cfg.MaxCodeFailures)
	s.polls = newPollRecords(fixture.Polls, s.clock.Now())

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// PruneLimiters drops rate limiter state idle for longer than idle.
func (s *Server) PruneLimiters(idle time.Duration) {
	s.sendLimiter.Prune(idle)
	s.loginLimiter.Prune(idle)
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(apihttp.ClientIPMiddleware(s.cfg.TrustProxy))
	r.Use(logger.Middleware(s.logger))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "If-None-Match", "X-Request-ID"},
		ExposedHeaders: []string{"ETag"},
	}).Handler)

	r.With(s.loginLimiter.Middleware()).Post(gateway.CheckCredentialsPath, s.handleCheckCredentials)
	r.Post(gateway.SendOTPPath, s.handleSendOTP)
	r.Post(gateway.VerifyOTPPath, s.handleVerifyOTP)

	r.Group(func(r chi.Router) {
		r.Use(s.verifier.Middleware())

		r.Post(gateway.SignOutPath, s.handleSignOut)
		r.Get("/api/polls", s.handleListPolls)
		r.Get("/api/polls/{id}", s.handleGetPoll)
		r.Post("/api/polls/{id}/votes", s.handleVote)
	})

	if s.cfg.DevOTP {
		r.Get(DevOTPPath, s.handleDevOTP)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		apihttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
