package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/pollbooth/internal/cache"
	"github.com/wolfeidau/pollbooth/internal/client"
	"github.com/wolfeidau/pollbooth/internal/config"
	"github.com/wolfeidau/pollbooth/internal/logger"
	"github.com/wolfeidau/pollbooth/internal/login"
	"github.com/wolfeidau/pollbooth/internal/otp"
	"github.com/wolfeidau/pollbooth/internal/pki"
	"github.com/wolfeidau/pollbooth/internal/session"
	"github.com/wolfeidau/pollbooth/internal/telemetry"
)

// ErrNotLoggedIn is returned by commands that need a session.
var ErrNotLoggedIn = errors.New("not logged in, run `pollbooth login` first")

type Globals struct {
	Debug      bool
	Version    string
	ConfigPath string
	ServerURL  string
}

// app is everything a command needs, wired from config.
type app struct {
	config  *config.Config
	cache   *cache.SessionCache
	store   *session.Store
	clients *client.Clients
	flow    *login.Flow

	// httpCacheDir holds cached poll responses, empty when cached in memory.
	httpCacheDir string

	shutdown func(context.Context) error
}

func bootstrap(ctx context.Context, globals *Globals) (*app, error) {
	lg := logger.Setup(globals.Debug)
	if !globals.Debug {
		// keep stderr quiet for interactive use
		lg = lg.Level(zerolog.WarnLevel)
	}
	log.Logger = lg

	cfg, err := config.Load(globals.ConfigPath)
	if err != nil {
		return nil, err
	}
	if globals.ServerURL != "" {
		cfg.ServerURL = globals.ServerURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	shutdown, err := telemetry.InitTelemetry(ctx, "pollbooth", globals.Version)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		shutdown = func(context.Context) error { return nil }
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	var cacheOpts []cache.Option
	if cfg.CacheBackend == config.BackendRedis {
		// a shared redis may hold sessions for several servers
		u, _ := url.Parse(cfg.ServerURL)
		cacheOpts = append(cacheOpts, cache.WithNamespace(u.Host+":"))
	}
	sessions := cache.New(backend, cacheOpts...)

	store := session.NewStore(sessions, session.WithEarlyMargin(cfg.EarlyMargin))

	clientConfig := client.Config{
		ServerURL: cfg.ServerURL,
		Timeout:   cfg.Timeout,
		Debug:     globals.Debug,
		Jar:       cache.CookieJarOf(backend),
	}
	if cfg.CAFile != "" {
		if clientConfig.RootCAs, err = pki.CertPool(cfg.CAFile); err != nil {
			backend.Close()
			_ = shutdown(ctx)
			return nil, err
		}
	}
	if cfg.CacheBackend == config.BackendFile || cfg.CacheBackend == config.BackendSQLite {
		clientConfig.HTTPCacheDir = filepath.Join(cfg.CacheDir, "http")
	}
	clients := client.NewClients(clientConfig, store, lg)

	flow := login.New(clients.Gateway, store,
		login.WithChallenge(otp.New(otp.WithWindow(cfg.OTPWindow))))

	log.Debug().
		Str("server", cfg.ServerURL).
		Str("cache", cfg.CacheBackend).
		Bool("seal", cfg.Seal).
		Bool("production", cfg.Production).
		Msg("pollbooth initialized")

	return &app{
		config:       cfg,
		cache:        sessions,
		store:        store,
		clients:      clients,
		flow:         flow,
		httpCacheDir: clientConfig.HTTPCacheDir,
		shutdown:     shutdown,
	}, nil
}

// Close releases the cache backend and flushes telemetry.
func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		log.Debug().Err(err).Msg("Failed to close session cache")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown telemetry")
	}
}

// clearHTTPCache removes cached poll responses, which may include tallies
// only the signed-out user could see.
func (a *app) clearHTTPCache() error {
	if a.httpCacheDir == "" {
		return nil
	}
	if err := os.RemoveAll(a.httpCacheDir); err != nil {
		return fmt.Errorf("failed to clear response cache: %w", err)
	}
	log.Debug().Str("path", a.httpCacheDir).Msg("response cache cleared")
	return nil
}

// requireSession restores the cached session and fails when there is none.
func (a *app) requireSession(ctx context.Context) (session.State, error) {
	st := a.store.Restore(ctx)
	if !st.IsAuthenticated {
		return st, ErrNotLoggedIn
	}
	return st, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (cache.Backend, error) {
	var (
		backend cache.Backend
		err     error
	)

	switch cfg.CacheBackend {
	case config.BackendFile:
		backend, err = cache.NewFile(cfg.CacheDir, cache.WithStrictPermissions(cfg.Production))
	case config.BackendSQLite:
		if err = os.MkdirAll(cfg.CacheDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		backend, err = cache.NewSQLite(ctx, filepath.Join(cfg.CacheDir, "session.db"), nil)
	case config.BackendRedis:
		backend, err = cache.NewRedis(ctx, cfg.RedisURL, nil)
	case config.BackendJar:
		backend, err = cache.NewJar(cfg.ServerURL, cfg.Production, nil)
	case config.BackendMemory:
		backend = cache.NewMemory(nil)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", cfg.CacheBackend, err)
	}

	if !cfg.Seal {
		return backend, nil
	}

	identity, err := cache.LoadOrCreateIdentity(filepath.Join(cfg.CacheDir, "identity.age"))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load seal identity: %w", err)
	}
	return cache.NewSealed(backend, identity), nil
}
