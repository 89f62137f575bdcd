package commands

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfeidau/pollbooth/internal/auth"
	"github.com/wolfeidau/pollbooth/internal/config"
	"github.com/wolfeidau/pollbooth/internal/devgateway"
	"github.com/wolfeidau/pollbooth/internal/logger"
	"github.com/wolfeidau/pollbooth/internal/pki"
	"github.com/wolfeidau/pollbooth/internal/telemetry"
)

// limiterIdle is how long a client's rate limit state is kept after its
// last request.
const limiterIdle = 10 * time.Minute

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"127.0.0.1:8080" env:"POLLBOOTH_GATEWAY_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"POLLBOOTH_GATEWAY_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"POLLBOOTH_GATEWAY_TLS_KEY"`
	TLSDir string `help:"directory holding a development CA used to issue a certificate for the listen host (created when missing)" type:"path" env:"POLLBOOTH_GATEWAY_TLS_DIR"`

	// CORS configuration
	AllowedOrigins []string `help:"allowed CORS origins for browser clients" env:"POLLBOOTH_GATEWAY_ALLOWED_ORIGINS"`
	TrustProxy     bool     `help:"take client IPs from X-Forwarded-For when running behind a reverse proxy" default:"false" env:"POLLBOOTH_GATEWAY_TRUST_PROXY"`

	// Gateway behaviour
	Fixture    string        `help:"YAML fixture with employees and polls (built-in when empty)" type:"path" env:"POLLBOOTH_GATEWAY_FIXTURE"`
	SigningKey string        `help:"PEM encoded ECDSA P-256 key for signing tokens (generated when empty)" env:"POLLBOOTH_GATEWAY_SIGNING_KEY"`
	TokenTTL   time.Duration `help:"lifetime of issued tokens" default:"1h" env:"POLLBOOTH_GATEWAY_TOKEN_TTL"`
	OTPWindow  time.Duration `help:"how long a one-time code stays valid" default:"300s" env:"POLLBOOTH_GATEWAY_OTP_WINDOW"`
	DevOTP     bool          `help:"expose GET /dev/otp to read outstanding codes (development only)" default:"false" env:"POLLBOOTH_GATEWAY_DEV_OTP"`
	Tracing    bool          `help:"enable tracing" default:"false" env:"POLLBOOTH_GATEWAY_TRACING"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	zlog.Logger = log

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting gateway")

	gw, err := c.newGateway(log)
	if err != nil {
		return err
	}

	var handler http.Handler = gw
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "pollbooth-gateway", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
		handler = otelhttp.NewHandler(handler, "pollbooth-gateway")
	}

	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS needs both --cert and --key")
	}

	srv := configureHTTPServer(c.Listen, handler)

	if c.Cert == "" && c.TLSDir != "" {
		tlsConfig, err := c.devTLSConfig()
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsConfig

		log.Info().
			Str("ca", filepath.Join(c.TLSDir, pki.CACertFile)).
			Msg("Serving with a development certificate, set ca_file in the client to trust it")
	}

	return serve(ctx, srv, gw, func() error {
		if srv.TLSConfig != nil {
			log.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
			return srv.ListenAndServeTLS("", "")
		}
		if c.Cert != "" {
			log.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
			return srv.ListenAndServeTLS(c.Cert, c.Key)
		}
		log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
		return srv.ListenAndServe()
	})
}

func (c *ServeCmd) newGateway(log zerolog.Logger) (*devgateway.Server, error) {
	if c.DevOTP && config.Production() {
		return nil, errors.New("--dev-otp is not available in production builds")
	}

	var (
		fixture *devgateway.Fixture
		err     error
	)
	if c.Fixture != "" {
		fixture, err = devgateway.LoadFixture(c.Fixture)
	} else {
		fixture, err = devgateway.DefaultFixture()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fixture: %w", err)
	}

	var signer *auth.Signer
	if c.SigningKey != "" {
		signer, err = auth.NewSignerFromPEM(c.SigningKey)
	} else {
		log.Warn().Msg("No signing key configured, tokens will not survive a restart")
		signer, err = auth.GenerateSigner()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create token signer: %w", err)
	}

	cfg := devgateway.DefaultConfig()
	cfg.TokenTTL = c.TokenTTL
	cfg.OTPWindow = c.OTPWindow
	cfg.DevOTP = c.DevOTP
	cfg.AllowedOrigins = c.AllowedOrigins
	cfg.TrustProxy = c.TrustProxy

	if c.DevOTP {
		log.Warn().Str("path", devgateway.DevOTPPath).Msg("One-time codes are readable over HTTP. This should only be used in development!")
	}

	log.Info().
		Int("employees", len(fixture.Employees)).
		Int("polls", len(fixture.Polls)).
		Dur("tokenTTL", cfg.TokenTTL).
		Msg("Gateway configured")

	return devgateway.New(cfg, fixture, signer, log), nil
}

// devTLSConfig issues a certificate for localhost and the listen host from
// the CA in TLSDir.
func (c *ServeCmd) devTLSConfig() (*tls.Config, error) {
	ca, err := pki.LoadOrCreateFileCA(c.TLSDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load development CA: %w", err)
	}

	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if host, _, err := net.SplitHostPort(c.Listen); err == nil && host != "" && !slices.Contains(hosts, host) {
		if ip := net.ParseIP(host); ip == nil || !ip.IsUnspecified() {
			hosts = append(hosts, host)
		}
	}

	cert, err := pki.IssueServerCertificate(ca, hosts, pki.DefaultServerCertTTL)
	if err != nil {
		return nil, err
	}

	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

// serve runs listen until ctx is done, pruning idle rate limiter state
// once a minute, then shuts the server down gracefully.
func serve(ctx context.Context, srv *http.Server, gw *devgateway.Server, listen func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- listen()
	}()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ticker.C:
			gw.PruneLimiters(limiterIdle)
		case <-ctx.Done():
			zlog.Info().Msg("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shutdown server: %w", err)
			}
			return nil
		}
	}
}
