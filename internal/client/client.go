package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/wolfeidau/pollbooth/internal/gateway"
	"github.com/wolfeidau/pollbooth/internal/logger"
)

// Config holds common client configuration
type Config struct {
	ServerURL string
	Timeout   time.Duration
	Debug     bool

	// HTTPCacheDir enables a disk cache for poll reads. Empty uses memory.
	HTTPCacheDir string

	// RootCAs replaces the system roots, e.g. with a development CA.
	RootCAs *x509.CertPool

	// Jar, when set, sends the session cookies along with poll requests.
	Jar http.CookieJar
}

// Session is the part of the session store the clients need: a bearer
// token source and a way to end the session when the server rejects its
// token.
type Session interface {
	oauth2.TokenSource
	Unauthorized(ctx context.Context, token string)
}

// Clients holds the API clients
type Clients struct {
	Gateway *gateway.Client
	Polls   *Polls
}

// NewClients creates the API clients. Gateway calls carry no session
// bearer; poll calls go through the auth and caching transports.
func NewClients(config Config, session Session, log zerolog.Logger) *Clients {
	var transport http.RoundTripper = http.DefaultTransport
	if config.RootCAs != nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{RootCAs: config.RootCAs, MinVersion: tls.VersionTLS12}
		transport = t
	}

	base := otelhttp.NewTransport(logger.NewTransport(log, transport))

	gatewayHTTP := &http.Client{
		Timeout:   config.Timeout,
		Transport: base,
	}

	auth := NewAuthTransport(config.ServerURL, session, base)
	pollsHTTP := &http.Client{
		Timeout:   config.Timeout,
		Transport: NewCachingTransport(config.HTTPCacheDir, auth),
		Jar:       config.Jar,
	}

	return &Clients{
		Gateway: gateway.New(config.ServerURL, gatewayHTTP),
		Polls:   NewPolls(config.ServerURL, pollsHTTP),
	}
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "https://localhost:8080",
		Timeout:   30 * time.Second,
		Debug:     false,
	}
}
