package client

import (
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RequestIDHeader correlates client and server logs.
const RequestIDHeader = "X-Request-ID"

var _ http.RoundTripper = (*AuthTransport)(nil)

// AuthTransport attaches the session bearer token to requests for the API
// host and ends the session when the server answers such a request with
// 401. Requests to other hosts are sent without the token.
type AuthTransport struct {
	host    string
	session Session
	next    http.RoundTripper
}

// NewAuthTransport creates an AuthTransport for serverURL.
func NewAuthTransport(serverURL string, session Session, next http.RoundTripper) *AuthTransport {
	if next == nil {
		next = http.DefaultTransport
	}

	host := ""
	if u, err := url.Parse(serverURL); err == nil {
		host = u.Host
	}

	return &AuthTransport{host: host, session: session, next: next}
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	req = req.Clone(req.Context())

	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}

	carried := ""
	if t.host == "" || req.URL.Host == t.host {
		if tok, err := t.session.Token(); err == nil {
			tok.SetAuthHeader(req)
			carried = tok.AccessToken
		}
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if carried != "" && resp.StatusCode == http.StatusUnauthorized {
		log.Warn().Str("path", req.URL.Path).Msg("server rejected session token, logging out")
		t.session.Unauthorized(req.Context(), carried)
	}

	return resp, nil
}
