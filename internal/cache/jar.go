package cache

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/wolfeidau/pollbooth/internal/clock"
)

// Jar keeps entries as cookies scoped to the server URL, with the same
// attributes a browser client would use: Path=/, SameSite=Lax, Secure in
// production and Max-Age set to the time until expiry. Secure cookies are
// only returned for https URLs, so a secure jar used against plain http
// reads as empty.
type Jar struct {
	jar    http.CookieJar
	url    *url.URL
	secure bool
	clock  clock.Clock
}

// NewJar creates a cookie jar backend for serverURL. The jar can be shared
// with an http.Client so the same cookies accompany API requests.
func NewJar(serverURL string, secure bool, c clock.Clock) (*Jar, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if c == nil {
		c = clock.Real()
	}
	return &Jar{jar: jar, url: u, secure: secure, clock: c}, nil
}

// CookieJar exposes the underlying jar.
func (j *Jar) CookieJar() http.CookieJar { return j.jar }

// CookieJarOf returns the jar behind b when b is a Jar, possibly sealed,
// and nil for every other backend.
func CookieJarOf(b Backend) http.CookieJar {
	switch v := b.(type) {
	case *Jar:
		return v.CookieJar()
	case *Sealed:
		return CookieJarOf(v.inner)
	}
	return nil
}

func (j *Jar) Set(ctx context.Context, key, value string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(j.clock.Now())
	if ttl <= 0 {
		return j.Delete(ctx, key)
	}

	j.jar.SetCookies(j.url, []*http.Cookie{j.cookie(key, value, expiresAt, ttl)})
	return nil
}

func (j *Jar) Get(ctx context.Context, key string) (string, error) {
	for _, c := range j.jar.Cookies(j.url) {
		if c.Name != key {
			continue
		}
		value, err := base64.RawURLEncoding.DecodeString(c.Value)
		if err != nil {
			return "", fmt.Errorf("decode cookie %s: %w", key, err)
		}
		return string(value), nil
	}
	return "", ErrNotFound
}

func (j *Jar) Delete(ctx context.Context, key string) error {
	j.jar.SetCookies(j.url, []*http.Cookie{{
		Name:   key,
		Path:   "/",
		MaxAge: -1,
	}})
	return nil
}

func (j *Jar) Close() error { return nil }

// cookie builds the Set-Cookie form of an entry. Values are base64url
// encoded because cookie values cannot carry JSON punctuation.
func (j *Jar) cookie(key, value string, expiresAt time.Time, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     key,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(value)),
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(math.Ceil(ttl.Seconds())),
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
