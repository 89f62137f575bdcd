package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/pollbooth/internal/session"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrRevoked      = errors.New("token revoked")
)

type contextKey int

const (
	claimsContextKey contextKey = iota
)

// ClaimsFromContext returns the verified claims of the request, or nil
// for unauthenticated requests.
func ClaimsFromContext(ctx context.Context) *session.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*session.Claims)
	return claims
}

// Verifier validates ES256 session tokens and tracks revoked token ids.
type Verifier struct {
	publicKey *ecdsa.PublicKey
	now       func() time.Time

	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewVerifier creates a Verifier for publicKey.
func NewVerifier(publicKey *ecdsa.PublicKey) *Verifier {
	return &Verifier{
		publicKey: publicKey,
		now:       time.Now,
		revoked:   make(map[string]time.Time),
	}
}

// Verify checks the signature, issuer, expiry and revocation of tokenStr.
func (v *Verifier) Verify(tokenStr string) (*session.Claims, error) {
	claims := &session.Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodES256 {
			return nil, errors.New("invalid signing method")
		}
		return v.publicKey, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if v.IsRevoked(claims.ID) {
		return nil, ErrRevoked
	}

	return claims, nil
}

// Revoke blocks the token id until expiresAt.
func (v *Verifier) Revoke(claims *session.Claims) {
	if claims.ID == "" || claims.ExpiresAt == nil {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.revoked[claims.ID] = claims.ExpiresAt.Time

	// expired entries can never match a valid token again
	now := v.now()
	for id, exp := range v.revoked {
		if !exp.After(now) {
			delete(v.revoked, id)
		}
	}
}

// IsRevoked reports whether the token id was revoked.
func (v *Verifier) IsRevoked(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.revoked[id]
	return ok
}

// Middleware returns an HTTP middleware that rejects requests without a
// valid bearer token and adds the verified claims to the context.
func (v *Verifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := extractBearerToken(r)
			if tokenStr == "" {
				log.Debug().Msg("Missing Authorization header")
				writeUnauthorized(w, ErrMissingToken)
				return
			}

			claims, err := v.Verify(tokenStr)
			if err != nil {
				log.Debug().Err(err).Msg("Failed to verify JWT")
				writeUnauthorized(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	msg := "unauthorized"
	if errors.Is(err, ErrRevoked) {
		msg = "session signed out"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, "{%q:%q}\n", "message", msg)
}
