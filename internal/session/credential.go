package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
	"github.com/wolfeidau/pollbooth/internal/models"
)

// DefaultTokenTTL applies when a token carries no exp claim and the
// caller did not supply a lifetime.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrMalformedToken is returned when a bearer token cannot be decoded.
	ErrMalformedToken = errors.New("malformed token")

	// ErrUserMismatch is returned when a user does not belong to the token.
	ErrUserMismatch = errors.New("user does not match token")
)

// Claims is the payload of a pollbooth bearer token.
type Claims struct {
	jwt.RegisteredClaims
	UserID  string `json:"id"`
	Name    string `json:"name"`
	EmpID   string `json:"emp_id"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

// User returns the identity carried by the claims.
func (c *Claims) User() *models.User {
	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	return &models.User{
		ID:      id,
		Name:    c.Name,
		EmpID:   c.EmpID,
		Email:   c.Email,
		IsAdmin: c.IsAdmin,
	}
}

// DecodeToken reads the claims of a bearer token without verifying its
// signature. The result is only fit for display and routing; the backend
// verifies the token on every call.
func DecodeToken(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// Credential is a normalized login result ready for the Store.
type Credential struct {
	Token     string
	User      *models.User
	ExpiresAt time.Time
}

// NewCredential normalizes the two shapes a login result can arrive in:
// a bare token (user and expiry decoded from its claims) or a token with
// a user and a relative lifetime. The user is always checked against the
// token so the cached identity never disagrees with the credential.
//
// Expiry precedence: expiresIn when positive, then the token's exp claim,
// then now+DefaultTokenTTL.
func NewCredential(token string, user *models.User, expiresIn time.Duration, now time.Time) (Credential, error) {
	if token == "" {
		return Credential{}, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	claims, err := DecodeToken(token)
	if err != nil {
		return Credential{}, err
	}

	tokenUser := claims.User()
	switch {
	case user == nil:
		user = tokenUser
	case tokenUser.ID != "" && user.ID != tokenUser.ID:
		return Credential{}, fmt.Errorf("%w: %q vs %q", ErrUserMismatch, user.ID, tokenUser.ID)
	default:
		u := *user
		user = &u
	}

	if !user.Valid() {
		return Credential{}, fmt.Errorf("%w: missing identity claims", ErrMalformedToken)
	}

	var expiresAt time.Time
	switch {
	case expiresIn > 0:
		expiresAt = now.Add(expiresIn)
	case claims.ExpiresAt != nil:
		expiresAt = claims.ExpiresAt.Time
	default:
		expiresAt = now.Add(DefaultTokenTTL)
	}

	return Credential{Token: token, User: user, ExpiresAt: expiresAt}, nil
}

// Fingerprint returns a short, non-reversible identifier for a token,
// safe to print or log.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	return base58.Encode(hash[:])[:12]
}
