package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfeidau/pollbooth/internal/models"
	"github.com/wolfeidau/pollbooth/internal/session"
)

// Issuer is the iss claim of tokens minted by the dev gateway.
const Issuer = "pollbooth"

// Signer mints ES256 session tokens.
type Signer struct {
	key *ecdsa.PrivateKey
	now func() time.Time
}

// NewSignerFromPEM creates a Signer from a PEM-encoded ECDSA private key.
func NewSignerFromPEM(signingKeyPEM string) (*Signer, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(signingKeyPEM))
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, now: time.Now}, nil
}

// GenerateSigner creates a Signer with a fresh P-256 key. Tokens do not
// survive a restart of the process holding it.
func GenerateSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, now: time.Now}, nil
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

// IssueToken creates a signed token carrying user's identity claims and
// expiring after ttl.
func (s *Signer) IssueToken(user *models.User, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &session.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    Issuer,
		},
		UserID:  user.ID,
		Name:    user.Name,
		EmpID:   user.EmpID,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	return token.SignedString(s.key)
}
