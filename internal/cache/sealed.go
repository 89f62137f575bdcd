package cache

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/rs/zerolog/log"
)

// ErrSealBroken is returned when a sealed value cannot be decrypted.
var ErrSealBroken = errors.New("sealed cache entry cannot be decrypted")

// Sealed encrypts values with age before handing them to the wrapped
// backend. Keys and expiry stay in the clear so the inner backend can
// still enforce TTLs.
type Sealed struct {
	inner     Backend
	identity  *age.X25519Identity
	recipient age.Recipient
}

// NewSealed wraps inner, sealing values to identity's recipient.
func NewSealed(inner Backend, identity *age.X25519Identity) *Sealed {
	return &Sealed{inner: inner, identity: identity, recipient: identity.Recipient()}
}

// LoadOrCreateIdentity reads an age identity from path, generating and
// storing a new one (mode 0600) if the file does not exist.
func LoadOrCreateIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("parse age identity %s: %w", path, err)
		}
		return identity, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read age identity: %w", err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(identity.String()+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("failed to write age identity: %w", err)
	}

	log.Info().Str("path", path).Msg("generated session cache identity")

	return identity, nil
}

func (s *Sealed) Set(ctx context.Context, key, value string, expiresAt time.Time) error {
	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, s.recipient)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(writer, value); err != nil {
		return fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}

	return s.inner.Set(ctx, key, base64.StdEncoding.EncodeToString(ciphertext.Bytes()), expiresAt)
}

func (s *Sealed) Get(ctx context.Context, key string) (string, error) {
	encoded, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealBroken, err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealBroken, err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealBroken, err)
	}

	return string(plaintext), nil
}

func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *Sealed) Close() error {
	return s.inner.Close()
}
