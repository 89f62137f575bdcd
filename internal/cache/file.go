package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pollbooth/internal/clock"
)

// ErrInsecurePermissions is returned in strict mode when an entry file is
// readable by group or other.
var ErrInsecurePermissions = errors.New("cache entry has insecure permissions")

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// fileRecord is the on-disk form of one entry.
type fileRecord struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
	Secure    bool      `json:"secure"`
}

// File stores each entry as a JSON file in a private directory.
type File struct {
	baseDir string
	strict  bool
	clock   clock.Clock
}

// FileOption configures a File backend.
type FileOption func(*File)

// WithStrictPermissions makes Get reject entries whose file mode allows
// group or other access. Entries written in this mode are marked secure.
func WithStrictPermissions(strict bool) FileOption {
	return func(f *File) { f.strict = strict }
}

// WithFileClock overrides the clock used for expiry checks.
func WithFileClock(c clock.Clock) FileOption {
	return func(f *File) { f.clock = c }
}

// NewFile creates a file backend rooted at baseDir.
// If baseDir is empty, uses ~/.pollbooth/session/
func NewFile(baseDir string, opts ...FileOption) (*File, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".pollbooth", "session")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	f := &File{baseDir: baseDir, clock: clock.Real()}
	for _, opt := range opts {
		opt(f)
	}

	log.Debug().Str("baseDir", baseDir).Bool("strict", f.strict).Msg("file cache initialized")

	return f, nil
}

func (f *File) Set(ctx context.Context, key, value string, expiresAt time.Time) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(fileRecord{Value: value, ExpiresAt: expiresAt.UTC(), Secure: f.strict})
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	// Write to temp file first
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save entry: %w", err)
	}

	return nil
}

func (f *File) Get(ctx context.Context, key string) (string, error) {
	path, err := f.path(key)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to stat entry: %w", err)
	}

	if f.strict && info.Mode().Perm()&0077 != 0 {
		return "", fmt.Errorf("%w: %s (%o)", ErrInsecurePermissions, path, info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read entry: %w", err)
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("failed to parse entry: %w", err)
	}

	if !rec.ExpiresAt.After(f.clock.Now()) {
		_ = f.Delete(ctx, key)
		return "", ErrNotFound
	}

	return rec.Value, nil
}

func (f *File) Delete(ctx context.Context, key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove entry: %w", err)
	}
	return nil
}

func (f *File) Close() error { return nil }

func (f *File) path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return filepath.Join(f.baseDir, key+".json"), nil
}
