package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pollbooth/internal/clock"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_cache (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
)`

// SQLite stores entries in a single table, expires_at in unix milliseconds.
type SQLite struct {
	db    *sql.DB
	clock clock.Clock
}

// NewSQLite opens (or creates) the database at dbPath. Use ":memory:" in
// tests. A nil clock uses real time.
func NewSQLite(ctx context.Context, dbPath string, c clock.Clock) (*SQLite, error) {
	if c == nil {
		c = clock.Real()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session_cache: %w", err)
	}

	s := &SQLite{db: db, clock: c}

	// rows past their expiry are otherwise only dropped when read
	n, err := s.Purge(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Debug().Str("path", dbPath).Int64("purged", n).Msg("sqlite cache initialized")

	return s, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_cache (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var (
		value     string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM session_cache WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select %s: %w", key, err)
	}

	if expiresAt <= s.clock.Now().UnixMilli() {
		_ = s.Delete(ctx, key)
		return "", ErrNotFound
	}

	return value, nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Purge removes every expired row and returns how many were removed.
func (s *SQLite) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_cache WHERE expires_at <= ?`, s.clock.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
