package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/scribo-app/scribo/internal/adapters/sqlitedb"
)

//go:embed migrations/001_initial_schema.sql
var cacheMigrationV1 string

// SQLite persists cache entries in a local database file so results survive
// restarts of a single-node deployment.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (or creates) the cache database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := sqlitedb.Migrate(db, "cache_schema_migrations", []string{cacheMigrationV1}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Get returns the value of a live entry. Expired entries are removed.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value   []byte
		expires int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM cache_entries WHERE key = ?", key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	if expires != 0 && s.now().UnixNano() >= expires {
		if err := s.Delete(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value under key. A ttl <= 0 never expires.
func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	var expires int64
	if ttl > 0 {
		expires = now.Add(ttl).UnixNano()
	}
	return sqlitedb.RetryWrite(ctx, "cache set", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO cache_entries (key, value, expires_at, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				expires_at = excluded.expires_at,
				created_at = excluded.created_at`,
			key, value, expires, now.UnixNano(),
		)
		return err
	})
}

// Delete removes a key.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	return sqlitedb.RetryWrite(ctx, "cache delete", func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
		return err
	})
}

// PurgeExpired deletes every expired entry and returns how many were removed.
func (s *SQLite) PurgeExpired(ctx context.Context) (int64, error) {
	var removed int64
	err := sqlitedb.RetryWrite(ctx, "cache purge", func() error {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM cache_entries WHERE expires_at != 0 AND expires_at <= ?",
			s.now().UnixNano(),
		)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
