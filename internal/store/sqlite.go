package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists cache entries on device so successful query results
// survive restarts. Only terminal results are ever written here; in-flight
// state never reaches a Set call. Entries past maxAge are pruned on open and
// filtered on read.
type SQLiteStore struct {
	db     *sql.DB
	maxAge time.Duration
}

func NewSQLiteStore(path string, maxAge time.Duration) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to cache database: %w", err)
	}

	query := `CREATE TABLE IF NOT EXISTS cache_entries (
        key TEXT PRIMARY KEY,
        value BLOB NOT NULL,
        stored_at DATETIME NOT NULL,
        expires_at DATETIME NOT NULL
    )`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("create cache table: %w", err)
	}

	store := &SQLiteStore{db: db, maxAge: maxAge}
	if err := store.prune(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) prune(ctx context.Context) error {
	cutoff := time.Now().Add(-s.maxAge)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at < ? OR stored_at < ?`,
		time.Now().UTC(), cutoff.UTC())
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value, stored_at FROM cache_entries WHERE key = ? AND expires_at >= ? AND stored_at >= ?`,
		key, time.Now().UTC(), time.Now().Add(-s.maxAge).UTC())

	var entry Entry
	err := row.Scan(&entry.Value, &entry.StoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	return &entry, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	// Hard lifetime never exceeds the configured max age.
	if ttl > s.maxAge {
		ttl = s.maxAge
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, stored_at, expires_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at, expires_at = excluded.expires_at`,
		key, value, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Invalidate(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InvalidatePrefix(ctx context.Context, prefix string) error {
	pattern := strings.ReplaceAll(strings.ReplaceAll(prefix, "%", `\%`), "_", `\_`) + "%"
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key LIKE ? ESCAPE '\'`, pattern); err != nil {
		return fmt.Errorf("delete cache entries by prefix: %w", err)
	}
	return nil
}

// Keys returns all live keys with the given prefix, oldest first.
func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := strings.ReplaceAll(strings.ReplaceAll(prefix, "%", `\%`), "_", `\_`) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM cache_entries WHERE key LIKE ? ESCAPE '\' AND expires_at >= ? ORDER BY stored_at`,
		pattern, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan cache key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
