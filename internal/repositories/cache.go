package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/crate/internal/models"
)

// CacheRepository is a key/value store with optional per-entry expiry.
//
// Entries past expires_at are treated as absent and removed by [CacheRepository.Purge].
type CacheRepository struct {
	db  *sql.DB
	now models.Clock
}

// NewCacheRepository creates a new CacheRepository with the given database connection
func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (r *CacheRepository) WithClock(now models.Clock) *CacheRepository {
	r.now = now
	return r
}

// Get returns the live value for key.
func (r *CacheRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, "SELECT value, expires_at FROM cache_entries WHERE key = ?", key).Scan(&value, &expiresAt)
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if expiresAt.Valid && !r.now().Before(expiresAt.Time) {
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value under key; ttl <= 0 keeps it until deleted.
func (r *CacheRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := r.now().UTC()
	var expires *time.Time
	if ttl > 0 {
		e := now.Add(ttl)
		expires = &e
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, created_at = excluded.created_at
	`, key, value, nullTime(expires), now)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete removes key.
func (r *CacheRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Purge deletes expired entries and returns how many were removed.
func (r *CacheRepository) Purge(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?", r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of stored entries, expired or not.
func (r *CacheRepository) Len(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}

// Clear deletes every entry, including permanent ones, and returns how many were removed.
func (r *CacheRepository) Clear(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM cache_entries")
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	return res.RowsAffected()
}
