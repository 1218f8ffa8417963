package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/crate/internal/models"
)

// SettingsRepository reads and writes the sync settings singleton row.
type SettingsRepository struct {
	db  *sql.DB
	now models.Clock
}

// NewSettingsRepository creates a new SettingsRepository with the given database connection
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db, now: time.Now}
}

// Get returns a snapshot of the current settings.
func (r *SettingsRepository) Get(ctx context.Context) (*models.SyncSettings, error) {
	var (
		s         models.SyncSettings
		expiry    sql.NullTime
		autoSync  int
		updatedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT spotify_access_token, spotify_refresh_token, spotify_token_expiry, lidarr_url, lidarr_api_key,
			music_dir, auto_sync_enabled, sync_interval_hours, updated_at
		FROM sync_settings WHERE id = 1
	`).Scan(&s.SpotifyAccessToken, &s.SpotifyRefreshToken, &expiry, &s.LidarrURL, &s.LidarrAPIKey,
		&s.MusicDir, &autoSync, &s.SyncIntervalHours, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	s.SpotifyTokenExpiry = timePtr(expiry)
	s.AutoSyncEnabled = autoSync != 0
	if updatedAt.Valid {
		s.UpdatedAt = updatedAt.Time
	}
	return &s, nil
}

// Save overwrites the settings row.
func (r *SettingsRepository) Save(ctx context.Context, s *models.SyncSettings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := r.now().UTC()
	autoSync := 0
	if s.AutoSyncEnabled {
		autoSync = 1
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_settings
		SET spotify_access_token = ?, spotify_refresh_token = ?, spotify_token_expiry = ?, lidarr_url = ?,
			lidarr_api_key = ?, music_dir = ?, auto_sync_enabled = ?, sync_interval_hours = ?, updated_at = ?
		WHERE id = 1
	`, s.SpotifyAccessToken, s.SpotifyRefreshToken, nullTime(s.SpotifyTokenExpiry), s.LidarrURL,
		s.LidarrAPIKey, s.MusicDir, autoSync, s.SyncIntervalHours, now)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	s.UpdatedAt = now
	return nil
}

// SaveToken stores a refreshed library token without touching other settings.
func (r *SettingsRepository) SaveToken(ctx context.Context, access, refresh string, expiry time.Time) error {
	var exp *time.Time
	if !expiry.IsZero() {
		e := expiry.UTC()
		exp = &e
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_settings
		SET spotify_access_token = ?,
			spotify_refresh_token = CASE WHEN ? = '' THEN spotify_refresh_token ELSE ? END,
			spotify_token_expiry = ?, updated_at = ?
		WHERE id = 1
	`, access, refresh, refresh, nullTime(exp), r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}
