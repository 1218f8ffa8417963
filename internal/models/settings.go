package models

import "time"

// SyncSettings is the process-wide settings singleton.
//
// Tasks read a snapshot at dispatch; changes apply to the next job.
type SyncSettings struct {
	SpotifyAccessToken  string     `json:"-"`
	SpotifyRefreshToken string     `json:"-"`
	SpotifyTokenExpiry  *time.Time `json:"spotify_token_expiry,omitempty"`
	LidarrURL           string     `json:"lidarr_url"`
	LidarrAPIKey        string     `json:"-"`
	MusicDir            string     `json:"music_dir"`
	AutoSyncEnabled     bool       `json:"auto_sync_enabled"`
	SyncIntervalHours   int        `json:"sync_interval_hours"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (s *SyncSettings) Validate() error {
	if s.SyncIntervalHours < 1 {
		return invalid("sync interval must be at least one hour")
	}
	return nil
}

// SyncInterval returns the auto-sync period.
func (s *SyncSettings) SyncInterval() time.Duration {
	return time.Duration(s.SyncIntervalHours) * time.Hour
}

// HasSpotifyToken reports whether library access has been authorized.
func (s *SyncSettings) HasSpotifyToken() bool {
	return s.SpotifyRefreshToken != "" || s.SpotifyAccessToken != ""
}
