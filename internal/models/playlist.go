package models

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"time"
)

const (
	// LikedSongsSpotifyID keys the synthetic playlist holding the user's saved tracks.
	LikedSongsSpotifyID = "__liked_songs__"
	LikedSongsName      = "Liked Songs"
)

// Track is a catalog track. It exists only as a member of a synced playlist.
type Track struct {
	ID          string    `json:"id"`
	Sequence    int       `json:"-"`
	AlbumID     string    `json:"album_id"`
	Title       string    `json:"title"`
	SpotifyID   string    `json:"spotify_id"`
	TrackNumber int       `json:"track_number,omitempty"`
	DiscNumber  int       `json:"disc_number,omitempty"`
	DurationMS  int       `json:"duration_ms,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (t *Track) Validate() error {
	switch {
	case t.AlbumID == "":
		return invalid("track has no album")
	case t.SpotifyID == "":
		return invalid("track has no library id")
	case strings.TrimSpace(t.Title) == "":
		return invalid("track title is required")
	}
	return nil
}

// Playlist mirrors a library playlist. Tracks are synced only while Enabled.
//
// Synthetic marks the Liked Songs playlist, which has no counterpart in the library.
type Playlist struct {
	ID            string     `json:"id"`
	Sequence      int        `json:"-"`
	SpotifyID     string     `json:"spotify_id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Owner         string     `json:"owner,omitempty"`
	Collaborative bool       `json:"collaborative"`
	TotalTracks   int        `json:"total_tracks"`
	SnapshotID    string     `json:"snapshot_id,omitempty"`
	Enabled       bool       `json:"enabled"`
	Synthetic     bool       `json:"synthetic"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (p *Playlist) Validate() error {
	switch {
	case p.SpotifyID == "":
		return invalid("playlist has no library id")
	case strings.TrimSpace(p.Name) == "":
		return invalid("playlist name is required")
	}
	return nil
}

// NeedsTrackSync reports whether the playlist's tracks differ from snapshot or were never synced.
func (p *Playlist) NeedsTrackSync(snapshot string) bool {
	return p.LastSyncedAt == nil || p.SnapshotID != snapshot
}

// PlaylistStats counts a playlist's tracks and how many of them sit on owned albums.
type PlaylistStats struct {
	Total int `json:"total"`
	Owned int `json:"owned"`
}

// PlaylistEntry is one row of a playlist listing.
type PlaylistEntry struct {
	Position        int             `json:"position"`
	TrackID         string          `json:"track_id"`
	Title           string          `json:"title"`
	DurationMS      int             `json:"duration_ms,omitempty"`
	AlbumID         string          `json:"album_id"`
	AlbumTitle      string          `json:"album_title"`
	ArtistName      string          `json:"artist_name"`
	OwnershipStatus OwnershipStatus `json:"ownership_status"`
}

// TrackSnapshot fingerprints a track list by its ids, ignoring order, for lists that carry
// no snapshot of their own.
func TrackSnapshot(tracks []LibraryTrack) string {
	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		ids = append(ids, t.SpotifyID)
	}
	slices.Sort(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
