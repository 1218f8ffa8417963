package models

import (
	"strings"
	"time"
)

// Artist is a catalog artist, created the first time a sync references it.
type Artist struct {
	ID            string    `json:"id"`
	Sequence      int       `json:"-"`
	Name          string    `json:"name"`
	SpotifyID     string    `json:"spotify_id,omitempty"`
	MusicBrainzID string    `json:"musicbrainz_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (a *Artist) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return invalid("artist name is required")
	}
	return nil
}

// Album is a catalog album and the entity every reconciler writes to.
//
// Version increases on every write and guards read-modify-write cycles.
type Album struct {
	ID                string            `json:"id"`
	Sequence          int               `json:"-"`
	ArtistID          string            `json:"artist_id"`
	ArtistName        string            `json:"artist_name"`
	Title             string            `json:"title"`
	SpotifyID         string            `json:"spotify_id,omitempty"`
	MusicBrainzID     string            `json:"musicbrainz_id,omitempty"`
	ReleaseDate       string            `json:"release_date,omitempty"`
	TrackCount        int               `json:"track_count"`
	Genres            []string          `json:"genres"`
	CoverArtRef       *string           `json:"cover_art_ref,omitempty"`
	OwnershipStatus   OwnershipStatus   `json:"ownership_status"`
	AcquisitionSource AcquisitionSource `json:"acquisition_source"`
	LocalPath         *string           `json:"local_path,omitempty"`
	MatchStatus       MatchStatus       `json:"match_status"`
	MatchScore        *int              `json:"match_score,omitempty"`
	LastSyncedAt      *time.Time        `json:"last_synced_at,omitempty"`
	Version           int               `json:"version"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NewAlbum returns an album in its initial state: not owned, unknown source, match pending.
func NewAlbum(artistID, title string) *Album {
	return &Album{
		ArtistID:          artistID,
		Title:             title,
		Genres:            []string{},
		OwnershipStatus:   NotOwned,
		AcquisitionSource: SourceUnknown,
		MatchStatus:       MatchPending,
	}
}

// Validate checks enums and the two catalog invariants:
// match_score is set iff match_status is not pending, and local_path is set only when owned.
func (a *Album) Validate() error {
	switch {
	case strings.TrimSpace(a.Title) == "":
		return invalid("album title is required")
	case a.ArtistID == "":
		return invalid("album %q has no artist", a.Title)
	case !a.OwnershipStatus.Valid():
		return invalid("ownership status %q", a.OwnershipStatus)
	case !a.AcquisitionSource.Valid():
		return invalid("acquisition source %q", a.AcquisitionSource)
	case !a.MatchStatus.Valid():
		return invalid("match status %q", a.MatchStatus)
	}

	if a.MatchScore != nil && (*a.MatchScore < 0 || *a.MatchScore > 100) {
		return invalid("match score %d out of range", *a.MatchScore)
	}
	if (a.MatchScore == nil) != (a.MatchStatus == MatchPending) {
		return inconsistent("album %s: match_score must be set exactly when match_status is not pending (status=%s)", a.ID, a.MatchStatus)
	}
	if a.LocalPath != nil && a.OwnershipStatus != Owned {
		return inconsistent("album %s: local_path set while %s", a.ID, a.OwnershipStatus)
	}
	return nil
}

// MarkOwned records a local copy at path obtained through source.
func (a *Album) MarkOwned(path string, source AcquisitionSource) {
	a.OwnershipStatus = Owned
	a.AcquisitionSource = source
	a.LocalPath = &path
}

// MarkDownloading records that an automated download is in flight.
func (a *Album) MarkDownloading() {
	a.OwnershipStatus = Downloading
	a.LocalPath = nil
}

// MarkNotOwned clears ownership and the local path.
func (a *Album) MarkNotOwned() {
	a.OwnershipStatus = NotOwned
	a.LocalPath = nil
}

// ApplyMatch stores a matching outcome; mbid is ignored unless status is matched or needs_review.
func (a *Album) ApplyMatch(status MatchStatus, score int, mbid string) {
	a.MatchStatus = status
	if status == MatchPending {
		a.MatchScore = nil
		return
	}
	a.MatchScore = &score
	if status == Matched || status == NeedsReview {
		a.MusicBrainzID = mbid
	} else {
		a.MusicBrainzID = ""
	}
}

// DownloadRequest is an automated acquisition attempt for one album.
type DownloadRequest struct {
	ID                  string         `json:"id"`
	AlbumID             string         `json:"album_id"`
	LidarrAlbumID       int            `json:"lidarr_album_id"`
	DownloadID          string         `json:"download_id,omitempty"`
	Status              DownloadStatus `json:"status"`
	QualityProfile      string         `json:"quality_profile,omitempty"`
	EstimatedCompletion *time.Time     `json:"estimated_completion,omitempty"`
	Error               string         `json:"error,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

func (d *DownloadRequest) Validate() error {
	if d.AlbumID == "" {
		return invalid("download request has no album")
	}
	if !d.Status.Valid() {
		return invalid("download status %q", d.Status)
	}
	return nil
}
