// package services defines the external-service interfaces and their HTTP clients
//
// Spotify (library), MusicBrainz + Cover Art Archive (metadata), Lidarr (downloads)
package services

import (
	"context"

	"github.com/desertthunder/crate/internal/models"
)

// Service names used in errors, logs and metrics.
const (
	SpotifyName     = "spotify"
	MusicBrainzName = "musicbrainz"
	CoverArtName    = "coverart"
	LidarrName      = "lidarr"
)

// Service is implemented by every external client.
type Service interface {
	// Name returns the short service name (e.g., "spotify", "lidarr")
	Name() string
}

// LibraryService reads the user's streaming library.
type LibraryService interface {
	Service

	// SavedAlbums returns one page of saved albums starting at offset.
	SavedAlbums(ctx context.Context, limit, offset int) (*models.SavedAlbumPage, error)

	// Playlists returns one page of the playlists the user owns or follows.
	Playlists(ctx context.Context, limit, offset int) (*models.PlaylistPage, error)

	// PlaylistTracks returns one page of a playlist's tracks.
	PlaylistTracks(ctx context.Context, playlistID string, limit, offset int) (*models.TrackPage, error)

	// SavedTracks returns one page of the user's saved tracks.
	SavedTracks(ctx context.Context, limit, offset int) (*models.TrackPage, error)
}

// MetadataService searches release metadata and fetches cover art.
//
// Implementations share one process-wide limiter across both calls.
type MetadataService interface {
	Service

	// SearchReleaseGroups runs a structured release-group query and returns candidates best first.
	SearchReleaseGroups(ctx context.Context, query string) ([]models.ReleaseGroup, error)

	// CoverArt returns the front cover image for a release group.
	// A missing cover is reported as [shared.ErrNotFound].
	CoverArt(ctx context.Context, mbid string) ([]byte, error)
}

// DownloadService drives the download-automation service.
type DownloadService interface {
	Service

	// Status checks connectivity and credentials, returning the service version.
	Status(ctx context.Context) (string, error)

	// Queue lists in-flight downloads.
	Queue(ctx context.Context) ([]models.QueueItem, error)

	// LookupAlbum resolves a release-group id to the automation service's album.
	LookupAlbum(ctx context.Context, mbid string) (*models.LidarrAlbum, error)

	// AddAlbum starts monitoring a looked-up album and returns it with its assigned id.
	AddAlbum(ctx context.Context, album *models.LidarrAlbum) (*models.LidarrAlbum, error)

	// SearchAlbum asks the automation service to search indexers for the given albums.
	SearchAlbum(ctx context.Context, albumIDs ...int) error
}
