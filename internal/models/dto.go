package models

import "time"

// SavedAlbum is an album from the user's streaming library.
type SavedAlbum struct {
	SpotifyID       string
	Title           string
	ArtistName      string
	ArtistSpotifyID string
	ReleaseDate     string
	TrackCount      int
	Genres          []string
	AddedAt         time.Time
}

// SavedAlbumPage is one page of the streaming library.
type SavedAlbumPage struct {
	Items   []SavedAlbum
	Total   int
	Offset  int
	HasNext bool
}

// LibraryTrack is a track from a library playlist or the saved-tracks list.
type LibraryTrack struct {
	SpotifyID   string
	Title       string
	TrackNumber int
	DiscNumber  int
	DurationMS  int
	Album       SavedAlbum
	AddedAt     *time.Time
}

// TrackPage is one page of playlist or saved tracks. Items excludes local files and removed
// tracks; Total counts them.
type TrackPage struct {
	Items   []LibraryTrack
	Total   int
	Offset  int
	HasNext bool
}

// LibraryPlaylist is a playlist owned or followed by the user.
type LibraryPlaylist struct {
	SpotifyID     string
	Name          string
	Description   string
	Owner         string
	Collaborative bool
	TotalTracks   int
	SnapshotID    string
}

// PlaylistPage is one page of the user's playlists.
type PlaylistPage struct {
	Items   []LibraryPlaylist
	Total   int
	Offset  int
	HasNext bool
}

// ReleaseGroup is one metadata-search candidate.
type ReleaseGroup struct {
	ID               string
	Title            string
	ArtistName       string
	PrimaryType      string
	FirstReleaseDate string
	Score            int // relevance 0-100 as reported by the search
}

// MatchResult is the Matching Engine's verdict for one album.
type MatchResult struct {
	MBID   string      `json:"mbid,omitempty"`
	Score  int         `json:"score"`
	Status MatchStatus `json:"status"`
	Cached bool        `json:"-"`
}

// QueueItem is an entry in the download-automation queue.
type QueueItem struct {
	ID                  int
	DownloadID          string
	AlbumID             int
	Title               string
	Status              string
	TrackedStatus       string
	Size                float64
	SizeLeft            float64
	EstimatedCompletion *time.Time
	ErrorMessage        string
}

// LidarrAlbum is an album known to (or looked up through) the download-automation service.
type LidarrAlbum struct {
	ID              int
	Title           string
	ForeignAlbumID  string
	ArtistName      string
	ArtistForeignID string
	Monitored       bool
}
