package tasks

import (
	"fmt"

	"github.com/desertthunder/crate/internal/models"
)

// ProgressUpdate represents a progress event during a running job.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	JobID   string         // Set by the executor
	Type    models.JobType // Set by the executor
	Phase   Phase          // Operation phase
	Step    int            // Items processed so far
	Total   int            // Total items, zero while unknown
	Message string         // Human-readable message for display
}

// ProgressFunc receives progress from a task. It must not block.
type ProgressFunc func(ProgressUpdate)

// Operation phase enumeration
type Phase int

const (
	FetchLibrary Phase = iota
	MatchAlbums
	FetchCover
	ScanFilesystem
	PollDownloads
	SyncPlaylists
)

func (p Phase) String() string {
	switch p {
	case FetchLibrary:
		return "fetch_library"
	case MatchAlbums:
		return "match_albums"
	case FetchCover:
		return "fetch_cover"
	case ScanFilesystem:
		return "scan_filesystem"
	case PollDownloads:
		return "poll_downloads"
	case SyncPlaylists:
		return "sync_playlists"
	default:
		return ""
	}
}

func (f ProgressFunc) send(update ProgressUpdate) {
	if f != nil {
		f(update)
	}
}

func fetchLibraryUpdate(step, total int, saved *models.SavedAlbum) ProgressUpdate {
	if saved == nil {
		return ProgressUpdate{
			Phase:   FetchLibrary,
			Step:    step,
			Total:   total,
			Message: "Fetching saved albums...",
		}
	}
	return ProgressUpdate{
		Phase:   FetchLibrary,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s - %s", step, total, saved.ArtistName, saved.Title),
	}
}

func matchUpdate(step, total int, album *models.Album, result *models.MatchResult) ProgressUpdate {
	if album == nil {
		return ProgressUpdate{
			Phase:   MatchAlbums,
			Step:    step,
			Total:   total,
			Message: fmt.Sprintf("Matching %d albums...", total),
		}
	}
	msg := fmt.Sprintf("[%d/%d] ✗ %s - %s", step, total, album.ArtistName, album.Title)
	if result != nil {
		msg = fmt.Sprintf("[%d/%d] %s - %s: %s (%d)", step, total, album.ArtistName, album.Title, result.Status, result.Score)
	}
	return ProgressUpdate{Phase: MatchAlbums, Step: step, Total: total, Message: msg}
}

func coverUpdate(album *models.Album, found bool) ProgressUpdate {
	msg := fmt.Sprintf("✓ Cover stored for %s - %s", album.ArtistName, album.Title)
	if !found {
		msg = fmt.Sprintf("No cover art for %s - %s", album.ArtistName, album.Title)
	}
	return ProgressUpdate{Phase: FetchCover, Step: 1, Total: 1, Message: msg}
}

func scanUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ScanFilesystem,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Scanning album directories...", step, total),
	}
}

func pollUpdate(step, total int, req *models.DownloadRequest) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PollDownloads,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Download %s is %s", step, total, req.ID, req.Status),
	}
}

func playlistUpdate(step, total int, p *models.Playlist, synced bool) ProgressUpdate {
	msg := fmt.Sprintf("[%d/%d] %s unchanged", step, total, p.Name)
	switch {
	case !p.Enabled:
		msg = fmt.Sprintf("[%d/%d] %s not enabled", step, total, p.Name)
	case synced:
		msg = fmt.Sprintf("[%d/%d] ✓ %s", step, total, p.Name)
	}
	return ProgressUpdate{Phase: SyncPlaylists, Step: step, Total: total, Message: msg}
}
