package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
)

// librarySync pages the saved-album library into the catalog, then queues matching.
func (r *Runner) librarySync(ctx context.Context, settings *models.SyncSettings, progress ProgressFunc) (string, error) {
	if r.deps.Library == nil {
		return "", fmt.Errorf("%w: no library service configured", shared.ErrMissingConfig)
	}
	lib, err := r.deps.Library(settings)
	if err != nil {
		return "", err
	}

	var summary models.BatchSummary
	var lastErr error
	progress.send(fetchLibraryUpdate(0, 0, nil))

	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return encode(summary), err
		}

		page, err := lib.SavedAlbums(ctx, services.SavedAlbumsPageSize, offset)
		if err != nil {
			return encode(summary), fmt.Errorf("failed to fetch saved albums at offset %d: %w", offset, err)
		}

		for _, saved := range page.Items {
			summary.Processed++
			if err := r.upsertSaved(ctx, saved); err != nil {
				r.logger.Warn("failed to store saved album", "album", saved.Title, "artist", saved.ArtistName, "error", err)
				summary.RecordFailure(saved.ArtistName+" - "+saved.Title, err)
				lastErr = err
			} else {
				summary.Succeeded++
			}
			progress.send(fetchLibraryUpdate(summary.Processed, max(page.Total, summary.Processed), &saved))
		}

		if !page.HasNext || len(page.Items) == 0 {
			break
		}
		offset += len(page.Items)
	}

	r.logger.Info("library synced", "albums", summary.Processed, "failed", summary.Failed)

	playlists, playlistErr := r.syncPlaylists(ctx, lib, progress)
	if playlistErr != nil {
		lastErr = playlistErr
	}

	if summary.Succeeded > 0 || playlists.Succeeded > 0 {
		r.followUp(ctx, models.JobMetadataMatchAll, "")
	}

	counted := summary
	counted.Processed += playlists.Processed - playlists.Skipped
	counted.Failed += playlists.Failed
	out := librarySummary{BatchSummary: summary}
	if playlists.Processed > 0 {
		out.Playlists = &playlists
	}
	return finish(out, counted, lastErr)
}

// librarySummary is the library-sync job summary: saved albums inline, playlists nested.
type librarySummary struct {
	models.BatchSummary
	Playlists *models.BatchSummary `json:"playlists,omitempty"`
}

func (r *Runner) upsertSaved(ctx context.Context, saved models.SavedAlbum) error {
	artist, err := r.deps.Artists.EnsureBySpotifyID(ctx, saved.ArtistName, saved.ArtistSpotifyID)
	if err != nil {
		return fmt.Errorf("artist: %w", err)
	}
	album, created, err := r.deps.Albums.UpsertFromLibrary(ctx, artist.ID, saved)
	if err != nil {
		return fmt.Errorf("album: %w", err)
	}
	if created {
		r.logger.Debug("new album", "id", album.ID, "title", album.Title, "artist", artist.Name)
	}
	return nil
}
