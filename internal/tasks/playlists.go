package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/services"
)

// syncPlaylists mirrors the library's playlists and Liked Songs. Tracks are fetched only for
// enabled playlists whose snapshot moved since the last sync.
//
// Every playlist counts as one item; disabled and unchanged playlists are skipped.
func (r *Runner) syncPlaylists(ctx context.Context, lib services.LibraryService, progress ProgressFunc) (models.BatchSummary, error) {
	var summary models.BatchSummary
	if r.deps.Playlists == nil || r.deps.Tracks == nil {
		return summary, nil
	}

	var lastErr error
	record := func(p *models.Playlist, synced bool, err error) {
		summary.Processed++
		switch {
		case err != nil:
			r.logger.Warn("failed to sync playlist", "playlist", p.Name, "error", err)
			summary.RecordFailure(p.Name, err)
			lastErr = err
		case synced:
			summary.Succeeded++
		default:
			summary.Skipped++
		}
	}

	liked, synced, err := r.syncLikedSongs(ctx, lib)
	if liked == nil {
		liked = &models.Playlist{Name: models.LikedSongsName}
	}
	record(liked, synced, err)

	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		page, err := lib.Playlists(ctx, services.PlaylistsPageSize, offset)
		if err != nil {
			err = fmt.Errorf("failed to fetch playlists at offset %d: %w", offset, err)
			record(&models.Playlist{Name: "playlists"}, false, err)
			break
		}

		for _, lp := range page.Items {
			p, synced, err := r.syncPlaylist(ctx, lib, lp)
			if p == nil {
				p = &models.Playlist{Name: lp.Name}
			}
			record(p, synced, err)
			progress.send(playlistUpdate(summary.Processed, max(page.Total+1, summary.Processed), p, synced))
		}

		if !page.HasNext || len(page.Items) == 0 {
			break
		}
		offset += len(page.Items)
	}

	r.logger.Info("playlists synced", "playlists", summary.Processed, "synced", summary.Succeeded, "failed", summary.Failed)
	return summary, lastErr
}

func (r *Runner) syncPlaylist(ctx context.Context, lib services.LibraryService, lp models.LibraryPlaylist) (*models.Playlist, bool, error) {
	p, err := r.deps.Playlists.Upsert(ctx, lp)
	if err != nil {
		return nil, false, err
	}
	if !p.Enabled || !p.NeedsTrackSync(lp.SnapshotID) {
		return p, false, nil
	}

	tracks, err := fetchTracks(ctx, services.PlaylistTracksPageSize, func(limit, offset int) (*models.TrackPage, error) {
		return lib.PlaylistTracks(ctx, lp.SpotifyID, limit, offset)
	})
	if err != nil {
		return p, false, err
	}
	return p, true, r.storeTracks(ctx, p, tracks, lp.SnapshotID)
}

// syncLikedSongs keeps the synthetic Liked Songs playlist. Saved tracks carry no snapshot,
// so change is detected by fingerprinting the track ids.
func (r *Runner) syncLikedSongs(ctx context.Context, lib services.LibraryService) (*models.Playlist, bool, error) {
	head, err := lib.SavedTracks(ctx, 1, 0)
	if err != nil {
		return nil, false, fmt.Errorf("failed to count saved tracks: %w", err)
	}
	p, err := r.deps.Playlists.EnsureLikedSongs(ctx, head.Total)
	if err != nil || !p.Enabled {
		return p, false, err
	}

	tracks, err := fetchTracks(ctx, services.PlaylistsPageSize, func(limit, offset int) (*models.TrackPage, error) {
		return lib.SavedTracks(ctx, limit, offset)
	})
	if err != nil {
		return p, false, err
	}
	snapshot := models.TrackSnapshot(tracks)
	if !p.NeedsTrackSync(snapshot) {
		return p, false, nil
	}
	return p, true, r.storeTracks(ctx, p, tracks, snapshot)
}

func fetchTracks(ctx context.Context, pageSize int, fetch func(limit, offset int) (*models.TrackPage, error)) ([]models.LibraryTrack, error) {
	var tracks []models.LibraryTrack
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := fetch(pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tracks at offset %d: %w", offset, err)
		}
		tracks = append(tracks, page.Items...)
		// Offsets count dropped local files too.
		fetched := page.Offset + pageSize
		if !page.HasNext || fetched <= offset {
			return tracks, nil
		}
		offset = fetched
	}
}

// storeTracks creates the catalog rows tracks reference and makes them p's track list.
//
// Albums first seen here join the catalog not owned and pending a match, like saved albums.
func (r *Runner) storeTracks(ctx context.Context, p *models.Playlist, tracks []models.LibraryTrack, snapshot string) error {
	members := make([]repositories.PlaylistMember, 0, len(tracks))
	for _, lt := range tracks {
		if lt.Album.ArtistName == "" {
			r.logger.Debug("skipping track without artist", "playlist", p.Name, "track", lt.Title)
			continue
		}
		artist, err := r.deps.Artists.EnsureBySpotifyID(ctx, lt.Album.ArtistName, lt.Album.ArtistSpotifyID)
		if err != nil {
			return fmt.Errorf("artist %s: %w", lt.Album.ArtistName, err)
		}
		album, err := r.deps.Albums.EnsureFromLibrary(ctx, artist.ID, lt.Album)
		if err != nil {
			return fmt.Errorf("album %s: %w", lt.Album.Title, err)
		}
		track, err := r.deps.Tracks.Ensure(ctx, album.ID, lt)
		if err != nil {
			return fmt.Errorf("track %s: %w", lt.Title, err)
		}
		members = append(members, repositories.PlaylistMember{TrackID: track.ID, Position: len(members), AddedAt: lt.AddedAt})
	}

	if err := r.deps.Playlists.ReplaceTracks(ctx, p.ID, members, snapshot); err != nil {
		return err
	}
	r.logger.Debug("playlist tracks stored", "playlist", p.Name, "tracks", len(members))
	return nil
}
