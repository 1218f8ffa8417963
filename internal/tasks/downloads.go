package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
)

// pollDownloads maps the automation queue onto active download requests.
//
// Requests no longer in the queue are left for the import or failure webhook to settle.
func (r *Runner) pollDownloads(ctx context.Context, settings *models.SyncSettings, progress ProgressFunc) (string, error) {
	active, err := r.deps.Downloads.ListActive(ctx)
	if err != nil {
		return "", err
	}

	var summary models.BatchSummary
	if len(active) == 0 {
		return encode(summary), nil
	}

	svc, err := r.downloadService(settings)
	if err != nil {
		return "", err
	}
	queue, err := svc.Queue(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read download queue: %w", err)
	}

	byAlbum := make(map[int]models.QueueItem, len(queue))
	byDownload := make(map[string]models.QueueItem, len(queue))
	for _, item := range queue {
		if item.AlbumID != 0 {
			byAlbum[item.AlbumID] = item
		}
		if item.DownloadID != "" {
			byDownload[item.DownloadID] = item
		}
	}

	var lastErr error
	for i, req := range active {
		summary.Processed++
		item, ok := byDownload[req.DownloadID]
		if !ok || req.DownloadID == "" {
			item, ok = byAlbum[req.LidarrAlbumID]
		}

		switch {
		case !ok:
			summary.Skipped++
		default:
			if err := r.applyQueueItem(ctx, req, item); err != nil {
				summary.RecordFailure(req.ID, err)
				lastErr = err
			} else {
				summary.Succeeded++
			}
		}
		progress.send(pollUpdate(i+1, len(active), req))
	}

	counted := summary
	counted.Processed -= counted.Skipped
	return finish(summary, counted, lastErr)
}

func queueFailed(item models.QueueItem) bool {
	return strings.EqualFold(item.Status, "failed") || strings.EqualFold(item.TrackedStatus, "error")
}

// applyQueueItem updates req from its queue entry and keeps the album's ownership in step.
//
// The request is re-read under the album lock; one settled by a webhook since the poll
// listed it is left alone.
func (r *Runner) applyQueueItem(ctx context.Context, req *models.DownloadRequest, item models.QueueItem) error {
	return r.deps.Albums.Locked(ctx, req.AlbumID, func(ctx context.Context, mutate repositories.MutateFunc) error {
		current, err := r.deps.Downloads.Get(ctx, req.ID)
		if err != nil {
			return err
		}
		*req = *current
		if !current.Status.Active() {
			return nil
		}

		next := *current
		if item.DownloadID != "" {
			next.DownloadID = item.DownloadID
		}
		next.EstimatedCompletion = item.EstimatedCompletion

		if queueFailed(item) {
			next.Status = models.DownloadFailed
			next.Error = item.ErrorMessage
			if next.Error == "" {
				next.Error = "download failed in client: " + item.Status
			}
		} else {
			next.Status = models.DownloadInProgress
		}

		if _, err := mutate(func(a *models.Album) error {
			switch {
			case next.Status == models.DownloadFailed && a.OwnershipStatus == models.Downloading:
				a.MarkNotOwned()
			case next.Status == models.DownloadInProgress && a.OwnershipStatus == models.NotOwned:
				a.MarkDownloading()
			default:
				return repositories.ErrNoChange
			}
			return nil
		}); err != nil {
			return err
		}

		if sameDownload(current, &next) {
			return nil
		}
		if err := r.deps.Downloads.Update(ctx, &next); err != nil {
			return err
		}
		*req = next
		return nil
	})
}

func sameDownload(a, b *models.DownloadRequest) bool {
	if a.Status != b.Status || a.DownloadID != b.DownloadID || a.Error != b.Error {
		return false
	}
	if (a.EstimatedCompletion == nil) != (b.EstimatedCompletion == nil) {
		return false
	}
	return a.EstimatedCompletion == nil || a.EstimatedCompletion.Equal(*b.EstimatedCompletion)
}

func (r *Runner) downloadService(settings *models.SyncSettings) (services.DownloadService, error) {
	if r.deps.Download == nil {
		return nil, fmt.Errorf("%w: no download service configured", shared.ErrMissingConfig)
	}
	return r.deps.Download(settings)
}

// RequestDownload asks the automation service to search for a matched album and records a
// searching request. An album with an active request fails with [shared.ErrActiveDownload].
func (r *Runner) RequestDownload(ctx context.Context, albumID string) (*models.DownloadRequest, error) {
	album, err := r.deps.Albums.Get(ctx, albumID)
	if err != nil {
		return nil, err
	}
	switch {
	case album.OwnershipStatus == models.Owned:
		return nil, fmt.Errorf("%w: %s is already owned", shared.ErrInvalidInput, album.Title)
	case album.MusicBrainzID == "":
		return nil, fmt.Errorf("%w: %s has no release group, match it first", shared.ErrInvalidInput, album.Title)
	}

	if _, err := r.deps.Downloads.Active(ctx, albumID); err == nil {
		return nil, fmt.Errorf("%w: album %s", shared.ErrActiveDownload, albumID)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	settings, err := r.deps.Settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	svc, err := r.downloadService(settings)
	if err != nil {
		return nil, err
	}

	remote, err := svc.LookupAlbum(ctx, album.MusicBrainzID)
	if err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}
	if remote.ID == 0 {
		if remote, err = svc.AddAlbum(ctx, remote); err != nil {
			return nil, fmt.Errorf("failed to add album: %w", err)
		}
	}
	if err := svc.SearchAlbum(ctx, remote.ID); err != nil {
		return nil, fmt.Errorf("failed to start search: %w", err)
	}

	req := &models.DownloadRequest{AlbumID: albumID, LidarrAlbumID: remote.ID, Status: models.DownloadSearching}
	if err := r.deps.Downloads.Create(ctx, req); err != nil {
		return nil, err
	}
	r.logger.Info("download requested", "album", albumID, "title", album.Title, "lidarr_album", remote.ID)
	return req, nil
}
