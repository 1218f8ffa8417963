package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
)

// matchAll matches every pending album. Items are isolated: a failed album stays pending
// for the next run and the batch continues.
func (r *Runner) matchAll(ctx context.Context, progress ProgressFunc) (string, error) {
	ids, err := r.deps.Albums.IDsByMatchStatus(ctx, models.MatchPending)
	if err != nil {
		return "", err
	}

	var summary models.BatchSummary
	var lastErr error
	progress.send(matchUpdate(0, len(ids), nil, nil))

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return encode(summary), err
		}

		summary.Processed++
		album, result, err := r.matchAlbum(ctx, id)
		switch {
		case err != nil && ctx.Err() != nil:
			summary.Processed--
			return encode(summary), ctx.Err()
		case err != nil:
			r.logger.Warn("match failed", "album", id, "error", err)
			summary.RecordFailure(id, err)
			lastErr = err
		default:
			summary.Succeeded++
		}
		progress.send(matchUpdate(i+1, len(ids), album, result))
	}

	r.logger.Info("matching finished", "albums", summary.Processed, "failed", summary.Failed)
	return finish(summary, summary, lastErr)
}

// matchOne re-matches a single album regardless of its current status.
func (r *Runner) matchOne(ctx context.Context, albumID string, progress ProgressFunc) (string, error) {
	album, result, err := r.matchAlbum(ctx, albumID)
	if err != nil {
		return "", err
	}
	progress.send(matchUpdate(1, 1, album, result))
	return encode(result), nil
}

// matchAlbum runs the engine for one album, stores the verdict and queues cover art on a match.
func (r *Runner) matchAlbum(ctx context.Context, albumID string) (*models.Album, *models.MatchResult, error) {
	if albumID == "" {
		return nil, nil, fmt.Errorf("%w: album id", shared.ErrMissingArgument)
	}
	album, err := r.deps.Albums.Get(ctx, albumID)
	if err != nil {
		return nil, nil, err
	}

	result, err := r.deps.Engine.Match(ctx, album.ArtistName, album.Title)
	if err != nil {
		return album, nil, err
	}

	updated, err := r.deps.Albums.Mutate(ctx, albumID, func(a *models.Album) error {
		before := *a
		a.ApplyMatch(result.Status, result.Score, result.MBID)
		if sameMatch(&before, a) {
			return repositories.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return album, result, err
	}

	if result.Status == models.Matched {
		r.followUp(ctx, models.JobCoverArtFetch, albumID)
	}
	return updated, result, nil
}

func sameMatch(a, b *models.Album) bool {
	if a.MatchStatus != b.MatchStatus || a.MusicBrainzID != b.MusicBrainzID {
		return false
	}
	if (a.MatchScore == nil) != (b.MatchScore == nil) {
		return false
	}
	return a.MatchScore == nil || *a.MatchScore == *b.MatchScore
}
