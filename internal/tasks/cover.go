package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
)

// CoverPath is where an album's front cover is stored.
func CoverPath(dir, albumID string) string {
	return filepath.Join(dir, albumID+".jpg")
}

// fetchCover downloads the front cover of a matched album.
//
// A missing cover is a final outcome recorded as an empty reference.
func (r *Runner) fetchCover(ctx context.Context, albumID string, progress ProgressFunc) (string, error) {
	if r.deps.CoverDir == "" {
		return "", fmt.Errorf("%w: cover directory is not set", shared.ErrMissingConfig)
	}
	album, err := r.deps.Albums.Get(ctx, albumID)
	if err != nil {
		return "", err
	}
	if album.MusicBrainzID == "" {
		return "", fmt.Errorf("%w: album %s has no release group", shared.ErrInconsistent, albumID)
	}

	if err := r.covers.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer r.covers.Release(1)

	data, err := r.deps.Metadata.CoverArt(ctx, album.MusicBrainzID)
	if errors.Is(err, shared.ErrNotFound) {
		if err := r.setCoverRef(ctx, albumID, ""); err != nil {
			return "", err
		}
		progress.send(coverUpdate(album, false))
		return "no cover art", nil
	}
	if err != nil {
		return "", err
	}

	path := CoverPath(r.deps.CoverDir, albumID)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	if err := r.setCoverRef(ctx, albumID, path); err != nil {
		return "", err
	}

	progress.send(coverUpdate(album, true))
	return path, nil
}

func (r *Runner) setCoverRef(ctx context.Context, albumID, ref string) error {
	_, err := r.deps.Albums.Mutate(ctx, albumID, func(a *models.Album) error {
		if a.CoverArtRef != nil && *a.CoverArtRef == ref {
			return repositories.ErrNoChange
		}
		a.CoverArtRef = &ref
		return nil
	})
	return err
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".cover-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move cover into place: %w", err)
	}
	return nil
}
