package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	"github.com/urfave/cli/v3"
)

// AlbumsList prints the catalog.
func (r *Runner) AlbumsList(ctx context.Context, cmd *cli.Command) error {
	filter, err := albumFilter(cmd.String("ownership"), cmd.String("match"))
	if err != nil {
		return err
	}
	filter.Limit = cmd.Int("limit")

	s, err := r.store()
	if err != nil {
		return err
	}
	albums, err := s.albums.List(ctx, filter)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return formatter.AlbumsJSON(r.output, albums)
	}
	if len(albums) == 0 {
		return r.writePlain("No albums found\n")
	}
	return r.writePlain("%s\n", formatter.AlbumsTable(albums))
}

// AlbumsExport writes the catalog to a CSV or JSON file.
func (r *Runner) AlbumsExport(ctx context.Context, cmd *cli.Command) error {
	filter, err := albumFilter(cmd.String("ownership"), "")
	if err != nil {
		return err
	}

	s, err := r.store()
	if err != nil {
		return err
	}
	albums, err := s.albums.List(ctx, filter)
	if err != nil {
		return err
	}

	path, err := formatter.WriteExport(cmd.String("output"), cmd.String("format"), albums)
	if err != nil {
		return err
	}
	r.logger.Info("exported albums", "path", path, "count", len(albums))
	return r.writePlain("✓ Exported %d albums to %s\n", len(albums), path)
}

// AlbumsMatch queues metadata matching for one album.
func (r *Runner) AlbumsMatch(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: album id", shared.ErrMissingArgument)
	}

	s, err := r.store()
	if err != nil {
		return err
	}
	album, err := s.albums.Get(ctx, id)
	if err != nil {
		return err
	}

	q, err := r.queue()
	if err != nil {
		return err
	}
	job, err := q.Submit(ctx, models.JobMetadataMatchOne, album.ID)
	var dup *shared.DuplicateError
	if errors.As(err, &dup) {
		return r.writePlain("• %s is already being matched by %s\n", album.Title, dup.ExistingID)
	} else if err != nil {
		return err
	}
	return r.writePlain("✓ Queued matching of %s - %s as %s\n", album.ArtistName, album.Title, job.ID)
}

// AlbumsWant asks the download service to search for a matched album.
func (r *Runner) AlbumsWant(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: album id", shared.ErrMissingArgument)
	}

	s, err := r.store()
	if err != nil {
		return err
	}

	c := r.clients(nil)
	downloader := tasks.NewRunner(tasks.Deps{
		Albums:    s.albums,
		Downloads: s.downloads,
		Settings:  s.settings,
		Download:  c.downloads,
		Logger:    r.logger,
	})

	req, err := downloader.RequestDownload(ctx, id)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Download requested (lidarr album %d, status %s)\n", req.LidarrAlbumID, req.Status)
}

func albumFilter(ownership, match string) (repositories.AlbumFilter, error) {
	var filter repositories.AlbumFilter
	if ownership != "" {
		o := models.OwnershipStatus(ownership)
		if !o.Valid() {
			return filter, fmt.Errorf("%w: unknown ownership %q", shared.ErrInvalidArgument, ownership)
		}
		filter.Ownership = o
	}
	if match != "" {
		m := models.MatchStatus(match)
		if !m.Valid() {
			return filter, fmt.Errorf("%w: unknown match status %q", shared.ErrInvalidArgument, match)
		}
		filter.MatchStatus = m
	}
	return filter, nil
}
