package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/urfave/cli/v3"
)

type playlistRow struct {
	*models.Playlist
	Stats models.PlaylistStats `json:"stats"`
}

// PlaylistsList prints playlists, Liked Songs first.
func (r *Runner) PlaylistsList(ctx context.Context, cmd *cli.Command) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	playlists, err := s.playlists.List(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(playlists))
	for _, p := range playlists {
		ids = append(ids, p.ID)
	}
	stats, err := s.playlists.Stats(ctx, ids...)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		rows := make([]playlistRow, 0, len(playlists))
		for _, p := range playlists {
			rows = append(rows, playlistRow{Playlist: p, Stats: stats[p.ID]})
		}
		return r.writeJSON(rows, true)
	}
	if len(playlists) == 0 {
		return r.writePlain("No playlists synced yet; run a library sync first\n")
	}
	return r.writePlain("%s\n", formatter.PlaylistsTable(playlists, stats))
}

// PlaylistsEnable returns the action that opts a playlist in or out of track sync.
// The argument is the playlist id or its library id.
func (r *Runner) PlaylistsEnable(enabled bool) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		id := cmd.StringArg("id")
		if id == "" {
			return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
		}

		s, err := r.store()
		if err != nil {
			return err
		}
		p, err := s.playlists.Get(ctx, id)
		if errors.Is(err, shared.ErrNotFound) {
			p, err = s.playlists.GetBySpotifyID(ctx, id)
		}
		if err != nil {
			return err
		}

		if p, err = s.playlists.SetEnabled(ctx, p.ID, enabled); err != nil {
			return err
		}
		if enabled {
			return r.writePlain("✓ %s will sync its tracks on the next library sync\n", p.Name)
		}
		return r.writePlain("✓ %s no longer syncs its tracks\n", p.Name)
	}
}
