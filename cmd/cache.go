package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

// CachePurge deletes expired match-cache entries, or all of them with --all.
//
// Clearing permanent matches makes the next match-all re-query every album.
func (r *Runner) CachePurge(ctx context.Context, cmd *cli.Command) error {
	s, err := r.store()
	if err != nil {
		return err
	}

	var n int64
	if cmd.Bool("all") {
		n, err = s.cache.Clear(ctx)
	} else {
		n, err = s.cache.Purge(ctx)
	}
	if err != nil {
		return err
	}

	r.logger.Info("purged cache", "entries", n, "all", cmd.Bool("all"))
	return r.writePlain("✓ Removed %d cache entries\n", n)
}

// CacheStats prints the number of cached entries.
func (r *Runner) CacheStats(ctx context.Context, cmd *cli.Command) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	n, err := s.cache.Len(ctx)
	if err != nil {
		return err
	}
	return r.writePlain("%d cache entries\n", n)
}
