package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/reconcile"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/urfave/cli/v3"
)

// Scan reconciles the music directory in this process, or queues a filesystem-scan job
// for the daemon with --queue.
func (r *Runner) Scan(ctx context.Context, cmd *cli.Command) error {
	s, err := r.store()
	if err != nil {
		return err
	}

	if cmd.Bool("queue") {
		q, err := r.queue()
		if err != nil {
			return err
		}
		job, err := q.Submit(ctx, models.JobFilesystemScan, "")
		var dup *shared.DuplicateError
		if errors.As(err, &dup) {
			return r.writePlain("• A scan is already queued as %s\n", dup.ExistingID)
		} else if err != nil {
			return err
		}
		return r.writePlain("✓ Queued %s %s\n", job.Type, job.ID)
	}

	root := cmd.String("dir")
	if root == "" {
		settings, err := s.settings.Get(ctx)
		if err != nil {
			return err
		}
		root = settings.MusicDir
	}
	if root == "" {
		root = r.config.Library.MusicDir
	}

	scanner := reconcile.NewScanner(s.albums, r.tags, r.logger, nil)
	report, err := scanner.Scan(ctx, root, func(done, total int) {
		r.logger.Debug("scanning", "done", done, "total", total)
	})
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(report, true)
	}

	r.writePlain("Scanned %d directories under %s\n", report.Scanned, root)
	changed := 0
	for _, m := range report.Matched {
		if m.Changed {
			changed++
		}
	}
	r.writePlain("✓ %d matched (%d newly owned)\n", len(report.Matched), changed)
	if len(report.Unmatched) > 0 {
		r.writePlainln("Unmatched directories:")
		for _, c := range report.Unmatched {
			r.writePlain("  • %s (%s - %s)\n", c.Dir, c.Artist, c.Album)
		}
	}
	for _, f := range report.Failures {
		r.writePlain("✗ %s\n", f)
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d directories could not be claimed", len(report.Failures))
	}
	return nil
}
