package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

// scanSummary is a filesystem-scan job summary; Unmatched lists directories for manual review.
type scanSummary struct {
	models.BatchSummary
	Unmatched []string `json:"unmatched,omitempty"`
}

func (r *Runner) scan(ctx context.Context, settings *models.SyncSettings, progress ProgressFunc) (string, error) {
	if r.deps.Scanner == nil {
		return "", fmt.Errorf("%w: no scanner configured", shared.ErrMissingConfig)
	}
	root := settings.MusicDir
	if root == "" {
		root = r.deps.MusicDir
	}

	report, err := r.deps.Scanner.Scan(ctx, root, func(done, total int) {
		progress.send(scanUpdate(done, total))
	})
	if err != nil {
		if report != nil {
			return encode(report.Summary()), err
		}
		return "", err
	}

	s := scanSummary{BatchSummary: report.Summary()}
	for _, c := range report.Unmatched {
		if len(s.Unmatched) == models.MaxSummaryFailures {
			break
		}
		s.Unmatched = append(s.Unmatched, c.Dir)
	}

	var lastErr error
	if len(report.Failures) > 0 {
		lastErr = errors.New(report.Failures[len(report.Failures)-1])
	}
	// Unmatched directories are reported, not failed; only claim failures count against the batch.
	counted := s.BatchSummary
	counted.Processed -= counted.Skipped
	return finish(s, counted, lastErr)
}
