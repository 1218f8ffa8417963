package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/matching"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/reconcile"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
	"golang.org/x/sync/semaphore"
)

// DefaultCoverConcurrency caps simultaneous cover downloads and writes.
const DefaultCoverConcurrency = 2

// Submitter enqueues follow-up jobs.
type Submitter interface {
	Submit(ctx context.Context, jobType models.JobType, entityID string) (*models.Job, error)
}

// LibraryFactory builds a streaming-library client from a settings snapshot.
type LibraryFactory func(settings *models.SyncSettings) (services.LibraryService, error)

// DownloadFactory builds a download-automation client from a settings snapshot.
type DownloadFactory func(settings *models.SyncSettings) (services.DownloadService, error)

// Deps are the collaborators tasks run against.
//
// Albums must be the single instance shared by every writer in the process.
type Deps struct {
	Artists   *repositories.ArtistRepository
	Albums    *repositories.AlbumRepository
	Downloads *repositories.DownloadRepository
	Tracks    *repositories.TrackRepository
	Playlists *repositories.PlaylistRepository // nil skips playlist sync
	Settings  *repositories.SettingsRepository
	Metadata  services.MetadataService
	Engine    *matching.Engine
	Scanner   *reconcile.Scanner
	Library   LibraryFactory
	Download  DownloadFactory
	Jobs      Submitter
	CoverDir  string
	MusicDir  string // used when settings has no music directory
	Logger    *log.Logger
}

// Runner dispatches a claimed job to its task.
type Runner struct {
	deps   Deps
	covers *semaphore.Weighted
	logger *log.Logger
}

// NewRunner creates a Runner.
func NewRunner(deps Deps) *Runner {
	return &Runner{
		deps:   deps,
		covers: semaphore.NewWeighted(DefaultCoverConcurrency),
		logger: shared.WithLogger(deps.Logger, "component", "tasks"),
	}
}

// Run executes job and returns its summary.
//
// Settings are read once here and the snapshot is used for the whole run. A batch that
// completed with some item failures returns its summary with a [*shared.PartialError].
func (r *Runner) Run(ctx context.Context, job *models.Job, progress ProgressFunc) (string, error) {
	settings, err := r.deps.Settings.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read settings: %w", err)
	}

	switch job.Type {
	case models.JobLibrarySync:
		return r.librarySync(ctx, settings, progress)
	case models.JobMetadataMatchAll:
		return r.matchAll(ctx, progress)
	case models.JobMetadataMatchOne:
		return r.matchOne(ctx, job.EntityID, progress)
	case models.JobCoverArtFetch:
		return r.fetchCover(ctx, job.EntityID, progress)
	case models.JobFilesystemScan:
		return r.scan(ctx, settings, progress)
	case models.JobDownloadStatusPoll:
		return r.pollDownloads(ctx, settings, progress)
	default:
		return "", fmt.Errorf("%w: no task for job type %q", shared.ErrInvalidInput, job.Type)
	}
}

// followUp submits a job, treating an already queued equivalent as success.
func (r *Runner) followUp(ctx context.Context, jobType models.JobType, entityID string) {
	if r.deps.Jobs == nil {
		return
	}
	job, err := r.deps.Jobs.Submit(ctx, jobType, entityID)
	var dup *shared.DuplicateError
	switch {
	case errors.As(err, &dup):
		r.logger.Debug("follow-up already queued", "type", jobType, "entity", entityID, "job", dup.ExistingID)
	case err != nil:
		r.logger.Warn("failed to submit follow-up", "type", jobType, "entity", entityID, "error", err)
	default:
		r.logger.Debug("submitted follow-up", "type", jobType, "entity", entityID, "job", job.ID)
	}
}

// finish encodes summary and classifies the batch: every item failing fails the batch with
// the last item error, some failing completes it with a [*shared.PartialError].
func finish(summary any, s models.BatchSummary, lastErr error) (string, error) {
	out, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("failed to encode summary: %w", err)
	}

	switch {
	case s.Failed == 0:
		return string(out), nil
	case s.Failed == s.Processed:
		return string(out), fmt.Errorf("all %d items failed: %w", s.Failed, lastErr)
	default:
		return string(out), &shared.PartialError{Failed: s.Failed, Total: s.Processed}
	}
}

func encode(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(out)
}
