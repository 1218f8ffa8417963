package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const (
	// DefaultTick is how often the scheduler re-reads settings.
	DefaultTick = time.Minute

	// PollEvery is the download-status-poll period.
	PollEvery = 5 * time.Minute
)

// Submitter enqueues jobs.
type Submitter interface {
	Submit(ctx context.Context, jobType models.JobType, entityID string) (*models.Job, error)
}

// SettingsSource returns the current settings snapshot.
type SettingsSource interface {
	Get(ctx context.Context) (*models.SyncSettings, error)
}

// Scheduler submits periodic jobs. Settings are re-read every tick, so enabling auto-sync or
// changing the interval takes effect without a restart.
type Scheduler struct {
	jobs     Submitter
	settings SettingsSource
	tick     time.Duration
	now      models.Clock
	logger   *log.Logger

	lastSync time.Time
	lastPoll time.Time
}

// NewScheduler returns a scheduler checking settings every [DefaultTick].
func NewScheduler(jobs Submitter, settings SettingsSource, logger *log.Logger) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		settings: settings,
		tick:     DefaultTick,
		now:      time.Now,
		logger:   shared.WithLogger(logger, "component", "scheduler"),
	}
}

// WithClock replaces the time source; used by tests.
func (s *Scheduler) WithClock(now models.Clock) *Scheduler {
	s.now = now
	return s
}

// Run ticks until ctx is done. The first tick happens immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick submits every job that is due and returns the types submitted.
//
// Library sync is due once per sync interval while auto-sync is enabled; the download poll
// every [PollEvery] while a download service is configured. A due job that is already queued
// counts as submitted.
func (s *Scheduler) Tick(ctx context.Context) []models.JobType {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.Error("failed to read settings", "error", err)
		return nil
	}

	now := s.now()
	var due []models.JobType
	if settings.AutoSyncEnabled && settings.HasSpotifyToken() && now.Sub(s.lastSync) >= settings.SyncInterval() {
		if s.submit(ctx, models.JobLibrarySync) {
			s.lastSync = now
			due = append(due, models.JobLibrarySync)
		}
	}
	if settings.LidarrURL != "" && now.Sub(s.lastPoll) >= PollEvery {
		if s.submit(ctx, models.JobDownloadStatusPoll) {
			s.lastPoll = now
			due = append(due, models.JobDownloadStatusPoll)
		}
	}
	return due
}

func (s *Scheduler) submit(ctx context.Context, jobType models.JobType) bool {
	job, err := s.jobs.Submit(ctx, jobType, "")
	var dup *shared.DuplicateError
	switch {
	case errors.As(err, &dup):
		s.logger.Debug("scheduled job already queued", "type", jobType, "job", dup.ExistingID)
		return true
	case err != nil:
		s.logger.Error("failed to submit scheduled job", "type", jobType, "error", err)
		return false
	default:
		s.logger.Info("scheduled job submitted", "type", jobType, "job", job.ID)
		return true
	}
}
