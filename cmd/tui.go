package main

import (
	"context"
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/ui"
	"github.com/urfave/cli/v3"
)

// jobSource adapts the job repository to [ui.JobSource].
type jobSource struct {
	jobs   *repositories.JobRepository
	cancel func(ctx context.Context, id string) (*models.Job, error)
}

func (s jobSource) List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	return s.jobs.List(ctx, filter)
}

func (s jobSource) Cancel(ctx context.Context, id string) error {
	_, err := s.cancel(ctx, id)
	return err
}

// JobsWatch launches the interactive job monitor.
func (r *Runner) JobsWatch(ctx context.Context, cmd *cli.Command) error {
	filter, err := jobFilter(cmd.String("status"), "")
	if err != nil {
		return err
	}

	s, err := r.store()
	if err != nil {
		return err
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	logPath := filepath.Join(filepath.Dir(r.config.Database.Path), "tmp", "crate-tui.log")
	fileLogger, err := shared.NewFileLogger(logPath)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	model := ui.NewModel(ctx, jobSource{jobs: s.jobs, cancel: r.cancelJob}, filter)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
