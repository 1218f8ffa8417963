package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/urfave/cli/v3"
)

// JobsSubmit queues a job. A duplicate of an active job is reported with the existing ID.
func (r *Runner) JobsSubmit(ctx context.Context, cmd *cli.Command) error {
	raw := cmd.StringArg("type")
	if raw == "" {
		return fmt.Errorf("%w: job type", shared.ErrMissingArgument)
	}
	jobType, err := models.ParseJobType(raw)
	if err != nil {
		return err
	}

	q, err := r.queue()
	if err != nil {
		return err
	}

	job, err := q.Submit(ctx, jobType, cmd.String("album"))
	var dup *shared.DuplicateError
	if errors.As(err, &dup) {
		return r.writePlain("• %s is already queued as %s\n", jobType, dup.ExistingID)
	} else if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(job, true)
	}
	return r.writePlain("✓ Queued %s %s\n", job.Type, job.ID)
}

// JobsList lists recent jobs.
func (r *Runner) JobsList(ctx context.Context, cmd *cli.Command) error {
	filter, err := jobFilter(cmd.String("status"), cmd.String("type"))
	if err != nil {
		return err
	}
	filter.Limit = cmd.Int("limit")

	s, err := r.store()
	if err != nil {
		return err
	}
	jobs, err := s.jobs.List(ctx, filter)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if jobs == nil {
			jobs = []*models.Job{}
		}
		return r.writeJSON(jobs, true)
	}
	if len(jobs) == 0 {
		return r.writePlain("No jobs found\n")
	}
	return r.writePlain("%s\n", formatter.JobsTable(jobs, time.Now()))
}

// JobsShow prints one job.
func (r *Runner) JobsShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}

	s, err := r.store()
	if err != nil {
		return err
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(job, true)
	}
	return r.writePlain("%s", formatter.JobDetail(job, time.Now()))
}

// JobsCancel cancels a job.
func (r *Runner) JobsCancel(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}

	job, err := r.cancelJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == models.JobRunning {
		return r.writePlain("✓ Cancellation requested for %s, it stops before its next external call\n", job.ID)
	}
	return r.writePlain("✓ Cancelled %s\n", job.ID)
}

// cancelJob cancels a pending job directly in the database. Running jobs belong to the
// daemon's executor, so their cancellation is forwarded to its API.
func (r *Runner) cancelJob(ctx context.Context, id string) (*models.Job, error) {
	q, err := r.queue()
	if err != nil {
		return nil, err
	}

	job, err := q.Cancel(ctx, id)
	if err == nil {
		return job, nil
	}
	if job == nil || job.Status != models.JobRunning {
		return nil, err
	}

	r.logger.Debug("job runs in the daemon, forwarding cancel", "id", id, "addr", r.config.Server.Addr())
	return r.daemonCancel(ctx, id)
}

func (r *Runner) daemonCancel(ctx context.Context, id string) (*models.Job, error) {
	endpoint := fmt.Sprintf("http://%s/api/jobs/%s/cancel", r.config.Server.Addr(), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: job %s is running and the daemon is unreachable: %v", shared.ErrServiceUnavailable, id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read daemon response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		if resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", shared.ErrInvalidTransition, e.Error)
		}
		return nil, shared.NewServiceError("crate", resp.StatusCode, errors.New(e.Error))
	}

	var job models.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to decode daemon response: %w", err)
	}
	return &job, nil
}

func jobFilter(status, jobType string) (models.JobFilter, error) {
	var filter models.JobFilter
	if status != "" {
		s := models.JobStatus(status)
		if !s.Valid() {
			return filter, fmt.Errorf("%w: unknown job status %q", shared.ErrInvalidArgument, status)
		}
		filter.Status = s
	}
	if jobType != "" {
		t, err := models.ParseJobType(jobType)
		if err != nil {
			return filter, err
		}
		filter.Type = t
	}
	return filter, nil
}
