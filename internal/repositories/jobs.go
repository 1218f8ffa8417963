package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const jobColumns = "id, sequence, job_type, status, entity_id, processed, total, attempts, error_message, summary, created_at, started_at, completed_at"

// DefaultPageSize is used by [JobRepository.All] when the filter has no limit.
const DefaultPageSize = 50

// JobRepository is the durable Job Store & Queue.
//
// Admission control is enforced twice: by a lookup inside the submit transaction and by
// the idx_jobs_active partial unique index, so concurrent submitters cannot both succeed.
type JobRepository struct {
	db  *sql.DB
	now models.Clock
}

// NewJobRepository creates a new JobRepository with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (r *JobRepository) WithClock(now models.Clock) *JobRepository {
	r.now = now
	return r
}

// Submit records a pending job or returns a [*shared.DuplicateError] if an equivalent job is not yet terminal.
func (r *JobRepository) Submit(ctx context.Context, jobType models.JobType, entityID string) (*models.Job, error) {
	job := &models.Job{
		ID:        shared.GenerateID(),
		Type:      jobType,
		Status:    models.JobPending,
		EntityID:  entityID,
		CreatedAt: r.now().UTC(),
	}
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		existing, err := r.activeID(ctx, tx, job.Type, job.EntityID)
		if err != nil {
			return err
		}
		if existing != "" {
			return &shared.DuplicateError{JobType: string(job.Type), ExistingID: existing}
		}

		if job.Sequence, err = nextSequence(ctx, tx, "jobs"); err != nil {
			return fmt.Errorf("failed to generate sequence: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO jobs (id, sequence, job_type, status, entity_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, job.ID, job.Sequence, job.Type, job.Status, nullString(job.EntityID), job.CreatedAt)
		if isUniqueViolation(err) {
			return &shared.DuplicateError{JobType: string(job.Type)}
		}
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepository) activeID(ctx context.Context, q querier, jobType models.JobType, entityID string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE job_type = ? AND COALESCE(entity_id, '') = ? AND status IN ('pending', 'running')
		LIMIT 1
	`, jobType, entityID).Scan(&id)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to check for duplicate job: %w", err)
	}
	return id, nil
}

// ClaimNext moves the oldest pending job to running and returns it, or nil when the queue is empty.
//
// The select and the conditional update share one immediate transaction, so two callers
// can never claim the same job.
func (r *JobRepository) ClaimNext(ctx context.Context) (*models.Job, error) {
	var claimed *models.Job
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE status = 'pending'
			ORDER BY sequence ASC
			LIMIT 1
		`)
		job, err := scanJob(row)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}

		now := r.now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'running', started_at = ?, attempts = attempts + 1
			WHERE id = ? AND status = 'pending'
		`, now, job.ID)
		if err != nil {
			return fmt.Errorf("failed to claim job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		job.Status = models.JobRunning
		job.StartedAt = &now
		job.Attempts++
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateProgress records processed/total for a running job.
//
// A processed count lower than the stored one is rejected with [shared.ErrStaleProgress].
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, processed, total int) error {
	if processed < 0 || total < 0 {
		return fmt.Errorf("%w: negative progress", shared.ErrInvalidInput)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET processed = ?, total = ?
		WHERE id = ? AND status = 'running' AND processed <= ?
	`, processed, total, id, processed)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.JobRunning {
		return fmt.Errorf("%w: job %s is %s", shared.ErrInvalidTransition, id, job.Status)
	}
	return fmt.Errorf("%w: job %s at %d, got %d", shared.ErrStaleProgress, id, job.Processed, processed)
}

// Complete moves a job into a terminal state.
//
// Running jobs may complete or fail; pending jobs may only fail (cancellation).
func (r *JobRepository) Complete(ctx context.Context, id string, outcome models.JobOutcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", shared.ErrInvalidTransition, outcome.Status)
	}

	allowedFrom := []string{string(models.JobRunning)}
	if outcome.Status == models.JobFailed {
		allowedFrom = append(allowedFrom, string(models.JobPending))
	}

	query, args, err := sq.Update("jobs").
		Set("status", outcome.Status).
		Set("error_message", nullString(shared.Truncate(outcome.Error, shared.MaxErrorLength))).
		Set("summary", nullString(outcome.Summary)).
		Set("completed_at", r.now().UTC()).
		Where(sq.Eq{"id": id, "status": allowedFrom}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s, cannot become %s", shared.ErrInvalidTransition, id, job.Status, outcome.Status)
}

// RecordAttempt counts a retry of a running job and keeps the error that caused it.
func (r *JobRepository) RecordAttempt(ctx context.Context, id string, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET attempts = attempts + 1, error_message = ?
		WHERE id = ? AND status = 'running'
	`, nullString(shared.Truncate(lastErr, shared.MaxErrorLength)), id)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// RecoverInterrupted fails jobs left running by a previous process.
func (r *JobRepository) RecoverInterrupted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', error_message = 'interrupted: process stopped while running', completed_at = ?
		WHERE status = 'running'
	`, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to recover jobs: %w", err)
	}
	return res.RowsAffected()
}

// Get retrieves a job by ID.
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: job %s", shared.ErrNotFound, id)
	}
	return job, err
}

// List returns one page of jobs matching filter, newest first.
func (r *JobRepository) List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	builder := sq.Select(jobColumns).From("jobs").OrderBy("sequence DESC")

	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}
	if filter.Type != "" {
		builder = builder.Where(sq.Eq{"job_type": filter.Type})
	}
	if filter.EntityID != "" {
		builder = builder.Where(sq.Eq{"entity_id": filter.EntityID})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			builder = builder.Limit(uint64(1<<62 - 1))
		}
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}

// All lazily pages through every job matching filter, fetching filter.Limit rows per query.
func (r *JobRepository) All(ctx context.Context, filter models.JobFilter) iter.Seq2[*models.Job, error] {
	return func(yield func(*models.Job, error) bool) {
		page := filter
		if page.Limit <= 0 {
			page.Limit = DefaultPageSize
		}
		for {
			jobs, err := r.List(ctx, page)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, job := range jobs {
				if !yield(job, nil) {
					return
				}
			}
			if len(jobs) < page.Limit {
				return
			}
			page.Offset += page.Limit
		}
	}
}

// CountByStatus returns the number of jobs in each status.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanJob(s scanner) (*models.Job, error) {
	var (
		job         models.Job
		jobType     string
		status      string
		entityID    sql.NullString
		errMsg      sql.NullString
		summary     sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := s.Scan(&job.ID, &job.Sequence, &jobType, &status, &entityID, &job.Processed, &job.Total,
		&job.Attempts, &errMsg, &summary, &job.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Type = models.JobType(jobType)
	job.Status = models.JobStatus(status)
	job.EntityID = entityID.String
	job.Error = errMsg.String
	job.Summary = summary.String
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	return &job, nil
}
