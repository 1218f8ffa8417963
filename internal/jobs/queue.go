package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/metrics"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
)

// ErrCancelled is the cause attached to a job context cancelled by [Queue.Cancel].
var ErrCancelled = errors.New("cancelled")

// Queue is the admission side of the job engine: it records submissions, wakes idle workers
// and cancels jobs. Every component submitting jobs in a process must share one Queue.
type Queue struct {
	repo    *repositories.JobRepository
	logger  *log.Logger
	metrics *metrics.Metrics
	wake    chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
}

// NewQueue returns a queue over repo.
func NewQueue(repo *repositories.JobRepository, logger *log.Logger, m *metrics.Metrics) *Queue {
	return &Queue{
		repo:    repo,
		logger:  shared.WithLogger(logger, "component", "queue"),
		metrics: m,
		wake:    make(chan struct{}, 1),
		running: make(map[string]context.CancelCauseFunc),
	}
}

// Repository exposes the underlying store for reads.
func (q *Queue) Repository() *repositories.JobRepository { return q.repo }

// Submit records a pending job and wakes a worker.
//
// An equivalent non-terminal job yields a [*shared.DuplicateError] naming it.
func (q *Queue) Submit(ctx context.Context, jobType models.JobType, entityID string) (*models.Job, error) {
	job, err := q.repo.Submit(ctx, jobType, entityID)
	var dup *shared.DuplicateError
	switch {
	case errors.As(err, &dup):
		q.metrics.JobRejected(string(jobType))
		return nil, err
	case err != nil:
		return nil, err
	}

	q.metrics.JobSubmitted(string(jobType))
	q.logger.Debug("job submitted", "id", job.ID, "type", jobType, "entity", entityID)
	q.notify()
	return job, nil
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Cancel stops a job. A pending job fails immediately; a running job has its context
// cancelled and is failed by its worker before the next external call.
func (q *Queue) Cancel(ctx context.Context, id string) (*models.Job, error) {
	job, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, fmt.Errorf("%w: job %s is already %s", shared.ErrInvalidTransition, id, job.Status)
	}

	if job.Status == models.JobPending {
		err := q.repo.Complete(ctx, id, models.JobOutcome{Status: models.JobFailed, Error: ErrCancelled.Error()})
		if err == nil {
			q.logger.Info("cancelled pending job", "id", id, "type", job.Type)
			return q.repo.Get(ctx, id)
		}
		if !errors.Is(err, shared.ErrInvalidTransition) {
			return nil, err
		}
		// Claimed between the read and the update.
	}

	cancel, ok := q.awaitTracked(ctx, id)
	if !ok {
		return job, fmt.Errorf("%w: job %s is not running in this process", shared.ErrInvalidTransition, id)
	}

	cancel(ErrCancelled)
	q.logger.Info("cancelling running job", "id", id, "type", job.Type)
	return q.repo.Get(ctx, id)
}

// trackGrace bounds how long Cancel waits for a just-claimed job to reach its worker.
const trackGrace = 250 * time.Millisecond

// awaitTracked looks up a running job's cancel func. A worker registers the job only after
// claiming it, so the lookup is retried for trackGrace before giving up.
func (q *Queue) awaitTracked(ctx context.Context, id string) (context.CancelCauseFunc, bool) {
	deadline := time.Now().Add(trackGrace)
	for {
		q.mu.Lock()
		cancel, ok := q.running[id]
		q.mu.Unlock()
		if ok || time.Now().After(deadline) {
			return cancel, ok
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *Queue) track(id string, cancel context.CancelCauseFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running[id] = cancel
}

func (q *Queue) untrack(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, id)
}

// Running returns the ids of jobs executing in this process.
func (q *Queue) Running() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.running))
	for id := range q.running {
		ids = append(ids, id)
	}
	return ids
}
