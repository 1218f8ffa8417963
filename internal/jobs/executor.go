package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/metrics"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	"golang.org/x/sync/errgroup"
)

// UpdateBuffer is the capacity of the progress broadcast channel; updates beyond it are dropped.
const UpdateBuffer = 64

// Task runs one job. [*tasks.Runner] is the production implementation.
type Task interface {
	Run(ctx context.Context, job *models.Job, progress tasks.ProgressFunc) (string, error)
}

// Config sizes the worker pool and its retry policy.
type Config struct {
	Workers      int
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PollInterval time.Duration
}

// ConfigFrom converts the [executor] config section.
func ConfigFrom(c shared.ExecutorConfig) Config {
	return Config{
		Workers:      c.Workers,
		MaxRetries:   c.MaxRetries,
		BaseDelay:    c.BaseDelay.Duration,
		MaxDelay:     c.MaxDelay.Duration,
		PollInterval: c.PollInterval.Duration,
	}
}

// DefaultConfig is four workers retrying transient failures three times.
func DefaultConfig() Config {
	return Config{Workers: 4, MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: time.Minute, PollInterval: time.Second}
}

// Backoff returns the delay before retry number attempt (1-based): base doubled per
// attempt and capped at ceiling.
func Backoff(base, ceiling time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}

// Executor is a fixed pool of workers claiming jobs from a [Queue].
type Executor struct {
	queue   *Queue
	repo    *repositories.JobRepository
	task    Task
	cfg     Config
	logger  *log.Logger
	metrics *metrics.Metrics
	updates chan tasks.ProgressUpdate
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewExecutor returns an executor running task for jobs claimed from queue.
func NewExecutor(queue *Queue, task Task, cfg Config, logger *log.Logger, m *metrics.Metrics) *Executor {
	def := DefaultConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.MaxDelay = max(cfg.MaxDelay, cfg.BaseDelay)

	return &Executor{
		queue:   queue,
		repo:    queue.Repository(),
		task:    task,
		cfg:     cfg,
		logger:  shared.WithLogger(logger, "component", "executor"),
		metrics: m,
		updates: make(chan tasks.ProgressUpdate, UpdateBuffer),
		sleep:   sleepCtx,
	}
}

// WithSleep replaces the backoff wait; used by tests.
func (e *Executor) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Executor {
	e.sleep = sleep
	return e
}

// Updates streams progress from every job. Slow readers miss updates; they never stall a worker.
func (e *Executor) Updates() <-chan tasks.ProgressUpdate { return e.updates }

// Run fails jobs interrupted by a previous process, then runs the workers until ctx is done.
func (e *Executor) Run(ctx context.Context) error {
	if n, err := e.repo.RecoverInterrupted(ctx); err != nil {
		return err
	} else if n > 0 {
		e.logger.Warn("failed jobs interrupted by a previous run", "count", n)
	}

	e.logger.Info("executor started", "workers", e.cfg.Workers, "max_retries", e.cfg.MaxRetries)
	g, gctx := errgroup.WithContext(ctx)
	for i := range e.cfg.Workers {
		g.Go(func() error {
			e.work(gctx, i)
			return nil
		})
	}
	err := g.Wait()
	e.logger.Info("executor stopped")
	return err
}

func (e *Executor) work(ctx context.Context, worker int) {
	logger := e.logger.With("worker", worker)
	for {
		job, err := e.repo.ClaimNext(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			logger.Error("failed to claim job", "error", err)
		case job != nil:
			e.Execute(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-e.queue.wake:
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// Execute runs a claimed job to a terminal state, retrying transient failures.
func (e *Executor) Execute(ctx context.Context, job *models.Job) {
	jobCtx, cancel := context.WithCancelCause(ctx)
	e.queue.track(job.ID, cancel)
	defer func() {
		e.queue.untrack(job.ID)
		cancel(nil)
	}()

	e.metrics.WorkerBusy(1)
	defer e.metrics.WorkerBusy(-1)

	logger := e.logger.With("job", job.ID, "type", job.Type)
	logger.Info("job started", "entity", job.EntityID, "attempt", job.Attempts)
	start := time.Now()

	summary, err := e.runWithRetry(jobCtx, job, logger)
	outcome := e.outcome(jobCtx, summary, err)

	if err := e.repo.Complete(context.WithoutCancel(ctx), job.ID, outcome); err != nil {
		logger.Error("failed to record outcome", "status", outcome.Status, "error", err)
	}
	e.metrics.JobFinished(string(job.Type), string(outcome.Status), time.Since(start))

	switch {
	case outcome.Status == models.JobCompleted && outcome.Error != "":
		logger.Warn("job completed with failures", "error", outcome.Error, "duration", time.Since(start))
	case outcome.Status == models.JobCompleted:
		logger.Info("job completed", "duration", time.Since(start))
	default:
		logger.Error("job failed", "error", outcome.Error, "duration", time.Since(start))
	}
}

// runWithRetry is a bounded loop: transient failures are retried with [Backoff], and
// cancellation is checked before every attempt.
func (e *Executor) runWithRetry(ctx context.Context, job *models.Job, logger *log.Logger) (string, error) {
	progress := e.reporter(ctx, job, logger)
	for retry := 0; ; retry++ {
		summary, err := e.task.Run(ctx, job, progress)
		if err == nil || !shared.IsTransient(err) || retry >= e.cfg.MaxRetries {
			return summary, err
		}
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		delay := Backoff(e.cfg.BaseDelay, e.cfg.MaxDelay, retry+1)
		logger.Warn("transient failure, retrying", "retry", retry+1, "of", e.cfg.MaxRetries, "delay", delay, "error", err)
		e.metrics.JobRetried(string(job.Type))
		if err := e.repo.RecordAttempt(ctx, job.ID, err.Error()); err != nil {
			logger.Warn("failed to record attempt", "error", err)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return summary, err
		}
	}
}

// outcome maps a task result to the terminal job state. A partial batch completes with its
// failure count as the error text.
func (e *Executor) outcome(ctx context.Context, summary string, err error) models.JobOutcome {
	switch {
	case err == nil:
		return models.JobOutcome{Status: models.JobCompleted, Summary: summary}
	case errors.Is(context.Cause(ctx), ErrCancelled):
		return models.JobOutcome{Status: models.JobFailed, Error: ErrCancelled.Error(), Summary: summary}
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		return models.JobOutcome{Status: models.JobFailed, Error: "interrupted: executor stopped", Summary: summary}
	case shared.Classify(err) == shared.KindPartial:
		return models.JobOutcome{Status: models.JobCompleted, Error: err.Error(), Summary: summary}
	default:
		return models.JobOutcome{Status: models.JobFailed, Error: err.Error(), Summary: summary}
	}
}

// reporter persists progress counts and broadcasts every update without blocking.
//
// A retried batch restarts its count; its lower updates are rejected as stale until it
// passes the stored count again.
func (e *Executor) reporter(ctx context.Context, job *models.Job, logger *log.Logger) tasks.ProgressFunc {
	store := context.WithoutCancel(ctx)
	return func(u tasks.ProgressUpdate) {
		u.JobID, u.Type = job.ID, job.Type

		if u.Step > 0 || u.Total > 0 {
			err := e.repo.UpdateProgress(store, job.ID, u.Step, u.Total)
			switch {
			case errors.Is(err, shared.ErrStaleProgress):
				logger.Debug("ignoring stale progress", "step", u.Step, "total", u.Total)
			case err != nil:
				logger.Warn("failed to record progress", "error", err)
			}
		}

		select {
		case e.updates <- u:
		default:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
