package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	tu "github.com/desertthunder/crate/internal/testing"
)

type taskFunc func(ctx context.Context, job *models.Job, progress tasks.ProgressFunc) (string, error)

func (f taskFunc) Run(ctx context.Context, job *models.Job, progress tasks.ProgressFunc) (string, error) {
	return f(ctx, job, progress)
}

func transient() error {
	return shared.NewServiceError("musicbrainz", http.StatusServiceUnavailable, nil)
}

type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newQueue(t *testing.T) *Queue {
	t.Helper()
	return NewQueue(repositories.NewJobRepository(tu.NewTestDB(t)), nil, nil)
}

func testConfig() Config {
	return Config{Workers: 2, MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 5 * time.Second, PollInterval: 10 * time.Millisecond}
}

// claim submits and claims a job so it can be passed to Execute.
func claim(t *testing.T, q *Queue, jobType models.JobType, entity string) *models.Job {
	t.Helper()
	ctx := context.Background()
	if _, err := q.Submit(ctx, jobType, entity); err != nil {
		t.Fatalf("failed to submit: %v", err)
	}
	job, err := q.Repository().ClaimNext(ctx)
	if err != nil || job == nil {
		t.Fatalf("failed to claim: %v", err)
	}
	return job
}

func reload(t *testing.T, q *Queue, id string) *models.Job {
	t.Helper()
	job, err := q.Repository().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	return job
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute},
		{40, time.Minute},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			if got := Backoff(2*time.Second, time.Minute, tt.attempt); got != tt.want {
				t.Errorf("Backoff() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("success records summary", func(t *testing.T) {
		q := newQueue(t)
		e := NewExecutor(q, taskFunc(func(context.Context, *models.Job, tasks.ProgressFunc) (string, error) {
			return `{"processed":1}`, nil
		}), testConfig(), nil, nil)

		job := claim(t, q, models.JobLibrarySync, "")
		e.Execute(ctx, job)

		got := reload(t, q, job.ID)
		if got.Status != models.JobCompleted || got.Summary != `{"processed":1}` || got.Error != "" || got.CompletedAt == nil {
			t.Errorf("unexpected job %+v", got)
		}
	})

	t.Run("transient failures are retried with backoff", func(t *testing.T) {
		q := newQueue(t)
		calls := 0
		sleeps := &recordedSleep{}
		e := NewExecutor(q, taskFunc(func(context.Context, *models.Job, tasks.ProgressFunc) (string, error) {
			calls++
			if calls < 3 {
				return "", transient()
			}
			return "ok", nil
		}), testConfig(), nil, nil).WithSleep(sleeps.sleep)

		job := claim(t, q, models.JobLibrarySync, "")
		e.Execute(ctx, job)

		got := reload(t, q, job.ID)
		if got.Status != models.JobCompleted || got.Attempts != 3 {
			t.Errorf("expected completion on attempt 3, got %s after %d", got.Status, got.Attempts)
		}
		if !slices.Equal(sleeps.delays, []time.Duration{time.Second, 2 * time.Second}) {
			t.Errorf("unexpected delays %v", sleeps.delays)
		}
	})

	t.Run("exhausted retries keep the last error", func(t *testing.T) {
		q := newQueue(t)
		calls := 0
		e := NewExecutor(q, taskFunc(func(context.Context, *models.Job, tasks.ProgressFunc) (string, error) {
			calls++
			return "", fmt.Errorf("call %d: %w", calls, transient())
		}), testConfig(), nil, nil).WithSleep((&recordedSleep{}).sleep)

		job := claim(t, q, models.JobMetadataMatchAll, "")
		e.Execute(ctx, job)

		got := reload(t, q, job.ID)
		if calls != 4 {
			t.Errorf("expected 1 attempt plus 3 retries, got %d calls", calls)
		}
		if got.Status != models.JobFailed || got.Attempts != 4 || !strings.HasPrefix(got.Error, "call 4:") {
			t.Errorf("unexpected job %s attempts=%d error=%q", got.Status, got.Attempts, got.Error)
		}
	})

	t.Run("permanent failure is not retried", func(t *testing.T) {
		q := newQueue(t)
		calls := 0
		e := NewExecutor(q, taskFunc(func(context.Context, *models.Job, tasks.ProgressFunc) (string, error) {
			calls++
			return "", shared.NewServiceError("spotify", http.StatusUnauthorized, shared.ErrNotAuthenticated)
		}), testConfig(), nil, nil)

		job := claim(t, q, models.JobLibrarySync, "")
		e.Execute(ctx, job)

		if got := reload(t, q, job.ID); got.Status != models.JobFailed || calls != 1 {
			t.Errorf("expected immediate failure, got %s after %d calls", got.Status, calls)
		}
	})

	t.Run("long errors are truncated", func(t *testing.T) {
		q := newQueue(t)
		e := NewExecutor(q, taskFunc(func(context.Context, *models.Job, tasks.ProgressFunc) (string, error) {
			return "", errors.New(strings.Repeat("x", 10*shared.MaxErrorLength))
		}), testConfig(), nil, nil)

		job := claim(t, q, models.JobLibrarySync, "")
		e.Execute(ctx, job)

		if got := reload(t, q, job.ID); len(got.Error) > shared.MaxErrorLength {
			t.Errorf("error not truncated: %d bytes", len(got.Error))
		}
	})

	t.Run("partial batch completes with failures", func(t *testing.T) {
		q := newQueue(t)
		e := NewExecutor(q, taskFunc(func(context.Context, *models.Job, tasks.ProgressFunc) (string, error) {
			return `{"processed":20,"failed":5}`, &shared.PartialError{Failed: 5, Total: 20}
		}), testConfig(), nil, nil)

		job := claim(t, q, models.JobMetadataMatchAll, "")
		e.Execute(ctx, job)

		got := reload(t, q, job.ID)
		if got.Status != models.JobCompleted || got.Error != "5 of 20 items failed" || got.Summary == "" {
			t.Errorf("unexpected job %+v", got)
		}
	})

	t.Run("progress is stored and broadcast", func(t *testing.T) {
		q := newQueue(t)
		e := NewExecutor(q, taskFunc(func(_ context.Context, _ *models.Job, progress tasks.ProgressFunc) (string, error) {
			progress(tasks.ProgressUpdate{Phase: tasks.MatchAlbums, Step: 3, Total: 10})
			progress(tasks.ProgressUpdate{Phase: tasks.MatchAlbums, Step: 2, Total: 10})
			return "", nil
		}), testConfig(), nil, nil)

		job := claim(t, q, models.JobMetadataMatchAll, "")
		e.Execute(ctx, job)

		if got := reload(t, q, job.ID); got.Processed != 3 || got.Total != 10 {
			t.Errorf("expected stale update ignored, got %d/%d", got.Processed, got.Total)
		}

		first := <-e.Updates()
		if first.JobID != job.ID || first.Type != models.JobMetadataMatchAll || first.Step != 3 {
			t.Errorf("unexpected update %+v", first)
		}
	})

	t.Run("full update buffer does not block", func(t *testing.T) {
		q := newQueue(t)
		e := NewExecutor(q, taskFunc(func(_ context.Context, _ *models.Job, progress tasks.ProgressFunc) (string, error) {
			for i := 1; i <= UpdateBuffer*2; i++ {
				progress(tasks.ProgressUpdate{Step: i, Total: UpdateBuffer * 2})
			}
			return "", nil
		}), testConfig(), nil, nil)

		job := claim(t, q, models.JobMetadataMatchAll, "")
		e.Execute(ctx, job)

		if got := reload(t, q, job.ID); got.Processed != UpdateBuffer*2 {
			t.Errorf("expected every update stored, got %d", got.Processed)
		}
		if n := len(e.Updates()); n != UpdateBuffer {
			t.Errorf("expected a full buffer, got %d", n)
		}
	})

	t.Run("cancel running job", func(t *testing.T) {
		q := newQueue(t)
		started := make(chan struct{})
		e := NewExecutor(q, taskFunc(func(ctx context.Context, _ *models.Job, progress tasks.ProgressFunc) (string, error) {
			progress(tasks.ProgressUpdate{Step: 4, Total: 10})
			close(started)
			<-ctx.Done()
			return `{"processed":4}`, ctx.Err()
		}), testConfig(), nil, nil)

		job := claim(t, q, models.JobMetadataMatchAll, "")
		done := make(chan struct{})
		go func() {
			e.Execute(ctx, job)
			close(done)
		}()
		<-started

		if _, err := q.Cancel(ctx, job.ID); err != nil {
			t.Fatalf("unexpected cancel error: %v", err)
		}
		<-done

		got := reload(t, q, job.ID)
		if got.Status != models.JobFailed || got.Error != "cancelled" || got.Processed != 4 {
			t.Errorf("unexpected job %s error=%q processed=%d", got.Status, got.Error, got.Processed)
		}
		if len(q.Running()) != 0 {
			t.Errorf("expected no running jobs, got %v", q.Running())
		}
	})

	t.Run("cancellation stops retries", func(t *testing.T) {
		q := newQueue(t)
		calls := 0
		cctx, cancel := context.WithCancel(ctx)
		e := NewExecutor(q, taskFunc(func(context.Context, *models.Job, tasks.ProgressFunc) (string, error) {
			calls++
			cancel()
			return "", transient()
		}), testConfig(), nil, nil)

		job := claim(t, q, models.JobLibrarySync, "")
		e.Execute(cctx, job)

		if calls != 1 {
			t.Errorf("expected no retry after cancellation, got %d calls", calls)
		}
		if got := reload(t, q, job.ID); got.Status != models.JobFailed {
			t.Errorf("expected failed job, got %s", got.Status)
		}
	})
}

func TestQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate batch job is rejected", func(t *testing.T) {
		q := newQueue(t)
		first, err := q.Submit(ctx, models.JobLibrarySync, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		_, err = q.Submit(ctx, models.JobLibrarySync, "")
		var dup *shared.DuplicateError
		if !errors.As(err, &dup) || dup.ExistingID != first.ID {
			t.Errorf("expected duplicate of %s, got %v", first.ID, err)
		}
		if shared.Classify(err) != shared.KindConflict {
			t.Errorf("expected conflict kind, got %s", shared.Classify(err))
		}
	})

	t.Run("submit wakes a worker", func(t *testing.T) {
		q := newQueue(t)
		if _, err := q.Submit(ctx, models.JobFilesystemScan, ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		select {
		case <-q.wake:
		default:
			t.Error("expected a wake signal")
		}
	})

	t.Run("cancel pending job", func(t *testing.T) {
		q := newQueue(t)
		job, _ := q.Submit(ctx, models.JobLibrarySync, "")

		got, err := q.Cancel(ctx, job.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != models.JobFailed || got.Error != "cancelled" {
			t.Errorf("unexpected job %+v", got)
		}
		if _, err := q.Submit(ctx, models.JobLibrarySync, ""); err != nil {
			t.Errorf("expected a new job to be accepted after cancel, got %v", err)
		}
	})

	t.Run("cancel finished job", func(t *testing.T) {
		q := newQueue(t)
		job, _ := q.Submit(ctx, models.JobLibrarySync, "")
		q.Cancel(ctx, job.ID)

		if _, err := q.Cancel(ctx, job.ID); !errors.Is(err, shared.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("cancel job running elsewhere", func(t *testing.T) {
		q := newQueue(t)
		job := claim(t, q, models.JobLibrarySync, "")
		if _, err := q.Cancel(ctx, job.ID); !errors.Is(err, shared.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("cancel job claimed but not yet tracked", func(t *testing.T) {
		q := newQueue(t)
		job := claim(t, q, models.JobLibrarySync, "")

		jobCtx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		go func() {
			time.Sleep(30 * time.Millisecond)
			q.track(job.ID, cancel)
		}()

		if _, err := q.Cancel(ctx, job.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !errors.Is(context.Cause(jobCtx), ErrCancelled) {
			t.Errorf("expected job context cancelled with ErrCancelled, got %v", context.Cause(jobCtx))
		}
	})

	t.Run("cancel unknown job", func(t *testing.T) {
		q := newQueue(t)
		if _, err := q.Cancel(ctx, "missing"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestExecutorRun(t *testing.T) {
	t.Run("bounded concurrency", func(t *testing.T) {
		q := newQueue(t)
		var active, peak, finished atomic.Int32
		cfg := testConfig()
		cfg.Workers = 3

		e := NewExecutor(q, taskFunc(func(context.Context, *models.Job, tasks.ProgressFunc) (string, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			finished.Add(1)
			return "", nil
		}), cfg, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- e.Run(ctx) }()

		for i := range 10 {
			if _, err := q.Submit(context.Background(), models.JobCoverArtFetch, fmt.Sprintf("album-%d", i)); err != nil {
				t.Fatalf("failed to submit: %v", err)
			}
		}
		waitFor(t, func() bool { return finished.Load() == 10 })
		cancel()
		if err := <-done; err != nil {
			t.Errorf("unexpected run error: %v", err)
		}

		if p := peak.Load(); p > 3 || p < 2 {
			t.Errorf("expected peak concurrency within the pool, got %d", p)
		}
		counts, _ := q.Repository().CountByStatus(context.Background())
		if counts[models.JobCompleted] != 10 {
			t.Errorf("expected 10 completed jobs, got %v", counts)
		}
	})
}

func TestRecoverOnRun(t *testing.T) {
	q := newQueue(t)
	job := claim(t, q, models.JobLibrarySync, "")

	ctx, cancel := context.WithCancel(context.Background())
	e := NewExecutor(q, taskFunc(func(context.Context, *models.Job, tasks.ProgressFunc) (string, error) {
		return "", nil
	}), testConfig(), nil, nil)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	waitFor(t, func() bool { return reload(t, q, job.ID).Status.Terminal() })
	cancel()
	<-done

	got := reload(t, q, job.ID)
	if got.Status != models.JobFailed || !strings.HasPrefix(got.Error, "interrupted") {
		t.Errorf("expected interrupted job to fail, got %s %q", got.Status, got.Error)
	}
}
