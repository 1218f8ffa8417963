package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	tu "github.com/desertthunder/crate/internal/testing"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	types []models.JobType
	err   error
}

func (r *recordingSubmitter) Submit(ctx context.Context, jobType models.JobType, entityID string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, jobType)
	if r.err != nil {
		return nil, r.err
	}
	return &models.Job{ID: "job-1", Type: jobType, Status: models.JobPending}, nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.types)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestDebounce(t *testing.T) {
	t.Run("coalesces a burst", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		in := make(chan struct{})
		out := Debounce(ctx, in, 50*time.Millisecond)

		for range 5 {
			in <- struct{}{}
			time.Sleep(5 * time.Millisecond)
		}

		select {
		case <-out:
		case <-time.After(time.Second):
			t.Fatal("expected one trigger")
		}
		select {
		case <-out:
			t.Error("expected a single trigger for the burst")
		case <-time.After(150 * time.Millisecond):
		}
	})

	t.Run("waits for quiet", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		in := make(chan struct{})
		out := Debounce(ctx, in, 100*time.Millisecond)

		start := time.Now()
		in <- struct{}{}
		time.Sleep(60 * time.Millisecond)
		in <- struct{}{}

		<-out
		if elapsed := time.Since(start); elapsed < 160*time.Millisecond {
			t.Errorf("trigger fired before the window after the last change: %v", elapsed)
		}
	})

	t.Run("flushes pending burst on close", func(t *testing.T) {
		in := make(chan struct{})
		out := Debounce(context.Background(), in, time.Hour)
		in <- struct{}{}
		close(in)

		if _, ok := <-out; !ok {
			t.Error("expected pending trigger before close")
		}
		if _, ok := <-out; ok {
			t.Error("expected closed channel")
		}
	})

	t.Run("closes on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		out := Debounce(ctx, make(chan struct{}), time.Hour)
		cancel()

		select {
		case _, ok := <-out:
			if ok {
				t.Error("expected no trigger")
			}
		case <-time.After(time.Second):
			t.Fatal("expected channel to close")
		}
	})
}

func TestWatcher(t *testing.T) {
	t.Run("requires a root", func(t *testing.T) {
		w := NewWatcher("", 0, &recordingSubmitter{}, nil, nil)
		if err := w.Run(context.Background()); !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})

	t.Run("submits one scan per burst", func(t *testing.T) {
		root := t.TempDir()
		jobs := &recordingSubmitter{}
		w := NewWatcher(root, 100*time.Millisecond, jobs, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()
		time.Sleep(100 * time.Millisecond)

		dir := filepath.Join(root, "Portishead", "Dummy")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		for _, name := range []string{"01.flac", "02.flac", "03.flac"} {
			tu.MustWriteFile(t, filepath.Join(dir, name), "x")
		}

		if !waitFor(t, 3*time.Second, func() bool { return jobs.count() >= 1 }) {
			t.Fatal("expected a scan to be submitted")
		}
		time.Sleep(300 * time.Millisecond)
		if n := jobs.count(); n != 1 {
			t.Errorf("expected 1 submission, got %d", n)
		}
		if jobs.types[0] != models.JobFilesystemScan {
			t.Errorf("unexpected job type %s", jobs.types[0])
		}

		cancel()
		if err := <-done; err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("ignores non-audio files", func(t *testing.T) {
		root := t.TempDir()
		jobs := &recordingSubmitter{}
		w := NewWatcher(root, 50*time.Millisecond, jobs, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)
		time.Sleep(100 * time.Millisecond)

		tu.MustWriteFile(t, filepath.Join(root, "notes.txt"), "x")
		tu.MustWriteFile(t, filepath.Join(root, ".hidden.flac"), "x")

		time.Sleep(300 * time.Millisecond)
		if n := jobs.count(); n != 0 {
			t.Errorf("expected no submissions, got %d", n)
		}
	})

	t.Run("retries while a scan is queued", func(t *testing.T) {
		root := t.TempDir()
		jobs := &recordingSubmitter{err: &shared.DuplicateError{JobType: "filesystem-scan", ExistingID: "j"}}
		w := NewWatcher(root, 50*time.Millisecond, jobs, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)
		time.Sleep(100 * time.Millisecond)

		tu.MustWriteFile(t, filepath.Join(root, "01.flac"), "x")
		if !waitFor(t, 3*time.Second, func() bool { return jobs.count() >= 2 }) {
			t.Errorf("expected a retry after a duplicate, got %d submissions", jobs.count())
		}
	})
}
