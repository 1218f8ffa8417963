package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/metrics"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period required before a burst of changes triggers a scan.
const DefaultDebounce = 5 * time.Second

// Submitter enqueues jobs.
type Submitter interface {
	Submit(ctx context.Context, jobType models.JobType, entityID string) (*models.Job, error)
}

// Debounce coalesces bursts from in: one value is emitted once window passes with no new
// input. The returned channel closes after in closes (flushing a pending burst) or ctx ends.
func Debounce(ctx context.Context, in <-chan struct{}, window time.Duration) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)

		timer := time.NewTimer(window)
		timer.Stop()
		pending := false

		emit := func() {
			pending = false
			select {
			case out <- struct{}{}:
			default:
			}
		}

		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case _, ok := <-in:
				if !ok {
					timer.Stop()
					if pending {
						emit()
					}
					return
				}
				timer.Reset(window)
				pending = true
			case <-timer.C:
				emit()
			}
		}
	}()
	return out
}

// Watcher turns filesystem changes under the music directory into filesystem-scan jobs.
//
// fsnotify events feed a [Debounce] stage; each quiet period submits one scan through the
// same path manual triggers use.
type Watcher struct {
	root     string
	debounce time.Duration
	jobs     Submitter
	logger   *log.Logger
	metrics  *metrics.Metrics
}

// NewWatcher returns a watcher for root; a non-positive debounce uses [DefaultDebounce].
func NewWatcher(root string, debounce time.Duration, jobs Submitter, logger *log.Logger, m *metrics.Metrics) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		jobs:     jobs,
		logger:   shared.WithLogger(logger, "component", "watcher"),
		metrics:  m,
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if strings.TrimSpace(w.root) == "" {
		return fmt.Errorf("%w: music directory is not set", shared.ErrMissingConfig)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching music directory", "root", w.root, "debounce", w.debounce)

	changes := make(chan struct{}, 1)
	triggers := Debounce(ctx, changes, w.debounce)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.relevant(fw, ev) {
				select {
				case changes <- struct{}{}:
				default:
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case _, ok := <-triggers:
			if !ok {
				return nil
			}
			if w.trigger(ctx) {
				select {
				case changes <- struct{}{}:
				default:
				}
			}
		}
	}
}

// relevant reports whether ev may change the set of album directories. New directories are
// added to the watch as they appear.
func (w *Watcher) relevant(fw *fsnotify.Watcher, ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return false
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(fw, ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", ev.Name, "error", err)
			}
			return true
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		return true
	}
	return IsAudioFile(ev.Name)
}

// trigger submits a scan and reports whether it should be retried after another window,
// which happens when a scan is already queued or running.
func (w *Watcher) trigger(ctx context.Context) bool {
	w.metrics.WatcherTriggered()
	job, err := w.jobs.Submit(ctx, models.JobFilesystemScan, "")
	var dup *shared.DuplicateError
	switch {
	case errors.As(err, &dup):
		w.logger.Debug("scan already queued", "job", dup.ExistingID)
		return true
	case err != nil:
		w.logger.Error("failed to submit scan", "error", err)
		return false
	}
	w.logger.Info("changes settled, scan submitted", "job", job.ID)
	return false
}

// addTree watches dir and every non-hidden directory below it.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
