package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/crate/internal/jobs"
	"github.com/desertthunder/crate/internal/matching"
	"github.com/desertthunder/crate/internal/metrics"
	"github.com/desertthunder/crate/internal/reconcile"
	"github.com/desertthunder/crate/internal/server"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// daemon is every long-running component of `crate serve`, wired to one database.
type daemon struct {
	queue     *jobs.Queue
	executor  *jobs.Executor
	scheduler *jobs.Scheduler
	watcher   *reconcile.Watcher // nil when watching is disabled
	router    *server.BasicRouter
	metrics   *metrics.Metrics
}

// build wires the daemon. musicDir is the watched root; empty disables the watcher.
func (r *Runner) build(s *stores, musicDir string) *daemon {
	m := metrics.New()
	c := r.clients(m)
	meta := c.metadata()

	queue := jobs.NewQueue(s.jobs, r.logger, m)
	runner := tasks.NewRunner(tasks.Deps{
		Artists:   s.artists,
		Albums:    s.albums,
		Downloads: s.downloads,
		Tracks:    s.tracks,
		Playlists: s.playlists,
		Settings:  s.settings,
		Metadata:  meta,
		Engine:    matching.NewEngine(meta, s.cache, r.logger, m),
		Scanner:   reconcile.NewScanner(s.albums, r.tags, r.logger, m),
		Library:   c.library,
		Download:  c.downloads,
		Jobs:      queue,
		CoverDir:  r.config.Library.CoverDir,
		MusicDir:  r.config.Library.MusicDir,
		Logger:    r.logger,
	})

	router := server.NewBasicRouter()
	router.Use(server.Logging(shared.WithLogger(r.logger, "component", "http")), server.Recover(r.logger))
	server.NewAPI(server.Deps{
		Queue:        queue,
		Albums:       s.albums,
		Playlists:    s.playlists,
		Webhooks:     reconcile.NewWebhookReconciler(s.albums, s.downloads, r.logger, m),
		Downloads:    runner,
		Metrics:      m,
		WebhookToken: r.config.Credentials.Lidarr.WebhookToken,
		Logger:       r.logger,
	}).Register(router)

	d := &daemon{
		queue:     queue,
		executor:  jobs.NewExecutor(queue, runner, jobs.ConfigFrom(r.config.Executor), r.logger, m),
		scheduler: jobs.NewScheduler(queue, s.settings, r.logger),
		router:    router,
		metrics:   m,
	}
	if musicDir != "" {
		d.watcher = reconcile.NewWatcher(musicDir, r.config.Library.Debounce.Duration, queue, r.logger, m)
	}
	return d
}

// Serve runs the executor, scheduler, watcher and HTTP API until interrupted.
//
// A lock file next to the database keeps a second daemon from claiming the same jobs.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	s, err := r.store()
	if err != nil {
		return err
	}

	lock := shared.NewProcessLock(r.config.Database.Path)
	if err := lock.Acquire(); err != nil {
		return fmt.Errorf("is another `crate serve` running? %w", err)
	}
	defer lock.Release()

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}
	musicDir := settings.MusicDir
	if musicDir == "" {
		musicDir = r.config.Library.MusicDir
	}
	if !r.config.Library.Watch || cmd.Bool("no-watch") {
		musicDir = ""
	}

	d := r.build(s, musicDir)

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}
	srv := server.New(addr, d.router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.executor.Run(gctx) })
	g.Go(func() error { return d.scheduler.Run(gctx) })
	g.Go(func() error { return server.Serve(gctx, srv, r.logger) })
	g.Go(func() error {
		r.logProgress(gctx, d.executor.Updates())
		return nil
	})
	if d.watcher != nil {
		g.Go(func() error {
			if err := d.watcher.Run(gctx); err != nil {
				r.logger.Warn("filesystem watcher stopped", "error", err)
			}
			return nil
		})
	} else {
		r.logger.Info("filesystem watcher disabled")
	}

	r.logger.Info("crate daemon started", "addr", addr, "db", r.config.Database.Path, "workers", r.config.Executor.Workers)
	err = g.Wait()
	r.logger.Info("crate daemon stopped")
	return err
}

// logProgress logs executor progress at debug level until ctx is done.
func (r *Runner) logProgress(ctx context.Context, updates <-chan tasks.ProgressUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			r.logger.Debug("progress", "job", u.JobID, "type", u.Type, "phase", u.Phase, "step", u.Step, "total", u.Total, "message", u.Message)
		}
	}
}
