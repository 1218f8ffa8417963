package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/jobs"
	"github.com/desertthunder/crate/internal/reconcile"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database is opened on first use so commands that never touch it (help, setup of a
// fresh config) do not create one.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	tags       reconcile.TagReader

	db    *sql.DB
	ownDB bool
	repos *stores
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	DB         *sql.DB             // an open, migrated database; nil opens config.Database.Path
	Tags       reconcile.TagReader // nil uses taglib
}

// stores are the repositories shared by every command in one process.
type stores struct {
	artists   *repositories.ArtistRepository
	albums    *repositories.AlbumRepository
	jobs      *repositories.JobRepository
	downloads *repositories.DownloadRepository
	settings  *repositories.SettingsRepository
	cache     *repositories.CacheRepository
	tracks    *repositories.TrackRepository
	playlists *repositories.PlaylistRepository
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Tags == nil {
		opts.Tags = reconcile.TaglibReader{}
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		tags:       opts.Tags,
		db:         opts.DB,
	}
}

// SetLogger replaces the logger, e.g. while the TUI owns the terminal.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// Close releases the database if the runner opened it.
func (r *Runner) Close() error {
	if r.db == nil || !r.ownDB {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	r.repos = nil
	return err
}

func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:     "crate",
		Usage:    "Reconcile a streaming library with a local music collection",
		Version:  "0.1.0",
		Writer:   r.output,
		Flags:    globalFlags(),
		Before:   r.load,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, serveCommand, authCommand, jobsCommand, albumsCommand, playlistsCommand, settingsCommand, scanCommand, cacheCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// load reads the config file named by --config, falling back to defaults when it is
// missing, then applies CRATE_* environment overrides and the log level.
func (r *Runner) load(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.IsSet("config") || r.configPath == "" {
		r.configPath = cmd.String("config")
	}

	if r.config == nil {
		config := shared.DefaultConfig()
		if _, err := os.Stat(r.configPath); err == nil {
			loaded, err := shared.LoadConfig(r.configPath)
			if err != nil {
				return ctx, err
			}
			config = loaded
		} else {
			r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		}
		config.ApplyEnv()
		r.config = config
	}

	level := r.config.Log.Level
	if cmd.Bool("verbose") {
		level = "debug"
	}
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(level))
	return ctx, nil
}

// store opens and migrates the database on first use.
func (r *Runner) store() (*stores, error) {
	if r.repos != nil {
		return r.repos, nil
	}
	if r.config == nil {
		r.config = shared.DefaultConfig()
	}

	if r.db == nil {
		db, err := shared.NewDatabase(r.config.Database.Path)
		if err != nil {
			return nil, err
		}
		if r.config.Database.Path != ":memory:" {
			shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
		}
		if err := shared.RunMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		r.db = db
		r.ownDB = true
	}

	r.repos = &stores{
		artists:   repositories.NewArtistRepository(r.db),
		albums:    repositories.NewAlbumRepository(r.db),
		jobs:      repositories.NewJobRepository(r.db),
		downloads: repositories.NewDownloadRepository(r.db),
		settings:  repositories.NewSettingsRepository(r.db),
		cache:     repositories.NewCacheRepository(r.db),
		tracks:    repositories.NewTrackRepository(r.db),
		playlists: repositories.NewPlaylistRepository(r.db),
	}
	return r.repos, nil
}

// queue returns a job queue over the shared job repository.
func (r *Runner) queue() (*jobs.Queue, error) {
	s, err := r.store()
	if err != nil {
		return nil, err
	}
	return jobs.NewQueue(s.jobs, r.logger, nil), nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
