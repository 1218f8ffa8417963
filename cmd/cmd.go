// submodule cmd contains command definitions
package main

import (
	"github.com/desertthunder/crate/internal/formatter"
	"github.com/urfave/cli/v3"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			Value:   "config.toml",
			Sources: cli.EnvVars("CRATE_CONFIG"),
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Log at debug level",
		},
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Output raw JSON"}
}

func limitFlag(value int) cli.Flag {
	return &cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum number of rows", Value: value}
}

// setupCommand initializes the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml if missing, initialize the database and run migrations",
		Action: r.Setup,
	}
}

// serveCommand runs the daemon.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the job executor, scheduler, filesystem watcher and HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default from [server] in config)",
			},
			&cli.BoolFlag{
				Name:  "no-watch",
				Usage: "Disable the filesystem watcher",
			},
		},
		Action: r.Serve,
	}
}

// authCommand handles authorization with the streaming library.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage authentication",
		Commands: []*cli.Command{
			{
				Name:   "spotify",
				Usage:  "Authorize read access to your Spotify library using OAuth2",
				Action: r.AuthSpotify,
			},
			{
				Name:   "status",
				Usage:  "Show which services are configured and authorized",
				Action: r.AuthStatus,
			},
		},
	}
}

// jobsCommand handles job submission and inspection.
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Submit, inspect and cancel background jobs",
		Commands: []*cli.Command{
			{
				Name:      "submit",
				Usage:     "Queue a job (library-sync, metadata-match-all, metadata-match-one, cover-art-fetch, filesystem-scan, download-status-poll)",
				Arguments: []cli.Argument{&cli.StringArg{Name: "type"}},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "album", Aliases: []string{"a"}, Usage: "Album ID for single-album jobs"},
					jsonFlag(),
				},
				Action: r.JobsSubmit,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List recent jobs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "Filter by status"},
					&cli.StringFlag{Name: "type", Usage: "Filter by job type"},
					limitFlag(20),
					jsonFlag(),
				},
				Action: r.JobsList,
			},
			{
				Name:      "show",
				Usage:     "Show one job with its summary",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags:     []cli.Flag{jsonFlag()},
				Action:    r.JobsShow,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a pending or running job",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.JobsCancel,
			},
			{
				Name:  "watch",
				Usage: "Interactive job monitor",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "Only show jobs with this status"},
				},
				Action: r.JobsWatch,
			},
		},
	}
}

// albumsCommand handles catalog queries and per-album actions.
func albumsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "albums",
		Usage: "Browse and act on the album catalog",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List albums",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "ownership", Usage: "owned, not_owned or downloading"},
					&cli.StringFlag{Name: "match", Usage: "pending, matched, needs_review or no_match"},
					limitFlag(100),
					jsonFlag(),
				},
				Action: r.AlbumsList,
			},
			{
				Name:  "export",
				Usage: "Export the catalog",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "csv or json", Value: formatter.FormatCSV},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file path (default albums.<format>)"},
					&cli.StringFlag{Name: "ownership", Usage: "Only export albums with this ownership"},
				},
				Action: r.AlbumsExport,
			},
			{
				Name:      "match",
				Usage:     "Queue metadata matching for one album",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.AlbumsMatch,
			},
			{
				Name:      "want",
				Usage:     "Ask the download service to search for a matched album",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.AlbumsWant,
			},
		},
	}
}

// playlistsCommand lists library playlists and opts them in or out of track sync.
func playlistsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "playlists",
		Usage: "Browse synced playlists",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List playlists with owned-track counts",
				Flags:   []cli.Flag{jsonFlag()},
				Action:  r.PlaylistsList,
			},
			{
				Name:      "enable",
				Usage:     "Sync a playlist's tracks on the next library sync",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.PlaylistsEnable(true),
			},
			{
				Name:      "disable",
				Usage:     "Stop syncing a playlist's tracks",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.PlaylistsEnable(false),
			},
		},
	}
}

// settingsCommand reads and edits the persisted sync settings.
func settingsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or change sync settings",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show current settings",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.SettingsShow,
			},
			{
				Name:  "set",
				Usage: "Change settings; unset flags keep their value",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "auto-sync", Usage: "Enable periodic library sync"},
					&cli.IntFlag{Name: "interval", Usage: "Hours between automatic syncs"},
					&cli.StringFlag{Name: "music-dir", Usage: "Root of the local music collection"},
					&cli.StringFlag{Name: "lidarr-url", Usage: "Download service base URL"},
					&cli.StringFlag{Name: "lidarr-api-key", Usage: "Download service API key"},
				},
				Action: r.SettingsSet,
			},
		},
	}
}

// scanCommand reconciles the music directory immediately.
func scanCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Scan the music directory and claim matching albums as owned",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "Directory to scan (default from settings)"},
			&cli.BoolFlag{Name: "queue", Usage: "Submit a filesystem-scan job instead of scanning in this process"},
			jsonFlag(),
		},
		Action: r.Scan,
	}
}

// cacheCommand manages the metadata match cache.
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the metadata match cache",
		Commands: []*cli.Command{
			{
				Name:   "purge",
				Usage:  "Delete expired cache entries",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "all", Usage: "Delete every entry, including permanent matches"}},
				Action: r.CachePurge,
			},
			{
				Name:   "stats",
				Usage:  "Show the number of cached entries",
				Action: r.CacheStats,
			},
		},
	}
}
