package main

import (
	"context"
	"strings"

	"github.com/desertthunder/crate/internal/formatter"
	"github.com/urfave/cli/v3"
)

// SettingsShow prints the persisted settings; secrets are masked.
func (r *Runner) SettingsShow(ctx context.Context, cmd *cli.Command) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{
			"auto_sync_enabled":   settings.AutoSyncEnabled,
			"sync_interval_hours": settings.SyncIntervalHours,
			"music_dir":           settings.MusicDir,
			"lidarr_url":          settings.LidarrURL,
			"lidarr_api_key_set":  settings.LidarrAPIKey != "",
			"spotify_authorized":  settings.HasSpotifyToken(),
			"updated_at":          settings.UpdatedAt,
		}, true)
	}
	return r.writePlain("%s\n", formatter.SettingsTable(settings))
}

// SettingsSet updates only the flags given on the command line. The daemon picks up the
// new values on its next scheduler tick or job.
func (r *Runner) SettingsSet(ctx context.Context, cmd *cli.Command) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}

	var changed []string
	if cmd.IsSet("auto-sync") {
		settings.AutoSyncEnabled = cmd.Bool("auto-sync")
		changed = append(changed, "auto_sync_enabled")
	}
	if cmd.IsSet("interval") {
		settings.SyncIntervalHours = cmd.Int("interval")
		changed = append(changed, "sync_interval_hours")
	}
	if cmd.IsSet("music-dir") {
		settings.MusicDir = cmd.String("music-dir")
		changed = append(changed, "music_dir")
	}
	if cmd.IsSet("lidarr-url") {
		settings.LidarrURL = strings.TrimRight(cmd.String("lidarr-url"), "/")
		changed = append(changed, "lidarr_url")
	}
	if cmd.IsSet("lidarr-api-key") {
		settings.LidarrAPIKey = cmd.String("lidarr-api-key")
		changed = append(changed, "lidarr_api_key")
	}

	if len(changed) == 0 {
		return r.writePlain("Nothing to change, see `crate settings set --help`\n")
	}
	if err := s.settings.Save(ctx, settings); err != nil {
		return err
	}
	r.logger.Info("settings updated", "fields", changed)
	return r.writePlain("✓ Updated %s\n", strings.Join(changed, ", "))
}
