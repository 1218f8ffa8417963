package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/crate/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file from the template when it is missing, then initializes
// the database and runs pending migrations.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	if _, err := os.Stat(r.configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", r.configPath)
		if err := shared.CreateConfigFile(r.configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else {
			r.writePlain("✓ Created %s, fill in your credentials\n", r.configPath)
		}
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	s, err := r.store()
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}

	statuses, err := shared.MigrationStatuses(r.db)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	for _, m := range statuses {
		mark := "✗"
		if m.Applied {
			mark = "✓"
		}
		r.writePlain("%s %03d %s\n", mark, m.Version, m.Name)
	}

	if _, err := s.settings.Get(ctx); err != nil {
		return fmt.Errorf("database is missing its settings row: %w", err)
	}

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	return r.writePlain("✓ Database ready at %s\n", r.config.Database.Path)
}
