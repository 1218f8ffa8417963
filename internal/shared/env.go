package shared

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// envOverrides maps environment variables onto secret-bearing config fields.
var envOverrides = map[string]func(*Config, string){
	"CRATE_SPOTIFY_CLIENT_ID":     func(c *Config, v string) { c.Credentials.Spotify.ClientID = v },
	"CRATE_SPOTIFY_CLIENT_SECRET": func(c *Config, v string) { c.Credentials.Spotify.ClientSecret = v },
	"CRATE_LIDARR_URL":            func(c *Config, v string) { c.Credentials.Lidarr.URL = v },
	"CRATE_LIDARR_API_KEY":        func(c *Config, v string) { c.Credentials.Lidarr.APIKey = v },
	"CRATE_WEBHOOK_TOKEN":         func(c *Config, v string) { c.Credentials.Lidarr.WebhookToken = v },
	"CRATE_DATABASE_PATH":         func(c *Config, v string) { c.Database.Path = v },
	"CRATE_MUSIC_DIR":             func(c *Config, v string) { c.Library.MusicDir = v },
}

// LoadEnv loads the given .env files (default ".env") into the process environment.
//
// Missing files are not an error; variables already set are not overwritten.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv copies any set CRATE_* variables into c.
func (c *Config) ApplyEnv() {
	for key, apply := range envOverrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			apply(c, v)
		}
	}
}
