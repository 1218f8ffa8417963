package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Executor    ExecutorConfig    `toml:"executor"`
	Library     LibraryConfig     `toml:"library"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify     SpotifyConfig     `toml:"spotify"`
	MusicBrainz MusicBrainzConfig `toml:"musicbrainz"`
	Lidarr      LidarrConfig      `toml:"lidarr"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// MusicBrainzConfig identifies this client to the metadata service.
type MusicBrainzConfig struct {
	BaseURL     string `toml:"base_url"`
	CoverArtURL string `toml:"cover_art_url"`
	UserAgent   string `toml:"user_agent"`
}

// LidarrConfig contains the download-automation endpoint and its API key.
type LidarrConfig struct {
	URL          string `toml:"url"`
	APIKey       string `toml:"api_key"`
	WebhookToken string `toml:"webhook_token"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port for [http.Server].
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ExecutorConfig controls the job worker pool.
type ExecutorConfig struct {
	Workers      int      `toml:"workers"`
	MaxRetries   int      `toml:"max_retries"`
	BaseDelay    Duration `toml:"base_delay"`
	MaxDelay     Duration `toml:"max_delay"`
	PollInterval Duration `toml:"poll_interval"`
	CallTimeout  Duration `toml:"call_timeout"`
}

// LibraryConfig describes the local music collection.
type LibraryConfig struct {
	MusicDir string   `toml:"music_dir"`
	CoverDir string   `toml:"cover_dir"`
	Debounce Duration `toml:"debounce"`
	Watch    bool     `toml:"watch"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a [time.Duration] that decodes from TOML strings like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values absent from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// Validate rejects values the executor and watcher cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Database.Path == "":
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	case c.Executor.Workers < 1:
		return fmt.Errorf("%w: executor.workers must be at least 1", ErrInvalidConfig)
	case c.Executor.MaxRetries < 0:
		return fmt.Errorf("%w: executor.max_retries must not be negative", ErrInvalidConfig)
	case c.Executor.MaxDelay.Duration < c.Executor.BaseDelay.Duration:
		return fmt.Errorf("%w: executor.max_delay must not be below base_delay", ErrInvalidConfig)
	case c.Executor.CallTimeout.Duration <= 0:
		return fmt.Errorf("%w: executor.call_timeout must be positive", ErrInvalidConfig)
	case c.Executor.CallTimeout.Duration >= c.Executor.MaxDelay.Duration:
		return fmt.Errorf("%w: executor.call_timeout must be below max_delay", ErrInvalidConfig)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
