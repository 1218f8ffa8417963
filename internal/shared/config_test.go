package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./crate.db" {
			t.Errorf("expected database path ./crate.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.Executor.Workers != 4 {
			t.Errorf("expected 4 workers, got %d", config.Executor.Workers)
		}

		if config.Executor.MaxRetries != 3 {
			t.Errorf("expected 3 retries, got %d", config.Executor.MaxRetries)
		}

		if config.Library.Debounce.Duration != 5*time.Second {
			t.Errorf("expected debounce 5s, got %v", config.Library.Debounce)
		}

		if config.Executor.CallTimeout.Duration >= config.Executor.MaxDelay.Duration {
			t.Errorf("call timeout %v should be shorter than max backoff %v", config.Executor.CallTimeout, config.Executor.MaxDelay)
		}

		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[server]
host = "0.0.0.0"
port = 8080

[executor]
workers = 8
base_delay = "500ms"

[credentials.lidarr]
url = "http://lidarr:8686"
api_key = "secret"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.Server.Addr() != "0.0.0.0:8080" {
			t.Errorf("expected addr 0.0.0.0:8080, got %s", config.Server.Addr())
		}

		if config.Executor.Workers != 8 {
			t.Errorf("expected 8 workers, got %d", config.Executor.Workers)
		}

		if config.Executor.BaseDelay.Duration != 500*time.Millisecond {
			t.Errorf("expected base delay 500ms, got %v", config.Executor.BaseDelay)
		}

		if config.Executor.MaxRetries != 3 {
			t.Errorf("unset fields should keep defaults, got max_retries=%d", config.Executor.MaxRetries)
		}

		if config.Credentials.Lidarr.APIKey != "secret" {
			t.Errorf("expected lidarr api key secret, got %s", config.Credentials.Lidarr.APIKey)
		}
	})

	t.Run("LoadConfig rejects invalid values", func(t *testing.T) {
		tc := []struct {
			name string
			body string
		}{
			{name: "zero workers", body: "[executor]\nworkers = 0\n"},
			{name: "bad duration", body: "[executor]\nbase_delay = \"soon\"\n"},
			{name: "max below base", body: "[executor]\nbase_delay = \"10m\"\nmax_delay = \"1s\"\n"},
			{name: "call timeout not below max delay", body: "[executor]\nmax_delay = \"30s\"\ncall_timeout = \"30s\"\n"},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				configPath := filepath.Join(t.TempDir(), "config.toml")
				if err := os.WriteFile(configPath, []byte(tt.body), 0644); err != nil {
					t.Fatalf("failed to write test config: %v", err)
				}
				if _, err := LoadConfig(configPath); err == nil {
					t.Error("expected error")
				}
			})
		}
	})

	t.Run("ApplyEnv", func(t *testing.T) {
		t.Setenv("CRATE_LIDARR_API_KEY", "from-env")
		t.Setenv("CRATE_MUSIC_DIR", "/srv/music")

		config := DefaultConfig()
		config.ApplyEnv()

		if config.Credentials.Lidarr.APIKey != "from-env" {
			t.Errorf("expected api key from env, got %q", config.Credentials.Lidarr.APIKey)
		}
		if config.Library.MusicDir != "/srv/music" {
			t.Errorf("expected music dir from env, got %q", config.Library.MusicDir)
		}
	})

	t.Run("LoadEnv", func(t *testing.T) {
		dir := t.TempDir()
		envPath := filepath.Join(dir, ".env")
		if err := os.WriteFile(envPath, []byte("CRATE_WEBHOOK_TOKEN=abc123\n"), 0600); err != nil {
			t.Fatalf("failed to write env file: %v", err)
		}
		t.Setenv("CRATE_WEBHOOK_TOKEN", "")
		os.Unsetenv("CRATE_WEBHOOK_TOKEN")

		if err := LoadEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
			t.Fatalf("LoadEnv failed: %v", err)
		}

		config := DefaultConfig()
		config.ApplyEnv()
		if config.Credentials.Lidarr.WebhookToken != "abc123" {
			t.Errorf("expected webhook token abc123, got %q", config.Credentials.Lidarr.WebhookToken)
		}
	})
}

func TestErrorClassification(t *testing.T) {
	tc := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "server error", err: NewServiceError("musicbrainz", 500, nil), want: KindTransient},
		{name: "service unavailable", err: NewServiceError("musicbrainz", 503, nil), want: KindTransient},
		{name: "rate limited", err: NewServiceError("spotify", 429, nil), want: KindTransient},
		{name: "transport failure", err: NewServiceError("lidarr", 0, errors.New("connection refused")), want: KindTransient},
		{name: "unauthorized", err: NewServiceError("spotify", 401, nil), want: KindPermanent},
		{name: "bad request", err: NewServiceError("lidarr", 400, nil), want: KindPermanent},
		{name: "duplicate", err: &DuplicateError{JobType: "library-sync", ExistingID: "x"}, want: KindConflict},
		{name: "missing album", err: ErrNotFound, want: KindInconsistency},
		{name: "partial batch", err: &PartialError{Failed: 1, Total: 2}, want: KindPartial},
		{name: "plain error", err: errors.New("boom"), want: KindPermanent},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("wrapped service error keeps its kind", func(t *testing.T) {
		err := NewServiceError("musicbrainz", 502, nil)
		wrapped := errors.Join(errors.New("search"), err)
		if !IsTransient(wrapped) {
			t.Error("expected wrapped 502 to be transient")
		}
		if !errors.Is(err, ErrAPIRequest) {
			t.Error("service errors should wrap ErrAPIRequest")
		}
	})
}
