package shared

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./hoard.db" {
			t.Errorf("expected database path ./hoard.db, got %s", config.Database.Path)
		}
		if config.Server.Port != 3300 {
			t.Errorf("expected server port 3300, got %d", config.Server.Port)
		}
		if config.Cache.EvictInterval.Duration != 5*time.Minute {
			t.Errorf("expected evict interval 5m, got %v", config.Cache.EvictInterval)
		}
		if config.Cache.BatchSize != 50 {
			t.Errorf("expected batch size 50, got %d", config.Cache.BatchSize)
		}
		if config.Cache.HelperMarker != "EVICTED:" {
			t.Errorf("expected helper marker EVICTED:, got %s", config.Cache.HelperMarker)
		}
		if config.Downloads.Timeout.Duration != 60*time.Second {
			t.Errorf("expected download timeout 60s, got %v", config.Downloads.Timeout)
		}
		if config.Cloud.Prefix != "GoogleDrive-" {
			t.Errorf("expected cloud prefix GoogleDrive-, got %s", config.Cloud.Prefix)
		}
		if err := config.Validate(); err != nil {
			t.Errorf("default config should be valid: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nested", "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Database.Path != DefaultConfig().Database.Path {
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

[cloud]
root = "/mnt/cloud"
prefix = "OneDrive-"
suffixes = ["-Personal"]

[cache]
max_size_bytes = 1000
evict_interval = "30s"
batch_size = 10
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
		if config.Cache.MaxSizeBytes != 1000 {
			t.Errorf("expected max size 1000, got %d", config.Cache.MaxSizeBytes)
		}
		if config.Cache.EvictInterval.Duration != 30*time.Second {
			t.Errorf("expected evict interval 30s, got %v", config.Cache.EvictInterval)
		}
		if len(config.Cloud.Suffixes) != 1 || config.Cloud.Suffixes[0] != "-Personal" {
			t.Errorf("expected suffixes [-Personal], got %v", config.Cloud.Suffixes)
		}
		if config.Server.Port != 3300 {
			t.Errorf("missing server section should keep default port, got %d", config.Server.Port)
		}
	})

	t.Run("LoadConfig rejects bad duration", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[cache]\nevict_interval = \"soon\"\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := LoadConfig(configPath); err == nil {
			t.Fatal("expected error for unparseable duration")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		config := DefaultConfig()
		config.Cache.BatchSize = 0

		err := config.Validate()
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("ExpandHome", func(t *testing.T) {
		if got := ExpandHome("/abs/path"); got != "/abs/path" {
			t.Errorf("absolute path should be unchanged, got %s", got)
		}

		home, err := os.UserHomeDir()
		if err != nil {
			t.Skip("no home directory")
		}
		got := ExpandHome("~/Library/CloudStorage")
		if !strings.HasPrefix(got, home) || strings.Contains(got, "~") {
			t.Errorf("expected ~ expanded under %s, got %s", home, got)
		}
	})
}
