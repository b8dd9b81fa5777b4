package shared

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
	Cloud     CloudConfig     `toml:"cloud"`
	Cache     CacheConfig     `toml:"cache"`
	Downloads DownloadsConfig `toml:"downloads"`
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

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `toml:"level"`
}

// CloudConfig describes where the sync provider mounts its accounts and how the
// per-account directories are named.
type CloudConfig struct {
	Root     string   `toml:"root"`
	Prefix   string   `toml:"prefix"`
	Suffixes []string `toml:"suffixes"`
}

// CacheConfig contains the byte budget and eviction settings.
type CacheConfig struct {
	MaxSizeBytes  int64    `toml:"max_size_bytes"`
	EvictInterval Duration `toml:"evict_interval"`
	BatchSize     int      `toml:"batch_size"`
	HelperPath    string   `toml:"helper_path"`
	HelperMarker  string   `toml:"helper_marker"`
}

// DownloadsConfig contains download trigger settings.
type DownloadsConfig struct {
	Timeout         Duration `toml:"timeout"`
	PrefetchRate    float64  `toml:"prefetch_rate"`
	PrefetchWorkers int      `toml:"prefetch_workers"`
}

// Duration is a [time.Duration] that decodes from TOML strings like "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
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

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects values the cache and download components cannot run with.
func (c *Config) Validate() error {
	if c.Cache.MaxSizeBytes < 0 {
		return fmt.Errorf("%w: cache.max_size_bytes must not be negative", ErrInvalidConfig)
	}
	if c.Cache.BatchSize <= 0 {
		return fmt.Errorf("%w: cache.batch_size must be positive", ErrInvalidConfig)
	}
	if c.Cache.EvictInterval.Duration <= 0 {
		return fmt.Errorf("%w: cache.evict_interval must be positive", ErrInvalidConfig)
	}
	if c.Downloads.Timeout.Duration <= 0 {
		return fmt.Errorf("%w: downloads.timeout must be positive", ErrInvalidConfig)
	}
	if c.Cloud.Prefix == "" {
		return fmt.Errorf("%w: cloud.prefix is required", ErrInvalidConfig)
	}
	return nil
}

// CloudRoot returns the configured cloud root with a leading ~ expanded.
func (c *Config) CloudRoot() string {
	return ExpandHome(c.Cloud.Root)
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
