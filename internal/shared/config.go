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
	Cache       CacheConfig       `toml:"cache"`
	Sync        SyncConfig        `toml:"sync"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
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

// CacheConfig contains Redis settings for the read-through status cache.
// An empty Addr disables caching entirely.
type CacheConfig struct {
	Addr             string `toml:"addr"`
	Password         string `toml:"password"`
	DB               int    `toml:"db"`
	StatusTTLSeconds int    `toml:"status_ttl_seconds"`
}

// StatusTTL returns the TTL for cached sync-status reads.
func (c CacheConfig) StatusTTL() time.Duration {
	if c.StatusTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.StatusTTLSeconds) * time.Second
}

// SyncConfig contains tunables for a single sync run.
type SyncConfig struct {
	RecentLimit    int `toml:"recent_limit"`
	TopLimit       int `toml:"top_limit"`
	IntervalHours  int `toml:"interval_hours"`
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Interval returns the scheduled cadence between sync runs.
func (c SyncConfig) Interval() time.Duration {
	if c.IntervalHours <= 0 {
		return 6 * time.Hour
	}
	return time.Duration(c.IntervalHours) * time.Hour
}

// Timeout returns the wall-clock limit for one sync run.
func (c SyncConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with defaults loaded from the embedded example config.
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

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
