// Package config handles configuration loading for the genotiles server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tileset source types.
const (
	TypeRemote = "remote"
	TypeMemory = "memory"
	TypeGFF    = "gff"
)

// Config represents the server configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Cache      CacheConfig       `yaml:"cache"`
	Fetch      FetchConfig       `yaml:"fetch"`
	Log        LogConfig         `yaml:"log"`
	ChromSizes map[string]string `yaml:"chromsizes"`
	Tilesets   []TilesetConfig   `yaml:"tilesets"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port                   int      `yaml:"port"`
	CORSOrigins            []string `yaml:"cors_origins"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TileEntries        int `yaml:"tile_entries"`
	InfoEntries        int `yaml:"info_entries"`
	ResponseSizeMB     int `yaml:"response_size_mb"`
	ResponseTTLMinutes int `yaml:"response_ttl_minutes"`
}

// FetchConfig contains tile fetch scheduling settings.
type FetchConfig struct {
	WindowMS       int `yaml:"window_ms"`
	MaxBatch       int `yaml:"max_batch"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
	Workers        int `yaml:"workers"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TilesetConfig describes one tileset. Type selects which of the remaining
// fields apply.
type TilesetConfig struct {
	UID  string `yaml:"uid"`
	Type string `yaml:"type"`
	Name string `yaml:"name"`

	// memory and gff
	Path string `yaml:"path"`

	// remote
	Server     string `yaml:"server"`
	RemoteUID  string `yaml:"remote_uid"`
	AuthHeader string `yaml:"auth_header"`

	// gff
	ChromSizes string   `yaml:"chromsizes"`
	Types      []string `yaml:"types"`
	NamePaths  []string `yaml:"name_paths"`
	Capacity   int      `yaml:"capacity"`
}

// Window returns the batching window.
func (c FetchConfig) Window() time.Duration {
	return time.Duration(c.WindowMS) * time.Millisecond
}

// Timeout returns the per-request timeout of remote sources.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResponseTTL returns the lifetime of cached tile responses.
func (c CacheConfig) ResponseTTL() time.Duration {
	return time.Duration(c.ResponseTTLMinutes) * time.Minute
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                   8080,
			CORSOrigins:            []string{"http://localhost:3000", "http://localhost:5173"},
			ShutdownTimeoutSeconds: 10,
		},
		Cache: CacheConfig{
			TileEntries:        10000,
			InfoEntries:        256,
			ResponseSizeMB:     256,
			ResponseTTLMinutes: 10,
		},
		Fetch: FetchConfig{
			WindowMS:       100,
			TimeoutSeconds: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		ChromSizes: map[string]string{},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = defaults.Server.ShutdownTimeoutSeconds
	}
	if cfg.Cache.TileEntries == 0 {
		cfg.Cache.TileEntries = defaults.Cache.TileEntries
	}
	if cfg.Cache.InfoEntries == 0 {
		cfg.Cache.InfoEntries = defaults.Cache.InfoEntries
	}
	if cfg.Cache.ResponseSizeMB == 0 {
		cfg.Cache.ResponseSizeMB = defaults.Cache.ResponseSizeMB
	}
	if cfg.Cache.ResponseTTLMinutes == 0 {
		cfg.Cache.ResponseTTLMinutes = defaults.Cache.ResponseTTLMinutes
	}
	if cfg.Fetch.WindowMS == 0 {
		cfg.Fetch.WindowMS = defaults.Fetch.WindowMS
	}
	if cfg.Fetch.TimeoutSeconds == 0 {
		cfg.Fetch.TimeoutSeconds = defaults.Fetch.TimeoutSeconds
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	if cfg.ChromSizes == nil {
		cfg.ChromSizes = defaults.ChromSizes
	}
	for i := range cfg.Tilesets {
		if cfg.Tilesets[i].Name == "" {
			cfg.Tilesets[i].Name = cfg.Tilesets[i].UID
		}
	}
}

// Validate checks tileset declarations and their references.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Tilesets))
	for i, ts := range c.Tilesets {
		if ts.UID == "" {
			return fmt.Errorf("tileset #%d: missing uid", i+1)
		}
		if seen[ts.UID] {
			return fmt.Errorf("tileset %q declared twice", ts.UID)
		}
		seen[ts.UID] = true

		switch ts.Type {
		case TypeRemote:
			if ts.Server == "" {
				return fmt.Errorf("tileset %q: remote tilesets need a server", ts.UID)
			}
		case TypeMemory, TypeGFF:
			if ts.Path == "" {
				return fmt.Errorf("tileset %q: %s tilesets need a path", ts.UID, ts.Type)
			}
		default:
			return fmt.Errorf("tileset %q: unknown type %q", ts.UID, ts.Type)
		}

		if ts.ChromSizes != "" {
			if _, ok := c.ChromSizes[ts.ChromSizes]; !ok {
				return fmt.Errorf("tileset %q: unknown chromsizes %q", ts.UID, ts.ChromSizes)
			}
		}
	}
	return nil
}
