// Package config loads and validates the daemon's TOML configuration,
// validating once immediately after load rather than deferring checks to
// each call site.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// RPC holds the nested [rpc] table.
type RPC struct {
	Address       string `toml:"address"`
	AllowAllUsers bool   `toml:"allow_all_users"`
}

// Config holds the daemon's tunable settings. Unknown keys are ignored by
// the TOML decoder by default; a missing file is created with defaults.
type Config struct {
	AutoResume       bool   `toml:"auto_resume"`
	ThreadCount      uint8  `toml:"thread_count"`
	UpdateIntervalMs uint32 `toml:"update_interval_ms"`
	BufferSizeKB     uint32 `toml:"buffer_size_kb"`
	RPC              RPC    `toml:"rpc"`
	DownloadDir      string `toml:"download_dir"`
	DatabasePath     string `toml:"database_path"`
	LogPath          string `toml:"log_path"`
	LogLevel         string `toml:"log_level"`
}

// Default returns the built-in defaults (auto_resume=false,
// default_threads=5, buffer_size_kb=1024).
func Default() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".netmanthan")
	return Config{
		AutoResume:       false,
		ThreadCount:      5,
		UpdateIntervalMs: 250,
		BufferSizeKB:     1024,
		RPC: RPC{
			Address:       filepath.Join(base, "netmanthan.sock"),
			AllowAllUsers: false,
		},
		DownloadDir:  filepath.Join(base, "downloads"),
		DatabasePath: filepath.Join(base, "netmanthan.db"),
		LogPath:      filepath.Join(base, "netmanthan.log"),
		LogLevel:     "info",
	}
}

// Load reads the TOML file at path, creating it with defaults if it does
// not exist, then validates the result.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := Save(path, cfg); err != nil {
			return Config{}, fmt.Errorf("writing default config: %w", err)
		}
		return cfg, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config %s: %w", path, err)
	}
	if cfg.ThreadCount == 0 {
		var alias struct {
			ConnectionsPerServer uint8 `toml:"connections_per_server"`
		}
		if _, err := toml.DecodeFile(path, &alias); err == nil {
			cfg.ThreadCount = alias.ConnectionsPerServer
		}
	}
	if err := cfg.applyAliasesAndDefaults(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg as TOML to path, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// applyAliasesAndDefaults fills in zero-valued fields that weren't present
// in the file (Load has already taken thread_count from its alias
// connections_per_server when only the alias was given).
func (c *Config) applyAliasesAndDefaults() error {
	defaults := Default()
	if c.ThreadCount == 0 {
		c.ThreadCount = defaults.ThreadCount
	}
	if c.UpdateIntervalMs == 0 {
		c.UpdateIntervalMs = defaults.UpdateIntervalMs
	}
	if c.BufferSizeKB == 0 {
		c.BufferSizeKB = defaults.BufferSizeKB
	}
	if c.RPC.Address == "" {
		c.RPC.Address = defaults.RPC.Address
	}
	if c.DownloadDir == "" {
		c.DownloadDir = defaults.DownloadDir
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaults.DatabasePath
	}
	if c.LogPath == "" {
		c.LogPath = defaults.LogPath
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	return nil
}

// Validate checks the loaded config for internally-inconsistent values.
func (c *Config) Validate() error {
	if c.ThreadCount == 0 {
		return fmt.Errorf("thread_count must be at least 1")
	}
	if c.ThreadCount > 32 {
		return fmt.Errorf("thread_count must not exceed 32")
	}
	if c.BufferSizeKB == 0 {
		return fmt.Errorf("buffer_size_kb must be at least 1")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	return nil
}
