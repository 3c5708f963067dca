package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileCreatesDefaults(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "netmanthan_config_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	path := filepath.Join(tempDir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.ThreadCount != 5 {
		t.Errorf("expected default thread_count 5, got %d", cfg.ThreadCount)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected config file to be created, stat failed: %v", err)
	}
}

func TestLoad_ExistingFileRoundTrips(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "netmanthan_config_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	path := filepath.Join(tempDir, "config.toml")
	want := Default()
	want.ThreadCount = 10
	want.AutoResume = true
	if err := Save(path, want); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if got.ThreadCount != 10 || !got.AutoResume {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero_threads", func(c *Config) { c.ThreadCount = 0 }},
		{"too_many_threads", func(c *Config) { c.ThreadCount = 64 }},
		{"zero_buffer", func(c *Config) { c.BufferSizeKB = 0 }},
		{"bad_log_level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}
