package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Write minimal config
	configContent := `
logging:
  level: "INFO"

storage:
  bucket: "fula-sync"
  region: "us-west-2"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Load config
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Storage.Region != "us-west-2" {
		t.Errorf("Expected region 'us-west-2', got %q", cfg.Storage.Region)
	}
	if cfg.State.Type != "badger" {
		t.Errorf("Expected default state type 'badger', got %q", cfg.State.Type)
	}
	if cfg.Sync.Queue.Workers != 3 {
		t.Errorf("Expected default workers 3, got %d", cfg.Sync.Queue.Workers)
	}
	if cfg.Sync.Transfer.PartSize != 5*1024*1024 {
		t.Errorf("Expected default part size 5MiB, got %d", cfg.Sync.Transfer.PartSize)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Use a temporary directory with a non-existent config file path
	// This ensures we don't load the user's config from ~/.config/fulasync/
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	_, err := Load(nonExistentPath)
	if err == nil {
		t.Fatal("Expected validation error without a bucket, got nil")
	}
	if !strings.Contains(err.Error(), "Bucket") {
		t.Errorf("Expected error to mention the missing bucket, got: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	// Write invalid YAML
	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error loading invalid YAML, got nil")
	}
}

func TestLoad_FullConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "debug"
  format: "json"
  output: "stderr"

storage:
  bucket: "fula-sync"
  region: "eu-central-1"
  endpoint: "http://localhost:9000"
  access_key_id: "minioadmin"
  secret_access_key: "minioadmin"

state:
  type: "badger"
  badger:
    path: "/var/lib/fulasync/state"
    sync_writes: true

sync:
  queue:
    workers: 5
    poll_interval: "2s"
    retry:
      max_retries: 8
      base_delay: "1s"
      max_delay: "10m"
  transfer:
    multipart_threshold: 10485760
    part_size: 8388608
    part_concurrency: 4

watches:
  - dir: "/home/user/Documents"
    bucket: "fula-sync"
    prefix: "documents"
    encrypt: true

metrics:
  enabled: true
  listen: ":9100"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Storage.Endpoint != "http://localhost:9000" {
		t.Errorf("Expected custom endpoint, got %q", cfg.Storage.Endpoint)
	}
	if cfg.Sync.Queue.Workers != 5 {
		t.Errorf("Expected 5 workers, got %d", cfg.Sync.Queue.Workers)
	}
	if cfg.Sync.Queue.PollInterval != 2*time.Second {
		t.Errorf("Expected 2s poll interval, got %v", cfg.Sync.Queue.PollInterval)
	}
	if cfg.Sync.Queue.Retry.MaxRetries != 8 {
		t.Errorf("Expected 8 retries, got %d", cfg.Sync.Queue.Retry.MaxRetries)
	}
	if cfg.Sync.Transfer.PartSize != 8388608 {
		t.Errorf("Expected 8MiB part size, got %d", cfg.Sync.Transfer.PartSize)
	}
	if len(cfg.Watches) != 1 {
		t.Fatalf("Expected 1 watch, got %d", len(cfg.Watches))
	}
	if !cfg.Watches[0].Encrypt {
		t.Error("Expected watch encryption enabled")
	}
	if cfg.Watches[0].Debounce != 500*time.Millisecond {
		t.Errorf("Expected default debounce 500ms, got %v", cfg.Watches[0].Debounce)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Expected metrics enabled")
	}
	if cfg.Metrics.Listen != ":9100" {
		t.Errorf("Expected metrics listen ':9100', got %q", cfg.Metrics.Listen)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

storage:
  bucket: "fula-sync"
  region: "us-east-1"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("FULASYNC_LOGGING_LEVEL", "DEBUG")
	t.Setenv("FULASYNC_STORAGE_REGION", "ap-southeast-1")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected env override level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Storage.Region != "ap-southeast-1" {
		t.Errorf("Expected env override region, got %q", cfg.Storage.Region)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	path := GetDefaultConfigPath()
	expected := filepath.Join("/custom/config", "fulasync", "config.yaml")
	if path != expected {
		t.Errorf("Expected %q, got %q", expected, path)
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	dir := GetConfigDir()
	expected := filepath.Join("/custom/config", "fulasync")
	if dir != expected {
		t.Errorf("Expected %q, got %q", expected, dir)
	}
}
