package config

import (
	"testing"
	"time"

	"github.com/functionland/fulasync/pkg/watch"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LogLevelNormalization(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_Storage(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Storage.Region != "us-east-1" {
		t.Errorf("Expected default region 'us-east-1', got %q", cfg.Storage.Region)
	}
	if cfg.Storage.MaxRetries != 10 {
		t.Errorf("Expected default max_retries 10, got %d", cfg.Storage.MaxRetries)
	}
}

func TestApplyDefaults_State(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.State.Type != "badger" {
		t.Errorf("Expected default state type 'badger', got %q", cfg.State.Type)
	}
	if cfg.State.Badger == nil {
		t.Fatal("Expected badger options map to be initialized")
	}
	if path, _ := cfg.State.Badger["path"].(string); path == "" {
		t.Error("Expected a default badger path")
	}
	if sync, _ := cfg.State.Badger["sync_writes"].(bool); !sync {
		t.Error("Expected sync_writes to default to true")
	}
}

func TestApplyDefaults_Sync(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Sync.Queue.Workers != 3 {
		t.Errorf("Expected default workers 3, got %d", cfg.Sync.Queue.Workers)
	}
	if cfg.Sync.Queue.PollInterval != time.Second {
		t.Errorf("Expected default poll interval 1s, got %v", cfg.Sync.Queue.PollInterval)
	}
	if cfg.Sync.Queue.Retry.MaxRetries != 5 {
		t.Errorf("Expected default max retries 5, got %d", cfg.Sync.Queue.Retry.MaxRetries)
	}
	if cfg.Sync.Transfer.MultipartThreshold != 5*1024*1024 {
		t.Errorf("Expected default multipart threshold 5MiB, got %d", cfg.Sync.Transfer.MultipartThreshold)
	}
	if cfg.Sync.Transfer.PartConcurrency != 3 {
		t.Errorf("Expected default part concurrency 3, got %d", cfg.Sync.Transfer.PartConcurrency)
	}
	if cfg.Sync.Transfer.RequestTimeout != 2*time.Minute {
		t.Errorf("Expected default request timeout 2m, got %s", cfg.Sync.Transfer.RequestTimeout)
	}
}

func TestApplyDefaults_Watches(t *testing.T) {
	cfg := &Config{
		Watches: []watch.Config{
			{Dir: "/data", Bucket: "b"},
			{Dir: "/other", Bucket: "b", Debounce: 2 * time.Second},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Watches[0].Debounce != 500*time.Millisecond {
		t.Errorf("Expected default debounce 500ms, got %v", cfg.Watches[0].Debounce)
	}
	if cfg.Watches[1].Debounce != 2*time.Second {
		t.Errorf("Expected explicit debounce preserved, got %v", cfg.Watches[1].Debounce)
	}
}

func TestApplyDefaults_Metrics(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Metrics.Listen != ":9464" {
		t.Errorf("Expected default listen ':9464', got %q", cfg.Metrics.Listen)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "ERROR",
			Format: "json",
			Output: "/var/log/fulasync.log",
		},
		Storage: StorageConfig{
			Region:     "eu-west-1",
			MaxRetries: 3,
		},
		State: StateConfig{
			Type: "memory",
		},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json' preserved, got %q", cfg.Logging.Format)
	}
	if cfg.Storage.Region != "eu-west-1" {
		t.Errorf("Expected region preserved, got %q", cfg.Storage.Region)
	}
	if cfg.Storage.MaxRetries != 3 {
		t.Errorf("Expected max_retries preserved, got %d", cfg.Storage.MaxRetries)
	}
	if cfg.State.Type != "memory" {
		t.Errorf("Expected state type 'memory' preserved, got %q", cfg.State.Type)
	}
}
