package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/functionland/fulasync/pkg/syncer"
	"github.com/functionland/fulasync/pkg/transfer"
	"github.com/functionland/fulasync/pkg/watch"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyStorageDefaults(&cfg.Storage)
	applyStateDefaults(&cfg.State)
	applySyncDefaults(&cfg.Sync)
	applyWatchDefaults(cfg.Watches)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyStorageDefaults sets object storage defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 10
	}
}

// applyStateDefaults sets state store defaults.
func applyStateDefaults(cfg *StateConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	// Initialize maps if nil
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}

	// Apply defaults for all store types (for config file generation)
	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = defaultStatePath()
	}
	if _, ok := cfg.Badger["sync_writes"]; !ok {
		cfg.Badger["sync_writes"] = true
	}
}

// defaultStatePath returns the default BadgerDB directory.
//
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share, or falls back to
// a temporary directory if home cannot be determined.
func defaultStatePath() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "fulasync", "state")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "fulasync-state")
	}

	return filepath.Join(home, ".local", "share", "fulasync", "state")
}

// applySyncDefaults sets queue and transfer defaults.
func applySyncDefaults(cfg *SyncConfig) {
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = syncer.DefaultWorkers
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = syncer.DefaultPollInterval
	}
	if cfg.Queue.Retry.MaxRetries == 0 {
		cfg.Queue.Retry.MaxRetries = syncer.DefaultMaxRetries
	}
	if cfg.Queue.Retry.BaseDelay == 0 {
		cfg.Queue.Retry.BaseDelay = syncer.DefaultRetryBaseDelay
	}
	if cfg.Queue.Retry.MaxDelay == 0 {
		cfg.Queue.Retry.MaxDelay = syncer.DefaultRetryMaxDelay
	}

	if cfg.Transfer.MultipartThreshold == 0 {
		cfg.Transfer.MultipartThreshold = transfer.DefaultMultipartThreshold
	}
	if cfg.Transfer.PartSize == 0 {
		cfg.Transfer.PartSize = transfer.DefaultPartSize
	}
	if cfg.Transfer.PartConcurrency == 0 {
		cfg.Transfer.PartConcurrency = transfer.DefaultPartConcurrency
	}
	if cfg.Transfer.PartRetries == 0 {
		cfg.Transfer.PartRetries = transfer.DefaultPartRetries
	}
	if cfg.Transfer.PartRetryDelay == 0 {
		cfg.Transfer.PartRetryDelay = transfer.DefaultPartRetryDelay
	}
	if cfg.Transfer.RequestTimeout == 0 {
		cfg.Transfer.RequestTimeout = transfer.DefaultRequestTimeout
	}
}

// applyWatchDefaults sets per-watch defaults.
func applyWatchDefaults(watches []watch.Config) {
	for i := range watches {
		if watches[i].Debounce == 0 {
			watches[i].Debounce = watch.DefaultDebounce
		}
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":9464"
	}
}
