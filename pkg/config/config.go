package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/functionland/fulasync/pkg/syncer"
	"github.com/functionland/fulasync/pkg/transfer"
	"github.com/functionland/fulasync/pkg/watch"
)

// Config represents the complete fulasync configuration.
//
// This structure captures all configurable aspects of the sync daemon:
//   - Logging configuration
//   - Remote object storage (S3 or compatible)
//   - Local state store selection and configuration (store-specific)
//   - Sync queue and transfer tuning
//   - Watched directory definitions
//   - Metrics exposure
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (FULASYNC_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// The state store section contains a Type selector plus type-specific
// option maps; only the map matching the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Storage specifies the remote object storage backend
	Storage StorageConfig `mapstructure:"storage"`

	// State specifies the local state store type and type-specific configuration
	State StateConfig `mapstructure:"state"`

	// Sync tunes the task queue and the transfer engine
	Sync SyncConfig `mapstructure:"sync"`

	// Watches defines the list of watched directories
	Watches []watch.Config `mapstructure:"watches" validate:"dive"`

	// Metrics controls the Prometheus metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// StorageConfig specifies the remote object storage backend.
//
// Endpoint and path-style addressing support S3-compatible services such
// as MinIO; leaving Endpoint empty uses the standard AWS endpoints. When
// both credential fields are empty the default AWS credential chain
// applies (environment, shared config, instance role).
type StorageConfig struct {
	// Bucket is the bucket all sync tasks read and write
	Bucket string `mapstructure:"bucket" validate:"required"`

	// Region is the bucket region
	Region string `mapstructure:"region" validate:"required"`

	// Endpoint overrides the S3 endpoint URL for compatible services
	Endpoint string `mapstructure:"endpoint"`

	// AccessKeyID is the static access key; empty uses the default chain
	AccessKeyID string `mapstructure:"access_key_id"`

	// SecretAccessKey is the static secret key paired with AccessKeyID
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// MaxRetries is the SDK-level retry attempt count for transient errors
	MaxRetries int `mapstructure:"max_retries"`
}

// StateConfig specifies local state store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type StateConfig struct {
	// Type specifies which state store implementation to use
	// Valid values: badger, memory
	Type string `mapstructure:"type" validate:"required,oneof=badger memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`
}

// SyncConfig tunes the task queue and the transfer engine.
type SyncConfig struct {
	// Queue configures workers, polling, and retry policy
	Queue syncer.Config `mapstructure:"queue"`

	// Transfer configures multipart thresholds and part retries
	Transfer transfer.Config `mapstructure:"transfer"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled"`

	// Listen is the address the metrics server binds to
	Listen string `mapstructure:"listen"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (FULASYNC_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use FULASYNC_ prefix and underscores
	// Example: FULASYNC_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("FULASYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/fulasync/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		// Other errors are problems
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fulasync")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "fulasync")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
