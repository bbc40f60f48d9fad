package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig holds storage-layer configurations.
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	Compression string `yaml:"compression"` // "none", "snappy", "lz4", "zstd"
}

// RecoveryConfig holds replication-recovery configurations.
type RecoveryConfig struct {
	// TakeUnstableCheckpointOnShutdown permits standalone recovery from an
	// unstable checkpoint, provided no oplog recovery is actually needed.
	TakeUnstableCheckpointOnShutdown bool `yaml:"take_unstable_checkpoint_on_shutdown"`
	// BatchMaxOps caps the number of operations per applier batch.
	BatchMaxOps int `yaml:"batch_max_ops"`
	// BatchMaxBytes caps the byte size of an applier batch; 0 derives the
	// cap from available system memory.
	BatchMaxBytes int64 `yaml:"batch_max_bytes"`
	// WriterPoolSize is the number of parallel writers used within a batch.
	WriterPoolSize int `yaml:"writer_pool_size"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// Config is the top-level configuration struct.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Storage: StorageConfig{
			DataDir:     "./data",
			Compression: "snappy",
		},
		Recovery: RecoveryConfig{
			TakeUnstableCheckpointOnShutdown: false,
			BatchMaxOps:                      5000,
			BatchMaxBytes:                    0,
			WriterPoolSize:                   4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "nexusdoc.log",
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

func (c *Config) validate() error {
	switch c.Storage.Compression {
	case "", "none", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("unknown storage compression: %q", c.Storage.Compression)
	}
	if c.Recovery.BatchMaxOps < 0 {
		return fmt.Errorf("recovery batch_max_ops must not be negative")
	}
	if c.Recovery.BatchMaxBytes < 0 {
		return fmt.Errorf("recovery batch_max_bytes must not be negative")
	}
	if c.Recovery.WriterPoolSize < 0 {
		return fmt.Errorf("recovery writer_pool_size must not be negative")
	}
	return nil
}
