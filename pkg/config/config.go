package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete Atlas Locks configuration
type Config struct {
	Locks    LocksConfig    `mapstructure:"locks" yaml:"locks"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Workload WorkloadConfig `mapstructure:"workload" yaml:"workload"`
}

// LocksConfig contains lock manager configuration
type LocksConfig struct {
	RetainFreeRanges bool `mapstructure:"retain_free_ranges" yaml:"retain_free_ranges"`
}

// StorageConfig contains BadgerDB storage configuration
type StorageConfig struct {
	DataDir         string        `mapstructure:"data_dir" yaml:"data_dir"`
	InMemory        bool          `mapstructure:"in_memory" yaml:"in_memory"`
	SyncWrites      bool          `mapstructure:"sync_writes" yaml:"sync_writes"`
	NumVersions     int           `mapstructure:"num_versions" yaml:"num_versions"`
	GCInterval      time.Duration `mapstructure:"gc_interval" yaml:"gc_interval"`
	ValueLogGCRatio float64       `mapstructure:"value_log_gc_ratio" yaml:"value_log_gc_ratio"`
}

// MetricsConfig contains the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "json" or "text"
	Output string `mapstructure:"output" yaml:"output"` // "stdout", "stderr", or file path
}

// WorkloadConfig shapes the transactions generated by the bench command
type WorkloadConfig struct {
	Workers            int           `mapstructure:"workers" yaml:"workers"`
	Transactions       int           `mapstructure:"transactions" yaml:"transactions"`
	Databases          int           `mapstructure:"databases" yaml:"databases"`
	Stores             int           `mapstructure:"stores" yaml:"stores"`
	KeysPerStore       int           `mapstructure:"keys_per_store" yaml:"keys_per_store"`
	ReadRatio          float64       `mapstructure:"read_ratio" yaml:"read_ratio"`
	VersionChangeRatio float64       `mapstructure:"version_change_ratio" yaml:"version_change_ratio"`
	KeyRangeRatio      float64       `mapstructure:"key_range_ratio" yaml:"key_range_ratio"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Locks: LocksConfig{
			RetainFreeRanges: false,
		},
		Storage: StorageConfig{
			DataDir:         "./data",
			InMemory:        false,
			SyncWrites:      true,
			NumVersions:     1,
			GCInterval:      5 * time.Minute,
			ValueLogGCRatio: 0.5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "localhost:9464",
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Workload: WorkloadConfig{
			Workers:            8,
			Transactions:       10000,
			Databases:          2,
			Stores:             4,
			KeysPerStore:       64,
			ReadRatio:          0.7,
			VersionChangeRatio: 0.01,
			KeyRangeRatio:      0.2,
			Timeout:            5 * time.Second,
		},
	}
}

// ResetViper resets the global Viper instance (for testing)
func ResetViper() {
	viper.Reset()
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")
	viper.SetConfigName("atlas-locks")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/atlas-locks")
		viper.AddConfigPath("$HOME/.atlas-locks")
	}

	// Environment variable prefix
	viper.SetEnvPrefix("ATLAS_LOCKS")
	viper.AutomaticEnv()

	// Set up environment variable mapping
	_ = viper.BindEnv("storage.data_dir", "ATLAS_LOCKS_DATA_DIR")
	_ = viper.BindEnv("storage.in_memory", "ATLAS_LOCKS_IN_MEMORY")
	_ = viper.BindEnv("locks.retain_free_ranges", "ATLAS_LOCKS_RETAIN_FREE_RANGES")
	_ = viper.BindEnv("metrics.enabled", "ATLAS_LOCKS_METRICS_ENABLED")
	_ = viper.BindEnv("metrics.address", "ATLAS_LOCKS_METRICS_ADDRESS")
	_ = viper.BindEnv("logging.level", "ATLAS_LOCKS_LOG_LEVEL")
	_ = viper.BindEnv("workload.workers", "ATLAS_LOCKS_WORKERS")

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay, we'll use defaults and env vars
	}

	// Unmarshal config
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.Storage.InMemory && c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir cannot be empty unless storage.in_memory is set")
	}

	if c.Storage.NumVersions <= 0 {
		return fmt.Errorf("storage.num_versions must be positive")
	}

	if c.Storage.GCInterval <= 0 {
		return fmt.Errorf("storage.gc_interval must be positive")
	}

	if c.Storage.ValueLogGCRatio <= 0 || c.Storage.ValueLogGCRatio >= 1 {
		return fmt.Errorf("storage.value_log_gc_ratio must be between 0 and 1")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return fmt.Errorf("metrics.address cannot be empty when metrics are enabled")
		}
		if len(c.Metrics.Path) == 0 || c.Metrics.Path[0] != '/' {
			return fmt.Errorf("metrics.path must start with /")
		}
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLogLevels)
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of: %v", validLogFormats)
	}

	if c.Logging.Output == "" {
		return fmt.Errorf("logging.output cannot be empty")
	}

	return c.Workload.Validate()
}

// Validate validates the workload section on its own, for callers that
// override it after loading
func (w *WorkloadConfig) Validate() error {
	if w.Workers <= 0 {
		return fmt.Errorf("workload.workers must be positive")
	}

	if w.Transactions <= 0 {
		return fmt.Errorf("workload.transactions must be positive")
	}

	if w.Databases <= 0 || w.Stores <= 0 || w.KeysPerStore <= 0 {
		return fmt.Errorf("workload.databases, workload.stores and workload.keys_per_store must be positive")
	}

	for name, ratio := range map[string]float64{
		"read_ratio":           w.ReadRatio,
		"version_change_ratio": w.VersionChangeRatio,
		"key_range_ratio":      w.KeyRangeRatio,
	} {
		if ratio < 0 || ratio > 1 {
			return fmt.Errorf("workload.%s must be between 0 and 1", name)
		}
	}

	if w.ReadRatio+w.VersionChangeRatio > 1 {
		return fmt.Errorf("workload.read_ratio and workload.version_change_ratio must not add up to more than 1")
	}

	if w.Timeout <= 0 {
		return fmt.Errorf("workload.timeout must be positive")
	}

	return nil
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	return slices.Contains(slice, item)
}

// YAML renders the configuration in the format LoadConfig reads
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	viper.SetConfigFile(path)
	for key, value := range c.settings() {
		viper.Set(key, value)
	}

	return viper.WriteConfig()
}

// settings flattens the configuration into viper keys
func (c *Config) settings() map[string]any {
	return map[string]any{
		"locks.retain_free_ranges":      c.Locks.RetainFreeRanges,
		"storage.data_dir":              c.Storage.DataDir,
		"storage.in_memory":             c.Storage.InMemory,
		"storage.sync_writes":           c.Storage.SyncWrites,
		"storage.num_versions":          c.Storage.NumVersions,
		"storage.gc_interval":           c.Storage.GCInterval.String(),
		"storage.value_log_gc_ratio":    c.Storage.ValueLogGCRatio,
		"metrics.enabled":               c.Metrics.Enabled,
		"metrics.address":               c.Metrics.Address,
		"metrics.path":                  c.Metrics.Path,
		"logging.level":                 c.Logging.Level,
		"logging.format":                c.Logging.Format,
		"logging.output":                c.Logging.Output,
		"workload.workers":              c.Workload.Workers,
		"workload.transactions":         c.Workload.Transactions,
		"workload.databases":            c.Workload.Databases,
		"workload.stores":               c.Workload.Stores,
		"workload.keys_per_store":       c.Workload.KeysPerStore,
		"workload.read_ratio":           c.Workload.ReadRatio,
		"workload.version_change_ratio": c.Workload.VersionChangeRatio,
		"workload.key_range_ratio":      c.Workload.KeyRangeRatio,
		"workload.timeout":              c.Workload.Timeout.String(),
	}
}
