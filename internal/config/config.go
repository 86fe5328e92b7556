// Package config loads rangepool configuration through viper: defaults,
// an optional YAML config file, and RANGEPOOL_* environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete rangepool configuration.
type Config struct {
	Pool      PoolConfig      `mapstructure:"pool"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PoolConfig controls participation in a shared search pool.
type PoolConfig struct {
	// URL is the remote pool endpoint. Empty means local-only operation.
	URL string `mapstructure:"url"`
	// ClientID identifies this participant. Generated on first run if empty.
	ClientID string `mapstructure:"client_id"`
	// ScanType selects the worker scan strategy ("default" or "random").
	ScanType string `mapstructure:"scan_type"`
	// ReportIntervalSeconds is the heartbeat cadence for progress reports.
	ReportIntervalSeconds int `mapstructure:"report_interval_seconds"`
	// GraceFactor multiplies the report interval to get the expiry window:
	// an assignment silent for interval*factor is treated as abandoned.
	GraceFactor int `mapstructure:"grace_factor"`
	// CustomRange optionally pins the search to "start:end" hex bounds.
	CustomRange string `mapstructure:"custom_range"`
	// TargetID is the opaque identifier handed to search workers.
	TargetID string `mapstructure:"target_id"`
	// Puzzle selects the standard interval [2^(n-1), 2^n) when no custom
	// range is given.
	Puzzle int `mapstructure:"puzzle"`
	// RequestTimeoutSeconds bounds every remote pool call.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// ReportInterval returns the heartbeat cadence as a duration.
func (p PoolConfig) ReportInterval() time.Duration {
	return time.Duration(p.ReportIntervalSeconds) * time.Second
}

// RequestTimeout returns the remote call bound as a duration.
func (p PoolConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSeconds) * time.Second
}

// SchedulerConfig controls range scoring and selection thresholds.
type SchedulerConfig struct {
	// HighRateThreshold is the keys/sec above which a range earns the
	// throughput score bonus.
	HighRateThreshold float64 `mapstructure:"high_rate_threshold"`
	// SlowRateFloor is the keys/sec below which a range is flagged slow.
	SlowRateFloor float64 `mapstructure:"slow_rate_floor"`
	// StalenessWindowMinutes is how long a range may go without a report
	// before it is flagged stalled.
	StalenessWindowMinutes int `mapstructure:"staleness_window_minutes"`
	// SplitCount is the default number of pieces for manifest GPU splits.
	SplitCount int `mapstructure:"split_count"`
	// TickSeconds is the coordinator's housekeeping cadence (expiry
	// sweeps). Explicit so tests and deployments can tune it.
	TickSeconds int `mapstructure:"tick_seconds"`
}

// StalenessWindow returns the stall threshold as a duration.
func (s SchedulerConfig) StalenessWindow() time.Duration {
	return time.Duration(s.StalenessWindowMinutes) * time.Minute
}

// Tick returns the coordinator housekeeping cadence as a duration.
func (s SchedulerConfig) Tick() time.Duration {
	return time.Duration(s.TickSeconds) * time.Second
}

// PathsConfig controls where rangepool keeps its state.
type PathsConfig struct {
	// DataDir holds the manifest, ledger, pool identity, and logs.
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level"`
}

// ConfigDir returns the directory searched for config.yaml.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "rangepool")
}

// DefaultDataDir returns the default state directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rangepool"
	}
	return filepath.Join(home, ".rangepool")
}

// SetDefaults registers every default value with viper. Call before
// reading the config file so defaults apply even without one.
func SetDefaults() {
	viper.SetDefault("pool.url", "")
	viper.SetDefault("pool.client_id", "")
	viper.SetDefault("pool.scan_type", "default")
	viper.SetDefault("pool.report_interval_seconds", 60)
	viper.SetDefault("pool.grace_factor", 3)
	viper.SetDefault("pool.custom_range", "")
	viper.SetDefault("pool.target_id", "")
	viper.SetDefault("pool.puzzle", 71)
	viper.SetDefault("pool.request_timeout_seconds", 10)

	viper.SetDefault("scheduler.high_rate_threshold", 1e9)
	viper.SetDefault("scheduler.slow_rate_floor", 1e8)
	viper.SetDefault("scheduler.staleness_window_minutes", 120)
	viper.SetDefault("scheduler.split_count", 3)
	viper.SetDefault("scheduler.tick_seconds", 30)

	viper.SetDefault("paths.data_dir", DefaultDataDir())
	viper.SetDefault("logging.level", "INFO")
}

// Load unmarshals the current viper state into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges and normalizes sloppy values.
func (c *Config) Validate() error {
	if c.Pool.ReportIntervalSeconds < 1 {
		c.Pool.ReportIntervalSeconds = 60
	}
	if c.Pool.GraceFactor < 1 {
		c.Pool.GraceFactor = 3
	}
	if c.Pool.RequestTimeoutSeconds < 1 {
		c.Pool.RequestTimeoutSeconds = 10
	}
	if c.Scheduler.SplitCount < 1 {
		c.Scheduler.SplitCount = 3
	}
	if c.Scheduler.TickSeconds < 1 {
		c.Scheduler.TickSeconds = 30
	}
	if c.Scheduler.StalenessWindowMinutes < 1 {
		c.Scheduler.StalenessWindowMinutes = 120
	}
	switch strings.ToLower(c.Pool.ScanType) {
	case "", "default":
		c.Pool.ScanType = "default"
	case "random":
		c.Pool.ScanType = "random"
	default:
		// Unknown scan types pass through for forward compatibility;
		// the remote pool is the authority on what it accepts.
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = DefaultDataDir()
	}
	return nil
}
