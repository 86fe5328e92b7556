package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)
	SetDefaults()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Pool.URL)
	assert.Equal(t, "default", cfg.Pool.ScanType)
	assert.Equal(t, 60, cfg.Pool.ReportIntervalSeconds)
	assert.Equal(t, 3, cfg.Pool.GraceFactor)
	assert.Equal(t, 71, cfg.Pool.Puzzle)
	assert.Equal(t, 1e9, cfg.Scheduler.HighRateThreshold)
	assert.Equal(t, 1e8, cfg.Scheduler.SlowRateFloor)
	assert.Equal(t, 120, cfg.Scheduler.StalenessWindowMinutes)
	assert.Equal(t, 3, cfg.Scheduler.SplitCount)
	assert.Equal(t, 30, cfg.Scheduler.TickSeconds)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Paths.DataDir)
}

func TestLoadOverrides(t *testing.T) {
	resetViper(t)
	SetDefaults()
	viper.Set("pool.url", "https://pool.example.com")
	viper.Set("pool.report_interval_seconds", 30)
	viper.Set("scheduler.tick_seconds", 5)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://pool.example.com", cfg.Pool.URL)
	assert.Equal(t, 30, cfg.Pool.ReportIntervalSeconds)
	assert.Equal(t, 5, cfg.Scheduler.TickSeconds)
}

func TestValidateNormalizes(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 60, cfg.Pool.ReportIntervalSeconds)
	assert.Equal(t, 3, cfg.Pool.GraceFactor)
	assert.Equal(t, "default", cfg.Pool.ScanType)
	assert.Equal(t, 3, cfg.Scheduler.SplitCount)
	assert.Equal(t, 30, cfg.Scheduler.TickSeconds)
	assert.NotEmpty(t, cfg.Paths.DataDir)
}

func TestValidateScanType(t *testing.T) {
	cfg := &Config{Pool: PoolConfig{ScanType: "RANDOM"}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "random", cfg.Pool.ScanType)

	cfg = &Config{Pool: PoolConfig{ScanType: "stride"}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "stride", cfg.Pool.ScanType, "unknown scan types pass through")
}

func TestDurationHelpers(t *testing.T) {
	p := PoolConfig{ReportIntervalSeconds: 45, RequestTimeoutSeconds: 7}
	assert.Equal(t, "45s", p.ReportInterval().String())
	assert.Equal(t, "7s", p.RequestTimeout().String())

	s := SchedulerConfig{StalenessWindowMinutes: 90, TickSeconds: 15}
	assert.Equal(t, "1h30m0s", s.StalenessWindow().String())
	assert.Equal(t, "15s", s.Tick().String())
}
