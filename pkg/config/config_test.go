package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Mindburn-Labs/windlass/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"WINDLASS_DATABASE_URL", "WINDLASS_LOG_LEVEL", "WINDLASS_EVENT_SINK",
		"WINDLASS_SWEEP_SECS", "WINDLASS_SOFT_SECS", "WINDLASS_HARD_SECS",
		"WINDLASS_HIGH_RISK", "WINDLASS_DEAD_FAILS", "WINDLASS_TELEMETRY",
	} {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	assert.Equal(t, "windlass.db", cfg.DatabaseURL)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "file", cfg.EventSink)
	assert.Equal(t, 60*time.Second, cfg.SweepInterval)
	assert.Equal(t, 300*time.Second, cfg.SoftThreshold)
	assert.Equal(t, 900*time.Second, cfg.HardThreshold)
	assert.Equal(t, []string{"COMPLETED", "FAILED"}, cfg.HighRisk)
	assert.False(t, cfg.DeadFails)
	assert.False(t, cfg.TelemetryEnabled)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("WINDLASS_DATABASE_URL", "postgres://w@db:5432/windlass")
	t.Setenv("WINDLASS_EVENT_SINK", "redis")
	t.Setenv("WINDLASS_SWEEP_SECS", "10")
	t.Setenv("WINDLASS_HIGH_RISK", "COMPLETED, PAUSED")
	t.Setenv("WINDLASS_DEAD_FAILS", "true")
	t.Setenv("WINDLASS_EVENT_RATE", "50")

	cfg := config.Load()

	assert.Equal(t, "postgres://w@db:5432/windlass", cfg.DatabaseURL)
	assert.Equal(t, "redis", cfg.EventSink)
	assert.Equal(t, 10*time.Second, cfg.SweepInterval)
	assert.Equal(t, []string{"COMPLETED", "PAUSED"}, cfg.HighRisk)
	assert.True(t, cfg.DeadFails)
	assert.Equal(t, 50.0, cfg.EventRate)
}

// Malformed numeric values fall back to defaults rather than failing boot.
func TestLoad_BadNumbers(t *testing.T) {
	t.Setenv("WINDLASS_SWEEP_SECS", "not-a-number")
	t.Setenv("WINDLASS_SOFT_SECS", "-5")

	cfg := config.Load()
	assert.Equal(t, 60*time.Second, cfg.SweepInterval)
	assert.Equal(t, 300*time.Second, cfg.SoftThreshold)
}
