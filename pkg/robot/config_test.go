package robot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dexhand.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial:\n  port: /dev/ttyUSB0\n"), 0644))

	cfg, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 1_000_000, cfg.Serial.BaudRate)
	assert.Equal(t, 2, cfg.Serial.Retries)
	assert.Equal(t, 20, cfg.Recording.RateHz)
	assert.Equal(t, "realtime", cfg.Recording.Mode)
	assert.Equal(t, DefaultCalibrationFile, cfg.Calibration.File)
	assert.Equal(t, 50*time.Millisecond, cfg.Channels.MonitorInterval())
	assert.Equal(t, time.Millisecond, cfg.Serial.Gap())
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing port", "simulate: false\n"},
		{"bad mode", "simulate: true\nrecording:\n  mode: video\n"},
		{"rate too high", "simulate: true\nrecording:\n  rate_hz: 101\n"},
		{"probe range", "simulate: true\ncalibration:\n  probe_min: 4000\n  probe_max: 100\n"},
		{"confidence", "simulate: true\ngesture:\n  min_confidence: 1.5\n"},
		{"monitor slower than freshness", "simulate: true\nchannels:\n  freshness_ms: 100\n  monitor_ms: 100\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "dexhand.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))
			_, err := LoadConfigFrom(path)
			assert.Error(t, err)
		})
	}
}

func TestConfigSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dexhand.yaml")
	cfg := DefaultConfig()
	cfg.Simulate = true
	cfg.Playback.ServoSpeed = 900

	require.NoError(t, cfg.SaveTo(path))
	assert.True(t, ConfigExists(path))

	loaded, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfigOverridesRunBeforeValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dexhand.yaml")
	require.NoError(t, os.WriteFile(path, []byte("playback:\n  servo_speed: 700\n"), 0644))

	_, err := LoadConfigFrom(path)
	require.Error(t, err, "no port and no simulator")

	cfg, err := LoadConfigFrom(path, func(c *Config) { c.Simulate = true })
	require.NoError(t, err)
	assert.True(t, cfg.Simulate)
	assert.Equal(t, 700, cfg.Playback.ServoSpeed)
}

func TestMonitorCanBeDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dexhand.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulate: true\nchannels:\n  monitor_ms: -1\n"), 0644))

	cfg, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Channels.MonitorInterval())
}
