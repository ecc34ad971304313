package robot

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = "dexhand.yaml"

// Config holds the hand configuration
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Recording   RecordingConfig   `yaml:"recording"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Gesture     GestureConfig     `yaml:"gesture"`
	API         APIConfig         `yaml:"api"`
	Log         LogConfig         `yaml:"log"`
	Simulate    bool              `yaml:"simulate"` // use the in-process servo simulator instead of a port
}

// SerialConfig describes the bus link and its retry policy.
type SerialConfig struct {
	Port      string `yaml:"port"`
	BaudRate  int    `yaml:"baud_rate"`
	TimeoutMs int    `yaml:"timeout_ms"` // read deadline per attempt
	Retries   int    `yaml:"retries"`    // extra attempts after the first
	BackoffMs int    `yaml:"backoff_ms"` // first retry delay, doubled per retry
	GapUs     int    `yaml:"gap_us"`     // idle time between packets
}

// ChannelsConfig holds per-channel defaults.
type ChannelsConfig struct {
	FreshnessMs         int `yaml:"freshness_ms"`
	MonitorMs           int `yaml:"monitor_ms"` // background feedback poll interval; negative disables it
	DefaultSpeed        int `yaml:"default_speed"`
	DefaultAcceleration int `yaml:"default_acceleration"`
}

// CalibrationConfig tunes the limit probe.
type CalibrationConfig struct {
	File             string `yaml:"file"`
	ProbeSpeed       int    `yaml:"probe_speed"`
	ProbeTorqueLimit int    `yaml:"probe_torque_limit"`
	ProbeMin         int    `yaml:"probe_min"` // position driven towards while probing the lower limit
	ProbeMax         int    `yaml:"probe_max"`
	Epsilon          int    `yaml:"epsilon"` // max position change still counted as stationary
	DebounceMs       int    `yaml:"debounce_ms"`
	PollMs           int    `yaml:"poll_ms"`
	MaxProbeMs       int    `yaml:"max_probe_ms"`
	MinSeparation    int    `yaml:"min_separation"`
}

// RecordingConfig holds recording defaults.
type RecordingConfig struct {
	Mode   string `yaml:"mode"` // "frame" or "realtime"
	RateHz int    `yaml:"rate_hz"`
	Dir    string `yaml:"dir"`
}

// PlaybackConfig is the servo profile applied to all channels before playback.
type PlaybackConfig struct {
	ServoSpeed   int `yaml:"servo_speed"`
	Acceleration int `yaml:"acceleration"`
	TorqueLimit  int `yaml:"torque_limit"`
}

// GestureConfig configures mirroring.
type GestureConfig struct {
	Profile       string  `yaml:"profile"` // YAML mapping profile; empty uses the built-in one
	MinConfidence float64 `yaml:"min_confidence"`
	RateHz        int     `yaml:"rate_hz"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file. Overrides run
// after parsing and before defaults and validation.
func LoadConfigFrom(path string, overrides ...func(*Config)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	for _, o := range overrides {
		o(&cfg)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Serial.BaudRate <= 0 {
		c.Serial.BaudRate = 1_000_000
	}
	if c.Serial.TimeoutMs <= 0 {
		c.Serial.TimeoutMs = 20
	}
	if c.Serial.Retries == 0 {
		c.Serial.Retries = 2
	}
	if c.Serial.BackoffMs <= 0 {
		c.Serial.BackoffMs = 2
	}
	if c.Serial.GapUs <= 0 {
		c.Serial.GapUs = 1000
	}
	if c.Channels.FreshnessMs <= 0 {
		c.Channels.FreshnessMs = 250
	}
	if c.Channels.MonitorMs == 0 {
		c.Channels.MonitorMs = 50
	}

	cal := &c.Calibration
	if cal.File == "" {
		cal.File = DefaultCalibrationFile
	}
	if cal.ProbeSpeed <= 0 {
		cal.ProbeSpeed = 200
	}
	if cal.ProbeTorqueLimit <= 0 {
		cal.ProbeTorqueLimit = 300
	}
	if cal.ProbeMax == 0 {
		cal.ProbeMax = 4095
	}
	if cal.Epsilon <= 0 {
		cal.Epsilon = 3
	}
	if cal.DebounceMs <= 0 {
		cal.DebounceMs = 150
	}
	if cal.PollMs <= 0 {
		cal.PollMs = 20
	}
	if cal.MaxProbeMs <= 0 {
		cal.MaxProbeMs = 8000
	}
	if cal.MinSeparation <= 0 {
		cal.MinSeparation = 200
	}

	if c.Recording.Mode == "" {
		c.Recording.Mode = "realtime"
	}
	if c.Recording.RateHz <= 0 {
		c.Recording.RateHz = 20
	}
	if c.Recording.Dir == "" {
		c.Recording.Dir = "recordings"
	}

	if c.Playback.ServoSpeed <= 0 {
		c.Playback.ServoSpeed = 1500
	}
	if c.Playback.Acceleration <= 0 {
		c.Playback.Acceleration = 50
	}
	if c.Playback.TorqueLimit <= 0 {
		c.Playback.TorqueLimit = 800
	}

	if c.Gesture.MinConfidence == 0 {
		c.Gesture.MinConfidence = 0.5
	}
	if c.Gesture.RateHz <= 0 {
		c.Gesture.RateHz = 30
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Serial.Port == "" && !c.Simulate {
		return fmt.Errorf("serial.port is required unless simulate is set")
	}
	if c.Serial.Retries < 0 || c.Serial.Retries > 10 {
		return fmt.Errorf("serial.retries must be between 0 and 10, got %d", c.Serial.Retries)
	}
	if c.Channels.MonitorMs >= c.Channels.FreshnessMs {
		return fmt.Errorf("channels.monitor_ms (%d) must be below freshness_ms (%d)", c.Channels.MonitorMs, c.Channels.FreshnessMs)
	}
	if c.Calibration.ProbeMin >= c.Calibration.ProbeMax {
		return fmt.Errorf("calibration.probe_min (%d) must be below probe_max (%d)", c.Calibration.ProbeMin, c.Calibration.ProbeMax)
	}
	if c.Calibration.DebounceMs >= c.Calibration.MaxProbeMs {
		return fmt.Errorf("calibration.debounce_ms must be shorter than max_probe_ms")
	}
	switch c.Recording.Mode {
	case "frame", "realtime":
	default:
		return fmt.Errorf("recording.mode must be frame or realtime, got %q", c.Recording.Mode)
	}
	if c.Recording.RateHz < 1 || c.Recording.RateHz > 100 {
		return fmt.Errorf("recording.rate_hz must be between 1 and 100, got %d", c.Recording.RateHz)
	}
	if c.Gesture.MinConfidence < 0 || c.Gesture.MinConfidence > 1 {
		return fmt.Errorf("gesture.min_confidence must be between 0 and 1, got %.2f", c.Gesture.MinConfidence)
	}
	return nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the config file at path exists
func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s SerialConfig) Timeout() time.Duration { return time.Duration(s.TimeoutMs) * time.Millisecond }
func (s SerialConfig) Backoff() time.Duration { return time.Duration(s.BackoffMs) * time.Millisecond }
func (s SerialConfig) Gap() time.Duration     { return time.Duration(s.GapUs) * time.Microsecond }

// Freshness returns the feedback freshness window.
func (c ChannelsConfig) Freshness() time.Duration {
	return time.Duration(c.FreshnessMs) * time.Millisecond
}

// MonitorInterval returns how often feedback is polled in the background,
// or 0 when the monitor is off.
func (c ChannelsConfig) MonitorInterval() time.Duration {
	if c.MonitorMs < 0 {
		return 0
	}
	return time.Duration(c.MonitorMs) * time.Millisecond
}

func (c CalibrationConfig) Debounce() time.Duration { return time.Duration(c.DebounceMs) * time.Millisecond }
func (c CalibrationConfig) Poll() time.Duration     { return time.Duration(c.PollMs) * time.Millisecond }
func (c CalibrationConfig) MaxProbe() time.Duration { return time.Duration(c.MaxProbeMs) * time.Millisecond }
