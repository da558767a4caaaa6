package config

import (
	"fmt"
	"os"
	"time"

	videoplayer "github.com/e7canasta/orion-videoplayer"
	"gopkg.in/yaml.v3"
)

// Config represents the complete ingestion engine configuration
type Config struct {
	Engine  EngineConfig   `yaml:"engine"`
	GPU     GPUConfig      `yaml:"gpu"`
	Streams []StreamConfig `yaml:"streams"`
}

// EngineConfig contains settings shared by every stream
type EngineConfig struct {
	DecoderThreads  int           `yaml:"decoder_threads"`   // 0 lets the decoder choose
	ReadErrorBudget int           `yaml:"read_error_budget"` // consecutive read failures tolerated (default: 30)
	FPSWindow       time.Duration `yaml:"fps_window"`        // fps sampling window (default: 1s)
	OpenTimeout     time.Duration `yaml:"open_timeout"`      // socket timeout while opening (default: 5s)
	CadenceWindow   int           `yaml:"cadence_window"`    // frame arrivals kept for stability stats
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`  // graceful shutdown timeout (default: 5s)
	RecordingsDir   string        `yaml:"recordings_dir"`
	SnapshotsDir    string        `yaml:"snapshots_dir"`
	LogLevel        string        `yaml:"log_level"` // debug, info, warn, error

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains configuration for exponential backoff reopening
// of streams that failed
type ReconnectConfig struct {
	MaxRetries    int           `yaml:"max_retries"`     // 0 disables reopening (default: 5)
	RetryDelay    time.Duration `yaml:"retry_delay"`     // initial delay (default: 1s)
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"` // delay cap (default: 30s)
}

// Enabled reports whether failed streams are reopened.
func (r ReconnectConfig) Enabled() bool {
	return r.MaxRetries > 0
}

// GPUConfig enables the optional acceleration provider
type GPUConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DeviceType      string        `yaml:"device_type"` // FFmpeg hwdevice type: vaapi, cuda, qsv
	Device          string        `yaml:"device"`      // e.g. /dev/dri/renderD128
	Encoder         string        `yaml:"encoder"`     // snapshot encoder: auto, vaapi, software
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout"`
}

// StreamConfig defines a single named stream
type StreamConfig struct {
	Name      string `yaml:"name"`
	URI       string `yaml:"uri"`
	AutoStart bool   `yaml:"auto_start"`
	// Container extension used for recordings of this stream (default: mkv)
	RecordFormat string                    `yaml:"record_format"`
	Options      videoplayer.StreamOptions `yaml:"options"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with no streams
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			ReadErrorBudget: videoplayer.DefaultReadErrorBudget,
			FPSWindow:       videoplayer.DefaultFPSWindow,
			OpenTimeout:     videoplayer.DefaultOpenTimeout,
			ShutdownTimeout: 5 * time.Second,
			RecordingsDir:   "recordings",
			SnapshotsDir:    "snapshots",
			LogLevel:        "info",
			Reconnect: ReconnectConfig{
				MaxRetries:    5,
				RetryDelay:    time.Second,
				MaxRetryDelay: 30 * time.Second,
			},
		},
		GPU: GPUConfig{
			DeviceType:      "vaapi",
			Encoder:         "auto",
			SnapshotTimeout: 2 * time.Second,
		},
	}
}

// PlayerConfig converts the engine section into player settings. Backend,
// Accelerator and Logger are left for the caller.
func (c *Config) PlayerConfig() videoplayer.Config {
	return videoplayer.Config{
		DecoderThreads:  c.Engine.DecoderThreads,
		ReadErrorBudget: c.Engine.ReadErrorBudget,
		FPSWindow:       c.Engine.FPSWindow,
		OpenTimeout:     c.Engine.OpenTimeout,
		CadenceWindow:   c.Engine.CadenceWindow,
	}
}

// Stream returns the stream named name.
func (c *Config) Stream(name string) (StreamConfig, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return StreamConfig{}, false
}
