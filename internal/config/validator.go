package config

import (
	"fmt"
	"regexp"
	"strings"
)

var streamNamePattern = regexp.MustCompile(`^[a-z0-9\-_]+$`)

var recordFormats = map[string]bool{
	"mkv":  true,
	"webm": true,
	"mp4":  true,
	"m4v":  true,
	"mov":  true,
	"ts":   true,
}

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	if err := validateEngine(&cfg.Engine); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	if cfg.GPU.Enabled {
		switch cfg.GPU.Encoder {
		case "", "auto", "vaapi", "software":
		default:
			return fmt.Errorf("gpu.encoder must be auto, vaapi or software, got %q", cfg.GPU.Encoder)
		}
		if cfg.GPU.SnapshotTimeout < 0 {
			return fmt.Errorf("gpu.snapshot_timeout must be >= 0")
		}
	}

	seen := make(map[string]bool, len(cfg.Streams))
	for i := range cfg.Streams {
		s := &cfg.Streams[i]
		if err := validateStream(s); err != nil {
			return fmt.Errorf("streams[%d]: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("streams[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}

	return nil
}

func validateEngine(e *EngineConfig) error {
	if e.DecoderThreads < 0 {
		return fmt.Errorf("decoder_threads must be >= 0")
	}
	if e.ReadErrorBudget < 0 {
		return fmt.Errorf("read_error_budget must be >= 0")
	}
	if e.FPSWindow < 0 || e.OpenTimeout < 0 || e.ShutdownTimeout < 0 {
		return fmt.Errorf("durations must be >= 0")
	}
	if e.CadenceWindow < 0 {
		return fmt.Errorf("cadence_window must be >= 0")
	}

	if e.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("reconnect.max_retries must be >= 0")
	}
	if e.Reconnect.Enabled() && (e.Reconnect.RetryDelay <= 0 || e.Reconnect.MaxRetryDelay < e.Reconnect.RetryDelay) {
		return fmt.Errorf("reconnect delays must satisfy 0 < retry_delay <= max_retry_delay")
	}

	switch strings.ToLower(e.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", e.LogLevel)
	}
	return nil
}

func validateStream(s *StreamConfig) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !streamNamePattern.MatchString(s.Name) {
		return fmt.Errorf("name %q must match pattern [a-z0-9-_]+", s.Name)
	}
	if s.URI == "" {
		return fmt.Errorf("%s: uri is required", s.Name)
	}

	if s.RecordFormat == "" {
		s.RecordFormat = "mkv"
	}
	s.RecordFormat = strings.TrimPrefix(strings.ToLower(s.RecordFormat), ".")
	if !recordFormats[s.RecordFormat] {
		return fmt.Errorf("%s: unsupported record_format %q", s.Name, s.RecordFormat)
	}

	if err := s.Options.Validate(); err != nil {
		return fmt.Errorf("%s: %w", s.Name, err)
	}
	return nil
}
