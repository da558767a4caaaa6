package videoplayer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-videoplayer/internal/cadence"
	"github.com/e7canasta/orion-videoplayer/internal/media"
)

const (
	// DefaultReadErrorBudget is the number of consecutive read failures
	// tolerated before a session fails.
	DefaultReadErrorBudget = 30

	// DefaultFPSWindow is the sampling window of the fps estimate.
	DefaultFPSWindow = time.Second

	// DefaultOpenTimeout bounds network connect and read on open.
	DefaultOpenTimeout = 5 * time.Second
)

// Config contains engine-wide settings shared by every stream.
type Config struct {
	// Backend creates the native demuxer, decoder and remuxer (required).
	Backend media.Backend
	// Accelerator is the optional GPU capability provider.
	Accelerator media.Accelerator
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// DecoderThreads is the decoder thread count; 0 lets the library choose.
	DecoderThreads int
	// ReadErrorBudget is the consecutive read failure threshold.
	ReadErrorBudget int
	// FPSWindow is the fps sampling window.
	FPSWindow time.Duration
	// OpenTimeout bounds socket connect/read while opening.
	OpenTimeout time.Duration
	// CadenceWindow is the number of frame arrivals kept for Stability.
	CadenceWindow int
}

// DefaultConfig returns a Config with every default applied except Backend.
func DefaultConfig() Config {
	return Config{
		ReadErrorBudget: DefaultReadErrorBudget,
		FPSWindow:       DefaultFPSWindow,
		OpenTimeout:     DefaultOpenTimeout,
		CadenceWindow:   cadence.DefaultWindow,
	}
}

// withDefaults fills zero values and validates the rest.
func (c Config) withDefaults() (Config, error) {
	if c.Backend == nil {
		return c, fmt.Errorf("videoplayer: backend is required")
	}
	if c.DecoderThreads < 0 {
		return c, fmt.Errorf("videoplayer: invalid decoder threads %d", c.DecoderThreads)
	}
	if c.ReadErrorBudget < 0 {
		return c, fmt.Errorf("videoplayer: invalid read error budget %d", c.ReadErrorBudget)
	}
	if c.FPSWindow < 0 || c.OpenTimeout < 0 || c.CadenceWindow < 0 {
		return c, fmt.Errorf("videoplayer: negative window or timeout")
	}

	d := DefaultConfig()
	if c.ReadErrorBudget == 0 {
		c.ReadErrorBudget = d.ReadErrorBudget
	}
	if c.FPSWindow == 0 {
		c.FPSWindow = d.FPSWindow
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.CadenceWindow == 0 {
		c.CadenceWindow = d.CadenceWindow
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c, nil
}
