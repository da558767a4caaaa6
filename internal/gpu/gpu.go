// Package gpu provides the optional hardware acceleration capability: a VAAPI
// (or other FFmpeg hwdevice) context shared by stream decoders, and a
// GStreamer still-image encoder that prefers the VAAPI JPEG encoder and falls
// back to the software one.
package gpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-videoplayer/internal/av"
	"github.com/e7canasta/orion-videoplayer/internal/media"
	"github.com/tinyzimmer/go-gst/gst"
)

// Encoder selection modes.
const (
	EncoderAuto     = "auto"
	EncoderVAAPI    = "vaapi"
	EncoderSoftware = "software"
)

// ErrUnavailable is returned when neither a device context nor an encoder
// could be created.
var ErrUnavailable = errors.New("gpu: acceleration unavailable")

// Config selects the device and the snapshot encoder.
type Config struct {
	// DeviceType is an FFmpeg hwdevice type name ("vaapi", "cuda", "qsv").
	DeviceType string `yaml:"device_type"`
	// Device is the device node, e.g. /dev/dri/renderD128. Empty lets
	// FFmpeg choose.
	Device string `yaml:"device"`
	// Encoder is one of auto, vaapi or software.
	Encoder string `yaml:"encoder"`
	// SnapshotTimeout bounds a single encode.
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout"`
}

// DefaultConfig returns VAAPI on the default render node.
func DefaultConfig() Config {
	return Config{
		DeviceType:      "vaapi",
		Encoder:         EncoderAuto,
		SnapshotTimeout: 2 * time.Second,
	}
}

// Provider owns the process-wide acceleration resources.
type Provider struct {
	cfg Config
	log *slog.Logger

	hw      *av.HardwareContext
	encoder string

	counts ErrorCounters
}

// New opens the device context and checks the snapshot encoder. A provider
// is returned as long as one of the two is usable.
func New(cfg Config, log *slog.Logger) (*Provider, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = DefaultConfig().SnapshotTimeout
	}
	p := &Provider{cfg: cfg, log: log.With("component", "gpu")}

	if cfg.DeviceType != "" {
		hw, err := av.NewHardwareContext(cfg.DeviceType, cfg.Device)
		if err != nil {
			p.log.Warn("gpu: hardware decode unavailable", "device_type", cfg.DeviceType, "device", cfg.Device, "error", err)
		} else {
			p.hw = hw
		}
	}

	enc, err := selectEncoder(cfg.Encoder)
	if err != nil {
		p.log.Warn("gpu: jpeg encoder unavailable", "mode", cfg.Encoder, "error", err)
	} else {
		p.encoder = enc
	}

	if p.hw == nil && p.encoder == "" {
		return nil, ErrUnavailable
	}

	p.log.Info("gpu: provider initialized",
		"device_type", cfg.DeviceType,
		"hardware_decode", p.hw != nil,
		"jpeg_encoder", p.encoder,
	)
	return p, nil
}

// encoderCandidates lists GStreamer JPEG encoders in preference order.
func encoderCandidates(mode string) ([]string, error) {
	switch mode {
	case "", EncoderAuto:
		return []string{"vaapijpegenc", "jpegenc"}, nil
	case EncoderVAAPI:
		return []string{"vaapijpegenc"}, nil
	case EncoderSoftware:
		return []string{"jpegenc"}, nil
	default:
		return nil, fmt.Errorf("invalid encoder mode: %q", mode)
	}
}

// selectEncoder returns the first candidate the GStreamer registry can build.
func selectEncoder(mode string) (string, error) {
	candidates, err := encoderCandidates(mode)
	if err != nil {
		return "", err
	}
	gst.Init(nil)

	var lastErr error
	for _, name := range candidates {
		if _, err := gst.NewElement(name); err != nil {
			slog.Debug("gpu: encoder not available", "element", name, "error", err)
			lastErr = err
			continue
		}
		return name, nil
	}
	return "", fmt.Errorf("no jpeg encoder among %v: %w", candidates, lastErr)
}

// Initialized reports whether any capability is available.
func (p *Provider) Initialized() bool {
	return p != nil && (p.hw != nil || p.encoder != "")
}

// Encoder reports the selected JPEG element, or "" when none.
func (p *Provider) Encoder() string { return p.encoder }

// Errors returns the encoder error counters.
func (p *Provider) Errors() ErrorStats { return p.counts.Snapshot() }

// Attach returns a per-stream view that shares the device context and the
// encoder but retains its own most recent frame.
func (p *Provider) Attach() *Stream {
	return &Stream{p: p}
}

// Close releases the device context. Streams must be detached first.
func (p *Provider) Close() {
	if p != nil && p.hw != nil {
		p.hw.Close()
	}
}

// Stream implements media.Accelerator for one video stream.
type Stream struct {
	p *Provider

	mu     sync.Mutex
	latest media.Frame
}

// Initialized implements media.Accelerator.
func (s *Stream) Initialized() bool { return s != nil && s.p.Initialized() }

// DeviceContext implements media.Accelerator. It returns nil when hardware
// decoding is unavailable.
func (s *Stream) DeviceContext() media.HardwareContext {
	if s == nil || s.p.hw == nil {
		return nil
	}
	return s.p.hw
}

// ProcessFrame keeps a reference to the most recent frame for Snapshot.
func (s *Stream) ProcessFrame(frame media.Frame) {
	if s == nil || s.p.encoder == "" || frame == nil {
		return
	}
	clone, err := frame.Clone()
	if err != nil {
		return
	}

	s.mu.Lock()
	old := s.latest
	s.latest = clone
	s.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

// Snapshot implements media.Accelerator. It encodes the most recent frame
// and returns nil when there is none or encoding fails.
func (s *Stream) Snapshot() []byte {
	if s == nil || s.p.encoder == "" {
		return nil
	}

	s.mu.Lock()
	var frame media.Frame
	if s.latest != nil {
		if c, err := s.latest.Clone(); err == nil {
			frame = c
		}
	}
	s.mu.Unlock()
	if frame == nil {
		return nil
	}
	defer frame.Release()

	w, h, raw, err := av.RawI420(frame)
	if err != nil {
		s.p.log.Warn("gpu: frame download failed", "error", err)
		return nil
	}

	img, err := encodeJPEG(s.p.encoder, w, h, raw, s.p.cfg.SnapshotTimeout, &s.p.counts)
	if err != nil {
		s.p.log.Warn("gpu: snapshot encode failed",
			"encoder", s.p.encoder,
			"category", media.ClassifyError(err).String(),
			"error", err,
		)
		return nil
	}
	return img
}

// Reset implements media.Accelerator. It releases the retained frame so a
// later session never snapshots an image from an earlier one.
func (s *Stream) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	old := s.latest
	s.latest = nil
	s.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

// Detach releases the retained frame when the stream is removed.
func (s *Stream) Detach() { s.Reset() }
