// Package av implements the media backend on top of FFmpeg (go-astiav).
//
// Ownership rules:
//   - Every native object is created and freed by the goroutine that owns
//     the component (the stream worker). Only RequestAbort and Frame
//     Clone/Release may be called from other goroutines.
//   - Packets are staged by the Demuxer and released by the caller once
//     per read.
//   - Frames are reference counted; each handle is released exactly once.
package av

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/e7canasta/orion-videoplayer/internal/media"
)

var (
	// ErrAborted is returned when an abort was requested before or during Open.
	ErrAborted = errors.New("av: aborted")
	// ErrNoVideoStream is returned when the source carries no video track.
	ErrNoVideoStream = errors.New("av: no video stream")
	// ErrDecoderNotFound is returned when no decoder matches the codec.
	ErrDecoderNotFound = errors.New("av: decoder not found")
	// ErrUnsupportedContainer is returned for recording paths with an unknown extension.
	ErrUnsupportedContainer = errors.New("av: unsupported container")
	// ErrNotOpen is returned when a component is used before Open or after Close.
	ErrNotOpen = errors.New("av: not open")
)

// Backend creates FFmpeg-backed components. It implements media.Backend.
type Backend struct {
	log     *slog.Logger
	capture *FrameCapture
}

// NewBackend returns a backend that logs through log (slog.Default if nil).
func NewBackend(log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	InstallLogBridge(log)
	return &Backend{
		log:     log,
		capture: NewFrameCapture(log),
	}
}

// NewDemuxer implements media.Backend.
func (b *Backend) NewDemuxer() media.Demuxer { return NewDemuxer(b.log) }

// NewDecoder implements media.Backend.
func (b *Backend) NewDecoder() media.Decoder { return NewDecoder(b.log) }

// NewRemuxer implements media.Backend.
func (b *Backend) NewRemuxer() media.Remuxer { return NewRemuxer(b.log) }

// FrameCapturer implements media.Backend.
func (b *Backend) FrameCapturer() media.FrameCapturer { return b.capture }

var logBridgeOnce sync.Once

// InstallLogBridge routes libav* log output into slog. Only the first call
// takes effect.
func InstallLogBridge(log *slog.Logger) {
	logBridgeOnce.Do(func() {
		l := log.With("component", "ffmpeg")
		astiav.SetLogLevel(astiav.LogLevelWarning)
		astiav.SetLogCallback(func(c astiav.Classer, level astiav.LogLevel, fmt, msg string) {
			msg = strings.TrimSpace(msg)
			if msg == "" {
				return
			}
			switch {
			case level <= astiav.LogLevelError:
				l.Error("ffmpeg: " + msg)
			case level <= astiav.LogLevelWarning:
				l.Warn("ffmpeg: " + msg)
			default:
				l.Debug("ffmpeg: " + msg)
			}
		})
	})
}

func rational(r astiav.Rational) media.Rational {
	return media.Rational{Num: r.Num(), Den: r.Den()}
}

func toAstiav(r media.Rational) astiav.Rational {
	return astiav.NewRational(r.Num, r.Den)
}
