package videoplayer

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWrongState is returned when an operation is not legal in the
	// player's current state (Open while Playing, StartRecording while
	// Stopped, ...). The state is left untouched.
	ErrWrongState = errors.New("videoplayer: wrong state")

	// ErrUnavailable is returned by Snapshot when no image can be produced.
	ErrUnavailable = errors.New("videoplayer: unavailable")

	// ErrNotRecording is returned by StopRecording when no recording is open.
	ErrNotRecording = errors.New("videoplayer: not recording")
)

// PlayerState is the lifecycle state of a VideoPlayer.
type PlayerState int

const (
	// StateStopped means no session exists.
	StateStopped PlayerState = iota
	// StateOpening means the worker is negotiating the source and decoder.
	StateOpening
	// StatePlaying means packets are being read and decoded.
	StatePlaying
	// StateError means the session failed; Close returns to Stopped.
	StateError
)

// String returns a human-readable representation of the state
func (s PlayerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateOpening:
		return "opening"
	case StatePlaying:
		return "playing"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport values for StreamOptions.Transport.
const (
	TransportAuto = ""
	TransportTCP  = "tcp"
	TransportUDP  = "udp"
)

// StreamOptions tune a single stream session.
type StreamOptions struct {
	// LowLatencyMode disables demuxer buffering and decoder reordering.
	LowLatencyMode bool `yaml:"low_latency"`
	// MaxLatency is how far decoding may trail the source clock before
	// packets are skipped up to the next keyframe. 0 disables.
	MaxLatency time.Duration `yaml:"max_latency"`
	// Transport forces RTSP interleaving: "tcp", "udp" or "" for automatic.
	Transport string `yaml:"transport"`
	// BufferDuration is the maximum demuxer reorder/jitter delay.
	BufferDuration time.Duration `yaml:"buffer_duration"`
	// HardwareAcceleration requests GPU decoding when an Accelerator is
	// initialized. Falls back to software silently.
	HardwareAcceleration bool `yaml:"hardware_acceleration"`
	// MaxVerticalResolution caps the height of decoded software frames;
	// taller frames are downscaled keeping the aspect ratio. 0 disables.
	MaxVerticalResolution int `yaml:"max_vertical_resolution"`
}

// Validate checks option values.
func (o StreamOptions) Validate() error {
	switch o.Transport {
	case TransportAuto, TransportTCP, TransportUDP:
	default:
		return fmt.Errorf("invalid transport %q (must be tcp, udp or empty)", o.Transport)
	}
	if o.MaxLatency < 0 {
		return fmt.Errorf("invalid max latency %s", o.MaxLatency)
	}
	if o.BufferDuration < 0 {
		return fmt.Errorf("invalid buffer duration %s", o.BufferDuration)
	}
	if o.MaxVerticalResolution < 0 {
		return fmt.Errorf("invalid max vertical resolution %d", o.MaxVerticalResolution)
	}
	return nil
}

// VideoStreamInfo describes the negotiated video stream. It is fixed once
// the decoder is open.
type VideoStreamInfo struct {
	Width               int
	Height              int
	CodecName           string
	PixelFormat         string
	HardwareAccelerated bool
}

// Resolution returns the frame size as "WxH".
func (i VideoStreamInfo) Resolution() string {
	return fmt.Sprintf("%dx%d", i.Width, i.Height)
}

// StateChange is delivered to OnStateChange handlers.
type StateChange struct {
	Previous PlayerState
	Current  PlayerState
	// Err is set on transitions into StateError.
	Err error
	At  time.Time
}

// ReadErrorStats counts read failures per category.
type ReadErrorStats struct {
	Network uint64
	Codec   uint64
	Auth    uint64
	Unknown uint64
}

// Total returns the sum over all categories.
func (r ReadErrorStats) Total() uint64 {
	return r.Network + r.Codec + r.Auth + r.Unknown
}

// Stability summarizes the regularity of recent frame arrivals.
type Stability struct {
	Frames     int
	FPSMean    float64
	FPSStdDev  float64
	JitterMean time.Duration
	JitterMax  time.Duration
	Stable     bool
}

// Stats contains live session statistics. All fields are zero while no
// session exists.
type Stats struct {
	State     PlayerState
	SessionID string
	URI       string
	// FramesDecoded is the number of frames produced by the decoder
	FramesDecoded uint64
	// FPS is the decode rate measured over the last completed window
	FPS float64
	// ReadErrors counts failed packet reads by category
	ReadErrors ReadErrorStats
	// PacketsRecorded is the number of packets written to the current recording
	PacketsRecorded uint64
	// PacketsSkipped counts video packets not decoded to stay within MaxLatency
	PacketsSkipped uint64
	Recording      bool
	RecordingPath  string
	Uptime         time.Duration
	Stability      Stability
}

// SnapshotResult is delivered by SnapshotAsync.
type SnapshotResult struct {
	// Image holds JPEG bytes when Err is nil.
	Image []byte
	Err   error
	// TraceID identifies the snapshot in logs.
	TraceID string
	// Source is "gpu" or "capture".
	Source string
}
