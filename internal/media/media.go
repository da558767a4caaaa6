// Package media defines the contracts between the stream orchestrator and the
// native media backend (demuxer, decoder, remuxer, frame capture, GPU provider).
//
// The orchestrator only ever talks to these interfaces. The production
// backend lives in internal/av (FFmpeg via go-astiav); tests substitute
// synthetic implementations.
package media

import (
	"context"
	"time"
)

// Rational is a time base expressed as Num/Den seconds per tick.
type Rational struct {
	Num int
	Den int
}

// Valid reports whether r can be used to rescale timestamps.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Rescale converts ts from time base r into time base dst, rounding to nearest.
func (r Rational) Rescale(ts int64, dst Rational) int64 {
	if !r.Valid() || !dst.Valid() {
		return ts
	}
	num := ts * int64(r.Num) * int64(dst.Den)
	den := int64(r.Den) * int64(dst.Num)
	if num >= 0 {
		return (num + den/2) / den
	}
	return -((-num + den/2) / den)
}

// StreamParams describes the negotiated parameters of a video stream.
// Backends attach their native codec parameters to the concrete value.
type StreamParams interface {
	CodecName() string
	Width() int
	Height() int
}

// Packet is a staged compressed unit owned by the demuxer until released.
type Packet interface {
	IsVideo() bool
	KeyFrame() bool
	// Pts is expressed in the stream's time base.
	Pts() int64
	Size() int
	// Release returns the packet to the demuxer. Safe to call more than once.
	Release()
}

// Frame is a reference-counted decoded picture, possibly GPU-surface backed.
type Frame interface {
	Width() int
	Height() int
	PixelFormat() string
	Pts() int64
	HardwareBacked() bool
	// Clone adds a reference. The clone must be released independently.
	Clone() (Frame, error)
	// Release drops this reference. Safe to call more than once.
	Release()
}

// DemuxOptions carries the transport and buffering knobs for Demuxer.Open.
type DemuxOptions struct {
	LowLatency     bool
	Transport      string
	BufferDuration time.Duration
	OpenTimeout    time.Duration
}

// Demuxer splits a network source into compressed packets.
type Demuxer interface {
	// Open negotiates the source. Cancelling ctx interrupts a pending open.
	Open(ctx context.Context, uri string, opts DemuxOptions) error
	// ReadPacket stages one packet, or returns io.EOF at end of stream.
	ReadPacket() (Packet, error)
	// RequestAbort interrupts blocking native calls. Idempotent and safe
	// before Open and after Close.
	RequestAbort()
	VideoParams() StreamParams
	VideoTimeBase() Rational
	Close() error
}

// DecoderInfo is the metadata a decoder exposes after Open.
type DecoderInfo struct {
	CodecName           string
	PixelFormat         string
	Width               int
	Height              int
	HardwareAccelerated bool
}

// DecoderOptions tune a decoder at open time.
type DecoderOptions struct {
	ThreadCount           int
	LowDelay              bool
	MaxVerticalResolution int
	Hardware              HardwareContext
}

// Decoder turns compressed packets into zero or more frames.
type Decoder interface {
	Open(params StreamParams, opts DecoderOptions) error
	// SendPacket returns false when the decoder rejects the packet; the
	// caller must not drain frames in that case.
	SendPacket(pkt Packet) bool
	// ReceiveFrame returns the next decoded frame, owned by the caller.
	ReceiveFrame() (Frame, bool)
	Info() DecoderInfo
	Close() error
}

// Remuxer appends compressed packets to an output container without re-encoding.
type Remuxer interface {
	Open(path string, params StreamParams, timeBase Rational) error
	WritePacket(pkt Packet, timeBase Rational) error
	Close() error
}

// FrameCapturer encodes a single frame to a still image. It never takes
// ownership of the frame and returns nil on failure.
type FrameCapturer interface {
	CaptureFrame(frame Frame) []byte
}

// HardwareContext is an opaque handle to a GPU decode session.
type HardwareContext interface {
	DeviceType() string
}

// Accelerator is the optional GPU capability provider.
type Accelerator interface {
	Initialized() bool
	DeviceContext() HardwareContext
	// ProcessFrame is the per-frame post-processing hook. It must not take
	// ownership of frame.
	ProcessFrame(frame Frame)
	// Snapshot returns an encoded still image, or nil when none is ready.
	Snapshot() []byte
	// Reset drops everything retained from the session that just ended.
	// Called on the worker after the decoder and demuxer are closed.
	Reset()
}

// Backend creates fresh native components for one stream session.
type Backend interface {
	NewDemuxer() Demuxer
	NewDecoder() Decoder
	NewRemuxer() Remuxer
	FrameCapturer() FrameCapturer
}
