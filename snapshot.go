package videoplayer

import (
	"context"
	"fmt"
	"time"

	"github.com/e7canasta/orion-videoplayer/internal/media"
	"github.com/google/uuid"
)

// Snapshot sources.
const (
	SnapshotSourceGPU     = "gpu"
	SnapshotSourceCapture = "capture"
)

// Snapshot returns a JPEG of the latest decoded frame. It returns
// ErrUnavailable unless the player is Playing and an image could be made.
// Encoding runs on its own goroutine; ctx only bounds the wait.
func (p *VideoPlayer) Snapshot(ctx context.Context) ([]byte, error) {
	select {
	case res := <-p.SnapshotAsync():
		return res.Image, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SnapshotAsync starts a snapshot and returns a channel that receives
// exactly one result.
func (p *VideoPlayer) SnapshotAsync() <-chan SnapshotResult {
	out := make(chan SnapshotResult, 1)
	traceID := uuid.New().String()

	s := p.playing()
	if s == nil {
		out <- SnapshotResult{TraceID: traceID, Err: fmt.Errorf("%w: no playing stream", ErrUnavailable)}
		return out
	}

	go func() {
		out <- p.snapshot(s, traceID)
	}()
	return out
}

// snapshot prefers the accelerator's image and falls back to encoding a
// clone of the latest frame. The accelerator is only asked once this
// session has decoded a frame of its own.
func (p *VideoPlayer) snapshot(s *session, traceID string) SnapshotResult {
	if s.accel != nil && s.framesDecoded.Load() > 0 {
		if img := s.accel.Snapshot(); len(img) > 0 {
			s.log.Debug("videoplayer: snapshot", "trace_id", traceID, "source", SnapshotSourceGPU, "size_bytes", len(img))
			return SnapshotResult{Image: img, TraceID: traceID, Source: SnapshotSourceGPU}
		}
	}

	var res SnapshotResult
	ok := s.frame.withClone(func(frame media.Frame) {
		res = capture(s, p.backend.FrameCapturer(), frame, traceID)
	})
	if !ok {
		return SnapshotResult{TraceID: traceID, Err: fmt.Errorf("%w: no decoded frame yet", ErrUnavailable)}
	}
	return res
}

func capture(s *session, capturer media.FrameCapturer, frame media.Frame, traceID string) SnapshotResult {
	res := SnapshotResult{TraceID: traceID, Source: SnapshotSourceCapture}
	if capturer == nil {
		res.Err = fmt.Errorf("%w: no frame encoder", ErrUnavailable)
		return res
	}

	start := time.Now()
	img := capturer.CaptureFrame(frame)
	if len(img) == 0 {
		res.Err = fmt.Errorf("%w: frame encode failed", ErrUnavailable)
		s.log.Warn("videoplayer: snapshot failed", "trace_id", traceID)
		return res
	}

	s.log.Debug("videoplayer: snapshot",
		"trace_id", traceID,
		"source", SnapshotSourceCapture,
		"size_bytes", len(img),
		"elapsed", time.Since(start),
	)
	res.Image = img
	return res
}
