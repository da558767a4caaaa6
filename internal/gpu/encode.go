package gpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-videoplayer/internal/media"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// ErrorCounters counts encoder failures per category.
type ErrorCounters struct {
	network atomic.Uint64
	codec   atomic.Uint64
	auth    atomic.Uint64
	unknown atomic.Uint64
}

// ErrorStats is a point-in-time copy of ErrorCounters.
type ErrorStats struct {
	Network uint64
	Codec   uint64
	Auth    uint64
	Unknown uint64
}

// Add records one error of category c.
func (e *ErrorCounters) Add(c media.ErrorCategory) {
	switch c {
	case media.ErrCategoryNetwork:
		e.network.Add(1)
	case media.ErrCategoryCodec:
		e.codec.Add(1)
	case media.ErrCategoryAuth:
		e.auth.Add(1)
	default:
		e.unknown.Add(1)
	}
}

// Snapshot returns the current counts.
func (e *ErrorCounters) Snapshot() ErrorStats {
	return ErrorStats{
		Network: e.network.Load(),
		Codec:   e.codec.Load(),
		Auth:    e.auth.Load(),
		Unknown: e.unknown.Load(),
	}
}

// rawCaps describes one packed I420 still picture.
func rawCaps(width, height int) string {
	return fmt.Sprintf("video/x-raw,format=I420,width=%d,height=%d,framerate=0/1", width, height)
}

// encodeJPEG runs a one-shot pipeline:
//
//	appsrc → videoconvert → <encoder> → appsink
//
// The bus is polled until end of stream, an error, or timeout.
func encodeJPEG(encoder string, width, height int, raw []byte, timeout time.Duration, counts *ErrorCounters) ([]byte, error) {
	if width <= 0 || height <= 0 || len(raw) == 0 {
		return nil, fmt.Errorf("invalid picture %dx%d (%d bytes)", width, height, len(raw))
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.SetState(gst.StateNull)

	src, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsrc: %w", err)
	}
	src.SetCaps(gst.NewCapsFromString(rawCaps(width, height)))
	src.SetProperty("format", gst.FormatTime)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	enc, err := gst.NewElement(encoder)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", encoder, err)
	}

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)

	if err := pipeline.AddMany(src.Element, converter, enc, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src.Element, converter, enc, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to link snapshot pipeline: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	if ret := src.PushBuffer(gst.NewBufferFromBytes(raw)); ret != gst.FlowOK {
		return nil, fmt.Errorf("push buffer: %v", ret)
	}
	src.EndStream()

	if err := waitEOS(pipeline, timeout, counts); err != nil {
		return nil, err
	}

	sample := sink.PullSample()
	if sample == nil {
		return nil, errors.New("no sample produced")
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, errors.New("sample without buffer")
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	out := make([]byte, len(data))
	copy(out, data)
	buffer.Unmap()

	if len(out) == 0 {
		return nil, errors.New("empty jpeg buffer")
	}
	return out, nil
}

// waitEOS polls the pipeline bus with a short timeout until end of stream.
func waitEOS(pipeline *gst.Pipeline, timeout time.Duration, counts *ErrorCounters) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			category := media.ClassifyError(gerr)
			counts.Add(category)

			slog.Debug("gpu: encoder pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
			)
			return fmt.Errorf("pipeline error [%s]: %w", category.String(), gerr)
		}
	}
	counts.Add(media.ErrCategoryUnknown)
	return fmt.Errorf("snapshot encode timed out after %s", timeout)
}
