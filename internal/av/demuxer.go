package av

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/e7canasta/orion-videoplayer/internal/media"
)

// Demuxer reads compressed packets from a network source.
//
// The interrupter is allocated at construction, before any format context
// exists, so an abort requested at any point (including before Open) is
// observed by the first blocking libavformat call.
type Demuxer struct {
	log *slog.Logger

	// mu guards the interrupter against use after Close.
	mu          sync.Mutex
	interrupter *astiav.IOInterrupter
	closed      bool

	stopAfterFunc func() bool

	fc       *astiav.FormatContext
	pkt      *astiav.Packet
	staged   Packet
	videoIdx int
	params   *StreamParams
	timeBase media.Rational
}

// NewDemuxer allocates a demuxer and its abort handle.
func NewDemuxer(log *slog.Logger) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	return &Demuxer{
		log:         log.With("component", "demuxer"),
		interrupter: astiav.NewIOInterrupter(),
		videoIdx:    -1,
	}
}

// RequestAbort interrupts any pending or future blocking call.
// Idempotent; a no-op after Close.
func (d *Demuxer) RequestAbort() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.interrupter.Interrupt()
}

func (d *Demuxer) aborted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed && d.interrupter.Interrupted()
}

// Open connects to uri and selects the first video stream.
func (d *Demuxer) Open(ctx context.Context, uri string, opts media.DemuxOptions) error {
	if d.fc != nil {
		return fmt.Errorf("demuxer already open")
	}

	// Forward cancellation of the session token to the interrupter.
	d.stopAfterFunc = context.AfterFunc(ctx, d.RequestAbort)

	if ctx.Err() != nil || d.aborted() {
		return ErrAborted
	}

	dict, err := newDictionary(demuxOptions(uri, opts))
	if err != nil {
		return err
	}
	defer dict.Free()

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return errors.New("demuxer: alloc format context failed")
	}
	fc.SetIOInterrupter(d.interrupter)

	d.log.Debug("demuxer: opening input", "uri", uri, "transport", opts.Transport, "low_latency", opts.LowLatency)

	if err := fc.OpenInput(uri, nil, dict); err != nil {
		fc.Free()
		return d.openError("open input", err)
	}
	d.fc = fc

	if err := fc.FindStreamInfo(nil); err != nil {
		return d.openError("find stream info", err)
	}

	for _, s := range fc.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			d.videoIdx = s.Index()
			d.params = &StreamParams{cp: s.CodecParameters()}
			d.timeBase = rational(s.TimeBase())
			break
		}
	}
	if d.videoIdx < 0 {
		return ErrNoVideoStream
	}

	d.pkt = astiav.AllocPacket()
	d.staged.released = true

	d.log.Info("demuxer: input opened",
		"uri", uri,
		"streams", len(fc.Streams()),
		"video_index", d.videoIdx,
		"codec", d.params.CodecName(),
		"resolution", fmt.Sprintf("%dx%d", d.params.Width(), d.params.Height()),
		"time_base", fmt.Sprintf("%d/%d", d.timeBase.Num, d.timeBase.Den),
	)
	return nil
}

func (d *Demuxer) openError(op string, err error) error {
	if d.aborted() {
		return fmt.Errorf("%w: %s: %v", ErrAborted, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ReadPacket stages the next packet. It returns io.EOF at end of stream.
func (d *Demuxer) ReadPacket() (media.Packet, error) {
	if d.fc == nil || d.pkt == nil {
		return nil, ErrNotOpen
	}

	// A packet the caller forgot to release must not leak into the next read.
	d.staged.Release()

	if err := d.fc.ReadFrame(d.pkt); err != nil {
		if errors.Is(err, astiav.ErrEof) {
			return nil, io.EOF
		}
		if d.aborted() {
			return nil, fmt.Errorf("%w: read: %v", ErrAborted, err)
		}
		return nil, fmt.Errorf("read packet: %w", err)
	}

	d.staged = Packet{
		pkt:   d.pkt,
		video: d.pkt.StreamIndex() == d.videoIdx,
	}
	return &d.staged, nil
}

// VideoParams implements media.Demuxer.
func (d *Demuxer) VideoParams() media.StreamParams {
	if d.params == nil {
		return nil
	}
	return d.params
}

// VideoTimeBase implements media.Demuxer.
func (d *Demuxer) VideoTimeBase() media.Rational { return d.timeBase }

// Close releases the format context and the abort handle.
// Must be called from the goroutine that called Open.
func (d *Demuxer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if d.stopAfterFunc != nil {
		d.stopAfterFunc()
	}

	d.staged.Release()
	if d.pkt != nil {
		d.pkt.Free()
		d.pkt = nil
	}
	if d.fc != nil {
		d.fc.CloseInput()
		d.fc.Free()
		d.fc = nil
	}
	d.params = nil
	d.interrupter.Free()

	d.log.Debug("demuxer: closed")
	return nil
}
