package videoplayer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-videoplayer/internal/cadence"
	"github.com/e7canasta/orion-videoplayer/internal/media"
	"github.com/google/uuid"
)

// session is one Open..worker-exit lifetime. Native components are created
// and destroyed on the worker goroutine; the remuxer is the exception: it is
// opened by the recording caller and handed to the session under recMu.
type session struct {
	id      string
	uri     string
	opts    StreamOptions
	log     *slog.Logger
	started time.Time

	// ctx is created before any native resource so a stop requested at any
	// point is observed by the demuxer.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	demuxMu  sync.Mutex
	demuxer  media.Demuxer
	stopping bool

	// Worker-only.
	decoder     media.Decoder
	consecutive int
	latency     *latencyGuard

	// accel is set on the worker before Playing, only when the stream asked
	// for acceleration and the provider was initialized at open.
	accel media.Accelerator

	frame frameSlot

	recMu     sync.Mutex
	remuxer   media.Remuxer
	recPath   string
	recClosed bool
	recFailed bool
	recOpens  sync.WaitGroup

	info            atomic.Pointer[VideoStreamInfo]
	framesDecoded   atomic.Uint64
	packetsRecorded atomic.Uint64
	packetsSkipped  atomic.Uint64
	readErrors      errorCounters
	fps             *fpsMeter
	cadence         *cadence.Tracker
}

func newSession(uri string, opts StreamOptions, cfg Config) *session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &session{
		id:      id,
		uri:     uri,
		opts:    opts,
		log:     cfg.Logger.With("session", id, "uri", uri),
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		fps:     newFPSMeter(cfg.FPSWindow),
		cadence: cadence.NewTracker(cfg.CadenceWindow),
	}
}

// stop cancels the session token and aborts the demuxer if it exists.
// Idempotent; safe from any goroutine.
func (s *session) stop() {
	s.cancel()

	s.demuxMu.Lock()
	s.stopping = true
	d := s.demuxer
	s.demuxMu.Unlock()

	if d != nil {
		d.RequestAbort()
	}
}

// publishDemuxer makes d reachable by stop. A stop that was requested
// before d existed is forwarded immediately.
func (s *session) publishDemuxer(d media.Demuxer) {
	s.demuxMu.Lock()
	s.demuxer = d
	stopping := s.stopping
	s.demuxMu.Unlock()

	if stopping {
		d.RequestAbort()
	}
}

func (s *session) currentDemuxer() media.Demuxer {
	s.demuxMu.Lock()
	defer s.demuxMu.Unlock()
	return s.demuxer
}

func (s *session) demuxOptions(cfg Config) media.DemuxOptions {
	return media.DemuxOptions{
		LowLatency:     s.opts.LowLatencyMode,
		Transport:      s.opts.Transport,
		BufferDuration: s.opts.BufferDuration,
		OpenTimeout:    cfg.OpenTimeout,
	}
}

// run is the worker goroutine body.
func (p *VideoPlayer) run(s *session) {
	defer p.untrack(s)
	defer close(s.done)

	// libav* contexts stay on one OS thread for their whole life.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	err := p.play(s)

	switch {
	case s.ctx.Err() != nil:
		s.log.Debug("videoplayer: worker stopped", "reason", "close requested")
		p.transition(s, StateStopped, nil)
	case err == nil:
		s.log.Info("videoplayer: end of stream",
			"frames_decoded", s.framesDecoded.Load(),
			"uptime", time.Since(s.started),
		)
		p.transition(s, StateStopped, nil)
	default:
		s.log.Error("videoplayer: session failed",
			"error", err,
			"category", media.ClassifyError(err).String(),
		)
		p.transition(s, StateError, err)
	}
}

// play opens the source and decoder, then reads until end of stream, stop
// or sustained failure. Teardown always runs before it returns.
func (p *VideoPlayer) play(s *session) error {
	demux := p.backend.NewDemuxer()
	s.publishDemuxer(demux)
	defer s.teardown()

	if err := demux.Open(s.ctx, s.uri, s.demuxOptions(p.cfg)); err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}

	params := demux.VideoParams()
	if params == nil {
		return errors.New("open source: no video stream")
	}

	dopts := media.DecoderOptions{
		ThreadCount:           p.cfg.DecoderThreads,
		LowDelay:              s.opts.LowLatencyMode,
		MaxVerticalResolution: s.opts.MaxVerticalResolution,
	}
	if s.opts.HardwareAcceleration && p.accel != nil && p.accel.Initialized() {
		s.accel = p.accel
		dopts.Hardware = s.accel.DeviceContext()
	}

	s.decoder = p.backend.NewDecoder()
	if err := s.decoder.Open(params, dopts); err != nil {
		return fmt.Errorf("open decoder %s: %w", params.CodecName(), err)
	}

	di := s.decoder.Info()
	s.info.Store(&VideoStreamInfo{
		Width:               di.Width,
		Height:              di.Height,
		CodecName:           di.CodecName,
		PixelFormat:         di.PixelFormat,
		HardwareAccelerated: di.HardwareAccelerated,
	})

	s.log.Info("videoplayer: stream opened",
		"codec", di.CodecName,
		"resolution", fmt.Sprintf("%dx%d", di.Width, di.Height),
		"pixel_format", di.PixelFormat,
		"hardware", di.HardwareAccelerated,
	)

	p.transition(s, StatePlaying, nil)

	return p.readLoop(s, demux)
}

// readLoop returns nil at end of stream.
func (p *VideoPlayer) readLoop(s *session, demux media.Demuxer) error {
	tb := demux.VideoTimeBase()
	s.latency = newLatencyGuard(s.opts.MaxLatency, tb)

	for {
		if err := s.ctx.Err(); err != nil {
			return err
		}

		pkt, err := demux.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			category := media.ClassifyError(err)
			s.readErrors.add(category)
			s.consecutive++

			if s.consecutive > p.cfg.ReadErrorBudget {
				return fmt.Errorf("read failed %d consecutive times: %w", s.consecutive, err)
			}
			s.log.Debug("videoplayer: read error",
				"error", err,
				"category", category.String(),
				"consecutive", s.consecutive,
			)
			continue
		}

		s.consecutive = 0
		p.handlePacket(s, pkt, tb)
	}
}

func (p *VideoPlayer) handlePacket(s *session, pkt media.Packet, tb media.Rational) {
	defer pkt.Release()

	if !pkt.IsVideo() {
		return
	}

	// Recording sees every video packet, decodable or not.
	s.record(pkt, tb)

	if !s.latency.admit(pkt, time.Now()) {
		if s.packetsSkipped.Add(1) == 1 {
			s.log.Warn("videoplayer: decode behind source, skipping to next keyframe",
				"max_latency", s.opts.MaxLatency,
			)
		}
		return
	}

	if !s.decoder.SendPacket(pkt) {
		return
	}

	for {
		f, ok := s.decoder.ReceiveFrame()
		if !ok {
			return
		}
		if s.accel != nil {
			s.accel.ProcessFrame(f)
		}
		s.frame.publish(f)
		if s.framesDecoded.Add(1) == 1 {
			s.confirmHardware()
		}

		now := time.Now()
		s.fps.tick(now)
		s.cadence.Observe(now)
	}
}

// confirmHardware updates the stream info once the decoder has negotiated
// its output format, which can drop back to software after open.
func (s *session) confirmHardware() {
	cur := s.info.Load()
	if cur == nil {
		return
	}
	hw := s.decoder.Info().HardwareAccelerated
	if hw == cur.HardwareAccelerated {
		return
	}
	next := *cur
	next.HardwareAccelerated = hw
	s.info.Store(&next)
	s.log.Warn("videoplayer: hardware decode not negotiated, decoding in software")
}

// teardown runs on the worker: remuxer, then decoder, then demuxer.
func (s *session) teardown() {
	s.recMu.Lock()
	s.recClosed = true
	r, path := s.remuxer, s.recPath
	s.remuxer = nil
	s.recPath = ""
	s.recMu.Unlock()

	// No open can start after recClosed; wait for the ones in flight so
	// they stop reading demuxer parameters before it closes.
	s.recOpens.Wait()

	if r != nil {
		if err := r.Close(); err != nil {
			s.log.Warn("videoplayer: recording close failed", "path", path, "error", err)
		}
	}

	if s.decoder != nil {
		if err := s.decoder.Close(); err != nil {
			s.log.Warn("videoplayer: decoder close failed", "error", err)
		}
		s.decoder = nil
	}

	if d := s.currentDemuxer(); d != nil {
		if err := d.Close(); err != nil {
			s.log.Warn("videoplayer: demuxer close failed", "error", err)
		}
	}

	if s.accel != nil {
		s.accel.Reset()
	}

	s.frame.clear()
	s.info.Store(nil)
	s.fps.reset()
	s.cadence.Reset()
	s.framesDecoded.Store(0)
	s.packetsRecorded.Store(0)
	s.packetsSkipped.Store(0)
	s.readErrors.reset()

	s.log.Debug("videoplayer: session resources released")
}

// errorCounters counts read errors per category.
type errorCounters struct {
	network atomic.Uint64
	codec   atomic.Uint64
	auth    atomic.Uint64
	unknown atomic.Uint64
}

func (e *errorCounters) add(c media.ErrorCategory) {
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

func (e *errorCounters) stats() ReadErrorStats {
	return ReadErrorStats{
		Network: e.network.Load(),
		Codec:   e.codec.Load(),
		Auth:    e.auth.Load(),
		Unknown: e.unknown.Load(),
	}
}

func (e *errorCounters) reset() {
	e.network.Store(0)
	e.codec.Store(0)
	e.auth.Store(0)
	e.unknown.Store(0)
}
