package videoplayer

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/orion-videoplayer/internal/media"
	"github.com/stretchr/testify/require"
)

var errFakeAborted = errors.New("fake: aborted")

// fakeFrame is a reference-counted synthetic frame. live counts handles
// across the whole backend so tests can assert nothing leaks.
type fakeFrame struct {
	seq      int
	hw       bool
	live     *atomic.Int64
	released atomic.Bool
}

func newFakeFrame(seq int, live *atomic.Int64) *fakeFrame {
	live.Add(1)
	return &fakeFrame{seq: seq, live: live}
}

func (f *fakeFrame) Width() int           { return 1280 }
func (f *fakeFrame) Height() int          { return 720 }
func (f *fakeFrame) PixelFormat() string  { return "yuv420p" }
func (f *fakeFrame) Pts() int64           { return int64(f.seq) * 3600 }
func (f *fakeFrame) HardwareBacked() bool { return f.hw }

func (f *fakeFrame) Clone() (media.Frame, error) {
	if f.released.Load() {
		return nil, errors.New("fake: clone of released frame")
	}
	c := newFakeFrame(f.seq, f.live)
	c.hw = f.hw
	return c, nil
}

func (f *fakeFrame) Release() {
	if f.released.CompareAndSwap(false, true) {
		f.live.Add(-1)
	}
}

type fakePacket struct {
	video    bool
	key      bool
	corrupt  bool
	pts      int64
	released atomic.Int32
}

func (p *fakePacket) IsVideo() bool  { return p.video }
func (p *fakePacket) KeyFrame() bool { return p.key }
func (p *fakePacket) Pts() int64     { return p.pts }
func (p *fakePacket) Size() int      { return 1024 }
func (p *fakePacket) Release()       { p.released.Add(1) }

func videoPacket(i int) *fakePacket {
	return &fakePacket{video: true, key: i%25 == 0, pts: int64(i) * 3600}
}

type fakeParams struct{}

func (fakeParams) CodecName() string { return "h264" }
func (fakeParams) Width() int        { return 1280 }
func (fakeParams) Height() int       { return 720 }

type readResult struct {
	pkt media.Packet
	err error
}

// fakeDemuxer serves packets pushed on reads. Closing reads ends the stream.
type fakeDemuxer struct {
	b *fakeBackend

	reads     chan readResult
	openErr   error
	openBlock bool
	opened    chan struct{}

	abortOnce sync.Once
	abort     chan struct{}
	aborts    atomic.Int32
	closed    atomic.Bool
	lateAbort atomic.Int32
}

func (d *fakeDemuxer) Open(ctx context.Context, uri string, opts media.DemuxOptions) error {
	d.b.mu.Lock()
	d.b.demuxOpts = opts
	d.b.mu.Unlock()
	close(d.opened)

	if d.openBlock {
		select {
		case <-d.abort:
		case <-ctx.Done():
		}
		return errFakeAborted
	}
	select {
	case <-d.abort:
		return errFakeAborted
	default:
	}
	return d.openErr
}

func (d *fakeDemuxer) ReadPacket() (media.Packet, error) {
	select {
	case r, ok := <-d.reads:
		if !ok {
			return nil, io.EOF
		}
		return r.pkt, r.err
	case <-d.abort:
		return nil, errFakeAborted
	}
}

func (d *fakeDemuxer) RequestAbort() {
	d.aborts.Add(1)
	if d.closed.Load() {
		d.lateAbort.Add(1)
		return
	}
	d.abortOnce.Do(func() { close(d.abort) })
}

func (d *fakeDemuxer) VideoParams() media.StreamParams {
	if d.closed.Load() {
		return nil
	}
	return fakeParams{}
}

func (d *fakeDemuxer) VideoTimeBase() media.Rational { return media.Rational{Num: 1, Den: 90000} }

func (d *fakeDemuxer) Close() error {
	d.closed.Store(true)
	d.b.event("demuxer.close")
	return nil
}

type fakeDecoder struct {
	b       *fakeBackend
	openErr error
	opts    media.DecoderOptions
	pending int
	seq     int
	closed  atomic.Bool

	// swFallback makes negotiation on the first frame reject the
	// hardware format.
	swFallback bool
	fellBack   atomic.Bool
}

func (d *fakeDecoder) Open(params media.StreamParams, opts media.DecoderOptions) error {
	d.opts = opts
	return d.openErr
}

func (d *fakeDecoder) SendPacket(pkt media.Packet) bool {
	if pkt.(*fakePacket).corrupt {
		return false
	}
	d.pending = d.b.framesPerPacket
	return true
}

func (d *fakeDecoder) ReceiveFrame() (media.Frame, bool) {
	if d.pending == 0 {
		return nil, false
	}
	d.pending--
	d.seq++
	if d.swFallback {
		d.fellBack.Store(true)
	}
	f := newFakeFrame(d.seq, &d.b.liveFrames)
	f.hw = d.opts.Hardware != nil && !d.fellBack.Load()
	return f, true
}

func (d *fakeDecoder) Info() media.DecoderInfo {
	return media.DecoderInfo{
		CodecName:           "h264",
		PixelFormat:         "yuv420p",
		Width:               1280,
		Height:              720,
		HardwareAccelerated: d.opts.Hardware != nil && !d.fellBack.Load(),
	}
}

func (d *fakeDecoder) Close() error {
	d.closed.Store(true)
	d.b.event("decoder.close")
	return nil
}

type fakeRemuxer struct {
	b        *fakeBackend
	path     string
	openErr  error
	openGate chan struct{}
	written  atomic.Int64
	closed   atomic.Bool
}

func (r *fakeRemuxer) Open(path string, params media.StreamParams, tb media.Rational) error {
	if params == nil {
		return errors.New("fake: nil params")
	}
	if r.openGate != nil {
		<-r.openGate
	}
	r.path = path
	return r.openErr
}

func (r *fakeRemuxer) WritePacket(pkt media.Packet, tb media.Rational) error {
	if r.closed.Load() {
		return errors.New("fake: write after close")
	}
	if !pkt.IsVideo() {
		return errors.New("fake: non-video packet recorded")
	}
	r.written.Add(1)
	return nil
}

func (r *fakeRemuxer) Close() error {
	r.closed.Store(true)
	r.b.event("remuxer.close")
	return nil
}

type fakeCapturer struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (c *fakeCapturer) CaptureFrame(frame media.Frame) []byte {
	c.calls.Add(1)
	if c.fail.Load() || frame.(*fakeFrame).released.Load() {
		return nil
	}
	return []byte{0xFF, 0xD8, 0xFF, 0xD9}
}

type fakeHW struct{}

func (fakeHW) DeviceType() string { return "vaapi" }

// fakeAccel retains a clone of the newest frame the way the GPU provider
// does, and only has an image while it holds one.
type fakeAccel struct {
	initialized bool
	image       []byte
	processed   atomic.Int64
	snapshots   atomic.Int32
	resets      atomic.Int32

	mu     sync.Mutex
	latest media.Frame
}

func (a *fakeAccel) Initialized() bool { return a.initialized }

func (a *fakeAccel) DeviceContext() media.HardwareContext { return fakeHW{} }

func (a *fakeAccel) ProcessFrame(frame media.Frame) {
	a.processed.Add(1)
	clone, err := frame.Clone()
	if err != nil {
		return
	}
	a.mu.Lock()
	old := a.latest
	a.latest = clone
	a.mu.Unlock()
	if old != nil {
		old.Release()
	}
}

func (a *fakeAccel) Snapshot() []byte {
	a.snapshots.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latest == nil {
		return nil
	}
	return a.image
}

func (a *fakeAccel) Reset() {
	a.resets.Add(1)
	a.mu.Lock()
	old := a.latest
	a.latest = nil
	a.mu.Unlock()
	if old != nil {
		old.Release()
	}
}

// fakeBackend records every component it creates.
type fakeBackend struct {
	mu        sync.Mutex
	demuxers  []*fakeDemuxer
	decoders  []*fakeDecoder
	remuxers  []*fakeRemuxer
	events    []string
	demuxOpts media.DemuxOptions

	// gate, when set, blocks NewDemuxer until closed.
	gate chan struct{}

	demuxOpenErr    error
	demuxOpenBlock  bool
	decoderOpenErr  error
	decoderFallback bool
	remuxOpenErr    error
	// remuxOpenGate, when set, blocks remuxer Open until closed.
	remuxOpenGate chan struct{}

	framesPerPacket int
	liveFrames      atomic.Int64
	capture         fakeCapturer
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{framesPerPacket: 1}
}

func (b *fakeBackend) NewDemuxer() media.Demuxer {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d := &fakeDemuxer{
		b:         b,
		reads:     make(chan readResult),
		openErr:   b.demuxOpenErr,
		openBlock: b.demuxOpenBlock,
		opened:    make(chan struct{}),
		abort:     make(chan struct{}),
	}
	b.demuxers = append(b.demuxers, d)
	return d
}

func (b *fakeBackend) NewDecoder() media.Decoder {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := &fakeDecoder{b: b, openErr: b.decoderOpenErr, swFallback: b.decoderFallback}
	b.decoders = append(b.decoders, d)
	return d
}

func (b *fakeBackend) NewRemuxer() media.Remuxer {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := &fakeRemuxer{b: b, openErr: b.remuxOpenErr, openGate: b.remuxOpenGate}
	b.remuxers = append(b.remuxers, r)
	return r
}

func (b *fakeBackend) FrameCapturer() media.FrameCapturer { return &b.capture }

func (b *fakeBackend) event(e string) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *fakeBackend) eventLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func (b *fakeBackend) demuxer(t *testing.T, i int) *fakeDemuxer {
	t.Helper()
	var d *fakeDemuxer
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		if len(b.demuxers) > i {
			d = b.demuxers[i]
			return true
		}
		return false
	}, time.Second, time.Millisecond)
	return d
}

func (b *fakeBackend) decoder(i int) *fakeDecoder {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.decoders[i]
}

func (b *fakeBackend) remuxerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.remuxers)
}

func (b *fakeBackend) remuxer(i int) *fakeRemuxer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remuxers[i]
}

// stateRecorder collects transitions delivered to OnStateChange.
type stateRecorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *stateRecorder) record(c StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *stateRecorder) transitions() [][2]PlayerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][2]PlayerState, len(r.changes))
	for i, c := range r.changes {
		out[i] = [2]PlayerState{c.Previous, c.Current}
	}
	return out
}

func (r *stateRecorder) all() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateChange(nil), r.changes...)
}

// newTestPlayer returns a player on b with its transitions recorded.
func newTestPlayer(t *testing.T, b *fakeBackend, accel media.Accelerator) (*VideoPlayer, *stateRecorder) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backend = b
	cfg.Accelerator = accel
	p, err := New(cfg)
	require.NoError(t, err)

	rec := &stateRecorder{}
	p.OnStateChange(rec.record)

	t.Cleanup(func() {
		_ = p.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Wait(ctx)
	})
	return p, rec
}

// openPlaying opens a stream and waits for Playing.
func openPlaying(t *testing.T, p *VideoPlayer, b *fakeBackend, opts StreamOptions) *fakeDemuxer {
	t.Helper()
	n := len(b.demuxersSnapshot())
	require.NoError(t, p.Open("rtsp://camera.test/stream", opts))
	d := b.demuxer(t, n)
	waitState(t, p, StatePlaying)
	return d
}

func (b *fakeBackend) demuxersSnapshot() []*fakeDemuxer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeDemuxer(nil), b.demuxers...)
}

func waitState(t *testing.T, p *VideoPlayer, want PlayerState) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State() == want },
		2*time.Second, time.Millisecond, "state never became %s (is %s)", want, p.State())
}

func waitFrames(t *testing.T, p *VideoPlayer, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return p.Stats().FramesDecoded >= n },
		2*time.Second, time.Millisecond, "decoded %d frames, want %d", p.Stats().FramesDecoded, n)
}

func waitDone(t *testing.T, p *VideoPlayer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
}
