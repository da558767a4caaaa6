package engine

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/orion-videoplayer/internal/config"
	"github.com/e7canasta/orion-videoplayer/internal/media"
)

var errAborted = errors.New("fake: aborted")

type frame struct{}

func (frame) Width() int                  { return 640 }
func (frame) Height() int                 { return 480 }
func (frame) PixelFormat() string         { return "yuv420p" }
func (frame) Pts() int64                  { return 0 }
func (frame) HardwareBacked() bool        { return false }
func (frame) Clone() (media.Frame, error) { return frame{}, nil }
func (frame) Release()                    {}

type packet struct{}

func (packet) IsVideo() bool  { return true }
func (packet) KeyFrame() bool { return true }
func (packet) Pts() int64     { return 0 }
func (packet) Size() int      { return 512 }
func (packet) Release()       {}

type params struct{}

func (params) CodecName() string { return "h264" }
func (params) Width() int        { return 640 }
func (params) Height() int       { return 480 }

// backend serves a few packets per session and then blocks until aborted.
// URIs listed in failures fail to open that many times.
type backend struct {
	mu       sync.Mutex
	failures map[string]int
	opens    map[string]int
}

func newBackend() *backend {
	return &backend{failures: map[string]int{}, opens: map[string]int{}}
}

func (b *backend) failOpen(uri string, times int) {
	b.mu.Lock()
	b.failures[uri] = times
	b.mu.Unlock()
}

func (b *backend) openCount(uri string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[uri]
}

func (b *backend) NewDemuxer() media.Demuxer {
	return &demuxer{b: b, abort: make(chan struct{})}
}

func (b *backend) NewDecoder() media.Decoder          { return &decoder{} }
func (b *backend) NewRemuxer() media.Remuxer          { return &remuxer{} }
func (b *backend) FrameCapturer() media.FrameCapturer { return capturer{} }

type demuxer struct {
	b         *backend
	abortOnce sync.Once
	abort     chan struct{}
	served    int
}

func (d *demuxer) Open(ctx context.Context, uri string, opts media.DemuxOptions) error {
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	d.b.opens[uri]++
	if n := d.b.failures[uri]; n != 0 {
		if n > 0 {
			d.b.failures[uri] = n - 1
		}
		return errors.New("connection refused")
	}
	return nil
}

func (d *demuxer) ReadPacket() (media.Packet, error) {
	if d.served < 3 {
		d.served++
		return packet{}, nil
	}
	<-d.abort
	return nil, errAborted
}

func (d *demuxer) RequestAbort() { d.abortOnce.Do(func() { close(d.abort) }) }

func (d *demuxer) VideoParams() media.StreamParams { return params{} }
func (d *demuxer) VideoTimeBase() media.Rational   { return media.Rational{Num: 1, Den: 90000} }
func (d *demuxer) Close() error                    { return nil }

type decoder struct{ pending bool }

func (d *decoder) Open(media.StreamParams, media.DecoderOptions) error { return nil }
func (d *decoder) SendPacket(media.Packet) bool                        { d.pending = true; return true }

func (d *decoder) ReceiveFrame() (media.Frame, bool) {
	if !d.pending {
		return nil, false
	}
	d.pending = false
	return frame{}, true
}

func (d *decoder) Info() media.DecoderInfo {
	return media.DecoderInfo{CodecName: "h264", PixelFormat: "yuv420p", Width: 640, Height: 480}
}
func (d *decoder) Close() error { return nil }

// remuxer creates the output file so tests can see where it went.
type remuxer struct{ f *os.File }

func (r *remuxer) Open(path string, _ media.StreamParams, _ media.Rational) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	r.f = f
	return nil
}

func (r *remuxer) WritePacket(media.Packet, media.Rational) error {
	_, err := r.f.Write([]byte{0})
	return err
}

func (r *remuxer) Close() error {
	if r.f == nil {
		return nil
	}
	return r.f.Close()
}

type capturer struct{}

func (capturer) CaptureFrame(media.Frame) []byte { return []byte{0xFF, 0xD8, 0xFF, 0xD9} }

// accel counts Detach calls.
type accel struct{ detached atomic.Int32 }

func (a *accel) Initialized() bool                    { return false }
func (a *accel) DeviceContext() media.HardwareContext { return nil }
func (a *accel) ProcessFrame(media.Frame)             {}
func (a *accel) Snapshot() []byte                     { return nil }
func (a *accel) Reset()                               {}
func (a *accel) Detach()                              { a.detached.Add(1) }

func testConfig(t *testing.T, streams ...config.StreamConfig) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.RecordingsDir = t.TempDir()
	cfg.Engine.SnapshotsDir = t.TempDir()
	cfg.Engine.Reconnect = config.ReconnectConfig{
		MaxRetries:    3,
		RetryDelay:    5 * time.Millisecond,
		MaxRetryDelay: 20 * time.Millisecond,
	}
	for i := range streams {
		if streams[i].RecordFormat == "" {
			streams[i].RecordFormat = "mkv"
		}
	}
	cfg.Streams = streams
	return cfg
}
