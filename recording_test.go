package videoplayer

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecording_WrongState(t *testing.T) {
	b := newFakeBackend()
	p, _ := newTestPlayer(t, b, nil)
	path := filepath.Join(t.TempDir(), "out.mkv")

	assert.ErrorIs(t, p.StartRecording(path), ErrWrongState)
	assert.ErrorIs(t, p.StopRecording(), ErrWrongState)
	assert.False(t, p.IsRecording())

	b.demuxOpenBlock = true
	require.NoError(t, p.Open("rtsp://camera.test/stream", StreamOptions{}))
	assert.ErrorIs(t, p.StartRecording(path), ErrWrongState, "not while opening")
	require.NoError(t, p.Close())
	waitDone(t, p)
	assert.Zero(t, b.remuxerCount())
}

func TestRecording_NotRecording(t *testing.T) {
	b := newFakeBackend()
	p, _ := newTestPlayer(t, b, nil)
	openPlaying(t, p, b, StreamOptions{})

	assert.Error(t, p.StartRecording(""))
	assert.ErrorIs(t, p.StopRecording(), ErrNotRecording)
}

// Packets read before StartRecording are not recorded; every video packet
// after it is.
func TestRecording_CopiesSubsequentPackets(t *testing.T) {
	b := newFakeBackend()
	p, _ := newTestPlayer(t, b, nil)
	d := openPlaying(t, p, b, StreamOptions{})
	path := filepath.Join(t.TempDir(), "cam1.mp4")

	for i := 0; i < 20; i++ {
		d.reads <- readResult{pkt: videoPacket(i)}
	}
	waitFrames(t, p, 20)

	require.NoError(t, p.StartRecording(path))
	assert.True(t, p.IsRecording())

	// Audio and undecodable packets are interleaved; only video is copied,
	// decodable or not.
	for i := 20; i < 100; i++ {
		d.reads <- readResult{pkt: videoPacket(i)}
		if i%10 == 0 {
			d.reads <- readResult{pkt: &fakePacket{video: false}}
		}
	}
	d.reads <- readResult{pkt: &fakePacket{video: true, corrupt: true}}
	d.reads <- readResult{pkt: videoPacket(100)}
	waitFrames(t, p, 101)

	r := b.remuxer(0)
	assert.Equal(t, path, r.path)
	assert.Equal(t, int64(82), r.written.Load())

	st := p.Stats()
	assert.True(t, st.Recording)
	assert.Equal(t, path, st.RecordingPath)
	assert.Equal(t, uint64(82), st.PacketsRecorded)

	require.NoError(t, p.StopRecording())
	assert.False(t, p.IsRecording())
	assert.True(t, r.closed.Load())

	d.reads <- readResult{pkt: videoPacket(101)}
	waitFrames(t, p, 102)
	assert.Equal(t, int64(82), r.written.Load(), "no writes after stop")
	assert.ErrorIs(t, p.StopRecording(), ErrNotRecording)
}

func TestRecording_SecondStartIsNoop(t *testing.T) {
	b := newFakeBackend()
	p, _ := newTestPlayer(t, b, nil)
	openPlaying(t, p, b, StreamOptions{})
	dir := t.TempDir()

	require.NoError(t, p.StartRecording(filepath.Join(dir, "a.mkv")))
	require.NoError(t, p.StartRecording(filepath.Join(dir, "b.mkv")))

	assert.Equal(t, 1, b.remuxerCount())
	assert.Equal(t, filepath.Join(dir, "a.mkv"), p.Stats().RecordingPath)
}

// A recording that cannot be opened is reported to the caller and leaves
// playback untouched.
func TestRecording_OpenFailureIsLocal(t *testing.T) {
	b := newFakeBackend()
	b.remuxOpenErr = errors.New("permission denied")
	p, rec := newTestPlayer(t, b, nil)
	d := openPlaying(t, p, b, StreamOptions{})

	err := p.StartRecording("/readonly/out.mkv")
	require.Error(t, err)
	assert.ErrorIs(t, err, b.remuxOpenErr)
	assert.False(t, p.IsRecording())
	assert.True(t, b.remuxer(0).closed.Load(), "partially opened output released")

	d.reads <- readResult{pkt: videoPacket(0)}
	waitFrames(t, p, 1)
	assert.Equal(t, StatePlaying, p.State())
	assert.Len(t, rec.transitions(), 2)

	// A later attempt can still succeed.
	b.mu.Lock()
	b.remuxOpenErr = nil
	b.mu.Unlock()
	require.NoError(t, p.StartRecording(filepath.Join(t.TempDir(), "ok.mkv")))
	assert.True(t, p.IsRecording())
}

// An open recording is finalized by the worker before the decoder and
// demuxer are released.
func TestRecording_TeardownOrder(t *testing.T) {
	b := newFakeBackend()
	p, _ := newTestPlayer(t, b, nil)
	d := openPlaying(t, p, b, StreamOptions{})

	require.NoError(t, p.StartRecording(filepath.Join(t.TempDir(), "out.ts")))
	d.reads <- readResult{pkt: videoPacket(0)}
	waitFrames(t, p, 1)

	require.NoError(t, p.Close())
	waitDone(t, p)

	assert.Equal(t, []string{"remuxer.close", "decoder.close", "demuxer.close"}, b.eventLog())
	assert.True(t, b.remuxer(0).closed.Load())
	assert.False(t, p.IsRecording())
	assert.Zero(t, p.Stats().PacketsRecorded)
}

func TestRecording_EndOfStreamFinalizes(t *testing.T) {
	b := newFakeBackend()
	p, _ := newTestPlayer(t, b, nil)
	d := openPlaying(t, p, b, StreamOptions{})

	require.NoError(t, p.StartRecording(filepath.Join(t.TempDir(), "out.mkv")))
	for i := 0; i < 5; i++ {
		d.reads <- readResult{pkt: videoPacket(i)}
	}
	close(d.reads)

	waitState(t, p, StateStopped)
	waitDone(t, p)
	assert.Equal(t, int64(5), b.remuxer(0).written.Load())
	assert.Equal(t, "remuxer.close", b.eventLog()[0])
}

// A slow recording open never holds up the read loop.
func TestRecording_SlowOpenDoesNotStallPlayback(t *testing.T) {
	b := newFakeBackend()
	b.remuxOpenGate = make(chan struct{})
	p, _ := newTestPlayer(t, b, nil)
	d := openPlaying(t, p, b, StreamOptions{})
	path := filepath.Join(t.TempDir(), "slow.mkv")

	started := make(chan error, 1)
	go func() { started <- p.StartRecording(path) }()
	require.Eventually(t, func() bool { return b.remuxerCount() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 10; i++ {
		d.reads <- readResult{pkt: videoPacket(i)}
	}
	waitFrames(t, p, 10)
	assert.False(t, p.IsRecording())

	close(b.remuxOpenGate)
	require.NoError(t, <-started)
	assert.True(t, p.IsRecording())

	d.reads <- readResult{pkt: videoPacket(10)}
	waitFrames(t, p, 11)
	assert.Equal(t, int64(1), b.remuxer(0).written.Load())
}

// Close while a recording is opening: the worker waits for the open before
// closing the demuxer, and the late remuxer is closed by its opener.
func TestRecording_CloseDuringOpen(t *testing.T) {
	b := newFakeBackend()
	b.remuxOpenGate = make(chan struct{})
	p, _ := newTestPlayer(t, b, nil)
	openPlaying(t, p, b, StreamOptions{})

	started := make(chan error, 1)
	go func() { started <- p.StartRecording(filepath.Join(t.TempDir(), "late.ts")) }()
	require.Eventually(t, func() bool { return b.remuxerCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Close())
	assert.Never(t, func() bool {
		for _, e := range b.eventLog() {
			if e == "demuxer.close" {
				return true
			}
		}
		return false
	}, 50*time.Millisecond, 5*time.Millisecond, "demuxer closed while its parameters were in use")

	close(b.remuxOpenGate)
	assert.ErrorIs(t, <-started, ErrWrongState)
	waitDone(t, p)

	assert.True(t, b.remuxer(0).closed.Load())
	assert.Equal(t, []string{"remuxer.close", "decoder.close", "demuxer.close"}, b.eventLog())
}
