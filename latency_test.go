package videoplayer

import (
	"testing"
	"time"

	"github.com/e7canasta/orion-videoplayer/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type arrival struct {
	at   time.Duration
	pts  int64
	key  bool
	want bool
}

func TestLatencyGuard(t *testing.T) {
	tb := media.Rational{Num: 1, Den: 90000}
	ms := int64(90)

	tests := []struct {
		name     string
		budget   time.Duration
		tb       media.Rational
		arrivals []arrival
	}{
		{
			name:   "disabled",
			budget: 0,
			tb:     tb,
			arrivals: []arrival{
				{at: 0, pts: 0, key: true, want: true},
				{at: 10 * time.Second, pts: 40 * ms, want: true},
			},
		},
		{
			name:   "invalid time base",
			budget: 100 * time.Millisecond,
			arrivals: []arrival{
				{at: 0, pts: 0, key: true, want: true},
				{at: 10 * time.Second, pts: 40 * ms, want: true},
			},
		},
		{
			name:   "real time source",
			budget: 100 * time.Millisecond,
			tb:     tb,
			arrivals: []arrival{
				{at: 0, pts: 0, key: true, want: true},
				{at: 40 * time.Millisecond, pts: 40 * ms, want: true},
				{at: 80 * time.Millisecond, pts: 80 * ms, want: true},
				{at: 200 * time.Millisecond, pts: 120 * ms, want: true},
			},
		},
		{
			name:   "skips to next keyframe",
			budget: 100 * time.Millisecond,
			tb:     tb,
			arrivals: []arrival{
				{at: 0, pts: 0, key: true, want: true},
				{at: 40 * time.Millisecond, pts: 40 * ms, want: true},
				{at: 500 * time.Millisecond, pts: 80 * ms, want: false},
				{at: 501 * time.Millisecond, pts: 120 * ms, want: false},
				{at: 502 * time.Millisecond, pts: 160 * ms, key: true, want: true},
				{at: 540 * time.Millisecond, pts: 200 * ms, want: true},
			},
		},
		{
			name:   "late keyframe re-anchors",
			budget: 100 * time.Millisecond,
			tb:     tb,
			arrivals: []arrival{
				{at: 0, pts: 0, key: true, want: true},
				{at: time.Second, pts: 40 * ms, key: true, want: true},
				{at: time.Second + 40*time.Millisecond, pts: 80 * ms, want: true},
			},
		},
		{
			name:   "timestamp discontinuity re-anchors",
			budget: 100 * time.Millisecond,
			tb:     tb,
			arrivals: []arrival{
				{at: 0, pts: 9000 * ms, key: true, want: true},
				{at: 40 * time.Millisecond, pts: 0, want: true},
				{at: 80 * time.Millisecond, pts: 40 * ms, want: true},
			},
		},
	}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newLatencyGuard(tt.budget, tt.tb)
			for i, a := range tt.arrivals {
				pkt := &fakePacket{video: true, key: a.key, pts: a.pts}
				assert.Equal(t, a.want, g.admit(pkt, base.Add(a.at)), "packet %d", i)
			}
		})
	}
}

func TestLatencyGuard_Nil(t *testing.T) {
	var g *latencyGuard
	assert.True(t, g.admit(videoPacket(1), time.Now()))
}

func TestMaxLatency_SkipsUntilKeyframe(t *testing.T) {
	b := newFakeBackend()
	p, _ := newTestPlayer(t, b, nil)
	d := openPlaying(t, p, b, StreamOptions{MaxLatency: 10 * time.Millisecond})

	d.reads <- readResult{pkt: &fakePacket{video: true, key: true, pts: 0}}
	waitFrames(t, p, 1)

	// The source clock advances 1ms per packet while the wall clock runs ahead.
	time.Sleep(50 * time.Millisecond)
	late := []*fakePacket{
		{video: true, pts: 90},
		{video: true, pts: 180},
	}
	for _, pkt := range late {
		d.reads <- readResult{pkt: pkt}
	}
	d.reads <- readResult{pkt: &fakePacket{video: true, key: true, pts: 270}}
	waitFrames(t, p, 2)

	st := p.Stats()
	assert.Equal(t, uint64(2), st.FramesDecoded)
	assert.Equal(t, uint64(2), st.PacketsSkipped)
	for i, pkt := range late {
		assert.Equal(t, int32(1), pkt.released.Load(), "skipped packet %d", i)
	}

	require.NoError(t, p.Close())
	waitDone(t, p)
	assert.Zero(t, p.Stats().PacketsSkipped)
}
