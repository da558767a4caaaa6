package videoplayer

import (
	"time"

	"github.com/e7canasta/orion-videoplayer/internal/media"
)

var nanoseconds = media.Rational{Num: 1, Den: int(time.Second)}

// latencyGuard tracks how far decoding trails the source clock. Once the lag
// exceeds budget, packets are skipped until the next keyframe, where the
// clock is re-anchored. Worker-only.
type latencyGuard struct {
	budget time.Duration
	tb     media.Rational

	anchored bool
	baseWall time.Time
	basePts  int64
	skipping bool
}

func newLatencyGuard(budget time.Duration, tb media.Rational) *latencyGuard {
	return &latencyGuard{budget: budget, tb: tb}
}

// admit reports whether pkt, read at now, should be decoded.
func (g *latencyGuard) admit(pkt media.Packet, now time.Time) bool {
	if g == nil || g.budget <= 0 || !g.tb.Valid() {
		return true
	}

	if !g.anchored || pkt.KeyFrame() && g.skipping {
		g.anchor(pkt, now)
		return true
	}
	if g.skipping {
		return false
	}

	elapsed := time.Duration(g.tb.Rescale(pkt.Pts()-g.basePts, nanoseconds))
	if elapsed < 0 {
		// Timestamp discontinuity.
		g.anchor(pkt, now)
		return true
	}
	if now.Sub(g.baseWall)-elapsed <= g.budget {
		return true
	}
	if pkt.KeyFrame() {
		g.anchor(pkt, now)
		return true
	}
	g.skipping = true
	return false
}

func (g *latencyGuard) anchor(pkt media.Packet, now time.Time) {
	g.anchored = true
	g.skipping = false
	g.baseWall = now
	g.basePts = pkt.Pts()
}
