package videoplayer

import (
	"math"
	"sync/atomic"
	"time"
)

// fpsMeter estimates the decode rate over fixed sampling windows. tick is
// called by the worker only; rate may be read from any goroutine.
type fpsMeter struct {
	window time.Duration
	start  time.Time
	count  int

	bits atomic.Uint64
}

func newFPSMeter(window time.Duration) *fpsMeter {
	return &fpsMeter{window: window}
}

// tick counts one frame at now and publishes a new rate when the current
// window has elapsed.
func (m *fpsMeter) tick(now time.Time) {
	if m.start.IsZero() {
		m.start = now
	}
	m.count++

	elapsed := now.Sub(m.start)
	if elapsed < m.window {
		return
	}
	m.bits.Store(math.Float64bits(float64(m.count) / elapsed.Seconds()))
	m.start = now
	m.count = 0
}

// rate returns the last published estimate.
func (m *fpsMeter) rate() float64 {
	return math.Float64frombits(m.bits.Load())
}

// reset clears the estimate.
func (m *fpsMeter) reset() {
	m.start = time.Time{}
	m.count = 0
	m.bits.Store(0)
}
