// Package cadence measures the regularity of decoded frame arrivals: mean
// rate, spread of the instantaneous rate, and inter-frame jitter over the
// most recent frames of a stream.
package cadence

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of the mean (30 FPS is stable while stddev < 4.5).
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of
	// the expected interval (30 FPS is stable while jitter < 6.6ms).
	jitterStabilityThreshold = 0.20

	// minFramesForStability is the sample size below which a stream is
	// never reported stable.
	minFramesForStability = 3

	// DefaultWindow is the number of arrivals a Tracker keeps.
	DefaultWindow = 120
)

// Stats summarizes a run of frame arrival times.
type Stats struct {
	Frames       int
	Span         time.Duration
	FPSMean      float64
	FPSStdDev    float64
	FPSMin       float64
	FPSMax       float64
	JitterMean   time.Duration
	JitterStdDev time.Duration
	JitterMax    time.Duration
	Stable       bool
}

// Calculate derives Stats from arrival times in ascending order.
//
// The mean rate is intervals over the span between the first and the last
// arrival; instantaneous rates are per interval.
func Calculate(arrivals []time.Time) Stats {
	n := len(arrivals)
	if n < 2 {
		return Stats{Frames: n}
	}

	span := arrivals[n-1].Sub(arrivals[0])
	st := Stats{Frames: n, Span: span}
	if span <= 0 {
		return st
	}
	st.FPSMean = float64(n-1) / span.Seconds()

	rates := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if iv := arrivals[i].Sub(arrivals[i-1]).Seconds(); iv > 0 {
			rates = append(rates, 1/iv)
		}
	}
	if len(rates) == 0 {
		return st
	}

	st.FPSMin, st.FPSMax = rates[0], rates[0]
	var sq float64
	for _, r := range rates {
		st.FPSMin = math.Min(st.FPSMin, r)
		st.FPSMax = math.Max(st.FPSMax, r)
		d := r - st.FPSMean
		sq += d * d
	}
	st.FPSStdDev = math.Sqrt(sq / float64(len(rates)))

	expected := 1 / st.FPSMean
	jitters := make([]float64, 0, n-1)
	var sum, max float64
	for i := 1; i < n; i++ {
		j := math.Abs(arrivals[i].Sub(arrivals[i-1]).Seconds() - expected)
		jitters = append(jitters, j)
		sum += j
		max = math.Max(max, j)
	}
	mean := sum / float64(len(jitters))
	sq = 0
	for _, j := range jitters {
		d := j - mean
		sq += d * d
	}

	st.JitterMean = seconds(mean)
	st.JitterStdDev = seconds(math.Sqrt(sq / float64(len(jitters))))
	st.JitterMax = seconds(max)
	st.Stable = n >= minFramesForStability &&
		st.FPSStdDev < st.FPSMean*fpsStabilityThreshold &&
		mean < expected*jitterStabilityThreshold
	return st
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Tracker keeps the most recent arrival times in a ring. It is safe for
// one writer and any number of readers.
type Tracker struct {
	mu    sync.Mutex
	ring  []time.Time
	next  int
	count int
}

// NewTracker returns a tracker holding up to window arrivals.
func NewTracker(window int) *Tracker {
	if window < 2 {
		window = DefaultWindow
	}
	return &Tracker{ring: make([]time.Time, window)}
}

// Observe records one arrival.
func (t *Tracker) Observe(at time.Time) {
	t.mu.Lock()
	t.ring[t.next] = at
	t.next = (t.next + 1) % len(t.ring)
	if t.count < len(t.ring) {
		t.count++
	}
	t.mu.Unlock()
}

// Stats computes Stats over the retained arrivals.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	arrivals := make([]time.Time, t.count)
	start := (t.next - t.count + len(t.ring)) % len(t.ring)
	for i := 0; i < t.count; i++ {
		arrivals[i] = t.ring[(start+i)%len(t.ring)]
	}
	t.mu.Unlock()

	return Calculate(arrivals)
}

// Reset forgets every arrival.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.next, t.count = 0, 0
	t.mu.Unlock()
}
