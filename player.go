package videoplayer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/e7canasta/orion-videoplayer/internal/media"
)

// VideoPlayer orchestrates one network video stream at a time.
//
// Guarantees:
//   - Open returns immediately; negotiation happens on a worker goroutine.
//   - Close is idempotent and never blocks on native calls. Native teardown
//     happens on the worker's own exit path; use Wait to observe it.
//   - State change handlers run synchronously on the goroutine that caused
//     the transition: the worker for Opening/Playing/Error and end of
//     stream, the caller for Close.
//   - All methods are safe for concurrent use.
type VideoPlayer struct {
	cfg     Config
	log     *slog.Logger
	backend media.Backend
	accel   media.Accelerator

	mu       sync.Mutex
	state    PlayerState
	err      error
	session  *session
	live     map[*session]struct{}
	handlers []func(StateChange)
}

// New creates a stopped player with fail-fast validation of cfg.
func New(cfg Config) (*VideoPlayer, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &VideoPlayer{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "videoplayer"),
		backend: cfg.Backend,
		accel:   cfg.Accelerator,
		live:    make(map[*session]struct{}),
	}, nil
}

// OnStateChange registers fn for every subsequent transition.
func (p *VideoPlayer) OnStateChange(fn func(StateChange)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.handlers = append(p.handlers, fn)
	p.mu.Unlock()
}

// State returns the current state.
func (p *VideoPlayer) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the failure that moved the player into StateError, or nil.
func (p *VideoPlayer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Open starts a session for uri. It is only legal while Stopped; otherwise
// ErrWrongState is returned and nothing changes. Failures after this point
// are reported through StateError.
func (p *VideoPlayer) Open(uri string, opts StreamOptions) error {
	if uri == "" {
		return fmt.Errorf("videoplayer: uri is required")
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("videoplayer: %w", err)
	}

	p.mu.Lock()
	if p.state != StateStopped {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: open while %s", ErrWrongState, state)
	}

	s := newSession(uri, opts, p.cfg)
	p.session = s
	p.live[s] = struct{}{}
	change := p.setStateLocked(StateOpening, nil)
	handlers := slices.Clone(p.handlers)
	p.mu.Unlock()

	s.log.Info("videoplayer: opening stream",
		"transport", opts.Transport,
		"low_latency", opts.LowLatencyMode,
		"hardware_acceleration", opts.HardwareAcceleration,
	)
	notify(handlers, change)

	go p.run(s)
	return nil
}

// Close stops the current session and reports Stopped immediately. It
// cancels the session token and aborts any blocking read; the worker
// releases native resources on its own. Calling Close while Stopped is a
// no-op.
func (p *VideoPlayer) Close() error {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return nil
	}
	s := p.session
	p.session = nil
	change := p.setStateLocked(StateStopped, nil)
	handlers := slices.Clone(p.handlers)
	p.mu.Unlock()

	if s != nil {
		s.stop()
		s.log.Info("videoplayer: stream closed", "previous_state", change.Previous.String())
	}
	notify(handlers, change)
	return nil
}

// Wait blocks until every worker started by this player has released its
// native resources, or ctx is done.
func (p *VideoPlayer) Wait(ctx context.Context) error {
	p.mu.Lock()
	pending := make([]chan struct{}, 0, len(p.live))
	for s := range p.live {
		pending = append(pending, s.done)
	}
	p.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// StreamInfo returns the negotiated stream metadata. ok is false unless
// the player is Playing.
func (p *VideoPlayer) StreamInfo() (info VideoStreamInfo, ok bool) {
	s := p.playing()
	if s == nil {
		return VideoStreamInfo{}, false
	}
	i := s.info.Load()
	if i == nil {
		return VideoStreamInfo{}, false
	}
	return *i, true
}

// Stats returns live counters for the current session.
func (p *VideoPlayer) Stats() Stats {
	p.mu.Lock()
	state := p.state
	s := p.session
	p.mu.Unlock()

	if s == nil {
		return Stats{State: state}
	}

	cs := s.cadence.Stats()
	st := Stats{
		State:           state,
		SessionID:       s.id,
		URI:             s.uri,
		FramesDecoded:   s.framesDecoded.Load(),
		FPS:             s.fps.rate(),
		ReadErrors:      s.readErrors.stats(),
		PacketsRecorded: s.packetsRecorded.Load(),
		PacketsSkipped:  s.packetsSkipped.Load(),
		Uptime:          time.Since(s.started),
		Stability: Stability{
			Frames:     cs.Frames,
			FPSMean:    cs.FPSMean,
			FPSStdDev:  cs.FPSStdDev,
			JitterMean: cs.JitterMean,
			JitterMax:  cs.JitterMax,
			Stable:     cs.Stable,
		},
	}
	st.Recording, st.RecordingPath = s.recording()
	return st
}

// playing returns the current session when the player is Playing.
func (p *VideoPlayer) playing() *session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying {
		return nil
	}
	return p.session
}

// transition moves the player to state on behalf of the worker of s. It is
// ignored when s is no longer the current session (it was closed).
func (p *VideoPlayer) transition(s *session, state PlayerState, err error) bool {
	p.mu.Lock()
	if p.session != s || p.state == state {
		p.mu.Unlock()
		return false
	}
	if state == StatePlaying && p.state != StateOpening {
		p.mu.Unlock()
		return false
	}
	if state == StateStopped {
		p.session = nil
	}
	change := p.setStateLocked(state, err)
	handlers := slices.Clone(p.handlers)
	p.mu.Unlock()

	notify(handlers, change)
	return true
}

func (p *VideoPlayer) setStateLocked(state PlayerState, err error) StateChange {
	change := StateChange{
		Previous: p.state,
		Current:  state,
		Err:      err,
		At:       time.Now(),
	}
	p.state = state
	p.err = err
	return change
}

func (p *VideoPlayer) untrack(s *session) {
	p.mu.Lock()
	delete(p.live, s)
	p.mu.Unlock()
}

func notify(handlers []func(StateChange), change StateChange) {
	for _, fn := range handlers {
		fn(change)
	}
}
