// Package engine runs a set of named streams, one VideoPlayer each, and
// reopens streams that fail.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	videoplayer "github.com/e7canasta/orion-videoplayer"
	"github.com/e7canasta/orion-videoplayer/internal/config"
	"github.com/e7canasta/orion-videoplayer/internal/media"
)

// ErrUnknownStream is returned for names absent from the configuration.
var ErrUnknownStream = errors.New("engine: unknown stream")

// settlePoll is how often OpenAll checks whether a stream left Opening.
const settlePoll = 10 * time.Millisecond

// Options carries the runtime dependencies of a Manager.
type Options struct {
	// Backend creates native components for every stream (required).
	Backend media.Backend
	// Attach returns the accelerator of a new stream. Nil disables GPU use.
	Attach func() media.Accelerator
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Event is a state change of a named stream.
type Event struct {
	Stream string
	Change videoplayer.StateChange
}

// Status is a point-in-time view of one stream.
type Status struct {
	Name       string
	URI        string
	State      videoplayer.PlayerState
	Err        error
	Info       videoplayer.VideoStreamInfo
	HasInfo    bool
	Stats      videoplayer.Stats
	Reconnects uint32
}

type handle struct {
	name   string
	sc     config.StreamConfig
	player *videoplayer.VideoPlayer
	accel  media.Accelerator

	changes    chan videoplayer.StateChange
	wanted     atomic.Bool
	reconnects atomic.Uint32
}

// Manager manages the lifecycle of the configured streams.
type Manager struct {
	cfg *config.Config
	log *slog.Logger

	streams map[string]*handle
	names   []string

	mu       sync.RWMutex
	handlers []func(Event)

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewManager creates a player for every configured stream. No stream is
// opened until Open or OpenAll.
func NewManager(cfg *config.Config, opts Options) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("engine: backend is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		cfg:     cfg,
		log:     log.With("component", "engine"),
		streams: make(map[string]*handle, len(cfg.Streams)),
	}

	for _, sc := range cfg.Streams {
		pc := cfg.PlayerConfig()
		pc.Backend = opts.Backend
		pc.Logger = log.With("stream", sc.Name)

		h := &handle{
			name:    sc.Name,
			sc:      sc,
			changes: make(chan videoplayer.StateChange, 32),
		}
		if opts.Attach != nil {
			h.accel = opts.Attach()
			pc.Accelerator = h.accel
		}

		p, err := videoplayer.New(pc)
		if err != nil {
			if d, ok := h.accel.(interface{ Detach() }); ok {
				d.Detach()
			}
			m.detach()
			return nil, fmt.Errorf("engine: stream %s: %w", sc.Name, err)
		}
		h.player = p
		p.OnStateChange(func(c videoplayer.StateChange) { m.dispatch(h, c) })

		m.streams[sc.Name] = h
		m.names = append(m.names, sc.Name)
	}
	sort.Strings(m.names)

	return m, nil
}

// Subscribe registers fn for state changes of every stream. fn runs on the
// goroutine that caused the change and must not block.
func (m *Manager) Subscribe(fn func(Event)) {
	m.mu.Lock()
	m.handlers = append(m.handlers, fn)
	m.mu.Unlock()
}

func (m *Manager) dispatch(h *handle, c videoplayer.StateChange) {
	if c.Err != nil {
		m.log.Warn("stream state changed", "stream", h.name, "from", c.Previous.String(), "to", c.Current.String(), "error", c.Err)
	} else {
		m.log.Info("stream state changed", "stream", h.name, "from", c.Previous.String(), "to", c.Current.String())
	}

	select {
	case h.changes <- c:
	default:
		m.log.Debug("supervisor queue full, dropping state change", "stream", h.name)
	}

	m.mu.RLock()
	handlers := m.handlers
	m.mu.RUnlock()
	ev := Event{Stream: h.name, Change: c}
	for _, fn := range handlers {
		fn(ev)
	}
}

// Start launches one supervisor per stream. Supervisors reopen failed
// streams until Shutdown.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.group, ctx = errgroup.WithContext(ctx)

	for _, name := range m.names {
		h := m.streams[name]
		m.group.Go(func() error {
			m.supervise(ctx, h)
			return nil
		})
	}
	m.log.Info("engine started", "streams", len(m.names), "reconnect", m.cfg.Engine.Reconnect.Enabled())
}

// Open starts the named stream.
func (m *Manager) Open(name string) error {
	h, ok := m.streams[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, name)
	}
	h.wanted.Store(true)
	return h.player.Open(h.sc.URI, h.sc.Options)
}

// Close stops the named stream and disables reopening it.
func (m *Manager) Close(name string) error {
	h, ok := m.streams[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, name)
	}
	h.wanted.Store(false)
	return h.player.Close()
}

// Player returns the player of the named stream.
func (m *Manager) Player(name string) (*videoplayer.VideoPlayer, bool) {
	h, ok := m.streams[name]
	if !ok {
		return nil, false
	}
	return h.player, true
}

// Names returns the configured stream names in sorted order.
func (m *Manager) Names() []string {
	return append([]string(nil), m.names...)
}

// List returns the status of every stream, sorted by name.
func (m *Manager) List() []Status {
	out := make([]Status, 0, len(m.names))
	for _, name := range m.names {
		h := m.streams[name]
		info, ok := h.player.StreamInfo()
		out = append(out, Status{
			Name:       name,
			URI:        h.sc.URI,
			State:      h.player.State(),
			Err:        h.player.Err(),
			Info:       info,
			HasInfo:    ok,
			Stats:      h.player.Stats(),
			Reconnects: h.reconnects.Load(),
		})
	}
	return out
}

// OpenAll opens every auto-start stream and waits until each has left
// Opening. Streams that fail are reported in the returned error; they are
// still reopened by their supervisor.
func (m *Manager) OpenAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, name := range m.names {
		h := m.streams[name]
		if !h.sc.AutoStart {
			continue
		}
		g.Go(func() error {
			if err := m.Open(h.name); err != nil {
				fail(fmt.Errorf("open %s: %w", h.name, err))
				return nil
			}
			state, err := waitSettled(ctx, h.player)
			if err != nil {
				return err
			}
			if state == videoplayer.StateError {
				fail(fmt.Errorf("open %s: %w", h.name, h.player.Err()))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func waitSettled(ctx context.Context, p *videoplayer.VideoPlayer) (videoplayer.PlayerState, error) {
	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()

	for {
		if s := p.State(); s != videoplayer.StateOpening {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return videoplayer.StateOpening, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ToggleRecording starts a recording of the named stream into the
// recordings directory, or stops the running one. It returns whether a
// recording is now running and its path.
func (m *Manager) ToggleRecording(name string) (bool, string, error) {
	h, ok := m.streams[name]
	if !ok {
		return false, "", fmt.Errorf("%w: %s", ErrUnknownStream, name)
	}

	if h.player.IsRecording() {
		path := h.player.Stats().RecordingPath
		if err := h.player.StopRecording(); err != nil {
			return true, path, err
		}
		return false, path, nil
	}

	dir := m.cfg.Engine.RecordingsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, "", fmt.Errorf("engine: recordings dir: %w", err)
	}
	path := filepath.Join(dir, fileName(name, time.Now(), h.sc.RecordFormat))
	if err := h.player.StartRecording(path); err != nil {
		return false, "", err
	}
	return true, path, nil
}

// Snapshot writes a JPEG of the named stream into the snapshots directory
// and returns its path.
func (m *Manager) Snapshot(ctx context.Context, name string) (string, error) {
	h, ok := m.streams[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownStream, name)
	}

	img, err := h.player.Snapshot(ctx)
	if err != nil {
		return "", err
	}

	dir := m.cfg.Engine.SnapshotsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("engine: snapshots dir: %w", err)
	}
	path := filepath.Join(dir, fileName(name, time.Now(), "jpg"))
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", fmt.Errorf("engine: write snapshot: %w", err)
	}
	m.log.Info("snapshot saved", "stream", name, "path", path, "size_bytes", len(img))
	return path, nil
}

func fileName(stream string, at time.Time, ext string) string {
	return fmt.Sprintf("%s-%s.%s", stream, at.Format("20060102-150405.000"), ext)
}

// Shutdown closes every stream, waits for their workers to release native
// resources and stops the supervisors.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range m.names {
		h := m.streams[name]
		h.wanted.Store(false)
		_ = h.player.Close()
		g.Go(func() error {
			if err := h.player.Wait(ctx); err != nil {
				return fmt.Errorf("stream %s: %w", h.name, err)
			}
			return nil
		})
	}
	err := g.Wait()

	if m.group != nil {
		_ = m.group.Wait()
	}
	m.detach()

	if err != nil {
		m.log.Warn("engine shutdown incomplete", "error", err)
		return err
	}
	m.log.Info("engine stopped")
	return nil
}

// detach releases per-stream accelerator state.
func (m *Manager) detach() {
	for _, h := range m.streams {
		if d, ok := h.accel.(interface{ Detach() }); ok {
			d.Detach()
		}
	}
}
