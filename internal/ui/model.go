// Package ui is the terminal status view of the ingestion engine.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	videoplayer "github.com/e7canasta/orion-videoplayer"
	"github.com/e7canasta/orion-videoplayer/internal/engine"
)

const (
	refreshInterval = 500 * time.Millisecond
	snapshotTimeout = 5 * time.Second
	boxWidth        = 72
)

// Controller is the engine surface driven by the view.
type Controller interface {
	List() []engine.Status
	Open(name string) error
	Close(name string) error
	ToggleRecording(name string) (bool, string, error)
	Snapshot(ctx context.Context, name string) (string, error)
}

// Model represents the TUI state
type Model struct {
	ctrl Controller

	streams  []engine.Status
	selected int

	// Last action result shown in the footer
	notice    string
	noticeErr bool

	width  int
	height int
}

// StatusMsg replaces the stream list
type StatusMsg struct {
	Streams []engine.Status
}

// EventMsg carries an engine state change
type EventMsg engine.Event

// ResultMsg reports the outcome of a key action
type ResultMsg struct {
	Text string
	Err  error
}

type tickMsg time.Time

// NewModel creates a new TUI model
func NewModel(ctrl Controller) Model {
	return Model{ctrl: ctrl}
}

// Init starts the refresh loop
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) refresh() tea.Cmd {
	ctrl := m.ctrl
	if ctrl == nil {
		return nil
	}
	return func() tea.Msg { return StatusMsg{Streams: ctrl.List()} }
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())
	case StatusMsg:
		m.applyStatus(msg)
	case EventMsg:
		if msg.Change.Current == videoplayer.StateError && msg.Change.Err != nil {
			m.setNotice(fmt.Sprintf("%s: %v", msg.Stream, msg.Change.Err), true)
		}
		return m, m.refresh()
	case ResultMsg:
		if msg.Err != nil {
			m.setNotice(msg.Err.Error(), true)
		} else {
			m.setNotice(msg.Text, false)
		}
		return m, m.refresh()
	}

	return m, nil
}

func (m *Model) applyStatus(msg StatusMsg) {
	m.streams = msg.Streams
	if m.selected >= len(m.streams) {
		m.selected = max(len(m.streams)-1, 0)
	}
}

func (m *Model) setNotice(text string, isErr bool) {
	m.notice = text
	m.noticeErr = isErr
}

// current returns the selected stream name, or "" when there are none.
func (m Model) current() string {
	if len(m.streams) == 0 {
		return ""
	}
	return m.streams[m.selected].Name
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.streams)-1 {
			m.selected++
		}
	case "o":
		return m, m.toggleOpen()
	case "r":
		return m, m.toggleRecording()
	case "s":
		return m, m.snapshot()
	}

	return m, nil
}

func (m Model) toggleOpen() tea.Cmd {
	name := m.current()
	if name == "" || m.ctrl == nil {
		return nil
	}
	ctrl := m.ctrl
	state := m.streams[m.selected].State
	return func() tea.Msg {
		if state == videoplayer.StateStopped {
			if err := ctrl.Open(name); err != nil {
				return ResultMsg{Err: err}
			}
			return ResultMsg{Text: fmt.Sprintf("%s: opening", name)}
		}
		if err := ctrl.Close(name); err != nil {
			return ResultMsg{Err: err}
		}
		return ResultMsg{Text: fmt.Sprintf("%s: closed", name)}
	}
}

func (m Model) toggleRecording() tea.Cmd {
	name := m.current()
	if name == "" || m.ctrl == nil {
		return nil
	}
	ctrl := m.ctrl
	return func() tea.Msg {
		on, path, err := ctrl.ToggleRecording(name)
		if err != nil {
			return ResultMsg{Err: fmt.Errorf("%s: record: %w", name, err)}
		}
		if on {
			return ResultMsg{Text: fmt.Sprintf("%s: recording to %s", name, path)}
		}
		return ResultMsg{Text: fmt.Sprintf("%s: saved %s", name, path)}
	}
}

func (m Model) snapshot() tea.Cmd {
	name := m.current()
	if name == "" || m.ctrl == nil {
		return nil
	}
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		path, err := ctrl.Snapshot(ctx, name)
		if err != nil {
			return ResultMsg{Err: fmt.Errorf("%s: snapshot: %w", name, err)}
		}
		return ResultMsg{Text: fmt.Sprintf("%s: snapshot %s", name, path)}
	}
}

// View renders the TUI
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderStreams())
	b.WriteString(m.renderDetail())
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	return fmt.Sprintf("┌─ videoplayer %s┐\n", strings.Repeat("─", boxWidth-15))
}

func (m Model) renderStreams() string {
	if len(m.streams) == 0 {
		return line("No streams configured")
	}

	var b strings.Builder
	for i, s := range m.streams {
		cursor := " "
		if i == m.selected {
			cursor = "▶"
		}
		rec := "  "
		if s.Stats.Recording {
			rec = "●R"
		}
		b.WriteString(line(fmt.Sprintf("%s %-16s %-8s %s %6.1f fps  %s",
			cursor,
			truncate(s.Name, 16),
			s.State.String(),
			rec,
			s.Stats.FPS,
			resolution(s),
		)))
	}
	return b.String()
}

func (m Model) renderDetail() string {
	if len(m.streams) == 0 {
		return ""
	}
	s := m.streams[m.selected]

	var b strings.Builder
	b.WriteString(fmt.Sprintf("├%s┤\n", strings.Repeat("─", boxWidth-2)))
	b.WriteString(line("URI:     " + truncate(s.URI, boxWidth-13)))
	if s.HasInfo {
		hw := "software"
		if s.Info.HardwareAccelerated {
			hw = "hardware"
		}
		b.WriteString(line(fmt.Sprintf("Video:   %s %s %s (%s)", s.Info.CodecName, s.Info.Resolution(), s.Info.PixelFormat, hw)))
	}
	b.WriteString(line(fmt.Sprintf("Frames:  %d  Errors: %d  Reconnects: %d",
		s.Stats.FramesDecoded, s.Stats.ReadErrors.Total(), s.Reconnects)))
	if s.Stats.Stability.Frames > 0 {
		stable := "unstable"
		if s.Stats.Stability.Stable {
			stable = "stable"
		}
		b.WriteString(line(fmt.Sprintf("Cadence: %.1f±%.1f fps, jitter %s (%s)",
			s.Stats.Stability.FPSMean, s.Stats.Stability.FPSStdDev,
			s.Stats.Stability.JitterMean.Round(time.Millisecond), stable)))
	}
	if s.Stats.Recording {
		b.WriteString(line(fmt.Sprintf("Rec:     %s (%d packets)", truncate(s.Stats.RecordingPath, boxWidth-28), s.Stats.PacketsRecorded)))
	}
	if s.Err != nil {
		b.WriteString(line("Error:   " + truncate(s.Err.Error(), boxWidth-13)))
	}
	return b.String()
}

func (m Model) renderFooter() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("├%s┤\n", strings.Repeat("─", boxWidth-2)))
	if m.notice != "" {
		prefix := ""
		if m.noticeErr {
			prefix = "✗ "
		}
		b.WriteString(line(truncate(prefix+m.notice, boxWidth-4)))
	}
	b.WriteString(line("↑/↓:Select  o:Open/Close  r:Record  s:Snapshot  q:Quit"))
	b.WriteString(fmt.Sprintf("└%s┘\n", strings.Repeat("─", boxWidth-2)))
	return b.String()
}

func line(s string) string {
	pad := boxWidth - 4 - len([]rune(s))
	if pad < 0 {
		pad = 0
	}
	return "│ " + s + strings.Repeat(" ", pad) + " │\n"
}

func resolution(s engine.Status) string {
	if !s.HasInfo {
		return "-"
	}
	return s.Info.Resolution()
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
