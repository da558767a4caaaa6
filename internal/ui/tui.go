package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/e7canasta/orion-videoplayer/internal/engine"
)

// Run creates the TUI program. Engine state changes are forwarded to it so
// the view refreshes without waiting for the next tick.
func Run(mgr *engine.Manager) *tea.Program {
	p := tea.NewProgram(NewModel(mgr), tea.WithAltScreen())
	mgr.Subscribe(func(ev engine.Event) {
		go p.Send(EventMsg(ev))
	})
	return p
}
