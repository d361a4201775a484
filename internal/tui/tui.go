// Package tui implements the interactive resource browser.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/opstray-io/opstray/internal/daemon"
)

// Run launches the browser over the given daemon facade and blocks until the
// user quits.
func Run(d *daemon.Daemon) error {
	p := tea.NewProgram(
		newModel(d),
		tea.WithAltScreen(),
	)
	_, err := p.Run()
	return err
}
