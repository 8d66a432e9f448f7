package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mailsift/mailsift/internal/search"
	"github.com/mailsift/mailsift/internal/store"
)

// Run starts the interactive browser and blocks until the user quits.
func Run(st *store.Store, searcher *search.Searcher, opts Options) error {
	p := tea.NewProgram(New(st, searcher, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
