// Package tui provides a terminal user interface for browsing and
// searching the synced mailbox.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mailsift/mailsift/internal/search"
	"github.com/mailsift/mailsift/internal/store"
)

// resultLimit caps how many hits a search loads into the list.
const resultLimit = 100

// searchTimeout bounds one search round-trip, embedding call included.
const searchTimeout = 30 * time.Second

// viewLevel represents the current navigation depth.
type viewLevel int

const (
	levelList viewLevel = iota
	levelDetail
)

// searchMode selects the retrieval strategy for the query line.
type searchMode int

const (
	modeHybrid searchMode = iota
	modeSemantic
	modeFulltext
)

func (m searchMode) String() string {
	switch m {
	case modeSemantic:
		return "Semantic"
	case modeFulltext:
		return "Fulltext"
	default:
		return "Hybrid"
	}
}

func (m searchMode) next() searchMode {
	return (m + 1) % 3
}

// Options configures the TUI.
type Options struct {
	Version string
}

// resultsMsg delivers a finished search.
type resultsMsg struct {
	requestID int
	results   []search.Result
	err       error
}

// detailMsg delivers one email with its body for the detail view.
type detailMsg struct {
	email *store.Email
	err   error
}

// Model is the bubbletea model for the mail browser.
type Model struct {
	store    *store.Store
	searcher *search.Searcher
	version  string

	width  int
	height int

	level  viewLevel
	mode   searchMode
	input  textinput.Model
	typing bool

	results      []search.Result
	cursor       int
	scrollOffset int
	loading      bool
	requestID    int
	errMsg       string

	detail       *store.Email
	detailScroll int

	quitting bool
}

// New creates the model. The input starts focused so the first keystrokes
// form a query.
func New(st *store.Store, searcher *search.Searcher, opts Options) Model {
	input := textinput.New()
	input.Placeholder = "search your mail (Tab: mode, Enter: run)"
	input.Focus()

	return Model{
		store:    st,
		searcher: searcher,
		version:  opts.Version,
		input:    input,
		typing:   true,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case resultsMsg:
		if msg.requestID != m.requestID {
			return m, nil // stale search finished after a newer one started
		}
		m.loading = false
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			return m, nil
		}
		m.errMsg = ""
		m.results = msg.results
		m.cursor = 0
		m.scrollOffset = 0
		return m, nil

	case detailMsg:
		m.loading = false
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			return m, nil
		}
		m.errMsg = ""
		m.detail = msg.email
		m.detailScroll = 0
		m.level = levelDetail
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.level == levelDetail {
		return m.handleDetailKeys(msg)
	}
	if m.typing {
		return m.handleSearchKeys(msg)
	}
	return m.handleListKeys(msg)
}

func (m Model) handleSearchKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		query := strings.TrimSpace(m.input.Value())
		if query == "" {
			return m, nil
		}
		m.typing = false
		m.input.Blur()
		m.loading = true
		m.requestID++
		return m, m.runSearch(query, m.requestID)

	case "esc":
		m.input.SetValue("")
		return m, nil

	case "tab":
		m.mode = m.mode.next()
		return m, nil

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "/", "esc":
		m.typing = true
		m.input.Focus()
		return m, textinput.Blink

	case "tab":
		m.mode = m.mode.next()
		if query := strings.TrimSpace(m.input.Value()); query != "" {
			m.loading = true
			m.requestID++
			return m, m.runSearch(query, m.requestID)
		}
		return m, nil

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.clampScroll()
		}
		return m, nil

	case "down", "j":
		if m.cursor < len(m.results)-1 {
			m.cursor++
			m.clampScroll()
		}
		return m, nil

	case "pgup":
		m.cursor -= m.pageSize()
		if m.cursor < 0 {
			m.cursor = 0
		}
		m.clampScroll()
		return m, nil

	case "pgdown":
		m.cursor += m.pageSize()
		if m.cursor > len(m.results)-1 {
			m.cursor = len(m.results) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		m.clampScroll()
		return m, nil

	case "enter":
		if m.cursor >= 0 && m.cursor < len(m.results) {
			m.loading = true
			return m, m.loadDetail(m.results[m.cursor].Email.GmailID)
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "esc", "backspace":
		m.level = levelList
		m.detail = nil
		return m, nil

	case "up", "k":
		if m.detailScroll > 0 {
			m.detailScroll--
		}
		return m, nil

	case "down", "j":
		m.detailScroll++
		return m, nil

	case "pgup":
		m.detailScroll -= m.pageSize()
		if m.detailScroll < 0 {
			m.detailScroll = 0
		}
		return m, nil

	case "pgdown":
		m.detailScroll += m.pageSize()
		return m, nil
	}
	return m, nil
}

// pageSize is the number of result rows visible in the list area.
func (m Model) pageSize() int {
	// Header, search bar, column header, footer
	h := m.height - 6
	if h < 1 {
		return 10
	}
	return h
}

func (m *Model) clampScroll() {
	page := m.pageSize()
	if m.cursor < m.scrollOffset {
		m.scrollOffset = m.cursor
	}
	if m.cursor >= m.scrollOffset+page {
		m.scrollOffset = m.cursor - page + 1
	}
}

// runSearch issues the query in the current mode off the UI goroutine.
func (m Model) runSearch(query string, requestID int) tea.Cmd {
	mode := m.mode
	searcher := m.searcher
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
		defer cancel()

		var (
			results []search.Result
			err     error
		)
		switch mode {
		case modeSemantic:
			results, err = searcher.Semantic(ctx, query, resultLimit, 0)
		case modeFulltext:
			results, err = searcher.Fulltext(ctx, query, resultLimit)
		default:
			results, err = searcher.Hybrid(ctx, query, resultLimit)
		}
		return resultsMsg{requestID: requestID, results: results, err: err}
	}
}

func (m Model) loadDetail(gmailID string) tea.Cmd {
	st := m.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
		defer cancel()
		e, err := st.GetEmail(ctx, gmailID, true)
		return detailMsg{email: e, err: err}
	}
}
