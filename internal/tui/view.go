package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	modeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	headerRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Bold(true)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	unreadStyle = lipgloss.NewStyle().Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75"))
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.level == levelDetail && m.detail != nil {
		return m.viewDetail()
	}
	return m.viewList()
}

func (m Model) viewList() string {
	var b strings.Builder

	title := "mailsift"
	if m.version != "" {
		title += " " + m.version
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("  ")
	b.WriteString(modeStyle.Render("[" + m.mode.String() + "]"))
	b.WriteString("\n")

	b.WriteString("Search: ")
	b.WriteString(m.input.View())
	b.WriteString("\n")

	if m.errMsg != "" {
		b.WriteString(errStyle.Render("Error: " + m.errMsg))
		b.WriteString("\n")
	}

	if m.loading {
		b.WriteString(dimStyle.Render("Searching..."))
		b.WriteString("\n")
	} else if len(m.results) > 0 {
		b.WriteString(m.renderResults())
	} else if !m.typing {
		b.WriteString(dimStyle.Render("No results."))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.listFooter()))
	return b.String()
}

func (m Model) renderResults() string {
	var b strings.Builder

	width := m.width
	if width <= 0 {
		width = 100
	}
	dateW := 10
	fromW := 24
	// date + from + separators + score column
	subjW := width - dateW - fromW - 12
	if subjW < 20 {
		subjW = 20
	}

	b.WriteString(headerRowStyle.Render(fmt.Sprintf("  %-*s  %-*s  %s",
		dateW, "DATE", fromW, "FROM", "SUBJECT")))
	b.WriteString("\n")

	page := m.pageSize()
	end := m.scrollOffset + page
	if end > len(m.results) {
		end = len(m.results)
	}

	for i := m.scrollOffset; i < end; i++ {
		r := m.results[i]
		e := r.Email

		date := e.DateISO
		if len(date) > dateW {
			date = date[:dateW]
		}
		from := truncate(senderName(e.Sender), fromW)
		subj := truncate(e.Subject, subjW)

		line := fmt.Sprintf("  %-*s  %-*s  %s", dateW, date, fromW, from, subj)
		switch {
		case i == m.cursor:
			line = selectedStyle.Render("> " + line[2:])
		case !e.IsRead:
			line = unreadStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString(dimStyle.Render(fmt.Sprintf("  %d/%d results", m.cursor+1, len(m.results))))
	b.WriteString("\n")
	return b.String()
}

func (m Model) viewDetail() string {
	e := m.detail
	var b strings.Builder

	b.WriteString(titleStyle.Render(e.Subject))
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("From:     "))
	b.WriteString(e.Sender)
	b.WriteString("\n")
	if e.RecipientsTo != "" {
		b.WriteString(labelStyle.Render("To:       "))
		b.WriteString(e.RecipientsTo)
		b.WriteString("\n")
	}
	b.WriteString(labelStyle.Render("Date:     "))
	b.WriteString(e.DateISO)
	b.WriteString("\n")
	if e.Category != "" {
		b.WriteString(labelStyle.Render("Category: "))
		b.WriteString(e.Category)
		b.WriteString("\n")
	}
	if labels := strings.Trim(e.Labels, "|"); labels != "" {
		b.WriteString(labelStyle.Render("Labels:   "))
		b.WriteString(strings.ReplaceAll(labels, "|", ", "))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	body := e.Document
	if body == "" {
		body = e.Snippet
	}
	lines := strings.Split(body, "\n")

	start := m.detailScroll
	if start > len(lines)-1 {
		start = len(lines) - 1
	}
	if start < 0 {
		start = 0
	}
	end := start + m.pageSize()
	if end > len(lines) {
		end = len(lines)
	}
	for _, line := range lines[start:end] {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("j/k scroll · esc back · q quit"))
	return b.String()
}

func (m Model) listFooter() string {
	if m.typing {
		return "Enter search · Tab mode · Ctrl+C quit"
	}
	return "j/k move · Enter open · / search · Tab mode · q quit"
}

// senderName strips the address part from "Name <addr>" senders.
func senderName(sender string) string {
	if i := strings.Index(sender, "<"); i > 0 {
		return strings.TrimSpace(sender[:i])
	}
	return sender
}

// truncate shortens s to maxWidth display cells, ellipsizing when it does
// not fit. Width-aware so CJK and emoji columns stay aligned.
func truncate(s string, maxWidth int) string {
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}
