package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mailsift/mailsift/internal/embedding"
	"github.com/mailsift/mailsift/internal/search"
	"github.com/mailsift/mailsift/internal/store"
	"github.com/mailsift/mailsift/internal/testutil"
)

func newTestModel(t *testing.T) Model {
	t.Helper()

	st := testutil.NewTestStore(t)
	ctx := context.Background()

	emails := []*store.Email{
		testutil.NewEmail("t1").
			WithSubject("Your flight itinerary").
			WithSender("Acme Air <no-reply@acmeair.example>").
			WithDocument("Your flight itinerary for the trip to Denver.").
			WithCategory("Travel").
			WithDate(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)).
			WithRead(true).
			BuildPtr(),
		testutil.NewEmail("t2").
			WithSubject("Invoice for May").
			WithSender("billing@vendor.example").
			WithDocument("Your invoice total is $42.").
			WithCategory("Money").
			WithDate(time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)).
			BuildPtr(),
		testutil.NewEmail("t3").
			WithSubject("Weekend plans").
			WithSender("Pat <pat@friends.example>").
			WithDocument("Want to go hiking this weekend?").
			WithDate(time.Date(2024, 5, 5, 18, 0, 0, 0, time.UTC)).
			BuildPtr(),
	}
	testutil.MustNoErr(t, st.UpsertEmailsBatch(ctx, emails), "seed emails")

	searcher := search.New(st, embedding.NewMockEncoder(testutil.TestDimension))
	m := New(st, searcher, Options{Version: "test"})
	m.width = 100
	m.height = 30
	return m
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// update applies a message and returns the concrete model.
func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return out, cmd
}

func typeQuery(t *testing.T, m Model, query string) Model {
	t.Helper()
	for _, r := range query {
		m, _ = update(t, m, keyRunes(string(r)))
	}
	return m
}

// runSearchSync submits the current query and applies the resulting message.
func runSearchSync(t *testing.T, m Model) Model {
	t.Helper()
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter with a query should return a search command")
	}
	m, _ = update(t, m, cmd())
	return m
}

func TestSearchFlow(t *testing.T) {
	m := newTestModel(t)

	m = typeQuery(t, m, "flight")
	if got := m.input.Value(); got != "flight" {
		t.Fatalf("input value = %q, want %q", got, "flight")
	}

	m = runSearchSync(t, m)
	if m.errMsg != "" {
		t.Fatalf("unexpected error: %s", m.errMsg)
	}
	if m.typing {
		t.Error("should leave typing mode after submitting")
	}
	if len(m.results) == 0 {
		t.Fatal("expected results for 'flight'")
	}
	if got := m.results[0].Email.GmailID; got != "t1" {
		t.Errorf("top result = %s, want t1", got)
	}
}

func TestEmptyQueryIgnored(t *testing.T) {
	m := newTestModel(t)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("enter with empty query should not start a search")
	}
	if !m.typing {
		t.Error("should stay in typing mode")
	}
}

func TestModeCycling(t *testing.T) {
	m := newTestModel(t)

	if m.mode != modeHybrid {
		t.Fatalf("initial mode = %v, want hybrid", m.mode)
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.mode != modeSemantic {
		t.Errorf("after one tab, mode = %v, want semantic", m.mode)
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.mode != modeFulltext {
		t.Errorf("after two tabs, mode = %v, want fulltext", m.mode)
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.mode != modeHybrid {
		t.Errorf("after three tabs, mode = %v, want hybrid", m.mode)
	}
}

func TestListNavigation(t *testing.T) {
	m := newTestModel(t)
	m = typeQuery(t, m, "your")
	m = runSearchSync(t, m)
	if len(m.results) < 2 {
		t.Fatalf("need at least 2 results, got %d", len(m.results))
	}

	if m.cursor != 0 {
		t.Fatalf("cursor starts at %d, want 0", m.cursor)
	}
	m, _ = update(t, m, keyRunes("j"))
	if m.cursor != 1 {
		t.Errorf("cursor after j = %d, want 1", m.cursor)
	}
	m, _ = update(t, m, keyRunes("k"))
	if m.cursor != 0 {
		t.Errorf("cursor after k = %d, want 0", m.cursor)
	}
	m, _ = update(t, m, keyRunes("k"))
	if m.cursor != 0 {
		t.Errorf("cursor should not go below 0, got %d", m.cursor)
	}
}

func TestDetailOpenAndBack(t *testing.T) {
	m := newTestModel(t)
	m = typeQuery(t, m, "invoice")
	m = runSearchSync(t, m)
	if len(m.results) == 0 {
		t.Fatal("expected results for 'invoice'")
	}

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter on a result should load the detail")
	}
	m, _ = update(t, m, cmd())
	if m.level != levelDetail {
		t.Fatalf("level = %v, want detail", m.level)
	}
	if m.detail == nil || m.detail.GmailID != "t2" {
		t.Fatal("detail should hold the selected email")
	}
	if !strings.Contains(m.detail.Document, "$42") {
		t.Error("detail should include the body")
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.level != levelList {
		t.Errorf("esc should return to the list, level = %v", m.level)
	}
	if m.detail != nil {
		t.Error("detail should be cleared on back")
	}
}

func TestStaleResultsDropped(t *testing.T) {
	m := newTestModel(t)
	m = typeQuery(t, m, "flight")
	m = runSearchSync(t, m)
	want := len(m.results)

	stale := resultsMsg{requestID: m.requestID - 1, results: nil}
	m, _ = update(t, m, stale)
	if len(m.results) != want {
		t.Errorf("stale results overwrote the list: %d, want %d", len(m.results), want)
	}
}

func TestSearchAgainFromList(t *testing.T) {
	m := newTestModel(t)
	m = typeQuery(t, m, "flight")
	m = runSearchSync(t, m)

	m, cmd := update(t, m, keyRunes("/"))
	if !m.typing {
		t.Fatal("/ should re-focus the search input")
	}
	_ = cmd
}

func TestQuitKeys(t *testing.T) {
	m := newTestModel(t)
	m = typeQuery(t, m, "flight")
	m = runSearchSync(t, m)

	_, cmd := update(t, m, keyRunes("q"))
	if cmd == nil {
		t.Fatal("q in list mode should quit")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Error("q should produce tea.Quit")
	}
}

func TestViewList(t *testing.T) {
	m := newTestModel(t)
	m = typeQuery(t, m, "flight")
	m = runSearchSync(t, m)

	out := m.View()
	if !strings.Contains(out, "mailsift test") {
		t.Error("view should show the title with version")
	}
	if !strings.Contains(out, "Hybrid") {
		t.Error("view should show the search mode")
	}
	if !strings.Contains(out, "Acme Air") {
		t.Error("view should show the result sender")
	}
	if !strings.Contains(out, "Your flight itinerary") {
		t.Error("view should show the result subject")
	}
}

func TestViewDetail(t *testing.T) {
	m := newTestModel(t)
	m = typeQuery(t, m, "hiking")
	m = runSearchSync(t, m)
	if len(m.results) == 0 {
		t.Fatal("expected results for 'hiking'")
	}
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, cmd())

	out := m.View()
	if !strings.Contains(out, "Weekend plans") {
		t.Error("detail view should show the subject")
	}
	if !strings.Contains(out, "pat@friends.example") {
		t.Error("detail view should show the sender")
	}
	if !strings.Contains(out, "hiking this weekend") {
		t.Error("detail view should show the body")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"this is far too long for the column", 12, "this is t..."},
		{"ab", 2, "ab"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestSenderName(t *testing.T) {
	if got := senderName("Acme Air <no-reply@acmeair.example>"); got != "Acme Air" {
		t.Errorf("senderName = %q, want %q", got, "Acme Air")
	}
	if got := senderName("billing@vendor.example"); got != "billing@vendor.example" {
		t.Errorf("senderName = %q, want plain address unchanged", got)
	}
}
