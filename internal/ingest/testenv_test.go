package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mailsift/mailsift/internal/categorize"
	"github.com/mailsift/mailsift/internal/embedding"
	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/store"
	"github.com/mailsift/mailsift/internal/testutil"
)

type testEnv struct {
	Store    *store.Store
	Mock     *gmail.MockAPI
	Encoder  *embedding.MockEncoder
	Cat      *categorize.Categorizer
	Pipeline *Pipeline
	Context  context.Context
}

func newTestEnv(t *testing.T, opt ...*Options) *testEnv {
	t.Helper()

	if len(opt) > 1 {
		t.Fatalf("newTestEnv: at most one *Options allowed, got %d", len(opt))
	}
	var o *Options
	if len(opt) > 0 {
		o = opt[0]
	}

	st := testutil.NewTestStore(t)
	mock := gmail.NewMockAPI()
	mock.Profile = &gmail.Profile{
		EmailAddress: "test@example.com",
		HistoryID:    1000,
	}
	enc := embedding.NewMockEncoder(testutil.TestDimension)
	cat, err := categorize.New(t.TempDir())
	if err != nil {
		t.Fatalf("new categorizer: %v", err)
	}

	p := New(mock, st, enc, cat, o).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &testEnv{
		Store:    st,
		Mock:     mock,
		Encoder:  enc,
		Cat:      cat,
		Pipeline: p,
		Context:  context.Background(),
	}
}

// failingCaller simulates an unreachable LLM backend.
type failingCaller struct{}

func (failingCaller) Call(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("llm unavailable")
}

func b64url(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

// testMessage builds a full-format message with a text/plain body. The Date
// header pins date_ts to 1704110400 (2024-01-01T12:00:00Z).
func testMessage(id, subject, from, body string, labels ...string) *gmail.Message {
	if labels == nil {
		labels = []string{"INBOX"}
	}
	return &gmail.Message{
		ID:           id,
		ThreadID:     "thread_" + id,
		LabelIDs:     labels,
		Snippet:      "snippet of " + id,
		HistoryID:    50,
		InternalDate: 1704110400000,
		SizeEstimate: 1024,
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []gmail.Header{
				{Name: "From", Value: from},
				{Name: "To", Value: "me@example.com"},
				{Name: "Subject", Value: subject},
				{Name: "Date", Value: "Mon, 01 Jan 2024 12:00:00 +0000"},
			},
			Parts: []*gmail.MessagePart{
				{
					MimeType: "text/plain",
					Body:     &gmail.MessagePartBody{Data: b64url(body), Size: int64(len(body))},
				},
			},
		},
	}
}

// seedMessages adds full messages to the mock and lists them on one page.
func (e *testEnv) seedMessages(msgs ...*gmail.Message) {
	e.Mock.SetupMessages(msgs...)
	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	e.Mock.MessagePages = [][]string{ids}
}

// storeEmail writes an email row directly, with a valid embedding.
func (e *testEnv) storeEmail(t *testing.T, email *store.Email) {
	t.Helper()
	if email.Embedding == nil {
		email.Embedding = make([]float32, testutil.TestDimension)
		email.Embedding[0] = 1
	}
	if err := e.Store.UpsertEmailsBatch(e.Context, []*store.Email{email}); err != nil {
		t.Fatalf("upsert email: %v", err)
	}
}

// setCheckpoint seeds the incremental sync state.
func (e *testEnv) setCheckpoint(t *testing.T, historyID uint64) {
	t.Helper()
	if err := e.Store.UpdateSyncState(e.Context, historyID, time.Now().UTC(), 0); err != nil {
		t.Fatalf("seed sync state: %v", err)
	}
}

func (e *testEnv) runFullSync(t *testing.T, opts FullSyncOptions) int {
	t.Helper()
	n, err := e.Pipeline.FullSync(e.Context, opts)
	if err != nil {
		t.Fatalf("full sync: %v", err)
	}
	return n
}

func (e *testEnv) runIncremental(t *testing.T) *Summary {
	t.Helper()
	sum, err := e.Pipeline.IncrementalSync(e.Context)
	if err != nil {
		t.Fatalf("incremental sync: %v", err)
	}
	return sum
}

func (e *testEnv) mustGetEmail(t *testing.T, gmailID string) *store.Email {
	t.Helper()
	email, err := e.Store.GetEmail(e.Context, gmailID, true)
	if err != nil {
		t.Fatalf("get email %s: %v", gmailID, err)
	}
	if email == nil {
		t.Fatalf("email %s not in store", gmailID)
	}
	return email
}

func (e *testEnv) assertEmailCount(t *testing.T, want int) {
	t.Helper()
	ids, err := e.Store.AllIDs(e.Context, store.Filter{})
	if err != nil {
		t.Fatalf("all ids: %v", err)
	}
	if len(ids) != want {
		t.Errorf("store has %d emails, want %d (ids: %v)", len(ids), want, ids)
	}
}

func (e *testEnv) assertEmailGone(t *testing.T, gmailID string) {
	t.Helper()
	email, err := e.Store.GetEmail(e.Context, gmailID, false)
	if err != nil {
		t.Fatalf("get email %s: %v", gmailID, err)
	}
	if email != nil {
		t.Errorf("email %s should have been deleted", gmailID)
	}
}

// History record builders.

func historyAdded(id string) gmail.HistoryRecord {
	return gmail.HistoryRecord{
		MessagesAdded: []gmail.HistoryMessage{
			{Message: gmail.MessageID{ID: id, ThreadID: "thread_" + id}},
		},
	}
}

func historyDeleted(id string) gmail.HistoryRecord {
	return gmail.HistoryRecord{
		MessagesDeleted: []gmail.HistoryMessage{
			{Message: gmail.MessageID{ID: id, ThreadID: "thread_" + id}},
		},
	}
}

func historyLabelAdded(id string, labels ...string) gmail.HistoryRecord {
	return gmail.HistoryRecord{
		LabelsAdded: []gmail.HistoryLabelChange{
			{Message: gmail.MessageID{ID: id, ThreadID: "thread_" + id}, LabelIDs: labels},
		},
	}
}
