package ingest

import (
	"errors"
	"testing"

	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/store"
)

func TestIncrementalSync_NoCheckpoint(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Pipeline.IncrementalSync(env.Context)
	if !errors.Is(err, ErrNoHistoryID) {
		t.Fatalf("err = %v, want ErrNoHistoryID", err)
	}
}

func TestIncrementalSync_AddsNewMessages(t *testing.T) {
	env := newTestEnv(t)
	env.setCheckpoint(t, 5)
	env.Mock.SetupMessages(testMessage("m_new", "Hello", "alice@example.com", "new mail"))
	env.Mock.HistoryRecords = []gmail.HistoryRecord{historyAdded("m_new")}
	env.Mock.Profile.HistoryID = 1200

	sum := env.runIncremental(t)

	if sum.Added != 1 || sum.Deleted != 0 || sum.Refreshed != 0 || sum.Fallback {
		t.Errorf("summary = %+v, want Added=1", sum)
	}
	env.mustGetEmail(t, "m_new")

	if len(env.Mock.HistoryCalls) != 1 || env.Mock.HistoryCalls[0] != 5 {
		t.Errorf("history calls = %v, want [5]", env.Mock.HistoryCalls)
	}
	state, err := env.Store.GetSyncState(env.Context)
	if err != nil {
		t.Fatalf("sync state: %v", err)
	}
	if state.LastHistoryID != 1200 {
		t.Errorf("LastHistoryID = %d, want 1200", state.LastHistoryID)
	}
}

func TestIncrementalSync_Deletions(t *testing.T) {
	env := newTestEnv(t)
	env.setCheckpoint(t, 5)
	env.storeEmail(t, &store.Email{GmailID: "m_old", Subject: "Old", DateTS: 1704110400})
	if err := env.Store.UpsertExpensesBatch(env.Context, []*store.Expense{
		{ExpenseID: "m_old", SourceGmailID: "m_old", Amount: 9, Currency: "USD", Source: "rule"},
	}); err != nil {
		t.Fatalf("seed expense: %v", err)
	}
	env.Mock.HistoryRecords = []gmail.HistoryRecord{historyDeleted("m_old")}

	sum := env.runIncremental(t)

	if sum.Deleted != 1 || sum.Added != 0 {
		t.Errorf("summary = %+v, want Deleted=1", sum)
	}
	env.assertEmailGone(t, "m_old")
	expenses, err := env.Store.GetExpenses(env.Context, store.ExpenseFilter{})
	if err != nil {
		t.Fatalf("get expenses: %v", err)
	}
	if len(expenses) != 0 {
		t.Errorf("expense for deleted email survived: %+v", expenses[0])
	}
}

func TestIncrementalSync_LabelRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.setCheckpoint(t, 5)
	env.storeEmail(t, &store.Email{
		GmailID: "m_lbl", Subject: "Starred later", Labels: "|INBOX|",
		IsRead: false, IsStarred: false, DateTS: 1704110400,
	})
	env.Mock.SetupMessages(testMessage("m_lbl", "Starred later", "a@example.com", "x",
		"INBOX", "STARRED"))
	env.Mock.HistoryRecords = []gmail.HistoryRecord{historyLabelAdded("m_lbl", "STARRED")}

	sum := env.runIncremental(t)

	if sum.Refreshed != 1 || sum.Added != 0 || sum.Deleted != 0 {
		t.Errorf("summary = %+v, want Refreshed=1", sum)
	}
	e := env.mustGetEmail(t, "m_lbl")
	if !e.IsStarred || !e.IsRead {
		t.Errorf("flags not refreshed: starred=%v read=%v", e.IsStarred, e.IsRead)
	}
	if e.Labels != "|INBOX|STARRED|" {
		t.Errorf("Labels = %q", e.Labels)
	}
	if e.Subject != "Starred later" {
		t.Errorf("refresh should not touch subject, got %q", e.Subject)
	}
	if len(env.Mock.BatchGetCalls) != 1 || env.Mock.LastBatchFormat != gmail.FormatMetadata {
		t.Errorf("refresh should use one metadata batch, got %v format %v",
			env.Mock.BatchGetCalls, env.Mock.LastBatchFormat)
	}
}

func TestIncrementalSync_RefreshMovedToTrash(t *testing.T) {
	env := newTestEnv(t)
	env.setCheckpoint(t, 5)
	env.storeEmail(t, &store.Email{GmailID: "m_trash", Subject: "Bye", DateTS: 1704110400})
	env.Mock.SetupMessages(testMessage("m_trash", "Bye", "a@example.com", "x", "TRASH"))
	env.Mock.HistoryRecords = []gmail.HistoryRecord{historyLabelAdded("m_trash", "TRASH")}

	sum := env.runIncremental(t)

	// A trashed message is removed locally, not patched.
	if sum.Refreshed != 0 || sum.Deleted != 0 {
		t.Errorf("summary = %+v, want zero refreshed and deleted", sum)
	}
	env.assertEmailGone(t, "m_trash")
}

func TestIncrementalSync_AddedThenDeleted(t *testing.T) {
	env := newTestEnv(t)
	env.setCheckpoint(t, 5)
	// The message came and went inside the window: not on the server
	// anymore, never in the store.
	env.Mock.HistoryRecords = []gmail.HistoryRecord{
		historyAdded("m_gone"),
		historyDeleted("m_gone"),
	}

	sum := env.runIncremental(t)

	if sum.Added != 0 || sum.Deleted != 0 {
		t.Errorf("summary = %+v, want all zero", sum)
	}
	env.assertEmailGone(t, "m_gone")
}

func TestIncrementalSync_FallbackOnHistoryError(t *testing.T) {
	env := newTestEnv(t)
	env.setCheckpoint(t, 5)
	env.Mock.HistoryError = &gmail.NotFoundError{Path: "/history"}
	env.seedMessages(
		testMessage("m1", "One", "a@example.com", "x"),
		testMessage("m2", "Two", "b@example.com", "y"),
	)

	sum := env.runIncremental(t)

	if !sum.Fallback {
		t.Fatal("expected fallback to full sync")
	}
	if sum.Added != 2 {
		t.Errorf("Added = %d, want 2", sum.Added)
	}
	env.assertEmailCount(t, 2)
}

func TestIncrementalSync_ProfileErrorRetainsCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	env.setCheckpoint(t, 5)
	env.Mock.ProfileError = errors.New("profile down")

	sum := env.runIncremental(t)

	if sum.Added != 0 {
		t.Errorf("Added = %d, want 0", sum.Added)
	}
	state, err := env.Store.GetSyncState(env.Context)
	if err != nil {
		t.Fatalf("sync state: %v", err)
	}
	if state.LastHistoryID != 5 {
		t.Errorf("LastHistoryID = %d, want checkpoint retained at 5", state.LastHistoryID)
	}
}
