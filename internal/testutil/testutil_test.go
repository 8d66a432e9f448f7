package testutil

import (
	"context"
	"testing"

	"github.com/mailsift/mailsift/internal/store"
)

func TestNewTestStore(t *testing.T) {
	st := NewTestStore(t)

	stats, err := st.GetStats(context.Background())
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}

	// Fresh database should have no emails
	if stats.EmailCount != 0 {
		t.Errorf("expected 0 emails, got %d", stats.EmailCount)
	}
}

func TestEmailBuilderDefaults(t *testing.T) {
	e := NewEmail("m1").Build()

	if e.GmailID != "m1" {
		t.Errorf("GmailID = %q, want %q", e.GmailID, "m1")
	}
	if e.ThreadID != "thread-m1" {
		t.Errorf("ThreadID = %q, want %q", e.ThreadID, "thread-m1")
	}
	if e.Labels != "|INBOX|" {
		t.Errorf("Labels = %q, want %q", e.Labels, "|INBOX|")
	}
	if e.DateTS == 0 || e.DateISO == "" {
		t.Errorf("default date not set: ts=%d iso=%q", e.DateTS, e.DateISO)
	}
}

func TestEmailBuilderRoundTrip(t *testing.T) {
	st := NewTestStore(t)
	ctx := context.Background()

	built := NewEmail("m1").
		WithSubject("Receipt").
		WithSender("Shop <orders@shop.example>").
		WithLabels("INBOX", "UNREAD").
		WithCategory("Shopping & Orders").
		BuildPtr()
	MustNoErr(t, st.UpsertEmailsBatch(ctx, []*store.Email{built}), "UpsertEmailsBatch")

	got, err := st.GetEmail(ctx, "m1", false)
	MustNoErr(t, err, "GetEmail")
	if got == nil {
		t.Fatal("email not found after upsert")
	}
	if got.Subject != "Receipt" || got.Labels != "|INBOX|UNREAD|" || got.Category != "Shopping & Orders" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}
