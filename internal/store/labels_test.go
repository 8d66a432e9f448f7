package store_test

import (
	"context"
	"testing"

	"github.com/mailsift/mailsift/internal/store"
	"github.com/mailsift/mailsift/internal/testutil"
)

func TestUpsertAndListLabels(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	labels := []*store.Label{
		{ID: "INBOX", Name: "INBOX", Type: "system", MessagesTotal: 120, MessagesUnread: 4},
		{ID: "Label_7", Name: "Receipts", Type: "user", MessagesTotal: 33},
	}
	testutil.MustNoErr(t, st.UpsertLabels(ctx, labels), "UpsertLabels")

	// Refresh updates counts in place.
	labels[0].MessagesUnread = 9
	testutil.MustNoErr(t, st.UpsertLabels(ctx, labels), "UpsertLabels refresh")

	got, err := st.ListLabels(ctx)
	testutil.MustNoErr(t, err, "ListLabels")
	if len(got) != 2 {
		t.Fatalf("got %d labels, want 2", len(got))
	}
	// Ordered by name: INBOX before Receipts.
	if got[0].ID != "INBOX" || got[0].MessagesUnread != 9 {
		t.Errorf("got[0] = %+v, want INBOX with 9 unread", got[0])
	}
	if got[1].Name != "Receipts" || got[1].Type != "user" {
		t.Errorf("got[1] = %+v, want user label Receipts", got[1])
	}
}

func TestLabelMap(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	testutil.MustNoErr(t, st.UpsertLabels(ctx, []*store.Label{
		{ID: "Label_7", Name: "Receipts", Type: "user"},
	}), "UpsertLabels")

	m, err := st.LabelMap(ctx)
	testutil.MustNoErr(t, err, "LabelMap")
	if m["Label_7"] != "Receipts" {
		t.Errorf("LabelMap = %v, want Label_7 -> Receipts", m)
	}
}
