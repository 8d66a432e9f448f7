package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mailsift/mailsift/internal/categorize"
	"github.com/mailsift/mailsift/internal/store"
	"github.com/mailsift/mailsift/internal/testutil"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *store.Store, string) {
	t.Helper()
	st := testutil.NewTestStore(t)
	dir := t.TempDir()
	cat, err := categorize.New(dir)
	if err != nil {
		t.Fatalf("categorizer: %v", err)
	}
	return New(st, cat, dir), st, dir
}

// seedEmail stores one email, deriving date_ts from date_iso so the
// snapshot order matches the dates.
func seedEmail(t *testing.T, st *store.Store, e *store.Email) {
	t.Helper()
	if e.ThreadID == "" {
		e.ThreadID = "thread_" + e.GmailID
	}
	if e.DateISO != "" && e.DateTS == 0 {
		ts, err := time.Parse(time.RFC3339, e.DateISO)
		if err != nil {
			t.Fatalf("bad date_iso %q: %v", e.DateISO, err)
		}
		e.DateTS = ts.Unix()
	}
	if err := st.UpsertEmailsBatch(context.Background(), []*store.Email{e}); err != nil {
		t.Fatalf("seed email %s: %v", e.GmailID, err)
	}
}

func TestOverview(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)
	ctx := context.Background()

	seedEmail(t, st, &store.Email{GmailID: "m1", Sender: "alice@work.com", Category: categorize.Personal,
		DateISO: "2024-01-15T10:00:00Z", IsStarred: true})
	seedEmail(t, st, &store.Email{GmailID: "m2", Sender: "bob@x.com", Category: categorize.Noise,
		DateISO: "2024-02-01T09:00:00Z", IsRead: true})
	seedEmail(t, st, &store.Email{GmailID: "m3", Sender: "noreply@shop.com", Category: "",
		DateISO: "2024-02-03T09:00:00Z", IsRead: true, ListUnsubscribe: "<mailto:off@shop.com>"})
	seedEmail(t, st, &store.Email{GmailID: "m4", Sender: "alice@work.com", Category: categorize.Personal,
		DateISO: "2024-01-20T10:00:00Z", IsRead: true})

	ov, err := a.Overview(ctx)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}

	if ov.Total != 4 || ov.Unread != 1 || ov.Starred != 1 {
		t.Errorf("totals: got %d/%d/%d, want 4/1/1", ov.Total, ov.Unread, ov.Starred)
	}
	if ov.SubscriptionCount != 1 {
		t.Errorf("subscription count: got %d, want 1", ov.SubscriptionCount)
	}

	wantMonths := []PeriodCount{{"2024-01", 2}, {"2024-02", 2}}
	if len(ov.MonthlyVolume) != 2 || ov.MonthlyVolume[0] != wantMonths[0] || ov.MonthlyVolume[1] != wantMonths[1] {
		t.Errorf("monthly volume: got %v, want %v", ov.MonthlyVolume, wantMonths)
	}

	// Noise stays out; the blank category counts as Other.
	wantCats := []CategoryCount{{categorize.Personal, 2}, {categorize.Other, 1}}
	if len(ov.Categories) != 2 || ov.Categories[0] != wantCats[0] || ov.Categories[1] != wantCats[1] {
		t.Errorf("categories: got %v, want %v", ov.Categories, wantCats)
	}
}

func TestCategories(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)

	seedEmail(t, st, &store.Email{GmailID: "m1", Category: categorize.Taxes, DateISO: "2024-01-01T08:00:00Z"})
	seedEmail(t, st, &store.Email{GmailID: "m2", Category: categorize.Taxes, DateISO: "2024-01-02T08:00:00Z"})
	seedEmail(t, st, &store.Email{GmailID: "m3", Category: categorize.Travel, DateISO: "2024-01-03T08:00:00Z"})
	seedEmail(t, st, &store.Email{GmailID: "m4", Category: categorize.Noise, DateISO: "2024-01-04T08:00:00Z"})

	counts, err := a.Categories(context.Background())
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	want := []CategoryCount{{categorize.Taxes, 2}, {categorize.Travel, 1}}
	if len(counts) != 2 || counts[0] != want[0] || counts[1] != want[1] {
		t.Errorf("got %v, want %v", counts, want)
	}
}

func TestSenders(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)

	// alice: two mails, one unread, latest is the Feb personal one.
	seedEmail(t, st, &store.Email{GmailID: "m1", Sender: "alice@work.com", Category: categorize.Money,
		DateISO: "2024-01-10T08:00:00Z"})
	seedEmail(t, st, &store.Email{GmailID: "m2", Sender: "alice@work.com", Category: categorize.Personal,
		DateISO: "2024-02-10T08:00:00Z", IsRead: true})
	seedEmail(t, st, &store.Email{GmailID: "m3", Sender: "news@list.com", Category: categorize.Newsletters,
		DateISO: "2024-02-11T08:00:00Z", IsRead: true, ListUnsubscribe: "<https://list.com/off>"})

	stats, err := a.Senders(context.Background(), 0)
	if err != nil {
		t.Fatalf("senders: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d senders, want 2", len(stats))
	}

	alice := stats[0]
	if alice.Sender != "alice@work.com" || alice.Count != 2 || alice.UnreadCount != 1 {
		t.Errorf("alice: got %+v", alice)
	}
	if alice.LastDate != "2024-02-10T08:00:00Z" || alice.Category != categorize.Personal {
		t.Errorf("alice latest: got %s / %s", alice.LastDate, alice.Category)
	}
	if alice.IsSubscription || alice.HasListUnsubscribe {
		t.Errorf("alice flagged as subscription: %+v", alice)
	}

	news := stats[1]
	if !news.IsSubscription || !news.HasListUnsubscribe {
		t.Errorf("news not flagged: %+v", news)
	}

	limited, err := a.Senders(context.Background(), 1)
	if err != nil {
		t.Fatalf("senders limited: %v", err)
	}
	if len(limited) != 1 || limited[0].Sender != "alice@work.com" {
		t.Errorf("limited: got %v", limited)
	}
}

func TestSubscriptions(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)

	seedEmail(t, st, &store.Email{GmailID: "m1", Sender: "alice@work.com", DateISO: "2024-01-10T08:00:00Z"})
	seedEmail(t, st, &store.Email{GmailID: "m2", Sender: "noreply@bank.com", DateISO: "2024-01-11T08:00:00Z"})

	subs, err := a.Subscriptions(context.Background())
	if err != nil {
		t.Fatalf("subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].Sender != "noreply@bank.com" {
		t.Errorf("got %v, want only noreply@bank.com", subs)
	}
}

func TestSubscriptionHeuristic_VolumeThreshold(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)

	// Five mails from a plain address trip the volume rule alone.
	for i := 0; i < 5; i++ {
		seedEmail(t, st, &store.Email{
			GmailID: fmt.Sprintf("vol_%d", i),
			Sender:  "friends@plain.org",
			DateISO: time.Date(2024, 3, 1+i, 8, 0, 0, 0, time.UTC).Format(time.RFC3339),
			IsRead:  true,
		})
	}

	subs, err := a.Subscriptions(context.Background())
	if err != nil {
		t.Fatalf("subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].Count != 5 {
		t.Errorf("got %v, want the volume sender", subs)
	}
}
