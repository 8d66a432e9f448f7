package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mailsift/mailsift/internal/categorize"
	"github.com/mailsift/mailsift/internal/store"
)

func recentISO(hoursAgo int) string {
	return time.Now().UTC().Add(-time.Duration(hoursAgo) * time.Hour).Format(time.RFC3339)
}

func TestTriage(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)
	ctx := context.Background()

	seedEmail(t, st, &store.Email{GmailID: "reply_cat", Sender: "alice@work.com",
		Subject: "Catching up", Category: categorize.Personal, DateISO: recentISO(2)})
	seedEmail(t, st, &store.Email{GmailID: "reply_q", Sender: "bob@x.com",
		Subject: "Free on Friday?", Category: categorize.Other, DateISO: recentISO(3)})
	seedEmail(t, st, &store.Email{GmailID: "do_cat", Sender: "clerk@court.gov",
		Subject: "Case update", Category: categorize.Government, DateISO: recentISO(4)})
	seedEmail(t, st, &store.Email{GmailID: "do_kw", Sender: "billing@util.com",
		Subject: "Payment due tomorrow", Category: categorize.Other, DateISO: recentISO(5)})
	seedEmail(t, st, &store.Email{GmailID: "read_me", Sender: "carol@x.com",
		Subject: "Team lunch photos", Category: categorize.Other, DateISO: recentISO(6)})
	seedEmail(t, st, &store.Email{GmailID: "sub_skip", Sender: "noreply@shop.com",
		Subject: "Weekly picks", Category: categorize.Other, DateISO: recentISO(7)})
	seedEmail(t, st, &store.Email{GmailID: "too_old", Sender: "dave@x.com",
		Subject: "Old question?", Category: categorize.Personal, DateISO: recentISO(24 * 30)})

	tr, err := a.Triage(ctx, 7)
	if err != nil {
		t.Fatalf("triage: %v", err)
	}

	wantBuckets := map[string][]string{
		"reply": {"reply_cat", "reply_q"},
		"do":    {"do_cat", "do_kw"},
		"read":  {"read_me"},
	}
	got := map[string][]TriageItem{"reply": tr.Reply, "do": tr.Do, "read": tr.Read}
	for bucket, wantIDs := range wantBuckets {
		items := got[bucket]
		if len(items) != len(wantIDs) {
			t.Errorf("%s: got %d items, want %d", bucket, len(items), len(wantIDs))
			continue
		}
		for i, want := range wantIDs {
			if items[i].ID != want {
				t.Errorf("%s[%d]: got %s, want %s", bucket, i, items[i].ID, want)
			}
			if items[i].Bucket != bucket {
				t.Errorf("%s[%d]: bucket field %q", bucket, i, items[i].Bucket)
			}
		}
	}
}

// A question from a bulk sender still never lands in reply, and action
// keywords beat the subscription skip.
func TestTriage_SubscriptionRules(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)

	seedEmail(t, st, &store.Email{GmailID: "sub_q", Sender: "newsletter@daily.com",
		Subject: "Ready for the weekend?", Category: categorize.Other, DateISO: recentISO(1)})
	seedEmail(t, st, &store.Email{GmailID: "sub_due", Sender: "noreply@card.com",
		Subject: "Your statement is due", Category: categorize.Other, DateISO: recentISO(2)})

	tr, err := a.Triage(context.Background(), 7)
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if len(tr.Reply) != 0 {
		t.Errorf("reply: got %v, want none", tr.Reply)
	}
	if len(tr.Do) != 1 || tr.Do[0].ID != "sub_due" {
		t.Errorf("do: got %v, want [sub_due]", tr.Do)
	}
	if len(tr.Read) != 0 {
		t.Errorf("read: got %v, want none", tr.Read)
	}
}

func TestTriage_BucketCap(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)

	for i := 0; i < 25; i++ {
		seedEmail(t, st, &store.Email{
			GmailID: fmt.Sprintf("q_%02d", i),
			Sender:  "alice@work.com",
			Subject: fmt.Sprintf("Question %d?", i),
			DateISO: recentISO(i + 1),
		})
	}

	tr, err := a.Triage(context.Background(), 7)
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if len(tr.Reply) != triageBucketSize {
		t.Errorf("reply: got %d, want %d", len(tr.Reply), triageBucketSize)
	}
	if tr.Reply[0].ID != "q_00" {
		t.Errorf("newest first: got %s", tr.Reply[0].ID)
	}
}
