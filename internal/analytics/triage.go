package analytics

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
)

// replyCategories hold mail that usually wants a human answer.
var replyCategories = map[string]bool{
	"Personal":           true,
	"Jobs & Recruitment": true,
}

// doCategories hold mail that usually wants an action, not a reply.
var doCategories = map[string]bool{
	"Immigration":           true,
	"Taxes":                 true,
	"Health & Insurance":    true,
	"Security & Accounts":   true,
	"Government & Services": true,
}

// doKeywordsRe catches action-demanding subjects outside the do
// categories.
var doKeywordsRe = regexp.MustCompile(`(?i)\b(expires?d?|due|deadline|confirm|verify|action.required|urgent|remind(er)?|renew|pay(ment)?|invoice|sign|complete|submit|required|overdue|appointment|schedule|register|enroll)\b`)

// triageBucketSize caps each triage column.
const triageBucketSize = 20

// TriageItem is one email placed in a triage bucket.
type TriageItem struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	Sender   string `json:"sender"`
	Date     string `json:"date"`
	Category string `json:"category"`
	IsRead   bool   `json:"is_read"`
	Bucket   string `json:"bucket"`
}

// Triage is the three-column inbox triage board.
type Triage struct {
	Reply []TriageItem `json:"reply"`
	Do    []TriageItem `json:"do"`
	Read  []TriageItem `json:"read"`
}

// Triage sorts the last days of mail into reply / do / read buckets.
// Subscriptions never ask for replies or reading; action-looking mail
// lands in do regardless of source. Each bucket holds the newest 20.
func (a *Analyzer) Triage(ctx context.Context, days int) (*Triage, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Unix()

	emails, err := a.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	tr := &Triage{Reply: []TriageItem{}, Do: []TriageItem{}, Read: []TriageItem{}}
	for _, e := range emails {
		if e.DateTS == 0 || e.DateTS < cutoff {
			continue
		}

		cat := category(e)
		isSub := subscriptionRe.MatchString(e.Sender)
		item := TriageItem{
			ID:       e.GmailID,
			Subject:  e.Subject,
			Sender:   e.Sender,
			Date:     e.DateISO,
			Category: cat,
			IsRead:   e.IsRead,
		}

		switch {
		case !isSub && (replyCategories[cat] || strings.Contains(e.Subject, "?")):
			item.Bucket = "reply"
			tr.Reply = append(tr.Reply, item)
		case doCategories[cat] || doKeywordsRe.MatchString(e.Subject):
			item.Bucket = "do"
			tr.Do = append(tr.Do, item)
		case !isSub && !e.IsRead:
			item.Bucket = "read"
			tr.Read = append(tr.Read, item)
		}
	}

	for _, bucket := range []*[]TriageItem{&tr.Reply, &tr.Do, &tr.Read} {
		b := *bucket
		sort.SliceStable(b, func(i, j int) bool { return b[i].Date > b[j].Date })
		if len(b) > triageBucketSize {
			*bucket = b[:triageBucketSize]
		}
	}
	return tr, nil
}
