// Package analytics computes the dashboard aggregations: overview counters,
// per-sender rollups, subscription detection, alert and triage feeds, and
// the EDA histograms. Every function loads one metadata snapshot from the
// store and aggregates in memory; callers memoize results through the
// orchestrator cache.
package analytics

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mailsift/mailsift/internal/categorize"
	"github.com/mailsift/mailsift/internal/store"
)

// subscriptionRe flags bulk-mail sender addresses by name alone.
var subscriptionRe = regexp.MustCompile(`(?i)noreply|no-reply|newsletter|notifications?|updates?|donotreply|marketing|digest|news@`)

// subscriptionLabels are the Gmail tab labels that mark bulk mail.
var subscriptionLabels = map[string]bool{
	"CATEGORY_PROMOTIONS": true,
	"CATEGORY_SOCIAL":     true,
	"CATEGORY_UPDATES":    true,
}

// Analyzer aggregates stored email metadata. dir is the artifacts
// directory holding alert rules.
type Analyzer struct {
	store *store.Store
	cat   *categorize.Categorizer
	dir   string
}

// New creates an analyzer over the store. The categorizer supplies the
// known category names for ordering; dir holds the alert rules artifact.
func New(st *store.Store, cat *categorize.Categorizer, dir string) *Analyzer {
	return &Analyzer{store: st, cat: cat, dir: dir}
}

func (a *Analyzer) snapshot(ctx context.Context) ([]*store.Email, error) {
	emails, err := a.store.GetEmails(ctx, store.Filter{}, 0, 0, false)
	if err != nil {
		return nil, fmt.Errorf("load emails: %w", err)
	}
	return emails, nil
}

// PeriodCount is one month (or other period) of volume.
type PeriodCount struct {
	Period string `json:"period"`
	Count  int    `json:"count"`
}

// CategoryCount is one category's email count.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Overview is the dashboard landing summary.
type Overview struct {
	Total             int             `json:"total"`
	Unread            int             `json:"unread"`
	Starred           int             `json:"starred"`
	SubscriptionCount int             `json:"subscription_count"`
	MonthlyVolume     []PeriodCount   `json:"monthly_volume"`
	Categories        []CategoryCount `json:"categories"`
}

// Overview tallies totals, monthly volume, category counts (Noise
// excluded), and the number of senders the subscription heuristic flags.
func (a *Analyzer) Overview(ctx context.Context) (*Overview, error) {
	emails, err := a.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	ov := &Overview{}
	months := make(map[string]int)
	cats := make(map[string]int)
	senders := make(map[string]*senderAccum)

	for _, e := range emails {
		ov.Total++
		if !e.IsRead {
			ov.Unread++
		}
		if e.IsStarred {
			ov.Starred++
		}

		// Month buckets follow the Date header's own zone, so late-night
		// mail lands in the sender's month rather than UTC's.
		if t, ok := parseDateISO(e.DateISO); ok {
			months[t.Format("2006-01")]++
		}

		if cat := category(e); cat != categorize.Noise {
			cats[cat]++
		}

		accumSender(senders, e)
	}

	for sender, s := range senders {
		if senderIsSubscription(sender, s) {
			ov.SubscriptionCount++
		}
	}

	for period, count := range months {
		ov.MonthlyVolume = append(ov.MonthlyVolume, PeriodCount{Period: period, Count: count})
	}
	sort.Slice(ov.MonthlyVolume, func(i, j int) bool {
		return ov.MonthlyVolume[i].Period < ov.MonthlyVolume[j].Period
	})

	ov.Categories = a.categoryCounts(cats)
	return ov, nil
}

// Categories counts emails per category, Noise excluded, largest first.
func (a *Analyzer) Categories(ctx context.Context) ([]CategoryCount, error) {
	emails, err := a.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	cats := make(map[string]int)
	for _, e := range emails {
		cats[category(e)]++
	}
	return a.categoryCounts(cats), nil
}

// categoryCounts renders a tally over the known category names so stray
// values outside the categorizer's vocabulary stay out of the dashboard.
func (a *Analyzer) categoryCounts(tally map[string]int) []CategoryCount {
	var counts []CategoryCount
	for _, name := range a.cat.AllCategoryNames() {
		if name == categorize.Noise || tally[name] == 0 {
			continue
		}
		counts = append(counts, CategoryCount{Category: name, Count: tally[name]})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Category < counts[j].Category
	})
	return counts
}

// senderAccum collects the per-sender facts the subscription heuristic
// and the senders rollup need.
type senderAccum struct {
	count    int
	unread   int
	lastDate string
	category string
	hasUnsub bool
	labels   map[string]bool
}

func accumSender(senders map[string]*senderAccum, e *store.Email) {
	if e.Sender == "" {
		return
	}
	s := senders[e.Sender]
	if s == nil {
		s = &senderAccum{labels: make(map[string]bool)}
		senders[e.Sender] = s
	}
	s.count++
	if !e.IsRead {
		s.unread++
	}
	// The snapshot is newest first, so the first row supplies the
	// latest date and the current category.
	if s.lastDate == "" {
		s.lastDate = e.DateISO
	}
	if s.category == "" {
		s.category = category(e)
	}
	if e.ListUnsubscribe != "" {
		s.hasUnsub = true
	}
	for _, label := range strings.Split(strings.Trim(e.Labels, "|"), "|") {
		if label != "" {
			s.labels[label] = true
		}
	}
}

// isSubscription applies the bulk-mail heuristic to one sender: an
// unsubscribe header, a bulk-looking address, a Gmail promo tab label,
// or five or more emails.
func (s *senderAccum) isSubscription() bool {
	if s.hasUnsub || s.count >= 5 {
		return true
	}
	for label := range s.labels {
		if subscriptionLabels[label] {
			return true
		}
	}
	return false
}

func senderIsSubscription(sender string, s *senderAccum) bool {
	return s.isSubscription() || subscriptionRe.MatchString(sender)
}

// category normalizes a stored row's category, defaulting blanks to Other.
func category(e *store.Email) string {
	if e.Category == "" {
		return categorize.Other
	}
	return e.Category
}

// parseDateISO parses a stored date_iso value, keeping the header's
// original UTC offset.
func parseDateISO(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
