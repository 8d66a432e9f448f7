package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mailsift/mailsift/internal/store"
)

// Count is one bucket of an aggregation.
type Count struct {
	Key   string
	Count int
}

// CountBySender tallies emails per sender address, most frequent first.
// limit <= 0 returns the top DefaultLimit senders.
func (s *Searcher) CountBySender(ctx context.Context, limit int) ([]Count, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	emails, err := s.store.GetEmails(ctx, store.Filter{}, 0, 0, false)
	if err != nil {
		return nil, fmt.Errorf("load emails: %w", err)
	}

	tally := make(map[string]int)
	for _, e := range emails {
		if e.Sender != "" {
			tally[e.Sender]++
		}
	}
	counts := sortedCounts(tally)
	if len(counts) > limit {
		counts = counts[:limit]
	}
	return counts, nil
}

// CountByLabel tallies emails per label name, most frequent first.
func (s *Searcher) CountByLabel(ctx context.Context) ([]Count, error) {
	emails, err := s.store.GetEmails(ctx, store.Filter{}, 0, 0, false)
	if err != nil {
		return nil, fmt.Errorf("load emails: %w", err)
	}

	tally := make(map[string]int)
	for _, e := range emails {
		for _, label := range strings.Split(strings.Trim(e.Labels, "|"), "|") {
			if label != "" {
				tally[label]++
			}
		}
	}
	return sortedCounts(tally), nil
}

// CountByDate buckets emails by day, week, or month of their Date
// header, in chronological order. Emails without a parseable date are
// skipped. An unknown granularity falls back to day.
func (s *Searcher) CountByDate(ctx context.Context, granularity string) ([]Count, error) {
	emails, err := s.store.GetEmails(ctx, store.Filter{}, 0, 0, false)
	if err != nil {
		return nil, fmt.Errorf("load emails: %w", err)
	}

	tally := make(map[string]int)
	for _, e := range emails {
		if e.DateTS == 0 {
			continue
		}
		t := time.Unix(e.DateTS, 0).UTC()
		tally[dateKey(t, granularity)]++
	}

	counts := make([]Count, 0, len(tally))
	for key, n := range tally {
		counts = append(counts, Count{Key: key, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Key < counts[j].Key })
	return counts, nil
}

// dateKey formats a bucket key. Weeks are numbered from the first
// Monday of the year, week 00 covering any days before it.
func dateKey(t time.Time, granularity string) string {
	switch granularity {
	case "week":
		yday := t.YearDay() - 1
		weekday := (int(t.Weekday()) + 6) % 7
		week := (yday + 7 - weekday) / 7
		return fmt.Sprintf("%d-W%02d", t.Year(), week)
	case "month":
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// sortedCounts orders a tally by count descending, then key ascending so
// equal counts come back in a stable order.
func sortedCounts(tally map[string]int) []Count {
	counts := make([]Count, 0, len(tally))
	for key, n := range tally {
		counts = append(counts, Count{Key: key, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Key < counts[j].Key
	})
	return counts
}
