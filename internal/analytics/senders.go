package analytics

import (
	"context"
	"sort"
)

// SenderStat is one sender's rollup for the senders and subscriptions
// views.
type SenderStat struct {
	Sender             string `json:"sender"`
	Count              int    `json:"count"`
	UnreadCount        int    `json:"unread_count"`
	LastDate           string `json:"last_date"`
	Category           string `json:"category"`
	HasListUnsubscribe bool   `json:"has_list_unsubscribe"`
	IsSubscription     bool   `json:"is_subscription"`
}

// Senders rolls up every sender: volume, unread count, the latest date,
// the most recent email's category, and the subscription flag. Largest
// senders first; limit <= 0 returns all.
func (a *Analyzer) Senders(ctx context.Context, limit int) ([]SenderStat, error) {
	emails, err := a.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	accum := make(map[string]*senderAccum)
	for _, e := range emails {
		accumSender(accum, e)
	}

	stats := make([]SenderStat, 0, len(accum))
	for sender, s := range accum {
		stats = append(stats, SenderStat{
			Sender:             sender,
			Count:              s.count,
			UnreadCount:        s.unread,
			LastDate:           s.lastDate,
			Category:           s.category,
			HasListUnsubscribe: s.hasUnsub,
			IsSubscription:     senderIsSubscription(sender, s),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Sender < stats[j].Sender
	})

	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

// Subscriptions returns the senders the subscription heuristic flags.
func (a *Analyzer) Subscriptions(ctx context.Context) ([]SenderStat, error) {
	stats, err := a.Senders(ctx, 0)
	if err != nil {
		return nil, err
	}

	subs := stats[:0]
	for _, s := range stats {
		if s.IsSubscription {
			subs = append(subs, s)
		}
	}
	return subs, nil
}
