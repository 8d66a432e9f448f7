package analytics

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/mailsift/mailsift/internal/fileutil"
)

const alertRulesFile = "alert_rules.json"

// SenderRule pins one sender whose mail shows on the alerts board.
type SenderRule struct {
	Sender string `json:"sender"`
	Note   string `json:"note"`
}

// AlertRules is the persisted alert configuration.
type AlertRules struct {
	Senders []SenderRule `json:"senders"`
}

// LoadAlertRules reads the alert rules artifact from dir. A missing file
// means no rules.
func LoadAlertRules(dir string) (*AlertRules, error) {
	rules := &AlertRules{Senders: []SenderRule{}}
	if _, err := fileutil.ReadJSON(filepath.Join(dir, alertRulesFile), rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// SaveAlertRules writes the rules to dir, dropping duplicate senders
// while keeping first-occurrence order.
func SaveAlertRules(dir string, rules *AlertRules) (*AlertRules, error) {
	seen := make(map[string]bool, len(rules.Senders))
	deduped := &AlertRules{Senders: []SenderRule{}}
	for _, r := range rules.Senders {
		if seen[r.Sender] {
			continue
		}
		seen[r.Sender] = true
		deduped.Senders = append(deduped.Senders, r)
	}

	if err := fileutil.WriteJSON(filepath.Join(dir, alertRulesFile), deduped); err != nil {
		return nil, err
	}
	return deduped, nil
}

// AlertEmail is one email from a pinned sender.
type AlertEmail struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	Sender   string `json:"sender"`
	Date     string `json:"date"`
	Category string `json:"category"`
	IsRead   bool   `json:"is_read"`
}

// Alerts lists mail from pinned senders, newest first. Rules are read
// fresh each call so edits apply immediately. No pinned senders means an
// empty board.
func (a *Analyzer) Alerts(ctx context.Context, limit int) ([]AlertEmail, error) {
	rules, err := LoadAlertRules(a.dir)
	if err != nil {
		return nil, err
	}
	pinned := make(map[string]bool, len(rules.Senders))
	for _, r := range rules.Senders {
		pinned[r.Sender] = true
	}
	if len(pinned) == 0 {
		return []AlertEmail{}, nil
	}

	emails, err := a.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	results := []AlertEmail{}
	for _, e := range emails {
		if !pinned[e.Sender] {
			continue
		}
		results = append(results, AlertEmail{
			ID:       e.GmailID,
			Subject:  e.Subject,
			Sender:   e.Sender,
			Date:     e.DateISO,
			Category: category(e),
			IsRead:   e.IsRead,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Date > results[j].Date })

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
