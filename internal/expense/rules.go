package expense

import (
	"path/filepath"
	"strings"

	"github.com/mailsift/mailsift/internal/fileutil"
	"github.com/mailsift/mailsift/internal/store"
	"github.com/mailsift/mailsift/internal/textutil"
)

const rulesFile = "expense_rules.json"

// maxDocument caps the stored expense document, which only feeds the
// expense embedding.
const maxDocument = 500

// Rule selects emails that should produce expense records. Any provided
// criterion is sufficient.
type Rule struct {
	Name            string   `json:"name"`
	Senders         []string `json:"senders"`
	Keywords        []string `json:"keywords"`
	Labels          []string `json:"labels"`
	MatchCategories []string `json:"match_categories"`
	Category        string   `json:"category"`
	System          bool     `json:"system"`
}

// Rules is the persisted rule set plus force-included email ids.
type Rules struct {
	Rules      []Rule   `json:"rules"`
	IncludeIDs []string `json:"include_ids"`
}

// DefaultRules is the rule set used until the user saves their own.
func DefaultRules() *Rules {
	rs := &Rules{
		Rules: []Rule{
			{Name: "Chase Transactions", Keywords: []string{"you made a $"}, System: true},
			{Name: "Privacy.com", Keywords: []string{"was authorized at"}, System: true},
			{Name: "Amex Large Purchases", Keywords: []string{"large purchase approved"}, System: true},
			{Name: "WF Credit Card", Keywords: []string{"credit card purchase of"}, System: true},
			{Name: "Custom Senders"},
		},
	}
	rs.normalize()
	return rs
}

// normalize fills nil slices and missing categories so the saved JSON
// round-trips with arrays rather than nulls.
func (rs *Rules) normalize() {
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.Senders == nil {
			r.Senders = []string{}
		}
		if r.Keywords == nil {
			r.Keywords = []string{}
		}
		if r.Labels == nil {
			r.Labels = []string{}
		}
		if r.MatchCategories == nil {
			r.MatchCategories = []string{}
		}
		if r.Category == "" {
			r.Category = "Uncategorized"
		}
	}
	if rs.IncludeIDs == nil {
		rs.IncludeIDs = []string{}
	}
}

// LoadRules reads the rule set from dir. A missing file means the
// defaults; the defaults are not written back until the user saves.
func LoadRules(dir string) (*Rules, error) {
	rs := &Rules{}
	found, err := fileutil.ReadJSON(filepath.Join(dir, rulesFile), rs)
	if err != nil {
		return nil, err
	}
	if !found {
		return DefaultRules(), nil
	}
	rs.normalize()
	return rs, nil
}

// SaveRules writes the rule set to dir.
func SaveRules(dir string, rs *Rules) error {
	rs.normalize()
	return fileutil.WriteJSON(filepath.Join(dir, rulesFile), rs)
}

// ForcedRule is the pseudo-rule applied to force-included email ids. The
// record keeps source "rule" so a reprocess rebuilds it from include_ids
// instead of treating it as a manual override.
func ForcedRule() *Rule {
	return &Rule{Name: "manual", Category: "Uncategorized"}
}

// Matches reports whether the rule selects an email. Sender fragments
// match as case-insensitive substrings, keywords over the lowercased
// subject+snippet+body, label ids exactly in the pipe-bracketed form, and
// categories by case-insensitive equality. A rule with no criteria
// matches nothing.
func (r *Rule) Matches(subject, snippet, body, sender, labels, category string) bool {
	senderL := strings.ToLower(sender)
	text := strings.ToLower(subject + " " + snippet + " " + body)

	for _, s := range r.Senders {
		if strings.Contains(senderL, strings.ToLower(s)) {
			return true
		}
	}
	for _, k := range r.Keywords {
		if strings.Contains(text, strings.ToLower(k)) {
			return true
		}
	}
	for _, l := range r.Labels {
		if labels != "" && strings.Contains(labels, "|"+l+"|") {
			return true
		}
	}
	for _, c := range r.MatchCategories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

// Match returns the first rule that selects the email, or nil.
func (rs *Rules) Match(e *store.Email) *Rule {
	for i := range rs.Rules {
		if rs.Rules[i].Matches(e.Subject, e.Snippet, e.Document, e.Sender, e.Labels, e.Category) {
			return &rs.Rules[i]
		}
	}
	return nil
}

// BuildExpense derives the expense record for an email selected by rule.
// Returns nil when no amount can be extracted. The caller encodes
// Document into Embedding before upserting.
func BuildExpense(e *store.Email, r *Rule) *store.Expense {
	m := Extract(e.Subject + "\n" + e.Snippet + "\n" + e.Document)
	if !m.HasAmount {
		return nil
	}

	currency := m.Currency
	if currency == "" {
		currency = "USD"
	}
	category := "Uncategorized"
	ruleName := ""
	if r != nil {
		if r.Category != "" {
			category = r.Category
		}
		ruleName = r.Name
	}

	return &store.Expense{
		ExpenseID:     e.GmailID,
		SourceGmailID: e.GmailID,
		ThreadID:      e.ThreadID,
		Subject:       e.Subject,
		Amount:        m.Amount,
		Currency:      currency,
		Merchant:      m.Merchant,
		Category:      category,
		SourceSender:  e.Sender,
		Labels:        e.Labels,
		DateISO:       e.DateISO,
		DateTS:        e.DateTS,
		Confidence:    m.Confidence,
		RuleName:      ruleName,
		Source:        "rule",
		Document:      textutil.ClipRunes(e.Document, maxDocument),
	}
}
