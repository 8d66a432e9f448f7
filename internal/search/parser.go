// Package search provides semantic, full-text, and hybrid retrieval over
// stored emails, plus Gmail-like query parsing.
package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mailsift/mailsift/internal/store"
)

// Query is a parsed search string: structured filters plus free text. The
// free text drives semantic/hybrid retrieval; the filters narrow the
// candidate set.
type Query struct {
	TextTerms    []string   // bare words and quoted phrases
	FromAddrs    []string   // from: filters
	ToAddrs      []string   // to: filters
	SubjectTerms []string   // subject: filters
	Labels       []string   // label: filters
	Categories   []string   // category: filters
	IsRead       *bool      // is:read / is:unread
	IsStarred    *bool      // is:starred / is:unstarred
	HasAttach    *bool      // has:attachment
	BeforeDate   *time.Time // before: filter
	AfterDate    *time.Time // after: filter
}

// IsEmpty reports whether the query has no criteria at all.
func (q *Query) IsEmpty() bool {
	return len(q.TextTerms) == 0 &&
		len(q.FromAddrs) == 0 &&
		len(q.ToAddrs) == 0 &&
		len(q.SubjectTerms) == 0 &&
		len(q.Labels) == 0 &&
		len(q.Categories) == 0 &&
		q.IsRead == nil &&
		q.IsStarred == nil &&
		q.HasAttach == nil &&
		q.BeforeDate == nil &&
		q.AfterDate == nil
}

// FreeText joins the unstructured terms back into one string for the
// retrieval stage.
func (q *Query) FreeText() string {
	return strings.Join(q.TextTerms, " ")
}

// Filter renders the structured part as a store filter. The store ANDs
// single values, so when an operator was repeated the first occurrence
// wins.
func (q *Query) Filter() store.Filter {
	var f store.Filter
	if len(q.FromAddrs) > 0 {
		f.SenderContains = q.FromAddrs[0]
	}
	if len(q.ToAddrs) > 0 {
		f.RecipientContains = q.ToAddrs[0]
	}
	if len(q.SubjectTerms) > 0 {
		f.SubjectContains = q.SubjectTerms[0]
	}
	if len(q.Labels) > 0 {
		f.LabelContains = q.Labels[0]
	}
	if len(q.Categories) > 0 {
		f.Category = q.Categories[0]
	}
	f.IsRead = q.IsRead
	f.IsStarred = q.IsStarred
	f.HasAttachments = q.HasAttach
	if q.AfterDate != nil {
		f.DateFrom = q.AfterDate.Unix()
	}
	if q.BeforeDate != nil {
		f.DateTo = q.BeforeDate.Unix()
	}
	return f
}

// operatorFn handles a parsed operator:value pair by applying it to the query.
type operatorFn func(q *Query, value string, now time.Time)

var operators = map[string]operatorFn{
	"from": func(q *Query, v string, _ time.Time) {
		q.FromAddrs = append(q.FromAddrs, strings.ToLower(v))
	},
	"to": func(q *Query, v string, _ time.Time) {
		q.ToAddrs = append(q.ToAddrs, strings.ToLower(v))
	},
	"subject": func(q *Query, v string, _ time.Time) {
		q.SubjectTerms = append(q.SubjectTerms, v)
	},
	"label": func(q *Query, v string, _ time.Time) {
		q.Labels = append(q.Labels, v)
	},
	"l": func(q *Query, v string, _ time.Time) {
		q.Labels = append(q.Labels, v)
	},
	"category": func(q *Query, v string, _ time.Time) {
		q.Categories = append(q.Categories, v)
	},
	"is": func(q *Query, v string, _ time.Time) {
		switch strings.ToLower(v) {
		case "read":
			b := true
			q.IsRead = &b
		case "unread":
			b := false
			q.IsRead = &b
		case "starred":
			b := true
			q.IsStarred = &b
		case "unstarred":
			b := false
			q.IsStarred = &b
		}
	},
	"has": func(q *Query, v string, _ time.Time) {
		if low := strings.ToLower(v); low == "attachment" || low == "attachments" {
			b := true
			q.HasAttach = &b
		}
	},
	"before": func(q *Query, v string, _ time.Time) {
		if t := parseDate(v); t != nil {
			q.BeforeDate = t
		}
	},
	"after": func(q *Query, v string, _ time.Time) {
		if t := parseDate(v); t != nil {
			q.AfterDate = t
		}
	},
	"older_than": func(q *Query, v string, now time.Time) {
		if t := parseRelativeDate(v, now); t != nil {
			q.BeforeDate = t
		}
	},
	"newer_than": func(q *Query, v string, now time.Time) {
		if t := parseRelativeDate(v, now); t != nil {
			q.AfterDate = t
		}
	},
}

// Parser holds configuration for query parsing.
type Parser struct {
	Now func() time.Time // time source, mockable for testing
}

// NewParser creates a Parser with default settings.
func NewParser() *Parser {
	return &Parser{Now: func() time.Time { return time.Now().UTC() }}
}

// Parse parses a Gmail-like search query string.
//
// Supported operators:
//   - from:, to: - address filters (substring match)
//   - subject: - subject text filter
//   - label: or l: - label filter
//   - category: - category filter
//   - is:read, is:unread, is:starred, is:unstarred - flag filters
//   - has:attachment - attachment filter
//   - before:, after: - date filters (YYYY-MM-DD)
//   - older_than:, newer_than: - relative dates (e.g. 7d, 2w, 1m, 1y)
//   - Bare words and "quoted phrases" - free text for retrieval
func (p *Parser) Parse(queryStr string) *Query {
	q := &Query{}
	now := time.Now().UTC()
	if p.Now != nil {
		now = p.Now()
	}

	for _, token := range tokenize(queryStr) {
		if isQuotedPhrase(token) {
			q.TextTerms = append(q.TextTerms, unquote(token))
			continue
		}

		if idx := strings.Index(token, ":"); idx != -1 {
			op := strings.ToLower(token[:idx])
			value := unquote(token[idx+1:])

			if handler, ok := operators[op]; ok {
				handler(q, value, now)
			} else {
				q.TextTerms = append(q.TextTerms, token)
			}
			continue
		}

		q.TextTerms = append(q.TextTerms, token)
	}

	return q
}

// Parse is a convenience function that parses using default settings.
func Parse(queryStr string) *Query {
	return NewParser().Parse(queryStr)
}

// unquote removes surrounding double quotes from a string if present.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// isQuotedPhrase returns true if the token is a double-quoted phrase.
func isQuotedPhrase(token string) bool {
	return len(token) > 2 && token[0] == '"' && token[len(token)-1] == '"'
}

// tokenize splits a query string, preserving quoted phrases and operator:value
// pairs. Handles cases like subject:"foo bar" where the operator and quoted
// value should stay together.
func tokenize(queryStr string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)
	// Track if we just saw a colon (for op:"value" handling)
	afterColon := false
	// Track if this quoted section started as op:"value" (quote immediately after colon)
	opQuoted := false

	for _, char := range queryStr {
		if (char == '"' || char == '\'') && !inQuotes {
			// Start of quoted section
			inQuotes = true
			quoteChar = char
			// If we just saw a colon, this is an op:"value" case
			opQuoted = afterColon
			// If we just saw a colon, keep building the same token (op:"value" case)
			if !afterColon && current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			// Include the quote in the token for op:"value" case
			if afterColon {
				current.WriteRune(char)
			}
			afterColon = false
		} else if char == quoteChar && inQuotes {
			// End of quoted section
			inQuotes = false
			// Check if this was an op:"value" case (quote started after colon)
			if opQuoted {
				// Include the closing quote and save the whole token
				current.WriteRune(char)
				tokens = append(tokens, current.String())
				current.Reset()
			} else if current.Len() > 0 {
				// Standalone quoted phrase (may contain colons, but not op:"value")
				tokens = append(tokens, "\""+current.String()+"\"")
				current.Reset()
			}
			quoteChar = 0
			opQuoted = false
		} else if char == ' ' && !inQuotes {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			afterColon = false
		} else {
			current.WriteRune(char)
			afterColon = (char == ':')
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

// parseDate parses date strings like YYYY-MM-DD or YYYY/MM/DD.
func parseDate(value string) *time.Time {
	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"02/01/2006",
	}

	value = strings.TrimSpace(value)
	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// parseRelativeDate parses relative dates like 7d, 2w, 1m, 1y relative to now.
func parseRelativeDate(value string, now time.Time) *time.Time {
	value = strings.TrimSpace(strings.ToLower(value))
	re := regexp.MustCompile(`^(\d+)([dwmy])$`)
	match := re.FindStringSubmatch(value)
	if match == nil {
		return nil
	}

	amount, _ := strconv.Atoi(match[1])
	unit := match[2]

	var result time.Time
	switch unit {
	case "d":
		result = now.AddDate(0, 0, -amount)
	case "w":
		result = now.AddDate(0, 0, -amount*7)
	case "m":
		result = now.AddDate(0, -amount, 0)
	case "y":
		result = now.AddDate(-amount, 0, 0)
	default:
		return nil
	}

	return &result
}
