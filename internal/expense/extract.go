// Package expense derives transaction records from bank and card alert
// emails with ordered regex extraction plus user-editable matching rules.
package expense

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mailsift/mailsift/internal/textutil"
)

// Amount extraction runs in priority order: an explicit $ prefix is the
// most reliable signal in US transaction alerts, then INR markers, then a
// financial keyword directly before a bare number.
var (
	dollarRe = regexp.MustCompile(`\$\s*([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{2})?)`)

	inrRe = regexp.MustCompile(`(?i)(?:INR|Rs\.?|₹)\s*([0-9]{1,3}(?:,[0-9]{2,3})*(?:\.[0-9]{2})?)`)

	// "more than $X" / "over $X" notification thresholds (Amex alert
	// preferences) are stripped before extraction so the threshold does
	// not win over the transaction amount.
	thresholdContextRe = regexp.MustCompile(`(?i)\b(?:more than|over|greater than|above)\s+\$\s*[0-9]+(?:\.[0-9]{2})?`)

	keywordAmountRe = regexp.MustCompile(`(?i)(?:amount|total|charge(?:d)?|debit(?:ed)?|payment|paid|bill|spend(?:ing)?|due)\s*(?:of|:)?\s*([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{2})?)`)

	keywordRe = regexp.MustCompile(`(?i)spent|purchase|charged|debited|transaction|card|payment`)

	spaceRunRe = regexp.MustCompile(`\s{2,}`)
)

// Merchant patterns, ordered by specificity. The stop tokens after the
// lazy capture bound the merchant name.
var merchantPatterns = []*regexp.Regexp{
	// Wells Fargo: "Merchant detail SOME MERCHANT in CITY" or
	// "...SOME MERCHANT View Accounts". Case-sensitive: the body has
	// exact "Merchant detail" casing and the merchant is all caps, with
	// the stop at a lowercase "in", a comma, a Title-cased word, a
	// newline, or the end.
	regexp.MustCompile(`\bMerchant detail\s+([A-Z][A-Z0-9 *&.'\-]{2,}?)(?:\s+in\b|\s*,|\s+[A-Z][a-z]|\n|$)`),
	// Chase: "transaction with [PROC* ]MERCHANT on your card", with the
	// processor prefixes (TST*, SQ*, ...) stripped.
	regexp.MustCompile(`(?i)\btransaction with\s+(?:(?:TST|SQ|SQU|PMT)\*\s*)?([A-Za-z0-9][\w &*.'\-]{1,}?)(?:\s+on\b|\s+-|\s*\n|\s*$)`),
	// Amex: "MERCHANT NAME $XX.XX*" or "MERCHANT NAME INR X,XXX.XX*".
	regexp.MustCompile(`([A-Z][A-Z0-9 &.'\-]{4,}?)\s+(?:\$|INR\s*)[0-9,]+\.[0-9]{2}\*`),
	// Privacy.com and generic: "authorized at MERCHANT on your card".
	regexp.MustCompile(`(?i)\b(?:authorized at|purchased at|at)\s+([A-Za-z0-9][\w *&.'\-]{1,}?)(?:\s+on\b|\s*[.,]|\n|$)`),
}

const (
	maxUSDAmount = 1_000_000
	maxINRAmount = 10_000_000
	maxMerchant  = 80
)

// Match is the result of running extraction over an email's text.
type Match struct {
	Amount     float64
	HasAmount  bool
	Currency   string // "" when the amount had no currency marker
	Merchant   string // "" when no pattern matched
	Confidence float64
}

// ExtractAmount finds the transaction amount in text. The bool reports
// whether an amount was found; currency is "USD", "INR", or "" for
// keyword-anchored amounts with no currency marker.
func ExtractAmount(text string) (float64, string, bool) {
	if text == "" {
		return 0, "", false
	}
	text = thresholdContextRe.ReplaceAllString(text, "")

	// First $ amount wins, not the largest: alerts put the transaction
	// amount before balances and limits.
	for _, m := range dollarRe.FindAllStringSubmatch(text, -1) {
		if amount, ok := parseAmount(m[1], maxUSDAmount); ok {
			return amount, "USD", true
		}
	}
	for _, m := range inrRe.FindAllStringSubmatch(text, -1) {
		if amount, ok := parseAmount(m[1], maxINRAmount); ok {
			return amount, "INR", true
		}
	}
	if m := keywordAmountRe.FindStringSubmatch(text); m != nil {
		if amount, ok := parseAmount(m[1], maxUSDAmount); ok {
			return amount, "", true
		}
	}
	return 0, "", false
}

func parseAmount(raw string, limit float64) (float64, bool) {
	amount, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return amount, amount > 0 && amount < limit
}

// ExtractMerchant finds the merchant name in text, or "" when no pattern
// matches. The first matching pattern decides: if its capture cleans to
// under two characters the result is "" even when a later pattern would
// have matched.
func ExtractMerchant(text string) string {
	if text == "" {
		return ""
	}
	for _, pat := range merchantPatterns {
		m := pat.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		merchant := spaceRunRe.ReplaceAllString(strings.TrimSpace(m[1]), " ")
		if len([]rune(merchant)) < 2 {
			return ""
		}
		return textutil.ClipRunes(merchant, maxMerchant)
	}
	return ""
}

// Extract runs amount and merchant extraction over text and scores the
// result: 0.6 for an amount, 0.2 for transaction vocabulary, 0.1 for a
// merchant.
func Extract(text string) Match {
	amount, currency, ok := ExtractAmount(text)
	merchant := ExtractMerchant(text)

	confidence := 0.0
	if ok {
		confidence += 0.6
	}
	if keywordRe.MatchString(text) {
		confidence += 0.2
	}
	if merchant != "" {
		confidence += 0.1
	}

	return Match{
		Amount:     amount,
		HasAmount:  ok,
		Currency:   currency,
		Merchant:   merchant,
		Confidence: math.Round(confidence*100) / 100,
	}
}
