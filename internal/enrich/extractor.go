package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mailsift/mailsift/internal/categorize"
	"github.com/mailsift/mailsift/internal/store"
	"github.com/mailsift/mailsift/internal/textutil"
)

const (
	batchSize    = 40
	maxInFlight  = 8
	chunkTimeout = 120 * time.Second
)

// ActionItem is one task the model pulled out of an email for the
// recipient.
type ActionItem struct {
	Action   string `json:"action"`
	Deadline string `json:"deadline,omitempty"` // YYYY-MM-DD
	Urgency  string `json:"urgency,omitempty"`  // high|medium|low
}

// Transaction is one spending record extracted from a receipt, payment
// confirmation, bank alert, or invoice.
type Transaction struct {
	Amount             float64  `json:"amount"`
	Currency           string   `json:"currency,omitempty"` // ISO 4217
	Merchant           string   `json:"merchant,omitempty"`
	MerchantNormalized string   `json:"merchant_normalized,omitempty"`
	MerchantCategory   string   `json:"merchant_category,omitempty"` // Groceries, SaaS, Flights, ...
	TransactionType    string   `json:"transaction_type,omitempty"`  // purchase|refund|transfer|subscription|bill|fee|atm|other
	PaymentMethod      string   `json:"payment_method,omitempty"`    // credit_card|debit_card|bank_transfer|upi|wallet|bnpl|cash|other
	CardLast4          string   `json:"card_last4,omitempty"`
	CardNetwork        string   `json:"card_network,omitempty"`
	AccountName        string   `json:"account_name,omitempty"`
	Date               string   `json:"date,omitempty"` // transaction date, not email date
	Description        string   `json:"description,omitempty"`
	IsRecurring        bool     `json:"is_recurring,omitempty"`
	RecurrencePeriod   string   `json:"recurrence_period,omitempty"` // daily|weekly|monthly|quarterly|annual
	IsInternational    bool     `json:"is_international,omitempty"`
	ForeignAmount      *float64 `json:"foreign_amount,omitempty"`
	ForeignCurrency    string   `json:"foreign_currency,omitempty"`
	ExchangeRate       *float64 `json:"exchange_rate,omitempty"`
	ReferenceID        string   `json:"reference_id,omitempty"`
	Status             string   `json:"status,omitempty"` // completed|pending|failed|reversed|disputed
}

// Spending is the transaction envelope stored as spending_json.
type Spending struct {
	IsTransaction bool          `json:"is_transaction"`
	Transactions  []Transaction `json:"transactions"`
}

// Record is one email handed to the extractor.
type Record struct {
	ID      string
	Subject string
	Sender  string
	Snippet string
	Meta    categorize.Input // heuristic fallback input
}

// RecordFromEmail builds the extraction input for an email.
func RecordFromEmail(e *store.Email) Record {
	return Record{
		ID:      e.GmailID,
		Subject: e.Subject,
		Sender:  e.Sender,
		Snippet: e.Snippet,
		Meta: categorize.Input{
			Sender:          e.Sender,
			Subject:         e.Subject,
			Labels:          e.Labels,
			ListUnsubscribe: e.ListUnsubscribe,
		},
	}
}

// Result is the extraction output for one email. Category is always set:
// the model's answer when it is a known category, the heuristic
// categorizer's otherwise.
type Result struct {
	Category    string
	ActionItems []ActionItem
	Spending    Spending
}

// Extractor fans email chunks out to the model and folds failures back
// onto the heuristic categorizer.
type Extractor struct {
	caller Caller
	cat    *categorize.Categorizer
	logger *slog.Logger
}

func NewExtractor(caller Caller, cat *categorize.Categorizer, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{caller: caller, cat: cat, logger: logger}
}

// ProcessBatch extracts results for every record: chunks of batchSize, at
// most maxInFlight calls in flight. A failed chunk degrades to heuristic
// categories with empty action items and transactions, so the returned map
// covers every record. progress, when non-nil, is called as chunks finish.
func (x *Extractor) ProcessBatch(ctx context.Context, records []Record, progress func(done, total int)) (map[string]Result, error) {
	total := len(records)
	results := make(map[string]Result, total)
	if total == 0 {
		return results, nil
	}

	var chunks [][]Record
	for i := 0; i < total; i += batchSize {
		chunks = append(chunks, records[i:min(i+batchSize, total)])
	}
	x.logger.Info("llm extraction started",
		"emails", total, "chunks", len(chunks), "workers", maxInFlight)

	var mu sync.Mutex
	done := 0
	sem := make(chan struct{}, maxInFlight)
	g, ctx := errgroup.WithContext(ctx)

	for _, chunk := range chunks {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			chunkResults := x.extractChunk(ctx, chunk)

			mu.Lock()
			maps.Copy(results, chunkResults)
			done += len(chunk)
			d := done
			if progress != nil {
				progress(d, total)
			}
			mu.Unlock()
			x.logger.Info("llm extraction progress", "done", d, "total", total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (x *Extractor) extractChunk(ctx context.Context, chunk []Record) map[string]Result {
	if x.caller == nil {
		return x.heuristics(chunk)
	}
	categories := x.cat.AllCategoryNames()

	raw, err := x.caller.Call(ctx, buildPrompt(categories, chunk), chunkTimeout)
	if err != nil {
		x.logger.Warn("llm chunk failed, using heuristic categories", "error", err)
		return x.heuristics(chunk)
	}
	parsed, err := parseResponse(raw)
	if err != nil {
		x.logger.Warn("llm chunk failed, using heuristic categories", "error", err)
		return x.heuristics(chunk)
	}

	results := make(map[string]Result, len(chunk))
	fallbacks := 0
	for _, r := range chunk {
		item := parsed[r.ID]
		cat := item.Category
		if !slices.Contains(categories, cat) {
			cat = x.cat.Categorize(r.Meta)
			fallbacks++
		}
		res := Result{Category: cat, ActionItems: item.ActionItems}
		if item.Spending != nil {
			res.Spending = *item.Spending
		}
		if res.ActionItems == nil {
			res.ActionItems = []ActionItem{}
		}
		if res.Spending.Transactions == nil {
			res.Spending.Transactions = []Transaction{}
		}
		results[r.ID] = res
	}
	if fallbacks > 0 {
		x.logger.Warn("llm categories fell back to heuristics",
			"fallbacks", fallbacks, "chunk", len(chunk))
	}
	return results
}

func (x *Extractor) heuristics(chunk []Record) map[string]Result {
	results := make(map[string]Result, len(chunk))
	for _, r := range chunk {
		results[r.ID] = Result{
			Category:    x.cat.Categorize(r.Meta),
			ActionItems: []ActionItem{},
			Spending:    Spending{Transactions: []Transaction{}},
		}
	}
	return results
}

func buildPrompt(categories []string, chunk []Record) string {
	var items strings.Builder
	for i, r := range chunk {
		if i > 0 {
			items.WriteString("\n\n")
		}
		fmt.Fprintf(&items, "EMAIL_ID: %s\nSender: %s\nSubject: %s\nSnippet: %s",
			r.ID,
			textutil.ClipRunes(r.Sender, 60),
			textutil.ClipRunes(r.Subject, 80),
			textutil.ClipRunes(r.Snippet, 400))
	}

	return fmt.Sprintf(`Today is %s. For each email do three things:
1. Categorize into exactly one of: %s
2. Extract action items required FROM THE RECIPIENT (deadlines if mentioned, urgency: high/medium/low)
3. Extract spending/transaction data if the email is a receipt, payment confirmation, bank alert, or invoice.
   For spending, capture: amount, currency, merchant, merchant_normalized, merchant_category (specific e.g. Groceries/SaaS/Flights/Dining), transaction_type (purchase|refund|transfer|subscription|bill|fee|atm|other), payment_method (credit_card|debit_card|bank_transfer|upi|wallet|bnpl|cash|other), card_last4, card_network (Visa|Mastercard|Amex|Discover|RuPay|other), account_name, date (YYYY-MM-DD, use transaction date not email date), description, is_recurring (bool), recurrence_period (monthly|annual|weekly|quarterly|null), is_international (bool), foreign_amount, foreign_currency, exchange_rate, reference_id (order/txn ID), status (completed|pending|failed|reversed|disputed).
Return ONLY a JSON array, no markdown:
[{"id":"<id>","category":"<cat>","action_items":[{"action":"...","deadline":"YYYY-MM-DD or null","urgency":"high|medium|low"}],"spending":{"is_transaction":false,"transactions":[]}}]
Include every email id. Use action_items:[] and spending:{"is_transaction":false,"transactions":[]} if none apply.

%s`,
		time.Now().Format("2006-01-02"), strings.Join(categories, ", "), items.String())
}

type llmItem struct {
	ID          string       `json:"id"`
	Category    string       `json:"category"`
	ActionItems []ActionItem `json:"action_items"`
	Spending    *Spending    `json:"spending"`
}

// parseResponse pulls the JSON array out of the model output (first "[" to
// last "]"). Items that fail to decode become zero values and fall back
// per email; only a syntactically broken array fails the chunk.
func parseResponse(raw string) (map[string]llmItem, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var items []llmItem
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil && len(items) == 0 {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	byID := make(map[string]llmItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	return byID, nil
}

// Patches converts extraction results into store patches. Every record is
// marked actions_extracted so a degraded run is not retried forever;
// category and llm_categorized are set only when the result carries one.
func Patches(records []Record, results map[string]Result) ([]*store.MetadataPatch, error) {
	patches := make([]*store.MetadataPatch, 0, len(records))
	for _, r := range records {
		res := results[r.ID]
		if res.ActionItems == nil {
			res.ActionItems = []ActionItem{}
		}
		if res.Spending.Transactions == nil {
			res.Spending.Transactions = []Transaction{}
		}

		actionsJSON, err := json.Marshal(res.ActionItems)
		if err != nil {
			return nil, fmt.Errorf("marshaling action items for %s: %w", r.ID, err)
		}
		spendingJSON, err := json.Marshal(res.Spending)
		if err != nil {
			return nil, fmt.Errorf("marshaling spending for %s: %w", r.ID, err)
		}

		p := &store.MetadataPatch{
			GmailID:          r.ID,
			ActionsExtracted: store.Ptr(true),
			ActionItemsJSON:  store.Ptr(string(actionsJSON)),
			HasActionItems:   store.Ptr(len(res.ActionItems) > 0),
			SpendingJSON:     store.Ptr(string(spendingJSON)),
			HasTransactions:  store.Ptr(len(res.Spending.Transactions) > 0),
		}
		if res.Category != "" {
			p.Category = store.Ptr(res.Category)
			p.LLMCategorized = store.Ptr(true)
		}
		patches = append(patches, p)
	}
	return patches, nil
}
