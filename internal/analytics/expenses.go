package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mailsift/mailsift/internal/enrich"
	"github.com/mailsift/mailsift/internal/store"
)

// LLMTransaction is one transaction from an email's spending payload,
// annotated with its source email. Date falls back to the email date
// when the extraction carried none.
type LLMTransaction struct {
	GmailID   string `json:"gmail_id"`
	Subject   string `json:"subject"`
	Sender    string `json:"sender"`
	EmailDate string `json:"email_date"`
	enrich.Transaction
}

// loadTransactions flattens the spending payloads of every email flagged
// has_transactions. Unparseable payloads are skipped.
func (a *Analyzer) loadTransactions(ctx context.Context) ([]LLMTransaction, error) {
	emails, err := a.store.GetEmails(ctx, store.Filter{HasTransactions: store.Ptr(true)}, 0, 0, false)
	if err != nil {
		return nil, fmt.Errorf("load transaction emails: %w", err)
	}

	var txns []LLMTransaction
	for _, e := range emails {
		if e.SpendingJSON == "" {
			continue
		}
		var spending enrich.Spending
		if err := json.Unmarshal([]byte(e.SpendingJSON), &spending); err != nil {
			continue
		}
		for _, tx := range spending.Transactions {
			if tx.Date == "" {
				tx.Date = e.DateISO
			}
			txns = append(txns, LLMTransaction{
				GmailID:     e.GmailID,
				Subject:     e.Subject,
				Sender:      e.Sender,
				EmailDate:   e.DateISO,
				Transaction: tx,
			})
		}
	}
	return txns, nil
}

// TxFilter narrows the transactions listing. Zero values mean no
// constraint.
type TxFilter struct {
	MerchantCategory string
	TransactionType  string
	Currency         string
	IsRecurring      *bool
	IsInternational  *bool
	DateFrom         string // YYYY-MM-DD, inclusive
	DateTo           string
}

func (f TxFilter) matches(t LLMTransaction) bool {
	if f.MerchantCategory != "" && !strings.EqualFold(t.MerchantCategory, f.MerchantCategory) {
		return false
	}
	if f.TransactionType != "" && t.TransactionType != f.TransactionType {
		return false
	}
	if f.Currency != "" && currencyOf(t) != f.Currency {
		return false
	}
	if f.IsRecurring != nil && t.IsRecurring != *f.IsRecurring {
		return false
	}
	if f.IsInternational != nil && t.IsInternational != *f.IsInternational {
		return false
	}
	if f.DateFrom != "" && t.Date < f.DateFrom {
		return false
	}
	if f.DateTo != "" && t.Date > f.DateTo {
		return false
	}
	return true
}

// TransactionPage is one page of the transactions listing.
type TransactionPage struct {
	Items []LLMTransaction `json:"items"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

// Transactions lists extracted transactions newest first, filtered and
// paginated. Total counts matches before pagination.
func (a *Analyzer) Transactions(ctx context.Context, f TxFilter, page, limit int) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 500
	}
	if limit > 2000 {
		limit = 2000
	}

	all, err := a.loadTransactions(ctx)
	if err != nil {
		return nil, err
	}

	matched := []LLMTransaction{}
	for _, t := range all {
		if f.matches(t) {
			matched = append(matched, t)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return txDate(matched[i]) > txDate(matched[j]) })

	total := len(matched)
	offset := (page - 1) * limit
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return &TransactionPage{Items: matched[offset:end], Total: total, Page: page, Limit: limit}, nil
}

// CategoryAmount is one merchant category's spend.
type CategoryAmount struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

// TypeAmount is one transaction type's spend.
type TypeAmount struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
}

// MethodCount is one payment method's transaction count.
type MethodCount struct {
	Method string `json:"method"`
	Count  int    `json:"count"`
}

// MerchantAmount is one merchant's spend.
type MerchantAmount struct {
	Merchant string  `json:"merchant"`
	Amount   float64 `json:"amount"`
}

// AmountByCurrency groups amounts per currency code.
type AmountByCurrency struct {
	ByCurrency map[string]float64 `json:"by_currency"`
}

// ExpensesOverview is the spending dashboard payload. Refunds sit in
// their own bucket and stay out of every other aggregate.
type ExpensesOverview struct {
	Count              int              `json:"count"`
	Totals             AmountByCurrency `json:"totals"`
	Refunds            AmountByCurrency `json:"refunds"`
	RecurringMonthly   AmountByCurrency `json:"recurring_monthly"`
	Monthly            []map[string]any `json:"monthly"`
	ByMerchantCategory []CategoryAmount `json:"by_merchant_category"`
	ByTransactionType  []TypeAmount     `json:"by_transaction_type"`
	ByPaymentMethod    []MethodCount    `json:"by_payment_method"`
	TopMerchants       []MerchantAmount `json:"top_merchants"`
}

// ExpensesOverview aggregates all extracted transactions: per-currency
// totals and refunds, monthly series, merchant-category / type / payment
// breakdowns, the 20 largest merchants, and a monthly estimate of
// recurring spend.
func (a *Analyzer) ExpensesOverview(ctx context.Context) (*ExpensesOverview, error) {
	txns, err := a.loadTransactions(ctx)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]float64)
	refunds := make(map[string]float64)
	recurring := make(map[string]float64)
	monthly := make(map[string]map[string]float64)
	byCat := make(map[string]float64)
	byType := make(map[string]float64)
	byMethod := make(map[string]int)
	merchants := make(map[string]float64)

	for _, tx := range txns {
		amount := tx.Amount
		cur := currencyOf(tx)
		txType := tx.TransactionType
		if txType == "" {
			txType = "other"
		}

		if txType == "refund" {
			refunds[cur] += amount
			continue
		}

		cat := tx.MerchantCategory
		if cat == "" {
			cat = "Other"
		}
		method := tx.PaymentMethod
		if method == "" {
			method = "other"
		}
		merchant := tx.MerchantNormalized
		if merchant == "" {
			merchant = tx.Merchant
		}
		if merchant == "" {
			merchant = "Unknown"
		}

		totals[cur] += amount
		byCat[cat] += amount
		byType[txType] += amount
		byMethod[method]++
		merchants[merchant] += amount

		if len(tx.Date) >= 7 {
			month := tx.Date[:7]
			if monthly[month] == nil {
				monthly[month] = make(map[string]float64)
			}
			monthly[month][cur] += amount
		}

		if tx.IsRecurring {
			recurring[cur] += monthlyEquivalent(amount, tx.RecurrencePeriod)
		}
	}

	ov := &ExpensesOverview{
		Count:            len(txns),
		Totals:           AmountByCurrency{ByCurrency: totals},
		Refunds:          AmountByCurrency{ByCurrency: refunds},
		RecurringMonthly: AmountByCurrency{ByCurrency: recurring},
		Monthly:          []map[string]any{},
	}

	months := make([]string, 0, len(monthly))
	for m := range monthly {
		months = append(months, m)
	}
	sort.Strings(months)
	for _, m := range months {
		row := map[string]any{"period": m}
		for cur, amt := range monthly[m] {
			row[cur] = amt
		}
		ov.Monthly = append(ov.Monthly, row)
	}

	for cat, amt := range byCat {
		ov.ByMerchantCategory = append(ov.ByMerchantCategory, CategoryAmount{Category: cat, Amount: round2(amt)})
	}
	sort.Slice(ov.ByMerchantCategory, func(i, j int) bool {
		if ov.ByMerchantCategory[i].Amount != ov.ByMerchantCategory[j].Amount {
			return ov.ByMerchantCategory[i].Amount > ov.ByMerchantCategory[j].Amount
		}
		return ov.ByMerchantCategory[i].Category < ov.ByMerchantCategory[j].Category
	})

	for txType, amt := range byType {
		ov.ByTransactionType = append(ov.ByTransactionType, TypeAmount{Type: txType, Amount: round2(amt)})
	}
	sort.Slice(ov.ByTransactionType, func(i, j int) bool {
		if ov.ByTransactionType[i].Amount != ov.ByTransactionType[j].Amount {
			return ov.ByTransactionType[i].Amount > ov.ByTransactionType[j].Amount
		}
		return ov.ByTransactionType[i].Type < ov.ByTransactionType[j].Type
	})

	for method, count := range byMethod {
		ov.ByPaymentMethod = append(ov.ByPaymentMethod, MethodCount{Method: method, Count: count})
	}
	sort.Slice(ov.ByPaymentMethod, func(i, j int) bool {
		if ov.ByPaymentMethod[i].Count != ov.ByPaymentMethod[j].Count {
			return ov.ByPaymentMethod[i].Count > ov.ByPaymentMethod[j].Count
		}
		return ov.ByPaymentMethod[i].Method < ov.ByPaymentMethod[j].Method
	})

	for merchant, amt := range merchants {
		ov.TopMerchants = append(ov.TopMerchants, MerchantAmount{Merchant: merchant, Amount: round2(amt)})
	}
	sort.Slice(ov.TopMerchants, func(i, j int) bool {
		if ov.TopMerchants[i].Amount != ov.TopMerchants[j].Amount {
			return ov.TopMerchants[i].Amount > ov.TopMerchants[j].Amount
		}
		return ov.TopMerchants[i].Merchant < ov.TopMerchants[j].Merchant
	})
	if len(ov.TopMerchants) > 20 {
		ov.TopMerchants = ov.TopMerchants[:20]
	}

	return ov, nil
}

func currencyOf(t LLMTransaction) string {
	if t.Currency == "" {
		return "USD"
	}
	return t.Currency
}

func txDate(t LLMTransaction) string {
	if t.Date != "" {
		return t.Date
	}
	return t.EmailDate
}

// monthlyEquivalent converts one recurring charge to its monthly share.
// An unknown or empty period is treated as monthly.
func monthlyEquivalent(amount float64, period string) float64 {
	switch period {
	case "annual":
		return amount / 12
	case "quarterly":
		return amount / 3
	case "weekly":
		return amount / 4.33
	default:
		return amount
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
