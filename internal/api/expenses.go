package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mailsift/mailsift/internal/analytics"
	"github.com/mailsift/mailsift/internal/expense"
	"github.com/mailsift/mailsift/internal/orchestrator"
	"github.com/mailsift/mailsift/internal/store"
)

// expenseCacheKeys go stale whenever expense records change.
var expenseCacheKeys = []string{"expenses_overview", "expenses_tx"}

func (s *Server) handleExpenseRulesGet(w http.ResponseWriter, r *http.Request) {
	rules, err := expense.LoadRules(s.cfg.Data.PersistDir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleExpenseRulesSet(w http.ResponseWriter, r *http.Request) {
	var rules expense.Rules
	if err := decodeJSON(r, &rules); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := expense.SaveRules(s.cfg.Data.PersistDir, &rules); err != nil {
		s.internalError(w, r, err)
		return
	}
	s.deps.Runner.Cache().Invalidate(expenseCacheKeys...)
	writeJSON(w, http.StatusOK, &rules)
}

// expenseOverrideRequest creates or corrects one expense record by hand.
type expenseOverrideRequest struct {
	GmailID  string  `json:"gmail_id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Merchant string  `json:"merchant"`
	Category string  `json:"category"`
	DateISO  string  `json:"date_iso"`
	Notes    string  `json:"notes"`
}

// overrideDateLayouts are accepted date_iso forms, RFC3339 first.
var overrideDateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseOverrideDate(raw string) (time.Time, error) {
	var err error
	for _, layout := range overrideDateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func (s *Server) handleExpenseOverride(w http.ResponseWriter, r *http.Request) {
	req := expenseOverrideRequest{Currency: "USD", Category: "Uncategorized"}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	expenseID := req.GmailID
	if expenseID == "" {
		id := uuid.New()
		expenseID = "manual_" + hex.EncodeToString(id[:])
	}

	dateISO := req.DateISO
	if dateISO == "" {
		dateISO = time.Now().UTC().Format(time.RFC3339)
	}
	date, err := parseOverrideDate(dateISO)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date_iso: %v", err))
		return
	}

	doc := strings.TrimSpace(fmt.Sprintf("%s %s %v %s", req.Merchant, req.Category, req.Amount, req.Currency))
	exp := &store.Expense{
		ExpenseID:     expenseID,
		SourceGmailID: req.GmailID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Merchant:      req.Merchant,
		Category:      req.Category,
		DateISO:       dateISO,
		DateTS:        date.Unix(),
		Confidence:    1.0,
		RuleName:      "manual",
		Source:        "manual",
		Notes:         req.Notes,
		Document:      doc,
	}

	if s.deps.Encoder != nil && doc != "" {
		vec, err := s.deps.Encoder.Encode(r.Context(), doc)
		if err != nil {
			s.logger.Warn("expense embedding failed, storing without vector", "error", err)
		} else {
			exp.Embedding = vec
		}
	}

	if err := s.deps.Store.UpsertExpensesBatch(r.Context(), []*store.Expense{exp}); err != nil {
		s.internalError(w, r, err)
		return
	}
	s.logger.Info("expense override stored", "id", expenseID, "amount", req.Amount, "currency", req.Currency)

	s.deps.Runner.Cache().Invalidate(expenseCacheKeys...)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              expenseID,
		"amount":          req.Amount,
		"currency":        req.Currency,
		"merchant":        req.Merchant,
		"category":        req.Category,
		"source_sender":   "",
		"labels":          "",
		"date_iso":        dateISO,
		"date_timestamp":  date.Unix(),
		"confidence":      1.0,
		"rule_name":       "manual",
		"source":          "manual",
		"source_gmail_id": req.GmailID,
		"thread_id":       "",
		"subject":         "",
		"notes":           req.Notes,
	})
}

func (s *Server) handleExpenseReprocess(w http.ResponseWriter, r *http.Request) {
	report, err := expense.Reprocess(r.Context(), s.deps.Store, s.deps.Encoder, s.cfg.Data.PersistDir, s.logger)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.deps.Runner.Cache().Invalidate(expenseCacheKeys...)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(r, "page", 1, 1, 0)
	limit := queryInt(r, "limit", 500, 1, 2000)

	f := analytics.TxFilter{
		MerchantCategory: q.Get("merchant_category"),
		TransactionType:  q.Get("transaction_type"),
		Currency:         q.Get("currency"),
		IsRecurring:      queryBoolPtr(r, "is_recurring"),
		IsInternational:  queryBoolPtr(r, "is_international"),
		DateFrom:         q.Get("date_from"),
		DateTo:           q.Get("date_to"),
	}
	if f.Currency == "" {
		f.Currency = "USD"
	}

	txPage, err := s.deps.Analyzer.Transactions(r.Context(), f, page, limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txPage)
}

func (s *Server) handleExpensesOverview(w http.ResponseWriter, r *http.Request) {
	data, err := orchestrator.Memo(s.deps.Runner.Cache(), "expenses_overview", func() (*analytics.ExpensesOverview, error) {
		return s.deps.Analyzer.ExpensesOverview(r.Context())
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}
