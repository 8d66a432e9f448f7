package expense

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailsift/mailsift/internal/embedding"
	"github.com/mailsift/mailsift/internal/store"
)

// reprocessBatch bounds how many emails are read per store page while
// rescanning the archive.
const reprocessBatch = 500

// maxSamples caps the matched-but-no-amount examples kept in a Report.
const maxSamples = 25

// Sample identifies an email a rule matched without yielding an amount.
// The dashboard shows these so users can tune their extraction keywords.
type Sample struct {
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
	Date    string `json:"date"`
}

// Report summarizes a full reprocess pass.
type Report struct {
	Processed      int      `json:"processed"`
	Matched        int      `json:"matched"`
	Extracted      int      `json:"extracted"`
	MissingAmount  int      `json:"missing_amount"`
	MatchedSamples []Sample `json:"matched_samples"`
}

// Reprocess deletes every rule-sourced expense and rebuilds the set by
// scanning the whole archive against the current rule file. Manual
// overrides are left alone. Force-included ids are extracted under the
// forced rule and do not count toward rule matches.
func Reprocess(ctx context.Context, st *store.Store, enc embedding.Encoder, dir string, logger *slog.Logger) (*Report, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rules, err := LoadRules(dir)
	if err != nil {
		return nil, fmt.Errorf("load expense rules: %w", err)
	}
	include := make(map[string]bool, len(rules.IncludeIDs))
	for _, id := range rules.IncludeIDs {
		include[id] = true
	}

	if _, err := st.DeleteExpensesBySource(ctx, "rule"); err != nil {
		return nil, fmt.Errorf("clear rule expenses: %w", err)
	}

	report := &Report{MatchedSamples: []Sample{}}
	var expenses []*store.Expense

	for offset := 0; ; offset += reprocessBatch {
		emails, err := st.GetEmails(ctx, store.Filter{}, reprocessBatch, offset, true)
		if err != nil {
			return nil, fmt.Errorf("scan emails: %w", err)
		}
		if len(emails) == 0 {
			break
		}
		report.Processed += len(emails)

		for _, e := range emails {
			if include[e.GmailID] {
				if exp := BuildExpense(e, ForcedRule()); exp != nil {
					expenses = append(expenses, exp)
				}
				continue
			}

			rule := rules.Match(e)
			if rule == nil {
				continue
			}
			report.Matched++

			exp := BuildExpense(e, rule)
			if exp == nil {
				report.MissingAmount++
				if len(report.MatchedSamples) < maxSamples {
					report.MatchedSamples = append(report.MatchedSamples, Sample{
						Subject: e.Subject,
						Sender:  e.Sender,
						Date:    e.DateISO,
					})
				}
				continue
			}
			expenses = append(expenses, exp)
		}

		if len(emails) < reprocessBatch {
			break
		}
	}

	report.Extracted = len(expenses)
	if len(expenses) == 0 {
		return report, nil
	}

	docs := make([]string, len(expenses))
	for i, exp := range expenses {
		docs[i] = exp.Document
	}
	vecs, err := enc.EncodeBatch(ctx, docs)
	if err != nil {
		logger.Warn("expense embedding failed, storing without vectors", "error", err)
	} else {
		for i := range expenses {
			expenses[i].Embedding = vecs[i]
		}
	}

	if err := st.UpsertExpensesBatch(ctx, expenses); err != nil {
		return nil, fmt.Errorf("upsert expenses: %w", err)
	}

	logger.Info("expense reprocess complete",
		"processed", report.Processed,
		"matched", report.Matched,
		"extracted", report.Extracted,
		"missing_amount", report.MissingAmount)
	return report, nil
}
