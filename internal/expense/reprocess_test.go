package expense

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/mailsift/mailsift/internal/embedding"
	"github.com/mailsift/mailsift/internal/store"
	"github.com/mailsift/mailsift/internal/testutil"
)

func TestReprocess(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	dir := t.TempDir()

	rs := &Rules{
		Rules: []Rule{
			{Name: "Card Alerts", Keywords: []string{"you made a $"}, Category: "Cards"},
		},
		IncludeIDs: []string{"forced-1"},
	}
	if err := SaveRules(dir, rs); err != nil {
		t.Fatal(err)
	}

	emails := []*store.Email{
		testutil.NewEmail("match-1").
			WithSubject("You made a $12.50 transaction with ACME CO").
			WithDocument("You made a $12.50 transaction with ACME CO on your card").
			BuildPtr(),
		testutil.NewEmail("match-noamount").
			WithSubject("You made a $ transaction today").
			WithSnippet("details in the app").
			BuildPtr(),
		testutil.NewEmail("forced-1").
			WithSubject("Invoice").
			WithSnippet("Amount due: 45.00").
			BuildPtr(),
		testutil.NewEmail("other-1").
			WithSubject("Lunch on Friday?").
			BuildPtr(),
	}
	if err := st.UpsertEmailsBatch(ctx, emails); err != nil {
		t.Fatal(err)
	}

	// A stale rule hit that the pass must clear, and a manual override
	// that must survive.
	stale := []*store.Expense{
		{ExpenseID: "stale-1", SourceGmailID: "stale-1", Amount: 1, Currency: "USD", Source: "rule"},
		{ExpenseID: "manual_abc", Amount: 9.99, Currency: "USD", Source: "manual"},
	}
	if err := st.UpsertExpensesBatch(ctx, stale); err != nil {
		t.Fatal(err)
	}

	enc := embedding.NewMockEncoder(testutil.TestDimension)
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	report, err := Reprocess(ctx, st, enc, dir, discard)
	if err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}

	if report.Processed != 4 {
		t.Errorf("Processed = %d, want 4", report.Processed)
	}
	if report.Matched != 2 {
		t.Errorf("Matched = %d, want 2 (forced ids do not count)", report.Matched)
	}
	if report.Extracted != 2 {
		t.Errorf("Extracted = %d, want 2", report.Extracted)
	}
	if report.MissingAmount != 1 {
		t.Errorf("MissingAmount = %d, want 1", report.MissingAmount)
	}
	if len(report.MatchedSamples) != 1 || report.MatchedSamples[0].Subject != "You made a $ transaction today" {
		t.Errorf("MatchedSamples = %+v, want the no-amount email", report.MatchedSamples)
	}

	expenses, err := st.GetExpenses(ctx, store.ExpenseFilter{})
	if err != nil {
		t.Fatal(err)
	}
	byID := make(map[string]*store.Expense, len(expenses))
	for _, e := range expenses {
		byID[e.ExpenseID] = e
	}

	if _, ok := byID["stale-1"]; ok {
		t.Error("stale rule expense survived the reprocess")
	}
	if _, ok := byID["manual_abc"]; !ok {
		t.Error("manual expense was deleted by the reprocess")
	}

	hit, ok := byID["match-1"]
	if !ok {
		t.Fatal("rule-matched email produced no expense")
	}
	if hit.Amount != 12.50 || hit.Category != "Cards" || hit.RuleName != "Card Alerts" {
		t.Errorf("expense = %v %q rule %q, want 12.50 Cards Card Alerts", hit.Amount, hit.Category, hit.RuleName)
	}

	forced, ok := byID["forced-1"]
	if !ok {
		t.Fatal("force-included email produced no expense")
	}
	if forced.RuleName != "manual" || forced.Source != "rule" || forced.Amount != 45.00 {
		t.Errorf("forced expense = rule %q source %q amount %v", forced.RuleName, forced.Source, forced.Amount)
	}

	// Documents for every extracted expense were encoded in one batch.
	if len(enc.Calls) != 1 || len(enc.Calls[0]) != 2 {
		t.Errorf("encoder calls = %v, want one batch of 2", enc.Calls)
	}
}

func TestReprocess_EmptyArchive(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)

	report, err := Reprocess(ctx, st, embedding.NewMockEncoder(testutil.TestDimension), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}
	if report.Processed != 0 || report.Extracted != 0 {
		t.Errorf("report = %+v, want zeros", report)
	}
	if report.MatchedSamples == nil {
		t.Error("MatchedSamples is nil, want empty slice for JSON")
	}
}

func TestReprocess_EmbeddingFailureDegrades(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	dir := t.TempDir()

	rs := &Rules{Rules: []Rule{{Name: "Card Alerts", Keywords: []string{"spent $"}}}}
	if err := SaveRules(dir, rs); err != nil {
		t.Fatal(err)
	}
	email := testutil.NewEmail("m1").WithSubject("You spent $3.00 at CORNER CAFE").BuildPtr()
	if err := st.UpsertEmailsBatch(ctx, []*store.Email{email}); err != nil {
		t.Fatal(err)
	}

	enc := embedding.NewMockEncoder(testutil.TestDimension)
	enc.Err = context.DeadlineExceeded
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	report, err := Reprocess(ctx, st, enc, dir, discard)
	if err != nil {
		t.Fatalf("Reprocess() error = %v, want stored without vectors", err)
	}
	if report.Extracted != 1 {
		t.Errorf("Extracted = %d, want 1", report.Extracted)
	}

	expenses, err := st.GetExpenses(ctx, store.ExpenseFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(expenses) != 1 || expenses[0].ExpenseID != "m1" {
		t.Fatalf("expenses = %+v, want the single extraction", expenses)
	}
}
