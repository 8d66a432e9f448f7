package store

import (
	"context"
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Expense is an extracted or manually entered expense. ExpenseID is the
// source gmail id for rule hits and "manual_<hex>" for overrides, so
// re-extracting the same email replaces its expense instead of duplicating
// it. Embedding is write-only, kept for export and future similarity use.
type Expense struct {
	ExpenseID     string
	SourceGmailID string
	ThreadID      string
	Subject       string
	Amount        float64
	Currency      string
	Merchant      string
	Category      string
	SourceSender  string
	Labels        string
	DateISO       string
	DateTS        int64
	Confidence    float64
	RuleName      string
	Source        string // "rule" or "manual"
	Notes         string
	Document      string
	Embedding     []float32
}

// ExpenseFilter narrows expense queries. Zero values mean "no constraint".
type ExpenseFilter struct {
	Source   string
	Category string
	RuleName string
	DateFrom int64
	DateTo   int64
}

func (f ExpenseFilter) clauses() ([]string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.RuleName != "" {
		conds = append(conds, "rule_name = ?")
		args = append(args, f.RuleName)
	}
	if f.DateFrom > 0 {
		conds = append(conds, "date_ts >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo > 0 {
		conds = append(conds, "date_ts <= ?")
		args = append(args, f.DateTo)
	}
	return conds, args
}

// UpsertExpensesBatch inserts or replaces expenses in one transaction.
func (s *Store) UpsertExpensesBatch(ctx context.Context, expenses []*Expense) error {
	if len(expenses) == 0 {
		return nil
	}

	blobs := make([][]byte, len(expenses))
	for i, e := range expenses {
		if len(e.Embedding) == 0 {
			continue
		}
		blob, err := sqlite_vec.SerializeFloat32(e.Embedding)
		if err != nil {
			return fmt.Errorf("serialize embedding for %s: %w", e.ExpenseID, err)
		}
		blobs[i] = blob
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertInChunks(ctx, tx, len(expenses), 18,
			`INSERT INTO expenses (
				expense_id, source_gmail_id, thread_id, subject, amount, currency,
				merchant, category, source_sender, labels, date_iso, date_ts,
				confidence, rule_name, source, notes, document, embedding
			) VALUES `,
			` ON CONFLICT(expense_id) DO UPDATE SET
				source_gmail_id = excluded.source_gmail_id,
				thread_id = excluded.thread_id,
				subject = excluded.subject,
				amount = excluded.amount,
				currency = excluded.currency,
				merchant = excluded.merchant,
				category = excluded.category,
				source_sender = excluded.source_sender,
				labels = excluded.labels,
				date_iso = excluded.date_iso,
				date_ts = excluded.date_ts,
				confidence = excluded.confidence,
				rule_name = excluded.rule_name,
				source = excluded.source,
				notes = excluded.notes,
				document = excluded.document,
				embedding = excluded.embedding`,
			func(start, end int) ([]string, []interface{}) {
				values := make([]string, end-start)
				args := make([]interface{}, 0, (end-start)*18)
				for i := start; i < end; i++ {
					values[i-start] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
					e := expenses[i]
					args = append(args, e.ExpenseID, e.SourceGmailID, e.ThreadID, e.Subject,
						e.Amount, e.Currency, e.Merchant, e.Category, e.SourceSender, e.Labels,
						e.DateISO, e.DateTS, e.Confidence, e.RuleName, e.Source, e.Notes,
						e.Document, blobs[i])
				}
				return values, args
			})
	})
}

// GetExpenses returns expenses matching the filter, newest first.
func (s *Store) GetExpenses(ctx context.Context, f ExpenseFilter) ([]*Expense, error) {
	conds, args := f.clauses()
	query := `SELECT expense_id, source_gmail_id, thread_id, subject, amount, currency,
		merchant, category, source_sender, labels, date_iso, date_ts,
		confidence, rule_name, source, notes, document
		FROM expenses` + whereSQL(conds) + ` ORDER BY date_ts DESC, expense_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*Expense
	for rows.Next() {
		var e Expense
		if err := rows.Scan(&e.ExpenseID, &e.SourceGmailID, &e.ThreadID, &e.Subject,
			&e.Amount, &e.Currency, &e.Merchant, &e.Category, &e.SourceSender, &e.Labels,
			&e.DateISO, &e.DateTS, &e.Confidence, &e.RuleName, &e.Source, &e.Notes,
			&e.Document); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, &e)
	}
	return expenses, rows.Err()
}

// DeleteExpenses removes expenses by id. Missing ids are ignored.
func (s *Store) DeleteExpenses(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return execInChunks(ctx, tx, ids, `DELETE FROM expenses WHERE expense_id IN (%s)`)
	})
}

// DeleteExpensesBySource removes all expenses with the given source and
// returns how many were deleted. Reprocessing wipes source="rule" rows and
// leaves manual overrides alone.
func (s *Store) DeleteExpensesBySource(ctx context.Context, source string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("delete expenses by source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteExpensesForEmails removes expenses extracted from the given emails.
// Used when deletion reconciliation drops emails from the store.
func (s *Store) DeleteExpensesForEmails(ctx context.Context, gmailIDs []string) error {
	if len(gmailIDs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return execInChunks(ctx, tx, gmailIDs, `DELETE FROM expenses WHERE source_gmail_id IN (%s)`)
	})
}
