package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Email is a stored email row. Labels is the pipe-bracketed form
// ("|INBOX|IMPORTANT|", empty string for no labels) so substring filters
// can match whole label ids. Embedding is write-only: it feeds the
// vec_emails row on upsert and is never read back.
type Email struct {
	GmailID          string
	ThreadID         string
	Subject          string
	Sender           string
	RecipientsTo     string
	RecipientsCc     string
	RecipientsBcc    string
	DateISO          string
	DateTS           int64
	Snippet          string
	InternalDate     int64
	IsRead           bool
	IsStarred        bool
	IsDraft          bool
	HasAttachments   bool
	Labels           string
	HistoryID        uint64
	SizeEstimate     int64
	ListUnsubscribe  string
	Category         string
	LLMCategorized   bool
	ActionsExtracted bool
	HasActionItems   bool
	ActionItemsJSON  string
	HasTransactions  bool
	SpendingJSON     string
	Document         string
	Embedding        []float32
}

// Ptr wraps a value for MetadataPatch's pointer fields.
func Ptr[T any](v T) *T { return &v }

// MetadataPatch is a shallow merge against a stored email: only non-nil
// fields are written.
type MetadataPatch struct {
	GmailID          string
	Labels           *string
	IsRead           *bool
	IsStarred        *bool
	IsDraft          *bool
	Snippet          *string
	HistoryID        *uint64
	Category         *string
	LLMCategorized   *bool
	ActionsExtracted *bool
	HasActionItems   *bool
	ActionItemsJSON  *string
	HasTransactions  *bool
	SpendingJSON     *string
}

// Filter narrows email queries. Zero values mean "no constraint"; all set
// fields are ANDed together.
type Filter struct {
	Sender            string
	SenderContains    string
	RecipientContains string // matched against recipients_to
	Subject           string // exact match, used by subject overrides
	SubjectContains   string
	Category          string
	LabelContains     string // bare label id, matched inside the pipe-bracketed string
	ThreadID          string
	DocumentContains  string
	IsRead            *bool
	IsStarred         *bool
	IsDraft           *bool
	HasAttachments    *bool
	HasActionItems    *bool
	HasTransactions   *bool
	LLMCategorized    *bool
	ActionsExtracted  *bool
	DateFrom          int64 // epoch seconds, inclusive; 0 = unbounded
	DateTo            int64 // epoch seconds, inclusive; 0 = unbounded
}

// clauses renders the filter as WHERE fragments. prefix qualifies column
// names for joined queries (e.g. "e.").
func (f Filter) clauses(prefix string) ([]string, []interface{}) {
	var conds []string
	var args []interface{}

	addEq := func(col string, val interface{}) {
		conds = append(conds, prefix+col+" = ?")
		args = append(args, val)
	}

	if f.Sender != "" {
		addEq("sender", f.Sender)
	}
	if f.SenderContains != "" {
		conds = append(conds, prefix+"sender LIKE ?")
		args = append(args, "%"+f.SenderContains+"%")
	}
	if f.RecipientContains != "" {
		conds = append(conds, prefix+"recipients_to LIKE ?")
		args = append(args, "%"+f.RecipientContains+"%")
	}
	if f.Subject != "" {
		addEq("subject", f.Subject)
	}
	if f.SubjectContains != "" {
		conds = append(conds, prefix+"subject LIKE ?")
		args = append(args, "%"+f.SubjectContains+"%")
	}
	if f.Category != "" {
		addEq("category", f.Category)
	}
	if f.LabelContains != "" {
		conds = append(conds, prefix+"labels LIKE ?")
		args = append(args, "%|"+f.LabelContains+"|%")
	}
	if f.ThreadID != "" {
		addEq("thread_id", f.ThreadID)
	}
	if f.DocumentContains != "" {
		conds = append(conds, prefix+"document LIKE ?")
		args = append(args, "%"+f.DocumentContains+"%")
	}
	if f.IsRead != nil {
		addEq("is_read", *f.IsRead)
	}
	if f.IsStarred != nil {
		addEq("is_starred", *f.IsStarred)
	}
	if f.IsDraft != nil {
		addEq("is_draft", *f.IsDraft)
	}
	if f.HasAttachments != nil {
		addEq("has_attachments", *f.HasAttachments)
	}
	if f.HasActionItems != nil {
		addEq("has_action_items", *f.HasActionItems)
	}
	if f.HasTransactions != nil {
		addEq("has_transactions", *f.HasTransactions)
	}
	if f.LLMCategorized != nil {
		addEq("llm_categorized", *f.LLMCategorized)
	}
	if f.ActionsExtracted != nil {
		addEq("actions_extracted", *f.ActionsExtracted)
	}
	if f.DateFrom > 0 {
		conds = append(conds, prefix+"date_ts >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo > 0 {
		conds = append(conds, prefix+"date_ts <= ?")
		args = append(args, f.DateTo)
	}

	return conds, args
}

// whereSQL joins filter clauses into a WHERE string, or "" when unfiltered.
func whereSQL(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// prefixCols qualifies each column in a comma-separated list with a table
// alias for joined queries.
func prefixCols(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

const emailCols = `gmail_id, thread_id, subject, sender, recipients_to, recipients_cc,
	recipients_bcc, date_iso, date_ts, snippet, internal_date, is_read, is_starred,
	is_draft, has_attachments, labels, history_id, size_estimate, list_unsubscribe,
	category, llm_categorized, actions_extracted, has_action_items, action_items_json,
	has_transactions, spending_json`

// emailScanDests returns scan destinations in emailCols order. historyID is
// scanned separately because SQLite stores it as a signed integer.
func emailScanDests(e *Email, historyID *int64) []interface{} {
	return []interface{}{
		&e.GmailID, &e.ThreadID, &e.Subject, &e.Sender, &e.RecipientsTo, &e.RecipientsCc,
		&e.RecipientsBcc, &e.DateISO, &e.DateTS, &e.Snippet, &e.InternalDate, &e.IsRead,
		&e.IsStarred, &e.IsDraft, &e.HasAttachments, &e.Labels, historyID, &e.SizeEstimate,
		&e.ListUnsubscribe, &e.Category, &e.LLMCategorized, &e.ActionsExtracted,
		&e.HasActionItems, &e.ActionItemsJSON, &e.HasTransactions, &e.SpendingJSON,
	}
}

func scanEmail(rows *sql.Rows, withDoc bool) (*Email, error) {
	var e Email
	var historyID int64
	dests := emailScanDests(&e, &historyID)
	if withDoc {
		dests = append(dests, &e.Document)
	}
	if err := rows.Scan(dests...); err != nil {
		return nil, err
	}
	e.HistoryID = uint64(historyID)
	return &e, nil
}

const upsertEmailSQL = `
	INSERT INTO emails (
		gmail_id, thread_id, subject, sender, recipients_to, recipients_cc,
		recipients_bcc, date_iso, date_ts, snippet, internal_date, is_read,
		is_starred, is_draft, has_attachments, labels, history_id, size_estimate,
		list_unsubscribe, category, llm_categorized, actions_extracted,
		has_action_items, action_items_json, has_transactions, spending_json, document
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(gmail_id) DO UPDATE SET
		thread_id = excluded.thread_id,
		subject = excluded.subject,
		sender = excluded.sender,
		recipients_to = excluded.recipients_to,
		recipients_cc = excluded.recipients_cc,
		recipients_bcc = excluded.recipients_bcc,
		date_iso = excluded.date_iso,
		date_ts = excluded.date_ts,
		snippet = excluded.snippet,
		internal_date = excluded.internal_date,
		is_read = excluded.is_read,
		is_starred = excluded.is_starred,
		is_draft = excluded.is_draft,
		has_attachments = excluded.has_attachments,
		labels = excluded.labels,
		history_id = excluded.history_id,
		size_estimate = excluded.size_estimate,
		list_unsubscribe = excluded.list_unsubscribe,
		category = excluded.category,
		llm_categorized = excluded.llm_categorized,
		actions_extracted = excluded.actions_extracted,
		has_action_items = excluded.has_action_items,
		action_items_json = excluded.action_items_json,
		has_transactions = excluded.has_transactions,
		spending_json = excluded.spending_json,
		document = excluded.document,
		updated_at = datetime('now')`

// UpsertEmailsBatch inserts or replaces emails in chunks of 500, one
// transaction per chunk. Vector rows are kept in lockstep with the email
// rows: each upsert replaces the embedding for that rowid. A failed chunk
// leaves earlier chunks committed.
func (s *Store) UpsertEmailsBatch(ctx context.Context, emails []*Email) error {
	const chunkSize = 500

	for i := 0; i < len(emails); i += chunkSize {
		end := i + chunkSize
		if end > len(emails) {
			end = len(emails)
		}
		chunk := emails[i:end]

		err := s.withTx(ctx, func(tx *sql.Tx) error {
			upsert, err := tx.PrepareContext(ctx, upsertEmailSQL)
			if err != nil {
				return fmt.Errorf("prepare upsert: %w", err)
			}
			defer upsert.Close()

			var vecDel, vecIns *sql.Stmt
			if s.vecAvailable {
				vecDel, err = tx.PrepareContext(ctx,
					`DELETE FROM vec_emails WHERE rowid IN (SELECT rowid FROM emails WHERE gmail_id = ?)`)
				if err != nil {
					return fmt.Errorf("prepare vec delete: %w", err)
				}
				defer vecDel.Close()
				vecIns, err = tx.PrepareContext(ctx,
					`INSERT INTO vec_emails(rowid, embedding) SELECT rowid, ? FROM emails WHERE gmail_id = ?`)
				if err != nil {
					return fmt.Errorf("prepare vec insert: %w", err)
				}
				defer vecIns.Close()
			}

			for _, e := range chunk {
				if _, err := upsert.ExecContext(ctx,
					e.GmailID, e.ThreadID, e.Subject, e.Sender, e.RecipientsTo, e.RecipientsCc,
					e.RecipientsBcc, e.DateISO, e.DateTS, e.Snippet, e.InternalDate, e.IsRead,
					e.IsStarred, e.IsDraft, e.HasAttachments, e.Labels, int64(e.HistoryID),
					e.SizeEstimate, e.ListUnsubscribe, e.Category, e.LLMCategorized,
					e.ActionsExtracted, e.HasActionItems, e.ActionItemsJSON, e.HasTransactions,
					e.SpendingJSON, e.Document,
				); err != nil {
					return fmt.Errorf("upsert email %s: %w", e.GmailID, err)
				}

				if !s.vecAvailable || len(e.Embedding) == 0 {
					continue
				}
				if len(e.Embedding) != s.dimension {
					return fmt.Errorf("email %s: embedding has %d dims, store expects %d",
						e.GmailID, len(e.Embedding), s.dimension)
				}
				blob, err := sqlite_vec.SerializeFloat32(e.Embedding)
				if err != nil {
					return fmt.Errorf("serialize embedding for %s: %w", e.GmailID, err)
				}
				if _, err := vecDel.ExecContext(ctx, e.GmailID); err != nil {
					return fmt.Errorf("replace vector for %s: %w", e.GmailID, err)
				}
				if _, err := vecIns.ExecContext(ctx, blob, e.GmailID); err != nil {
					return fmt.Errorf("insert vector for %s: %w", e.GmailID, err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("upsert chunk [%d:%d]: %w", i, end, err)
		}
	}
	return nil
}

// ApplyMetadataPatches updates only the fields set on each patch, in a single
// transaction. Patches with no set fields are skipped.
func (s *Store) ApplyMetadataPatches(ctx context.Context, patches []*MetadataPatch) error {
	if len(patches) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range patches {
			var sets []string
			var args []interface{}

			add := func(col string, val interface{}) {
				sets = append(sets, col+" = ?")
				args = append(args, val)
			}

			if p.Labels != nil {
				add("labels", *p.Labels)
			}
			if p.IsRead != nil {
				add("is_read", *p.IsRead)
			}
			if p.IsStarred != nil {
				add("is_starred", *p.IsStarred)
			}
			if p.IsDraft != nil {
				add("is_draft", *p.IsDraft)
			}
			if p.Snippet != nil {
				add("snippet", *p.Snippet)
			}
			if p.HistoryID != nil {
				add("history_id", int64(*p.HistoryID))
			}
			if p.Category != nil {
				add("category", *p.Category)
			}
			if p.LLMCategorized != nil {
				add("llm_categorized", *p.LLMCategorized)
			}
			if p.ActionsExtracted != nil {
				add("actions_extracted", *p.ActionsExtracted)
			}
			if p.HasActionItems != nil {
				add("has_action_items", *p.HasActionItems)
			}
			if p.ActionItemsJSON != nil {
				add("action_items_json", *p.ActionItemsJSON)
			}
			if p.HasTransactions != nil {
				add("has_transactions", *p.HasTransactions)
			}
			if p.SpendingJSON != nil {
				add("spending_json", *p.SpendingJSON)
			}

			if len(sets) == 0 {
				continue
			}
			sets = append(sets, "updated_at = datetime('now')")
			args = append(args, p.GmailID)

			query := "UPDATE emails SET " + strings.Join(sets, ", ") + " WHERE gmail_id = ?"
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("patch email %s: %w", p.GmailID, err)
			}
		}
		return nil
	})
}

// GetEmails returns emails matching the filter, newest first. limit <= 0
// means no limit. When includeDocs is false the Document field is left empty,
// which keeps large scans cheap.
func (s *Store) GetEmails(ctx context.Context, f Filter, limit, offset int, includeDocs bool) ([]*Email, error) {
	cols := emailCols
	if includeDocs {
		cols += ", document"
	}
	conds, args := f.clauses("")
	query := "SELECT " + cols + " FROM emails" + whereSQL(conds) +
		" ORDER BY date_ts DESC, gmail_id"
	if limit > 0 || offset > 0 {
		// LIMIT -1 is SQLite for "no limit", needed when only OFFSET is set.
		lim := int64(-1)
		if limit > 0 {
			lim = int64(limit)
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, lim, int64(offset))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query emails: %w", err)
	}
	defer rows.Close()

	var emails []*Email
	for rows.Next() {
		e, err := scanEmail(rows, includeDocs)
		if err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// GetEmail returns a single email by gmail id, or nil if absent.
func (s *Store) GetEmail(ctx context.Context, gmailID string, includeDoc bool) (*Email, error) {
	cols := emailCols
	if includeDoc {
		cols += ", document"
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+cols+" FROM emails WHERE gmail_id = ?", gmailID)
	if err != nil {
		return nil, fmt.Errorf("query email: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEmail(rows, includeDoc)
	if err != nil {
		return nil, fmt.Errorf("scan email: %w", err)
	}
	return e, rows.Err()
}

// ExistingIDs reports which of the given gmail ids are already stored.
func (s *Store) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(ids) == 0 {
		return existing, nil
	}

	err := queryInChunks(ctx, s.db, ids, nil,
		`SELECT gmail_id FROM emails WHERE gmail_id IN (%s)`,
		func(rows *sql.Rows) error {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			existing[id] = true
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("probe existing ids: %w", err)
	}
	return existing, nil
}

// DeleteEmails removes the given emails and their vector rows. Missing ids
// are ignored, so the operation is idempotent.
func (s *Store) DeleteEmails(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if s.vecAvailable {
			// Vector rows first: the subquery needs the email rows to still exist.
			if err := execInChunks(ctx, tx, ids,
				`DELETE FROM vec_emails WHERE rowid IN (SELECT rowid FROM emails WHERE gmail_id IN (%s))`); err != nil {
				return fmt.Errorf("delete vectors: %w", err)
			}
		}
		if err := execInChunks(ctx, tx, ids,
			`DELETE FROM emails WHERE gmail_id IN (%s)`); err != nil {
			return fmt.Errorf("delete emails: %w", err)
		}
		return nil
	})
}

// CountEmails returns the number of emails matching the filter.
func (s *Store) CountEmails(ctx context.Context, f Filter) (int64, error) {
	conds, args := f.clauses("")
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM emails"+whereSQL(conds), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count emails: %w", err)
	}
	return count, nil
}

// AllIDs returns the gmail ids of all emails matching the filter.
func (s *Store) AllIDs(ctx context.Context, f Filter) ([]string, error) {
	conds, args := f.clauses("")
	rows, err := s.db.QueryContext(ctx,
		"SELECT gmail_id FROM emails"+whereSQL(conds), args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
