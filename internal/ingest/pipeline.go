// Package ingest drives Gmail mail into the local store: listing, fetching,
// parsing, categorizing, embedding, expense extraction, and LLM enrichment.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mailsift/mailsift/internal/categorize"
	"github.com/mailsift/mailsift/internal/embedding"
	"github.com/mailsift/mailsift/internal/enrich"
	"github.com/mailsift/mailsift/internal/expense"
	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/store"
)

// Options configures pipeline behavior.
type Options struct {
	// BatchSize is how many messages are fetched and stored per chunk.
	BatchSize int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{BatchSize: 100}
}

// Pipeline performs Gmail synchronization. A sync run is single-writer
// against the store; callers serialize runs (the orchestrator holds the
// lock).
type Pipeline struct {
	client    gmail.API
	store     *store.Store
	encoder   embedding.Encoder
	cat       *categorize.Categorizer
	extractor *enrich.Extractor
	rulesDir  string
	logger    *slog.Logger
	opts      *Options
}

// New creates a pipeline. opts may be nil for defaults.
func New(client gmail.API, st *store.Store, enc embedding.Encoder, cat *categorize.Categorizer, opts *Options) *Pipeline {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultOptions().BatchSize
	}

	return &Pipeline{
		client:  client,
		store:   st,
		encoder: enc,
		cat:     cat,
		logger:  slog.Default(),
		opts:    &o,
	}
}

// WithLogger sets the logger.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	p.logger = logger
	return p
}

// WithExtractor enables LLM enrichment of newly stored emails.
func (p *Pipeline) WithExtractor(x *enrich.Extractor) *Pipeline {
	p.extractor = x
	return p
}

// WithExpenseRules enables the rule-based expense pass, reading the rules
// file from dir.
func (p *Pipeline) WithExpenseRules(dir string) *Pipeline {
	p.rulesDir = dir
	return p
}

// SyncLabels refreshes the stored label catalog. Each label is fetched
// individually because the list endpoint omits message counts.
func (p *Pipeline) SyncLabels(ctx context.Context) (int, error) {
	p.logger.Info("syncing labels")
	raw, err := p.client.ListLabels(ctx)
	if err != nil {
		return 0, fmt.Errorf("list labels: %w", err)
	}

	labels := make([]*store.Label, 0, len(raw))
	for _, l := range raw {
		detail, err := p.client.GetLabel(ctx, l.ID)
		if err != nil {
			return 0, fmt.Errorf("get label %s: %w", l.ID, err)
		}
		labels = append(labels, &store.Label{
			ID:             detail.ID,
			Name:           detail.Name,
			Type:           detail.Type,
			MessagesTotal:  detail.MessagesTotal,
			MessagesUnread: detail.MessagesUnread,
		})
	}
	if err := p.store.UpsertLabels(ctx, labels); err != nil {
		return 0, fmt.Errorf("upsert labels: %w", err)
	}
	p.logger.Info("labels synced", "count", len(labels))
	return len(labels), nil
}

// BuildTimeQuery appends Gmail date predicates to a query. A positive
// daysAgo overrides after.
func BuildTimeQuery(query string, after, before time.Time, newerThan, olderThan string, daysAgo int) string {
	var parts []string
	if query != "" {
		parts = append(parts, query)
	}
	if daysAgo > 0 {
		after = time.Now().UTC().Add(-time.Duration(daysAgo) * 24 * time.Hour)
	}
	if !after.IsZero() {
		parts = append(parts, fmt.Sprintf("after:%d", after.Unix()))
	}
	if !before.IsZero() {
		parts = append(parts, fmt.Sprintf("before:%d", before.Unix()))
	}
	if newerThan != "" {
		parts = append(parts, "newer_than:"+newerThan)
	}
	if olderThan != "" {
		parts = append(parts, "older_than:"+olderThan)
	}
	return strings.Join(parts, " ")
}

// Reindex re-encodes every stored document with the current embedding model
// and rewrites the vectors. Used after a model change; the dimension must
// still match the store.
func (p *Pipeline) Reindex(ctx context.Context, progress func(done, total int)) (int, error) {
	emails, err := p.store.GetEmails(ctx, store.Filter{}, 0, 0, true)
	if err != nil {
		return 0, fmt.Errorf("load emails: %w", err)
	}
	total := len(emails)
	p.logger.Info("reindex started", "emails", total)

	for start := 0; start < total; start += p.opts.BatchSize {
		end := min(start+p.opts.BatchSize, total)
		chunk := emails[start:end]

		texts := make([]string, len(chunk))
		for i, e := range chunk {
			texts[i] = embedding.PrepareEmailText(e.Subject, e.Document, e.Sender)
		}
		vecs, err := p.encoder.EncodeBatch(ctx, texts)
		if err != nil {
			return start, fmt.Errorf("encode batch: %w", err)
		}
		for i := range chunk {
			chunk[i].Embedding = vecs[i]
		}
		if err := p.store.UpsertEmailsBatch(ctx, chunk); err != nil {
			return start, fmt.Errorf("upsert emails: %w", err)
		}
		if progress != nil {
			progress(end, total)
		}
	}
	p.logger.Info("reindex complete", "emails", total)
	return total, nil
}

// ingestBatch fetches ids in full format, stores them, and runs the expense
// and enrichment passes. Returns how many messages were stored and the ids
// that failed to fetch permanently.
func (p *Pipeline) ingestBatch(ctx context.Context, ids []string, labelMap map[string]string) (int, []string, error) {
	msgs, failed, err := p.client.BatchGetMessages(ctx, ids, gmail.FormatFull)
	if err != nil {
		return 0, nil, fmt.Errorf("batch get messages: %w", err)
	}

	emails := make([]*store.Email, len(msgs))
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		pm := gmail.ParseMessage(m)
		emails[i] = p.buildEmail(pm, labelMap)
		texts[i] = embedding.PrepareEmailText(pm.Subject, pm.BodyText, pm.Sender)
	}

	vecs, err := p.encoder.EncodeBatch(ctx, texts)
	if err != nil {
		return 0, failed, fmt.Errorf("encode batch: %w", err)
	}
	for i := range emails {
		emails[i].Embedding = vecs[i]
	}

	if err := p.store.UpsertEmailsBatch(ctx, emails); err != nil {
		return 0, failed, fmt.Errorf("upsert emails: %w", err)
	}

	if err := p.extractExpenses(ctx, emails); err != nil {
		return 0, failed, err
	}
	if err := p.enrichEmails(ctx, emails); err != nil {
		return 0, failed, err
	}
	return len(emails), failed, nil
}

// buildEmail maps a parsed message to its stored form, including the
// heuristic category.
func (p *Pipeline) buildEmail(pm *gmail.ParsedEmail, labelMap map[string]string) *store.Email {
	e := &store.Email{
		GmailID:         pm.ID,
		ThreadID:        pm.ThreadID,
		Subject:         pm.Subject,
		Sender:          pm.Sender,
		RecipientsTo:    pm.To,
		RecipientsCc:    pm.Cc,
		RecipientsBcc:   pm.Bcc,
		Snippet:         pm.Snippet,
		InternalDate:    pm.InternalDate,
		IsRead:          pm.IsRead,
		IsStarred:       pm.IsStarred,
		IsDraft:         pm.IsDraft,
		HasAttachments:  pm.HasAttachments,
		Labels:          labelString(pm.LabelIDs, labelMap),
		HistoryID:       pm.HistoryID,
		SizeEstimate:    pm.SizeEstimate,
		ListUnsubscribe: gmail.HeaderValue(pm.Headers, "List-Unsubscribe"),
		Document:        pm.BodyText,
	}
	// A missing or unparseable Date header stays zero; internal_date still
	// carries Gmail's receive time.
	if !pm.Date.IsZero() {
		e.DateISO = pm.Date.Format(time.RFC3339)
		e.DateTS = pm.Date.Unix()
	}
	e.Category = p.cat.Categorize(categorize.Input{
		Sender:          e.Sender,
		Subject:         e.Subject,
		Labels:          e.Labels,
		ListUnsubscribe: e.ListUnsubscribe,
	})
	return e
}

// labelString renders label ids as the pipe-bracketed display form, falling
// back to the raw id when the catalog has no name for it.
func labelString(labelIDs []string, labelMap map[string]string) string {
	if len(labelIDs) == 0 {
		return ""
	}
	names := make([]string, len(labelIDs))
	for i, id := range labelIDs {
		if name, ok := labelMap[id]; ok {
			names[i] = name
		} else {
			names[i] = id
		}
	}
	return "|" + strings.Join(names, "|") + "|"
}

// extractExpenses runs the rule pass over freshly stored emails. Rules are
// reloaded each call so edits apply to the next batch without a restart.
// Failed rule loads and embeddings degrade; a failed store write aborts.
func (p *Pipeline) extractExpenses(ctx context.Context, emails []*store.Email) error {
	if p.rulesDir == "" || len(emails) == 0 {
		return nil
	}
	rules, err := expense.LoadRules(p.rulesDir)
	if err != nil {
		p.logger.Warn("expense rules unreadable, skipping expense pass", "error", err)
		return nil
	}
	include := make(map[string]bool, len(rules.IncludeIDs))
	for _, id := range rules.IncludeIDs {
		include[id] = true
	}

	var expenses []*store.Expense
	for _, e := range emails {
		rule := expense.ForcedRule()
		if !include[e.GmailID] {
			rule = rules.Match(e)
		}
		if rule == nil {
			continue
		}
		if exp := expense.BuildExpense(e, rule); exp != nil {
			expenses = append(expenses, exp)
		}
	}
	if len(expenses) == 0 {
		return nil
	}

	docs := make([]string, len(expenses))
	for i, exp := range expenses {
		docs[i] = exp.Document
	}
	vecs, err := p.encoder.EncodeBatch(ctx, docs)
	if err != nil {
		p.logger.Warn("expense embedding failed, storing without vectors", "error", err)
	} else {
		for i := range expenses {
			expenses[i].Embedding = vecs[i]
		}
	}

	if err := p.store.UpsertExpensesBatch(ctx, expenses); err != nil {
		return fmt.Errorf("upsert expenses: %w", err)
	}
	p.logger.Info("expense pass complete", "extracted", len(expenses))
	return nil
}

// enrichEmails runs LLM extraction over freshly stored emails and applies
// the resulting metadata patches.
func (p *Pipeline) enrichEmails(ctx context.Context, emails []*store.Email) error {
	if p.extractor == nil || len(emails) == 0 {
		return nil
	}

	records := make([]enrich.Record, len(emails))
	for i, e := range emails {
		records[i] = enrich.RecordFromEmail(e)
	}
	results, err := p.extractor.ProcessBatch(ctx, records, nil)
	if err != nil {
		return fmt.Errorf("llm extraction: %w", err)
	}
	patches, err := enrich.Patches(records, results)
	if err != nil {
		return fmt.Errorf("build enrichment patches: %w", err)
	}
	if err := p.store.ApplyMetadataPatches(ctx, patches); err != nil {
		return fmt.Errorf("apply enrichment: %w", err)
	}

	withActions := 0
	for _, r := range results {
		if len(r.ActionItems) > 0 {
			withActions++
		}
	}
	p.logger.Info("llm post-processing complete",
		"emails", len(records), "with_action_items", withActions)
	return nil
}

// deleteEmails removes emails and the expenses derived from them.
func (p *Pipeline) deleteEmails(ctx context.Context, ids []string) error {
	if err := p.store.DeleteEmails(ctx, ids); err != nil {
		return fmt.Errorf("delete emails: %w", err)
	}
	if err := p.store.DeleteExpensesForEmails(ctx, ids); err != nil {
		return fmt.Errorf("delete expenses: %w", err)
	}
	return nil
}
