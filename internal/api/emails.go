package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mailsift/mailsift/internal/search"
	"github.com/mailsift/mailsift/internal/store"
)

// emailJSON is the wire form of one email: the raw document plus a flat
// metadata map. Score is set only on search results.
type emailJSON struct {
	ID       string         `json:"id"`
	Document string         `json:"document"`
	Metadata map[string]any `json:"metadata"`
	Score    *float64       `json:"score,omitempty"`
}

func emailView(e *store.Email) emailJSON {
	return emailJSON{
		ID:       e.GmailID,
		Document: e.Document,
		Metadata: map[string]any{
			"thread_id":         e.ThreadID,
			"subject":           e.Subject,
			"sender":            e.Sender,
			"recipients_to":     e.RecipientsTo,
			"recipients_cc":     e.RecipientsCc,
			"recipients_bcc":    e.RecipientsBcc,
			"date_iso":          e.DateISO,
			"date_timestamp":    e.DateTS,
			"snippet":           e.Snippet,
			"internal_date":     e.InternalDate,
			"is_read":           e.IsRead,
			"is_starred":        e.IsStarred,
			"is_draft":          e.IsDraft,
			"has_attachments":   e.HasAttachments,
			"labels":            e.Labels,
			"history_id":        e.HistoryID,
			"size_estimate":     e.SizeEstimate,
			"list_unsubscribe":  e.ListUnsubscribe,
			"category":          e.Category,
			"llm_categorized":   e.LLMCategorized,
			"actions_extracted": e.ActionsExtracted,
			"has_action_items":  e.HasActionItems,
			"action_items_json": e.ActionItemsJSON,
			"has_transactions":  e.HasTransactions,
			"spending_json":     e.SpendingJSON,
		},
	}
}

// handleListEmails pages through the archive with optional filters, or
// runs a search when the search parameter is present. Search results
// ignore filters and paging and come back as page 1.
func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	page := queryInt(r, "page", 1, 1, 0)
	limit := queryInt(r, "limit", 50, 1, 200)

	if term := q.Get("search"); term != "" {
		var (
			results []search.Result
			err     error
		)
		switch q.Get("mode") {
		case "semantic":
			results, err = s.deps.Searcher.Semantic(ctx, term, limit, 0)
		case "fulltext":
			results, err = s.deps.Searcher.Fulltext(ctx, term, limit)
		default:
			results, err = s.deps.Searcher.Hybrid(ctx, term, limit)
		}
		if err != nil {
			s.internalError(w, r, err)
			return
		}

		items := make([]emailJSON, 0, len(results))
		for _, res := range results {
			view := emailView(res.Email)
			score := res.Score
			view.Score = &score
			items = append(items, view)
		}
		writeJSON(w, http.StatusOK, map[string]any{"emails": items, "page": 1, "limit": limit})
		return
	}

	f := store.Filter{
		Sender:        q.Get("sender"),
		LabelContains: q.Get("label"),
		Category:      q.Get("category"),
		IsStarred:     queryBoolPtr(r, "starred"),
	}
	// The query exposes "unread"; the store tracks is_read.
	if unread := queryBoolPtr(r, "unread"); unread != nil {
		f.IsRead = store.Ptr(!*unread)
	}

	emails, err := s.deps.Store.GetEmails(ctx, f, limit, (page-1)*limit, true)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	items := make([]emailJSON, 0, len(emails))
	for _, e := range emails {
		items = append(items, emailView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"emails": items, "page": page, "limit": limit})
}

func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	email, err := s.deps.Store.GetEmail(r.Context(), chi.URLParam(r, "gmailID"), true)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if email == nil {
		writeError(w, http.StatusNotFound, "Email not found")
		return
	}
	writeJSON(w, http.StatusOK, emailView(email))
}
