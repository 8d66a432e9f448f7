package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/mailsift/mailsift/internal/categorize"
	"github.com/mailsift/mailsift/internal/orchestrator"
	"github.com/mailsift/mailsift/internal/store"
)

// syncRequest is the body for POST /api/sync/start. A null days_ago
// means no date cutoff.
type syncRequest struct {
	MaxEmails int    `json:"max_emails"`
	DaysAgo   *int   `json:"days_ago"`
	Query     string `json:"query"`
}

type syncStatusResponse struct {
	LastSync     *string `json:"last_sync"`
	TotalEmails  int64   `json:"total_emails"`
	IsSyncing    bool    `json:"is_syncing"`
	HasHistoryID bool    `json:"has_history_id"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := s.deps.Store.GetSyncState(ctx)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	total, err := s.deps.Store.CountEmails(ctx, store.Filter{})
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	resp := syncStatusResponse{
		TotalEmails:  total,
		IsSyncing:    s.deps.Runner.IsSyncing(),
		HasHistoryID: state.LastHistoryID > 0,
	}
	if !state.LastFullSync.IsZero() {
		last := state.LastFullSync.UTC().Format(time.RFC3339)
		resp.LastSync = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	req := syncRequest{MaxEmails: 100000, DaysAgo: store.Ptr(90)}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	opts := orchestrator.FullOptions{Query: req.Query, MaxEmails: req.MaxEmails}
	if req.DaysAgo != nil {
		opts.DaysAgo = *req.DaysAgo
	}
	if err := s.deps.Runner.StartFull(opts); err != nil {
		if errors.Is(err, orchestrator.ErrSyncInProgress) {
			writeJSON(w, http.StatusOK, map[string]string{"message": "Sync already in progress"})
			return
		}
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Sync started"})
}

func (s *Server) handleSyncIncremental(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Runner.StartIncremental(); err != nil {
		if errors.Is(err, orchestrator.ErrSyncInProgress) {
			writeJSON(w, http.StatusOK, map[string]string{"message": "Sync already in progress"})
			return
		}
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Incremental sync started"})
}

func (s *Server) handleSyncProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Runner.Progress())
}

func (s *Server) handleSyncEvents(w http.ResponseWriter, r *http.Request) {
	events, syncing := s.deps.Runner.Events(r.URL.Query().Get("after"))
	writeJSON(w, http.StatusOK, map[string]any{
		"events":     events,
		"is_syncing": syncing,
	})
}

func (s *Server) handleLiveCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.deps.Store.CountEmails(r.Context(), store.Filter{})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (s *Server) handleLLMStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Runner.LLMStatus())
}

func (s *Server) handleLLMStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Force bool `json:"force"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.deps.Runner.StartLLMProcess(req.Force); err != nil {
		if errors.Is(err, orchestrator.ErrLLMInProgress) {
			st := s.deps.Runner.LLMStatus()
			writeJSON(w, http.StatusOK, map[string]any{
				"message":    "LLM processing already in progress",
				"is_running": st.IsRunning,
				"processed":  st.Processed,
				"total":      st.Total,
				"error":      st.Error,
			})
			return
		}
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "LLM processing started"})
}

func (s *Server) handleCategorizeAll(w http.ResponseWriter, r *http.Request) {
	updated, counts, err := s.recategorizeAll(r)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.deps.Runner.Cache().Invalidate(
		"overview", "categories", "senders", "alerts", "eda",
		"expenses_overview", "expenses_tx",
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"updated":    updated,
		"categories": counts,
	})
}

// recategorizeAll reapplies the rule categorizer to every stored email,
// patching the ones whose category changed. It returns the patch count
// and the resulting category distribution.
func (s *Server) recategorizeAll(r *http.Request) (int, map[string]int, error) {
	ctx := r.Context()
	counts := make(map[string]int)
	var patches []*store.MetadataPatch

	const page = 500
	for offset := 0; ; offset += page {
		emails, err := s.deps.Store.GetEmails(ctx, store.Filter{}, page, offset, false)
		if err != nil {
			return 0, nil, err
		}
		for _, e := range emails {
			cat := s.deps.Categorizer.Categorize(categorize.Input{
				Sender:          e.Sender,
				Subject:         e.Subject,
				Labels:          e.Labels,
				ListUnsubscribe: e.ListUnsubscribe,
			})
			counts[cat]++
			if cat != e.Category {
				patches = append(patches, &store.MetadataPatch{GmailID: e.GmailID, Category: store.Ptr(cat)})
			}
		}
		if len(emails) < page {
			break
		}
	}

	if len(patches) > 0 {
		if err := s.deps.Store.ApplyMetadataPatches(ctx, patches); err != nil {
			return 0, nil, err
		}
	}
	s.logger.Info("recategorized archive", "updated", len(patches))
	return len(patches), counts, nil
}

func (s *Server) handleSyncLogs(w http.ResponseWriter, r *http.Request) {
	records := []LogRecord{}
	if s.deps.Logs != nil {
		records = s.deps.Logs.Records(r.URL.Query().Get("after"))
	}
	writeJSON(w, http.StatusOK, map[string]any{"api_logs": records})
}

func (s *Server) handleAutoSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Runner.AutoSyncStatus())
}

func (s *Server) handleAutoSyncSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Runner.SetAutoSync(req.Enabled))
}
