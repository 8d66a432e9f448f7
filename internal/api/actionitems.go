package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/mailsift/mailsift/internal/enrich"
	"github.com/mailsift/mailsift/internal/fileutil"
	"github.com/mailsift/mailsift/internal/store"
)

// actionItemView is one extracted to-do for the action board. Deadline
// falls back to today so undated items sort with the urgent ones.
type actionItemView struct {
	GmailID    string `json:"gmail_id"`
	Action     string `json:"action"`
	Deadline   string `json:"deadline"`
	Urgency    string `json:"urgency"`
	Subject    string `json:"subject"`
	Sender     string `json:"sender"`
	IsOverdue  bool   `json:"is_overdue"`
	DismissKey string `json:"dismiss_key"`
}

func (s *Server) handleActionItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	emails, err := s.deps.Store.GetEmails(ctx, store.Filter{HasActionItems: store.Ptr(true)}, 0, 0, false)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	dismissed, err := s.dismissedKeys()
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	today := time.Now().Format("2006-01-02")
	actions := make([]actionItemView, 0)
	for _, e := range emails {
		var items []enrich.ActionItem
		if err := json.Unmarshal([]byte(e.ActionItemsJSON), &items); err != nil {
			s.logger.Warn("skipping malformed action items", "gmail_id", e.GmailID, "error", err)
			continue
		}
		for _, item := range items {
			if item.Action == "" {
				continue
			}
			key := e.GmailID + ":" + item.Action
			if dismissed[key] {
				continue
			}

			deadline := item.Deadline
			if deadline == "" {
				deadline = today
			}
			urgency := item.Urgency
			if urgency == "" {
				urgency = "medium"
			}
			actions = append(actions, actionItemView{
				GmailID:    e.GmailID,
				Action:     item.Action,
				Deadline:   deadline,
				Urgency:    urgency,
				Subject:    e.Subject,
				Sender:     e.Sender,
				IsOverdue:  item.Deadline != "" && item.Deadline < today,
				DismissKey: key,
			})
		}
	}

	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Deadline < actions[j].Deadline })
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *Server) handleDismissAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DismissKey string `json:"dismiss_key"`
	}
	if err := decodeJSON(r, &req); err != nil || req.DismissKey == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	path := s.cfg.DismissedActionsPath()
	var keys []string
	if _, err := fileutil.ReadJSON(path, &keys); err != nil {
		s.internalError(w, r, err)
		return
	}
	for _, k := range keys {
		if k == req.DismissKey {
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
	}
	keys = append(keys, req.DismissKey)
	if err := fileutil.WriteJSON(path, keys); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) dismissedKeys() (map[string]bool, error) {
	var keys []string
	if _, err := fileutil.ReadJSON(s.cfg.DismissedActionsPath(), &keys); err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set, nil
}
