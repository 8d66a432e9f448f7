package api

import (
	"context"
	"net/http"

	"github.com/mailsift/mailsift/internal/store"
)

// idsRequest targets explicit message ids. Without confirm the handler
// only previews what would happen.
type idsRequest struct {
	IDs     []string `json:"ids"`
	Confirm bool     `json:"confirm"`
}

type labelRequest struct {
	IDs       []string `json:"ids"`
	LabelName string   `json:"label_name"`
	Confirm   bool     `json:"confirm"`
}

type senderRequest struct {
	Sender  string `json:"sender"`
	Confirm bool   `json:"confirm"`
}

func (s *Server) handleTrash(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Confirm {
		writeJSON(w, http.StatusOK, map[string]any{"preview": true, "would_trash": len(req.IDs), "ids": req.IDs})
		return
	}

	ctx := r.Context()
	s.logger.Info("trashing messages", "count", len(req.IDs))
	for _, id := range req.IDs {
		if err := s.deps.Mailbox.TrashMessage(ctx, id); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	if err := s.deps.Store.DeleteEmails(ctx, req.IDs); err != nil {
		s.internalError(w, r, err)
		return
	}
	s.logger.Info("trash done", "trashed", len(req.IDs))
	writeJSON(w, http.StatusOK, map[string]int{"trashed": len(req.IDs)})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Confirm {
		writeJSON(w, http.StatusOK, map[string]any{"preview": true, "would_mark_read": len(req.IDs), "ids": req.IDs})
		return
	}

	ctx := r.Context()
	s.logger.Info("marking messages read", "count", len(req.IDs))
	for _, id := range req.IDs {
		if _, err := s.deps.Mailbox.ModifyMessage(ctx, id, nil, []string{"UNREAD"}); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked_read": len(req.IDs)})
}

func (s *Server) handleLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Confirm {
		writeJSON(w, http.StatusOK, map[string]any{
			"preview":     true,
			"would_label": len(req.IDs),
			"label_name":  req.LabelName,
			"ids":         req.IDs,
		})
		return
	}

	ctx := r.Context()
	labelID, err := s.ensureLabel(ctx, req.LabelName)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	s.logger.Info("applying label", "label_name", req.LabelName, "label_id", labelID, "count", len(req.IDs))
	for _, id := range req.IDs {
		if _, err := s.deps.Mailbox.ModifyMessage(ctx, id, []string{labelID}, nil); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"labeled": len(req.IDs), "label_id": labelID})
}

// ensureLabel resolves a Gmail label name to its ID, creating the label when
// it does not exist. Matching is exact and case sensitive.
func (s *Server) ensureLabel(ctx context.Context, name string) (string, error) {
	labels, err := s.deps.Mailbox.ListLabels(ctx)
	if err != nil {
		return "", err
	}
	for _, l := range labels {
		if l.Name == name {
			return l.ID, nil
		}
	}
	created, err := s.deps.Mailbox.CreateLabel(ctx, name)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (s *Server) handleTrashSender(w http.ResponseWriter, r *http.Request) {
	var req senderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	ids, err := s.deps.Store.AllIDs(ctx, store.Filter{Sender: req.Sender})
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	if !req.Confirm {
		writeJSON(w, http.StatusOK, map[string]any{"preview": true, "sender": req.Sender, "would_trash": len(ids)})
		return
	}

	s.logger.Info("trashing sender", "sender", req.Sender, "count", len(ids))
	for _, id := range ids {
		if err := s.deps.Mailbox.TrashMessage(ctx, id); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	if err := s.deps.Store.DeleteEmails(ctx, ids); err != nil {
		s.internalError(w, r, err)
		return
	}
	s.logger.Info("trash sender done", "sender", req.Sender, "trashed", len(ids))
	writeJSON(w, http.StatusOK, map[string]any{"trashed": len(ids), "sender": req.Sender})
}
