package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/mailsift/mailsift/internal/fileutil"
	"github.com/mailsift/mailsift/internal/store"
)

// inboxRuleActions are the operations applied to every email a rule matches.
// Label is a Gmail label name, created on first use.
type inboxRuleActions struct {
	MarkRead bool    `json:"mark_read"`
	Trash    bool    `json:"trash"`
	Label    *string `json:"label"`
}

type inboxRule struct {
	Name     string           `json:"name"`
	Senders  []string         `json:"senders"`
	Keywords []string         `json:"keywords"`
	Labels   []string         `json:"labels"`
	Actions  inboxRuleActions `json:"actions"`
}

type inboxRules struct {
	Rules []inboxRule `json:"rules"`
}

func (s *Server) loadInboxRules() (inboxRules, error) {
	var rs inboxRules
	if _, err := fileutil.ReadJSON(s.cfg.InboxRulesPath(), &rs); err != nil {
		return inboxRules{}, err
	}
	if rs.Rules == nil {
		rs.Rules = []inboxRule{}
	}
	return rs, nil
}

func (s *Server) handleInboxRulesGet(w http.ResponseWriter, r *http.Request) {
	rs, err := s.loadInboxRules()
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleInboxRulesSet(w http.ResponseWriter, r *http.Request) {
	var rs inboxRules
	if err := decodeJSON(r, &rs); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if rs.Rules == nil {
		rs.Rules = []inboxRule{}
	}
	if err := fileutil.WriteJSON(s.cfg.InboxRulesPath(), rs); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// ruleMatches reports whether an email trips any of the rule's sender,
// keyword, or label conditions.
func ruleMatches(rule inboxRule, e *store.Email) bool {
	sender := strings.ToLower(e.Sender)
	text := strings.ToLower(e.Subject + " " + e.Snippet)
	for _, s := range rule.Senders {
		if s != "" && strings.Contains(sender, strings.ToLower(s)) {
			return true
		}
	}
	for _, k := range rule.Keywords {
		if k != "" && strings.Contains(text, strings.ToLower(k)) {
			return true
		}
	}
	if e.Labels != "" {
		for _, l := range rule.Labels {
			if l != "" && strings.Contains(e.Labels, "|"+l+"|") {
				return true
			}
		}
	}
	return false
}

func (s *Server) handleInboxRulesRun(w http.ResponseWriter, r *http.Request) {
	req := struct {
		DryRun bool `json:"dry_run"`
	}{DryRun: true}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ctx := r.Context()

	rs, err := s.loadInboxRules()
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	// One pass over the archive; an email that matches several rules is
	// recorded for each of them.
	matches := make(map[string][]string, len(rs.Rules))
	for _, rule := range rs.Rules {
		matches[rule.Name] = []string{}
	}
	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		emails, err := s.deps.Store.GetEmails(ctx, store.Filter{}, pageSize, offset, false)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		if len(emails) == 0 {
			break
		}
		for _, e := range emails {
			for _, rule := range rs.Rules {
				if ruleMatches(rule, e) {
					matches[rule.Name] = append(matches[rule.Name], e.GmailID)
				}
			}
		}
		if len(emails) < pageSize {
			break
		}
	}

	counts := make(map[string]int, len(matches))
	for name, ids := range matches {
		counts[name] = len(ids)
	}

	if req.DryRun {
		writeJSON(w, http.StatusOK, map[string]any{
			"dry_run": true,
			"matches": counts,
		})
		return
	}

	for _, rule := range rs.Rules {
		ids := matches[rule.Name]
		if len(ids) == 0 {
			continue
		}
		if rule.Actions.Trash {
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
		}
		if rule.Actions.MarkRead {
			for _, id := range ids {
				if _, err := s.deps.Mailbox.ModifyMessage(ctx, id, nil, []string{"UNREAD"}); err != nil {
					s.internalError(w, r, err)
					return
				}
			}
		}
		if rule.Actions.Label != nil && *rule.Actions.Label != "" {
			labelID, err := s.ensureLabel(ctx, *rule.Actions.Label)
			if err != nil {
				s.internalError(w, r, err)
				return
			}
			for _, id := range ids {
				if _, err := s.deps.Mailbox.ModifyMessage(ctx, id, []string{labelID}, nil); err != nil {
					s.internalError(w, r, err)
					return
				}
			}
		}
		s.logger.Info("inbox rule applied", "rule", rule.Name, "matches", len(ids))
	}

	s.deps.Runner.Cache().Invalidate(categoryCacheKeys...)
	writeJSON(w, http.StatusOK, map[string]any{
		"dry_run": false,
		"matches": counts,
	})
}
