package api

import (
	"net/http"

	"github.com/mailsift/mailsift/internal/analytics"
)

func (s *Server) handleAlertRulesGet(w http.ResponseWriter, r *http.Request) {
	rules, err := analytics.LoadAlertRules(s.cfg.Data.PersistDir)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleAlertRulesPut(w http.ResponseWriter, r *http.Request) {
	var rules analytics.AlertRules
	if err := decodeJSON(r, &rules); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	saved, err := analytics.SaveAlertRules(s.cfg.Data.PersistDir, &rules)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.deps.Runner.Cache().Invalidate("alerts")
	writeJSON(w, http.StatusOK, saved)
}
