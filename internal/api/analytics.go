package api

import (
	"fmt"
	"net/http"

	"github.com/mailsift/mailsift/internal/analytics"
	"github.com/mailsift/mailsift/internal/orchestrator"
)

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	data, err := orchestrator.Memo(s.deps.Runner.Cache(), "overview", func() (*analytics.Overview, error) {
		return s.deps.Analyzer.Overview(r.Context())
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// handleSenders caches the full rollup and slices to the requested
// limit, so different limits share one computation.
func (s *Server) handleSenders(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 200, 1, 1000)
	stats, err := s.cachedSenders(r)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if len(stats) > limit {
		stats = stats[:limit]
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cachedSenders(r)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	subs := make([]analytics.SenderStat, 0)
	for _, stat := range stats {
		if stat.IsSubscription {
			subs = append(subs, stat)
		}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) cachedSenders(r *http.Request) ([]analytics.SenderStat, error) {
	return orchestrator.Memo(s.deps.Runner.Cache(), "senders", func() ([]analytics.SenderStat, error) {
		return s.deps.Analyzer.Senders(r.Context(), 1000)
	})
}

type labelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Searcher.CountByLabel(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	out := make([]labelCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, labelCount{Label: c.Key, Count: c.Count})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCategoryCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Analyzer.Categories(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 500, 1, 2000)
	alerts, err := orchestrator.Memo(s.deps.Runner.Cache(), "alerts", func() ([]analytics.AlertEmail, error) {
		return s.deps.Analyzer.Alerts(r.Context(), 2000)
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7, 1, 30)
	key := fmt.Sprintf("triage_%d", days)
	data, err := orchestrator.Memo(s.deps.Runner.Cache(), key, func() (*analytics.Triage, error) {
		return s.deps.Analyzer.Triage(r.Context(), days)
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleEDA(w http.ResponseWriter, r *http.Request) {
	data, err := orchestrator.Memo(s.deps.Runner.Cache(), "eda", func() (*analytics.EDA, error) {
		return s.deps.Analyzer.EDA(r.Context())
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}
