package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const digestPrompt = "You are a personal inbox assistant. Summarize the following emails in 2-3 sentences. " +
	"Focus on what needs attention: replies needed, deadlines, important updates. " +
	"Be concise and direct.\n\nEmails:\n"

// digestMaxEmails caps how many emails feed the prompt; anything beyond the
// first page of a triage view adds tokens without adding signal.
const digestMaxEmails = 30

type digestEmail struct {
	Bucket  string `json:"bucket"`
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
	Date    string `json:"date"`
}

type digestRequest struct {
	Emails []digestEmail `json:"emails"`
}

func (s *Server) handleDigestSummarize(w http.ResponseWriter, r *http.Request) {
	var req digestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Emails) == 0 {
		writeError(w, http.StatusBadRequest, "No emails provided")
		return
	}
	if s.deps.LLM == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM unavailable: no provider configured")
		return
	}

	emails := req.Emails
	if len(emails) > digestMaxEmails {
		emails = emails[:digestMaxEmails]
	}
	lines := make([]string, 0, len(emails))
	for _, e := range emails {
		bucket := e.Bucket
		if bucket == "" {
			bucket = "?"
		}
		date := e.Date
		if len(date) > 10 {
			date = date[:10]
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s (from %s, %s)",
			strings.ToUpper(bucket), e.Subject, e.Sender, date))
	}

	summary, err := s.deps.LLM.Call(r.Context(), digestPrompt+strings.Join(lines, "\n"), 60*time.Second)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("LLM unavailable: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}
