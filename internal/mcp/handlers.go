package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mailsift/mailsift/internal/search"
	"github.com/mailsift/mailsift/internal/store"
)

const maxLimit = 1000

type handlers struct {
	store    *store.Store
	searcher *search.Searcher
}

// emailSummary is the compact record returned by search and list tools.
type emailSummary struct {
	GmailID        string   `json:"gmail_id"`
	ThreadID       string   `json:"thread_id"`
	Subject        string   `json:"subject"`
	Sender         string   `json:"sender"`
	Date           string   `json:"date"`
	Snippet        string   `json:"snippet,omitempty"`
	Category       string   `json:"category,omitempty"`
	Labels         []string `json:"labels,omitempty"`
	IsRead         bool     `json:"is_read"`
	HasAttachments bool     `json:"has_attachments"`
	Score          float64  `json:"score,omitempty"`
}

// emailDetail extends the summary with enrichment output and the body.
type emailDetail struct {
	emailSummary
	RecipientsTo    string          `json:"recipients_to,omitempty"`
	RecipientsCc    string          `json:"recipients_cc,omitempty"`
	IsStarred       bool            `json:"is_starred"`
	ListUnsubscribe string          `json:"list_unsubscribe,omitempty"`
	ActionItems     json.RawMessage `json:"action_items,omitempty"`
	Spending        json.RawMessage `json:"spending,omitempty"`
	Body            string          `json:"body,omitempty"`
}

func summarize(e *store.Email, score float64) emailSummary {
	var labels []string
	if e.Labels != "" {
		labels = strings.Split(strings.Trim(e.Labels, "|"), "|")
	}
	return emailSummary{
		GmailID:        e.GmailID,
		ThreadID:       e.ThreadID,
		Subject:        e.Subject,
		Sender:         e.Sender,
		Date:           e.DateISO,
		Snippet:        e.Snippet,
		Category:       e.Category,
		Labels:         labels,
		IsRead:         e.IsRead,
		HasAttachments: e.HasAttachments,
		Score:          score,
	}
}

// limitArg extracts a bounded non-negative integer argument with a default.
// NaN and out-of-range floats are clamped rather than rejected.
func limitArg(args map[string]any, key string, def int) int {
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > maxLimit {
		return maxLimit
	}
	return int(v)
}

// dateArg extracts an optional YYYY-MM-DD date argument as epoch seconds.
// end selects the end of the day so "before" is inclusive.
func dateArg(args map[string]any, key string, end bool) (int64, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return 0, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s date %q: expected YYYY-MM-DD", key, v)
	}
	if end {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t.Unix(), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (h *handlers) searchEmails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	queryStr, _ := args["query"].(string)
	if queryStr == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	limit := limitArg(args, "limit", 20)
	mode, _ := args["mode"].(string)

	var (
		results []search.Result
		err     error
	)
	switch mode {
	case "semantic":
		results, err = h.searcher.Semantic(ctx, queryStr, limit, 0)
	case "fulltext":
		results, err = h.searcher.Fulltext(ctx, queryStr, limit)
	case "", "hybrid":
		results, err = h.searcher.Hybrid(ctx, queryStr, limit)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown mode %q", mode)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	out := make([]emailSummary, 0, len(results))
	for _, r := range results {
		out = append(out, summarize(r.Email, r.Score))
	}
	return jsonResult(out)
}

func (h *handlers) getEmail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	gmailID, _ := args["gmail_id"].(string)
	if gmailID == "" {
		return mcp.NewToolResultError("gmail_id parameter is required"), nil
	}
	includeBody, _ := args["include_body"].(bool)

	e, err := h.store.GetEmail(ctx, gmailID, includeBody)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get email failed: %v", err)), nil
	}
	if e == nil {
		return mcp.NewToolResultError("email not found"), nil
	}

	detail := emailDetail{
		emailSummary:    summarize(e, 0),
		RecipientsTo:    e.RecipientsTo,
		RecipientsCc:    e.RecipientsCc,
		IsStarred:       e.IsStarred,
		ListUnsubscribe: e.ListUnsubscribe,
	}
	if e.ActionItemsJSON != "" {
		detail.ActionItems = json.RawMessage(e.ActionItemsJSON)
	}
	if e.SpendingJSON != "" {
		detail.Spending = json.RawMessage(e.SpendingJSON)
	}
	if includeBody {
		detail.Body = e.Document
	}
	return jsonResult(detail)
}

func (h *handlers) listEmails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	f := store.Filter{}
	if v, _ := args["from"].(string); v != "" {
		f.SenderContains = v
	}
	if v, _ := args["label"].(string); v != "" {
		f.LabelContains = v
	}
	if v, _ := args["category"].(string); v != "" {
		f.Category = v
	}
	if v, ok := args["unread"].(bool); ok && v {
		f.IsRead = store.Ptr(false)
	}

	var err error
	if f.DateFrom, err = dateArg(args, "after", false); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if f.DateTo, err = dateArg(args, "before", true); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	limit := limitArg(args, "limit", 20)
	offset := limitArg(args, "offset", 0)

	emails, err := h.searcher.Filter(ctx, f, limit, offset)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}

	out := make([]emailSummary, 0, len(emails))
	for _, e := range emails {
		out = append(out, summarize(e, 0))
	}
	return jsonResult(out)
}

func (h *handlers) getStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.store.GetStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get stats failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"emails":              stats.EmailCount,
		"vectors":             stats.VectorCount,
		"labels":              stats.LabelCount,
		"expenses":            stats.ExpenseCount,
		"llm_categorized":     stats.CategorizedWithLLM,
		"with_action_items":   stats.WithActionItems,
		"database_size_bytes": stats.DatabaseSize,
	})
}

func (h *handlers) aggregate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	groupBy, _ := args["group_by"].(string)
	limit := limitArg(args, "limit", 50)

	var (
		counts []search.Count
		err    error
	)
	switch groupBy {
	case "sender":
		counts, err = h.searcher.CountBySender(ctx, limit)
	case "label":
		counts, err = h.searcher.CountByLabel(ctx)
	case "day", "week", "month":
		counts, err = h.searcher.CountByDate(ctx, groupBy)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown group_by %q", groupBy)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("aggregate failed: %v", err)), nil
	}

	if len(counts) > limit {
		counts = counts[:limit]
	}
	type bucket struct {
		Key   string `json:"key"`
		Count int    `json:"count"`
	}
	out := make([]bucket, 0, len(counts))
	for _, c := range counts {
		out = append(out, bucket{Key: c.Key, Count: c.Count})
	}
	return jsonResult(out)
}
