// Package mcp exposes the mail store to MCP clients over stdio.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mailsift/mailsift/internal/search"
	"github.com/mailsift/mailsift/internal/store"
)

// Tool name constants.
const (
	ToolSearchEmails = "search_emails"
	ToolGetEmail     = "get_email"
	ToolListEmails   = "list_emails"
	ToolGetStats     = "get_stats"
	ToolAggregate    = "aggregate"
)

// Common argument helpers for recurring tool option definitions.

func withLimit(defaultDesc string) mcp.ToolOption {
	return mcp.WithNumber("limit",
		mcp.Description("Maximum results to return (default "+defaultDesc+")"),
	)
}

func withOffset() mcp.ToolOption {
	return mcp.WithNumber("offset",
		mcp.Description("Number of results to skip for pagination (default 0)"),
	)
}

// Serve creates an MCP server with mailbox tools and serves over stdio.
// It blocks until stdin is closed or the context is cancelled.
func Serve(ctx context.Context, st *store.Store, searcher *search.Searcher) error {
	s := server.NewMCPServer(
		"mailsift",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	h := &handlers{store: st, searcher: searcher}

	s.AddTool(searchEmailsTool(), h.searchEmails)
	s.AddTool(getEmailTool(), h.getEmail)
	s.AddTool(listEmailsTool(), h.listEmails)
	s.AddTool(getStatsTool(), h.getStats)
	s.AddTool(aggregateTool(), h.aggregate)

	stdio := server.NewStdioServer(s)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func searchEmailsTool() mcp.Tool {
	return mcp.NewTool(ToolSearchEmails,
		mcp.WithDescription("Search stored emails. Hybrid mode fuses semantic and exact-substring matching; semantic and fulltext run each side alone."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search text (e.g. 'flight confirmation delta')"),
		),
		mcp.WithString("mode",
			mcp.Description("Search mode (default hybrid)"),
			mcp.Enum("hybrid", "semantic", "fulltext"),
		),
		withLimit("20"),
	)
}

func getEmailTool() mcp.Tool {
	return mcp.NewTool(ToolGetEmail,
		mcp.WithDescription("Get one email by Gmail message id, including category, labels, extracted action items and transactions, and optionally the body text."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("gmail_id",
			mcp.Required(),
			mcp.Description("Gmail message id (from search_emails or list_emails)"),
		),
		mcp.WithBoolean("include_body",
			mcp.Description("Include the stored body text (default false)"),
		),
	)
}

func listEmailsTool() mcp.Tool {
	return mcp.NewTool(ToolListEmails,
		mcp.WithDescription("List emails with optional filters, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("from",
			mcp.Description("Filter by sender substring"),
		),
		mcp.WithString("label",
			mcp.Description("Filter by Gmail label id (e.g. INBOX, STARRED)"),
		),
		mcp.WithString("category",
			mcp.Description("Filter by assigned category (e.g. Travel, Money)"),
		),
		mcp.WithBoolean("unread",
			mcp.Description("Only unread emails"),
		),
		mcp.WithString("after",
			mcp.Description("Only emails after this date (YYYY-MM-DD)"),
		),
		mcp.WithString("before",
			mcp.Description("Only emails before this date (YYYY-MM-DD)"),
		),
		withLimit("20"),
		withOffset(),
	)
}

func getStatsTool() mcp.Tool {
	return mcp.NewTool(ToolGetStats,
		mcp.WithDescription("Get store overview: email, vector, label, and expense counts plus database size."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func aggregateTool() mcp.Tool {
	return mcp.NewTool(ToolAggregate,
		mcp.WithDescription("Get grouped counts (top senders, labels, or message volume by day/week/month)."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("group_by",
			mcp.Required(),
			mcp.Description("Dimension to group by"),
			mcp.Enum("sender", "label", "day", "week", "month"),
		),
		withLimit("50"),
	)
}
