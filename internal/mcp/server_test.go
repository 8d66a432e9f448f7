package mcp

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mailsift/mailsift/internal/embedding"
	"github.com/mailsift/mailsift/internal/search"
	"github.com/mailsift/mailsift/internal/store"
	"github.com/mailsift/mailsift/internal/testutil"
)

// toolHandler is the function signature for MCP tool handler methods.
type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// newTestHandlers seeds a store with a small mailbox and returns handlers over it.
func newTestHandlers(t *testing.T) *handlers {
	t.Helper()
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	emails := []*store.Email{
		testutil.NewEmail("m1").
			WithSubject("Your Delta flight confirmation").
			WithSender("Delta Air Lines <no-reply@delta.com>").
			WithDocument("Confirmation code ABC123 for flight DL 447 to Austin.").
			WithCategory("Travel").
			WithLabels("INBOX").
			WithDate(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)).
			WithRead(true).
			BuildPtr(),
		testutil.NewEmail("m2").
			WithSubject("Receipt from Coffee Shop").
			WithSender("Coffee Shop <orders@coffee.example>").
			WithDocument("Thanks for your order. Total charged: $7.50.").
			WithCategory("Money").
			WithLabels("INBOX", "UNREAD").
			WithDate(time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)).
			WithSpending(`{"is_transaction":true,"transactions":[{"amount":7.5,"currency":"USD"}]}`).
			BuildPtr(),
		testutil.NewEmail("m3").
			WithSubject("Team standup notes").
			WithSender("Alice <alice@example.com>").
			WithDocument("Action item: review the Q2 budget draft by Friday.").
			WithLabels("INBOX").
			WithDate(time.Date(2024, 3, 14, 8, 0, 0, 0, time.UTC)).
			WithActionItems(`[{"action":"Review Q2 budget draft","deadline":"2024-03-15"}]`).
			WithRead(true).
			BuildPtr(),
	}
	testutil.MustNoErr(t, st.UpsertEmailsBatch(ctx, emails), "seed emails")

	searcher := search.New(st, embedding.NewMockEncoder(testutil.TestDimension))
	return &handlers{store: st, searcher: searcher}
}

// callToolDirect invokes a handler directly with the given arguments and returns the raw result.
func callToolDirect(t *testing.T, name string, fn toolHandler, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := fn(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return result
}

func resultText(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if len(r.Content) == 0 {
		t.Fatal("empty content")
	}
	tc, ok := r.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", r.Content[0])
	}
	return tc.Text
}

// runTool invokes a handler, asserts no error, and unmarshals the JSON result into T.
func runTool[T any](t *testing.T, name string, fn toolHandler, args map[string]any) T {
	t.Helper()
	r := callToolDirect(t, name, fn, args)
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, r))
	}
	var out T
	if err := json.Unmarshal([]byte(resultText(t, r)), &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return out
}

// runToolExpectError invokes a handler and asserts it returns an error result.
func runToolExpectError(t *testing.T, name string, fn toolHandler, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	r := callToolDirect(t, name, fn, args)
	if !r.IsError {
		t.Fatal("expected error result")
	}
	return r
}

func TestSearchEmails(t *testing.T) {
	h := newTestHandlers(t)

	t.Run("fulltext match", func(t *testing.T) {
		hits := runTool[[]emailSummary](t, ToolSearchEmails, h.searchEmails, map[string]any{
			"query": "confirmation code",
			"mode":  "fulltext",
		})
		if len(hits) != 1 || hits[0].GmailID != "m1" {
			t.Fatalf("unexpected hits: %+v", hits)
		}
		if hits[0].Score != 1.0 {
			t.Fatalf("fulltext score = %v, want 1.0", hits[0].Score)
		}
	})

	t.Run("hybrid keeps exact match", func(t *testing.T) {
		hits := runTool[[]emailSummary](t, ToolSearchEmails, h.searchEmails, map[string]any{
			"query": "budget draft",
		})
		found := false
		for _, hit := range hits {
			if hit.GmailID == "m3" {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected m3 in hybrid results, got: %+v", hits)
		}
	})

	t.Run("missing query", func(t *testing.T) {
		runToolExpectError(t, ToolSearchEmails, h.searchEmails, map[string]any{})
	})

	t.Run("unknown mode", func(t *testing.T) {
		runToolExpectError(t, ToolSearchEmails, h.searchEmails, map[string]any{
			"query": "anything", "mode": "psychic",
		})
	})
}

func TestGetEmailTool(t *testing.T) {
	h := newTestHandlers(t)

	t.Run("found with body", func(t *testing.T) {
		detail := runTool[emailDetail](t, ToolGetEmail, h.getEmail, map[string]any{
			"gmail_id": "m3", "include_body": true,
		})
		if detail.Subject != "Team standup notes" {
			t.Fatalf("unexpected subject: %s", detail.Subject)
		}
		if detail.Body == "" {
			t.Fatal("expected body to be included")
		}
		if len(detail.ActionItems) == 0 {
			t.Fatal("expected action items to be included")
		}
	})

	t.Run("found without body", func(t *testing.T) {
		detail := runTool[emailDetail](t, ToolGetEmail, h.getEmail, map[string]any{
			"gmail_id": "m2",
		})
		if detail.Body != "" {
			t.Fatalf("unexpected body: %q", detail.Body)
		}
		var spending struct {
			IsTransaction bool `json:"is_transaction"`
		}
		if err := json.Unmarshal(detail.Spending, &spending); err != nil || !spending.IsTransaction {
			t.Fatalf("unexpected spending payload: %s (err %v)", detail.Spending, err)
		}
	})

	errorCases := []struct {
		name string
		args map[string]any
	}{
		{"not found", map[string]any{"gmail_id": "nope"}},
		{"missing gmail_id", map[string]any{}},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			runToolExpectError(t, ToolGetEmail, h.getEmail, tt.args)
		})
	}
}

func TestListEmails(t *testing.T) {
	h := newTestHandlers(t)

	t.Run("by sender", func(t *testing.T) {
		hits := runTool[[]emailSummary](t, ToolListEmails, h.listEmails, map[string]any{
			"from": "delta.com",
		})
		if len(hits) != 1 || hits[0].GmailID != "m1" {
			t.Fatalf("unexpected hits: %+v", hits)
		}
	})

	t.Run("unread only", func(t *testing.T) {
		hits := runTool[[]emailSummary](t, ToolListEmails, h.listEmails, map[string]any{
			"unread": true,
		})
		if len(hits) != 1 || hits[0].GmailID != "m2" {
			t.Fatalf("unexpected hits: %+v", hits)
		}
	})

	t.Run("date window", func(t *testing.T) {
		hits := runTool[[]emailSummary](t, ToolListEmails, h.listEmails, map[string]any{
			"after":  "2024-03-11",
			"before": "2024-03-12",
		})
		if len(hits) != 1 || hits[0].GmailID != "m2" {
			t.Fatalf("unexpected hits: %+v", hits)
		}
	})

	t.Run("category and label", func(t *testing.T) {
		hits := runTool[[]emailSummary](t, ToolListEmails, h.listEmails, map[string]any{
			"category": "Travel",
			"label":    "INBOX",
		})
		if len(hits) != 1 || hits[0].GmailID != "m1" {
			t.Fatalf("unexpected hits: %+v", hits)
		}
	})

	errorCases := []struct {
		name string
		args map[string]any
	}{
		{"invalid after date", map[string]any{"after": "not-a-date"}},
		{"invalid before date", map[string]any{"before": "2024/01/01"}},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			runToolExpectError(t, ToolListEmails, h.listEmails, tt.args)
		})
	}
}

func TestGetStatsTool(t *testing.T) {
	h := newTestHandlers(t)

	resp := runTool[struct {
		Emails          int `json:"emails"`
		WithActionItems int `json:"with_action_items"`
	}](t, ToolGetStats, h.getStats, map[string]any{})

	if resp.Emails != 3 {
		t.Fatalf("unexpected email count: %d", resp.Emails)
	}
	if resp.WithActionItems != 1 {
		t.Fatalf("unexpected action item count: %d", resp.WithActionItems)
	}
}

func TestAggregateTool(t *testing.T) {
	h := newTestHandlers(t)

	t.Run("sender", func(t *testing.T) {
		rows := runTool[[]struct {
			Key   string `json:"key"`
			Count int    `json:"count"`
		}](t, ToolAggregate, h.aggregate, map[string]any{"group_by": "sender"})
		if len(rows) != 3 {
			t.Fatalf("expected 3 senders, got %d", len(rows))
		}
	})

	t.Run("label", func(t *testing.T) {
		rows := runTool[[]struct {
			Key   string `json:"key"`
			Count int    `json:"count"`
		}](t, ToolAggregate, h.aggregate, map[string]any{"group_by": "label"})
		byKey := map[string]int{}
		for _, r := range rows {
			byKey[r.Key] = r.Count
		}
		if byKey["INBOX"] != 3 || byKey["UNREAD"] != 1 {
			t.Fatalf("unexpected label counts: %v", byKey)
		}
	})

	t.Run("month", func(t *testing.T) {
		rows := runTool[[]struct {
			Key   string `json:"key"`
			Count int    `json:"count"`
		}](t, ToolAggregate, h.aggregate, map[string]any{"group_by": "month"})
		if len(rows) != 1 || rows[0].Count != 3 {
			t.Fatalf("unexpected month counts: %+v", rows)
		}
	})

	errorCases := []struct {
		name string
		args map[string]any
	}{
		{"invalid group_by", map[string]any{"group_by": "invalid"}},
		{"missing group_by", map[string]any{}},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			runToolExpectError(t, ToolAggregate, h.aggregate, tt.args)
		})
	}
}

func TestLimitArgClamping(t *testing.T) {
	tests := []struct {
		name string
		val  float64
		want int
	}{
		{"negative clamped to 0", -5, 0},
		{"zero stays zero", 0, 0},
		{"normal value", 50, 50},
		{"above max clamped", 5000, maxLimit},
		{"NaN clamped to 0", math.NaN(), 0},
		{"Inf clamped", math.Inf(1), maxLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := limitArg(map[string]any{"x": tt.val}, "x", 20)
			if got != tt.want {
				t.Fatalf("limitArg(%v) = %d, want %d", tt.val, got, tt.want)
			}
		})
	}
}
