package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailsift/mailsift/internal/categorize"
)

type fakeCaller struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (f *fakeCaller) Call(_ context.Context, prompt string, _ time.Duration) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.reply(prompt)
}

func (f *fakeCaller) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// promptIDs pulls the EMAIL_ID lines back out of a prompt.
func promptIDs(prompt string) []string {
	var ids []string
	for _, line := range strings.Split(prompt, "\n") {
		if id, ok := strings.CutPrefix(line, "EMAIL_ID: "); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// echoAll replies with a well-formed item for every id in the prompt.
func echoAll(category string) func(string) (string, error) {
	return func(prompt string) (string, error) {
		var items []string
		for _, id := range promptIDs(prompt) {
			items = append(items, fmt.Sprintf(
				`{"id":%q,"category":%q,"action_items":[],"spending":{"is_transaction":false,"transactions":[]}}`,
				id, category))
		}
		return "[" + strings.Join(items, ",") + "]", nil
	}
}

func newTestExtractor(t *testing.T, caller Caller) *Extractor {
	t.Helper()
	cat, err := categorize.New(t.TempDir())
	if err != nil {
		t.Fatalf("categorize.New() error = %v", err)
	}
	return NewExtractor(caller, cat, nil)
}

func testRecords(n int) []Record {
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%d", i+1)
		records = append(records, Record{
			ID:      id,
			Subject: "Subject " + id,
			Sender:  "someone@example.com",
			Snippet: "snippet",
			Meta:    categorize.Input{Sender: "someone@example.com", Subject: "Subject " + id},
		})
	}
	return records
}

func TestProcessBatch_ParsesResponse(t *testing.T) {
	caller := &fakeCaller{reply: func(prompt string) (string, error) {
		return `Here are the results:
[
  {"id":"m1","category":"Money","action_items":[{"action":"Pay the bill","deadline":"2025-04-01","urgency":"high"}],
   "spending":{"is_transaction":true,"transactions":[{"amount":15.49,"currency":"USD","merchant":"Netflix","merchant_category":"Streaming","transaction_type":"subscription","is_recurring":true,"recurrence_period":"monthly"}]}},
  {"id":"m2","category":"Other","action_items":[],"spending":{"is_transaction":false,"transactions":[]}}
]`, nil
	}}
	x := newTestExtractor(t, caller)

	results, err := x.ProcessBatch(context.Background(), testRecords(2), nil)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	m1 := results["m1"]
	if m1.Category != "Money" {
		t.Errorf("m1 category = %q, want Money", m1.Category)
	}
	if len(m1.ActionItems) != 1 || m1.ActionItems[0].Action != "Pay the bill" || m1.ActionItems[0].Urgency != "high" {
		t.Errorf("m1 action items = %+v", m1.ActionItems)
	}
	if !m1.Spending.IsTransaction || len(m1.Spending.Transactions) != 1 {
		t.Fatalf("m1 spending = %+v", m1.Spending)
	}
	tx := m1.Spending.Transactions[0]
	if tx.Amount != 15.49 || tx.Merchant != "Netflix" || tx.RecurrencePeriod != "monthly" || !tx.IsRecurring {
		t.Errorf("m1 transaction = %+v", tx)
	}

	m2 := results["m2"]
	if m2.Category != "Other" || len(m2.ActionItems) != 0 || len(m2.Spending.Transactions) != 0 {
		t.Errorf("m2 = %+v", m2)
	}
}

func TestProcessBatch_InvalidCategoryFallsBack(t *testing.T) {
	caller := &fakeCaller{reply: func(prompt string) (string, error) {
		return `[{"id":"m1","category":"Made Up Category","action_items":[],"spending":{"is_transaction":false,"transactions":[]}}]`, nil
	}}
	x := newTestExtractor(t, caller)

	records := []Record{{
		ID:      "m1",
		Subject: "Case update",
		Sender:  "noreply@uscis.gov",
		Meta:    categorize.Input{Sender: "noreply@uscis.gov", Subject: "Case update"},
	}}
	results, err := x.ProcessBatch(context.Background(), records, nil)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if got := results["m1"].Category; got != categorize.Immigration {
		t.Errorf("category = %q, want heuristic %q", got, categorize.Immigration)
	}
}

func TestProcessBatch_MissingIDFallsBack(t *testing.T) {
	caller := &fakeCaller{reply: func(prompt string) (string, error) {
		return `[{"id":"m1","category":"Other","action_items":[{"action":"x"}],"spending":{"is_transaction":false,"transactions":[]}}]`, nil
	}}
	x := newTestExtractor(t, caller)

	results, err := x.ProcessBatch(context.Background(), testRecords(2), nil)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	m2, ok := results["m2"]
	if !ok {
		t.Fatal("m2 missing from results")
	}
	if m2.Category == "" || len(m2.ActionItems) != 0 || len(m2.Spending.Transactions) != 0 {
		t.Errorf("m2 = %+v, want heuristic category with empty extras", m2)
	}
}

func TestProcessBatch_CallErrorDowngradesChunk(t *testing.T) {
	caller := &fakeCaller{reply: func(prompt string) (string, error) {
		return "", errors.New("model unavailable")
	}}
	x := newTestExtractor(t, caller)

	records := []Record{{
		ID:   "m1",
		Meta: categorize.Input{Sender: "news@tldrnewsletter.com"},
	}}
	results, err := x.ProcessBatch(context.Background(), records, nil)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	m1 := results["m1"]
	if m1.Category != categorize.AITech {
		t.Errorf("category = %q, want heuristic %q", m1.Category, categorize.AITech)
	}
	if m1.ActionItems == nil || m1.Spending.Transactions == nil {
		t.Error("heuristic result has nil slices")
	}
}

func TestProcessBatch_NoArrayDowngradesChunk(t *testing.T) {
	caller := &fakeCaller{reply: func(prompt string) (string, error) {
		return "I could not process these emails.", nil
	}}
	x := newTestExtractor(t, caller)

	results, err := x.ProcessBatch(context.Background(), testRecords(1), nil)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if results["m1"].Category == "" {
		t.Error("missing heuristic category after unparseable response")
	}
}

func TestProcessBatch_ChunksAndProgress(t *testing.T) {
	caller := &fakeCaller{reply: echoAll("Other")}
	x := newTestExtractor(t, caller)

	var mu sync.Mutex
	var lastDone int
	progress := func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if done > lastDone {
			lastDone = done
		}
		if total != 100 {
			t.Errorf("progress total = %d, want 100", total)
		}
	}

	results, err := x.ProcessBatch(context.Background(), testRecords(100), progress)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(results) != 100 {
		t.Errorf("got %d results, want 100", len(results))
	}
	if got := caller.calls(); got != 3 {
		t.Errorf("model calls = %d, want 3 chunks of 40/40/20", got)
	}
	if lastDone != 100 {
		t.Errorf("final progress = %d, want 100", lastDone)
	}
}

func TestProcessBatch_Empty(t *testing.T) {
	caller := &fakeCaller{reply: echoAll("Other")}
	x := newTestExtractor(t, caller)

	results, err := x.ProcessBatch(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(results) != 0 || caller.calls() != 0 {
		t.Errorf("results = %d, calls = %d, want none", len(results), caller.calls())
	}
}

func TestBuildPrompt(t *testing.T) {
	records := []Record{
		{ID: "m1", Subject: "Hello", Sender: "a@example.com", Snippet: strings.Repeat("s", 500)},
		{ID: "m2", Subject: "World", Sender: "b@example.com", Snippet: "short"},
	}
	prompt := buildPrompt([]string{"Money", "Other"}, records)

	if !strings.Contains(prompt, "Today is "+time.Now().Format("2006-01-02")) {
		t.Error("prompt missing today's date")
	}
	if !strings.Contains(prompt, "Categorize into exactly one of: Money, Other") {
		t.Error("prompt missing category list")
	}
	if !strings.Contains(prompt, "EMAIL_ID: m1\n") || !strings.Contains(prompt, "EMAIL_ID: m2\n") {
		t.Error("prompt missing email blocks")
	}
	if strings.Contains(prompt, strings.Repeat("s", 401)) {
		t.Error("snippet not truncated to 400 runes")
	}
	if !strings.Contains(prompt, strings.Repeat("s", 400)) {
		t.Error("truncated snippet missing")
	}
	if !strings.Contains(prompt, "Return ONLY a JSON array, no markdown:") {
		t.Error("prompt missing output contract")
	}
}

func TestParseResponse(t *testing.T) {
	raw := "```json\n[{\"id\":\"m1\",\"category\":\"Money\"}]\n```"
	parsed, err := parseResponse(raw)
	if err != nil {
		t.Fatalf("parseResponse() error = %v", err)
	}
	if parsed["m1"].Category != "Money" {
		t.Errorf("parsed = %+v", parsed)
	}

	if _, err := parseResponse("no json here"); err == nil {
		t.Error("expected error without an array")
	}
	if _, err := parseResponse("[{broken"); err == nil {
		t.Error("expected error for truncated array")
	}
}

func TestPatches(t *testing.T) {
	records := []Record{{ID: "m1"}, {ID: "m2"}}
	results := map[string]Result{
		"m1": {
			Category:    "Money",
			ActionItems: []ActionItem{{Action: "Pay rent", Deadline: "2025-04-01", Urgency: "high"}},
			Spending: Spending{IsTransaction: true, Transactions: []Transaction{
				{Amount: 9.99, Currency: "USD", Merchant: "Spotify"},
			}},
		},
		// m2 intentionally absent: a failed run still marks the email
		// processed with empty extras.
	}

	patches, err := Patches(records, results)
	if err != nil {
		t.Fatalf("Patches() error = %v", err)
	}
	if len(patches) != 2 {
		t.Fatalf("got %d patches, want 2", len(patches))
	}

	p1 := patches[0]
	if p1.GmailID != "m1" || !*p1.ActionsExtracted || !*p1.HasActionItems || !*p1.HasTransactions {
		t.Errorf("p1 flags = %+v", p1)
	}
	if p1.Category == nil || *p1.Category != "Money" || p1.LLMCategorized == nil || !*p1.LLMCategorized {
		t.Errorf("p1 category fields = %+v", p1)
	}
	var items []ActionItem
	if err := json.Unmarshal([]byte(*p1.ActionItemsJSON), &items); err != nil || len(items) != 1 {
		t.Errorf("p1 action items json = %q", *p1.ActionItemsJSON)
	}
	var sp Spending
	if err := json.Unmarshal([]byte(*p1.SpendingJSON), &sp); err != nil || len(sp.Transactions) != 1 {
		t.Errorf("p1 spending json = %q", *p1.SpendingJSON)
	}

	p2 := patches[1]
	if !*p2.ActionsExtracted || *p2.HasActionItems || *p2.HasTransactions {
		t.Errorf("p2 flags = %+v", p2)
	}
	if p2.Category != nil || p2.LLMCategorized != nil {
		t.Error("p2 should not touch the category")
	}
	if *p2.ActionItemsJSON != "[]" {
		t.Errorf("p2 action items json = %q, want []", *p2.ActionItemsJSON)
	}
	if *p2.SpendingJSON != `{"is_transaction":false,"transactions":[]}` {
		t.Errorf("p2 spending json = %q", *p2.SpendingJSON)
	}
}

var _ Caller = (*fakeCaller)(nil)
