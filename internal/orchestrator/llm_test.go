package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mailsift/mailsift/internal/store"
)

func waitLLMIdle(t *testing.T, r *Runner) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !r.LLMStatus().IsRunning {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("llm processing did not finish")
}

func seedLLMEmails(t *testing.T, st *store.Store) {
	t.Helper()
	err := st.UpsertEmailsBatch(context.Background(), []*store.Email{
		{
			GmailID:  "pending",
			ThreadID: "t1",
			Subject:  "Sign the lease",
			Sender:   "agent@realty.com",
			Snippet:  "short snippet",
			Document: "please sign the lease by friday",
		},
		{
			GmailID:          "done",
			ThreadID:         "t2",
			Subject:          "Old receipt",
			Sender:           "shop@example.com",
			ActionsExtracted: true,
		},
	})
	if err != nil {
		t.Fatalf("seed emails: %v", err)
	}
}

func TestStartLLMProcess(t *testing.T) {
	enr := &fakeEnricher{}
	r, st := newTestRunner(t, &fakeEngine{}, enr)
	seedLLMEmails(t, st)
	ctx := context.Background()

	if err := r.StartLLMProcess(false); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitLLMIdle(t, r)

	status := r.LLMStatus()
	if status.Total != 1 || status.Processed != 1 || status.Error != "" {
		t.Errorf("status = %+v", status)
	}
	if len(enr.records) != 1 || enr.records[0].ID != "pending" {
		t.Fatalf("enricher got %+v, want only the unprocessed email", enr.records)
	}
	if enr.records[0].Snippet != "please sign the lease by friday" {
		t.Errorf("record snippet = %q, want the stored document", enr.records[0].Snippet)
	}

	e, err := st.GetEmail(ctx, "pending", false)
	if err != nil {
		t.Fatalf("get email: %v", err)
	}
	if !e.ActionsExtracted || !e.HasActionItems || !e.LLMCategorized {
		t.Errorf("flags not patched: %+v", e)
	}
	if e.Category != "Personal" {
		t.Errorf("category = %q", e.Category)
	}
	if !strings.Contains(e.ActionItemsJSON, "reply to pending") {
		t.Errorf("action items = %q", e.ActionItemsJSON)
	}

	skipped, err := st.GetEmail(ctx, "done", false)
	if err != nil {
		t.Fatalf("get email: %v", err)
	}
	if skipped.ActionItemsJSON != "" {
		t.Errorf("already-processed email was patched: %q", skipped.ActionItemsJSON)
	}
}

func TestStartLLMProcess_Force(t *testing.T) {
	enr := &fakeEnricher{}
	r, st := newTestRunner(t, &fakeEngine{}, enr)
	seedLLMEmails(t, st)

	if err := r.StartLLMProcess(true); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitLLMIdle(t, r)

	if status := r.LLMStatus(); status.Total != 2 {
		t.Errorf("forced total = %d, want 2", status.Total)
	}
	if len(enr.records) != 2 {
		t.Errorf("enricher got %d records, want 2", len(enr.records))
	}
}

func TestStartLLMProcess_RejectsConcurrent(t *testing.T) {
	enr := &fakeEnricher{block: make(chan struct{})}
	r, st := newTestRunner(t, &fakeEngine{}, enr)
	seedLLMEmails(t, st)

	if err := r.StartLLMProcess(false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.StartLLMProcess(false); !errors.Is(err, ErrLLMInProgress) {
		t.Errorf("second start = %v, want ErrLLMInProgress", err)
	}
	close(enr.block)
	waitLLMIdle(t, r)
}

func TestStartLLMProcess_Error(t *testing.T) {
	enr := &fakeEnricher{err: errors.New("model offline")}
	r, st := newTestRunner(t, &fakeEngine{}, enr)
	seedLLMEmails(t, st)

	if err := r.StartLLMProcess(false); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitLLMIdle(t, r)

	if status := r.LLMStatus(); status.Error != "model offline" {
		t.Errorf("status error = %q", status.Error)
	}
	events, _ := r.Events("")
	if len(events) != 1 || events[0].Msg != "ERROR: model offline" {
		t.Errorf("events = %v", eventMsgs(events))
	}
}

func TestStartLLMProcess_NothingToDo(t *testing.T) {
	r, _ := newTestRunner(t, &fakeEngine{}, &fakeEnricher{})

	if err := r.StartLLMProcess(false); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitLLMIdle(t, r)

	status := r.LLMStatus()
	if status.Total != 0 || status.Error != "" {
		t.Errorf("status = %+v", status)
	}
}
