package orchestrator

import (
	"context"
	"errors"

	"github.com/mailsift/mailsift/internal/enrich"
	"github.com/mailsift/mailsift/internal/store"
)

// ErrLLMInProgress rejects a second enrichment pass while one is running.
var ErrLLMInProgress = errors.New("llm processing already in progress")

// Enrichment stales a smaller key set than a sync does.
var llmCacheKeys = []string{
	"alerts", "overview", "categories", "expenses_overview", "expenses_tx",
}

// LLMStatus is a snapshot of the enrichment pass.
type LLMStatus struct {
	IsRunning bool   `json:"is_running"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Error     string `json:"error"`
}

// LLMStatus snapshots the enrichment state.
func (r *Runner) LLMStatus() LLMStatus {
	r.llmMu.Lock()
	defer r.llmMu.Unlock()
	return LLMStatus{IsRunning: r.llmRunning, Processed: r.llmDone, Total: r.llmTotal, Error: r.llmErr}
}

// StartLLMProcess launches the enrichment pass over stored emails that
// lack extraction results, or over everything when force is set.
// ErrLLMInProgress when a pass is already running.
func (r *Runner) StartLLMProcess(force bool) error {
	r.llmMu.Lock()
	if r.llmRunning {
		r.llmMu.Unlock()
		return ErrLLMInProgress
	}
	r.llmRunning = true
	r.llmDone, r.llmTotal = 0, 0
	r.llmErr = ""
	r.llmMu.Unlock()

	go r.runLLM(force)
	return nil
}

func (r *Runner) runLLM(force bool) {
	defer func() {
		r.llmMu.Lock()
		r.llmRunning = false
		r.llmMu.Unlock()
	}()
	ctx := context.Background()

	emails, err := r.store.GetEmails(ctx, store.Filter{}, 0, 0, true)
	if err != nil {
		r.failLLM(err)
		return
	}
	var records []enrich.Record
	for _, e := range emails {
		if !force && e.ActionsExtracted {
			continue
		}
		rec := enrich.RecordFromEmail(e)
		// The indexed document reads better than the short snippet when
		// we have it.
		if e.Document != "" {
			rec.Snippet = e.Document
		}
		records = append(records, rec)
	}
	total := len(records)
	r.llmMu.Lock()
	r.llmTotal = total
	r.llmMu.Unlock()

	r.logger.Info("llm processing started", "emails", total, "forced", force)
	if total == 0 {
		r.logger.Info("llm processing found nothing to do")
		return
	}

	results, err := r.enricher.ProcessBatch(ctx, records, func(done, _ int) {
		r.llmMu.Lock()
		r.llmDone = done
		r.llmMu.Unlock()
	})
	if err != nil {
		r.failLLM(err)
		return
	}
	patches, err := enrich.Patches(records, results)
	if err != nil {
		r.failLLM(err)
		return
	}
	if err := r.store.ApplyMetadataPatches(ctx, patches); err != nil {
		r.failLLM(err)
		return
	}
	r.llmMu.Lock()
	r.llmDone = total
	r.llmMu.Unlock()
	r.cache.Invalidate(llmCacheKeys...)

	withActions, withTx := 0, 0
	for _, res := range results {
		if len(res.ActionItems) > 0 {
			withActions++
		}
		if len(res.Spending.Transactions) > 0 {
			withTx++
		}
	}
	r.logger.Info("llm processing done",
		"emails", total, "with_action_items", withActions, "with_transactions", withTx)
}

// failLLM records the error on the LLM state and surfaces it on the sync
// event feed, which is the stream the dashboard watches.
func (r *Runner) failLLM(err error) {
	r.llmMu.Lock()
	r.llmErr = err.Error()
	r.llmMu.Unlock()
	r.logger.Error("llm processing failed", "error", err)
	r.pushEvent("ERROR: " + err.Error())
}
