package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailsift/mailsift/internal/store"
)

// baseQuery excludes mail the account no longer wants. Applied to every
// full sync on top of the caller's query.
const baseQuery = "-in:trash -in:spam"

// DefaultMaxEmails caps a full sync's listing when no limit is given.
const DefaultMaxEmails = 100000

// FullSyncOptions scopes a full sync run.
type FullSyncOptions struct {
	// Query is extra Gmail search syntax ANDed with the base query.
	Query string
	// MaxEmails caps how many messages are listed. Zero means the default.
	MaxEmails int
	// LabelIDs restricts the listing to messages carrying all of them.
	LabelIDs []string

	// Time bounds, combined by BuildTimeQuery. DaysAgo overrides After.
	After     time.Time
	Before    time.Time
	NewerThan string
	OlderThan string
	DaysAgo   int

	// Progress, when set, is called after each chunk with the running
	// synced count and the listed total. It is also called once up front
	// with (0, total).
	Progress func(synced, total int)
}

// FullSync lists matching messages, ingests the ones not already stored,
// and reconciles deletions within the synced range. Returns how many
// messages the run covered, counting both newly stored and already-present
// ones.
func (p *Pipeline) FullSync(ctx context.Context, opts FullSyncOptions) (int, error) {
	maxEmails := opts.MaxEmails
	if maxEmails <= 0 {
		maxEmails = DefaultMaxEmails
	}
	query := BuildTimeQuery(strings.TrimSpace(baseQuery+" "+opts.Query),
		opts.After, opts.Before, opts.NewerThan, opts.OlderThan, opts.DaysAgo)
	startedAt := time.Now().UTC()

	p.logger.Info("full sync started", "query", query, "max_emails", maxEmails)

	if _, err := p.SyncLabels(ctx); err != nil {
		return 0, err
	}

	stubs, err := p.listStubs(ctx, query, opts.LabelIDs, maxEmails)
	if err != nil {
		return 0, err
	}
	total := len(stubs)
	p.logger.Info("message list fetched", "messages", total)
	if opts.Progress != nil {
		opts.Progress(0, total)
	}

	labelMap, err := p.store.LabelMap(ctx)
	if err != nil {
		return 0, fmt.Errorf("load label map: %w", err)
	}

	var totalSynced int
	var failedIDs []string
	for start := 0; start < total; start += p.opts.BatchSize {
		end := min(start+p.opts.BatchSize, total)
		chunk := stubs[start:end]

		existing, err := p.store.ExistingIDs(ctx, chunk)
		if err != nil {
			return totalSynced, fmt.Errorf("check existing ids: %w", err)
		}
		newIDs := make([]string, 0, len(chunk))
		for _, id := range chunk {
			if !existing[id] {
				newIDs = append(newIDs, id)
			}
		}
		if len(newIDs) == 0 {
			totalSynced += len(chunk)
			if opts.Progress != nil {
				opts.Progress(totalSynced, total)
			}
			continue
		}

		stored, failed, err := p.ingestBatch(ctx, newIDs, labelMap)
		if err != nil {
			return totalSynced, err
		}
		if len(failed) > 0 {
			failedIDs = append(failedIDs, failed...)
			p.logger.Warn("some messages failed to fetch",
				"failed", len(failed), "batch_start", start)
		}

		totalSynced += stored + len(existing)
		p.logger.Info("batch complete",
			"stored", stored, "skipped", len(existing),
			"synced", totalSynced, "total", total)
		if opts.Progress != nil {
			opts.Progress(totalSynced, total)
		}
	}

	deleted, err := p.reconcileDeletions(ctx, stubs, opts.DaysAgo, startedAt)
	if err != nil {
		return totalSynced, err
	}

	// The history id checkpoint is best-effort: a full sync is still
	// complete without one, incremental sync just needs another run.
	var historyID uint64
	if profile, err := p.client.GetProfile(ctx); err != nil {
		p.logger.Warn("could not fetch profile for history checkpoint", "error", err)
	} else {
		historyID = profile.HistoryID
	}
	if err := p.store.UpdateSyncState(ctx, historyID, time.Now().UTC(), totalSynced); err != nil {
		return totalSynced, fmt.Errorf("update sync state: %w", err)
	}

	if len(failedIDs) > 0 {
		p.logger.Warn("full sync finished with failures",
			"synced", totalSynced, "deleted", deleted, "failed_ids", failedIDs)
	} else {
		p.logger.Info("full sync finished", "synced", totalSynced, "deleted", deleted)
	}
	return totalSynced, nil
}

// listStubs pages through the message list until maxEmails ids are
// collected or the listing ends.
func (p *Pipeline) listStubs(ctx context.Context, query string, labelIDs []string, maxEmails int) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		remaining := maxEmails - len(ids)
		if remaining <= 0 {
			break
		}
		resp, err := p.client.ListMessages(ctx, query, labelIDs, pageToken, int64(remaining))
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.ID)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	if len(ids) > maxEmails {
		ids = ids[:maxEmails]
	}
	return ids, nil
}

// reconcileDeletions removes stored emails the listing no longer returned.
// With a DaysAgo bound only emails dated inside the window are candidates;
// otherwise every stored email is, so a capped listing should pass a bound.
func (p *Pipeline) reconcileDeletions(ctx context.Context, remoteIDs []string, daysAgo int, now time.Time) (int, error) {
	remote := make(map[string]bool, len(remoteIDs))
	for _, id := range remoteIDs {
		remote[id] = true
	}

	var f store.Filter
	if daysAgo > 0 {
		f.DateFrom = now.Add(-time.Duration(daysAgo) * 24 * time.Hour).Unix()
	}
	localIDs, err := p.store.AllIDs(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("list stored ids: %w", err)
	}

	var toDelete []string
	for _, id := range localIDs {
		if !remote[id] {
			toDelete = append(toDelete, id)
		}
	}
	if len(toDelete) == 0 {
		return 0, nil
	}
	if err := p.deleteEmails(ctx, toDelete); err != nil {
		return 0, err
	}
	p.logger.Info("removed emails deleted upstream", "count", len(toDelete))
	return len(toDelete), nil
}
