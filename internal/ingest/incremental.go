package ingest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/store"
)

// ErrNoHistoryID means no checkpoint exists to resume from.
var ErrNoHistoryID = errors.New("no sync checkpoint - run a full sync first")

// Fallback window when the history checkpoint is unusable (expired or
// otherwise rejected).
const (
	fallbackDays = 7
	fallbackMax  = 500
)

// Summary reports what an incremental sync changed. Fallback is set when
// the history log was unavailable and a bounded full sync ran instead.
type Summary struct {
	Added     int
	Deleted   int
	Refreshed int
	Fallback  bool
}

// IncrementalSync applies the Gmail history log since the last checkpoint:
// deletions first, then label refreshes, then new messages. Any failure to
// read the history log (Gmail retains it for about a week) falls back to a
// bounded full sync.
func (p *Pipeline) IncrementalSync(ctx context.Context) (*Summary, error) {
	state, err := p.store.GetSyncState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	if state.LastHistoryID == 0 {
		return nil, ErrNoHistoryID
	}

	records, err := p.listAllHistory(ctx, state.LastHistoryID)
	if err != nil {
		p.logger.Warn("history unavailable, falling back to bounded full sync",
			"start_history_id", state.LastHistoryID, "error", err)
		count, err := p.FullSync(ctx, FullSyncOptions{MaxEmails: fallbackMax, DaysAgo: fallbackDays})
		if err != nil {
			return nil, err
		}
		return &Summary{Added: count, Fallback: true}, nil
	}

	added := make(map[string]bool)
	deleted := make(map[string]bool)
	labelChanged := make(map[string]bool)
	for _, rec := range records {
		for _, m := range rec.MessagesAdded {
			added[m.Message.ID] = true
		}
		for _, m := range rec.MessagesDeleted {
			deleted[m.Message.ID] = true
		}
		for _, c := range rec.LabelsAdded {
			labelChanged[c.Message.ID] = true
		}
		for _, c := range rec.LabelsRemoved {
			labelChanged[c.Message.ID] = true
		}
	}
	p.logger.Info("history fetched", "records", len(records),
		"added", len(added), "deleted", len(deleted), "label_changed", len(labelChanged))

	// Messages that appeared and vanished inside the window never reach
	// the store, so only pre-existing ones are deleted.
	var toDelete []string
	for id := range deleted {
		if !added[id] {
			toDelete = append(toDelete, id)
		}
	}
	slices.Sort(toDelete)
	if len(toDelete) > 0 {
		if err := p.deleteEmails(ctx, toDelete); err != nil {
			return nil, err
		}
	}

	labelMap, err := p.store.LabelMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("load label map: %w", err)
	}

	var refreshIDs []string
	for id := range labelChanged {
		if !added[id] && !deleted[id] {
			refreshIDs = append(refreshIDs, id)
		}
	}
	slices.Sort(refreshIDs)
	refreshed, err := p.refreshMetadata(ctx, refreshIDs, labelMap)
	if err != nil {
		return nil, err
	}

	var addedCount int
	if len(added) > 0 {
		// History already scopes these to new messages, so no stored-id
		// check; re-fetching an id the store somehow has is an upsert.
		ids := slices.Sorted(maps.Keys(added))
		stored, failed, err := p.ingestBatch(ctx, ids, labelMap)
		if err != nil {
			return nil, err
		}
		if len(failed) > 0 {
			p.logger.Warn("some new messages failed to fetch", "failed_ids", failed)
		}
		addedCount = stored
	}

	// Advance the checkpoint; keep the old one if the profile read fails
	// so the next run replays rather than skips.
	newHistoryID := state.LastHistoryID
	if profile, err := p.client.GetProfile(ctx); err != nil {
		p.logger.Warn("could not fetch profile, retaining history checkpoint", "error", err)
	} else {
		newHistoryID = profile.HistoryID
	}
	if err := p.store.UpdateSyncState(ctx, newHistoryID, time.Now().UTC(), addedCount); err != nil {
		return nil, fmt.Errorf("update sync state: %w", err)
	}

	sum := &Summary{Added: addedCount, Deleted: len(toDelete), Refreshed: refreshed}
	p.logger.Info("incremental sync finished",
		"added", sum.Added, "deleted", sum.Deleted, "refreshed", sum.Refreshed)
	return sum, nil
}

// listAllHistory pages through the history log from startHistoryID.
func (p *Pipeline) listAllHistory(ctx context.Context, startHistoryID uint64) ([]gmail.HistoryRecord, error) {
	var records []gmail.HistoryRecord
	pageToken := ""
	for {
		resp, err := p.client.ListHistory(ctx, startHistoryID, pageToken)
		if err != nil {
			return nil, err
		}
		records = append(records, resp.History...)
		if resp.NextPageToken == "" {
			return records, nil
		}
		pageToken = resp.NextPageToken
	}
}

// refreshMetadata re-reads label state for ids whose labels changed.
// Messages now in trash or spam are deleted locally instead of patched.
func (p *Pipeline) refreshMetadata(ctx context.Context, ids []string, labelMap map[string]string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	msgs, failed, err := p.client.BatchGetMessages(ctx, ids, gmail.FormatMetadata)
	if err != nil {
		return 0, fmt.Errorf("batch get metadata: %w", err)
	}
	if len(failed) > 0 {
		p.logger.Warn("some label refreshes failed to fetch", "failed_ids", failed)
	}

	var trashed []string
	var patches []*store.MetadataPatch
	for _, m := range msgs {
		meta := gmail.ParseMessageMetadata(m)
		if slices.Contains(meta.LabelIDs, "TRASH") || slices.Contains(meta.LabelIDs, "SPAM") {
			trashed = append(trashed, meta.ID)
			continue
		}
		patches = append(patches, &store.MetadataPatch{
			GmailID:   meta.ID,
			Labels:    store.Ptr(labelString(meta.LabelIDs, labelMap)),
			IsRead:    store.Ptr(meta.IsRead),
			IsStarred: store.Ptr(meta.IsStarred),
			HistoryID: store.Ptr(meta.HistoryID),
		})
	}

	if len(trashed) > 0 {
		if err := p.deleteEmails(ctx, trashed); err != nil {
			return 0, err
		}
		p.logger.Info("removed emails moved to trash or spam", "count", len(trashed))
	}
	if err := p.store.ApplyMetadataPatches(ctx, patches); err != nil {
		return 0, fmt.Errorf("apply metadata patches: %w", err)
	}
	return len(patches), nil
}
