package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mailsift/mailsift/internal/enrich"
	"github.com/mailsift/mailsift/internal/ingest"
	"github.com/mailsift/mailsift/internal/store"
)

// ErrSyncInProgress rejects a second sync while one is running.
var ErrSyncInProgress = errors.New("sync already in progress")

const (
	maxEvents       = 200
	defaultInterval = 30 * time.Second
	autoSyncPoll    = 10 * time.Second
	eventTimeFormat = "2006-01-02T15:04:05.000000Z07:00"
)

// Keys the analytics endpoints cache under; a sync makes them all stale.
var syncCacheKeys = []string{
	"overview", "senders", "categories", "alerts", "eda",
	"expenses_overview", "expenses_tx",
}

// numfmt renders counts with thousands separators for the event feed.
var numfmt = message.NewPrinter(language.English)

// SyncEngine runs sync passes against the mailbox.
type SyncEngine interface {
	FullSync(ctx context.Context, opts ingest.FullSyncOptions) (int, error)
	IncrementalSync(ctx context.Context) (*ingest.Summary, error)
}

// Enricher runs the LLM extraction stage over email records.
type Enricher interface {
	ProcessBatch(ctx context.Context, records []enrich.Record, progress func(done, total int)) (map[string]enrich.Result, error)
}

// Event is one line of the sync feed.
type Event struct {
	TS  string `json:"ts"`
	Msg string `json:"msg"`
}

// RunStatus is a snapshot of the current (or last) sync run.
type RunStatus struct {
	IsSyncing bool    `json:"is_syncing"`
	Synced    int     `json:"synced"`
	Total     int     `json:"total"`
	Pct       float64 `json:"pct"`
	Error     string  `json:"error"`
}

// AutoSyncState reports the schedule for background incremental syncs.
type AutoSyncState struct {
	Enabled       bool    `json:"enabled"`
	IntervalHours float64 `json:"interval_hours"`
	NextRun       string  `json:"next_run,omitempty"`
}

// FullOptions scopes a requested full sync. DaysAgo of zero or less means
// all mail.
type FullOptions struct {
	Query     string
	MaxEmails int
	DaysAgo   int
}

// Runner serializes sync and enrichment runs over one store and keeps the
// event feed the dashboard polls. At most one sync and one LLM pass run at
// a time; starting either is non-blocking.
type Runner struct {
	engine   SyncEngine
	enricher Enricher
	store    *store.Store
	cache    *Cache
	logger   *slog.Logger

	// Now is the clock used for event stamps and the auto-sync schedule.
	Now func() time.Time

	mu      sync.Mutex
	syncing bool
	synced  int
	total   int
	runErr  string
	events  []Event

	autoEnabled  bool
	autoInterval time.Duration
	autoNext     time.Time

	llmMu      sync.Mutex
	llmRunning bool
	llmDone    int
	llmTotal   int
	llmErr     string
}

// New returns a runner with auto-sync enabled on the default interval.
// A nil cache gets a private one.
func New(engine SyncEngine, enricher Enricher, st *store.Store, cache *Cache) *Runner {
	if cache == nil {
		cache = NewCache(0)
	}
	r := &Runner{
		engine:       engine,
		enricher:     enricher,
		store:        st,
		cache:        cache,
		logger:       slog.Default(),
		Now:          time.Now,
		autoEnabled:  true,
		autoInterval: defaultInterval,
	}
	r.autoNext = r.Now().Add(r.autoInterval)
	return r
}

// WithLogger sets the logger and returns the runner.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithInterval sets the auto-sync interval and re-arms the next run.
// Non-positive durations keep the default.
func (r *Runner) WithInterval(d time.Duration) *Runner {
	if d > 0 {
		r.mu.Lock()
		r.autoInterval = d
		r.autoNext = r.Now().Add(d)
		r.mu.Unlock()
	}
	return r
}

// Cache exposes the runner's cache so handlers can memo through it.
func (r *Runner) Cache() *Cache {
	return r.cache
}

func (r *Runner) pushEvent(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{TS: r.Now().UTC().Format(eventTimeFormat), Msg: msg})
	if len(r.events) > maxEvents {
		r.events = r.events[len(r.events)-maxEvents:]
	}
}

// Events returns the feed, filtered to stamps strictly after the given one
// when it is non-empty, plus whether a sync is running.
func (r *Runner) Events(after string) ([]Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if after == "" || e.TS > after {
			out = append(out, e)
		}
	}
	return out, r.syncing
}

// IsSyncing reports whether a sync run is active.
func (r *Runner) IsSyncing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncing
}

// Progress snapshots the current run. Pct is rounded to one decimal.
func (r *Runner) Progress() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := RunStatus{IsSyncing: r.syncing, Synced: r.synced, Total: r.total, Error: r.runErr}
	if r.total > 0 {
		s.Pct = math.Round(float64(r.synced)/float64(r.total)*1000) / 10
	}
	return s
}

// beginRun claims the sync slot, resets run state and the event feed, and
// posts the opening event.
func (r *Runner) beginRun(startMsg string) error {
	r.mu.Lock()
	if r.syncing {
		r.mu.Unlock()
		return ErrSyncInProgress
	}
	r.syncing = true
	r.synced, r.total = 0, 0
	r.runErr = ""
	r.events = nil
	r.mu.Unlock()

	r.cache.Invalidate(syncCacheKeys...)
	r.pushEvent(startMsg)
	return nil
}

func (r *Runner) finishRun() {
	r.cache.Invalidate(syncCacheKeys...)
	r.mu.Lock()
	r.syncing = false
	r.mu.Unlock()
}

func (r *Runner) failRun(err error) {
	r.mu.Lock()
	r.runErr = err.Error()
	r.mu.Unlock()
	r.pushEvent("ERROR: " + err.Error())
}

// StartFull launches a full sync in the background. ErrSyncInProgress when
// one is already running.
func (r *Runner) StartFull(opts FullOptions) error {
	if err := r.beginRun("Sync started"); err != nil {
		return err
	}
	go r.runFull(opts)
	return nil
}

func (r *Runner) runFull(opts FullOptions) {
	defer r.finishRun()

	maxEmails := opts.MaxEmails
	if maxEmails <= 0 {
		maxEmails = ingest.DefaultMaxEmails
	}
	r.pushEvent("Syncing labels…")
	if opts.DaysAgo > 0 {
		r.pushEvent(fmt.Sprintf("Fetching message list (last %d days, max %s)…",
			opts.DaysAgo, numfmt.Sprintf("%d", maxEmails)))
	} else {
		r.pushEvent(fmt.Sprintf("Fetching message list (all mail, max %s)…",
			numfmt.Sprintf("%d", maxEmails)))
	}

	count, err := r.engine.FullSync(context.Background(), ingest.FullSyncOptions{
		Query:     opts.Query,
		MaxEmails: opts.MaxEmails,
		DaysAgo:   opts.DaysAgo,
		Progress:  r.onProgress,
	})
	if err != nil {
		r.failRun(err)
		return
	}
	r.pushEvent(fmt.Sprintf("Done — %s emails synced successfully", numfmt.Sprintf("%d", count)))
}

// onProgress records counters and posts a batch event. The engine's
// priming call with zero synced only seeds the totals.
func (r *Runner) onProgress(synced, total int) {
	r.mu.Lock()
	r.synced, r.total = synced, total
	r.mu.Unlock()
	if synced == 0 {
		return
	}
	pct := 0
	if total > 0 {
		pct = synced * 100 / total
	}
	r.pushEvent(fmt.Sprintf("Batch complete — %s / %s emails (%d%%)",
		numfmt.Sprintf("%d", synced), numfmt.Sprintf("%d", total), pct))
}

// StartIncremental launches an incremental sync in the background.
// ErrSyncInProgress when one is already running.
func (r *Runner) StartIncremental() error {
	if err := r.beginRun("Incremental sync started"); err != nil {
		return err
	}
	go r.runIncremental()
	return nil
}

func (r *Runner) runIncremental() {
	defer r.finishRun()

	sum, err := r.engine.IncrementalSync(context.Background())
	if err != nil {
		r.failRun(err)
		if strings.Contains(err.Error(), "invalid_grant") {
			r.pauseAutoSync()
		}
		return
	}
	suffix := ""
	if sum.Fallback {
		suffix = " [fallback: 7-day sync]"
	}
	r.pushEvent(fmt.Sprintf("Done — +%s new, -%s deleted, %s metadata refreshed%s",
		numfmt.Sprintf("%d", sum.Added), numfmt.Sprintf("%d", sum.Deleted),
		numfmt.Sprintf("%d", sum.Refreshed), suffix))
}

// pauseAutoSync disables the schedule after a revoked token. OnLogin
// re-enables it.
func (r *Runner) pauseAutoSync() {
	r.mu.Lock()
	r.autoEnabled = false
	r.autoNext = time.Time{}
	r.mu.Unlock()
	r.logger.Warn("auto sync paused by invalid_grant, will resume after next login")
	r.pushEvent("Auto sync paused — token expired. Log out and log back in to resume.")
}

// SetAutoSync toggles the schedule. Enabling arms the next run one
// interval out.
func (r *Runner) SetAutoSync(enabled bool) AutoSyncState {
	r.mu.Lock()
	r.autoEnabled = enabled
	if enabled {
		r.autoNext = r.Now().Add(r.autoInterval)
	} else {
		r.autoNext = time.Time{}
	}
	r.mu.Unlock()
	r.logger.Info("auto sync toggled", "enabled", enabled)
	return r.AutoSyncStatus()
}

// AutoSyncStatus reports the schedule.
func (r *Runner) AutoSyncStatus() AutoSyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := AutoSyncState{Enabled: r.autoEnabled, IntervalHours: r.autoInterval.Hours()}
	if !r.autoNext.IsZero() {
		s.NextRun = r.autoNext.UTC().Format(time.RFC3339)
	}
	return s
}

// RunAutoSync drives scheduled incremental syncs until ctx is done,
// polling every ten seconds.
func (r *Runner) RunAutoSync(ctx context.Context) {
	ticker := time.NewTicker(autoSyncPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Runner) tick() {
	r.mu.Lock()
	if !r.autoEnabled || r.syncing || r.autoNext.IsZero() || r.Now().Before(r.autoNext) {
		r.mu.Unlock()
		return
	}
	r.autoNext = r.Now().Add(r.autoInterval)
	r.mu.Unlock()

	r.logger.Info("auto sync firing scheduled incremental")
	if err := r.StartIncremental(); err != nil {
		r.logger.Warn("auto sync skipped", "error", err)
	}
}

// OnLogin fires after a successful sign-in: one incremental sync when a
// history checkpoint exists, and the auto-sync schedule comes back if a
// token failure paused it.
func (r *Runner) OnLogin() {
	state, err := r.store.GetSyncState(context.Background())
	switch {
	case err != nil:
		r.logger.Warn("login sync skipped", "error", err)
	case state.LastHistoryID > 0:
		r.logger.Info("login triggered incremental sync")
		if err := r.StartIncremental(); err != nil {
			r.logger.Warn("login sync skipped", "error", err)
		}
	default:
		r.logger.Info("login sync skipped, no history checkpoint yet")
	}

	r.mu.Lock()
	if !r.autoEnabled {
		r.autoEnabled = true
		r.autoNext = r.Now().Add(r.autoInterval)
		r.logger.Info("auto sync re-enabled after login")
	}
	r.mu.Unlock()
}
