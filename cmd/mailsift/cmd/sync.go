package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/categorize"
	"github.com/mailsift/mailsift/internal/enrich"
	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/ingest"
	"github.com/mailsift/mailsift/internal/store"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Incrementally sync new mail from Gmail",
	Long: `Incrementally sync the mailbox using the Gmail history API.

Fetches changes since the last sync checkpoint: new messages, deletions,
and label/read-state updates. When the checkpoint is too old for the
history API, falls back to a 7-day windowed sync.

Run 'sync-full' first to establish the initial mailbox copy.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newSyncEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()

		start := time.Now()
		fmt.Println("Starting incremental sync...")

		sum, err := env.pipeline.IncrementalSync(cmd.Context())
		if err != nil {
			return fmt.Errorf("incremental sync failed: %w", err)
		}

		fmt.Println()
		fmt.Println("Sync complete!")
		fmt.Printf("  Duration:   %s\n", time.Since(start).Round(time.Second))
		fmt.Printf("  Added:      %d\n", sum.Added)
		fmt.Printf("  Deleted:    %d\n", sum.Deleted)
		fmt.Printf("  Refreshed:  %d metadata\n", sum.Refreshed)
		if sum.Fallback {
			fmt.Println("  (History expired; ran 7-day fallback sync)")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

// syncEnv bundles the store, Gmail client, and pipeline a sync command
// needs, with one close call for the lot.
type syncEnv struct {
	store    *store.Store
	client   *gmail.Client
	pipeline *ingest.Pipeline
}

func newSyncEnv(ctx context.Context) (*syncEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	oauthMgr, err := newOAuthManager()
	if err != nil {
		st.Close()
		return nil, err
	}
	tokenSource, err := getTokenSourceWithReauth(ctx, oauthMgr)
	if err != nil {
		st.Close()
		return nil, err
	}

	client := newGmailClient(tokenSource)

	enc, err := newEncoder()
	if err != nil {
		st.Close()
		client.Close()
		return nil, err
	}

	cat, err := categorize.New(cfg.Data.PersistDir)
	if err != nil {
		st.Close()
		client.Close()
		return nil, fmt.Errorf("load categories: %w", err)
	}

	pipeline := ingest.New(client, st, enc, cat, &ingest.Options{BatchSize: cfg.Sync.BatchSize}).
		WithLogger(logger).
		WithExpenseRules(cfg.Data.PersistDir)

	if caller, err := newLLMCaller(); err != nil {
		st.Close()
		client.Close()
		return nil, err
	} else if caller != nil {
		pipeline = pipeline.WithExtractor(enrich.NewExtractor(caller, cat, logger))
	}

	return &syncEnv{store: st, client: client, pipeline: pipeline}, nil
}

func (e *syncEnv) close() {
	e.client.Close()
	e.store.Close()
}
