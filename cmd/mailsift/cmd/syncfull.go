package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/ingest"
)

var (
	syncQuery  string
	syncBefore string
	syncAfter  string
	syncDays   int
	syncMax    int
)

var syncFullCmd = &cobra.Command{
	Use:   "sync-full",
	Short: "Perform a full sync of the mailbox",
	Long: `Perform a full synchronization of the Gmail mailbox.

Lists all messages matching the query (or all messages if no query),
downloads the ones not yet stored, and reconciles deletions within the
synced range. Safe to re-run; already-stored messages are skipped.

Date filters:
  --after 2024-01-01     Only messages on or after this date
  --before 2024-12-31    Only messages before this date
  --days 30              Only the last N days (overrides --after)

Examples:
  mailsift sync-full
  mailsift sync-full --days 90
  mailsift sync-full --query "from:someone@example.com"
  mailsift sync-full --max 500 --after 2024-01-01`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncMax < 0 {
			return fmt.Errorf("--max must be a non-negative number")
		}

		env, err := newSyncEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()

		opts := ingest.FullSyncOptions{
			Query:     syncQuery,
			MaxEmails: syncMax,
			DaysAgo:   syncDays,
		}
		if syncAfter != "" {
			t, err := time.Parse("2006-01-02", syncAfter)
			if err != nil {
				return fmt.Errorf("invalid --after date %q: expected YYYY-MM-DD", syncAfter)
			}
			opts.After = t
		}
		if syncBefore != "" {
			t, err := time.Parse("2006-01-02", syncBefore)
			if err != nil {
				return fmt.Errorf("invalid --before date %q: expected YYYY-MM-DD", syncBefore)
			}
			opts.Before = t
		}

		progress := newCLIProgress()
		opts.Progress = progress.update

		start := time.Now()
		fmt.Println("Starting full sync...")
		if syncQuery != "" {
			fmt.Printf("Query: %s\n", syncQuery)
		}
		fmt.Println()

		count, err := env.pipeline.FullSync(cmd.Context(), opts)
		if err != nil {
			if cmd.Context().Err() != nil {
				fmt.Println("\nSync interrupted. Run again to continue.")
				return nil
			}
			return fmt.Errorf("sync failed: %w", err)
		}

		elapsed := time.Since(start)
		fmt.Println()
		fmt.Println("Sync complete!")
		fmt.Printf("  Duration:  %s\n", elapsed.Round(time.Second))
		fmt.Printf("  Messages:  %d covered\n", count)
		if count > 0 && elapsed.Seconds() >= 1 {
			fmt.Printf("  Rate:      %.1f messages/sec\n", float64(count)/elapsed.Seconds())
		}

		logger.Info("full sync completed", "messages", count, "elapsed", elapsed)
		return nil
	},
}

// cliProgress prints a throttled single-line progress readout. On a TTY
// it redraws one line with \r; piped output gets plain lines at a lower
// frequency so logs stay readable.
type cliProgress struct {
	startTime time.Time
	lastPrint time.Time
	prime     string
	plain     bool
}

func newCLIProgress() *cliProgress {
	return &cliProgress{
		prime: "  Listed %d messages to sync\n",
		plain: !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()),
	}
}

func (p *cliProgress) update(synced, total int) {
	now := time.Now()
	if p.startTime.IsZero() {
		p.startTime = now
		p.lastPrint = now
	}
	if synced == 0 {
		fmt.Printf(p.prime, total)
		return
	}
	throttle := 2 * time.Second
	if p.plain {
		throttle = 10 * time.Second
	}
	if now.Sub(p.lastPrint) < throttle {
		return
	}
	p.lastPrint = now

	elapsed := now.Sub(p.startTime)
	rate := 0.0
	if elapsed.Seconds() >= 1 {
		rate = float64(synced) / elapsed.Seconds()
	}
	pct := 0
	if total > 0 {
		pct = synced * 100 / total
	}
	if p.plain {
		fmt.Printf("  Synced: %d / %d (%d%%) | Rate: %.1f/s | Elapsed: %s\n",
			synced, total, pct, rate, formatDuration(elapsed))
		return
	}
	fmt.Printf("\r  Synced: %d / %d (%d%%) | Rate: %.1f/s | Elapsed: %s    ",
		synced, total, pct, rate, formatDuration(elapsed))
}

// formatDuration formats a duration as "Xm Ys" or "Xh Ym" for readability.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func init() {
	syncFullCmd.Flags().StringVar(&syncQuery, "query", "", "Gmail search query")
	syncFullCmd.Flags().StringVar(&syncBefore, "before", "", "Only messages before this date (YYYY-MM-DD)")
	syncFullCmd.Flags().StringVar(&syncAfter, "after", "", "Only messages after this date (YYYY-MM-DD)")
	syncFullCmd.Flags().IntVar(&syncDays, "days", 0, "Only the last N days (overrides --after)")
	syncFullCmd.Flags().IntVar(&syncMax, "max", 0, "Limit number of messages (0 = default cap)")
	rootCmd.AddCommand(syncFullCmd)
}
