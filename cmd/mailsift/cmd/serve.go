package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/analytics"
	"github.com/mailsift/mailsift/internal/api"
	"github.com/mailsift/mailsift/internal/categorize"
	"github.com/mailsift/mailsift/internal/enrich"
	"github.com/mailsift/mailsift/internal/ingest"
	"github.com/mailsift/mailsift/internal/orchestrator"
	"github.com/mailsift/mailsift/internal/scheduler"
	"github.com/mailsift/mailsift/internal/search"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run mailsift as a daemon with the dashboard API",
	Long: `Run mailsift as a long-running daemon serving the dashboard API.

The daemon runs in the foreground and performs:
  - HTTP API server on the configured port (default: 8000)
  - Background incremental syncs on the auto-sync interval
  - Optional cron-scheduled syncs from config

Configure a cron schedule in config.toml:
  [schedule]
  sync = "0 */6 * * *"   # every 6 hours

Cron format: minute hour day-of-month month day-of-week
  Examples:
    0 2 * * *     = 2:00 AM daily
    */15 * * * *  = Every 15 minutes
    0 8,18 * * *  = 8 AM and 6 PM daily

Use Ctrl+C to stop the daemon gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if cfg.Schedule.Sync != "" {
		if err := scheduler.ValidateCronExpr(cfg.Schedule.Sync); err != nil {
			return fmt.Errorf("invalid [schedule] sync expression: %w", err)
		}
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	oauthMgr, err := newOAuthManager()
	if err != nil {
		return err
	}
	tokenSource, err := oauthMgr.TokenSource(ctx)
	if err != nil {
		return fmt.Errorf("no valid Gmail token: %w (run 'mailsift login' first)", err)
	}

	client := newGmailClient(tokenSource)
	defer client.Close()

	enc, err := newEncoder()
	if err != nil {
		return err
	}

	cat, err := categorize.New(cfg.Data.PersistDir)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}

	// The API log viewer needs the daemon's own records, so the logger is
	// rebuilt with a capture handler in front of the text handler.
	logs := api.NewLogBuffer()
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(logs.Handler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	caller, err := newLLMCaller()
	if err != nil {
		return err
	}
	if caller == nil {
		logger.Warn("llm enrichment not configured, heuristic categories only")
	}
	extractor := enrich.NewExtractor(caller, cat, logger)

	pipeline := ingest.New(client, st, enc, cat, &ingest.Options{BatchSize: cfg.Sync.BatchSize}).
		WithLogger(logger).
		WithExtractor(extractor).
		WithExpenseRules(cfg.Data.PersistDir)

	runner := orchestrator.New(pipeline, extractor, st, orchestrator.NewCache(0)).
		WithLogger(logger).
		WithInterval(time.Duration(cfg.Sync.AutoIntervalSeconds) * time.Second)

	apiServer, err := api.NewServer(cfg, api.Deps{
		Store:       st,
		Runner:      runner,
		Searcher:    search.New(st, enc).WithLogger(logger),
		Analyzer:    analytics.New(st, cat, cfg.Data.PersistDir),
		Categorizer: cat,
		Mailbox:     client,
		Encoder:     enc,
		LLM:         caller,
		Logs:        logs,
	}, logger)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go runner.RunAutoSync(runCtx)

	var sched *scheduler.Scheduler
	if cfg.Schedule.Sync != "" {
		sched = scheduler.New().WithLogger(logger)
		err := sched.AddJob("incremental-sync", cfg.Schedule.Sync, func(ctx context.Context) error {
			if err := runner.StartIncremental(); err != nil {
				if errors.Is(err, orchestrator.ErrSyncInProgress) {
					logger.Info("scheduled sync skipped, one already running")
					return nil
				}
				return err
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("schedule sync job: %w", err)
		}
		sched.Start()
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	fmt.Println("mailsift daemon started")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)))
	fmt.Printf("  Data directory: %s\n", cfg.Data.PersistDir)
	fmt.Printf("  Auto-sync interval: %ds\n", cfg.Sync.AutoIntervalSeconds)
	if cfg.Schedule.Sync != "" {
		fmt.Printf("  Cron schedule: %s\n", cfg.Schedule.Sync)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		fmt.Println("\nShutting down...")
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		return fmt.Errorf("api server: %w", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	if sched != nil {
		fmt.Println("Waiting for running jobs to complete...")
		select {
		case <-sched.Stop().Done():
		case <-time.After(30 * time.Second):
			fmt.Println("Shutdown timed out after 30 seconds.")
			return nil
		}
	}

	fmt.Println("Shutdown complete.")
	return nil
}
