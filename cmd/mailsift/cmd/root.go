package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/embedding"
	"github.com/mailsift/mailsift/internal/enrich"
	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/oauth"
	"github.com/mailsift/mailsift/internal/store"
)

var (
	cfgFile string
	homeDir string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mailsift",
	Short: "Gmail sync, search, and enrichment tool",
	Long: `mailsift syncs a Gmail mailbox into a local SQLite database and layers
search and enrichment on top: hybrid semantic + full-text search,
rule-based categorization, expense extraction, and LLM-extracted
action items.

Everything lives in a single binary: sync commands, a search CLI and
TUI, an MCP server for agent access, and a dashboard API daemon.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		if cmd.Name() == "version" || cmd.Name() == "update" {
			return nil
		}

		// Set up logging
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		// Load config (--home is passed through so it influences
		// where config.toml is loaded from, like MAILSIFT_HOME).
		var err error
		cfg, err = config.Load(cfgFile, homeDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// Ensure home directory exists on first use
		if err := cfg.EnsureHomeDir(); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.HomeDir, err)
		}

		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// openStore opens the configured database and ensures the schema exists.
func openStore(ctx context.Context) (*store.Store, error) {
	s, err := store.Open(cfg.DatabasePath(), cfg.Embedding.Dimension)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.InitSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// newOAuthManager creates the OAuth manager from the configured credential
// paths, wrapping missing-file errors with setup instructions.
func newOAuthManager() (*oauth.Manager, error) {
	mgr, err := oauth.NewManager(cfg.Gmail.CredentialsPath, cfg.Gmail.TokenPath, logger)
	if err != nil {
		return nil, wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
	}
	return mgr, nil
}

// newGmailClient builds a rate-limited Gmail client over the token source.
func newGmailClient(tokenSource oauth2.TokenSource) *gmail.Client {
	return gmail.NewClient(tokenSource,
		gmail.WithLogger(logger),
		gmail.WithRateLimiter(gmail.NewRateLimiter(float64(cfg.Sync.RateLimitQPS))),
	)
}

// newEncoder builds the embeddings client from config.
func newEncoder() (embedding.Encoder, error) {
	enc, err := embedding.NewClient(embedding.Config{
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return enc, nil
}

// newLLMCaller builds the enrichment backend per the configured provider.
// Returns nil when enrichment is not configured, which disables the stage.
func newLLMCaller() (enrich.Caller, error) {
	switch cfg.LLM.Provider {
	case "openai":
		c, err := enrich.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
		if err != nil {
			return nil, fmt.Errorf("create llm client: %w", err)
		}
		return c, nil
	case "command":
		if cfg.LLM.BaseURL == "" {
			return nil, nil
		}
		return enrich.NewCommandClient(cfg.LLM.BaseURL), nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// oauthSetupHint returns help text for OAuth configuration issues,
// using the actual config file path so it's clear on all platforms.
func oauthSetupHint() string {
	configPath := "<config file>"
	if cfg != nil {
		configPath = cfg.ConfigFilePath()
	}
	return fmt.Sprintf(`
To use mailsift, you need a Google Cloud OAuth credential:
  1. Create an OAuth client ID (Desktop app) at
     https://console.cloud.google.com/apis/credentials
  2. Download the client secrets JSON file
  3. Create or edit %s:
       [gmail]
       credentials_path = "/path/to/credentials.json"`, configPath)
}

// errOAuthNotConfigured returns a helpful error when OAuth client secrets are missing.
// It also searches for client_secret*.json files in common locations.
func errOAuthNotConfigured() error {
	hint := tryFindClientSecrets()
	if hint != "" {
		return fmt.Errorf("OAuth client secrets not configured.%s", hint)
	}
	return fmt.Errorf("OAuth client secrets not configured.%s", oauthSetupHint())
}

// tryFindClientSecrets looks for client_secret*.json in common locations
// and returns a hint if found.
func tryFindClientSecrets() string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join(home, "Downloads", "client_secret*.json"),
		"client_secret*.json",
	}
	if cfg != nil {
		candidates = append(candidates, filepath.Join(cfg.HomeDir, "client_secret*.json"))
	}

	for _, pattern := range candidates {
		matches, _ := filepath.Glob(pattern)
		if len(matches) > 0 {
			configPath := "<config file>"
			if cfg != nil {
				configPath = cfg.ConfigFilePath()
			}
			return fmt.Sprintf(`

Found OAuth credentials at: %s

To use this file, add to %s:
  [gmail]
  credentials_path = %q

Or copy the file to your mailsift home directory:
  cp %q ~/.mailsift/credentials.json`, matches[0], configPath, matches[0], matches[0])
		}
	}
	return ""
}

// wrapOAuthError wraps an oauth/client-secrets error with setup instructions
// if the root cause is a missing or unreadable secrets file.
func wrapOAuthError(err error) error {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("OAuth client secrets file not accessible.%s", oauthSetupHint())
	}
	return err
}

// getTokenSourceWithReauth tries to get a token source for the stored token.
// If the token exists but is expired/revoked, it automatically deletes the old
// token and re-initiates the OAuth browser flow.
func getTokenSourceWithReauth(ctx context.Context, oauthMgr *oauth.Manager) (oauth2.TokenSource, error) {
	tokenSource, err := oauthMgr.TokenSource(ctx)
	if err == nil {
		return tokenSource, nil
	}

	// No token at all — user needs to run login
	if !oauthMgr.HasToken() {
		return nil, fmt.Errorf("get token source: %w (run 'mailsift login' first)", err)
	}

	// Token exists but failed (expired/revoked) — auto re-authorize
	fmt.Println("Stored token is expired or revoked. Re-authorizing...")

	if delErr := oauthMgr.DeleteToken(); delErr != nil {
		return nil, fmt.Errorf("delete expired token: %w", delErr)
	}

	if authErr := oauthMgr.Authorize(ctx, false); authErr != nil {
		return nil, fmt.Errorf("re-authorize: %w", authErr)
	}

	tokenSource, err = oauthMgr.TokenSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token source after re-authorization: %w", err)
	}

	return tokenSource, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.mailsift/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "home directory (overrides MAILSIFT_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
