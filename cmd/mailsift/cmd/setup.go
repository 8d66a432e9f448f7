package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard for first-run configuration",
	Long: `Interactive setup wizard to configure mailsift for first use.

This command helps you:
  1. Locate or configure Google OAuth credentials
  2. Pick the embedding and LLM backends
  3. Create the config.toml file

Run this once after installing mailsift to get started quickly.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	fmt.Println("Welcome to mailsift setup!")
	fmt.Println()

	if err := cfg.EnsureHomeDir(); err != nil {
		return fmt.Errorf("create home directory: %w", err)
	}

	credsPath := cfg.Gmail.CredentialsPath
	if candidates := findClientSecrets(); len(candidates) > 0 {
		credsPath = candidates[0]
	}

	llmProvider := cfg.LLM.Provider
	llmAPIKey := cfg.LLM.APIKey
	llmModel := cfg.LLM.Model
	embedBase := cfg.Embedding.BaseURL
	confirm := true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("OAuth credentials file").
				Description("Path to the Google client secrets JSON (Desktop app)").
				Value(&credsPath),
			huh.NewInput().
				Title("Embeddings endpoint").
				Description("OpenAI-compatible /v1 base URL for embeddings").
				Value(&embedBase),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM enrichment provider").
				Description("Extracts categories, action items, and transactions").
				Options(
					huh.NewOption("Local command runner", "command"),
					huh.NewOption("OpenAI-compatible API", "openai"),
					huh.NewOption("Disabled (heuristics only)", ""),
				).
				Value(&llmProvider),
			huh.NewInput().
				Title("LLM model").
				Placeholder("gpt-4o-mini").
				Value(&llmModel),
			huh.NewInput().
				Title("LLM API key").
				EchoMode(huh.EchoModePassword).
				Value(&llmAPIKey),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save configuration?").
				Value(&confirm),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup form: %w", err)
	}
	if !confirm {
		fmt.Println("Setup cancelled; nothing written.")
		return nil
	}

	if credsPath = expandHome(strings.TrimSpace(credsPath)); credsPath != "" {
		if _, err := os.Stat(credsPath); err != nil {
			fmt.Printf("Warning: credentials file %s does not exist yet.\n", credsPath)
		}
		cfg.Gmail.CredentialsPath = credsPath
	}
	cfg.Embedding.BaseURL = strings.TrimSpace(embedBase)
	cfg.LLM.Provider = llmProvider
	cfg.LLM.Model = strings.TrimSpace(llmModel)
	cfg.LLM.APIKey = strings.TrimSpace(llmAPIKey)

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Configuration saved to %s\n", cfg.ConfigFilePath())

	fmt.Println()
	fmt.Println("Setup complete! Next steps:")
	fmt.Println()
	fmt.Println("  1. Authorize Gmail access:")
	fmt.Println("     mailsift login")
	fmt.Println()
	fmt.Println("  2. Sync your mailbox:")
	fmt.Println("     mailsift sync-full")
	fmt.Println()
	fmt.Println("  3. Search it:")
	fmt.Println("     mailsift search flight confirmation")
	fmt.Println()
	fmt.Println("For more help: mailsift --help")

	return nil
}

// findClientSecrets looks for client_secret*.json files in common locations.
func findClientSecrets() []string {
	var found []string
	home, _ := os.UserHomeDir()

	patterns := []string{
		filepath.Join(home, "Downloads", "client_secret*.json"),
		"client_secret*.json",
		filepath.Join(cfg.HomeDir, "client_secret*.json"),
	}

	seen := make(map[string]bool)
	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			abs, _ := filepath.Abs(m)
			if !seen[abs] {
				seen[abs] = true
				found = append(found, abs)
			}
		}
	}

	return found
}

// expandHome expands a leading ~/ to the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
