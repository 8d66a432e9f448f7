package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/categorize"
	"github.com/mailsift/mailsift/internal/ingest"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-encode all stored emails with the configured embedding model",
	Long: `Recompute the embedding vector for every stored email.

Run this after changing the embedding model or dimension so semantic
search reflects the new model. The database is not re-synced; only the
vectors are rebuilt from the stored document text.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		enc, err := newEncoder()
		if err != nil {
			return err
		}

		cat, err := categorize.New(cfg.Data.PersistDir)
		if err != nil {
			return err
		}

		// Reindex only reads the store and calls the encoder; no Gmail
		// transport is needed.
		pipeline := ingest.New(nil, s, enc, cat, nil).
			WithLogger(logger)

		progress := newCLIProgress()
		count, err := pipeline.Reindex(ctx, progress.update)
		if err != nil {
			return fmt.Errorf("reindex: %w", err)
		}

		fmt.Printf("\nRe-encoded %d emails.\n", count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}
