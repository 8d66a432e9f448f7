package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/embedding"
	"github.com/mailsift/mailsift/internal/search"
	"github.com/mailsift/mailsift/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Browse and search your mailbox interactively",
	Long: `Open an interactive terminal browser over the synced mailbox.

Type a query and press Enter to search. Tab cycles the retrieval mode
(hybrid, semantic, fulltext), Enter opens a result, Esc goes back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			return fmt.Errorf("tui requires an interactive terminal (try 'mailsift search' instead)")
		}

		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		enc, err := newEncoder()
		if err != nil {
			logger.Warn("embedding client unavailable, semantic search disabled", "error", err)
			enc = embedding.NewMockEncoder(cfg.Embedding.Dimension)
		}

		return tui.Run(s, search.New(s, enc).WithLogger(logger), tui.Options{Version: Version})
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
