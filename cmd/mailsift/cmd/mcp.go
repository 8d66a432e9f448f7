package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/embedding"
	mcpserver "github.com/mailsift/mailsift/internal/mcp"
	"github.com/mailsift/mailsift/internal/search"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run MCP server for Claude Desktop integration",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

This allows Claude Desktop (or any MCP client) to query your mailbox
using tools like search_emails, get_email, list_emails, get_stats,
and aggregate.

Add to Claude Desktop config:
  {
    "mcpServers": {
      "mailsift": {
        "command": "mailsift",
        "args": ["mcp"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		// Semantic search falls back to a mock encoder when the embedding
		// endpoint is unreachable at tool-call time, so build eagerly and
		// degrade rather than failing startup.
		enc, err := newEncoder()
		if err != nil {
			logger.Warn("embedding client unavailable, semantic search disabled", "error", err)
			enc = embedding.NewMockEncoder(cfg.Embedding.Dimension)
		}

		return mcpserver.Serve(cmd.Context(), s, search.New(s, enc).WithLogger(logger))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
