package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Database: %s\n", cfg.DatabasePath())
		fmt.Printf("  Emails:           %d\n", stats.EmailCount)
		fmt.Printf("  Vectors:          %d\n", stats.VectorCount)
		fmt.Printf("  Labels:           %d\n", stats.LabelCount)
		fmt.Printf("  Expenses:         %d\n", stats.ExpenseCount)
		fmt.Printf("  LLM categorized:  %d\n", stats.CategorizedWithLLM)
		fmt.Printf("  Action items:     %d emails\n", stats.WithActionItems)
		fmt.Printf("  Size:             %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
