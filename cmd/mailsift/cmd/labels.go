package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List synced Gmail labels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		labels, err := s.ListLabels(cmd.Context())
		if err != nil {
			return fmt.Errorf("list labels: %w", err)
		}
		if len(labels) == 0 {
			fmt.Println("No labels synced yet. Run 'mailsift sync-full' first.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tTOTAL\tUNREAD")
		for _, l := range labels {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
				l.ID, l.Name, l.Type, l.MessagesTotal, l.MessagesUnread)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
}
