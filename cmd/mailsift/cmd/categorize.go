package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/categorize"
	"github.com/mailsift/mailsift/internal/store"
)

var categorizeCmd = &cobra.Command{
	Use:   "categorize",
	Short: "Re-run rule categorization over stored emails",
	Long: `Re-apply the rule-based categorizer to every stored email.

Useful after editing sender or subject overrides. Emails already
categorized by the LLM keep their category; rules only fill the rest.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		cat, err := categorize.New(cfg.Data.PersistDir)
		if err != nil {
			return fmt.Errorf("load categories: %w", err)
		}

		emails, err := s.GetEmails(ctx, store.Filter{}, 0, 0, false)
		if err != nil {
			return fmt.Errorf("load emails: %w", err)
		}

		var patches []*store.MetadataPatch
		for _, e := range emails {
			if e.LLMCategorized {
				continue
			}
			got := cat.Categorize(categorize.Input{
				Sender:          e.Sender,
				Subject:         e.Subject,
				Labels:          e.Labels,
				ListUnsubscribe: e.ListUnsubscribe,
			})
			if got == e.Category {
				continue
			}
			patches = append(patches, &store.MetadataPatch{
				GmailID:  e.GmailID,
				Category: store.Ptr(got),
			})
		}

		if len(patches) == 0 {
			fmt.Printf("All %d emails already categorized correctly.\n", len(emails))
			return nil
		}
		if err := s.ApplyMetadataPatches(ctx, patches); err != nil {
			return fmt.Errorf("apply categories: %w", err)
		}
		fmt.Printf("Recategorized %d of %d emails.\n", len(patches), len(emails))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(categorizeCmd)
}
