package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/enrich"
)

var showBody bool

var showCmd = &cobra.Command{
	Use:   "show <gmail-id>",
	Short: "Show one email by Gmail message id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		e, err := s.GetEmail(cmd.Context(), args[0], showBody)
		if err != nil {
			return fmt.Errorf("get email: %w", err)
		}
		if e == nil {
			return fmt.Errorf("email %s not found", args[0])
		}

		fmt.Printf("ID:       %s\n", e.GmailID)
		fmt.Printf("Thread:   %s\n", e.ThreadID)
		fmt.Printf("Date:     %s\n", e.DateISO)
		fmt.Printf("From:     %s\n", e.Sender)
		if e.RecipientsTo != "" {
			fmt.Printf("To:       %s\n", e.RecipientsTo)
		}
		if e.RecipientsCc != "" {
			fmt.Printf("Cc:       %s\n", e.RecipientsCc)
		}
		fmt.Printf("Subject:  %s\n", e.Subject)
		fmt.Printf("Labels:   %s\n", strings.Trim(e.Labels, "|"))
		if e.Category != "" {
			fmt.Printf("Category: %s", e.Category)
			if e.LLMCategorized {
				fmt.Print(" (LLM)")
			}
			fmt.Println()
		}

		if e.ActionItemsJSON != "" {
			var items []enrich.ActionItem
			if err := json.Unmarshal([]byte(e.ActionItemsJSON), &items); err == nil && len(items) > 0 {
				fmt.Println("\nAction items:")
				for _, it := range items {
					line := "  - " + it.Action
					if it.Deadline != "" {
						line += " (due " + it.Deadline + ")"
					}
					fmt.Println(line)
				}
			}
		}
		if e.SpendingJSON != "" {
			var sp enrich.Spending
			if err := json.Unmarshal([]byte(e.SpendingJSON), &sp); err == nil && len(sp.Transactions) > 0 {
				fmt.Println("\nTransactions:")
				for _, tx := range sp.Transactions {
					fmt.Printf("  - %.2f %s %s\n", tx.Amount, tx.Currency, tx.Merchant)
				}
			}
		}

		if showBody && e.Document != "" {
			fmt.Println("\n" + strings.Repeat("─", 60))
			fmt.Println(e.Document)
		} else if e.Snippet != "" {
			fmt.Printf("\n%s\n", e.Snippet)
		}

		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showBody, "body", false, "include the stored body text")
	rootCmd.AddCommand(showCmd)
}
