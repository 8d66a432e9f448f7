package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/store"
)

var (
	expensesDays     int
	expensesCategory string
	expensesLimit    int
)

var expensesCmd = &cobra.Command{
	Use:   "expenses",
	Short: "List recent extracted expenses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		filter := store.ExpenseFilter{Category: expensesCategory}
		if expensesDays > 0 {
			filter.DateFrom = time.Now().AddDate(0, 0, -expensesDays).Unix()
		}

		expenses, err := s.GetExpenses(ctx, filter)
		if err != nil {
			return fmt.Errorf("list expenses: %w", err)
		}
		if len(expenses) == 0 {
			fmt.Println("No expenses found. Run 'mailsift sync-full' to extract them.")
			return nil
		}
		if expensesLimit > 0 && len(expenses) > expensesLimit {
			expenses = expenses[:expensesLimit]
		}

		var total float64
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tAMOUNT\tMERCHANT\tCATEGORY\tRULE")
		for _, e := range expenses {
			date := e.DateISO
			if len(date) > 10 {
				date = date[:10]
			}
			rule := e.RuleName
			if e.Source == "manual" {
				rule = "manual"
			}
			fmt.Fprintf(w, "%s\t%.2f %s\t%s\t%s\t%s\n",
				date, e.Amount, e.Currency, truncate(e.Merchant, 30),
				truncate(e.Category, 20), rule)
			total += e.Amount
		}
		w.Flush()

		fmt.Printf("\n%d expenses, %.2f total\n", len(expenses), total)
		return nil
	},
}

func init() {
	expensesCmd.Flags().IntVar(&expensesDays, "days", 90, "only expenses from the last N days (0 = all)")
	expensesCmd.Flags().StringVar(&expensesCategory, "category", "", "filter by merchant category")
	expensesCmd.Flags().IntVar(&expensesLimit, "limit", 50, "maximum rows to print (0 = all)")
	rootCmd.AddCommand(expensesCmd)
}
