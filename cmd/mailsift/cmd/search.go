package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/search"
)

var (
	searchMode  string
	searchLimit int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored emails",
	Long: `Search the synced mailbox.

Modes:
  hybrid    Fuse semantic and exact-substring retrieval (default)
  semantic  Embedding nearest-neighbor search only
  fulltext  Case-insensitive substring match on subject and body

Structured operators narrow the candidate set before retrieval:
  from:        Sender substring
  to:          Recipient substring
  subject:     Subject text
  label:       Gmail label (e.g. INBOX, STARRED)
  category:    Assigned category
  is:          is:read, is:unread, is:starred
  has:         has:attachment
  before:      Messages before date (YYYY-MM-DD)
  after:       Messages after date (YYYY-MM-DD)

Examples:
  mailsift search flight confirmation
  mailsift search --mode fulltext "order shipped"
  mailsift search from:delta.com after:2024-01-01 travel plans`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Join all args to form the query (allows unquoted multi-term searches)
		queryStr := strings.Join(args, " ")

		q := search.Parse(queryStr)
		if q.IsEmpty() {
			return fmt.Errorf("empty search query")
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		enc, err := newEncoder()
		if err != nil {
			return err
		}
		searcher := search.New(st, enc).WithLogger(logger)

		text := q.FreeText()
		var results []search.Result
		switch {
		case text == "":
			// Pure structured query — no retrieval needed.
			emails, err := searcher.Filter(cmd.Context(), q.Filter(), searchLimit, 0)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			for _, e := range emails {
				results = append(results, search.Result{Email: e})
			}
		case searchMode == "semantic":
			results, err = searcher.Semantic(cmd.Context(), text, searchLimit, 0)
		case searchMode == "fulltext":
			results, err = searcher.Fulltext(cmd.Context(), text, searchLimit)
		case searchMode == "hybrid" || searchMode == "":
			results, err = searcher.Hybrid(cmd.Context(), text, searchLimit)
		default:
			return fmt.Errorf("unknown mode %q (hybrid, semantic, fulltext)", searchMode)
		}
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		// Retrieval modes ignore structured filters, so apply them here.
		if text != "" {
			results = filterResults(results, q)
		}

		if len(results) == 0 {
			fmt.Println("No emails found.")
			return nil
		}

		if searchJSON {
			return outputSearchResultsJSON(results)
		}
		return outputSearchResultsTable(results)
	},
}

// filterResults drops retrieval hits that fail the structured filters.
func filterResults(results []search.Result, q *search.Query) []search.Result {
	f := q.Filter()
	out := results[:0]
	for _, r := range results {
		e := r.Email
		if f.SenderContains != "" && !strings.Contains(strings.ToLower(e.Sender), strings.ToLower(f.SenderContains)) {
			continue
		}
		if f.LabelContains != "" && !strings.Contains(e.Labels, "|"+f.LabelContains+"|") {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.IsRead != nil && e.IsRead != *f.IsRead {
			continue
		}
		if f.IsStarred != nil && e.IsStarred != *f.IsStarred {
			continue
		}
		if f.HasAttachments != nil && e.HasAttachments != *f.HasAttachments {
			continue
		}
		if f.DateFrom > 0 && e.DateTS < f.DateFrom {
			continue
		}
		if f.DateTo > 0 && e.DateTS > f.DateTo {
			continue
		}
		out = append(out, r)
	}
	return out
}

func outputSearchResultsTable(results []search.Result) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tFROM\tSUBJECT\tCATEGORY")
	fmt.Fprintln(w, "──\t────\t────\t───────\t────────")

	for _, r := range results {
		e := r.Email
		date := e.DateISO
		if len(date) > 10 {
			date = date[:10]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.GmailID, date, truncate(e.Sender, 30), truncate(e.Subject, 50), e.Category)
	}

	w.Flush()
	fmt.Printf("\nShowing %d results\n", len(results))
	return nil
}

func outputSearchResultsJSON(results []search.Result) error {
	output := make([]map[string]any, len(results))
	for i, r := range results {
		e := r.Email
		output[i] = map[string]any{
			"gmail_id": e.GmailID,
			"date":     e.DateISO,
			"from":     e.Sender,
			"subject":  e.Subject,
			"category": e.Category,
			"snippet":  e.Snippet,
			"score":    r.Score,
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// truncate shortens s to max runes, appending an ellipsis when cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}

func init() {
	searchCmd.Flags().StringVar(&searchMode, "mode", "hybrid", "search mode: hybrid, semantic, fulltext")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}
