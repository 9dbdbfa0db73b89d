package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mementor/internal/query"
)

var (
	searchMode   string
	searchOffset int
	searchLimit  int
)

var searchCmd = &cobra.Command{
	Use:   "search <query text>",
	Short: "Search turns by meaning (vector) or literal text (fts)",
	Long: `Runs one of the two text-driven query families:

  --mode vector  embeds the query and ranks turns by cosine distance to
                 their chunk embeddings (default)
  --mode fts     ranks turns by trigram full-text match, script-agnostic`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchMode, "mode", "vector", "Search mode: vector or fts")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "Result offset")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Result limit (0 uses the configured default page size)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	text := joinArgs(args)

	var page query.Page
	var err error
	switch searchMode {
	case "vector":
		page, err = rt.query.VectorSearch(cmd.Context(), text, searchOffset, searchLimit)
	case "fts":
		page, err = rt.query.FullTextSearch(cmd.Context(), text, searchOffset, searchLimit)
	default:
		return fmt.Errorf("unknown search mode %q (want vector or fts)", searchMode)
	}
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	printPage(page)
	return nil
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func printPage(page query.Page) {
	if page.Total == 0 {
		fmt.Println("no matches")
		return
	}
	fmt.Printf("%d of %d matches (offset %d):\n", len(page.Results), page.Total, page.Offset)
	for _, r := range page.Results {
		printResult(r)
	}
}

func printResult(r query.Result) {
	fmt.Printf("  [%s] session=%s turn=%d lines=%d-%d distance=%.4f\n",
		r.Kind, r.SessionID, r.TurnID, r.StartLine, r.EndLine, r.Distance)
	if r.ToolSummary != "" {
		fmt.Printf("      tools: %s\n", r.ToolSummary)
	}
	fmt.Printf("      %s\n", truncate(r.FullText, 160))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
