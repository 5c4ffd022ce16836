package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-rag-crawler/internal/search"
)

const snippetChars = 240

type searchOptions struct {
	limit   int
	jsonOut bool
}

// newSearchCmd creates the 'search' subcommand.
func newSearchCmd() *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the index",
		Long: `Embeds the query, ranks stored pages by vector distance and title
similarity, and lists the pages that link to the best match.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearchCommand(cmd, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "number of results (default search.limit)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the raw JSON response")
	return cmd
}

func runSearchCommand(cmd *cobra.Command, query string, opts *searchOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	limit := opts.limit
	if limit <= 0 {
		limit = appInstance.Config().Search.Limit
	}

	resp, err := appInstance.Search().Search(cmd.Context(), query, limit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		return nil
	}
	printSearchResponse(cmd.OutOrStdout(), resp)
	return nil
}

func printSearchResponse(w io.Writer, resp search.Response) {
	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	if len(resp.Results) == 0 {
		fmt.Fprintf(w, "No results for %q\n", resp.Query)
		return
	}
	fmt.Fprintf(w, "%s %q %s\n\n", boldGreen("Results for"), resp.Query,
		faint(fmt.Sprintf("(embed %.0fms, search %.0fms)", resp.Timings.EmbedMillis, resp.Timings.SearchMillis)))
	for i, r := range resp.Results {
		fmt.Fprintf(w, "%d. %s  %s\n", i+1, boldCyan(r.Title), faint(fmt.Sprintf("score %d, hybrid %.3f", r.Score, r.HybridScore)))
		fmt.Fprintf(w, "   %s\n", r.URL)
		if len(r.Breadcrumbs) > 0 {
			fmt.Fprintf(w, "   %s\n", faint(strings.Join(r.Breadcrumbs, " > ")))
		}
		if len(r.Tags) > 0 {
			fmt.Fprintf(w, "   tags: %s\n", strings.Join(r.Tags, ", "))
		}
		if snippet := snippetOf(r.Content); snippet != "" {
			fmt.Fprintf(w, "   %s\n", snippet)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%s %s\n", boldGreen("Pages linking to"), resp.Results[0].URL)
	if len(resp.Backlinks) == 0 {
		fmt.Fprintln(w, "   none")
	}
	for _, b := range resp.Backlinks {
		fmt.Fprintf(w, "   %s\n", b.FromURL)
	}
}

func snippetOf(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if r := []rune(content); len(r) > snippetChars {
		return string(r[:snippetChars]) + "..."
	}
	return content
}
