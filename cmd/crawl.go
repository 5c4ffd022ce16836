package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag-crawler/internal/crawler"
)

type crawlOptions struct {
	url         string
	name        string
	maxDepth    int
	concurrency int
}

// newCrawlCmd creates the 'crawl' subcommand, which indexes one site.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl a site into the index",
		Long: `Crawls every same-host page reachable from --url up to --max-depth
links away, storing embedded chunks, tags and page relations. Interrupting
the crawl marks the run as failed and keeps what was stored so far.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "root URL to crawl (default crawler.root_url)")
	cmd.Flags().StringVar(&opts.name, "name", "", "site name (default crawler.site_name or the host)")
	cmd.Flags().IntVar(&opts.maxDepth, "max-depth", 0, "maximum link depth (default crawler.max_depth)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "number of crawl workers (default crawler.concurrency)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, opts *crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	root := firstNonEmpty(opts.url, cfg.Crawler.RootURL)
	if root == "" {
		return errors.New("a root URL is required: pass --url or set crawler.root_url")
	}
	name := firstNonEmpty(opts.name, cfg.Crawler.SiteName)
	depth := cfg.Crawler.MaxDepth
	if cmd.Flags().Changed("max-depth") {
		depth = opts.maxDepth
	}
	concurrency := cfg.Crawler.Concurrency
	if cmd.Flags().Changed("concurrency") {
		concurrency = opts.concurrency
	}

	if err := appInstance.EnsureModels(cmd.Context()); err != nil {
		return fmt.Errorf("prepare models: %w", err)
	}
	controller, err := appInstance.Controller(depth, concurrency)
	if err != nil {
		return fmt.Errorf("build crawler: %w", err)
	}

	logger.Info("crawl starting",
		zap.String("url", root),
		zap.Int("max_depth", depth),
		zap.Int("concurrency", concurrency),
		zap.String("store", appInstance.Backend()),
	)
	stats, err := controller.Run(cmd.Context(), root, name)
	printCrawlSummary(cmd.OutOrStdout(), root, stats)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	if err != nil {
		logger.Warn("crawl interrupted", zap.Error(err))
	}
	return nil
}

func printCrawlSummary(w io.Writer, root string, stats crawler.Stats) {
	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(w, "%s %s\n", boldGreen("Crawled"), root)
	fmt.Fprintf(w, "  pages:     %d visited, %s skipped, %s failed\n",
		stats.PagesVisited, yellow(stats.PagesSkipped), red(stats.PagesFailed))
	fmt.Fprintf(w, "  chunks:    %d\n", stats.ChunksStored)
	fmt.Fprintf(w, "  relations: %d\n", stats.RelationsStored)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
