package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag-crawler/internal/chunker"
	"github.com/JakeFAU/site-rag-crawler/internal/clock/system"
	"github.com/JakeFAU/site-rag-crawler/internal/extract"
	"github.com/JakeFAU/site-rag-crawler/internal/logging"
	"github.com/JakeFAU/site-rag-crawler/internal/metrics"
	"github.com/JakeFAU/site-rag-crawler/internal/queue/memory"
	"github.com/JakeFAU/site-rag-crawler/internal/retry"
	"github.com/JakeFAU/site-rag-crawler/internal/store"
	"github.com/JakeFAU/site-rag-crawler/internal/worker"
)

// Defaults for Config.
const (
	DefaultMaxDepth         = 3
	DefaultConcurrency      = 2
	DefaultTagSummaryChars  = 5000
	DefaultContentHintChars = 500
)

// Config holds the settings for a crawl session.
type Config struct {
	MaxDepth    int
	Concurrency int
	// PollInterval is how long an idle worker waits for siblings to enqueue work.
	PollInterval time.Duration
	// TagSummaryChars caps the content handed to the tagger.
	TagSummaryChars  int
	ContentHintChars int
	MinContentLength int
	Chunker          chunker.Options

	FetchRetry retry.Config
	EmbedRetry retry.Config
	StoreRetry retry.Config
}

// DefaultConfig returns the stock crawl settings.
func DefaultConfig() Config {
	return Config{
		MaxDepth:         DefaultMaxDepth,
		Concurrency:      DefaultConcurrency,
		PollInterval:     worker.DefaultPollInterval,
		TagSummaryChars:  DefaultTagSummaryChars,
		ContentHintChars: DefaultContentHintChars,
		MinContentLength: extract.DefaultMinHTMLLength,
		Chunker:          chunker.DefaultOptions(),
		FetchRetry:       retry.NetworkPolicy(),
		EmbedRetry:       retry.AIServicePolicy(),
		StoreRetry:       retry.DatabasePolicy(),
	}
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0, got %d", c.MaxDepth)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if err := c.Chunker.Validate(); err != nil {
		return fmt.Errorf("chunker: %w", err)
	}
	for name, policy := range map[string]retry.Config{"fetch": c.FetchRetry, "embed": c.EmbedRetry, "store": c.StoreRetry} {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("%s retry: %w", name, err)
		}
	}
	return nil
}

// Dependencies are the collaborators of a Controller. Runs, IDs and Clock are
// optional; without Runs no crawl run bookkeeping is written.
type Dependencies struct {
	Fetcher  Fetcher
	Embedder Embedder
	Tagger   Tagger
	Store    Store
	Runs     store.RunRepository
	IDs      IDGenerator
	Clock    Clock
	Logger   *zap.Logger
}

// Controller owns the crawl frontier of a site.
type Controller struct {
	cfg      Config
	fetcher  Fetcher
	embedder Embedder
	tagger   Tagger
	store    Store
	runs     store.RunRepository
	ids      IDGenerator
	clock    Clock
	logger   *zap.Logger
}

// NewController wires a Controller.
func NewController(cfg Config, deps Dependencies) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawler config: %w", err)
	}
	if deps.Fetcher == nil || deps.Embedder == nil || deps.Tagger == nil || deps.Store == nil {
		return nil, errors.New("crawler requires a fetcher, embedder, tagger and store")
	}
	if deps.Runs != nil && deps.IDs == nil {
		return nil, errors.New("crawl run bookkeeping requires an id generator")
	}
	logger := logging.OrNop(deps.Logger)
	clock := deps.Clock
	if clock == nil {
		clock = system.New()
	}
	cfg.FetchRetry = instrument(cfg.FetchRetry.Named("fetch"), logger)
	cfg.EmbedRetry = instrument(cfg.EmbedRetry.Named("embed"), logger)
	cfg.StoreRetry = instrument(cfg.StoreRetry, logger)
	return &Controller{
		cfg:      cfg,
		fetcher:  deps.Fetcher,
		embedder: deps.Embedder,
		tagger:   deps.Tagger,
		store:    deps.Store,
		runs:     deps.Runs,
		ids:      deps.IDs,
		clock:    clock,
		logger:   logger,
	}, nil
}

func instrument(cfg retry.Config, logger *zap.Logger) retry.Config {
	return cfg.WithLogger(logger).WithOnRetry(func(err error, attempt int, history *retry.History) error {
		metrics.ObserveRetry(history.Operation)
		logger.Warn("retrying",
			zap.String("operation", history.Operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return nil
	})
}

// run is the state shared by the workers of one Run call.
type run struct {
	queue *memory.Queue[FrontierItem]

	visited   atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	chunks    atomic.Int64
	relations atomic.Int64
}

func (r *run) stats() Stats {
	return Stats{
		PagesVisited:    r.visited.Load(),
		PagesSkipped:    r.skipped.Load(),
		PagesFailed:     r.failed.Load(),
		ChunksStored:    r.chunks.Load(),
		RelationsStored: r.relations.Load(),
	}
}

// Run upserts the site, seeds the frontier with the normalized root and drains
// it with a bounded worker pool. Per-page failures are counted, not returned;
// the error reports setup failures and cancellation.
func (c *Controller) Run(ctx context.Context, rootURL, siteName string) (Stats, error) {
	root, err := NormalizeURL(rootURL, "")
	if err != nil {
		return Stats{}, fmt.Errorf("normalize root url: %w", err)
	}
	if siteName == "" {
		if u, perr := url.Parse(root); perr == nil {
			siteName = u.Host
		}
	}

	site, err := retry.Do(ctx, c.cfg.StoreRetry.Named("upsert_site"), func(ctx context.Context) (store.Site, error) {
		return c.store.UpsertSite(ctx, siteName, root)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("upsert site: %w", err)
	}
	logger := c.logger.With(zap.String("site_id", site.ID), zap.String("root", root))
	runID := c.startRun(ctx, site, root)
	if runID != "" {
		logger = logger.With(zap.String("run_id", runID))
	}
	logger.Info("crawl started", zap.Int("max_depth", c.cfg.MaxDepth), zap.Int("concurrency", c.cfg.Concurrency))

	r := &run{queue: memory.NewQueue(FrontierItem{
		SiteID:  site.ID,
		URL:     root,
		Depth:   0,
		Visited: NewVisitedSet(),
	})}
	spawnErr := worker.Spawn(ctx, r.queue, func(ctx context.Context, item FrontierItem) error {
		return c.handle(ctx, r, item)
	}, c.cfg.Concurrency, worker.WithPollInterval(c.cfg.PollInterval), worker.WithLogger(c.logger))

	stats := r.stats()
	c.finishRun(ctx, runID, stats, spawnErr)
	logger.Info("crawl finished",
		zap.Int64("pages_visited", stats.PagesVisited),
		zap.Int64("pages_skipped", stats.PagesSkipped),
		zap.Int64("pages_failed", stats.PagesFailed),
		zap.Int64("chunks_stored", stats.ChunksStored),
		zap.Int64("relations_stored", stats.RelationsStored),
	)
	if spawnErr != nil {
		return stats, fmt.Errorf("crawl %s: %w", root, spawnErr)
	}
	return stats, nil
}

func (c *Controller) handle(ctx context.Context, r *run, item FrontierItem) error {
	res, err := c.Crawl(ctx, item)
	switch {
	case errors.Is(err, ErrSkipped):
		r.skipped.Add(1)
		c.logger.Debug("page skipped", zap.String("url", item.URL), zap.Error(err))
		return nil
	case err != nil:
		r.failed.Add(1)
		return err
	}
	r.visited.Add(1)
	r.chunks.Add(int64(res.Chunks))
	r.relations.Add(int64(res.Relations))
	r.queue.Push(res.Children...)
	return nil
}

// Crawl ingests a single frontier item and returns the children to enqueue.
// Pages that are too deep, already visited, not HTML or too short fail with ErrSkipped.
func (c *Controller) Crawl(ctx context.Context, item FrontierItem) (PageResult, error) {
	if item.Visited == nil {
		return PageResult{}, errors.New("frontier item has no visited set")
	}
	if item.Depth > c.cfg.MaxDepth {
		return PageResult{}, fmt.Errorf("%w: depth %d exceeds max %d", ErrSkipped, item.Depth, c.cfg.MaxDepth)
	}
	if !item.Visited.MarkIfNew(item.URL) {
		return PageResult{}, fmt.Errorf("%w: already visited", ErrSkipped)
	}

	logger := c.logger.With(
		zap.String("url", item.URL),
		zap.Int("depth", item.Depth),
		zap.String("site_id", item.SiteID),
	)
	logger.Info("crawling page")

	resp, err := retry.Do(ctx, c.cfg.FetchRetry, func(ctx context.Context) (FetchResponse, error) {
		return c.fetcher.Fetch(ctx, FetchRequest{URL: item.URL, Depth: item.Depth})
	})
	if err != nil {
		metrics.ObservePage(item.URL, "error", 0)
		return PageResult{}, fmt.Errorf("fetch %s: %w", item.URL, err)
	}
	if !isHTML(resp) {
		metrics.ObservePage(item.URL, "skipped", len(resp.Body))
		return PageResult{}, fmt.Errorf("%w: content type %q", ErrSkipped, resp.Headers.Get("Content-Type"))
	}

	// item.URL has lost its trailing slash; the served address still has it.
	base := resp.URL
	if base == "" {
		base = item.URL
	}
	page, err := extract.Extract(resp.Body, base, c.cfg.MinContentLength)
	if errors.Is(err, extract.ErrTooShort) {
		metrics.ObservePage(item.URL, "skipped", len(resp.Body))
		return PageResult{}, fmt.Errorf("%w: %w", ErrSkipped, err)
	}
	if err != nil {
		metrics.ObservePage(item.URL, "error", len(resp.Body))
		return PageResult{}, fmt.Errorf("extract %s: %w", item.URL, err)
	}

	breadcrumbs := append(slices.Clone(item.Breadcrumbs), pathOf(item.URL))
	tags := c.tagger.GenerateTags(ctx, page.Title+"\n\n"+head(page.Content, c.cfg.TagSummaryChars))
	logger.Debug("generated tags", zap.Strings("tags", tags))

	chunks := chunker.Split(page.Content, c.cfg.Chunker)
	hint := head(page.Content, c.cfg.ContentHintChars)
	for i, text := range chunks {
		input := text
		if i == 0 {
			input = fmt.Sprintf("Title: %s\n\nContent: %s", page.Title, text)
		}
		embedding, err := retry.Do(ctx, c.cfg.EmbedRetry, func(ctx context.Context) ([]float32, error) {
			return c.embedder.Embed(ctx, input)
		})
		if err != nil {
			metrics.ObservePage(item.URL, "error", len(resp.Body))
			return PageResult{}, fmt.Errorf("embed chunk %d of %s: %w", i, item.URL, err)
		}
		chunk := store.PageChunk{
			SiteID:          item.SiteID,
			URL:             item.URL,
			ChunkIndex:      i,
			Title:           page.Title,
			Content:         text,
			FullContentHint: hint,
			Embedding:       embedding,
			Breadcrumbs:     breadcrumbs,
			Tags:            tags,
		}
		if err := retry.Run(ctx, c.cfg.StoreRetry.Named("upsert_chunk"), func(ctx context.Context) error {
			return c.store.UpsertChunk(ctx, chunk)
		}); err != nil {
			metrics.ObservePage(item.URL, "error", len(resp.Body))
			return PageResult{}, fmt.Errorf("store chunk %d of %s: %w", i, item.URL, err)
		}
	}
	metrics.ObserveChunks(item.URL, len(chunks))

	links := crawlableLinks(item.URL, page.Links)
	if len(links) > 0 {
		if err := retry.Run(ctx, c.cfg.StoreRetry.Named("record_relations"), func(ctx context.Context) error {
			return c.store.RecordRelations(ctx, item.SiteID, item.URL, links)
		}); err != nil {
			metrics.ObservePage(item.URL, "error", len(resp.Body))
			return PageResult{}, fmt.Errorf("record relations of %s: %w", item.URL, err)
		}
	}

	var children []FrontierItem
	if item.Depth < c.cfg.MaxDepth {
		for _, link := range links {
			if item.Visited.Seen(link) {
				continue
			}
			children = append(children, FrontierItem{
				SiteID:      item.SiteID,
				URL:         link,
				Depth:       item.Depth + 1,
				Breadcrumbs: breadcrumbs,
				Visited:     item.Visited,
			})
		}
	}

	metrics.ObservePage(item.URL, "success", len(resp.Body))
	logger.Info("page stored",
		zap.String("title", page.Title),
		zap.Int("chunks", len(chunks)),
		zap.Int("links", len(links)),
	)
	return PageResult{
		URL:       item.URL,
		Title:     page.Title,
		Chunks:    len(chunks),
		Relations: len(links),
		Children:  children,
	}, nil
}

func (c *Controller) startRun(ctx context.Context, site store.Site, root string) string {
	if c.runs == nil {
		return ""
	}
	id, err := c.ids.NewID()
	if err != nil {
		c.logger.Warn("generate crawl run id", zap.Error(err))
		return ""
	}
	err = c.runs.StartRun(ctx, store.CrawlRun{
		ID:          id,
		SiteID:      site.ID,
		RootURL:     root,
		MaxDepth:    c.cfg.MaxDepth,
		Concurrency: c.cfg.Concurrency,
		StartedAt:   c.clock.Now(),
		Status:      store.RunRunning,
	})
	if err != nil {
		c.logger.Warn("record crawl run start", zap.Error(err))
		return ""
	}
	return id
}

func (c *Controller) finishRun(ctx context.Context, runID string, stats Stats, runErr error) {
	if runID == "" {
		return
	}
	status := store.RunSuccess
	var msg *string
	if runErr != nil {
		status = store.RunError
		text := runErr.Error()
		msg = &text
	}
	// ctx may already be cancelled.
	if err := c.runs.CompleteRun(context.WithoutCancel(ctx), runID, c.clock.Now(), status, stats.RunStats(), msg); err != nil {
		c.logger.Warn("record crawl run completion", zap.String("run_id", runID), zap.Error(err))
	}
}

// crawlableLinks normalizes links and keeps the unique same-site documents other than from.
func crawlableLinks(from string, links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, raw := range links {
		link, err := NormalizeURL(raw, "")
		if err != nil || link == from || !IsCrawlable(link, from) {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

func isHTML(resp FetchResponse) bool {
	ct := strings.ToLower(resp.Headers.Get("Content-Type"))
	return ct == "" || strings.Contains(ct, "html")
}

// head returns the first n runes of s; n <= 0 keeps everything.
func head(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
