// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag-crawler/internal/ai/ollama"
	"github.com/JakeFAU/site-rag-crawler/internal/classifier"
	"github.com/JakeFAU/site-rag-crawler/internal/config"
	"github.com/JakeFAU/site-rag-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/site-rag-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/site-rag-crawler/internal/id/uuid"
	"github.com/JakeFAU/site-rag-crawler/internal/logging"
	"github.com/JakeFAU/site-rag-crawler/internal/metrics"
	"github.com/JakeFAU/site-rag-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/site-rag-crawler/internal/retry"
	"github.com/JakeFAU/site-rag-crawler/internal/search"
	"github.com/JakeFAU/site-rag-crawler/internal/storage/embedded"
	"github.com/JakeFAU/site-rag-crawler/internal/storage/postgres"
	"github.com/JakeFAU/site-rag-crawler/internal/store"
)

const connectTimeout = 5 * time.Second

// App holds the shared, long-lived services: the logger, the Ollama client
// and the hybrid store. It is built once per command and closed afterwards.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	ids     *uuid.Generator
	ollama  *ollama.Client
	store   store.HybridStore
	runs    store.RunRepository
	backend string
}

// New creates the App described by cfg. It fails fast when the store cannot be opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	logger.Info("initializing application services")
	metrics.Init()

	client, err := ollama.New(ollama.Config{
		Host:        cfg.Ollama.Host,
		EmbedModel:  cfg.Ollama.EmbedModel,
		ChatModel:   cfg.Ollama.ChatModel,
		Truncate:    cfg.Ollama.Truncate,
		Normalize:   cfg.Ollama.Normalize,
		PullMissing: cfg.Ollama.PullMissing,
		Timeout:     cfg.OllamaTimeout(),
	}, nil, logger.Named("ollama"))
	if err != nil {
		return nil, fmt.Errorf("init ollama client: %w", err)
	}

	ids := uuid.New()
	hs, backend, err := OpenStore(ctx, cfg, ids, logger)
	if err != nil {
		return nil, err
	}
	runs, _ := hs.(store.RunRepository)

	logger.Info("application services initialized", zap.String("store", backend))
	return &App{
		cfg:     cfg,
		logger:  logger,
		ids:     ids,
		ollama:  client,
		store:   hs,
		runs:    runs,
		backend: backend,
	}, nil
}

// OpenStore selects the hybrid store backend. The auto backend prefers
// Postgres when a DSN is configured and reachable, else the embedded store.
func OpenStore(ctx context.Context, cfg config.Config, ids *uuid.Generator, logger *zap.Logger) (store.HybridStore, string, error) {
	logger = logging.OrNop(logger)
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		st, err := openPostgres(ctx, cfg, ids, logger)
		if err != nil {
			return nil, "", err
		}
		return st, config.BackendPostgres, nil
	case config.BackendEmbedded:
	default:
		if cfg.DB.DSN != "" {
			st, err := openPostgres(ctx, cfg, ids, logger)
			if err == nil {
				return st, config.BackendPostgres, nil
			}
			logger.Warn("postgres unavailable, falling back to embedded store", zap.Error(err))
		}
	}
	st, err := embedded.Open(ctx, embedded.Config{
		Path:         cfg.Store.Path,
		EmbeddingDim: cfg.DB.EmbeddingDim,
		Ranking:      cfg.RankingOptions(),
	}, ids, logger.Named("store"))
	if err != nil {
		return nil, "", fmt.Errorf("open embedded store: %w", err)
	}
	return st, config.BackendEmbedded, nil
}

func openPostgres(ctx context.Context, cfg config.Config, ids *uuid.Generator, logger *zap.Logger) (*postgres.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	st, err := postgres.New(connectCtx, postgres.Config{
		DSN:          cfg.DB.DSN,
		MaxConns:     cfg.DB.MaxConns,
		EmbeddingDim: cfg.DB.EmbeddingDim,
		Ranking:      cfg.RankingOptions(),
	}, ids, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	err = retry.Run(ctx, retry.DatabasePolicy().Named("ensure_schema").WithLogger(logger), st.EnsureSchema)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return st, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the hybrid store.
func (a *App) Store() store.HybridStore { return a.store }

// Runs returns the crawl run repository, or nil when the backend has none.
func (a *App) Runs() store.RunRepository { return a.runs }

// Backend names the store backend in use.
func (a *App) Backend() string { return a.backend }

// Ollama returns the model client.
func (a *App) Ollama() *ollama.Client { return a.ollama }

// Controller assembles a crawl controller from the crawler section: a
// per-host rate limiter in front of the colly fetcher, the Ollama embedder,
// the chat-backed tagger and the hybrid store.
func (a *App) Controller(maxDepth, concurrency int) (*crawler.Controller, error) {
	c := a.cfg.Crawler
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: c.RequestsPerSec, DefaultBurst: c.Burst})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    c.UserAgent,
		Timeout:      a.cfg.CrawlTimeout(),
		MaxBodyBytes: c.MaxBodyBytes,
	}, limiter, a.logger.Named("fetcher"))
	tagger := classifier.New(a.ollama, retry.AIServicePolicy(), a.logger.Named("classifier"))

	ccfg := crawler.DefaultConfig()
	ccfg.MaxDepth = maxDepth
	ccfg.Concurrency = concurrency
	ccfg.Chunker = a.cfg.Chunker
	if d := a.cfg.PollInterval(); d > 0 {
		ccfg.PollInterval = d
	}
	if c.TagSummaryChars > 0 {
		ccfg.TagSummaryChars = c.TagSummaryChars
	}
	if c.MinContentLength > 0 {
		ccfg.MinContentLength = c.MinContentLength
	}

	return crawler.NewController(ccfg, crawler.Dependencies{
		Fetcher:  fetcher,
		Embedder: a.ollama,
		Tagger:   tagger,
		Store:    a.store,
		Runs:     a.runs,
		IDs:      a.ids,
		Logger:   a.logger.Named("crawler"),
	})
}

// Search builds the query service.
func (a *App) Search() *search.Service {
	return search.New(a.ollama, a.store, retry.AIServicePolicy(), a.logger.Named("search"))
}

// EnsureModels checks the model server and pulls missing models.
func (a *App) EnsureModels(ctx context.Context) error {
	return a.ollama.EnsureModels(ctx)
}

// Ready reports whether the model server answers.
func (a *App) Ready(ctx context.Context) error {
	return a.ollama.Ping(ctx)
}

// Close flushes the store and the logger. It is called by a Cobra hook after
// the command finishes execution.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("error closing store", zap.Error(err))
		}
	}
	// Sync fails on non-file sinks such as a terminal; nothing to do about it.
	_ = a.logger.Sync()
}
