// Package search answers queries against the hybrid store.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag-crawler/internal/crawler"
	"github.com/JakeFAU/site-rag-crawler/internal/logging"
	"github.com/JakeFAU/site-rag-crawler/internal/metrics"
	"github.com/JakeFAU/site-rag-crawler/internal/ranking"
	"github.com/JakeFAU/site-rag-crawler/internal/retry"
	"github.com/JakeFAU/site-rag-crawler/internal/store"
)

// Result limits.
const (
	DefaultLimit = 5
	MaxLimit     = 50
)

var (
	// ErrEmptyQuery rejects blank queries.
	ErrEmptyQuery = errors.New("empty search query")
	// ErrInvalidURL rejects backlink targets that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid url")
)

// Embedder turns the query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Timings records how long each stage took, in milliseconds.
type Timings struct {
	EmbedMillis     float64 `json:"embed_ms"`
	SearchMillis    float64 `json:"search_ms"`
	BacklinksMillis float64 `json:"backlinks_ms"`
}

// Response is the outcome of one query. Backlinks belong to the top result.
type Response struct {
	Query     string           `json:"query"`
	Results   []ranking.Result `json:"results"`
	Backlinks []store.Backlink `json:"backlinks"`
	Timings   Timings          `json:"timings"`
}

// Service embeds queries and searches the store.
type Service struct {
	embedder Embedder
	store    store.Reader
	policy   retry.Config
	logger   *zap.Logger
}

// New builds a Service; embedding calls run under policy.
func New(embedder Embedder, reader store.Reader, policy retry.Config, logger *zap.Logger) *Service {
	logger = logging.OrNop(logger)
	return &Service{
		embedder: embedder,
		store:    reader,
		policy: policy.Named("embed_query").WithLogger(logger).WithOnRetry(func(_ error, _ int, h *retry.History) error {
			metrics.ObserveRetry(h.Operation)
			return nil
		}),
		logger: logger,
	}
}

// Search embeds query, ranks matching pages and loads the backlinks of the
// best one. No match is an empty Response, not an error.
func (s *Service) Search(ctx context.Context, query string, limit int) (Response, error) {
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return Response{}, ErrEmptyQuery
	}
	limit = clampLimit(limit)
	resp := Response{Query: query, Results: []ranking.Result{}, Backlinks: []store.Backlink{}}

	start := time.Now()
	embedding, err := retry.Do(ctx, s.policy, func(ctx context.Context) ([]float32, error) {
		return s.embedder.Embed(ctx, query)
	})
	resp.Timings.EmbedMillis = stage("embed", start)
	if err != nil {
		metrics.ObserveSearch("error")
		return Response{}, fmt.Errorf("embed query: %w", err)
	}

	start = time.Now()
	results, err := s.store.Search(ctx, query, embedding, limit)
	resp.Timings.SearchMillis = stage("search", start)
	if err != nil {
		metrics.ObserveSearch("error")
		return Response{}, fmt.Errorf("search store: %w", err)
	}
	if len(results) == 0 {
		metrics.ObserveSearch("empty")
		s.logger.Info("no results", zap.String("query", query))
		return resp, nil
	}
	resp.Results = results

	start = time.Now()
	backlinks, err := s.store.FindBacklinks(ctx, results[0].URL)
	resp.Timings.BacklinksMillis = stage("backlinks", start)
	if err != nil {
		metrics.ObserveSearch("error")
		return Response{}, fmt.Errorf("find backlinks: %w", err)
	}
	resp.Backlinks = append(resp.Backlinks, backlinks...)

	metrics.ObserveSearch("hit")
	s.logger.Info("search finished",
		zap.String("query", query),
		zap.Int("results", len(results)),
		zap.Float64("embed_ms", resp.Timings.EmbedMillis),
		zap.Float64("search_ms", resp.Timings.SearchMillis),
	)
	return resp, nil
}

// Backlinks lists the pages linking to rawURL after normalizing it the way the crawler does.
func (s *Service) Backlinks(ctx context.Context, rawURL string) ([]store.Backlink, error) {
	target, err := crawler.NormalizeURL(rawURL, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	links, err := s.store.FindBacklinks(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("find backlinks: %w", err)
	}
	if links == nil {
		links = []store.Backlink{}
	}
	return links, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func stage(name string, start time.Time) float64 {
	d := time.Since(start)
	metrics.ObserveSearchStage(name, d)
	return float64(d.Microseconds()) / 1000
}
