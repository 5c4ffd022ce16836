// Package postgres provides the Postgres-backed hybrid store: pgvector for
// embeddings, pg_trgm for title similarity, plus the link graph and crawl runs.
package postgres

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag-crawler/internal/ranking"
	"github.com/JakeFAU/site-rag-crawler/internal/retry"
	"github.com/JakeFAU/site-rag-crawler/internal/store"
)

//go:embed schema.sql
var schemaSQL string

var schemaTemplate = template.Must(template.New("schema").Parse(schemaSQL))

// Config controls the connection pool and vector column size.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	EmbeddingDim    int
	Ranking         ranking.Options
}

// IDGenerator creates site identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements store.HybridStore and store.RunRepository on Postgres.
type Store struct {
	pool    pool
	ids     IDGenerator
	dim     int
	ranking ranking.Options
	logger  *zap.Logger
}

var (
	_ store.HybridStore   = (*Store)(nil)
	_ store.RunRepository = (*Store)(nil)
)

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config, ids IDGenerator, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolCfg.AfterConnect = registerVectorTypes(logger)
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewWithPool(p, cfg, ids, logger)
}

// registerVectorTypes teaches each connection the binary vector codec. Before
// EnsureSchema has created the extension the type is missing; parameters then
// travel in pgvector's text form through pgvector.Vector's driver.Valuer.
func registerVectorTypes(logger *zap.Logger) func(context.Context, *pgx.Conn) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("vector type not registered", zap.Error(err))
		}
		return nil
	}
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, cfg Config, ids IDGenerator, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be > 0")
	}
	opts := cfg.Ranking
	if opts == (ranking.Options{}) {
		opts = ranking.DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, ids: ids, dim: cfg.EmbeddingDim, ranking: opts, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// EnsureSchema creates the extensions, tables and indexes if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl, err := renderSchema(s.dim)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", classify(err))
	}
	return nil
}

func renderSchema(dim int) (string, error) {
	var buf bytes.Buffer
	if err := schemaTemplate.Execute(&buf, struct{ EmbeddingDim int }{dim}); err != nil {
		return "", fmt.Errorf("render schema: %w", err)
	}
	return buf.String(), nil
}

const upsertSiteSQL = `
INSERT INTO sites (id, name, canonical_url)
VALUES ($1, $2, $3)
ON CONFLICT (canonical_url) DO UPDATE SET name = EXCLUDED.name
RETURNING id::text, name, canonical_url`

// UpsertSite inserts the site or renames the existing row with the same URL.
func (s *Store) UpsertSite(ctx context.Context, name, canonicalURL string) (store.Site, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return store.Site{}, err
	}
	var site store.Site
	err = s.pool.QueryRow(ctx, upsertSiteSQL, id, name, canonicalURL).
		Scan(&site.ID, &site.Name, &site.CanonicalURL)
	if err != nil {
		return store.Site{}, fmt.Errorf("upsert site: %w", classify(err))
	}
	return site, nil
}

const upsertChunkSQL = `
INSERT INTO page_chunks (site_id, url, chunk_index, title, content, full_content_hint, embedding, breadcrumbs, tags, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8, $9, now())
ON CONFLICT (site_id, url, chunk_index) DO UPDATE SET
    title = EXCLUDED.title,
    content = EXCLUDED.content,
    full_content_hint = EXCLUDED.full_content_hint,
    embedding = EXCLUDED.embedding,
    breadcrumbs = EXCLUDED.breadcrumbs,
    tags = EXCLUDED.tags,
    updated_at = now()`

// UpsertChunk inserts or overwrites a chunk.
func (s *Store) UpsertChunk(ctx context.Context, chunk store.PageChunk) error {
	if err := chunk.Validate(s.dim); err != nil {
		return retry.Critical(err)
	}
	_, err := s.pool.Exec(ctx, upsertChunkSQL,
		chunk.SiteID,
		chunk.URL,
		chunk.ChunkIndex,
		chunk.Title,
		chunk.Content,
		chunk.FullContentHint,
		pgvector.NewVector(chunk.Embedding),
		nonNil(chunk.Breadcrumbs),
		nonNil(chunk.Tags),
	)
	if err != nil {
		return fmt.Errorf("upsert chunk %s: %w", chunk.Key(), classify(err))
	}
	return nil
}

const insertRelationsSQL = `
INSERT INTO page_relations (site_id, from_url, to_url)
SELECT $1, $2, unnest($3::text[])
ON CONFLICT DO NOTHING`

// RecordRelations stores from->to edges. Self-loops and duplicates are skipped.
func (s *Store) RecordRelations(ctx context.Context, siteID, fromURL string, toURLs []string) error {
	targets := store.CleanRelations(fromURL, toURLs)
	if len(targets) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, insertRelationsSQL, siteID, fromURL, targets); err != nil {
		return fmt.Errorf("record relations from %s: %w", fromURL, classify(err))
	}
	return nil
}

const searchSQL = `
WITH q AS (
    SELECT $1::vector AS emb, $2::text AS query
),
candidates AS (
    (SELECT c.site_id, c.url, c.chunk_index
       FROM page_chunks c, q
      ORDER BY c.embedding <=> q.emb
      LIMIT $3)
    UNION
    (SELECT c.site_id, c.url, c.chunk_index
       FROM page_chunks c, q
      WHERE similarity(c.title, q.query) > $5
      ORDER BY similarity(c.title, q.query) DESC
      LIMIT $3)
)
SELECT c.site_id::text, c.url, c.chunk_index, c.title, c.content, c.breadcrumbs, c.tags,
       (c.embedding <=> q.emb)::float8 AS distance,
       similarity(c.title, q.query)::float8 AS title_similarity
  FROM page_chunks c
  JOIN candidates USING (site_id, url, chunk_index)
 CROSS JOIN q
 WHERE (c.embedding <=> q.emb) < $4 OR similarity(c.title, q.query) > $5
 ORDER BY distance ASC`

// Search returns hybrid-ranked results. Candidates are the nearest chunks by
// cosine distance together with the best title matches, so a literal title
// hit is never lost behind closer vectors.
func (s *Store) Search(ctx context.Context, query string, embedding []float32, limit int) ([]ranking.Result, error) {
	if len(embedding) != s.dim {
		return nil, retry.Critical(fmt.Errorf("%w: got %d, want %d", store.ErrDimensionMismatch, len(embedding), s.dim))
	}
	rows, err := s.pool.Query(ctx, searchSQL,
		pgvector.NewVector(embedding),
		query,
		ranking.CandidateLimit(limit),
		s.ranking.MaxVectorDistance,
		s.ranking.MinTitleSimilarity,
	)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", classify(err))
	}
	defer rows.Close()

	var candidates []ranking.Candidate
	for rows.Next() {
		var c ranking.Candidate
		if err := rows.Scan(
			&c.SiteID,
			&c.URL,
			&c.ChunkIndex,
			&c.Title,
			&c.Content,
			&c.Breadcrumbs,
			&c.Tags,
			&c.Distance,
			&c.TitleSimilarity,
		); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", classify(err))
	}
	s.logger.Debug("search candidates", zap.String("query", query), zap.Int("candidates", len(candidates)))
	return ranking.Rank(query, candidates, limit, s.ranking), nil
}

const backlinksSQL = `
SELECT from_url, site_id::text
  FROM page_relations
 WHERE to_url = $1
 ORDER BY from_url`

// FindBacklinks returns pages linking directly to toURL.
func (s *Store) FindBacklinks(ctx context.Context, toURL string) ([]store.Backlink, error) {
	rows, err := s.pool.Query(ctx, backlinksSQL, toURL)
	if err != nil {
		return nil, fmt.Errorf("find backlinks: %w", classify(err))
	}
	defer rows.Close()

	var links []store.Backlink
	for rows.Next() {
		var b store.Backlink
		if err := rows.Scan(&b.FromURL, &b.SiteID); err != nil {
			return nil, fmt.Errorf("scan backlink row: %w", err)
		}
		links = append(links, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backlinks: %w", classify(err))
	}
	return links, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// classify marks errors that retrying cannot fix as critical: data
// exceptions, integrity violations, syntax or access errors and missing objects.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "22"), // data exception
		strings.HasPrefix(pgErr.Code, "23"), // integrity constraint violation
		strings.HasPrefix(pgErr.Code, "42"), // syntax error or access rule violation
		strings.HasPrefix(pgErr.Code, "28"): // invalid authorization
		return retry.Critical(err)
	default:
		return err
	}
}
