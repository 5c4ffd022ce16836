// Package embedded provides a single-process hybrid store: chromem-go holds
// the vectors, titles are matched with Go trigram similarity, and everything
// is snapshotted to a YAML file so a later `search` sees what `crawl` stored.
package embedded

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/site-rag-crawler/internal/ranking"
	"github.com/JakeFAU/site-rag-crawler/internal/retry"
	"github.com/JakeFAU/site-rag-crawler/internal/store"
)

const (
	collectionName  = "page_chunks"
	snapshotVersion = 1
)

// Config controls where the snapshot lives and how vectors are sized.
type Config struct {
	// Path of the YAML snapshot. Empty keeps everything in memory.
	Path         string
	EmbeddingDim int
	Ranking      ranking.Options
}

// IDGenerator creates site identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

type relationKey struct {
	siteID, from, to string
}

// Store implements store.HybridStore and store.RunRepository in memory.
type Store struct {
	cfg     Config
	ids     IDGenerator
	logger  *zap.Logger
	db      *chromem.DB
	vectors *chromem.Collection

	mu        sync.RWMutex
	sites     map[string]store.Site // keyed by canonical URL
	chunks    map[string]store.PageChunk
	relations map[relationKey]struct{}
	runs      map[string]store.CrawlRun
}

var (
	_ store.HybridStore   = (*Store)(nil)
	_ store.RunRepository = (*Store)(nil)
)

type snapshot struct {
	Version      int               `yaml:"version"`
	EmbeddingDim int               `yaml:"embedding_dim"`
	Sites        []store.Site      `yaml:"sites"`
	Chunks       []store.PageChunk `yaml:"chunks"`
	Relations    []store.Relation  `yaml:"relations"`
	Runs         []store.CrawlRun  `yaml:"runs"`
}

// Open builds the store and loads cfg.Path when it exists.
func Open(ctx context.Context, cfg Config, ids IDGenerator, logger *zap.Logger) (*Store, error) {
	if cfg.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be > 0")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.Ranking == (ranking.Options{}) {
		cfg.Ranking = ranking.DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db := chromem.NewDB()
	// Embeddings are always supplied by the caller, so no embedding func is needed.
	coll, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create vector collection: %w", err)
	}
	s := &Store{
		cfg:       cfg,
		ids:       ids,
		logger:    logger,
		db:        db,
		vectors:   coll,
		sites:     make(map[string]store.Site),
		chunks:    make(map[string]store.PageChunk),
		relations: make(map[relationKey]struct{}),
		runs:      make(map[string]store.CrawlRun),
	}
	if cfg.Path != "" {
		if err := s.load(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	raw, err := os.ReadFile(s.cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap snapshot
	if err := yaml.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", s.cfg.Path, err)
	}
	if snap.EmbeddingDim != 0 && snap.EmbeddingDim != s.cfg.EmbeddingDim {
		return fmt.Errorf("%w: snapshot %s holds %d-dimensional vectors, configured %d",
			store.ErrDimensionMismatch, s.cfg.Path, snap.EmbeddingDim, s.cfg.EmbeddingDim)
	}
	for _, site := range snap.Sites {
		s.sites[site.CanonicalURL] = site
	}
	for _, rel := range snap.Relations {
		s.relations[relationKey{rel.SiteID, rel.FromURL, rel.ToURL}] = struct{}{}
	}
	for _, run := range snap.Runs {
		s.runs[run.ID] = run
	}
	docs := make([]chromem.Document, 0, len(snap.Chunks))
	for _, chunk := range snap.Chunks {
		s.chunks[chunk.Key()] = chunk
		docs = append(docs, document(chunk))
	}
	if len(docs) > 0 {
		if err := s.vectors.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("index snapshot chunks: %w", err)
		}
	}
	s.logger.Info("loaded embedded store snapshot",
		zap.String("path", s.cfg.Path),
		zap.Int("sites", len(snap.Sites)),
		zap.Int("chunks", len(snap.Chunks)),
		zap.Int("relations", len(snap.Relations)),
	)
	return nil
}

// Save writes the snapshot atomically. It is a no-op without a path.
func (s *Store) Save() error {
	if s.cfg.Path == "" {
		return nil
	}
	s.mu.RLock()
	snap := snapshot{Version: snapshotVersion, EmbeddingDim: s.cfg.EmbeddingDim}
	for _, site := range s.sites {
		snap.Sites = append(snap.Sites, site)
	}
	for _, chunk := range s.chunks {
		snap.Chunks = append(snap.Chunks, chunk)
	}
	for key := range s.relations {
		snap.Relations = append(snap.Relations, store.Relation{SiteID: key.siteID, FromURL: key.from, ToURL: key.to})
	}
	for _, run := range s.runs {
		snap.Runs = append(snap.Runs, run)
	}
	s.mu.RUnlock()

	slices.SortFunc(snap.Sites, func(a, b store.Site) int { return cmp.Compare(a.CanonicalURL, b.CanonicalURL) })
	slices.SortFunc(snap.Chunks, func(a, b store.PageChunk) int {
		return cmp.Or(cmp.Compare(a.SiteID, b.SiteID), cmp.Compare(a.URL, b.URL), cmp.Compare(a.ChunkIndex, b.ChunkIndex))
	})
	slices.SortFunc(snap.Relations, func(a, b store.Relation) int {
		return cmp.Or(cmp.Compare(a.SiteID, b.SiteID), cmp.Compare(a.FromURL, b.FromURL), cmp.Compare(a.ToURL, b.ToURL))
	})
	slices.SortFunc(snap.Runs, func(a, b store.CrawlRun) int { return a.StartedAt.Compare(b.StartedAt) })

	raw, err := yaml.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if dir := filepath.Dir(s.cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := s.cfg.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.cfg.Path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Close persists the snapshot.
func (s *Store) Close() error {
	return s.Save()
}

// UpsertSite inserts the site or renames the existing one with the same URL.
func (s *Store) UpsertSite(_ context.Context, name, canonicalURL string) (store.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if site, ok := s.sites[canonicalURL]; ok {
		site.Name = name
		s.sites[canonicalURL] = site
		return site, nil
	}
	id, err := s.ids.NewID()
	if err != nil {
		return store.Site{}, err
	}
	site := store.Site{ID: id, Name: name, CanonicalURL: canonicalURL}
	s.sites[canonicalURL] = site
	return site, nil
}

// UpsertChunk inserts or overwrites a chunk and its vector.
func (s *Store) UpsertChunk(ctx context.Context, chunk store.PageChunk) error {
	if err := chunk.Validate(s.cfg.EmbeddingDim); err != nil {
		return retry.Critical(err)
	}
	chunk.Embedding = slices.Clone(chunk.Embedding)
	chunk.Breadcrumbs = slices.Clone(chunk.Breadcrumbs)
	chunk.Tags = slices.Clone(chunk.Tags)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.vectors.AddDocument(ctx, document(chunk)); err != nil {
		return fmt.Errorf("index chunk %s: %w", chunk.Key(), err)
	}
	s.chunks[chunk.Key()] = chunk
	return nil
}

// RecordRelations stores from->to edges. Self-loops and duplicates are skipped.
func (s *Store) RecordRelations(_ context.Context, siteID, fromURL string, toURLs []string) error {
	targets := store.CleanRelations(fromURL, toURLs)
	if len(targets) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, to := range targets {
		s.relations[relationKey{siteID, fromURL, to}] = struct{}{}
	}
	return nil
}

// FindBacklinks returns pages linking directly to toURL, ordered by source URL.
func (s *Store) FindBacklinks(_ context.Context, toURL string) ([]store.Backlink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var links []store.Backlink
	for key := range s.relations {
		if key.to == toURL {
			links = append(links, store.Backlink{FromURL: key.from, SiteID: key.siteID})
		}
	}
	slices.SortFunc(links, func(a, b store.Backlink) int {
		return cmp.Or(cmp.Compare(a.FromURL, b.FromURL), cmp.Compare(a.SiteID, b.SiteID))
	})
	return links, nil
}

// Search returns hybrid-ranked results. Candidates are the nearest chunks
// from the vector index plus the best title matches.
func (s *Store) Search(ctx context.Context, query string, embedding []float32, limit int) ([]ranking.Result, error) {
	if len(embedding) != s.cfg.EmbeddingDim {
		return nil, retry.Critical(fmt.Errorf("%w: got %d, want %d",
			store.ErrDimensionMismatch, len(embedding), s.cfg.EmbeddingDim))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := min(ranking.CandidateLimit(limit), s.vectors.Count())
	if n == 0 {
		return nil, nil
	}
	nearest, err := s.vectors.QueryEmbedding(ctx, slices.Clone(embedding), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	seen := make(map[string]struct{}, n*2)
	candidates := make([]ranking.Candidate, 0, n*2)
	for _, hit := range nearest {
		chunk, ok := s.chunks[hit.ID]
		if !ok {
			continue
		}
		seen[hit.ID] = struct{}{}
		candidates = append(candidates, candidate(chunk, query, 1-float64(hit.Similarity)))
	}

	type titleHit struct {
		key string
		sim float64
	}
	var titleHits []titleHit
	for key, chunk := range s.chunks {
		if _, ok := seen[key]; ok {
			continue
		}
		if sim := ranking.Similarity(chunk.Title, query); sim > s.cfg.Ranking.MinTitleSimilarity {
			titleHits = append(titleHits, titleHit{key: key, sim: sim})
		}
	}
	slices.SortFunc(titleHits, func(a, b titleHit) int {
		return cmp.Or(cmp.Compare(b.sim, a.sim), cmp.Compare(a.key, b.key))
	})
	if len(titleHits) > n {
		titleHits = titleHits[:n]
	}
	for _, hit := range titleHits {
		chunk := s.chunks[hit.key]
		candidates = append(candidates, candidate(chunk, query, cosineDistance(embedding, chunk.Embedding)))
	}

	return ranking.Rank(query, candidates, limit, s.cfg.Ranking), nil
}

func candidate(chunk store.PageChunk, query string, distance float64) ranking.Candidate {
	return ranking.Candidate{
		SiteID:          chunk.SiteID,
		URL:             chunk.URL,
		ChunkIndex:      chunk.ChunkIndex,
		Title:           chunk.Title,
		Content:         chunk.Content,
		Breadcrumbs:     chunk.Breadcrumbs,
		Tags:            chunk.Tags,
		Distance:        distance,
		TitleSimilarity: ranking.Similarity(chunk.Title, query),
	}
}

func document(chunk store.PageChunk) chromem.Document {
	return chromem.Document{
		ID:      chunk.Key(),
		Content: chunk.Content,
		Metadata: map[string]string{
			"site_id":     chunk.SiteID,
			"url":         chunk.URL,
			"chunk_index": strconv.Itoa(chunk.ChunkIndex),
		},
		Embedding: slices.Clone(chunk.Embedding),
	}
}

// cosineDistance mirrors pgvector's <=> operator.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
