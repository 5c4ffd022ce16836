package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/site-rag-crawler/internal/ranking"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDimensionMismatch rejects embeddings whose length differs from the store's.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrInvalidChunk rejects chunks missing their key fields.
	ErrInvalidChunk = errors.New("invalid chunk")
)

// Site is a crawled website, unique by canonical URL.
type Site struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	CanonicalURL string `json:"canonical_url" yaml:"canonical_url"`
}

// PageChunk is one embedded slice of a page, keyed by (SiteID, URL, ChunkIndex).
type PageChunk struct {
	SiteID     string `yaml:"site_id"`
	URL        string `yaml:"url"`
	ChunkIndex int    `yaml:"chunk_index"`
	Title      string `yaml:"title"`
	Content    string `yaml:"content"`
	// FullContentHint is a short head of the page text kept for previews.
	FullContentHint string    `yaml:"full_content_hint,omitempty"`
	Embedding       []float32 `yaml:"embedding,flow"`
	Breadcrumbs     []string  `yaml:"breadcrumbs,flow"`
	Tags            []string  `yaml:"tags,flow"`
}

// Key identifies the chunk within a store.
func (c PageChunk) Key() string {
	return fmt.Sprintf("%s|%s|%d", c.SiteID, c.URL, c.ChunkIndex)
}

// Validate checks the key fields and, when dim > 0, the embedding length.
func (c PageChunk) Validate(dim int) error {
	if c.SiteID == "" || c.URL == "" || c.ChunkIndex < 0 {
		return fmt.Errorf("%w: site_id, url and a non-negative chunk_index are required", ErrInvalidChunk)
	}
	if len(c.Embedding) == 0 {
		return fmt.Errorf("%w: embedding is required", ErrInvalidChunk)
	}
	if dim > 0 && len(c.Embedding) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(c.Embedding), dim)
	}
	return nil
}

// Relation is a directed link between two pages of a site.
type Relation struct {
	SiteID  string `yaml:"site_id"`
	FromURL string `yaml:"from_url"`
	ToURL   string `yaml:"to_url"`
}

// Backlink is a page linking to the queried URL.
type Backlink struct {
	FromURL string `json:"from_url"`
	SiteID  string `json:"site_id"`
}

// Writer is the ingest side of the hybrid store.
type Writer interface {
	// UpsertSite inserts the site or renames an existing one with the same URL.
	UpsertSite(ctx context.Context, name, canonicalURL string) (Site, error)
	// UpsertChunk inserts or overwrites the chunk keyed by (SiteID, URL, ChunkIndex).
	UpsertChunk(ctx context.Context, chunk PageChunk) error
	// RecordRelations stores from->to edges, ignoring self-loops and duplicates.
	RecordRelations(ctx context.Context, siteID, fromURL string, toURLs []string) error
}

// Reader is the query side of the hybrid store.
type Reader interface {
	// Search returns hybrid-ranked, URL-deduplicated results.
	Search(ctx context.Context, query string, embedding []float32, limit int) ([]ranking.Result, error)
	// FindBacklinks returns the pages that link directly to toURL.
	FindBacklinks(ctx context.Context, toURL string) ([]Backlink, error)
}

// HybridStore combines vector and lexical retrieval with a link graph.
type HybridStore interface {
	Writer
	Reader
	Close() error
}

// CleanRelations drops empty targets, self-loops and duplicates from toURLs.
func CleanRelations(fromURL string, toURLs []string) []string {
	seen := make(map[string]struct{}, len(toURLs))
	out := make([]string, 0, len(toURLs))
	for _, to := range toURLs {
		if to == "" || to == fromURL {
			continue
		}
		if _, ok := seen[to]; ok {
			continue
		}
		seen[to] = struct{}{}
		out = append(out, to)
	}
	return out
}
