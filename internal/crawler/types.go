package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/site-rag-crawler/internal/store"
)

// ErrSkipped marks pages that were deliberately not ingested: already visited,
// too deep, not HTML or too short to parse.
var ErrSkipped = errors.New("page skipped")

// FrontierItem is one pending URL of a crawl run.
type FrontierItem struct {
	SiteID      string
	URL         string
	Depth       int
	Breadcrumbs []string
	Visited     *VisitedSet
}

func (i FrontierItem) String() string {
	return fmt.Sprintf("%s (depth %d)", i.URL, i.Depth)
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL   string
	Depth int
}

// FetchResponse is the raw outcome of a fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// PageResult summarises one ingested page.
type PageResult struct {
	URL       string
	Title     string
	Chunks    int
	Relations int
	Children  []FrontierItem
}

// Stats are the counters of one crawl run.
type Stats struct {
	PagesVisited    int64
	PagesSkipped    int64
	PagesFailed     int64
	ChunksStored    int64
	RelationsStored int64
}

// RunStats converts s for the run repository.
func (s Stats) RunStats() store.RunStats {
	return store.RunStats{
		PagesVisited:    s.PagesVisited,
		PagesFailed:     s.PagesFailed,
		ChunksStored:    s.ChunksStored,
		RelationsStored: s.RelationsStored,
	}
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Tagger produces semantic tags. Malformed model output yields no tags rather than an error.
type Tagger interface {
	GenerateTags(ctx context.Context, text string) []string
}

// Store is the ingest side of the hybrid store.
type Store interface {
	store.Writer
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
