package store

import (
	"context"
	"time"
)

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Crawl run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunStats are the counters reported at the end of a crawl.
type RunStats struct {
	PagesVisited    int64 `json:"pages_visited" yaml:"pages_visited"`
	PagesFailed     int64 `json:"pages_failed" yaml:"pages_failed"`
	ChunksStored    int64 `json:"chunks_stored" yaml:"chunks_stored"`
	RelationsStored int64 `json:"relations_stored" yaml:"relations_stored"`
}

// CrawlRun models one invocation of the crawler against a site.
type CrawlRun struct {
	ID      string `json:"id" yaml:"id"`
	SiteID  string `json:"site_id" yaml:"site_id"`
	RootURL string `json:"root_url" yaml:"root_url"`
	// MaxDepth and Concurrency record the knobs the run used.
	MaxDepth    int        `json:"max_depth" yaml:"max_depth"`
	Concurrency int        `json:"concurrency" yaml:"concurrency"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Status      RunStatus  `json:"status" yaml:"status"`
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string  `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	Stats        RunStats `json:"stats" yaml:"stats"`
}

// RunRepository persists crawl run bookkeeping.
type RunRepository interface {
	// StartRun inserts a running crawl run.
	StartRun(ctx context.Context, run CrawlRun) error
	// CompleteRun marks the run finished with its status, counters and error.
	CompleteRun(ctx context.Context, runID string, finishedAt time.Time, status RunStatus, stats RunStats, errMsg *string) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID string) (CrawlRun, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]CrawlRun, error)
}
