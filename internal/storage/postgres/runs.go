package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/site-rag-crawler/internal/store"
)

// StartRun inserts a running crawl run.
func (s *Store) StartRun(ctx context.Context, run store.CrawlRun) error {
	query := `
		INSERT INTO crawl_runs (id, site_id, root_url, max_depth, concurrency, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, query,
		run.ID, run.SiteID, run.RootURL, run.MaxDepth, run.Concurrency, run.StartedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to start crawl run: %w", classify(err))
	}
	return nil
}

// CompleteRun marks a run finished with a status, counters and optional error message.
func (s *Store) CompleteRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status store.RunStatus,
	stats store.RunStats,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, error_message = $3,
		    pages_visited = $4, pages_failed = $5, chunks_stored = $6, relations_stored = $7
		WHERE id = $8;
	`
	res, err := s.pool.Exec(ctx, query,
		finishedAt, status, errMsg,
		stats.PagesVisited, stats.PagesFailed, stats.ChunksStored, stats.RelationsStored,
		runID)
	if err != nil {
		return fmt.Errorf("failed to complete crawl run: %w", classify(err))
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const runColumns = `id::text, COALESCE(site_id::text, ''), root_url, max_depth, concurrency,
	started_at, finished_at, status, error_message,
	pages_visited, pages_failed, chunks_stored, relations_stored`

func scanRun(row pgx.Row) (store.CrawlRun, error) {
	var run store.CrawlRun
	err := row.Scan(
		&run.ID,
		&run.SiteID,
		&run.RootURL,
		&run.MaxDepth,
		&run.Concurrency,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
		&run.Stats.PagesVisited,
		&run.Stats.PagesFailed,
		&run.Stats.ChunksStored,
		&run.Stats.RelationsStored,
	)
	return run, err
}

// GetRun retrieves a single crawl run by its ID.
func (s *Store) GetRun(ctx context.Context, runID string) (store.CrawlRun, error) {
	query := `SELECT ` + runColumns + ` FROM crawl_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.CrawlRun{}, store.ErrNotFound
		}
		return store.CrawlRun{}, fmt.Errorf("failed to get crawl run: %w", classify(err))
	}
	return run, nil
}

// ListRuns returns crawl runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]store.CrawlRun, error) {
	query := `SELECT ` + runColumns + ` FROM crawl_runs ORDER BY started_at DESC LIMIT $1 OFFSET $2;`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawl runs: %w", classify(err))
	}
	defer rows.Close()

	var runs []store.CrawlRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crawl run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate crawl runs: %w", err)
	}
	return runs, nil
}
