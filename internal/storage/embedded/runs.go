package embedded

import (
	"context"
	"slices"
	"time"

	"github.com/JakeFAU/site-rag-crawler/internal/store"
)

// StartRun records a running crawl run.
func (s *Store) StartRun(_ context.Context, run store.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return nil
	}
	run.Status = store.RunRunning
	s.runs[run.ID] = run
	return nil
}

// CompleteRun marks the run finished.
func (s *Store) CompleteRun(
	_ context.Context,
	runID string,
	finishedAt time.Time,
	status store.RunStatus,
	stats store.RunStats,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	run.Stats = stats
	run.ErrorMessage = errMsg
	s.runs[runID] = run
	return nil
}

// GetRun loads a single run.
func (s *Store) GetRun(_ context.Context, runID string) (store.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.CrawlRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(_ context.Context, limit, offset int) ([]store.CrawlRun, error) {
	s.mu.RLock()
	runs := make([]store.CrawlRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	slices.SortFunc(runs, func(a, b store.CrawlRun) int { return b.StartedAt.Compare(a.StartedAt) })
	if offset >= len(runs) {
		return []store.CrawlRun{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
