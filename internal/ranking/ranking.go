// Package ranking turns vector and title-similarity candidates into the final,
// URL-deduplicated, term-reranked search results.
package ranking

import (
	"cmp"
	"slices"
	"strings"
)

const (
	DefaultMaxVectorDistance   = 0.6
	DefaultMinTitleSimilarity  = 0.3
	DefaultTitleBoostThreshold = 0.3
	DefaultTitleWeight         = 2
	DefaultExactTitleBonus     = 20

	candidateMultiplier = 10
	candidateFloor      = 50
)

// Options tunes every ranking stage.
type Options struct {
	// A candidate qualifies when its cosine distance is below
	// MaxVectorDistance or its title similarity exceeds MinTitleSimilarity.
	MaxVectorDistance  float64
	MinTitleSimilarity float64
	// TitleBoostThreshold switches the hybrid score to the title-weighted formula.
	TitleBoostThreshold float64
	TitleWeight         int
	ExactTitleBonus     int
	// KeepChunksPerURL bounds how many chunks of one page are attached to its result.
	KeepChunksPerURL int
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		MaxVectorDistance:   DefaultMaxVectorDistance,
		MinTitleSimilarity:  DefaultMinTitleSimilarity,
		TitleBoostThreshold: DefaultTitleBoostThreshold,
		TitleWeight:         DefaultTitleWeight,
		ExactTitleBonus:     DefaultExactTitleBonus,
		KeepChunksPerURL:    1,
	}
}

// Candidate is one stored chunk scored against a query.
type Candidate struct {
	SiteID      string
	URL         string
	ChunkIndex  int
	Title       string
	Content     string
	Breadcrumbs []string
	Tags        []string
	// Distance is the cosine distance between the chunk and query embeddings.
	Distance        float64
	TitleSimilarity float64
}

// Snippet is an extra qualifying chunk of a result's page.
type Snippet struct {
	ChunkIndex  int     `json:"chunk_index"`
	Content     string  `json:"content"`
	HybridScore float64 `json:"hybrid_score"`
}

// Result is a ranked, deduplicated page.
type Result struct {
	SiteID          string    `json:"site_id"`
	URL             string    `json:"url"`
	ChunkIndex      int       `json:"chunk_index"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	Breadcrumbs     []string  `json:"breadcrumbs"`
	Tags            []string  `json:"tags"`
	Distance        float64   `json:"distance"`
	TitleSimilarity float64   `json:"title_similarity"`
	HybridScore     float64   `json:"hybrid_score"`
	Score           int       `json:"score"`
	MatchedChunks   int       `json:"matched_chunks"`
	Related         []Snippet `json:"related,omitempty"`
}

// CandidateLimit is the size of the candidate superset fetched for limit results.
func CandidateLimit(limit int) int {
	return max(limit*candidateMultiplier, candidateFloor)
}

// Qualifies reports whether c passes the vector-or-title prefilter.
func (o Options) Qualifies(c Candidate) bool {
	return c.Distance < o.MaxVectorDistance || c.TitleSimilarity > o.MinTitleSimilarity
}

// HybridScore favours strong literal title matches over purely semantic ones.
func (o Options) HybridScore(c Candidate) float64 {
	if c.TitleSimilarity > o.TitleBoostThreshold {
		return c.TitleSimilarity*2 + (1-c.Distance)*0.5
	}
	return 1 - c.Distance
}

// Rank filters, scores, deduplicates by URL and reranks candidates, returning
// at most limit results. Candidates may arrive in any order.
func Rank(query string, candidates []Candidate, limit int, opts Options) []Result {
	if limit <= 0 {
		return nil
	}
	scored := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if !opts.Qualifies(c) {
			continue
		}
		scored = append(scored, Result{
			SiteID:          c.SiteID,
			URL:             c.URL,
			ChunkIndex:      c.ChunkIndex,
			Title:           c.Title,
			Content:         c.Content,
			Breadcrumbs:     c.Breadcrumbs,
			Tags:            c.Tags,
			Distance:        c.Distance,
			TitleSimilarity: c.TitleSimilarity,
			HybridScore:     opts.HybridScore(c),
		})
	}
	slices.SortStableFunc(scored, func(a, b Result) int {
		if c := cmp.Compare(b.HybridScore, a.HybridScore); c != 0 {
			return c
		}
		return cmp.Compare(a.Distance, b.Distance)
	})

	results := Dedupe(scored, opts.KeepChunksPerURL)
	results = Rerank(query, results, opts)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Dedupe keeps the first result per URL from an already ordered slice. Up to
// keep-1 later chunks of the same URL are attached as Related snippets.
func Dedupe(ordered []Result, keep int) []Result {
	if keep < 1 {
		keep = 1
	}
	index := make(map[string]int, len(ordered))
	out := make([]Result, 0, len(ordered))
	for _, r := range ordered {
		pos, seen := index[r.URL]
		if !seen {
			r.MatchedChunks = 1
			r.Related = nil
			index[r.URL] = len(out)
			out = append(out, r)
			continue
		}
		best := &out[pos]
		best.MatchedChunks++
		if len(best.Related) < keep-1 {
			best.Related = append(best.Related, Snippet{
				ChunkIndex:  r.ChunkIndex,
				Content:     r.Content,
				HybridScore: r.HybridScore,
			})
		}
	}
	return out
}

// Rerank scores results by query-term overlap: title hits weigh TitleWeight,
// content hits weigh 1, and a verbatim query in the title adds
// ExactTitleBonus. Zero-score results are dropped. Ties keep hybrid order.
func Rerank(query string, results []Result, opts Options) []Result {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	words := strings.Fields(queryLower)
	if len(words) == 0 {
		return nil
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		titleLower := strings.ToLower(r.Title)
		contentLower := strings.ToLower(r.Content)
		score := 0
		for _, w := range words {
			if strings.Contains(titleLower, w) {
				score += opts.TitleWeight
			}
			if strings.Contains(contentLower, w) {
				score++
			}
		}
		if strings.Contains(titleLower, queryLower) {
			score += opts.ExactTitleBonus
		}
		if score == 0 {
			continue
		}
		r.Score = score
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(b.HybridScore, a.HybridScore)
	})
	return out
}
