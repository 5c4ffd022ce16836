package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-rag-crawler/internal/ranking"
	"github.com/JakeFAU/site-rag-crawler/internal/retry"
	"github.com/JakeFAU/site-rag-crawler/internal/storage/embedded"
	"github.com/JakeFAU/site-rag-crawler/internal/store"
)

type fixedEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (e *fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.calls++
	return e.vec, e.err
}

type mockReader struct {
	mock.Mock
}

func (m *mockReader) Search(ctx context.Context, query string, embedding []float32, limit int) ([]ranking.Result, error) {
	args := m.Called(ctx, query, embedding, limit)
	results, _ := args.Get(0).([]ranking.Result)
	return results, args.Error(1)
}

func (m *mockReader) FindBacklinks(ctx context.Context, toURL string) ([]store.Backlink, error) {
	args := m.Called(ctx, toURL)
	links, _ := args.Get(0).([]store.Backlink)
	return links, args.Error(1)
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

func fastPolicy() retry.Config {
	return retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
}

func TestSearchReactHooksEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st, err := embedded.Open(ctx, embedded.Config{EmbeddingDim: 3}, &seqIDs{}, nil)
	require.NoError(t, err)
	chunks := []store.PageChunk{
		{URL: "https://blog/state", Title: "State Management Patterns", Content: "react apps manage state", Embedding: []float32{0.9, 0.1, 0}},
		{URL: "https://blog/closures", Title: "Understanding Closures", Content: "closures capture variables", Embedding: []float32{0, 1, 0}},
		{URL: "https://blog/hooks", Title: "Complete Guide to React Hooks", Content: "useState and useEffect", Embedding: []float32{0.2, 0.1, 0.97}},
	}
	for _, c := range chunks {
		c.SiteID = "site-1"
		require.NoError(t, st.UpsertChunk(ctx, c))
	}
	require.NoError(t, st.RecordRelations(ctx, "site-1", "https://blog", []string{"https://blog/hooks"}))
	require.NoError(t, st.RecordRelations(ctx, "site-1", "https://blog/state", []string{"https://blog/hooks"}))

	svc := New(&fixedEmbedder{vec: []float32{1, 0, 0}}, st, fastPolicy(), nil)
	resp, err := svc.Search(ctx, "  react   hooks ", 0)
	require.NoError(t, err)

	assert.Equal(t, "react hooks", resp.Query)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "https://blog/hooks", resp.Results[0].URL)
	assert.GreaterOrEqual(t, resp.Results[0].Score, ranking.DefaultExactTitleBonus)
	require.Len(t, resp.Backlinks, 2)
	assert.Equal(t, "https://blog", resp.Backlinks[0].FromURL)
	assert.GreaterOrEqual(t, resp.Timings.EmbedMillis, 0.0)
}

func TestSearchEmptyQuery(t *testing.T) {
	t.Parallel()

	emb := &fixedEmbedder{}
	svc := New(emb, &mockReader{}, fastPolicy(), nil)
	_, err := svc.Search(context.Background(), " \t ", 5)
	require.ErrorIs(t, err, ErrEmptyQuery)
	assert.Zero(t, emb.calls)
}

func TestSearchNoResultsIsNotAnError(t *testing.T) {
	t.Parallel()

	reader := &mockReader{}
	reader.On("Search", mock.Anything, "unknown", []float32{1}, DefaultLimit).Return([]ranking.Result(nil), nil)
	svc := New(&fixedEmbedder{vec: []float32{1}}, reader, fastPolicy(), nil)

	resp, err := svc.Search(context.Background(), "unknown", -1)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Backlinks)
	reader.AssertExpectations(t)
	reader.AssertNotCalled(t, "FindBacklinks", mock.Anything, mock.Anything)
}

func TestSearchClampsLimitAndPropagatesErrors(t *testing.T) {
	t.Parallel()

	reader := &mockReader{}
	reader.On("Search", mock.Anything, "q", []float32{1}, MaxLimit).Return([]ranking.Result(nil), errors.New("db down"))
	svc := New(&fixedEmbedder{vec: []float32{1}}, reader, fastPolicy(), nil)

	_, err := svc.Search(context.Background(), "q", 1000)
	require.ErrorContains(t, err, "db down")
	reader.AssertExpectations(t)

	emb := &fixedEmbedder{err: errors.New("ollama down")}
	svc = New(emb, reader, fastPolicy(), nil)
	_, err = svc.Search(context.Background(), "q", 1)
	var rerr *retry.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 2, emb.calls)
}

func TestSearchBacklinkFailure(t *testing.T) {
	t.Parallel()

	reader := &mockReader{}
	reader.On("Search", mock.Anything, "q", []float32{1}, 3).Return([]ranking.Result{{URL: "https://blog/a"}}, nil)
	reader.On("FindBacklinks", mock.Anything, "https://blog/a").Return([]store.Backlink(nil), errors.New("boom"))
	svc := New(&fixedEmbedder{vec: []float32{1}}, reader, fastPolicy(), nil)

	_, err := svc.Search(context.Background(), "q", 3)
	require.ErrorContains(t, err, "boom")
}

func TestBacklinksNormalizesURL(t *testing.T) {
	t.Parallel()

	reader := &mockReader{}
	reader.On("FindBacklinks", mock.Anything, "https://blog.test/b").Return([]store.Backlink(nil), nil)
	svc := New(&fixedEmbedder{}, reader, fastPolicy(), nil)

	links, err := svc.Backlinks(context.Background(), "HTTPS://Blog.test/b/?x=1#frag")
	require.NoError(t, err)
	assert.NotNil(t, links)
	assert.Empty(t, links)

	_, err = svc.Backlinks(context.Background(), "/relative")
	require.ErrorIs(t, err, ErrInvalidURL)
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultLimit, clampLimit(0))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, MaxLimit, clampLimit(MaxLimit+1))
}
