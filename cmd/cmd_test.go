package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag-crawler/internal/config"
	"github.com/JakeFAU/site-rag-crawler/internal/crawler"
	"github.com/JakeFAU/site-rag-crawler/internal/retry"
	"github.com/JakeFAU/site-rag-crawler/internal/search"
	"github.com/JakeFAU/site-rag-crawler/internal/storage/embedded"
	"github.com/JakeFAU/site-rag-crawler/internal/store"
)

type fixedEmbedder struct{ vec []float32 }

func (e fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return e.vec, nil }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type fakeApp struct {
	cfg       config.Config
	store     *embedded.Store
	ensureErr error
	closed    bool
}

func (f *fakeApp) Close() { f.closed = true }
func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }
func (f *fakeApp) Config() config.Config { return f.cfg }
func (f *fakeApp) Runs() store.RunRepository { return f.store }
func (f *fakeApp) Backend() string { return config.BackendEmbedded }
func (f *fakeApp) EnsureModels(context.Context) error { return f.ensureErr }
func (f *fakeApp) Ready(context.Context) error { return nil }

func (f *fakeApp) Controller(int, int) (*crawler.Controller, error) {
	return nil, errors.New("not used")
}

func (f *fakeApp) Search() *search.Service {
	return search.New(fixedEmbedder{vec: []float32{1, 0, 0}}, f.store, retry.SimplePolicy(), nil)
}

func newFakeApp(t *testing.T) *fakeApp {
	t.Helper()
	ctx := context.Background()
	st, err := embedded.Open(ctx, embedded.Config{EmbeddingDim: 3}, &seqIDs{}, nil)
	require.NoError(t, err)
	chunks := []store.PageChunk{
		{URL: "https://blog/state", Title: "State Management Patterns", Content: "react apps manage state", Embedding: []float32{0.9, 0.1, 0}},
		{URL: "https://blog/hooks", Title: "Complete Guide to React Hooks", Content: "useState and useEffect", Embedding: []float32{0.2, 0.1, 0.97}, Tags: []string{"react", "hooks"}},
	}
	for _, c := range chunks {
		c.SiteID = "site-1"
		require.NoError(t, st.UpsertChunk(ctx, c))
	}
	require.NoError(t, st.RecordRelations(ctx, "site-1", "https://blog", []string{"https://blog/hooks"}))

	cfg, err := config.Load("")
	require.NoError(t, err)
	return &fakeApp{cfg: cfg, store: st}
}

// execute runs the root command against fake; it swaps the package factory, so callers must not be parallel.
func execute(t *testing.T, fake *fakeApp, args ...string) (string, error) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = prev })
	color.NoColor = true

	root, cleanup := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	cleanup()
	return out.String(), err
}

func TestSearchCommandPrintsResultsAndBacklinks(t *testing.T) {
	fake := newFakeApp(t)
	out, err := execute(t, fake, "search", "react", "hooks")
	require.NoError(t, err)

	assert.Contains(t, out, `Results for "react hooks"`)
	assert.Contains(t, out, "1. Complete Guide to React Hooks")
	assert.Contains(t, out, "tags: react, hooks")
	assert.Contains(t, out, "Pages linking to https://blog/hooks")
	assert.Contains(t, out, "   https://blog\n")
	assert.True(t, fake.closed)
}

func TestSearchCommandJSON(t *testing.T) {
	out, err := execute(t, newFakeApp(t), "search", "--json", "--limit", "1", "react hooks")
	require.NoError(t, err)

	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "https://blog/hooks", resp.Results[0].URL)
}

func TestSearchCommandNoResults(t *testing.T) {
	fake := newFakeApp(t)
	empty, err := embedded.Open(context.Background(), embedded.Config{EmbeddingDim: 3}, &seqIDs{}, nil)
	require.NoError(t, err)
	fake.store = empty

	out, err := execute(t, fake, "search", "anything")
	require.NoError(t, err)
	assert.Contains(t, out, `No results for "anything"`)
}

func TestCrawlCommandRequiresURL(t *testing.T) {
	fake := newFakeApp(t)
	fake.cfg.Crawler.RootURL = ""
	_, err := execute(t, fake, "crawl")
	require.ErrorContains(t, err, "root URL is required")
	assert.True(t, fake.closed)
}

func TestCrawlCommandStopsWhenModelsUnavailable(t *testing.T) {
	fake := newFakeApp(t)
	fake.ensureErr = errors.New("ollama is not running")
	_, err := execute(t, fake, "crawl", "--url", "https://blog")
	require.ErrorContains(t, err, "prepare models")
}

func TestServeCommandStopsWhenModelsUnavailable(t *testing.T) {
	fake := newFakeApp(t)
	fake.ensureErr = errors.New("ollama is not running")
	_, err := execute(t, fake, "serve", "--port", "0")
	require.ErrorContains(t, err, "prepare models")
	assert.True(t, fake.closed)
}

func TestResolveAppMissing(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)
}

func TestSnippetOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b", snippetOf("  a\n\n b "))
	long := strings.Repeat("x", snippetChars+10)
	assert.Equal(t, strings.Repeat("x", snippetChars)+"...", snippetOf(long))
}

func TestFirstNonEmpty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Empty(t, firstNonEmpty("", ""))
}

func TestServeUntilDoneShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	done := make(chan error, 1)
	go func() { done <- serveUntilDone(ctx, srv, zap.NewNop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
