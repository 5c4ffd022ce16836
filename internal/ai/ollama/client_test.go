package ollama

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-rag-crawler/internal/retry"
)

type fakeServer struct {
	mu        sync.Mutex
	models    []string
	pulled    []string
	embedReqs []map[string]any
	embedCode int
	reply     string
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		models := make([]map[string]string, 0, len(f.models))
		for _, m := range f.models {
			models = append(models, map[string]string{"name": m, "model": m})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.pulled = append(f.pulled, req["model"].(string))
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"status":"pulling manifest"}` + "\n" + `{"status":"success"}` + "\n"))
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.embedReqs = append(f.embedReqs, req)
		code := f.embedCode
		f.mu.Unlock()
		if code != 0 {
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "model failed"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      req["model"],
			"embeddings": [][]float32{{3, 4}},
		})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "llama3.2:3b",
			"message": map[string]string{"role": "assistant", "content": f.reply},
			"done":    true,
		})
	})
	return mux
}

func newTestClient(t *testing.T, cfg Config, f *fakeServer) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	cfg.Host = srv.URL
	c, err := New(cfg, srv.Client(), nil)
	require.NoError(t, err)
	return c
}

func TestEnsureModelsPullsMissing(t *testing.T) {
	t.Parallel()

	f := &fakeServer{models: []string{"bge-m3:latest"}}
	c := newTestClient(t, Config{PullMissing: true}, f)

	require.NoError(t, c.EnsureModels(context.Background()))
	assert.Equal(t, []string{DefaultChatModel}, f.pulled)
}

func TestEnsureModelsWithoutPull(t *testing.T) {
	t.Parallel()

	f := &fakeServer{}
	c := newTestClient(t, Config{}, f)

	err := c.EnsureModels(context.Background())
	require.ErrorContains(t, err, "bge-m3")
	assert.Empty(t, f.pulled)
}

func TestEnsureModelsUnreachable(t *testing.T) {
	t.Parallel()

	c, err := New(Config{Host: "http://127.0.0.1:1"}, nil, nil)
	require.NoError(t, err)
	require.Error(t, c.EnsureModels(context.Background()))
	require.Error(t, c.Ping(context.Background()))
}

func TestPing(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, Config{}, &fakeServer{})
	require.NoError(t, c.Ping(context.Background()))
}

func TestEmbedSendsCleanInputAndTruncate(t *testing.T) {
	t.Parallel()

	f := &fakeServer{}
	c := newTestClient(t, Config{Truncate: false}, f)

	vec, err := c.Embed(context.Background(), "  Title: X\r\n\r\n  Content:   body  ")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, vec)

	require.Len(t, f.embedReqs, 1)
	assert.Equal(t, "Title: X\nContent: body", f.embedReqs[0]["input"])
	assert.Equal(t, false, f.embedReqs[0]["truncate"])
	assert.Equal(t, DefaultEmbedModel, f.embedReqs[0]["model"])
}

func TestEmbedNormalizes(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, Config{Normalize: true}, &fakeServer{})
	vec, err := c.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
}

func TestEmbedErrors(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, Config{}, &fakeServer{embedCode: http.StatusNotFound})
	_, err := c.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, retry.IsCritical(err), "unknown model is not retryable")

	c = newTestClient(t, Config{}, &fakeServer{embedCode: http.StatusServiceUnavailable})
	_, err = c.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.False(t, retry.IsCritical(err))

	_, err = c.Embed(context.Background(), " \n ")
	require.ErrorIs(t, err, ErrEmptyInput)
	assert.True(t, retry.IsCritical(err))
}

func TestChatReturnsContent(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, Config{}, &fakeServer{reply: `["react","hooks"]`})
	out, err := c.Chat(context.Background(), "tag this")
	require.NoError(t, err)
	assert.Equal(t, `["react","hooks"]`, out)
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b\nc", CleanText(" a \t b \n\n c "))
	assert.Equal(t, "", CleanText(" \r\n "))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	v := Normalize([]float32{1, 1, 1, 1})
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	assert.InDelta(t, 1, math.Sqrt(sum), 1e-6)
	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
}
