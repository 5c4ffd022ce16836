package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Crawler.Concurrency)
	assert.Equal(t, 3, cfg.Crawler.MaxDepth)
	assert.Equal(t, 4000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 500, cfg.Chunker.MinChunkSize)
	assert.Equal(t, 200, cfg.Chunker.Overlap)
	assert.Equal(t, "bge-m3", cfg.Ollama.EmbedModel)
	assert.Equal(t, 1024, cfg.DB.EmbeddingDim)
	assert.Equal(t, BackendAuto, cfg.Store.Backend)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval())

	opts := cfg.RankingOptions()
	assert.InDelta(t, 0.6, opts.MaxVectorDistance, 1e-9)
	assert.InDelta(t, 0.3, opts.MinTitleSimilarity, 1e-9)
	assert.Equal(t, 1, opts.KeepChunksPerURL)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
crawler:
  root_url: https://overreacted.io
  max_depth: 1
  concurrency: 5
  timeout_seconds: 30
chunker:
  chunk_size: 2000
  min_chunk_size: 100
  overlap: 50
ollama:
  chat_model: qwen3:4b
search:
  limit: 10
  keep_chunks_per_url: 2
store:
  backend: embedded
  path: /tmp/index.yaml
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://overreacted.io", cfg.Crawler.RootURL)
	assert.Equal(t, 1, cfg.Crawler.MaxDepth)
	assert.Equal(t, 5, cfg.Crawler.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.CrawlTimeout())
	assert.Equal(t, 2000, cfg.Chunker.ChunkSize)
	assert.Equal(t, "qwen3:4b", cfg.Ollama.ChatModel)
	assert.Equal(t, 10, cfg.Search.Limit)
	assert.Equal(t, BackendEmbedded, cfg.Store.Backend)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SITERAG_CRAWLER_CONCURRENCY", "7")
	t.Setenv("SITERAG_DB_DSN", "postgres://localhost/siterag")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Crawler.Concurrency)
	assert.Equal(t, "postgres://localhost/siterag", cfg.DB.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"zero port":          func(c *Config) { c.Server.Port = 0 },
		"zero concurrency":   func(c *Config) { c.Crawler.Concurrency = 0 },
		"negative depth":     func(c *Config) { c.Crawler.MaxDepth = -1 },
		"relative root":      func(c *Config) { c.Crawler.RootURL = "/docs" },
		"bad chunker":        func(c *Config) { c.Chunker.Overlap = c.Chunker.ChunkSize },
		"unknown backend":    func(c *Config) { c.Store.Backend = "sqlite" },
		"postgres sans dsn":  func(c *Config) { c.Store.Backend = BackendPostgres },
		"no embedding dim":   func(c *Config) { c.DB.EmbeddingDim = 0 },
		"no chunks per url":  func(c *Config) { c.Search.KeepChunksPerURL = 0 },
		"missing embed host": func(c *Config) { c.Ollama.Host = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
