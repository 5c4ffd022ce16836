// Package config loads and validates site-rag-crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-rag-crawler/internal/chunker"
	"github.com/JakeFAU/site-rag-crawler/internal/ranking"
)

// Store backends.
const (
	BackendAuto     = "auto"
	BackendPostgres = "postgres"
	BackendEmbedded = "embedded"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig    `mapstructure:"server"`
	Crawler CrawlerConfig   `mapstructure:"crawler"`
	Chunker chunker.Options `mapstructure:"chunker"`
	Ollama  OllamaConfig    `mapstructure:"ollama"`
	Search  SearchConfig    `mapstructure:"search"`
	DB      DBConfig        `mapstructure:"db"`
	Store   StoreConfig     `mapstructure:"store"`
	Logging LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the frontier, fetcher and worker pool.
type CrawlerConfig struct {
	RootURL          string  `mapstructure:"root_url"`
	SiteName         string  `mapstructure:"site_name"`
	MaxDepth         int     `mapstructure:"max_depth"`
	Concurrency      int     `mapstructure:"concurrency"`
	UserAgent        string  `mapstructure:"user_agent"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	RequestsPerSec   float64 `mapstructure:"requests_per_second"`
	Burst            int     `mapstructure:"burst"`
	MaxBodyBytes     int     `mapstructure:"max_body_bytes"`
	TagSummaryChars  int     `mapstructure:"tag_summary_chars"`
	PollIntervalMs   int     `mapstructure:"poll_interval_ms"`
	MinContentLength int     `mapstructure:"min_content_length"`
}

// OllamaConfig points at the embedding and chat models.
type OllamaConfig struct {
	Host           string `mapstructure:"host"`
	EmbedModel     string `mapstructure:"embed_model"`
	ChatModel      string `mapstructure:"chat_model"`
	Truncate       bool   `mapstructure:"truncate"`
	Normalize      bool   `mapstructure:"normalize"`
	PullMissing    bool   `mapstructure:"pull_missing"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SearchConfig tunes hybrid ranking.
type SearchConfig struct {
	Limit               int     `mapstructure:"limit"`
	MaxVectorDistance   float64 `mapstructure:"max_vector_distance"`
	MinTitleSimilarity  float64 `mapstructure:"min_title_similarity"`
	TitleBoostThreshold float64 `mapstructure:"title_boost_threshold"`
	TitleWeight         int     `mapstructure:"title_weight"`
	ExactTitleBonus     int     `mapstructure:"exact_title_bonus"`
	KeepChunksPerURL    int     `mapstructure:"keep_chunks_per_url"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EmbeddingDim int    `mapstructure:"embedding_dim"`
}

// StoreConfig selects the hybrid store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. Without a path it looks for an
// optional siterag.{yaml,json,toml} in the working directory and $HOME/.siterag.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITERAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("siterag")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.siterag")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.root_url", "")
	v.SetDefault("crawler.site_name", "")
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.user_agent", "site-rag-crawler/0.1")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.requests_per_second", 2.0)
	v.SetDefault("crawler.burst", 2)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.tag_summary_chars", 5000)
	v.SetDefault("crawler.poll_interval_ms", 50)
	v.SetDefault("crawler.min_content_length", 100)
	v.SetDefault("chunker.chunk_size", chunker.DefaultChunkSize)
	v.SetDefault("chunker.min_chunk_size", chunker.DefaultMinChunkSize)
	v.SetDefault("chunker.overlap", chunker.DefaultOverlap)
	v.SetDefault("ollama.host", "http://127.0.0.1:11434")
	v.SetDefault("ollama.embed_model", "bge-m3")
	v.SetDefault("ollama.chat_model", "llama3.2:3b")
	v.SetDefault("ollama.truncate", false)
	v.SetDefault("ollama.normalize", false)
	v.SetDefault("ollama.pull_missing", true)
	v.SetDefault("ollama.timeout_seconds", 120)
	v.SetDefault("search.limit", 5)
	v.SetDefault("search.max_vector_distance", ranking.DefaultMaxVectorDistance)
	v.SetDefault("search.min_title_similarity", ranking.DefaultMinTitleSimilarity)
	v.SetDefault("search.title_boost_threshold", ranking.DefaultTitleBoostThreshold)
	v.SetDefault("search.title_weight", ranking.DefaultTitleWeight)
	v.SetDefault("search.exact_title_bonus", ranking.DefaultExactTitleBonus)
	v.SetDefault("search.keep_chunks_per_url", 1)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.embedding_dim", 1024)
	v.SetDefault("store.backend", BackendAuto)
	v.SetDefault("store.path", "siterag-data.yaml")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.RequestsPerSec < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if c.Crawler.RootURL != "" {
		if u, err := url.Parse(c.Crawler.RootURL); err != nil || u.Host == "" {
			return fmt.Errorf("crawler.root_url %q is not an absolute URL", c.Crawler.RootURL)
		}
	}
	if err := c.Chunker.Validate(); err != nil {
		return fmt.Errorf("chunker: %w", err)
	}
	if c.Ollama.Host == "" || c.Ollama.EmbedModel == "" {
		return fmt.Errorf("ollama.host and ollama.embed_model must be set")
	}
	if c.Search.Limit <= 0 {
		return fmt.Errorf("search.limit must be > 0")
	}
	if c.Search.KeepChunksPerURL < 1 {
		return fmt.Errorf("search.keep_chunks_per_url must be >= 1")
	}
	if c.DB.EmbeddingDim <= 0 {
		return fmt.Errorf("db.embedding_dim must be > 0")
	}
	switch c.Store.Backend {
	case BackendAuto, BackendEmbedded:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend must be one of auto, postgres, embedded; got %q", c.Store.Backend)
	}
	return nil
}

// CrawlTimeout converts the per-request timeout into a duration.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// PollInterval is the idle wait of crawl workers.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Crawler.PollIntervalMs) * time.Millisecond
}

// OllamaTimeout bounds a single embedding or chat request.
func (c Config) OllamaTimeout() time.Duration {
	return time.Duration(c.Ollama.TimeoutSeconds) * time.Second
}

// RankingOptions converts the search section into ranking options.
func (c Config) RankingOptions() ranking.Options {
	return ranking.Options{
		MaxVectorDistance:   c.Search.MaxVectorDistance,
		MinTitleSimilarity:  c.Search.MinTitleSimilarity,
		TitleBoostThreshold: c.Search.TitleBoostThreshold,
		TitleWeight:         c.Search.TitleWeight,
		ExactTitleBonus:     c.Search.ExactTitleBonus,
		KeepChunksPerURL:    c.Search.KeepChunksPerURL,
	}
}
