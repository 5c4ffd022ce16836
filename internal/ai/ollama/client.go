// Package ollama adapts the Ollama API to the crawler's embedding and chat needs.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag-crawler/internal/logging"
	"github.com/JakeFAU/site-rag-crawler/internal/retry"
)

// Defaults mirror the models the index was built with.
const (
	DefaultHost       = "http://127.0.0.1:11434"
	DefaultEmbedModel = "bge-m3"
	DefaultChatModel  = "llama3.2:3b"
)

// ErrEmptyInput rejects blank embedding input.
var ErrEmptyInput = errors.New("no text provided for embedding")

// Config selects the server and models.
type Config struct {
	Host       string
	EmbedModel string
	ChatModel  string
	// Truncate lets the server cut inputs longer than the model context.
	Truncate bool
	// Normalize L2-normalizes embeddings for models that do not.
	Normalize   bool
	PullMissing bool
	Timeout     time.Duration
}

// Client wraps api.Client.
type Client struct {
	api    *api.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbedModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	base, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		api:    api.NewClient(base, httpClient),
		cfg:    cfg,
		logger: logging.OrNop(logger),
	}, nil
}

// Ping reports whether the server answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.List(ctx); err != nil {
		return fmt.Errorf("ping ollama: %w", err)
	}
	return nil
}

// EnsureModels checks the server is reachable and pulls any missing model.
func (c *Client) EnsureModels(ctx context.Context) error {
	list, err := c.api.List(ctx)
	if err != nil {
		return fmt.Errorf("ollama is not running or not accessible: %w", err)
	}
	for _, model := range []string{c.cfg.EmbedModel, c.cfg.ChatModel} {
		if hasModel(list.Models, model) {
			continue
		}
		if !c.cfg.PullMissing {
			return fmt.Errorf("model %s is not available", model)
		}
		c.logger.Info("pulling model", zap.String("model", model))
		var last string
		err := c.api.Pull(ctx, &api.PullRequest{Model: model}, func(p api.ProgressResponse) error {
			if p.Status != last {
				c.logger.Debug("pull progress", zap.String("model", model), zap.String("status", p.Status))
				last = p.Status
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("pull model %s: %w", model, err)
		}
		c.logger.Info("model ready", zap.String("model", model))
	}
	return nil
}

func hasModel(models []api.ListModelResponse, name string) bool {
	for _, m := range models {
		if strings.HasPrefix(m.Name, name) {
			return true
		}
	}
	return false
}

// Embed returns the embedding of the cleaned text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	input := CleanText(text)
	if input == "" {
		return nil, retry.Critical(ErrEmptyInput)
	}
	truncate := c.cfg.Truncate
	resp, err := c.api.Embed(ctx, &api.EmbedRequest{
		Model:    c.cfg.EmbedModel,
		Input:    input,
		Truncate: &truncate,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", classify(err))
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, errors.New("embed: server returned no embedding")
	}
	vec := resp.Embeddings[0]
	if c.cfg.Normalize {
		vec = Normalize(vec)
	}
	return vec, nil
}

// Chat sends a single user prompt and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	stream := false
	var sb strings.Builder
	err := c.api.Chat(ctx, &api.ChatRequest{
		Model:    c.cfg.ChatModel,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
	}, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat: %w", classify(err))
	}
	return sb.String(), nil
}

// CleanText trims the text and collapses whitespace runs. Runs containing a
// newline become a single newline; others a single space.
func CleanText(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	var sb strings.Builder
	sb.Grow(len(text))
	var (
		inSpace bool
		newline bool
	)
	for _, r := range text {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\v' {
			inSpace = true
			newline = newline || r == '\n'
			continue
		}
		if inSpace {
			if newline {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(' ')
			}
			inSpace, newline = false, false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Normalize scales v to unit length. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// classify marks client errors other than throttling as critical.
func classify(err error) error {
	var status api.StatusError
	if errors.As(err, &status) {
		code := status.StatusCode
		if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
			return retry.Critical(err)
		}
	}
	return err
}
