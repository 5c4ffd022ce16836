// Package classifier asks the chat model for semantic tags and zero-shot labels.
package classifier

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag-crawler/internal/logging"
	"github.com/JakeFAU/site-rag-crawler/internal/metrics"
	"github.com/JakeFAU/site-rag-crawler/internal/retry"
)

// MaxTags caps the tags kept per page.
const MaxTags = 8

const tagPrompt = `You label documentation pages with search tags.

Return up to %d short lowercase tags (one to three words each) that describe the main topics of the text below.
Return only a JSON array of strings, for example ["react", "state management"]. Do not wrap it in Markdown. Do not explain.

Text:
%s
`

const classifyPrompt = `You are a zero-shot text classifier.

Evaluate how strongly the following message relates to each of the following labels: [%s].

Assign a score between 0 and 1 for each label. Return JSON like:
[
  { "label": "label1", "score": 0.91 },
  ...
]
Only return well structured JSON without extra formatting. Do not wrap to Markdown. Do not explain.

Message:
%s
`

// Chatter sends a prompt and returns the raw reply.
type Chatter interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// Label is one zero-shot classification score.
type Label struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classifier turns chat replies into tags and labels.
type Classifier struct {
	chat   Chatter
	policy retry.Config
	logger *zap.Logger
}

// New builds a Classifier; chat calls run under policy.
func New(chat Chatter, policy retry.Config, logger *zap.Logger) *Classifier {
	logger = logging.OrNop(logger)
	return &Classifier{
		chat:   chat,
		policy: policy.Named("chat").WithLogger(logger).WithOnRetry(func(_ error, _ int, h *retry.History) error {
			metrics.ObserveRetry(h.Operation)
			return nil
		}),
		logger: logger,
	}
}

func (c *Classifier) ask(ctx context.Context, prompt string) (string, error) {
	reply, err := retry.Do(ctx, c.policy, func(ctx context.Context) (string, error) {
		return c.chat.Chat(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return Sanitize(reply)
}

// GenerateTags returns up to MaxTags unique lowercase tags for text. Any
// failure, including malformed output, yields no tags.
func (c *Classifier) GenerateTags(ctx context.Context, text string) []string {
	body, err := c.ask(ctx, fmt.Sprintf(tagPrompt, MaxTags, text))
	if err != nil {
		c.logger.Warn("tag generation failed", zap.Error(err))
		return []string{}
	}
	var raw []string
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		c.logger.Warn("tag generation returned malformed output", zap.Error(err), zap.String("output", body))
		return []string{}
	}
	tags := make([]string, 0, MaxTags)
	for _, t := range raw {
		t = strings.ToLower(strings.Join(strings.Fields(t), " "))
		if t == "" || slices.Contains(tags, t) {
			continue
		}
		tags = append(tags, t)
		if len(tags) == MaxTags {
			break
		}
	}
	return tags
}

// Classify scores text against labels. Duplicate labels keep their first
// score; results are sorted by score, highest first.
func (c *Classifier) Classify(ctx context.Context, text string, labels []string) []Label {
	if len(labels) == 0 {
		return []Label{}
	}
	body, err := c.ask(ctx, fmt.Sprintf(classifyPrompt, strings.Join(labels, ", "), text))
	if err != nil {
		c.logger.Warn("classification failed", zap.Error(err))
		return []Label{}
	}
	var parsed []Label
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		c.logger.Warn("classification returned malformed output", zap.Error(err), zap.String("output", body))
		return []Label{}
	}
	seen := make(map[string]struct{}, len(parsed))
	out := make([]Label, 0, len(parsed))
	for _, l := range parsed {
		if _, dup := seen[l.Label]; dup {
			continue
		}
		seen[l.Label] = struct{}{}
		out = append(out, l)
	}
	slices.SortStableFunc(out, func(a, b Label) int { return cmp.Compare(b.Score, a.Score) })
	return out
}
