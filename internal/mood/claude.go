package mood

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placefinder/internal/model"
	"github.com/sells-group/placefinder/internal/resilience"
	"github.com/sells-group/placefinder/pkg/anthropic"
)

const claudePrompt = `You rate the atmosphere of a place on a 0-100 scale where 0 is calm and
quiet (libraries, tea houses, spas), 50 is ordinary, and 100 is loud and
lively (night clubs, karaoke, sports bars). Reply with JSON only:
{"mood": <integer 0-100>}`

// ClaudeConfig configures ClaudeScorer.
type ClaudeConfig struct {
	Model     string
	MaxTokens int64
	// CacheSize bounds the per-place score cache. Zero disables it.
	CacheSize int
	Retry     resilience.RetryConfig
}

// ClaudeScorer asks Claude for a mood score and falls back to another
// scorer when the request or its response is unusable.
type ClaudeScorer struct {
	ai       anthropic.Client
	cfg      ClaudeConfig
	fallback Scorer
	scores   *lru.Cache[string, float64]
}

var _ Scorer = (*ClaudeScorer)(nil)

// NewClaudeScorer builds a ClaudeScorer. A nil fallback uses KeywordScorer.
func NewClaudeScorer(ai anthropic.Client, cfg ClaudeConfig, fallback Scorer) (*ClaudeScorer, error) {
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 64
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = retryableAnthropic
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.LogRetries("anthropic")
	}
	if fallback == nil {
		fallback = NewKeywordScorer()
	}

	s := &ClaudeScorer{ai: ai, cfg: cfg, fallback: fallback}
	if cfg.CacheSize > 0 {
		c, err := lru.New[string, float64](cfg.CacheSize)
		if err != nil {
			return nil, eris.Wrap(err, "mood: create score cache")
		}
		s.scores = c
	}
	return s, nil
}

// Score returns Claude's score, or the fallback's when Claude fails. It
// only returns an error when ctx is done.
func (s *ClaudeScorer) Score(ctx context.Context, c model.Candidate) (float64, error) {
	if s.scores != nil && c.ID != "" {
		if v, ok := s.scores.Get(c.ID); ok {
			return v, nil
		}
	}

	score, err := resilience.Retry(ctx, s.cfg.Retry, func(ctx context.Context) (float64, error) {
		return s.ask(ctx, c)
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		zap.L().Debug("claude mood scoring failed, using fallback",
			zap.String("candidate", c.ID),
			zap.Error(err),
		)
		return s.fallback.Score(ctx, c)
	}

	if s.scores != nil && c.ID != "" {
		s.scores.Add(c.ID, score)
	}
	return score, nil
}

type moodResponse struct {
	Mood *float64 `json:"mood"`
}

func (s *ClaudeScorer) ask(ctx context.Context, c model.Candidate) (float64, error) {
	temp := 0.0
	resp, err := s.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		System:      claudePrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: describe(c)}},
		Temperature: &temp,
	})
	if err != nil {
		return 0, eris.Wrap(err, "mood: claude request")
	}
	return parseMood(resp.Text())
}

func describe(c model.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Place: %s\n", c.Name)
	if len(c.Tags) > 0 {
		fmt.Fprintf(&b, "Types: %s\n", strings.Join(c.Tags, ", "))
	}
	if c.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", c.Address)
	}
	if c.Rating != nil {
		fmt.Fprintf(&b, "Rating: %.1f (%d reviews)\n", *c.Rating, c.ReviewCountValue())
	}
	return b.String()
}

// parseMood extracts the first JSON object in text and clamps its mood.
func parseMood(text string) (float64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, eris.New("mood: empty claude response")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return 0, eris.Errorf("mood: no JSON in response: %s", text)
	}

	var r moodResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return 0, eris.Wrap(err, "mood: parse response JSON")
	}
	if r.Mood == nil {
		return 0, eris.New("mood: response has no mood field")
	}
	return min(max(*r.Mood, 0), 100), nil
}

func retryableAnthropic(err error) bool {
	if code := anthropic.StatusCode(err); code != 0 {
		return resilience.IsTransientStatus(code) || code == 529
	}
	return resilience.IsTransient(err)
}
