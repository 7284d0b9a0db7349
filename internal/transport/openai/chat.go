package openai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/metrics"
	"github.com/kailas-cloud/silo/internal/retry"
)

const (
	chatMaxTokens   = 500
	chatTemperature = 0.3

	keywordSystemPrompt = "You extract keywords from job descriptions for candidate matching."
	keywordPrompt       = `Read the job description below and list the keywords or short key phrases
a matching candidate profile would contain: the tech stack, engineering frameworks,
technical skills, the location if one is stated, and other relevant technical terms.

Job description:
%s

Answer with a JSON array of strings only, no other text.`

	explainSystemPrompt = "You are a helpful recruiting assistant."
	explainPrompt       = `In a few sentences, explain why this candidate fits the job description,
based on their skills, technologies, qualifications and the match evidence.

Job description:
%s

Candidate:
Username: %s
Skills: %s
Technologies: %s
Qualifications: %s
Evidence: %s`
)

// ChatConfig holds chat model settings.
type ChatConfig struct {
	APIKey           string
	BaseURL          string
	KeywordModel     string
	ExplanationModel string
	KeywordCacheSize int // 0 disables the keyword cache
	Provider         string
	Policy           retry.Policy // applied to every completion
	Logger           *zap.Logger
}

// Chat extracts search keywords and writes candidate explanations
// with an OpenAI-compatible chat model.
type Chat struct {
	client           *openai.Client
	keywordModel     string
	explanationModel string
	keywords         *lru.Cache[string, []string]
	provider         string
	policy           retry.Policy
	logger           *zap.Logger
}

// NewChat creates the chat adapter.
func NewChat(cfg *ChatConfig) (*Chat, error) {
	c := &Chat{
		client:           newClient(cfg.APIKey, cfg.BaseURL),
		keywordModel:     cfg.KeywordModel,
		explanationModel: cfg.ExplanationModel,
		provider:         cfg.Provider,
		policy:           cfg.Policy,
		logger:           cfg.Logger,
	}
	if c.explanationModel == "" {
		c.explanationModel = c.keywordModel
	}
	if cfg.KeywordCacheSize > 0 {
		cache, err := lru.New[string, []string](cfg.KeywordCacheSize)
		if err != nil {
			return nil, fmt.Errorf("keyword cache: %w", err)
		}
		c.keywords = cache
	}
	return c, nil
}

// ExtractKeywords asks the model for a JSON array of keywords.
// Identical descriptions are served from an in-process LRU cache.
func (c *Chat) ExtractKeywords(ctx context.Context, text string) ([]string, error) {
	key := textHash(text)
	if c.keywords != nil {
		if kws, ok := c.keywords.Get(key); ok {
			return kws, nil
		}
	}

	out, err := c.complete(ctx, "keywords", c.keywordModel, keywordSystemPrompt, fmt.Sprintf(keywordPrompt, text))
	if err != nil {
		return nil, err
	}

	kws, err := parseKeywords(out)
	if err != nil {
		return nil, fmt.Errorf("parse keywords: %w: %w", domain.ErrProvider, err)
	}
	if c.keywords != nil {
		c.keywords.Add(key, kws)
	}
	return kws, nil
}

// Explain writes a short rationale for a candidate.
func (c *Chat) Explain(ctx context.Context, jobDescription string, u *entity.User, evidence []string) (string, error) {
	prompt := fmt.Sprintf(explainPrompt,
		jobDescription,
		u.Username,
		strings.Join(u.Skills, ", "),
		strings.Join(u.Technologies, ", "),
		strings.Join(u.Qualifications, ", "),
		strings.Join(evidence, ", "),
	)
	return c.complete(ctx, "explanation", c.explanationModel, explainSystemPrompt, prompt)
}

// HealthCheck verifies API availability via ListModels.
func (c *Chat) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func (c *Chat) complete(ctx context.Context, purpose, model, system, user string) (string, error) {
	return retry.Value(ctx, c.policy, "chat."+purpose, func(ctx context.Context) (string, error) {
		return c.completeOnce(ctx, purpose, model, system, user)
	})
}

func (c *Chat) completeOnce(ctx context.Context, purpose, model, system, user string) (string, error) {
	ctx, slot := withRetryAfterSlot(ctx)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   chatMaxTokens,
		Temperature: chatTemperature,
	})
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(purpose, "error").Inc()
		return "", parseAPIError("chat", c.provider, err, slot.wait)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequestsTotal.WithLabelValues(purpose, "error").Inc()
		return "", fmt.Errorf("empty chat response: %w", domain.ErrProvider)
	}
	metrics.LLMRequestsTotal.WithLabelValues(purpose, "success").Inc()
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// parseKeywords decodes a JSON array, tolerating markdown code fences
// and non-string elements.
func parseKeywords(raw string) ([]string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(strings.ReplaceAll(s, "```", ""))

	var items []any
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("expected a JSON array of keywords: %w", err)
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		str, ok := it.(string)
		if !ok {
			continue
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

func textHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
