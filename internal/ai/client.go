package ai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/camuig/treasury-agent/internal/config"
	"github.com/camuig/treasury-agent/internal/decision"
	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/logger"
)

// LLMClient talks to any OpenAI-compatible chat completion endpoint
// (DeepSeek by default).
type LLMClient struct {
	client  *openai.Client
	model   string
	trading config.TradingConfig
	logger  *logger.Logger
}

func NewLLMClient(cfg *config.Config, log *logger.Logger) *LLMClient {
	ocfg := openai.DefaultConfig(cfg.Advisor.APIKey)
	ocfg.BaseURL = cfg.Advisor.BaseURL

	return &LLMClient{
		client:  openai.NewClientWithConfig(ocfg),
		model:   cfg.Advisor.Model,
		trading: cfg.Trading,
		logger:  log,
	}
}

// Decide makes one chat completion call. The caller owns the timeout.
func (c *LLMClient) Decide(ctx context.Context, dc *decision.Context) (domain.Decision, string, error) {
	userPrompt := BuildUserPrompt(dc)

	c.logger.Debug("sending advisor request", "model", c.model, "prompt_len", len(userPrompt))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return domain.Decision{}, "", fmt.Errorf("advisor API status %d: %w", apiErr.HTTPStatusCode, err)
		}
		return domain.Decision{}, "", fmt.Errorf("advisor API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return domain.Decision{}, "", fmt.Errorf("advisor returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	c.logger.Debug("advisor raw response", "content", raw)

	reply, err := ParseReply(raw)
	if err != nil {
		return domain.Decision{}, raw, fmt.Errorf("parse advisor response: %w", err)
	}
	d, err := ToDecision(reply, dc, c.trading)
	if err != nil {
		return domain.Decision{}, raw, err
	}
	return d, raw, nil
}
