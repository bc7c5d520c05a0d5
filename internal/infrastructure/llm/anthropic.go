package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"KnowledgeDigest/internal/config"
	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/ports"
)

const (
	providerAnthropic = "anthropic"
	defaultMaxTokens  = 1024
)

// AnthropicClient implements ports.Summarizer using the Messages API.
type AnthropicClient struct {
	client  anthropic.Client
	timeout time.Duration
}

var _ ports.Summarizer = (*AnthropicClient)(nil)

// NewAnthropicClient builds a client from configuration with SDK retries disabled.
func NewAnthropicClient(cfg config.LLMConfig) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:  anthropic.NewClient(opts...),
		timeout: cfg.Timeout,
	}
}

// Summarize sends the prompt and concatenates the text blocks of the reply.
func (c *AnthropicClient) Summarize(ctx context.Context, prompt domain.PromptSpec, params domain.ModelParams) (string, error) {
	if c == nil {
		return "", failure(providerAnthropic, errors.New("client is nil"))
	}
	if params.Model == "" {
		return "", failure(providerAnthropic, errors.New("model is not configured"))
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(params.Model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: safePrompt(prompt.SystemInstructions)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.UserContent)),
		},
		Temperature: anthropic.Float(params.Temperature),
	})
	if err != nil {
		return "", failure(providerAnthropic, fmt.Errorf("create message: %w", err))
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	summary := CleanSummary(text.String())
	if summary == "" {
		return "", failure(providerAnthropic, errEmptyResponse)
	}
	return summary, nil
}
