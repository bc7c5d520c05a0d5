package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"KnowledgeDigest/internal/config"
	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/ports"
)

const providerOpenAI = "openai"

// OpenAIClient implements ports.Summarizer backed by OpenAI-compatible chat completion APIs.
type OpenAIClient struct {
	client  openai.Client
	timeout time.Duration
}

var _ ports.Summarizer = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from configuration. SDK retries are
// disabled; retry policy belongs to the pipeline.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		timeout: cfg.Timeout,
	}
}

// Summarize sends the system and user messages and returns the cleaned reply.
func (c *OpenAIClient) Summarize(ctx context.Context, prompt domain.PromptSpec, params domain.ModelParams) (string, error) {
	if c == nil {
		return "", failure(providerOpenAI, errors.New("client is nil"))
	}
	if params.Model == "" {
		return "", failure(providerOpenAI, errors.New("model is not configured"))
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(params.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(safePrompt(prompt.SystemInstructions)),
			openai.UserMessage(prompt.UserContent),
		},
		Temperature: openai.Float(params.Temperature),
	}
	if params.MaxTokens > 0 {
		req.MaxCompletionTokens = openai.Int(params.MaxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", failure(providerOpenAI, fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", failure(providerOpenAI, errEmptyResponse)
	}

	summary := CleanSummary(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", failure(providerOpenAI, errEmptyResponse)
	}
	return summary, nil
}
