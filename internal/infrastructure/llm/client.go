package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"KnowledgeDigest/internal/config"
	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/ports"
)

var errEmptyResponse = errors.New("empty response")

// New selects the summarization provider named in configuration.
func New(cfg config.LLMConfig) (ports.Summarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s api key is not configured", cfg.Provider)
	}

	switch cfg.Provider {
	case providerOpenAI:
		return NewOpenAIClient(cfg), nil
	case providerAnthropic:
		return NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// CleanSummary enforces the output contract: no heading markers and no blank lines.
func CleanSummary(text string) string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func failure(provider string, err error) error {
	return &domain.ServiceFailure{Provider: provider, Err: err}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You are a helpful assistant that writes summaries for a knowledge base."
	}
	return prompt
}
