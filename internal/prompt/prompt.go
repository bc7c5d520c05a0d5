// Package prompt turns aggregation groups into summarization prompts.
//
// Builders are pure: the same group always yields the same prompt. Every
// detail row is serialized. Only news content is ever truncated, and then
// with an explicit marker line.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"KnowledgeDigest/internal/domain"
)

// BuildFunc builds the prompt for one group.
type BuildFunc func(group domain.Group) domain.PromptSpec

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"

	// FormattingRules is part of every system instruction.
	FormattingRules = "Formatting rules: do not use markdown heading markers (such as # or ####) " +
		"and never put blank lines (double newlines) in the output. Write plain sentences."

	// CashtagRule is part of the news system instruction.
	CashtagRule = "Prefix every token, coin or stock ticker you mention with $, for example $BTC or $AAPL."
)

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func lookbackLabel(months int) string {
	if months == 1 {
		return "the last month"
	}
	return fmt.Sprintf("the last %d months", months)
}

func lines(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
