package prompt

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"KnowledgeDigest/internal/domain"
)

const (
	transactionsSystem = "You are a financial analyst that writes detailed analytical summaries of GameFi token " +
		"transactions. Summaries are embedded into a knowledge base used by an assistant."
	pricesSystem = "You are a financial analyst that writes technical analysis of token price movements. " +
		"Use precise, neutral technical language. Summaries are embedded into a knowledge base used by an assistant."
)

// Transactions builds the ticker summary prompt from a transactions group.
func Transactions(lookbackMonths int) BuildFunc {
	return func(g domain.Group) domain.PromptSpec {
		var rows strings.Builder
		for _, r := range g.Details {
			fmt.Fprintf(&rows, "Date: %s, Amount: %s\n", formatTimestamp(r.Timestamp), r.Value.String())
		}

		return domain.PromptSpec{
			SystemInstructions: transactionsSystem + "\n" + FormattingRules,
			UserContent: lines(
				fmt.Sprintf("Create a detailed analytical summary for the ticker %s.", g.Key),
				fmt.Sprintf("New transactions since the previous summary: %d, total amount: %s, between %s and %s.",
					g.Aggregate.Count, g.Aggregate.Sum.String(), formatDate(g.Aggregate.First), formatDate(g.Aggregate.Last)),
				fmt.Sprintf("Transactions in %s (since %s), largest amount first:",
					lookbackLabel(lookbackMonths), formatDate(g.WindowStart)),
				detailsOrNone(rows.String(), "No transactions inside the window."),
			),
		}
	}
}

// Prices builds the price trend prompt from a prices group.
func Prices(lookbackMonths int) BuildFunc {
	return func(g domain.Group) domain.PromptSpec {
		var rows strings.Builder
		for _, r := range g.Details {
			fmt.Fprintf(&rows, "Date: %s, Price: %s\n", formatTimestamp(r.Timestamp), r.Value.String())
		}

		return domain.PromptSpec{
			SystemInstructions: pricesSystem + "\n" + FormattingRules,
			UserContent: lines(
				fmt.Sprintf("Create a technical analysis summary of the price trend for the ticker %s.", g.Key),
				fmt.Sprintf("New price samples since the previous summary: %d, between %s and %s.",
					g.Aggregate.Count, formatDate(g.Aggregate.First), formatDate(g.Aggregate.Last)),
				fmt.Sprintf("Price history for %s (since %s), oldest first:",
					lookbackLabel(lookbackMonths), formatDate(g.WindowStart)),
				detailsOrNone(rows.String(), "No price samples inside the window."),
				seriesStats(g.Details),
			),
		}
	}
}

func detailsOrNone(rows, none string) string {
	rows = strings.TrimRight(rows, "\n")
	if rows == "" {
		return none
	}
	return rows
}

// seriesStats expects chronological rows.
func seriesStats(rows []domain.Record) string {
	if len(rows) == 0 {
		return ""
	}

	first, last := rows[0].Value, rows[len(rows)-1].Value
	low, high := first, first
	for _, r := range rows[1:] {
		if r.Value.LessThan(low) {
			low = r.Value
		}
		if r.Value.GreaterThan(high) {
			high = r.Value
		}
	}

	return fmt.Sprintf("Window statistics: samples %d, first %s, last %s, low %s, high %s, change %s.",
		len(rows), first.String(), last.String(), low.String(), high.String(), percentChange(first, last))
}

func percentChange(from, to decimal.Decimal) string {
	if from.IsZero() {
		return "n/a"
	}
	change := to.Sub(from).Div(from).Mul(decimal.NewFromInt(100))
	sign := ""
	if change.IsPositive() {
		sign = "+"
	}
	return sign + change.StringFixed(2) + "%"
}
