package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Category tags an artifact with the source it was generated from.
type Category string

const (
	CategoryTransactions Category = "transactions"
	CategoryNews         Category = "news"
	CategoryPrices       Category = "prices"
)

// Categories lists every known category in pipeline order.
func Categories() []Category {
	return []Category{CategoryTransactions, CategoryNews, CategoryPrices}
}

// ParseCategory validates a user supplied category name.
func ParseCategory(value string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == value {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", value)
}

// Record is a single row of an aggregated source (a ledger transaction or a price sample).
type Record struct {
	ID        int64
	Key       string
	Timestamp time.Time
	Value     decimal.Decimal
	Processed bool
}

// Article is a single row of the news source.
type Article struct {
	ID          int64
	Title       string
	URL         string
	Content     string
	PublishedAt time.Time
	Processed   bool
}

// Aggregate summarizes the unprocessed members of a group.
type Aggregate struct {
	Sum   decimal.Decimal
	Count int
	First time.Time
	Last  time.Time
}

// Group is the unit of summarization. It is computed fresh on every run.
type Group struct {
	Category  Category
	Key       string
	Aggregate Aggregate
	// MemberIDs are the unprocessed rows this group completes.
	MemberIDs []int64
	// Details is the lookback window for the key regardless of processed state.
	Details []Record
	// Article is set for news groups only.
	Article *Article
	// WindowStart is the inclusive lower bound used for Details.
	WindowStart time.Time
}

// Artifact is a generated summary persisted to the knowledge base.
type Artifact struct {
	ID        int64
	Summary   string
	Category  Category
	CreatedAt time.Time
}
