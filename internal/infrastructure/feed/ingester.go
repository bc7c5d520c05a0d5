package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed/rss"

	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/logging"
	"KnowledgeDigest/internal/ports"
)

// maxFeedBytes caps how much of a feed response is read.
const maxFeedBytes = 8 << 20

// Source names an RSS feed.
type Source struct {
	Name string
	URL  string
}

// Result counts what a single ingestion pass stored.
type Result struct {
	Feeds    int
	Added    int
	Existing int
}

// Ingester pulls RSS items into the news store as unprocessed articles.
type Ingester struct {
	appender ports.NewsAppender
	client   *http.Client
	clock    func() time.Time
	logger   *slog.Logger
}

// NewIngester builds an ingester. A nil client uses a 30 second timeout.
func NewIngester(appender ports.NewsAppender, client *http.Client, logger *slog.Logger) *Ingester {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Ingester{
		appender: appender,
		client:   client,
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Ingest fetches every feed. A failing feed does not stop the others.
func (i *Ingester) Ingest(ctx context.Context, sources []Source) (Result, error) {
	var (
		res  Result
		errs []error
	)
	for _, src := range sources {
		added, existing, err := i.ingestOne(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", src.Name, err))
			i.logger.Warn("feed ingestion failed", "feed", src.Name, "error", err)
			continue
		}
		res.Feeds++
		res.Added += added
		res.Existing += existing
		i.logger.Info("feed ingested", "feed", src.Name, "added", added, "existing", existing)
	}
	return res, errors.Join(errs...)
}

func (i *Ingester) ingestOne(ctx context.Context, src Source) (added, existing int, err error) {
	feed, err := i.fetch(ctx, src.URL)
	if err != nil {
		return 0, 0, err
	}

	for _, item := range feed.Items {
		article, ok := i.toArticle(item)
		if !ok {
			continue
		}
		inserted, err := i.appender.AppendArticle(ctx, article)
		if err != nil {
			return added, existing, fmt.Errorf("store %s: %w", article.URL, err)
		}
		if inserted {
			added++
		} else {
			existing++
		}
	}
	return added, existing, nil
}

func (i *Ingester) fetch(ctx context.Context, url string) (*rss.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	fp := rss.Parser{}
	feed, err := fp.Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

func (i *Ingester) toArticle(item *rss.Item) (domain.Article, bool) {
	if item == nil {
		return domain.Article{}, false
	}

	link := strings.TrimSpace(item.Link)
	if link == "" && item.GUID != nil {
		link = strings.TrimSpace(item.GUID.Value)
	}
	content := strings.TrimSpace(item.Content)
	if content == "" {
		content = strings.TrimSpace(item.Description)
	}
	if link == "" || content == "" {
		return domain.Article{}, false
	}

	published := i.clock()
	if item.PubDateParsed != nil {
		published = item.PubDateParsed.UTC()
	}

	return domain.Article{
		Title:       strings.TrimSpace(item.Title),
		URL:         link,
		Content:     content,
		PublishedAt: published,
	}, true
}
