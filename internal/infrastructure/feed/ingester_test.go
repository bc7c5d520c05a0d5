package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KnowledgeDigest/internal/domain"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Markets</title>
  <item>
    <title> Bitcoin tops $70k </title>
    <link>https://example.org/btc</link>
    <description><![CDATA[<p>$BTC rallied on ETF inflows.</p>]]></description>
    <pubDate>Mon, 11 Mar 2024 09:30:00 GMT</pubDate>
  </item>
  <item>
    <title>No body</title>
    <link>https://example.org/empty</link>
  </item>
  <item>
    <title>Guid only</title>
    <guid>https://example.org/guid</guid>
    <description>Stocks drifted.</description>
  </item>
</channel>
</rss>`

type memoryNews struct {
	mu       sync.Mutex
	articles map[string]domain.Article
}

func (m *memoryNews) AppendArticle(_ context.Context, a domain.Article) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.articles == nil {
		m.articles = map[string]domain.Article{}
	}
	if _, ok := m.articles[a.URL]; ok {
		return false, nil
	}
	m.articles[a.URL] = a
	return true, nil
}

func TestIngest(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(testFeed))
	}))
	defer server.Close()

	store := &memoryNews{}
	ing := NewIngester(store, server.Client(), nil)
	fixed := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	ing.clock = func() time.Time { return fixed }

	res, err := ing.Ingest(context.Background(), []Source{
		{Name: "markets", URL: server.URL + "/rss"},
		{Name: "broken", URL: server.URL + "/broken"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed broken")
	assert.Equal(t, Result{Feeds: 1, Added: 2}, res)

	btc := store.articles["https://example.org/btc"]
	assert.Equal(t, "Bitcoin tops $70k", btc.Title)
	assert.Equal(t, "<p>$BTC rallied on ETF inflows.</p>", btc.Content)
	assert.Equal(t, time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC), btc.PublishedAt)

	guid := store.articles["https://example.org/guid"]
	assert.Equal(t, fixed, guid.PublishedAt, "missing pubDate falls back to ingestion time")

	res, err = ing.Ingest(context.Background(), []Source{{Name: "markets", URL: server.URL + "/rss"}})
	require.NoError(t, err)
	assert.Equal(t, Result{Feeds: 1, Existing: 2}, res)
}
