package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KnowledgeDigest/internal/domain"
)

func openTestDB(t *testing.T, table string) (*sql.DB, Dialect) {
	t.Helper()

	ctx := context.Background()
	db, dialect, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "data", "store.db"))
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db, dialect, table))
	return db, dialect
}

func newSeries(t *testing.T, table SeriesTable) *SeriesStore {
	t.Helper()
	db, dialect := openTestDB(t, table.Name)
	store := NewSeriesStore(db, dialect, table, 6)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func appendRecord(t *testing.T, s *SeriesStore, key string, at time.Time, value int64) int64 {
	t.Helper()
	id, err := s.AppendRecord(context.Background(), domain.Record{Key: key, Timestamp: at, Value: decimal.NewFromInt(value)})
	require.NoError(t, err)
	return id
}

func TestSeriesStoreGroupsUnprocessedByTicker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSeries(t, TransactionsTable)

	a1 := appendRecord(t, store, "AAA", day(2024, time.January, 1), 100)
	a2 := appendRecord(t, store, "AAA", day(2024, time.January, 15), 50)
	b1 := appendRecord(t, store, "BBB", day(2024, time.January, 10), 200)

	groups, err := store.ReadUnprocessedGroups(ctx, day(2024, time.February, 1))
	require.NoError(t, err)
	require.Len(t, groups, 2)

	aaa, bbb := groups[0], groups[1]
	assert.Equal(t, "AAA", aaa.Key)
	assert.Equal(t, domain.CategoryTransactions, aaa.Category)
	assert.ElementsMatch(t, []int64{a1, a2}, aaa.MemberIDs)
	assert.True(t, decimal.NewFromInt(150).Equal(aaa.Aggregate.Sum), "sum %s", aaa.Aggregate.Sum)
	assert.Equal(t, 2, aaa.Aggregate.Count)
	assert.Equal(t, day(2024, time.January, 1), aaa.Aggregate.First)
	assert.Equal(t, day(2024, time.January, 15), aaa.Aggregate.Last)
	require.Len(t, aaa.Details, 2)
	assert.True(t, aaa.Details[0].Value.Equal(decimal.NewFromInt(100)), "largest amount first")
	assert.True(t, aaa.Details[1].Value.Equal(decimal.NewFromInt(50)))

	assert.Equal(t, "BBB", bbb.Key)
	assert.Equal(t, []int64{b1}, bbb.MemberIDs)
	assert.True(t, decimal.NewFromInt(200).Equal(bbb.Aggregate.Sum))
	assert.Equal(t, 1, bbb.Aggregate.Count)
}

func TestSeriesStoreWindowIgnoresProcessedFlag(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSeries(t, TransactionsTable)
	now := day(2024, time.February, 1)

	old := appendRecord(t, store, "AAA", day(2023, time.January, 1), 900)
	recent := appendRecord(t, store, "AAA", day(2023, time.December, 1), 500)
	require.NoError(t, store.MarkProcessed(ctx, []int64{old, recent}))
	fresh := appendRecord(t, store, "AAA", day(2024, time.January, 20), 10)

	groups, err := store.ReadUnprocessedGroups(ctx, now)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Equal(t, []int64{fresh}, g.MemberIDs)
	assert.True(t, decimal.NewFromInt(10).Equal(g.Aggregate.Sum))
	assert.Equal(t, day(2023, time.August, 1), g.WindowStart)

	require.Len(t, g.Details, 2, "processed row inside the window is context, old row is not")
	assert.Equal(t, recent, g.Details[0].ID)
	assert.True(t, g.Details[0].Processed)
	assert.Equal(t, fresh, g.Details[1].ID)
	assert.False(t, g.Details[1].Processed)
}

func TestSeriesStoreWindowBoundaryIsInclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSeries(t, PricesTable)
	now := day(2024, time.July, 1)

	atCutoff := appendRecord(t, store, "AAA", day(2024, time.January, 1), 1)
	appendRecord(t, store, "AAA", day(2024, time.January, 1).Add(-time.Millisecond), 2)

	groups, err := store.ReadUnprocessedGroups(ctx, now)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Details, 1)
	assert.Equal(t, atCutoff, groups[0].Details[0].ID)
	assert.Len(t, groups[0].MemberIDs, 2, "members are not limited by the window")
}

func TestSeriesStorePricesAreChronological(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSeries(t, PricesTable)

	appendRecord(t, store, "AAA", day(2024, time.March, 3), 30)
	appendRecord(t, store, "AAA", day(2024, time.March, 1), 10)
	appendRecord(t, store, "AAA", day(2024, time.March, 2), 20)

	groups, err := store.ReadUnprocessedGroups(ctx, day(2024, time.March, 10))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Details, 3)
	for i, want := range []int64{10, 20, 30} {
		assert.True(t, groups[0].Details[i].Value.Equal(decimal.NewFromInt(want)), "position %d", i)
	}
	assert.Equal(t, domain.CategoryPrices, groups[0].Category)
}

func TestSeriesStoreWindowParsesForeignTimestamps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, dialect := openTestDB(t, PricesTable.Name)
	store := NewSeriesStore(db, dialect, PricesTable, 6)
	t.Cleanup(func() { _ = store.Close() })

	insert := func(date, price string) {
		t.Helper()
		_, err := db.ExecContext(ctx, `INSERT INTO prices (ticker, date, price, processed) VALUES (?, ?, ?, 0)`, "AAA", date, price)
		require.NoError(t, err)
	}
	insert("2024-01-01T00:00:00Z", "1")
	insert("2024-03-01T10:00:00+05:00", "3")
	insert("2024-02-01", "2")
	appendRecord(t, store, "AAA", day(2024, time.June, 1), 4)

	now := time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)
	groups, err := store.ReadUnprocessedGroups(ctx, now)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Len(t, g.MemberIDs, 4)
	assert.Equal(t, day(2024, time.January, 1), g.Aggregate.First)
	require.Len(t, g.Details, 3, "row before the window start is excluded")

	want := []time.Time{
		day(2024, time.February, 1),
		time.Date(2024, time.March, 1, 5, 0, 0, 0, time.UTC),
		day(2024, time.June, 1),
	}
	for i, rec := range g.Details {
		assert.Equal(t, want[i], rec.Timestamp, "position %d", i)
		assert.Equal(t, time.UTC, rec.Timestamp.Location(), "position %d", i)
		assert.True(t, rec.Value.Equal(decimal.NewFromInt(int64(i+2))), "position %d", i)
	}
}

func TestSeriesStoreKeepsDecimalPrecision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSeries(t, TransactionsTable)

	for _, amount := range []string{"9.5", "12345678901234567.123456789", "10.25"} {
		_, err := store.AppendRecord(ctx, domain.Record{
			Key:       "AAA",
			Timestamp: day(2024, time.January, 10),
			Value:     decimal.RequireFromString(amount),
		})
		require.NoError(t, err)
	}

	groups, err := store.ReadUnprocessedGroups(ctx, day(2024, time.February, 1))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Details, 3)

	var got []string
	for _, rec := range groups[0].Details {
		got = append(got, rec.Value.String())
	}
	assert.Equal(t, []string{"12345678901234567.123456789", "10.25", "9.5"}, got, "numeric order, largest first")
	assert.Equal(t, "12345678901234586.873456789", groups[0].Aggregate.Sum.String())
}

func TestSeriesStoreMarkIsScopedAndIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSeries(t, TransactionsTable)
	now := day(2024, time.February, 1)

	a := appendRecord(t, store, "AAA", day(2024, time.January, 1), 1)
	b := appendRecord(t, store, "BBB", day(2024, time.January, 1), 2)

	require.NoError(t, store.MarkProcessed(ctx, []int64{a}))
	require.NoError(t, store.MarkProcessed(ctx, []int64{a}))
	require.NoError(t, store.MarkProcessed(ctx, nil))

	groups, err := store.ReadUnprocessedGroups(ctx, now)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []int64{b}, groups[0].MemberIDs)

	require.NoError(t, store.MarkProcessed(ctx, []int64{b}))
	groups, err = store.ReadUnprocessedGroups(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestSeriesStoreMarksLargeBatches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSeries(t, TransactionsTable)

	var ids []int64
	for i := 0; i < markChunkSize+20; i++ {
		ids = append(ids, appendRecord(t, store, "AAA", day(2024, time.January, 1), int64(i)))
	}
	require.NoError(t, store.MarkProcessed(ctx, ids))

	groups, err := store.ReadUnprocessedGroups(ctx, day(2024, time.February, 1))
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestNewsStoreSingletonGroups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, dialect := openTestDB(t, newsTable)
	store := NewNewsStore(db, dialect)
	t.Cleanup(func() { _ = store.Close() })

	published := time.Date(2024, time.May, 2, 9, 30, 0, 0, time.UTC)
	inserted, err := store.AppendArticle(ctx, domain.Article{Title: "One", URL: "https://example.org/1", Content: "first", PublishedAt: published})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.AppendArticle(ctx, domain.Article{Title: "One again", URL: "https://example.org/1", Content: "dup", PublishedAt: published})
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate url is ignored")

	_, err = store.AppendArticle(ctx, domain.Article{Title: "Manual", Content: "no url", PublishedAt: published})
	require.NoError(t, err)
	_, err = store.AppendArticle(ctx, domain.Article{Title: "Manual 2", Content: "no url either", PublishedAt: published})
	require.NoError(t, err)

	groups, err := store.ReadUnprocessedGroups(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, groups, 3)

	first := groups[0]
	require.NotNil(t, first.Article)
	assert.Equal(t, "first", first.Article.Content)
	assert.Equal(t, published, first.Article.PublishedAt)
	assert.Equal(t, []int64{first.Article.ID}, first.MemberIDs)
	assert.Equal(t, domain.CategoryNews, first.Category)

	require.NoError(t, store.MarkProcessed(ctx, first.MemberIDs))
	groups, err = store.ReadUnprocessedGroups(ctx, time.Now())
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestKnowledgeStoreAppendAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, dialect := openTestDB(t, knowledgeTable)
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	store := NewKnowledgeStore(db, dialect, func() time.Time { return now })
	t.Cleanup(func() { _ = store.Close() })

	a, err := store.Append(ctx, "news summary", domain.CategoryNews)
	require.NoError(t, err)
	assert.NotZero(t, a.ID)
	assert.Equal(t, now, a.CreatedAt)

	_, err = store.Append(ctx, "tx summary", domain.CategoryTransactions)
	require.NoError(t, err)

	all, err := store.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "tx summary", all[0].Summary)

	news, err := store.ListRecent(ctx, domain.CategoryNews, 10)
	require.NoError(t, err)
	require.Len(t, news, 1)
	assert.Equal(t, a, news[0])
}

func TestKnowledgeStoreRetentionBoundary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, dialect := openTestDB(t, knowledgeTable)

	cutoff := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	stamp := cutoff
	store := NewKnowledgeStore(db, dialect, func() time.Time { return stamp })
	t.Cleanup(func() { _ = store.Close() })

	atCutoff, err := store.Append(ctx, "at cutoff", domain.CategoryNews)
	require.NoError(t, err)

	stamp = cutoff.Add(-time.Millisecond)
	_, err = store.Append(ctx, "one millisecond older", domain.CategoryNews)
	require.NoError(t, err)
	_, err = store.Append(ctx, "other category", domain.CategoryPrices)
	require.NoError(t, err)

	deleted, err := store.DeleteOlderThan(ctx, domain.CategoryNews, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	left, err := store.ListRecent(ctx, domain.CategoryNews, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, atCutoff.ID, left[0].ID)

	prices, err := store.ListRecent(ctx, domain.CategoryPrices, 0)
	require.NoError(t, err)
	assert.Len(t, prices, 1)
}

func TestParseDialect(t *testing.T) {
	t.Parallel()

	_, err := ParseDialect("mysql")
	require.Error(t, err)

	d, err := ParseDialect(DriverPostgres)
	require.NoError(t, err)
	query, _, err := d.Builder().Select("id").From("news").Where("processed = ?", 0).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM news WHERE processed = $1", query)
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-02 03:04:05.006", time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)},
		{"2024-01-02 03:04:05", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2024-01-02", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"2024-01-02T03:04:05Z", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2024-01-02T08:04:05+05:00", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseTimestamp(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %v", tt.in, got)
		assert.Equal(t, time.UTC, got.Location(), tt.in)
	}

	_, err := parseTimestamp("yesterday")
	assert.Error(t, err)
}
