package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"

	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/ports"
)

const newsTable = "news"

// NewsStore reads and marks news articles; every article is its own group.
type NewsStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var (
	_ ports.SourceStore  = (*NewsStore)(nil)
	_ ports.NewsAppender = (*NewsStore)(nil)
)

// NewNewsStore wraps an open database; the store owns db and closes it.
func NewNewsStore(db *sql.DB, dialect Dialect) *NewsStore {
	return &NewsStore{db: db, sb: dialect.Builder()}
}

// ReadUnprocessedGroups returns one singleton group per unprocessed article.
func (s *NewsStore) ReadUnprocessedGroups(ctx context.Context, _ time.Time) ([]domain.Group, error) {
	query, args, err := s.sb.Select("id", "title", "url", "content", "release_date").
		From(newsTable).
		Where(sq.Eq{"processed": 0}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select news: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query news: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var (
			article domain.Article
			link    sql.NullString
			date    string
		)
		if err := rows.Scan(&article.ID, &article.Title, &link, &article.Content, &date); err != nil {
			return nil, fmt.Errorf("scan news: %w", err)
		}
		article.URL = link.String
		if article.PublishedAt, err = parseTimestamp(date); err != nil {
			return nil, fmt.Errorf("news %d: %w", article.ID, err)
		}

		a := article
		groups = append(groups, domain.Group{
			Category:  domain.CategoryNews,
			Key:       strconv.FormatInt(article.ID, 10),
			MemberIDs: []int64{article.ID},
			Aggregate: domain.Aggregate{Count: 1, First: article.PublishedAt, Last: article.PublishedAt},
			Article:   &a,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return groups, nil
}

// MarkProcessed flips the flag for exactly the given article ids.
func (s *NewsStore) MarkProcessed(ctx context.Context, ids []int64) error {
	return markProcessed(ctx, s.db, s.sb, newsTable, ids)
}

// AppendArticle stores an unprocessed article. Articles whose URL already
// exists are ignored and reported as not inserted.
func (s *NewsStore) AppendArticle(ctx context.Context, article domain.Article) (bool, error) {
	link := sql.NullString{String: article.URL, Valid: article.URL != ""}

	query, args, err := s.sb.Insert(newsTable).
		Columns("title", "url", "content", "release_date", "processed").
		Values(article.Title, link, article.Content, formatTimestamp(article.PublishedAt), 0).
		Suffix("ON CONFLICT (url) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert news: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert news: %w", err)
	}
	return true, nil
}

// Close releases the run-scoped connection.
func (s *NewsStore) Close() error {
	return s.db.Close()
}
