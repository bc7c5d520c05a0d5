package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/ports"
)

const knowledgeTable = "knowledge_base"

// KnowledgeStore persists generated artifacts into the shared knowledge base.
type KnowledgeStore struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

var (
	_ ports.KnowledgeStore  = (*KnowledgeStore)(nil)
	_ ports.KnowledgeReader = (*KnowledgeStore)(nil)
	_ ports.RetentionStore  = (*KnowledgeStore)(nil)
)

// NewKnowledgeStore wraps an open database; now stamps created_at and
// defaults to time.Now.
func NewKnowledgeStore(db *sql.DB, dialect Dialect, now func() time.Time) *KnowledgeStore {
	if now == nil {
		now = time.Now
	}
	return &KnowledgeStore{db: db, sb: dialect.Builder(), now: now}
}

// Append inserts a single artifact. There is no upsert and no deduplication.
func (s *KnowledgeStore) Append(ctx context.Context, summary string, category domain.Category) (domain.Artifact, error) {
	created := s.now().UTC().Truncate(time.Millisecond)

	query, args, err := s.sb.Insert(knowledgeTable).
		Columns("summary", "type", "created_at").
		Values(summary, string(category), formatTimestamp(created)).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("build insert artifact: %w", err)
	}

	artifact := domain.Artifact{Summary: summary, Category: category, CreatedAt: created}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&artifact.ID); err != nil {
		return domain.Artifact{}, fmt.Errorf("insert artifact: %w", err)
	}
	return artifact, nil
}

// ListRecent returns the newest artifacts first; an empty category lists all.
func (s *KnowledgeStore) ListRecent(ctx context.Context, category domain.Category, limit int) ([]domain.Artifact, error) {
	builder := s.sb.Select("id", "summary", "type", "created_at").
		From(knowledgeTable).
		OrderBy("id DESC")
	if category != "" {
		builder = builder.Where(sq.Eq{"type": string(category)})
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list artifacts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var result []domain.Artifact
	for rows.Next() {
		var (
			a        domain.Artifact
			kind     string
			creation string
		)
		if err := rows.Scan(&a.ID, &a.Summary, &kind, &creation); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Category = domain.Category(kind)
		if a.CreatedAt, err = parseTimestamp(creation); err != nil {
			return nil, fmt.Errorf("artifact %d: %w", a.ID, err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

// DeleteOlderThan removes artifacts of category created strictly before cutoff.
// An artifact created exactly at cutoff is retained.
func (s *KnowledgeStore) DeleteOlderThan(ctx context.Context, category domain.Category, cutoff time.Time) (int64, error) {
	query, args, err := s.sb.Delete(knowledgeTable).
		Where(sq.Eq{"type": string(category)}).
		Where(sq.Lt{"created_at": formatTimestamp(cutoff)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete artifacts: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete artifacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Close releases the connection.
func (s *KnowledgeStore) Close() error {
	return s.db.Close()
}
