package storage

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/ports"
)

// SeriesTable describes a ticker keyed source table.
type SeriesTable struct {
	Category    domain.Category
	Name        string
	ValueColumn string
	// DetailOrder sorts the window rows; ties always fall back to id.
	DetailOrder func(a, b domain.Record) int
}

var (
	// TransactionsTable orders context rows by amount, largest first.
	TransactionsTable = SeriesTable{
		Category:    domain.CategoryTransactions,
		Name:        "transactions",
		ValueColumn: "amount",
		DetailOrder: func(a, b domain.Record) int { return b.Value.Cmp(a.Value) },
	}
	// PricesTable orders context rows chronologically.
	PricesTable = SeriesTable{
		Category:    domain.CategoryPrices,
		Name:        "prices",
		ValueColumn: "price",
		DetailOrder: func(a, b domain.Record) int { return a.Timestamp.Compare(b.Timestamp) },
	}
)

// SeriesStore reads and marks a ticker keyed source (transactions or prices).
type SeriesStore struct {
	db             *sql.DB
	sb             sq.StatementBuilderType
	table          SeriesTable
	lookbackMonths int
}

var _ ports.SourceStore = (*SeriesStore)(nil)

// NewSeriesStore wraps an open database; the store owns db and closes it.
func NewSeriesStore(db *sql.DB, dialect Dialect, table SeriesTable, lookbackMonths int) *SeriesStore {
	return &SeriesStore{
		db:             db,
		sb:             dialect.Builder(),
		table:          table,
		lookbackMonths: lookbackMonths,
	}
}

// ReadUnprocessedGroups groups unprocessed rows by ticker and attaches the
// lookback window of every ticker regardless of the processed flag.
func (s *SeriesStore) ReadUnprocessedGroups(ctx context.Context, now time.Time) ([]domain.Group, error) {
	members, err := s.unprocessed(ctx)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	windowStart := now.AddDate(0, -s.lookbackMonths, 0)

	var (
		groups []domain.Group
		index  = map[string]int{}
	)
	for _, rec := range members {
		i, ok := index[rec.Key]
		if !ok {
			i = len(groups)
			index[rec.Key] = i
			groups = append(groups, domain.Group{
				Category:    s.table.Category,
				Key:         rec.Key,
				WindowStart: windowStart,
				Aggregate:   domain.Aggregate{Sum: decimal.Zero, First: rec.Timestamp},
			})
		}
		g := &groups[i]
		g.MemberIDs = append(g.MemberIDs, rec.ID)
		g.Aggregate.Sum = g.Aggregate.Sum.Add(rec.Value)
		g.Aggregate.Count++
		if rec.Timestamp.Before(g.Aggregate.First) {
			g.Aggregate.First = rec.Timestamp
		}
		if rec.Timestamp.After(g.Aggregate.Last) {
			g.Aggregate.Last = rec.Timestamp
		}
	}

	for i := range groups {
		details, err := s.window(ctx, groups[i].Key, windowStart)
		if err != nil {
			return nil, err
		}
		groups[i].Details = details
	}

	return groups, nil
}

// MarkProcessed flips the flag for exactly the given row ids.
func (s *SeriesStore) MarkProcessed(ctx context.Context, ids []int64) error {
	return markProcessed(ctx, s.db, s.sb, s.table.Name, ids)
}

// AppendRecord inserts a raw unprocessed row.
func (s *SeriesStore) AppendRecord(ctx context.Context, rec domain.Record) (int64, error) {
	query, args, err := s.sb.Insert(s.table.Name).
		Columns("ticker", "date", s.table.ValueColumn, "processed").
		Values(rec.Key, formatTimestamp(rec.Timestamp), rec.Value.String(), 0).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert %s: %w", s.table.Name, err)
	}
	return id, nil
}

// Close releases the run-scoped connection.
func (s *SeriesStore) Close() error {
	return s.db.Close()
}

func (s *SeriesStore) unprocessed(ctx context.Context) ([]domain.Record, error) {
	query, args, err := s.sb.Select("id", "ticker", "date", s.table.ValueColumn, "processed").
		From(s.table.Name).
		Where(sq.Eq{"processed": 0}).
		OrderBy("ticker ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select unprocessed: %w", err)
	}
	return s.query(ctx, query, args)
}

// window filters on parsed timestamps: rows written by other producers may
// use any accepted layout, so the date column is not comparable as text.
func (s *SeriesStore) window(ctx context.Context, key string, start time.Time) ([]domain.Record, error) {
	query, args, err := s.sb.Select("id", "ticker", "date", s.table.ValueColumn, "processed").
		From(s.table.Name).
		Where(sq.Eq{"ticker": key}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select window: %w", err)
	}
	rows, err := s.query(ctx, query, args)
	if err != nil {
		return nil, err
	}

	details := slices.DeleteFunc(rows, func(rec domain.Record) bool {
		return rec.Timestamp.Before(start)
	})
	slices.SortStableFunc(details, func(a, b domain.Record) int {
		if c := s.table.DetailOrder(a, b); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return details, nil
}

func (s *SeriesStore) query(ctx context.Context, query string, args []interface{}) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table.Name, err)
	}

	var result []domain.Record
	for rows.Next() {
		var (
			rec       domain.Record
			date      string
			processed int
		)
		if err := rows.Scan(&rec.ID, &rec.Key, &date, &rec.Value, &processed); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan %s: %w", s.table.Name, err)
		}
		if rec.Timestamp, err = parseTimestamp(date); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("row %d: %w", rec.ID, err)
		}
		rec.Processed = processed != 0
		result = append(result, rec)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return result, nil
}
