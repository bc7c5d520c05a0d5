package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// timestampLayout is fixed width so lexicographic order equals time order.
	timestampLayout = "2006-01-02 15:04:05.000"
	markChunkSize   = 500
)

var timestampLayouts = []string{
	timestampLayout,
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339Nano,
}

// Dialect carries the per-driver differences of SQL generation.
type Dialect struct {
	Driver string
}

// Builder returns a squirrel builder with the driver's placeholder format.
func (d Dialect) Builder() sq.StatementBuilderType {
	if d.Driver == DriverPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// decimalColumn keeps amounts exact: SQLite NUMERIC affinity would store
// non-integral values as REAL.
func (d Dialect) decimalColumn() string {
	if d.Driver == DriverPostgres {
		return "NUMERIC"
	}
	return "TEXT"
}

func (d Dialect) idColumn() string {
	if d.Driver == DriverPostgres {
		return "id BIGSERIAL PRIMARY KEY"
	}
	return "id INTEGER PRIMARY KEY AUTOINCREMENT"
}

// ParseDialect validates a driver name.
func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
		return Dialect{Driver: driver}, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open connects to a store and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, Dialect{}, err
	}
	if dsn == "" {
		return nil, Dialect{}, fmt.Errorf("empty %s dsn", driver)
	}

	if driver == DriverSQLite {
		dsn, err = sqliteDSN(dsn)
		if err != nil {
			return nil, Dialect{}, err
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, Dialect{}, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, Dialect{}, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, dialect, nil
}

func sqliteDSN(dsn string) (string, error) {
	if strings.Contains(dsn, "?") || strings.HasPrefix(dsn, "file:") || dsn == ":memory:" {
		return dsn, nil
	}
	if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create data dir: %w", err)
		}
	}
	return "file:" + dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
}

// Migrate creates the named tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, tables ...string) error {
	for _, table := range tables {
		stmts, err := schemaFor(dialect, table)
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate %s: %w", table, err)
			}
		}
	}
	return nil
}

func schemaFor(d Dialect, table string) ([]string, error) {
	switch table {
	case TransactionsTable.Name, PricesTable.Name:
		column := TransactionsTable.ValueColumn
		if table == PricesTable.Name {
			column = PricesTable.ValueColumn
		}
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				%s,
				ticker TEXT NOT NULL,
				date TEXT NOT NULL,
				%s %s NOT NULL,
				processed INTEGER NOT NULL DEFAULT 0
			)`, table, d.idColumn(), column, d.decimalColumn()),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_processed ON %s (processed, ticker)`, table, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ticker_date ON %s (ticker, date)`, table, table),
		}, nil
	case newsTable:
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS news (
				%s,
				title TEXT NOT NULL DEFAULT '',
				url TEXT UNIQUE,
				content TEXT NOT NULL,
				release_date TEXT NOT NULL,
				processed INTEGER NOT NULL DEFAULT 0
			)`, d.idColumn()),
			`CREATE INDEX IF NOT EXISTS idx_news_processed ON news (processed)`,
		}, nil
	case knowledgeTable:
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_base (
				%s,
				summary TEXT NOT NULL,
				type TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`, d.idColumn()),
			`CREATE INDEX IF NOT EXISTS idx_knowledge_base_type_created ON knowledge_base (type, created_at)`,
		}, nil
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
}

// markProcessed flips processed 0→1 for exactly ids within one transaction.
// Rows already processed are left untouched.
func markProcessed(ctx context.Context, db *sql.DB, sb sq.StatementBuilderType, table string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for chunk := range slices.Chunk(ids, markChunkSize) {
		query, args, err := sb.Update(table).
			Set("processed", 1).
			Where(sq.Eq{"id": chunk}).
			Where(sq.Eq{"processed": 0}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build mark: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("mark %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark: %w", err)
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
