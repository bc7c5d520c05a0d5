package storage

import (
	"context"
	"time"

	"KnowledgeDigest/internal/ports"
)

// Location names a database by driver and DSN.
type Location struct {
	Driver string
	DSN    string
}

// SeriesOpener opens a SeriesStore per run.
type SeriesOpener struct {
	Location       Location
	Table          SeriesTable
	LookbackMonths int
}

var _ ports.SourceOpener = SeriesOpener{}

// OpenSource implements ports.SourceOpener.
func (o SeriesOpener) OpenSource(ctx context.Context) (ports.SourceStore, error) {
	return o.Open(ctx)
}

// Open returns the concrete store.
func (o SeriesOpener) Open(ctx context.Context) (*SeriesStore, error) {
	db, dialect, err := Open(ctx, o.Location.Driver, o.Location.DSN)
	if err != nil {
		return nil, err
	}
	return NewSeriesStore(db, dialect, o.Table, o.LookbackMonths), nil
}

// NewsOpener opens a NewsStore per run.
type NewsOpener struct {
	Location Location
}

var _ ports.SourceOpener = NewsOpener{}

// OpenSource implements ports.SourceOpener.
func (o NewsOpener) OpenSource(ctx context.Context) (ports.SourceStore, error) {
	return o.Open(ctx)
}

// Open returns the concrete store.
func (o NewsOpener) Open(ctx context.Context) (*NewsStore, error) {
	db, dialect, err := Open(ctx, o.Location.Driver, o.Location.DSN)
	if err != nil {
		return nil, err
	}
	return NewNewsStore(db, dialect), nil
}

// KnowledgeOpener opens a KnowledgeStore per run.
type KnowledgeOpener struct {
	Location Location
	Now      func() time.Time
}

var _ ports.KnowledgeOpener = KnowledgeOpener{}

// OpenKnowledge implements ports.KnowledgeOpener.
func (o KnowledgeOpener) OpenKnowledge(ctx context.Context) (ports.KnowledgeStore, error) {
	return o.Open(ctx)
}

// Open returns the concrete store.
func (o KnowledgeOpener) Open(ctx context.Context) (*KnowledgeStore, error) {
	db, dialect, err := Open(ctx, o.Location.Driver, o.Location.DSN)
	if err != nil {
		return nil, err
	}
	return NewKnowledgeStore(db, dialect, o.Now), nil
}

// MigrateAll creates every table at its configured location.
func MigrateAll(ctx context.Context, transactions, news, prices, knowledge Location) error {
	targets := []struct {
		loc   Location
		table string
	}{
		{transactions, TransactionsTable.Name},
		{news, newsTable},
		{prices, PricesTable.Name},
		{knowledge, knowledgeTable},
	}
	for _, t := range targets {
		db, dialect, err := Open(ctx, t.loc.Driver, t.loc.DSN)
		if err != nil {
			return err
		}
		err = Migrate(ctx, db, dialect, t.table)
		closeErr := db.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
	}
	return nil
}
