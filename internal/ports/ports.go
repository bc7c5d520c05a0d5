package ports

import (
	"context"
	"time"

	"KnowledgeDigest/internal/domain"
)

// GroupReader returns every unprocessed group of a source as of now.
type GroupReader interface {
	ReadUnprocessedGroups(ctx context.Context, now time.Time) ([]domain.Group, error)
}

// CompletionMarker flips the processed flag of exactly the given rows.
type CompletionMarker interface {
	MarkProcessed(ctx context.Context, ids []int64) error
}

// SourceStore is a run-scoped connection to one source store.
type SourceStore interface {
	GroupReader
	CompletionMarker
	Close() error
}

// SourceOpener acquires a SourceStore for a single run.
type SourceOpener interface {
	OpenSource(ctx context.Context) (SourceStore, error)
}

// KnowledgeWriter appends generated artifacts to the shared knowledge base.
type KnowledgeWriter interface {
	Append(ctx context.Context, summary string, category domain.Category) (domain.Artifact, error)
}

// KnowledgeStore is a run-scoped connection to the knowledge base.
type KnowledgeStore interface {
	KnowledgeWriter
	Close() error
}

// KnowledgeOpener acquires a KnowledgeStore for a single run.
type KnowledgeOpener interface {
	OpenKnowledge(ctx context.Context) (KnowledgeStore, error)
}

// KnowledgeReader lists artifacts for knowledge consumers.
type KnowledgeReader interface {
	ListRecent(ctx context.Context, category domain.Category, limit int) ([]domain.Artifact, error)
}

// RetentionStore deletes expired knowledge entries.
type RetentionStore interface {
	DeleteOlderThan(ctx context.Context, category domain.Category, cutoff time.Time) (int64, error)
}

// NewsAppender stores freshly ingested articles as unprocessed news rows.
type NewsAppender interface {
	AppendArticle(ctx context.Context, article domain.Article) (bool, error)
}

// Summarizer turns a prompt into prose via an external text-generation service.
type Summarizer interface {
	Summarize(ctx context.Context, prompt domain.PromptSpec, params domain.ModelParams) (string, error)
}

// Notifier publishes run summaries to Telegram or other channels.
type Notifier interface {
	PublishReport(ctx context.Context, report string) error
}

// Scheduler controls when runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// Lease is a held lock; Release is safe to call once.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker guards a source against overlapping invocations.
// Acquire returns a nil Lease and nil error when the lock is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Clock supplies "now" for window and retention computations.
type Clock interface {
	Now() time.Time
}
