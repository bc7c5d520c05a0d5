package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"KnowledgeDigest/internal/config"
	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/infrastructure/feed"
	"KnowledgeDigest/internal/infrastructure/httpapi"
	"KnowledgeDigest/internal/infrastructure/llm"
	"KnowledgeDigest/internal/infrastructure/lock"
	"KnowledgeDigest/internal/infrastructure/scheduler"
	"KnowledgeDigest/internal/infrastructure/storage"
	"KnowledgeDigest/internal/infrastructure/telegram"
	"KnowledgeDigest/internal/logging"
	"KnowledgeDigest/internal/ports"
	"KnowledgeDigest/internal/prompt"
	"KnowledgeDigest/internal/source"
	"KnowledgeDigest/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

// Option customizes an Application.
type Option func(*Application)

// WithSummarizer replaces the configured LLM provider.
func WithSummarizer(s ports.Summarizer) Option {
	return func(a *Application) { a.summarizer = s }
}

// WithClock fixes "now" for window and retention computations.
func WithClock(c ports.Clock) Option {
	return func(a *Application) { a.clock = c }
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	clock      ports.Clock
	summarizer ports.Summarizer
}

// New builds an application instance. It performs no I/O.
func New(cfg config.Config, baseLogger *slog.Logger, opts ...Option) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger, clock: usecase.SystemClock{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Migrate creates every table at its configured location.
func (a *Application) Migrate(ctx context.Context) error {
	db := a.cfg.Database
	return storage.MigrateAll(ctx,
		a.location(db.TransactionsDSN),
		a.location(db.NewsDSN),
		a.location(db.PricesDSN),
		a.location(db.KnowledgeDSN),
	)
}

// Run performs a single pipeline execution over the given categories (all enabled when empty).
func (a *Application) Run(ctx context.Context, categories ...domain.Category) (domain.RunReport, error) {
	runner, cleanup, err := a.buildRunner(ctx)
	if err != nil {
		return domain.RunReport{}, err
	}
	defer cleanup()

	return runner.Run(ctx, categories...)
}

// Sweep deletes knowledge entries older than the retention window.
func (a *Application) Sweep(ctx context.Context) (int64, error) {
	store, err := a.knowledgeOpener().Open(ctx)
	if err != nil {
		return 0, fmt.Errorf("open knowledge: %w", err)
	}
	defer store.Close()

	sweep, err := a.retentionSweep(store)
	if err != nil {
		return 0, err
	}
	return sweep.Sweep(ctx)
}

// Ingest pulls the configured RSS feeds into the news store.
func (a *Application) Ingest(ctx context.Context) (feed.Result, error) {
	if len(a.cfg.Feeds) == 0 {
		return feed.Result{}, errors.New("no feeds configured")
	}

	news, err := storage.NewsOpener{Location: a.location(a.cfg.Database.NewsDSN)}.Open(ctx)
	if err != nil {
		return feed.Result{}, fmt.Errorf("open news: %w", err)
	}
	defer news.Close()

	sources := make([]feed.Source, 0, len(a.cfg.Feeds))
	for _, f := range a.cfg.Feeds {
		sources = append(sources, feed.Source{Name: f.Name, URL: f.URL})
	}

	ingester := feed.NewIngester(news, nil, a.logger.With("component", "feed"))
	return ingester.Ingest(ctx, sources)
}

// Serve runs the HTTP API and the periodic scheduler until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	runner, cleanup, err := a.buildRunner(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	knowledge, err := a.knowledgeOpener().Open(ctx)
	if err != nil {
		return fmt.Errorf("open knowledge: %w", err)
	}
	defer knowledge.Close()

	sweep, err := a.retentionSweep(knowledge)
	if err != nil {
		return err
	}

	sched := usecase.NewScheduler(
		scheduler.NewIntervalScheduler(a.cfg.Scheduler.Interval, a.cfg.Scheduler.Location()),
		runner,
		sweep,
		a.logger.With("component", "scheduler"),
	)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	handler := httpapi.NewHandler(knowledge, runner, a.logger.With("component", "http"))
	server := httpapi.NewServer(a.cfg.HTTP.Addr, handler)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	a.logger.Info("serving", "addr", a.cfg.HTTP.Addr, "interval", a.cfg.Scheduler.Interval)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return errors.Join(
		serveErr,
		server.Shutdown(shutdownCtx),
		sched.Stop(shutdownCtx),
	)
}

// Registry builds the source definitions of every enabled source.
func (a *Application) Registry() (*source.Registry, error) {
	cfg := a.cfg
	lookback := cfg.Pipeline.LookbackMonths
	registry := source.NewRegistry()

	params := func(s config.SourceConfig) domain.ModelParams {
		return domain.ModelParams{Model: s.Model, Temperature: s.Temperature, MaxTokens: cfg.LLM.MaxTokens}
	}

	defs := []struct {
		cfg config.SourceConfig
		def source.Definition
	}{
		{cfg.Sources.Transactions, source.Definition{
			Category: domain.CategoryTransactions,
			Opener: storage.SeriesOpener{
				Location:       a.location(cfg.Database.TransactionsDSN),
				Table:          storage.TransactionsTable,
				LookbackMonths: lookback,
			},
			Build: prompt.Transactions(lookback),
		}},
		{cfg.Sources.News, source.Definition{
			Category: domain.CategoryNews,
			Opener:   storage.NewsOpener{Location: a.location(cfg.Database.NewsDSN)},
			Build:    prompt.News(cfg.Pipeline.NewsContentLimit),
		}},
		{cfg.Sources.Prices, source.Definition{
			Category: domain.CategoryPrices,
			Opener: storage.SeriesOpener{
				Location:       a.location(cfg.Database.PricesDSN),
				Table:          storage.PricesTable,
				LookbackMonths: lookback,
			},
			Build: prompt.Prices(lookback),
		}},
	}

	for _, d := range defs {
		if !d.cfg.Enabled {
			continue
		}
		d.def.Params = params(d.cfg)
		d.def.MinDetails = d.cfg.MinDetails
		if err := registry.Register(d.def); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (a *Application) buildRunner(ctx context.Context) (*usecase.Runner, func(), error) {
	registry, err := a.Registry()
	if err != nil {
		return nil, nil, err
	}

	summarizer := a.summarizer
	if summarizer == nil {
		summarizer, err = llm.New(a.cfg.LLM)
		if err != nil {
			return nil, nil, fmt.Errorf("build summarizer: %w", err)
		}
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Summarizer:  summarizer,
		Knowledge:   a.knowledgeOpener(),
		Clock:       a.clock,
		Logger:      a.logger.With("component", "pipeline"),
		MaxAttempts: a.cfg.Pipeline.MaxAttempts,
		RetryDelay:  a.cfg.Pipeline.RetryDelay,
	})

	deps := usecase.RunnerDeps{
		Pipeline: pipeline,
		Registry: registry,
		Clock:    a.clock,
		Logger:   a.logger.With("component", "runner"),
	}

	cleanup := func() {}
	if url := a.cfg.Lock.RedisURL; url != "" {
		locker, err := lock.NewRedisLocker(ctx, url, a.cfg.Lock.TTL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect lock: %w", err)
		}
		deps.Locker = locker
		cleanup = func() {
			if err := locker.Close(); err != nil {
				a.logger.Warn("close lock client", "error", err)
			}
		}
	}

	if tg := a.cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		deps.Notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID)
	}

	return usecase.NewRunner(deps), cleanup, nil
}

func (a *Application) retentionSweep(store ports.RetentionStore) (*usecase.RetentionSweep, error) {
	categories := make([]domain.Category, 0, len(a.cfg.Retention.Categories))
	for _, raw := range a.cfg.Retention.Categories {
		c, err := domain.ParseCategory(raw)
		if err != nil {
			return nil, fmt.Errorf("retention: %w", err)
		}
		categories = append(categories, c)
	}
	return usecase.NewRetentionSweep(store, a.clock, a.logger.With("component", "retention"),
		a.cfg.Retention.MaxAge, categories), nil
}

func (a *Application) knowledgeOpener() storage.KnowledgeOpener {
	return storage.KnowledgeOpener{Location: a.location(a.cfg.Database.KnowledgeDSN), Now: a.clock.Now}
}

func (a *Application) location(dsn string) storage.Location {
	return storage.Location{Driver: a.cfg.Database.Driver, DSN: dsn}
}
