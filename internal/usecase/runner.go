package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/logging"
	"KnowledgeDigest/internal/ports"
	"KnowledgeDigest/internal/source"
)

// RunnerDeps wires the pipeline with source definitions and run-level collaborators.
type RunnerDeps struct {
	Pipeline *Pipeline
	Registry *source.Registry
	Locker   ports.Locker
	Notifier ports.Notifier
	Clock    ports.Clock
	Logger   *slog.Logger
}

// Runner executes one invocation over a set of sources.
type Runner struct {
	pipeline *Pipeline
	registry *source.Registry
	locker   ports.Locker
	notifier ports.Notifier
	clock    ports.Clock
	logger   *slog.Logger

	// active guards sources of this process; the locker covers other processes.
	mu     sync.Mutex
	active map[domain.Category]bool
}

// NewRunner constructs a Runner.
func NewRunner(deps RunnerDeps) *Runner {
	r := &Runner{
		pipeline: deps.Pipeline,
		registry: deps.Registry,
		locker:   deps.Locker,
		notifier: deps.Notifier,
		clock:    deps.Clock,
		logger:   deps.Logger,
		active:   map[domain.Category]bool{},
	}
	if r.clock == nil {
		r.clock = SystemClock{}
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	return r
}

// Run processes the given categories, or every registered one when none are
// given. Sources run concurrently and independently; the returned error joins
// the fatal errors of every aborted source.
func (r *Runner) Run(ctx context.Context, categories ...domain.Category) (domain.RunReport, error) {
	if r.pipeline == nil || r.registry == nil {
		return domain.RunReport{}, errors.New("runner is not configured")
	}
	if len(categories) == 0 {
		categories = r.registry.Categories()
	}

	defs := make([]source.Definition, 0, len(categories))
	for _, c := range categories {
		def, err := r.registry.Resolve(c)
		if err != nil {
			return domain.RunReport{}, err
		}
		defs = append(defs, def)
	}

	report := domain.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: r.clock.Now(),
		Sources:   make([]domain.SourceReport, len(defs)),
	}
	logger := r.logger.With("run_id", report.RunID)
	logger.Info("run started", "sources", len(defs))

	errs := make([]error, len(defs))
	var wg sync.WaitGroup
	for i, def := range defs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report.Sources[i], errs[i] = r.runLocked(ctx, def, logger)
		}()
	}
	wg.Wait()

	report.FinishedAt = r.clock.Now()
	logger.Info("run finished", "aborted", report.Aborted(), "duration", report.FinishedAt.Sub(report.StartedAt))

	if r.notifier != nil {
		if err := r.notifier.PublishReport(ctx, report.String()); err != nil {
			logger.Warn("publish run report", "error", err)
		}
	}

	return report, errors.Join(errs...)
}

func (r *Runner) runLocked(ctx context.Context, def source.Definition, logger *slog.Logger) (domain.SourceReport, error) {
	if !r.claim(def.Category) {
		logger.Info("source is already running in this process", "source", def.Category)
		return domain.SourceReport{Source: def.Category, Status: domain.StatusLocked}, nil
	}
	defer r.release(def.Category)

	if r.locker == nil {
		return r.pipeline.runSource(ctx, def, logger)
	}

	lease, err := r.locker.Acquire(ctx, LockKey(def.Category))
	if err != nil {
		err = fmt.Errorf("acquire lock for %s: %w", def.Category, err)
		return domain.SourceReport{Source: def.Category, Status: domain.StatusAborted, Error: err.Error()}, err
	}
	if lease == nil {
		logger.Info("source is locked by another run", "source", def.Category)
		return domain.SourceReport{Source: def.Category, Status: domain.StatusLocked}, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release lock", "source", def.Category, "error", err)
		}
	}()

	return r.pipeline.runSource(ctx, def, logger)
}

func (r *Runner) claim(category domain.Category) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[category] {
		return false
	}
	r.active[category] = true
	return true
}

func (r *Runner) release(category domain.Category) {
	r.mu.Lock()
	delete(r.active, category)
	r.mu.Unlock()
}

// LockKey names the lock that guards a source against overlapping runs.
func LockKey(category domain.Category) string {
	return "lock:" + string(category)
}
