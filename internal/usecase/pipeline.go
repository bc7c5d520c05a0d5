package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/logging"
	"KnowledgeDigest/internal/ports"
	"KnowledgeDigest/internal/source"
)

const tracerName = "KnowledgeDigest/internal/usecase"

// PipelineDeps wires all driven adapters into the summarization pipeline.
type PipelineDeps struct {
	Summarizer ports.Summarizer
	Knowledge  ports.KnowledgeOpener
	Clock      ports.Clock
	Logger     *slog.Logger
	Tracer     trace.Tracer
	// MaxAttempts bounds summarization calls per group within one run.
	MaxAttempts int
	RetryDelay  time.Duration
}

// Pipeline drives one source from unprocessed rows to knowledge artifacts.
type Pipeline struct {
	summarizer  ports.Summarizer
	knowledge   ports.KnowledgeOpener
	clock       ports.Clock
	logger      *slog.Logger
	tracer      trace.Tracer
	maxAttempts int
	retryDelay  time.Duration
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeProcessed:
		return "processed"
	case outcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		summarizer:  deps.Summarizer,
		knowledge:   deps.Knowledge,
		clock:       deps.Clock,
		logger:      deps.Logger,
		tracer:      deps.Tracer,
		maxAttempts: deps.MaxAttempts,
		retryDelay:  deps.RetryDelay,
	}
	if p.clock == nil {
		p.clock = SystemClock{}
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 1
	}
	return p
}

// RunSource processes every unprocessed group of one source. The returned
// error is non-nil only when the source could not be run at all; per-group
// failures are counted in the report.
func (p *Pipeline) RunSource(ctx context.Context, def source.Definition) (domain.SourceReport, error) {
	return p.runSource(ctx, def, p.logger)
}

func (p *Pipeline) runSource(ctx context.Context, def source.Definition, logger *slog.Logger) (report domain.SourceReport, err error) {
	report = domain.SourceReport{Source: def.Category, Status: domain.StatusCompleted}
	logger = logger.With("source", def.Category)

	ctx, span := p.tracer.Start(ctx, "pipeline.RunSource", trace.WithAttributes(
		attribute.String("source", string(def.Category)),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("status", string(report.Status)),
			attribute.Int("groups", report.Groups),
			attribute.Int("processed", report.Processed),
			attribute.Int("skipped", report.Skipped),
			attribute.Int("failed", report.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			report.Status = domain.StatusAborted
			report.Error = err.Error()
		}
		span.End()

		logger.Info("source run finished",
			"status", report.Status,
			"groups", report.Groups,
			"processed", report.Processed,
			"skipped", report.Skipped,
			"failed", report.Failed,
		)
	}()

	if err := def.Validate(); err != nil {
		return report, err
	}
	if p.summarizer == nil || p.knowledge == nil {
		return report, errors.New("pipeline is missing summarizer or knowledge store")
	}

	store, err := def.Opener.OpenSource(ctx)
	if err != nil {
		return report, &domain.ReadFailure{Source: def.Category, Err: fmt.Errorf("open source: %w", err)}
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("close source store", "error", cerr)
		}
	}()

	kb, err := p.knowledge.OpenKnowledge(ctx)
	if err != nil {
		return report, &domain.WriteFailure{Op: "open knowledge", Err: err}
	}
	defer func() {
		if cerr := kb.Close(); cerr != nil {
			logger.Warn("close knowledge store", "error", cerr)
		}
	}()

	groups, err := store.ReadUnprocessedGroups(ctx, p.clock.Now())
	if err != nil {
		return report, &domain.ReadFailure{Source: def.Category, Err: err}
	}
	report.Groups = len(groups)
	if len(groups) == 0 {
		logger.Debug("nothing to process")
		return report, nil
	}

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("run interrupted: %w", err)
		}

		switch p.processGroup(ctx, def, store, kb, group, logger) {
		case outcomeProcessed:
			report.Processed++
		case outcomeSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}

	return report, nil
}

func (p *Pipeline) processGroup(
	ctx context.Context,
	def source.Definition,
	marker ports.CompletionMarker,
	writer ports.KnowledgeWriter,
	group domain.Group,
	logger *slog.Logger,
) (result outcome) {
	logger = logger.With("key", group.Key, "rows", len(group.MemberIDs))

	ctx, span := p.tracer.Start(ctx, "pipeline.group", trace.WithAttributes(
		attribute.String("source", string(def.Category)),
		attribute.String("key", group.Key),
		attribute.Int("rows", len(group.MemberIDs)),
	))
	defer func() {
		span.SetAttributes(attribute.String("outcome", result.String()))
		span.End()
	}()

	if def.MinDetails > 0 && len(group.Details) < def.MinDetails {
		logger.Info("group below minimum data, left unprocessed", "details", len(group.Details), "min", def.MinDetails)
		return outcomeSkipped
	}

	logger.Debug("summarizing group")
	summary, err := p.summarize(ctx, def.Build(group), def.Params)
	if err != nil {
		span.RecordError(err)
		logger.Warn("summarization failed, group left unprocessed", "error", err)
		return outcomeFailed
	}

	// The artifact write and the mark belong together; a cancelled run must
	// not stop between them.
	wctx := context.WithoutCancel(ctx)

	artifact, err := writer.Append(wctx, summary, def.Category)
	if err != nil {
		err = &domain.WriteFailure{Op: "append artifact", Err: err}
		span.RecordError(err)
		logger.Warn("artifact write failed, group left unprocessed", "error", err)
		return outcomeFailed
	}

	if err := marker.MarkProcessed(wctx, group.MemberIDs); err != nil {
		err = &domain.WriteFailure{Op: "mark processed", Err: err}
		span.RecordError(err)
		logger.Warn("mark failed after artifact write, group will be summarized again",
			"artifact_id", artifact.ID, "error", err)
		return outcomeFailed
	}

	logger.Debug("group processed", "artifact_id", artifact.ID)
	return outcomeProcessed
}

func (p *Pipeline) summarize(ctx context.Context, prompt domain.PromptSpec, params domain.ModelParams) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 && p.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return "", lastErr
			case <-time.After(p.retryDelay):
			}
		}

		summary, err := p.summarizer.Summarize(ctx, prompt, params)
		if err == nil && summary == "" {
			err = errors.New("empty summary")
		}
		if err == nil {
			return summary, nil
		}

		var sf *domain.ServiceFailure
		if !errors.As(err, &sf) {
			err = &domain.ServiceFailure{Provider: "unknown", Err: err}
		}
		lastErr = fmt.Errorf("attempt %d/%d: %w", attempt, p.maxAttempts, err)
	}
	return "", lastErr
}
