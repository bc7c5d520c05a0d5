package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/logging"
	"KnowledgeDigest/internal/ports"
)

// RetentionSweep deletes knowledge entries whose creation time is strictly
// before now minus MaxAge. An entry exactly at the cutoff is kept.
type RetentionSweep struct {
	store      ports.RetentionStore
	clock      ports.Clock
	logger     *slog.Logger
	maxAge     time.Duration
	categories []domain.Category
}

// NewRetentionSweep builds a sweep over the given categories.
func NewRetentionSweep(store ports.RetentionStore, clock ports.Clock, logger *slog.Logger, maxAge time.Duration, categories []domain.Category) *RetentionSweep {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &RetentionSweep{store: store, clock: clock, logger: logger, maxAge: maxAge, categories: categories}
}

// Sweep deletes expired entries per category and returns the number removed.
func (s *RetentionSweep) Sweep(ctx context.Context) (int64, error) {
	if s.maxAge <= 0 {
		return 0, errors.New("retention max age must be positive")
	}

	cutoff := s.clock.Now().Add(-s.maxAge)

	var (
		total int64
		errs  []error
	)
	for _, c := range s.categories {
		n, err := s.store.DeleteOlderThan(ctx, c, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s: %w", c, err))
			continue
		}
		total += n
		s.logger.Info("retention sweep", "category", c, "cutoff", cutoff, "deleted", n)
	}
	return total, errors.Join(errs...)
}
