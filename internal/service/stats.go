package service

import (
	"context"
	"fmt"

	"github.com/tokenops/custody-engine/internal/repository"
	"go.uber.org/zap"
)

// StatsAggregator recomputes a batch's completed/failed counters from its
// detail rows. A full recompute, not an increment: repeated or interleaved
// calls converge on the same values, so it is safe to run concurrently with
// dispatch.
type StatsAggregator struct {
	batches repository.BatchRepository
	details repository.DetailRepository
	logger  *zap.Logger
}

func NewStatsAggregator(
	batches repository.BatchRepository,
	details repository.DetailRepository,
	logger *zap.Logger,
) (*StatsAggregator, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if details == nil {
		return nil, fmt.Errorf("detail repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatsAggregator{
		batches: batches,
		details: details,
		logger:  logger,
	}, nil
}

func (s *StatsAggregator) Refresh(ctx context.Context, batchID string) error {
	completed, failed, total, err := s.details.Aggregate(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to aggregate batch details: %w", err)
	}

	if err := s.batches.UpdateCounts(ctx, batchID, completed, failed); err != nil {
		return fmt.Errorf("failed to update batch counters: %w", err)
	}

	s.logger.Debug("batch counters refreshed",
		zap.String("batchId", batchID),
		zap.Int("completed", completed),
		zap.Int("failed", failed),
		zap.Int("total", total),
	)
	return nil
}
