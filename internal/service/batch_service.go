package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tokenops/custody-engine/internal/domain"
	"github.com/tokenops/custody-engine/internal/queue"
	"github.com/tokenops/custody-engine/internal/repository"
	"go.uber.org/zap"
)

const maxBatchSize = 10000

// DisbursementInput is one requested recipient line item.
type DisbursementInput struct {
	Address string
	Amount  decimal.Decimal
}

// CreateBatchInput is a disbursement request from the boundary layer.
type CreateBatchInput struct {
	ID            string
	Cate1         string
	Cate2         string
	CorrelationID string
	Items         []DisbursementInput
}

// BatchStatusView is what pollers see: the four-state header plus live
// counters. Individual item errors surface through the detail listing, never
// as errors on this read path.
type BatchStatusView struct {
	Batch *domain.BatchRequest
	Stats *domain.BatchStats
}

// BatchService persists disbursement batches and hands them to the dispatch
// queue. The caller gets the batch id back immediately; transfers proceed
// independently.
type BatchService struct {
	writer    repository.BatchWriter
	batches   repository.BatchRepository
	details   repository.DetailRepository
	publisher queue.Publisher
	logger    *zap.Logger
}

func NewBatchService(
	writer repository.BatchWriter,
	batches repository.BatchRepository,
	details repository.DetailRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*BatchService, error) {
	if writer == nil {
		return nil, fmt.Errorf("batch writer is required")
	}
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if details == nil {
		return nil, fmt.Errorf("detail repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		writer:    writer,
		batches:   batches,
		details:   details,
		publisher: publisher,
		logger:    logger,
	}, nil
}

func (s *BatchService) Create(ctx context.Context, input CreateBatchInput) (*domain.BatchRequest, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: batch must include at least one recipient", domain.ErrValidation)
	}
	if len(input.Items) > maxBatchSize {
		return nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchSize)
	}

	batchID := strings.TrimSpace(input.ID)
	if batchID == "" {
		batchID = uuid.NewString()
	}

	items := make([]domain.DetailItem, 0, len(input.Items))
	for i := range input.Items {
		items = append(items, domain.DetailItem{
			BatchID:       batchID,
			WalletAddress: strings.TrimSpace(input.Items[i].Address),
			Amount:        input.Items[i].Amount,
			Sent:          domain.SentNo,
		})
	}

	batch := &domain.BatchRequest{
		ID:         batchID,
		Cate1:      strings.TrimSpace(input.Cate1),
		Cate2:      strings.TrimSpace(input.Cate2),
		TotalCount: len(items),
		Status:     domain.BatchStatusPending,
	}

	if err := s.writer.CreateWithDetails(ctx, batch, items); err != nil {
		return nil, err
	}

	msg := queue.DispatchMessage{
		BatchID:       batch.ID,
		CorrelationID: input.CorrelationID,
	}
	if err := s.publisher.Publish(ctx, queue.DispatchQueue, msg); err != nil {
		// The batch is durable and stays PENDING; a re-published message or a
		// manual dispatch picks it up from where it stands.
		s.logger.Error("failed to publish dispatch message",
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
		return batch, fmt.Errorf("%w: failed to enqueue batch dispatch: %v", domain.ErrDependency, err)
	}

	return batch, nil
}

func (s *BatchService) GetStatus(ctx context.Context, id string) (*BatchStatusView, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := s.batches.GetByID(ctx, trimmed)
	if err != nil {
		return nil, err
	}

	stats, err := s.details.Stats(ctx, trimmed)
	if err != nil {
		return nil, err
	}

	return &BatchStatusView{Batch: batch, Stats: stats}, nil
}

func (s *BatchService) ListDetails(ctx context.Context, id string, opts repository.ListOptions) ([]domain.DetailItem, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	if _, err := s.batches.GetByID(ctx, trimmed); err != nil {
		return nil, err
	}

	return s.details.List(ctx, trimmed, opts)
}
