package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tokenops/custody-engine/internal/domain"
	"go.uber.org/zap"
)

func TestStatsAggregatorRefresh(t *testing.T) {
	t.Parallel()

	batches := newFakeBatchRepo()
	details := newFakeDetailRepo(3)

	batches.put(&domain.BatchRequest{
		ID:         testBatchID,
		TotalCount: 3,
		Status:     domain.BatchStatusProcessing,
	})
	details.seed(
		domain.DetailItem{BatchID: testBatchID, WalletAddress: addrA, Amount: decimal.NewFromInt(1), Sent: domain.SentYes, AttemptCount: 1},
		domain.DetailItem{BatchID: testBatchID, WalletAddress: addrB, Amount: decimal.NewFromInt(1), Sent: domain.SentYes, AttemptCount: 2},
		domain.DetailItem{BatchID: testBatchID, WalletAddress: addrC, Amount: decimal.NewFromInt(1), AttemptCount: 3},
	)

	agg, err := NewStatsAggregator(batches, details, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStatsAggregator() error = %v", err)
	}

	if err := agg.Refresh(context.Background(), testBatchID); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	batch, _ := batches.GetByID(context.Background(), testBatchID)
	if batch.CompletedCount != 2 || batch.FailedCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", batch.CompletedCount, batch.FailedCount)
	}
}

func TestStatsAggregatorRefreshIsIdempotent(t *testing.T) {
	t.Parallel()

	batches := newFakeBatchRepo()
	details := newFakeDetailRepo(3)

	batches.put(&domain.BatchRequest{ID: testBatchID, TotalCount: 1, Status: domain.BatchStatusProcessing})
	details.seed(domain.DetailItem{BatchID: testBatchID, WalletAddress: addrA, Amount: decimal.NewFromInt(1), Sent: domain.SentYes, AttemptCount: 1})

	agg, err := NewStatsAggregator(batches, details, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStatsAggregator() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := agg.Refresh(context.Background(), testBatchID); err != nil {
			t.Fatalf("Refresh() #%d error = %v", i+1, err)
		}
	}

	batch, _ := batches.GetByID(context.Background(), testBatchID)
	if batch.CompletedCount != 1 || batch.FailedCount != 0 {
		t.Errorf("counts = %d/%d, want 1/0 regardless of refresh count", batch.CompletedCount, batch.FailedCount)
	}
}

func TestStatsAggregatorPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	batches := newFakeBatchRepo()
	details := newFakeDetailRepo(3)
	details.aggregateErr = errors.New("query timeout")

	agg, err := NewStatsAggregator(batches, details, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStatsAggregator() error = %v", err)
	}

	if err := agg.Refresh(context.Background(), testBatchID); err == nil {
		t.Fatal("Refresh() should propagate the aggregate failure")
	}
}
