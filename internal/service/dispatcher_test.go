package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tokenops/custody-engine/internal/domain"
	"github.com/tokenops/custody-engine/internal/ledger"
	"go.uber.org/zap"
)

const (
	testBatchID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

	addrA = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	addrB = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	addrC = "HN7cABqLq46Es1jh92dQQisAq662SmxELLLsHHe4YWrH"
)

func newTestDispatcher(t *testing.T, batches *fakeBatchRepo, details *fakeDetailRepo, client ledger.Client) *Dispatcher {
	t.Helper()

	stats, err := NewStatsAggregator(batches, details, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStatsAggregator() error = %v", err)
	}

	d, err := NewDispatcher(batches, details, stats, client, nil, DispatcherOptions{
		WindowSize: 3,
		MaxRetry:   3,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	// No real waiting between retry attempts.
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

func seedBatch(batches *fakeBatchRepo, details *fakeDetailRepo, addrs ...string) {
	batches.put(&domain.BatchRequest{
		ID:         testBatchID,
		TotalCount: len(addrs),
		Status:     domain.BatchStatusPending,
	})
	for _, addr := range addrs {
		details.seed(domain.DetailItem{
			BatchID:       testBatchID,
			WalletAddress: addr,
			Amount:        decimal.RequireFromString("1.5"),
		})
	}
}

func TestDispatcherAllItemsSucceed(t *testing.T) {
	t.Parallel()

	batches := newFakeBatchRepo()
	details := newFakeDetailRepo(3)
	mock := ledger.NewMockClient(addrC)
	seedBatch(batches, details, addrA, addrB, addrC)

	d := newTestDispatcher(t, batches, details, mock)
	if err := d.Run(context.Background(), testBatchID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	batch, err := batches.GetByID(context.Background(), testBatchID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if batch.Status != domain.BatchStatusDone {
		t.Errorf("status = %s, want DONE", batch.Status)
	}
	if batch.CompletedCount != 3 || batch.FailedCount != 0 {
		t.Errorf("counts = %d/%d, want 3/0", batch.CompletedCount, batch.FailedCount)
	}
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	batches := newFakeBatchRepo()
	details := newFakeDetailRepo(3)
	mock := ledger.NewMockClient(addrC)
	mock.FailTimes(addrB, 2)
	seedBatch(batches, details, addrA, addrB, addrC)

	d := newTestDispatcher(t, batches, details, mock)
	if err := d.Run(context.Background(), testBatchID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	batch, _ := batches.GetByID(context.Background(), testBatchID)
	if batch.Status != domain.BatchStatusDone {
		t.Errorf("status = %s, want DONE", batch.Status)
	}
	if batch.CompletedCount != 3 || batch.FailedCount != 0 {
		t.Errorf("counts = %d/%d, want 3/0", batch.CompletedCount, batch.FailedCount)
	}

	// Two failed attempts plus the succeeding third for addrB, one each for
	// the other recipients.
	if got := len(mock.Transfers()); got != 5 {
		t.Errorf("ledger calls = %d, want 5", got)
	}
}

func TestDispatcherExhaustedRetriesAreContained(t *testing.T) {
	t.Parallel()

	batches := newFakeBatchRepo()
	details := newFakeDetailRepo(3)
	mock := ledger.NewMockClient(addrC)
	mock.FailAlways(addrB)
	seedBatch(batches, details, addrA, addrB)

	d := newTestDispatcher(t, batches, details, mock)
	if err := d.Run(context.Background(), testBatchID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	batch, _ := batches.GetByID(context.Background(), testBatchID)
	if batch.Status != domain.BatchStatusDone {
		t.Errorf("status = %s, want DONE (item failures stay contained)", batch.Status)
	}
	if batch.CompletedCount != 1 || batch.FailedCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", batch.CompletedCount, batch.FailedCount)
	}

	stats, err := details.Stats(context.Background(), testBatchID)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Failed != 1 || stats.Retryable != 0 || stats.Pending != 0 {
		t.Errorf("stats = %+v, want failed=1 and nothing left to do", stats)
	}
}

func TestDispatcherStoreFailureAbortsToError(t *testing.T) {
	t.Parallel()

	batches := newFakeBatchRepo()
	details := newFakeDetailRepo(3)
	details.updateResultErr = errors.New("disk full")
	mock := ledger.NewMockClient(addrC)
	seedBatch(batches, details, addrA)

	d := newTestDispatcher(t, batches, details, mock)
	if err := d.Run(context.Background(), testBatchID); err == nil {
		t.Fatal("Run() should propagate the store failure")
	}

	batch, _ := batches.GetByID(context.Background(), testBatchID)
	if batch.Status != domain.BatchStatusError {
		t.Errorf("status = %s, want ERROR", batch.Status)
	}
}

func TestDispatcherSkipsTerminalBatch(t *testing.T) {
	t.Parallel()

	batches := newFakeBatchRepo()
	details := newFakeDetailRepo(3)
	mock := ledger.NewMockClient(addrC)
	batches.put(&domain.BatchRequest{
		ID:         testBatchID,
		TotalCount: 1,
		Status:     domain.BatchStatusDone,
	})

	d := newTestDispatcher(t, batches, details, mock)
	if err := d.Run(context.Background(), testBatchID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := len(mock.Transfers()); got != 0 {
		t.Errorf("ledger calls = %d, want 0 for a terminal batch", got)
	}
	batch, _ := batches.GetByID(context.Background(), testBatchID)
	if batch.Status != domain.BatchStatusDone {
		t.Errorf("status = %s, terminal status must not change", batch.Status)
	}
}

func TestDispatcherResumesPartiallyAttemptedItems(t *testing.T) {
	t.Parallel()

	batches := newFakeBatchRepo()
	details := newFakeDetailRepo(3)
	mock := ledger.NewMockClient(addrC)

	batches.put(&domain.BatchRequest{
		ID:         testBatchID,
		TotalCount: 2,
		Status:     domain.BatchStatusProcessing,
	})
	// One item already sent, one stranded mid-retry by a crash.
	details.seed(
		domain.DetailItem{BatchID: testBatchID, WalletAddress: addrA, Amount: decimal.NewFromInt(1), Sent: domain.SentYes, AttemptCount: 1},
		domain.DetailItem{BatchID: testBatchID, WalletAddress: addrB, Amount: decimal.NewFromInt(1), AttemptCount: 2},
	)

	d := newTestDispatcher(t, batches, details, mock)
	if err := d.Run(context.Background(), testBatchID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	batch, _ := batches.GetByID(context.Background(), testBatchID)
	if batch.Status != domain.BatchStatusDone {
		t.Errorf("status = %s, want DONE", batch.Status)
	}
	if batch.CompletedCount != 2 {
		t.Errorf("completed = %d, want 2", batch.CompletedCount)
	}

	// The stranded item had one attempt left.
	if got := len(mock.Transfers()); got != 1 {
		t.Errorf("ledger calls = %d, want 1", got)
	}
}

func TestDispatcherMissingBatch(t *testing.T) {
	t.Parallel()

	batches := newFakeBatchRepo()
	details := newFakeDetailRepo(3)
	d := newTestDispatcher(t, batches, details, ledger.NewMockClient(addrC))

	err := d.Run(context.Background(), "c0ffee00-9dad-11d1-80b4-00c04fd430c8")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDispatcherNotifiesOnCompletion(t *testing.T) {
	t.Parallel()

	batches := newFakeBatchRepo()
	details := newFakeDetailRepo(3)
	mock := ledger.NewMockClient(addrC)
	mock.FailAlways(addrB)
	seedBatch(batches, details, addrA, addrB)

	notifier := &recordingNotifier{}
	d := newTestDispatcher(t, batches, details, mock)
	d.SetNotifier(notifier)

	if err := d.Run(context.Background(), testBatchID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1", notifier.count())
	}
	if notifier.batches[0].Status != domain.BatchStatusDone {
		t.Errorf("notified status = %s, want DONE", notifier.batches[0].Status)
	}
	if notifier.stats[0].Completed != 1 || notifier.stats[0].Failed != 1 {
		t.Errorf("notified stats = %+v, want completed=1 failed=1", notifier.stats[0])
	}
}
