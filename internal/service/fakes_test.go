package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tokenops/custody-engine/internal/domain"
	"github.com/tokenops/custody-engine/internal/ledger"
	"github.com/tokenops/custody-engine/internal/queue"
	"github.com/tokenops/custody-engine/internal/repository"
)

// fakeBatchRepo is an in-memory BatchRepository. Error hooks let tests
// script store failures.
type fakeBatchRepo struct {
	mu      sync.Mutex
	batches map[string]*domain.BatchRequest

	updateStatusErr func(id string, status domain.BatchStatus) error
	updateCountsErr error
}

func newFakeBatchRepo() *fakeBatchRepo {
	return &fakeBatchRepo{batches: make(map[string]*domain.BatchRequest)}
}

func (f *fakeBatchRepo) put(b *domain.BatchRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *b
	f.batches[b.ID] = &clone
}

func (f *fakeBatchRepo) Create(ctx context.Context, b *domain.BatchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.batches[b.ID]; ok {
		return fmt.Errorf("%w: batch %s already exists", domain.ErrConflict, b.ID)
	}
	clone := *b
	f.batches[b.ID] = &clone
	return nil
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.BatchRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *b
	return &clone, nil
}

func (f *fakeBatchRepo) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	if f.updateStatusErr != nil {
		if err := f.updateStatusErr(id, status); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.Status = status
	return nil
}

func (f *fakeBatchRepo) UpdateCounts(ctx context.Context, id string, completed, failed int) error {
	if f.updateCountsErr != nil {
		return f.updateCountsErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.CompletedCount = completed
	b.FailedCount = failed
	return nil
}

// fakeDetailRepo mirrors the store's state machine: attempt_count advances on
// every recorded attempt, sent flips N->Y on success only.
type fakeDetailRepo struct {
	mu       sync.Mutex
	items    []domain.DetailItem
	maxRetry int

	updateResultErr error
	aggregateErr    error
}

func newFakeDetailRepo(maxRetry int) *fakeDetailRepo {
	return &fakeDetailRepo{maxRetry: maxRetry}
}

func (f *fakeDetailRepo) seed(items ...domain.DetailItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		if item.ID == 0 {
			item.ID = uint64(len(f.items) + 1)
		}
		if item.Sent == "" {
			item.Sent = domain.SentNo
		}
		f.items = append(f.items, item)
	}
}

func (f *fakeDetailRepo) item(id uint64) *domain.DetailItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id {
			clone := f.items[i]
			return &clone
		}
	}
	return nil
}

func (f *fakeDetailRepo) InsertBatch(ctx context.Context, batchID string, items []domain.DetailItem) error {
	for i := range items {
		items[i].BatchID = batchID
	}
	f.seed(items...)
	return nil
}

func (f *fakeDetailRepo) ListPending(ctx context.Context, batchID string, limit int) ([]domain.DetailItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DetailItem
	for _, item := range f.items {
		if len(out) >= limit {
			break
		}
		if item.BatchID == batchID && item.Sent == domain.SentNo && item.AttemptCount == 0 {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeDetailRepo) ListRetryable(ctx context.Context, batchID string, limit int) ([]domain.DetailItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DetailItem
	for _, item := range f.items {
		if len(out) >= limit {
			break
		}
		if item.BatchID == batchID && item.Sent == domain.SentNo &&
			item.AttemptCount > 0 && item.AttemptCount < f.maxRetry {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeDetailRepo) UpdateResult(ctx context.Context, id uint64, result repository.AttemptResult) error {
	if f.updateResultErr != nil {
		return f.updateResultErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID != id {
			continue
		}
		if f.items[i].AttemptCount < f.maxRetry {
			f.items[i].AttemptCount++
		}
		if result.Success {
			f.items[i].Sent = domain.SentYes
		}
		f.items[i].LastResultCode = result.ResultCode
		f.items[i].LastErrorMessage = domain.TruncateErrorMessage(result.ErrorMessage)
		return nil
	}
	return domain.ErrNotFound
}

func (f *fakeDetailRepo) Aggregate(ctx context.Context, batchID string) (completed, failed, total int, err error) {
	if f.aggregateErr != nil {
		return 0, 0, 0, f.aggregateErr
	}

	stats, err := f.Stats(ctx, batchID)
	if err != nil {
		return 0, 0, 0, err
	}
	return stats.Completed, stats.Failed, stats.Total, nil
}

func (f *fakeDetailRepo) Stats(ctx context.Context, batchID string) (*domain.BatchStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := &domain.BatchStats{}
	for _, item := range f.items {
		if item.BatchID != batchID {
			continue
		}
		stats.Total++
		switch {
		case item.Sent == domain.SentYes:
			stats.Completed++
		case item.AttemptCount >= f.maxRetry:
			stats.Failed++
		case item.AttemptCount == 0:
			stats.Pending++
		default:
			stats.Retryable++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.Total)
	}
	return stats, nil
}

func (f *fakeDetailRepo) List(ctx context.Context, batchID string, opts repository.ListOptions) ([]domain.DetailItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DetailItem
	for _, item := range f.items {
		if item.BatchID != batchID {
			continue
		}
		if opts.SentFilter != nil && item.Sent != *opts.SentFilter {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// fakeContractRepo is an in-memory ContractRepository with the same
// flip-once finalize guard as the real store.
type fakeContractRepo struct {
	mu        sync.Mutex
	contracts map[string]*domain.Contract

	createErr error
}

func newFakeContractRepo() *fakeContractRepo {
	return &fakeContractRepo{contracts: make(map[string]*domain.Contract)}
}

func (f *fakeContractRepo) Create(ctx context.Context, c *domain.Contract) error {
	if f.createErr != nil {
		return f.createErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.contracts[c.ID]; ok {
		return fmt.Errorf("%w: contract %s already exists", domain.ErrConflict, c.ID)
	}
	clone := *c
	f.contracts[c.ID] = &clone
	return nil
}

func (f *fakeContractRepo) GetByID(ctx context.Context, id string) (*domain.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contracts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (f *fakeContractRepo) MarkFinalized(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contracts[id]
	if !ok {
		return domain.ErrNotFound
	}
	if c.Signed2 == domain.SignedYes {
		return fmt.Errorf("%w: contract %s already processed", domain.ErrConflict, id)
	}
	c.Signed2 = domain.SignedYes
	return nil
}

// fakePublisher records published dispatch messages.
type fakePublisher struct {
	mu       sync.Mutex
	messages []queue.DispatchMessage
	queues   []string

	publishErr error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
	if f.publishErr != nil {
		return f.publishErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	f.queues = append(f.queues, queueName)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published() []queue.DispatchMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.DispatchMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

// fakeLedger is a function-field ledger.Client for scripting single calls.
type fakeLedger struct {
	buildFn    func(ctx context.Context, sender, recipient string, amount decimal.Decimal) (*ledger.PartialSignedTx, error)
	transferFn func(ctx context.Context, recipient string, amount decimal.Decimal) (string, error)
	completeFn func(rawTx []byte, sig string) ([]byte, error)
	submitFn   func(ctx context.Context, rawTx []byte) (string, error)
	confirmFn  func(ctx context.Context, txID string) (bool, error)
	feePayer   string
}

func (f *fakeLedger) BuildAndPartialSign(ctx context.Context, sender, recipient string, amount decimal.Decimal) (*ledger.PartialSignedTx, error) {
	if f.buildFn != nil {
		return f.buildFn(ctx, sender, recipient, amount)
	}
	return &ledger.PartialSignedTx{
		Serialized:      []byte("partial-tx"),
		Blockhash:       "FakeBlockhash1111111111111111111111111111111",
		LastValidHeight: 500,
	}, nil
}

func (f *fakeLedger) Transfer(ctx context.Context, recipient string, amount decimal.Decimal) (string, error) {
	if f.transferFn != nil {
		return f.transferFn(ctx, recipient, amount)
	}
	return "fake-tx", nil
}

func (f *fakeLedger) CompleteTransaction(rawTx []byte, sig string) ([]byte, error) {
	if f.completeFn != nil {
		return f.completeFn(rawTx, sig)
	}
	return append(rawTx, []byte(":"+sig)...), nil
}

func (f *fakeLedger) Submit(ctx context.Context, rawTx []byte) (string, error) {
	if f.submitFn != nil {
		return f.submitFn(ctx, rawTx)
	}
	return "fake-submitted-tx", nil
}

func (f *fakeLedger) Confirm(ctx context.Context, txID string) (bool, error) {
	if f.confirmFn != nil {
		return f.confirmFn(ctx, txID)
	}
	return true, nil
}

func (f *fakeLedger) FeePayer() string {
	if f.feePayer != "" {
		return f.feePayer
	}
	return "HN7cABqLq46Es1jh92dQQisAq662SmxELLLsHHe4YWrH"
}

// recordingNotifier captures completion callbacks.
type recordingNotifier struct {
	mu      sync.Mutex
	batches []*domain.BatchRequest
	stats   []*domain.BatchStats
}

func (r *recordingNotifier) BatchFinished(ctx context.Context, batch *domain.BatchRequest, stats *domain.BatchStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	r.stats = append(r.stats, stats)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}
