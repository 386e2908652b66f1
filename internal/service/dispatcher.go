package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tokenops/custody-engine/internal/domain"
	"github.com/tokenops/custody-engine/internal/ledger"
	"github.com/tokenops/custody-engine/internal/observability"
	"github.com/tokenops/custody-engine/internal/ratelimit"
	"github.com/tokenops/custody-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWindowSize  = 3
	defaultFetchLimit  = 100
	defaultRetryDelay  = time.Second
	ledgerRateResource = "ledger"

	resultCodeOK = "OK"
)

// CompletionNotifier is told when a batch reaches a terminal status.
type CompletionNotifier interface {
	BatchFinished(ctx context.Context, batch *domain.BatchRequest, stats *domain.BatchStats)
}

// Dispatcher drives a batch's pending and retryable items through
// bounded-concurrency transfer attempts.
//
// Item selection is purely state-driven (sent flag plus attempt count), so
// re-running a batch after a crash continues from wherever its items were
// left; no checkpoint is kept. Concurrent dispatchers for the same batch id
// are not coordinated.
type Dispatcher struct {
	batches  repository.BatchRepository
	details  repository.DetailRepository
	stats    *StatsAggregator
	ledger   ledger.Client
	limiter  ratelimit.RateLimiter
	notifier CompletionNotifier
	metrics  *observability.Metrics
	logger   *zap.Logger
	audit    *zap.Logger

	windowSize int
	fetchLimit int
	maxRetry   int
	retryDelay time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type DispatcherOptions struct {
	WindowSize int
	FetchLimit int
	MaxRetry   int
	RetryDelay time.Duration
}

func NewDispatcher(
	batches repository.BatchRepository,
	details repository.DetailRepository,
	stats *StatsAggregator,
	ledgerClient ledger.Client,
	limiter ratelimit.RateLimiter,
	opts DispatcherOptions,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if details == nil {
		return nil, fmt.Errorf("detail repository is required")
	}
	if stats == nil {
		return nil, fmt.Errorf("stats aggregator is required")
	}
	if ledgerClient == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.WindowSize < 1 {
		opts.WindowSize = defaultWindowSize
	}
	if opts.FetchLimit < 1 {
		opts.FetchLimit = defaultFetchLimit
	}
	if opts.MaxRetry < 1 {
		opts.MaxRetry = domain.DefaultMaxRetry
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}

	return &Dispatcher{
		batches:    batches,
		details:    details,
		stats:      stats,
		ledger:     ledgerClient,
		limiter:    limiter,
		logger:     logger,
		audit:      logger.Named("audit"),
		windowSize: opts.WindowSize,
		fetchLimit: opts.FetchLimit,
		maxRetry:   opts.MaxRetry,
		retryDelay: opts.RetryDelay,
		now:        time.Now,
		sleep:      sleepWithContext,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

func (d *Dispatcher) SetNotifier(notifier CompletionNotifier) {
	if d == nil {
		return
	}
	d.notifier = notifier
}

// Run processes one batch to a terminal status. Per-item transfer failures
// are contained in their detail rows; a store or aggregator failure aborts
// the batch into ERROR.
func (d *Dispatcher) Run(ctx context.Context, batchID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log := observability.WithContextLogger(d.logger, ctx)

	batch, err := d.batches.GetByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}
	if batch.Status.IsTerminal() {
		log.Info("batch already terminal, skipping dispatch",
			zap.String("batchId", batchID),
			zap.String("status", batch.Status.String()),
		)
		return nil
	}

	if err := d.batches.UpdateStatus(ctx, batchID, domain.BatchStatusProcessing); err != nil {
		return fmt.Errorf("failed to mark batch as processing: %w", err)
	}

	if err := d.dispatch(ctx, batchID); err != nil {
		d.audit.Error("batch dispatch aborted",
			zap.String("batchId", batchID),
			zap.Error(err),
		)
		if updateErr := d.batches.UpdateStatus(ctx, batchID, domain.BatchStatusError); updateErr != nil {
			d.logger.Error("failed to mark batch as errored",
				zap.String("batchId", batchID),
				zap.Error(updateErr),
			)
		}
		d.metrics.IncBatchFinished(domain.BatchStatusError.String())
		d.notifyFinished(ctx, batchID)
		return err
	}

	if err := d.stats.Refresh(ctx, batchID); err != nil {
		return d.abort(ctx, batchID, err)
	}
	if err := d.batches.UpdateStatus(ctx, batchID, domain.BatchStatusDone); err != nil {
		return d.abort(ctx, batchID, err)
	}

	d.audit.Info("batch dispatch completed", zap.String("batchId", batchID))
	d.metrics.IncBatchFinished(domain.BatchStatusDone.String())
	d.notifyFinished(ctx, batchID)
	return nil
}

func (d *Dispatcher) abort(ctx context.Context, batchID string, err error) error {
	d.audit.Error("batch dispatch aborted",
		zap.String("batchId", batchID),
		zap.Error(err),
	)
	if updateErr := d.batches.UpdateStatus(ctx, batchID, domain.BatchStatusError); updateErr != nil {
		d.logger.Error("failed to mark batch as errored",
			zap.String("batchId", batchID),
			zap.Error(updateErr),
		)
	}
	d.metrics.IncBatchFinished(domain.BatchStatusError.String())
	d.notifyFinished(ctx, batchID)
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, batchID string) error {
	for {
		items, err := d.fetchWorkable(ctx, batchID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		for start := 0; start < len(items); start += d.windowSize {
			end := min(start+d.windowSize, len(items))
			window := items[start:end]

			// Plain errgroup, not WithContext: one failing item must not
			// cancel its window siblings.
			var g errgroup.Group
			for i := range window {
				item := window[i]
				g.Go(func() error {
					return d.processItem(ctx, item)
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			if err := d.stats.Refresh(ctx, batchID); err != nil {
				return err
			}
		}
	}
}

// fetchWorkable returns up to fetchLimit items, pending first, then
// retryable ordered by how long they have waited.
func (d *Dispatcher) fetchWorkable(ctx context.Context, batchID string) ([]domain.DetailItem, error) {
	pending, err := d.details.ListPending(ctx, batchID, d.fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}

	remaining := d.fetchLimit - len(pending)
	if remaining <= 0 {
		return pending, nil
	}

	retryable, err := d.details.ListRetryable(ctx, batchID, remaining)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable items: %w", err)
	}

	return append(pending, retryable...), nil
}

// processItem performs the item's remaining transfer attempts with a fixed
// delay between them. Ledger failures stay inside the item's row; only a
// detail-store failure propagates.
func (d *Dispatcher) processItem(ctx context.Context, item domain.DetailItem) error {
	d.metrics.IncDispatchInFlight()
	defer d.metrics.DecDispatchInFlight()

	for attempt := item.AttemptCount; attempt < d.maxRetry; attempt++ {
		if attempt > 0 {
			d.metrics.IncRetryAttempt()
		}

		d.waitForRateLimit(ctx)

		sendStart := d.now()
		txID, transferErr := d.ledger.Transfer(ctx, item.WalletAddress, item.Amount)
		d.metrics.ObserveTransferDuration(d.now().Sub(sendStart))

		result := repository.AttemptResult{Success: transferErr == nil}
		if transferErr == nil {
			result.ResultCode = resultCodeOK
		} else {
			result.ResultCode = string(resultCodeFromError(transferErr))
			result.ErrorMessage = transferErr.Error()
		}

		if err := d.details.UpdateResult(ctx, item.ID, result); err != nil {
			return fmt.Errorf("failed to record attempt for item %d: %w", item.ID, err)
		}

		if transferErr == nil {
			d.metrics.IncTransferSent()
			d.audit.Info("transfer sent",
				zap.String("batchId", item.BatchID),
				zap.Uint64("itemId", item.ID),
				zap.String("txId", txID),
			)
			return nil
		}

		d.logger.Warn("transfer attempt failed",
			zap.String("batchId", item.BatchID),
			zap.Uint64("itemId", item.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(transferErr),
		)

		if attempt+1 < d.maxRetry {
			if err := d.sleep(ctx, d.retryDelay); err != nil {
				return fmt.Errorf("retry delay interrupted: %w", err)
			}
			continue
		}

		d.metrics.IncTransferFailed(string(resultCodeFromError(transferErr)))
		d.audit.Warn("transfer permanently failed",
			zap.String("batchId", item.BatchID),
			zap.Uint64("itemId", item.ID),
			zap.Int("attempts", d.maxRetry),
			zap.Error(transferErr),
		)
	}

	return nil
}

// waitForRateLimit throttles ledger calls; limiter trouble is logged and
// waved through rather than failing the batch.
func (d *Dispatcher) waitForRateLimit(ctx context.Context) {
	if d.limiter == nil {
		return
	}
	if err := d.limiter.Wait(ctx, ledgerRateResource); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warn("rate limiter unavailable, proceeding", zap.Error(err))
	}
}

func (d *Dispatcher) notifyFinished(ctx context.Context, batchID string) {
	if d.notifier == nil {
		return
	}

	batch, err := d.batches.GetByID(ctx, batchID)
	if err != nil {
		d.logger.Warn("failed to load batch for completion notify",
			zap.String("batchId", batchID),
			zap.Error(err),
		)
		return
	}
	stats, err := d.details.Stats(ctx, batchID)
	if err != nil {
		d.logger.Warn("failed to load stats for completion notify",
			zap.String("batchId", batchID),
			zap.Error(err),
		)
		return
	}

	d.notifier.BatchFinished(ctx, batch, stats)
}

func resultCodeFromError(err error) ledger.ErrorKind {
	if classified := ledger.Classify(err); classified != nil {
		return classified.Kind
	}
	return ledger.KindUnknown
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
