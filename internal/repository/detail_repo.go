package repository

import (
	"context"
	"fmt"

	"github.com/tokenops/custody-engine/internal/domain"
	"gorm.io/gorm"
)

// insertChunkSize bounds rows per INSERT to stay under the driver's
// parameter-count ceiling.
const insertChunkSize = 1000

// AddressCipher encrypts wallet addresses before storage and decrypts them
// for callers. Implemented by internal/crypto.Cipher.
type AddressCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) (string, error)
}

// AttemptResult is the outcome of one transfer attempt for a detail item.
type AttemptResult struct {
	Success      bool
	ResultCode   string
	ErrorMessage string
}

// ListOptions filters detail listings for the read path.
type ListOptions struct {
	Decrypt    bool
	SentFilter *domain.SentFlag
	Limit      *int
	Offset     int
}

type DetailRepository interface {
	InsertBatch(ctx context.Context, batchID string, items []domain.DetailItem) error
	ListPending(ctx context.Context, batchID string, limit int) ([]domain.DetailItem, error)
	ListRetryable(ctx context.Context, batchID string, limit int) ([]domain.DetailItem, error)
	UpdateResult(ctx context.Context, id uint64, result AttemptResult) error
	Aggregate(ctx context.Context, batchID string) (completed, failed, total int, err error)
	Stats(ctx context.Context, batchID string) (*domain.BatchStats, error)
	List(ctx context.Context, batchID string, opts ListOptions) ([]domain.DetailItem, error)
}

type GormDetailRepo struct {
	db       *gorm.DB
	cipher   AddressCipher
	maxRetry int
}

func NewGormDetailRepo(db *gorm.DB, cipher AddressCipher, maxRetry int) (*GormDetailRepo, error) {
	if cipher == nil {
		return nil, fmt.Errorf("address cipher is required")
	}
	if maxRetry < 1 {
		maxRetry = domain.DefaultMaxRetry
	}

	return &GormDetailRepo{
		db:       db,
		cipher:   cipher,
		maxRetry: maxRetry,
	}, nil
}

// InsertBatch validates every item before any write, encrypts addresses, and
// inserts all rows in one transaction so the batch's line items land
// atomically or not at all.
func (r *GormDetailRepo) InsertBatch(ctx context.Context, batchID string, items []domain.DetailItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: batch must include at least one detail item", domain.ErrValidation)
	}

	for i := range items {
		if err := items[i].Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}

	models := make([]BatchDetailModel, 0, len(items))
	for i := range items {
		envelope, err := r.cipher.Encrypt(items[i].WalletAddress)
		if err != nil {
			return fmt.Errorf("failed to encrypt address for item %d: %w", i, err)
		}
		models = append(models, BatchDetailModel{
			BatchID:       batchID,
			WalletAddress: envelope,
			Amount:        items[i].Amount,
			AttemptCount:  0,
			Sent:          domain.SentNo,
		})
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&models, insertChunkSize).Error
	})
}

// ListPending returns never-attempted items in insertion order.
func (r *GormDetailRepo) ListPending(ctx context.Context, batchID string, limit int) ([]domain.DetailItem, error) {
	var models []BatchDetailModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND sent = ? AND attempt_count = 0", batchID, domain.SentNo).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return r.decryptAll(models)
}

// ListRetryable returns failed-but-not-exhausted items, longest-waiting first.
func (r *GormDetailRepo) ListRetryable(ctx context.Context, batchID string, limit int) ([]domain.DetailItem, error) {
	var models []BatchDetailModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND sent = ? AND attempt_count > 0 AND attempt_count < ?",
			batchID, domain.SentNo, r.maxRetry).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return r.decryptAll(models)
}

// UpdateResult records one attempt: attempt_count always advances (capped at
// the retry ceiling) and sent flips N->Y on success only.
func (r *GormDetailRepo) UpdateResult(ctx context.Context, id uint64, result AttemptResult) error {
	updates := map[string]any{
		"attempt_count":      gorm.Expr("LEAST(attempt_count + 1, ?)", r.maxRetry),
		"last_result_code":   result.ResultCode,
		"last_error_message": domain.TruncateErrorMessage(result.ErrorMessage),
	}
	if result.Success {
		updates["sent"] = domain.SentYes
	}

	res := r.db.WithContext(ctx).
		Model(&BatchDetailModel{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type aggregateRow struct {
	Total     int `gorm:"column:total"`
	Completed int `gorm:"column:completed"`
	Failed    int `gorm:"column:failed"`
	Pending   int `gorm:"column:pending"`
	Retryable int `gorm:"column:retryable"`
}

func (r *GormDetailRepo) aggregateRow(ctx context.Context, batchID string) (*aggregateRow, error) {
	var row aggregateRow
	err := r.db.WithContext(ctx).
		Model(&BatchDetailModel{}).
		Select(`
			COUNT(*) AS total,
			SUM(CASE WHEN sent = 'Y' THEN 1 ELSE 0 END) AS completed,
			SUM(CASE WHEN sent = 'N' AND attempt_count >= ? THEN 1 ELSE 0 END) AS failed,
			SUM(CASE WHEN sent = 'N' AND attempt_count = 0 THEN 1 ELSE 0 END) AS pending,
			SUM(CASE WHEN sent = 'N' AND attempt_count > 0 AND attempt_count < ? THEN 1 ELSE 0 END) AS retryable`,
			r.maxRetry, r.maxRetry).
		Where("batch_id = ?", batchID).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Aggregate runs one full recompute over the batch's detail rows.
func (r *GormDetailRepo) Aggregate(ctx context.Context, batchID string) (completed, failed, total int, err error) {
	row, err := r.aggregateRow(ctx, batchID)
	if err != nil {
		return 0, 0, 0, err
	}
	return row.Completed, row.Failed, row.Total, nil
}

// Stats computes the live per-batch aggregate directly from row state.
func (r *GormDetailRepo) Stats(ctx context.Context, batchID string) (*domain.BatchStats, error) {
	row, err := r.aggregateRow(ctx, batchID)
	if err != nil {
		return nil, err
	}

	stats := &domain.BatchStats{
		Total:     row.Total,
		Completed: row.Completed,
		Failed:    row.Failed,
		Pending:   row.Pending,
		Retryable: row.Retryable,
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.Total)
	}
	return stats, nil
}

// List returns detail rows for the read path, optionally filtered by sent
// flag and optionally decrypted.
func (r *GormDetailRepo) List(ctx context.Context, batchID string, opts ListOptions) ([]domain.DetailItem, error) {
	query := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Offset(opts.Offset)

	if opts.SentFilter != nil {
		query = query.Where("sent = ?", *opts.SentFilter)
	}
	if opts.Limit != nil {
		query = query.Limit(*opts.Limit)
	}

	var models []BatchDetailModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	if opts.Decrypt {
		return r.decryptAll(models)
	}

	items := make([]domain.DetailItem, 0, len(models))
	for i := range models {
		items = append(items, *detailModelToDomain(&models[i], models[i].WalletAddress))
	}
	return items, nil
}

func (r *GormDetailRepo) decryptAll(models []BatchDetailModel) ([]domain.DetailItem, error) {
	items := make([]domain.DetailItem, 0, len(models))
	for i := range models {
		address, err := r.cipher.Decrypt(models[i].WalletAddress)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt address for item %d: %w", models[i].ID, err)
		}
		items = append(items, *detailModelToDomain(&models[i], address))
	}
	return items, nil
}
