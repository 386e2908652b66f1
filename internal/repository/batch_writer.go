package repository

import (
	"context"
	"fmt"

	"github.com/tokenops/custody-engine/internal/domain"
	"gorm.io/gorm"
)

// BatchWriter persists a batch header together with all of its detail rows in
// one transaction, so a half-written batch can never be observed.
type BatchWriter interface {
	CreateWithDetails(ctx context.Context, b *domain.BatchRequest, items []domain.DetailItem) error
}

type GormBatchWriter struct {
	db     *gorm.DB
	cipher AddressCipher
}

func NewGormBatchWriter(db *gorm.DB, cipher AddressCipher) (*GormBatchWriter, error) {
	if cipher == nil {
		return nil, fmt.Errorf("address cipher is required")
	}
	return &GormBatchWriter{db: db, cipher: cipher}, nil
}

// CreateWithDetails validates everything before any write: an invalid id,
// count mismatch, or a single bad item rejects the whole call with no rows
// inserted.
func (w *GormBatchWriter) CreateWithDetails(ctx context.Context, b *domain.BatchRequest, items []domain.DetailItem) error {
	if b == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: batch must include at least one detail item", domain.ErrValidation)
	}
	if b.TotalCount != len(items) {
		return fmt.Errorf("%w: total count %d does not match %d detail items",
			domain.ErrValidation, b.TotalCount, len(items))
	}
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}

	detailModels := make([]BatchDetailModel, 0, len(items))
	for i := range items {
		envelope, err := w.cipher.Encrypt(items[i].WalletAddress)
		if err != nil {
			return fmt.Errorf("failed to encrypt address for item %d: %w", i, err)
		}
		detailModels = append(detailModels, BatchDetailModel{
			BatchID:       b.ID,
			WalletAddress: envelope,
			Amount:        items[i].Amount,
			AttemptCount:  0,
			Sent:          domain.SentNo,
		})
	}

	batchModel := batchModelFromDomain(b)
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batchModel).Error; err != nil {
			return err
		}
		return tx.CreateInBatches(&detailModels, insertChunkSize).Error
	})
	if err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: batch %s already exists", domain.ErrConflict, b.ID)
		}
		return err
	}

	*b = *batchModelToDomain(batchModel)
	return nil
}
