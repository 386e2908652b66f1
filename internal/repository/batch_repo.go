package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tokenops/custody-engine/internal/domain"
	"gorm.io/gorm"
)

type BatchRepository interface {
	Create(ctx context.Context, b *domain.BatchRequest) error
	GetByID(ctx context.Context, id string) (*domain.BatchRequest, error)
	UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error
	UpdateCounts(ctx context.Context, id string, completed, failed int) error
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.BatchRequest) error {
	if b == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}
	if err := b.Validate(); err != nil {
		return err
	}

	model := batchModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: batch %s already exists", domain.ErrConflict, b.ID)
		}
		return err
	}
	*b = *batchModelToDomain(model)
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.BatchRequest, error) {
	var model BatchRequestModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid batch status %q", domain.ErrValidation, status)
	}

	result := r.db.WithContext(ctx).
		Model(&BatchRequestModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormBatchRepo) UpdateCounts(ctx context.Context, id string, completed, failed int) error {
	result := r.db.WithContext(ctx).
		Model(&BatchRequestModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"completed_count": completed,
			"failed_count":    failed,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
