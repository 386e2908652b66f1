package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/tokenops/custody-engine/internal/domain"
	"gorm.io/gorm"
)

type ContractRepository interface {
	Create(ctx context.Context, c *domain.Contract) error
	GetByID(ctx context.Context, id string) (*domain.Contract, error)
	MarkFinalized(ctx context.Context, id string) error
}

type GormContractRepo struct {
	db *gorm.DB
}

func NewGormContractRepo(db *gorm.DB) *GormContractRepo {
	return &GormContractRepo{db: db}
}

func (r *GormContractRepo) Create(ctx context.Context, c *domain.Contract) error {
	if c == nil {
		return fmt.Errorf("%w: contract is required", domain.ErrValidation)
	}

	model := contractModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: contract %s already exists", domain.ErrConflict, c.ID)
		}
		return err
	}
	*c = *contractModelToDomain(model)
	return nil
}

func (r *GormContractRepo) GetByID(ctx context.Context, id string) (*domain.Contract, error) {
	var model ContractModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return contractModelToDomain(&model), nil
}

// MarkFinalized flips signed_or_not2 N->Y exactly once. The WHERE guard makes
// a second call report ErrConflict instead of silently rewriting the row.
func (r *GormContractRepo) MarkFinalized(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&ContractModel{}).
		Where("id = ? AND signed_or_not2 = ?", id, domain.SignedNo).
		Update("signed_or_not2", domain.SignedYes)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&ContractModel{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: contract %s already processed", domain.ErrConflict, id)
	}
	return nil
}
