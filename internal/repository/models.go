package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tokenops/custody-engine/internal/domain"
)

// BatchRequestModel is the persistence model for the batch_requests table.
type BatchRequestModel struct {
	ID             string             `gorm:"type:uuid;primaryKey"`
	Cate1          string             `gorm:"type:varchar(100)"`
	Cate2          string             `gorm:"type:varchar(100)"`
	TotalCount     int                `gorm:"not null"`
	CompletedCount int                `gorm:"not null;default:0"`
	FailedCount    int                `gorm:"not null;default:0"`
	Status         domain.BatchStatus `gorm:"type:varchar(20);not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (BatchRequestModel) TableName() string {
	return "batch_requests"
}

// BatchDetailModel is the persistence model for batch_details. WalletAddress
// holds the encrypted envelope, never the plaintext address.
type BatchDetailModel struct {
	ID               uint64          `gorm:"primaryKey;autoIncrement"`
	BatchID          string          `gorm:"type:uuid;not null;index:idx_batch_details_state,priority:1"`
	WalletAddress    string          `gorm:"type:text;not null"`
	Amount           decimal.Decimal `gorm:"type:numeric(20,9);not null"`
	AttemptCount     int             `gorm:"not null;default:0;index:idx_batch_details_state,priority:3"`
	Sent             domain.SentFlag `gorm:"type:char(1);not null;default:N;index:idx_batch_details_state,priority:2"`
	LastResultCode   string          `gorm:"type:varchar(50)"`
	LastErrorMessage string          `gorm:"type:varchar(500)"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (BatchDetailModel) TableName() string {
	return "batch_details"
}

// ContractModel is the persistence model for contracts.
type ContractModel struct {
	ID              string          `gorm:"type:uuid;primaryKey"`
	Sender          string          `gorm:"type:varchar(44);not null"`
	Recipient       string          `gorm:"type:varchar(44);not null"`
	FeePayer        string          `gorm:"type:varchar(44);not null"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,9);not null"`
	Signed1         domain.SignFlag `gorm:"column:signed_or_not1;type:char(1);not null;default:N"`
	Signed2         domain.SignFlag `gorm:"column:signed_or_not2;type:char(1);not null;default:N"`
	RawTx           []byte          `gorm:"type:bytea"`
	Blockhash       string          `gorm:"type:varchar(44)"`
	LastValidHeight uint64          `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ContractModel) TableName() string {
	return "contracts"
}

func batchModelFromDomain(b *domain.BatchRequest) *BatchRequestModel {
	if b == nil {
		return nil
	}

	return &BatchRequestModel{
		ID:             b.ID,
		Cate1:          b.Cate1,
		Cate2:          b.Cate2,
		TotalCount:     b.TotalCount,
		CompletedCount: b.CompletedCount,
		FailedCount:    b.FailedCount,
		Status:         b.Status,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchRequestModel) *domain.BatchRequest {
	if m == nil {
		return nil
	}

	return &domain.BatchRequest{
		ID:             m.ID,
		Cate1:          m.Cate1,
		Cate2:          m.Cate2,
		TotalCount:     m.TotalCount,
		CompletedCount: m.CompletedCount,
		FailedCount:    m.FailedCount,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func detailModelToDomain(m *BatchDetailModel, address string) *domain.DetailItem {
	if m == nil {
		return nil
	}

	return &domain.DetailItem{
		ID:               m.ID,
		BatchID:          m.BatchID,
		WalletAddress:    address,
		Amount:           m.Amount,
		AttemptCount:     m.AttemptCount,
		Sent:             m.Sent,
		LastResultCode:   m.LastResultCode,
		LastErrorMessage: m.LastErrorMessage,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func contractModelFromDomain(c *domain.Contract) *ContractModel {
	if c == nil {
		return nil
	}

	return &ContractModel{
		ID:              c.ID,
		Sender:          c.Sender,
		Recipient:       c.Recipient,
		FeePayer:        c.FeePayer,
		Amount:          c.Amount,
		Signed1:         c.Signed1,
		Signed2:         c.Signed2,
		RawTx:           c.RawTx,
		Blockhash:       c.Blockhash,
		LastValidHeight: c.LastValidHeight,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func contractModelToDomain(m *ContractModel) *domain.Contract {
	if m == nil {
		return nil
	}

	return &domain.Contract{
		ID:              m.ID,
		Sender:          m.Sender,
		Recipient:       m.Recipient,
		FeePayer:        m.FeePayer,
		Amount:          m.Amount,
		Signed1:         m.Signed1,
		Signed2:         m.Signed2,
		RawTx:           m.RawTx,
		Blockhash:       m.Blockhash,
		LastValidHeight: m.LastValidHeight,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
