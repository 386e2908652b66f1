package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SignFlag marks whether one of the two required signatures is attached.
type SignFlag string

const (
	SignedYes SignFlag = "Y"
	SignedNo  SignFlag = "N"
)

func (f SignFlag) IsValid() bool { return f == SignedYes || f == SignedNo }

// Contract is a dual-custody single transfer. The custodian co-signs as fee
// payer at creation (signed_or_not1), the counterparty signature arrives at
// finalize time (signed_or_not2). Once signed_or_not2 is Y the row is frozen.
//
// RawTx with its expiry metadata preserves the exact partially-signed
// transaction so finalize can attach the counterparty signature without
// rebuilding against a fresh blockhash, which would invalidate it.
type Contract struct {
	ID              string          `gorm:"type:uuid;primaryKey"`
	Sender          string          `gorm:"type:varchar(44);not null"`
	Recipient       string          `gorm:"type:varchar(44);not null"`
	FeePayer        string          `gorm:"type:varchar(44);not null"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,9);not null"`
	Signed1         SignFlag        `gorm:"column:signed_or_not1;type:char(1);not null;default:N"`
	Signed2         SignFlag        `gorm:"column:signed_or_not2;type:char(1);not null;default:N"`
	RawTx           []byte          `gorm:"type:bytea"`
	Blockhash       string          `gorm:"type:varchar(44)"`
	LastValidHeight uint64          `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsFinalized reports whether the counterparty signature has been accepted.
func (c *Contract) IsFinalized() bool { return c.Signed2 == SignedYes }

func (c *Contract) Validate() error {
	if err := ValidateAddress(c.Sender); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	if err := ValidateAddress(c.Recipient); err != nil {
		return fmt.Errorf("recipient: %w", err)
	}
	if err := ValidateAddress(c.FeePayer); err != nil {
		return fmt.Errorf("fee payer: %w", err)
	}
	if err := ValidateAmount(c.Amount); err != nil {
		return err
	}
	return nil
}
