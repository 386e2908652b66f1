package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// SentFlag marks whether a detail item's transfer has landed on the ledger.
// It transitions N -> Y exactly once and never reverts.
type SentFlag string

const (
	SentYes SentFlag = "Y"
	SentNo  SentFlag = "N"
)

func (f SentFlag) IsValid() bool { return f == SentYes || f == SentNo }

// Token precision and item limits.
const (
	TokenDecimals      = 9
	DefaultMaxRetry    = 3
	MinAddressLen      = 32
	MaxAddressLen      = 44
	MaxErrorMessageLen = 500
)

// DetailItem is one recipient line item of a disbursement batch. The address
// is plaintext in the domain layer; the repository stores it as an encrypted
// envelope. Address and amount are immutable after creation.
type DetailItem struct {
	ID               uint64          `gorm:"primaryKey;autoIncrement"`
	BatchID          string          `gorm:"type:uuid;not null;index"`
	WalletAddress    string          `gorm:"type:text;not null"`
	Amount           decimal.Decimal `gorm:"type:numeric(20,9);not null"`
	AttemptCount     int             `gorm:"not null;default:0"`
	Sent             SentFlag        `gorm:"type:char(1);not null;default:N"`
	LastResultCode   string          `gorm:"type:varchar(50)"`
	LastErrorMessage string          `gorm:"type:varchar(500)"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (d *DetailItem) Validate() error {
	if err := ValidateAddress(d.WalletAddress); err != nil {
		return err
	}
	if err := ValidateAmount(d.Amount); err != nil {
		return err
	}
	return nil
}

// ValidateAddress checks the recipient address is 32-44 characters from the
// base58 alphabet.
func ValidateAddress(address string) error {
	trimmed := strings.TrimSpace(address)
	if len(trimmed) < MinAddressLen || len(trimmed) > MaxAddressLen {
		return fmt.Errorf("%w: address length must be %d-%d characters (got %d)",
			ErrValidation, MinAddressLen, MaxAddressLen, len(trimmed))
	}
	if _, err := base58.Decode(trimmed); err != nil {
		return fmt.Errorf("%w: address %q is not base58", ErrValidation, trimmed)
	}
	return nil
}

// ValidateAmount checks the amount is positive with at most nine fractional
// digits, the token's native precision.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive (got %s)", ErrValidation, amount)
	}
	if amount.Exponent() < -TokenDecimals {
		return fmt.Errorf("%w: amount %s exceeds %d fractional digits",
			ErrValidation, amount, TokenDecimals)
	}
	return nil
}

// TruncateErrorMessage bounds an error message before persistence.
func TruncateErrorMessage(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	return msg[:MaxErrorMessageLen]
}

// BatchStats is the live per-batch aggregate computed from detail rows.
type BatchStats struct {
	Total       int
	Completed   int
	Failed      int
	Pending     int
	Retryable   int
	SuccessRate float64
}
