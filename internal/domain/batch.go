package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BatchStatus represents the processing state of a disbursement batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "PENDING"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusDone       BatchStatus = "DONE"
	BatchStatusError      BatchStatus = "ERROR"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusDone, BatchStatusError:
		return true
	}
	return false
}

// IsTerminal reports whether no further status transition is allowed.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusDone || s == BatchStatusError
}

// CanTransitionTo enforces the forward-only lifecycle
// PENDING -> PROCESSING -> DONE | ERROR.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	switch s {
	case BatchStatusPending:
		return next == BatchStatusProcessing || next == BatchStatusError
	case BatchStatusProcessing:
		return next == BatchStatusDone || next == BatchStatusError
	}
	return false
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// BatchRequest is the durable header of one disbursement batch. Counters are
// recomputed from detail rows by the stats aggregator, never incremented.
type BatchRequest struct {
	ID             string      `gorm:"type:uuid;primaryKey"`
	Cate1          string      `gorm:"type:varchar(100)"`
	Cate2          string      `gorm:"type:varchar(100)"`
	TotalCount     int         `gorm:"not null"`
	CompletedCount int         `gorm:"not null;default:0"`
	FailedCount    int         `gorm:"not null;default:0"`
	Status         BatchStatus `gorm:"type:varchar(20);not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (b *BatchRequest) Validate() error {
	if _, err := uuid.Parse(b.ID); err != nil {
		return fmt.Errorf("%w: batch id must be a valid UUID: %q", ErrValidation, b.ID)
	}
	if b.TotalCount < 1 {
		return fmt.Errorf("%w: total count must be at least 1 (got %d)", ErrValidation, b.TotalCount)
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("%w: invalid batch status %q", ErrValidation, b.Status)
	}
	return nil
}
