package queue

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DispatchMessage asks a worker to run the retry dispatcher for one batch.
type DispatchMessage struct {
	BatchID       string `json:"batchId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if _, err := uuid.Parse(m.BatchID); err != nil {
		return fmt.Errorf("batchId must be a valid UUID: %q", m.BatchID)
	}
	return nil
}
