package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tokenops/custody-engine/internal/domain"
)

// MockClient is the in-memory Client used by tests and local runs. Failures
// are scripted per recipient address.
type MockClient struct {
	mu sync.Mutex

	feePayer    string
	failures    map[string]int
	failAlways  map[string]bool
	transfers   []MockTransfer
	submitted   [][]byte
	confirmable map[string]bool
}

// MockTransfer records one Transfer call.
type MockTransfer struct {
	Recipient string
	Amount    decimal.Decimal
	TxID      string
	Failed    bool
}

type mockTxPayload struct {
	Sender     string   `json:"sender"`
	Recipient  string   `json:"recipient"`
	FeePayer   string   `json:"feePayer"`
	Amount     string   `json:"amount"`
	Signatures []string `json:"signatures"`
}

func NewMockClient(feePayer string) *MockClient {
	return &MockClient{
		feePayer:    feePayer,
		failures:    make(map[string]int),
		failAlways:  make(map[string]bool),
		confirmable: make(map[string]bool),
	}
}

// FailTimes scripts the next n Transfer calls for recipient to fail.
func (m *MockClient) FailTimes(recipient string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[recipient] = n
}

// FailAlways scripts every Transfer call for recipient to fail.
func (m *MockClient) FailAlways(recipient string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAlways[recipient] = true
}

// Transfers returns a copy of the recorded Transfer calls.
func (m *MockClient) Transfers() []MockTransfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockTransfer, len(m.transfers))
	copy(out, m.transfers)
	return out
}

// SubmittedCount returns how many transactions were submitted.
func (m *MockClient) SubmittedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}

func (m *MockClient) FeePayer() string {
	return m.feePayer
}

func (m *MockClient) BuildAndPartialSign(ctx context.Context, sender, recipient string, amount decimal.Decimal) (*PartialSignedTx, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}

	payload := mockTxPayload{
		Sender:     sender,
		Recipient:  recipient,
		FeePayer:   m.feePayer,
		Amount:     amount.String(),
		Signatures: []string{"custodian:" + m.feePayer},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &PartialSignedTx{
		Serialized:      raw,
		Blockhash:       "MockBlockhash1111111111111111111111111111111",
		LastValidHeight: 1000,
	}, nil
}

func (m *MockClient) Transfer(ctx context.Context, recipient string, amount decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAlways[recipient] {
		m.transfers = append(m.transfers, MockTransfer{Recipient: recipient, Amount: amount, Failed: true})
		return "", &Error{Kind: KindUnknown, Message: fmt.Sprintf("scripted failure for %s", recipient)}
	}
	if remaining := m.failures[recipient]; remaining > 0 {
		m.failures[recipient] = remaining - 1
		m.transfers = append(m.transfers, MockTransfer{Recipient: recipient, Amount: amount, Failed: true})
		return "", &Error{Kind: KindUnknown, Message: fmt.Sprintf("scripted transient failure for %s", recipient)}
	}

	txID := uuid.NewString()
	m.transfers = append(m.transfers, MockTransfer{Recipient: recipient, Amount: amount, TxID: txID})
	m.confirmable[txID] = true
	return txID, nil
}

func (m *MockClient) CompleteTransaction(rawTx []byte, counterpartySig string) ([]byte, error) {
	var payload mockTxPayload
	if err := json.Unmarshal(rawTx, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed transaction bytes: %v", domain.ErrValidation, err)
	}
	if counterpartySig == "" {
		return nil, fmt.Errorf("%w: counterparty signature is required", domain.ErrValidation)
	}

	payload.Signatures = append(payload.Signatures, counterpartySig)
	if len(payload.Signatures) < 2 {
		return nil, fmt.Errorf("%w: transaction requires 2 signatures", domain.ErrValidation)
	}
	return json.Marshal(payload)
}

func (m *MockClient) Submit(ctx context.Context, rawTx []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var payload mockTxPayload
	if err := json.Unmarshal(rawTx, &payload); err != nil {
		return "", fmt.Errorf("%w: malformed transaction bytes: %v", domain.ErrValidation, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, rawTx)
	txID := uuid.NewString()
	m.confirmable[txID] = true
	return txID, nil
}

func (m *MockClient) Confirm(ctx context.Context, txID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmable[txID], nil
}
