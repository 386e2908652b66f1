package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tokenops/custody-engine/internal/domain"
	"github.com/tokenops/custody-engine/internal/ledger"
	"github.com/tokenops/custody-engine/internal/observability"
	"github.com/tokenops/custody-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultConfirmTimeout = 30 * time.Second

// CreateTransferResult is handed back to the counterparty so they can sign
// the exact transaction the custodian co-signed.
type CreateTransferResult struct {
	ContractID      string
	SerializedTx    string // base64
	Blockhash       string
	LastValidHeight uint64
}

// FinalizeResult reports a submitted transfer. Confirmed=false with a
// non-empty TxID means the ledger accepted the transaction but confirmation
// did not arrive within the bounded wait.
type FinalizeResult struct {
	TxID      string
	Confirmed bool
}

// CustodyService runs the two-phase dual-signature transfer protocol: the
// custodian co-signs as fee payer at create time, the counterparty's
// signature finalizes and submits. Neither party can move funds alone.
type CustodyService struct {
	contracts repository.ContractRepository
	ledger    ledger.Client
	metrics   *observability.Metrics
	logger    *zap.Logger
	audit     *zap.Logger

	confirmTimeout time.Duration
}

func NewCustodyService(
	contracts repository.ContractRepository,
	ledgerClient ledger.Client,
	confirmTimeout time.Duration,
	logger *zap.Logger,
) (*CustodyService, error) {
	if contracts == nil {
		return nil, fmt.Errorf("contract repository is required")
	}
	if ledgerClient == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if confirmTimeout <= 0 {
		confirmTimeout = defaultConfirmTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CustodyService{
		contracts:      contracts,
		ledger:         ledgerClient,
		logger:         logger,
		audit:          logger.Named("audit"),
		confirmTimeout: confirmTimeout,
	}, nil
}

func (s *CustodyService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create builds a transfer from sender to recipient with the custodian as
// fee payer, attaches the custodian's signature, and persists the contract
// awaiting the counterparty's. Every call creates a new contract.
func (s *CustodyService) Create(ctx context.Context, sender, recipient string, amount decimal.Decimal) (*CreateTransferResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	sender = strings.TrimSpace(sender)
	recipient = strings.TrimSpace(recipient)
	if err := domain.ValidateAddress(sender); err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	if err := domain.ValidateAddress(recipient); err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}

	built, err := s.ledger.BuildAndPartialSign(ctx, sender, recipient, amount)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to build transaction: %v", domain.ErrDependency, err)
	}

	contract := &domain.Contract{
		ID:              uuid.NewString(),
		Sender:          sender,
		Recipient:       recipient,
		FeePayer:        s.ledger.FeePayer(),
		Amount:          amount,
		Signed1:         domain.SignedYes,
		Signed2:         domain.SignedNo,
		RawTx:           built.Serialized,
		Blockhash:       built.Blockhash,
		LastValidHeight: built.LastValidHeight,
	}
	if err := s.contracts.Create(ctx, contract); err != nil {
		return nil, err
	}

	s.audit.Info("transfer contract created",
		zap.String("contractId", contract.ID),
		zap.String("sender", sender),
		zap.String("recipient", recipient),
		zap.String("amount", amount.String()),
	)

	return &CreateTransferResult{
		ContractID:      contract.ID,
		SerializedTx:    base64.StdEncoding.EncodeToString(built.Serialized),
		Blockhash:       built.Blockhash,
		LastValidHeight: built.LastValidHeight,
	}, nil
}

// Finalize attaches the counterparty signature, submits, and flips the
// contract to its terminal state exactly once. An audit entry is written no
// matter how the call ends.
func (s *CustodyService) Finalize(ctx context.Context, contractID, counterpartySig string) (result *FinalizeResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	contractID = strings.TrimSpace(contractID)
	txID := ""
	defer func() {
		fields := []zap.Field{
			zap.String("contractId", contractID),
			zap.String("txId", txID),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
			s.audit.Error("transfer finalize", fields...)
			s.metrics.IncFinalize("error")
			return
		}
		s.audit.Info("transfer finalize", fields...)
		s.metrics.IncFinalize("ok")
	}()

	if contractID == "" {
		return nil, fmt.Errorf("%w: contract id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(counterpartySig) == "" {
		return nil, fmt.Errorf("%w: counterparty signature is required", domain.ErrValidation)
	}

	contract, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract.IsFinalized() {
		return nil, fmt.Errorf("%w: contract %s already processed", domain.ErrConflict, contractID)
	}

	completed, err := s.ledger.CompleteTransaction(contract.RawTx, strings.TrimSpace(counterpartySig))
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to complete transaction: %v", domain.ErrValidation, err)
	}

	txID, err = s.ledger.Submit(ctx, completed)
	if err != nil {
		classified := ledger.Classify(err)
		return nil, fmt.Errorf("%w: %s", domain.ErrDependency, classified.UserMessage())
	}

	if err := s.contracts.MarkFinalized(ctx, contractID); err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: transaction %s submitted but contract update failed: %v",
			domain.ErrDependency, txID, err)
	}

	confirmed := s.confirm(ctx, txID)
	return &FinalizeResult{TxID: txID, Confirmed: confirmed}, nil
}

// confirm waits for ledger confirmation with a bounded timeout. The
// transaction was already accepted, so expiry or an error here never fails
// the call; the ambiguity lands in the logs only.
func (s *CustodyService) confirm(ctx context.Context, txID string) bool {
	confirmCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	confirmed, err := s.ledger.Confirm(confirmCtx, txID)
	if err != nil {
		s.logger.Warn("transfer confirmation wait ended without confirmation",
			zap.String("txId", txID),
			zap.Error(err),
		)
		return false
	}
	if !confirmed {
		s.logger.Warn("transfer not yet confirmed within bounded wait",
			zap.String("txId", txID),
		)
	}
	return confirmed
}

// Get returns a contract by id for the boundary read path.
func (s *CustodyService) Get(ctx context.Context, id string) (*domain.Contract, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: contract id is required", domain.ErrValidation)
	}
	return s.contracts.GetByID(ctx, trimmed)
}
