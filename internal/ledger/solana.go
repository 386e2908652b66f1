package ledger

import (
	"context"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/tokenops/custody-engine/internal/domain"
	"go.uber.org/zap"
)

const confirmPollInterval = 500 * time.Millisecond

// Credentials holds the custodian's signing key. It is loaded once at startup
// and passed explicitly so tests can substitute a fake signer.
type Credentials struct {
	key solana.PrivateKey
}

func NewCredentials(base58Key string) (*Credentials, error) {
	key, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("invalid custodian key: %w", err)
	}
	return &Credentials{key: key}, nil
}

func (c *Credentials) PublicKey() solana.PublicKey {
	return c.key.PublicKey()
}

// SolanaClient implements Client against a Solana RPC node.
type SolanaClient struct {
	rpc    *rpc.Client
	creds  *Credentials
	logger *zap.Logger
}

func NewSolanaClient(rpcURL string, creds *Credentials, logger *zap.Logger) (*SolanaClient, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if creds == nil {
		return nil, fmt.Errorf("custodian credentials are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SolanaClient{
		rpc:    rpc.New(rpcURL),
		creds:  creds,
		logger: logger,
	}, nil
}

func (c *SolanaClient) FeePayer() string {
	return c.creds.PublicKey().String()
}

func (c *SolanaClient) BuildAndPartialSign(ctx context.Context, sender, recipient string, amount decimal.Decimal) (*PartialSignedTx, error) {
	senderKey, err := solana.PublicKeyFromBase58(sender)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid sender address: %v", domain.ErrValidation, err)
	}
	recipientKey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid recipient address: %v", domain.ErrValidation, err)
	}
	units, err := ToBaseUnits(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	blockhash, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(units, senderKey, recipientKey).Build(),
		},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(c.creds.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	if _, err := tx.PartialSign(c.signerFor); err != nil {
		return nil, fmt.Errorf("failed to partial sign transaction: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	return &PartialSignedTx{
		Serialized:      raw,
		Blockhash:       blockhash.Value.Blockhash.String(),
		LastValidHeight: blockhash.Value.LastValidBlockHeight,
	}, nil
}

func (c *SolanaClient) Transfer(ctx context.Context, recipient string, amount decimal.Decimal) (string, error) {
	recipientKey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", fmt.Errorf("%w: invalid recipient address: %v", domain.ErrValidation, err)
	}
	units, err := ToBaseUnits(amount)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	blockhash, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(units, c.creds.PublicKey(), recipientKey).Build(),
		},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(c.creds.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}

	if _, err := tx.Sign(c.signerFor); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	return c.send(ctx, tx)
}

// CompleteTransaction fills the counterparty's signature into the first
// unsigned required-signer slot, then checks every slot is populated.
func (c *SolanaClient) CompleteTransaction(rawTx []byte, counterpartySig string) ([]byte, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed transaction bytes: %v", domain.ErrValidation, err)
	}

	sig, err := solana.SignatureFromBase58(counterpartySig)
	if err != nil {
		return nil, fmt.Errorf("%w: counterparty signature is not base58: %v", domain.ErrValidation, err)
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}

	placed := false
	for i := 0; i < required; i++ {
		if tx.Signatures[i].IsZero() {
			tx.Signatures[i] = sig
			placed = true
			break
		}
	}
	if !placed {
		return nil, fmt.Errorf("%w: transaction has no unsigned signer slot", domain.ErrValidation)
	}

	for i := 0; i < required; i++ {
		if tx.Signatures[i].IsZero() {
			return nil, fmt.Errorf("%w: transaction requires %d signatures", domain.ErrValidation, required)
		}
	}

	completed, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize completed transaction: %w", err)
	}
	return completed, nil
}

func (c *SolanaClient) Submit(ctx context.Context, rawTx []byte) (string, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return "", fmt.Errorf("%w: malformed transaction bytes: %v", domain.ErrValidation, err)
	}
	return c.send(ctx, tx)
}

func (c *SolanaClient) send(ctx context.Context, tx *solana.Transaction) (string, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", Classify(err)
	}

	c.logger.Debug("transaction submitted", zap.String("txId", sig.String()))
	return sig.String(), nil
}

// Confirm polls signature status until confirmed commitment or ctx expiry.
func (c *SolanaClient) Confirm(ctx context.Context, txID string) (bool, error) {
	sig, err := solana.SignatureFromBase58(txID)
	if err != nil {
		return false, fmt.Errorf("%w: invalid transaction id: %v", domain.ErrValidation, err)
	}

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
			if err != nil {
				return false, fmt.Errorf("failed to get signature status: %w", err)
			}
			if len(out.Value) == 0 || out.Value[0] == nil {
				continue
			}

			status := out.Value[0]
			if status.Err != nil {
				return false, &Error{
					Kind:    KindUnknown,
					Message: fmt.Sprintf("transaction failed on ledger: %v", status.Err),
				}
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return true, nil
			}
		}
	}
}

func (c *SolanaClient) signerFor(key solana.PublicKey) *solana.PrivateKey {
	if key.Equals(c.creds.PublicKey()) {
		k := c.creds.key
		return &k
	}
	return nil
}
