package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// PartialSignedTx is a serialized transaction carrying the custodian's fee
// payer signature plus the expiry metadata callers need to judge staleness.
type PartialSignedTx struct {
	Serialized      []byte
	Blockhash       string
	LastValidHeight uint64
}

// Client is the ledger port. The real implementation talks to a Solana RPC
// node with a constructor-injected custodian keypair; the mock is an
// in-memory double selected by dependency injection at startup.
type Client interface {
	// BuildAndPartialSign builds a transfer from sender to recipient with the
	// custodian as fee payer and attaches the custodian's signature only.
	BuildAndPartialSign(ctx context.Context, sender, recipient string, amount decimal.Decimal) (*PartialSignedTx, error)

	// Transfer moves tokens from the custodian account to recipient. The
	// custodian is both sender and fee payer, so no counterparty signature is
	// needed. Returns the transaction id on success.
	Transfer(ctx context.Context, recipient string, amount decimal.Decimal) (string, error)

	// CompleteTransaction attaches the counterparty's signature to a
	// serialized partially-signed transaction and verifies the attached
	// signatures meet the transaction's required-signer count.
	CompleteTransaction(rawTx []byte, counterpartySig string) ([]byte, error)

	// Submit sends a fully signed transaction and returns its id. Failures
	// are classified as *Error values.
	Submit(ctx context.Context, rawTx []byte) (string, error)

	// Confirm waits for the transaction to reach confirmed commitment. The
	// wait is bounded by ctx.
	Confirm(ctx context.Context, txID string) (bool, error)

	// FeePayer returns the custodian's public address.
	FeePayer() string
}

// TokenDecimals is the ledger token's precision (lamports per token unit).
const TokenDecimals = 9

// ToBaseUnits converts a token amount to the ledger's integer base units.
func ToBaseUnits(amount decimal.Decimal) (uint64, error) {
	shifted := amount.Shift(TokenDecimals)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s exceeds %d fractional digits", amount, TokenDecimals)
	}
	if shifted.Sign() <= 0 {
		return 0, fmt.Errorf("amount %s must be positive", amount)
	}
	units := shifted.IntPart()
	if units <= 0 || !shifted.Equal(decimal.NewFromInt(units)) {
		return 0, fmt.Errorf("amount %s overflows base units", amount)
	}
	return uint64(units), nil
}
