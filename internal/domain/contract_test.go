package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestContractIsFinalized(t *testing.T) {
	t.Parallel()

	c := Contract{Signed1: SignedYes, Signed2: SignedNo}
	if c.IsFinalized() {
		t.Error("contract with signed_or_not2=N must not be finalized")
	}

	c.Signed2 = SignedYes
	if !c.IsFinalized() {
		t.Error("contract with signed_or_not2=Y must be finalized")
	}
}

func TestContractValidate(t *testing.T) {
	t.Parallel()

	valid := Contract{
		Sender:    "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
		Recipient: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		FeePayer:  "HN7cABqLq46Es1jh92dQQisAq662SmxELLLsHHe4YWrH",
		Amount:    decimal.RequireFromString("2.5"),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	badSender := valid
	badSender.Sender = "short"
	if err := badSender.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("bad sender error = %v, want ErrValidation", err)
	}

	badAmount := valid
	badAmount.Amount = decimal.RequireFromString("-1")
	if err := badAmount.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("bad amount error = %v, want ErrValidation", err)
	}
}
