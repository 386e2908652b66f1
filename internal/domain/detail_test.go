package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateAddress(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "valid 44 char address", address: "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"},
		{name: "valid 32 char address", address: strings.Repeat("1", 32)},
		{name: "surrounding whitespace trimmed", address: "  4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T  "},
		{name: "too short", address: strings.Repeat("1", 31), wantErr: true},
		{name: "too long", address: strings.Repeat("1", 45), wantErr: true},
		{name: "zero digit not in alphabet", address: strings.Repeat("0", 40), wantErr: true},
		{name: "lowercase l not in alphabet", address: strings.Repeat("l", 40), wantErr: true},
		{name: "empty", address: "", wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateAddress(tc.address)
			if tc.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{name: "whole number", amount: "5"},
		{name: "nine fractional digits", amount: "0.000000001"},
		{name: "large amount", amount: "1000000.123456789"},
		{name: "ten fractional digits", amount: "0.0000000001", wantErr: true},
		{name: "zero", amount: "0", wantErr: true},
		{name: "negative", amount: "-1", wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateAmount(decimal.RequireFromString(tc.amount))
			if tc.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestTruncateErrorMessage(t *testing.T) {
	t.Parallel()

	short := "connection refused"
	if got := TruncateErrorMessage(short); got != short {
		t.Errorf("short message changed: %q", got)
	}

	long := strings.Repeat("x", MaxErrorMessageLen+100)
	got := TruncateErrorMessage(long)
	if len(got) != MaxErrorMessageLen {
		t.Errorf("truncated length = %d, want %d", len(got), MaxErrorMessageLen)
	}
}

func TestDetailItemValidate(t *testing.T) {
	t.Parallel()

	item := DetailItem{
		WalletAddress: "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
		Amount:        decimal.RequireFromString("1.5"),
	}
	if err := item.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item.Amount = decimal.Zero
	if err := item.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestSentFlagIsValid(t *testing.T) {
	t.Parallel()

	if !SentYes.IsValid() || !SentNo.IsValid() {
		t.Error("Y and N must be valid")
	}
	if SentFlag("X").IsValid() {
		t.Error("X must be invalid")
	}
}
