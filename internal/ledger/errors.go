package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind buckets ledger submission failures into the cases callers can
// present to users.
type ErrorKind string

const (
	KindInsufficientFunds ErrorKind = "INSUFFICIENT_FUNDS"
	KindBlockhashExpired  ErrorKind = "BLOCKHASH_EXPIRED"
	KindAlreadyProcessed  ErrorKind = "ALREADY_PROCESSED"
	KindUnknown           ErrorKind = "UNKNOWN"
)

// Error classifies a ledger call failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 3)
	parts = append(parts, "ledger error")
	if e.Kind != "" && e.Kind != KindUnknown {
		parts = append(parts, string(e.Kind))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// UserMessage returns a caller-facing description for a classified failure.
func (e *Error) UserMessage() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindInsufficientFunds:
		return "insufficient funds in the sending account"
	case KindBlockhashExpired:
		return "transaction expired, create a new transfer"
	case KindAlreadyProcessed:
		return "transaction was already processed"
	}
	return "ledger submission failed"
}

// Classify maps a raw submission error onto an ErrorKind by inspecting the
// node's error text.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ledgerErr *Error
	if errors.As(err, &ledgerErr) {
		return ledgerErr
	}

	msg := strings.ToLower(err.Error())
	kind := KindUnknown
	switch {
	case strings.Contains(msg, "insufficient lamports"),
		strings.Contains(msg, "insufficient funds"):
		kind = KindInsufficientFunds
	case strings.Contains(msg, "blockhash not found"),
		strings.Contains(msg, "blockhash expired"):
		kind = KindBlockhashExpired
	case strings.Contains(msg, "already been processed"),
		strings.Contains(msg, "alreadyprocessed"):
		kind = KindAlreadyProcessed
	}

	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf("submission failed (%s)", kind),
		Cause:   err,
	}
}
