package domain

import "errors"

// Sentinel errors shared across the service. Callers match with errors.Is and
// wrap with fmt.Errorf("%w: ...") to attach detail.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrDependency = errors.New("dependency error")
	ErrDecryption = errors.New("decryption error")
)
